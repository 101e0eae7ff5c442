package dispatch

import (
	"context"

	"github.com/simrigs/rig-commander/log"
	"github.com/simrigs/rig-commander/pkg/model"
	"github.com/simrigs/rig-commander/pkg/utils"
)

// resetCar runs the multi-step reset protocol:
//
//  1. fast path when the car is already stopped and unoccupied
//  2. optional grace window, ended early by a lap increment
//  3. ignition off (fire and forget) and a bounded wait for the car to stop
//  4. reset key held until the telemetry shows "in pit stall or out of the
//     car", capped; repeated once with predicate "out of the car" for sims
//     that need a second press
//  5. ignition back on plus starter, so the rig is ready for the next driver
//  6. forced state push so the rental queue sees the freed rig promptly
//
// Window focus is the only hard precondition; a predicate timeout in any
// single step is logged and the sequence continues, since the partial effect
// is usually still beneficial.
func (d *Dispatcher) resetCar(ctx context.Context, cmd *model.Command) *model.Result {
	snap := d.telem.Current()
	if snap == nil {
		return model.Fail(model.KindNotConnected, "simulator not connected")
	}
	if !snap.InCar() && snap.SpeedKph < d.tune.speedStopKph {
		return model.Ok("already in reset state").WithData("outcome", "noop")
	}

	if grace := cmd.GracePeriod(); grace > 0 {
		startLap := snap.Lap
		res := utils.WaitForCondition(ctx, d.tune.waitPoll, grace, func() bool {
			s := d.telem.Current()
			return s != nil && s.Lap > startLap
		})
		d.l.Debug("grace period finished",
			log.Bool("lapCompleted", res.Satisfied),
			log.Duration("waited", res.Elapsed))
	}

	if err := d.exec.FocusTargetWindow(ctx); err != nil {
		return model.Fail(model.KindWindowFocus, "could not focus simulator window: %v", err)
	}

	d.ignitionOff(ctx)
	stop := utils.WaitForCondition(ctx, d.tune.waitPoll, d.tune.stopWait, func() bool {
		s := d.telem.Current()
		return s == nil || s.SpeedKph < d.tune.speedStopKph
	})
	if !stop.Satisfied {
		d.l.Warn("car did not stop within bound, proceeding",
			log.Duration("waited", stop.Elapsed))
	}

	binding, failRes := d.resolveBinding(ctx, model.ActionResetCar)
	if failRes != nil {
		return failRes
	}
	wasInCar := snap.InCar()
	pitOrOut := func() bool {
		s := d.telem.Current()
		if s == nil {
			return false
		}
		return s.InPit() || (wasInCar && !s.InCar())
	}
	satisfied, elapsed, err := d.exec.HoldComboUntil(ctx, binding.Combo, pitOrOut, d.tune.holdCap)
	if err != nil {
		d.l.Warn("reset hold failed", log.ErrorField(err))
	} else if !satisfied {
		d.l.Warn("reset predicate not reached within hold cap",
			log.Duration("held", elapsed))
	}

	// some sims need a second press: one to reach the pits, one to leave
	// the car
	if cur := d.telem.Current(); cur != nil && cur.InCar() {
		outOfCar := func() bool {
			s := d.telem.Current()
			return s != nil && !s.InCar()
		}
		satisfied, elapsed, err = d.exec.HoldComboUntil(
			ctx, binding.Combo, outOfCar, d.tune.holdCap)
		if err != nil {
			d.l.Warn("second reset hold failed", log.ErrorField(err))
		} else if !satisfied {
			d.l.Warn("still in car after second hold", log.Duration("held", elapsed))
		}
	}

	d.ignitionOn(ctx)
	if d.forceSync != nil {
		d.forceSync(ctx)
	}
	final := d.telem.Current()
	res := model.Ok("reset sequence completed")
	if final != nil {
		res.WithData("in_car", final.InCar()).WithData("in_pit", final.InPit())
	}
	return res
}

// ignitionOff forces deceleration before the reset. Fire and forget: the
// effect is not verified, a missing binding only gets a debug line.
func (d *Dispatcher) ignitionOff(ctx context.Context) {
	if d.bindings == nil {
		return
	}
	binding, err := d.bindings.Resolve(ctx, model.ActionIgnition)
	if err != nil {
		d.l.Debug("ignition not bound, skipping", log.ErrorField(err))
		return
	}
	if err := d.exec.SendCombo(ctx, binding.Combo, 0); err != nil {
		d.l.Warn("ignition off failed", log.ErrorField(err))
	}
}

// ignitionOn restores ignition and presses the starter so the car is ready
// to drive for the next occupant.
func (d *Dispatcher) ignitionOn(ctx context.Context) {
	if d.bindings == nil {
		return
	}
	if binding, err := d.bindings.Resolve(ctx, model.ActionIgnition); err == nil {
		if err := d.exec.SendCombo(ctx, binding.Combo, 0); err != nil {
			d.l.Warn("ignition on failed", log.ErrorField(err))
		}
	}
	if binding, err := d.bindings.Resolve(ctx, model.ActionStarter); err == nil {
		if err := d.exec.SendCombo(ctx, binding.Combo, 0); err != nil {
			d.l.Warn("starter failed", log.ErrorField(err))
		}
	}
}
