package dispatch

import (
	"context"
	"time"

	"github.com/simrigs/rig-commander/pkg/model"
)

// simpleAction covers the single-key toggles: look up the binding, focus the
// simulator window, send the combo. Preconditions fail fast instead of
// sending a key that would have the opposite of the intended effect.
func (d *Dispatcher) simpleAction(ctx context.Context, action model.Action) *model.Result {
	snap := d.telem.Current()
	if snap == nil {
		return model.Fail(model.KindNotConnected, "simulator not connected")
	}
	switch action {
	case model.ActionStarter:
		if snap.EngineRunning() {
			return model.Fail(model.KindPrecondition, "engine already running")
		}
	case model.ActionPitSpeedLimiter, model.ActionRequestPit:
		if snap.InPit() {
			return model.Fail(model.KindPrecondition, "already in the pit")
		}
	}
	binding, failRes := d.resolveBinding(ctx, action)
	if failRes != nil {
		return failRes
	}
	if err := d.exec.FocusTargetWindow(ctx); err != nil {
		return model.Fail(model.KindWindowFocus, "could not focus simulator window: %v", err)
	}
	if err := d.exec.SendCombo(ctx, binding.Combo, 0); err != nil {
		return model.Fail(model.KindSendFailed, "sending %q failed: %v", binding.Combo, err)
	}
	return model.Ok("sent %s (%s)", action, binding.Combo)
}

// enterCar is safe to invoke unconditionally. The key is sent with a short
// hold so the simulator registers it, then the telemetry before/after is
// compared to classify the outcome. The three outcomes are reported
// distinctly, never merged into a plain boolean.
func (d *Dispatcher) enterCar(ctx context.Context) *model.Result {
	binding, failRes := d.resolveBinding(ctx, model.ActionEnterCar)
	if failRes != nil {
		return failRes
	}
	before := d.telem.Current()
	wasInCar := before != nil && before.InCar()
	if err := d.exec.FocusTargetWindow(ctx); err != nil {
		return model.Fail(model.KindWindowFocus, "could not focus simulator window: %v", err)
	}
	if err := d.exec.SendCombo(ctx, binding.Combo, d.tune.enterHold); err != nil {
		return model.Fail(model.KindSendFailed, "sending %q failed: %v", binding.Combo, err)
	}
	d.sleep(ctx, d.tune.settle)
	after := d.telem.Current()
	switch {
	case wasInCar:
		return model.Ok("already in car").WithData("outcome", "already_in_car")
	case after != nil && after.InCar():
		return model.Ok("entered the car").WithData("outcome", "entered")
	default:
		// menu/garage ambiguity: the key went out but telemetry shows no
		// transition
		return model.Ok("key sent, no state change observed").
			WithData("outcome", "sent_no_change")
	}
}

func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(dur):
	}
}
