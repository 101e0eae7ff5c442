package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/simrigs/rig-commander/log"
	"github.com/simrigs/rig-commander/pkg/model"
)

// a driver counts as moving above this speed
const movementThresholdKph = 5.0

const sessionTickInterval = time.Second

// timedReset owns the background loop behind enable_timed_reset. Two modes:
//
//   - plain interval: fire the reset sequence every interval, with a grace
//     window of graceFactor x last lap time so resets land between laps
//   - timed session: wait for the driver to start moving, run the rental
//     timer, then reset once the time is used up
//
// Session state is persisted on the backend device record after every
// transition so it survives a process restart.
type timedReset struct {
	d *Dispatcher
	l *log.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	session model.TimedSessionState
}

func newTimedReset(d *Dispatcher) *timedReset {
	return &timedReset{d: d, l: d.l.Named("timed")}
}

func (t *timedReset) enable(ctx context.Context, cmd *model.Command) *model.Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cmd.TimedSession() {
		dur := cmd.SessionDuration()
		if dur <= 0 {
			// rejected before stopLocked: a bad enable must not tear
			// down a loop that is already running
			return model.Fail(model.KindPrecondition,
				"timed session requires a positive duration")
		}
		t.stopLocked()
		t.session = model.TimedSessionState{
			Active:             true,
			WaitingForMovement: true,
			Duration:           dur,
			DriverUserID:       cmd.DriverUserID(),
		}
		t.persist(ctx)
	} else {
		t.stopLocked()
		t.session = model.TimedSessionState{}
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	go t.loop(loopCtx)
	if t.session.Active {
		return model.Ok("timed session enabled").
			WithData("duration", t.session.Duration.String())
	}
	return model.Ok("timed reset enabled").
		WithData("interval", t.d.tune.timedInterval.String())
}

func (t *timedReset) disable(ctx context.Context) *model.Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel == nil {
		return model.Ok("timed reset already disabled")
	}
	t.stopLocked()
	t.session = model.TimedSessionState{}
	t.persist(ctx)
	return model.Ok("timed reset disabled")
}

func (t *timedReset) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

// stopLocked cancels the loop without joining it. The caller usually holds
// the dispatch mutex and the loop may be waiting on that same mutex inside
// fireReset; joining here would deadlock. The canceled loop drains on its
// own and fireReset refuses to run once canceled.
func (t *timedReset) stopLocked() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

func (t *timedReset) loop(ctx context.Context) {
	t.mu.Lock()
	sessionMode := t.session.Active
	t.mu.Unlock()
	if sessionMode {
		t.sessionLoop(ctx)
		return
	}
	t.intervalLoop(ctx)
}

func (t *timedReset) intervalLoop(ctx context.Context) {
	ticker := time.NewTicker(t.d.tune.timedInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.fireReset(ctx)
		}
	}
}

func (t *timedReset) sessionLoop(ctx context.Context) {
	ticker := time.NewTicker(sessionTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if t.sessionTick(ctx) {
				return
			}
		}
	}
}

// sessionTick advances the rental state machine; returns true once the
// session ended and the loop should exit.
func (t *timedReset) sessionTick(ctx context.Context) bool {
	snap := t.d.telem.Current()
	t.mu.Lock()
	if t.session.WaitingForMovement {
		if snap != nil && snap.SpeedKph > movementThresholdKph {
			t.session.WaitingForMovement = false
			t.session.StartTime = time.Now()
			t.l.Info("movement detected, session timer started",
				log.String("driver", t.session.DriverUserID),
				log.Duration("duration", t.session.Duration))
			t.persist(ctx)
		}
		t.mu.Unlock()
		return false
	}
	if !t.session.Expired(time.Now()) {
		t.mu.Unlock()
		return false
	}
	t.mu.Unlock()

	t.l.Info("timed session expired, forcing reset")
	t.fireReset(ctx)
	t.mu.Lock()
	t.session = model.TimedSessionState{}
	t.persist(ctx)
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.mu.Unlock()
	return true
}

// fireReset runs the reset sequence through the regular dispatch path so it
// takes the dispatch lock and lands in the ring log like any other command.
// The grace window lets the current lap finish first.
func (t *timedReset) fireReset(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	grace := 0.0
	if snap := t.d.telem.Current(); snap != nil && snap.LapLastTime > 0 {
		grace = t.d.tune.graceFactor * snap.LapLastTime
	}
	cmd := &model.Command{
		ID:        "timed-reset-" + uuid.NewString(),
		Action:    model.ActionResetCar,
		Type:      "system",
		CreatedAt: time.Now(),
		Status:    model.StatusPending,
		Params:    map[string]any{"grace_period": grace},
	}
	res := t.d.Execute(ctx, cmd)
	if !res.Success {
		t.l.Warn("timed reset failed", log.String("message", res.Message))
	}
}

func (t *timedReset) persist(ctx context.Context) {
	if t.d.sessions == nil {
		return
	}
	state := t.session
	if err := t.d.sessions.SaveTimedSession(ctx, &state); err != nil {
		t.l.Warn("could not persist timed session state", log.ErrorField(err))
	}
}
