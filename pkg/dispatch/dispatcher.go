package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/simrigs/rig-commander/log"
	"github.com/simrigs/rig-commander/pkg/controls"
	"github.com/simrigs/rig-commander/pkg/input"
	"github.com/simrigs/rig-commander/pkg/model"
)

// Telemetry is the dispatcher's view on the telemetry poller.
type Telemetry interface {
	Connected() bool
	Current() *model.Snapshot
}

// Bindings resolves actions to key combos.
type Bindings interface {
	Resolve(ctx context.Context, action model.Action) (model.ControlBinding, error)
	ForceReload(ctx context.Context)
}

// RemoteDesktop handles the webrtc_offer / remote_desktop_input actions.
// The actual streaming stack is an external collaborator; the dispatcher
// only routes.
type RemoteDesktop interface {
	HandleOffer(ctx context.Context, params map[string]any) (map[string]any, error)
	HandleInput(ctx context.Context, params map[string]any) error
}

// SessionSink persists the timed session state on the backend device record.
type SessionSink interface {
	SaveTimedSession(ctx context.Context, state *model.TimedSessionState) error
}

type tuning struct {
	speedStopKph  float64       // below this the car counts as stopped
	stopWait      time.Duration // max wait for the car to come to a stop
	holdCap       time.Duration // max duration for a hold-until-predicate send
	enterHold     time.Duration // short hold for enter_car so the sim registers it
	settle        time.Duration // delay before classifying the enter_car outcome
	waitPoll      time.Duration // telemetry poll interval inside wait loops
	timedInterval time.Duration // default cadence of the timed reset loop
	graceFactor   float64       // grace = graceFactor * last lap time
}

func defaultTuning() tuning {
	return tuning{
		speedStopKph:  1.5,
		stopWait:      8 * time.Second,
		holdCap:       3 * time.Second,
		enterHold:     150 * time.Millisecond,
		settle:        500 * time.Millisecond,
		waitPoll:      200 * time.Millisecond,
		timedInterval: 10 * time.Minute,
		graceFactor:   1.5,
	}
}

// Dispatcher translates an action name into concrete OS effects against the
// current simulator state. All dispatches are serialized: the key injector
// is a global exclusive resource.
type Dispatcher struct {
	telem    Telemetry
	exec     input.Executor
	bindings Bindings
	remote   RemoteDesktop
	sessions SessionSink
	// forceSync asks the reconciler to push the post-reset state promptly
	// instead of waiting for the next throttled tick.
	forceSync func(ctx context.Context)

	tune tuning
	dlog *ringLog
	l    *log.Logger

	mu    sync.Mutex // one key sequence in flight at a time
	timed *timedReset

	dispatchCounter metric.Int64Counter
}

type Option func(*Dispatcher)

func WithTelemetry(t Telemetry) Option {
	return func(d *Dispatcher) { d.telem = t }
}

func WithExecutor(e input.Executor) Option {
	return func(d *Dispatcher) { d.exec = e }
}

func WithBindings(b Bindings) Option {
	return func(d *Dispatcher) { d.bindings = b }
}

func WithRemoteDesktop(r RemoteDesktop) Option {
	return func(d *Dispatcher) { d.remote = r }
}

func WithSessionSink(s SessionSink) Option {
	return func(d *Dispatcher) { d.sessions = s }
}

func WithForceSync(f func(ctx context.Context)) Option {
	return func(d *Dispatcher) { d.forceSync = f }
}

func WithLogger(l *log.Logger) Option {
	return func(d *Dispatcher) { d.l = l }
}

func WithRingCapacity(n int) Option {
	return func(d *Dispatcher) { d.dlog = newRingLog(n) }
}

func WithStopWait(dur time.Duration) Option {
	return func(d *Dispatcher) { d.tune.stopWait = dur }
}

func WithHoldCap(dur time.Duration) Option {
	return func(d *Dispatcher) { d.tune.holdCap = dur }
}

func WithSettle(dur time.Duration) Option {
	return func(d *Dispatcher) { d.tune.settle = dur }
}

func WithWaitPoll(dur time.Duration) Option {
	return func(d *Dispatcher) { d.tune.waitPoll = dur }
}

func WithTimedInterval(dur time.Duration) Option {
	return func(d *Dispatcher) { d.tune.timedInterval = dur }
}

func NewDispatcher(opts ...Option) *Dispatcher {
	ret := &Dispatcher{
		tune: defaultTuning(),
		dlog: newRingLog(defaultRingCapacity),
		l:    log.Default().Named("dispatch"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.timed = newTimedReset(ret)
	ret.setupMetrics()
	return ret
}

func (d *Dispatcher) setupMetrics() {
	meter := otel.GetMeterProvider().Meter("rigcmd.dispatch")
	var err error
	d.dispatchCounter, err = meter.Int64Counter(
		"rigcmd.dispatch.commands",
		metric.WithDescription("Number of dispatched commands"),
		metric.WithUnit("{count}"))
	if err != nil {
		d.l.Error("failed to register metric", log.ErrorField(err))
	}
}

// Execute runs the command and returns a structured result. Never panics on
// unknown actions or missing bindings; those are reportable failures.
func (d *Dispatcher) Execute(ctx context.Context, cmd *model.Command) *model.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.execute(ctx, cmd)
}

// execute is the lock-free inner dispatch so execute_action can recurse
// without deadlocking on the dispatch mutex.
func (d *Dispatcher) execute(ctx context.Context, cmd *model.Command) *model.Result {
	var res *model.Result
	combo, source := "", ""
	switch cmd.Action {
	case model.ActionResetCar:
		res = d.resetCar(ctx, cmd)
	case model.ActionEnterCar:
		res = d.enterCar(ctx)
	case model.ActionIgnition, model.ActionStarter, model.ActionPitSpeedLimiter,
		model.ActionRequestPit, model.ActionQuickRepair, model.ActionClearFlags:
		res = d.simpleAction(ctx, cmd.Action)
	case model.ActionExecuteAction:
		nested := cmd.NestedAction()
		if nested == "" || nested == model.ActionExecuteAction {
			res = model.Fail(model.KindUnknown, "execute_action without a valid nested action")
		} else {
			inner := *cmd
			inner.Action = nested
			return d.execute(ctx, &inner)
		}
	case model.ActionWebRTCOffer:
		res = d.webrtcOffer(ctx, cmd)
	case model.ActionRemoteInput:
		res = d.remoteInput(ctx, cmd)
	case model.ActionEnableTimedReset:
		res = d.timed.enable(ctx, cmd)
	case model.ActionDisableTimedReset:
		res = d.timed.disable(ctx)
	default:
		res = model.Fail(model.KindUnknown, "unknown action %q", cmd.Action)
	}
	if d.bindings != nil {
		if b, err := d.bindings.Resolve(ctx, cmd.Action); err == nil {
			combo, source = b.Combo, b.Source
		}
	}
	d.record(ctx, cmd.Action, combo, source, res)
	return res
}

func (d *Dispatcher) record(
	ctx context.Context, action model.Action, combo, source string, res *model.Result,
) {
	d.dlog.Append(LogEntry{
		Timestamp: time.Now(),
		Action:    action,
		Combo:     combo,
		Source:    source,
		Success:   res.Success,
		Message:   res.Message,
	})
	if d.dispatchCounter != nil {
		d.dispatchCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", string(action)),
			attribute.Bool("success", res.Success)))
	}
	if res.Success {
		d.l.Info("dispatched",
			log.String("action", string(action)),
			log.String("message", res.Message))
	} else {
		d.l.Warn("dispatch failed",
			log.String("action", string(action)),
			log.String("kind", string(res.Kind)),
			log.String("message", res.Message))
	}
}

// Log returns the recent dispatch entries, oldest first, for display.
func (d *Dispatcher) Log() []LogEntry {
	return d.dlog.Entries()
}

// Stop terminates the timed reset loop if one is running.
func (d *Dispatcher) Stop() {
	d.timed.stop()
}

func (d *Dispatcher) webrtcOffer(ctx context.Context, cmd *model.Command) *model.Result {
	if d.remote == nil {
		return model.Fail(model.KindPrecondition, "remote desktop is not available")
	}
	answer, err := d.remote.HandleOffer(ctx, cmd.Params)
	if err != nil {
		return model.Fail(model.KindPrecondition, "webrtc offer failed: %v", err)
	}
	res := model.Ok("webrtc offer answered")
	for k, v := range answer {
		res.WithData(k, v)
	}
	return res
}

func (d *Dispatcher) remoteInput(ctx context.Context, cmd *model.Command) *model.Result {
	if d.remote == nil {
		return model.Fail(model.KindPrecondition, "remote desktop is not available")
	}
	if err := d.remote.HandleInput(ctx, cmd.Params); err != nil {
		return model.Fail(model.KindPrecondition, "remote input failed: %v", err)
	}
	return model.Ok("remote input forwarded")
}

func (d *Dispatcher) resolveBinding(
	ctx context.Context, action model.Action,
) (model.ControlBinding, *model.Result) {
	if d.bindings == nil {
		return model.ControlBinding{}, model.Fail(model.KindNoBinding,
			"no binding store configured")
	}
	binding, err := d.bindings.Resolve(ctx, action)
	if err != nil {
		if errors.Is(err, controls.ErrNoBinding) {
			return model.ControlBinding{}, model.Fail(model.KindNoBinding,
				"no key binding for %q - configure this key in the simulator's control settings",
				action)
		}
		return model.ControlBinding{}, model.Fail(model.KindNoBinding,
			"resolving binding for %q: %v", action, err)
	}
	return binding, nil
}
