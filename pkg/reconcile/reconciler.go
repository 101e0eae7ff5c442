package reconcile

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/simrigs/rig-commander/log"
	"github.com/simrigs/rig-commander/pkg/model"
)

// Backend receives the derived device state.
type Backend interface {
	PushState(ctx context.Context, state *model.DerivedState) error
}

// Telemetry provides the verification reads for the forced post-reset push.
type Telemetry interface {
	Current() *model.Snapshot
}

const (
	defaultMinInterval    = time.Second
	defaultResyncInterval = 30 * time.Second
	defaultSettle         = 500 * time.Millisecond
	defaultForceRetries   = 3
)

// Reconciler owns what the backend currently believes about this device.
// It watches every telemetry tick, pushes when the derived state changed,
// at most once per minimum interval, and unconditionally once per forced
// resync interval so missed pushes cannot cause unbounded drift.
type Reconciler struct {
	backend        Backend
	telem          Telemetry
	minInterval    time.Duration
	resyncInterval time.Duration
	settle         time.Duration
	forceRetries   int
	l              *log.Logger

	mu           sync.Mutex
	lastReported *model.DerivedState
	lastPush     time.Time

	pushes metric.Int64Counter
}

type Option func(*Reconciler)

func WithBackend(b Backend) Option {
	return func(r *Reconciler) { r.backend = b }
}

func WithTelemetry(t Telemetry) Option {
	return func(r *Reconciler) { r.telem = t }
}

func WithMinInterval(d time.Duration) Option {
	return func(r *Reconciler) { r.minInterval = d }
}

func WithResyncInterval(d time.Duration) Option {
	return func(r *Reconciler) { r.resyncInterval = d }
}

func WithSettle(d time.Duration) Option {
	return func(r *Reconciler) { r.settle = d }
}

func WithLogger(l *log.Logger) Option {
	return func(r *Reconciler) { r.l = l }
}

func NewReconciler(opts ...Option) *Reconciler {
	ret := &Reconciler{
		minInterval:    defaultMinInterval,
		resyncInterval: defaultResyncInterval,
		settle:         defaultSettle,
		forceRetries:   defaultForceRetries,
		l:              log.Default().Named("reconcile"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.setupMetrics()
	return ret
}

func (r *Reconciler) setupMetrics() {
	meter := otel.GetMeterProvider().Meter("rigcmd.reconcile")
	var err error
	if r.pushes, err = meter.Int64Counter(
		"rigcmd.reconcile.pushes",
		metric.WithDescription("Number of state pushes by reason"),
		metric.WithUnit("{count}")); err != nil {
		r.l.Error("failed to register metric", log.ErrorField(err))
	}
}

// Run consumes snapshots until the channel closes or ctx is canceled.
func (r *Reconciler) Run(ctx context.Context, snapshots <-chan *model.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			r.OnSnapshot(ctx, snap)
		}
	}
}

// OnSnapshot evaluates one telemetry tick.
func (r *Reconciler) OnSnapshot(ctx context.Context, snap *model.Snapshot) {
	if snap == nil {
		return
	}
	derived := snap.Derived()
	r.mu.Lock()
	first := r.lastReported == nil
	changed := !first && !r.lastReported.Equal(derived)
	resyncDue := !first && time.Since(r.lastPush) >= r.resyncInterval
	throttled := time.Since(r.lastPush) < r.minInterval
	r.mu.Unlock()

	switch {
	case first:
		// always push once after startup so a stale "offline" state never
		// lingers on the backend
		r.push(ctx, derived, "startup")
	case changed && !throttled:
		r.push(ctx, derived, "change")
	case changed && throttled:
		// coalesced: the diff persists, a later tick picks it up
	case resyncDue:
		r.push(ctx, derived, "resync")
	}
}

// ForceResync pushes the current state promptly, bypassing the throttle.
// Invoked after a reset so the rental queue sees the freed rig without
// waiting for the next tick. Retried with verification reads because the
// simulator may still be settling.
func (r *Reconciler) ForceResync(ctx context.Context) {
	if r.telem == nil {
		return
	}
	r.sleep(ctx, r.settle)
	for attempt := 1; attempt <= r.forceRetries; attempt++ {
		snap := r.telem.Current()
		if snap == nil {
			r.sleep(ctx, r.settle)
			continue
		}
		derived := snap.Derived()
		r.push(ctx, derived, "forced")
		r.sleep(ctx, r.settle)
		verify := r.telem.Current()
		if verify == nil || verify.Derived().Equal(derived) {
			return
		}
		// state moved while pushing, try again with the newer reading
	}
}

func (r *Reconciler) push(ctx context.Context, derived model.DerivedState, reason string) {
	if err := r.backend.PushState(ctx, &derived); err != nil {
		// not retried inline: the next tick re-attempts while state differs
		r.l.Warn("state push failed",
			log.String("reason", reason), log.ErrorField(err))
		return
	}
	r.mu.Lock()
	r.lastReported = &derived
	r.lastPush = time.Now()
	r.mu.Unlock()
	if r.pushes != nil {
		r.pushes.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
	if reason == "resync" {
		r.l.Debug("state resync heartbeat")
	} else {
		r.l.Info("state pushed",
			log.String("reason", reason),
			log.Bool("inCar", derived.InCar),
			log.Bool("inPit", derived.InPit),
			log.Bool("engine", derived.EngineRunning),
			log.Int("lap", derived.CurrentLap))
	}
}

func (r *Reconciler) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// LastReported exposes the most recently acknowledged state, nil before the
// first successful push.
func (r *Reconciler) LastReported() *model.DerivedState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastReported == nil {
		return nil
	}
	cp := *r.lastReported
	return &cp
}
