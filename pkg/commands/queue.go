package commands

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/simrigs/rig-commander/log"
	"github.com/simrigs/rig-commander/pkg/commands/transport"
	"github.com/simrigs/rig-commander/pkg/model"
)

// Dispatcher executes a single command against the simulator.
type Dispatcher interface {
	Execute(ctx context.Context, cmd *model.Command) *model.Result
}

// TelemetryInfo is the queue's view on simulator connectivity; the
// connection instant anchors the staleness decision.
type TelemetryInfo interface {
	Connected() bool
	ConnectedSince() time.Time
}

const (
	defaultPollInterval = 10 * time.Second
	defaultStaleGrace   = 5 * time.Minute
	defaultWarnThrottle = 30 * time.Second
)

// Queue bridges the command transport to the dispatcher with exactly-once
// semantics for the effect of each unique command id.
type Queue struct {
	transport  transport.Transport
	push       transport.PushTransport
	dispatcher Dispatcher
	telem      TelemetryInfo

	ledger       *Ledger
	pollInterval time.Duration
	staleGrace   time.Duration
	warnThrottle time.Duration
	// actions executed even when the simulator is not connected or the
	// command is stale; enter_car re-establishes a session, so skipping it
	// would wedge the rig
	exempt map[model.Action]struct{}

	l *log.Logger

	mu          sync.Mutex
	cancel      context.CancelFunc
	unsubscribe func()
	done        chan struct{}

	received metric.Int64Counter
	outcomes metric.Int64Counter
	lastWarn time.Time
}

type Option func(*Queue)

func WithTransport(t transport.Transport) Option {
	return func(q *Queue) { q.transport = t }
}

func WithPush(p transport.PushTransport) Option {
	return func(q *Queue) { q.push = p }
}

func WithDispatcher(d Dispatcher) Option {
	return func(q *Queue) { q.dispatcher = d }
}

func WithTelemetry(t TelemetryInfo) Option {
	return func(q *Queue) { q.telem = t }
}

func WithPollInterval(d time.Duration) Option {
	return func(q *Queue) { q.pollInterval = d }
}

func WithStaleGrace(d time.Duration) Option {
	return func(q *Queue) { q.staleGrace = d }
}

func WithWarnThrottle(d time.Duration) Option {
	return func(q *Queue) { q.warnThrottle = d }
}

func WithExemptActions(actions ...model.Action) Option {
	return func(q *Queue) {
		q.exempt = make(map[model.Action]struct{}, len(actions))
		for _, a := range actions {
			q.exempt[a] = struct{}{}
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(q *Queue) { q.l = l }
}

func NewQueue(opts ...Option) *Queue {
	ret := &Queue{
		ledger:       NewLedger(),
		pollInterval: defaultPollInterval,
		staleGrace:   defaultStaleGrace,
		warnThrottle: defaultWarnThrottle,
		exempt:       map[model.Action]struct{}{model.ActionEnterCar: {}},
		l:            log.Default().Named("commands"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.setupMetrics()
	return ret
}

func (q *Queue) setupMetrics() {
	meter := otel.GetMeterProvider().Meter("rigcmd.commands")
	var err error
	if q.received, err = meter.Int64Counter(
		"rigcmd.commands.received",
		metric.WithDescription("Number of command deliveries observed"),
		metric.WithUnit("{count}")); err != nil {
		q.l.Error("failed to register metric", log.ErrorField(err))
	}
	if q.outcomes, err = meter.Int64Counter(
		"rigcmd.commands.outcomes",
		metric.WithDescription("Number of command outcomes by disposition"),
		metric.WithUnit("{count}")); err != nil {
		q.l.Error("failed to register metric", log.ErrorField(err))
	}
}

func (q *Queue) count(ctx context.Context, counter metric.Int64Counter, disposition string) {
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("disposition", disposition)))
}

// Start performs the startup reconciliation, then establishes delivery:
// push subscription when available, polling otherwise. The fallback
// decision is made once here.
func (q *Queue) Start(ctx context.Context) error {
	if err := q.startupReconcile(ctx); err != nil {
		q.l.Warn("startup reconciliation incomplete", log.ErrorField(err))
	}
	ctx, cancel := context.WithCancel(ctx)
	q.mu.Lock()
	q.cancel = cancel
	q.mu.Unlock()
	if q.push != nil {
		unsub, err := q.push.Subscribe(ctx, func(cmd *model.Command) {
			q.Handle(ctx, cmd)
		})
		if err == nil {
			q.mu.Lock()
			q.unsubscribe = unsub
			q.mu.Unlock()
			q.l.Info("command push subscription established")
			return nil
		}
		q.l.Warn("push subscribe failed, falling back to polling",
			log.ErrorField(err))
	}
	done := make(chan struct{})
	q.mu.Lock()
	q.done = done
	q.mu.Unlock()
	go q.pollLoop(ctx, done)
	q.l.Info("command polling started", log.Duration("interval", q.pollInterval))
	return nil
}

// Stop cancels delivery. Idempotent; unsubscribe failures are swallowed.
func (q *Queue) Stop() {
	q.mu.Lock()
	cancel, unsub, done := q.cancel, q.unsubscribe, q.done
	q.cancel, q.unsubscribe, q.done = nil, nil, nil
	q.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// startupReconcile terminalizes every command queued before this process
// started. Those refer to simulator state that no longer applies and must
// never be blindly replayed on boot.
func (q *Queue) startupReconcile(ctx context.Context) error {
	cmds, err := q.transport.FetchPending(ctx)
	if err != nil {
		return err
	}
	for _, cmd := range cmds {
		q.ledger.MarkIfNew(cmd.ID)
		res := model.Fail(model.KindStale, "queued before service start")
		if mErr := q.transport.MarkComplete(
			ctx, cmd.ID, model.StatusIgnored, res); mErr != nil {
			q.l.Warn("could not ignore boot-stale command",
				log.String("id", cmd.ID), log.ErrorField(mErr))
		}
	}
	if len(cmds) > 0 {
		q.l.Info("ignored commands queued before service start",
			log.Int("num", len(cmds)))
	}
	return nil
}

func (q *Queue) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cmds, err := q.transport.FetchPending(ctx)
			if err != nil {
				q.throttledWarn("fetching pending commands failed", err)
				continue
			}
			for _, cmd := range cmds {
				q.Handle(ctx, cmd)
			}
		}
	}
}

// throttledWarn logs transport errors at most once per throttle window so a
// transiently unreachable backend does not cause a log storm.
func (q *Queue) throttledWarn(msg string, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if time.Since(q.lastWarn) < q.warnThrottle {
		return
	}
	q.lastWarn = time.Now()
	q.l.Warn(msg, log.ErrorField(err))
}

// Handle processes one candidate command delivery from either channel.
// Duplicate deliveries are routine and silently dropped via the ledger.
func (q *Queue) Handle(ctx context.Context, cmd *model.Command) {
	q.count(ctx, q.received, string(cmd.Action))
	if cmd.Status != model.StatusPending {
		q.l.Debug("skipping non-pending command",
			log.String("id", cmd.ID), log.String("status", string(cmd.Status)))
		return
	}
	if !q.ledger.MarkIfNew(cmd.ID) {
		q.count(ctx, q.outcomes, "duplicate")
		return
	}
	if res := q.guard(cmd); res != nil {
		q.count(ctx, q.outcomes, string(res.Kind))
		q.complete(ctx, cmd, res)
		return
	}
	if err := q.transport.MarkProcessing(ctx, cmd.ID); err != nil {
		// observability signal only, execution proceeds
		q.l.Warn("could not mark command processing",
			log.String("id", cmd.ID), log.ErrorField(err))
	}
	q.l.Info("executing command",
		log.String("id", cmd.ID),
		log.String("action", string(cmd.Action)),
		log.String("origin", cmd.Type))
	res := q.dispatcher.Execute(ctx, cmd)
	if res.Success {
		q.count(ctx, q.outcomes, "completed")
	} else {
		q.count(ctx, q.outcomes, "failed")
	}
	q.complete(ctx, cmd, res)
}

// guard applies the pre-dispatch staleness and connectivity checks. Exempt
// actions pass both: enter_car is how a session gets re-established.
func (q *Queue) guard(cmd *model.Command) *model.Result {
	if _, ok := q.exempt[cmd.Action]; ok {
		return nil
	}
	if q.telem == nil {
		return nil
	}
	if !q.telem.Connected() {
		return model.Fail(model.KindNotConnected, "simulator not connected")
	}
	if since := q.telem.ConnectedSince(); !since.IsZero() &&
		since.Sub(cmd.CreatedAt) > q.staleGrace {
		return model.Fail(model.KindStale,
			"stale, ignored: created %s before the simulator connection",
			since.Sub(cmd.CreatedAt).Round(time.Second))
	}
	return nil
}

// complete writes the terminal status exactly once. A failure here is
// logged, never retried; the queue entry stays queryable on the backend for
// manual follow-up.
func (q *Queue) complete(ctx context.Context, cmd *model.Command, res *model.Result) {
	status := model.StatusCompleted
	if !res.Success {
		status = model.StatusFailed
	}
	if err := q.transport.MarkComplete(ctx, cmd.ID, status, res); err != nil {
		q.l.Error("could not write command result",
			log.String("id", cmd.ID),
			log.String("status", string(status)),
			log.ErrorField(err))
	}
}
