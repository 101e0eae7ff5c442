package commands

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simrigs/rig-commander/pkg/model"
)

type recTransport struct {
	mu         sync.Mutex
	pending    []*model.Command
	fetches    int
	processing []string
	statuses   map[string]model.CommandStatus
	results    map[string]*model.Result
}

func newRecTransport(pending ...*model.Command) *recTransport {
	return &recTransport{
		pending:  pending,
		statuses: map[string]model.CommandStatus{},
		results:  map[string]*model.Result{},
	}
}

func (r *recTransport) FetchPending(_ context.Context) ([]*model.Command, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetches++
	ret := make([]*model.Command, len(r.pending))
	copy(ret, r.pending)
	return ret, nil
}

func (r *recTransport) MarkProcessing(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processing = append(r.processing, id)
	return nil
}

//nolint:whitespace // can't make both editor and linter happy
func (r *recTransport) MarkComplete(
	_ context.Context, id string, status model.CommandStatus, res *model.Result,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[id] = status
	r.results[id] = res
	return nil
}

func (r *recTransport) status(id string) model.CommandStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[id]
}

func (r *recTransport) result(id string) *model.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results[id]
}

type recDispatcher struct {
	mu       sync.Mutex
	executed []string
}

func (r *recDispatcher) Execute(_ context.Context, cmd *model.Command) *model.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executed = append(r.executed, cmd.ID)
	return model.Ok("done")
}

func (r *recDispatcher) executedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ret := make([]string, len(r.executed))
	copy(ret, r.executed)
	return ret
}

type stubTelem struct {
	connected bool
	since     time.Time
}

func (s *stubTelem) Connected() bool           { return s.connected }
func (s *stubTelem) ConnectedSince() time.Time { return s.since }

type stubPush struct {
	mu      sync.Mutex
	handler func(cmd *model.Command)
}

//nolint:whitespace // can't make both editor and linter happy
func (s *stubPush) Subscribe(
	_ context.Context, handler func(cmd *model.Command),
) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
	return func() {}, nil
}

func (s *stubPush) deliver(cmd *model.Command) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	h(cmd)
}

func sampleCommand(id string, action model.Action) *model.Command {
	return &model.Command{
		ID:        id,
		Action:    action,
		Type:      "owner",
		CreatedAt: time.Now(),
		Status:    model.StatusPending,
	}
}

func TestQueueStartupReconcile(t *testing.T) {
	boot1 := sampleCommand("boot-1", model.ActionResetCar)
	boot2 := sampleCommand("boot-2", model.ActionClearFlags)
	tp := newRecTransport(boot1, boot2)
	disp := &recDispatcher{}
	q := NewQueue(
		WithTransport(tp),
		WithDispatcher(disp),
		WithTelemetry(&stubTelem{connected: true, since: time.Now()}),
		WithPollInterval(time.Hour),
	)
	require.NoError(t, q.Start(context.Background()))
	defer q.Stop()

	assert.Equal(t, model.StatusIgnored, tp.status("boot-1"))
	assert.Equal(t, model.StatusIgnored, tp.status("boot-2"))
	assert.Equal(t, model.KindStale, tp.result("boot-1").Kind)
	assert.Empty(t, disp.executedIDs())

	// a re-delivery of a boot-stale command stays suppressed
	q.Handle(context.Background(), boot1)
	assert.Empty(t, disp.executedIDs())
}

func TestQueueHandleDuplicate(t *testing.T) {
	tp := newRecTransport()
	disp := &recDispatcher{}
	q := NewQueue(
		WithTransport(tp),
		WithDispatcher(disp),
		WithTelemetry(&stubTelem{connected: true, since: time.Now()}),
	)
	cmd := sampleCommand("dup-1", model.ActionClearFlags)
	q.Handle(context.Background(), cmd)
	q.Handle(context.Background(), cmd)

	assert.Equal(t, []string{"dup-1"}, disp.executedIDs())
	assert.Equal(t, model.StatusCompleted, tp.status("dup-1"))
}

func TestQueueHandleStale(t *testing.T) {
	tp := newRecTransport()
	disp := &recDispatcher{}
	q := NewQueue(
		WithTransport(tp),
		WithDispatcher(disp),
		WithTelemetry(&stubTelem{connected: true, since: time.Now()}),
		WithStaleGrace(5*time.Minute),
	)
	cmd := sampleCommand("old-1", model.ActionResetCar)
	cmd.CreatedAt = time.Now().Add(-10 * time.Minute)
	q.Handle(context.Background(), cmd)

	assert.Empty(t, disp.executedIDs())
	assert.Equal(t, model.StatusFailed, tp.status("old-1"))
	assert.Equal(t, model.KindStale, tp.result("old-1").Kind)
}

func TestQueueHandleWithinGrace(t *testing.T) {
	tp := newRecTransport()
	disp := &recDispatcher{}
	q := NewQueue(
		WithTransport(tp),
		WithDispatcher(disp),
		WithTelemetry(&stubTelem{connected: true, since: time.Now()}),
		WithStaleGrace(5*time.Minute),
	)
	cmd := sampleCommand("recent-1", model.ActionResetCar)
	cmd.CreatedAt = time.Now().Add(-2 * time.Minute)
	q.Handle(context.Background(), cmd)

	assert.Equal(t, []string{"recent-1"}, disp.executedIDs())
	assert.Equal(t, model.StatusCompleted, tp.status("recent-1"))
}

func TestQueueHandleEnterCarExempt(t *testing.T) {
	tp := newRecTransport()
	disp := &recDispatcher{}
	q := NewQueue(
		WithTransport(tp),
		WithDispatcher(disp),
		// disconnected and the command is old, enter_car still runs
		WithTelemetry(&stubTelem{connected: false}),
	)
	cmd := sampleCommand("enter-1", model.ActionEnterCar)
	cmd.CreatedAt = time.Now().Add(-time.Hour)
	q.Handle(context.Background(), cmd)

	assert.Equal(t, []string{"enter-1"}, disp.executedIDs())
}

func TestQueueHandleNotConnected(t *testing.T) {
	tp := newRecTransport()
	disp := &recDispatcher{}
	q := NewQueue(
		WithTransport(tp),
		WithDispatcher(disp),
		WithTelemetry(&stubTelem{connected: false}),
	)
	q.Handle(context.Background(), sampleCommand("nc-1", model.ActionStarter))

	assert.Empty(t, disp.executedIDs())
	assert.Equal(t, model.StatusFailed, tp.status("nc-1"))
	assert.Equal(t, model.KindNotConnected, tp.result("nc-1").Kind)
}

func TestQueueHandleNonPending(t *testing.T) {
	tp := newRecTransport()
	disp := &recDispatcher{}
	q := NewQueue(
		WithTransport(tp),
		WithDispatcher(disp),
		WithTelemetry(&stubTelem{connected: true, since: time.Now()}),
	)
	cmd := sampleCommand("done-1", model.ActionClearFlags)
	cmd.Status = model.StatusCompleted
	q.Handle(context.Background(), cmd)

	assert.Empty(t, disp.executedIDs())
	assert.Empty(t, tp.statuses)
}

func TestQueuePollDeliveryIsIdempotent(t *testing.T) {
	cmd := sampleCommand("poll-1", model.ActionClearFlags)
	tp := newRecTransport()
	disp := &recDispatcher{}
	q := NewQueue(
		WithTransport(tp),
		WithDispatcher(disp),
		WithTelemetry(&stubTelem{connected: true, since: time.Now()}),
		WithPollInterval(5*time.Millisecond),
	)
	require.NoError(t, q.Start(context.Background()))
	defer q.Stop()

	// becomes visible after the startup reconciliation
	tp.mu.Lock()
	tp.pending = []*model.Command{cmd}
	tp.mu.Unlock()

	require.Eventually(t, func() bool {
		return len(disp.executedIDs()) > 0
	}, time.Second, 5*time.Millisecond)
	// stays pending on the fake transport, so later polls redeliver it;
	// the ledger keeps the effect single
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, []string{"poll-1"}, disp.executedIDs())
	assert.Equal(t, model.StatusCompleted, tp.status("poll-1"))
	assert.Equal(t, []string{"poll-1"}, tp.processing)
}

func TestQueuePushDelivery(t *testing.T) {
	tp := newRecTransport()
	disp := &recDispatcher{}
	push := &stubPush{}
	q := NewQueue(
		WithTransport(tp),
		WithPush(push),
		WithDispatcher(disp),
		WithTelemetry(&stubTelem{connected: true, since: time.Now()}),
		WithPollInterval(time.Hour),
	)
	require.NoError(t, q.Start(context.Background()))
	defer q.Stop()

	cmd := sampleCommand("push-1", model.ActionClearFlags)
	push.deliver(cmd)
	push.deliver(cmd)

	assert.Equal(t, []string{"push-1"}, disp.executedIDs())
	assert.Equal(t, model.StatusCompleted, tp.status("push-1"))
	// only the startup reconciliation touched FetchPending
	tp.mu.Lock()
	assert.Equal(t, 1, tp.fetches)
	tp.mu.Unlock()
}

func TestLedgerMarkIfNew(t *testing.T) {
	l := NewLedger()
	assert.True(t, l.MarkIfNew("a"))
	assert.False(t, l.MarkIfNew("a"))
	assert.True(t, l.MarkIfNew("b"))
	assert.True(t, l.Contains("a"))
	assert.False(t, l.Contains("c"))
	assert.Equal(t, 2, l.Size())
	assert.ElementsMatch(t, []string{"a", "b"}, l.IDs())
}
