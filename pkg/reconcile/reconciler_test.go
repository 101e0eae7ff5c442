package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simrigs/rig-commander/pkg/model"
)

type recBackend struct {
	mu      sync.Mutex
	pushes  []model.DerivedState
	pushErr error
}

func (r *recBackend) PushState(_ context.Context, state *model.DerivedState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pushErr != nil {
		return r.pushErr
	}
	r.pushes = append(r.pushes, *state)
	return nil
}

func (r *recBackend) pushCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pushes)
}

type snapTelem struct {
	mu   sync.Mutex
	snap *model.Snapshot
}

func (s *snapTelem) Current() *model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func sampleSnapshot() *model.Snapshot {
	return &model.Snapshot{
		Connected:    true,
		InOnTrackCar: true,
		OnTrack:      true,
		RPM:          3000,
		Lap:          5,
		TrackName:    "monza",
		CarName:      "gt3",
	}
}

func TestReconcilerFirstSnapshotAlwaysPushed(t *testing.T) {
	backend := &recBackend{}
	r := NewReconciler(WithBackend(backend), WithMinInterval(time.Hour))

	r.OnSnapshot(context.Background(), sampleSnapshot())

	require.Equal(t, 1, backend.pushCount())
	last := r.LastReported()
	require.NotNil(t, last)
	assert.True(t, last.InCar)
	assert.True(t, last.EngineRunning)
	assert.Equal(t, "monza", last.TrackName)
}

func TestReconcilerThrottleCoalesces(t *testing.T) {
	backend := &recBackend{}
	r := NewReconciler(WithBackend(backend), WithMinInterval(time.Hour))

	r.OnSnapshot(context.Background(), sampleSnapshot())
	changed := sampleSnapshot()
	changed.OnTrack = false
	r.OnSnapshot(context.Background(), changed)

	// the diff is coalesced, the reported state stays at the first push
	assert.Equal(t, 1, backend.pushCount())
	assert.True(t, r.LastReported().InCar)
}

func TestReconcilerPushesChangeAfterInterval(t *testing.T) {
	backend := &recBackend{}
	r := NewReconciler(
		WithBackend(backend),
		WithMinInterval(time.Millisecond),
		WithResyncInterval(time.Hour))

	r.OnSnapshot(context.Background(), sampleSnapshot())
	time.Sleep(5 * time.Millisecond)
	changed := sampleSnapshot()
	changed.OnTrack = false
	r.OnSnapshot(context.Background(), changed)

	require.Equal(t, 2, backend.pushCount())
	assert.False(t, r.LastReported().InCar)
}

func TestReconcilerUnchangedStateNotPushed(t *testing.T) {
	backend := &recBackend{}
	r := NewReconciler(
		WithBackend(backend),
		WithMinInterval(time.Millisecond),
		WithResyncInterval(time.Hour))

	r.OnSnapshot(context.Background(), sampleSnapshot())
	time.Sleep(5 * time.Millisecond)
	r.OnSnapshot(context.Background(), sampleSnapshot())

	assert.Equal(t, 1, backend.pushCount())
}

func TestReconcilerForcedResyncHeartbeat(t *testing.T) {
	backend := &recBackend{}
	r := NewReconciler(
		WithBackend(backend),
		WithMinInterval(time.Nanosecond),
		WithResyncInterval(time.Millisecond))

	r.OnSnapshot(context.Background(), sampleSnapshot())
	time.Sleep(5 * time.Millisecond)
	// identical state, but the resync interval elapsed
	r.OnSnapshot(context.Background(), sampleSnapshot())

	assert.Equal(t, 2, backend.pushCount())
}

func TestReconcilerFailedPushRetriesNextTick(t *testing.T) {
	backend := &recBackend{pushErr: errors.New("backend down")}
	r := NewReconciler(WithBackend(backend), WithMinInterval(time.Hour))

	r.OnSnapshot(context.Background(), sampleSnapshot())
	assert.Nil(t, r.LastReported())

	backend.mu.Lock()
	backend.pushErr = nil
	backend.mu.Unlock()
	// still counts as the first push, the throttle does not apply
	r.OnSnapshot(context.Background(), sampleSnapshot())
	assert.Equal(t, 1, backend.pushCount())
	assert.NotNil(t, r.LastReported())
}

func TestReconcilerForceResyncBypassesThrottle(t *testing.T) {
	backend := &recBackend{}
	telem := &snapTelem{snap: sampleSnapshot()}
	r := NewReconciler(
		WithBackend(backend),
		WithTelemetry(telem),
		WithMinInterval(time.Hour),
		WithSettle(time.Millisecond))

	r.OnSnapshot(context.Background(), sampleSnapshot())
	require.Equal(t, 1, backend.pushCount())

	r.ForceResync(context.Background())
	assert.GreaterOrEqual(t, backend.pushCount(), 2)
}

func TestReconcilerRunConsumesChannel(t *testing.T) {
	backend := &recBackend{}
	r := NewReconciler(WithBackend(backend), WithMinInterval(time.Hour))

	ch := make(chan *model.Snapshot, 1)
	done := make(chan struct{})
	go func() {
		r.Run(context.Background(), ch)
		close(done)
	}()
	ch <- sampleSnapshot()
	close(ch)
	<-done

	assert.Equal(t, 1, backend.pushCount())
}
