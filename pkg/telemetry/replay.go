package telemetry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/simrigs/rig-commander/pkg/model"
)

// ReplaySource plays back a recorded telemetry session from a file with one
// JSON snapshot per line. Useful for development without a simulator.
type ReplaySource struct {
	snapshots []model.Snapshot
	step      time.Duration

	mu      sync.Mutex
	started time.Time
}

type ReplayOption func(*ReplaySource)

// WithStep sets the playback rate; each recorded snapshot covers this
// much wall time.
func WithStep(d time.Duration) ReplayOption {
	return func(r *ReplaySource) {
		r.step = d
	}
}

func NewReplaySource(path string, opts ...ReplayOption) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()
	ret := &ReplaySource{step: defaultPollInterval}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var snap model.Snapshot
		if err := json.Unmarshal(line, &snap); err != nil {
			return nil, fmt.Errorf("parse replay line %d: %w", len(ret.snapshots)+1, err)
		}
		ret.snapshots = append(ret.snapshots, snap)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read replay file: %w", err)
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret, nil
}

func (r *ReplaySource) Connected() bool {
	return len(r.snapshots) > 0
}

// CurrentSnapshot returns the recorded snapshot matching the elapsed
// playback time, sticking to the last one once the recording is exhausted.
func (r *ReplaySource) CurrentSnapshot() *model.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snapshots) == 0 {
		return nil
	}
	if r.started.IsZero() {
		r.started = time.Now()
	}
	idx := int(time.Since(r.started) / r.step)
	if idx >= len(r.snapshots) {
		idx = len(r.snapshots) - 1
	}
	snap := r.snapshots[idx]
	snap.Timestamp = time.Now()
	return &snap
}
