package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotDerived(t *testing.T) {
	tests := []struct {
		name string
		snap Snapshot
		want DerivedState
	}{
		{
			name: "driving",
			snap: Snapshot{
				InOnTrackCar: true, OnTrack: true, RPM: 3000,
				TrackName: "monza", CarName: "gt3", Lap: 7,
			},
			want: DerivedState{
				InCar: true, EngineRunning: true,
				TrackName: "monza", CarName: "gt3", CurrentLap: 7,
			},
		},
		{
			name: "in menu with car on track",
			// the sim keeps InOnTrackCar set while the driver browses menus
			snap: Snapshot{InOnTrackCar: true, OnTrack: false},
			want: DerivedState{},
		},
		{
			name: "pit road",
			snap: Snapshot{InOnTrackCar: true, OnTrack: true, OnPitRoad: true},
			want: DerivedState{InCar: true, InPit: true},
		},
		{
			name: "garage",
			snap: Snapshot{InGarage: true},
			want: DerivedState{InPit: true},
		},
		{
			name: "idle engine below threshold",
			snap: Snapshot{InOnTrackCar: true, OnTrack: true, RPM: 400},
			want: DerivedState{InCar: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.snap.Derived())
		})
	}
}

func TestDerivedStateEqual(t *testing.T) {
	a := DerivedState{InCar: true, TrackName: "monza", CurrentLap: 3}
	b := a
	assert.True(t, a.Equal(b))
	b.CurrentLap = 4
	assert.False(t, a.Equal(b))
}

func TestCommandGracePeriod(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
		want   time.Duration
	}{
		{name: "absent", params: nil, want: 0},
		{name: "seconds as number", params: map[string]any{"grace_period": 5}, want: 5 * time.Second},
		{name: "fractional seconds", params: map[string]any{"grace_period": 2.5}, want: 2500 * time.Millisecond},
		{name: "duration string", params: map[string]any{"grace_period": "90s"}, want: 90 * time.Second},
		{name: "negative clamped", params: map[string]any{"grace_period": -3}, want: 0},
		{name: "garbage", params: map[string]any{"grace_period": "soon"}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Command{Params: tt.params}
			assert.Equal(t, tt.want, c.GracePeriod())
		})
	}
}

func TestCommandNestedAction(t *testing.T) {
	c := Command{Params: map[string]any{"name": "clear_flags"}}
	assert.Equal(t, ActionClearFlags, c.NestedAction())
	assert.Equal(t, Action(""), (&Command{}).NestedAction())
}

func TestCommandTimedSessionParams(t *testing.T) {
	c := Command{Params: map[string]any{
		"timed_session":  true,
		"duration":       600,
		"driver_user_id": "u-42",
	}}
	assert.True(t, c.TimedSession())
	assert.Equal(t, 10*time.Minute, c.SessionDuration())
	assert.Equal(t, "u-42", c.DriverUserID())
}

func TestTimedSessionStateExpired(t *testing.T) {
	now := time.Now()
	running := TimedSessionState{
		Active:    true,
		StartTime: now.Add(-10 * time.Minute),
		Duration:  15 * time.Minute,
	}
	assert.False(t, running.Expired(now))
	assert.True(t, running.Expired(now.Add(6*time.Minute)))

	waiting := TimedSessionState{Active: true, WaitingForMovement: true, Duration: time.Minute}
	assert.False(t, waiting.Expired(now))
}
