package model

import "time"

// TimedSessionState tracks an auto-expiring timed rental layered on top of
// enter_car/reset_car. Persisted on the backend device record so it survives
// a process restart within the same device session.
type TimedSessionState struct {
	Active             bool          `json:"active"`
	WaitingForMovement bool          `json:"waiting_for_movement"`
	StartTime          time.Time     `json:"start_time"`
	Duration           time.Duration `json:"duration"`
	DriverUserID       string        `json:"driver_user_id"`
}

// Expired reports whether the driving time is used up. Only meaningful once
// movement was detected and the timer started.
func (t *TimedSessionState) Expired(now time.Time) bool {
	return t.Active && !t.WaitingForMovement &&
		!t.StartTime.IsZero() && now.Sub(t.StartTime) >= t.Duration
}
