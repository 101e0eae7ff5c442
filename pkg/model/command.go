package model

import (
	"time"

	"github.com/spf13/cast"
)

type CommandStatus string

const (
	StatusPending    CommandStatus = "pending"
	StatusProcessing CommandStatus = "processing"
	StatusCompleted  CommandStatus = "completed"
	StatusFailed     CommandStatus = "failed"
	StatusIgnored    CommandStatus = "ignored"
)

type Action string

const (
	ActionResetCar          Action = "reset_car"
	ActionEnterCar          Action = "enter_car"
	ActionIgnition          Action = "ignition"
	ActionStarter           Action = "starter"
	ActionPitSpeedLimiter   Action = "pit_speed_limiter"
	ActionRequestPit        Action = "request_pit"
	ActionQuickRepair       Action = "quick_repair"
	ActionClearFlags        Action = "clear_flags"
	ActionWebRTCOffer       Action = "webrtc_offer"
	ActionRemoteInput       Action = "remote_desktop_input"
	ActionEnableTimedReset  Action = "enable_timed_reset"
	ActionDisableTimedReset Action = "disable_timed_reset"
	ActionExecuteAction     Action = "execute_action"
)

// Command is a remote instruction created on the backend and delivered to
// this process either by push or by polling. The ID is the idempotency key;
// a given ID is executed at most once per process lifetime.
type Command struct {
	ID        string         `json:"id"`
	Action    Action         `json:"action"`
	Type      string         `json:"type"` // origin: "driver" or "owner", logging only
	Params    map[string]any `json:"params,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Status    CommandStatus  `json:"status"`
}

// GracePeriod returns the requested grace window before a reset, zero when
// the param is absent. Accepts seconds as number or duration string.
func (c *Command) GracePeriod() time.Duration {
	v, ok := c.Params["grace_period"]
	if !ok {
		return 0
	}
	if s, isStr := v.(string); isStr {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	secs := cast.ToFloat64(v)
	if secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// NestedAction returns the action name carried by an execute_action command.
func (c *Command) NestedAction() Action {
	return Action(cast.ToString(c.Params["name"]))
}

// TimedSession reports whether an enable_timed_reset command asks for the
// rental session state machine on top of the plain interval loop.
func (c *Command) TimedSession() bool {
	return cast.ToBool(c.Params["timed_session"])
}

func (c *Command) SessionDuration() time.Duration {
	secs := cast.ToFloat64(c.Params["duration"])
	if secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

func (c *Command) DriverUserID() string {
	return cast.ToString(c.Params["driver_user_id"])
}
