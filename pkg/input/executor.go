package input

import (
	"context"
	"errors"
	"time"

	"github.com/simrigs/rig-commander/log"
	"github.com/simrigs/rig-commander/pkg/utils"
)

// ErrFocusFailed is returned when the simulator window could not be brought
// to the foreground. Every key send depends on focus, so dispatch treats
// this as a hard precondition failure.
var ErrFocusFailed = errors.New("could not focus simulator window")

// Executor injects key events into the simulator window. Implementations
// are platform specific and live outside this module; the dispatcher only
// ever holds one send in flight at a time because concurrent sequences
// corrupt each other's modifier state.
type Executor interface {
	// FocusTargetWindow brings the simulator window to the foreground.
	FocusTargetWindow(ctx context.Context) error
	// SendCombo presses the combo, holds it for the given duration
	// (zero means a plain tap) and releases it.
	SendCombo(ctx context.Context, combo string, hold time.Duration) error
	// HoldComboUntil presses the combo and holds it until pred returns
	// true or max elapses, then releases. Reports whether the predicate
	// was satisfied and how long the key was held.
	HoldComboUntil(
		ctx context.Context,
		combo string,
		pred func() bool,
		max time.Duration,
	) (satisfied bool, elapsed time.Duration, err error)
}

const holdPollInterval = 50 * time.Millisecond

// NopExecutor performs no OS calls; it only logs and honors the timing
// contract. Used for dry runs and replay sessions.
type NopExecutor struct {
	l *log.Logger
}

func NewNopExecutor() *NopExecutor {
	return &NopExecutor{l: log.Default().Named("input.nop")}
}

func (e *NopExecutor) FocusTargetWindow(_ context.Context) error {
	e.l.Debug("focus target window")
	return nil
}

func (e *NopExecutor) SendCombo(_ context.Context, combo string, hold time.Duration) error {
	e.l.Debug("send combo", log.String("combo", combo), log.Duration("hold", hold))
	if hold > 0 {
		time.Sleep(hold)
	}
	return nil
}

//nolint:whitespace // can't make both editor and linter happy
func (e *NopExecutor) HoldComboUntil(
	ctx context.Context,
	combo string,
	pred func() bool,
	max time.Duration,
) (bool, time.Duration, error) {
	e.l.Debug("hold combo until", log.String("combo", combo), log.Duration("max", max))
	res := utils.WaitForCondition(ctx, holdPollInterval, max, pred)
	return res.Satisfied, res.Elapsed, nil
}
