//nolint:whitespace //can't make both the linter and editor happy :(
package pg

import (
	"context"
	"encoding/json"
	"time"

	"github.com/simrigs/rig-commander/pkg/model"
	"github.com/simrigs/rig-commander/pkg/repository"
)

// Sink updates the device record on the backend database directly. Used by
// deployments without the REST facade.
type Sink struct {
	conn     repository.Querier
	deviceID string
}

func NewSink(conn repository.Querier, deviceID string) *Sink {
	return &Sink{conn: conn, deviceID: deviceID}
}

func (s *Sink) PushState(ctx context.Context, state *model.DerivedState) error {
	_, err := s.conn.Exec(ctx,
		`update rig_device set in_car=$1, in_pit=$2, engine_running=$3,
		 track_name=$4, car_name=$5, current_lap=$6, state_updated_at=$7
		 where id=$8`,
		state.InCar, state.InPit, state.EngineRunning,
		state.TrackName, state.CarName, state.CurrentLap, time.Now(),
		s.deviceID)
	return err
}

func (s *Sink) SaveTimedSession(ctx context.Context, state *model.TimedSessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = s.conn.Exec(ctx,
		"update rig_device set timed_session=$1 where id=$2",
		data, s.deviceID)
	return err
}
