package model

import "time"

// Snapshot is an immutable point-in-time read of the simulator telemetry.
// Consumers never mutate a snapshot; the poller hands out fresh instances.
type Snapshot struct {
	Connected       bool      `json:"connected"`
	InOnTrackCar    bool      `json:"in_on_track_car"`
	OnTrack         bool      `json:"on_track"`
	OnPitRoad       bool      `json:"on_pit_road"`
	InGarage        bool      `json:"in_garage"`
	SpeedKph        float64   `json:"speed_kph"`
	RPM             float64   `json:"rpm"`
	Lap             int       `json:"lap"`
	LapLastTime     float64   `json:"lap_last_time"`
	LapCurrentTime  float64   `json:"lap_current_time"`
	SessionUniqueID int64     `json:"session_unique_id"`
	TrackName       string    `json:"track_name"`
	CarName         string    `json:"car_name"`
	DriverName      string    `json:"driver_name"`
	Timestamp       time.Time `json:"timestamp"`
}

// engine is considered running above this rpm
const engineRunningRPM = 500

// InCar corrects for the SDK quirk where InOnTrackCar stays true while the
// driver sits in a menu: only the combination with OnTrack counts.
func (s *Snapshot) InCar() bool {
	return s.InOnTrackCar && s.OnTrack
}

func (s *Snapshot) InPit() bool {
	return s.OnPitRoad || s.InGarage
}

func (s *Snapshot) EngineRunning() bool {
	return s.RPM > engineRunningRPM
}

// DerivedState is the logical device state computed from a Snapshot. It is
// both what the reconciler diffs against and what the backend receives.
type DerivedState struct {
	InCar         bool   `json:"in_car"`
	InPit         bool   `json:"in_pit"`
	EngineRunning bool   `json:"engine_running"`
	TrackName     string `json:"track_name"`
	CarName       string `json:"car_name"`
	CurrentLap    int    `json:"current_lap"`
}

func (s *Snapshot) Derived() DerivedState {
	return DerivedState{
		InCar:         s.InCar(),
		InPit:         s.InPit(),
		EngineRunning: s.EngineRunning(),
		TrackName:     s.TrackName,
		CarName:       s.CarName,
		CurrentLap:    s.Lap,
	}
}

func (d DerivedState) Equal(other DerivedState) bool {
	return d == other
}
