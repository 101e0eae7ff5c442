package config

// this holds the resolved configuration values from CLI
//
//nolint:lll // readablity
var (
	DeviceID          string // opaque device identifier assigned at registration
	BackendURL        string // base URL of the backend REST facade
	DB                string // connection string for direct backend table access
	NatsURL           string // URL of the NATS server for command push delivery
	ControlsFile      string // path to the simulator's control bindings file
	ReplayFile        string // optional recorded telemetry session for development
	LogLevel          string // sets the log level (zap log level values)
	LogFormat         string // text vs json
	LogConfig         string // path to a zapfilter rules file
	PollInterval      string // command poll interval when push is unavailable
	StaleGrace        string // grace window for the command staleness check
	MinPushInterval   string // minimum interval between state pushes
	ResyncInterval    string // forced state resync interval
	TimedResetMinutes int    // cadence of the timed reset loop
	WatchControls     bool   // reload bindings when the controls file changes
)
