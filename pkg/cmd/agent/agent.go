package agent

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/simrigs/rig-commander/log"
	backendpg "github.com/simrigs/rig-commander/pkg/backend/pg"
	"github.com/simrigs/rig-commander/pkg/backend/rest"
	"github.com/simrigs/rig-commander/pkg/commands"
	"github.com/simrigs/rig-commander/pkg/commands/transport"
	natspush "github.com/simrigs/rig-commander/pkg/commands/transport/nats"
	pgtransport "github.com/simrigs/rig-commander/pkg/commands/transport/pg"
	"github.com/simrigs/rig-commander/pkg/config"
	"github.com/simrigs/rig-commander/pkg/controls"
	"github.com/simrigs/rig-commander/pkg/db/postgres"
	"github.com/simrigs/rig-commander/pkg/dispatch"
	"github.com/simrigs/rig-commander/pkg/input"
	"github.com/simrigs/rig-commander/pkg/reconcile"
	"github.com/simrigs/rig-commander/pkg/telemetry"
)

//nolint:funlen // by design
func NewAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "runs the rig agent",
		Long: `Runs the on-rig agent: receives remote commands, executes them
against the simulator and keeps the backend state in sync.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent()
		},
	}
	cmd.Flags().StringVar(&config.NatsURL,
		"nats-url",
		"",
		"NATS server used for realtime command delivery (optional)")
	cmd.Flags().StringVar(&config.ControlsFile,
		"controls-file",
		"controls.yml",
		"path to the simulator control bindings file")
	cmd.Flags().BoolVar(&config.WatchControls,
		"watch-controls",
		true,
		"reload bindings when the controls file changes")
	cmd.Flags().StringVar(&config.ReplayFile,
		"replay-file",
		"",
		"play back a recorded telemetry session instead of live data")
	cmd.Flags().StringVar(&config.PollInterval,
		"poll-interval",
		"10s",
		"command poll interval when push delivery is unavailable")
	cmd.Flags().StringVar(&config.StaleGrace,
		"stale-grace",
		"5m",
		"commands older than simulator connection plus this are ignored")
	cmd.Flags().StringVar(&config.MinPushInterval,
		"min-push-interval",
		"1s",
		"minimum interval between state pushes")
	cmd.Flags().StringVar(&config.ResyncInterval,
		"resync-interval",
		"30s",
		"unconditional state resync interval")
	cmd.Flags().IntVar(&config.TimedResetMinutes,
		"timed-reset-minutes",
		10,
		"default cadence of the timed reset loop")
	cmd.Flags().StringVar(&config.LogLevel,
		"log-level",
		"info",
		"controls the log level (debug, info, warn, error, fatal)")
	cmd.Flags().StringVar(&config.LogFormat,
		"log-format",
		"json",
		"controls the log output format")
	cmd.Flags().StringVar(&config.LogConfig,
		"log-config",
		"",
		"zapfilter rules for per subsystem log levels")
	return cmd
}

func parseLogLevel(l string, defaultVal log.Level) log.Level {
	level, err := log.ParseLevel(l)
	if err != nil {
		return defaultVal
	}
	return level
}

func parseDuration(s string, defaultVal time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return defaultVal
}

func setupLogger() (*log.Logger, error) {
	switch config.LogFormat {
	case "json":
		if config.LogConfig != "" {
			rules, err := os.ReadFile(config.LogConfig)
			if err != nil {
				return nil, fmt.Errorf("read log config %s: %w", config.LogConfig, err)
			}
			logger, err := log.NewWithFilters(
				os.Stderr,
				parseLogLevel(config.LogLevel, log.InfoLevel),
				string(rules),
				log.WithCaller(true),
				log.AddCallerSkip(1))
			if err != nil {
				return nil, fmt.Errorf("log config %s: %w", config.LogConfig, err)
			}
			return logger, nil
		}
		return log.New(
			os.Stderr,
			parseLogLevel(config.LogLevel, log.InfoLevel),
			log.WithCaller(true),
			log.AddCallerSkip(1)), nil
	default:
		return log.DevLogger(
			os.Stderr,
			parseLogLevel(config.LogLevel, log.DebugLevel),
			log.WithCaller(true),
			log.AddCallerSkip(1)), nil
	}
}

//nolint:funlen,cyclop // by design
func runAgent() error {
	logger, err := setupLogger()
	if err != nil {
		return err
	}
	log.ResetDefault(logger)

	log.Debug("Config:",
		log.String("deviceId", config.DeviceID),
		log.String("backendUrl", config.BackendURL),
		log.String("db", config.DB),
		log.String("natsUrl", config.NatsURL),
		log.String("controlsFile", config.ControlsFile),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var source telemetry.Source
	if config.ReplayFile != "" {
		replay, err := telemetry.NewReplaySource(config.ReplayFile)
		if err != nil {
			log.Error("could not load replay file", log.ErrorField(err))
			return err
		}
		log.Info("using replay telemetry", log.String("file", config.ReplayFile))
		source = replay
	} else {
		// the live simulator source is registered by the platform build;
		// without one the agent reports a disconnected simulator
		source = telemetry.NewDisconnectedSource()
	}
	poller := telemetry.NewPoller(config.DeviceID, source)
	poller.Start(ctx)
	defer poller.Stop()

	storeOpts := []controls.Option{}
	if config.WatchControls {
		storeOpts = append(storeOpts, controls.WithWatch())
	}
	store, err := controls.NewStore(config.ControlsFile, storeOpts...)
	if err != nil {
		log.Error("could not open controls file", log.ErrorField(err))
		return err
	}
	defer store.Close()

	// backend access: direct database when configured, REST facade otherwise
	restClient := rest.NewClient(config.BackendURL, config.DeviceID)
	var cmdTransport transport.Transport = restClient
	var stateSink reconcile.Backend = restClient
	var sessionSink dispatch.SessionSink = restClient
	if config.DB != "" {
		pool := postgres.InitWithUrl(config.DB, postgres.WithTracer(logger.Sugar()))
		defer postgres.CloseDb()
		cmdTransport = pgtransport.NewTransport(pool, config.DeviceID)
		pgSink := backendpg.NewSink(pool, config.DeviceID)
		stateSink = pgSink
		sessionSink = pgSink
	}

	var push transport.PushTransport
	if config.NatsURL != "" {
		nc, ncErr := nats.Connect(config.NatsURL)
		if ncErr != nil {
			log.Warn("could not connect NATS, using polling only",
				log.ErrorField(ncErr))
		} else {
			defer nc.Close()
			push = natspush.NewPush(nc, config.DeviceID)
		}
	}

	reconciler := reconcile.NewReconciler(
		reconcile.WithBackend(stateSink),
		reconcile.WithTelemetry(poller),
		reconcile.WithMinInterval(parseDuration(config.MinPushInterval, time.Second)),
		reconcile.WithResyncInterval(parseDuration(config.ResyncInterval, 30*time.Second)),
	)
	snapshots := poller.Subscribe()
	defer poller.CancelSubscription(snapshots)
	go reconciler.Run(ctx, snapshots)

	dispatcher := dispatch.NewDispatcher(
		dispatch.WithTelemetry(poller),
		dispatch.WithExecutor(input.NewNopExecutor()),
		dispatch.WithBindings(store),
		dispatch.WithSessionSink(sessionSink),
		dispatch.WithForceSync(reconciler.ForceResync),
		dispatch.WithTimedInterval(
			time.Duration(config.TimedResetMinutes)*time.Minute),
	)
	defer dispatcher.Stop()

	queue := commands.NewQueue(
		commands.WithTransport(cmdTransport),
		commands.WithPush(push),
		commands.WithDispatcher(dispatcher),
		commands.WithTelemetry(poller),
		commands.WithPollInterval(parseDuration(config.PollInterval, 10*time.Second)),
		commands.WithStaleGrace(parseDuration(config.StaleGrace, 5*time.Minute)),
	)
	if err := queue.Start(ctx); err != nil {
		log.Error("could not start command queue", log.ErrorField(err))
		return err
	}
	defer queue.Stop()

	log.Info("Agent started", log.String("deviceId", config.DeviceID))
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	v := <-sigChan
	log.Debug("Got signal ", log.Any("signal", v))
	log.Info("Agent terminated")
	return nil
}
