package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bzforge/bzfs/internal/api"
	"github.com/bzforge/bzfs/internal/audit"
	"github.com/bzforge/bzfs/internal/config"
	"github.com/bzforge/bzfs/internal/database"
	"github.com/bzforge/bzfs/internal/dispatcher"
	"github.com/bzforge/bzfs/internal/events"
	"github.com/bzforge/bzfs/internal/handlers"
	"github.com/bzforge/bzfs/internal/influx"
	"github.com/bzforge/bzfs/internal/logdetail"
	"github.com/bzforge/bzfs/internal/logging"
	"github.com/bzforge/bzfs/internal/monitor"
	"github.com/bzforge/bzfs/internal/negotiate"
	intOtel "github.com/bzforge/bzfs/internal/otel"
	"github.com/bzforge/bzfs/internal/scheduler"
	"github.com/bzforge/bzfs/internal/server"
	"github.com/bzforge/bzfs/internal/session"
	"github.com/bzforge/bzfs/internal/storage"
	"github.com/bzforge/bzfs/internal/validate"
	"github.com/bzforge/bzfs/internal/world"
	"github.com/bzforge/bzfs/pkg/core"
	"github.com/bzforge/bzfs/pkg/protocol"
	"github.com/rs/zerolog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// Version and BuildDate can be set at build time via ldflags.
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

var (
	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger
)

func main() {
	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(nil, "info", nil, nil)
	Logger = SlogManager.Logger()

	configDir := os.Getenv("BZFS_CONFIG_DIR")
	if configDir == "" {
		configDir = "."
	}
	if err := config.Load(configDir); err != nil {
		Logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		Logger.Info("Loaded config", "dir", configDir)
	}
	cfg, err := config.Current()
	if err != nil {
		Logger.Error("Invalid config", "error", err)
		os.Exit(1)
	}

	args := os.Args[1:]
	if len(args) > 0 {
		switch strings.ToLower(args[0]) {
		case "setupdb":
			if err := setupDB(cfg); err != nil {
				Logger.Error("DB setup failed", "error", err)
				os.Exit(1)
			}
			Logger.Info("DB setup complete.")
			return
		case "version":
			fmt.Printf("bzfs %s (%s) protocol %s\n", Version, BuildDate, protocol.ProtocolVersion)
			return
		default:
			Logger.Error("Unknown command", "command", args[0])
			os.Exit(2)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		Logger.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
}

// setupDB migrates the audit tables on the configured postgres server.
func setupDB(cfg config.Config) error {
	dbm := database.NewManager(zerolog.New(os.Stdout).With().Timestamp().Logger())
	if err := dbm.Connect(cfg.DB); err != nil {
		return err
	}
	if dbm.ShouldSaveLocal {
		return errors.New("postgres unreachable")
	}
	return dbm.Setup()
}

func openLogFile(logsDir, name string, start time.Time) (*os.File, string, error) {
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, "", err
	}
	path := logging.LogFilePath(logsDir, name, start)
	if _, err := os.Stat(path); err == nil {
		_ = os.Rename(path, path+".old")
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	return f, path, err
}

func run(ctx context.Context, cfg config.Config) error {
	start := time.Now()

	var logOut io.Writer
	logFile, logPath, err := openLogFile(cfg.LogsDir, cfg.Server.Name, start)
	if err != nil {
		Logger.Error("Failed to create/open log file!", "error", err, "path", logPath)
	} else {
		defer logFile.Close()
		logOut = logFile
	}

	var otelProvider *intOtel.Provider
	if cfg.OTel.Enabled {
		otelProvider, err = intOtel.New(intOtel.Config{
			Enabled:        true,
			ServiceName:    cfg.OTel.ServiceName,
			ServiceVersion: Version,
			BatchTimeout:   cfg.OTel.BatchTimeout,
			MetricInterval: cfg.OTel.MetricInterval,
			LogWriter:      logOut,
			Endpoint:       cfg.OTel.Endpoint,
			Insecure:       cfg.OTel.Insecure,
		})
		if err != nil {
			Logger.Error("Failed to initialize OTel provider", "error", err)
			otelProvider = nil
		}
	}

	wctx := world.NewContext(worldSettings(cfg.World))

	var otelLogProvider *sdklog.LoggerProvider
	if otelProvider != nil {
		otelLogProvider = otelProvider.LoggerProvider()
	}
	SlogManager.Setup(logOut, cfg.LogLevel, otelLogProvider, logging.TickContext(wctx.Tick, wctx.Sessions))
	Logger = SlogManager.Logger()
	Logger.Info("Starting bzfs", "version", Version, "build", BuildDate, "log", logPath)

	zout := io.Writer(os.Stdout)
	if logOut != nil {
		zout = logOut
	}
	zlog := zerolog.New(zout).With().Timestamp().Logger()

	// Game state.
	rng := rand.New(rand.NewPCG(uint64(start.UnixNano()), rand.Uint64()))
	flags, err := newFlagRegistry(cfg, rng)
	if err != nil {
		return err
	}
	sessions := session.NewTable(cfg.Server.MaxPlayers)
	validator, err := validate.New(validatorConfig(cfg), flags, wctx)
	if err != nil {
		return err
	}
	negotiator := negotiate.New(negotiatorConfig(cfg.Flags), abbrevs(flags.Catalog()))
	bus := events.NewBus(SlogManager.Component("events"))

	service := handlers.NewService(handlers.Dependencies{
		Sessions:     sessions,
		Flags:        flags,
		Validator:    validator,
		Negotiator:   negotiator,
		Bus:          bus,
		World:        wctx,
		Logger:       Logger,
		TransitGrace: cfg.Flags.TransitGrace,
	})
	disp, err := dispatcher.New(logging.NewDispatcherLogger(Logger))
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}
	service.Register(disp)

	sched := scheduler.New(SlogManager.Component("scheduler"))
	srv, err := server.New(serverConfig(cfg.Server), server.Dependencies{
		Sessions:   sessions,
		Service:    service,
		Dispatcher: disp,
		Scheduler:  sched,
		World:      wctx,
		Logger:     Logger,
	})
	if err != nil {
		return err
	}

	// Audit storage.
	backend, err := createStorageBackend(cfg, start, Logger, zlog)
	if err != nil {
		return err
	}
	if err := backend.Init(); err != nil {
		return fmt.Errorf("failed to initialize storage backend: %w", err)
	}
	sr := newServerRun(cfg, start)
	wctx.SetRun(sr)
	if err := backend.StartRun(sr); err != nil {
		Logger.Error("Failed to start run in storage", "error", err)
	}

	// Metrics.
	im := influx.NewManager(cfg.Influx, zlog.With().Str("component", "influx").Logger())
	if err := im.Connect(ctx); err != nil {
		if !errors.Is(err, influx.ErrDisabled) {
			Logger.Error("Failed to set up InfluxDB", "error", err)
		}
		im = nil
	}

	auditDeps := audit.Dependencies{
		Bus:       bus,
		Backend:   backend,
		Logger:    Logger,
		Observers: cfg.Server.AuditObservers,
	}
	if im != nil {
		auditDeps.Activity = im
	}
	auditPlugin := audit.Load(auditDeps)
	detail := logdetail.Load(logdetail.Dependencies{
		Bus:         bus,
		Sessions:    sessions,
		Logger:      Logger,
		Description: cfg.ListServer.Description,
	})

	monDeps := monitor.Dependencies{
		Sessions:   sessions,
		Flags:      flags,
		Handlers:   service,
		Server:     srv,
		World:      wctx,
		Logger:     Logger,
		StatusFile: filepath.Join(cfg.LogsDir, "status.json"),
	}
	if im != nil {
		monDeps.Influx = im
	}
	if r, ok := backend.(monitor.PerformanceRecorder); ok {
		monDeps.Recorder = r
	}
	mon := monitor.NewService(monDeps)
	sched.Schedule(mon.Task(cfg.Monitor.Interval))

	var list *api.Client
	if cfg.ListServer.Enabled {
		list = api.New(cfg.ListServer, Logger)
		sched.Schedule(list.Task(cfg.ListServer.Interval, func() api.Info {
			return api.Info{Players: sessions.Len(), MaxPlayers: sessions.Cap()}
		}))
	}

	serveErr := srv.ListenAndServe(ctx, cfg.Server.Address)

	// Shutdown. Serve has removed every session by now.
	Logger.Info("Shutting down")
	if list != nil {
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := list.Remove(rctx); err != nil {
			Logger.Warn("List server removal failed", "error", err)
		}
		cancel()
	}
	mon.Collect(time.Now())
	detail.Unload()
	auditPlugin.Unload()

	if err := backend.EndRun(core.RunEnd{RunID: sr.ID, EndTime: time.Now(), Reason: handlers.ReasonShutdown}); err != nil {
		Logger.Error("Failed to end run in storage", "error", err)
	}
	if exp, ok := backend.(storage.Exporter); ok && exp.ExportedFilePath() != "" {
		Logger.Info("Run exported", "path", exp.ExportedFilePath())
	}
	if err := backend.Close(); err != nil {
		Logger.Error("Failed to close storage backend", "error", err)
	}
	if im != nil {
		if err := im.Close(); err != nil {
			Logger.Error("Failed to close InfluxDB", "error", err)
		}
	}

	fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := SlogManager.Flush(fctx); err != nil {
		fmt.Fprintf(os.Stderr, "log flush: %v\n", err)
	}
	if otelProvider != nil {
		_ = otelProvider.Shutdown(fctx)
	}
	return serveErr
}
