package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/distconv/distconv/internal/config"
	"github.com/distconv/distconv/internal/database"
	"github.com/distconv/distconv/internal/dispatch"
	"github.com/distconv/distconv/internal/events"
	internalhttp "github.com/distconv/distconv/internal/http"
	"github.com/distconv/distconv/internal/http/handlers"
	"github.com/distconv/distconv/internal/monitor"
	"github.com/distconv/distconv/internal/observability"
	"github.com/distconv/distconv/internal/probe"
	"github.com/distconv/distconv/internal/registry"
	"github.com/distconv/distconv/internal/scanner"
	"github.com/distconv/distconv/internal/scheduler"
	"github.com/distconv/distconv/internal/tracker"
	"github.com/distconv/distconv/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the distconv coordinator",
	Long: `Start the coordinator: the REST API and realtime channel for workers
and observers, the filesystem scanner on its cron schedule, and the
liveness sweeps that fail orphaned work.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Host to bind to")
	serveCmd.Flags().Int("port", 0, "Port to listen on")
	serveCmd.Flags().String("scan-paths", "", "Comma-separated absolute scan roots")

	mustBindPFlag("server.host_flag", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port_flag", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("scan.paths_flag", serveCmd.Flags().Lookup("scan-paths"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	applyFlagOverrides(cfg)

	logger := observability.NewLogger(cfg.Logging)
	slog.SetDefault(logger)

	// Misconfigured scan roots (all nonexistent) are fatal at startup.
	if err := cfg.Scan.ValidateScanRoots(); err != nil {
		return err
	}

	db, err := database.New(cfg.Database, observability.WithComponent(logger, "database"))
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return err
	}

	bus := events.NewBus(observability.WithComponent(logger, "events"))

	reg := registry.New(db.DB, bus, cfg.Liveness.HeartbeatTimeout, observability.WithComponent(logger, "registry"))
	dispatcher := dispatch.New(db.DB, bus, observability.WithComponent(logger, "dispatch"))
	trk := tracker.New(db.DB, bus, observability.WithComponent(logger, "tracker"))
	mon := monitor.New(db.DB, bus, cfg.Liveness.HeartbeatTimeout, cfg.Liveness.TaskStallTimeout,
		observability.WithComponent(logger, "monitor"))
	scn := scanner.New(db.DB, probe.NewFFProbe(), cfg.Scan.Paths, cfg.Scan.BatchSize,
		observability.WithComponent(logger, "scanner"))

	// Periodic jobs: the scan on its cron schedule, the sweeps on intervals.
	runner := scheduler.New(observability.WithComponent(logger, "scheduler"))
	if len(cfg.Scan.Paths) > 0 {
		scanJob := func(ctx context.Context) {
			if err := scn.Scan(ctx); err != nil {
				logger.Error("scan failed", slog.String("error", err.Error()))
			}
		}
		switch {
		case cfg.Scan.Cron != "":
			if err := runner.AddCron(cfg.Scan.Cron, "scan", scanJob); err != nil {
				return err
			}
		case cfg.Scan.Interval > 0:
			if err := runner.AddInterval(cfg.Scan.Interval, "scan", scanJob); err != nil {
				return err
			}
		default:
			logger.Warn("no scan schedule configured, relying on startup scan only")
		}
	} else {
		logger.Warn("no scan paths configured, scanner disabled")
	}
	if err := runner.AddInterval(cfg.Liveness.SweepInterval, "worker-sweep", mon.SweepWorkers); err != nil {
		return err
	}
	if err := runner.AddInterval(cfg.Liveness.SweepInterval, "task-sweep", mon.SweepTasks); err != nil {
		return err
	}

	// HTTP surface.
	server := internalhttp.NewServer(internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, observability.WithComponent(logger, "http"), version.Version)

	handlers.NewHealthHandler(version.Version).WithDB(db).Register(server.API())
	handlers.NewWorkerHandler(reg).Register(server.API())
	handlers.NewTaskHandler(db.DB, dispatcher, trk).Register(server.API())
	handlers.NewVideoHandler(db.DB).Register(server.API())
	handlers.NewLogsHandler(db.DB).Register(server.API())
	handlers.NewSocketHandler(bus, cfg.Socket.PingInterval, cfg.Socket.PongTimeout,
		observability.WithComponent(logger, "socket")).RegisterRoutes(server.Router())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	runner.Start()
	defer runner.Stop()

	if cfg.Scan.OnStartup && len(cfg.Scan.Paths) > 0 {
		go func() {
			if err := scn.Scan(ctx); err != nil {
				logger.Error("startup scan failed", slog.String("error", err.Error()))
			}
		}()
	}

	logger.Info("starting distconv coordinator",
		slog.String("address", cfg.Server.Address()),
		slog.String("version", version.Version),
		slog.Int("scan_roots", len(cfg.Scan.Paths)),
	)

	return server.ListenAndServe(ctx)
}

// applyFlagOverrides lets serve flags win over file and env configuration.
func applyFlagOverrides(cfg *config.Config) {
	if host := viper.GetString("server.host_flag"); host != "" {
		cfg.Server.Host = host
	}
	if port := viper.GetInt("server.port_flag"); port != 0 {
		cfg.Server.Port = port
	}
	if paths := viper.GetString("scan.paths_flag"); paths != "" {
		cfg.Scan.Paths = nil
		for _, p := range strings.Split(paths, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.Scan.Paths = append(cfg.Scan.Paths, p)
			}
		}
	}
	if level := viper.GetString("logging.level"); level != "" {
		cfg.Logging.Level = level
	}
	if format := viper.GetString("logging.format"); format != "" {
		cfg.Logging.Format = format
	}
}
