package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/payrollx/payrun/internal/client/directory"
	"github.com/payrollx/payrun/internal/client/ledger"
	"github.com/payrollx/payrun/internal/client/signer"
	"github.com/payrollx/payrun/internal/config"
	"github.com/payrollx/payrun/internal/domain/repository"
	"github.com/payrollx/payrun/internal/engine/aggregator"
	"github.com/payrollx/payrun/internal/engine/lifecycle"
	"github.com/payrollx/payrun/internal/engine/scheduler"
	"github.com/payrollx/payrun/internal/engine/settlement"
	"github.com/payrollx/payrun/internal/listener"
	"github.com/payrollx/payrun/internal/metrics"
	"github.com/payrollx/payrun/internal/migrate"
	"github.com/payrollx/payrun/internal/repository/inmemory"
	sqlrepo "github.com/payrollx/payrun/internal/repository/sql"
	"github.com/payrollx/payrun/internal/server"
	"github.com/payrollx/payrun/internal/support/logger"
)

var (
	configPath  string
	envFilePath string
)

var rootCmd = &cobra.Command{
	Use:   "payrund",
	Short: "Payroll run lifecycle and settlement orchestrator",
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFilePath, "env-file", "", "path to a .env file loaded before env overrides")
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the payrun service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath, envFilePath)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
}

func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := buildRepository(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	tracer, err := metrics.NewTracerProvider(ctx, cfg.Payrun.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("Tracer shutdown failed: %v", err)
		}
	}()

	var recorder metrics.MetricRecorder
	var promRecorder *metrics.PrometheusRecorder
	if cfg.Payrun.Telemetry.MetricsEnabled {
		promRecorder = metrics.NewPrometheusRecorder()
		recorder = promRecorder
	} else {
		recorder = metrics.NewNoOpMetricRecorder()
	}

	notifiers := []listener.CompletionNotifier{listener.NewLoggingNotifier()}
	if cfg.Payrun.Clients.WebhookURL != "" {
		notifiers = append(notifiers, listener.NewWebhookNotifier(cfg.Payrun.Clients.WebhookURL))
	}

	signerClient := signer.NewHTTPClient(cfg.Payrun.Clients.Signer)
	ledgerClient := ledger.NewHTTPClient(cfg.Payrun.Clients.Ledger)
	directoryClient := directory.NewHTTPClient(cfg.Payrun.Clients.Directory)

	agg := aggregator.NewStatusAggregator(repo, recorder, notifiers...)
	coordinator := settlement.NewCoordinator(repo, signerClient, ledgerClient, directoryClient, agg, recorder, cfg.Payrun.Settlement)
	coordinator.Start(ctx)
	defer coordinator.Stop()

	manager := lifecycle.NewManager(ctx, repo, directoryClient, coordinator, recorder)

	loc, err := time.LoadLocation(cfg.Payrun.System.Timezone)
	if err != nil {
		logger.Warnf("Unknown timezone '%s'; anchoring sweeps to local time.", cfg.Payrun.System.Timezone)
		loc = time.Local
	}

	sched := scheduler.NewScheduler(repo, manager, coordinator, recorder, cfg.Payrun.Scheduler, cfg.Payrun.Settlement.MaxRetries, loc)
	sched.Start(ctx)
	defer sched.Stop()

	serverCfg := server.Config{
		Manager:  manager,
		Repo:     repo,
		BasePath: cfg.Payrun.Server.BasePath,
	}
	if promRecorder != nil {
		serverCfg.Registry = promRecorder.GetRegistry()
	}

	httpServer := &http.Server{
		Addr:              cfg.Payrun.Server.Addr,
		Handler:           server.New(serverCfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP server listening on %s.", cfg.Payrun.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Infof("Shutting down.")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func buildRepository(cfg *config.Config) (repository.PayrollRepository, error) {
	if cfg.Payrun.Database.Type == "memory" {
		logger.Warnf("Using the in-memory repository; state is lost on restart.")
		return inmemory.NewInMemoryPayrollRepository(), nil
	}

	db, err := sqlrepo.Open(cfg.Payrun.Database, cfg.Payrun.System.Logging.Level)
	if err != nil {
		return nil, err
	}
	return sqlrepo.NewSQLPayrollRepository(db), nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate [up|down]",
		Short: "Apply or roll back schema migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath, envFilePath)
			if err != nil {
				return err
			}
			if cfg.Payrun.Database.Type == "memory" {
				return fmt.Errorf("the in-memory repository has no schema to migrate")
			}

			db, err := sqlrepo.Open(cfg.Payrun.Database, cfg.Payrun.System.Logging.Level)
			if err != nil {
				return err
			}
			sqlDB, err := db.DB()
			if err == nil {
				defer sqlDB.Close()
			}

			migrator := migrate.NewMigrator(db, cfg.Payrun.Database.Type)
			switch args[0] {
			case "up":
				return migrator.Up(cmd.Context())
			case "down":
				return migrator.Down(cmd.Context())
			default:
				return fmt.Errorf("unknown migration command: %s", args[0])
			}
		},
	}
	return cmd
}
