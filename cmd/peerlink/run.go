package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/peerlink/internal/config"
	"github.com/nao1215/peerlink/internal/database"
	"github.com/nao1215/peerlink/internal/harness"
	"github.com/nao1215/peerlink/internal/metrics"
	"github.com/nao1215/peerlink/internal/model"
	"github.com/nao1215/peerlink/internal/report"
	"github.com/nao1215/peerlink/internal/simnet"
	"github.com/nao1215/peerlink/internal/transport"
)

// ErrRunFailed is returned when the conformance run ends in FAILED. The
// report has already been written when it is returned.
var ErrRunFailed = errors.New("conformance run failed")

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the end-to-end conformance scenario",
		Long: `Run creates four participants (self, friend, otherFriend and unfriendly),
starts listeners and anonymity-network processes for the two trusting ones,
and checks that:
- direct and tunneled calls return the expected status documents
- a certificate nobody trusts is refused by TLS
- a wrong hidden-service auth cookie is refused by the tunnel

Everything that was started is stopped again, even when a phase fails.

Examples:
  # Run on the simulated network
  peerlink run

  # Run on Tor (needs the tor binary)
  peerlink run --network tor

  # Wait two seconds, then run, and write a Markdown report
  peerlink run --settle 2s --markdown -o report.md

  # Soak test: ten simulated runs, three at a time
  peerlink run --runs 10 --parallel 3

  # Expose Prometheus metrics while the run is in progress
  peerlink run --metrics-addr 127.0.0.1:9100`,
		Args: cobra.NoArgs,
		RunE: runRunCmd,
	}

	defaults := config.NewConfig()

	// Network flags
	cmd.Flags().StringP("network", "n", defaults.Network,
		"Anonymity network backend: sim or tor")
	cmd.Flags().Duration("tor-timeout", defaults.TorStartupTimeout,
		"Timeout for each Tor daemon to bootstrap")
	cmd.Flags().Duration("sim-publish-delay", defaults.SimPublishDelay,
		"How long the simulated network takes to publish a service")

	// Transport flags
	cmd.Flags().Duration("connect-timeout", defaults.ConnectTimeout,
		"Timeout for dial, SOCKS4a and TLS handshakes")
	cmd.Flags().Duration("read-timeout", defaults.ReadTimeout,
		"Timeout for each read from a connection")

	// Scenario flags
	cmd.Flags().Int("direct-repeat", defaults.DirectRepeat,
		"Number of direct GET/POST pairs in each direction")
	cmd.Flags().Int("tunneled-repeat", defaults.TunneledRepeat,
		"Number of tunneled GETs in each direction")
	cmd.Flags().Int("pool-size", defaults.WorkerPoolSize,
		"Worker pool size of each request handler")
	cmd.Flags().Int("virtual-port", defaults.VirtualPort,
		"Hidden-service port listeners are published on")
	cmd.Flags().Duration("publish-timeout", defaults.PublishTimeout,
		"How long to wait for hidden services to become reachable")
	cmd.Flags().Duration("publish-poll", defaults.PublishPollInterval,
		"Pause between publication probes")
	cmd.Flags().Duration("settle", defaults.SettleDelay,
		"Delay before the run starts")
	cmd.Flags().Int("runs", defaults.Runs,
		"Number of independent conformance runs")
	cmd.Flags().Int("parallel", defaults.Parallel,
		"Maximum number of runs in progress at once")

	// Report flags
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")

	// Storage and metrics flags
	cmd.Flags().String("db", defaults.DBDir,
		"Directory of the run history database")
	cmd.Flags().Bool("no-save", false,
		"Do not store the run in the history database")
	cmd.Flags().String("metrics-addr", "",
		"Serve Prometheus metrics on this address during the run")

	return cmd
}

// runRunCmd executes the run command.
func runRunCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := buildRunConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger, closer, err := setupLogger(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runConformance(ctx, cfg, cmd.OutOrStdout(), logger)
}

// buildRunConfig creates a Config from the run command's flags.
func buildRunConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewConfig()
	flags := cmd.Flags()

	var err error
	if cfg.Network, err = flags.GetString("network"); err != nil {
		return nil, err
	}
	if cfg.TorStartupTimeout, err = flags.GetDuration("tor-timeout"); err != nil {
		return nil, err
	}
	if cfg.SimPublishDelay, err = flags.GetDuration("sim-publish-delay"); err != nil {
		return nil, err
	}
	if cfg.ConnectTimeout, err = flags.GetDuration("connect-timeout"); err != nil {
		return nil, err
	}
	if cfg.ReadTimeout, err = flags.GetDuration("read-timeout"); err != nil {
		return nil, err
	}
	if cfg.DirectRepeat, err = flags.GetInt("direct-repeat"); err != nil {
		return nil, err
	}
	if cfg.TunneledRepeat, err = flags.GetInt("tunneled-repeat"); err != nil {
		return nil, err
	}
	if cfg.WorkerPoolSize, err = flags.GetInt("pool-size"); err != nil {
		return nil, err
	}
	if cfg.VirtualPort, err = flags.GetInt("virtual-port"); err != nil {
		return nil, err
	}
	if cfg.PublishTimeout, err = flags.GetDuration("publish-timeout"); err != nil {
		return nil, err
	}
	if cfg.PublishPollInterval, err = flags.GetDuration("publish-poll"); err != nil {
		return nil, err
	}
	if cfg.SettleDelay, err = flags.GetDuration("settle"); err != nil {
		return nil, err
	}
	if cfg.Runs, err = flags.GetInt("runs"); err != nil {
		return nil, err
	}
	if cfg.Parallel, err = flags.GetInt("parallel"); err != nil {
		return nil, err
	}
	if cfg.JSONReport, err = flags.GetBool("json"); err != nil {
		return nil, err
	}
	if cfg.MarkdownReport, err = flags.GetBool("markdown"); err != nil {
		return nil, err
	}
	if cfg.ReportFile, err = flags.GetString("output"); err != nil {
		return nil, err
	}
	if cfg.DBDir, err = flags.GetString("db"); err != nil {
		return nil, err
	}
	noSave, err := flags.GetBool("no-save")
	if err != nil {
		return nil, err
	}
	cfg.SaveToDB = !noSave
	if cfg.MetricsAddr, err = flags.GetString("metrics-addr"); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runConformance performs cfg.Runs runs and writes, stores and counts each
// report as its run finishes. It returns ErrRunFailed when any run ended in
// FAILED.
func runConformance(ctx context.Context, cfg *config.Config, out io.Writer, logger *slog.Logger) error {
	m := metrics.New()
	if cfg.MetricsAddr != "" {
		srv, err := m.Serve(ctx, cfg.MetricsAddr, logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := shutdownContext(ctx)
			defer cancel()
			if err := srv.Close(shutdownCtx); err != nil {
				logger.Warn("failed to stop metrics server", "error", err)
			}
		}()
	}

	output, closeOutput, err := openReportOutput(cfg.ReportFile, out)
	if err != nil {
		return err
	}
	defer closeOutput()
	w, err := report.NewWriter(reportFormat(cfg.JSONReport, cfg.MarkdownReport), output, getVersion())
	if err != nil {
		return err
	}

	batch := harness.NewBatch(func(int) *harness.Harness {
		return harness.New(cfg.Network, networkFactory(cfg, logger),
			harness.WithSettings(harness.SettingsFromConfig(cfg)),
			harness.WithLogger(logger),
			harness.WithPhaseObserver(m),
			harness.WithTransportOptions(transport.WithObserver(m), transport.WithLogger(logger)),
		)
	}, harness.WithConcurrency(cfg.Parallel), harness.WithBatchLogger(logger))

	// Finished runs are reported one at a time so outputs never interleave.
	var (
		mu       sync.Mutex
		writeErr error
	)
	onDone := func(_ int, runReport *model.RunReport, _ error) {
		mu.Lock()
		defer mu.Unlock()
		m.ObserveRun(runReport)
		if cfg.SaveToDB {
			if err := saveRun(ctx, cfg.DBDir, runReport); err != nil {
				logger.Error("failed to save run", "run_id", runReport.RunID, "error", err)
			}
		}
		if _, err := w.Write(runReport); err != nil && writeErr == nil {
			writeErr = fmt.Errorf("failed to write report: %w", err)
		}
	}

	logger.Info("starting conformance runs", "network", cfg.Network, "runs", cfg.Runs, "settle", cfg.SettleDelay)
	var runErr error
	if err := runAfterSettle(ctx, cfg.SettleDelay, logger, func(ctx context.Context) {
		_, runErr = batch.Run(ctx, cfg.Runs, onDone)
	}); err != nil {
		return err
	}

	if writeErr != nil {
		return writeErr
	}
	if runErr != nil {
		return fmt.Errorf("%w: %w", ErrRunFailed, runErr)
	}
	return nil
}

// networkFactory returns the anonymity-network backend cfg selects. Every
// call builds a separate simulated network.
func networkFactory(cfg *config.Config, logger *slog.Logger) harness.NetworkFactory {
	if cfg.Network == config.NetworkTor {
		return harness.TorNetworks(cfg.TorStartupTimeout, logger)
	}
	registry := simnet.NewRegistry(simnet.WithPublishDelay(cfg.SimPublishDelay))
	return harness.SimNetworks(registry, logger)
}

// runAfterSettle calls run once delay has passed. Cancelling ctx during the
// delay cancels the run and returns ctx's error; cancelling it afterwards
// lets run tear down.
func runAfterSettle(ctx context.Context, delay time.Duration, logger *slog.Logger, run func(ctx context.Context)) error {
	if delay <= 0 {
		run(ctx)
		return nil
	}

	task := harness.Schedule(delay, func() { run(ctx) })
	logger.Debug("run scheduled", "delay", delay)

	if err := task.Wait(ctx); err != nil {
		if task.Cancel() {
			logger.Info("run cancelled before it started")
			return err
		}
		<-task.Done()
	}
	return nil
}

// saveRun stores the report in the history database in dbDir.
func saveRun(ctx context.Context, dbDir string, runReport *model.RunReport) error {
	db, err := database.Open(dbDir, database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	return db.SaveRun(context.WithoutCancel(ctx), runReport)
}

// reportFormat maps the report flags to a format.
func reportFormat(jsonReport, markdownReport bool) report.Format {
	switch {
	case jsonReport:
		return report.FormatJSON
	case markdownReport:
		return report.FormatMarkdown
	default:
		return report.FormatText
	}
}

// openReportOutput returns the file at path, created along with its
// directory, or out when path is empty.
func openReportOutput(path string, out io.Writer) (io.Writer, func(), error) {
	if path == "" {
		return out, func() {}, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	f, err := os.Create(path) //nolint:gosec // user-provided path is intentional
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create report file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// shutdownContext bounds cleanup that must outlive a cancelled command.
func shutdownContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
}
