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

	"github.com/hpcgrid/meridian/pkg/bootstrap"
	"github.com/hpcgrid/meridian/pkg/config"
	"github.com/hpcgrid/meridian/pkg/log"
	"github.com/hpcgrid/meridian/pkg/metrics"
	"github.com/hpcgrid/meridian/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "meridian",
	Short: "Meridian - global address space bootstrap for distributed runtimes",
	Long: `Meridian forms a cluster of localities around a single bootstrap root,
registers every locality into the global address space and resolves
global addresses to local handles afterwards.

One locality runs in console mode and hosts the authoritative address
table; workers register against it and block until the cluster is
complete.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Meridian version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(upCmd)
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start this locality and form the cluster",
	Long: `Start the locality's parcelport, run the bootstrap protocol until the
cluster is formed, then keep serving address resolution until
interrupted.

In console mode this locality is the bootstrap root and must be
locality 0; every other locality needs --root pointing at the root's
parcelport.`,
	RunE: runUp,
}

func init() {
	upCmd.Flags().String("config", "", "Path to YAML config file")
	upCmd.Flags().String("mode", "", "Runtime mode: console, worker or connect")
	upCmd.Flags().Uint32("locality", 0, "This locality's cluster-wide ID")
	upCmd.Flags().String("bind", "", "Parcelport listen address")
	upCmd.Flags().String("root", "", "Root locality's parcelport endpoint")
	upCmd.Flags().Int("expected", 0, "Localities required before the cluster is formed (root only)")
	upCmd.Flags().Duration("bootstrap-timeout", 0, "Deadline for cluster formation")
	upCmd.Flags().String("metrics-addr", "", "HTTP listen address for /metrics, /healthz, /readyz")
	upCmd.Flags().String("log-level", "", "Log level: debug, info, warn, error")
	upCmd.Flags().Bool("json-logs", true, "Emit structured JSON logs")
}

func runUp(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	metrics.SetVersion(Version)

	logger := log.WithComponent("main")
	logger.Info().
		Str("version", Version).
		Str("mode", string(cfg.RouterMode)).
		Uint32("locality", uint32(cfg.Locality)).
		Msg("starting locality")

	b := bootstrap.New(cfg)
	if err := b.Start(); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}

	metricsSrv := startMetricsServer(cfg.MetricsAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := b.Bootstrap(ctx); err != nil {
		b.Shutdown()
		shutdownMetricsServer(metricsSrv)
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	logger.Info().Str("parcelport", b.Addr()).Msg("locality ready")

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownMetricsServer(metricsSrv)
	if err := b.Shutdown(); err != nil {
		return fmt.Errorf("failed to shut down cleanly: %w", err)
	}
	return nil
}

// resolveConfig loads the optional config file and applies flag overrides on
// top. Validation runs on the final result.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}

	if cmd.Flags().Changed("mode") {
		raw, _ := cmd.Flags().GetString("mode")
		mode, err := types.ParseRuntimeMode(raw)
		if err != nil {
			return nil, err
		}
		cfg.SetRuntimeMode(mode)
	}
	if cmd.Flags().Changed("locality") {
		id, _ := cmd.Flags().GetUint32("locality")
		cfg.Locality = types.LocalityID(id)
	}
	if cmd.Flags().Changed("bind") {
		cfg.BindAddr, _ = cmd.Flags().GetString("bind")
	}
	if cmd.Flags().Changed("root") {
		cfg.RootAddr, _ = cmd.Flags().GetString("root")
	}
	if cmd.Flags().Changed("expected") {
		cfg.ExpectedLocalities, _ = cmd.Flags().GetInt("expected")
	}
	if cmd.Flags().Changed("bootstrap-timeout") {
		cfg.BootstrapTimeout, _ = cmd.Flags().GetDuration("bootstrap-timeout")
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr, _ = cmd.Flags().GetString("metrics-addr")
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("json-logs") {
		cfg.LogJSON, _ = cmd.Flags().GetBool("json-logs")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// startMetricsServer serves /metrics, /healthz and /readyz. A bind failure is
// logged but never takes the locality down. Returns nil when disabled.
func startMetricsServer(addr string) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", metrics.HealthHandler())
	mux.HandleFunc("/readyz", metrics.ReadyHandler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger := log.WithComponent("metrics")
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	return srv
}

func shutdownMetricsServer(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
