package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"github.com/urfave/cli/v2"

	"github.com/poskernel/core/internal/config"
	"github.com/poskernel/core/internal/kernel"
	"github.com/poskernel/core/internal/metrics"
	"github.com/poskernel/core/internal/rpcserver"
	log "github.com/poskernel/core/log"
)

var serveCommand = &cli.Command{
	Name:            "serve",
	Usage:           "acquire a terminal, recover its WAL, and serve JSON-RPC on --listen-addr",
	SkipFlagParsing: true,
	Action:          runServe,
}

// parseConfig reparses a subcommand's raw args through pflag+viper so
// POSKERNEL_* environment variables layer the same way for every
// subcommand, matching cmd/simulator's BuildFlagSet/BuildViper/BuildConfig
// shape rather than urfave/cli's own flag type.
func parseConfig(args []string) (config.Config, error) {
	fs := config.BuildFlagSet()
	v, err := config.BuildViper(fs, args)
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		return config.Config{}, fmt.Errorf("parsing flags: %w", err)
	}
	return config.BuildConfig(v)
}

// setupLogging validates the requested level and installs a fresh root
// logger. luxfi/log has no handler-construction API this codebase
// depends on elsewhere, so the only thing worth doing here is failing
// fast on a typo'd --log-level before the terminal lock is even
// acquired.
func setupLogging(level string) error {
	if _, err := log.LvlFromString(level); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	log.SetDefault(log.New())
	return nil
}

func runServe(ctx *cli.Context) error {
	cfg, err := parseConfig(ctx.Args().Slice())
	if err != nil {
		return err
	}
	if cfg.TerminalID == "" {
		return cli.Exit("--terminal-id is required", 1)
	}
	if err := setupLogging(cfg.LogLevel); err != nil {
		return err
	}

	metricsReg := metrics.New()
	k, err := kernel.Open(cfg.DataDir, cfg.TerminalID, cfg.WalSegmentBytes, metricsReg)
	if err != nil {
		return fmt.Errorf("opening terminal %s: %w", cfg.TerminalID, err)
	}
	defer k.Close()

	mux := http.NewServeMux()
	mux.Handle("/", rpcserver.NewHandler(k))
	mux.Handle("/metrics", promhttp.HandlerFor(metricsReg.Gatherer(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	log.Info("poskernel serving", "terminal", cfg.TerminalID, "addr", cfg.ListenAddr, "dataDir", cfg.DataDir)
	return http.ListenAndServe(cfg.ListenAddr, mux)
}
