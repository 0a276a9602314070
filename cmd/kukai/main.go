package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/torosent/kukai/internal/config"
	"github.com/torosent/kukai/internal/logging"
	"github.com/torosent/kukai/internal/tracing"
)

const (
	progressInterval = time.Second
	shutdownTimeout  = 5 * time.Second
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "kukai",
		Short:         "Distributed load generation with streamed attempt metrics",
		Long:          "kukai runs as a commander collecting metrics, an edge generating traffic and streaming metrics to a commander, or standalone writing metrics to a local Arrow file. The mode comes from the config file or --mode unless a subcommand names it.",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMode(cmd, "")
		},
	}
	config.RegisterFlags(root)

	for _, mode := range []struct {
		mode  config.Mode
		short string
	}{
		{config.ModeCommander, "Accept metric streams from edges"},
		{config.ModeEdge, "Generate traffic and stream metrics to a commander"},
		{config.ModeStandalone, "Generate traffic and append metrics to a local Arrow file"},
	} {
		m := mode.mode
		sub := &cobra.Command{
			Use:           string(m),
			Short:         mode.short,
			Args:          cobra.NoArgs,
			SilenceErrors: true,
			SilenceUsage:  true,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMode(cmd, m)
			},
		}
		config.RegisterFlags(sub)
		root.AddCommand(sub)
	}
	root.AddCommand(newExportCommand())
	return root
}

// runMode loads the configuration from cmd's flags and runs the selected
// role. forced, when set, overrides the configured mode.
func runMode(cmd *cobra.Command, forced config.Mode) error {
	cfg, err := config.NewLoader().LoadFlags(cmd.Flags())
	if err != nil {
		return err
	}
	if forced != "" {
		cfg.Mode = forced
	}

	if printCfg, _ := cmd.Flags().GetBool("print-config"); printCfg {
		data, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Options())
	if err != nil {
		return err
	}
	logging.SetGlobal(logger)
	defer logging.Sync()

	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	identity := tracing.Identity{Mode: cfg.Mode}
	if cfg.Mode == config.ModeEdge {
		identity.EdgeID = cfg.Edge.ID
	}
	provider, err := tracing.Init(ctx, cfg.Tracing, identity)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	env := &environment{
		cfg:      cfg,
		logger:   logger.With(zap.String("mode", string(cfg.Mode))),
		provider: provider,
		stdout:   cmd.OutOrStdout(),
		stderr:   cmd.ErrOrStderr(),
	}
	env.logger.Info("starting", zap.String("config", cfg.ConfigFile))

	switch cfg.Mode {
	case config.ModeCommander:
		return runCommander(ctx, env)
	case config.ModeEdge:
		return runEdge(ctx, env)
	case config.ModeStandalone:
		return runStandalone(ctx, env)
	default:
		return errors.New("mode is required (commander, edge or standalone)")
	}
}
