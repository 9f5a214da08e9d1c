package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/timmatch/internal/config"
	"github.com/sawpanic/timmatch/internal/errs"
)

const (
	appName = "timmatch"
	version = "v0.4.0"
)

// Exit codes.
const (
	exitFailure       = 1
	exitConfiguration = 2
	exitEstimation    = 3
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	file       *config.File
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Two-stage interpretable matching for treatment effect estimation",
		Version: version,
		Long: `timmatch estimates average treatment effects from observational data.

Covariates are ranked by how well they predict treatment. Units are first
matched exactly on coarsened covariates, dropping the least important
covariate until a stratum holds both arms, and are then weighted by inverse
importance-weighted distance within that stratum.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			file, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				file.Log.Level = opts.logLevel
			}
			if cmd.Flags().Changed("log-format") {
				file.Log.Format = opts.logFormat
			}
			if err := setupLogging(file.Log); err != nil {
				return err
			}
			opts.file = file
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "auto", "Log format (auto|console|json)")

	rootCmd.AddCommand(newFitCmd(opts))
	rootCmd.AddCommand(newShowCmd(opts))
	rootCmd.AddCommand(newListCmd(opts))
	rootCmd.AddCommand(newServeCmd(opts))
	return rootCmd
}

// setupLogging configures the global logger. "auto" uses the console writer
// when stderr is a terminal and JSON otherwise.
func setupLogging(cfg config.LogConfig) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	console := cfg.Format == "console" || (cfg.Format == "auto" && term.IsTerminal(int(os.Stderr.Fd())))
	if console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return nil
}

func exitCode(err error) int {
	log.Error().Err(err).Msg("Command failed")
	switch {
	case errs.IsConfiguration(err):
		return exitConfiguration
	case errs.IsEstimation(err):
		return exitEstimation
	default:
		return exitFailure
	}
}
