// Package cli provides command-line interface setup for macsweep.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"macsweep/internal/config"
	"macsweep/internal/logger"
	"macsweep/internal/params"
)

// App represents the macsweep CLI application
type App struct {
	ConfigFile string
	LogLevel   string
	LogFile    string
}

// NewApp creates a new macsweep CLI application
func NewApp() *App {
	return &App{}
}

// CreateRootCommand creates and configures the root command
func (app *App) CreateRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "macsweep",
		Short: "Parameter sweep harness for the acoustic modem MAC layer",
		Long: `macsweep runs the acoustic modem under a series of MAC-layer parameter sets.
For every set it injects the constants, rebuilds, launches both links and records
how long each role took, then writes the results as JSON.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := logger.Configure(app.LogLevel, app.LogFile); err != nil {
				return fmt.Errorf("failed to configure logger: %w", err)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&app.ConfigFile, "config", "", "Harness config file (default: ./macsweep.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&app.LogLevel, "log-level", "", "Set log level (debug|info|warn|error) [default: info]")
	rootCmd.PersistentFlags().StringVar(&app.LogFile, "log-file", "", "Write logs to file instead of stderr")

	app.addSweepCommands(rootCmd)
	app.addSummarizeCommand(rootCmd)
	app.addInitCommand(rootCmd)
	app.addVersionCommand(rootCmd)

	return rootCmd
}

// loadConfig resolves settings and applies the configured log level unless a flag set one.
func (app *App) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: app.ConfigFile})
	if err != nil {
		return nil, err
	}
	if app.LogLevel == "" && cfg.LogLevel != "" {
		logger.Logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	}
	return cfg, nil
}

// loadSpace returns the parameter space from paramsFile, cfg.ParamsFile or the built-in sweep.
func loadSpace(cfg *config.Config, paramsFile string) (*params.Space, error) {
	if paramsFile == "" {
		paramsFile = cfg.ParamsFile
	}
	if paramsFile == "" {
		return params.Default(), nil
	}
	return params.Load(paramsFile)
}
