package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dvloznov/budget-autopilot/internal/config"
	"github.com/dvloznov/budget-autopilot/internal/logger"
)

// cli holds what every command needs once the configuration is loaded.
type cli struct {
	configFile string
	cnf        *config.Configuration
	log        zerolog.Logger
}

func (c *cli) preRun(cmd *cobra.Command, _ []string) error {
	cnf, err := config.Load(c.configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	c.cnf = cnf
	c.log = logger.NewWithLevel(cnf.LogLevel)
	cmd.SetContext(logger.WithContext(cmd.Context(), c.log))
	return nil
}

func newRootCommand() *cobra.Command {
	app := &cli{}

	root := &cobra.Command{
		Use:           "budget-autopilot",
		Short:         "Weekly budget report and savings automation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&app.configFile, "config", "./budget.json", "Configuration file; environment variables override it")
	root.PersistentPreRunE = app.preRun

	root.AddCommand(runCommand(app))
	root.AddCommand(analyzeCommand(app))
	root.AddCommand(migrateCommand(app))
	root.AddCommand(reportCommand(app))
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if code, ok := err.(exitCode); ok {
			os.Exit(int(code))
		}
		log := logger.New()
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

// exitCode ends the process with a status without logging an error; the
// command has already reported the outcome.
type exitCode int

func (e exitCode) Error() string { return fmt.Sprintf("exit status %d", int(e)) }
