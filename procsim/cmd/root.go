// Package cmd provides the command-line interface of procsim.
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

var logLevel string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "procsim",
	Short: "procsim runs process-oriented discrete event simulations.",
	Long: `procsim runs the example scenarios of the procsim engine, prints ` +
		`their reports, and reads back the reports it recorded. Defaults ` +
		`can be set in a .env file through PROCSIM_LOG_LEVEL and ` +
		`PROCSIM_MONITOR_PORT.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if !cmd.Flags().Changed("log-level") {
			if v, ok := os.LookupEnv("PROCSIM_LOG_LEVEL"); ok {
				logLevel = v
			}
		}

		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}

		logrus.SetLevel(level)

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn",
		"Log level (trace, debug, info, warn, error, fatal, panic)")
}

// Execute adds all child commands to the root command and sets flags
// appropriately. It loads .env first and flushes pending recordings on exit.
func Execute() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("cannot load .env")
	}

	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
