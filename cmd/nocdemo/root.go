package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	configFile string
	verbose    bool

	cfg    Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "nocdemo",
	Short: "Host-side controller demo for the fail-operational NoC.",
	Long: `nocdemo runs the host-side controller of the fail-operational ` +
		`network-on-chip against simulated debug modules. It can plan TDM ` +
		`routes offline, run an end-to-end channel and traffic demo, or ` +
		`serve the monitoring dashboard.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A .env file can override the environment; missing is fine.
		_ = godotenv.Load()

		level := zerolog.InfoLevel
		if verbose {
			level = zerolog.DebugLevel
		}
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			Level(level).
			With().Timestamp().Logger()

		path := configFile
		if path == "" {
			path = os.Getenv("NOCDEMO_CONFIG")
		}

		var err error
		cfg, err = loadConfig(path)
		if err != nil {
			return err
		}

		return nil
	},
}

// Execute runs the root command and all subcommands.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"configuration file (TOML), defaults to $NOCDEMO_CONFIG")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable debug logging")
}
