package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/koenenwmn/fail-operational-noc-demonstrator/bridge"
	"github.com/koenenwmn/fail-operational-noc-demonstrator/monitoring"
)

var serveChannels int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the monitoring dashboard over HTTP.",
	Long: `serve wires the controller stack to simulated debug modules, ` +
		`optionally creates a few sample channels, and exposes the ` +
		`controller state through the monitoring HTTP API until ` +
		`interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	env, err := newSimEnv(cfg, true, logger)
	if err != nil {
		return err
	}
	dim := env.dimensions()

	if err := env.ctrl.Reset(); err != nil {
		return err
	}
	if err := env.ctrl.ActivateMonitoring(1 << 20); err != nil {
		return err
	}
	if err := env.bridge.Activate(bridge.EndpointsAll); err != nil {
		return err
	}

	rec, err := setupTelemetry(env.ctrl, dim.Nodes())
	if err != nil {
		return err
	}
	if rec != nil {
		defer rec.Close()
	}

	// Sample channels between opposite mesh corners give the dashboard
	// something to show.
	for i := 0; i < serveChannels; i++ {
		src := i % dim.Nodes()
		dest := dim.Nodes() - 1 - src
		if src == dest {
			continue
		}
		chid, err := env.ctrl.CreateChannel(src, dest, 1, true)
		if err != nil {
			logger.Warn().Err(err).
				Int("src", src).
				Int("dest", dest).
				Msg("sample channel not created")
			continue
		}
		logger.Info().Int("channel", chid).Msg("sample channel created")
	}

	monitor := monitoring.NewMonitor(logger).
		WithPortNumber(cfg.Monitor.Port)
	if cfg.Monitor.Browser {
		monitor = monitor.WithBrowser()
	}
	monitor.RegisterController(env.ctrl)
	monitor.RegisterGateway(env.gw)

	if err := monitor.StartServer(); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info().Msg("shutting down")

	return env.ctrl.DeactivateMonitoring()
}

func init() {
	serveCmd.Flags().IntVar(&serveChannels, "channels", 2,
		"number of sample channels to create")
	rootCmd.AddCommand(serveCmd)
}
