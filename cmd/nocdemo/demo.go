package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/koenenwmn/fail-operational-noc-demonstrator/bridge"
	"github.com/koenenwmn/fail-operational-noc-demonstrator/ctrlmod"
	"github.com/koenenwmn/fail-operational-noc-demonstrator/di"
	"github.com/koenenwmn/fail-operational-noc-demonstrator/gateway"
	"github.com/koenenwmn/fail-operational-noc-demonstrator/mesh"
	"github.com/koenenwmn/fail-operational-noc-demonstrator/recording"
)

var (
	demoSrc   int
	demoDest  int
	demoSlots int
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run an end-to-end channel, traffic, and failover demo.",
	Long: `demo wires the controller stack to simulated debug modules, ` +
		`creates a 1+1 protected TDM channel, exchanges best-effort and ` +
		`TDM traffic through the echoing bridge, injects telemetry, and ` +
		`exercises a path failure and repair.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDemo()
	},
}

// echoPrinter logs every payload the gateway delivers.
type echoPrinter struct {
	log zerolog.Logger
}

func (p *echoPrinter) Receive(
	t gateway.TrafficType,
	endpoint int,
	payload []uint32,
	source int,
) {
	kind := "TDM"
	if t == gateway.BE {
		kind = "BE"
	}
	p.log.Info().
		Str("traffic", kind).
		Int("endpoint", endpoint).
		Int("source", source).
		Uints32("payload", payload).
		Msg("traffic received")
}

func runDemo() error {
	env, err := newSimEnv(cfg, true, logger)
	if err != nil {
		return err
	}
	dim := env.dimensions()

	if demoDest < 0 {
		demoDest = dim.Nodes() - 1
	}
	if demoSrc == demoDest {
		return fmt.Errorf("demo: source and destination are the same node")
	}

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

	// 1+1 protected channel with automatic path search.
	chid, err := env.ctrl.CreateChannel(demoSrc, demoDest, demoSlots, true)
	if err != nil {
		return err
	}
	logger.Info().
		Interface("channels", env.ctrl.Channels()).
		Interface("paths", env.ctrl.Paths()).
		Msg("configured state")

	// Traffic through the echoing bridge.
	printer := &echoPrinter{log: logger}
	cid := env.gw.RegisterClient(printer)
	if err := env.gw.BindTraffic(cid, gateway.NewBind(16)); err != nil {
		return err
	}

	ready := env.gw.TileReady(cfg.DI.Tile, 0)
	logger.Info().Bool("ready", ready).Msg("first liveness check, probe sent")
	ready = env.gw.TileReady(cfg.DI.Tile, 0)
	logger.Info().Bool("ready", ready).Msg("second liveness check")

	if err := env.gw.SendTDM(0, []uint32{0xcafe, 0xf00d, 0x42}, 16); err != nil {
		return err
	}
	err = env.gw.SendBE(0, cfg.DI.Tile, 1, 0, []uint32{1, 2, 3, 4, 5}, 8)
	if err != nil {
		return err
	}

	injectTelemetry(env.conn)

	// Fail the primary path's first link, then repair the path.
	primary := env.ctrl.Channel(chid).Path(0)
	faultNode := primary.Route[0]
	faultLink := mesh.RouterOutputPort(dim.X, primary.Route[0], primary.Route[1])
	if err := env.ctrl.ConfigureFault(faultNode, faultLink, true); err != nil {
		return err
	}
	logger.Info().
		Int("node", faultNode).
		Int("link", faultLink).
		Uints8("fault_vector", env.ctrl.FaultVector()).
		Msg("fault injected on primary path")

	route := append([]int(nil), primary.Route...)
	if err := env.ctrl.RemovePathFromChannel(chid, 0); err != nil {
		return err
	}
	result, err := env.ctrl.AddPathToChannel(chid, 0, route)
	if err != nil {
		return err
	}
	if result != ctrlmod.AddPathOk {
		return fmt.Errorf("demo: path repair failed with result %d", result)
	}
	logger.Info().Int("channel", chid).Msg("primary path re-established")

	if err := env.ctrl.ConfigureFault(faultNode, faultLink, false); err != nil {
		return err
	}

	// Tear down.
	if err := env.ctrl.DeleteChannel(chid); err != nil {
		return err
	}
	if err := env.bridge.Deactivate(bridge.EndpointsAll); err != nil {
		return err
	}
	if err := env.ctrl.DeactivateMonitoring(); err != nil {
		return err
	}

	logger.Info().Msg("demo finished")

	return nil
}

// setupTelemetry routes telemetry either into a SQLite recorder or into
// the log.
func setupTelemetry(ctrl *ctrlmod.Client, numNodes int) (*recording.Recorder, error) {
	if cfg.Recording.Enabled {
		rec, err := recording.NewRecorder(cfg.Recording.Path, numNodes, logger)
		if err != nil {
			return nil, err
		}
		ctrl.RegisterFaultHandler(rec.HandleFault)
		ctrl.RegisterUtilHandler(rec.HandleUtil)

		return rec, nil
	}

	ctrl.RegisterFaultHandler(func(payload []uint16) {
		logger.Info().Uints16("payload", payload).Msg("fault event")
	})
	ctrl.RegisterUtilHandler(func(payload []uint16) {
		logger.Info().Uints16("payload", payload).Msg("utilization event")
	})

	return nil, nil
}

// injectTelemetry feeds synthetic fault and utilization events into the
// receive path, the way the control module would report them.
func injectTelemetry(conn *di.Loopback) {
	// Node 0 reports a fault on link 1, node 1 is clean.
	fault := di.NewEventPacket(cfg.DI.NCMAddr, cfg.DI.HostAddr, 0)
	fault.Append(0<<2|ctrlmod.SubIDFaultDetect, 0x0002)
	conn.Inject(fault)

	// Utilization of node 0 arrives as low and high counter halves.
	low := di.NewEventPacket(cfg.DI.NCMAddr, cfg.DI.HostAddr, 0)
	low.Append(0<<5|0<<4|0<<2|ctrlmod.SubIDUtilization, 0x1234, 0x5678)
	conn.Inject(low)

	high := di.NewEventPacket(cfg.DI.NCMAddr, cfg.DI.HostAddr, 0)
	high.Append(0<<5|1<<4|0<<2|ctrlmod.SubIDUtilization, 0x0001, 0x0002)
	conn.Inject(high)
}

func init() {
	demoCmd.Flags().IntVar(&demoSrc, "src", 0, "channel source node")
	demoCmd.Flags().IntVar(&demoDest, "dest", -1,
		"channel destination node (default: last node)")
	demoCmd.Flags().IntVar(&demoSlots, "slots", 1, "slots per path")
	rootCmd.AddCommand(demoCmd)
}
