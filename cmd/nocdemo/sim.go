package main

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/koenenwmn/fail-operational-noc-demonstrator/bridge"
	"github.com/koenenwmn/fail-operational-noc-demonstrator/ctrlmod"
	"github.com/koenenwmn/fail-operational-noc-demonstrator/di"
	"github.com/koenenwmn/fail-operational-noc-demonstrator/gateway"
	"github.com/koenenwmn/fail-operational-noc-demonstrator/mesh"
)

// simEnv is the fully wired controller stack on top of a loopback
// connection with register-level module simulations.
type simEnv struct {
	conn   *di.Loopback
	ctrl   *ctrlmod.Client
	bridge *bridge.Client
	gw     *gateway.Gateway
}

// newSimEnv builds the simulated modules from the configuration and
// connects the clients to them. With echo enabled, every NoC packet the
// bridge module receives is reflected back to the host, emulating a
// remote tile that answers immediately.
func newSimEnv(cfg Config, echo bool, log zerolog.Logger) (*simEnv, error) {
	lb := di.NewLoopback(cfg.DI.HostAddr, nil, log)

	lb.AddModule(&di.ModuleSim{
		Addr: cfg.DI.NCMAddr,
		Regs: map[uint16]uint32{
			ctrlmod.RegSlotTableSize: uint32(cfg.System.SlotTableSize),
			ctrlmod.RegDimensions: uint32(cfg.System.XDim) |
				uint32(cfg.System.YDim)<<8,
			ctrlmod.RegUpdatePeriodLow:  0,
			ctrlmod.RegUpdatePeriodHigh: 0,
			ctrlmod.RegMaxPorts:         uint32(cfg.System.MaxEndpoints),
			ctrlmod.RegSimpleNCM:        boolReg(cfg.System.SimpleNCM),
		},
	})

	brSim := &di.ModuleSim{
		Addr: cfg.DI.BridgeAddr,
		Regs: map[uint16]uint32{
			bridge.RegTile:         uint32(cfg.DI.Tile),
			bridge.RegMaxDIPktLen:  uint32(cfg.DI.MaxPktLen),
			bridge.RegNoCWidth:     uint32(cfg.DI.NoCWidth),
			bridge.RegNumLinks:     uint32(cfg.DI.NumLinks),
			bridge.RegNumEPBE:      uint32(cfg.DI.BEEndpoints),
			bridge.RegMaxBEPktLen:  uint32(cfg.DI.MaxBEPktLen),
			bridge.RegNumEPTDM:     uint32(cfg.DI.TDMEndpoints),
			bridge.RegMaxTDMMsgLen: uint32(cfg.DI.MaxTDMMsgLen),
			bridge.RegDREnabled:    boolReg(cfg.DI.DistributedRouting),
		},
	}
	lb.AddModule(brSim)

	ctrl, err := ctrlmod.NewClient(lb, cfg.DI.NCMAddr, log)
	if err != nil {
		return nil, fmt.Errorf("control module: %w", err)
	}
	if err := ctrl.SetEndpointCounts(cfg.System.Endpoints); err != nil {
		return nil, err
	}

	br, err := bridge.NewClient(lb, cfg.DI.BridgeAddr, log)
	if err != nil {
		return nil, fmt.Errorf("bridge: %w", err)
	}

	dim := mesh.Dimensions{X: cfg.System.XDim, Y: cfg.System.YDim}
	gw := gateway.New(br, dim, log)

	env := &simEnv{
		conn:   lb,
		ctrl:   ctrl,
		bridge: br,
		gw:     gw,
	}

	lb.SetHandler(func(pkt *di.Packet) {
		switch pkt.Src {
		case cfg.DI.NCMAddr:
			ctrl.HandleEvent(pkt)
		case cfg.DI.BridgeAddr:
			gw.HandleEvent(pkt)
		default:
			log.Warn().
				Uint16("src", pkt.Src).
				Msg("event from unknown module")
		}
	})

	if echo {
		brSim.OnEvent = func(pkt *di.Packet) {
			back := di.NewEventPacket(cfg.DI.BridgeAddr, cfg.DI.HostAddr,
				pkt.TypeSub)
			back.Append(pkt.Payload...)
			lb.Inject(back)
		}
	}

	return env, nil
}

func (e *simEnv) dimensions() mesh.Dimensions {
	return e.ctrl.Dimensions()
}

func boolReg(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
