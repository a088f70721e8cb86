package di

import (
	"fmt"

	"github.com/rs/zerolog"
)

// ModuleSim is a register-level stand-in for one debug module on a
// Loopback connection. Tests and the demo command use it to answer
// register reads and to observe the event packets a client emits.
type ModuleSim struct {
	Addr uint16
	Regs map[uint16]uint32

	// OnEvent, when set, is invoked for every event packet sent to the
	// module.
	OnEvent func(pkt *Packet)

	// Sent collects every event packet addressed to the module, in order.
	Sent []*Packet

	EventDest   uint16
	EventActive bool
}

// Loopback is an in-process Connection that routes packets between the
// host and a set of simulated modules. It exists to exercise the
// controller stack without hardware; it is not a transport.
type Loopback struct {
	hostAddr uint16
	modules  map[uint16]*ModuleSim
	handler  func(pkt *Packet)
	log      zerolog.Logger
}

// NewLoopback creates a loopback connection with the given host address.
// The handler receives packets injected towards the host, emulating the
// externally owned receive loop.
func NewLoopback(
	hostAddr uint16,
	handler func(pkt *Packet),
	log zerolog.Logger,
) *Loopback {
	return &Loopback{
		hostAddr: hostAddr,
		modules:  make(map[uint16]*ModuleSim),
		handler:  handler,
		log:      log.With().Str("conn", "loopback").Logger(),
	}
}

// AddModule attaches a simulated module to the connection.
func (l *Loopback) AddModule(m *ModuleSim) {
	l.modules[m.Addr] = m
}

// Module returns the simulated module at the given address, or nil.
func (l *Loopback) Module(addr uint16) *ModuleSim {
	return l.modules[addr]
}

// Address returns the host DI address.
func (l *Loopback) Address() uint16 {
	return l.hostAddr
}

// Send delivers an event packet to the simulated module it addresses.
func (l *Loopback) Send(pkt *Packet) error {
	m, ok := l.modules[pkt.Dest]
	if !ok {
		return fmt.Errorf("di: no module at address %d", pkt.Dest)
	}

	m.Sent = append(m.Sent, pkt)
	if m.OnEvent != nil {
		m.OnEvent(pkt)
	}

	return nil
}

// Inject delivers a packet to the host-side handler, as the receive loop
// of a real transport would.
func (l *Loopback) Inject(pkt *Packet) {
	if l.handler == nil {
		l.log.Warn().Msg("no host handler registered, packet dropped")
		return
	}
	l.handler(pkt)
}

// SetHandler replaces the host-side packet handler.
func (l *Loopback) SetHandler(handler func(pkt *Packet)) {
	l.handler = handler
}

// RegRead reads a simulated module register.
func (l *Loopback) RegRead(mod, reg uint16) (uint32, error) {
	m, ok := l.modules[mod]
	if !ok {
		return 0, fmt.Errorf("di: no module at address %d", mod)
	}

	v, ok := m.Regs[reg]
	if !ok {
		return 0, fmt.Errorf("di: module %d has no register 0x%x", mod, reg)
	}

	return v, nil
}

// RegWrite writes a simulated module register.
func (l *Loopback) RegWrite(mod, reg uint16, value uint32) error {
	m, ok := l.modules[mod]
	if !ok {
		return fmt.Errorf("di: no module at address %d", mod)
	}

	if m.Regs == nil {
		m.Regs = make(map[uint16]uint32)
	}
	m.Regs[reg] = value

	return nil
}

// SetEventDest routes a module's events to the host.
func (l *Loopback) SetEventDest(mod uint16) error {
	m, ok := l.modules[mod]
	if !ok {
		return fmt.Errorf("di: no module at address %d", mod)
	}

	m.EventDest = l.hostAddr

	return nil
}

// SetEventActive toggles event generation of a module.
func (l *Loopback) SetEventActive(mod uint16, active bool) error {
	m, ok := l.modules[mod]
	if !ok {
		return fmt.Errorf("di: no module at address %d", mod)
	}

	m.EventActive = active

	return nil
}
