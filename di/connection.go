package di

// Connection is the capability the controller clients consume from the
// debug-interconnect transport. Implementations are expected to be used
// from a single goroutine; inbound event packets are delivered through the
// receive loop owned by the embedding application, which calls the
// clients' HandleEvent methods directly.
type Connection interface {
	// Address returns the DI address assigned to the host on this
	// connection.
	Address() uint16

	// Send queues an event packet for transmission. It must not block
	// beyond enqueueing.
	Send(pkt *Packet) error

	// RegRead reads a configuration register of a debug module.
	RegRead(mod, reg uint16) (uint32, error)

	// RegWrite writes a configuration register of a debug module.
	RegWrite(mod, reg uint16, value uint32) error

	// SetEventDest routes a module's event packets to this host.
	SetEventDest(mod uint16) error

	// SetEventActive enables or disables event generation of a module.
	SetEventActive(mod uint16, active bool) error
}
