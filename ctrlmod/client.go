// Package ctrlmod drives the NoC control module (NCM) over the debug
// interconnect. It owns the channel/path bookkeeping, emits slot-table and
// fault configuration commands, and demultiplexes the telemetry events the
// module sends back.
package ctrlmod

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/koenenwmn/fail-operational-noc-demonstrator/di"
	"github.com/koenenwmn/fail-operational-noc-demonstrator/mesh"
	"github.com/koenenwmn/fail-operational-noc-demonstrator/tdm"
)

// Control module configuration registers.
const (
	RegSlotTableSize    = 0x200
	RegDimensions       = 0x201
	RegUpdatePeriodLow  = 0x202
	RegUpdatePeriodHigh = 0x203
	RegMaxPorts         = 0x204
	RegSimpleNCM        = 0x205
)

// Telemetry sub-ids, the low two bits of the first payload flit of an
// inbound event.
const (
	SubIDFaultDetect = 0
	SubIDUtilization = 1
)

// Configuration sub-modules, the first payload flit of an outbound event.
const (
	faultConfig = 0
	tdmConfig   = 1
	clkConfig   = 2
)

// Allocation failures, always side-effect-free.
var (
	// ErrNoFreeEndpoint is returned when the source or destination node
	// has no endpoint left in the required direction.
	ErrNoFreeEndpoint = errors.New("ctrlmod: no free endpoint")

	// ErrNoDisjointPaths is returned when no slot set is available on the
	// primary or the alternate route.
	ErrNoDisjointPaths = errors.New("ctrlmod: no disjoint paths available")

	// ErrInvalidRequest is returned for malformed or inconsistent
	// requests. No partial mutation is performed.
	ErrInvalidRequest = errors.New("ctrlmod: invalid request")
)

// TelemetryHandler consumes the raw payload flits of one telemetry event.
type TelemetryHandler func(payload []uint16)

// Client is the host-side client of the NoC control module. All methods
// must be called from the thread that pumps the transport receive loop;
// the client holds no locks.
type Client struct {
	conn di.Connection
	addr uint16
	log  zerolog.Logger

	slotTableSize int
	dim           mesh.Dimensions
	maxNumEP      int
	simpleNCM     bool

	numEP       []int
	info        *tdm.Info
	faultVector []uint8

	nextPathID    int
	nextChannelID int
	channels      map[int]*tdm.Channel
	paths         map[int]*tdm.Path

	faultHandler TelemetryHandler
	utilHandler  TelemetryHandler
}

// NewClient reads the module parameters, routes its events to the host,
// and returns a client ready for endpoint configuration. SetEndpointCounts
// must be called before any channel can be created.
func NewClient(conn di.Connection, addr uint16, log zerolog.Logger) (*Client, error) {
	c := &Client{
		conn: conn,
		addr: addr,
		log:  log.With().Str("module", "ctrlmod").Logger(),
	}

	if err := c.readParameters(); err != nil {
		return nil, err
	}
	c.resetState()

	if err := conn.SetEventDest(addr); err != nil {
		return nil, fmt.Errorf("ctrlmod: set event destination: %w", err)
	}

	return c, nil
}

func (c *Client) readParameters() error {
	size, err := c.conn.RegRead(c.addr, RegSlotTableSize)
	if err != nil {
		return fmt.Errorf("ctrlmod: read slot table size: %w", err)
	}
	c.slotTableSize = int(size)

	dims, err := c.conn.RegRead(c.addr, RegDimensions)
	if err != nil {
		return fmt.Errorf("ctrlmod: read dimensions: %w", err)
	}
	c.dim = mesh.Dimensions{
		X: int(dims & 0xff),
		Y: int(dims >> 8 & 0xff),
	}

	maxPorts, err := c.conn.RegRead(c.addr, RegMaxPorts)
	if err != nil {
		return fmt.Errorf("ctrlmod: read max ports: %w", err)
	}
	c.maxNumEP = int(maxPorts)

	simple, err := c.conn.RegRead(c.addr, RegSimpleNCM)
	if err != nil {
		return fmt.Errorf("ctrlmod: read simple NCM flag: %w", err)
	}
	c.simpleNCM = simple != 0

	c.log.Info().
		Int("slot_table_size", c.slotTableSize).
		Int("x_dim", c.dim.X).
		Int("y_dim", c.dim.Y).
		Int("max_num_ep", c.maxNumEP).
		Bool("simple_ncm", c.simpleNCM).
		Msg("control module parameters")

	return nil
}

func (c *Client) resetState() {
	c.faultVector = make([]uint8, c.dim.Nodes())
	c.nextPathID = 0
	c.nextChannelID = 0
	c.channels = make(map[int]*tdm.Channel)
	c.paths = make(map[int]*tdm.Path)
	if c.info != nil {
		c.info.Reset()
	}
}

// SetEndpointCounts configures the per-node TDM endpoint counts. The
// module only exposes the system-wide maximum; the actual count of each
// node must be supplied before the NoC can be configured.
func (c *Client) SetEndpointCounts(numEP []int) error {
	if len(numEP) != c.dim.Nodes() {
		return fmt.Errorf("%w: %d endpoint counts for %d nodes",
			ErrInvalidRequest, len(numEP), c.dim.Nodes())
	}
	for n, num := range numEP {
		if num > c.maxNumEP {
			return fmt.Errorf("%w: node %d has %d endpoints, max is %d",
				ErrInvalidRequest, n, num, c.maxNumEP)
		}
	}

	c.numEP = numEP
	c.info = tdm.NewInfo(c.dim, numEP, c.slotTableSize)

	return nil
}

// Reset discards all host-side allocation state and clears the fault
// configuration of every node.
func (c *Client) Reset() error {
	c.resetState()

	for node := 0; node < c.dim.Nodes(); node++ {
		pkt := c.newEventPacket(faultConfig)
		pkt.Append(uint16(node) << 8)
		if err := c.conn.Send(pkt); err != nil {
			return fmt.Errorf("ctrlmod: reset faults of node %d: %w", node, err)
		}
	}

	return nil
}

// Dimensions returns the mesh dimensions read from the module.
func (c *Client) Dimensions() mesh.Dimensions {
	return c.dim
}

// SlotTableSize returns the globally uniform slot table size.
func (c *Client) SlotTableSize() int {
	return c.slotTableSize
}

// MaxEndpoints returns the system-wide maximum endpoint count per node.
func (c *Client) MaxEndpoints() int {
	return c.maxNumEP
}

// SimpleNCM reports whether the module is the reduced NCM variant.
func (c *Client) SimpleNCM() bool {
	return c.simpleNCM
}

// Info exposes the slot-table mirror for read-only queries.
func (c *Client) Info() *tdm.Info {
	return c.info
}

// FaultVector returns a copy of the per-node fault bitmasks.
func (c *Client) FaultVector() []uint8 {
	vector := make([]uint8, len(c.faultVector))
	copy(vector, c.faultVector)

	return vector
}

// ActivateMonitoring configures the utilization reporting interval and
// enables event generation.
func (c *Client) ActivateMonitoring(maxClkCnt uint32) error {
	if err := c.configureUtilClkCnt(maxClkCnt); err != nil {
		return err
	}

	return c.conn.SetEventActive(c.addr, true)
}

// DeactivateMonitoring stops utilization reporting and disables event
// generation.
func (c *Client) DeactivateMonitoring() error {
	if err := c.configureUtilClkCnt(0); err != nil {
		return err
	}

	if err := c.conn.SetEventActive(c.addr, false); err != nil {
		// The module may already be inactive; not fatal.
		c.log.Warn().Err(err).Msg("could not deactivate events")
	}

	return nil
}

func (c *Client) configureUtilClkCnt(maxClkCnt uint32) error {
	pkt := c.newEventPacket(clkConfig)
	pkt.Append(uint16(maxClkCnt&0xffff), uint16(maxClkCnt>>16))

	return c.conn.Send(pkt)
}

// ConfigureFault sets or clears one bit of a node's fault bitmask and
// pushes the mask to the hardware. The host-side mask is authoritative.
func (c *Client) ConfigureFault(node, link int, set bool) error {
	if node >= c.dim.Nodes() || link > 7 {
		return fmt.Errorf("%w: fault config node %d link %d",
			ErrInvalidRequest, node, link)
	}

	if set {
		c.faultVector[node] |= 1 << link
	} else {
		c.faultVector[node] &^= 1 << link
	}

	pkt := c.newEventPacket(faultConfig)
	pkt.Append(uint16(node)<<8 | uint16(c.faultVector[node]))

	return c.conn.Send(pkt)
}

// RegisterFaultHandler installs the fault-detection telemetry handler.
// Only one consumer can be registered at a time.
func (c *Client) RegisterFaultHandler(h TelemetryHandler) bool {
	if c.faultHandler != nil {
		return false
	}
	c.faultHandler = h

	return true
}

// UnregisterFaultHandler removes the fault-detection telemetry handler.
func (c *Client) UnregisterFaultHandler() {
	c.faultHandler = nil
}

// RegisterUtilHandler installs the utilization telemetry handler. Only one
// consumer can be registered at a time.
func (c *Client) RegisterUtilHandler(h TelemetryHandler) bool {
	if c.utilHandler != nil {
		return false
	}
	c.utilHandler = h

	return true
}

// UnregisterUtilHandler removes the utilization telemetry handler.
func (c *Client) UnregisterUtilHandler() {
	c.utilHandler = nil
}

// HandleEvent demultiplexes one inbound event packet to the registered
// telemetry handler. Malformed packets are logged and dropped.
func (c *Client) HandleEvent(pkt *di.Packet) {
	if len(pkt.Payload) < 2 {
		c.log.Warn().
			Int("payload_flits", len(pkt.Payload)).
			Msg("invalid event packet")
		return
	}

	if pkt.Src != c.addr {
		c.log.Warn().
			Uint16("src", pkt.Src).
			Uint16("expected", c.addr).
			Msg("event packet from unexpected source")
		return
	}

	payload := make([]uint16, len(pkt.Payload))
	copy(payload, pkt.Payload)

	switch pkt.Payload[0] & 0b11 {
	case SubIDFaultDetect:
		if c.faultHandler != nil {
			c.faultHandler(payload)
		}
	case SubIDUtilization:
		if c.utilHandler != nil {
			c.utilHandler(payload)
		}
	default:
		c.log.Warn().
			Uint16("sub_id", pkt.Payload[0]&0b11).
			Msg("invalid telemetry sub-id")
	}
}

func (c *Client) newEventPacket(subMod uint16) *di.Packet {
	pkt := di.NewEventPacket(c.conn.Address(), c.addr, 0)
	pkt.Append(subMod)

	return pkt
}
