// Package bridge frames application payloads into DI packets for the NoC
// bridge debug module and computes the NoC headers for best-effort
// traffic. Payloads are packed into 16-bit flits, bounded to the maximum
// NoC packet length per traffic class, and split across DI transport
// packets as needed.
package bridge

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/koenenwmn/fail-operational-noc-demonstrator/di"
	"github.com/koenenwmn/fail-operational-noc-demonstrator/mesh"
)

// NoC bridge configuration registers.
const (
	RegTile         = 0x200
	RegMaxDIPktLen  = 0x201
	RegNoCWidth     = 0x202
	RegNumLinks     = 0x203
	RegNumEPBE      = 0x204
	RegMaxBEPktLen  = 0x205
	RegNumEPTDM     = 0x206
	RegMaxTDMMsgLen = 0x207
	RegActBE        = 0x208
	RegActTDM       = 0x209
	RegDREnabled    = 0x20a
)

// CtrlMsg is the BE packet class of liveness probes between remote
// endpoints.
const CtrlMsg = 7

// Endpoint groups for Activate and Deactivate.
const (
	EndpointsAll = "ALL"
	EndpointsBE  = "BE"
	EndpointsTDM = "TDM"
)

var (
	// ErrInvalidWidth is returned when a payload width is not a multiple
	// of eight bits.
	ErrInvalidWidth = errors.New("bridge: width must be a multiple of 8")

	// ErrNoRoute is returned when no source-routed header can reach the
	// destination or the routing table has not been built.
	ErrNoRoute = errors.New("bridge: no route to destination")

	// ErrInvalidEndpoint is returned for endpoint indices the header
	// format cannot express.
	ErrInvalidEndpoint = errors.New("bridge: invalid endpoint")
)

// Client is the host-side client of the NoC bridge module.
type Client struct {
	conn di.Connection
	addr uint16
	log  zerolog.Logger

	tile         int
	maxDIPktLen  int
	nocWidth     int
	numLinks     int
	numEPBE      int
	maxBEPktLen  int
	numEPTDM     int
	maxTDMMsgLen int
	drEnabled    bool

	// routingTable[link][dest] holds precomputed source-routing headers
	// when distributed routing is unavailable.
	routingTable [][]uint32
}

// NewClient reads the bridge parameters and routes its events to the
// host. Activate must be called before traffic can flow.
func NewClient(conn di.Connection, addr uint16, log zerolog.Logger) (*Client, error) {
	c := &Client{
		conn: conn,
		addr: addr,
		log:  log.With().Str("module", "bridge").Logger(),
	}

	if err := c.readParameters(); err != nil {
		return nil, err
	}

	if err := conn.SetEventDest(addr); err != nil {
		return nil, fmt.Errorf("bridge: set event destination: %w", err)
	}

	return c, nil
}

func (c *Client) readParameters() error {
	params := []struct {
		reg  uint16
		dest *int
	}{
		{RegTile, &c.tile},
		{RegMaxDIPktLen, &c.maxDIPktLen},
		{RegNoCWidth, &c.nocWidth},
		{RegNumLinks, &c.numLinks},
		{RegNumEPBE, &c.numEPBE},
		{RegMaxBEPktLen, &c.maxBEPktLen},
		{RegNumEPTDM, &c.numEPTDM},
		{RegMaxTDMMsgLen, &c.maxTDMMsgLen},
	}
	for _, p := range params {
		v, err := c.conn.RegRead(c.addr, p.reg)
		if err != nil {
			return fmt.Errorf("bridge: read register 0x%x: %w", p.reg, err)
		}
		*p.dest = int(v)
	}

	dr, err := c.conn.RegRead(c.addr, RegDREnabled)
	if err != nil {
		return fmt.Errorf("bridge: read register 0x%x: %w", RegDREnabled, err)
	}
	c.drEnabled = dr == 1

	c.log.Info().
		Int("tile", c.tile).
		Int("max_di_pkt_len", c.maxDIPktLen).
		Int("noc_width", c.nocWidth).
		Int("num_links", c.numLinks).
		Bool("dr_enabled", c.drEnabled).
		Msg("bridge parameters")

	return nil
}

// Activate enables event generation and the selected endpoint group.
func (c *Client) Activate(endpoints string) error {
	if err := c.conn.SetEventActive(c.addr, true); err != nil {
		return err
	}
	if endpoints == EndpointsAll || endpoints == EndpointsBE {
		if err := c.ActivateBE(true); err != nil {
			return err
		}
	}
	if endpoints == EndpointsAll || endpoints == EndpointsTDM {
		if err := c.ActivateTDM(true); err != nil {
			return err
		}
	}

	return nil
}

// Deactivate disables event generation and the selected endpoint group.
func (c *Client) Deactivate(endpoints string) error {
	if err := c.conn.SetEventActive(c.addr, false); err != nil {
		return err
	}
	if endpoints == EndpointsAll || endpoints == EndpointsBE {
		if err := c.ActivateBE(false); err != nil {
			return err
		}
	}
	if endpoints == EndpointsAll || endpoints == EndpointsTDM {
		if err := c.ActivateTDM(false); err != nil {
			return err
		}
	}

	return nil
}

// ActivateBE enables or disables the best-effort endpoints.
func (c *Client) ActivateBE(activate bool) error {
	return c.conn.RegWrite(c.addr, RegActBE, boolReg(activate))
}

// ActivateTDM enables or disables the TDM endpoints.
func (c *Client) ActivateTDM(activate bool) error {
	return c.conn.RegWrite(c.addr, RegActTDM, boolReg(activate))
}

// CheckBE reads back the best-effort activation register.
func (c *Client) CheckBE() (uint32, error) {
	return c.conn.RegRead(c.addr, RegActBE)
}

// CheckTDM reads back the TDM activation register.
func (c *Client) CheckTDM() (uint32, error) {
	return c.conn.RegRead(c.addr, RegActTDM)
}

func boolReg(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// Tile returns the tile id of the bridge.
func (c *Client) Tile() int { return c.tile }

// NumLinks returns the number of local NoC links.
func (c *Client) NumLinks() int { return c.numLinks }

// NumEPBE returns the number of best-effort endpoints.
func (c *Client) NumEPBE() int { return c.numEPBE }

// NumEPTDM returns the number of TDM endpoints.
func (c *Client) NumEPTDM() int { return c.numEPTDM }

// DREnabled reports whether distributed routing is available.
func (c *Client) DREnabled() bool { return c.drEnabled }

// NoCWidth returns the NoC flit width in bits.
func (c *Client) NoCWidth() int { return c.nocWidth }

// MaxDIPktLen returns the maximum DI packet length in flits.
func (c *Client) MaxDIPktLen() int { return c.maxDIPktLen }

// BuildRoutingTable precomputes the source-routing header for every
// destination and link. Required when distributed routing is unavailable.
func (c *Client) BuildRoutingTable(dim mesh.Dimensions) {
	c.routingTable = make([][]uint32, c.numLinks)
	for link := 0; link < c.numLinks; link++ {
		c.routingTable[link] = make([]uint32, dim.Nodes())
		for dest := 0; dest < dim.Nodes(); dest++ {
			header, ok := c.SourceRouteHeader(dim, dest, link)
			if !ok {
				c.log.Warn().
					Int("dest", dest).
					Int("tile", c.tile).
					Msg("path too long for source-routed header")
				continue
			}
			c.routingTable[link][dest] = header
		}
	}
}

// SourceRouteHeader computes the turn-by-turn hop-code header to reach
// dest from the local tile with X-then-Y routing, terminated by the NI
// drop code of the link. Returns false if the hop sequence does not fit
// the header.
func (c *Client) SourceRouteHeader(dim mesh.Dimensions, dest, link int) (uint32, bool) {
	destX, destY := dim.Coord(dest)
	currX, currY := dim.Coord(c.tile)

	hop := 0
	header := uint32(0)
	for destX != currX {
		nhop := uint32(mesh.PortEast)
		if destX < currX {
			nhop = mesh.PortWest
			currX--
		} else {
			currX++
		}
		header |= (nhop & 0x7) << (hop * 3)
		hop++
	}
	for destY != currY {
		nhop := uint32(mesh.PortSouth)
		if destY < currY {
			nhop = mesh.PortNorth
			currY--
		} else {
			currY++
		}
		header |= (nhop & 0x7) << (hop * 3)
		hop++
	}
	header |= (uint32(mesh.PortLocal+link) & 0x7) << (hop * 3)

	return header, hop*3 < c.nocWidth-8
}

func (c *Client) newEventPacket(typeSub uint8) *di.Packet {
	return di.NewEventPacket(c.conn.Address(), c.addr, typeSub)
}
