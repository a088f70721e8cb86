// Package gateway distributes inbound NoC traffic to registered clients.
// Each client declares a traffic filter; packets are delivered, unpacked
// to the client's word width, to every client whose filter matches.
// Unmatched packets are dropped silently.
package gateway

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/koenenwmn/fail-operational-noc-demonstrator/bridge"
	"github.com/koenenwmn/fail-operational-noc-demonstrator/di"
	"github.com/koenenwmn/fail-operational-noc-demonstrator/mesh"
)

// TrafficType distinguishes the two NoC traffic classes.
type TrafficType int

// Traffic types, matching the MSB of the endpoint descriptor flit.
const (
	BE  TrafficType = 0
	TDM TrafficType = 1
)

// Wildcard matches any value in a traffic bind.
const Wildcard = -1

// NoSource is passed to Receive for traffic without a source tile (TDM).
const NoSource = -1

// Client is the contract every registered consumer implements. Source is
// NoSource for TDM traffic.
type Client interface {
	Receive(trafficType TrafficType, endpoint int, payload []uint32, source int)
}

// Bind is the traffic filter of one client. Fields set to Wildcard always
// match. Class and Source only apply to BE traffic.
type Bind struct {
	Width    int
	Type     int
	Endpoint int
	Class    int
	Source   int
}

// NewBind creates a bind with the given word width that matches all
// traffic.
func NewBind(width int) Bind {
	return Bind{
		Width:    width,
		Type:     Wildcard,
		Endpoint: Wildcard,
		Class:    Wildcard,
		Source:   Wildcard,
	}
}

func (b *Bind) matches(t TrafficType, endpoint, pktClass, source int) bool {
	if b.Type != Wildcard && b.Type != int(t) {
		return false
	}
	if b.Endpoint != Wildcard && b.Endpoint != endpoint {
		return false
	}
	if t == BE {
		if b.Class != Wildcard && b.Class != pktClass {
			return false
		}
		if b.Source != Wildcard && b.Source != source {
			return false
		}
	}

	return true
}

// Gateway multiplexes the local NoC bridge between several logical
// clients. All methods must be called from the thread that pumps the
// transport receive loop.
type Gateway struct {
	bridge *bridge.Client
	dim    mesh.Dimensions
	log    zerolog.Logger

	// remoteEnabled[endpoint][tile] tracks which remote BE endpoints have
	// answered a liveness probe.
	remoteEnabled [][]bool

	nextCID int
	clients map[int]Client
	binds   map[int]*Bind

	// Partial NoC packet assembled from continuation fragments.
	pending []uint16
}

// New creates a gateway on top of a bridge client. When distributed
// routing is unavailable, the bridge's source-routing table is built so
// that inbound headers can be resolved.
func New(b *bridge.Client, dim mesh.Dimensions, log zerolog.Logger) *Gateway {
	g := &Gateway{
		bridge:  b,
		dim:     dim,
		log:     log.With().Str("module", "gateway").Logger(),
		clients: make(map[int]Client),
		binds:   make(map[int]*Bind),
	}

	if !b.DREnabled() {
		b.BuildRoutingTable(dim)
	}

	g.remoteEnabled = make([][]bool, b.NumLinks())
	for link := range g.remoteEnabled {
		g.remoteEnabled[link] = make([]bool, dim.Nodes())
	}

	return g
}

// RegisterClient adds a client and returns its id. The client receives no
// traffic until a bind is installed.
func (g *Gateway) RegisterClient(cl Client) int {
	cid := g.nextCID
	g.nextCID++
	g.clients[cid] = cl

	return cid
}

// UnregisterClient removes a client and its bind.
func (g *Gateway) UnregisterClient(cid int) {
	delete(g.clients, cid)
	delete(g.binds, cid)
}

// BindTraffic installs the traffic filter of a registered client,
// replacing any previous bind.
func (g *Gateway) BindTraffic(cid int, bind Bind) error {
	if _, ok := g.clients[cid]; !ok {
		return fmt.Errorf("gateway: client %d is not registered", cid)
	}

	g.binds[cid] = &bind

	return nil
}

// UnbindTraffic removes a client's traffic filter; the client stays
// registered but receives nothing.
func (g *Gateway) UnbindTraffic(cid int) {
	delete(g.binds, cid)
}

// TileReady reports whether a remote BE endpoint has answered a liveness
// probe, sending a new probe if it has not. The first call for an
// endpoint always returns false.
func (g *Gateway) TileReady(tile, endpoint int) bool {
	if endpoint >= g.bridge.NumEPBE() {
		return false
	}

	if !g.remoteEnabled[endpoint][tile] {
		if err := g.bridge.ProbeTile(tile, endpoint); err != nil {
			g.log.Warn().Err(err).
				Int("tile", tile).
				Int("endpoint", endpoint).
				Msg("probe failed")
		}
	}

	return g.remoteEnabled[endpoint][tile]
}

// SendBE sends best-effort data through the local bridge.
func (g *Gateway) SendBE(
	endpoint, dest, pktClass, specific int,
	payload []uint32,
	width int,
) error {
	return g.bridge.SendBE(endpoint, dest, pktClass, specific, payload, width)
}

// SendTDM sends TDM data through the local bridge.
func (g *Gateway) SendTDM(endpoint int, payload []uint32, width int) error {
	return g.bridge.SendTDM(endpoint, payload, width)
}

// HandleEvent consumes one inbound event packet from the bridge.
// Continuation fragments are buffered until the final fragment of the NoC
// packet arrives. Malformed packets are logged and dropped; nothing
// propagates out of the receive path.
func (g *Gateway) HandleEvent(pkt *di.Packet) {
	g.pending = append(g.pending, pkt.Payload...)
	if pkt.TypeSub == di.SubContinuation {
		return
	}

	payload := g.pending
	g.pending = nil
	g.dispatch(payload)
}

func (g *Gateway) dispatch(payload []uint16) {
	if len(payload) < 3 {
		g.log.Warn().
			Int("payload_flits", len(payload)).
			Msg("invalid event packet")
		return
	}
	if (len(payload)-1)%2 != 0 {
		g.log.Warn().
			Int("payload_flits", len(payload)).
			Msg("event packet with invalid payload length")
		return
	}

	trafficType := TrafficType(payload[0] >> 15 & 0x1)
	endpoint := int(payload[0] & 0x7fff)
	nocPkt := payload[1:]

	switch trafficType {
	case BE:
		g.dispatchBE(endpoint, nocPkt)
	case TDM:
		g.dispatchTDM(endpoint, nocPkt)
	}
}

func (g *Gateway) dispatchBE(endpoint int, nocPkt []uint16) {
	header := uint32(nocPkt[1])<<16 | uint32(nocPkt[0])
	pktClass := int(header >> 29)

	source := 0
	if g.bridge.DREnabled() {
		source = int(header >> 10 & 0x3ff)
	} else {
		// Source-routed packets can use different endpoints on either
		// side; the header resolves both the origin and the endpoint.
		var err error
		source, endpoint, err = g.findSource(header & 0xffffff)
		if err != nil {
			g.log.Warn().Err(err).Msg("cannot resolve packet source")
			return
		}
	}

	if pktClass == bridge.CtrlMsg {
		if endpoint < len(g.remoteEnabled) &&
			source >= 0 && source < g.dim.Nodes() {
			g.remoteEnabled[endpoint][source] = true
		}
		return
	}

	for cid, bind := range g.binds {
		if !bind.matches(BE, endpoint, pktClass, source) {
			continue
		}
		unpacked, err := g.unpackPayload(nocPkt, BE, bind.Width)
		if err != nil {
			g.log.Warn().Err(err).Int("client", cid).Msg("unpack failed")
			continue
		}
		g.clients[cid].Receive(BE, endpoint, unpacked, source)
	}
}

func (g *Gateway) dispatchTDM(endpoint int, nocPkt []uint16) {
	for cid, bind := range g.binds {
		if !bind.matches(TDM, endpoint, 0, NoSource) {
			continue
		}
		unpacked, err := g.unpackPayload(nocPkt, TDM, bind.Width)
		if err != nil {
			g.log.Warn().Err(err).Int("client", cid).Msg("unpack failed")
			continue
		}
		g.clients[cid].Receive(TDM, endpoint, unpacked, NoSource)
	}
}

// unpackPayload restructures the received flits into the requested word
// width. For BE packets the first output word is the 32-bit NoC header.
func (g *Gateway) unpackPayload(
	payload []uint16,
	trafficType TrafficType,
	width int,
) ([]uint32, error) {
	var unpacked []uint32
	idx := 0
	if trafficType == BE {
		unpacked = append(unpacked, uint32(payload[1])<<16|uint32(payload[0]))
		idx = 2
	}

	switch width {
	case 8:
		for i := idx; i < len(payload); i++ {
			unpacked = append(unpacked,
				uint32(payload[i]&0xff), uint32(payload[i]>>8&0xff))
		}
	case 16:
		for i := idx; i < len(payload); i++ {
			unpacked = append(unpacked, uint32(payload[i]))
		}
	case 32:
		if (len(payload)-idx)%2 != 0 {
			return nil, fmt.Errorf(
				"gateway: invalid length for 32-bit receive: %d flits",
				len(payload)-idx)
		}
		for i := idx; i < len(payload); i += 2 {
			unpacked = append(unpacked,
				uint32(payload[i])|uint32(payload[i+1])<<16)
		}
	default:
		return nil, fmt.Errorf("gateway: unsupported receive width: %d", width)
	}

	return unpacked, nil
}

// findSource resolves the originating tile and endpoint of a
// source-routed packet by walking its hop codes from the local tile.
// The 24 masked header bits hold at most eight hop codes; a header that
// runs out of codes or leaves the mesh before a drop code is malformed.
func (g *Gateway) findSource(srPath uint32) (tile, endpoint int, err error) {
	tile = g.bridge.Tile()

	for hop := 0; hop < 8; hop++ {
		switch srPath & 0x7 {
		case mesh.PortNorth:
			tile -= g.dim.X
		case mesh.PortEast:
			tile++
		case mesh.PortSouth:
			tile += g.dim.X
		case mesh.PortWest:
			tile--
		case mesh.PortLocal:
			return tile, 0, nil
		case mesh.PortLocal + 1:
			return tile, 1, nil
		default:
			return 0, 0, fmt.Errorf(
				"gateway: invalid hop code %d", srPath&0x7)
		}

		if tile < 0 || tile >= g.dim.Nodes() {
			return 0, 0, fmt.Errorf(
				"gateway: source walk left the mesh after hop %d", hop)
		}
		srPath >>= 3
	}

	return 0, 0, fmt.Errorf("gateway: source route without a drop code")
}
