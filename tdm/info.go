package tdm

import (
	"github.com/koenenwmn/fail-operational-noc-demonstrator/mesh"
)

// Empty is the sentinel configuration value of an unused slot-table entry.
const Empty = 15

// Slot-table families per node.
const (
	// NumRouterPorts is the number of output ports of a router: four mesh
	// directions plus one local NI port per link.
	NumRouterPorts = 6

	// NumNIPorts is the number of NI slot tables: ports 0 and 1 feed the
	// two outbound links, ports 2 and 3 accept the two inbound links.
	NumNIPorts = 4
)

// Entry is one slot-table entry of the host-side mirror: the configured
// value and the id of the path that owns the reservation.
type Entry struct {
	Config uint8
	Owner  int
}

// Reservation is one occupied slot of a table, as reported to the GUI
// adapter.
type Reservation struct {
	Slot   int `json:"slot"`
	PathID int `json:"path_id"`
}

// Info mirrors the endpoint allocation and the slot tables of every node.
// It is updated on every configuration command issued to the hardware and
// answers all free-slot and free-endpoint queries.
type Info struct {
	dim           mesh.Dimensions
	numEP         []int
	slotTableSize int

	// endpoints[node][ep] holds the channel ids using the endpoint in out
	// (index 0) and in (index 1) direction.
	endpoints [][][2]int

	router [][NumRouterPorts][]Entry
	ni     [][NumNIPorts][]Entry
}

// NewInfo creates an all-empty mirror. numEP holds the endpoint count of
// every node and must have one entry per node.
func NewInfo(dim mesh.Dimensions, numEP []int, slotTableSize int) *Info {
	info := &Info{
		dim:           dim,
		numEP:         numEP,
		slotTableSize: slotTableSize,
	}
	info.initialize()

	return info
}

func (t *Info) initialize() {
	nodes := t.dim.Nodes()

	t.endpoints = make([][][2]int, nodes)
	for n := 0; n < nodes; n++ {
		t.endpoints[n] = make([][2]int, t.numEP[n])
		for ep := range t.endpoints[n] {
			t.endpoints[n][ep] = [2]int{None, None}
		}
	}

	t.router = make([][NumRouterPorts][]Entry, nodes)
	t.ni = make([][NumNIPorts][]Entry, nodes)
	for n := 0; n < nodes; n++ {
		for p := 0; p < NumRouterPorts; p++ {
			t.router[n][p] = emptyTable(t.slotTableSize)
		}
		for p := 0; p < NumNIPorts; p++ {
			t.ni[n][p] = emptyTable(t.slotTableSize)
		}
	}
}

func emptyTable(size int) []Entry {
	table := make([]Entry, size)
	for s := range table {
		table[s] = Entry{Config: Empty, Owner: None}
	}

	return table
}

// Reset discards every endpoint claim and slot reservation, matching a
// hardware reset of the NoC configuration.
func (t *Info) Reset() {
	t.initialize()
}

// SlotTableSize returns the globally uniform slot table size.
func (t *Info) SlotTableSize() int {
	return t.slotTableSize
}

// NumEndpoints returns the number of TDM endpoints of a node.
func (t *Info) NumEndpoints(node int) int {
	return t.numEP[node]
}

// EndpointAvailable reports whether the endpoint is free in the requested
// direction.
func (t *Info) EndpointAvailable(node, ep int, asSource bool) bool {
	return t.endpoints[node][ep][epDir(asSource)] == None
}

// FreeEndpoint returns the first endpoint of the node that is free in the
// requested direction, or -1 if none is.
func (t *Info) FreeEndpoint(node int, asSource bool) int {
	dir := epDir(asSource)
	for ep := range t.endpoints[node] {
		if t.endpoints[node][ep][dir] == None {
			return ep
		}
	}

	return None
}

// AssignEndpoints claims the source endpoint of src in the out direction
// and the destination endpoint of dest in the in direction for a channel.
// Nothing is mutated if either endpoint is taken.
func (t *Info) AssignEndpoints(src, dest, epSrc, epDest, channel int) bool {
	if t.endpoints[src][epSrc][0] != None ||
		t.endpoints[dest][epDest][1] != None {
		return false
	}

	t.endpoints[src][epSrc][0] = channel
	t.endpoints[dest][epDest][1] = channel

	return true
}

// ReleaseEndpoint drops a single endpoint claim if it is held by the given
// channel.
func (t *Info) ReleaseEndpoint(node, ep int, asSource bool, channel int) {
	dir := epDir(asSource)
	if t.endpoints[node][ep][dir] == channel {
		t.endpoints[node][ep][dir] = None
	}
}

func epDir(asSource bool) int {
	if asSource {
		return 0
	}
	return 1
}

// SetTableEntry mirrors one slot-table write. It must be called for every
// configuration command issued to the hardware so that the mirror stays
// exact.
func (t *Info) SetTableEntry(
	node int,
	ni bool,
	port, slot int,
	config uint8,
	owner int,
) {
	if ni {
		t.ni[node][port][slot] = Entry{Config: config, Owner: owner}
		return
	}
	t.router[node][port][slot] = Entry{Config: config, Owner: owner}
}

// TableEntry returns one mirrored slot-table entry.
func (t *Info) TableEntry(node int, ni bool, port, slot int) Entry {
	if ni {
		return t.ni[node][port][slot]
	}
	return t.router[node][port][slot]
}

// PathIsFree reports whether the route can be scheduled starting at
// startSlot on the given link. The slot index advances by one per hop to
// account for the one-cycle pipeline latency of each router. The NI
// ingress table is checked at the starting slot, the NI egress table one
// rotation after the final router hop.
func (t *Info) PathIsFree(route []int, startSlot, link, epSrc, epDest int) bool {
	if !mesh.ValidatePath(t.dim.X, route) ||
		epSrc >= t.numEP[route[0]] ||
		epDest >= t.numEP[route[len(route)-1]] ||
		link > 1 ||
		startSlot >= t.slotTableSize {
		return false
	}

	if t.ni[route[0]][link][startSlot].Config != Empty {
		return false
	}

	slot := startSlot
	for hop := 0; hop < len(route); hop++ {
		outPort := mesh.PortLocal + link
		if hop < len(route)-1 {
			outPort = mesh.RouterOutputPort(t.dim.X, route[hop], route[hop+1])
		}
		if t.router[route[hop]][outPort][slot].Config != Empty {
			return false
		}
		slot = (slot + 1) % t.slotTableSize
	}

	return t.ni[route[len(route)-1]][link+2][slot].Config == Empty
}

// FreeStartSlots scans the slot index space in ascending order and
// collects up to count starting offsets at which the route is free.
// Allocation is all-or-nothing: if fewer than count offsets exist, nil is
// returned.
func (t *Info) FreeStartSlots(route []int, epSrc, epDest, link, count int) []int {
	var startSlots []int
	for slot := 0; slot < t.slotTableSize; slot++ {
		if t.PathIsFree(route, slot, link, epSrc, epDest) {
			startSlots = append(startSlots, slot)
		}
		if len(startSlots) == count {
			return startSlots
		}
	}

	return nil
}

// Reservations lists the occupied slots of one table in slot order.
func (t *Info) Reservations(node int, ni bool, port int) []Reservation {
	table := t.router[node][port][:]
	if ni {
		table = t.ni[node][port][:]
	}

	var reservations []Reservation
	for slot, entry := range table {
		if entry.Config != Empty {
			reservations = append(reservations, Reservation{
				Slot:   slot,
				PathID: entry.Owner,
			})
		}
	}

	return reservations
}
