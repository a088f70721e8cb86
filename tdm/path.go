// Package tdm keeps the host-side model of the time-division-multiplexed
// circuits in the NoC: the channel and path entities of the 1+1 protection
// scheme and the mirror of all on-chip slot tables. The mirror is the sole
// source of truth for allocation decisions; hardware state is never read
// back.
package tdm

// None marks an unassigned id (channel, path, or endpoint owner).
const None = -1

// Path is one configured unidirectional TDM route: the node sequence, the
// reserved starting slot offsets (one per TDM round), the local link it
// uses at both NIs, and the endpoints it connects. Two link-disjoint paths
// make up a channel.
type Path struct {
	Route  []int
	Slots  []int
	Link   int
	EpSrc  int
	EpDest int

	// Channel and PathSlot are the back references set once the path is
	// attached to a channel.
	Channel  int
	PathSlot int
}

// NewPath creates an unattached path.
func NewPath(route, slots []int, link, epSrc, epDest int) *Path {
	return &Path{
		Route:    route,
		Slots:    slots,
		Link:     link,
		EpSrc:    epSrc,
		EpDest:   epDest,
		Channel:  None,
		PathSlot: None,
	}
}

// AssignChannel records the owning channel and path slot.
func (p *Path) AssignChannel(channel, pathSlot int) {
	p.Channel = channel
	p.PathSlot = pathSlot
}

// Src returns the first node of the route.
func (p *Path) Src() int {
	return p.Route[0]
}

// Dest returns the last node of the route.
func (p *Path) Dest() int {
	return p.Route[len(p.Route)-1]
}

// IsDisjointAlternativeOf reports whether other can protect the same
// channel as p: same endpoint pair and endpoints, same number of reserved
// slots, a different local link, and no shared directed hop. The node
// sequences themselves are not validated here.
func (p *Path) IsDisjointAlternativeOf(other *Path) bool {
	if len(p.Slots) != len(other.Slots) ||
		p.Link == other.Link ||
		p.EpSrc != other.EpSrc ||
		p.EpDest != other.EpDest ||
		p.Src() != other.Src() ||
		p.Dest() != other.Dest() {
		return false
	}

	for i := 0; i < len(p.Route)-1; i++ {
		for j := 0; j < len(other.Route)-1; j++ {
			if p.Route[i] == other.Route[j] &&
				p.Route[i+1] == other.Route[j+1] {
				return false
			}
		}
	}

	return true
}
