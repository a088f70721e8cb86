package tdm

// NumPathSlots is the number of protected paths a channel can carry.
const NumPathSlots = 2

// Channel is a logical 1+1-protected TDM circuit between a source and a
// destination endpoint. Up to two link-disjoint paths can be attached; two
// channels in opposite directions make up a connection.
type Channel struct {
	Src      int
	Dest     int
	EpSrc    int
	EpDest   int
	NumSlots int

	paths   [NumPathSlots]*Path
	pathIDs [NumPathSlots]int
	errors  [NumPathSlots]bool
}

// NewChannel creates a channel with no paths attached.
func NewChannel(src, dest, epSrc, epDest, numSlots int) *Channel {
	c := &Channel{
		Src:      src,
		Dest:     dest,
		EpSrc:    epSrc,
		EpDest:   epDest,
		NumSlots: numSlots,
	}
	c.pathIDs = [NumPathSlots]int{None, None}

	return c
}

// validParams reports whether a path's endpoints and slot count match the
// channel.
func (c *Channel) validParams(p *Path) bool {
	return p.Src() == c.Src &&
		p.Dest() == c.Dest &&
		p.EpSrc == c.EpSrc &&
		p.EpDest == c.EpDest &&
		len(p.Slots) == c.NumSlots
}

// AttachPath assigns the path to the first free path slot and returns the
// slot index, or -1 if the parameters mismatch or both slots are taken.
func (c *Channel) AttachPath(p *Path, pid int) int {
	if !c.validParams(p) {
		return None
	}

	slot := c.FreePathSlot()
	if slot == None {
		return None
	}

	c.paths[slot] = p
	c.pathIDs[slot] = pid
	c.errors[slot] = false

	return slot
}

// DetachPath clears a path slot and returns the id of the detached path
// for external cleanup, or -1 if the slot was empty.
func (c *Channel) DetachPath(slot int) int {
	pid := c.pathIDs[slot]
	c.paths[slot] = nil
	c.pathIDs[slot] = None
	c.errors[slot] = false

	return pid
}

// FreePathSlot returns the index of the first unoccupied path slot, or -1.
func (c *Channel) FreePathSlot() int {
	for i := range c.paths {
		if c.paths[i] == nil {
			return i
		}
	}

	return None
}

// Path returns the path attached at the given slot, or nil.
func (c *Channel) Path(slot int) *Path {
	return c.paths[slot]
}

// PathID returns the id of the path attached at the given slot, or -1.
func (c *Channel) PathID(slot int) int {
	return c.pathIDs[slot]
}

// SetError flags a path slot as faulty.
func (c *Channel) SetError(slot int) {
	if slot < NumPathSlots {
		c.errors[slot] = true
	}
}

// ClearError removes the fault flag of a path slot.
func (c *Channel) ClearError(slot int) {
	if slot < NumPathSlots {
		c.errors[slot] = false
	}
}

// Error returns the fault flag of a path slot.
func (c *Channel) Error(slot int) bool {
	return c.errors[slot]
}

// IsReturnChannelOf reports whether c carries traffic in the opposite
// direction of other, using the same endpoints on both sides.
func (c *Channel) IsReturnChannelOf(other *Channel) bool {
	return c.Src == other.Dest &&
		c.Dest == other.Src &&
		c.EpSrc == other.EpDest &&
		c.EpDest == other.EpSrc
}
