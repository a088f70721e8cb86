package ctrlmod

import (
	"fmt"

	"github.com/koenenwmn/fail-operational-noc-demonstrator/mesh"
	"github.com/koenenwmn/fail-operational-noc-demonstrator/tdm"
)

// AddPathResult is the outcome of AddPathToChannel.
type AddPathResult int

// AddPathToChannel outcomes.
const (
	// AddPathOk means the path was configured and attached.
	AddPathOk AddPathResult = iota

	// AddPathOverlaps means the path was configured but shares a hop with
	// the channel's other path. The configuration has been unwound.
	AddPathOverlaps

	// AddPathConfigFailed means the path slot was taken or no free slot
	// set exists on the route. Nothing was mutated.
	AddPathConfigFailed
)

// CreateChannel creates a TDM channel between two nodes, claiming one free
// outbound endpoint at src and one free inbound endpoint at dest. With
// autoPaths set, two link-disjoint paths are searched and configured; the
// call fails without side effects if either search comes up short.
// Returns the id of the new channel.
func (c *Client) CreateChannel(src, dest, numSlots int, autoPaths bool) (int, error) {
	if c.info == nil {
		return tdm.None, fmt.Errorf("%w: endpoint counts not configured",
			ErrInvalidRequest)
	}
	if src >= c.dim.Nodes() || dest >= c.dim.Nodes() || numSlots < 1 {
		return tdm.None, fmt.Errorf("%w: channel %d->%d with %d slots",
			ErrInvalidRequest, src, dest, numSlots)
	}

	epSrc := c.info.FreeEndpoint(src, true)
	epDest := c.info.FreeEndpoint(dest, false)
	if epSrc == tdm.None || epDest == tdm.None {
		return tdm.None, fmt.Errorf("%w: channel %d->%d",
			ErrNoFreeEndpoint, src, dest)
	}

	var pidA, pidB int
	if autoPaths {
		pathA := mesh.PrimaryPath(c.dim, src, dest)
		pathB := mesh.AlternatePath(c.dim, src, dest)
		startSlotsA := c.info.FreeStartSlots(pathA, epSrc, epDest, 0, numSlots)
		startSlotsB := c.info.FreeStartSlots(pathB, epSrc, epDest, 1, numSlots)
		if len(startSlotsA) == 0 || len(startSlotsB) == 0 {
			return tdm.None, fmt.Errorf("%w: channel %d->%d with %d slots",
				ErrNoDisjointPaths, src, dest, numSlots)
		}

		var err error
		pidA, err = c.configurePath(pathA, startSlotsA, epSrc, epDest, 0)
		if err != nil {
			return tdm.None, err
		}
		pidB, err = c.configurePath(pathB, startSlotsB, epSrc, epDest, 1)
		if err != nil {
			return tdm.None, err
		}
	}

	chid := c.nextChannelID
	c.nextChannelID++
	channel := tdm.NewChannel(src, dest, epSrc, epDest, numSlots)
	c.channels[chid] = channel
	c.info.AssignEndpoints(src, dest, epSrc, epDest, chid)

	if autoPaths {
		slot := channel.AttachPath(c.paths[pidA], pidA)
		c.paths[pidA].AssignChannel(chid, slot)
		slot = channel.AttachPath(c.paths[pidB], pidB)
		c.paths[pidB].AssignChannel(chid, slot)
	}

	c.log.Info().
		Int("channel", chid).
		Int("src", src).
		Int("dest", dest).
		Int("num_slots", numSlots).
		Bool("auto_paths", autoPaths).
		Msg("channel created")

	return chid, nil
}

// DeleteChannel clears every path attached to the channel, releases its
// endpoint claims, and discards the channel.
func (c *Client) DeleteChannel(chid int) error {
	channel, ok := c.channels[chid]
	if !ok {
		return fmt.Errorf("%w: unknown channel %d", ErrInvalidRequest, chid)
	}

	for slot := 0; slot < tdm.NumPathSlots; slot++ {
		if pid := channel.PathID(slot); pid != tdm.None {
			if err := c.clearPath(pid); err != nil {
				return err
			}
		}
	}

	c.info.ReleaseEndpoint(channel.Src, channel.EpSrc, true, chid)
	c.info.ReleaseEndpoint(channel.Dest, channel.EpDest, false, chid)
	delete(c.channels, chid)

	c.log.Info().Int("channel", chid).Msg("channel deleted")

	return nil
}

// AddPathToChannel configures the caller-supplied route on the channel's
// given path slot. If the other path slot is occupied, the new path must
// be a valid disjoint alternative; otherwise the configuration is unwound
// and AddPathOverlaps is returned.
func (c *Client) AddPathToChannel(
	chid, pathSlot int,
	route []int,
) (AddPathResult, error) {
	channel, ok := c.channels[chid]
	if !ok {
		return AddPathConfigFailed,
			fmt.Errorf("%w: unknown channel %d", ErrInvalidRequest, chid)
	}
	if pathSlot < 0 || pathSlot >= tdm.NumPathSlots {
		return AddPathConfigFailed,
			fmt.Errorf("%w: path slot %d", ErrInvalidRequest, pathSlot)
	}

	if channel.Path(pathSlot) != nil {
		return AddPathConfigFailed, nil
	}

	startSlots := c.info.FreeStartSlots(
		route, channel.EpSrc, channel.EpDest, pathSlot, channel.NumSlots)
	if len(startSlots) == 0 {
		return AddPathConfigFailed, nil
	}

	pid, err := c.configurePath(
		route, startSlots, channel.EpSrc, channel.EpDest, pathSlot)
	if err != nil {
		return AddPathConfigFailed, err
	}

	other := channel.Path((pathSlot + 1) % tdm.NumPathSlots)
	if other != nil && !other.IsDisjointAlternativeOf(c.paths[pid]) {
		if err := c.clearPath(pid); err != nil {
			return AddPathOverlaps, err
		}
		return AddPathOverlaps, nil
	}

	slot := channel.AttachPath(c.paths[pid], pid)
	if slot == tdm.None {
		if err := c.clearPath(pid); err != nil {
			return AddPathConfigFailed, err
		}
		return AddPathConfigFailed, nil
	}
	c.paths[pid].AssignChannel(chid, slot)

	return AddPathOk, nil
}

// RemovePathFromChannel detaches and clears one path of a channel; the
// other path is left untouched.
func (c *Client) RemovePathFromChannel(chid, pathSlot int) error {
	channel, ok := c.channels[chid]
	if !ok {
		return fmt.Errorf("%w: unknown channel %d", ErrInvalidRequest, chid)
	}
	if pathSlot < 0 || pathSlot >= tdm.NumPathSlots {
		return fmt.Errorf("%w: path slot %d", ErrInvalidRequest, pathSlot)
	}

	pid := channel.DetachPath(pathSlot)
	if pid == tdm.None {
		return nil
	}

	return c.clearPath(pid)
}

// configurePath allocates a path id, writes every slot-table entry along
// the route, and enables the source NI's outbound link.
func (c *Client) configurePath(
	route, startSlots []int,
	epSrc, epDest, link int,
) (int, error) {
	pid := c.nextPathID
	c.nextPathID++
	c.paths[pid] = tdm.NewPath(route, startSlots, link, epSrc, epDest)

	if err := c.writePathTables(route, startSlots, epSrc, epDest, link, pid); err != nil {
		return tdm.None, err
	}

	if err := c.configureEPLink(route[0], epSrc, link, true); err != nil {
		return tdm.None, err
	}

	return pid, nil
}

// ConfigurePathRaw writes a path's slot-table entries with caller-chosen
// slots. No availability checking is done and existing entries are
// overwritten; the entries carry no owning path id.
func (c *Client) ConfigurePathRaw(
	route, slots []int,
	epSrc, epDest, link int,
) error {
	if err := c.writePathTables(route, slots, epSrc, epDest, link, tdm.None); err != nil {
		return err
	}

	return c.configureEPLink(route[0], epSrc, link, true)
}

func (c *Client) writePathTables(
	route, startSlots []int,
	epSrc, epDest, link, pid int,
) error {
	for _, startSlot := range startSlots {
		err := c.configureSlotTable(
			route[0], true, link, startSlot, uint8(epSrc), pid)
		if err != nil {
			return err
		}

		slot := startSlot
		inPort := mesh.PortLocal + link
		for hop := 0; hop < len(route); hop++ {
			outPort := mesh.PortLocal + link
			if hop < len(route)-1 {
				outPort = mesh.RouterOutputPort(c.dim.X, route[hop], route[hop+1])
			}
			err := c.configureSlotTable(
				route[hop], false, outPort, slot, uint8(inPort), pid)
			if err != nil {
				return err
			}
			slot = (slot + 1) % c.slotTableSize
			inPort = mesh.NextInputPort(outPort)
		}

		err = c.configureSlotTable(
			route[len(route)-1], true, link+2, slot, uint8(epDest), pid)
		if err != nil {
			return err
		}
	}

	return nil
}

// clearPath reverses a path's configuration: the source link is disabled
// and every table entry is overwritten with the empty sentinel.
func (c *Client) clearPath(pid int) error {
	path, ok := c.paths[pid]
	if !ok {
		return fmt.Errorf("%w: unknown path %d", ErrInvalidRequest, pid)
	}

	err := c.configureEPLink(path.Src(), path.EpSrc, path.Link, false)
	if err != nil {
		return err
	}

	for _, startSlot := range path.Slots {
		err := c.configureSlotTable(
			path.Src(), true, path.Link, startSlot, tdm.Empty, tdm.None)
		if err != nil {
			return err
		}

		slot := startSlot
		for hop := 0; hop < len(path.Route); hop++ {
			outPort := mesh.PortLocal + path.Link
			if hop < len(path.Route)-1 {
				outPort = mesh.RouterOutputPort(
					c.dim.X, path.Route[hop], path.Route[hop+1])
			}
			err := c.configureSlotTable(
				path.Route[hop], false, outPort, slot, tdm.Empty, tdm.None)
			if err != nil {
				return err
			}
			slot = (slot + 1) % c.slotTableSize
		}

		err = c.configureSlotTable(
			path.Dest(), true, path.Link+2, slot, tdm.Empty, tdm.None)
		if err != nil {
			return err
		}
	}

	delete(c.paths, pid)

	return nil
}

// configureSlotTable emits one slot-table write and mirrors it. The first
// payload flit packs slot, config, and port; the second selects the node,
// with the MSB picking the NI tables over the router tables.
func (c *Client) configureSlotTable(
	node int,
	ni bool,
	port, slot int,
	config uint8,
	pid int,
) error {
	pkt := c.newEventPacket(tdmConfig)
	pkt.Append(uint16(slot&0xff)<<8 | uint16(config&0xf)<<4 | uint16(port&0xf))
	msb := uint16(0)
	if ni {
		msb = 1 << 15
	}
	pkt.Append(msb | uint16(node&0x7fff))

	if err := c.conn.Send(pkt); err != nil {
		return fmt.Errorf("ctrlmod: configure slot table: %w", err)
	}

	if c.info != nil {
		c.info.SetTableEntry(node, ni, port, slot, config, pid)
	}

	return nil
}

// configureEPLink enables or disables the outbound link of a TDM endpoint.
func (c *Client) configureEPLink(node, ep, link int, enable bool) error {
	en := uint16(0)
	if enable {
		en = 1
	}

	pkt := c.newEventPacket(tdmConfig)
	pkt.Append(uint16(link&0xff)<<8 | en<<4 | uint16(ep&0xf))
	pkt.Append(1<<14 | uint16(node&0x7fff))

	if err := c.conn.Send(pkt); err != nil {
		return fmt.Errorf("ctrlmod: configure endpoint link: %w", err)
	}

	return nil
}
