package ctrlmod

import (
	"sort"

	"github.com/koenenwmn/fail-operational-noc-demonstrator/tdm"
)

// PathInfo is the explicit, serializable view of one configured path, as
// handed to the GUI adapter.
type PathInfo struct {
	ID       int   `json:"id"`
	Route    []int `json:"path"`
	PathX    []int `json:"path_x"`
	PathY    []int `json:"path_y"`
	EpSrc    int   `json:"ep_src"`
	EpDest   int   `json:"ep_dest"`
	Channel  int   `json:"chid"`
	PathSlot int   `json:"path_idx"`
}

// ChannelInfo is the explicit, serializable view of one channel.
type ChannelInfo struct {
	ID      int     `json:"id"`
	PathIDs [2]int  `json:"pids"`
	Errors  [2]bool `json:"errors"`
	SrcX    int     `json:"src_x"`
	SrcY    int     `json:"src_y"`
	DestX   int     `json:"dest_x"`
	DestY   int     `json:"dest_y"`
	EpSrc   int     `json:"ep_src"`
	EpDest  int     `json:"ep_dest"`
}

// Paths lists all configured paths, ordered by id.
func (c *Client) Paths() []PathInfo {
	infos := make([]PathInfo, 0, len(c.paths))
	for pid, p := range c.paths {
		info := PathInfo{
			ID:       pid,
			Route:    append([]int(nil), p.Route...),
			EpSrc:    p.EpSrc,
			EpDest:   p.EpDest,
			Channel:  p.Channel,
			PathSlot: p.PathSlot,
		}
		for _, n := range p.Route {
			x, y := c.dim.Coord(n)
			info.PathX = append(info.PathX, x)
			info.PathY = append(info.PathY, y)
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })

	return infos
}

// Channels lists all configured channels, ordered by id.
func (c *Client) Channels() []ChannelInfo {
	infos := make([]ChannelInfo, 0, len(c.channels))
	for chid, channel := range c.channels {
		srcX, srcY := c.dim.Coord(channel.Src)
		destX, destY := c.dim.Coord(channel.Dest)
		info := ChannelInfo{
			ID:     chid,
			SrcX:   srcX,
			SrcY:   srcY,
			DestX:  destX,
			DestY:  destY,
			EpSrc:  channel.EpSrc,
			EpDest: channel.EpDest,
		}
		for slot := 0; slot < tdm.NumPathSlots; slot++ {
			info.PathIDs[slot] = channel.PathID(slot)
			info.Errors[slot] = channel.Error(slot)
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })

	return infos
}

// Channel returns the channel entity with the given id, or nil.
func (c *Client) Channel(chid int) *tdm.Channel {
	return c.channels[chid]
}

// PathByID returns the path entity with the given id, or nil.
func (c *Client) PathByID(pid int) *tdm.Path {
	return c.paths[pid]
}

// Reservations lists the occupied slots of one mirrored slot table.
func (c *Client) Reservations(node int, ni bool, port int) []tdm.Reservation {
	if c.info == nil {
		return nil
	}

	return c.info.Reservations(node, ni, port)
}
