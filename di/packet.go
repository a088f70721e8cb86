// Package di models the debug-interconnect side channel that connects the
// host to the on-chip network. It only describes the narrow capability the
// controller clients consume: fixed-width packets, register access, and
// event routing. The physical transport (USB, UART, TCP) is owned by the
// embedding application.
package di

import "fmt"

// PacketType is the 2-bit type field of a DI packet header.
type PacketType uint8

// DI packet types.
const (
	TypeReg PacketType = iota
	TypeRes
	TypeEvent
)

// HeaderFlits is the number of 16-bit words occupied by the DI packet
// header (destination, source, flags).
const HeaderFlits = 3

// SubContinuation marks an event packet as a non-final fragment of a
// larger NoC packet.
const SubContinuation = 1

// Packet is one debug-interconnect packet. The payload is a sequence of
// 16-bit flits; its interpretation depends on the receiving module.
type Packet struct {
	Dest    uint16
	Src     uint16
	Type    PacketType
	TypeSub uint8
	Payload []uint16
}

// NewEventPacket creates an event packet from src to dest with the given
// sub-type and no payload.
func NewEventPacket(src, dest uint16, typeSub uint8) *Packet {
	return &Packet{
		Dest:    dest,
		Src:     src,
		Type:    TypeEvent,
		TypeSub: typeSub,
	}
}

// Append adds payload flits to the packet.
func (p *Packet) Append(flits ...uint16) {
	p.Payload = append(p.Payload, flits...)
}

// Raw encodes the packet as a flat flit sequence: destination, source,
// flags, payload.
func (p *Packet) Raw() []uint16 {
	flags := uint16(p.Type)<<14 | uint16(p.TypeSub&0xf)<<10
	raw := make([]uint16, 0, HeaderFlits+len(p.Payload))
	raw = append(raw, p.Dest&0x3ff, p.Src&0x3ff, flags)
	raw = append(raw, p.Payload...)

	return raw
}

// Parse decodes a flat flit sequence into a packet.
func Parse(raw []uint16) (*Packet, error) {
	if len(raw) < HeaderFlits {
		return nil, fmt.Errorf("di: packet too short: %d flits", len(raw))
	}

	p := &Packet{
		Dest:    raw[0] & 0x3ff,
		Src:     raw[1] & 0x3ff,
		Type:    PacketType(raw[2] >> 14),
		TypeSub: uint8(raw[2] >> 10 & 0xf),
	}
	p.Payload = append(p.Payload, raw[HeaderFlits:]...)

	return p, nil
}

func (p *Packet) String() string {
	return fmt.Sprintf("di packet %d->%d type %d.%d, %d payload flits",
		p.Src, p.Dest, p.Type, p.TypeSub, len(p.Payload))
}
