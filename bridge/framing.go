package bridge

import (
	"fmt"

	"github.com/koenenwmn/fail-operational-noc-demonstrator/di"
)

// packetize packs a payload of width-bit values into groups of 16-bit NoC
// flits, each group bounded to maxLen NoC flits. The first flit of the
// stream is the number of logical payload bytes. Width 8 packs two bytes
// per flit, the low byte first; an odd trailing byte is stored as a lone
// low byte. Width 16 maps one value per flit. Larger multiples of 16 pad
// the byte count to a full value and emit width/16 flits per value,
// low-order words first.
func (c *Client) packetize(payload []uint32, width, maxLen int) ([][]uint16, error) {
	if width%8 != 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWidth, width)
	}

	if width == 8 || width == 16 {
		maxVal := uint32(0xff)
		if width == 16 {
			maxVal = 0xffff
		}
		for i, v := range payload {
			if v > maxVal {
				c.log.Warn().
					Int("word", i).
					Uint32("value", v).
					Uint32("max", maxVal).
					Msg("payload value out of range, clamping")
				payload[i] = maxVal
			}
		}
	}

	numBytes := len(payload) * width / 8
	maxNumWords := maxLen * (c.nocWidth / 16)
	packed := [][]uint16{{uint16(numBytes)}}

	push := func(flit uint16) {
		if len(packed[len(packed)-1]) == maxNumWords {
			packed = append(packed, nil)
		}
		packed[len(packed)-1] = append(packed[len(packed)-1], flit)
	}

	switch width {
	case 8:
		for i := 0; i < len(payload)/2; i++ {
			push(uint16(payload[i*2+1])<<8 | uint16(payload[i*2]))
		}
		if len(payload)%2 == 1 {
			push(uint16(payload[len(payload)-1]))
		}
	case 16:
		for _, v := range payload {
			push(uint16(v))
		}
	default:
		// The byte count occupies a full value: pad with a zero flit.
		packed[0] = append(packed[0], 0)
		for _, v := range payload {
			for word := 0; word < width/16; word++ {
				push(uint16(v >> (word * 16)))
			}
		}
	}

	return packed, nil
}

// SendBE sends a payload as best-effort NoC packets, split across several
// packets and DI fragments as needed. Only the first DI fragment of each
// NoC packet carries the endpoint descriptor and the NoC header; all but
// the last fragment set the continuation sub-type.
func (c *Client) SendBE(
	endpoint, dest, pktClass, specific int,
	payload []uint32,
	width int,
) error {
	if width%8 != 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWidth, width)
	}

	minDIPktLen := di.HeaderFlits + 1 + c.nocWidth/16
	if c.maxDIPktLen < minDIPktLen {
		return fmt.Errorf(
			"bridge: max DI packet length %d too small for BE header",
			c.maxDIPktLen)
	}

	ep := uint16(endpoint) & 0x7fff
	header, err := c.beHeader(pktClass, specific, int(ep), dest)
	if err != nil {
		return err
	}

	// One flit of each NoC packet is taken by the header.
	packed, err := c.packetize(payload, width, c.maxBEPktLen-1)
	if err != nil {
		return err
	}

	firstPktPayload := c.maxDIPktLen - minDIPktLen

	return c.sendFragments(packed, firstPktPayload, ep, &header)
}

// SendTDM sends a payload as TDM messages on an established circuit.
// TDM messages carry no NoC header; the endpoint descriptor marks the
// traffic type in its MSB.
func (c *Client) SendTDM(endpoint int, payload []uint32, width int) error {
	if width%8 != 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWidth, width)
	}

	ep := 1<<15 | uint16(endpoint)&0x7fff

	packed, err := c.packetize(payload, width, c.maxTDMMsgLen)
	if err != nil {
		return err
	}

	firstPktPayload := c.maxDIPktLen - di.HeaderFlits - 1

	return c.sendFragments(packed, firstPktPayload, ep, nil)
}

// ProbeTile sends a CtrlMsg-class probe to a remote BE endpoint to check
// whether it is enabled. The probe carries no payload; an enabled endpoint
// answers with a probe of its own.
func (c *Client) ProbeTile(tile, endpoint int) error {
	var header uint32
	if c.drEnabled {
		if endpoint > 1 {
			return fmt.Errorf("%w: %d", ErrInvalidEndpoint, endpoint)
		}
		header = CtrlMsg<<29 |
			(uint32(endpoint)&0x1)<<23 |
			(uint32(c.tile)&0x3ff)<<10 |
			uint32(tile)&0x3ff
	} else {
		if c.routingTable == nil {
			return ErrNoRoute
		}
		header = CtrlMsg<<29 | c.routingTable[endpoint][tile]
	}

	pkt := c.newEventPacket(0)
	pkt.Append(uint16(endpoint))
	pkt.Append(uint16(header&0xffff), uint16(header>>16))

	return c.conn.Send(pkt)
}

func (c *Client) beHeader(pktClass, specific, ep, dest int) (uint32, error) {
	if c.drEnabled {
		if ep > 1 {
			return 0, fmt.Errorf("%w: %d", ErrInvalidEndpoint, ep)
		}
		return (uint32(pktClass)&0x7)<<29 |
			(uint32(specific)&0x1f)<<24 |
			(uint32(ep)&0x1)<<23 |
			(uint32(c.tile)&0x3ff)<<10 |
			uint32(dest)&0x3ff, nil
	}

	if c.routingTable == nil {
		return 0, ErrNoRoute
	}
	// A failed table build leaves the all-zero placeholder; the terminal
	// NI drop code makes every valid header non-zero.
	header := c.routingTable[ep][dest]
	if header == 0 {
		return 0, fmt.Errorf("%w: tile %d", ErrNoRoute, dest)
	}

	return (uint32(pktClass)&0x7)<<29 |
		(uint32(specific)&0x1f)<<24 |
		header, nil
}

// sendFragments splits each NoC flit group across DI packets. The first
// fragment carries the endpoint descriptor and, if present, the NoC
// header; subsequent fragments are marked as continuations of their
// predecessor.
func (c *Client) sendFragments(
	packed [][]uint16,
	firstPktPayload int,
	ep uint16,
	header *uint32,
) error {
	contPktPayload := c.maxDIPktLen - di.HeaderFlits

	for _, nocPkt := range packed {
		numDIPkt := 1
		if len(nocPkt) > firstPktPayload {
			numDIPkt = 1 + ceilDiv(len(nocPkt)-firstPktPayload, contPktPayload)
		}

		word := 0
		for diPkt := 0; diPkt < numDIPkt; diPkt++ {
			typeSub := uint8(di.SubContinuation)
			if diPkt == numDIPkt-1 {
				typeSub = 0
			}

			pkt := c.newEventPacket(typeSub)
			if diPkt == 0 {
				pkt.Append(ep)
				if header != nil {
					pkt.Append(uint16(*header&0xffff), uint16(*header>>16))
				}
			}

			for len(pkt.Payload) < contPktPayload && word < len(nocPkt) {
				pkt.Append(nocPkt[word])
				word++
			}

			if err := c.conn.Send(pkt); err != nil {
				return fmt.Errorf("bridge: send fragment: %w", err)
			}
		}
	}

	return nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
