package gateway

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"

	"github.com/koenenwmn/fail-operational-noc-demonstrator/bridge"
	"github.com/koenenwmn/fail-operational-noc-demonstrator/di"
	"github.com/koenenwmn/fail-operational-noc-demonstrator/mesh"
)

const (
	testHostAddr   = 1
	testBridgeAddr = 11
)

type delivery struct {
	trafficType TrafficType
	endpoint    int
	payload     []uint32
	source      int
}

type recordingClient struct {
	deliveries []delivery
}

func (c *recordingClient) Receive(
	t TrafficType,
	endpoint int,
	payload []uint32,
	source int,
) {
	c.deliveries = append(c.deliveries, delivery{t, endpoint, payload, source})
}

func newGatewayEnv(drEnabled bool) (*Gateway, *di.ModuleSim) {
	lb := di.NewLoopback(testHostAddr, nil, zerolog.Nop())
	mod := &di.ModuleSim{
		Addr: testBridgeAddr,
		Regs: map[uint16]uint32{
			bridge.RegTile:         4,
			bridge.RegMaxDIPktLen:  8,
			bridge.RegNoCWidth:     16,
			bridge.RegNumLinks:     2,
			bridge.RegNumEPBE:      2,
			bridge.RegMaxBEPktLen:  8,
			bridge.RegNumEPTDM:     2,
			bridge.RegMaxTDMMsgLen: 16,
			bridge.RegDREnabled:    0,
		},
	}
	if drEnabled {
		mod.Regs[bridge.RegDREnabled] = 1
	}
	lb.AddModule(mod)

	br, err := bridge.NewClient(lb, testBridgeAddr, zerolog.Nop())
	Expect(err).ToNot(HaveOccurred())

	gw := New(br, mesh.Dimensions{X: 3, Y: 3}, zerolog.Nop())

	return gw, mod
}

func event(typeSub uint8, payload ...uint16) *di.Packet {
	pkt := di.NewEventPacket(testBridgeAddr, testHostAddr, typeSub)
	pkt.Append(payload...)
	return pkt
}

func beHeader(class, specific, ep, src, dest int) uint32 {
	return uint32(class)<<29 | uint32(specific)<<24 | uint32(ep)<<23 |
		uint32(src)<<10 | uint32(dest)
}

var _ = Describe("Gateway", func() {
	var (
		gw     *Gateway
		mod    *di.ModuleSim
		client *recordingClient
		cid    int
	)

	BeforeEach(func() {
		gw, mod = newGatewayEnv(true)
		client = &recordingClient{}
		cid = gw.RegisterClient(client)
	})

	Describe("TDM traffic", func() {
		BeforeEach(func() {
			Expect(gw.BindTraffic(cid, NewBind(16))).To(Succeed())
		})

		It("should deliver without a source tile", func() {
			gw.HandleEvent(event(0, 1<<15|1, 0x1111, 0x2222))

			Expect(client.deliveries).To(HaveLen(1))
			d := client.deliveries[0]
			Expect(d.trafficType).To(Equal(TDM))
			Expect(d.endpoint).To(Equal(1))
			Expect(d.payload).To(Equal([]uint32{0x1111, 0x2222}))
			Expect(d.source).To(Equal(NoSource))
		})

		It("should reassemble continuation fragments", func() {
			gw.HandleEvent(event(di.SubContinuation, 1<<15|0, 0x1111))
			Expect(client.deliveries).To(BeEmpty())

			gw.HandleEvent(event(0, 0x2222))

			Expect(client.deliveries).To(HaveLen(1))
			Expect(client.deliveries[0].payload).
				To(Equal([]uint32{0x1111, 0x2222}))
		})

		It("should drop truncated packets", func() {
			gw.HandleEvent(event(0, 1<<15|0, 0x1111))

			Expect(client.deliveries).To(BeEmpty())
		})

		It("should drop packets with an invalid payload length", func() {
			gw.HandleEvent(event(0, 1<<15|0, 0x1111, 0x2222, 0x3333))

			Expect(client.deliveries).To(BeEmpty())
		})
	})

	Describe("BE traffic with distributed routing", func() {
		deliverBE := func(header uint32, data ...uint16) {
			payload := append([]uint16{
				0, uint16(header & 0xffff), uint16(header >> 16),
			}, data...)
			gw.HandleEvent(event(0, payload...))
		}

		It("should resolve the source tile from the header", func() {
			Expect(gw.BindTraffic(cid, NewBind(16))).To(Succeed())

			deliverBE(beHeader(1, 0, 0, 3, 4), 0xaa, 0xbb)

			Expect(client.deliveries).To(HaveLen(1))
			d := client.deliveries[0]
			Expect(d.trafficType).To(Equal(BE))
			Expect(d.source).To(Equal(3))
			// The first delivered word is the NoC header.
			Expect(d.payload).To(Equal([]uint32{
				beHeader(1, 0, 0, 3, 4), 0xaa, 0xbb}))
		})

		It("should unpack to 8-bit words", func() {
			bind := NewBind(8)
			Expect(gw.BindTraffic(cid, bind)).To(Succeed())

			deliverBE(beHeader(1, 0, 0, 3, 4), 2<<8|1, 4<<8|3)

			Expect(client.deliveries).To(HaveLen(1))
			Expect(client.deliveries[0].payload).To(Equal([]uint32{
				beHeader(1, 0, 0, 3, 4), 1, 2, 3, 4}))
		})

		It("should unpack to 32-bit words", func() {
			bind := NewBind(32)
			Expect(gw.BindTraffic(cid, bind)).To(Succeed())

			deliverBE(beHeader(1, 0, 0, 3, 4), 0x5678, 0x1234)

			Expect(client.deliveries).To(HaveLen(1))
			Expect(client.deliveries[0].payload).To(Equal([]uint32{
				beHeader(1, 0, 0, 3, 4), 0x12345678}))
		})

		It("should reject unpacking mismatches", func() {
			_, err := gw.unpackPayload([]uint16{1, 2, 3}, TDM, 32)
			Expect(err).To(HaveOccurred())

			_, err = gw.unpackPayload([]uint16{1, 2}, TDM, 24)
			Expect(err).To(HaveOccurred())
		})

		Describe("filtering", func() {
			It("should match on traffic type", func() {
				bind := NewBind(16)
				bind.Type = int(TDM)
				Expect(gw.BindTraffic(cid, bind)).To(Succeed())

				deliverBE(beHeader(1, 0, 0, 3, 4), 0xaa, 0xbb)

				Expect(client.deliveries).To(BeEmpty())
			})

			It("should match on endpoint", func() {
				bind := NewBind(16)
				bind.Endpoint = 1
				Expect(gw.BindTraffic(cid, bind)).To(Succeed())

				deliverBE(beHeader(1, 0, 0, 3, 4), 0xaa, 0xbb)
				Expect(client.deliveries).To(BeEmpty())

				deliverBE(beHeader(1, 0, 1, 3, 4), 0xaa, 0xbb)
				Expect(client.deliveries).To(HaveLen(1))
			})

			It("should match on packet class", func() {
				bind := NewBind(16)
				bind.Class = 2
				Expect(gw.BindTraffic(cid, bind)).To(Succeed())

				deliverBE(beHeader(1, 0, 0, 3, 4), 0xaa, 0xbb)
				Expect(client.deliveries).To(BeEmpty())

				deliverBE(beHeader(2, 0, 0, 3, 4), 0xaa, 0xbb)
				Expect(client.deliveries).To(HaveLen(1))
			})

			It("should match on source tile", func() {
				bind := NewBind(16)
				bind.Source = 7
				Expect(gw.BindTraffic(cid, bind)).To(Succeed())

				deliverBE(beHeader(1, 0, 0, 3, 4), 0xaa, 0xbb)
				Expect(client.deliveries).To(BeEmpty())

				deliverBE(beHeader(1, 0, 0, 7, 4), 0xaa, 0xbb)
				Expect(client.deliveries).To(HaveLen(1))
			})

			It("should deliver nothing after unbinding", func() {
				Expect(gw.BindTraffic(cid, NewBind(16))).To(Succeed())
				gw.UnbindTraffic(cid)

				deliverBE(beHeader(1, 0, 0, 3, 4), 0xaa, 0xbb)

				Expect(client.deliveries).To(BeEmpty())
			})

			It("should reject binds of unregistered clients", func() {
				Expect(gw.BindTraffic(99, NewBind(16))).ToNot(Succeed())
			})

			It("should deliver to every matching client", func() {
				other := &recordingClient{}
				otherCID := gw.RegisterClient(other)
				Expect(gw.BindTraffic(cid, NewBind(16))).To(Succeed())
				Expect(gw.BindTraffic(otherCID, NewBind(8))).To(Succeed())

				deliverBE(beHeader(1, 0, 0, 3, 4), 0xaa, 0xbb)

				Expect(client.deliveries).To(HaveLen(1))
				Expect(other.deliveries).To(HaveLen(1))
				Expect(other.deliveries[0].payload).To(HaveLen(5))
			})
		})
	})

	Describe("liveness probing", func() {
		It("should probe on the first check and settle on the answer", func() {
			Expect(gw.TileReady(3, 0)).To(BeFalse())
			Expect(mod.Sent).To(HaveLen(1))

			// The remote tile answers with a control message.
			header := beHeader(bridge.CtrlMsg, 0, 0, 3, 4)
			gw.HandleEvent(event(0,
				0, uint16(header&0xffff), uint16(header>>16)))

			Expect(gw.TileReady(3, 0)).To(BeTrue())
			// No further probe is needed.
			Expect(mod.Sent).To(HaveLen(1))
		})

		It("should track endpoints independently", func() {
			header := beHeader(bridge.CtrlMsg, 0, 1, 3, 4)
			gw.HandleEvent(event(0,
				1, uint16(header&0xffff), uint16(header>>16)))

			Expect(gw.TileReady(3, 0)).To(BeFalse())
		})

		It("should reject endpoints the bridge does not have", func() {
			Expect(gw.TileReady(3, 5)).To(BeFalse())
			Expect(mod.Sent).To(BeEmpty())
		})
	})

	Describe("source routing", func() {
		BeforeEach(func() {
			gw, mod = newGatewayEnv(false)
			client = &recordingClient{}
			cid = gw.RegisterClient(client)
			Expect(gw.BindTraffic(cid, NewBind(16))).To(Succeed())
		})

		It("should walk the hop codes to find the source", func() {
			// One hop east of tile 4, dropped at the link-0 NI.
			header := uint32(1)<<29 | (1 | 4<<3)
			gw.HandleEvent(event(0,
				0, uint16(header&0xffff), uint16(header>>16), 0xaa, 0xbb))

			Expect(client.deliveries).To(HaveLen(1))
			Expect(client.deliveries[0].source).To(Equal(5))
			Expect(client.deliveries[0].endpoint).To(Equal(0))
		})

		It("should resolve the endpoint from the drop code", func() {
			header := uint32(1)<<29 | (3 | 5<<3)
			gw.HandleEvent(event(0,
				0, uint16(header&0xffff), uint16(header>>16), 0xaa, 0xbb))

			Expect(client.deliveries).To(HaveLen(1))
			Expect(client.deliveries[0].source).To(Equal(3))
			Expect(client.deliveries[0].endpoint).To(Equal(1))
		})

		It("should drop packets with invalid hop codes", func() {
			header := uint32(1)<<29 | (6 | 4<<3)
			gw.HandleEvent(event(0,
				0, uint16(header&0xffff), uint16(header>>16), 0xaa, 0xbb))

			Expect(client.deliveries).To(BeEmpty())
		})

		It("should drop packets whose route never reaches a drop code", func() {
			// All-zero hop codes walk north until they fall off the mesh.
			header := uint32(1) << 29
			gw.HandleEvent(event(0,
				0, uint16(header&0xffff), uint16(header>>16), 0xaa, 0xbb))

			Expect(client.deliveries).To(BeEmpty())

			// An east/west ping-pong stays on the mesh but exhausts all
			// eight hop codes without terminating.
			pingPong := uint32(0)
			for hop := 0; hop < 8; hop += 2 {
				pingPong |= 1<<(hop*3) | 3<<((hop+1)*3)
			}
			header = uint32(1)<<29 | pingPong
			gw.HandleEvent(event(0,
				0, uint16(header&0xffff), uint16(header>>16), 0xaa, 0xbb))

			Expect(client.deliveries).To(BeEmpty())
		})
	})
})
