package ctrlmod

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/koenenwmn/fail-operational-noc-demonstrator/di"
	"github.com/koenenwmn/fail-operational-noc-demonstrator/mesh"
	"github.com/koenenwmn/fail-operational-noc-demonstrator/tdm"
)

var _ = Describe("Channel management", func() {
	var (
		client *Client
		ncm    *di.ModuleSim
	)

	BeforeEach(func() {
		client, _, ncm = newTestEnv()
		Expect(client.SetEndpointCounts(allEndpoints(2, 9))).To(Succeed())
	})

	It("should require endpoint counts before creating channels", func() {
		fresh, _, _ := newTestEnv()

		_, err := fresh.CreateChannel(0, 8, 1, true)

		Expect(err).To(MatchError(ErrInvalidRequest))
	})

	Describe("creation with automatic paths", func() {
		It("should set up two link-disjoint paths", func() {
			chid, err := client.CreateChannel(0, 8, 1, true)
			Expect(err).ToNot(HaveOccurred())
			Expect(chid).To(Equal(0))

			channel := client.Channel(chid)
			Expect(channel).ToNot(BeNil())

			primary := channel.Path(0)
			alternate := channel.Path(1)
			Expect(primary.Route).To(Equal([]int{0, 1, 2, 5, 8}))
			Expect(primary.Link).To(Equal(0))
			Expect(alternate.Route).To(Equal([]int{0, 3, 6, 7, 8}))
			Expect(alternate.Link).To(Equal(1))
			Expect(primary.IsDisjointAlternativeOf(alternate)).To(BeTrue())
		})

		It("should set the path back references", func() {
			chid, _ := client.CreateChannel(0, 8, 1, true)

			channel := client.Channel(chid)
			Expect(channel.Path(0).Channel).To(Equal(chid))
			Expect(channel.Path(0).PathSlot).To(Equal(0))
			Expect(channel.Path(1).PathSlot).To(Equal(1))
		})

		It("should claim one endpoint on each side", func() {
			client.CreateChannel(0, 8, 1, true)

			Expect(client.Info().EndpointAvailable(0, 0, true)).To(BeFalse())
			Expect(client.Info().EndpointAvailable(8, 0, false)).To(BeFalse())
			Expect(client.Info().EndpointAvailable(0, 0, false)).To(BeTrue())
		})

		It("should mirror the slot-table writes", func() {
			client.CreateChannel(0, 8, 1, true)

			// NI ingress of the primary path: node 0, link 0, slot 0.
			Expect(client.Info().TableEntry(0, true, 0, 0)).
				To(Equal(tdm.Entry{Config: 0, Owner: 0}))
			// First router hop leaves node 0 eastwards from the local
			// input port.
			Expect(client.Info().TableEntry(0, false, mesh.PortEast, 0)).
				To(Equal(tdm.Entry{Config: mesh.PortLocal, Owner: 0}))
			// Second router hop one slot later, entering from the west.
			Expect(client.Info().TableEntry(1, false, mesh.PortEast, 1)).
				To(Equal(tdm.Entry{Config: mesh.PortWest, Owner: 0}))
			// NI egress one rotation after the final hop.
			Expect(client.Info().TableEntry(8, true, 2, 5)).
				To(Equal(tdm.Entry{Config: 0, Owner: 0}))
		})

		It("should emit the slot-table commands on the wire", func() {
			before := len(ncm.Sent)

			client.CreateChannel(0, 1, 1, true)

			// Primary path 0->1: ingress, two router hops, egress, and
			// the endpoint-link enable.
			ingress := ncm.Sent[before]
			Expect(ingress.Payload).To(Equal([]uint16{
				tdmConfig, 0<<8 | 0<<4 | 0, 1<<15 | 0}))

			router := ncm.Sent[before+1]
			Expect(router.Payload).To(Equal([]uint16{
				tdmConfig,
				0<<8 | uint16(mesh.PortLocal)<<4 | uint16(mesh.PortEast),
				0}))

			enable := ncm.Sent[before+4]
			Expect(enable.Payload).To(Equal([]uint16{
				tdmConfig, 0<<8 | 1<<4 | 0, 1<<14 | 0}))
		})

		It("should report no free endpoint when a side is exhausted", func() {
			_, err := client.CreateChannel(0, 8, 1, true)
			Expect(err).ToNot(HaveOccurred())
			_, err = client.CreateChannel(0, 8, 1, true)
			Expect(err).ToNot(HaveOccurred())

			_, err = client.CreateChannel(0, 8, 1, true)

			Expect(err).To(MatchError(ErrNoFreeEndpoint))
		})

		It("should fail atomically when no slots are left", func() {
			// The first channel takes every ingress slot of link 0 at
			// node 0.
			_, err := client.CreateChannel(0, 8, 8, true)
			Expect(err).ToNot(HaveOccurred())

			_, err = client.CreateChannel(0, 8, 1, true)

			Expect(err).To(MatchError(ErrNoDisjointPaths))
			Expect(client.Info().FreeEndpoint(0, true)).To(Equal(1))
		})

		It("should reject invalid parameters", func() {
			_, err := client.CreateChannel(0, 9, 1, true)
			Expect(err).To(MatchError(ErrInvalidRequest))

			_, err = client.CreateChannel(0, 8, 0, true)
			Expect(err).To(MatchError(ErrInvalidRequest))
		})
	})

	Describe("deletion", func() {
		It("should clear the slot tables", func() {
			chid, _ := client.CreateChannel(0, 8, 1, true)

			Expect(client.DeleteChannel(chid)).To(Succeed())

			Expect(client.Info().TableEntry(0, true, 0, 0).Config).
				To(Equal(uint8(tdm.Empty)))
			Expect(client.Info().TableEntry(0, false, mesh.PortEast, 0).Owner).
				To(Equal(tdm.None))
			Expect(client.Reservations(0, true, 0)).To(BeEmpty())
		})

		It("should release the endpoint claims", func() {
			chid, _ := client.CreateChannel(0, 8, 1, true)

			Expect(client.DeleteChannel(chid)).To(Succeed())

			Expect(client.Info().EndpointAvailable(0, 0, true)).To(BeTrue())
			Expect(client.Info().EndpointAvailable(8, 0, false)).To(BeTrue())
		})

		It("should allow re-creation afterwards", func() {
			for i := 0; i < 3; i++ {
				chid, err := client.CreateChannel(0, 8, 1, true)
				Expect(err).ToNot(HaveOccurred())
				Expect(client.DeleteChannel(chid)).To(Succeed())
			}
		})

		It("should reject unknown channels", func() {
			Expect(client.DeleteChannel(42)).To(MatchError(ErrInvalidRequest))
		})
	})

	Describe("manual path management", func() {
		var chid int

		BeforeEach(func() {
			var err error
			chid, err = client.CreateChannel(0, 8, 1, false)
			Expect(err).ToNot(HaveOccurred())
			Expect(client.Channel(chid).Path(0)).To(BeNil())
		})

		It("should add a caller-chosen route", func() {
			result, err := client.AddPathToChannel(
				chid, 0, mesh.PrimaryPath(client.Dimensions(), 0, 8))

			Expect(err).ToNot(HaveOccurred())
			Expect(result).To(Equal(AddPathOk))

			path := client.Channel(chid).Path(0)
			Expect(path.Route).To(Equal([]int{0, 1, 2, 5, 8}))
			Expect(path.Channel).To(Equal(chid))
		})

		It("should reject an occupied path slot", func() {
			client.AddPathToChannel(
				chid, 0, mesh.PrimaryPath(client.Dimensions(), 0, 8))

			result, err := client.AddPathToChannel(
				chid, 0, mesh.AlternatePath(client.Dimensions(), 0, 8))

			Expect(err).ToNot(HaveOccurred())
			Expect(result).To(Equal(AddPathConfigFailed))
		})

		It("should unwind a path that overlaps the protection partner", func() {
			primary := mesh.PrimaryPath(client.Dimensions(), 0, 8)
			client.AddPathToChannel(chid, 0, primary)

			result, err := client.AddPathToChannel(chid, 1, primary)

			Expect(err).ToNot(HaveOccurred())
			Expect(result).To(Equal(AddPathOverlaps))
			Expect(client.Channel(chid).Path(1)).To(BeNil())

			// The first path's reservations survive the unwind, the
			// second attempt left nothing behind.
			Expect(client.Info().TableEntry(0, false, mesh.PortEast, 0).Owner).
				To(Equal(client.Channel(chid).PathID(0)))
			Expect(client.Info().TableEntry(0, false, mesh.PortEast, 1).Config).
				To(Equal(uint8(tdm.Empty)))
			Expect(client.Reservations(0, true, 1)).To(BeEmpty())
		})

		It("should accept a disjoint protection partner", func() {
			client.AddPathToChannel(
				chid, 0, mesh.PrimaryPath(client.Dimensions(), 0, 8))

			result, err := client.AddPathToChannel(
				chid, 1, mesh.AlternatePath(client.Dimensions(), 0, 8))

			Expect(err).ToNot(HaveOccurred())
			Expect(result).To(Equal(AddPathOk))
		})

		It("should remove a single path", func() {
			client.AddPathToChannel(
				chid, 0, mesh.PrimaryPath(client.Dimensions(), 0, 8))
			pid := client.Channel(chid).PathID(0)

			Expect(client.RemovePathFromChannel(chid, 0)).To(Succeed())

			Expect(client.Channel(chid).Path(0)).To(BeNil())
			Expect(client.PathByID(pid)).To(BeNil())
			Expect(client.Info().TableEntry(0, true, 0, 0).Config).
				To(Equal(uint8(tdm.Empty)))
		})

		It("should tolerate removing an empty path slot", func() {
			Expect(client.RemovePathFromChannel(chid, 1)).To(Succeed())
		})
	})

	Describe("state dumps", func() {
		It("should describe channels and paths in mesh coordinates", func() {
			chid, _ := client.CreateChannel(0, 8, 1, true)

			channels := client.Channels()
			Expect(channels).To(HaveLen(1))
			Expect(channels[0].ID).To(Equal(chid))
			Expect(channels[0].SrcX).To(Equal(0))
			Expect(channels[0].DestX).To(Equal(2))
			Expect(channels[0].DestY).To(Equal(2))

			paths := client.Paths()
			Expect(paths).To(HaveLen(2))
			Expect(paths[0].Route).To(Equal([]int{0, 1, 2, 5, 8}))
			Expect(paths[0].PathX).To(Equal([]int{0, 1, 2, 2, 2}))
			Expect(paths[0].PathY).To(Equal([]int{0, 0, 0, 1, 2}))
			Expect(paths[0].Channel).To(Equal(chid))
		})

		It("should list reservations of a configured path", func() {
			client.CreateChannel(0, 8, 1, true)

			reservations := client.Reservations(0, true, 0)
			Expect(reservations).To(HaveLen(1))
			Expect(reservations[0].Slot).To(Equal(0))
		})
	})
})
