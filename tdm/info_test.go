package tdm

import (
	ginkgo "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/koenenwmn/fail-operational-noc-demonstrator/mesh"
)

var _ = ginkgo.Describe("Info", func() {
	var info *Info

	ginkgo.BeforeEach(func() {
		numEP := []int{2, 2, 2, 2, 2, 2, 2, 2, 2}
		info = NewInfo(mesh.Dimensions{X: 3, Y: 3}, numEP, 4)
	})

	ginkgo.Describe("endpoint allocation", func() {
		ginkgo.It("should hand out endpoints per direction", func() {
			Expect(info.FreeEndpoint(0, true)).To(Equal(0))
			Expect(info.FreeEndpoint(0, false)).To(Equal(0))

			Expect(info.AssignEndpoints(0, 8, 0, 0, 7)).To(BeTrue())

			// The out direction of ep 0 at node 0 is taken, the in
			// direction is still free.
			Expect(info.FreeEndpoint(0, true)).To(Equal(1))
			Expect(info.FreeEndpoint(0, false)).To(Equal(0))
			Expect(info.EndpointAvailable(8, 0, false)).To(BeFalse())
		})

		ginkgo.It("should not mutate on a conflicting assignment", func() {
			info.AssignEndpoints(0, 8, 0, 0, 7)

			Expect(info.AssignEndpoints(0, 4, 0, 0, 9)).To(BeFalse())
			Expect(info.EndpointAvailable(4, 0, false)).To(BeTrue())
		})

		ginkgo.It("should run out of endpoints", func() {
			info.AssignEndpoints(0, 8, 0, 0, 7)
			info.AssignEndpoints(0, 8, 1, 1, 8)

			Expect(info.FreeEndpoint(0, true)).To(Equal(None))
		})

		ginkgo.It("should release only claims of the owning channel", func() {
			info.AssignEndpoints(0, 8, 0, 0, 7)

			info.ReleaseEndpoint(0, 0, true, 9)
			Expect(info.EndpointAvailable(0, 0, true)).To(BeFalse())

			info.ReleaseEndpoint(0, 0, true, 7)
			Expect(info.EndpointAvailable(0, 0, true)).To(BeTrue())
		})
	})

	ginkgo.Describe("slot table mirror", func() {
		ginkgo.It("should store router and NI entries separately", func() {
			info.SetTableEntry(4, false, mesh.PortEast, 2, 0, 11)
			info.SetTableEntry(4, true, 0, 2, 1, 12)

			Expect(info.TableEntry(4, false, mesh.PortEast, 2)).
				To(Equal(Entry{Config: 0, Owner: 11}))
			Expect(info.TableEntry(4, true, 0, 2)).
				To(Equal(Entry{Config: 1, Owner: 12}))
		})

		ginkgo.It("should list reservations in slot order", func() {
			info.SetTableEntry(4, false, mesh.PortEast, 3, 0, 11)
			info.SetTableEntry(4, false, mesh.PortEast, 1, 2, 9)

			Expect(info.Reservations(4, false, mesh.PortEast)).To(Equal(
				[]Reservation{{Slot: 1, PathID: 9}, {Slot: 3, PathID: 11}}))
			Expect(info.Reservations(4, true, 0)).To(BeEmpty())
		})

		ginkgo.It("should forget everything on reset", func() {
			info.AssignEndpoints(0, 8, 0, 0, 7)
			info.SetTableEntry(4, false, mesh.PortEast, 2, 0, 11)

			info.Reset()

			Expect(info.EndpointAvailable(0, 0, true)).To(BeTrue())
			Expect(info.TableEntry(4, false, mesh.PortEast, 2).Config).
				To(Equal(uint8(Empty)))
		})
	})

	ginkgo.Describe("path scheduling", func() {
		ginkgo.It("should accept a path through empty tables", func() {
			Expect(info.PathIsFree([]int{0, 1, 2}, 0, 0, 0, 0)).To(BeTrue())
		})

		ginkgo.It("should advance the slot by one per hop", func() {
			// Occupies the slot the second router would need when the
			// path starts at slot 0.
			info.SetTableEntry(1, false, mesh.PortEast, 1, 3, 11)

			Expect(info.PathIsFree([]int{0, 1, 2}, 0, 0, 0, 0)).To(BeFalse())
			Expect(info.PathIsFree([]int{0, 1, 2}, 1, 0, 0, 0)).To(BeTrue())
		})

		ginkgo.It("should check the NI ingress at the start slot", func() {
			info.SetTableEntry(0, true, 0, 2, 0, 11)

			Expect(info.PathIsFree([]int{0, 1}, 2, 0, 0, 0)).To(BeFalse())
			Expect(info.PathIsFree([]int{0, 1}, 2, 1, 0, 0)).To(BeTrue())
		})

		ginkgo.It("should check the NI egress one rotation after the last hop", func() {
			info.SetTableEntry(1, true, 2, 2, 0, 11)

			Expect(info.PathIsFree([]int{0, 1}, 0, 0, 0, 0)).To(BeFalse())
			Expect(info.PathIsFree([]int{0, 1}, 1, 0, 0, 0)).To(BeTrue())
		})

		ginkgo.It("should reject invalid parameters", func() {
			Expect(info.PathIsFree([]int{0, 2}, 0, 0, 0, 0)).To(BeFalse())
			Expect(info.PathIsFree([]int{0, 1}, 0, 2, 0, 0)).To(BeFalse())
			Expect(info.PathIsFree([]int{0, 1}, 4, 0, 0, 0)).To(BeFalse())
			Expect(info.PathIsFree([]int{0, 1}, 0, 0, 2, 0)).To(BeFalse())
			Expect(info.PathIsFree([]int{0, 1}, 0, 0, 0, 2)).To(BeFalse())
		})
	})

	ginkgo.Describe("start slot search", func() {
		ginkgo.It("should collect ascending start slots", func() {
			Expect(info.FreeStartSlots([]int{0, 1, 2}, 0, 0, 0, 2)).
				To(Equal([]int{0, 1}))
		})

		ginkgo.It("should skip occupied slots", func() {
			info.SetTableEntry(0, true, 0, 0, 0, 11)

			Expect(info.FreeStartSlots([]int{0, 1, 2}, 0, 0, 0, 2)).
				To(Equal([]int{1, 2}))
		})

		ginkgo.It("should be all-or-nothing", func() {
			for slot := 0; slot < 3; slot++ {
				info.SetTableEntry(0, true, 0, slot, 0, 11)
			}

			Expect(info.FreeStartSlots([]int{0, 1, 2}, 0, 0, 0, 2)).To(BeNil())
			Expect(info.FreeStartSlots([]int{0, 1, 2}, 0, 0, 0, 1)).
				To(Equal([]int{3}))
		})
	})
})
