package meta_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/MPAS-Dev/smiol-go/internal/backend"
	"github.com/MPAS-Dev/smiol-go/internal/backend/local"
	"github.com/MPAS-Dev/smiol-go/internal/comm"
	"github.com/MPAS-Dev/smiol-go/internal/config"
	"github.com/MPAS-Dev/smiol-go/internal/meta"
	"github.com/MPAS-Dev/smiol-go/internal/nlog"
)

// singleRankMeta builds a Meta bound to a fresh in-memory local backend,
// with both its ioTasks and group communicators being trivial one-member
// Local communicators: enough to exercise the define/data state machine
// and the catalog cache without needing a multi-rank simulation.
func singleRankMeta(state meta.State) *meta.Meta {
	be := local.New(false)
	Expect(be.Create("t.smiol")).To(Succeed())
	c := comm.NewWorld(1)[0]
	return meta.New(be, c, c, true, state, nlog.New(config.LogWarn, "[test]"))
}

var _ = Describe("Meta", func() {
	Describe("dimension catalog", func() {
		It("defines and inquires a dimension by name, caching the result", func() {
			m := singleRankMeta(meta.Define)
			id, err := m.DefineDim("nCells", 100)
			Expect(err).NotTo(HaveOccurred())

			gotID, size, err := m.InquireDim("nCells")
			Expect(err).NotTo(HaveOccurred())
			Expect(gotID).To(Equal(id))
			Expect(size).To(BeEquivalentTo(100))
		})

		It("rejects redefining the same dimension name", func() {
			m := singleRankMeta(meta.Define)
			_, err := m.DefineDim("nCells", 100)
			Expect(err).NotTo(HaveOccurred())
			_, err = m.DefineDim("nCells", 50)
			Expect(err).To(HaveOccurred())
		})

		It("resolves a dimension's size by id once it has been seen by name", func() {
			m := singleRankMeta(meta.Define)
			id, err := m.DefineDim("nVertLevels", 55)
			Expect(err).NotTo(HaveOccurred())

			size, ok := m.InquireDimByID(id)
			Expect(ok).To(BeTrue())
			Expect(size).To(BeEquivalentTo(55))
		})

		It("reports unlimited dimensions with the sentinel size", func() {
			m := singleRankMeta(meta.Define)
			_, err := m.DefineDim("Time", backend.UnlimitedSize)
			Expect(err).NotTo(HaveOccurred())

			_, size, err := m.InquireDim("Time")
			Expect(err).NotTo(HaveOccurred())
			Expect(size).To(BeEquivalentTo(backend.UnlimitedSize))
		})
	})

	Describe("variable catalog", func() {
		It("defines a variable against already-defined dimensions", func() {
			m := singleRankMeta(meta.Define)
			_, err := m.DefineDim("nCells", 10)
			Expect(err).NotTo(HaveOccurred())

			id, err := m.DefineVar("temperature", backend.Real64, []string{"nCells"})
			Expect(err).NotTo(HaveOccurred())

			gotID, vtype, dimIDs, err := m.InquireVar("temperature")
			Expect(err).NotTo(HaveOccurred())
			Expect(gotID).To(Equal(id))
			Expect(vtype).To(Equal(backend.Real64))
			Expect(dimIDs).To(HaveLen(1))
		})

		It("refuses to define a variable outside define mode", func() {
			m := singleRankMeta(meta.Data)
			_, err := m.DefineVar("temperature", backend.Real64, nil)
			Expect(err).To(HaveOccurred())
		})

		It("refuses an unknown variable type", func() {
			m := singleRankMeta(meta.Define)
			_, err := m.DefineVar("bogus", backend.Unknown, nil)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("attribute catalog", func() {
		It("round-trips a global attribute", func() {
			m := singleRankMeta(meta.Data)
			Expect(m.DefineAtt(meta.GlobalAttVar, "title", backend.Char, []byte("a test file"))).To(Succeed())

			vtype, value, err := m.InquireAtt(meta.GlobalAttVar, "title")
			Expect(err).NotTo(HaveOccurred())
			Expect(vtype).To(Equal(backend.Char))
			Expect(string(value)).To(Equal("a test file"))
		})

		It("auto-transitions to define mode for define_att", func() {
			m := singleRankMeta(meta.Data)
			Expect(m.State()).To(Equal(meta.Data))
			Expect(m.DefineAtt(meta.GlobalAttVar, "title", backend.Char, []byte("x"))).To(Succeed())
			Expect(m.State()).To(Equal(meta.Define))
		})
	})

	Describe("state transitions", func() {
		It("auto-transitions to data mode exactly once via EnsureData", func() {
			m := singleRankMeta(meta.Define)
			Expect(m.EnsureData()).To(Succeed())
			Expect(m.State()).To(Equal(meta.Data))
			Expect(m.EnsureData()).To(Succeed())
			Expect(m.State()).To(Equal(meta.Data))
		})

		It("SyncTransition always lands in data mode", func() {
			m := singleRankMeta(meta.Define)
			Expect(m.SyncTransition()).To(Succeed())
			Expect(m.State()).To(Equal(meta.Data))
		})
	})

	Describe("frame cursor", func() {
		It("defaults to zero and reflects SetFrame", func() {
			m := singleRankMeta(meta.Data)
			Expect(m.GetFrame()).To(BeZero())
			m.SetFrame(7)
			Expect(m.GetFrame()).To(BeEquivalentTo(7))
		})
	})
})
