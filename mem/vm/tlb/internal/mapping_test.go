package internal

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("DirectMapping", func() {
	var m *DirectMapping

	BeforeEach(func() {
		m = NewDirectMapping(16)
	})

	It("should return one candidate", func() {
		Expect(m.Candidates(7, 3)).To(HaveLen(1))
		Expect(m.Candidates(7, 3)[0]).To(Equal(m.Index(7, 3)))
	})

	It("should be deterministic", func() {
		for pgnum := uint32(0); pgnum < 64; pgnum++ {
			Expect(m.Index(5, pgnum)).To(Equal(m.Index(5, pgnum)))
		}
	})

	It("should stay within the lines", func() {
		for pid := uint32(0); pid < 32; pid++ {
			for pgnum := uint32(0); pgnum < 32; pgnum++ {
				Expect(m.Index(pid, pgnum)).To(BeNumerically("<", 16))
			}
		}
	})

	It("should place consecutive pages of a process on consecutive lines", func() {
		first := m.Index(7, 0)

		Expect(m.Index(7, 1)).To(Equal((first + 1) % 16))
		Expect(m.Index(7, 16)).To(Equal(first))
	})

	It("should let the pid take part in the index", func() {
		Expect(m.Index(1, 0)).NotTo(Equal(m.Index(2, 0)))
	})

	It("should panic without lines", func() {
		Expect(func() { NewDirectMapping(0) }).To(Panic())
	})
})

var _ = Describe("SetAssociativeMapping", func() {
	var m *SetAssociativeMapping

	BeforeEach(func() {
		m = NewSetAssociativeMapping(16, 4)
	})

	It("should select the set by pid", func() {
		Expect(m.SetID(6)).To(Equal(2))
		Expect(m.Candidates(6, 100)).To(Equal([]int{8, 9, 10, 11}))
		Expect(m.Candidates(6, 0)).To(Equal([]int{8, 9, 10, 11}))
	})

	It("should ignore lines that do not fill a set", func() {
		m = NewSetAssociativeMapping(10, 4)

		Expect(m.NumLines()).To(Equal(8))
		Expect(m.Candidates(3, 0)).To(Equal([]int{4, 5, 6, 7}))
	})

	It("should panic on invalid geometry", func() {
		Expect(func() { NewSetAssociativeMapping(2, 4) }).To(Panic())
		Expect(func() { NewSetAssociativeMapping(16, 0) }).To(Panic())
	})
})
