package addresstranslator

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/KoderuNoKo/Operating-System/mem/vm"
	"github.com/KoderuNoKo/Operating-System/mem/vm/mmu"
	"github.com/KoderuNoKo/Operating-System/mem/vm/tlb"
	"github.com/KoderuNoKo/Operating-System/memory"
)

var _ = Describe("Translator with MMU and TLB", func() {
	var (
		ram   *memory.Storage
		m     *mmu.MMU
		cache *tlb.Cache
		ctx   *ProcessContext
		t     *Translator
	)

	BeforeEach(func() {
		ram = memory.NewStorage(4 * 256)
		m = mmu.MakeBuilder().
			WithLog2PageSize(8).
			WithRAM(ram).
			WithSwap(memory.NewStorage(16 * 256)).
			Build("MMU")
		cache = tlb.MakeBuilder().WithNumLines(16).Build("TLB")
		ctx = NewProcessContext(7, cache)

		t = MakeBuilder().
			WithLog2PageSize(8).
			WithRAM(ram).
			WithMemoryManager(m).
			Build("Translator")
		t.Register(ctx)
		m.AddEvictionListener(t)
	})

	It("should cache the pages of an allocated region", func() {
		region, err := t.Allocate(ctx, 300, 0)
		Expect(err).ToNot(HaveOccurred())
		Expect(region.Start).To(Equal(uint64(0)))

		frame0 := m.ResolvePTE(7, 0).Frame()
		frame1 := m.ResolvePTE(7, 1).Frame()
		Expect(cache.Lookup(7, 0)).To(Equal(
			tlb.Result{Outcome: tlb.Resident, Frame: frame0}))
		Expect(cache.Lookup(7, 1)).To(Equal(
			tlb.Result{Outcome: tlb.Resident, Frame: frame1}))

		Expect(ram.WriteByteAt(uint64(frame0)*256+10, 99)).To(Succeed())
		data, err := t.Read(ctx, 0, 10)
		Expect(err).ToNot(HaveOccurred())
		Expect(data).To(Equal(byte(99)))
		Expect(m.NumPageIns()).To(Equal(uint64(0)))

		Expect(t.Free(ctx, 0)).To(Succeed())
		Expect(cache.Lookup(7, 0)).To(Equal(tlb.Result{Outcome: tlb.Miss}))
		Expect(cache.Lookup(7, 1)).To(Equal(tlb.Result{Outcome: tlb.Miss}))
	})

	It("should read back what it writes", func() {
		_, err := t.Allocate(ctx, 300, 0)
		Expect(err).ToNot(HaveOccurred())

		Expect(t.Write(ctx, 5, 0, 280)).To(Succeed())
		Expect(cache.Invalidate(7, 1)).To(Succeed())

		data, err := t.Read(ctx, 0, 280)

		Expect(err).ToNot(HaveOccurred())
		Expect(data).To(Equal(byte(5)))
		Expect(cache.Lookup(7, 1)).To(Equal(tlb.Result{
			Outcome: tlb.Resident,
			Frame:   m.ResolvePTE(7, 1).Frame(),
		}))
	})

	It("should mark evicted pages as not resident", func() {
		_, err := t.Allocate(ctx, 4*256, 0)
		Expect(err).ToNot(HaveOccurred())
		Expect(t.Write(ctx, 33, 0, 3)).To(Succeed())

		other := NewProcessContext(8, tlb.MakeBuilder().WithNumLines(16).Build("TLB8"))
		t.Register(other)
		_, err = t.Allocate(other, 10, 0)
		Expect(err).ToNot(HaveOccurred())

		Expect(cache.Lookup(7, 0)).To(Equal(
			tlb.Result{Outcome: tlb.MappedNotResident}))

		data, err := t.Read(ctx, 0, 3)

		Expect(err).ToNot(HaveOccurred())
		Expect(data).To(Equal(byte(33)))
		Expect(m.NumPageIns()).To(Equal(uint64(1)))
		result, _ := cache.Lookup(7, 0)
		Expect(result.Outcome).To(Equal(tlb.Resident))
	})

	It("should drop and restore cached pages of a process", func() {
		_, err := t.Allocate(ctx, 300, 0)
		Expect(err).ToNot(HaveOccurred())

		Expect(t.Flush(ctx)).To(Succeed())
		Expect(cache.Lookup(7, 1)).To(Equal(tlb.Result{Outcome: tlb.Miss}))

		Expect(t.Rebuild(ctx)).To(Succeed())
		result, _ := cache.Lookup(7, 1)
		Expect(result.Outcome).To(Equal(tlb.Resident))
	})

	Context("with a stale line", func() {
		var (
			mockCtrl *gomock.Controller
			mm       *MockMemoryManager
		)

		BeforeEach(func() {
			mockCtrl = gomock.NewController(GinkgoT())
			mm = NewMockMemoryManager(mockCtrl)
			t = MakeBuilder().
				WithLog2PageSize(8).
				WithRAM(ram).
				WithMemoryManager(mm).
				Build("Translator")
		})

		AfterEach(func() {
			mockCtrl.Finish()
		})

		It("should page in exactly once and leave the line resident", func() {
			Expect(cache.Fill(7, 0, vm.MakePresentPTE(2))).To(Succeed())
			Expect(cache.Update(7, 0, vm.MakePresentPTE(2).
				ClearFlags(vm.FlagPresent))).To(Succeed())
			Expect(cache.Lookup(7, 0)).To(Equal(
				tlb.Result{Outcome: tlb.MappedNotResident}))

			mm.EXPECT().
				GetRegion(vm.PID(7), 0).
				Return(vm.Region{Start: 0, End: 300}, nil)
			mm.EXPECT().PageIn(vm.PID(7), uint32(0)).Return(uint32(3), nil).Times(1)
			mm.EXPECT().
				ResolvePTE(vm.PID(7), uint32(0)).
				Return(vm.MakePresentPTE(3)).
				AnyTimes()
			mm.EXPECT().ReadVirtual(vm.PID(7), uint64(10)).Return(byte(12), nil)

			data, err := t.Read(ctx, 0, 10)

			Expect(err).ToNot(HaveOccurred())
			Expect(data).To(Equal(byte(12)))
			Expect(cache.Lookup(7, 0)).To(Equal(
				tlb.Result{Outcome: tlb.Resident, Frame: 3}))
		})
	})
})
