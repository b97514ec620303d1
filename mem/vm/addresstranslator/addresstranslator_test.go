package addresstranslator

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/KoderuNoKo/Operating-System/mem/vm"
	"github.com/KoderuNoKo/Operating-System/mem/vm/tlb"
	"github.com/KoderuNoKo/Operating-System/memory"
	"github.com/KoderuNoKo/Operating-System/sim"
)

var _ = Describe("Translator", func() {
	var (
		mockCtrl *gomock.Controller
		cache    *MockTLB
		mm       *MockMemoryManager
		ram      *memory.Storage
		ctx      *ProcessContext
		t        *Translator
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		cache = NewMockTLB(mockCtrl)
		mm = NewMockMemoryManager(mockCtrl)
		ram = memory.NewStorage(4096)
		ctx = NewProcessContext(7, cache)

		t = MakeBuilder().
			WithLog2PageSize(8).
			WithRAM(ram).
			WithMemoryManager(mm).
			Build("Translator")
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should panic without a memory manager", func() {
		Expect(func() {
			MakeBuilder().WithRAM(ram).Build("Translator")
		}).To(Panic())
	})

	Context("without a process context", func() {
		It("should reject every operation", func() {
			_, err := t.Read(nil, 0, 0)
			Expect(err).To(MatchError(vm.ErrNullContext))

			Expect(t.Write(nil, 1, 0, 0)).To(MatchError(vm.ErrNullContext))

			_, err = t.Allocate(nil, 10, 0)
			Expect(err).To(MatchError(vm.ErrNullContext))

			Expect(t.Free(nil, 0)).To(MatchError(vm.ErrNullContext))
			Expect(t.Flush(nil)).To(MatchError(vm.ErrNullContext))
			Expect(t.Rebuild(&ProcessContext{PID: 7})).To(MatchError(vm.ErrNullContext))
		})
	})

	Context("read", func() {
		BeforeEach(func() {
			mm.EXPECT().
				GetRegion(vm.PID(7), 2).
				Return(vm.Region{Start: 512, End: 812}, nil).
				AnyTimes()
		})

		It("should access RAM directly on a resident hit", func() {
			Expect(ram.WriteByteAt(3*256+10, 42)).To(Succeed())
			cache.EXPECT().
				Lookup(vm.PID(7), uint32(2)).
				Return(tlb.Result{Outcome: tlb.Resident, Frame: 3}, nil)

			data, err := t.Read(ctx, 2, 10)

			Expect(err).ToNot(HaveOccurred())
			Expect(data).To(Equal(byte(42)))
		})

		It("should fill the line and read through the memory manager on a miss",
			func() {
				pte := vm.MakePresentPTE(4)
				cache.EXPECT().
					Lookup(vm.PID(7), uint32(3)).
					Return(tlb.Result{Outcome: tlb.Miss}, nil)
				mm.EXPECT().ResolvePTE(vm.PID(7), uint32(3)).Return(pte).Times(2)
				cache.EXPECT().Fill(vm.PID(7), uint32(3), pte)
				mm.EXPECT().ReadVirtual(vm.PID(7), uint64(812-1)).Return(byte(9), nil)
				cache.EXPECT().Update(vm.PID(7), uint32(3), pte)

				data, err := t.Read(ctx, 2, 299)

				Expect(err).ToNot(HaveOccurred())
				Expect(data).To(Equal(byte(9)))
			})

		It("should page in on a stale hit", func() {
			pte := vm.MakePresentPTE(6)
			cache.EXPECT().
				Lookup(vm.PID(7), uint32(2)).
				Return(tlb.Result{Outcome: tlb.MappedNotResident}, nil)
			mm.EXPECT().PageIn(vm.PID(7), uint32(2)).Return(uint32(6), nil)
			mm.EXPECT().ResolvePTE(vm.PID(7), uint32(2)).Return(pte).AnyTimes()
			cache.EXPECT().Update(vm.PID(7), uint32(2), pte).Times(2)
			mm.EXPECT().ReadVirtual(vm.PID(7), uint64(522)).Return(byte(1), nil)

			data, err := t.Read(ctx, 2, 10)

			Expect(err).ToNot(HaveOccurred())
			Expect(data).To(Equal(byte(1)))
		})

		It("should fail without access if the page in fails", func() {
			cache.EXPECT().
				Lookup(vm.PID(7), uint32(2)).
				Return(tlb.Result{Outcome: tlb.MappedNotResident}, nil)
			mm.EXPECT().
				PageIn(vm.PID(7), uint32(2)).
				Return(uint32(0), vm.ErrPageInFailure)

			_, err := t.Read(ctx, 2, 10)

			Expect(err).To(MatchError(vm.ErrPageInFailure))
		})

		It("should reject an offset outside the region", func() {
			_, err := t.Read(ctx, 2, 300)

			Expect(err).To(MatchError(memory.ErrOutOfRange))
		})

		It("should reject an unused region", func() {
			mm.EXPECT().GetRegion(vm.PID(7), 3).Return(vm.Region{}, nil)

			_, err := t.Read(ctx, 3, 0)

			Expect(err).To(MatchError(vm.ErrInvalidRegion))
		})

		It("should report the access to hooks", func() {
			var events []AccessEvent
			t.AcceptHook(sim.HookFunc(func(hc sim.HookCtx) {
				Expect(hc.Pos).To(BeIdenticalTo(HookPosAccess))
				events = append(events, hc.Item.(AccessEvent))
			}))
			cache.EXPECT().
				Lookup(vm.PID(7), uint32(2)).
				Return(tlb.Result{Outcome: tlb.Resident, Frame: 0}, nil)

			_, err := t.Read(ctx, 2, 10)

			Expect(err).ToNot(HaveOccurred())
			Expect(events).To(ConsistOf(AccessEvent{
				Kind:       AccessRead,
				PID:        7,
				Region:     2,
				Offset:     10,
				PageNumber: 2,
				Outcome:    tlb.Resident,
			}))
		})
	})

	Context("write", func() {
		BeforeEach(func() {
			mm.EXPECT().
				GetRegion(vm.PID(7), 0).
				Return(vm.Region{Start: 0, End: 100}, nil).
				AnyTimes()
		})

		It("should write RAM directly on a resident hit", func() {
			cache.EXPECT().
				Lookup(vm.PID(7), uint32(0)).
				Return(tlb.Result{Outcome: tlb.Resident, Frame: 2}, nil)

			Expect(t.Write(ctx, 77, 0, 5)).To(Succeed())

			data, _ := ram.ReadByteAt(2*256 + 5)
			Expect(data).To(Equal(byte(77)))
		})

		It("should write through the memory manager on a miss", func() {
			pte := vm.MakePresentPTE(1)
			cache.EXPECT().
				Lookup(vm.PID(7), uint32(0)).
				Return(tlb.Result{Outcome: tlb.Miss}, nil)
			mm.EXPECT().ResolvePTE(vm.PID(7), uint32(0)).Return(pte).AnyTimes()
			cache.EXPECT().Fill(vm.PID(7), uint32(0), pte)
			mm.EXPECT().WriteVirtual(vm.PID(7), uint64(5), byte(77))
			cache.EXPECT().Update(vm.PID(7), uint32(0), pte)

			Expect(t.Write(ctx, 77, 0, 5)).To(Succeed())
		})

		It("should propagate a failing write", func() {
			failure := errors.New("write failed")
			cache.EXPECT().
				Lookup(vm.PID(7), uint32(0)).
				Return(tlb.Result{Outcome: tlb.Miss}, nil)
			mm.EXPECT().ResolvePTE(vm.PID(7), uint32(0)).Return(vm.PTE(0))
			cache.EXPECT().Fill(vm.PID(7), uint32(0), vm.PTE(0))
			mm.EXPECT().WriteVirtual(vm.PID(7), uint64(5), byte(77)).Return(failure)

			Expect(t.Write(ctx, 77, 0, 5)).To(MatchError(failure))
		})
	})

	Context("allocate", func() {
		It("should fill every spanned page", func() {
			mm.EXPECT().
				AllocateRegion(vm.PID(7), 1, uint64(300)).
				Return(vm.Region{Start: 0, End: 300}, nil)
			mm.EXPECT().ResolvePTE(vm.PID(7), uint32(0)).Return(vm.MakePresentPTE(0))
			mm.EXPECT().ResolvePTE(vm.PID(7), uint32(1)).Return(vm.MakePresentPTE(1))
			cache.EXPECT().Fill(vm.PID(7), uint32(0), vm.MakePresentPTE(0))
			cache.EXPECT().Fill(vm.PID(7), uint32(1), vm.MakePresentPTE(1))

			region, err := t.Allocate(ctx, 300, 1)

			Expect(err).ToNot(HaveOccurred())
			Expect(region).To(Equal(vm.Region{Start: 0, End: 300}))
		})

		It("should include the page holding the end of the region", func() {
			mm.EXPECT().
				AllocateRegion(vm.PID(7), 1, uint64(256)).
				Return(vm.Region{Start: 0, End: 256}, nil)
			mm.EXPECT().ResolvePTE(vm.PID(7), gomock.Any()).Return(vm.PTE(0)).Times(2)
			cache.EXPECT().Fill(vm.PID(7), uint32(0), vm.PTE(0))
			cache.EXPECT().Fill(vm.PID(7), uint32(1), vm.PTE(0))

			_, err := t.Allocate(ctx, 256, 1)

			Expect(err).ToNot(HaveOccurred())
		})

		It("should propagate allocation failures", func() {
			mm.EXPECT().
				AllocateRegion(vm.PID(7), 1, uint64(300)).
				Return(vm.Region{}, vm.ErrAllocationFailure)

			_, err := t.Allocate(ctx, 300, 1)

			Expect(err).To(MatchError(vm.ErrAllocationFailure))
		})
	})

	Context("free", func() {
		It("should invalidate every spanned page before freeing", func() {
			mm.EXPECT().
				GetRegion(vm.PID(7), 1).
				Return(vm.Region{Start: 256, End: 600}, nil)
			gomock.InOrder(
				cache.EXPECT().Invalidate(vm.PID(7), uint32(1)),
				cache.EXPECT().Invalidate(vm.PID(7), uint32(2)),
				mm.EXPECT().FreeRegion(vm.PID(7), 1),
			)

			Expect(t.Free(ctx, 1)).To(Succeed())
		})

		It("should reject an unused region", func() {
			mm.EXPECT().GetRegion(vm.PID(7), 1).Return(vm.Region{}, nil)

			Expect(t.Free(ctx, 1)).To(MatchError(vm.ErrInvalidRegion))
		})
	})

	Context("flush and rebuild", func() {
		var symbols vm.SymbolTable

		BeforeEach(func() {
			_ = symbols.Set(0, vm.Region{Start: 0, End: 10})
			_ = symbols.Set(4, vm.Region{Start: 300, End: 520})
			mm.EXPECT().SymbolTable(vm.PID(7)).Return(symbols)
		})

		It("should invalidate the pages of every used region", func() {
			cache.EXPECT().Invalidate(vm.PID(7), uint32(0))
			cache.EXPECT().Invalidate(vm.PID(7), uint32(1))
			cache.EXPECT().Invalidate(vm.PID(7), uint32(2))

			Expect(t.Flush(ctx)).To(Succeed())
		})

		It("should fill the pages of every used region", func() {
			for pgnum := uint32(0); pgnum < 3; pgnum++ {
				pte := vm.MakePresentPTE(pgnum + 10)
				mm.EXPECT().ResolvePTE(vm.PID(7), pgnum).Return(pte)
				cache.EXPECT().Fill(vm.PID(7), pgnum, pte)
			}

			Expect(t.Rebuild(ctx)).To(Succeed())
		})
	})

	Context("eviction", func() {
		It("should update the line of a registered process", func() {
			t.Register(ctx)
			cache.EXPECT().Update(vm.PID(7), uint32(4), vm.MakeSwappedPTE(0, 2))

			t.PageEvicted(7, 4, vm.MakeSwappedPTE(0, 2))
		})

		It("should ignore unknown processes", func() {
			t.Register(ctx)
			t.Detach(7)

			t.PageEvicted(7, 4, vm.MakeSwappedPTE(0, 2))
		})

		It("should panic when the line cannot be written", func() {
			t.Register(ctx)
			cache.EXPECT().
				Update(vm.PID(7), uint32(4), gomock.Any()).
				Return(memory.ErrOutOfRange)

			Expect(func() {
				t.PageEvicted(7, 4, vm.MakeSwappedPTE(0, 2))
			}).To(PanicWith(MatchError(memory.ErrOutOfRange)))
		})
	})
})
