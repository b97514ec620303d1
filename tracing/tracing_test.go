package tracing

import (
	"bytes"
	"context"
	"io"
	"log"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/KoderuNoKo/Operating-System/cpu"
	"github.com/KoderuNoKo/Operating-System/datarecording"
	"github.com/KoderuNoKo/Operating-System/mem/vm"
	"github.com/KoderuNoKo/Operating-System/mem/vm/addresstranslator"
	"github.com/KoderuNoKo/Operating-System/mem/vm/mmu"
	"github.com/KoderuNoKo/Operating-System/mem/vm/tlb"
	"github.com/KoderuNoKo/Operating-System/memory"
	"github.com/KoderuNoKo/Operating-System/sim"
)

type namedDomain struct {
	*sim.HookableBase
}

func (namedDomain) Name() string {
	return "Translator"
}

func accessCtx(e addresstranslator.AccessEvent) sim.HookCtx {
	return sim.HookCtx{
		Domain: namedDomain{sim.NewHookableBase()},
		Pos:    addresstranslator.HookPosAccess,
		Item:   e,
	}
}

type pageTableStub struct{}

func (pageTableStub) PrintPageTable(w io.Writer, pid vm.PID) error {
	_, err := io.WriteString(w, "00000000: 80000001\n")
	return err
}

var _ = Describe("LogTracer", func() {
	var (
		buf    *bytes.Buffer
		tracer *LogTracer
	)

	BeforeEach(func() {
		buf = new(bytes.Buffer)
		tracer = NewLogTracer(log.New(buf, "", 0))
	})

	It("should report a resident hit on read", func() {
		tracer.Func(accessCtx(addresstranslator.AccessEvent{
			Kind:    addresstranslator.AccessRead,
			Region:  1,
			Offset:  20,
			Outcome: tlb.Resident,
		}))

		Expect(buf.String()).To(Equal("TLB hit at read region=1 offset=20\n"))
	})

	It("should report a stale hit on write as a miss", func() {
		tracer.Func(accessCtx(addresstranslator.AccessEvent{
			Kind:    addresstranslator.AccessWrite,
			Region:  0,
			Offset:  3,
			Value:   100,
			Outcome: tlb.MappedNotResident,
		}))

		Expect(buf.String()).To(Equal(
			"TLB miss at write region=0 offset=3 value=100\n"))
	})

	It("should print the page table and dump memory", func() {
		ram := memory.NewStorage(16)
		Expect(ram.WriteByteAt(2, 7)).To(Succeed())
		tracer.WithPageTable(pageTableStub{}).WithMemoryDump(ram)

		tracer.Func(accessCtx(addresstranslator.AccessEvent{
			Outcome: tlb.Miss,
		}))

		Expect(buf.String()).To(Equal(
			"TLB miss at read region=0 offset=0\n" +
				"00000000: 80000001\n" +
				"BYTE 00000002: 7\n"))
	})

	It("should ignore other events", func() {
		tracer.Func(sim.HookCtx{Pos: mmu.HookPosEvict, Item: mmu.PageEvent{}})

		Expect(buf.Len()).To(BeZero())
	})
})

var _ = Describe("StatsTracer", func() {
	It("should count events by kind", func() {
		tracer := NewStatsTracer()

		for _, o := range []tlb.Outcome{tlb.Resident, tlb.Resident, tlb.Miss} {
			tracer.Func(accessCtx(addresstranslator.AccessEvent{
				Kind: addresstranslator.AccessRead, Outcome: o}))
		}
		tracer.Func(accessCtx(addresstranslator.AccessEvent{
			Kind:    addresstranslator.AccessWrite,
			Outcome: tlb.MappedNotResident,
		}))
		tracer.Func(sim.HookCtx{Pos: addresstranslator.HookPosAllocate})
		tracer.Func(sim.HookCtx{Pos: addresstranslator.HookPosFree})
		tracer.Func(sim.HookCtx{Pos: mmu.HookPosPageIn})
		tracer.Func(sim.HookCtx{Pos: mmu.HookPosEvict})
		tracer.Func(sim.HookCtx{Pos: cpu.HookPosExecute})

		stats := tracer.Stats()

		Expect(stats).To(Equal(Stats{
			Reads:        3,
			Writes:       1,
			Hits:         2,
			StaleHits:    1,
			Misses:       1,
			Allocations:  1,
			Frees:        1,
			PageIns:      1,
			Evictions:    1,
			Instructions: 1,
		}))
		Expect(stats.HitRate()).To(BeNumerically("~", 0.5))
	})

	It("should report a zero hit rate without accesses", func() {
		Expect(Stats{}.HitRate()).To(BeZero())
	})
})

var _ = Describe("DBTracer", func() {
	var (
		mockCtrl *gomock.Controller
		backend  *MockDataRecorder
		tracer   *DBTracer
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		backend = NewMockDataRecorder(mockCtrl)
		backend.EXPECT().CreateTable(AccessTable, AccessEntry{})
		backend.EXPECT().CreateTable(RegionTable, RegionEntry{})
		backend.EXPECT().CreateTable(PageTable, PageEntry{})
		tracer = NewDBTracer(backend)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should record accesses", func() {
		backend.EXPECT().
			InsertData(AccessTable, gomock.Any()).
			Do(func(_ string, entry any) {
				e := entry.(AccessEntry)
				Expect(e.Seq).To(Equal(int64(1)))
				Expect(e.ID).ToNot(BeEmpty())
				Expect(e.Location).To(Equal("Translator"))
				Expect(e.PID).To(Equal(uint32(7)))
				Expect(e.Kind).To(Equal("write"))
				Expect(e.Offset).To(Equal(int64(10)))
				Expect(e.PageNumber).To(Equal(uint32(1)))
				Expect(e.Outcome).To(Equal("miss"))
				Expect(e.Value).To(Equal(uint8(5)))
			})

		tracer.Func(accessCtx(addresstranslator.AccessEvent{
			Kind:       addresstranslator.AccessWrite,
			PID:        7,
			Offset:     10,
			PageNumber: 1,
			Outcome:    tlb.Miss,
			Value:      5,
		}))
	})

	It("should record regions and page movements", func() {
		gomock.InOrder(
			backend.EXPECT().
				InsertData(RegionTable, gomock.Any()).
				Do(func(_ string, entry any) {
					e := entry.(RegionEntry)
					Expect(e.Kind).To(Equal("Allocate"))
					Expect(e.End).To(Equal(int64(300)))
				}),
			backend.EXPECT().
				InsertData(PageTable, gomock.Any()).
				Do(func(_ string, entry any) {
					e := entry.(PageEntry)
					Expect(e.Seq).To(Equal(int64(2)))
					Expect(e.Kind).To(Equal("Evict"))
					Expect(e.SwapOffset).To(Equal(uint32(3)))
				}),
		)

		tracer.Func(sim.HookCtx{
			Pos: addresstranslator.HookPosAllocate,
			Item: addresstranslator.RegionEvent{
				PID:    7,
				Region: vm.Region{Start: 0, End: 300},
			},
		})
		tracer.Func(sim.HookCtx{
			Pos:  mmu.HookPosEvict,
			Item: mmu.PageEvent{PID: 7, SwapOffset: 3},
		})
	})
})

var _ = Describe("DBTracer with a database", func() {
	It("should write rows that read back", func() {
		path := filepath.Join(GinkgoT().TempDir(), "trace")
		recorder := datarecording.New(path)
		tracer := NewDBTracer(recorder)

		tracer.Func(accessCtx(addresstranslator.AccessEvent{
			Kind:       addresstranslator.AccessRead,
			PID:        2,
			Offset:     300,
			PageNumber: 1,
			Outcome:    tlb.Resident,
			Value:      9,
		}))
		tracer.Func(sim.HookCtx{
			Pos: addresstranslator.HookPosAllocate,
			Item: addresstranslator.RegionEvent{
				PID:    2,
				Index:  1,
				Region: vm.Region{Start: 256, End: 512},
			},
		})
		Expect(recorder.Close()).To(Succeed())

		reader, err := datarecording.NewReader(path + ".sqlite3")
		Expect(err).NotTo(HaveOccurred())
		defer reader.Close()

		reader.MapTable(AccessTable, AccessEntry{})
		reader.MapTable(RegionTable, RegionEntry{})

		rows, total, err := reader.Query(context.Background(),
			AccessTable, datarecording.QueryParams{})
		Expect(err).NotTo(HaveOccurred())
		Expect(total).To(Equal(1))
		access := rows[0].(*AccessEntry)
		Expect(access.Location).To(Equal("Translator"))
		Expect(access.Outcome).To(Equal(tlb.Resident.String()))
		Expect(access.Value).To(Equal(uint8(9)))

		rows, total, err = reader.Query(context.Background(),
			RegionTable, datarecording.QueryParams{})
		Expect(err).NotTo(HaveOccurred())
		Expect(total).To(Equal(1))
		region := rows[0].(*RegionEntry)
		Expect(region.Index).To(Equal(1))
		Expect(region.End).To(Equal(int64(512)))
	})
})
