package monitoring

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/google/pprof/profile"

	"github.com/KoderuNoKo/Operating-System/mem/vm"
	"github.com/KoderuNoKo/Operating-System/mem/vm/tlb"
	"github.com/KoderuNoKo/Operating-System/memory"
	"github.com/KoderuNoKo/Operating-System/tracing"
)

type fixedStats struct {
	stats tracing.Stats
}

func (s fixedStats) Stats() tracing.Stats {
	return s.stats
}

var _ = Describe("Monitor", func() {
	var (
		monitor *Monitor
		cache   *tlb.Cache
		ram     *memory.Storage
		server  *httptest.Server
	)

	get := func(path string) *http.Response {
		rsp, err := http.Get(server.URL + path)
		Expect(err).NotTo(HaveOccurred())

		return rsp
	}

	decode := func(rsp *http.Response, v any) {
		defer rsp.Body.Close()

		Expect(rsp.StatusCode).To(Equal(http.StatusOK))
		Expect(json.NewDecoder(rsp.Body).Decode(v)).To(Succeed())
	}

	BeforeEach(func() {
		cache = tlb.MakeBuilder().WithNumLines(4).Build("TLB[P1]")
		ram = memory.NewStorage(16)

		monitor = NewMonitor()
		monitor.RegisterComponent(cache)
		monitor.RegisterMemory("RAM", ram)
		monitor.RegisterStats(fixedStats{
			stats: tracing.Stats{Reads: 3, Hits: 2},
		})

		server = httptest.NewServer(monitor.Handler())
	})

	AfterEach(func() {
		server.Close()
	})

	It("should list components", func() {
		var names []string
		decode(get("/api/list_components"), &names)

		Expect(names).To(Equal([]string{"TLB[P1]"}))
	})

	It("should return 404 for unknown components", func() {
		rsp := get("/api/component/Nothing")
		rsp.Body.Close()

		Expect(rsp.StatusCode).To(Equal(http.StatusNotFound))
	})

	It("should serialize a component", func() {
		var v map[string]any
		decode(get("/api/component/"+url.PathEscape("TLB[P1]")), &v)

		Expect(v).NotTo(BeEmpty())
	})

	It("should reject malformed field requests", func() {
		rsp := get("/api/field/" + url.PathEscape("{bad"))
		rsp.Body.Close()

		Expect(rsp.StatusCode).To(Equal(http.StatusBadRequest))
	})

	It("should list TLBs", func() {
		var names []string
		decode(get("/api/list_tlbs"), &names)

		Expect(names).To(Equal([]string{"TLB[P1]"}))
	})

	It("should list the valid lines of a TLB", func() {
		Expect(cache.Fill(1, 2, vm.MakePresentPTE(7))).To(Succeed())

		var lines []lineRsp
		decode(get("/api/tlb/"+url.PathEscape("TLB[P1]")), &lines)

		Expect(lines).To(HaveLen(1))
		Expect(lines[0].Line).To(Equal(cache.Index(1, 2)))
		Expect(lines[0].PID).To(Equal(uint32(1)))
		Expect(lines[0].PageNumber).To(Equal(uint32(2)))
		Expect(lines[0].PTE).To(Equal("80000007"))
		Expect(lines[0].Recency).To(Equal("10000000"))
		Expect(lines[0].Resident).To(BeTrue())
	})

	It("should return 404 for unknown TLBs", func() {
		rsp := get("/api/tlb/Nothing")
		rsp.Body.Close()

		Expect(rsp.StatusCode).To(Equal(http.StatusNotFound))
	})

	It("should dump a memory", func() {
		Expect(ram.WriteByteAt(3, 9)).To(Succeed())

		rsp := get("/api/memory/RAM")
		defer rsp.Body.Close()

		body, err := io.ReadAll(rsp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(Equal("BYTE 00000003: 9\n"))
	})

	It("should report the stats", func() {
		var s tracing.Stats
		decode(get("/api/stats"), &s)

		Expect(s.Reads).To(Equal(uint64(3)))
		Expect(s.Hits).To(Equal(uint64(2)))
	})

	It("should track progress bars", func() {
		bar := monitor.CreateProgressBar("Instructions", 10)
		bar.IncrementInProgress(3)
		bar.MoveInProgressToFinished(2)

		var bars []progressRsp
		decode(get("/api/progress"), &bars)

		Expect(bars).To(HaveLen(1))
		Expect(bars[0].Name).To(Equal("Instructions"))
		Expect(bars[0].Total).To(Equal(uint64(10)))
		Expect(bars[0].Finished).To(Equal(uint64(2)))
		Expect(bars[0].InProgress).To(Equal(uint64(1)))

		monitor.CompleteProgressBar(bar)

		decode(get("/api/progress"), &bars)
		Expect(bars).To(BeEmpty())
	})

	It("should reject invalid profile durations", func() {
		rsp := get("/api/profile?seconds=abc")
		rsp.Body.Close()

		Expect(rsp.StatusCode).To(Equal(http.StatusBadRequest))
	})

	It("should serve the page", func() {
		rsp := get("/")
		rsp.Body.Close()

		Expect(rsp.StatusCode).To(Equal(http.StatusOK))
	})
})

var _ = Describe("Flat profile", func() {
	It("should sum samples by the top function", func() {
		f1 := &profile.Function{ID: 1, Name: "lookup"}
		f2 := &profile.Function{ID: 2, Name: "fill"}
		l1 := &profile.Location{ID: 1, Line: []profile.Line{{Function: f1}}}
		l2 := &profile.Location{ID: 2, Line: []profile.Line{{Function: f2}}}

		prof := &profile.Profile{
			Sample: []*profile.Sample{
				{Location: []*profile.Location{l1, l2}, Value: []int64{1, 30}},
				{Location: []*profile.Location{l1}, Value: []int64{1, 10}},
				{Location: []*profile.Location{l2}, Value: []int64{1, 60}},
			},
		}

		entries := flatProfile(prof)

		Expect(entries).To(HaveLen(2))
		Expect(entries[0].Function).To(Equal("fill"))
		Expect(entries[0].Flat).To(Equal(int64(60)))
		Expect(entries[0].Percent).To(BeNumerically("~", 60.0))
		Expect(entries[1].Function).To(Equal("lookup"))
		Expect(entries[1].Flat).To(Equal(int64(40)))
	})
})
