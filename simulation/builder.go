package simulation

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/rs/xid"

	"github.com/KoderuNoKo/Operating-System/config"
	"github.com/KoderuNoKo/Operating-System/cpu"
	"github.com/KoderuNoKo/Operating-System/datarecording"
	"github.com/KoderuNoKo/Operating-System/mem/vm"
	"github.com/KoderuNoKo/Operating-System/mem/vm/addresstranslator"
	"github.com/KoderuNoKo/Operating-System/mem/vm/mmu"
	"github.com/KoderuNoKo/Operating-System/mem/vm/tlb"
	"github.com/KoderuNoKo/Operating-System/memory"
	"github.com/KoderuNoKo/Operating-System/monitoring"
	"github.com/KoderuNoKo/Operating-System/sched"
	"github.com/KoderuNoKo/Operating-System/tracing"
)

// Builder can be used to build a simulation.
type Builder struct {
	config      config.Config
	logger      *log.Logger
	monitorOn   bool
	openBrowser bool
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{
		config: config.DefaultConfig(),
		logger: log.New(os.Stdout, "", 0),
	}
}

// WithConfig sets the configuration to simulate.
func (b Builder) WithConfig(c config.Config) Builder {
	b.config = c
	return b
}

// WithLogger sets the logger that receives the trace and the memory dumps.
func (b Builder) WithLogger(l *log.Logger) Builder {
	b.logger = l
	return b
}

// WithMonitoring starts the monitoring server even if the configuration does
// not name a port.
func (b Builder) WithMonitoring() Builder {
	b.monitorOn = true
	return b
}

// WithBrowser opens the monitoring page in a browser.
func (b Builder) WithBrowser() Builder {
	b.openBrowser = true
	return b
}

func (b Builder) parametersMustBeValid() {
	if b.logger == nil {
		panic("a simulation needs a logger")
	}

	if b.openBrowser && !b.monitoring() {
		panic("cannot open a browser without monitoring")
	}
}

func (b Builder) monitoring() bool {
	return b.monitorOn || b.config.MonitorPort > 0
}

// Build builds the simulation. Every process of the configuration is admitted
// at its start time.
func (b Builder) Build() (*Simulation, error) {
	b.parametersMustBeValid()

	err := b.config.Validate()
	if err != nil {
		return nil, err
	}

	s := &Simulation{
		id:            xid.New().String(),
		config:        b.config,
		logger:        b.logger,
		compNameIndex: make(map[string]int),
	}

	err = b.buildProcesses(s)
	if err != nil {
		return nil, err
	}

	b.buildMemorySystem(s)
	b.buildExecution(s)
	b.buildTracers(s)

	err = b.buildMonitor(s)
	if err != nil {
		return nil, err
	}

	for i, p := range s.processes {
		s.translator.Register(p.Context)
		s.scheduler.Admit(p, b.config.Processes[i].Start)
	}

	return s, nil
}

func (b Builder) buildProcesses(s *Simulation) error {
	for i, pc := range b.config.Processes {
		code, err := b.config.Instructions(pc)
		if err != nil {
			return fmt.Errorf("process %d: %w", i, err)
		}

		name := pc.Name
		if name == "" {
			name = fmt.Sprintf("P%d", i+1)
		}

		p := cpu.NewProcess(vm.PID(i+1), name, code, nil)
		p.Priority = pc.Priority
		s.processes = append(s.processes, p)
	}

	return nil
}

func (b Builder) buildMemorySystem(s *Simulation) {
	c := b.config

	s.ram = memory.NewStorage(c.RAMSize)
	s.swap = memory.NewStorage(c.SwapSize)

	s.mmu = mmu.MakeBuilder().
		WithLog2PageSize(c.Log2PageSize).
		WithVirtualLimit(c.VirtualLimit).
		WithRAM(s.ram).
		WithSwap(s.swap).
		Build("MMU")

	s.translator = addresstranslator.MakeBuilder().
		WithLog2PageSize(c.Log2PageSize).
		WithRAM(s.ram).
		WithMemoryManager(s.mmu).
		Build("Translator")
	s.mmu.AddEvictionListener(s.translator)

	policy, _ := c.MappingPolicy()
	s.tlb = tlb.MakeBuilder().
		WithSize(c.TLBSize).
		WithMappingPolicy(policy).
		WithNumWays(c.Ways).
		Build("TLB")

	for _, p := range s.processes {
		p.Context = addresstranslator.NewProcessContext(p.PID, s.tlb)
	}

	s.registerComponent(s.mmu)
	s.registerComponent(s.translator)
	s.registerComponent(s.tlb)
}

func (b Builder) buildExecution(s *Simulation) {
	s.cpu = cpu.NewCPU("CPU", s.translator)

	schedLogger := log.New(io.Discard, "", 0)
	if b.config.Trace {
		schedLogger = b.logger
	}

	s.scheduler = sched.MakeBuilder().
		WithExecutor(s.cpu).
		WithTimeSlice(b.config.TimeSlice).
		WithQueueCapacity(b.config.QueueCapacity).
		WithLogger(schedLogger).
		Build("Scheduler")
	s.scheduler.AddExitHandler(s)

	s.registerComponent(s.cpu)
	s.registerComponent(s.scheduler)
}

func (b Builder) buildTracers(s *Simulation) {
	s.stats = tracing.NewStatsTracer()
	tracing.CollectTrace(s.stats, s.translator, s.mmu, s.cpu)

	if b.config.Trace {
		logTracer := tracing.NewLogTracer(b.logger).WithPageTable(s.mmu)
		if b.config.DumpMemory {
			logTracer = logTracer.WithMemoryDump(s.ram)
		}

		tracing.CollectTrace(logTracer, s.translator)
	}

	if b.config.Record != "" {
		s.dataRecorder = datarecording.New(b.config.Record)
		tracing.CollectTrace(tracing.NewDBTracer(s.dataRecorder),
			s.translator, s.mmu)
	}
}

func (b Builder) buildMonitor(s *Simulation) error {
	if !b.monitoring() {
		return nil
	}

	s.monitor = monitoring.NewMonitor()
	if b.config.MonitorPort > 0 {
		s.monitor.WithPortNumber(b.config.MonitorPort)
	}

	if b.openBrowser {
		s.monitor.WithBrowser()
	}

	for _, c := range s.components {
		s.monitor.RegisterComponent(c)
	}

	s.monitor.RegisterMemory("RAM", s.ram)
	s.monitor.RegisterMemory("Swap", s.swap)
	s.monitor.RegisterMemory("TLB", s.tlb)
	s.monitor.RegisterStats(s.stats)

	total := uint64(0)
	for _, p := range s.processes {
		total += uint64(len(p.Code))
	}

	s.progress = s.monitor.CreateProgressBar("Instructions", total)
	s.cpu.AcceptHook(progressTracker{bar: s.progress})

	url, err := s.monitor.StartServer()
	s.monitorURL = url

	return err
}
