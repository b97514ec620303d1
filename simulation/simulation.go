// Package simulation assembles a complete memory system from a configuration
// and runs its processes.
package simulation

import (
	"context"
	"log"
	"time"

	"github.com/KoderuNoKo/Operating-System/config"
	"github.com/KoderuNoKo/Operating-System/cpu"
	"github.com/KoderuNoKo/Operating-System/datarecording"
	"github.com/KoderuNoKo/Operating-System/mem/vm/addresstranslator"
	"github.com/KoderuNoKo/Operating-System/mem/vm/mmu"
	"github.com/KoderuNoKo/Operating-System/mem/vm/tlb"
	"github.com/KoderuNoKo/Operating-System/memory"
	"github.com/KoderuNoKo/Operating-System/monitoring"
	"github.com/KoderuNoKo/Operating-System/sched"
	"github.com/KoderuNoKo/Operating-System/sim"
	"github.com/KoderuNoKo/Operating-System/tracing"
)

// A Simulation owns every component built from a configuration.
type Simulation struct {
	id     string
	config config.Config
	logger *log.Logger

	ram        *memory.Storage
	swap       *memory.Storage
	mmu        *mmu.MMU
	translator *addresstranslator.Translator
	tlb        *tlb.Cache
	cpu        *cpu.CPU
	scheduler  *sched.Scheduler
	processes  []*cpu.Process

	stats        *tracing.StatsTracer
	dataRecorder datarecording.DataRecorder
	monitor      *monitoring.Monitor
	progress     *monitoring.ProgressBar
	monitorURL   string

	components    []sim.Named
	compNameIndex map[string]int
}

// ID returns the unique ID of the simulation.
func (s *Simulation) ID() string {
	return s.id
}

// Config returns the configuration the simulation is built from.
func (s *Simulation) Config() config.Config {
	return s.config
}

// RAM returns the physical memory.
func (s *Simulation) RAM() *memory.Storage {
	return s.ram
}

// MMU returns the memory manager.
func (s *Simulation) MMU() *mmu.MMU {
	return s.mmu
}

// Translator returns the address translator.
func (s *Simulation) Translator() *addresstranslator.Translator {
	return s.translator
}

// TLB returns the TLB shared by the processes.
func (s *Simulation) TLB() *tlb.Cache {
	return s.tlb
}

// Scheduler returns the scheduler.
func (s *Simulation) Scheduler() *sched.Scheduler {
	return s.scheduler
}

// Processes returns the processes in the order of the configuration.
func (s *Simulation) Processes() []*cpu.Process {
	return s.processes
}

// GetDataRecorder returns the data recorder, or nil if nothing is recorded.
func (s *Simulation) GetDataRecorder() datarecording.DataRecorder {
	return s.dataRecorder
}

// GetMonitor returns the monitor, or nil if monitoring is off.
func (s *Simulation) GetMonitor() *monitoring.Monitor {
	return s.monitor
}

// MonitorURL returns the address of the monitoring server, or an empty string
// if monitoring is off.
func (s *Simulation) MonitorURL() string {
	return s.monitorURL
}

func (s *Simulation) registerComponent(c sim.Named) {
	name := c.Name()
	if _, found := s.compNameIndex[name]; found {
		panic("component " + name + " already registered")
	}

	s.components = append(s.components, c)
	s.compNameIndex[name] = len(s.components) - 1
}

// GetComponentByName returns the component with the given name.
func (s *Simulation) GetComponentByName(name string) sim.Named {
	i, found := s.compNameIndex[name]
	if !found {
		return nil
	}

	return s.components[i]
}

// Components returns every registered component.
func (s *Simulation) Components() []sim.Named {
	return s.components
}

// Run executes every process to completion. The returned error joins the
// errors of the processes that stopped early.
func (s *Simulation) Run() error {
	err := s.scheduler.Run()

	if s.config.DumpMemory {
		s.logger.Printf("RAM content:\n")

		dumpErr := s.ram.Dump(s.logger.Writer())
		if dumpErr != nil {
			s.logger.Printf("cannot dump memory: %v\n", dumpErr)
		}
	}

	if s.progress != nil {
		s.monitor.CompleteProgressBar(s.progress)
	}

	return err
}

// Stats returns the counters collected so far.
func (s *Simulation) Stats() tracing.Stats {
	return s.stats.Stats()
}

// ProcessExited drops the cached entries and the memory of a finished
// process.
func (s *Simulation) ProcessExited(p *cpu.Process) {
	err := s.translator.Flush(p.Context)
	if err != nil {
		s.logger.Printf("cannot flush TLB of process %d: %v\n", p.PID, err)
	}

	s.translator.Detach(p.PID)
	s.mmu.ReleaseProcess(p.PID)
}

// Terminate flushes the recorded data and stops the monitor.
func (s *Simulation) Terminate() {
	if s.dataRecorder != nil {
		err := s.dataRecorder.Close()
		if err != nil {
			s.logger.Printf("cannot close recorder: %v\n", err)
		}
	}

	if s.monitor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		err := s.monitor.StopServer(ctx)
		if err != nil {
			s.logger.Printf("cannot stop monitor: %v\n", err)
		}
	}
}

type progressTracker struct {
	bar *monitoring.ProgressBar
}

func (t progressTracker) Func(ctx sim.HookCtx) {
	if ctx.Pos == cpu.HookPosExecute {
		t.bar.IncrementFinished(1)
	}
}
