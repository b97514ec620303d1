package sched

import (
	"errors"
	"log"
	"sort"

	"github.com/KoderuNoKo/Operating-System/cpu"
	"github.com/KoderuNoKo/Operating-System/sim"
)

// An Executor runs up to n instructions of a process and reports how many
// it ran.
type Executor interface {
	Run(p *cpu.Process, n int) (int, error)
}

// An ExitHandler is told when a process leaves the system.
type ExitHandler interface {
	ProcessExited(p *cpu.Process)
}

// Hook positions of the scheduler. The item is a ScheduleEvent.
var (
	HookPosAdmit    = &sim.HookPos{Name: "Admit"}
	HookPosDispatch = &sim.HookPos{Name: "Dispatch"}
	HookPosExit     = &sim.HookPos{Name: "Exit"}
)

// ScheduleEvent describes a change of state of a process.
type ScheduleEvent struct {
	Time    uint64
	Process *cpu.Process
}

type admission struct {
	start uint64
	proc  *cpu.Process
}

// Scheduler shares one executor among processes in round-robin order. Time
// advances by one unit per executed instruction.
type Scheduler struct {
	*sim.HookableBase

	name      string
	queue     *Queue
	executor  Executor
	timeSlice int
	logger    *log.Logger
	exits     []ExitHandler

	pending []admission
	now     uint64
}

// Name returns the name of the scheduler.
func (s *Scheduler) Name() string {
	return s.name
}

// Now returns the current time.
func (s *Scheduler) Now() uint64 {
	return s.now
}

// AddExitHandler registers a handler for finished processes.
func (s *Scheduler) AddExitHandler(h ExitHandler) {
	s.exits = append(s.exits, h)
}

// Admit makes the process runnable once the time reaches start.
func (s *Scheduler) Admit(p *cpu.Process, start uint64) {
	s.pending = append(s.pending, admission{start: start, proc: p})
	sort.SliceStable(s.pending, func(i, j int) bool {
		return s.pending[i].start < s.pending[j].start
	})
}

// Run executes every admitted process to completion. Errors of individual
// processes do not stop the others and are returned together.
func (s *Scheduler) Run() error {
	var errs []error

	for {
		s.admitArrived()

		if s.queue.Empty() {
			if len(s.pending) == 0 {
				return errors.Join(errs...)
			}

			s.now = max(s.now, s.pending[0].start)

			continue
		}

		p := s.queue.Dequeue()
		s.invokeHook(HookPosDispatch, p)

		n, err := s.executor.Run(p, s.timeSlice)
		s.now += uint64(n)

		if err != nil {
			s.logger.Printf("process %d (%s) stopped: %v", p.PID, p.Name, err)
			errs = append(errs, err)
		}

		if p.Done() {
			s.exit(p)
			continue
		}

		s.queue.Enqueue(p)
	}
}

func (s *Scheduler) admitArrived() {
	for len(s.pending) > 0 && !s.queue.Full() {
		next := s.pending[0]
		if next.start > s.now {
			return
		}

		s.pending = s.pending[1:]
		s.queue.Enqueue(next.proc)
		s.invokeHook(HookPosAdmit, next.proc)
	}
}

func (s *Scheduler) exit(p *cpu.Process) {
	s.invokeHook(HookPosExit, p)

	for _, h := range s.exits {
		h.ProcessExited(p)
	}
}

func (s *Scheduler) invokeHook(pos *sim.HookPos, p *cpu.Process) {
	if s.NumHooks() == 0 {
		return
	}

	s.InvokeHook(sim.HookCtx{
		Domain: s,
		Pos:    pos,
		Item:   ScheduleEvent{Time: s.now, Process: p},
	})
}
