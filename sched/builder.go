package sched

import (
	"io"
	"log"

	"github.com/KoderuNoKo/Operating-System/sim"
)

// A Builder can build schedulers.
type Builder struct {
	executor      Executor
	timeSlice     int
	queueCapacity int
	logger        *log.Logger
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{
		timeSlice:     2,
		queueCapacity: DefaultQueueCapacity,
	}
}

// WithExecutor sets the executor that runs the processes.
func (b Builder) WithExecutor(e Executor) Builder {
	b.executor = e
	return b
}

// WithTimeSlice sets how many instructions a process runs before it yields.
func (b Builder) WithTimeSlice(n int) Builder {
	b.timeSlice = n
	return b
}

// WithQueueCapacity sets the capacity of the ready queue.
func (b Builder) WithQueueCapacity(n int) Builder {
	b.queueCapacity = n
	return b
}

// WithLogger sets the logger that reports failing processes.
func (b Builder) WithLogger(l *log.Logger) Builder {
	b.logger = l
	return b
}

func (b Builder) parametersMustBeValid() {
	if b.executor == nil {
		panic("scheduler requires an executor")
	}

	if b.timeSlice <= 0 {
		panic("time slice must be positive")
	}
}

// Build creates a new scheduler.
func (b Builder) Build(name string) *Scheduler {
	b.parametersMustBeValid()

	logger := b.logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	return &Scheduler{
		HookableBase: sim.NewHookableBase(),
		name:         name,
		queue:        NewQueue(b.queueCapacity),
		executor:     b.executor,
		timeSlice:    b.timeSlice,
		logger:       logger,
	}
}
