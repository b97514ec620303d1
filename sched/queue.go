// Package sched admits processes and shares the CPU among them.
package sched

import "github.com/KoderuNoKo/Operating-System/cpu"

// DefaultQueueCapacity is the capacity of a queue created with a capacity
// that is not positive.
const DefaultQueueCapacity = 10

// A Queue is a bounded FIFO of processes.
type Queue struct {
	capacity int
	procs    []*cpu.Process
}

// NewQueue creates an empty queue.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}

	return &Queue{capacity: capacity}
}

// Capacity returns the number of processes the queue can hold.
func (q *Queue) Capacity() int {
	return q.capacity
}

// Size returns the number of processes in the queue.
func (q *Queue) Size() int {
	if q == nil {
		return 0
	}

	return len(q.procs)
}

// Empty tells if the queue holds no process. A nil queue is empty.
func (q *Queue) Empty() bool {
	return q.Size() == 0
}

// Full tells if Enqueue would drop the next process.
func (q *Queue) Full() bool {
	return len(q.procs) >= q.capacity
}

// Enqueue appends a process. The process is dropped if the queue is full.
func (q *Queue) Enqueue(p *cpu.Process) bool {
	if q.Full() {
		return false
	}

	q.procs = append(q.procs, p)

	return true
}

// Dequeue removes the oldest process. It returns nil if the queue is empty.
func (q *Queue) Dequeue() *cpu.Process {
	if q.Empty() {
		return nil
	}

	p := q.procs[0]
	q.procs[0] = nil
	q.procs = q.procs[1:]

	return p
}
