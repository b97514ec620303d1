package cpu

import (
	"github.com/KoderuNoKo/Operating-System/mem/vm"
	"github.com/KoderuNoKo/Operating-System/mem/vm/addresstranslator"
)

// A Process is the control block of a program being executed.
type Process struct {
	PID       vm.PID
	Name      string
	Priority  int
	Code      []Instruction
	PC        int
	Registers [NumRegisters]uint32

	// Context binds the process to its TLB.
	Context *addresstranslator.ProcessContext

	// Err is the error that stopped the process, if any.
	Err error
}

// NewProcess creates a process that starts at its first instruction.
func NewProcess(
	pid vm.PID,
	name string,
	code []Instruction,
	ctx *addresstranslator.ProcessContext,
) *Process {
	return &Process{
		PID:     pid,
		Name:    name,
		Code:    code,
		Context: ctx,
	}
}

// Done tells if the process has nothing left to execute.
func (p *Process) Done() bool {
	return p.Err != nil || p.PC >= len(p.Code)
}
