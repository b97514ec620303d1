// Package cpu decodes and executes the instructions of processes.
package cpu

import (
	"fmt"

	"github.com/KoderuNoKo/Operating-System/mem/vm"
	"github.com/KoderuNoKo/Operating-System/mem/vm/addresstranslator"
	"github.com/KoderuNoKo/Operating-System/sim"
)

// A Memory serves the memory instructions of a process.
type Memory interface {
	Read(ctx *addresstranslator.ProcessContext, region int, offset uint64) (byte, error)
	Write(ctx *addresstranslator.ProcessContext, data byte, region int, offset uint64) error
	Allocate(
		ctx *addresstranslator.ProcessContext,
		size uint64,
		regionIndex int,
	) (vm.Region, error)
	Free(ctx *addresstranslator.ProcessContext, regionIndex int) error
}

// HookPosExecute is triggered after an instruction completes. The item is an
// ExecEvent.
var HookPosExecute = &sim.HookPos{Name: "Execute"}

// ExecEvent describes an executed instruction.
type ExecEvent struct {
	PID         vm.PID
	PC          int
	Instruction Instruction
}

// CPU executes instructions against a memory.
type CPU struct {
	*sim.HookableBase

	name string
	mem  Memory
}

// NewCPU creates a CPU.
func NewCPU(name string, mem Memory) *CPU {
	return &CPU{
		HookableBase: sim.NewHookableBase(),
		name:         name,
		mem:          mem,
	}
}

// Name returns the name of the CPU.
func (c *CPU) Name() string {
	return c.name
}

// Run executes at most n instructions of the process and returns how many
// were executed. A failing instruction stops the process.
func (c *CPU) Run(p *Process, n int) (int, error) {
	executed := 0

	for executed < n && !p.Done() {
		err := c.Step(p)
		executed++

		if err != nil {
			return executed, err
		}
	}

	return executed, nil
}

// Step executes the next instruction of the process.
func (c *CPU) Step(p *Process) error {
	if p.Done() {
		return nil
	}

	inst := p.Code[p.PC]

	err := c.execute(p, inst)
	if err != nil {
		p.Err = fmt.Errorf("process %d at %d (%s): %w", p.PID, p.PC, inst, err)
		return p.Err
	}

	if c.NumHooks() > 0 {
		c.InvokeHook(sim.HookCtx{
			Domain: c,
			Pos:    HookPosExecute,
			Item:   ExecEvent{PID: p.PID, PC: p.PC, Instruction: inst},
		})
	}

	p.PC++

	return nil
}

func (c *CPU) execute(p *Process, inst Instruction) error {
	if len(inst.Args) != opcodeArity[inst.Op] {
		return fmt.Errorf("%s with %d operands: %w",
			inst.Op, len(inst.Args), ErrBadInstruction)
	}

	switch inst.Op {
	case OpCalc:
		return nil
	case OpAlloc:
		_, err := c.mem.Allocate(p.Context,
			uint64(inst.Args[0]), int(inst.Args[1]))
		return err
	case OpFree:
		return c.mem.Free(p.Context, int(inst.Args[0]))
	case OpRead:
		data, err := c.mem.Read(p.Context,
			int(inst.Args[0]), uint64(inst.Args[1]))
		if err != nil {
			return err
		}

		if inst.Args[2] >= NumRegisters {
			return fmt.Errorf("register %d: %w", inst.Args[2], ErrBadInstruction)
		}

		p.Registers[inst.Args[2]] = uint32(data)

		return nil
	case OpWrite:
		return c.mem.Write(p.Context, byte(inst.Args[0]),
			int(inst.Args[1]), uint64(inst.Args[2]))
	default:
		return fmt.Errorf("opcode %d: %w", inst.Op, ErrBadInstruction)
	}
}
