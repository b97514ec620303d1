package cpu

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// NumRegisters is the size of the register file of a process.
const NumRegisters = 10

// ErrBadInstruction is returned for text that is not a valid instruction.
var ErrBadInstruction = errors.New("bad instruction")

// Opcode identifies an operation of the CPU.
type Opcode int

// Operations of the CPU.
const (
	OpCalc Opcode = iota
	OpAlloc
	OpFree
	OpRead
	OpWrite
)

var opcodeNames = map[Opcode]string{
	OpCalc:  "calc",
	OpAlloc: "alloc",
	OpFree:  "free",
	OpRead:  "read",
	OpWrite: "write",
}

var opcodeArity = map[Opcode]int{
	OpCalc:  0,
	OpAlloc: 2,
	OpFree:  1,
	OpRead:  3,
	OpWrite: 3,
}

func (o Opcode) String() string {
	name, ok := opcodeNames[o]
	if !ok {
		return fmt.Sprintf("Opcode(%d)", int(o))
	}

	return name
}

// An Instruction is an operation with its operands.
//
//	calc
//	alloc <size> <region>
//	free <region>
//	read <region> <offset> <register>
//	write <value> <region> <offset>
type Instruction struct {
	Op   Opcode
	Args []uint32
}

func (i Instruction) String() string {
	fields := []string{i.Op.String()}
	for _, a := range i.Args {
		fields = append(fields, strconv.FormatUint(uint64(a), 10))
	}

	return strings.Join(fields, " ")
}

// ParseInstruction decodes one line of program text.
func ParseInstruction(line string) (Instruction, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Instruction{}, fmt.Errorf("empty line: %w", ErrBadInstruction)
	}

	op, found := lookupOpcode(fields[0])
	if !found {
		return Instruction{}, fmt.Errorf("unknown operation %q: %w",
			fields[0], ErrBadInstruction)
	}

	if len(fields)-1 != opcodeArity[op] {
		return Instruction{}, fmt.Errorf("%s takes %d operands, got %d: %w",
			op, opcodeArity[op], len(fields)-1, ErrBadInstruction)
	}

	inst := Instruction{Op: op}
	for _, f := range fields[1:] {
		v, err := strconv.ParseUint(f, 0, 32)
		if err != nil {
			return Instruction{}, fmt.Errorf("operand %q of %s: %w",
				f, op, ErrBadInstruction)
		}

		inst.Args = append(inst.Args, uint32(v))
	}

	if op == OpRead && inst.Args[2] >= NumRegisters {
		return Instruction{}, fmt.Errorf("register %d: %w",
			inst.Args[2], ErrBadInstruction)
	}

	return inst, nil
}

func lookupOpcode(name string) (Opcode, bool) {
	for op, n := range opcodeNames {
		if n == strings.ToLower(name) {
			return op, true
		}
	}

	return 0, false
}

// ParseProgram decodes one instruction per line. Blank lines and lines
// starting with '#' are skipped.
func ParseProgram(r io.Reader) ([]Instruction, error) {
	var program []Instruction

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		inst, err := ParseInstruction(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}

		program = append(program, inst)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return program, nil
}
