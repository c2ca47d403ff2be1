package compiler

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/akhildatla/regvm/pkg/vm"
)

// ErrEmptyProgram is returned for source without any segment.
var ErrEmptyProgram = errors.New("program has no segments")

// Compile assembles regvm source into a library.
func Compile(source string) (*vm.Program, error) {
	parser := NewParser(source)
	asmProgram, err := parser.Parse()
	if err != nil {
		return nil, err
	}

	compiler := &Compiler{
		names: make(map[string]int),
	}

	return compiler.compile(asmProgram)
}

// CompileFile reads and assembles a source file.
func CompileFile(path string) (*vm.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	program, err := Compile(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return program, nil
}

// Compiler encodes parsed assembly to segment bytes.
type Compiler struct {
	names map[string]int // segment name -> index
}

func (c *Compiler) compile(program *AsmProgram) (*vm.Program, error) {
	if len(program.Segments) == 0 {
		return nil, ErrEmptyProgram
	}

	named := false
	for i, seg := range program.Segments {
		if seg.Name == "" {
			continue
		}
		if prev, ok := c.names[seg.Name]; ok {
			return nil, fmt.Errorf("line %d: duplicate segment name %q (first used by segment %d)", seg.Line, seg.Name, prev)
		}
		c.names[seg.Name] = i
		named = true
	}

	out := &vm.Program{}
	for i, seg := range program.Segments {
		var code []byte
		for _, inst := range seg.Instructions {
			b, err := c.compileInstruction(i, inst)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", inst.Line, err)
			}
			code = append(code, b...)
		}
		out.Segments = append(out.Segments, vm.Segment(code))
		if named {
			out.Names = append(out.Names, seg.Name)
		}
	}

	return out, nil
}

func (c *Compiler) compileInstruction(segment int, inst AsmInstruction) ([]byte, error) {
	if inst.Opcode == ".byte" {
		return compileBytes(inst)
	}

	opcode, ok := vm.OpcodeFromString(strings.ToUpper(inst.Opcode))
	if !ok {
		return nil, fmt.Errorf("unknown opcode: %s", inst.Opcode)
	}
	layout, _ := opcode.Operands()
	if len(inst.Operands) != len(layout) {
		return nil, fmt.Errorf("%s expects %d operands, got %d", opcode, len(layout), len(inst.Operands))
	}

	out := []byte{byte(opcode)}
	var last vm.Selector
	for i, kind := range layout {
		op := inst.Operands[i]
		switch kind {
		case vm.OperandReg:
			if op.Type != OperandReg {
				return nil, fmt.Errorf("operand %d of %s must be a register, got %s", i+1, opcode, op.Text)
			}
			out = append(out, byte(op.Reg))
			last = op.Reg

		case vm.OperandImm:
			b, err := encodeImmediate(last, op)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", opcode, err)
			}
			out = append(out, b...)

		case vm.OperandByte:
			if opcode == vm.OpCall && op.Type == OperandIdent {
				b, err := c.callOffset(segment, op.Text)
				if err != nil {
					return nil, err
				}
				out = append(out, b)
				continue
			}
			if op.Type != OperandInt {
				return nil, fmt.Errorf("operand %d of %s must be an integer 0..255, got %s", i+1, opcode, op.Text)
			}
			b, err := parseByte(op.Text)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", opcode, err)
			}
			out = append(out, b)
		}
	}
	return out, nil
}

// callOffset turns a segment name into the relative CAL operand.
func (c *Compiler) callOffset(caller int, name string) (byte, error) {
	target, ok := c.names[name]
	if !ok {
		return 0, fmt.Errorf("unknown segment: %s", name)
	}
	offset := target - caller - 1
	if offset < 0 || offset > 255 {
		return 0, fmt.Errorf("segment %s (%d) is not reachable from segment %d", name, target, caller)
	}
	return byte(offset), nil
}

func compileBytes(inst AsmInstruction) ([]byte, error) {
	if len(inst.Operands) == 0 {
		return nil, fmt.Errorf(".byte expects at least one value")
	}
	out := make([]byte, 0, len(inst.Operands))
	for _, op := range inst.Operands {
		if op.Type != OperandInt {
			return nil, fmt.Errorf(".byte values must be integers, got %s", op.Text)
		}
		b, err := parseByte(op.Text)
		if err != nil {
			return nil, fmt.Errorf(".byte: %w", err)
		}
		out = append(out, b)
	}
	return out, nil
}

func parseByte(text string) (byte, error) {
	n, err := strconv.ParseUint(text, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid byte value %s", text)
	}
	return byte(n), nil
}

// encodeImmediate checks that the literal fits the destination width and
// returns its big-endian encoding. Both signed values and bit patterns up
// to 2^w-1 are accepted.
func encodeImmediate(dst vm.Selector, op Operand) ([]byte, error) {
	if op.Type != OperandImm {
		return nil, fmt.Errorf("expected an immediate, got %s", op.Text)
	}
	bits := int(dst.Bank().Bits())
	if op.Width != 0 && op.Width != bits {
		return nil, fmt.Errorf("i%d immediate for %d-bit register %s", op.Width, bits, dst)
	}

	n, ok := new(big.Int).SetString(op.Text, 0)
	if !ok {
		return nil, fmt.Errorf("invalid integer literal %q", op.Text)
	}
	lo := new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), uint(bits-1)))
	hi := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), uint(bits)), big.NewInt(1))
	if n.Cmp(lo) < 0 || n.Cmp(hi) > 0 {
		return nil, fmt.Errorf("immediate %s does not fit in %d bits", op.Text, bits)
	}

	v, err := vm.Int128FromBig(n)
	if err != nil {
		return nil, err
	}
	return vm.Load(dst, v).Operands[1:], nil
}
