package vm

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Instruction is one decoded instruction: an opcode followed by its raw
// operand bytes.
//
// Layout by opcode:
//
//	HLT, NOP            op
//	NOT, INC, PSH, POP  op sel
//	SHR, SHL            op sel shift
//	CAL                 op target
//	LOD                 op sel imm(4|8|16, big-endian, by sel bank)
//	others              op sel sel
type Instruction struct {
	Op       Opcode
	Operands []byte
	Offset   int // offset of the opcode byte in its segment
}

// NewInstruction builds an instruction from an opcode and raw operand bytes.
func NewInstruction(op Opcode, operands ...byte) Instruction {
	return Instruction{Op: op, Operands: operands}
}

// Load builds a LOD of v into dst using the immediate width of dst's bank.
func Load(dst Selector, v Int128) Instruction {
	ops := append([]byte{byte(dst)}, immediateBytes(dst.Bank(), v)...)
	return Instruction{Op: OpLoad, Operands: ops}
}

// Len returns the encoded size in bytes.
func (i Instruction) Len() int { return 1 + len(i.Operands) }

// Dst returns the first register operand.
func (i Instruction) Dst() Selector { return Selector(i.Operands[0]) }

// Src returns the second register operand of a binary instruction.
func (i Instruction) Src() Selector { return Selector(i.Operands[1]) }

// Imm8 returns the trailing one-byte operand (shift count or call target).
func (i Instruction) Imm8() uint8 { return i.Operands[len(i.Operands)-1] }

// Immediate returns the LOD immediate sign-extended from the destination
// width.
func (i Instruction) Immediate() Int128 {
	d := NewDecoder(i.Operands[1:])
	switch i.Dst().Bank() {
	case Bank32:
		v, _ := d.Uint32()
		return Int128FromInt64(int64(int32(v)))
	case Bank64:
		v, _ := d.Uint64()
		return Int128FromInt64(int64(v))
	default:
		v, _ := d.Int128()
		return v
	}
}

// Registers returns every register operand of the instruction.
func (i Instruction) Registers() []Selector {
	layout, _ := i.Op.Operands()
	var regs []Selector
	for n, kind := range layout {
		if kind == OperandReg && n < len(i.Operands) {
			regs = append(regs, Selector(i.Operands[n]))
		}
	}
	return regs
}

// Writes reports whether executing the instruction changes its first
// register operand.
func (i Instruction) Writes() bool {
	switch i.Op {
	case OpHalt, OpNop, OpCall, OpCompare, OpPush:
		return false
	default:
		return true
	}
}

// AppendTo appends the encoded instruction to dst.
func (i Instruction) AppendTo(dst []byte) []byte {
	dst = append(dst, byte(i.Op))
	return append(dst, i.Operands...)
}

// Encode returns the encoded instruction.
func (i Instruction) Encode() []byte {
	return i.AppendTo(make([]byte, 0, i.Len()))
}

// String renders the instruction in assembler syntax.
func (i Instruction) String() string {
	layout, ok := i.Op.Operands()
	if !ok {
		return fmt.Sprintf(".byte 0x%02X", uint8(i.Op))
	}
	if len(layout) == 0 {
		return i.Op.String()
	}
	args := make([]string, 0, len(layout))
	for n, kind := range layout {
		switch kind {
		case OperandReg:
			args = append(args, Selector(i.Operands[n]).String())
		case OperandImm:
			args = append(args, "#"+i.Immediate().String())
		case OperandByte:
			args = append(args, fmt.Sprintf("%d", i.Operands[n]))
		}
	}
	return fmt.Sprintf("%-4s %s", i.Op, strings.Join(args, ", "))
}

// DecodeSegment decodes every instruction of a segment. Trailing bytes that
// do not form a complete instruction are an error.
func DecodeSegment(code []byte) ([]Instruction, error) {
	d := NewDecoder(code)
	var out []Instruction
	for !d.Done() {
		inst, err := d.Next()
		if err != nil {
			return out, fmt.Errorf("offset %d: %w", inst.Offset, err)
		}
		out = append(out, inst)
	}
	return out, nil
}

// EncodeSegment concatenates the encoding of insts.
func EncodeSegment(insts []Instruction) []byte {
	n := 0
	for _, inst := range insts {
		n += inst.Len()
	}
	out := make([]byte, 0, n)
	for _, inst := range insts {
		out = inst.AppendTo(out)
	}
	return out
}

// immediateBytes encodes v big-endian in the width of bank b.
func immediateBytes(b Bank, v Int128) []byte {
	switch b {
	case Bank32:
		return binary.BigEndian.AppendUint32(nil, uint32(v.Int64()))
	case Bank64:
		return binary.BigEndian.AppendUint64(nil, uint64(v.Int64()))
	default:
		be := v.Bytes()
		return be[:]
	}
}
