package vm

import (
	"encoding/binary"
	"fmt"
)

// Decoder reads instructions from one segment. Immediates are big-endian.
type Decoder struct {
	code []byte
	pc   int
}

// NewDecoder returns a decoder positioned at the start of code.
func NewDecoder(code []byte) *Decoder {
	return &Decoder{code: code}
}

// PC returns the offset of the next unread byte.
func (d *Decoder) PC() int { return d.pc }

// Done reports whether every byte has been consumed.
func (d *Decoder) Done() bool { return d.pc >= len(d.code) }

// Bytes returns exactly n bytes and advances past them. The slice aliases
// the segment.
func (d *Decoder) Bytes(n int) ([]byte, error) {
	if n > len(d.code)-d.pc {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, segment has %d",
			ErrStreamOverrun, n, d.pc, len(d.code))
	}
	b := d.code[d.pc : d.pc+n]
	d.pc += n
	return b, nil
}

// Byte reads one raw byte.
func (d *Decoder) Byte() (byte, error) {
	b, err := d.Bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Opcode reads one opcode byte.
func (d *Decoder) Opcode() (Opcode, error) {
	b, err := d.Byte()
	return Opcode(b), err
}

// Selector reads a register selector and validates its bank.
func (d *Decoder) Selector() (Selector, error) {
	b, err := d.Byte()
	if err != nil {
		return 0, err
	}
	if _, err := BankOf(b); err != nil {
		return 0, err
	}
	return Selector(b), nil
}

// Uint32 reads a 4-byte big-endian immediate.
func (d *Decoder) Uint32() (uint32, error) {
	b, err := d.Bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// Uint64 reads an 8-byte big-endian immediate.
func (d *Decoder) Uint64() (uint64, error) {
	b, err := d.Bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// Int128 reads a 16-byte big-endian immediate.
func (d *Decoder) Int128() (Int128, error) {
	b, err := d.Bytes(16)
	if err != nil {
		return Int128{}, err
	}
	return Int128FromBytes(b), nil
}

// Next decodes one complete instruction. Its operands alias the segment.
// Unknown opcodes and invalid selectors are reported here, before anything
// executes.
func (d *Decoder) Next() (Instruction, error) {
	start := d.pc
	op, err := d.Opcode()
	if err != nil {
		return Instruction{Offset: start}, err
	}
	inst := Instruction{Op: op, Offset: start}
	layout, ok := op.Operands()
	if !ok {
		return inst, fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, uint8(op))
	}
	var last Selector
	for _, kind := range layout {
		switch kind {
		case OperandReg:
			last, err = d.Selector()
		case OperandImm:
			_, err = d.Bytes(last.Bank().Width())
		case OperandByte:
			_, err = d.Byte()
		}
		if err != nil {
			return inst, err
		}
	}
	inst.Operands = d.code[start+1 : d.pc]
	return inst, nil
}
