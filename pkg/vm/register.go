package vm

import (
	"encoding/binary"
	"fmt"
)

// NumRegs is the number of registers in each bank.
const NumRegs = 64

// Bank identifies one of the three register widths.
type Bank uint8

const (
	Bank32  Bank = 0 // selector bits 7-6 = 00
	Bank64  Bank = 1 // selector bits 7-6 = 01
	Bank128 Bank = 2 // selector bits 7-6 = 10
)

// Width returns the register width in bytes.
func (b Bank) Width() int {
	switch b {
	case Bank32:
		return 4
	case Bank64:
		return 8
	case Bank128:
		return 16
	default:
		return 0
	}
}

// Bits returns the register width in bits.
func (b Bank) Bits() uint { return uint(b.Width()) * 8 }

// Valid reports whether b names an existing bank.
func (b Bank) Valid() bool { return b <= Bank128 }

func (b Bank) String() string {
	switch b {
	case Bank32:
		return "r32"
	case Bank64:
		return "r64"
	case Bank128:
		return "r128"
	default:
		return fmt.Sprintf("bank(%d)", uint8(b))
	}
}

// Selector is the one-byte register operand: bank in bits 7-6, index in
// bits 5-0.
type Selector uint8

// MakeSelector builds a selector from a bank and an index.
func MakeSelector(b Bank, index uint8) Selector {
	return Selector(uint8(b)<<6 | index&0x3F)
}

// BankOf returns the bank selected by a raw selector byte. Bank bits 11
// yield ErrInvalidRegister.
func BankOf(b byte) (Bank, error) {
	bank := Bank(b >> 6)
	if !bank.Valid() {
		return 0, fmt.Errorf("%w: selector 0x%02X", ErrInvalidRegister, b)
	}
	return bank, nil
}

// IndexOf returns the in-bank index of a raw selector byte.
func IndexOf(b byte) uint8 { return b & 0x3F }

// Bank returns the bank encoded in bits 7-6.
func (s Selector) Bank() Bank { return Bank(s >> 6) }

// Index returns the register index encoded in bits 5-0.
func (s Selector) Index() uint8 { return uint8(s) & 0x3F }

// Valid reports whether the selector names an existing bank.
func (s Selector) Valid() bool { return s.Bank().Valid() }

// String renders the selector in assembler alias form (w3, d0, q63).
func (s Selector) String() string {
	switch s.Bank() {
	case Bank32:
		return fmt.Sprintf("w%d", s.Index())
	case Bank64:
		return fmt.Sprintf("d%d", s.Index())
	case Bank128:
		return fmt.Sprintf("q%d", s.Index())
	default:
		return fmt.Sprintf("r%d", uint8(s))
	}
}

// RegisterFile holds the private state of one machine.
type RegisterFile struct {
	R32    [NumRegs]int32  // 32-bit bank
	R64    [NumRegs]int64  // 64-bit bank
	R128   [NumRegs]Int128 // 128-bit bank
	Rem32  int32           // remainder of the last 32-bit DIV
	Rem64  int64           // remainder of the last 64-bit DIV
	Rem128 Int128          // remainder of the last 128-bit DIV
	Flags  uint8           // comparison flags
}

// Flag constants. CMP sets exactly one of them.
const (
	FlagEqual   uint8 = 1 << 0
	FlagLess    uint8 = 1 << 1
	FlagGreater uint8 = 1 << 2
)

// NewRegisterFile creates a new register file with all registers zeroed.
func NewRegisterFile() *RegisterFile {
	return &RegisterFile{}
}

// Reset clears all registers, remainders and flags.
func (rf *RegisterFile) Reset() {
	*rf = RegisterFile{}
}

// Get returns the value of the register named by s widened to Int128.
func (rf *RegisterFile) Get(s Selector) Int128 {
	i := s.Index()
	switch s.Bank() {
	case Bank32:
		return Int128FromInt64(int64(rf.R32[i]))
	case Bank64:
		return Int128FromInt64(rf.R64[i])
	default:
		return rf.R128[i]
	}
}

// Set stores v into the register named by s, truncating to the bank width.
func (rf *RegisterFile) Set(s Selector, v Int128) {
	i := s.Index()
	switch s.Bank() {
	case Bank32:
		rf.R32[i] = int32(v.Int64())
	case Bank64:
		rf.R64[i] = v.Int64()
	default:
		rf.R128[i] = v
	}
}

// Remainder returns the remainder register of bank b widened to Int128.
func (rf *RegisterFile) Remainder(b Bank) Int128 {
	switch b {
	case Bank32:
		return Int128FromInt64(int64(rf.Rem32))
	case Bank64:
		return Int128FromInt64(rf.Rem64)
	default:
		return rf.Rem128
	}
}

// FlagString renders the flag byte as "EQ", "LT", "GT" or "-".
func FlagString(f uint8) string {
	switch {
	case f&FlagEqual != 0:
		return "EQ"
	case f&FlagLess != 0:
		return "LT"
	case f&FlagGreater != 0:
		return "GT"
	default:
		return "-"
	}
}

// AppendLE appends the register named by s to dst, least-significant byte
// first, using exactly the bank width.
func (rf *RegisterFile) AppendLE(dst []byte, s Selector) []byte {
	i := s.Index()
	switch s.Bank() {
	case Bank32:
		return binary.LittleEndian.AppendUint32(dst, uint32(rf.R32[i]))
	case Bank64:
		return binary.LittleEndian.AppendUint64(dst, uint64(rf.R64[i]))
	default:
		be := rf.R128[i].Bytes()
		for j := len(be) - 1; j >= 0; j-- {
			dst = append(dst, be[j])
		}
		return dst
	}
}

// AddLE reassembles b, least-significant byte first, and adds it into the
// register named by s with wrapping. len(b) must equal the bank width.
func (rf *RegisterFile) AddLE(s Selector, b []byte) {
	i := s.Index()
	switch s.Bank() {
	case Bank32:
		rf.R32[i] += int32(binary.LittleEndian.Uint32(b))
	case Bank64:
		rf.R64[i] += int64(binary.LittleEndian.Uint64(b))
	default:
		var be [16]byte
		for j := range be {
			be[j] = b[len(b)-1-j]
		}
		rf.R128[i] = rf.R128[i].Add(Int128FromBytes(be[:]))
	}
}
