package vm

import "fmt"

// machineInt is the set of native register widths.
type machineInt interface {
	~int32 | ~int64
}

// Apply executes a register-only instruction against rf: LOD, NOP and every
// arithmetic, logical, shift and compare opcode. The bank of the first
// register operand selects the width; a second register operand is read at
// its own index within that bank.
//
// HLT, CAL, PSH and POP touch state outside the register file and are
// rejected with ErrUnknownOpcode.
func (rf *RegisterFile) Apply(inst Instruction) error {
	switch inst.Op {
	case OpNop:
		return nil
	case OpHalt, OpCall, OpPush, OpPop:
		return fmt.Errorf("%w: %s is not an ALU operation", ErrUnknownOpcode, inst.Op)
	}
	if !inst.Op.Valid() {
		return fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, uint8(inst.Op))
	}
	for _, sel := range inst.Registers() {
		if !sel.Valid() {
			return fmt.Errorf("%w: selector 0x%02X", ErrInvalidRegister, uint8(sel))
		}
	}

	if inst.Op == OpLoad {
		rf.Set(inst.Dst(), inst.Immediate())
		return nil
	}

	switch inst.Dst().Bank() {
	case Bank32:
		return applyInt(inst, &rf.R32, &rf.Rem32, &rf.Flags)
	case Bank64:
		return applyInt(inst, &rf.R64, &rf.Rem64, &rf.Flags)
	default:
		return apply128(inst, &rf.R128, &rf.Rem128, &rf.Flags)
	}
}

// applyInt implements the 32- and 64-bit banks with native wrapping
// arithmetic. Go defines MIN / -1 as MIN with remainder 0, and shifts by
// counts at or beyond the width as 0 (left) or the sign fill (right).
func applyInt[T machineInt](inst Instruction, bank *[NumRegs]T, rem *T, flags *uint8) error {
	d := inst.Dst().Index()
	switch inst.Op {
	case OpInc:
		bank[d]++
		return nil
	case OpNot:
		bank[d] = ^bank[d]
		return nil
	case OpShl:
		bank[d] <<= inst.Imm8()
		return nil
	case OpShr:
		bank[d] >>= inst.Imm8()
		return nil
	}

	s := bank[inst.Src().Index()]
	switch inst.Op {
	case OpAdd:
		bank[d] += s
	case OpSub:
		bank[d] -= s
	case OpMul:
		bank[d] *= s
	case OpDiv:
		if s == 0 {
			return ErrDivisionByZero
		}
		*rem = bank[d] % s
		bank[d] /= s
	case OpMod:
		if s == 0 {
			return ErrDivisionByZero
		}
		bank[d] %= s
	case OpAnd:
		bank[d] &= s
	case OpOr:
		bank[d] |= s
	case OpXor:
		bank[d] ^= s
	case OpCompare:
		*flags = compareFlags(bank[d], s)
	default:
		return fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, uint8(inst.Op))
	}
	return nil
}

func compareFlags[T machineInt](a, b T) uint8 {
	switch {
	case a == b:
		return FlagEqual
	case a < b:
		return FlagLess
	default:
		return FlagGreater
	}
}

func apply128(inst Instruction, bank *[NumRegs]Int128, rem *Int128, flags *uint8) error {
	d := inst.Dst().Index()
	switch inst.Op {
	case OpInc:
		bank[d] = bank[d].Add(Int128FromInt64(1))
		return nil
	case OpNot:
		bank[d] = bank[d].Not()
		return nil
	case OpShl:
		bank[d] = bank[d].Lsh(uint(inst.Imm8()))
		return nil
	case OpShr:
		bank[d] = bank[d].Rsh(uint(inst.Imm8()))
		return nil
	}

	s := bank[inst.Src().Index()]
	switch inst.Op {
	case OpAdd:
		bank[d] = bank[d].Add(s)
	case OpSub:
		bank[d] = bank[d].Sub(s)
	case OpMul:
		bank[d] = bank[d].Mul(s)
	case OpDiv:
		if s.IsZero() {
			return ErrDivisionByZero
		}
		*rem = bank[d].Rem(s)
		bank[d] = bank[d].Quo(s)
	case OpMod:
		if s.IsZero() {
			return ErrDivisionByZero
		}
		bank[d] = bank[d].Rem(s)
	case OpAnd:
		bank[d] = bank[d].And(s)
	case OpOr:
		bank[d] = bank[d].Or(s)
	case OpXor:
		bank[d] = bank[d].Xor(s)
	case OpCompare:
		switch bank[d].Cmp(s) {
		case 0:
			*flags = FlagEqual
		case -1:
			*flags = FlagLess
		default:
			*flags = FlagGreater
		}
	default:
		return fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, uint8(inst.Op))
	}
	return nil
}
