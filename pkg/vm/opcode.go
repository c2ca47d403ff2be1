package vm

// Opcode represents a VM instruction opcode.
type Opcode uint8

const (
	// ===== Control Flow =====
	OpHalt Opcode = 0x00 // Stop execution, return control to the caller
	OpNop  Opcode = 0x01 // No operation

	// ===== Data Loading =====
	OpLoad Opcode = 0x02 // R[dst] = imm (4/8/16 bytes, big-endian, by dst bank)

	// ===== Arithmetic =====
	OpAdd Opcode = 0x03 // R[dst] = R[dst] + R[src]
	OpSub Opcode = 0x04 // R[dst] = R[dst] - R[src]
	OpMul Opcode = 0x05 // R[dst] = R[dst] * R[src]
	OpDiv Opcode = 0x06 // REM[w] = R[dst] % R[src]; R[dst] = R[dst] / R[src]
	OpMod Opcode = 0x07 // R[dst] = R[dst] % R[src]

	// ===== Shifts =====
	OpShr Opcode = 0x08 // R[dst] = R[dst] >> imm8 (arithmetic)
	OpShl Opcode = 0x09 // R[dst] = R[dst] << imm8

	// ===== Logical =====
	OpAnd Opcode = 0x0A // R[dst] = R[dst] & R[src]
	OpOr  Opcode = 0x0B // R[dst] = R[dst] | R[src]
	OpNot Opcode = 0x0C // R[dst] = ^R[dst]
	OpXor Opcode = 0x0D // R[dst] = R[dst] ^ R[src]

	// ===== Calls & Comparison =====
	OpCall    Opcode = 0x0E // run segment (caller + 1 + imm8) to completion
	OpCompare Opcode = 0x0F // FLAGS = compare(R[a], R[b])

	// ===== Late additions =====
	OpInc  Opcode = 0x10 // R[dst] = R[dst] + 1
	OpPush Opcode = 0x11 // STACK <- R[src], least-significant byte first
	OpPop  Opcode = 0x12 // R[dst] += STACK[sp-w:sp]; sp -= w
)

// OperandKind describes one operand slot of an instruction.
type OperandKind uint8

const (
	OperandReg       OperandKind = iota // one selector byte
	OperandImm                          // immediate sized by the preceding register's bank
	OperandByte                         // raw byte (shift amount, call target)
)

// operandLayouts lists the operand slots of every defined opcode.
var operandLayouts = map[Opcode][]OperandKind{
	OpHalt:    nil,
	OpNop:     nil,
	OpLoad:    {OperandReg, OperandImm},
	OpAdd:     {OperandReg, OperandReg},
	OpSub:     {OperandReg, OperandReg},
	OpMul:     {OperandReg, OperandReg},
	OpDiv:     {OperandReg, OperandReg},
	OpMod:     {OperandReg, OperandReg},
	OpShr:     {OperandReg, OperandByte},
	OpShl:     {OperandReg, OperandByte},
	OpAnd:     {OperandReg, OperandReg},
	OpOr:      {OperandReg, OperandReg},
	OpNot:     {OperandReg},
	OpXor:     {OperandReg, OperandReg},
	OpCall:    {OperandByte},
	OpCompare: {OperandReg, OperandReg},
	OpInc:     {OperandReg},
	OpPush:    {OperandReg},
	OpPop:     {OperandReg},
}

// Operands returns the operand layout of the opcode and whether the opcode
// is defined.
func (o Opcode) Operands() ([]OperandKind, bool) {
	layout, ok := operandLayouts[o]
	return layout, ok
}

// Valid reports whether o is a defined opcode.
func (o Opcode) Valid() bool {
	_, ok := operandLayouts[o]
	return ok
}

// String returns the mnemonic of an opcode.
func (o Opcode) String() string {
	switch o {
	case OpHalt:
		return "HLT"
	case OpNop:
		return "NOP"
	case OpLoad:
		return "LOD"
	case OpAdd:
		return "ADD"
	case OpSub:
		return "SUB"
	case OpMul:
		return "MUL"
	case OpDiv:
		return "DIV"
	case OpMod:
		return "MOD"
	case OpShr:
		return "SHR"
	case OpShl:
		return "SHL"
	case OpAnd:
		return "AND"
	case OpOr:
		return "OR"
	case OpNot:
		return "NOT"
	case OpXor:
		return "XOR"
	case OpCall:
		return "CAL"
	case OpCompare:
		return "CMP"
	case OpInc:
		return "INC"
	case OpPush:
		return "PSH"
	case OpPop:
		return "POP"
	default:
		return "UNKNOWN"
	}
}

// OpcodeFromString returns the opcode for the given mnemonic.
func OpcodeFromString(s string) (Opcode, bool) {
	switch s {
	case "HLT":
		return OpHalt, true
	case "NOP":
		return OpNop, true
	case "LOD":
		return OpLoad, true
	case "ADD":
		return OpAdd, true
	case "SUB":
		return OpSub, true
	case "MUL":
		return OpMul, true
	case "DIV":
		return OpDiv, true
	case "MOD":
		return OpMod, true
	case "SHR":
		return OpShr, true
	case "SHL":
		return OpShl, true
	case "AND":
		return OpAnd, true
	case "OR":
		return OpOr, true
	case "NOT":
		return OpNot, true
	case "XOR":
		return OpXor, true
	case "CAL":
		return OpCall, true
	case "CMP":
		return OpCompare, true
	case "INC":
		return OpInc, true
	case "PSH":
		return OpPush, true
	case "POP":
		return OpPop, true
	default:
		return 0, false
	}
}
