package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/akhildatla/regvm/pkg/vm"
)

// OperandType represents the type of an operand.
type OperandType uint8

const (
	OperandReg   OperandType = iota
	OperandImm               // #N or iW N
	OperandInt               // plain integer
	OperandIdent             // segment name (CAL target)
)

// Operand represents an instruction operand.
type Operand struct {
	Type  OperandType
	Reg   vm.Selector // For registers
	Width int         // For immediates: 32, 64, 128, or 0 for '#'
	Text  string      // Literal digits, or the identifier
}

// AsmInstruction represents a parsed assembly instruction or .byte
// directive.
type AsmInstruction struct {
	Opcode   string
	Operands []Operand
	Line     int
}

// AsmSegment is one .segment block.
type AsmSegment struct {
	Name         string
	Line         int
	Instructions []AsmInstruction
}

// AsmProgram represents a parsed assembly program.
type AsmProgram struct {
	Segments []AsmSegment
}

// Parser parses regvm assembly source code.
type Parser struct {
	tokens  []Token
	pos     int
	program *AsmProgram
}

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	lexer := NewLexer(input)
	tokens := lexer.Tokenize()
	return &Parser{
		tokens:  tokens,
		pos:     0,
		program: &AsmProgram{},
	}
}

// Parse parses the entire input and returns the program. Instructions
// before the first .segment go into an implicit unnamed segment.
func (p *Parser) Parse() (*AsmProgram, error) {
	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]

		switch tok.Type {
		case TokenEOF:
			return p.program, nil

		case TokenNewline:
			p.pos++

		case TokenDirective:
			if err := p.parseDirective(); err != nil {
				return nil, err
			}

		case TokenIdent:
			inst, err := p.parseInstruction()
			if err != nil {
				return nil, err
			}
			seg := p.current(tok.Line)
			seg.Instructions = append(seg.Instructions, inst)

		default:
			return nil, fmt.Errorf("line %d: unexpected token: %s", tok.Line, tok.Value)
		}
	}

	return p.program, nil
}

// current returns the segment instructions are added to.
func (p *Parser) current(line int) *AsmSegment {
	if len(p.program.Segments) == 0 {
		p.program.Segments = append(p.program.Segments, AsmSegment{Line: line})
	}
	return &p.program.Segments[len(p.program.Segments)-1]
}

func (p *Parser) parseDirective() error {
	tok := p.tokens[p.pos]
	switch strings.ToLower(tok.Value) {
	case ".segment":
		p.pos++
		seg := AsmSegment{Line: tok.Line}
		if next := p.tokens[p.pos]; next.Type == TokenIdent || next.Type == TokenReg {
			seg.Name = next.Value
			p.pos++
		}
		if next := p.tokens[p.pos]; next.Type != TokenNewline && next.Type != TokenEOF {
			return fmt.Errorf("line %d: unexpected token after .segment: %s", next.Line, next.Value)
		}
		p.program.Segments = append(p.program.Segments, seg)
		return nil

	case ".byte":
		inst, err := p.parseInstruction()
		if err != nil {
			return err
		}
		inst.Opcode = ".byte"
		seg := p.current(tok.Line)
		seg.Instructions = append(seg.Instructions, inst)
		return nil

	default:
		return fmt.Errorf("line %d: unknown directive: %s", tok.Line, tok.Value)
	}
}

func (p *Parser) parseInstruction() (AsmInstruction, error) {
	inst := AsmInstruction{
		Opcode:   p.tokens[p.pos].Value,
		Line:     p.tokens[p.pos].Line,
		Operands: []Operand{},
	}
	p.pos++ // Consume opcode

	// Parse operands until newline or EOF
	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]

		if tok.Type == TokenNewline || tok.Type == TokenEOF {
			break
		}

		if tok.Type == TokenComma {
			p.pos++
			continue
		}

		operand, err := p.parseOperand()
		if err != nil {
			return inst, err
		}
		inst.Operands = append(inst.Operands, operand)
	}

	return inst, nil
}

func (p *Parser) parseOperand() (Operand, error) {
	tok := p.tokens[p.pos]

	switch tok.Type {
	case TokenReg:
		sel, err := ParseRegister(tok.Value)
		if err != nil {
			return Operand{}, fmt.Errorf("line %d: %w", tok.Line, err)
		}
		p.pos++
		return Operand{Type: OperandReg, Reg: sel, Text: tok.Value}, nil

	case TokenImm:
		op, err := parseImmediate(tok.Value)
		if err != nil {
			return Operand{}, fmt.Errorf("line %d: %w", tok.Line, err)
		}
		p.pos++
		return op, nil

	case TokenInt:
		p.pos++
		return Operand{Type: OperandInt, Text: tok.Value}, nil

	case TokenIdent:
		p.pos++
		return Operand{Type: OperandIdent, Text: tok.Value}, nil

	default:
		return Operand{}, fmt.Errorf("line %d: unexpected token: %s", tok.Line, tok.Value)
	}
}

// ParseRegister accepts r<selector byte> or a bank alias w/d/q<index>.
func ParseRegister(value string) (vm.Selector, error) {
	if len(value) < 2 {
		return 0, fmt.Errorf("invalid register: %q", value)
	}
	num, err := strconv.ParseUint(value[1:], 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid register: %s", value)
	}

	var bank vm.Bank
	switch value[0] {
	case 'r', 'R':
		sel := vm.Selector(num)
		if !sel.Valid() {
			return 0, fmt.Errorf("invalid register: %s (bank bits 11)", value)
		}
		return sel, nil
	case 'w', 'W':
		bank = vm.Bank32
	case 'd', 'D':
		bank = vm.Bank64
	case 'q', 'Q':
		bank = vm.Bank128
	default:
		return 0, fmt.Errorf("invalid register: %s", value)
	}
	if num >= vm.NumRegs {
		return 0, fmt.Errorf("invalid register: %s (index must be below %d)", value, vm.NumRegs)
	}
	return vm.MakeSelector(bank, uint8(num)), nil
}

func parseImmediate(value string) (Operand, error) {
	if digits, ok := strings.CutPrefix(value, "#"); ok {
		if digits == "" {
			return Operand{}, fmt.Errorf("missing immediate after #")
		}
		return Operand{Type: OperandImm, Text: digits}, nil
	}
	lower := strings.ToLower(value)
	for _, w := range []int{128, 32, 64} {
		if digits, ok := strings.CutPrefix(lower, "i"+strconv.Itoa(w)); ok {
			return Operand{Type: OperandImm, Width: w, Text: digits}, nil
		}
	}
	return Operand{}, fmt.Errorf("invalid immediate: %s", value)
}
