package vm

import (
	"errors"
	"fmt"
	"strings"
)

// Fault kinds. Every one of them ends the run; match with errors.Is.
var (
	ErrStreamOverrun   = errors.New("program counter overrun (missing HLT?)")
	ErrInvalidRegister = errors.New("invalid register selector")
	ErrDivisionByZero  = errors.New("division by zero")
	ErrStackUnderflow  = errors.New("stack underflow")
	ErrCallOutOfBounds = errors.New("cannot call out-of-bounds segment")
	ErrUnknownOpcode   = errors.New("unknown opcode")

	// Host guards
	ErrCallDepth    = errors.New("call depth limit exceeded")
	ErrStackLimit   = errors.New("stack limit exceeded")
	ErrStepLimit    = errors.New("step limit exceeded")
	ErrEmptyLibrary = errors.New("library has no segments")
)

// Frame locates a CAL instruction in a caller.
type Frame struct {
	Segment int
	PC      int
}

// Fault describes why and where a run stopped.
type Fault struct {
	Kind    error   // one of the Err* kinds, or a context error
	Op      Opcode  // opcode being executed, valid when Decoded is set
	Decoded bool    // false when the opcode byte itself could not be read
	Segment int     // segment index the fault occurred in
	PC      int     // offset of the faulting opcode byte
	Depth   int     // call depth, 0 for the entry segment
	Chain   []Frame // callers, innermost first
	Detail  string
}

func (f *Fault) Error() string {
	var b strings.Builder
	b.WriteString(f.Kind.Error())
	if f.Detail != "" {
		b.WriteString(": ")
		b.WriteString(f.Detail)
	}
	b.WriteString(" (")
	if f.Decoded {
		fmt.Fprintf(&b, "%s ", f.Op)
	}
	fmt.Fprintf(&b, "at segment %d pc %d", f.Segment, f.PC)
	for _, fr := range f.Chain {
		fmt.Fprintf(&b, ", called from segment %d pc %d", fr.Segment, fr.PC)
	}
	b.WriteString(")")
	return b.String()
}

func (f *Fault) Unwrap() error { return f.Kind }

// newFault splits err into a kind and detail. Errors produced inside the
// package wrap a sentinel with "%w: detail".
func newFault(err error, inst Instruction, decoded bool, segment, depth int) *Fault {
	f := &Fault{Kind: err, Op: inst.Op, Decoded: decoded, Segment: segment, PC: inst.Offset, Depth: depth}
	for _, kind := range []error{
		ErrStreamOverrun, ErrInvalidRegister, ErrDivisionByZero, ErrStackUnderflow,
		ErrCallOutOfBounds, ErrUnknownOpcode, ErrCallDepth, ErrStackLimit, ErrStepLimit,
	} {
		if errors.Is(err, kind) {
			f.Kind = kind
			if msg := strings.TrimPrefix(err.Error(), kind.Error()); msg != err.Error() {
				f.Detail = strings.TrimPrefix(msg, ": ")
			}
			break
		}
	}
	return f
}
