package optimizer

import (
	"github.com/akhildatla/regvm/pkg/vm"
)

// Optimizer rewrites library segments into shorter equivalents.
//
// Segments are straight-line code: there are no jumps, so everything after
// the first HLT is unreachable and each pass is a single linear scan. A
// segment that does not decode cleanly up to a HLT is left untouched, so
// its fault is preserved.
type Optimizer struct {
	enableConstantFolding bool
	enableDeadCode        bool
}

// Option is a functional option for the Optimizer.
type Option func(*Optimizer)

// WithConstantFolding enables constant folding optimization.
func WithConstantFolding() Option {
	return func(o *Optimizer) {
		o.enableConstantFolding = true
	}
}

// WithAllOptimizations enables all optimizations.
func WithAllOptimizations() Option {
	return func(o *Optimizer) {
		o.enableConstantFolding = true
		o.enableDeadCode = true
	}
}

// New creates a new Optimizer with the given options.
func New(opts ...Option) *Optimizer {
	opt := &Optimizer{}
	for _, o := range opts {
		o(opt)
	}
	return opt
}

// Optimize applies enabled optimizations to every segment of the program.
// The input is not modified.
func (o *Optimizer) Optimize(program *vm.Program) *vm.Program {
	result := &vm.Program{
		Segments: make(vm.Library, len(program.Segments)),
		Names:    append([]string(nil), program.Names...),
	}

	for i, seg := range program.Segments {
		insts, ok := reachable(seg)
		if !ok {
			result.Segments[i] = append(vm.Segment(nil), seg...)
			continue
		}

		if o.enableConstantFolding {
			insts = o.constantFolding(insts)
		}

		if o.enableDeadCode {
			insts = o.deadCodeElimination(insts, i == 0)
		}

		result.Segments[i] = vm.Segment(vm.EncodeSegment(insts))
	}

	return result
}

// reachable decodes seg up to and including its first HLT.
func reachable(seg vm.Segment) ([]vm.Instruction, bool) {
	d := vm.NewDecoder(seg)
	var insts []vm.Instruction
	for {
		inst, err := d.Next()
		if err != nil {
			return nil, false
		}
		insts = append(insts, inst)
		if inst.Op == vm.OpHalt {
			return insts, true
		}
	}
}

// source returns the register a binary instruction reads as its second
// operand: the src index within the dst bank.
func source(inst vm.Instruction) vm.Selector {
	return vm.MakeSelector(inst.Dst().Bank(), inst.Src().Index())
}

func isBinary(op vm.Opcode) bool {
	switch op {
	case vm.OpAdd, vm.OpSub, vm.OpMul, vm.OpDiv, vm.OpMod,
		vm.OpAnd, vm.OpOr, vm.OpXor, vm.OpCompare:
		return true
	}
	return false
}
