package optimizer

import (
	"github.com/akhildatla/regvm/pkg/vm"
)

// WithDeadCodeElimination enables dead code elimination.
func WithDeadCodeElimination() Option {
	return func(o *Optimizer) {
		o.enableDeadCode = true
	}
}

// deadCodeElimination removes NOPs and register writes that are never
// read. Registers of the entry segment are visible to the host after HLT,
// so they are all live there; a called segment's registers are discarded
// when it halts.
//
// Only writes that cannot fault are removed. DIV, MOD, CMP, PSH, POP and CAL
// have effects beyond their destination register and are always kept.
func (o *Optimizer) deadCodeElimination(insts []vm.Instruction, entry bool) []vm.Instruction {
	if len(insts) == 0 {
		return insts
	}

	var live vm.RegisterSet
	if entry {
		live = vm.AllRegisters()
	}

	needed := make([]bool, len(insts))
	for i := len(insts) - 1; i >= 0; i-- {
		inst := insts[i]

		if inst.Op == vm.OpNop {
			continue
		}
		if pure(inst.Op) && !live.Has(inst.Dst()) {
			continue
		}
		needed[i] = true

		if inst.Op == vm.OpLoad {
			live.Remove(inst.Dst())
			continue
		}
		markSourcesUsed(inst, &live)
	}

	newCode := make([]vm.Instruction, 0, len(insts))
	for i, inst := range insts {
		if needed[i] {
			newCode = append(newCode, inst)
		}
	}
	return newCode
}

// pure reports whether op only writes its destination register and never
// faults once decoded.
func pure(op vm.Opcode) bool {
	switch op {
	case vm.OpLoad, vm.OpAdd, vm.OpSub, vm.OpMul, vm.OpAnd, vm.OpOr, vm.OpXor,
		vm.OpShl, vm.OpShr, vm.OpNot, vm.OpInc:
		return true
	}
	return false
}

// markSourcesUsed marks the registers inst reads as live. Every opcode
// with a register operand except LOD reads its first one.
func markSourcesUsed(inst vm.Instruction, live *vm.RegisterSet) {
	if len(inst.Registers()) == 0 {
		return
	}
	live.Add(inst.Dst())
	if isBinary(inst.Op) {
		live.Add(source(inst))
	}
}
