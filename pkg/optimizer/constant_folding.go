package optimizer

import (
	"github.com/akhildatla/regvm/pkg/vm"
)

// constantFolding replaces register operations whose inputs are known with
// a LOD of the result. Every machine starts with zeroed registers, so all
// registers are known at the top of a segment.
//
// For example:
//
//	LOD w0, #5
//	LOD w1, #10
//	ADD w0, w1
//
// Becomes:
//
//	LOD w0, #5
//	LOD w1, #10
//	LOD w0, #15
//
// DIV is never folded because it also writes the remainder register. POP
// makes its destination unknown. CAL does not touch the caller's registers.
func (o *Optimizer) constantFolding(insts []vm.Instruction) []vm.Instruction {
	var regs vm.RegisterFile
	var unknown vm.RegisterSet

	newCode := make([]vm.Instruction, 0, len(insts))
	for n, inst := range insts {
		switch inst.Op {
		case vm.OpLoad:
			regs.Set(inst.Dst(), inst.Immediate())
			unknown.Remove(inst.Dst())
			newCode = append(newCode, inst)

		case vm.OpPop:
			unknown.Add(inst.Dst())
			newCode = append(newCode, inst)

		case vm.OpAdd, vm.OpSub, vm.OpMul, vm.OpMod, vm.OpAnd, vm.OpOr, vm.OpXor,
			vm.OpShl, vm.OpShr, vm.OpNot, vm.OpInc, vm.OpDiv:
			dst := inst.Dst()
			known := !unknown.Has(dst)
			if isBinary(inst.Op) {
				known = known && !unknown.Has(source(inst))
			}

			if !known {
				unknown.Add(dst)
				newCode = append(newCode, inst)
				continue
			}

			if err := regs.Apply(inst); err != nil {
				// The instruction faults at run time; nothing after it runs.
				return append(newCode, insts[n:]...)
			}
			if inst.Op == vm.OpDiv {
				newCode = append(newCode, inst)
				continue
			}
			newCode = append(newCode, vm.Load(dst, regs.Get(dst)))

		default:
			// HLT, NOP, CMP, PSH, CAL
			newCode = append(newCode, inst)
		}
	}

	return newCode
}
