package vm

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"
)

// Target resolves a CAL operand issued from segment caller. Targets are
// relative: operand 0 names the segment right after the caller.
func Target(caller int, operand uint8) int {
	return caller + 1 + int(operand)
}

// call runs the target segment to completion on a fresh machine that
// shares the run, then lets the caller resume after the operand.
func (m *Machine) call(inst Instruction) error {
	r := m.run
	target := Target(m.segment, inst.Imm8())
	if target >= len(r.lib) {
		return m.fault(fmt.Errorf("%w: segment %d of %d", ErrCallOutOfBounds, target, len(r.lib)), inst, true)
	}
	if m.depth+1 > r.maxDepth {
		return m.fault(fmt.Errorf("%w: depth %d", ErrCallDepth, r.maxDepth), inst, true)
	}

	child := &Machine{segment: target, depth: m.depth + 1, run: r}
	if r.statsEnabled {
		r.stats.Calls++
		if child.depth > r.stats.MaxDepth {
			r.stats.MaxDepth = child.depth
		}
	}
	if r.log.AllowLevel(commonlog.Debug) {
		r.log.Debugf("call segment %d -> %d (depth %d, sp %d)", m.segment, target, child.depth, r.stack.SP())
	}

	if err := child.Run(); err != nil {
		var f *Fault
		if errors.As(err, &f) {
			f.Chain = append(f.Chain, Frame{Segment: m.segment, PC: inst.Offset})
		}
		return err
	}

	if r.log.AllowLevel(commonlog.Debug) {
		r.log.Debugf("return segment %d -> %d (sp %d)", target, m.segment, r.stack.SP())
	}
	return nil
}
