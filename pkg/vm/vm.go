// Package vm implements the regvm register machine.
//
// The machine is a register-based bytecode interpreter with:
//   - three banks of 64 signed registers (32, 64 and 128 bits wide)
//   - a remainder register per width, written by DIV
//   - comparison flags written by CMP
//   - a scratch byte stack shared by every machine of one run
//   - CAL, which runs another segment of the library as a nested machine
//
// Basic usage:
//
//	m, err := vm.New(vm.Library{seg0, seg1}, vm.NewStack())
//	if err != nil { ... }
//	err = m.Run()
//
// With host guards:
//
//	m.SetMaxSteps(10000)
//	m.SetMaxCallDepth(64)
//	m.SetContext(ctx)
//	err = m.Run()
package vm

import (
	"context"
	"time"

	"github.com/tliron/commonlog"
)

// DefaultMaxCallDepth bounds CAL nesting when no other limit is set.
const DefaultMaxCallDepth = 1024

// Segment is one instruction stream.
type Segment []byte

// Library is the ordered set of segments a run can call into. Index 0 is
// the entry segment.
type Library []Segment

// Size returns the number of code bytes across all segments.
func (l Library) Size() int {
	n := 0
	for _, seg := range l {
		n += len(seg)
	}
	return n
}

// ExecutionStats contains metrics about one run, nested calls included.
type ExecutionStats struct {
	StepsExecuted   int64          // Total instructions executed
	Calls           int64          // CAL instructions that started a nested machine
	MaxDepth        int            // Deepest call level reached
	PeakStack       int            // Highest stack pointer seen, in bytes
	ExecutionTimeNs int64          // Execution time in nanoseconds
	OpCounts        map[string]int // Count of each opcode executed
}

// TraceEvent describes one executed instruction.
type TraceEvent struct {
	Step        int64
	Depth       int
	Segment     int
	Instruction Instruction
	Registers   *RegisterFile // state after the instruction; do not retain
	SP          int
}

// Tracer receives every executed instruction.
type Tracer func(TraceEvent)

// run is the state shared by the top-level machine and every nested one.
type run struct {
	lib      Library
	stack    *Stack
	ctx      context.Context
	maxSteps int64
	maxDepth int
	steps    int64
	tracer   Tracer
	log      commonlog.Logger

	stats        ExecutionStats
	statsEnabled bool
}

// Machine executes one segment. Registers, flags and remainders are
// private to it; the library, stack and host guards belong to the run.
type Machine struct {
	regs    RegisterFile
	segment int
	depth   int
	run     *run
}

// New creates the top-level machine of a run over lib's entry segment.
// A nil stack gets a fresh one.
func New(lib Library, stack *Stack) (*Machine, error) {
	if len(lib) == 0 {
		return nil, ErrEmptyLibrary
	}
	if stack == nil {
		stack = NewStack()
	}
	return &Machine{
		run: &run{
			lib:      lib,
			stack:    stack,
			maxDepth: DefaultMaxCallDepth,
			log:      commonlog.GetLogger("regvm.vm"),
		},
	}, nil
}

// SetMaxSteps limits the total instructions executed by the run, nested
// calls included. Zero means unlimited.
func (m *Machine) SetMaxSteps(n int64) {
	m.run.maxSteps = n
}

// SetMaxCallDepth limits CAL nesting. Zero or less restores the default.
func (m *Machine) SetMaxCallDepth(n int) {
	if n <= 0 {
		n = DefaultMaxCallDepth
	}
	m.run.maxDepth = n
}

// SetContext sets the context checked between instructions.
func (m *Machine) SetContext(ctx context.Context) {
	m.run.ctx = ctx
}

// SetLogger replaces the "regvm.vm" logger.
func (m *Machine) SetLogger(log commonlog.Logger) {
	m.run.log = log
}

// SetTracer installs a hook called after every instruction.
func (m *Machine) SetTracer(t Tracer) {
	m.run.tracer = t
}

// EnableStats enables execution statistics collection.
func (m *Machine) EnableStats() {
	m.run.statsEnabled = true
	m.run.stats = ExecutionStats{
		OpCounts: make(map[string]int),
	}
}

// Stats returns the statistics of the last Run.
// Returns nil if stats were not enabled via EnableStats().
func (m *Machine) Stats() *ExecutionStats {
	if !m.run.statsEnabled {
		return nil
	}
	return &m.run.stats
}

// Registers returns the machine's register file.
func (m *Machine) Registers() *RegisterFile {
	return &m.regs
}

// Stack returns the run's scratch stack.
func (m *Machine) Stack() *Stack {
	return m.run.stack
}

// Segment returns the index of the segment this machine executes.
func (m *Machine) Segment() int {
	return m.segment
}

// Run executes the machine's segment from its first byte until HLT.
// Registers are zeroed first. Any fault ends the whole run and is returned
// as a *Fault.
func (m *Machine) Run() error {
	m.regs.Reset()
	if m.depth == 0 {
		m.run.steps = 0
		if m.run.statsEnabled {
			m.EnableStats()
			start := time.Now()
			defer func() {
				m.run.stats.ExecutionTimeNs = time.Since(start).Nanoseconds()
			}()
		}
	}
	err := m.exec()
	if err != nil && m.depth == 0 && m.run.log.AllowLevel(commonlog.Error) {
		m.run.log.Errorf("run failed: %s", err)
	}
	return err
}

func (m *Machine) exec() error {
	r := m.run
	d := NewDecoder(r.lib[m.segment])

	for {
		if r.ctx != nil {
			select {
			case <-r.ctx.Done():
				return m.fault(r.ctx.Err(), Instruction{Offset: d.PC()}, false)
			default:
			}
		}

		inst, err := d.Next()
		if err != nil {
			return m.fault(err, inst, d.PC() > inst.Offset)
		}

		r.steps++
		if r.maxSteps > 0 && r.steps > r.maxSteps {
			return m.fault(ErrStepLimit, inst, true)
		}
		if r.statsEnabled {
			r.stats.StepsExecuted++
			r.stats.OpCounts[inst.Op.String()]++
		}

		switch inst.Op {
		case OpHalt:
			m.trace(inst)
			return nil

		case OpPush:
			buf := m.regs.AppendLE(make([]byte, 0, 16), inst.Dst())
			if err := r.stack.Push(buf); err != nil {
				return m.fault(err, inst, true)
			}
			if r.statsEnabled && r.stack.SP() > r.stats.PeakStack {
				r.stats.PeakStack = r.stack.SP()
			}

		case OpPop:
			sel := inst.Dst()
			b, err := r.stack.Pop(sel.Bank().Width())
			if err != nil {
				return m.fault(err, inst, true)
			}
			m.regs.AddLE(sel, b)

		case OpCall:
			if err := m.call(inst); err != nil {
				return err
			}

		default:
			if err := m.regs.Apply(inst); err != nil {
				return m.fault(err, inst, true)
			}
		}
		m.trace(inst)
	}
}

func (m *Machine) trace(inst Instruction) {
	if m.run.tracer == nil {
		return
	}
	m.run.tracer(TraceEvent{
		Step:        m.run.steps,
		Depth:       m.depth,
		Segment:     m.segment,
		Instruction: inst,
		Registers:   &m.regs,
		SP:          m.run.stack.SP(),
	})
}

func (m *Machine) fault(err error, inst Instruction, decoded bool) *Fault {
	return newFault(err, inst, decoded, m.segment, m.depth)
}
