package vm

import (
	"context"
	"errors"
	"testing"
)

func r32(i uint8) Selector  { return MakeSelector(Bank32, i) }
func r64(i uint8) Selector  { return MakeSelector(Bank64, i) }
func r128(i uint8) Selector { return MakeSelector(Bank128, i) }

func ld(s Selector, v int64) Instruction { return Load(s, Int128FromInt64(v)) }

func op1(op Opcode, s Selector) Instruction { return NewInstruction(op, byte(s)) }

func op2(op Opcode, a, b Selector) Instruction { return NewInstruction(op, byte(a), byte(b)) }

func hlt() Instruction { return NewInstruction(OpHalt) }

func cal(n uint8) Instruction { return NewInstruction(OpCall, n) }

func seg(insts ...Instruction) Segment { return Segment(EncodeSegment(insts)) }

func newMachine(t *testing.T, lib ...Segment) *Machine {
	t.Helper()
	m, err := New(Library(lib), NewStack())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return m
}

func mustRun(t *testing.T, lib ...Segment) *Machine {
	t.Helper()
	m := newMachine(t, lib...)
	if err := m.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return m
}

func expectFault(t *testing.T, err error, kind error) *Fault {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}
	var f *Fault
	if !errors.As(err, &f) {
		t.Fatalf("expected *Fault, got %T", err)
	}
	return f
}

// ===== End-to-end programs =====

func TestVM_AddTwoLoads(t *testing.T) {
	m := mustRun(t, seg(
		ld(r32(0), 1),
		ld(r32(1), 100),
		op2(OpAdd, r32(0), r32(1)),
		hlt(),
	))
	if got := m.Registers().R32[0]; got != 101 {
		t.Errorf("expected r0 = 101, got %d", got)
	}
}

func TestVM_PushTwicePopTwice(t *testing.T) {
	m := mustRun(t, seg(
		ld(r32(0), 0x0FFFFFFF),
		op1(OpPush, r32(0)),
		op1(OpPush, r32(0)),
		ld(r32(0), 0),
		op1(OpPop, r32(0)),
		op1(OpPop, r32(1)),
		hlt(),
	))
	regs := m.Registers()
	if regs.R32[0] != 0x0FFFFFFF {
		t.Errorf("expected r0 = 0x0FFFFFFF, got 0x%X", regs.R32[0])
	}
	if regs.R32[1] != 0x0FFFFFFF {
		t.Errorf("expected r1 = 0x0FFFFFFF, got 0x%X", regs.R32[1])
	}
	if sp := m.Stack().SP(); sp != 0 {
		t.Errorf("expected sp = 0, got %d", sp)
	}
}

func TestVM_CallRunsNextSegment(t *testing.T) {
	m := newMachine(t,
		seg(cal(0), hlt()),
		seg(ld(r32(0), 0xFF), hlt()),
	)
	var nested int32 = -1
	m.SetTracer(func(ev TraceEvent) {
		if ev.Segment == 1 && ev.Instruction.Op == OpHalt {
			nested = ev.Registers.R32[0]
		}
	})
	if err := m.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if nested != 0xFF {
		t.Errorf("expected nested r0 = 0xFF, got 0x%X", nested)
	}
	if got := m.Registers().R32[0]; got != 0 {
		t.Errorf("expected caller r0 = 0, got %d", got)
	}
}

func TestVM_DivWritesRemainder(t *testing.T) {
	m := mustRun(t, seg(
		ld(r32(0), 100),
		ld(r32(1), 3),
		op2(OpDiv, r32(0), r32(1)),
		hlt(),
	))
	regs := m.Registers()
	if regs.R32[0] != 33 {
		t.Errorf("expected r0 = 33, got %d", regs.R32[0])
	}
	if regs.Rem32 != 1 {
		t.Errorf("expected rem32 = 1, got %d", regs.Rem32)
	}
}

// ===== Loads =====

func TestVM_LoadAllWidths(t *testing.T) {
	big, err := ParseInt128("-0x7edcba9876543210fedcba9876543210")
	if err != nil {
		t.Fatalf("ParseInt128 failed: %v", err)
	}
	m := mustRun(t, seg(
		ld(r32(0), 0xFFFFFFFF),
		ld(r32(63), 0x12345678),
		ld(r64(0), -2),
		ld(r64(5), 0x0102030405060708),
		Load(r128(7), big),
		hlt(),
	))
	regs := m.Registers()
	if regs.R32[0] != -1 {
		t.Errorf("expected r32[0] = -1, got %d", regs.R32[0])
	}
	if regs.R32[63] != 0x12345678 {
		t.Errorf("expected r32[63] = 0x12345678, got 0x%X", regs.R32[63])
	}
	if regs.R64[0] != -2 {
		t.Errorf("expected r64[0] = -2, got %d", regs.R64[0])
	}
	if regs.R64[5] != 0x0102030405060708 {
		t.Errorf("expected r64[5] = 0x0102030405060708, got 0x%X", regs.R64[5])
	}
	if regs.R128[7].Cmp(big) != 0 {
		t.Errorf("expected r128[7] = %s, got %s", big, regs.R128[7])
	}
}

func TestVM_LoadImmediateIsBigEndian(t *testing.T) {
	code := Segment{byte(OpLoad), byte(r32(2)), 0x01, 0x02, 0x03, 0x04, byte(OpHalt)}
	m := mustRun(t, code)
	if got := m.Registers().R32[2]; got != 0x01020304 {
		t.Errorf("expected 0x01020304, got 0x%X", got)
	}
}

func TestVM_BanksAreDisjoint(t *testing.T) {
	m := mustRun(t, seg(
		ld(r32(5), 1),
		ld(r64(5), 2),
		ld(r128(5), 3),
		hlt(),
	))
	regs := m.Registers()
	if regs.R32[5] != 1 || regs.R64[5] != 2 || regs.R128[5].Int64() != 3 {
		t.Errorf("expected 1/2/3, got %d/%d/%s", regs.R32[5], regs.R64[5], regs.R128[5])
	}
}

func TestVM_MixedBankOperandsUseFirstBank(t *testing.T) {
	m := mustRun(t, seg(
		ld(r32(1), 5),
		ld(r64(1), 100),
		ld(r32(0), 1),
		op2(OpAdd, r32(0), r64(1)),
		hlt(),
	))
	if got := m.Registers().R32[0]; got != 6 {
		t.Errorf("expected 6 (reads r32[1]), got %d", got)
	}
}

// ===== Stack =====

func TestVM_PushPopRoundTripAllWidths(t *testing.T) {
	v128, _ := ParseInt128("-12345678901234567890123456789")
	m := mustRun(t, seg(
		ld(r32(0), -123456),
		ld(r64(0), -1234567890123),
		Load(r128(0), v128),
		op1(OpPush, r32(0)),
		op1(OpPush, r64(0)),
		op1(OpPush, r128(0)),
		op1(OpPop, r128(1)),
		op1(OpPop, r64(1)),
		op1(OpPop, r32(1)),
		hlt(),
	))
	regs := m.Registers()
	if regs.R32[1] != regs.R32[0] {
		t.Errorf("r32: expected %d, got %d", regs.R32[0], regs.R32[1])
	}
	if regs.R64[1] != regs.R64[0] {
		t.Errorf("r64: expected %d, got %d", regs.R64[0], regs.R64[1])
	}
	if regs.R128[1].Cmp(regs.R128[0]) != 0 {
		t.Errorf("r128: expected %s, got %s", regs.R128[0], regs.R128[1])
	}
}

func TestVM_PushIsLeastSignificantByteFirst(t *testing.T) {
	m := mustRun(t, seg(
		ld(r32(0), 0x01020304),
		op1(OpPush, r32(0)),
		hlt(),
	))
	got := m.Stack().Bytes()
	want := []byte{0x04, 0x03, 0x02, 0x01}
	if string(got) != string(want) {
		t.Errorf("expected % x, got % x", want, got)
	}
}

func TestVM_PopAddsIntoDestination(t *testing.T) {
	m := mustRun(t, seg(
		ld(r32(0), 40),
		op1(OpPush, r32(0)),
		ld(r32(1), 2),
		op1(OpPop, r32(1)),
		hlt(),
	))
	if got := m.Registers().R32[1]; got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
}

func TestVM_PushAfterPopOverwritesTop(t *testing.T) {
	m := mustRun(t, seg(
		ld(r32(0), 1),
		op1(OpPush, r32(0)),
		op1(OpPop, r32(1)),
		ld(r32(2), 2),
		op1(OpPush, r32(2)),
		op1(OpPop, r32(3)),
		hlt(),
	))
	if got := m.Registers().R32[3]; got != 2 {
		t.Errorf("expected 2, got %d", got)
	}
	if sp := m.Stack().SP(); sp != 0 {
		t.Errorf("expected sp = 0, got %d", sp)
	}
}

func TestVM_PopUnderflow(t *testing.T) {
	m := newMachine(t, seg(
		ld(r32(0), 1),
		op1(OpPush, r32(0)),
		op1(OpPop, r64(0)),
		hlt(),
	))
	f := expectFault(t, m.Run(), ErrStackUnderflow)
	if f.Op != OpPop || f.PC != 8 {
		t.Errorf("expected POP at pc 8, got %s at pc %d", f.Op, f.PC)
	}
}

func TestVM_StackLimit(t *testing.T) {
	stack := NewStack()
	stack.SetLimit(8)
	m, err := New(Library{seg(
		op1(OpPush, r32(0)),
		op1(OpPush, r32(0)),
		op1(OpPush, r32(0)),
		hlt(),
	)}, stack)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	expectFault(t, m.Run(), ErrStackLimit)
}

// ===== Calls =====

func TestVM_CallSharesStack(t *testing.T) {
	m := mustRun(t,
		seg(ld(r32(0), 7), op1(OpPush, r32(0)), cal(0), op1(OpPop, r32(1)), hlt()),
		seg(op1(OpPop, r32(0)), op1(OpInc, r32(0)), op1(OpPush, r32(0)), hlt()),
	)
	if got := m.Registers().R32[1]; got != 8 {
		t.Errorf("expected 8, got %d", got)
	}
}

func TestVM_CallResumesAfterOperand(t *testing.T) {
	m := mustRun(t,
		seg(ld(r32(0), 1), cal(0), op1(OpInc, r32(0)), hlt()),
		seg(ld(r32(0), 50), hlt()),
	)
	if got := m.Registers().R32[0]; got != 2 {
		t.Errorf("expected 2, got %d", got)
	}
}

func TestVM_CallIsRelativeToCaller(t *testing.T) {
	// 0 -> 2 -> 3; segment 1 is skipped.
	m := newMachine(t,
		seg(cal(1), hlt()),
		seg(ld(r32(0), 1), op1(OpPush, r32(0)), hlt()),
		seg(cal(0), hlt()),
		seg(ld(r32(0), 3), op1(OpPush, r32(0)), hlt()),
	)
	var visited []int
	m.SetTracer(func(ev TraceEvent) {
		if ev.Instruction.Op == OpHalt {
			visited = append(visited, ev.Segment)
		}
	})
	if err := m.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	want := []int{3, 2, 0}
	if len(visited) != len(want) {
		t.Fatalf("expected halts in %v, got %v", want, visited)
	}
	for i := range want {
		if visited[i] != want[i] {
			t.Errorf("expected halts in %v, got %v", want, visited)
			break
		}
	}
	if got := m.Stack().Bytes(); len(got) != 4 || got[0] != 3 {
		t.Errorf("expected stack [3 0 0 0], got %v", got)
	}
}

func TestVM_CallOutOfBounds(t *testing.T) {
	tests := []struct {
		name string
		lib  []Segment
	}{
		{"single segment", []Segment{seg(cal(0), hlt())}},
		{"past end", []Segment{seg(cal(1), hlt()), seg(hlt())}},
		{"max operand", []Segment{seg(cal(255), hlt()), seg(hlt())}},
		{"from nested", []Segment{seg(cal(0), hlt()), seg(cal(0), hlt())}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMachine(t, tt.lib...)
			expectFault(t, m.Run(), ErrCallOutOfBounds)
		})
	}
}

func TestVM_CallDepthLimit(t *testing.T) {
	m := newMachine(t,
		seg(cal(0), hlt()),
		seg(cal(0), hlt()),
		seg(cal(0), hlt()),
		seg(hlt()),
	)
	m.SetMaxCallDepth(2)
	f := expectFault(t, m.Run(), ErrCallDepth)
	if f.Segment != 2 || f.Depth != 2 {
		t.Errorf("expected fault in segment 2 at depth 2, got segment %d depth %d", f.Segment, f.Depth)
	}
	if len(f.Chain) != 2 || f.Chain[0].Segment != 1 || f.Chain[1].Segment != 0 {
		t.Errorf("expected chain [seg1 seg0], got %+v", f.Chain)
	}
}

func TestVM_NestedFaultAbortsRun(t *testing.T) {
	m := newMachine(t,
		seg(cal(0), ld(r32(0), 9), hlt()),
		seg(ld(r32(1), 0), op2(OpDiv, r32(0), r32(1)), hlt()),
	)
	f := expectFault(t, m.Run(), ErrDivisionByZero)
	if f.Segment != 1 || f.PC != 6 {
		t.Errorf("expected fault at segment 1 pc 6, got segment %d pc %d", f.Segment, f.PC)
	}
	if len(f.Chain) != 1 || f.Chain[0] != (Frame{Segment: 0, PC: 0}) {
		t.Errorf("expected chain [{0 0}], got %+v", f.Chain)
	}
	if got := m.Registers().R32[0]; got != 0 {
		t.Errorf("caller must not resume, r0 = %d", got)
	}
}

// ===== Faults =====

func TestVM_MissingHalt(t *testing.T) {
	m := newMachine(t, seg(NewInstruction(OpNop)))
	f := expectFault(t, m.Run(), ErrStreamOverrun)
	if f.Decoded {
		t.Errorf("expected no decoded opcode, got %s", f.Op)
	}
	if f.PC != 1 {
		t.Errorf("expected pc 1, got %d", f.PC)
	}
}

func TestVM_TruncatedImmediate(t *testing.T) {
	m := newMachine(t, Segment{byte(OpLoad), byte(r64(0)), 0, 0, 0, 0})
	f := expectFault(t, m.Run(), ErrStreamOverrun)
	if !f.Decoded || f.Op != OpLoad {
		t.Errorf("expected LOD fault, got %+v", f)
	}
}

func TestVM_UnknownOpcode(t *testing.T) {
	m := newMachine(t, Segment{byte(OpNop), 0x13, byte(OpHalt)})
	f := expectFault(t, m.Run(), ErrUnknownOpcode)
	if f.PC != 1 {
		t.Errorf("expected pc 1, got %d", f.PC)
	}
}

func TestVM_InvalidSelector(t *testing.T) {
	for _, code := range []Segment{
		{byte(OpInc), 0xC0, byte(OpHalt)},
		{byte(OpAdd), byte(r32(0)), 0xFF, byte(OpHalt)},
		{byte(OpLoad), 0xC1, 0, 0, 0, 0, byte(OpHalt)},
		{byte(OpPush), 0xC2, byte(OpHalt)},
	} {
		m := newMachine(t, code)
		expectFault(t, m.Run(), ErrInvalidRegister)
	}
}

func TestVM_EmptyLibrary(t *testing.T) {
	if _, err := New(nil, nil); !errors.Is(err, ErrEmptyLibrary) {
		t.Errorf("expected ErrEmptyLibrary, got %v", err)
	}
}

func TestVM_FaultMessage(t *testing.T) {
	m := newMachine(t,
		seg(cal(0), hlt()),
		seg(op1(OpPop, r32(0)), hlt()),
	)
	err := m.Run()
	want := "stack underflow: pop of 4 bytes with sp 0 (POP at segment 1 pc 0, called from segment 0 pc 0)"
	if err == nil || err.Error() != want {
		t.Errorf("expected %q, got %v", want, err)
	}
}

// ===== Host guards =====

func TestVM_MaxSteps(t *testing.T) {
	nop := NewInstruction(OpNop)
	m := newMachine(t, seg(nop, nop, nop, nop, nop, hlt()))
	m.SetMaxSteps(3)
	expectFault(t, m.Run(), ErrStepLimit)
}

func TestVM_MaxStepsCountsNestedCalls(t *testing.T) {
	nop := NewInstruction(OpNop)
	m := newMachine(t,
		seg(cal(0), hlt()),
		seg(nop, nop, nop, hlt()),
	)
	m.SetMaxSteps(6)
	if err := m.Run(); err != nil {
		t.Fatalf("expected 6 steps to fit, got %v", err)
	}
	m.SetMaxSteps(5)
	expectFault(t, m.Run(), ErrStepLimit)
}

func TestVM_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := newMachine(t, seg(hlt()))
	m.SetContext(ctx)
	if err := m.Run(); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestVM_Stats(t *testing.T) {
	m := newMachine(t,
		seg(ld(r32(0), 1), op1(OpPush, r32(0)), cal(0), hlt()),
		seg(cal(0), hlt()),
		seg(op1(OpInc, r32(0)), hlt()),
	)
	m.EnableStats()
	if err := m.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	stats := m.Stats()
	if stats.StepsExecuted != 8 {
		t.Errorf("expected 8 steps, got %d", stats.StepsExecuted)
	}
	if stats.Calls != 2 || stats.MaxDepth != 2 {
		t.Errorf("expected 2 calls at depth 2, got %d at %d", stats.Calls, stats.MaxDepth)
	}
	if stats.PeakStack != 4 {
		t.Errorf("expected peak stack 4, got %d", stats.PeakStack)
	}
	if stats.OpCounts["HLT"] != 3 || stats.OpCounts["CAL"] != 2 {
		t.Errorf("unexpected op counts %v", stats.OpCounts)
	}
}

func TestVM_StatsDisabled(t *testing.T) {
	m := mustRun(t, seg(hlt()))
	if m.Stats() != nil {
		t.Error("expected nil stats when not enabled")
	}
}

func TestVM_RunResetsRegisters(t *testing.T) {
	m := newMachine(t, seg(op1(OpInc, r32(0)), hlt()))
	for i := 0; i < 3; i++ {
		if err := m.Run(); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	}
	if got := m.Registers().R32[0]; got != 1 {
		t.Errorf("expected 1, got %d", got)
	}
}

func TestLibrary_Size(t *testing.T) {
	lib := Library{{0x01, 0x00}, {}, {0x00}}
	if got := lib.Size(); got != 3 {
		t.Errorf("expected 3 bytes, got %d", got)
	}
}
