package report

import (
	"sync"

	dataframe "github.com/rocketlaunchr/dataframe-go"

	"github.com/akhildatla/regvm/pkg/vm"
)

// TraceRecorder collects trace events. Its Record method is a vm.Tracer.
type TraceRecorder struct {
	mu    sync.Mutex
	limit int
	rows  []traceRow
}

type traceRow struct {
	step, depth, segment, pc, sp   int64
	instruction, dst, value, flags string
}

// NewTraceRecorder creates a recorder keeping at most limit events.
// Zero means no limit.
func NewTraceRecorder(limit int) *TraceRecorder {
	return &TraceRecorder{limit: limit}
}

// Record snapshots ev. The register written by the instruction, if any,
// is captured with its value after execution.
func (t *TraceRecorder) Record(ev vm.TraceEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.limit > 0 && len(t.rows) >= t.limit {
		return
	}

	row := traceRow{
		step:        ev.Step,
		depth:       int64(ev.Depth),
		segment:     int64(ev.Segment),
		pc:          int64(ev.Instruction.Offset),
		sp:          int64(ev.SP),
		instruction: ev.Instruction.String(),
		dst:         "-",
		value:       "-",
		flags:       vm.FlagString(ev.Registers.Flags),
	}
	if len(ev.Instruction.Registers()) > 0 && ev.Instruction.Writes() {
		dst := ev.Instruction.Dst()
		row.dst = dst.String()
		row.value = ev.Registers.Get(dst).String()
	}
	t.rows = append(t.rows, row)
}

// Len returns the number of recorded events.
func (t *TraceRecorder) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rows)
}

// Frame returns the recorded events as a dataframe with the columns step,
// depth, segment, pc, instruction, dst, value, sp and flags.
func (t *TraceRecorder) Frame() *dataframe.DataFrame {
	t.mu.Lock()
	defer t.mu.Unlock()

	var step, depth, segment, pc, sp []interface{}
	var inst, dst, value, flags []interface{}
	for _, r := range t.rows {
		step = append(step, r.step)
		depth = append(depth, r.depth)
		segment = append(segment, r.segment)
		pc = append(pc, r.pc)
		sp = append(sp, r.sp)
		inst = append(inst, r.instruction)
		dst = append(dst, r.dst)
		value = append(value, r.value)
		flags = append(flags, r.flags)
	}

	return dataframe.NewDataFrame(
		dataframe.NewSeriesInt64("step", nil, step...),
		dataframe.NewSeriesInt64("depth", nil, depth...),
		dataframe.NewSeriesInt64("segment", nil, segment...),
		dataframe.NewSeriesInt64("pc", nil, pc...),
		dataframe.NewSeriesString("instruction", nil, inst...),
		dataframe.NewSeriesString("dst", nil, dst...),
		dataframe.NewSeriesString("value", nil, value...),
		dataframe.NewSeriesInt64("sp", nil, sp...),
		dataframe.NewSeriesString("flags", nil, flags...),
	)
}
