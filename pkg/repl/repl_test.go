package repl

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/akhildatla/regvm/internal/testutil"
	"github.com/akhildatla/regvm/pkg/embed"
	"github.com/akhildatla/regvm/pkg/loader"
)

func TestREPL_New(t *testing.T) {
	r := New()
	if r == nil {
		t.Fatal("New returned nil")
	}
	if r.mode != ModeRun {
		t.Errorf("expected run mode, got %v", r.mode)
	}
	if got := r.Source(); got != "HLT\n" {
		t.Errorf("expected empty session to be a bare HLT, got %q", got)
	}
}

func TestREPL_SetMode(t *testing.T) {
	r := New()
	r.SetMode(ModeEdit)
	if r.mode != ModeEdit {
		t.Errorf("expected edit mode, got %v", r.mode)
	}
	r.SetMode(ModeRun)
	if r.mode != ModeRun {
		t.Errorf("expected run mode, got %v", r.mode)
	}
}

func TestREPL_HandleCommand_Help(t *testing.T) {
	r := New()
	var out bytes.Buffer

	for _, cmd := range []string{"help", "h", "?"} {
		out.Reset()
		if !r.handleCommand(cmd, &out) {
			t.Errorf("expected help command '%s' to be handled", cmd)
		}
		if !strings.Contains(out.String(), "regvm REPL Commands") {
			t.Errorf("expected help text, got: %s", out.String())
		}
	}
}

func TestREPL_HandleCommand_Quit(t *testing.T) {
	r := New()
	var out bytes.Buffer

	for _, cmd := range []string{"quit", "exit", "q"} {
		out.Reset()
		if !r.handleCommand(cmd, &out) {
			t.Errorf("expected quit command '%s' to be handled", cmd)
		}
		if !strings.Contains(out.String(), "Goodbye") {
			t.Errorf("expected goodbye message, got: %s", out.String())
		}
	}
}

func TestREPL_HandleCommand_Mode(t *testing.T) {
	r := New()
	var out bytes.Buffer

	r.handleCommand("mode", &out)
	if !strings.Contains(out.String(), "run") {
		t.Errorf("expected current mode run, got: %s", out.String())
	}

	out.Reset()
	r.handleCommand("mode edit", &out)
	if r.mode != ModeEdit {
		t.Error("expected edit mode")
	}
	if !strings.Contains(out.String(), "edit mode") {
		t.Errorf("expected switch confirmation, got: %s", out.String())
	}

	out.Reset()
	r.handleCommand("mode run", &out)
	if r.mode != ModeRun {
		t.Error("expected run mode")
	}

	out.Reset()
	r.handleCommand("mode invalid", &out)
	if !strings.Contains(out.String(), "Unknown mode") {
		t.Errorf("expected error message, got: %s", out.String())
	}
}

func TestREPL_HandleCommand_Empty(t *testing.T) {
	r := New()
	var out bytes.Buffer

	if !r.handleCommand("", &out) {
		t.Error("empty command should be handled")
	}
	if !r.handleCommand("   ", &out) {
		t.Error("whitespace command should be handled")
	}
}

func TestREPL_HandleCommand_Unknown(t *testing.T) {
	r := New()
	var out bytes.Buffer

	if r.handleCommand("LOD w0, #1", &out) {
		t.Error("instructions should not be handled as commands")
	}
}

func TestREPL_HandleCommand_BeforeRun(t *testing.T) {
	r := New()
	for _, cmd := range []string{"regs", "flags", "stack", "save out.csv"} {
		var out bytes.Buffer
		r.handleCommand(cmd, &out)
		if !strings.Contains(out.String(), "Nothing has run yet") {
			t.Errorf("%s: expected not-run message, got: %s", cmd, out.String())
		}
	}
}

func TestREPL_Eval_Empty(t *testing.T) {
	r := New()
	var out bytes.Buffer

	r.eval("", &out)
	r.eval("   ", &out)
	if out.Len() != 0 {
		t.Errorf("expected no output for empty input, got: %s", out.String())
	}
	if len(r.history) != 0 {
		t.Errorf("expected empty history, got %v", r.history)
	}
}

func TestREPL_Eval_Run(t *testing.T) {
	r := New()
	var out bytes.Buffer

	r.eval("LOD w0, #42", &out)
	if !strings.Contains(out.String(), "=> w0 = 42") {
		t.Errorf("expected w0 = 42, got: %s", out.String())
	}

	out.Reset()
	r.eval("INC w0", &out)
	if got := out.String(); got != "=> w0 = 43\n" {
		t.Errorf("expected only the changed register, got: %q", got)
	}

	out.Reset()
	r.eval("NOP", &out)
	if !strings.Contains(out.String(), "=> ok") {
		t.Errorf("expected ok for no change, got: %s", out.String())
	}

	out.Reset()
	r.eval("CMP w0, w1", &out)
	if !strings.Contains(out.String(), "flags = GT") {
		t.Errorf("expected flags = GT, got: %s", out.String())
	}
}

func TestREPL_Eval_Error(t *testing.T) {
	r := New()
	var out bytes.Buffer

	r.eval("LOD w0, #1", &out)

	out.Reset()
	r.eval("BOGUS w0", &out)
	if !strings.Contains(out.String(), "Error") {
		t.Errorf("expected error message, got: %s", out.String())
	}

	// A fault at run time also rejects the input
	out.Reset()
	r.eval("DIV w0, w1", &out)
	if !strings.Contains(out.String(), "division by zero") {
		t.Errorf("expected division by zero, got: %s", out.String())
	}

	if len(r.entry) != 1 {
		t.Errorf("expected rejected inputs to be dropped, got %v", r.entry)
	}
	if len(r.history) != 3 {
		t.Errorf("expected 3 history entries, got %d", len(r.history))
	}
}

func TestREPL_Eval_EditMode(t *testing.T) {
	r := New()
	r.SetMode(ModeEdit)
	var out bytes.Buffer

	r.eval("LOD d3, #7", &out)
	if out.Len() != 0 {
		t.Errorf("edit mode should not run, got: %s", out.String())
	}
	if r.last != nil {
		t.Error("edit mode should not produce a result")
	}

	r.eval("ADD d3, #1", &out)
	if !strings.Contains(out.String(), "Error") {
		t.Errorf("expected assembler error in edit mode, got: %s", out.String())
	}

	out.Reset()
	r.handleCommand("run", &out)
	if !strings.Contains(out.String(), "d3 = 7") {
		t.Errorf("expected d3 = 7 after run, got: %s", out.String())
	}
}

func TestREPL_Undo(t *testing.T) {
	r := New()
	var out bytes.Buffer

	r.handleCommand("undo", &out)
	if !strings.Contains(out.String(), "Nothing to undo") {
		t.Errorf("expected nothing to undo, got: %s", out.String())
	}

	r.eval("LOD w0, #5", &out)
	r.eval("INC w0", &out)

	out.Reset()
	r.handleCommand("undo", &out)
	if !strings.Contains(out.String(), "w0 = 5") {
		t.Errorf("expected rerun after undo, got: %s", out.String())
	}
	if len(r.entry) != 1 {
		t.Errorf("expected one entry left, got %v", r.entry)
	}
}

func TestREPL_Reset(t *testing.T) {
	r := New()
	var out bytes.Buffer

	r.eval("LOD w0, #5", &out)
	r.handleCommand("reset", &out)
	if r.last != nil || len(r.entry) != 0 {
		t.Error("expected session to be cleared")
	}
	if !strings.Contains(out.String(), "cleared") {
		t.Errorf("expected clear confirmation, got: %s", out.String())
	}
}

func TestREPL_RegsAndFlags(t *testing.T) {
	r := New()
	var out bytes.Buffer

	r.eval("LOD q1, #-12345678901234567890", &out)
	r.eval("CMP q1, q0", &out)

	out.Reset()
	r.handleCommand("regs", &out)
	if !strings.Contains(out.String(), "-12345678901234567890") {
		t.Errorf("expected q1 in register table, got: %s", out.String())
	}

	out.Reset()
	r.handleCommand("flags", &out)
	if !strings.Contains(out.String(), "LT") {
		t.Errorf("expected LT flag, got: %s", out.String())
	}
}

func TestREPL_Stack(t *testing.T) {
	r := New()
	var out bytes.Buffer

	r.eval("LOD w0, #258", &out)
	r.eval("PSH w0", &out)

	out.Reset()
	r.handleCommand("stack", &out)
	if !strings.Contains(out.String(), "sp = 4") {
		t.Errorf("expected sp = 4, got: %s", out.String())
	}
	if !strings.Contains(out.String(), "02 01 00 00") {
		t.Errorf("expected little-endian stack bytes, got: %s", out.String())
	}
}

func TestREPL_ListAndDisasm(t *testing.T) {
	r := New()
	var out bytes.Buffer

	r.eval("LOD w0, #1", &out)

	out.Reset()
	r.handleCommand("list", &out)
	if got := out.String(); got != "LOD w0, #1\nHLT\n" {
		t.Errorf("unexpected listing: %q", got)
	}

	out.Reset()
	r.handleCommand("disasm", &out)
	if !strings.Contains(out.String(), "LOD  w0, #1") {
		t.Errorf("expected disassembly, got: %s", out.String())
	}
}

func TestREPL_Save(t *testing.T) {
	r := New()
	var out bytes.Buffer

	r.eval("LOD w0, #9", &out)

	path := filepath.Join(t.TempDir(), "regs.csv")
	out.Reset()
	r.handleCommand("save "+path, &out)
	if !strings.Contains(out.String(), "Saved 1 registers") {
		t.Fatalf("expected save confirmation, got: %s", out.String())
	}

	df, err := loader.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("loading saved registers: %v", err)
	}
	testutil.AssertColumn(t, df, "register", "w0")
	testutil.AssertColumn(t, df, "value", "9")
}

func TestREPL_Options(t *testing.T) {
	r := New()
	r.SetOptions(embed.WithMaxSteps(2))
	var out bytes.Buffer

	r.eval("LOD w0, #1", &out)
	out.Reset()
	r.eval("INC w0", &out)
	if !strings.Contains(out.String(), "step limit") {
		t.Errorf("expected step limit error, got: %s", out.String())
	}
}

func TestREPL_Start_Segments(t *testing.T) {
	r := New()

	input := strings.Join([]string{
		".segment nine\\",
		"LOD w0, #9",
		"PSH w0",
		"HLT",
		"",
		"CAL nine",
		"POP w1",
		"quit",
	}, "\n") + "\n"
	var out bytes.Buffer

	r.Start(strings.NewReader(input), &out)

	output := out.String()
	if !strings.Contains(output, "regvm REPL") {
		t.Error("expected welcome message")
	}
	if !strings.Contains(output, "=> w1 = 9") {
		t.Errorf("expected w1 = 9 from the called segment, got: %s", output)
	}
	if strings.Contains(output, "w0 = 9") {
		t.Errorf("callee registers must stay private, got: %s", output)
	}
	if !strings.Contains(output, "Goodbye") {
		t.Error("expected goodbye message")
	}
}

func TestREPL_Start_ModeSwitch(t *testing.T) {
	r := New()

	input := "mode edit\nmode run\nmode\nquit\n"
	var out bytes.Buffer

	r.Start(strings.NewReader(input), &out)

	output := out.String()
	if !strings.Contains(output, "edit mode") {
		t.Error("expected edit mode switch confirmation")
	}
	if !strings.Contains(output, "run mode") {
		t.Error("expected run mode switch confirmation")
	}
}

func TestREPL_LoadFile(t *testing.T) {
	r := New()
	var out bytes.Buffer

	r.handleCommand("load "+testutil.TempSource(t, testutil.SquareSource()), &out)
	if !strings.Contains(out.String(), "w0 = 100") || !strings.Contains(out.String(), "w1 = 144") {
		t.Errorf("expected loaded program to run, got: %s", out.String())
	}

	out.Reset()
	r.handleCommand("load", &out)
	if !strings.Contains(out.String(), "Usage:") {
		t.Errorf("expected usage message, got: %s", out.String())
	}

	out.Reset()
	r.handleCommand("load "+filepath.Join(t.TempDir(), "missing.rasm"), &out)
	if !strings.Contains(out.String(), "Error") {
		t.Errorf("expected error for missing file, got: %s", out.String())
	}
}

func TestREPL_PrintHelp(t *testing.T) {
	r := New()
	var out bytes.Buffer

	r.printHelp(&out)
	output := out.String()

	for _, s := range []string{
		"regvm REPL Commands",
		"mode",
		"regs",
		"flags",
		"stack",
		"undo",
		"save",
		"load",
		"history",
		"Examples",
		"Tips",
	} {
		if !strings.Contains(output, s) {
			t.Errorf("expected help to contain '%s'", s)
		}
	}
}

func TestSplitEntry(t *testing.T) {
	tests := []struct {
		src, entry, rest string
	}{
		{"LOD w0, #1\nHLT", "LOD w0, #1", ""},
		{"LOD w0, #1\nHLT ; done\n", "LOD w0, #1", ""},
		{"LOD w0, #1\n.segment f\nHLT", "LOD w0, #1", ".segment f\nHLT"},
		{"; header\n.segment main\nNOP\nHLT\n.segment f\nHLT", "; header\n.segment main\nNOP", ".segment f\nHLT"},
		{"NOP", "NOP", ""},
	}
	for _, tt := range tests {
		entry, rest := splitEntry(tt.src)
		if entry != tt.entry || rest != tt.rest {
			t.Errorf("splitEntry(%q) = %q, %q; expected %q, %q", tt.src, entry, rest, tt.entry, tt.rest)
		}
	}
}
