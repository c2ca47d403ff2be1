// Package repl implements an interactive assembler session. Every accepted
// input is appended to the entry segment and the whole session is run
// again, so the register file always reflects the program typed so far.
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/akhildatla/regvm/pkg/compiler"
	"github.com/akhildatla/regvm/pkg/embed"
	"github.com/akhildatla/regvm/pkg/report"
	"github.com/akhildatla/regvm/pkg/vm"
)

const (
	promptRun  = "regvm> "
	promptEdit = "edit> "
	promptCont = "...> "
)

// Mode represents the REPL input mode.
type Mode int

const (
	ModeRun  Mode = iota // Run the session after every input
	ModeEdit             // Only assemble; run with the 'run' command
)

// REPL provides an interactive Read-Eval-Print Loop.
type REPL struct {
	mode        Mode
	entry       []string // blocks of the entry segment, in input order
	segments    []string // .segment blocks appended after the entry
	opts        []embed.Option
	last        *embed.Result
	history     []string
	multiline   strings.Builder
	inMultiline bool
}

// New creates a new REPL instance.
func New() *REPL {
	return &REPL{
		mode:    ModeRun,
		history: []string{},
	}
}

// SetMode sets the REPL input mode.
func (r *REPL) SetMode(mode Mode) {
	r.mode = mode
}

// SetOptions sets the execution options used for every run.
func (r *REPL) SetOptions(opts ...embed.Option) {
	r.opts = opts
}

// Start starts the REPL loop.
func (r *REPL) Start(in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)

	fmt.Fprintln(out, "regvm REPL - register machine assembler")
	fmt.Fprintln(out, "Type 'help' for available commands, 'quit' to exit")
	fmt.Fprintln(out)

	for {
		if r.inMultiline {
			fmt.Fprint(out, promptCont)
		} else if r.mode == ModeRun {
			fmt.Fprint(out, promptRun)
		} else {
			fmt.Fprint(out, promptEdit)
		}

		if !scanner.Scan() {
			break
		}

		line := scanner.Text()

		if r.inMultiline {
			if line == "" {
				r.inMultiline = false
				input := r.multiline.String()
				r.multiline.Reset()
				r.eval(input, out)
			} else {
				r.multiline.WriteString(line)
				r.multiline.WriteString("\n")
			}
			continue
		}

		if isQuit(line) {
			fmt.Fprintln(out, "Goodbye!")
			return
		}

		if handled := r.handleCommand(line, out); handled {
			continue
		}

		// A trailing backslash starts a block ended by an empty line
		if strings.HasSuffix(line, "\\") {
			r.inMultiline = true
			r.multiline.WriteString(strings.TrimSuffix(line, "\\"))
			r.multiline.WriteString("\n")
			continue
		}

		r.eval(line, out)
	}
}

func isQuit(line string) bool {
	switch strings.TrimSpace(line) {
	case "quit", "exit", "q":
		return true
	}
	return false
}

func (r *REPL) handleCommand(line string, out io.Writer) bool {
	parts := strings.Fields(line)

	if len(parts) == 0 {
		return true
	}

	switch parts[0] {
	case "quit", "exit", "q":
		fmt.Fprintln(out, "Goodbye!")
		return true

	case "help", "h", "?":
		r.printHelp(out)
		return true

	case "mode":
		if len(parts) > 1 {
			switch parts[1] {
			case "run":
				r.mode = ModeRun
				fmt.Fprintln(out, "Switched to run mode")
			case "edit":
				r.mode = ModeEdit
				fmt.Fprintln(out, "Switched to edit mode")
			default:
				fmt.Fprintln(out, "Unknown mode. Use 'run' or 'edit'")
			}
		} else if r.mode == ModeRun {
			fmt.Fprintln(out, "Current mode: run")
		} else {
			fmt.Fprintln(out, "Current mode: edit")
		}
		return true

	case "run":
		r.execute(out)
		return true

	case "regs":
		if r.last == nil {
			fmt.Fprintln(out, "Nothing has run yet")
			return true
		}
		all := len(parts) > 1 && parts[1] == "all"
		fmt.Fprint(out, report.Registers(&r.last.Registers, all).Table())
		return true

	case "flags":
		if r.last == nil {
			fmt.Fprintln(out, "Nothing has run yet")
			return true
		}
		fmt.Fprint(out, report.Summary(&r.last.Registers).Table())
		return true

	case "stack":
		if r.last == nil {
			fmt.Fprintln(out, "Nothing has run yet")
			return true
		}
		fmt.Fprintf(out, "sp = %d\n", len(r.last.Stack))
		if len(r.last.Stack) > 0 {
			fmt.Fprintf(out, "% x\n", r.last.Stack)
		}
		return true

	case "list":
		fmt.Fprint(out, r.Source())
		return true

	case "disasm":
		program, err := compiler.Compile(r.Source())
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			return true
		}
		fmt.Fprint(out, vm.Disassemble(program))
		return true

	case "undo":
		r.undo(out)
		return true

	case "reset":
		r.entry = nil
		r.segments = nil
		r.last = nil
		fmt.Fprintln(out, "Session cleared")
		return true

	case "save":
		if len(parts) < 2 {
			fmt.Fprintln(out, "Usage: save <registers.csv|.jsonl|.parquet>")
			return true
		}
		r.save(parts[1], out)
		return true

	case "load":
		if len(parts) < 2 {
			fmt.Fprintln(out, "Usage: load <file.rasm>")
			return true
		}
		data, err := os.ReadFile(parts[1])
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			return true
		}
		r.history = append(r.history, line)
		r.loadSource(string(data), out)
		return true

	case "history":
		for i, cmd := range r.history {
			fmt.Fprintf(out, "%3d: %s\n", i+1, cmd)
		}
		return true
	}

	return false
}

// Source returns the assembly of the whole session.
func (r *REPL) Source() string {
	var b strings.Builder
	for _, block := range r.entry {
		b.WriteString(strings.TrimRight(block, "\n"))
		b.WriteByte('\n')
	}
	b.WriteString("HLT\n")
	for _, block := range r.segments {
		b.WriteString(strings.TrimRight(block, "\n"))
		b.WriteByte('\n')
	}
	return b.String()
}

func (r *REPL) eval(input string, out io.Writer) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return
	}

	r.history = append(r.history, input)

	segment := strings.HasPrefix(strings.ToLower(trimmed), ".segment")
	if segment {
		r.segments = append(r.segments, input)
	} else {
		r.entry = append(r.entry, input)
	}

	var err error
	if r.mode == ModeRun {
		err = r.run(out)
	} else {
		_, err = compiler.Compile(r.Source())
	}

	if err != nil {
		// Rejected input does not stay in the session
		if segment {
			r.segments = r.segments[:len(r.segments)-1]
		} else {
			r.entry = r.entry[:len(r.entry)-1]
		}
		fmt.Fprintf(out, "Error: %v\n", err)
	}
}

// loadSource replaces the session with a whole program. Its entry segment
// becomes the entry block, minus the closing HLT the session adds itself.
func (r *REPL) loadSource(src string, out io.Writer) {
	entry, rest := splitEntry(src)
	r.entry, r.segments, r.last = nil, nil, nil
	if strings.TrimSpace(entry) != "" {
		r.entry = []string{entry}
	}
	if strings.TrimSpace(rest) != "" {
		r.segments = []string{rest}
	}

	var err error
	if r.mode == ModeRun {
		err = r.run(out)
	} else {
		_, err = compiler.Compile(r.Source())
	}
	if err != nil {
		r.entry, r.segments, r.last = nil, nil, nil
		fmt.Fprintf(out, "Error: %v\n", err)
	}
}

// splitEntry cuts src before its second segment.
func splitEntry(src string) (entry, rest string) {
	lines := strings.Split(src, "\n")
	started := false
	for i, line := range lines {
		code := stripComment(line)
		if code == "" {
			continue
		}
		if strings.HasPrefix(strings.ToLower(code), ".segment") && started {
			return dropHalt(lines[:i]), strings.Join(lines[i:], "\n")
		}
		started = true
	}
	return dropHalt(lines), ""
}

func dropHalt(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		code := stripComment(lines[i])
		if code == "" {
			continue
		}
		if strings.EqualFold(code, "HLT") {
			lines = lines[:i]
		}
		break
	}
	return strings.Join(lines, "\n")
}

func stripComment(line string) string {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}

func (r *REPL) execute(out io.Writer) {
	if err := r.run(out); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
	}
}

// run executes the session and prints what changed since the last run.
func (r *REPL) run(out io.Writer) error {
	result, err := embed.ExecuteWithOptions(r.Source(), r.opts...)
	if err != nil {
		return err
	}

	prev := vm.NewRegisterFile()
	if r.last != nil {
		prev = &r.last.Registers
	}
	changed := diff(prev, &result.Registers)
	r.last = result

	if len(changed) == 0 {
		fmt.Fprintln(out, "=> ok")
		return nil
	}
	for _, c := range changed {
		fmt.Fprintf(out, "=> %s\n", c)
	}
	return nil
}

func diff(prev, cur *vm.RegisterFile) []string {
	var changed []string
	for _, bank := range []vm.Bank{vm.Bank32, vm.Bank64, vm.Bank128} {
		for i := uint8(0); i < vm.NumRegs; i++ {
			sel := vm.MakeSelector(bank, i)
			if v := cur.Get(sel); v.Cmp(prev.Get(sel)) != 0 {
				changed = append(changed, fmt.Sprintf("%s = %s", sel, v))
			}
		}
	}
	if prev.Flags != cur.Flags {
		changed = append(changed, "flags = "+vm.FlagString(cur.Flags))
	}
	return changed
}

func (r *REPL) undo(out io.Writer) {
	if len(r.entry) == 0 {
		fmt.Fprintln(out, "Nothing to undo")
		return
	}
	r.entry = r.entry[:len(r.entry)-1]
	fmt.Fprintln(out, "Removed last input")
	if r.mode == ModeRun {
		r.last = nil
		r.execute(out)
	}
}

func (r *REPL) save(path string, out io.Writer) {
	if r.last == nil {
		fmt.Fprintln(out, "Nothing has run yet")
		return
	}
	df := report.Registers(&r.last.Registers, false)
	if err := report.Write(context.Background(), path, df); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Saved %d registers to %s\n", df.NRows(), path)
}

func (r *REPL) printHelp(out io.Writer) {
	help := `
regvm REPL Commands:
  help, h, ?       Show this help message
  quit, exit, q    Exit the REPL
  mode [run|edit]  Show or set input mode
  run              Run the session
  regs [all]       Show non-zero (or all) registers
  flags            Show flags and remainder registers
  stack            Show the stack after the last run
  list             Show the session source
  disasm           Show the assembled session
  undo             Remove the last entry input
  reset            Clear the session
  save <path>      Write registers as CSV, JSON lines or Parquet
  load <file>      Replace the session with an assembly file
  history          Show input history

Examples:
  LOD w0, #40
  LOD w1, #2
  ADD w0, w1
  CMP w0, w1

Tips:
  - End a line with \ for multiline input
  - Press Enter twice to execute multiline input
  - Blocks starting with .segment are added after the entry segment
`
	fmt.Fprint(out, help)
}
