// Package main provides the CLI entry point for regvm.
//
// Usage:
//
//	regvm run program.rasm            # Assemble and run, print registers
//	regvm run a.rasm b.rvl            # Run several programs concurrently
//	regvm assemble program.rasm       # Assemble to a library (.rvl)
//	regvm exec program.rvl            # Run an assembled library
//	regvm disasm program.rvl          # Disassemble a library
//	regvm dump regs.parquet           # Print a register or trace report
//	regvm repl                        # Start an interactive session
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	dataframe "github.com/rocketlaunchr/dataframe-go"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"golang.org/x/sync/errgroup"

	"github.com/akhildatla/regvm/pkg/compiler"
	"github.com/akhildatla/regvm/pkg/config"
	"github.com/akhildatla/regvm/pkg/embed"
	"github.com/akhildatla/regvm/pkg/loader"
	"github.com/akhildatla/regvm/pkg/optimizer"
	"github.com/akhildatla/regvm/pkg/repl"
	"github.com/akhildatla/regvm/pkg/report"
	"github.com/akhildatla/regvm/pkg/vm"
)

// Version info set by GoReleaser via ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var log = commonlog.GetLogger("regvm.cli")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) < 1 {
		return printUsage(out)
	}

	cmd := args[0]

	switch cmd {
	case "run":
		return runCommand(args[1:], out)
	case "assemble":
		return assembleCommand(args[1:], out)
	case "exec":
		return execCommand(args[1:], out)
	case "disasm":
		return disasmCommand(args[1:], out)
	case "dump":
		return dumpCommand(args[1:], out)
	case "repl":
		return replCommand(args[1:], out)
	case "version":
		fmt.Fprintf(out, "regvm version %s\n", version)
		if commit != "none" {
			fmt.Fprintf(out, "  commit: %s\n", commit)
		}
		if date != "unknown" {
			fmt.Fprintf(out, "  built:  %s\n", date)
		}
		return nil
	case "help", "-h", "--help":
		return printUsage(out)
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

// parseArgs parses fs allowing flags after positional arguments.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if fs.NArg() == 0 {
			return positional, nil
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
}

// runFlags are shared by run and exec. Set flags override regvm.toml.
type runFlags struct {
	configPath string
	verbosity  int
	maxSteps   int64
	maxDepth   int
	stackLimit int
	timeout    time.Duration
	optimize   bool
	regsPath   string
	allRegs    bool
	tracePath  string
	traceLimit int
	stats      bool
	expectPath string
}

func (f *runFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "configuration file (default: nearest regvm.toml)")
	fs.IntVar(&f.verbosity, "v", 0, "log verbosity (-4 silences, 2 logs debug)")
	fs.Int64Var(&f.maxSteps, "max-steps", 0, "instruction limit, nested calls included (0: unlimited)")
	fs.IntVar(&f.maxDepth, "max-depth", vm.DefaultMaxCallDepth, "call depth limit")
	fs.IntVar(&f.stackLimit, "stack-limit", 0, "stack size limit in bytes (0: unlimited)")
	fs.DurationVar(&f.timeout, "timeout", 0, "wall clock limit per program (0: none)")
	fs.BoolVar(&f.optimize, "O", false, "optimize before running")
	fs.StringVar(&f.regsPath, "regs", "", "write the register file to a .csv, .jsonl or .parquet report")
	fs.BoolVar(&f.allRegs, "all", false, "include zero registers in the register report")
	fs.StringVar(&f.tracePath, "trace", "", "write an instruction trace to a .csv, .jsonl or .parquet report")
	fs.IntVar(&f.traceLimit, "trace-limit", 0, "maximum trace rows (0: unlimited)")
	fs.BoolVar(&f.stats, "stats", false, "print execution statistics")
	fs.StringVar(&f.expectPath, "expect", "", "fail unless the registers match a register report")
}

// config loads regvm.toml and applies the flags given on the command line.
func (f *runFlags) config(fs *flag.FlagSet) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if f.configPath != "" {
		cfg, err = config.Load(f.configPath)
	} else {
		cfg, err = config.FindAndLoad(".")
	}
	if err != nil {
		return nil, err
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "v":
			cfg.Log.Verbosity = f.verbosity
		case "max-steps":
			cfg.Run.MaxSteps = f.maxSteps
		case "max-depth":
			cfg.Run.MaxDepth = f.maxDepth
		case "stack-limit":
			cfg.Run.StackLimit = f.stackLimit
		case "timeout":
			cfg.Run.Timeout = f.timeout
		case "O":
			cfg.Run.Optimize = f.optimize
		case "regs":
			cfg.Output.Registers = f.regsPath
		case "all":
			cfg.Output.AllRegisters = f.allRegs
		case "trace":
			cfg.Output.Trace = f.tracePath
		case "trace-limit":
			cfg.Output.TraceLimit = f.traceLimit
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var logPath *string
	if cfg.Log.File != "" {
		logPath = &cfg.Log.File
	}
	commonlog.Configure(cfg.Log.Verbosity, logPath)
	if cfg.Path != "" {
		log.Infof("using configuration %s", cfg.Path)
	}

	return cfg, nil
}

func runCommand(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	var f runFlags
	f.register(fs)

	paths, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(paths) < 1 {
		return fmt.Errorf("usage: regvm run <file.rasm|file.rvl>...")
	}

	cfg, err := f.config(fs)
	if err != nil {
		return err
	}
	return runPaths(paths, cfg, &f, out)
}

func execCommand(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("exec", flag.ContinueOnError)
	var f runFlags
	f.register(fs)

	paths, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(paths) != 1 {
		return fmt.Errorf("usage: regvm exec <file.rvl>")
	}

	data, err := os.ReadFile(paths[0])
	if err != nil {
		return fmt.Errorf("reading library: %w", err)
	}
	if !strings.HasPrefix(string(data), vm.BytecodeMagic) {
		return fmt.Errorf("%s: %w", paths[0], vm.ErrInvalidMagic)
	}

	cfg, err := f.config(fs)
	if err != nil {
		return err
	}
	return runPaths(paths, cfg, &f, out)
}

// runPaths runs every program concurrently and prints the results in
// argument order. The first failure cancels the remaining runs.
func runPaths(paths []string, cfg *config.Config, f *runFlags, out io.Writer) error {
	if len(paths) > 1 && (cfg.Output.Registers != "" || cfg.Output.Trace != "" || f.expectPath != "") {
		return errors.New("-regs, -trace and -expect need a single input file")
	}

	var recorder *report.TraceRecorder
	if cfg.Output.Trace != "" {
		recorder = report.NewTraceRecorder(cfg.Output.TraceLimit)
	}

	results := make([]*embed.Result, len(paths))
	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(runtime.NumCPU())

	for i, path := range paths {
		g.Go(func() error {
			opts := append(cfg.EmbedOptions(), embed.WithContext(ctx))
			if f.stats {
				opts = append(opts, embed.WithStats())
			}
			if recorder != nil {
				opts = append(opts, embed.WithTracer(recorder.Record))
			}

			log.Infof("running %s", path)
			result, err := embed.ExecuteFile(path, opts...)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, result := range results {
		if len(paths) > 1 {
			if i > 0 {
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "==> %s <==\n", paths[i])
		}
		printResult(out, result)
	}

	if cfg.Output.Registers != "" {
		df := report.Registers(&results[0].Registers, cfg.Output.AllRegisters)
		if err := report.Write(context.Background(), cfg.Output.Registers, df); err != nil {
			return fmt.Errorf("writing registers: %w", err)
		}
		log.Noticef("wrote %d registers to %s", df.NRows(), cfg.Output.Registers)
	}
	if recorder != nil {
		if err := report.Write(context.Background(), cfg.Output.Trace, recorder.Frame()); err != nil {
			return fmt.Errorf("writing trace: %w", err)
		}
		log.Noticef("wrote %d trace rows to %s", recorder.Len(), cfg.Output.Trace)
	}

	if f.expectPath != "" {
		return checkRegisters(f.expectPath, &results[0].Registers)
	}
	return nil
}

// checkRegisters compares got with the register report at path. Registers
// the report leaves out must be zero.
func checkRegisters(path string, got *vm.RegisterFile) error {
	want, err := loader.LoadRegisters(context.Background(), path)
	if err != nil {
		return err
	}

	var diffs []string
	for _, bank := range []vm.Bank{vm.Bank32, vm.Bank64, vm.Bank128} {
		for i := uint8(0); i < vm.NumRegs; i++ {
			sel := vm.MakeSelector(bank, i)
			if w, g := want.Get(sel), got.Get(sel); w.Cmp(g) != 0 {
				diffs = append(diffs, fmt.Sprintf("%s: expected %s, got %s", sel, w, g))
			}
		}
	}
	if len(diffs) > 0 {
		return fmt.Errorf("registers differ from %s:\n  %s", path, strings.Join(diffs, "\n  "))
	}
	log.Noticef("registers match %s", path)
	return nil
}

// printResult prints the non-zero registers, the flags when set and
// execution statistics when collected.
func printResult(out io.Writer, result *embed.Result) {
	for _, bank := range []vm.Bank{vm.Bank32, vm.Bank64, vm.Bank128} {
		for i := uint8(0); i < vm.NumRegs; i++ {
			sel := vm.MakeSelector(bank, i)
			if v := result.Registers.Get(sel); !v.IsZero() {
				fmt.Fprintf(out, "%s = %s\n", sel, v)
			}
		}
	}
	if flags := result.Flags(); flags != "-" {
		fmt.Fprintf(out, "flags = %s\n", flags)
	}
	if len(result.Stack) > 0 {
		fmt.Fprintf(out, "stack = % x\n", result.Stack)
	}

	if s := result.Stats; s != nil {
		fmt.Fprintf(out, "; %d steps, %d calls, max depth %d, peak stack %d bytes, %s\n",
			s.StepsExecuted, s.Calls, s.MaxDepth, s.PeakStack, time.Duration(s.ExecutionTimeNs))
	}
}

func assembleCommand(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("assemble", flag.ContinueOnError)
	output := fs.String("o", "", "output file (default: input with .rvl extension)")
	verbose := fs.Bool("v", false, "verbose output")
	optimize := fs.Bool("O", false, "enable optimizations (constant folding, dead code elimination)")

	paths, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(paths) != 1 {
		return fmt.Errorf("usage: regvm assemble <file.rasm> [-o output.rvl]")
	}

	inputPath := paths[0]
	outputPath := *output

	if outputPath == "" {
		ext := filepath.Ext(inputPath)
		outputPath = strings.TrimSuffix(inputPath, ext) + ".rvl"
	}

	if *verbose {
		fmt.Fprintf(out, "Assembling: %s -> %s\n", inputPath, outputPath)
	}

	program, err := compiler.CompileFile(inputPath)
	if err != nil {
		return err
	}

	if *optimize {
		before := program.Segments.Size()
		program = optimizer.New(optimizer.WithAllOptimizations()).Optimize(program)
		if *verbose {
			fmt.Fprintf(out, "Optimized: %d -> %d bytes\n", before, program.Segments.Size())
		}
	}

	bytecode, err := vm.SerializeProgram(program)
	if err != nil {
		return fmt.Errorf("serializing: %w", err)
	}

	if err := os.WriteFile(outputPath, bytecode, 0644); err != nil {
		return fmt.Errorf("writing library: %w", err)
	}

	if *verbose {
		fmt.Fprintf(out, "Assembled %d segments, %d code bytes\n", len(program.Segments), program.Segments.Size())
		fmt.Fprintf(out, "Output: %s (%d bytes)\n", outputPath, len(bytecode))
	} else {
		fmt.Fprintf(out, "Assembled: %s\n", outputPath)
	}

	return nil
}

func disasmCommand(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("disasm", flag.ContinueOnError)
	output := fs.String("o", "", "output file (default: stdout)")

	paths, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(paths) != 1 {
		return fmt.Errorf("usage: regvm disasm <file.rvl> [-o output.rasm]")
	}

	bytecode, err := os.ReadFile(paths[0])
	if err != nil {
		return fmt.Errorf("reading library: %w", err)
	}

	program, err := vm.DeserializeProgram(bytecode)
	if err != nil {
		return fmt.Errorf("deserializing: %w", err)
	}

	asm := vm.Disassemble(program)

	if *output != "" {
		if err := os.WriteFile(*output, []byte(asm), 0644); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
		fmt.Fprintf(out, "Disassembled to: %s\n", *output)
	} else {
		fmt.Fprint(out, asm)
	}

	return nil
}

func dumpCommand(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("dump", flag.ContinueOnError)
	rows := fs.Int("n", 0, "rows to show (0: all)")

	paths, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(paths) != 1 {
		return fmt.Errorf("usage: regvm dump <report.csv|.jsonl|.parquet> [-n rows]")
	}

	df, err := loader.Load(context.Background(), paths[0])
	if err != nil {
		return err
	}

	var opts []dataframe.TableOptions
	if *rows > 0 && *rows < df.NRows() {
		r := dataframe.RangeFinite(0, *rows-1)
		opts = append(opts, dataframe.TableOptions{R: &r})
	}
	fmt.Fprint(out, df.Table(opts...))
	return nil
}

func replCommand(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("repl", flag.ContinueOnError)
	var f runFlags
	f.register(fs)
	edit := fs.Bool("edit", false, "start in edit mode (default: run after every input)")

	if _, err := parseArgs(fs, args); err != nil {
		return err
	}

	cfg, err := f.config(fs)
	if err != nil {
		return err
	}

	r := repl.New()
	r.SetOptions(cfg.EmbedOptions()...)
	if *edit {
		r.SetMode(repl.ModeEdit)
	}

	r.Start(os.Stdin, out)
	return nil
}

func printUsage(out io.Writer) error {
	fmt.Fprintln(out, `regvm - register machine with 32, 64 and 128-bit register banks

Usage:
  regvm <command> [arguments]

Commands:
  run <file>...          Run assembly (.rasm) or library (.rvl) files
  assemble <file.rasm>   Assemble source to a library (.rvl)
  exec <file.rvl>        Run an assembled library
  disasm <file.rvl>      Disassemble a library to assembly
  dump <report>          Print a .csv, .jsonl or .parquet report
  repl                   Start interactive REPL
  version                Print version information
  help                   Show this help message

Run, Exec and REPL Options:
  -config <file>         Configuration file (default: nearest regvm.toml)
  -v <n>                 Log verbosity (-4 silences, 2 logs debug)
  -max-steps <n>         Instruction limit, nested calls included
  -max-depth <n>         Call depth limit (default 1024)
  -stack-limit <n>       Stack size limit in bytes
  -timeout <d>           Wall clock limit per program
  -O                     Optimize before running
  -regs <file>           Write the register file as a report
  -all                   Include zero registers in the report
  -trace <file>          Write an instruction trace as a report
  -trace-limit <n>       Maximum trace rows
  -stats                 Print execution statistics
  -expect <file>         Fail unless the registers match a register report

Assemble Options:
  -o <file>              Output file (default: input with .rvl extension)
  -O                     Enable optimizations (constant folding, dead code elimination)
  -v                     Verbose output

Disasm Options:
  -o <file>              Output file (default: stdout)

Dump Options:
  -n <rows>              Rows to show

REPL Options:
  -edit                  Start in edit mode

Examples:
  regvm run program.rasm
  regvm run -max-steps 10000 -trace trace.parquet program.rasm
  regvm assemble program.rasm -o program.rvl
  regvm exec program.rvl -regs regs.csv
  regvm disasm program.rvl
  regvm dump trace.parquet -n 20
  regvm repl`)
	return nil
}
