// Package embed provides the Go embedding API for regvm.
//
// regvm is embeddable in Go applications. Pass assembly, get the final
// register state.
//
// Basic usage:
//
//	result, err := embed.Execute(`
//	    LOD  w0, #1
//	    LOD  w1, #100
//	    ADD  w0, w1
//	    HLT
//	`)
//	// result.Registers.R32[0] == 101
//
// Passing arguments on the stack:
//
//	stack := vm.NewStack()
//	stack.Push([]byte{6, 0, 0, 0})
//	result, err := embed.ExecuteWithOptions(code, embed.WithStack(stack))
package embed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/akhildatla/regvm/pkg/compiler"
	"github.com/akhildatla/regvm/pkg/optimizer"
	"github.com/akhildatla/regvm/pkg/vm"
)

// Common errors. They wrap the underlying *vm.Fault, so errors.Is also
// matches the vm error kinds.
var (
	ErrTimeout    = errors.New("execution timeout exceeded")
	ErrStepLimit  = errors.New("step limit exceeded")
	ErrStackLimit = errors.New("stack limit exceeded")
	ErrCallDepth  = errors.New("call depth limit exceeded")
)

// Result is the state of the entry segment's machine after HLT.
type Result struct {
	Registers vm.RegisterFile
	Stack     []byte             // bytes left on the scratch stack
	Stats     *vm.ExecutionStats // nil unless WithStats was given
}

// Register returns the value of a register named like the assembler does:
// w<n>, d<n>, q<n> or r<selector>.
func (r *Result) Register(name string) (vm.Int128, error) {
	sel, err := compiler.ParseRegister(name)
	if err != nil {
		return vm.Int128{}, err
	}
	return r.Registers.Get(sel), nil
}

// Flags returns the comparison flags set by the last CMP.
func (r *Result) Flags() string {
	return vm.FlagString(r.Registers.Flags)
}

// Execute assembles and runs regvm code, returns the result.
func Execute(code string) (*Result, error) {
	return ExecuteWithOptions(code)
}

// ExecuteFile reads a .rasm source file or a .rvl library file and
// executes it. Library files are recognised by their magic header.
func ExecuteFile(path string, opts ...Option) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if bytes.HasPrefix(data, []byte(vm.BytecodeMagic)) {
		program, err := vm.DeserializeProgram(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return ExecuteProgram(program, opts...)
	}

	return ExecuteWithOptions(string(data), opts...)
}

// Options configures execution behavior for ExecuteWithOptions.
type Options struct {
	// Timeout sets maximum execution time. Zero means no timeout.
	Timeout time.Duration

	// MaxSteps limits the number of instructions executed, nested calls
	// included. Zero means unlimited.
	MaxSteps int64

	// MaxCallDepth bounds CAL nesting. Zero means vm.DefaultMaxCallDepth.
	MaxCallDepth int

	// StackLimit caps the scratch stack in bytes. Zero means unlimited.
	StackLimit int

	// Stack is the scratch stack to run on. If nil, a new one is used.
	Stack *vm.Stack

	// Tracer receives every executed instruction.
	Tracer vm.Tracer

	// Stats enables execution statistics in the result.
	Stats bool

	// Optimize runs the optimizer over the program before executing it.
	Optimize bool

	// Context for cancellation. If nil, context.Background() is used.
	Context context.Context
}

// Option is a functional option for configuring execution.
type Option func(*Options)

// WithTimeout sets execution timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithMaxSteps sets the instruction limit.
func WithMaxSteps(n int64) Option {
	return func(o *Options) {
		o.MaxSteps = n
	}
}

// WithMaxCallDepth sets the CAL nesting limit.
func WithMaxCallDepth(n int) Option {
	return func(o *Options) {
		o.MaxCallDepth = n
	}
}

// WithStackLimit sets the scratch stack limit in bytes.
func WithStackLimit(n int) Option {
	return func(o *Options) {
		o.StackLimit = n
	}
}

// WithStack runs on a caller-owned stack, e.g. one holding arguments.
func WithStack(s *vm.Stack) Option {
	return func(o *Options) {
		o.Stack = s
	}
}

// WithTracer sets a per-instruction trace hook.
func WithTracer(t vm.Tracer) Option {
	return func(o *Options) {
		o.Tracer = t
	}
}

// WithStats enables execution statistics.
func WithStats() Option {
	return func(o *Options) {
		o.Stats = true
	}
}

// WithOptimize enables all optimizer passes before execution.
func WithOptimize() Option {
	return func(o *Options) {
		o.Optimize = true
	}
}

// WithContext sets the context for cancellation.
func WithContext(ctx context.Context) Option {
	return func(o *Options) {
		o.Context = ctx
	}
}

// ExecuteWithOptions assembles and executes code with advanced
// configuration.
//
// Example:
//
//	result, err := embed.ExecuteWithOptions(code,
//	    embed.WithTimeout(5*time.Second),
//	    embed.WithMaxSteps(10000),
//	    embed.WithStats(),
//	)
func ExecuteWithOptions(code string, opts ...Option) (*Result, error) {
	program, err := compiler.Compile(code)
	if err != nil {
		return nil, err
	}
	return ExecuteProgram(program, opts...)
}

// ExecuteLibrary runs already encoded segments; lib[0] is the entry
// segment.
func ExecuteLibrary(lib vm.Library, opts ...Option) (*Result, error) {
	return ExecuteProgram(&vm.Program{Segments: lib}, opts...)
}

// ExecuteProgram runs a compiled or deserialized program.
func ExecuteProgram(program *vm.Program, opts ...Option) (*Result, error) {
	options := &Options{
		Context: context.Background(),
	}
	for _, opt := range opts {
		opt(options)
	}

	if options.Optimize {
		program = optimizer.New(optimizer.WithAllOptimizations()).Optimize(program)
	}

	stack := options.Stack
	if stack == nil {
		stack = vm.NewStack()
	}
	stack.SetLimit(options.StackLimit)

	machine, err := vm.New(program.Segments, stack)
	if err != nil {
		return nil, err
	}
	machine.SetMaxSteps(options.MaxSteps)
	machine.SetMaxCallDepth(options.MaxCallDepth)
	machine.SetTracer(options.Tracer)
	if options.Stats {
		machine.EnableStats()
	}

	// Setup timeout context
	ctx := options.Context
	if options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}
	machine.SetContext(ctx)

	if err := machine.Run(); err != nil {
		// Map VM errors to embed package errors
		switch {
		case errors.Is(err, vm.ErrStepLimit):
			return nil, fmt.Errorf("%w: %w", ErrStepLimit, err)
		case errors.Is(err, vm.ErrStackLimit):
			return nil, fmt.Errorf("%w: %w", ErrStackLimit, err)
		case errors.Is(err, vm.ErrCallDepth):
			return nil, fmt.Errorf("%w: %w", ErrCallDepth, err)
		case errors.Is(err, context.DeadlineExceeded):
			return nil, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return nil, err
	}

	return &Result{
		Registers: *machine.Registers(),
		Stack:     stack.Bytes(),
		Stats:     machine.Stats(),
	}, nil
}
