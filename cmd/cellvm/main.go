// cellvm CLI - assembles, links and runs cell bytecode scripts
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/cellvm/manifest"
	"github.com/chazu/cellvm/pkg/bytecode"
	"github.com/chazu/cellvm/pkg/cell"
	"github.com/chazu/cellvm/vm"
	"github.com/chazu/cellvm/vm/dump"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// options are the settings after cellvm.toml and flags are merged.
type options struct {
	cfg     *manifest.Manifest
	disasm  bool
	opcodes bool
	natives bool
	timeout time.Duration
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, rest, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	cfg := opts.cfg

	commonlog.Configure(cfg.Log.Verbosity, cfg.LogFile())
	log := commonlog.GetLogger("cellvm.cli")

	if opts.opcodes {
		printOpcodes(stdout)
		return 0
	}

	out := &syncWriter{w: stdout}
	reg, err := newRegistry(out)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if opts.natives {
		for _, name := range reg.Names() {
			fmt.Fprintln(stdout, name)
		}
		return 0
	}

	path := cfg.SourcePath()
	if len(rest) > 0 {
		path = rest[0]
		rest = rest[1:]
	}
	if path == "" {
		fmt.Fprintf(stderr, "Error: no script given\n")
		return 2
	}
	callArgs := make([]cell.Cell, 0, len(cfg.Run.Args)+len(rest))
	for _, a := range cfg.Run.Args {
		callArgs = append(callArgs, cell.Cell(a))
	}
	for _, a := range rest {
		v, err := strconv.ParseInt(a, 0, 32)
		if err != nil {
			fmt.Fprintf(stderr, "Error: argument %q: %v\n", a, err)
			return 2
		}
		callArgs = append(callArgs, cell.Cell(v))
	}

	src, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	prog, err := bytecode.Assemble(path, string(src))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %s: %v\n", path, err)
		return 1
	}
	if opts.disasm {
		fmt.Fprint(stdout, prog.Disassemble())
		return 0
	}

	script, err := vm.Link(prog, reg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	results, faults, err := runInstances(ctx, script, cfg, callArgs)
	if cfg.Run.Dump != "" && len(faults) > 0 {
		if derr := dump.WriteFile(cfg.Run.Dump, faults...); derr != nil {
			fmt.Fprintf(stderr, "Error: %v\n", derr)
		} else {
			log.Info("wrote fault dump", "path", cfg.Run.Dump, "faults", len(faults))
		}
	}
	if err != nil {
		var halt *vm.HaltError
		if errors.As(err, &halt) {
			return int(halt.Code)
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		for _, f := range faults {
			fmt.Fprint(stderr, f.String())
		}
		return 1
	}

	for i, r := range results {
		if len(results) > 1 {
			fmt.Fprintf(stdout, "[%d] %d\n", i, r)
		} else {
			fmt.Fprintf(stdout, "%d\n", r)
		}
	}
	return 0
}

func parseArgs(args []string, stderr io.Writer) (*options, []string, error) {
	fs := flag.NewFlagSet("cellvm", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configDir := fs.String("config", ".", "Directory to search upward from for "+manifest.FileName)
	entry := fs.String("m", "", "Public function to run (default from config, else 'main')")
	memory := fs.Int("mem", 0, "Instance memory in bytes")
	maxInstr := fs.Uint64("max", 0, "Instruction budget per run (0 = unlimited)")
	trace := fs.Bool("trace", false, "Log every instruction at debug level")
	verbosity := fs.Int("v", 0, "Log verbosity")
	logFile := fs.String("log", "", "Log file (default stderr)")
	parallel := fs.Int("parallel", 0, "Number of independent instances to run")
	dumpPath := fs.String("dump", "", "Write CBOR fault snapshots to this file")
	timeout := fs.Duration("timeout", 0, "Abort runs after this long")
	disasm := fs.Bool("disasm", false, "Print the disassembly and exit")
	opcodes := fs.Bool("opcodes", false, "List the opcode table and exit")
	natives := fs.Bool("natives", false, "List available natives and exit")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: cellvm [options] script.casm [args...]\n\n")
		fmt.Fprintf(stderr, "Assembles a script, links it against the builtin and host natives,\n")
		fmt.Fprintf(stderr, "and calls one of its public functions with integer arguments.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  cellvm fib.casm 10                # Run main(10)\n")
		fmt.Fprintf(stderr, "  cellvm -m square sq.casm 7         # Run square(7)\n")
		fmt.Fprintf(stderr, "  cellvm -parallel 8 -max 1000000 x.casm\n")
		fmt.Fprintf(stderr, "  cellvm -disasm fib.casm            # Show the bytecode\n")
	}
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	cfg, err := manifest.FindAndLoad(*configDir)
	if err != nil {
		return nil, nil, err
	}
	if cfg == nil {
		cfg = manifest.Default()
	}

	// Flags given explicitly override the file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "m":
			cfg.Run.Entry = *entry
		case "mem":
			cfg.Runtime.Memory = *memory
		case "max":
			cfg.Runtime.MaxInstructions = *maxInstr
		case "trace":
			cfg.Runtime.Trace = *trace
		case "v":
			cfg.Log.Verbosity = *verbosity
		case "log":
			cfg.Log.File = *logFile
		case "parallel":
			cfg.Run.Parallel = *parallel
		case "dump":
			cfg.Run.Dump = *dumpPath
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	return &options{
		cfg:     cfg,
		disasm:  *disasm,
		opcodes: *opcodes,
		natives: *natives,
		timeout: *timeout,
	}, fs.Args(), nil
}

// runInstances calls the entry point on cfg.Run.Parallel independent
// instances of script. It returns every result, or the first error along
// with the fault of each failed instance.
func runInstances(ctx context.Context, script *vm.Script, cfg *manifest.Manifest, args []cell.Cell) ([]cell.Cell, []*vm.Fault, error) {
	n := cfg.Run.Parallel
	results := make([]cell.Cell, n)
	faults := make([]*vm.Fault, n)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			in, err := vm.NewInstance(script,
				vm.WithMemorySize(cfg.Runtime.Memory),
				vm.WithMaxInstructions(cfg.Runtime.MaxInstructions),
				vm.WithTrace(cfg.Runtime.Trace),
			)
			if err != nil {
				return err
			}
			r, err := in.InvokePublic(ctx, cfg.Run.Entry, args...)
			if err != nil {
				faults[i] = in.LastFault()
				return fmt.Errorf("instance %d: %w", i, err)
			}
			results[i] = r
			return nil
		})
	}
	err := g.Wait()

	var failed []*vm.Fault
	for _, f := range faults {
		if f != nil {
			failed = append(failed, f)
		}
	}
	return results, failed, err
}

func printOpcodes(w io.Writer) {
	for _, op := range bytecode.AllOpcodes() {
		kind := ""
		switch {
		case op.IsPseudo():
			kind = "pseudo"
		case !op.IsGenerated():
			kind = "ungenerated"
		}
		operands := strconv.Itoa(op.Operands())
		if op.Operands() == bytecode.VariableOperands {
			operands = "var"
		}
		fmt.Fprintf(w, "%3d  %-18s %-4s %s\n", op, op, operands, kind)
	}
}

// syncWriter serializes writes from parallel instances.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
