package vm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/cellvm/pkg/bytecode"
	"github.com/chazu/cellvm/pkg/cell"
)

const loopSrc = `
.public spin
spin:
    proc
top:
    inc.pri
    jump top
`

func TestInstructionBudget(t *testing.T) {
	p, err := bytecode.Assemble("loop", loopSrc)
	if err != nil {
		t.Fatal(err)
	}
	s, err := Link(p, NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	in, err := NewInstance(s, WithMaxInstructions(1000))
	if err != nil {
		t.Fatal(err)
	}
	_, err = in.InvokePublic(context.Background(), "spin")
	wantRuntimeError(t, err, ErrorAborted, ErrAborted)

	// The budget applies per outermost invocation.
	_, err = in.InvokePublic(context.Background(), "spin")
	wantRuntimeError(t, err, ErrorAborted, ErrAborted)
}

func TestContextDeadline(t *testing.T) {
	in := newTestInstance(t, loopSrc)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := in.InvokePublic(ctx, "spin")
	wantRuntimeError(t, err, ErrorAborted, ErrAborted)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline cause", err)
	}
}

func TestContextDoneBeforeStart(t *testing.T) {
	in := newTestInstance(t, addSrc)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := in.InvokePublic(ctx, "add", 1, 2)
	wantRuntimeError(t, err, ErrorAborted, ErrAborted)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestAbortFromAnotherGoroutine(t *testing.T) {
	in := newTestInstance(t, loopSrc)

	done := make(chan error, 1)
	go func() {
		_, err := in.InvokePublic(context.Background(), "spin")
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	in.Abort()

	select {
	case err := <-done:
		wantRuntimeError(t, err, ErrorAborted, ErrAborted)
	case <-time.After(5 * time.Second):
		t.Fatal("spin did not stop after Abort")
	}

	// The flag is consumed by the aborted run.
	if got := stillRuns(t, in); got != nil {
		t.Error(got)
	}
}

// stillRuns checks that in runs until its deadline instead of aborting at once.
func stillRuns(t *testing.T, in *Instance) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := in.InvokePublic(ctx, "spin")
	var re *RuntimeError
	if !errors.As(err, &re) || !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("spin after abort: %v, want deadline", err)
	}
	return nil
}

func TestNewInstanceMemorySize(t *testing.T) {
	p, err := bytecode.Assemble("data", ".data big 1 2 3 4\n.public f\nf: proc\n retn\n")
	if err != nil {
		t.Fatal(err)
	}
	s, err := Link(p, NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	for _, size := range []int{0, 130, 16} {
		if _, err := NewInstance(s, WithMemorySize(size)); !errors.Is(err, ErrBounds) {
			t.Errorf("NewInstance(%d) = %v, want ErrBounds", size, err)
		}
	}
	in, err := NewInstance(s, WithMemorySize(256))
	if err != nil {
		t.Fatal(err)
	}
	if r := in.Registers(); r.HEA != 16 || r.STK != 256 || r.STP != 256 {
		t.Errorf("registers = %+v", r)
	}
	if v, err := in.ReadCell(12); err != nil || v != 4 {
		t.Errorf("data[3] = %d, %v", v, err)
	}
}

func TestTrace(t *testing.T) {
	p, err := bytecode.Assemble("add", addSrc)
	if err != nil {
		t.Fatal(err)
	}
	s, err := Link(p, NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	in, err := NewInstance(s, WithTrace(true))
	if err != nil {
		t.Fatal(err)
	}
	if got := mustInvoke(t, in, "add", 2, 2); got != 4 {
		t.Errorf("add(2, 2) = %d", got)
	}
}

// ---------------------------------------------------------------------------
// Isolation
// ---------------------------------------------------------------------------

func TestInstancesAreIsolated(t *testing.T) {
	src := `
.data counter 0
.public bump
bump:
    proc
    inc counter
    load.pri counter
    retn
`
	p, err := bytecode.Assemble("counter", src)
	if err != nil {
		t.Fatal(err)
	}
	s, err := Link(p, NewRegistry())
	if err != nil {
		t.Fatal(err)
	}

	const workers, rounds = 8, 200
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			in, err := NewInstance(s)
			if err != nil {
				return err
			}
			for i := 1; i <= rounds; i++ {
				got, err := in.InvokePublic(context.Background(), "bump")
				if err != nil {
					return err
				}
				if got != cell.Cell(i) {
					return fmt.Errorf("instance %s: bump %d returned %d", in.ID(), i, got)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

// ---------------------------------------------------------------------------
// Link
// ---------------------------------------------------------------------------

func TestLinkMissingNatives(t *testing.T) {
	src := `
.native one
.native two
.public f
f:
    proc
    push.c 0
    sysreq.c one
    sysreq.c two
    sysreq.c __float_add
    stack 4
    retn
`
	p, err := bytecode.Assemble("missing", src)
	if err != nil {
		t.Fatal(err)
	}
	reg, err := NewBuiltinRegistry()
	if err != nil {
		t.Fatal(err)
	}
	_, err = Link(p, reg)
	var le *LinkError
	if !errors.As(err, &le) {
		t.Fatalf("err = %v, want *LinkError", err)
	}
	if !reflect.DeepEqual(le.Missing, []string{"one", "two"}) {
		t.Errorf("Missing = %v", le.Missing)
	}
	if !errors.Is(err, ErrLink) {
		t.Error("LinkError does not match ErrLink")
	}
}

func TestLinkRejectsBadCode(t *testing.T) {
	op := func(o bytecode.Opcode) cell.Cell { return cell.Cell(o) }
	tests := []struct {
		name string
		code []cell.Cell
	}{
		{"unknown opcode", []cell.Cell{op(bytecode.OpProc), 999}},
		{"truncated", []cell.Cell{op(bytecode.OpProc), op(bytecode.OpConstPri)}},
		{"jump into operand", []cell.Cell{op(bytecode.OpProc), op(bytecode.OpJump), 8, op(bytecode.OpRetn)}},
		{"call non-function", []cell.Cell{op(bytecode.OpProc), op(bytecode.OpCall), 4, op(bytecode.OpRetn)}},
		{"native out of range", []cell.Cell{op(bytecode.OpProc), op(bytecode.OpSysreqC), 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &bytecode.Program{Name: tt.name, Code: tt.code}
			_, err := Link(p, NewRegistry())
			if !errors.Is(err, ErrDecode) {
				t.Fatalf("err = %v, want ErrDecode", err)
			}
			var de *bytecode.DecodeError
			if !errors.As(err, &de) {
				t.Errorf("err = %v, want *bytecode.DecodeError inside", err)
			}
		})
	}
}

func TestLinkPublicMustBeFunction(t *testing.T) {
	src := ".public f\nnop\nf: retn\n"
	p, err := bytecode.Assemble("pub", src)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Link(p, NewRegistry()); !errors.Is(err, ErrLink) {
		t.Errorf("err = %v, want ErrLink", err)
	}
}

// ---------------------------------------------------------------------------
// Properties
// ---------------------------------------------------------------------------

// pseudoOp pairs a pseudo-opcode with the native it stands for.
type pseudoOp struct {
	op, native string
	unary      bool
}

var pseudoOps = []pseudoOp{
	{"float.add", "__float_add", false},
	{"float.sub", "__float_sub", false},
	{"float.mul", "__float_mul", false},
	{"float.div", "__float_div", false},
	{"float.gt", "__float_gt", false},
	{"float.ge", "__float_ge", false},
	{"float.lt", "__float_lt", false},
	{"float.le", "__float_le", false},
	{"float.eq", "__float_eq", false},
	{"float.ne", "__float_ne", false},
	{"float.not", "__float_not", true},
	{"float", "__float_ctor", true},
	{"floatdb", "__double_float", true},
	{"double.add", "__double_add", false},
	{"double.sub", "__double_sub", false},
	{"double.mul", "__double_mul", false},
	{"double.div", "__double_div", false},
	{"double.gt", "__double_gt", false},
	{"double.ge", "__double_ge", false},
	{"double.lt", "__double_lt", false},
	{"double.le", "__double_le", false},
	{"double.eq", "__double_eq", false},
	{"double.ne", "__double_ne", false},
	{"double.not", "__double_not", true},
	{"double", "__double_ctor", true},
	{"doublef", "__float_double", true},
}

// pseudoOpsSrc emits two publics per pair: p_<native> runs the opcode on
// PRI and ALT, n_<native> calls the native with the same arguments.
func pseudoOpsSrc() string {
	var b strings.Builder
	for _, p := range pseudoOps {
		fmt.Fprintf(&b, ".public p%s\n.public n%s\n", p.native, p.native)
	}
	for _, p := range pseudoOps {
		if p.unary {
			fmt.Fprintf(&b, "p%s:\n proc\n load.s.pri 12\n %s\n retn\n", p.native, p.op)
			fmt.Fprintf(&b, "n%s:\n proc\n push.s 12\n sysreq.n %s 1\n retn\n", p.native, p.native)
			continue
		}
		fmt.Fprintf(&b, "p%s:\n proc\n load.s.both 12 16\n %s\n retn\n", p.native, p.op)
		fmt.Fprintf(&b, "n%s:\n proc\n push.s 16\n push.s 12\n sysreq.n %s 2\n retn\n", p.native, p.native)
	}
	return b.String()
}

// floatArg draws ordinary floats mixed with NaN, signed zeros and infinities.
func floatArg() gopter.Gen {
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))
	return gen.OneGenOf(
		gen.Float32(),
		gen.OneConstOf(nan, float32(0), float32(math.Copysign(0, -1)), inf, -inf),
	)
}

func TestPseudoOpsMatchNatives(t *testing.T) {
	in := newTestInstance(t, pseudoOpsSrc())

	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	for _, p := range pseudoOps {
		p := p
		properties.Property(p.op+" matches "+p.native, prop.ForAll(
			func(a, b float32) bool {
				x, y := cell.FromFloat(a), cell.FromFloat(b)
				if p.op == "float" || p.op == "double" {
					// Constructors take an integer.
					x = cell.Cell(int32(a))
				}
				got, err1 := in.InvokePublic(context.Background(), "p"+p.native, x, y)
				want, err2 := in.InvokePublic(context.Background(), "n"+p.native, x, y)
				return err1 == nil && err2 == nil && got == want
			},
			floatArg(),
			floatArg(),
		))
	}
	properties.TestingRun(t)
}

func TestFloatComparisonsWithSpecialValues(t *testing.T) {
	in := newTestInstance(t, pseudoOpsSrc())
	nan := cell.FromFloat(float32(math.NaN()))
	pz, nz := cell.FromFloat(0), cell.FromFloat(float32(math.Copysign(0, -1)))
	one := cell.FromFloat(1)

	tests := []struct {
		op   string
		a, b cell.Cell
		want cell.Cell
	}{
		{"gt", nan, one, 0},
		{"ge", nan, nan, 0},
		{"lt", one, nan, 0},
		{"le", nan, nan, 0},
		{"eq", nan, nan, 0},
		{"ne", nan, nan, 1},
		{"ne", nan, one, 1},
		{"eq", pz, nz, 1},
		{"ne", pz, nz, 0},
		{"ge", nz, pz, 1},
		{"le", pz, nz, 1},
		{"lt", nz, pz, 0},
		{"gt", pz, nz, 0},
	}
	for _, width := range []string{"float", "double"} {
		for _, tt := range tests {
			for _, prefix := range []string{"p", "n"} {
				name := prefix + "__" + width + "_" + tt.op
				if got := mustInvoke(t, in, name, tt.a, tt.b); got != tt.want {
					t.Errorf("%s(%v, %v) = %d, want %d", name, tt.a.Float(), tt.b.Float(), got, tt.want)
				}
			}
		}
	}
	for _, name := range []string{"p__float_not", "p__double_not", "n__float_not", "n__double_not"} {
		for _, v := range []cell.Cell{nan, pz, nz} {
			if got := mustInvoke(t, in, name, v); got != 1 {
				t.Errorf("%s(%v) = %d, want 1", name, v.Float(), got)
			}
		}
		if got := mustInvoke(t, in, name, one); got != 0 {
			t.Errorf("%s(1) = %d, want 0", name, got)
		}
	}
}

func TestBuiltinModulo(t *testing.T) {
	f := cell.FromFloat
	nan := f(float32(math.NaN()))
	isNaN := func(c cell.Cell) bool { return math.IsNaN(float64(c.Float())) }
	negZero := f(float32(math.Copysign(0, -1)))

	for _, name := range []string{"__float_mod", "__double_mod"} {
		if got := callBuiltin(t, name, f(7.5), f(2)); got.Float() != 1.5 {
			t.Errorf("%s(7.5, 2) = %v, want 1.5", name, got.Float())
		}
		if got := callBuiltin(t, name, f(-7.5), f(2)); got.Float() != -1.5 {
			t.Errorf("%s(-7.5, 2) = %v, want -1.5", name, got.Float())
		}
		if got := callBuiltin(t, name, f(1), f(0)); !isNaN(got) {
			t.Errorf("%s(1, 0) = %v, want NaN", name, got.Float())
		}
		if got := callBuiltin(t, name, nan, f(2)); !isNaN(got) {
			t.Errorf("%s(NaN, 2) = %v, want NaN", name, got.Float())
		}
		if got := callBuiltin(t, name, f(3), nan); !isNaN(got) {
			t.Errorf("%s(3, NaN) = %v, want NaN", name, got.Float())
		}
		if got := callBuiltin(t, name, negZero, f(2)); got != negZero {
			t.Errorf("%s(-0, 2) = %v, want -0", name, got.Float())
		}
		if got := callBuiltin(t, name, f(5), f(float32(math.Inf(1)))); got.Float() != 5 {
			t.Errorf("%s(5, +Inf) = %v, want 5", name, got.Float())
		}
	}
}

func TestDivisionProperties(t *testing.T) {
	in := newTestInstance(t, divSrc)

	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	properties.Property("quotient and remainder recombine", prop.ForAll(
		func(a, b int32) bool {
			if b == 0 || (a == math.MinInt32 && b == -1) {
				return true
			}
			q, err1 := in.InvokePublic(context.Background(), "div", cell.Cell(a), cell.Cell(b))
			r, err2 := in.InvokePublic(context.Background(), "rem", cell.Cell(a), cell.Cell(b))
			return err1 == nil && err2 == nil && q*cell.Cell(b)+r == cell.Cell(a)
		},
		gen.Int32(),
		gen.Int32(),
	))
	properties.TestingRun(t)
}
