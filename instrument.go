package kint

import (
	"fmt"
	"math/big"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/sirupsen/logrus"
	"golang.org/x/tools/container/intsets"
)

// InstrumentStats holds counters for a single instrumentation run.
type InstrumentStats struct {
	Overflow     int // overflow sentinels inserted
	Shift        int // shift sentinels inserted
	Div          int // division sentinels inserted
	Unobservable int // arithmetic skipped because no side effect depends on it
}

// Add returns the sum of s and other.
func (s InstrumentStats) Add(other InstrumentStats) InstrumentStats {
	return InstrumentStats{
		Overflow:     s.Overflow + other.Overflow,
		Shift:        s.Shift + other.Shift,
		Div:          s.Div + other.Div,
		Unobservable: s.Unobservable + other.Unobservable,
	}
}

// Total returns the number of sentinels inserted.
func (s InstrumentStats) Total() int {
	return s.Overflow + s.Shift + s.Div
}

// Instrumenter inserts sentinel calls before arithmetic, shift and division
// instructions that may fault.
type Instrumenter struct {
	Logger logrus.FieldLogger
}

// NewInstrumenter returns a new instance of Instrumenter.
func NewInstrumenter() *Instrumenter {
	return &Instrumenter{Logger: logrus.StandardLogger()}
}

// InstrumentModule instruments every function defined in m.
func (in *Instrumenter) InstrumentModule(m *ir.Module) (InstrumentStats, error) {
	decls := newSentinelDecls(m)

	var stats InstrumentStats
	for _, fn := range append([]*ir.Func(nil), m.Funcs...) {
		if len(fn.Blocks) == 0 {
			continue
		}
		s, err := in.instrumentFunction(decls, fn)
		if err != nil {
			return stats, err
		}
		stats = stats.Add(s)
	}
	return stats, nil
}

// InstrumentFunction instruments a single function defined in m.
func (in *Instrumenter) InstrumentFunction(m *ir.Module, fn *ir.Func) (InstrumentStats, error) {
	return in.instrumentFunction(newSentinelDecls(m), fn)
}

func (in *Instrumenter) instrumentFunction(decls *sentinelDecls, fn *ir.Func) (InstrumentStats, error) {
	var stats InstrumentStats
	logger := in.Logger.WithField("func", fn.Name())

	// Observability is decided against the function as it was before any
	// sentinel was inserted.
	g := NewGraph(fn)

	for _, b := range fn.Blocks {
		insts := make([]ir.Instruction, 0, len(b.Insts))
		for _, inst := range b.Insts {
			switch inst := inst.(type) {
			case *ir.InstAdd:
				insts = in.overflow(&stats, decls, g, insts, inst, OpcodeAdd, inst.X, inst.Y, inst.OverflowFlags)
			case *ir.InstSub:
				insts = in.overflow(&stats, decls, g, insts, inst, OpcodeSub, inst.X, inst.Y, inst.OverflowFlags)
			case *ir.InstMul:
				insts = in.overflow(&stats, decls, g, insts, inst, OpcodeMul, inst.X, inst.Y, inst.OverflowFlags)

			case *ir.InstShl:
				insts = in.shift(&stats, decls, fn, insts, inst.X, inst.Y)
			case *ir.InstLShr:
				insts = in.shift(&stats, decls, fn, insts, inst.X, inst.Y)
			case *ir.InstAShr:
				insts = in.shift(&stats, decls, fn, insts, inst.X, inst.Y)

			case *ir.InstUDiv:
				insts = in.div(&stats, decls, fn, insts, inst.X, inst.Y, false)
			case *ir.InstSDiv:
				insts = in.div(&stats, decls, fn, insts, inst.X, inst.Y, true)
			}
			insts = append(insts, inst)
		}
		b.Insts = insts
	}

	resetIDs(fn)
	if err := fn.AssignIDs(); err != nil {
		return stats, fmt.Errorf("assign ids: %s: %w", fn.Name(), err)
	}

	logger.WithFields(logrus.Fields{
		"overflow":     stats.Overflow,
		"shift":        stats.Shift,
		"div":          stats.Div,
		"unobservable": stats.Unobservable,
	}).Debug("instrumented")
	return stats, nil
}

// localIdent is implemented by parameters, blocks and value instructions.
type localIdent interface {
	IsUnnamed() bool
	SetID(id int64)
}

// resetIDs clears the ids of unnamed locals so that they can be renumbered
// after instructions have been inserted.
func resetIDs(fn *ir.Func) {
	reset := func(v interface{}) {
		if l, ok := v.(localIdent); ok && l.IsUnnamed() {
			l.SetID(0)
		}
	}
	for _, p := range fn.Params {
		reset(p)
	}
	for _, b := range fn.Blocks {
		reset(b)
		for _, inst := range b.Insts {
			reset(inst)
		}
		reset(b.Term)
	}
}

// overflow appends an overflow sentinel for inst if its result is observable.
func (in *Instrumenter) overflow(stats *InstrumentStats, decls *sentinelDecls, g *Graph, insts []ir.Instruction, inst ir.Instruction, opcode int64, x, y value.Value, flags []enum.OverflowFlag) []ir.Instruction {
	typ, ok := x.Type().(*types.IntType)
	if !ok {
		return insts
	} else if !observable(g, inst) {
		stats.Unobservable++
		return insts
	}

	nsw := false
	for _, flag := range flags {
		if flag == enum.OverflowFlagNSW {
			nsw = true
		}
	}

	callee := decls.declare(OverflowPrefix, g.Func(),
		ir.NewParam("op", types.I8),
		ir.NewParam("x", typ),
		ir.NewParam("y", typ),
		ir.NewParam("nsw", types.I1),
	)
	stats.Overflow++
	return append(insts, ir.NewCall(callee, constant.NewInt(types.I8, opcode), x, y, constant.NewBool(nsw)))
}

// shift appends a check that the shift amount is at least the bit width.
func (in *Instrumenter) shift(stats *InstrumentStats, decls *sentinelDecls, fn *ir.Func, insts []ir.Instruction, x, y value.Value) []ir.Instruction {
	typ, ok := x.Type().(*types.IntType)
	if !ok {
		return insts
	}

	cond := ir.NewICmp(enum.IPredUGE, y, constant.NewInt(typ, int64(typ.BitSize)))
	callee := decls.declare(ShiftDivPrefix, fn, ir.NewParam("cond", types.I1))
	stats.Shift++
	return append(insts, cond, ir.NewCall(callee, cond))
}

// div appends a check for division by zero and, for signed division,
// the INT_MIN / -1 overflow.
func (in *Instrumenter) div(stats *InstrumentStats, decls *sentinelDecls, fn *ir.Func, insts []ir.Instruction, x, y value.Value, signed bool) []ir.Instruction {
	typ, ok := x.Type().(*types.IntType)
	if !ok {
		return insts
	}

	zero := ir.NewICmp(enum.IPredEQ, y, constant.NewInt(typ, 0))
	insts = append(insts, zero)

	var cond value.Value = zero
	if signed {
		intMin := &constant.Int{Typ: typ, X: new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), uint(typ.BitSize)-1))}
		minusOne := ir.NewICmp(enum.IPredEQ, y, constant.NewInt(typ, -1))
		isMin := ir.NewICmp(enum.IPredEQ, x, intMin)
		both := ir.NewAnd(minusOne, isMin)
		either := ir.NewOr(zero, both)
		insts = append(insts, minusOne, isMin, both, either)
		cond = either
	}

	callee := decls.declare(ShiftDivPrefix, fn, ir.NewParam("cond", types.I1))
	stats.Div++
	return append(insts, ir.NewCall(callee, cond))
}

// observable returns true if some transitive user of inst is not safe to
// execute speculatively, meaning a fault in inst could affect behavior.
func observable(g *Graph, inst ir.Instruction) bool {
	v, ok := inst.(value.Value)
	if !ok {
		return true
	}

	var visited intsets.Sparse
	stack := append([]User(nil), g.Users(v)...)
	for len(stack) > 0 {
		u := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		id, ok := g.ID(u)
		assert(ok, "user not indexed: %s", u.LLString())
		if !visited.Insert(id) {
			continue
		} else if !isSpeculatable(u) {
			return true
		}

		if v, ok := u.(value.Value); ok {
			stack = append(stack, g.Users(v)...)
		}
	}
	return false
}

// isSpeculatable returns true if u has no side effects and cannot trap.
func isSpeculatable(u User) bool {
	switch u := u.(type) {
	case *ir.InstAdd, *ir.InstSub, *ir.InstMul,
		*ir.InstShl, *ir.InstLShr, *ir.InstAShr,
		*ir.InstAnd, *ir.InstOr, *ir.InstXor,
		*ir.InstFAdd, *ir.InstFSub, *ir.InstFMul, *ir.InstFDiv, *ir.InstFRem, *ir.InstFNeg,
		*ir.InstICmp, *ir.InstFCmp,
		*ir.InstTrunc, *ir.InstZExt, *ir.InstSExt,
		*ir.InstFPTrunc, *ir.InstFPExt, *ir.InstFPToUI, *ir.InstFPToSI, *ir.InstUIToFP, *ir.InstSIToFP,
		*ir.InstPtrToInt, *ir.InstIntToPtr, *ir.InstBitCast, *ir.InstAddrSpaceCast,
		*ir.InstGetElementPtr, *ir.InstSelect,
		*ir.InstExtractValue, *ir.InstInsertValue,
		*ir.InstExtractElement, *ir.InstInsertElement, *ir.InstShuffleVector,
		*ir.InstFreeze:
		return true
	case *ir.InstUDiv:
		return isNonZeroConstant(u.Y)
	case *ir.InstURem:
		return isNonZeroConstant(u.Y)
	case *ir.InstSDiv:
		return isNonZeroConstant(u.Y) && !isAllOnesConstant(u.Y)
	case *ir.InstSRem:
		return isNonZeroConstant(u.Y) && !isAllOnesConstant(u.Y)
	default:
		// Memory access, atomics, va_arg, calls, allocas, phis and terminators.
		return false
	}
}

func isNonZeroConstant(v value.Value) bool {
	c, ok := v.(*constant.Int)
	return ok && c.X.Sign() != 0
}

func isAllOnesConstant(v value.Value) bool {
	c, ok := indexConstant(v)
	return ok && c.Cmp(big.NewInt(-1)) == 0
}

// sentinelDecls declares sentinel functions in a module. Names are made
// unique per call site by a sequence number that skips names already
// present in the module.
type sentinelDecls struct {
	m     *ir.Module
	funcs map[string]*ir.Func
	seq   map[string]int
}

func newSentinelDecls(m *ir.Module) *sentinelDecls {
	d := &sentinelDecls{
		m:     m,
		funcs: make(map[string]*ir.Func, len(m.Funcs)),
		seq:   make(map[string]int),
	}
	for _, fn := range m.Funcs {
		d.funcs[fn.Name()] = fn
	}
	return d
}

// declare returns a new body-less sentinel for a call site in fn.
func (d *sentinelDecls) declare(prefix string, fn *ir.Func, params ...*ir.Param) *ir.Func {
	base := prefix + "." + fn.Name()
	for {
		n := d.seq[base]
		d.seq[base] = n + 1

		name := fmt.Sprintf("%s.%d", base, n)
		if _, ok := d.funcs[name]; ok {
			continue
		}
		return d.lookup(name, params...)
	}
}

// lookup returns the function with the given name, declaring it if needed.
func (d *sentinelDecls) lookup(name string, params ...*ir.Param) *ir.Func {
	if fn, ok := d.funcs[name]; ok {
		return fn
	}
	fn := d.m.NewFunc(name, types.Void, params...)
	d.funcs[name] = fn
	return fn
}
