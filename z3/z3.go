//go:build z3

// Package z3 implements a kint.Solver using an embedded Z3 solver.
package z3

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
	"unsafe"

	"github.com/benbjohnson/kint"
)

/*
#cgo LDFLAGS: -lz3
#include <z3.h>
#include <stdlib.h>
#include <stdio.h>
*/
import "C"

// Ensure solver implements interface.
var _ kint.Solver = (*Solver)(nil)

// Solver represents a solver that uses an embedded Z3 solver.
// Queries are serialized over a single Z3 context.
type Solver struct {
	mu    sync.Mutex
	ctx   *Context
	stats kint.Stats

	// Maximum time spent per query. Zero means no limit.
	Timeout time.Duration
}

// NewSolver returns a new instance of Solver.
func NewSolver() *Solver {
	return &Solver{
		ctx: NewContext(),
	}
}

// Close deletes the underlying Z3 context.
func (s *Solver) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx.Close()
}

// Stats returns statistics for the solver.
func (s *Solver) Stats() kint.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Solve reports whether f is satisfiable. A new Z3 solver is created for
// every call so that no assertions carry over between queries.
func (s *Solver) Solve(fctx *kint.Context, f kint.Formula) (kint.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := time.Now()
	defer func() {
		s.stats.SolveN++
		s.stats.SolveTime += time.Since(t)
	}()

	solver := C.Z3_mk_solver(s.ctx.raw)
	if err := s.ctx.err("Z3_mk_solver"); err != nil {
		return kint.Result{}, err
	}
	C.Z3_solver_inc_ref(s.ctx.raw, solver)
	defer C.Z3_solver_dec_ref(s.ctx.raw, solver)

	if s.Timeout > 0 {
		if err := s.ctx.setTimeout(solver, s.Timeout); err != nil {
			return kint.Result{}, err
		}
	}

	// Translate the formula and assert that it holds.
	tr := newTranslator(s.ctx, fctx)
	root, err := tr.translate(f)
	if err != nil {
		return kint.Result{}, err
	}
	cond, err := s.ctx.isOne(root)
	if err != nil {
		return kint.Result{}, err
	}
	C.Z3_solver_assert(s.ctx.raw, solver, cond)
	if err := s.ctx.err("Z3_solver_assert"); err != nil {
		return kint.Result{}, err
	}

	// Check equations with the solver.
	// Exit immediately if unsatisfiable or the solver encountered an error.
	ret := C.Z3_solver_check(s.ctx.raw, solver)
	if err := s.ctx.err("Z3_solver_check"); err != nil {
		return kint.Result{}, err
	} else if ret == C.Z3_L_FALSE {
		return kint.Result{}, nil
	} else if ret == C.Z3_L_UNDEF {
		reason := C.GoString(C.Z3_solver_get_reason_unknown(s.ctx.raw, solver))
		switch {
		case strings.Contains(reason, "timeout"):
			return kint.Result{}, kint.ErrSolverTimeout
		case strings.Contains(reason, "canceled"):
			return kint.Result{}, kint.ErrSolverCanceled
		case strings.Contains(reason, "(resource limits reached)"):
			return kint.Result{}, kint.ErrSolverResourceLimit
		case strings.Contains(reason, "unknown"):
			return kint.Result{}, kint.ErrSolverUnknown
		default:
			return kint.Result{}, fmt.Errorf("z3: %s", reason)
		}
	}

	model := C.Z3_solver_get_model(s.ctx.raw, solver)
	if err := s.ctx.err("Z3_solver_get_model"); err != nil {
		return kint.Result{Satisfiable: true}, err
	}
	C.Z3_model_inc_ref(s.ctx.raw, model)
	defer C.Z3_model_dec_ref(s.ctx.raw, model)

	m, err := tr.eval(model)
	if err != nil {
		return kint.Result{Satisfiable: true}, err
	}
	return kint.Result{Satisfiable: true, Model: m}, nil
}

// Context represents a Z3 context object that is used for constructing expressions.
type Context struct {
	raw C.Z3_context
}

// NewContext returns a new instance of Context.
func NewContext() *Context {
	config := C.Z3_mk_config()
	defer C.Z3_del_config(config)

	raw := C.Z3_mk_context(config)
	C.Z3_set_error_handler(raw, nil)
	C.Z3_set_ast_print_mode(raw, C.Z3_PRINT_SMTLIB2_COMPLIANT)
	return &Context{raw: raw}
}

// Close deletes the underlying Z3 context.
func (ctx *Context) Close() error {
	C.Z3_del_context(ctx.raw)
	return ctx.err("Z3_del_context")
}

// err returns the error for the last API call. Returns nil if last call was successful.
func (ctx *Context) err(op string) error {
	if code := C.Z3_get_error_code(ctx.raw); code != C.Z3_OK {
		return &Error{Code: int(code), Op: op, Message: C.GoString(C.Z3_get_error_msg(ctx.raw, code))}
	}
	return nil
}

func (ctx *Context) setTimeout(solver C.Z3_solver, d time.Duration) error {
	params := C.Z3_mk_params(ctx.raw)
	if err := ctx.err("Z3_mk_params"); err != nil {
		return err
	}
	C.Z3_params_inc_ref(ctx.raw, params)
	defer C.Z3_params_dec_ref(ctx.raw, params)

	C.Z3_params_set_uint(ctx.raw, params, ctx.symbol("timeout"), C.uint(d/time.Millisecond))
	if err := ctx.err("Z3_params_set_uint"); err != nil {
		return err
	}
	C.Z3_solver_set_params(ctx.raw, solver, params)
	return ctx.err("Z3_solver_set_params")
}

func (ctx *Context) symbol(name string) C.Z3_symbol {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return C.Z3_mk_string_symbol(ctx.raw, cname)
}

// translator converts the nodes of a formula context into Z3 terms.
// Every term has a bitvector sort; booleans are (_ BitVec 1).
type translator struct {
	ctx  *Context
	fctx *kint.Context
	asts map[kint.Formula]C.Z3_ast
	vars []kint.Formula
}

func newTranslator(ctx *Context, fctx *kint.Context) *translator {
	return &translator{
		ctx:  ctx,
		fctx: fctx,
		asts: make(map[kint.Formula]C.Z3_ast),
	}
}

// translate converts every node reachable from f and returns the term for f.
func (tr *translator) translate(f kint.Formula) (C.Z3_ast, error) {
	for _, id := range tr.fctx.Reachable(f) {
		n := tr.fctx.Node(id)
		ast, err := tr.toAST(n)
		if err != nil {
			return nil, err
		}
		if n.Op == kint.VAR {
			tr.vars = append(tr.vars, id)
		}
		tr.asts[id] = ast
	}
	return tr.asts[f], nil
}

func (tr *translator) toAST(n kint.Node) (C.Z3_ast, error) {
	ctx := tr.ctx
	switch n.Op {
	case kint.CONST:
		return ctx.makeNumeral(n.Width, n.Value)
	case kint.VAR:
		sort, err := ctx.makeBVSort(n.Width)
		if err != nil {
			return nil, err
		}
		return C.Z3_mk_const(ctx.raw, ctx.symbol(n.Name), sort), ctx.err("Z3_mk_const")
	case kint.NOT:
		return C.Z3_mk_bvnot(ctx.raw, tr.arg(n, 0)), ctx.err("Z3_mk_bvnot")
	case kint.NEG:
		return C.Z3_mk_bvneg(ctx.raw, tr.arg(n, 0)), ctx.err("Z3_mk_bvneg")
	case kint.ZEXT:
		return C.Z3_mk_zero_ext(ctx.raw, C.uint(n.Width-tr.width(n, 0)), tr.arg(n, 0)), ctx.err("Z3_mk_zero_ext")
	case kint.SEXT:
		return C.Z3_mk_sign_ext(ctx.raw, C.uint(n.Width-tr.width(n, 0)), tr.arg(n, 0)), ctx.err("Z3_mk_sign_ext")
	case kint.EXTRACT:
		return C.Z3_mk_extract(ctx.raw, C.uint(n.Hi), C.uint(n.Lo), tr.arg(n, 0)), ctx.err("Z3_mk_extract")
	case kint.ITE:
		cond, err := ctx.isOne(tr.arg(n, 0))
		if err != nil {
			return nil, err
		}
		return C.Z3_mk_ite(ctx.raw, cond, tr.arg(n, 1), tr.arg(n, 2)), ctx.err("Z3_mk_ite")
	}

	lhs, rhs := tr.arg(n, 0), tr.arg(n, 1)
	switch n.Op {
	case kint.ADD:
		return C.Z3_mk_bvadd(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvadd")
	case kint.SUB:
		return C.Z3_mk_bvsub(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvsub")
	case kint.MUL:
		return C.Z3_mk_bvmul(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvmul")
	case kint.UDIV:
		return C.Z3_mk_bvudiv(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvudiv")
	case kint.SDIV:
		return C.Z3_mk_bvsdiv(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvsdiv")
	case kint.UREM:
		return C.Z3_mk_bvurem(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvurem")
	case kint.SREM:
		return C.Z3_mk_bvsrem(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvsrem")
	case kint.AND:
		return C.Z3_mk_bvand(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvand")
	case kint.OR:
		return C.Z3_mk_bvor(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvor")
	case kint.XOR:
		return C.Z3_mk_bvxor(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvxor")
	case kint.SHL:
		return C.Z3_mk_bvshl(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvshl")
	case kint.LSHR:
		return C.Z3_mk_bvlshr(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvlshr")
	case kint.ASHR:
		return C.Z3_mk_bvashr(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvashr")
	}

	// Comparisons produce a Z3 boolean which is converted back to a bit.
	var cmp C.Z3_ast
	switch n.Op {
	case kint.EQ:
		cmp = C.Z3_mk_eq(ctx.raw, lhs, rhs)
	case kint.NE:
		args := [2]C.Z3_ast{lhs, rhs}
		cmp = C.Z3_mk_distinct(ctx.raw, 2, &args[0])
	case kint.ULT:
		cmp = C.Z3_mk_bvult(ctx.raw, lhs, rhs)
	case kint.ULE:
		cmp = C.Z3_mk_bvule(ctx.raw, lhs, rhs)
	case kint.UGT:
		cmp = C.Z3_mk_bvugt(ctx.raw, lhs, rhs)
	case kint.UGE:
		cmp = C.Z3_mk_bvuge(ctx.raw, lhs, rhs)
	case kint.SLT:
		cmp = C.Z3_mk_bvslt(ctx.raw, lhs, rhs)
	case kint.SLE:
		cmp = C.Z3_mk_bvsle(ctx.raw, lhs, rhs)
	case kint.SGT:
		cmp = C.Z3_mk_bvsgt(ctx.raw, lhs, rhs)
	case kint.SGE:
		cmp = C.Z3_mk_bvsge(ctx.raw, lhs, rhs)
	default:
		return nil, fmt.Errorf("z3.translator.toAST: unexpected operation: %s", n.Op)
	}
	if err := ctx.err("Z3_mk_" + n.Op.String()); err != nil {
		return nil, err
	}
	return ctx.fromBool(cmp)
}

func (tr *translator) arg(n kint.Node, i int) C.Z3_ast {
	ast, ok := tr.asts[n.Args[i]]
	assert(ok)
	return ast
}

func (tr *translator) width(n kint.Node, i int) uint {
	return tr.fctx.Node(n.Args[i]).Width
}

// eval returns the model value of every translated variable.
func (tr *translator) eval(model C.Z3_model) (kint.Model, error) {
	m := make(kint.Model, len(tr.vars))
	for _, id := range tr.vars {
		var out C.Z3_ast
		C.Z3_model_eval(tr.ctx.raw, model, tr.asts[id], C.bool(true), &out)
		if err := tr.ctx.err("Z3_model_eval"); err != nil {
			return nil, err
		}

		s := C.GoString(C.Z3_get_numeral_string(tr.ctx.raw, out))
		if err := tr.ctx.err("Z3_get_numeral_string"); err != nil {
			return nil, err
		}
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("z3: invalid numeral: %q", s)
		}
		m[tr.fctx.Node(id).Name] = v
	}
	return m, nil
}

func (ctx *Context) makeBVSort(width uint) (C.Z3_sort, error) {
	return C.Z3_mk_bv_sort(ctx.raw, C.uint(width)), ctx.err("Z3_mk_bv_sort")
}

func (ctx *Context) makeNumeral(width uint, value *big.Int) (C.Z3_ast, error) {
	t, err := ctx.makeBVSort(width)
	if err != nil {
		return nil, err
	}
	cvalue := C.CString(value.String())
	defer C.free(unsafe.Pointer(cvalue))
	return C.Z3_mk_numeral(ctx.raw, cvalue, t), ctx.err("Z3_mk_numeral")
}

// isOne returns the boolean "ast = #b1".
func (ctx *Context) isOne(ast C.Z3_ast) (C.Z3_ast, error) {
	one, err := ctx.makeNumeral(1, big.NewInt(1))
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_eq(ctx.raw, ast, one), ctx.err("Z3_mk_eq")
}

// fromBool converts a boolean into a single bit.
func (ctx *Context) fromBool(b C.Z3_ast) (C.Z3_ast, error) {
	one, err := ctx.makeNumeral(1, big.NewInt(1))
	if err != nil {
		return nil, err
	}
	zero, err := ctx.makeNumeral(1, big.NewInt(0))
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_ite(ctx.raw, b, one, zero), ctx.err("Z3_mk_ite")
}

func assert(condition bool) {
	if !condition {
		panic("assert failed")
	}
}

// Error represents an error from the Z3 API.
type Error struct {
	Code    int
	Op      string
	Message string
}

// Error returns the error as a string.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%d)", e.Op, e.Message, e.Code)
}

// Possible error codes.
const (
	ErrorCodeOK = iota
	ErrorCodeSortError
	ErrorCodeIOB
	ErrorCodeInvalidArg
	ErrorCodeParserError
	ErrorCodeNoParser
	ErrorCodeInvalidPattern
	ErrorCodeMemoutFail
	ErrorCodeFileAccessError
	ErrorCodeInternalFatal
	ErrorCodeInvalidUsage
	ErrorCodeDecRefError
	ErrorCodeException
)
