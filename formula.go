package kint

import (
	"bytes"
	"fmt"
	"io"
	"math/big"
	"strings"

	"golang.org/x/tools/container/intsets"
)

// Formula is a handle to a bitvector formula node owned by a Context.
// The zero Formula is invalid.
type Formula uint32

// Op represents the operation of a formula node.
type Op int

// Formula node operations.
const (
	op_invalid = Op(iota)
	CONST
	VAR
	NOT
	NEG
	ZEXT
	SEXT
	EXTRACT
	ITE

	arithmetic_op_begin
	ADD
	SUB
	MUL
	UDIV
	SDIV
	UREM
	SREM
	AND
	OR
	XOR
	SHL
	LSHR
	ASHR
	arithmetic_op_end

	compare_op_begin
	EQ
	NE
	ULT
	ULE
	UGT
	UGE
	SLT
	SLE
	SGT
	SGE
	compare_op_end
)

var ops = [...]string{
	CONST:   "const",
	VAR:     "var",
	NOT:     "bvnot",
	NEG:     "bvneg",
	ZEXT:    "zero_extend",
	SEXT:    "sign_extend",
	EXTRACT: "extract",
	ITE:     "ite",
	ADD:     "bvadd",
	SUB:     "bvsub",
	MUL:     "bvmul",
	UDIV:    "bvudiv",
	SDIV:    "bvsdiv",
	UREM:    "bvurem",
	SREM:    "bvsrem",
	AND:     "bvand",
	OR:      "bvor",
	XOR:     "bvxor",
	SHL:     "bvshl",
	LSHR:    "bvlshr",
	ASHR:    "bvashr",
	EQ:      "=",
	NE:      "distinct",
	ULT:     "bvult",
	ULE:     "bvule",
	UGT:     "bvugt",
	UGE:     "bvuge",
	SLT:     "bvslt",
	SLE:     "bvsle",
	SGT:     "bvsgt",
	SGE:     "bvsge",
}

// String returns the SMT-LIB name of the operation.
func (op Op) String() string {
	if op >= 0 && op < Op(len(ops)) && ops[op] != "" {
		return ops[op]
	}
	return fmt.Sprintf("Op<%d>", op)
}

// IsArithmetic returns true if op is an arithmetic, bitwise or shift operator.
func (op Op) IsArithmetic() bool {
	return op > arithmetic_op_begin && op < arithmetic_op_end
}

// IsCompare returns true if op is a comparison operator.
func (op Op) IsCompare() bool {
	return op > compare_op_begin && op < compare_op_end
}

// Node is a formula node. Nodes are immutable once created and their
// operands always have smaller ids than the node itself.
type Node struct {
	Op    Op
	Width uint
	Args  []Formula

	// Bit range for EXTRACT.
	Hi, Lo uint

	// Unsigned value for CONST, masked to Width.
	Value *big.Int

	// Display name for VAR. Unique within a context.
	Name string
}

// Context holds an arena of formula nodes and tracks outstanding
// references to them.
//
// Every builder returns a formula carrying one reference owned by the
// caller. Operands are never consumed. Callers drop references with
// Release and take additional ones with Retain.
type Context struct {
	Solver Solver

	nodes []Node
	refs  []int32
	live  int
	names map[string]struct{}
}

// NewContext returns a new formula context that answers queries using s.
func NewContext(s Solver) *Context {
	return &Context{
		Solver: s,
		nodes:  make([]Node, 1, 64),
		refs:   make([]int32, 1, 64),
		names:  make(map[string]struct{}),
	}
}

// Close releases the arena. Returns an error if references are still held.
func (ctx *Context) Close() error {
	live := ctx.live
	ctx.nodes, ctx.refs, ctx.live, ctx.names = nil, nil, 0, nil
	if live != 0 {
		return fmt.Errorf("kint: %d formula references leaked", live)
	}
	return nil
}

// Live returns the number of outstanding formula references.
func (ctx *Context) Live() int { return ctx.live }

// Len returns the number of nodes allocated in the arena.
func (ctx *Context) Len() int { return len(ctx.nodes) - 1 }

// Node returns the node for f. The returned node must not be modified.
func (ctx *Context) Node(f Formula) Node {
	assert(f > 0 && int(f) < len(ctx.nodes), "formula not realized: %d", f)
	return ctx.nodes[f]
}

// Width returns the bit width of f.
func (ctx *Context) Width(f Formula) uint {
	ctx.mustLive(f)
	return ctx.nodes[f].Width
}

// Retain adds a reference to f and returns it.
func (ctx *Context) Retain(f Formula) Formula {
	ctx.mustLive(f)
	ctx.refs[f]++
	ctx.live++
	return f
}

// Release drops one reference from each formula.
func (ctx *Context) Release(fs ...Formula) {
	for _, f := range fs {
		assert(f > 0 && int(f) < len(ctx.nodes), "release of unrealized formula: %d", f)
		assert(ctx.refs[f] > 0, "double release: %d", f)
		ctx.refs[f]--
		ctx.live--
	}
}

func (ctx *Context) mustLive(f Formula) {
	assert(f > 0 && int(f) < len(ctx.nodes), "formula not realized: %d", f)
	assert(ctx.refs[f] > 0, "formula already released: %d", f)
}

func (ctx *Context) newNode(n Node) Formula {
	assert(n.Width > 0, "zero width formula: %s", n.Op)
	ctx.nodes = append(ctx.nodes, n)
	ctx.refs = append(ctx.refs, 1)
	ctx.live++
	return Formula(len(ctx.nodes) - 1)
}

// Query reports whether f is satisfiable using a fresh solver instance.
func (ctx *Context) Query(f Formula) (bool, error) {
	result, err := ctx.QueryModel(f)
	return result.Satisfiable, err
}

// QueryModel is like Query but also returns a model when f is satisfiable.
func (ctx *Context) QueryModel(f Formula) (Result, error) {
	ctx.mustLive(f)
	assert(ctx.nodes[f].Width == WidthBool, "query of non-boolean formula: width %d", ctx.nodes[f].Width)
	assert(ctx.Solver != nil, "context has no solver")
	return ctx.Solver.Solve(ctx, f)
}

// Reachable returns the ids of all nodes reachable from f in ascending
// order. Operands always precede the nodes that use them.
func (ctx *Context) Reachable(f Formula) []Formula {
	var visited intsets.Sparse
	stack := []Formula{f}
	for len(stack) > 0 {
		g := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !visited.Insert(int(g)) {
			continue
		}
		stack = append(stack, ctx.nodes[g].Args...)
	}

	ids := visited.AppendTo(nil)
	a := make([]Formula, len(ids))
	for i, id := range ids {
		a[i] = Formula(id)
	}
	return a
}

// True returns the 1-bit constant 1.
func (ctx *Context) True() Formula { return ctx.ConstUint64(WidthBool, 1) }

// False returns the 1-bit constant 0.
func (ctx *Context) False() Formula { return ctx.ConstUint64(WidthBool, 0) }

// Bool returns True or False.
func (ctx *Context) Bool(v bool) Formula {
	if v {
		return ctx.True()
	}
	return ctx.False()
}

// Const returns a constant of the given width. Negative values are
// encoded in two's complement; values wider than width are truncated.
func (ctx *Context) Const(width uint, v *big.Int) Formula {
	assert(width > 0, "zero width constant")
	return ctx.newNode(Node{Op: CONST, Width: width, Value: truncate(new(big.Int).Set(v), width)})
}

// ConstUint64 returns a constant of the given width.
func (ctx *Context) ConstUint64(width uint, v uint64) Formula {
	return ctx.Const(width, new(big.Int).SetUint64(v))
}

// ConstInt64 returns a constant of the given width from a signed value.
func (ctx *Context) ConstInt64(width uint, v int64) Formula {
	return ctx.Const(width, big.NewInt(v))
}

// Var returns a new free variable. If name is already in use by another
// variable in this context, the node id is appended to keep names unique.
func (ctx *Context) Var(width uint, name string) Formula {
	assert(width > 0, "zero width variable: %q", name)
	if _, ok := ctx.names[name]; ok || name == "" {
		name = fmt.Sprintf("%s#%d", name, len(ctx.nodes))
	}
	ctx.names[name] = struct{}{}
	return ctx.newNode(Node{Op: VAR, Width: width, Name: name})
}

// ConstValue returns the unsigned value of f if it is a constant.
func (ctx *Context) ConstValue(f Formula) (*big.Int, bool) {
	ctx.mustLive(f)
	if n := ctx.nodes[f]; n.Op == CONST {
		return n.Value, true
	}
	return nil, false
}

// IsTrue returns true if f is the boolean constant 1.
func (ctx *Context) IsTrue(f Formula) bool {
	v, ok := ctx.ConstValue(f)
	return ok && ctx.nodes[f].Width == WidthBool && v.Sign() != 0
}

// IsFalse returns true if f is the boolean constant 0.
func (ctx *Context) IsFalse(f Formula) bool {
	v, ok := ctx.ConstValue(f)
	return ok && ctx.nodes[f].Width == WidthBool && v.Sign() == 0
}

// Not returns the bitwise complement of f. For booleans this is logical not.
func (ctx *Context) Not(f Formula) Formula {
	w := ctx.Width(f)
	if v, ok := ctx.ConstValue(f); ok {
		return ctx.Const(w, new(big.Int).Xor(v, mask(w)))
	}
	if n := ctx.nodes[f]; n.Op == NOT {
		return ctx.Retain(n.Args[0])
	}
	return ctx.newNode(Node{Op: NOT, Width: w, Args: []Formula{f}})
}

// Neg returns the two's complement negation of f.
func (ctx *Context) Neg(f Formula) Formula {
	w := ctx.Width(f)
	if v, ok := ctx.ConstValue(f); ok {
		return ctx.Const(w, new(big.Int).Neg(v))
	}
	return ctx.newNode(Node{Op: NEG, Width: w, Args: []Formula{f}})
}

// ZExt returns f zero-extended by n bits.
func (ctx *Context) ZExt(f Formula, n uint) Formula {
	w := ctx.Width(f)
	if n == 0 {
		return ctx.Retain(f)
	}
	if v, ok := ctx.ConstValue(f); ok {
		return ctx.Const(w+n, v)
	}
	return ctx.newNode(Node{Op: ZEXT, Width: w + n, Args: []Formula{f}})
}

// SExt returns f sign-extended by n bits.
func (ctx *Context) SExt(f Formula, n uint) Formula {
	w := ctx.Width(f)
	if n == 0 {
		return ctx.Retain(f)
	}
	if v, ok := ctx.ConstValue(f); ok {
		return ctx.Const(w+n, signed(v, w))
	}
	return ctx.newNode(Node{Op: SEXT, Width: w + n, Args: []Formula{f}})
}

// Extract returns bits hi..lo (inclusive) of f.
func (ctx *Context) Extract(f Formula, hi, lo uint) Formula {
	w := ctx.Width(f)
	assert(lo <= hi && hi < w, "extract out of range: [%d:%d] of width %d", hi, lo, w)
	if lo == 0 && hi == w-1 {
		return ctx.Retain(f)
	}
	if v, ok := ctx.ConstValue(f); ok {
		return ctx.Const(hi-lo+1, new(big.Int).Rsh(v, lo))
	}
	return ctx.newNode(Node{Op: EXTRACT, Width: hi - lo + 1, Args: []Formula{f}, Hi: hi, Lo: lo})
}

// Ite returns "if c then t else e". c must be boolean.
func (ctx *Context) Ite(c, t, e Formula) Formula {
	assert(ctx.Width(c) == WidthBool, "ite condition width: %d", ctx.Width(c))
	w := ctx.Width(t)
	assert(w == ctx.Width(e), "ite width mismatch: %d != %d", w, ctx.Width(e))
	switch {
	case ctx.IsTrue(c), t == e:
		return ctx.Retain(t)
	case ctx.IsFalse(c):
		return ctx.Retain(e)
	}
	return ctx.newNode(Node{Op: ITE, Width: w, Args: []Formula{c, t, e}})
}

// Binary returns the result of a binary arithmetic or comparison operation.
// Comparisons produce a boolean; all other operations keep the operand width.
func (ctx *Context) Binary(op Op, a, b Formula) Formula {
	assert(op.IsArithmetic() || op.IsCompare(), "invalid binary op: %s", op)
	w := ctx.Width(a)
	assert(w == ctx.Width(b), "width mismatch: %s %d != %d", op, w, ctx.Width(b))

	x, xok := ctx.ConstValue(a)
	y, yok := ctx.ConstValue(b)
	if xok && yok {
		if op.IsCompare() {
			return ctx.Bool(foldCompare(op, x, y, w))
		}
		return ctx.Const(w, foldBinary(op, x, y, w))
	}

	// Boolean identities keep path formulas small.
	if w == WidthBool {
		switch op {
		case AND:
			if xok {
				if x.Sign() == 0 {
					return ctx.False()
				}
				return ctx.Retain(b)
			} else if yok {
				if y.Sign() == 0 {
					return ctx.False()
				}
				return ctx.Retain(a)
			}
		case OR:
			if xok {
				if x.Sign() != 0 {
					return ctx.True()
				}
				return ctx.Retain(b)
			} else if yok {
				if y.Sign() != 0 {
					return ctx.True()
				}
				return ctx.Retain(a)
			}
		}
	}

	width := w
	if op.IsCompare() {
		width = WidthBool
	}
	return ctx.newNode(Node{Op: op, Width: width, Args: []Formula{a, b}})
}

func (ctx *Context) Add(a, b Formula) Formula { return ctx.Binary(ADD, a, b) }
func (ctx *Context) Sub(a, b Formula) Formula { return ctx.Binary(SUB, a, b) }
func (ctx *Context) Mul(a, b Formula) Formula { return ctx.Binary(MUL, a, b) }
func (ctx *Context) UDiv(a, b Formula) Formula { return ctx.Binary(UDIV, a, b) }
func (ctx *Context) SDiv(a, b Formula) Formula { return ctx.Binary(SDIV, a, b) }
func (ctx *Context) URem(a, b Formula) Formula { return ctx.Binary(UREM, a, b) }
func (ctx *Context) SRem(a, b Formula) Formula { return ctx.Binary(SREM, a, b) }
func (ctx *Context) And(a, b Formula) Formula { return ctx.Binary(AND, a, b) }
func (ctx *Context) Or(a, b Formula) Formula { return ctx.Binary(OR, a, b) }
func (ctx *Context) Xor(a, b Formula) Formula { return ctx.Binary(XOR, a, b) }
func (ctx *Context) Shl(a, b Formula) Formula { return ctx.Binary(SHL, a, b) }
func (ctx *Context) LShr(a, b Formula) Formula { return ctx.Binary(LSHR, a, b) }
func (ctx *Context) AShr(a, b Formula) Formula { return ctx.Binary(ASHR, a, b) }
func (ctx *Context) Eq(a, b Formula) Formula { return ctx.Binary(EQ, a, b) }
func (ctx *Context) Ne(a, b Formula) Formula { return ctx.Binary(NE, a, b) }
func (ctx *Context) Ult(a, b Formula) Formula { return ctx.Binary(ULT, a, b) }
func (ctx *Context) Ule(a, b Formula) Formula { return ctx.Binary(ULE, a, b) }
func (ctx *Context) Ugt(a, b Formula) Formula { return ctx.Binary(UGT, a, b) }
func (ctx *Context) Uge(a, b Formula) Formula { return ctx.Binary(UGE, a, b) }
func (ctx *Context) Slt(a, b Formula) Formula { return ctx.Binary(SLT, a, b) }
func (ctx *Context) Sle(a, b Formula) Formula { return ctx.Binary(SLE, a, b) }
func (ctx *Context) Sgt(a, b Formula) Formula { return ctx.Binary(SGT, a, b) }
func (ctx *Context) Sge(a, b Formula) Formula { return ctx.Binary(SGE, a, b) }

// UAddO returns true when a+b overflows as unsigned integers.
func (ctx *Context) UAddO(a, b Formula) Formula {
	w := ctx.sameWidth(a, b)
	x, y := ctx.ZExt(a, 1), ctx.ZExt(b, 1)
	defer ctx.Release(x, y)
	sum := ctx.Add(x, y)
	defer ctx.Release(sum)
	return ctx.Extract(sum, w, w)
}

// SAddO returns true when a+b overflows as signed integers.
func (ctx *Context) SAddO(a, b Formula) Formula {
	w := ctx.sameWidth(a, b)
	x, y := ctx.SExt(a, 1), ctx.SExt(b, 1)
	defer ctx.Release(x, y)
	sum := ctx.Add(x, y)
	defer ctx.Release(sum)
	return ctx.signBitsDiffer(sum, w)
}

// USubO returns true when a-b underflows as unsigned integers.
func (ctx *Context) USubO(a, b Formula) Formula {
	ctx.sameWidth(a, b)
	return ctx.Ult(a, b)
}

// SSubO returns true when a-b overflows as signed integers.
func (ctx *Context) SSubO(a, b Formula) Formula {
	w := ctx.sameWidth(a, b)
	x, y := ctx.SExt(a, 1), ctx.SExt(b, 1)
	defer ctx.Release(x, y)
	diff := ctx.Sub(x, y)
	defer ctx.Release(diff)
	return ctx.signBitsDiffer(diff, w)
}

// UMulO returns true when a*b overflows as unsigned integers.
func (ctx *Context) UMulO(a, b Formula) Formula {
	w := ctx.sameWidth(a, b)
	x, y := ctx.ZExt(a, w), ctx.ZExt(b, w)
	defer ctx.Release(x, y)
	product := ctx.Mul(x, y)
	defer ctx.Release(product)
	hi := ctx.Extract(product, 2*w-1, w)
	defer ctx.Release(hi)
	zero := ctx.ConstUint64(w, 0)
	defer ctx.Release(zero)
	return ctx.Ne(hi, zero)
}

// SMulO returns true when a*b overflows as signed integers.
func (ctx *Context) SMulO(a, b Formula) Formula {
	w := ctx.sameWidth(a, b)
	x, y := ctx.SExt(a, w), ctx.SExt(b, w)
	defer ctx.Release(x, y)
	product := ctx.Mul(x, y)
	defer ctx.Release(product)
	lo := ctx.Extract(product, w-1, 0)
	defer ctx.Release(lo)
	back := ctx.SExt(lo, w)
	defer ctx.Release(back)
	return ctx.Ne(product, back)
}

// signBitsDiffer returns true if bits w and w-1 of f differ.
func (ctx *Context) signBitsDiffer(f Formula, w uint) Formula {
	hi, lo := ctx.Extract(f, w, w), ctx.Extract(f, w-1, w-1)
	defer ctx.Release(hi, lo)
	return ctx.Ne(hi, lo)
}

func (ctx *Context) sameWidth(a, b Formula) uint {
	w := ctx.Width(a)
	assert(w == ctx.Width(b), "width mismatch: %d != %d", w, ctx.Width(b))
	return w
}

// String returns f as an SMT-LIB term. Shared subterms are repeated.
func (ctx *Context) String(f Formula) string {
	var buf bytes.Buffer
	ctx.writeTerm(&buf, f, func(g Formula) string {
		return ctx.nodes[g].Name
	})
	return buf.String()
}

// WriteSMT2 writes a self-contained SMT-LIB2 script asserting f.
// Every interior node is bound once with define-fun.
func (ctx *Context) WriteSMT2(w io.Writer, f Formula) error {
	ctx.mustLive(f)

	var buf bytes.Buffer
	buf.WriteString("(set-logic QF_BV)\n")

	ref := func(g Formula) string {
		if n := ctx.nodes[g]; n.Op == VAR {
			return quoteSymbol(n.Name)
		}
		return fmt.Sprintf("n%d", g)
	}
	for _, g := range ctx.Reachable(f) {
		n := ctx.nodes[g]
		switch n.Op {
		case VAR:
			fmt.Fprintf(&buf, "(declare-fun %s () (_ BitVec %d))\n", quoteSymbol(n.Name), n.Width)
		default:
			fmt.Fprintf(&buf, "(define-fun n%d () (_ BitVec %d) ", g, n.Width)
			ctx.writeNode(&buf, n, ref)
			buf.WriteString(")\n")
		}
	}
	fmt.Fprintf(&buf, "(assert (= %s #b1))\n(check-sat)\n", ref(f))

	_, err := w.Write(buf.Bytes())
	return err
}

func (ctx *Context) writeTerm(buf *bytes.Buffer, f Formula, varName func(Formula) string) {
	n := ctx.nodes[f]
	if n.Op == VAR {
		buf.WriteString(varName(f))
		return
	}
	ctx.writeNode(buf, n, func(g Formula) string {
		var sub bytes.Buffer
		ctx.writeTerm(&sub, g, varName)
		return sub.String()
	})
}

// writeNode writes a single node with operands rendered by arg.
// Comparisons are wrapped so that every term has a bitvector sort.
func (ctx *Context) writeNode(buf *bytes.Buffer, n Node, arg func(Formula) string) {
	switch {
	case n.Op == CONST:
		fmt.Fprintf(buf, "(_ bv%s %d)", n.Value.String(), n.Width)
	case n.Op == NOT, n.Op == NEG:
		fmt.Fprintf(buf, "(%s %s)", n.Op, arg(n.Args[0]))
	case n.Op == ZEXT, n.Op == SEXT:
		fmt.Fprintf(buf, "((_ %s %d) %s)", n.Op, n.Width-ctx.nodes[n.Args[0]].Width, arg(n.Args[0]))
	case n.Op == EXTRACT:
		fmt.Fprintf(buf, "((_ extract %d %d) %s)", n.Hi, n.Lo, arg(n.Args[0]))
	case n.Op == ITE:
		fmt.Fprintf(buf, "(ite (= %s #b1) %s %s)", arg(n.Args[0]), arg(n.Args[1]), arg(n.Args[2]))
	case n.Op.IsCompare():
		fmt.Fprintf(buf, "(ite (%s %s %s) #b1 #b0)", n.Op, arg(n.Args[0]), arg(n.Args[1]))
	case n.Op.IsArithmetic():
		fmt.Fprintf(buf, "(%s %s %s)", n.Op, arg(n.Args[0]), arg(n.Args[1]))
	default:
		panic("unreachable")
	}
}

func quoteSymbol(name string) string {
	return "|" + strings.NewReplacer("|", "_", `\`, "_").Replace(name) + "|"
}

// mask returns 2^w - 1.
func mask(w uint) *big.Int {
	m := new(big.Int).Lsh(big.NewInt(1), w)
	return m.Sub(m, big.NewInt(1))
}

// truncate reduces v modulo 2^w in place, mapping negative values to two's complement.
func truncate(v *big.Int, w uint) *big.Int {
	return v.And(v, mask(w))
}

// signed interprets the w-bit unsigned value v as a two's complement integer.
func signed(v *big.Int, w uint) *big.Int {
	s := new(big.Int).Set(v)
	if v.Bit(int(w-1)) == 1 {
		s.Sub(s, new(big.Int).Lsh(big.NewInt(1), w))
	}
	return s
}

// foldBinary evaluates an arithmetic operation over constants using
// SMT-LIB semantics for division by zero and over-wide shifts.
func foldBinary(op Op, x, y *big.Int, w uint) *big.Int {
	z := new(big.Int)
	switch op {
	case ADD:
		z.Add(x, y)
	case SUB:
		z.Sub(x, y)
	case MUL:
		z.Mul(x, y)
	case UDIV:
		if y.Sign() == 0 {
			return mask(w)
		}
		z.Quo(x, y)
	case UREM:
		if y.Sign() == 0 {
			return new(big.Int).Set(x)
		}
		z.Rem(x, y)
	case SDIV:
		sx, sy := signed(x, w), signed(y, w)
		if sy.Sign() == 0 {
			if sx.Sign() < 0 {
				return big.NewInt(1)
			}
			return mask(w)
		}
		z.Quo(sx, sy)
	case SREM:
		sx, sy := signed(x, w), signed(y, w)
		if sy.Sign() == 0 {
			return new(big.Int).Set(x)
		}
		z.Rem(sx, sy)
	case AND:
		z.And(x, y)
	case OR:
		z.Or(x, y)
	case XOR:
		z.Xor(x, y)
	case SHL:
		if !y.IsUint64() || y.Uint64() >= uint64(w) {
			return z
		}
		z.Lsh(x, uint(y.Uint64()))
	case LSHR:
		if !y.IsUint64() || y.Uint64() >= uint64(w) {
			return z
		}
		z.Rsh(x, uint(y.Uint64()))
	case ASHR:
		sx := signed(x, w)
		if !y.IsUint64() || y.Uint64() >= uint64(w) {
			if sx.Sign() < 0 {
				return mask(w)
			}
			return z
		}
		z.Rsh(sx, uint(y.Uint64()))
	default:
		panic("unreachable")
	}
	return truncate(z, w)
}

// foldCompare evaluates a comparison over constants.
func foldCompare(op Op, x, y *big.Int, w uint) bool {
	switch op {
	case EQ:
		return x.Cmp(y) == 0
	case NE:
		return x.Cmp(y) != 0
	case ULT:
		return x.Cmp(y) < 0
	case ULE:
		return x.Cmp(y) <= 0
	case UGT:
		return x.Cmp(y) > 0
	case UGE:
		return x.Cmp(y) >= 0
	}

	c := signed(x, w).Cmp(signed(y, w))
	switch op {
	case SLT:
		return c < 0
	case SLE:
		return c <= 0
	case SGT:
		return c > 0
	case SGE:
		return c >= 0
	default:
		panic("unreachable")
	}
}
