package kint

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/sirupsen/logrus"
)

// ValueConstraints translates IR values into formulas describing their bits.
// Each value is translated at most once; the cache owns one reference to
// every formula it holds until Close is called.
type ValueConstraints struct {
	ctx    *Context
	layout *DataLayout
	cache  map[value.Value]Formula

	Logger logrus.FieldLogger
}

// NewValueConstraints returns an engine that builds formulas in ctx.
func NewValueConstraints(ctx *Context, layout *DataLayout) *ValueConstraints {
	return &ValueConstraints{
		ctx:    ctx,
		layout: layout,
		cache:  make(map[value.Value]Formula),
		Logger: logrus.StandardLogger(),
	}
}

// Context returns the formula context used by the engine.
func (vc *ValueConstraints) Context() *Context { return vc.ctx }

// Close releases every cached formula.
func (vc *ValueConstraints) Close() {
	for _, f := range vc.cache {
		vc.ctx.Release(f)
	}
	vc.cache = nil
}

// Constraint returns the formula for v. The caller owns the returned reference.
func (vc *ValueConstraints) Constraint(v value.Value) Formula {
	return vc.ctx.Retain(vc.lookup(v))
}

// lookup returns the cached formula for v, building it on a miss.
// The returned reference is borrowed from the cache.
func (vc *ValueConstraints) lookup(v value.Value) Formula {
	if f, ok := vc.cache[v]; ok {
		return f
	}
	f := vc.build(v)
	vc.cache[v] = f
	return f
}

// Width returns the bit width of an analyzable type: integers and pointers.
func (vc *ValueConstraints) Width(t types.Type) (uint, bool) {
	switch t := t.(type) {
	case *types.IntType:
		return uint(t.BitSize), true
	case *types.PointerType:
		return vc.layout.PointerSize(), true
	default:
		return 0, false
	}
}

func (vc *ValueConstraints) build(v value.Value) Formula {
	if _, ok := vc.Width(v.Type()); !ok {
		return vc.opaque(v)
	}

	switch v := v.(type) {
	case *ir.InstAdd:
		return vc.binary(ADD, v.X, v.Y)
	case *ir.InstSub:
		return vc.binary(SUB, v.X, v.Y)
	case *ir.InstMul:
		return vc.binary(MUL, v.X, v.Y)
	case *ir.InstUDiv:
		return vc.binary(UDIV, v.X, v.Y)
	case *ir.InstSDiv:
		return vc.binary(SDIV, v.X, v.Y)
	case *ir.InstURem:
		return vc.binary(UREM, v.X, v.Y)
	case *ir.InstSRem:
		return vc.binary(SREM, v.X, v.Y)
	case *ir.InstShl:
		return vc.binary(SHL, v.X, v.Y)
	case *ir.InstLShr:
		return vc.binary(LSHR, v.X, v.Y)
	case *ir.InstAShr:
		return vc.binary(ASHR, v.X, v.Y)
	case *ir.InstAnd:
		return vc.binary(AND, v.X, v.Y)
	case *ir.InstOr:
		return vc.binary(OR, v.X, v.Y)
	case *ir.InstXor:
		return vc.binary(XOR, v.X, v.Y)
	case *ir.InstICmp:
		return vc.binary(predicateOp(v.Pred), v.X, v.Y)
	case *ir.InstGetElementPtr:
		return vc.gep(v, v.ElemType, v.Src, v.Indices)
	case *ir.InstTrunc:
		return vc.ctx.Extract(vc.lookup(v.From), vc.mustWidth(v.To)-1, 0)
	case *ir.InstZExt:
		return vc.extend(v.From, v.To, false)
	case *ir.InstSExt:
		return vc.extend(v.From, v.To, true)
	case *ir.InstSelect:
		return vc.ctx.Ite(vc.lookup(v.Cond), vc.lookup(v.ValueTrue), vc.lookup(v.ValueFalse))
	case *ir.InstPtrToInt:
		return vc.cast(v.From, v.To)
	case *ir.InstIntToPtr:
		return vc.cast(v.From, v.To)
	case *ir.InstBitCast:
		if _, ok := vc.Width(v.From.Type()); !ok {
			return vc.opaque(v)
		}
		return vc.ctx.Retain(vc.lookup(v.From))
	case *ir.InstExtractValue:
		vc.Logger.WithField("inst", v.LLString()).Debug("extractvalue degraded to free variable")
		return vc.opaque(v)

	case *constant.Int:
		return vc.ctx.Const(uint(v.Typ.BitSize), v.X)
	case *constant.Null:
		return vc.ctx.ConstUint64(vc.layout.PointerSize(), 0)
	case *constant.ExprGetElementPtr:
		indices := make([]value.Value, len(v.Indices))
		for i, idx := range v.Indices {
			indices[i] = idx
		}
		return vc.gep(v, v.ElemType, v.Src, indices)

	default:
		// Arguments, globals, phis, loads, calls and anything else the
		// engine does not model.
		return vc.opaque(v)
	}
}

// opaque returns a free variable named after v and sized to its type.
func (vc *ValueConstraints) opaque(v value.Value) Formula {
	w, ok := vc.Width(v.Type())
	if !ok {
		if w = vc.layout.TypeSizeInBits(v.Type()); w == 0 {
			w = WidthBool
		}
	}
	return vc.ctx.Var(w, v.Ident())
}

func (vc *ValueConstraints) mustWidth(t types.Type) uint {
	w, ok := vc.Width(t)
	assert(ok, "non-integer type: %s", t)
	return w
}

func (vc *ValueConstraints) binary(op Op, x, y value.Value) Formula {
	return vc.ctx.Binary(op, vc.lookup(x), vc.lookup(y))
}

func (vc *ValueConstraints) extend(from value.Value, to types.Type, signed bool) Formula {
	src := vc.lookup(from)
	n := vc.mustWidth(to) - vc.ctx.Width(src)
	if signed {
		return vc.ctx.SExt(src, n)
	}
	return vc.ctx.ZExt(src, n)
}

// cast models ptrtoint and inttoptr: identity when the layout says the cast
// is a no-op, otherwise truncation or zero extension.
func (vc *ValueConstraints) cast(from value.Value, to types.Type) Formula {
	src := vc.lookup(from)
	sw, dw := vc.ctx.Width(src), vc.mustWidth(to)
	switch {
	case sw == dw || vc.layout.IsNoopCast(from.Type(), to):
		return vc.ctx.Retain(src)
	case dw < sw:
		return vc.ctx.Extract(src, dw-1, 0)
	default:
		return vc.ctx.ZExt(src, dw-sw)
	}
}

// gep computes base + sum(index * element size) + constant offset. Struct
// indices must be constant; other constant indices fold into the offset.
func (vc *ValueConstraints) gep(v value.Value, elemType types.Type, src value.Value, indices []value.Value) Formula {
	logger := vc.Logger.WithField("inst", v.Ident())
	ptrWidth := vc.layout.PointerSize()

	addr := vc.ctx.Retain(vc.lookup(src))
	offset := new(big.Int)

	var t types.Type
	for i, idx := range indices {
		// The first index steps over the pointer operand itself.
		var elem types.Type
		if i == 0 {
			elem = elemType
		} else {
			switch tt := t.(type) {
			case *types.StructType:
				field, ok := indexConstant(idx)
				assert(ok, "non-constant struct index in %s", v.Ident())
				offset.Add(offset, new(big.Int).SetUint64(uint64(vc.layout.StructOffset(tt, int(field.Int64())))))
				t = tt.Fields[field.Int64()]
				continue
			case *types.ArrayType:
				elem = tt.ElemType
			case *types.VectorType:
				elem = tt.ElemType
			default:
				panic(fmt.Sprintf("assert: indexing into non-aggregate type %v", t))
			}
		}
		t = elem
		size := new(big.Int).SetUint64(uint64(vc.layout.TypeAllocSize(elem)))

		if c, ok := indexConstant(idx); ok {
			offset.Add(offset, new(big.Int).Mul(c, size))
			continue
		}

		index := vc.normalizeIndex(logger, idx, ptrWidth)
		scale := vc.ctx.Const(ptrWidth, size)
		term := vc.ctx.Mul(index, scale)
		next := vc.ctx.Add(addr, term)
		vc.ctx.Release(index, scale, term, addr)
		addr = next
	}

	if offset.Sign() == 0 {
		return addr
	}
	logger.WithField("offset", offset.String()).Debug("constant pointer offset")
	k := vc.ctx.Const(ptrWidth, offset)
	sum := vc.ctx.Add(addr, k)
	vc.ctx.Release(addr, k)
	return sum
}

// normalizeIndex sign-extends or truncates an index to pointer width.
func (vc *ValueConstraints) normalizeIndex(logger logrus.FieldLogger, idx value.Value, ptrWidth uint) Formula {
	f := vc.lookup(idx)
	w := vc.ctx.Width(f)
	switch {
	case w < ptrWidth:
		logger.WithField("width", w).Debug("sign extending pointer index")
		return vc.ctx.SExt(f, ptrWidth-w)
	case w > ptrWidth:
		logger.WithField("width", w).Debug("truncating pointer index")
		return vc.ctx.Extract(f, ptrWidth-1, 0)
	default:
		return vc.ctx.Retain(f)
	}
}

// indexConstant returns the signed value of a constant integer index.
func indexConstant(v value.Value) (*big.Int, bool) {
	if idx, ok := v.(*constant.Index); ok {
		v = idx.Constant
	}
	c, ok := v.(*constant.Int)
	if !ok {
		return nil, false
	}
	w := uint(c.Typ.BitSize)
	return signed(truncate(new(big.Int).Set(c.X), w), w), true
}

// SentinelConstraint returns the error condition encoded by a sentinel call.
// The caller owns the returned reference.
func (vc *ValueConstraints) SentinelConstraint(call *ir.InstCall) Formula {
	name := calleeName(call)
	switch {
	case strings.HasPrefix(name, OverflowPrefix):
		assert(len(call.Args) == 4, "overflow sentinel %s: %d arguments", name, len(call.Args))
		opcode, ok := indexConstant(call.Args[0])
		assert(ok, "overflow sentinel %s: non-constant opcode", name)
		flag, ok := indexConstant(call.Args[3])
		assert(ok, "overflow sentinel %s: non-constant nsw flag", name)

		x, y := vc.lookup(call.Args[1]), vc.lookup(call.Args[2])
		nsw := flag.Sign() != 0
		switch opcode.Int64() {
		case OpcodeAdd:
			if nsw {
				return vc.ctx.SAddO(x, y)
			}
			return vc.ctx.UAddO(x, y)
		case OpcodeSub:
			if nsw {
				return vc.ctx.SSubO(x, y)
			}
			return vc.ctx.USubO(x, y)
		case OpcodeMul:
			if nsw {
				return vc.ctx.SMulO(x, y)
			}
			return vc.ctx.UMulO(x, y)
		default:
			panic(fmt.Sprintf("assert: unexpected overflow opcode %s", opcode))
		}

	case strings.HasPrefix(name, ShiftDivPrefix):
		assert(len(call.Args) == 1, "shift/div sentinel %s: %d arguments", name, len(call.Args))
		return vc.Constraint(call.Args[0])

	default:
		panic(fmt.Sprintf("assert: not a sentinel call: %s", name))
	}
}

// predicateOp returns the comparison for an integer predicate.
func predicateOp(pred enum.IPred) Op {
	switch pred {
	case enum.IPredEQ:
		return EQ
	case enum.IPredNE:
		return NE
	case enum.IPredUGT:
		return UGT
	case enum.IPredUGE:
		return UGE
	case enum.IPredULT:
		return ULT
	case enum.IPredULE:
		return ULE
	case enum.IPredSGT:
		return SGT
	case enum.IPredSGE:
		return SGE
	case enum.IPredSLT:
		return SLT
	case enum.IPredSLE:
		return SLE
	default:
		panic(fmt.Sprintf("assert: unexpected icmp predicate %v", pred))
	}
}
