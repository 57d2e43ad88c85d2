package gini

import (
	"fmt"

	"github.com/benbjohnson/kint"
	"github.com/go-air/gini/logic"
	"github.com/go-air/gini/z"
)

// blaster translates formula nodes into an and-inverter circuit.
// Bitvectors are represented least significant bit first.
type blaster struct {
	c    *logic.C
	bits map[kint.Formula][]z.Lit
	vars []kint.Formula
}

func newBlaster() *blaster {
	return &blaster{
		c:    logic.NewC(),
		bits: make(map[kint.Formula][]z.Lit),
	}
}

// blast translates every node reachable from f and returns the bits of f.
func (b *blaster) blast(ctx *kint.Context, f kint.Formula) ([]z.Lit, error) {
	for _, id := range ctx.Reachable(f) {
		n := ctx.Node(id)
		bits, err := b.blastNode(n)
		if err != nil {
			return nil, err
		}
		if len(bits) != int(n.Width) {
			return nil, fmt.Errorf("gini: %s produced %d bits, want %d", n.Op, len(bits), n.Width)
		}
		if n.Op == kint.VAR {
			b.vars = append(b.vars, id)
		}
		b.bits[id] = bits
	}
	return b.bits[f], nil
}

func (b *blaster) blastNode(n kint.Node) ([]z.Lit, error) {
	switch n.Op {
	case kint.CONST:
		bits := make([]z.Lit, n.Width)
		for i := range bits {
			bits[i] = b.lit(n.Value.Bit(i) == 1)
		}
		return bits, nil
	case kint.VAR:
		bits := make([]z.Lit, n.Width)
		for i := range bits {
			bits[i] = b.c.Lit()
		}
		return bits, nil
	case kint.NOT:
		return b.not(b.arg(n, 0)), nil
	case kint.NEG:
		return b.neg(b.arg(n, 0)), nil
	case kint.ZEXT:
		x := b.arg(n, 0)
		return b.extend(x, int(n.Width)-len(x), b.c.F), nil
	case kint.SEXT:
		x := b.arg(n, 0)
		return b.extend(x, int(n.Width)-len(x), x[len(x)-1]), nil
	case kint.EXTRACT:
		x := b.arg(n, 0)
		return append([]z.Lit(nil), x[n.Lo:n.Hi+1]...), nil
	case kint.ITE:
		return b.mux(b.arg(n, 0)[0], b.arg(n, 1), b.arg(n, 2)), nil
	}

	x, y := b.arg(n, 0), b.arg(n, 1)
	switch n.Op {
	case kint.ADD:
		sum, _ := b.add(x, y, b.c.F)
		return sum, nil
	case kint.SUB:
		return b.sub(x, y), nil
	case kint.MUL:
		return b.mul(x, y), nil
	case kint.UDIV:
		q, _ := b.udivrem(x, y)
		return q, nil
	case kint.UREM:
		_, r := b.udivrem(x, y)
		return r, nil
	case kint.SDIV:
		q, _ := b.sdivrem(x, y)
		return q, nil
	case kint.SREM:
		_, r := b.sdivrem(x, y)
		return r, nil
	case kint.AND:
		return b.bitwise(x, y, b.c.And), nil
	case kint.OR:
		return b.bitwise(x, y, b.c.Or), nil
	case kint.XOR:
		return b.bitwise(x, y, b.c.Xor), nil
	case kint.SHL:
		return b.shift(x, y, shiftLeft), nil
	case kint.LSHR:
		return b.shift(x, y, shiftRightLogical), nil
	case kint.ASHR:
		return b.shift(x, y, shiftRightArith), nil
	case kint.EQ:
		return []z.Lit{b.eq(x, y)}, nil
	case kint.NE:
		return []z.Lit{b.eq(x, y).Not()}, nil
	case kint.ULT:
		return []z.Lit{b.ult(x, y)}, nil
	case kint.ULE:
		return []z.Lit{b.ult(y, x).Not()}, nil
	case kint.UGT:
		return []z.Lit{b.ult(y, x)}, nil
	case kint.UGE:
		return []z.Lit{b.ult(x, y).Not()}, nil
	case kint.SLT:
		return []z.Lit{b.slt(x, y)}, nil
	case kint.SLE:
		return []z.Lit{b.slt(y, x).Not()}, nil
	case kint.SGT:
		return []z.Lit{b.slt(y, x)}, nil
	case kint.SGE:
		return []z.Lit{b.slt(x, y).Not()}, nil
	default:
		return nil, fmt.Errorf("gini: unexpected operation: %s", n.Op)
	}
}

func (b *blaster) arg(n kint.Node, i int) []z.Lit {
	bits, ok := b.bits[n.Args[i]]
	if !ok {
		panic(fmt.Sprintf("gini: operand %d of %s not translated", n.Args[i], n.Op))
	}
	return bits
}

func (b *blaster) lit(v bool) z.Lit {
	if v {
		return b.c.T
	}
	return b.c.F
}

func (b *blaster) constant(n int, v uint64) []z.Lit {
	bits := make([]z.Lit, n)
	for i := range bits {
		bits[i] = b.lit(i < 64 && (v>>uint(i))&1 == 1)
	}
	return bits
}

func (b *blaster) not(x []z.Lit) []z.Lit {
	out := make([]z.Lit, len(x))
	for i := range x {
		out[i] = x[i].Not()
	}
	return out
}

func (b *blaster) extend(x []z.Lit, n int, fill z.Lit) []z.Lit {
	out := make([]z.Lit, len(x), len(x)+n)
	copy(out, x)
	for i := 0; i < n; i++ {
		out = append(out, fill)
	}
	return out
}

func (b *blaster) bitwise(x, y []z.Lit, op func(a, b z.Lit) z.Lit) []z.Lit {
	out := make([]z.Lit, len(x))
	for i := range x {
		out[i] = op(x[i], y[i])
	}
	return out
}

// mux returns "if s then t else e" bitwise.
func (b *blaster) mux(s z.Lit, t, e []z.Lit) []z.Lit {
	out := make([]z.Lit, len(t))
	for i := range t {
		out[i] = b.c.Choice(s, t[i], e[i])
	}
	return out
}

// add returns the ripple-carry sum of x, y and carry-in, plus the carry-out.
func (b *blaster) add(x, y []z.Lit, carry z.Lit) ([]z.Lit, z.Lit) {
	sum := make([]z.Lit, len(x))
	for i := range x {
		t := b.c.Xor(x[i], y[i])
		sum[i] = b.c.Xor(t, carry)
		carry = b.c.Or(b.c.And(x[i], y[i]), b.c.And(carry, t))
	}
	return sum, carry
}

func (b *blaster) sub(x, y []z.Lit) []z.Lit {
	diff, _ := b.add(x, b.not(y), b.c.T)
	return diff
}

func (b *blaster) neg(x []z.Lit) []z.Lit {
	out, _ := b.add(b.not(x), b.constant(len(x), 0), b.c.T)
	return out
}

// mul returns the low len(x) bits of x*y using shift-and-add.
func (b *blaster) mul(x, y []z.Lit) []z.Lit {
	n := len(x)
	acc := b.constant(n, 0)
	for i := 0; i < n; i++ {
		if y[i] == b.c.F {
			continue
		}
		pp := make([]z.Lit, n)
		for j := range pp {
			if j < i {
				pp[j] = b.c.F
			} else {
				pp[j] = b.c.And(x[j-i], y[i])
			}
		}
		acc, _ = b.add(acc, pp, b.c.F)
	}
	return acc
}

// udivrem returns the unsigned quotient and remainder of x/y by restoring
// division. Division by zero yields an all-ones quotient and a remainder of x.
func (b *blaster) udivrem(x, y []z.Lit) (q, r []z.Lit) {
	n := len(x)
	q = make([]z.Lit, n)
	r = b.constant(n, 0)
	ny := b.not(b.extend(y, 1, b.c.F))
	for i := n - 1; i >= 0; i-- {
		// Shift the next dividend bit into an n+1 bit partial remainder.
		shifted := append([]z.Lit{x[i]}, r...)
		diff, ge := b.add(shifted, ny, b.c.T)
		q[i] = ge
		r = b.mux(ge, diff[:n], shifted[:n])
	}
	return q, r
}

// sdivrem returns the signed quotient (truncated) and remainder (sign of
// the dividend) of x/y.
func (b *blaster) sdivrem(x, y []z.Lit) (q, r []z.Lit) {
	n := len(x)
	sx, sy := x[n-1], y[n-1]
	ax := b.mux(sx, b.neg(x), x)
	ay := b.mux(sy, b.neg(y), y)
	uq, ur := b.udivrem(ax, ay)
	return b.mux(b.c.Xor(sx, sy), b.neg(uq), uq), b.mux(sx, b.neg(ur), ur)
}

func (b *blaster) eq(x, y []z.Lit) z.Lit {
	m := b.c.T
	for i := range x {
		m = b.c.And(m, b.c.Xor(x[i], y[i]).Not())
	}
	return m
}

// ult returns true if x < y as unsigned integers; x-y borrows exactly then.
func (b *blaster) ult(x, y []z.Lit) z.Lit {
	_, carry := b.add(x, b.not(y), b.c.T)
	return carry.Not()
}

// slt returns true if x < y as signed integers.
func (b *blaster) slt(x, y []z.Lit) z.Lit {
	n := len(x)
	fx := append(append([]z.Lit(nil), x[:n-1]...), x[n-1].Not())
	fy := append(append([]z.Lit(nil), y[:n-1]...), y[n-1].Not())
	return b.ult(fx, fy)
}

type shiftKind int

const (
	shiftLeft shiftKind = iota
	shiftRightLogical
	shiftRightArith
)

// shift returns x shifted by the amount s with a barrel shifter. Amounts of
// len(x) or more produce zero, or the sign fill for arithmetic right shifts.
func (b *blaster) shift(x, s []z.Lit, kind shiftKind) []z.Lit {
	n := len(x)
	fill := b.c.F
	if kind == shiftRightArith {
		fill = x[n-1]
	}

	cur := append([]z.Lit(nil), x...)
	for j := 0; j < len(s) && (1<<uint(j)) < n; j++ {
		k := 1 << uint(j)
		next := make([]z.Lit, n)
		for i := 0; i < n; i++ {
			var shifted z.Lit
			switch kind {
			case shiftLeft:
				if i >= k {
					shifted = cur[i-k]
				} else {
					shifted = b.c.F
				}
			default:
				if i+k < n {
					shifted = cur[i+k]
				} else {
					shifted = fill
				}
			}
			next[i] = b.c.Choice(s[j], shifted, cur[i])
		}
		cur = next
	}

	over := b.ult(s, b.constant(len(s), uint64(n))).Not()
	out := make([]z.Lit, n)
	for i := range out {
		out[i] = b.c.Choice(over, fill, cur[i])
	}
	return out
}
