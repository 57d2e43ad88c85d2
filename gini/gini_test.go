package gini_test

import (
	"testing"

	"github.com/benbjohnson/kint"
	"github.com/benbjohnson/kint/gini"
)

// values is the set of 8-bit operands used for exhaustive operator checks.
var values = []uint64{0, 1, 3, 0x7F, 0x80, 0xFF}

func TestSolver_Solve(t *testing.T) {
	t.Run("Constant", func(t *testing.T) {
		t.Run("True", func(t *testing.T) {
			ctx := kint.NewContext(gini.NewSolver())
			f := ctx.True()
			defer ctx.Release(f)
			if satisfiable, err := ctx.Query(f); err != nil {
				t.Fatal(err)
			} else if !satisfiable {
				t.Fatal("expected satisfiable")
			}
		})
		t.Run("False", func(t *testing.T) {
			ctx := kint.NewContext(gini.NewSolver())
			f := ctx.False()
			defer ctx.Release(f)
			if satisfiable, err := ctx.Query(f); err != nil {
				t.Fatal(err)
			} else if satisfiable {
				t.Fatal("expected unsatisfiable")
			}
		})
	})

	// Each operator is evaluated by the solver over bound variables and
	// compared against the constant-folded result.
	t.Run("Binary", func(t *testing.T) {
		for _, op := range []kint.Op{
			kint.ADD, kint.SUB, kint.MUL,
			kint.UDIV, kint.SDIV, kint.UREM, kint.SREM,
			kint.AND, kint.OR, kint.XOR,
			kint.SHL, kint.LSHR, kint.ASHR,
			kint.EQ, kint.NE,
			kint.ULT, kint.ULE, kint.UGT, kint.UGE,
			kint.SLT, kint.SLE, kint.SGT, kint.SGE,
		} {
			op := op
			t.Run(op.String(), func(t *testing.T) {
				for _, a := range values {
					for _, b := range values {
						MustAgree(t, op, a, b)
					}
				}
			})
		}
	})

	t.Run("Unary", func(t *testing.T) {
		for _, a := range values {
			ctx := kint.NewContext(gini.NewSolver())
			x, k := ctx.Var(8, "x"), ctx.ConstUint64(8, a)
			bind := ctx.Eq(x, k)

			not, notk := ctx.Not(x), ctx.Not(k)
			neg, negk := ctx.Neg(x), ctx.Neg(k)
			sext, sextk := ctx.SExt(x, 8), ctx.SExt(k, 8)
			zext, zextk := ctx.ZExt(x, 8), ctx.ZExt(k, 8)
			ext, extk := ctx.Extract(x, 6, 2), ctx.Extract(k, 6, 2)

			for _, pair := range [][2]kint.Formula{{not, notk}, {neg, negk}, {sext, sextk}, {zext, zextk}, {ext, extk}} {
				ne := ctx.Ne(pair[0], pair[1])
				f := ctx.And(bind, ne)
				if satisfiable, err := ctx.Query(f); err != nil {
					t.Fatal(err)
				} else if satisfiable {
					t.Fatalf("unexpected disagreement: %s", ctx.String(pair[0]))
				}
				ctx.Release(ne, f)
			}
			ctx.Release(x, k, bind, not, notk, neg, negk, sext, sextk, zext, zextk, ext, extk)
			if err := ctx.Close(); err != nil {
				t.Fatal(err)
			}
		}
	})

	t.Run("Overflow", func(t *testing.T) {
		for _, tt := range []struct {
			name string
			fn   func(ctx *kint.Context, a, b kint.Formula) kint.Formula
			x, y uint64
			want bool
		}{
			{"SAddO", (*kint.Context).SAddO, 1, 0x7FFFFFFF, true},
			{"SAddO/NoOverflow", (*kint.Context).SAddO, 1, 0x7FFFFFFE, false},
			{"UAddO", (*kint.Context).UAddO, 1, 0xFFFFFFFF, true},
			{"UAddO/NoOverflow", (*kint.Context).UAddO, 1, 0x7FFFFFFF, false},
			{"SSubO", (*kint.Context).SSubO, 0xFFFFFFFE, 0x7FFFFFFF, true},
			{"SSubO/NoOverflow", (*kint.Context).SSubO, 0xFFFFFFFE, 1, false},
			{"USubO", (*kint.Context).USubO, 1, 2, true},
			{"USubO/NoOverflow", (*kint.Context).USubO, 2, 1, false},
			{"SMulO", (*kint.Context).SMulO, 2, 0x40000000, true},
			{"SMulO/NoOverflow", (*kint.Context).SMulO, 2, 0x3FFFFFFF, false},
			{"UMulO", (*kint.Context).UMulO, 2, 0x80000000, true},
			{"UMulO/NoOverflow", (*kint.Context).UMulO, 1, 0x7FFFFFFF, false},
		} {
			t.Run(tt.name, func(t *testing.T) {
				ctx := kint.NewContext(gini.NewSolver())

				x, y := ctx.Var(32, "x"), ctx.Var(32, "y")
				kx, ky := ctx.ConstUint64(32, tt.x), ctx.ConstUint64(32, tt.y)
				ex, ey := ctx.Eq(x, kx), ctx.Eq(y, ky)
				bind := ctx.And(ex, ey)
				o := tt.fn(ctx, x, y)
				f := ctx.And(bind, o)
				defer ctx.Release(x, y, kx, ky, ex, ey, bind, o, f)

				if satisfiable, err := ctx.Query(f); err != nil {
					t.Fatal(err)
				} else if satisfiable != tt.want {
					t.Fatalf("unexpected result: %v", satisfiable)
				}
			})
		}
	})

	t.Run("Model", func(t *testing.T) {
		ctx := kint.NewContext(gini.NewSolver())

		x, y := ctx.Var(16, "x"), ctx.Var(16, "y")
		sum := ctx.Add(x, y)
		k := ctx.ConstUint64(16, 0x1234)
		ex := ctx.Eq(sum, k)
		zero := ctx.ConstUint64(16, 0)
		ey := ctx.Eq(y, zero)
		f := ctx.And(ex, ey)
		defer ctx.Release(x, y, sum, k, ex, zero, ey, f)

		if result, err := ctx.QueryModel(f); err != nil {
			t.Fatal(err)
		} else if !result.Satisfiable {
			t.Fatal("expected satisfiable")
		} else if v := result.Model["x"]; v == nil || v.Uint64() != 0x1234 {
			t.Fatalf("unexpected x: %v", v)
		} else if v := result.Model["y"]; v == nil || v.Sign() != 0 {
			t.Fatalf("unexpected y: %v", v)
		}
	})

	t.Run("Ite", func(t *testing.T) {
		ctx := kint.NewContext(gini.NewSolver())

		c := ctx.Var(1, "c")
		a, b := ctx.ConstUint64(8, 1), ctx.ConstUint64(8, 2)
		ite := ctx.Ite(c, a, b)
		f := ctx.Eq(ite, b)
		defer ctx.Release(c, a, b, ite, f)

		if result, err := ctx.QueryModel(f); err != nil {
			t.Fatal(err)
		} else if !result.Satisfiable {
			t.Fatal("expected satisfiable")
		} else if v := result.Model["c"]; v == nil || v.Sign() != 0 {
			t.Fatalf("unexpected condition: %v", v)
		}
	})

	t.Run("Unsatisfiable", func(t *testing.T) {
		ctx := kint.NewContext(gini.NewSolver())

		x := ctx.Var(8, "x")
		k := ctx.ConstUint64(8, 10)
		lt, gt := ctx.Ult(x, k), ctx.Ugt(x, k)
		f := ctx.And(lt, gt)
		defer ctx.Release(x, k, lt, gt, f)

		if result, err := ctx.QueryModel(f); err != nil {
			t.Fatal(err)
		} else if result.Satisfiable {
			t.Fatal("expected unsatisfiable")
		} else if result.Model != nil {
			t.Fatalf("unexpected model: %v", result.Model)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		s := gini.NewSolver()
		ctx := kint.NewContext(s)
		x := ctx.Var(1, "x")
		defer ctx.Release(x)
		for i := 0; i < 3; i++ {
			if _, err := ctx.Query(x); err != nil {
				t.Fatal(err)
			}
		}
		if n := s.Stats().SolveN; n != 3 {
			t.Fatalf("unexpected solve count: %d", n)
		}
	})
}

// MustAgree fails if the solver's evaluation of op over a and b differs
// from the folded constant result.
func MustAgree(tb testing.TB, op kint.Op, a, b uint64) {
	tb.Helper()

	ctx := kint.NewContext(gini.NewSolver())
	x, y := ctx.Var(8, "x"), ctx.Var(8, "y")
	kx, ky := ctx.ConstUint64(8, a), ctx.ConstUint64(8, b)
	ex, ey := ctx.Eq(x, kx), ctx.Eq(y, ky)
	bind := ctx.And(ex, ey)

	got, want := ctx.Binary(op, x, y), ctx.Binary(op, kx, ky)
	ne := ctx.Ne(got, want)
	f := ctx.And(bind, ne)

	satisfiable, err := ctx.Query(f)
	ctx.Release(x, y, kx, ky, ex, ey, bind, got, want, ne, f)
	if err != nil {
		tb.Fatal(err)
	} else if satisfiable {
		tb.Fatalf("%s(0x%02x, 0x%02x): solver disagrees with folded value", op, a, b)
	}
}
