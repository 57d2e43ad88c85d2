package kint_test

import (
	"testing"

	"github.com/benbjohnson/kint"
	"github.com/benbjohnson/kint/gini"
	"github.com/llir/llvm/ir"
)

// PathFixture bundles the engines needed to compute path constraints for fn.
type PathFixture struct {
	Ctx    *kint.Context
	Values *kint.ValueConstraints
	Paths  *kint.PathConstraints
	Func   *ir.Func
}

// NewPathFixture returns a fixture for the function name in src.
func NewPathFixture(tb testing.TB, src, name string) *PathFixture {
	tb.Helper()
	fn := MustFunc(tb, MustParseModule(tb, src), name)
	g := kint.NewGraph(fn)
	ctx := kint.NewContext(gini.NewSolver())
	values := kint.NewValueConstraints(ctx, kint.NewDataLayout())
	return &PathFixture{
		Ctx:    ctx,
		Values: values,
		Paths:  kint.NewPathConstraints(values, g, g.BackEdges()),
		Func:   fn,
	}
}

// Close releases the engines and fails if any formula reference leaked.
func (f *PathFixture) Close(tb testing.TB) {
	tb.Helper()
	f.Paths.Close()
	f.Values.Close()
	if err := f.Ctx.Close(); err != nil {
		tb.Fatal(err)
	}
}

// Block returns the path constraint of the named block.
func (f *PathFixture) Block(tb testing.TB, name string) kint.Formula {
	tb.Helper()
	return f.Paths.Constraint(MustBlock(tb, f.Func, name))
}

// Value returns the value constraint of the named parameter or instruction.
func (f *PathFixture) Value(tb testing.TB, name string) kint.Formula {
	tb.Helper()
	return f.Values.Constraint(MustValue(tb, f.Func, name))
}

// Query reports whether path && value == k is satisfiable.
func (f *PathFixture) Query(tb testing.TB, path kint.Formula, name string, k uint64) bool {
	tb.Helper()
	ctx := f.Ctx
	v := f.Value(tb, name)
	c := ctx.ConstUint64(ctx.Width(v), k)
	eq := ctx.Eq(v, c)
	q := ctx.And(path, eq)
	defer ctx.Release(v, c, eq, q)

	satisfiable, err := ctx.Query(q)
	if err != nil {
		tb.Fatal(err)
	}
	return satisfiable
}

func TestPathConstraints_Constraint(t *testing.T) {
	t.Run("Entry", func(t *testing.T) {
		f := NewPathFixture(t, loopSource, "f")
		defer f.Close(t)

		p := f.Block(t, "entry")
		defer f.Ctx.Release(p)
		if !f.Ctx.IsTrue(p) {
			t.Fatalf("unexpected entry constraint: %s", f.Ctx.String(p))
		}
	})

	t.Run("CondBr", func(t *testing.T) {
		f := NewPathFixture(t, `
define void @f(i1 %c) {
entry:
  br i1 %c, label %a, label %b
a:
  ret void
b:
  ret void
}
`, "f")
		defer f.Close(t)

		a, b := f.Block(t, "a"), f.Block(t, "b")
		defer f.Ctx.Release(a, b)
		if s := f.Ctx.String(a); s != "%c" {
			t.Fatalf("unexpected constraint: %s", s)
		} else if s := f.Ctx.String(b); s != "(bvnot %c)" {
			t.Fatalf("unexpected constraint: %s", s)
		}
	})

	t.Run("SameTarget", func(t *testing.T) {
		f := NewPathFixture(t, `
define void @f(i1 %c) {
entry:
  br i1 %c, label %next, label %next
next:
  ret void
}
`, "f")
		defer f.Close(t)

		p := f.Block(t, "next")
		defer f.Ctx.Release(p)
		if !f.Ctx.IsTrue(p) {
			t.Fatalf("unexpected constraint: %s", f.Ctx.String(p))
		}
	})

	t.Run("Switch", func(t *testing.T) {
		f := NewPathFixture(t, `
define void @f(i32 %x) {
entry:
  switch i32 %x, label %otherwise [
    i32 1, label %one
    i32 2, label %one
    i32 3, label %three
  ]
one:
  ret void
three:
  ret void
otherwise:
  ret void
}
`, "f")
		defer f.Close(t)

		one, three, def := f.Block(t, "one"), f.Block(t, "three"), f.Block(t, "otherwise")
		defer f.Ctx.Release(one, three, def)

		if !f.Query(t, one, "x", 2) {
			t.Fatal("expected x == 2 to reach case block")
		} else if f.Query(t, one, "x", 3) {
			t.Fatal("unexpected x == 3 reaching case block")
		} else if !f.Query(t, three, "x", 3) {
			t.Fatal("expected x == 3 to reach case block")
		} else if f.Query(t, def, "x", 1) {
			t.Fatal("unexpected x == 1 reaching default block")
		} else if !f.Query(t, def, "x", 4) {
			t.Fatal("expected x == 4 to reach default block")
		}
	})

	t.Run("Phi", func(t *testing.T) {
		f := NewPathFixture(t, `
define i32 @f(i1 %c) {
entry:
  br i1 %c, label %a, label %b
a:
  br label %join
b:
  br label %join
join:
  %p = phi i32 [ 1, %a ], [ 2, %b ]
  ret i32 %p
}
`, "f")
		defer f.Close(t)

		join := f.Block(t, "join")
		c := f.Value(t, "c")
		taken := f.Ctx.And(join, c)
		defer f.Ctx.Release(join, c, taken)

		if !f.Query(t, join, "p", 2) {
			t.Fatal("expected p == 2")
		} else if f.Query(t, join, "p", 3) {
			t.Fatal("unexpected p == 3")
		} else if f.Query(t, taken, "p", 2) {
			t.Fatal("unexpected p == 2 when branch taken")
		}
	})

	t.Run("PhiUndef", func(t *testing.T) {
		f := NewPathFixture(t, `
define i32 @f(i1 %c) {
entry:
  br i1 %c, label %a, label %join
a:
  br label %join
join:
  %p = phi i32 [ 1, %a ], [ undef, %entry ]
  ret i32 %p
}
`, "f")
		defer f.Close(t)

		join := f.Block(t, "join")
		defer f.Ctx.Release(join)
		if !f.Query(t, join, "p", 7) {
			t.Fatal("expected undef incoming value to be unconstrained")
		}
	})

	// Back edges are ignored so only the first iteration is modeled.
	t.Run("Loop", func(t *testing.T) {
		f := NewPathFixture(t, loopSource, "f")
		defer f.Close(t)

		exit := f.Block(t, "exit")
		defer f.Ctx.Release(exit)
		if !f.Query(t, exit, "n", 0) {
			t.Fatal("expected exit reachable with n == 0")
		} else if f.Query(t, exit, "n", 5) {
			t.Fatal("unexpected exit reachable with n == 5")
		}
	})

	t.Run("SelfLoop", func(t *testing.T) {
		f := NewPathFixture(t, `
define i32 @f(i32 %n) {
entry:
  br label %loop
loop:
  %i = phi i32 [ 0, %entry ], [ %next, %loop ]
  %next = add i32 %i, 1
  %c = icmp ult i32 %next, %n
  br i1 %c, label %loop, label %exit
exit:
  ret i32 %i
}
`, "f")
		defer f.Close(t)

		loop, exit := f.Block(t, "loop"), f.Block(t, "exit")
		defer f.Ctx.Release(loop, exit)
		if !f.Query(t, loop, "i", 0) {
			t.Fatal("expected i == 0 in loop")
		} else if f.Query(t, loop, "i", 1) {
			t.Fatal("unexpected i == 1 in loop")
		} else if !f.Query(t, exit, "n", 1) {
			t.Fatal("expected exit reachable with n == 1")
		} else if f.Query(t, exit, "n", 5) {
			t.Fatal("unexpected exit reachable with n == 5")
		}
	})

	t.Run("NestedLoop", func(t *testing.T) {
		f := NewPathFixture(t, `
define void @f(i32 %n) {
entry:
  br label %outer
outer:
  %i = phi i32 [ 0, %entry ], [ %i.next, %outer.latch ]
  br label %inner
inner:
  %j = phi i32 [ %i, %outer ], [ %j.next, %inner ]
  %j.next = add i32 %j, 1
  %c = icmp ult i32 %j.next, %n
  br i1 %c, label %inner, label %outer.latch
outer.latch:
  %i.next = add i32 %i, 1
  %d = icmp ult i32 %i.next, %n
  br i1 %d, label %outer, label %exit
exit:
  ret void
}
`, "f")
		defer f.Close(t)

		inner, latch, exit := f.Block(t, "inner"), f.Block(t, "outer.latch"), f.Block(t, "exit")
		defer f.Ctx.Release(inner, latch, exit)
		if !f.Query(t, inner, "j", 0) {
			t.Fatal("expected j == 0 in inner loop")
		} else if f.Query(t, inner, "j", 1) {
			t.Fatal("unexpected j == 1 in inner loop")
		} else if !f.Query(t, latch, "n", 1) {
			t.Fatal("expected outer latch reachable with n == 1")
		} else if f.Query(t, latch, "n", 5) {
			t.Fatal("unexpected outer latch reachable with n == 5")
		} else if !f.Query(t, exit, "n", 0) {
			t.Fatal("expected exit reachable with n == 0")
		} else if f.Query(t, exit, "n", 2) {
			t.Fatal("unexpected exit reachable with n == 2")
		}
	})
}
