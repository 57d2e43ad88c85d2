package kint_test

import (
	"testing"

	"github.com/benbjohnson/kint"
	"github.com/google/go-cmp/cmp"
)

const loopSource = `
define i32 @f(i32 %n) {
entry:
  br label %head
head:
  %i = phi i32 [ 0, %entry ], [ %next, %body ]
  %c = icmp slt i32 %i, %n
  br i1 %c, label %body, label %exit
body:
  %next = add nsw i32 %i, 1
  br label %head
exit:
  ret i32 %i
}
`

func TestNewGraph(t *testing.T) {
	t.Run("Loop", func(t *testing.T) {
		fn := MustFunc(t, MustParseModule(t, loopSource), "f")
		g := kint.NewGraph(fn)

		if n := g.Len(); n != 4 {
			t.Fatalf("unexpected block count: %d", n)
		} else if diff := cmp.Diff(g.Preds(1), []int{0, 2}); diff != "" {
			t.Fatal(diff)
		} else if diff := cmp.Diff(g.Succs(1), []int{2, 3}); diff != "" {
			t.Fatal(diff)
		} else if i := g.Index(MustBlock(t, fn, "exit")); i != 3 {
			t.Fatalf("unexpected index: %d", i)
		}
	})

	t.Run("IDs", func(t *testing.T) {
		fn := MustFunc(t, MustParseModule(t, loopSource), "f")
		g := kint.NewGraph(fn)

		body := MustBlock(t, fn, "body")
		if id, ok := g.ID(body.Insts[0]); !ok || id != 4 {
			t.Fatalf("unexpected id: %d", id)
		} else if id, ok := g.ID(body.Term); !ok || id != 5 {
			t.Fatalf("unexpected terminator id: %d", id)
		} else if b, ok := g.BlockOf(body.Insts[0]); !ok || b != 2 {
			t.Fatalf("unexpected block: %d", b)
		}
	})

	t.Run("Users", func(t *testing.T) {
		fn := MustFunc(t, MustParseModule(t, loopSource), "f")
		g := kint.NewGraph(fn)

		users := g.Users(MustValue(t, fn, "i"))
		if len(users) != 3 {
			t.Fatalf("unexpected user count: %d", len(users))
		} else if users[0] != MustBlock(t, fn, "head").Insts[1] {
			t.Fatalf("unexpected user: %s", users[0].LLString())
		} else if users[1] != MustBlock(t, fn, "body").Insts[0] {
			t.Fatalf("unexpected user: %s", users[1].LLString())
		} else if users[2] != MustBlock(t, fn, "exit").Term {
			t.Fatalf("unexpected user: %s", users[2].LLString())
		}

		// Parameters are not instructions and are not indexed.
		if users := g.Users(MustValue(t, fn, "n")); len(users) != 0 {
			t.Fatalf("unexpected user count: %d", len(users))
		}
	})

	t.Run("DuplicateSuccessor", func(t *testing.T) {
		fn := MustFunc(t, MustParseModule(t, `
define void @f(i1 %c) {
entry:
  br i1 %c, label %next, label %next
next:
  ret void
}
`), "f")
		g := kint.NewGraph(fn)
		if diff := cmp.Diff(g.Succs(0), []int{1}); diff != "" {
			t.Fatal(diff)
		} else if diff := cmp.Diff(g.Preds(1), []int{0}); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestGraph_BackEdges(t *testing.T) {
	t.Run("Acyclic", func(t *testing.T) {
		fn := MustFunc(t, MustParseModule(t, `
define void @f(i1 %c) {
entry:
  br i1 %c, label %a, label %b
a:
  br label %join
b:
  br label %join
join:
  ret void
}
`), "f")
		if n := kint.NewGraph(fn).BackEdges().Len(); n != 0 {
			t.Fatalf("unexpected back edge count: %d", n)
		}
	})

	t.Run("Loop", func(t *testing.T) {
		g := kint.NewGraph(MustFunc(t, MustParseModule(t, loopSource), "f"))
		be := g.BackEdges()
		if diff := cmp.Diff(be.Edges(), []kint.Edge{{From: 2, To: 1}}); diff != "" {
			t.Fatal(diff)
		} else if err := g.CheckAcyclic(be); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("SelfLoop", func(t *testing.T) {
		fn := MustFunc(t, MustParseModule(t, `
define void @f(i1 %c) {
entry:
  br label %loop
loop:
  br i1 %c, label %loop, label %exit
exit:
  ret void
}
`), "f")
		g := kint.NewGraph(fn)
		be := g.BackEdges()
		if diff := cmp.Diff(be.Edges(), []kint.Edge{{From: 1, To: 1}}); diff != "" {
			t.Fatal(diff)
		} else if err := g.CheckAcyclic(be); err != nil {
			t.Fatal(err)
		} else if err := g.CheckAcyclic(kint.NewBackEdges()); err == nil || err.Error() != `self loop on block %loop is not a back edge` {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("Nested", func(t *testing.T) {
		fn := MustFunc(t, MustParseModule(t, `
define void @f(i1 %c, i1 %d) {
entry:
  br label %outer
outer:
  br label %inner
inner:
  br i1 %c, label %inner.latch, label %outer.latch
inner.latch:
  br label %inner
outer.latch:
  br i1 %d, label %outer, label %exit
exit:
  ret void
}
`), "f")
		g := kint.NewGraph(fn)
		be := g.BackEdges()
		if diff := cmp.Diff(be.Edges(), []kint.Edge{{From: 3, To: 2}, {From: 4, To: 1}}); diff != "" {
			t.Fatal(diff)
		} else if err := g.CheckAcyclic(be); err != nil {
			t.Fatal(err)
		}

		// Dropping the outer back edge leaves a cycle.
		if err := g.CheckAcyclic(kint.NewBackEdges(kint.Edge{From: 3, To: 2})); err == nil {
			t.Fatal("expected error")
		}
	})

	// Cycles the entry cannot reach still get back edges.
	t.Run("Unreachable", func(t *testing.T) {
		fn := MustFunc(t, MustParseModule(t, `
define void @f() {
entry:
  ret void
dead:
  br label %dead.next
dead.next:
  br label %dead
}
`), "f")
		g := kint.NewGraph(fn)
		be := g.BackEdges()
		if diff := cmp.Diff(be.Edges(), []kint.Edge{{From: 2, To: 1}}); diff != "" {
			t.Fatal(diff)
		} else if err := g.CheckAcyclic(be); err != nil {
			t.Fatal(err)
		}
	})
}

func TestBackEdges_Has(t *testing.T) {
	be := kint.NewBackEdges(kint.Edge{From: 2, To: 1}, kint.Edge{From: 5, To: 0})
	if !be.Has(2, 1) {
		t.Fatal("expected edge")
	} else if be.Has(1, 2) {
		t.Fatal("unexpected edge")
	} else if n := be.Len(); n != 2 {
		t.Fatalf("unexpected length: %d", n)
	}
}
