package kint_test

import (
	"strings"
	"testing"

	"github.com/benbjohnson/kint"
	"github.com/llir/llvm/asm"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/value"
)

func TestIsSentinel(t *testing.T) {
	m := MustParseModule(t, `
declare void @__kint_overflow.f.0(i8, i32, i32, i1)
declare void @__kint_shift_div.f.1(i1)
declare void @g()

define void @f() {
entry:
  call void @__kint_overflow.f.0(i8 13, i32 1, i32 2, i1 false)
  call void @__kint_shift_div.f.1(i1 false)
  call void @g()
  ret void
}
`)
	insts := MustFunc(t, m, "f").Blocks[0].Insts
	for i, want := range []bool{true, true, false} {
		call, ok := insts[i].(*ir.InstCall)
		if !ok {
			t.Fatalf("%d. expected call: %s", i, insts[i].LLString())
		} else if got := kint.IsSentinel(call); got != want {
			t.Fatalf("%d. unexpected result: %v", i, got)
		}
	}
}

// MustParseModule parses LLVM assembly. Fatal on error.
func MustParseModule(tb testing.TB, src string) *ir.Module {
	tb.Helper()
	m, err := asm.ParseString("", strings.TrimSpace(src)+"\n")
	if err != nil {
		tb.Fatal(err)
	}
	return m
}

// MustFunc returns the function with the given name. Fatal if not found.
func MustFunc(tb testing.TB, m *ir.Module, name string) *ir.Func {
	tb.Helper()
	for _, fn := range m.Funcs {
		if fn.Name() == name {
			return fn
		}
	}
	tb.Fatalf("function not found: %s", name)
	return nil
}

// MustBlock returns the block with the given label. Fatal if not found.
func MustBlock(tb testing.TB, fn *ir.Func, name string) *ir.Block {
	tb.Helper()
	for _, b := range fn.Blocks {
		if b.LocalName == name {
			return b
		}
	}
	tb.Fatalf("block not found: %s", name)
	return nil
}

// MustValue returns the parameter or instruction named "%name". Fatal if not found.
func MustValue(tb testing.TB, fn *ir.Func, name string) value.Value {
	tb.Helper()
	ident := "%" + name
	for _, p := range fn.Params {
		if p.Ident() == ident {
			return p
		}
	}
	for _, b := range fn.Blocks {
		for _, inst := range b.Insts {
			if v, ok := inst.(value.Value); ok && v.Ident() == ident {
				return v
			}
		}
	}
	tb.Fatalf("value not found: %s", ident)
	return nil
}

// MustCalls returns the names of the functions called directly by b.
func MustCalls(tb testing.TB, b *ir.Block) []string {
	tb.Helper()
	var a []string
	for _, inst := range b.Insts {
		if call, ok := inst.(*ir.InstCall); ok {
			fn, ok := call.Callee.(*ir.Func)
			if !ok {
				tb.Fatalf("indirect call: %s", call.LLString())
			}
			a = append(a, fn.Name())
		}
	}
	return a
}
