package main

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/benbjohnson/kint"
	"github.com/google/go-cmp/cmp"
	"github.com/logrusorgru/aurora"
)

const overflowSource = `
source_filename = "t.c"

define i32 @f(i32 %x) {
entry:
  %r = add nsw i32 %x, 1
  ret i32 %r
}

define i32 @g(i32 %x) {
entry:
  %y = lshr i32 %x, 2
  %r = add nsw i32 %y, 1
  ret i32 %r
}
`

func TestCheckCommand_Run(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		path := MustWriteFile(t, "t.ll", overflowSource)

		var buf bytes.Buffer
		cmd := NewCheckCommand()
		cmd.Stdout = &buf
		if err := cmd.Run(context.Background(), []string{path}); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(buf.String(), "Possible integer error: t.c::f::entry: %r = add nsw i32 %x, 1\n"); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Fail", func(t *testing.T) {
		path := MustWriteFile(t, "t.ll", overflowSource)
		cmd := NewCheckCommand()
		cmd.Stdout = &bytes.Buffer{}
		if err := cmd.Run(context.Background(), []string{"-fail", path}); err != ErrReportsFound {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("QueryFail", func(t *testing.T) {
		path := MustWriteFile(t, "t.ll", overflowSource)
		output := path + ".kint.ll"
		if err := NewInstrumentCommand().Run(context.Background(), []string{"-o", output, path}); err != nil {
			t.Fatal(err)
		}

		cmd := NewQueryCommand()
		cmd.Stdout = &bytes.Buffer{}
		if err := cmd.Run(context.Background(), []string{"-fail", output}); err != ErrReportsFound {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("Exclude", func(t *testing.T) {
		path := MustWriteFile(t, "t.ll", overflowSource)

		var buf bytes.Buffer
		cmd := NewCheckCommand()
		cmd.Stdout = &buf
		if err := cmd.Run(context.Background(), []string{"-fail", "-exclude", "f", path}); err != nil {
			t.Fatal(err)
		} else if buf.Len() != 0 {
			t.Fatalf("unexpected output: %s", buf.String())
		}
	})

	t.Run("ErrNoFile", func(t *testing.T) {
		if err := NewCheckCommand().Run(context.Background(), nil); err == nil || err.Error() != "ir file required" {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrParse", func(t *testing.T) {
		path := MustWriteFile(t, "bad.ll", "define i32 @f( {\n")
		if err := NewCheckCommand().Run(context.Background(), []string{path}); err == nil || !strings.HasPrefix(err.Error(), "parse ") {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

// Instrumenting and querying separately reports the same errors as check.
func TestInstrumentCommand_Run(t *testing.T) {
	path := MustWriteFile(t, "t.ll", overflowSource)
	output := path + ".kint.ll"

	if err := NewInstrumentCommand().Run(context.Background(), []string{"-o", output, path}); err != nil {
		t.Fatal(err)
	}
	if buf, err := os.ReadFile(output); err != nil {
		t.Fatal(err)
	} else if !strings.Contains(string(buf), "call void @__kint_overflow.f.0(i8 13, i32 %x, i32 1, i1 true)") {
		t.Fatalf("sentinel not found:\n%s", buf)
	}

	var buf bytes.Buffer
	cmd := NewQueryCommand()
	cmd.Stdout = &buf
	if err := cmd.Run(context.Background(), []string{output}); err != nil {
		t.Fatal(err)
	} else if diff := cmp.Diff(buf.String(), "Possible integer error: t.c::f::entry: %r = add nsw i32 %x, 1\n"); diff != "" {
		t.Fatal(diff)
	}
}

// Uncolored report lines match Report.String.
func TestPrintReport(t *testing.T) {
	for _, r := range []*kint.Report{
		{Module: "a.c", Function: "f", Block: "then", Inst: "%r = add i32 %x, 1"},
		{Module: "a.c", Function: "f", Inst: "%3 = add i32 %0, 1"},
	} {
		var buf bytes.Buffer
		printReport(&buf, aurora.NewAurora(false), r)
		if diff := cmp.Diff(buf.String(), r.String()+"\n"); diff != "" {
			t.Fatal(diff)
		}
	}
}

func TestRun(t *testing.T) {
	if err := run(context.Background(), []string{"frobnicate"}); err == nil || err.Error() != "kint frobnicate: unknown command" {
		t.Fatalf("unexpected error: %v", err)
	}
}
