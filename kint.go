package kint

import (
	"errors"
	"fmt"
	"strings"

	"github.com/llir/llvm/ir"
)

// Standard widths.
const (
	WidthBool = 1
	Width8    = 8
	Width16   = 16
	Width32   = 32
	Width64   = 64
)

// Sentinel function name prefixes. Each inserted sentinel carries one of
// these prefixes followed by a per-site suffix.
const (
	OverflowPrefix = "__kint_overflow"
	ShiftDivPrefix = "__kint_shift_div"
)

// Opcode tags passed to overflow sentinels. Values match LLVM's
// Instruction opcode numbering.
const (
	OpcodeAdd  = 13
	OpcodeSub  = 15
	OpcodeMul  = 17
	OpcodeUDiv = 19
	OpcodeSDiv = 20
	OpcodeShl  = 24
	OpcodeLShr = 25
	OpcodeAShr = 26
)

// IsSentinel returns true if call invokes an inserted sentinel function.
func IsSentinel(call *ir.InstCall) bool {
	name := calleeName(call)
	return strings.HasPrefix(name, OverflowPrefix) || strings.HasPrefix(name, ShiftDivPrefix)
}

// calleeName returns the name of the function called directly by call.
// Returns a blank string for indirect calls.
func calleeName(call *ir.InstCall) string {
	if fn, ok := call.Callee.(*ir.Func); ok {
		return fn.Name()
	}
	return ""
}

var (
	ErrSolverTimeout       = errors.New("Solver timeout")
	ErrSolverCanceled      = errors.New("Solver canceled")
	ErrSolverResourceLimit = errors.New("Solver resource limit")
	ErrSolverUnknown       = errors.New("Solver unknown error")
)

// assert panics if condition is false.
func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}
