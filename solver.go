package kint

import (
	"math/big"
	"sort"
	"time"
)

// Solver represents a bitvector satisfiability oracle.
//
// Each call to Solve must use a fresh solver instance so that no assertions
// leak between queries. Implementations must be safe for concurrent use.
type Solver interface {
	Solve(ctx *Context, f Formula) (Result, error)
}

// Result is the outcome of a satisfiability query.
type Result struct {
	Satisfiable bool

	// Assignment of free variables, keyed by variable name.
	// Only set when Satisfiable is true.
	Model Model
}

// Model maps variable names to unsigned values.
type Model map[string]*big.Int

// Names returns the variable names in the model in sorted order.
func (m Model) Names() []string {
	a := make([]string, 0, len(m))
	for name := range m {
		a = append(a, name)
	}
	sort.Strings(a)
	return a
}

// Stats holds solver statistics.
type Stats struct {
	SolveN    int
	SolveTime time.Duration
}

// Add returns the sum of s and other.
func (s Stats) Add(other Stats) Stats {
	return Stats{
		SolveN:    s.SolveN + other.SolveN,
		SolveTime: s.SolveTime + other.SolveTime,
	}
}
