// Package gini implements a pure Go kint.Solver by bit-blasting formulas
// into a gini circuit and solving the resulting CNF.
package gini

import (
	"math/big"
	"sync"
	"time"

	"github.com/benbjohnson/kint"
	"github.com/go-air/gini"
)

// Ensure solver implements interface.
var _ kint.Solver = (*Solver)(nil)

// Solver represents a solver backed by the gini SAT solver.
type Solver struct {
	mu    sync.Mutex
	stats kint.Stats

	// Maximum time spent per query. Zero means no limit.
	Timeout time.Duration
}

// NewSolver returns a new instance of Solver.
func NewSolver() *Solver {
	return &Solver{}
}

// Stats returns statistics for the solver.
func (s *Solver) Stats() kint.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Solve reports whether f is satisfiable. A new circuit and SAT instance is
// built for every call.
func (s *Solver) Solve(ctx *kint.Context, f kint.Formula) (kint.Result, error) {
	t := time.Now()
	defer func() {
		s.mu.Lock()
		s.stats.SolveN++
		s.stats.SolveTime += time.Since(t)
		s.mu.Unlock()
	}()

	b := newBlaster()
	bits, err := b.blast(ctx, f)
	if err != nil {
		return kint.Result{}, err
	}
	root := bits[0]

	// Circuit simplification may already have decided the query.
	if root == b.c.F {
		return kint.Result{}, nil
	}

	g := gini.New()
	b.c.ToCnf(g)
	g.Assume(root)

	var ret int
	if s.Timeout > 0 {
		ret = g.Try(s.Timeout)
	} else {
		ret = g.Solve()
	}

	switch ret {
	case 1:
		return kint.Result{Satisfiable: true, Model: b.model(ctx, g)}, nil
	case -1:
		return kint.Result{}, nil
	default:
		if s.Timeout > 0 {
			return kint.Result{}, kint.ErrSolverTimeout
		}
		return kint.Result{}, kint.ErrSolverCanceled
	}
}

// model reads back the value of every variable from a satisfied instance.
// Bits that never reached the CNF are unconstrained and read as zero.
func (b *blaster) model(ctx *kint.Context, g *gini.Gini) kint.Model {
	m := make(kint.Model, len(b.vars))
	max := g.MaxVar()
	for _, id := range b.vars {
		v := new(big.Int)
		for i, lit := range b.bits[id] {
			if lit.Var() <= max && g.Value(lit) {
				v.SetBit(v, i, 1)
			}
		}
		m[ctx.Node(id).Name] = v
	}
	return m
}
