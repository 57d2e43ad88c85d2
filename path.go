package kint

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"golang.org/x/tools/container/intsets"
)

// PathConstraints computes, for each block, the condition on free variables
// under which control reaches it. Edges in the back-edge set are ignored so
// that reachability is computed over the acyclic skeleton of the function.
type PathConstraints struct {
	values    *ValueConstraints
	graph     *Graph
	backEdges *BackEdges

	cache  []Formula // indexed by block id; zero if not yet computed
	active intsets.Sparse
}

// NewPathConstraints returns a path engine that builds value formulas with values.
func NewPathConstraints(values *ValueConstraints, g *Graph, backEdges *BackEdges) *PathConstraints {
	return &PathConstraints{
		values:    values,
		graph:     g,
		backEdges: backEdges,
		cache:     make([]Formula, g.Len()),
	}
}

// Close releases every cached formula.
func (pc *PathConstraints) Close() {
	ctx := pc.values.Context()
	for _, f := range pc.cache {
		if f != 0 {
			ctx.Release(f)
		}
	}
	pc.cache = nil
}

// Constraint returns the reachability formula for b. The caller owns the
// returned reference.
func (pc *PathConstraints) Constraint(b *ir.Block) Formula {
	return pc.values.Context().Retain(pc.block(pc.graph.Index(b)))
}

// block returns the borrowed reachability formula for block i.
func (pc *PathConstraints) block(i int) Formula {
	if f := pc.cache[i]; f != 0 {
		return f
	}
	ctx := pc.values.Context()
	if i == 0 {
		pc.cache[i] = ctx.True()
		return pc.cache[i]
	}

	assert(!pc.active.Has(i), "cycle through block %s not broken by back edges", pc.graph.Block(i).Ident())
	pc.active.Insert(i)
	defer pc.active.Remove(i)

	f := ctx.False()
	for _, pred := range pc.graph.Preds(i) {
		if pc.backEdges.Has(pred, i) {
			continue
		}

		term := pc.edge(pred, i)
		phis := pc.phis(pred, i)
		edge := ctx.And(term, phis)
		ctx.Release(term, phis)

		reach := ctx.And(edge, pc.block(pred))
		next := ctx.Or(f, reach)
		ctx.Release(edge, reach, f)
		f = next
	}
	pc.cache[i] = f
	return f
}

// edge returns the condition under which the terminator of block from
// transfers control to block to.
func (pc *PathConstraints) edge(from, to int) Formula {
	ctx := pc.values.Context()
	target := pc.graph.Block(to)

	switch term := pc.graph.Block(from).Term.(type) {
	case *ir.TermCondBr:
		if term.TargetTrue == term.TargetFalse {
			return ctx.True()
		}
		cond := pc.values.lookup(term.Cond)
		if term.TargetTrue == target {
			return ctx.Retain(cond)
		}
		return ctx.Not(cond)

	case *ir.TermSwitch:
		x := pc.values.lookup(term.X)
		f := ctx.False()
		for _, c := range term.Cases {
			if c.Target != target {
				continue
			}
			eq := ctx.Eq(x, pc.values.lookup(c.X))
			next := ctx.Or(f, eq)
			ctx.Release(f, eq)
			f = next
		}
		if term.TargetDefault != target {
			return f
		}

		def := ctx.True()
		for _, c := range term.Cases {
			ne := ctx.Ne(x, pc.values.lookup(c.X))
			next := ctx.And(def, ne)
			ctx.Release(def, ne)
			def = next
		}
		next := ctx.Or(f, def)
		ctx.Release(f, def)
		return next

	default:
		// Unconditional, indirect and exceptional edges.
		return ctx.True()
	}
}

// phis returns the conjunction of phi assignments in block to that are made
// when entering from block from. Undefined and non-integer incoming values
// are skipped.
func (pc *PathConstraints) phis(from, to int) Formula {
	ctx := pc.values.Context()
	pred := pc.graph.Block(from)

	f := ctx.True()
	for _, inst := range pc.graph.Block(to).Insts {
		phi, ok := inst.(*ir.InstPhi)
		if !ok {
			break
		}
		if _, ok := pc.values.Width(phi.Type()); !ok {
			continue
		}
		for _, inc := range phi.Incs {
			if inc.Pred != pred {
				continue
			} else if _, ok := inc.X.(*constant.Undef); ok {
				continue
			}
			eq := ctx.Eq(pc.values.lookup(inc.X), pc.values.lookup(phi))
			next := ctx.And(f, eq)
			ctx.Release(f, eq)
			f = next
		}
	}
	return f
}
