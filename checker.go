package kint

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/benbjohnson/immutable"
	"github.com/davecgh/go-spew/spew"
	"github.com/llir/llvm/ir"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Kind is the class of integer error checked by a sentinel.
type Kind int

const (
	KindOverflow Kind = iota + 1
	KindShift
	KindDivision
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindOverflow:
		return "overflow"
	case KindShift:
		return "shift"
	case KindDivision:
		return "division"
	default:
		return fmt.Sprintf("Kind<%d>", int(k))
	}
}

// kindOf returns the kind of check guarding inst.
func kindOf(inst User) Kind {
	switch inst.(type) {
	case *ir.InstAdd, *ir.InstSub, *ir.InstMul:
		return KindOverflow
	case *ir.InstShl, *ir.InstLShr, *ir.InstAShr:
		return KindShift
	case *ir.InstUDiv, *ir.InstSDiv:
		return KindDivision
	default:
		return 0
	}
}

// Report is a sentinel whose error condition is satisfiable on some path
// reaching it.
type Report struct {
	Module   string
	Function string
	Block    string // blank for unnamed blocks
	Kind     Kind
	Inst     string // instruction guarded by the sentinel

	// Assignment of free variables that triggers the error.
	Model Model
}

// ReportPrefix begins every report line.
const ReportPrefix = "Possible integer error"

// Location returns "<module>::<func>[::<block>]".
func (r *Report) Location() string {
	if r.Block == "" {
		return r.Module + "::" + r.Function
	}
	return r.Module + "::" + r.Function + "::" + r.Block
}

// String returns the report as a single line.
func (r *Report) String() string {
	return fmt.Sprintf("%s: %s: %s", ReportPrefix, r.Location(), r.Inst)
}

// CheckStats holds counters for a query run.
type CheckStats struct {
	Functions int
	Sentinels int
	Reports   int
	QueryTime time.Duration
}

// Add returns the sum of s and other.
func (s CheckStats) Add(other CheckStats) CheckStats {
	return CheckStats{
		Functions: s.Functions + other.Functions,
		Sentinels: s.Sentinels + other.Sentinels,
		Reports:   s.Reports + other.Reports,
		QueryTime: s.QueryTime + other.QueryTime,
	}
}

// Checker queries the sentinels of instrumented functions and reports the
// ones whose error condition can hold.
type Checker struct {
	Solver Solver
	Logger logrus.FieldLogger

	// Number of functions checked concurrently. Values below one check
	// functions sequentially.
	Jobs int

	// Glob patterns of function names to skip.
	Exclude []string

	// If true, each query is written to the logger as an SMT-LIB script.
	DumpFormulas bool

	// If true, the model of each satisfiable query is written to the logger.
	DumpModels bool
}

// NewChecker returns a new instance of Checker.
func NewChecker(s Solver) *Checker {
	return &Checker{
		Solver: s,
		Logger: logrus.StandardLogger(),
		Jobs:   1,
	}
}

// CheckModule checks every function defined in m. Reports are returned in
// function order, then in program order within each function.
func (c *Checker) CheckModule(ctx context.Context, m *ir.Module) ([]*Report, CheckStats, error) {
	layout, err := ParseDataLayout(m.DataLayout)
	if err != nil {
		return nil, CheckStats{}, err
	}

	var fns []*ir.Func
	for _, fn := range m.Funcs {
		if len(fn.Blocks) == 0 {
			continue
		} else if excluded, err := c.excluded(fn); err != nil {
			return nil, CheckStats{}, err
		} else if excluded {
			c.Logger.WithField("func", fn.Name()).Debug("excluded")
			continue
		}
		fns = append(fns, fn)
	}

	results := make([][]*Report, len(fns))
	stats := make([]CheckStats, len(fns))

	g, gctx := errgroup.WithContext(ctx)
	if c.Jobs > 1 {
		g.SetLimit(c.Jobs)
	} else {
		g.SetLimit(1)
	}
	for i, fn := range fns {
		i, fn := i, fn
		g.Go(func() (err error) {
			results[i], stats[i], err = c.checkFunction(gctx, m, layout, fn)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, CheckStats{}, err
	}

	var reports []*Report
	var total CheckStats
	for i := range fns {
		reports = append(reports, results[i]...)
		total = total.Add(stats[i])
	}
	return reports, total, nil
}

// CheckFunction checks a single function defined in m.
func (c *Checker) CheckFunction(ctx context.Context, m *ir.Module, fn *ir.Func) ([]*Report, CheckStats, error) {
	layout, err := ParseDataLayout(m.DataLayout)
	if err != nil {
		return nil, CheckStats{}, err
	}
	return c.checkFunction(ctx, m, layout, fn)
}

func (c *Checker) excluded(fn *ir.Func) (bool, error) {
	for _, pattern := range c.Exclude {
		if ok, err := path.Match(pattern, fn.Name()); err != nil {
			return false, fmt.Errorf("exclude pattern %q: %w", pattern, err)
		} else if ok {
			return true, nil
		}
	}
	return false, nil
}

func (c *Checker) checkFunction(ctx context.Context, m *ir.Module, layout *DataLayout, fn *ir.Func) ([]*Report, CheckStats, error) {
	stats := CheckStats{Functions: 1}
	logger := c.Logger.WithField("func", fn.Name())

	g := NewGraph(fn)
	backEdges := g.BackEdges()
	if err := g.CheckAcyclic(backEdges); err != nil {
		return nil, stats, fmt.Errorf("%s: %w", fn.Name(), err)
	}
	logger.WithField("backedges", backEdges.Len()).Debug("checking")

	// Reports keyed by sentinel position so they come out in program order.
	set := immutable.NewSortedMap(nil)
	for _, b := range fn.Blocks {
		for i, inst := range b.Insts {
			call, ok := inst.(*ir.InstCall)
			if !ok || !IsSentinel(call) {
				continue
			}
			if err := ctx.Err(); err != nil {
				return nil, stats, err
			}
			stats.Sentinels++

			id, _ := g.ID(call)
			if _, ok := set.Get(id); ok {
				continue
			}

			var next User = b.Term
			if i+1 < len(b.Insts) {
				next = b.Insts[i+1]
			}
			logger := logger.WithFields(logrus.Fields{"block": b.Ident(), "inst": next.LLString()})

			t := time.Now()
			result, err := c.query(logger, layout, g, backEdges, b, call)
			stats.QueryTime += time.Since(t)
			if err != nil {
				return nil, stats, fmt.Errorf("%s: %s: %w", fn.Name(), next.LLString(), err)
			} else if !result.Satisfiable {
				continue
			}

			if c.DumpModels {
				logger.Debugf("model:\n%s", spew.Sdump(result.Model))
			}
			set = set.Set(id, &Report{
				Module:   m.SourceFilename,
				Function: fn.Name(),
				Block:    b.LocalName,
				Kind:     kindOf(next),
				Inst:     next.LLString(),
				Model:    result.Model,
			})
		}
	}

	reports := make([]*Report, 0, set.Len())
	for itr := set.Iterator(); !itr.Done(); {
		_, v := itr.Next()
		reports = append(reports, v.(*Report))
	}
	stats.Reports = len(reports)
	return reports, stats, nil
}

// query asks whether the sentinel's error condition holds on some path to b.
// Every query uses its own formula context.
func (c *Checker) query(logger logrus.FieldLogger, layout *DataLayout, g *Graph, backEdges *BackEdges, b *ir.Block, call *ir.InstCall) (Result, error) {
	ctx := NewContext(c.Solver)
	defer func() {
		if err := ctx.Close(); err != nil {
			logger.WithError(err).Error("formula leak")
		}
	}()

	values := NewValueConstraints(ctx, layout)
	values.Logger = logger
	defer values.Close()

	paths := NewPathConstraints(values, g, backEdges)
	defer paths.Close()

	bug := values.SentinelConstraint(call)
	reach := paths.Constraint(b)
	q := ctx.And(bug, reach)
	defer ctx.Release(bug, reach, q)

	if c.DumpFormulas {
		var buf bytes.Buffer
		if err := ctx.WriteSMT2(&buf, q); err != nil {
			return Result{}, err
		}
		logger.Debugf("query:\n%s", buf.String())
	}
	return ctx.QueryModel(q)
}
