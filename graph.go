package kint

import (
	"fmt"
	"sort"

	"github.com/benbjohnson/immutable"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/value"
	"github.com/twmb/algoimpl/go/graph"
	"golang.org/x/tools/container/intsets"
)

// User is an instruction or terminator that uses a value.
type User interface {
	LLString() string
}

// Graph indexes the control flow and def-use relations of a function.
// Blocks are identified by their position in the function.
type Graph struct {
	fn      *ir.Func
	index   map[*ir.Block]int
	preds   [][]int
	succs   [][]int
	ids     map[User]int
	blockOf []int
	users   map[value.Value][]User
}

// NewGraph builds the graph for fn. The use index reflects fn at the time
// of the call and is not updated when instructions are inserted later.
func NewGraph(fn *ir.Func) *Graph {
	g := &Graph{
		fn:    fn,
		index: make(map[*ir.Block]int, len(fn.Blocks)),
		preds: make([][]int, len(fn.Blocks)),
		succs: make([][]int, len(fn.Blocks)),
		ids:   make(map[User]int),
		users: make(map[value.Value][]User),
	}
	for i, b := range fn.Blocks {
		g.index[b] = i
	}

	for i, b := range fn.Blocks {
		for _, inst := range b.Insts {
			g.add(inst, i)
			g.addUses(inst, operands(inst))
		}
		if b.Term == nil {
			continue
		}
		g.add(b.Term, i)
		g.addUses(b.Term, termOperands(b.Term))

		var seen intsets.Sparse
		for _, succ := range b.Term.Succs() {
			j, ok := g.index[succ]
			assert(ok, "successor %s not in function %s", succ.Ident(), fn.Ident())
			if !seen.Insert(j) {
				continue
			}
			g.succs[i] = append(g.succs[i], j)
			g.preds[j] = append(g.preds[j], i)
		}
	}
	for _, preds := range g.preds {
		sort.Ints(preds)
	}
	return g
}

func (g *Graph) add(u User, block int) {
	g.ids[u] = len(g.blockOf)
	g.blockOf = append(g.blockOf, block)
}

func (g *Graph) addUses(u User, ops []value.Value) {
	for _, op := range ops {
		if _, ok := op.(ir.Instruction); !ok {
			continue
		}
		g.users[op] = append(g.users[op], u)
	}
}

// Func returns the underlying function.
func (g *Graph) Func() *ir.Func { return g.fn }

// Len returns the number of blocks.
func (g *Graph) Len() int { return len(g.fn.Blocks) }

// Block returns the block with id i.
func (g *Graph) Block(i int) *ir.Block { return g.fn.Blocks[i] }

// Index returns the id of b.
func (g *Graph) Index(b *ir.Block) int {
	i, ok := g.index[b]
	assert(ok, "block %s not in function %s", b.Ident(), g.fn.Ident())
	return i
}

// Preds returns the ids of the distinct predecessors of block i.
func (g *Graph) Preds(i int) []int { return g.preds[i] }

// Succs returns the ids of the distinct successors of block i.
func (g *Graph) Succs(i int) []int { return g.succs[i] }

// ID returns the position of u within the function, counting instructions
// and terminators in block order. Only users present when the graph was
// built are known.
func (g *Graph) ID(u User) (int, bool) {
	id, ok := g.ids[u]
	return id, ok
}

// BlockOf returns the id of the block containing u.
func (g *Graph) BlockOf(u User) (int, bool) {
	id, ok := g.ids[u]
	if !ok {
		return 0, false
	}
	return g.blockOf[id], true
}

// Users returns the instructions and terminators that use v.
func (g *Graph) Users(v value.Value) []User { return g.users[v] }

// BackEdges returns the edges that close a cycle during a depth-first
// traversal from the entry block. Blocks the entry cannot reach are
// traversed afterwards in block order so that dead cycles are broken too.
func (g *Graph) BackEdges() *BackEdges {
	var edges []Edge
	var visited, onStack intsets.Sparse
	type frame struct{ block, next int }
	for root := 0; root < g.Len(); root++ {
		if !visited.Insert(root) {
			continue
		}
		onStack.Insert(root)
		stack := []frame{{block: root}}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next == len(g.succs[top.block]) {
				onStack.Remove(top.block)
				stack = stack[:len(stack)-1]
				continue
			}

			from, to := top.block, g.succs[top.block][top.next]
			top.next++
			if visited.Insert(to) {
				onStack.Insert(to)
				stack = append(stack, frame{block: to})
			} else if onStack.Has(to) {
				edges = append(edges, Edge{From: from, To: to})
			}
		}
	}
	return NewBackEdges(edges...)
}

// CheckAcyclic returns an error if removing be from the graph leaves a cycle.
func (g *Graph) CheckAcyclic(be *BackEdges) error {
	cfg := graph.New(graph.Directed)
	nodes := make([]graph.Node, g.Len())
	for i := range nodes {
		nodes[i] = cfg.MakeNode()
		*nodes[i].Value = i
	}
	for from, succs := range g.succs {
		for _, to := range succs {
			if be.Has(from, to) {
				continue
			} else if from == to {
				return fmt.Errorf("self loop on block %s is not a back edge", g.Block(from).Ident())
			}
			if err := cfg.MakeEdge(nodes[from], nodes[to]); err != nil {
				return err
			}
		}
	}

	for _, scc := range cfg.StronglyConnectedComponents() {
		if len(scc) > 1 {
			i := (*scc[0].Value).(int)
			return fmt.Errorf("cycle through block %s is not broken by back edges", g.Block(i).Ident())
		}
	}
	return nil
}

// Edge is a control flow edge between two block ids.
type Edge struct {
	From, To int
}

// BackEdges is an immutable set of control flow edges.
type BackEdges struct {
	m *immutable.Map
}

// NewBackEdges returns a set containing edges.
func NewBackEdges(edges ...Edge) *BackEdges {
	b := immutable.NewMapBuilder(&edgeHasher{})
	for _, e := range edges {
		b.Set(e, struct{}{})
	}
	return &BackEdges{m: b.Map()}
}

// Has returns true if the edge from -> to is in the set.
func (be *BackEdges) Has(from, to int) bool {
	_, ok := be.m.Get(Edge{From: from, To: to})
	return ok
}

// Len returns the number of edges in the set.
func (be *BackEdges) Len() int { return be.m.Len() }

// Edges returns the edges in the set, sorted.
func (be *BackEdges) Edges() []Edge {
	a := make([]Edge, 0, be.m.Len())
	for itr := be.m.Iterator(); !itr.Done(); {
		k, _ := itr.Next()
		a = append(a, k.(Edge))
	}
	sort.Slice(a, func(i, j int) bool {
		if a[i].From != a[j].From {
			return a[i].From < a[j].From
		}
		return a[i].To < a[j].To
	})
	return a
}

type edgeHasher struct{}

func (h *edgeHasher) Hash(key interface{}) uint32 {
	e := key.(Edge)
	return uint32(e.From)*2654435761 ^ uint32(e.To)
}

func (h *edgeHasher) Equal(a, b interface{}) bool {
	return a.(Edge) == b.(Edge)
}

// operands returns the values read by inst.
func operands(inst ir.Instruction) []value.Value {
	switch inst := inst.(type) {
	case *ir.InstAdd:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstSub:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstMul:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstUDiv:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstSDiv:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstURem:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstSRem:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstShl:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstLShr:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstAShr:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstAnd:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstOr:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstXor:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstFAdd:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstFSub:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstFMul:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstFDiv:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstFRem:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstFNeg:
		return []value.Value{inst.X}
	case *ir.InstICmp:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstFCmp:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstGetElementPtr:
		return append([]value.Value{inst.Src}, inst.Indices...)
	case *ir.InstTrunc:
		return []value.Value{inst.From}
	case *ir.InstZExt:
		return []value.Value{inst.From}
	case *ir.InstSExt:
		return []value.Value{inst.From}
	case *ir.InstFPTrunc:
		return []value.Value{inst.From}
	case *ir.InstFPExt:
		return []value.Value{inst.From}
	case *ir.InstFPToUI:
		return []value.Value{inst.From}
	case *ir.InstFPToSI:
		return []value.Value{inst.From}
	case *ir.InstUIToFP:
		return []value.Value{inst.From}
	case *ir.InstSIToFP:
		return []value.Value{inst.From}
	case *ir.InstPtrToInt:
		return []value.Value{inst.From}
	case *ir.InstIntToPtr:
		return []value.Value{inst.From}
	case *ir.InstBitCast:
		return []value.Value{inst.From}
	case *ir.InstAddrSpaceCast:
		return []value.Value{inst.From}
	case *ir.InstSelect:
		return []value.Value{inst.Cond, inst.ValueTrue, inst.ValueFalse}
	case *ir.InstPhi:
		ops := make([]value.Value, len(inst.Incs))
		for i, inc := range inst.Incs {
			ops[i] = inc.X
		}
		return ops
	case *ir.InstCall:
		return append([]value.Value{inst.Callee}, inst.Args...)
	case *ir.InstLoad:
		return []value.Value{inst.Src}
	case *ir.InstStore:
		return []value.Value{inst.Src, inst.Dst}
	case *ir.InstAlloca:
		if inst.NElems != nil {
			return []value.Value{inst.NElems}
		}
		return nil
	case *ir.InstExtractValue:
		return []value.Value{inst.X}
	case *ir.InstInsertValue:
		return []value.Value{inst.X, inst.Elem}
	case *ir.InstExtractElement:
		return []value.Value{inst.X, inst.Index}
	case *ir.InstInsertElement:
		return []value.Value{inst.X, inst.Elem, inst.Index}
	case *ir.InstShuffleVector:
		return []value.Value{inst.X, inst.Y, inst.Mask}
	case *ir.InstFreeze:
		return []value.Value{inst.X}
	case *ir.InstAtomicRMW:
		return []value.Value{inst.Dst, inst.X}
	case *ir.InstCmpXchg:
		return []value.Value{inst.Ptr, inst.Cmp, inst.New}
	case *ir.InstVAArg:
		return []value.Value{inst.ArgList}
	case *ir.InstLandingPad:
		ops := make([]value.Value, len(inst.Clauses))
		for i, clause := range inst.Clauses {
			ops[i] = clause.X
		}
		return ops
	case *ir.InstCatchPad:
		return append([]value.Value{inst.CatchSwitch}, inst.Args...)
	case *ir.InstCleanupPad:
		return append([]value.Value{inst.ParentPad}, inst.Args...)
	default:
		return nil
	}
}

// termOperands returns the values read by term, excluding block labels.
func termOperands(term ir.Terminator) []value.Value {
	switch term := term.(type) {
	case *ir.TermRet:
		if term.X != nil {
			return []value.Value{term.X}
		}
		return nil
	case *ir.TermCondBr:
		return []value.Value{term.Cond}
	case *ir.TermSwitch:
		return []value.Value{term.X}
	case *ir.TermIndirectBr:
		return []value.Value{term.Addr}
	case *ir.TermInvoke:
		return append([]value.Value{term.Invokee}, term.Args...)
	case *ir.TermCallBr:
		return append([]value.Value{term.Callee}, term.Args...)
	case *ir.TermResume:
		return []value.Value{term.X}
	case *ir.TermCatchSwitch:
		return []value.Value{term.ParentPad}
	case *ir.TermCatchRet:
		return []value.Value{term.CatchPad}
	case *ir.TermCleanupRet:
		return []value.Value{term.CleanupPad}
	default:
		return nil
	}
}
