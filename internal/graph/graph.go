package graph

import (
	"fmt"
	"strings"
	"time"
)

// Sentinel node names for wiring entry and exit edges.
const (
	Start = "__start__"
	End   = "__end__"
)

// NodeFunc runs one unit of work. It receives the merged state as of the
// start of its superstep and returns an update to be folded back in.
type NodeFunc[S any] func(ctx *Context, state S) (S, error)

// Router picks the successors of its owner after it commits. Returning an
// empty slice (or only End) terminates that branch.
type Router[S any] func(state S) []string

// Reducer folds one node's update into the shared state. Executor calls it
// once per completed node, in completion order within a superstep.
type Reducer[S any] func(current, update S) S

type RetryPolicy struct {
	MaxAttempts int
	Retryable   func(err error) bool

	MinBackoff time.Duration // default 1s
	MaxBackoff time.Duration // default 30s
	JitterFrac float64       // default 0.20
}

type node[S any] struct {
	name    string
	fn      NodeFunc[S]
	retry   RetryPolicy
	timeout time.Duration
}

type condEdge[S any] struct {
	from       string
	router     Router[S]
	candidates map[string]bool
}

// Graph accumulates nodes and edges before Compile freezes it into a
// runnable form.
type Graph[S any] struct {
	reduce    Reducer[S]
	nodes     map[string]*node[S]
	order     []string
	static    map[string][]string // from -> to
	preds     map[string][]string // to -> static froms (Start excluded)
	cond      map[string]*condEdge[S]
	entry     []string
	buildErrs []error
}

type NodeOption func(*nodeOpts)

type nodeOpts struct {
	retry   RetryPolicy
	timeout time.Duration
}

func WithRetry(p RetryPolicy) NodeOption {
	return func(o *nodeOpts) { o.retry = p }
}

func WithTimeout(d time.Duration) NodeOption {
	return func(o *nodeOpts) { o.timeout = d }
}

func New[S any](reduce Reducer[S]) *Graph[S] {
	return &Graph[S]{
		reduce: reduce,
		nodes:  map[string]*node[S]{},
		static: map[string][]string{},
		preds:  map[string][]string{},
		cond:   map[string]*condEdge[S]{},
	}
}

func (g *Graph[S]) AddNode(name string, fn NodeFunc[S], opts ...NodeOption) *Graph[S] {
	name = strings.TrimSpace(name)
	if name == "" || name == Start || name == End {
		g.buildErrs = append(g.buildErrs, fmt.Errorf("invalid node name %q", name))
		return g
	}
	if _, dup := g.nodes[name]; dup {
		g.buildErrs = append(g.buildErrs, fmt.Errorf("duplicate node %q", name))
		return g
	}
	if fn == nil {
		g.buildErrs = append(g.buildErrs, fmt.Errorf("node %q: nil func", name))
		return g
	}
	var o nodeOpts
	for _, opt := range opts {
		opt(&o)
	}
	g.nodes[name] = &node[S]{name: name, fn: fn, retry: o.retry, timeout: o.timeout}
	g.order = append(g.order, name)
	return g
}

func (g *Graph[S]) AddEdge(from, to string) *Graph[S] {
	if from == Start {
		g.entry = append(g.entry, to)
		return g
	}
	g.static[from] = append(g.static[from], to)
	if to != End {
		g.preds[to] = append(g.preds[to], from)
	}
	return g
}

// AddConditionalEdges registers a router on from. Candidates bound the
// router's legal return values; End is always legal.
func (g *Graph[S]) AddConditionalEdges(from string, router Router[S], candidates ...string) *Graph[S] {
	if router == nil {
		g.buildErrs = append(g.buildErrs, fmt.Errorf("node %q: nil router", from))
		return g
	}
	if _, dup := g.cond[from]; dup {
		g.buildErrs = append(g.buildErrs, fmt.Errorf("node %q: router already set", from))
		return g
	}
	set := map[string]bool{End: true}
	for _, c := range candidates {
		set[c] = true
	}
	g.cond[from] = &condEdge[S]{from: from, router: router, candidates: set}
	return g
}

// Compile validates the graph and returns an executor. Static edges must be
// acyclic; cycles are legal only when at least one edge on the cycle is
// conditional, since routers decide termination at run time.
func (g *Graph[S]) Compile() (*Executor[S], error) {
	if len(g.buildErrs) > 0 {
		return nil, g.buildErrs[0]
	}
	if g.reduce == nil {
		return nil, fmt.Errorf("graph: nil reducer")
	}
	if len(g.nodes) == 0 {
		return nil, fmt.Errorf("graph: no nodes")
	}
	if len(g.entry) == 0 {
		return nil, fmt.Errorf("graph: no entry edge from Start")
	}
	for _, to := range g.entry {
		if _, ok := g.nodes[to]; !ok {
			return nil, fmt.Errorf("entry edge to unknown node %q", to)
		}
	}
	for from, tos := range g.static {
		if _, ok := g.nodes[from]; !ok {
			return nil, fmt.Errorf("edge from unknown node %q", from)
		}
		for _, to := range tos {
			if to == End {
				continue
			}
			if _, ok := g.nodes[to]; !ok {
				return nil, fmt.Errorf("edge %q -> unknown node %q", from, to)
			}
		}
	}
	for from, ce := range g.cond {
		if _, ok := g.nodes[from]; !ok {
			return nil, fmt.Errorf("router on unknown node %q", from)
		}
		for c := range ce.candidates {
			if c == End {
				continue
			}
			if _, ok := g.nodes[c]; !ok {
				return nil, fmt.Errorf("router on %q: unknown candidate %q", from, c)
			}
		}
	}
	if err := g.checkStaticAcyclic(); err != nil {
		return nil, err
	}
	return &Executor[S]{g: g, maxSupersteps: defaultMaxSupersteps(len(g.nodes))}, nil
}

// Kahn topological check over static edges only.
func (g *Graph[S]) checkStaticAcyclic() error {
	deg := map[string]int{}
	for name := range g.nodes {
		deg[name] = 0
	}
	for _, tos := range g.static {
		for _, to := range tos {
			if to == End {
				continue
			}
			deg[to]++
		}
	}
	removed := 0
	for {
		progressed := false
		for _, name := range g.order {
			if deg[name] != 0 {
				continue
			}
			deg[name] = -1
			removed++
			for _, to := range g.static[name] {
				if to != End {
					deg[to]--
				}
			}
			progressed = true
		}
		if !progressed {
			break
		}
	}
	if removed != len(g.nodes) {
		return fmt.Errorf("cycle detected in static edges")
	}
	return nil
}

func defaultMaxSupersteps(n int) int {
	// Generous bound: bounded loops re-enter nodes a handful of times.
	steps := n * 8
	if steps < 64 {
		steps = 64
	}
	return steps
}
