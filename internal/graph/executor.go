package graph

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lucib3196/gestalt-questions-backend/internal/platform/logger"
)

// Context is handed to every node invocation.
type Context struct {
	Ctx     context.Context
	Log     *logger.Logger
	Node    string
	Attempt int
}

// NodeError identifies which node a run failed in.
type NodeError struct {
	Node string
	Err  error
}

func (e *NodeError) Error() string { return fmt.Sprintf("node %q: %v", e.Node, e.Err) }
func (e *NodeError) Unwrap() error { return e.Err }

// Event is one streamed progress update. A terminal event carries Err or,
// when Node is empty, the final state.
type Event[S any] struct {
	Node      string
	Superstep int
	State     S
	Err       error
}

type Executor[S any] struct {
	g             *Graph[S]
	maxSupersteps int
}

// SetMaxSupersteps overrides the safety bound on scheduling rounds.
func (e *Executor[S]) SetMaxSupersteps(n int) {
	if n > 0 {
		e.maxSupersteps = n
	}
}

// Invoke runs the graph to completion and returns the final merged state.
func (e *Executor[S]) Invoke(ctx context.Context, log *logger.Logger, initial S) (S, error) {
	return e.run(ctx, log, initial, nil)
}

// Stream runs the graph in the background, emitting one event per committed
// node plus a terminal event. The channel closes when the run ends.
func (e *Executor[S]) Stream(ctx context.Context, log *logger.Logger, initial S) <-chan Event[S] {
	out := make(chan Event[S], len(e.g.nodes)+1)
	go func() {
		defer close(out)
		final, err := e.run(ctx, log, initial, func(ev Event[S]) {
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		})
		if err != nil {
			select {
			case out <- Event[S]{Err: err}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case out <- Event[S]{State: final}:
		case <-ctx.Done():
		}
	}()
	return out
}

type nodeResult[S any] struct {
	name   string
	update S
}

func (e *Executor[S]) run(ctx context.Context, log *logger.Logger, initial S, emit func(Event[S])) (S, error) {
	state := initial
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("component", "GraphExecutor")

	pending := make([]string, 0, len(e.g.entry))
	inPending := map[string]bool{}
	enqueue := func(name string) {
		if name == End || inPending[name] {
			return
		}
		pending = append(pending, name)
		inPending[name] = true
	}
	for _, name := range e.g.entry {
		enqueue(name)
	}

	for step := 0; step < e.maxSupersteps; step++ {
		if len(pending) == 0 {
			return state, nil
		}
		if ctx.Err() != nil {
			return state, ctx.Err()
		}

		frontier := e.pickFrontier(pending, inPending)
		if len(frontier) == 0 {
			return state, fmt.Errorf("graph stalled: pending nodes %v have unmet predecessors", pending)
		}

		results := make(chan nodeResult[S], len(frontier))
		grp, gctx := errgroup.WithContext(ctx)
		for _, name := range frontier {
			n := e.g.nodes[name]
			grp.Go(func() error {
				update, err := e.runNode(gctx, log, n, state)
				if err != nil {
					return &NodeError{Node: n.name, Err: err}
				}
				results <- nodeResult[S]{name: n.name, update: update}
				return nil
			})
		}
		err := grp.Wait()
		close(results)
		// Fold whatever committed before reporting the failure.
		committed := make([]string, 0, len(frontier))
		for r := range results {
			state = e.g.reduce(state, r.update)
			committed = append(committed, r.name)
		}
		if err != nil {
			return state, err
		}
		if emit != nil {
			for _, name := range committed {
				emit(Event[S]{Node: name, Superstep: step, State: state})
			}
		}

		// Remove the frontier, then route. Routers see the fully merged
		// layer, not a partial one.
		next := pending[:0]
		for _, name := range pending {
			if !containsName(frontier, name) {
				next = append(next, name)
				continue
			}
			delete(inPending, name)
		}
		pending = next

		for _, name := range frontier {
			for _, to := range e.g.static[name] {
				enqueue(to)
			}
			if ce, ok := e.g.cond[name]; ok {
				for _, target := range ce.router(state) {
					if !ce.candidates[target] {
						return state, &NodeError{Node: name, Err: fmt.Errorf("router returned unknown target %q", target)}
					}
					enqueue(target)
				}
			}
		}
	}
	return state, fmt.Errorf("graph exceeded %d supersteps without terminating", e.maxSupersteps)
}

// pickFrontier returns the pending nodes whose static predecessors are not
// themselves still pending. Joins wait for all parents this way without
// blocking loop re-entry, since a looped-to node's parent is only pending
// after its router fires.
func (e *Executor[S]) pickFrontier(pending []string, inPending map[string]bool) []string {
	frontier := make([]string, 0, len(pending))
	for _, name := range pending {
		blocked := false
		for _, pred := range e.g.preds[name] {
			if pred != name && inPending[pred] {
				blocked = true
				break
			}
		}
		if !blocked {
			frontier = append(frontier, name)
		}
	}
	return frontier
}

func (e *Executor[S]) runNode(ctx context.Context, log *logger.Logger, n *node[S], state S) (S, error) {
	attempts := 0
	for {
		attempts++
		update, err := e.runOnce(ctx, log, n, state, attempts)
		if err == nil {
			return update, nil
		}
		if ctx.Err() != nil {
			return update, err
		}
		if !shouldRetry(n.retry, attempts, err) {
			return update, err
		}
		delay := computeBackoff(n.retry, attempts)
		log.Warn("Node retrying",
			"node", n.name,
			"attempt", attempts,
			"max_attempts", n.retry.MaxAttempts,
			"delay", delay.String(),
			"error", err.Error(),
		)
		select {
		case <-ctx.Done():
			var zero S
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (e *Executor[S]) runOnce(ctx context.Context, log *logger.Logger, n *node[S], state S, attempt int) (update S, err error) {
	nctx := ctx
	cancel := func() {}
	if n.timeout > 0 {
		nctx, cancel = context.WithTimeout(ctx, n.timeout)
	}
	defer cancel()

	type out struct {
		s S
		e error
	}
	ch := make(chan out, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero S
				ch <- out{s: zero, e: fmt.Errorf("panic: %v", r)}
			}
		}()
		s, e := n.fn(&Context{Ctx: nctx, Log: log, Node: n.name, Attempt: attempt}, state)
		ch <- out{s: s, e: e}
	}()

	select {
	case <-nctx.Done():
		var zero S
		if n.timeout > 0 && ctx.Err() == nil {
			return zero, fmt.Errorf("node timed out after %s: %w", n.timeout, nctx.Err())
		}
		return zero, nctx.Err()
	case o := <-ch:
		return o.s, o.e
	}
}

func containsName(list []string, name string) bool {
	for _, v := range list {
		if v == name {
			return true
		}
	}
	return false
}

func shouldRetry(r RetryPolicy, attempts int, err error) bool {
	if r.MaxAttempts <= 0 || attempts >= r.MaxAttempts {
		return false
	}
	if r.Retryable == nil {
		return true
	}
	return r.Retryable(err)
}

func computeBackoff(r RetryPolicy, attempts int) time.Duration {
	minB := r.MinBackoff
	maxB := r.MaxBackoff
	j := r.JitterFrac
	if minB <= 0 {
		minB = 1 * time.Second
	}
	if maxB <= 0 {
		maxB = 30 * time.Second
	}
	if j <= 0 {
		j = 0.20
	}
	if attempts < 1 {
		attempts = 1
	}
	d := time.Duration(float64(minB) * math.Pow(2, float64(attempts-1)))
	if d > maxB {
		d = maxB
	}
	delta := float64(d) * j
	low := float64(d) - delta
	high := float64(d) + delta
	if low < 0 {
		low = 0
	}
	return time.Duration(low + rand.Float64()*(high-low))
}
