package tree

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// Sequence runs its children in order and stops at the first failure.
type Sequence struct {
	Base
	children []Node
}

func NewSequence(name string, children ...Node) *Sequence {
	return &Sequence{Base: NewBase(name), children: children}
}

func (s *Sequence) Children() []Node { return s.children }

func (s *Sequence) Reset() {
	s.Base.Reset()
	for _, c := range s.children {
		c.Reset()
	}
}

func (s *Sequence) Tick(ctx context.Context, rc *Context) error {
	for _, c := range s.children {
		if err := Run(ctx, rc, c); err != nil {
			return err
		}
	}
	return nil
}

// If runs one of two branches. The condition is evaluated once; a
// branch that already started is re-run on resume instead of
// re-deciding, so a restored run cannot flip branches mid-mission.
// The untaken branch stays pending.
type If struct {
	Base
	cond       func(rc *Context) bool
	thenBranch []Node
	elseBranch []Node
}

func NewIf(name string, cond func(rc *Context) bool, thenBranch, elseBranch []Node) *If {
	return &If{Base: NewBase(name), cond: cond, thenBranch: thenBranch, elseBranch: elseBranch}
}

func (n *If) Children() []Node {
	out := append([]Node{}, n.thenBranch...)
	return append(out, n.elseBranch...)
}

func (n *If) Reset() {
	n.Base.Reset()
	for _, c := range n.Children() {
		c.Reset()
	}
}

func (n *If) Tick(ctx context.Context, rc *Context) error {
	for _, c := range n.pick(rc) {
		if err := Run(ctx, rc, c); err != nil {
			return err
		}
	}
	return nil
}

func (n *If) pick(rc *Context) []Node {
	if branchStarted(n.thenBranch) {
		return n.thenBranch
	}
	if branchStarted(n.elseBranch) {
		return n.elseBranch
	}
	if n.cond(rc) {
		return n.thenBranch
	}
	return n.elseBranch
}

func branchStarted(nodes []Node) bool {
	for _, c := range nodes {
		if c.Status() != "" {
			return true
		}
	}
	return false
}

// ErrorHandler runs its child and dispatches to a cleanup branch when
// the child ends in error, cancellation, or pause. Branches run on a
// fresh context so teardown is not killed by the cancellation that
// triggered it.
type ErrorHandler struct {
	Base
	child    Node
	onError  []Node
	onCancel []Node
	onPause  []Node
}

func NewErrorHandler(name string, child Node, onError, onCancel, onPause []Node) *ErrorHandler {
	return &ErrorHandler{
		Base:     NewBase(name),
		child:    child,
		onError:  onError,
		onCancel: onCancel,
		onPause:  onPause,
	}
}

func (h *ErrorHandler) Children() []Node {
	out := []Node{h.child}
	out = append(out, h.onError...)
	out = append(out, h.onCancel...)
	out = append(out, h.onPause...)
	return out
}

func (h *ErrorHandler) Reset() {
	h.Base.Reset()
	for _, c := range h.Children() {
		c.Reset()
	}
}

// ResetBranches clears only the handler branches so a resumed run can
// pause or fail again.
func (h *ErrorHandler) ResetBranches() {
	for _, n := range h.onError {
		n.Reset()
	}
	for _, n := range h.onCancel {
		n.Reset()
	}
	for _, n := range h.onPause {
		n.Reset()
	}
}

func (h *ErrorHandler) Tick(ctx context.Context, rc *Context) error {
	err := Run(ctx, rc, h.child)
	if err == nil {
		return nil
	}

	bg := context.Background()
	switch {
	case errors.Is(err, ErrPaused):
		h.runBranch(bg, rc, h.onPause)
		return ErrPaused
	case errors.Is(err, ErrCancelled):
		h.runBranch(bg, rc, h.onCancel)
		return ErrCancelled
	default:
		h.runBranch(bg, rc, h.onError)
		return err
	}
}

func (h *ErrorHandler) runBranch(ctx context.Context, rc *Context, branch []Node) {
	for _, n := range branch {
		if err := Run(ctx, rc, n); err != nil {
			log.Printf("tree: %s handler node %s: %v", h.Name(), n.Name(), err)
		}
	}
}

// Timeout bounds its child's execution. The deadline is anchored to
// the node's first start so it survives process restarts.
type Timeout struct {
	Base
	child   Node
	seconds float64
}

func NewTimeout(name string, child Node, seconds float64) *Timeout {
	return &Timeout{Base: NewBase(name), child: child, seconds: seconds}
}

func (t *Timeout) Children() []Node { return []Node{t.child} }

func (t *Timeout) Reset() {
	t.Base.Reset()
	t.child.Reset()
}

func (t *Timeout) Tick(ctx context.Context, rc *Context) error {
	deadline := time.Unix(0, int64((t.StartedAt()+t.seconds)*1e9))
	cctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	err := Run(cctx, rc, t.child)
	if err != nil && cctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		t.child.SetStatus(StatusError)
		return fmt.Errorf("%s timed out after %gs", t.child.Name(), t.seconds)
	}
	return err
}
