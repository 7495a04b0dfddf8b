package flow

import (
	"context"

	"github.com/leofalp/agentflow/core/value"
)

// Mode is the execution mode of a node.
type Mode string

const (
	// ModeSync nodes run inline on the scheduler goroutine. The scheduler
	// does not advance until they return, and they cannot be interrupted.
	ModeSync Mode = "sync"

	// ModeAsync nodes run on their own goroutine, concurrently with other
	// async nodes, bounded by the flow's max in-flight setting. They must
	// watch ctx.Done() at their suspension points to honour cancellation.
	ModeAsync Mode = "async"
)

func (mode Mode) valid() bool {
	return mode == ModeSync || mode == ModeAsync
}

// Node is a unit of work. Run reads prior outputs through handle, does its
// work and returns the value the flow stores under the node's output key, or
// an error.
//
// The handle is only valid for the duration of the call. Writes made through
// it after Run returns are dropped.
//
// Example:
//
//	summarize := flow.NodeFunc(func(ctx context.Context, handle *flow.Handle) (value.Value, error) {
//	    text, err := handle.Require("parse")
//	    if err != nil {
//	        return value.Null(), err
//	    }
//	    ...
//	})
type Node interface {
	Run(ctx context.Context, handle *Handle) (value.Value, error)
}

// NodeFunc adapts an ordinary function to Node. Its mode is ModeSync unless
// overridden with WithMode.
type NodeFunc func(ctx context.Context, handle *Handle) (value.Value, error)

// Run calls the function.
func (nodeFunc NodeFunc) Run(ctx context.Context, handle *Handle) (value.Value, error) {
	return nodeFunc(ctx, handle)
}

// Moded is implemented by nodes that declare their own execution mode.
// WithMode still takes precedence.
type Moded interface {
	Mode() Mode
}

// Sync wraps fn as a node that declares ModeSync.
func Sync(fn NodeFunc) Node {
	return modedNode{NodeFunc: fn, mode: ModeSync}
}

// Async wraps fn as a node that declares ModeAsync.
func Async(fn NodeFunc) Node {
	return modedNode{NodeFunc: fn, mode: ModeAsync}
}

type modedNode struct {
	NodeFunc
	mode Mode
}

func (node modedNode) Mode() Mode { return node.mode }

// modeOf returns the mode a node declares, defaulting to ModeSync.
func modeOf(node Node) Mode {
	if moded, ok := node.(Moded); ok && moded.Mode().valid() {
		return moded.Mode()
	}
	return ModeSync
}
