// Package flowerr defines the failure vocabulary shared by values, nodes and
// flows. Every fallible operation in agentflow returns a plain Go error; when
// the failure belongs to the taxonomy it is a [*Error] carrying a [Kind], the
// originating node ID (if any) and a human-readable message.
//
// Callers match kinds with [errors.Is] against the package sentinels:
//
//	if errors.Is(err, flowerr.ErrTimeout) {
//	    // the node (or the run) exceeded its deadline
//	}
//
// and extract details with [errors.As] or the [KindOf] / [NodeOf] helpers.
package flowerr
