package flow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/leofalp/agentflow/core/flowerr"
	"github.com/leofalp/agentflow/core/value"
)

// inputWriter labels keys seeded from the run inputs.
const inputWriter = "<input>"

// overwriteFunc is notified when a key written by one party is written again
// by another.
type overwriteFunc func(key, previousWriter, writer string)

// ExecutionContext is the key/value store shared by the nodes of one run.
//
// Keys follow a single-writer rule: two nodes that can run concurrently must
// not write the same key. The rule is not enforced, but every overwrite by a
// different writer is reported to the flow's observers. The last write wins.
type ExecutionContext struct {
	mu          sync.RWMutex
	values      map[string]value.Value
	writers     map[string]string
	onOverwrite overwriteFunc

	// sizes and total are only maintained when limits are active.
	limits  ContextLimits
	sizes   map[string]int
	total   int
	warned  bool
	onLimit limitFunc
}

// NewExecutionContext returns an empty context.
func NewExecutionContext() *ExecutionContext {
	return newLimitedContext(ContextLimits{})
}

func newLimitedContext(limits ContextLimits) *ExecutionContext {
	return &ExecutionContext{
		values:  make(map[string]value.Value),
		writers: make(map[string]string),
		limits:  limits,
		sizes:   make(map[string]int),
	}
}

// Get returns the value stored under key. A missing key is a normal outcome.
func (executionContext *ExecutionContext) Get(key string) (value.Value, bool) {
	executionContext.mu.RLock()
	defer executionContext.mu.RUnlock()

	stored, exists := executionContext.values[key]
	return stored, exists
}

// Set stores item under key, replacing any previous value. Size limits
// count the value but never reject it.
func (executionContext *ExecutionContext) Set(key string, item value.Value) {
	_ = executionContext.store(inputWriter, key, item, false)
}

// Size returns the encoded size of all values in bytes. It is only tracked
// when the run has context limits and is 0 otherwise.
func (executionContext *ExecutionContext) Size() int {
	executionContext.mu.RLock()
	defer executionContext.mu.RUnlock()
	return executionContext.total
}

// Len returns the number of keys.
func (executionContext *ExecutionContext) Len() int {
	executionContext.mu.RLock()
	defer executionContext.mu.RUnlock()
	return len(executionContext.values)
}

// Writer returns the ID of the node that last wrote key.
func (executionContext *ExecutionContext) Writer(key string) (string, bool) {
	executionContext.mu.RLock()
	defer executionContext.mu.RUnlock()

	writer, exists := executionContext.writers[key]
	return writer, exists
}

// Snapshot returns an immutable copy of the current contents.
func (executionContext *ExecutionContext) Snapshot() Snapshot {
	executionContext.mu.RLock()
	defer executionContext.mu.RUnlock()

	copied := make(map[string]value.Value, len(executionContext.values))
	for key, stored := range executionContext.values {
		copied[key] = stored
	}
	return newSnapshot(copied)
}

// set stores a node write. It returns a ResourceLimitExceeded error and
// stores nothing when the write breaks a limit.
func (executionContext *ExecutionContext) set(writer, key string, item value.Value) error {
	return executionContext.store(writer, key, item, true)
}

func (executionContext *ExecutionContext) store(writer, key string, item value.Value, enforce bool) error {
	size := 0
	if executionContext.limits.active() {
		size = encodedSize(item)
	}

	executionContext.mu.Lock()
	total := executionContext.total - executionContext.sizes[key] + size
	notifyLimit := executionContext.onLimit

	if enforce {
		if breach, broken := executionContext.limits.check(writer, key, size, total); broken {
			executionContext.mu.Unlock()
			if notifyLimit != nil {
				notifyLimit(*breach)
			}
			return breach.err
		}
	}

	previousWriter, overwritten := executionContext.writers[key]
	executionContext.values[key] = item
	executionContext.writers[key] = writer
	executionContext.sizes[key] = size
	executionContext.total = total

	warn := enforce && !executionContext.warned && executionContext.limits.warns(total)
	if warn {
		executionContext.warned = true
	}
	notifyOverwrite := executionContext.onOverwrite
	executionContext.mu.Unlock()

	if overwritten && previousWriter != writer && notifyOverwrite != nil {
		notifyOverwrite(key, previousWriter, writer)
	}
	if warn && notifyLimit != nil {
		notifyLimit(limitNotice{writer: writer, key: key, reason: LimitStateWarning, size: total})
	}
	return nil
}

// --- Handle ---

// Handle is a node's scoped view of the execution context. It is closed as
// soon as the node's invocation ends; later writes are dropped and reads
// return nothing.
type Handle struct {
	nodeID  string
	context *ExecutionContext

	// mu makes close wait for writes already in progress.
	mu     sync.RWMutex
	closed bool

	// rejected is the first write refused by a context limit.
	rejectedMu sync.Mutex
	rejected   error
}

func newHandle(nodeID string, executionContext *ExecutionContext) *Handle {
	return &Handle{nodeID: nodeID, context: executionContext}
}

// NodeID returns the ID of the node the handle was issued to.
func (handle *Handle) NodeID() string {
	return handle.nodeID
}

// Get returns the value stored under key.
func (handle *Handle) Get(key string) (value.Value, bool) {
	if handle.Closed() {
		return value.Null(), false
	}
	return handle.context.Get(key)
}

// Require returns the value stored under key, or a MissingDependencyOutput
// error naming this node.
func (handle *Handle) Require(key string) (value.Value, error) {
	stored, exists := handle.Get(key)
	if !exists {
		return value.Null(), flowerr.MissingDependencyOutput(handle.nodeID, key)
	}
	return stored, nil
}

// RequireText returns the text stored under key.
func (handle *Handle) RequireText(key string) (string, error) {
	stored, err := handle.Require(key)
	if err != nil {
		return "", err
	}
	text, err := stored.AsText()
	if err != nil {
		return "", &flowerr.Error{
			Kind:    flowerr.KindTypeMismatch,
			NodeID:  handle.nodeID,
			Message: fmt.Sprintf("context key %q", key),
			Err:     err,
		}
	}
	return text, nil
}

// Set writes an extra key in addition to the node's declared output. It
// reports false when the write was dropped: either the handle is already
// closed, or the value breaks a context size limit. A write refused by a
// limit fails the node once it returns.
func (handle *Handle) Set(key string, item value.Value) bool {
	handle.mu.RLock()
	defer handle.mu.RUnlock()

	if handle.closed {
		return false
	}
	if err := handle.context.set(handle.nodeID, key, item); err != nil {
		handle.rejectedMu.Lock()
		if handle.rejected == nil {
			handle.rejected = err
		}
		handle.rejectedMu.Unlock()
		return false
	}
	return true
}

func (handle *Handle) rejection() error {
	handle.rejectedMu.Lock()
	defer handle.rejectedMu.Unlock()
	return handle.rejected
}

// Snapshot returns an immutable copy of the context.
func (handle *Handle) Snapshot() Snapshot {
	return handle.context.Snapshot()
}

// Closed reports whether the node's invocation has ended.
func (handle *Handle) Closed() bool {
	handle.mu.RLock()
	defer handle.mu.RUnlock()
	return handle.closed
}

func (handle *Handle) close() {
	handle.mu.Lock()
	defer handle.mu.Unlock()
	handle.closed = true
}

type handleContextKey struct{}

// HandleFromContext returns the handle of the node currently executing on
// ctx, or nil. It lets helpers deep in a node's call tree reach the context.
func HandleFromContext(ctx context.Context) *Handle {
	handle, _ := ctx.Value(handleContextKey{}).(*Handle)
	return handle
}

func contextWithHandle(ctx context.Context, handle *Handle) context.Context {
	return context.WithValue(ctx, handleContextKey{}, handle)
}

// --- Snapshot ---

// Snapshot is an immutable copy of an execution context. Its JSON form is a
// mapping with sorted keys, encoded with the lossless value codec.
type Snapshot struct {
	values map[string]value.Value
	keys   []string
}

func newSnapshot(values map[string]value.Value) Snapshot {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return Snapshot{values: values, keys: keys}
}

// Get returns the value stored under key.
func (snapshot Snapshot) Get(key string) (value.Value, bool) {
	stored, exists := snapshot.values[key]
	return stored, exists
}

// Keys returns the keys in sorted order.
func (snapshot Snapshot) Keys() []string {
	keys := make([]string, len(snapshot.keys))
	copy(keys, snapshot.keys)
	return keys
}

// Len returns the number of keys.
func (snapshot Snapshot) Len() int {
	return len(snapshot.keys)
}

// Value returns the snapshot as a mapping with sorted keys.
func (snapshot Snapshot) Value() value.Value {
	entries := make([]value.Entry, 0, len(snapshot.keys))
	for _, key := range snapshot.keys {
		entries = append(entries, value.Pair(key, snapshot.values[key]))
	}
	return value.Map(entries...)
}

// MarshalJSON encodes the snapshot deterministically.
func (snapshot Snapshot) MarshalJSON() ([]byte, error) {
	return snapshot.Value().MarshalJSON()
}

// UnmarshalJSON decodes a snapshot produced by MarshalJSON.
func (snapshot *Snapshot) UnmarshalJSON(data []byte) error {
	parsed, err := ParseSnapshot(data)
	if err != nil {
		return err
	}
	*snapshot = parsed
	return nil
}

// ParseSnapshot decodes a snapshot produced by MarshalJSON.
func ParseSnapshot(data []byte) (Snapshot, error) {
	decoded, err := value.ParseJSON(data)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse snapshot: %w", err)
	}

	entries, err := decoded.AsMapping()
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse snapshot: %w", err)
	}

	values := make(map[string]value.Value, len(entries))
	for _, entry := range entries {
		values[entry.Key] = entry.Value
	}
	return newSnapshot(values), nil
}
