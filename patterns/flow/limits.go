package flow

import (
	"github.com/leofalp/agentflow/core/flowerr"
	"github.com/leofalp/agentflow/core/value"
)

// Limit names reported as the Reason of a ContextLimit event.
const (
	LimitValueSize    = "value_size"
	LimitStateSize    = "state_size"
	LimitStateWarning = "state_warning"
)

// ContextLimits caps the memory a run's execution context may hold. Sizes
// are measured in bytes of a value's JSON encoding. Zero fields mean no
// limit.
//
// A node write that breaks a limit is rejected and fails the writing node
// with a ResourceLimitExceeded error. Run inputs are counted but never
// rejected.
type ContextLimits struct {
	// MaxValueSize bounds a single value.
	MaxValueSize int

	// MaxStateSize bounds the sum over all keys.
	MaxStateSize int

	// WarnFraction emits one state_warning event per run the first time a
	// node write brings the context to WarnFraction * MaxStateSize.
	WarnFraction float64
}

func (limits ContextLimits) active() bool {
	return limits.MaxValueSize > 0 || limits.MaxStateSize > 0
}

// check returns the limit a write breaks, if any. size is the new value's
// size and total the context size after the write.
func (limits ContextLimits) check(writer, key string, size, total int) (*limitNotice, bool) {
	switch {
	case limits.MaxValueSize > 0 && size > limits.MaxValueSize:
		return &limitNotice{
			writer: writer,
			key:    key,
			reason: LimitValueSize,
			size:   size,
			err:    flowerr.ResourceLimitExceeded(writer, key, "value size", size, limits.MaxValueSize),
		}, true
	case limits.MaxStateSize > 0 && total > limits.MaxStateSize:
		return &limitNotice{
			writer: writer,
			key:    key,
			reason: LimitStateSize,
			size:   total,
			err:    flowerr.ResourceLimitExceeded(writer, key, "context size", total, limits.MaxStateSize),
		}, true
	}
	return nil, false
}

func (limits ContextLimits) warns(total int) bool {
	if limits.WarnFraction <= 0 || limits.MaxStateSize <= 0 {
		return false
	}
	return float64(total) >= limits.WarnFraction*float64(limits.MaxStateSize)
}

// limitNotice describes a write that broke or approached a limit. err is
// nil for a warning.
type limitNotice struct {
	writer string
	key    string
	reason string
	size   int
	err    *flowerr.Error
}

type limitFunc func(notice limitNotice)

// encodedSize is the length of the value's JSON encoding.
func encodedSize(item value.Value) int {
	encoded, err := item.MarshalJSON()
	if err != nil {
		return len(item.String())
	}
	return len(encoded)
}
