package value

import (
	"fmt"
	"math"

	"github.com/leofalp/agentflow/core/flowerr"
)

// Kind identifies the variant stored in a Value.
type Kind uint8

const (
	// KindNull is the explicit "absent" marker and the zero Value.
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindText
	KindBinary
	KindSequence
	KindMapping
)

var kindNames = [...]string{
	KindNull:     "null",
	KindBool:     "bool",
	KindInt:      "int",
	KindFloat:    "float",
	KindText:     "text",
	KindBinary:   "binary",
	KindSequence: "sequence",
	KindMapping:  "mapping",
}

// String returns the lower-case variant name.
func (kind Kind) String() string {
	if int(kind) < len(kindNames) {
		return kindNames[kind]
	}
	return fmt.Sprintf("kind(%d)", uint8(kind))
}

// Entry is one key/value pair of a mapping.
type Entry struct {
	Key   string
	Value Value
}

// Pair is a shorthand constructor for Entry.
func Pair(key string, item Value) Entry {
	return Entry{Key: key, Value: item}
}

// Value is an immutable FlowValue. The zero Value is null.
//
// Binary payloads are held as strings so that the bytes cannot be mutated
// through an aliased slice after construction.
type Value struct {
	kind    Kind
	boolean bool
	integer int64
	float   float64
	text    string
	items   []Value
	entries []Entry
	index   map[string]int
}

// --- Constructors ---

// Null returns the absent marker.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(boolean bool) Value { return Value{kind: KindBool, boolean: boolean} }

// Int wraps a signed 64-bit integer.
func Int(integer int64) Value { return Value{kind: KindInt, integer: integer} }

// Float wraps a 64-bit float. NaN and infinities are allowed.
func Float(float float64) Value { return Value{kind: KindFloat, float: float} }

// Text wraps a string.
func Text(text string) Value { return Value{kind: KindText, text: text} }

// Binary copies raw bytes into a new binary value.
func Binary(data []byte) Value { return Value{kind: KindBinary, text: string(data)} }

// Sequence builds an ordered list. The argument slice is copied.
func Sequence(items ...Value) Value {
	copied := make([]Value, len(items))
	copy(copied, items)
	return Value{kind: KindSequence, items: copied}
}

// Map builds a mapping in argument order. When a key repeats, the later
// value replaces the earlier one but keeps its original position.
func Map(entries ...Entry) Value {
	ordered := make([]Entry, 0, len(entries))
	index := make(map[string]int, len(entries))

	for _, entry := range entries {
		if position, exists := index[entry.Key]; exists {
			ordered[position].Value = entry.Value
			continue
		}
		index[entry.Key] = len(ordered)
		ordered = append(ordered, entry)
	}

	return Value{kind: KindMapping, entries: ordered, index: index}
}

// --- Inspection ---

// Kind returns the stored variant.
func (item Value) Kind() Kind { return item.kind }

// IsNull reports whether the value is the absent marker.
func (item Value) IsNull() bool { return item.kind == KindNull }

// Len returns the number of elements of a sequence or mapping, the byte
// length of text and binary, and 0 for scalars.
func (item Value) Len() int {
	switch item.kind {
	case KindSequence:
		return len(item.items)
	case KindMapping:
		return len(item.entries)
	case KindText, KindBinary:
		return len(item.text)
	default:
		return 0
	}
}

func (item Value) mismatch(want Kind) error {
	return flowerr.TypeMismatch(want.String(), item.kind.String())
}

// --- Strict accessors ---

// AsBool returns the boolean or a TypeMismatch error.
func (item Value) AsBool() (bool, error) {
	if item.kind != KindBool {
		return false, item.mismatch(KindBool)
	}
	return item.boolean, nil
}

// AsInt returns the integer or a TypeMismatch error. Floats are not converted.
func (item Value) AsInt() (int64, error) {
	if item.kind != KindInt {
		return 0, item.mismatch(KindInt)
	}
	return item.integer, nil
}

// AsFloat returns the float or a TypeMismatch error. Ints are not converted.
func (item Value) AsFloat() (float64, error) {
	if item.kind != KindFloat {
		return 0, item.mismatch(KindFloat)
	}
	return item.float, nil
}

// AsText returns the string or a TypeMismatch error.
func (item Value) AsText() (string, error) {
	if item.kind != KindText {
		return "", item.mismatch(KindText)
	}
	return item.text, nil
}

// AsBinary returns a fresh copy of the bytes or a TypeMismatch error.
func (item Value) AsBinary() ([]byte, error) {
	if item.kind != KindBinary {
		return nil, item.mismatch(KindBinary)
	}
	return []byte(item.text), nil
}

// AsSequence returns a copy of the elements or a TypeMismatch error.
func (item Value) AsSequence() ([]Value, error) {
	if item.kind != KindSequence {
		return nil, item.mismatch(KindSequence)
	}
	copied := make([]Value, len(item.items))
	copy(copied, item.items)
	return copied, nil
}

// AsMapping returns a copy of the entries, in insertion order, or a
// TypeMismatch error.
func (item Value) AsMapping() ([]Entry, error) {
	if item.kind != KindMapping {
		return nil, item.mismatch(KindMapping)
	}
	copied := make([]Entry, len(item.entries))
	copy(copied, item.entries)
	return copied, nil
}

// Keys returns the mapping keys in insertion order.
func (item Value) Keys() ([]string, error) {
	if item.kind != KindMapping {
		return nil, item.mismatch(KindMapping)
	}
	keys := make([]string, len(item.entries))
	for position, entry := range item.entries {
		keys[position] = entry.Key
	}
	return keys, nil
}

// Lookup returns the value stored under key. A missing key is not an error.
func (item Value) Lookup(key string) (Value, bool, error) {
	if item.kind != KindMapping {
		return Value{}, false, item.mismatch(KindMapping)
	}
	position, exists := item.index[key]
	if !exists {
		return Value{}, false, nil
	}
	return item.entries[position].Value, true, nil
}

// Index returns the element at position.
func (item Value) Index(position int) (Value, error) {
	if item.kind != KindSequence {
		return Value{}, item.mismatch(KindSequence)
	}
	if position < 0 || position >= len(item.items) {
		return Value{}, fmt.Errorf("index %d out of range [0,%d)", position, len(item.items))
	}
	return item.items[position], nil
}

// --- Persistent updates ---

// With returns a new mapping with key set to replacement. The receiver is
// left untouched.
func (item Value) With(key string, replacement Value) (Value, error) {
	if item.kind != KindMapping {
		return Value{}, item.mismatch(KindMapping)
	}
	entries := make([]Entry, len(item.entries), len(item.entries)+1)
	copy(entries, item.entries)
	return Map(append(entries, Pair(key, replacement))...), nil
}

// Append returns a new sequence with extra appended. The receiver is left
// untouched.
func (item Value) Append(extra ...Value) (Value, error) {
	if item.kind != KindSequence {
		return Value{}, item.mismatch(KindSequence)
	}
	items := make([]Value, 0, len(item.items)+len(extra))
	items = append(items, item.items...)
	items = append(items, extra...)
	return Value{kind: KindSequence, items: items}, nil
}

// --- Equality ---

// Equal reports structural equality. Variants must match exactly (Int(1) is
// not equal to Float(1)); NaN equals NaN; mappings compare as key sets.
func (item Value) Equal(other Value) bool {
	if item.kind != other.kind {
		return false
	}

	switch item.kind {
	case KindNull:
		return true
	case KindBool:
		return item.boolean == other.boolean
	case KindInt:
		return item.integer == other.integer
	case KindFloat:
		if math.IsNaN(item.float) && math.IsNaN(other.float) {
			return true
		}
		return item.float == other.float
	case KindText, KindBinary:
		return item.text == other.text
	case KindSequence:
		if len(item.items) != len(other.items) {
			return false
		}
		for position := range item.items {
			if !item.items[position].Equal(other.items[position]) {
				return false
			}
		}
		return true
	case KindMapping:
		if len(item.entries) != len(other.entries) {
			return false
		}
		for _, entry := range item.entries {
			otherValue, exists, _ := other.Lookup(entry.Key)
			if !exists || !entry.Value.Equal(otherValue) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// String renders the value in its interchange form, for logs and debugging.
func (item Value) String() string {
	encoded, err := item.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<%s: %v>", item.kind, err)
	}
	return string(encoded)
}
