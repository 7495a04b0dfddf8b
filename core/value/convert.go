package value

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"

	"github.com/leofalp/agentflow/core/flowerr"
)

// FromAny converts Go-native data (as produced by encoding/json, yaml.v3 or
// hand-written literals) into a Value. Map keys are sorted to keep the
// resulting mapping order deterministic.
//
// Supported inputs: nil, bool, all integer and float kinds, string, []byte,
// json.Number, Value, slices and arrays, and maps keyed by string.
func FromAny(input any) (Value, error) {
	switch typed := input.(type) {
	case nil:
		return Null(), nil
	case Value:
		return typed, nil
	case bool:
		return Bool(typed), nil
	case string:
		return Text(typed), nil
	case []byte:
		return Binary(typed), nil
	case int:
		return Int(int64(typed)), nil
	case int8:
		return Int(int64(typed)), nil
	case int16:
		return Int(int64(typed)), nil
	case int32:
		return Int(int64(typed)), nil
	case int64:
		return Int(typed), nil
	case uint:
		return fromUnsigned(uint64(typed))
	case uint8:
		return Int(int64(typed)), nil
	case uint16:
		return Int(int64(typed)), nil
	case uint32:
		return Int(int64(typed)), nil
	case uint64:
		return fromUnsigned(typed)
	case float32:
		return Float(float64(typed)), nil
	case float64:
		return Float(typed), nil
	case json.Number:
		return decodeNumber(typed)
	case []any:
		return fromSlice(reflect.ValueOf(typed))
	case map[string]any:
		return fromMap(reflect.ValueOf(typed))
	}

	reflected := reflect.ValueOf(input)
	switch reflected.Kind() {
	case reflect.Slice, reflect.Array:
		return fromSlice(reflected)
	case reflect.Map:
		if reflected.Type().Key().Kind() == reflect.String {
			return fromMap(reflected)
		}
	case reflect.Pointer:
		if reflected.IsNil() {
			return Null(), nil
		}
		return FromAny(reflected.Elem().Interface())
	}

	return Value{}, flowerr.TypeMismatch("flow-compatible value", fmt.Sprintf("%T", input))
}

func fromUnsigned(unsigned uint64) (Value, error) {
	if unsigned > math.MaxInt64 {
		return Value{}, fmt.Errorf("unsigned integer %d overflows int64", unsigned)
	}
	return Int(int64(unsigned)), nil
}

func fromSlice(reflected reflect.Value) (Value, error) {
	items := make([]Value, reflected.Len())
	for position := range items {
		element, err := FromAny(reflected.Index(position).Interface())
		if err != nil {
			return Value{}, fmt.Errorf("element %d: %w", position, err)
		}
		items[position] = element
	}
	return Value{kind: KindSequence, items: items}, nil
}

func fromMap(reflected reflect.Value) (Value, error) {
	keys := make([]string, 0, reflected.Len())
	for _, key := range reflected.MapKeys() {
		keys = append(keys, key.String())
	}
	sort.Strings(keys)

	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		element, err := FromAny(reflected.MapIndex(reflect.ValueOf(key).Convert(reflected.Type().Key())).Interface())
		if err != nil {
			return Value{}, fmt.Errorf("key %q: %w", key, err)
		}
		entries = append(entries, Pair(key, element))
	}
	return Map(entries...), nil
}

// Any converts the value into Go-native data: nil, bool, int64, float64,
// string, []byte, []any or map[string]any. Mapping order is lost.
func (item Value) Any() any {
	switch item.kind {
	case KindBool:
		return item.boolean
	case KindInt:
		return item.integer
	case KindFloat:
		return item.float
	case KindText:
		return item.text
	case KindBinary:
		return []byte(item.text)
	case KindSequence:
		items := make([]any, len(item.items))
		for position, element := range item.items {
			items[position] = element.Any()
		}
		return items
	case KindMapping:
		entries := make(map[string]any, len(item.entries))
		for _, entry := range item.entries {
			entries[entry.Key] = entry.Value.Any()
		}
		return entries
	default:
		return nil
	}
}

// Decode converts the value into T through its Go-native form and
// encoding/json, so struct tags apply. Shape mismatches are reported as
// TypeMismatch errors.
//
// Example:
//
//	type Summary struct {
//	    Title string   `json:"title"`
//	    Tags  []string `json:"tags"`
//	}
//
//	summary, err := value.Decode[Summary](output)
func Decode[T any](item Value) (T, error) {
	var result T

	encoded, err := json.Marshal(item.Any())
	if err != nil {
		return result, fmt.Errorf("decode %s as %T: %w", item.kind, result, err)
	}

	if err := json.Unmarshal(encoded, &result); err != nil {
		return result, &flowerr.Error{
			Kind:    flowerr.KindTypeMismatch,
			Message: fmt.Sprintf("cannot decode %s as %T", item.kind, result),
			Err:     err,
		}
	}

	return result, nil
}
