package value

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Reserved single-key object tags of the interchange format.
const (
	tagBinary = "$binary"
	tagFloat  = "$float"
	tagText   = "$text"
	tagMap    = "$map"
)

func isReservedTag(key string) bool {
	switch key {
	case tagBinary, tagFloat, tagText, tagMap:
		return true
	default:
		return false
	}
}

// MarshalJSON encodes the value losslessly (see the package documentation).
func (item Value) MarshalJSON() ([]byte, error) {
	var buffer bytes.Buffer
	if err := encodeValue(&buffer, item); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// UnmarshalJSON decodes the interchange format into the receiver.
func (item *Value) UnmarshalJSON(data []byte) error {
	decoded, err := ParseJSON(data)
	if err != nil {
		return err
	}
	*item = decoded
	return nil
}

// ParseJSON decodes a single value in the interchange format. Plain JSON is
// accepted too: integer literals become ints, other numbers become floats.
func ParseJSON(data []byte) (Value, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	node, err := decodeRaw(decoder)
	if err != nil {
		return Value{}, fmt.Errorf("decode flow value: %w", err)
	}

	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return Value{}, fmt.Errorf("decode flow value: trailing data after value")
	}

	decoded, err := resolve(node)
	if err != nil {
		return Value{}, fmt.Errorf("decode flow value: %w", err)
	}

	return decoded, nil
}

// --- Encoding ---

func encodeValue(buffer *bytes.Buffer, item Value) error {
	switch item.kind {
	case KindNull:
		buffer.WriteString("null")
	case KindBool:
		buffer.WriteString(strconv.FormatBool(item.boolean))
	case KindInt:
		buffer.WriteString(strconv.FormatInt(item.integer, 10))
	case KindFloat:
		encodeFloat(buffer, item.float)
	case KindText:
		if !utf8.ValidString(item.text) {
			return encodeTagged(buffer, tagText, base64.StdEncoding.EncodeToString([]byte(item.text)))
		}
		return encodeString(buffer, item.text)
	case KindBinary:
		return encodeTagged(buffer, tagBinary, base64.StdEncoding.EncodeToString([]byte(item.text)))
	case KindSequence:
		buffer.WriteByte('[')
		for position, element := range item.items {
			if position > 0 {
				buffer.WriteByte(',')
			}
			if err := encodeValue(buffer, element); err != nil {
				return err
			}
		}
		buffer.WriteByte(']')
	case KindMapping:
		wrapped := len(item.entries) == 1 && isReservedTag(item.entries[0].Key)
		if wrapped {
			buffer.WriteString(`{"` + tagMap + `":`)
		}
		if err := encodeEntries(buffer, item.entries); err != nil {
			return err
		}
		if wrapped {
			buffer.WriteByte('}')
		}
	default:
		return fmt.Errorf("cannot encode unknown kind %d", item.kind)
	}
	return nil
}

func encodeEntries(buffer *bytes.Buffer, entries []Entry) error {
	buffer.WriteByte('{')
	for position, entry := range entries {
		if position > 0 {
			buffer.WriteByte(',')
		}
		if err := encodeString(buffer, entry.Key); err != nil {
			return err
		}
		buffer.WriteByte(':')
		if err := encodeValue(buffer, entry.Value); err != nil {
			return err
		}
	}
	buffer.WriteByte('}')
	return nil
}

func encodeFloat(buffer *bytes.Buffer, float float64) {
	switch {
	case math.IsNaN(float):
		_ = encodeTagged(buffer, tagFloat, "NaN")
		return
	case math.IsInf(float, 1):
		_ = encodeTagged(buffer, tagFloat, "+Inf")
		return
	case math.IsInf(float, -1):
		_ = encodeTagged(buffer, tagFloat, "-Inf")
		return
	}

	literal := strconv.FormatFloat(float, 'g', -1, 64)
	if !strings.ContainsAny(literal, ".e") {
		literal += ".0"
	}
	buffer.WriteString(literal)
}

func encodeTagged(buffer *bytes.Buffer, tag, payload string) error {
	buffer.WriteString(`{"` + tag + `":`)
	if err := encodeString(buffer, payload); err != nil {
		return err
	}
	buffer.WriteByte('}')
	return nil
}

func encodeString(buffer *bytes.Buffer, text string) error {
	encoded, err := json.Marshal(text)
	if err != nil {
		return err
	}
	buffer.Write(encoded)
	return nil
}

// --- Decoding ---
//
// Decoding runs in two passes: the JSON tokens are first read into a raw
// tree that keeps object key order, then the tree is resolved into Values.
// Resolution needs the whole object to tell a tag apart from an ordinary
// key, which a single streaming pass cannot know.

type rawEntry struct {
	key  string
	node any
}

// rawObject is a JSON object in source order.
type rawObject []rawEntry

// rawSequence is a JSON array whose elements are raw nodes.
type rawSequence []any

func decodeRaw(decoder *json.Decoder) (any, error) {
	token, err := decoder.Token()
	if err != nil {
		return nil, err
	}

	switch typed := token.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(typed), nil
	case string:
		return Text(typed), nil
	case json.Number:
		return decodeNumber(typed)
	case json.Delim:
		switch typed {
		case '[':
			return decodeRawSequence(decoder)
		case '{':
			return decodeRawObject(decoder)
		}
	}
	return nil, fmt.Errorf("unexpected token %v", token)
}

func decodeRawSequence(decoder *json.Decoder) (rawSequence, error) {
	items := make(rawSequence, 0)
	for decoder.More() {
		element, err := decodeRaw(decoder)
		if err != nil {
			return nil, err
		}
		items = append(items, element)
	}
	if _, err := decoder.Token(); err != nil {
		return nil, err
	}
	return items, nil
}

func decodeRawObject(decoder *json.Decoder) (rawObject, error) {
	entries := make(rawObject, 0)
	for decoder.More() {
		keyToken, err := decoder.Token()
		if err != nil {
			return nil, err
		}
		key, isString := keyToken.(string)
		if !isString {
			return nil, fmt.Errorf("object key must be a string, got %v", keyToken)
		}
		element, err := decodeRaw(decoder)
		if err != nil {
			return nil, err
		}
		entries = append(entries, rawEntry{key: key, node: element})
	}
	if _, err := decoder.Token(); err != nil {
		return nil, err
	}
	return entries, nil
}

func decodeNumber(number json.Number) (Value, error) {
	literal := number.String()
	if !strings.ContainsAny(literal, ".eE") {
		if integer, err := strconv.ParseInt(literal, 10, 64); err == nil {
			return Int(integer), nil
		}
	}
	float, err := strconv.ParseFloat(literal, 64)
	if err != nil {
		return Value{}, fmt.Errorf("invalid number %q: %w", literal, err)
	}
	return Float(float), nil
}

func resolve(node any) (Value, error) {
	switch typed := node.(type) {
	case Value:
		return typed, nil
	case rawSequence:
		items := make([]Value, len(typed))
		for position, element := range typed {
			resolved, err := resolve(element)
			if err != nil {
				return Value{}, err
			}
			items[position] = resolved
		}
		return Value{kind: KindSequence, items: items}, nil
	case rawObject:
		return resolveObject(typed)
	default:
		return Value{}, fmt.Errorf("unexpected node %T", node)
	}
}

// resolveObject turns a decoded JSON object into either a tagged scalar, an
// escaped mapping, or a plain mapping.
func resolveObject(object rawObject) (Value, error) {
	if len(object) != 1 || !isReservedTag(object[0].key) {
		return resolveEntries(object)
	}

	tag, node := object[0].key, object[0].node
	if tag == tagMap {
		payload, isObject := node.(rawObject)
		if !isObject {
			return Value{}, fmt.Errorf("%s payload must be an object", tagMap)
		}
		// The payload keys are taken literally, even when they look like tags.
		return resolveEntries(payload)
	}

	payload, isValue := node.(Value)
	if !isValue {
		return Value{}, fmt.Errorf("%s payload must be text", tag)
	}
	encoded, err := payload.AsText()
	if err != nil {
		return Value{}, fmt.Errorf("%s payload: %w", tag, err)
	}

	switch tag {
	case tagBinary:
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return Value{}, fmt.Errorf("%s payload: %w", tag, err)
		}
		return Binary(raw), nil
	case tagText:
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return Value{}, fmt.Errorf("%s payload: %w", tag, err)
		}
		return Text(string(raw)), nil
	default:
		switch encoded {
		case "NaN":
			return Float(math.NaN()), nil
		case "+Inf":
			return Float(math.Inf(1)), nil
		case "-Inf":
			return Float(math.Inf(-1)), nil
		}
		return Value{}, fmt.Errorf("%s payload: unsupported literal %q", tag, encoded)
	}
}

func resolveEntries(object rawObject) (Value, error) {
	entries := make([]Entry, len(object))
	for position, entry := range object {
		resolved, err := resolve(entry.node)
		if err != nil {
			return Value{}, fmt.Errorf("key %q: %w", entry.key, err)
		}
		entries[position] = Pair(entry.key, resolved)
	}
	return Map(entries...), nil
}
