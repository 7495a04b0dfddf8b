package value

import (
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ParseLenient decodes model-generated text into a Value. Language models
// often wrap JSON in markdown fences, emit single quotes or trailing commas,
// or echo schema envelopes such as {"type":"string","value":"x"}. The
// recovery is layered:
//
//  1. markdown code fences are stripped;
//  2. the text is decoded with [ParseJSON];
//  3. on failure it is repaired with jsonrepair and decoded again;
//  4. {"type": ..., "value": ...} envelopes are unwrapped recursively.
//
// Example:
//
//	output, err := value.ParseLenient("```json\n{name: 'Ada', tags: ['x',]}\n```")
//	// output is {"name":"Ada","tags":["x"]}
func ParseLenient(content string) (Value, error) {
	candidate := stripCodeFence(strings.TrimSpace(content))
	if candidate == "" {
		return Value{}, fmt.Errorf("parse lenient: empty content")
	}

	parsed, err := ParseJSON([]byte(candidate))
	if err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(candidate)
		if repairErr != nil {
			return Value{}, fmt.Errorf("parse lenient: decode error: %w, repair error: %v", err, repairErr)
		}

		parsed, err = ParseJSON([]byte(repaired))
		if err != nil {
			return Value{}, fmt.Errorf("parse lenient: repaired content still invalid: %w", err)
		}
	}

	return unwrapEnvelopes(parsed), nil
}

// stripCodeFence removes a surrounding ``` or ```json fence.
func stripCodeFence(content string) string {
	if !strings.HasPrefix(content, "```") {
		return content
	}

	body := strings.TrimPrefix(content, "```")
	if newline := strings.IndexByte(body, '\n'); newline >= 0 {
		// Drop the language hint on the opening line.
		body = body[newline+1:]
	}
	body = strings.TrimSpace(body)
	body = strings.TrimSuffix(body, "```")
	return strings.TrimSpace(body)
}

// unwrapEnvelopes replaces every two-key mapping of the shape
// {"type": <text>, "value": X} with X.
func unwrapEnvelopes(item Value) Value {
	switch item.kind {
	case KindSequence:
		items := make([]Value, len(item.items))
		for position, element := range item.items {
			items[position] = unwrapEnvelopes(element)
		}
		return Value{kind: KindSequence, items: items}

	case KindMapping:
		if len(item.entries) == 2 {
			typeTag, hasType, _ := item.Lookup("type")
			wrapped, hasValue, _ := item.Lookup("value")
			if hasType && hasValue && typeTag.kind == KindText {
				return unwrapEnvelopes(wrapped)
			}
		}

		entries := make([]Entry, len(item.entries))
		for position, entry := range item.entries {
			entries[position] = Pair(entry.Key, unwrapEnvelopes(entry.Value))
		}
		return Map(entries...)

	default:
		return item
	}
}
