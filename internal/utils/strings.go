package utils

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// DefaultMaxStringLength is used by Truncate when limit is not positive.
const DefaultMaxStringLength = 500

// JSONToString renders object as JSON, indented with two spaces when indent
// is true. A marshalling failure is rendered as a JSON error object so the
// result is always safe to print.
func JSONToString(object any, indent bool) string {
	var encoded []byte
	var err error
	if indent {
		encoded, err = json.MarshalIndent(object, "", "  ")
	} else {
		encoded, err = json.Marshal(object)
	}
	if err != nil {
		failure, _ := json.Marshal(map[string]string{"error": "failed to marshal to JSON: " + err.Error()})
		return string(failure)
	}
	return string(encoded)
}

// Truncate shortens text to at most limit runes and records how many were
// dropped. It never splits a multi-byte character.
func Truncate(text string, limit int) string {
	if limit <= 0 {
		limit = DefaultMaxStringLength
	}

	total := utf8.RuneCountInString(text)
	if total <= limit {
		return text
	}

	cut := 0
	for index := 0; index < limit; index++ {
		_, size := utf8.DecodeRuneInString(text[cut:])
		cut += size
	}
	return fmt.Sprintf("%s... (%d more chars)", text[:cut], total-limit)
}
