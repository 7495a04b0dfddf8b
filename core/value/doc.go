// Package value implements FlowValue, the immutable tagged union exchanged
// between nodes of a flow.
//
// A [Value] is one of: null, bool, int (signed 64-bit), float (64-bit),
// text, binary, sequence (ordered list of values) or mapping (unique keys,
// insertion order preserved). The zero Value is null. Values are never
// edited in place: every "update" ([Value.With], [Value.Append]) returns a
// new Value, so concurrent readers of the same value can never observe a
// partial write.
//
// Accessors are strict. Reading an int as a float, or text as binary, fails
// with a [flowerr.KindTypeMismatch] error instead of coercing.
//
// # Interchange format
//
// [Value.MarshalJSON] and [ParseJSON] round-trip every variant exactly:
//
//	null, true/false, "text"         plain JSON
//	42                               int: integer literal
//	42.0, 1e+21                      float: always carries '.' or an exponent
//	{"$float":"NaN"}                 non-finite float
//	{"$binary":"AAEC"}               binary (standard base64)
//	{"$text":"..."}                  text that is not valid UTF-8 (base64)
//	[ ... ]                          sequence
//	{ "k": ..., ... }                mapping, insertion order kept
//	{"$map":{"$binary":...}}         mapping whose only key is a reserved tag
//
// [ParseLenient] is the forgiving entry point for model-generated text: it
// strips markdown fences and repairs malformed JSON before decoding.
package value
