package value

import (
	"math"
	"strings"
	"testing"
)

func TestCodec_RoundTrip(testCase *testing.T) {
	testCases := []struct {
		name string
		item Value
	}{
		{"null", Null()},
		{"true", Bool(true)},
		{"empty sequence", Sequence()},
		{"empty mapping", Map()},
		{"max int", Int(math.MaxInt64)},
		{"min int", Int(math.MinInt64)},
		{"whole float", Float(3)},
		{"large float", Float(1e21)},
		{"smallest float", Float(math.SmallestNonzeroFloat64)},
		{"max float", Float(math.MaxFloat64)},
		{"nan", Float(math.NaN())},
		{"positive infinity", Float(math.Inf(1))},
		{"negative infinity", Float(math.Inf(-1))},
		{"text", Text("héllo \"world\"\n")},
		{"invalid utf8 text", Text(string([]byte{0xff, 0xfe, 'a'}))},
		{"binary", Binary([]byte{0, 1, 2, 255})},
		{"empty binary", Binary(nil)},
		{"sequence of mappings", Sequence(
			Map(Pair("id", Int(1)), Pair("tags", Sequence(Text("a"), Text("b")))),
			Map(),
			Map(Pair("nested", Map(Pair("deep", Sequence(Null(), Float(0.5)))))),
		)},
		{"mapping with reserved key", Map(Pair("$binary", Text("not base64")))},
		{"mapping with map key", Map(Pair("$map", Map(Pair("$float", Text("x")))))},
		{"reserved key among others", Map(Pair("$binary", Text("x")), Pair("other", Int(1)))},
		{"reserved key holding tagged value", Map(Pair("$map", Binary([]byte("x"))), Pair("other", Int(1)))},
	}

	for _, tc := range testCases {
		testCase.Run(tc.name, func(t *testing.T) {
			encoded, err := tc.item.MarshalJSON()
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}

			decoded, err := ParseJSON(encoded)
			if err != nil {
				t.Fatalf("parse %s: %v", encoded, err)
			}

			if decoded.Kind() != tc.item.Kind() {
				t.Fatalf("kind changed: %s -> %s (%s)", tc.item.Kind(), decoded.Kind(), encoded)
			}
			if !decoded.Equal(tc.item) {
				t.Errorf("round trip mismatch: %s", encoded)
			}
		})
	}
}

func TestCodec_KeepsMappingInsertionOrder(testCase *testing.T) {
	item := Map(Pair("zeta", Int(1)), Pair("alpha", Int(2)))

	encoded, err := item.MarshalJSON()
	if err != nil {
		testCase.Fatalf("marshal: %v", err)
	}
	if string(encoded) != `{"zeta":1,"alpha":2}` {
		testCase.Errorf("unexpected encoding %s", encoded)
	}

	decoded, _ := ParseJSON(encoded)
	keys, _ := decoded.Keys()
	if len(keys) != 2 || keys[0] != "zeta" || keys[1] != "alpha" {
		testCase.Errorf("decoded order lost: %v", keys)
	}
}

func TestCodec_FloatsKeepFloatMarker(testCase *testing.T) {
	encoded, _ := Float(2).MarshalJSON()
	if string(encoded) != "2.0" {
		testCase.Errorf("expected 2.0, got %s", encoded)
	}

	decoded, err := ParseJSON([]byte("2"))
	if err != nil {
		testCase.Fatalf("parse: %v", err)
	}
	if decoded.Kind() != KindInt {
		testCase.Errorf("expected plain integer literal to decode as int, got %s", decoded.Kind())
	}
}

func TestCodec_IntegerOverflowBecomesFloat(testCase *testing.T) {
	decoded, err := ParseJSON([]byte("18446744073709551616"))
	if err != nil {
		testCase.Fatalf("parse: %v", err)
	}
	if decoded.Kind() != KindFloat {
		testCase.Errorf("expected float, got %s", decoded.Kind())
	}
}

func TestParseJSON_Errors(testCase *testing.T) {
	testCases := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"trailing data", `1 2`},
		{"truncated", `{"a":`},
		{"bad binary", `{"$binary":"***"}`},
		{"binary not text", `{"$binary":1}`},
		{"unknown float literal", `{"$float":"huge"}`},
		{"map payload not object", `{"$map":[1]}`},
	}

	for _, tc := range testCases {
		testCase.Run(tc.name, func(t *testing.T) {
			if _, err := ParseJSON([]byte(tc.input)); err == nil {
				t.Errorf("expected error for %q", tc.input)
			}
		})
	}
}

func TestValue_UnmarshalJSON(testCase *testing.T) {
	var item Value
	if err := item.UnmarshalJSON([]byte(`{"$binary":"AAE="}`)); err != nil {
		testCase.Fatalf("unexpected error: %v", err)
	}
	if !item.Equal(Binary([]byte{0, 1})) {
		testCase.Errorf("unexpected value %v", item)
	}
}

func TestValue_String(testCase *testing.T) {
	rendered := Map(Pair("data", Binary([]byte("hi")))).String()
	if !strings.Contains(rendered, `"$binary":"aGk="`) {
		testCase.Errorf("unexpected rendering %s", rendered)
	}
}
