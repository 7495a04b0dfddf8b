package value

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/leofalp/agentflow/core/flowerr"
)

func TestFromAny(testCase *testing.T) {
	testCases := []struct {
		name  string
		input any
		want  Value
	}{
		{"nil", nil, Null()},
		{"bool", true, Bool(true)},
		{"int", 42, Int(42)},
		{"uint32", uint32(7), Int(7)},
		{"float32", float32(0.5), Float(0.5)},
		{"string", "hi", Text("hi")},
		{"bytes", []byte{1}, Binary([]byte{1})},
		{"json integer", json.Number("12"), Int(12)},
		{"json float", json.Number("1.5"), Float(1.5)},
		{"string slice", []string{"a", "b"}, Sequence(Text("a"), Text("b"))},
		{"generic map", map[string]any{"b": 1, "a": []any{nil}}, Map(Pair("a", Sequence(Null())), Pair("b", Int(1)))},
		{"typed map", map[string]int{"x": 1}, Map(Pair("x", Int(1)))},
		{"value passthrough", Text("v"), Text("v")},
	}

	for _, tc := range testCases {
		testCase.Run(tc.name, func(t *testing.T) {
			got, err := FromAny(tc.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tc.want) {
				t.Errorf("FromAny() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFromAny_SortsMapKeys(testCase *testing.T) {
	got, err := FromAny(map[string]any{"c": 1, "a": 2, "b": 3})
	if err != nil {
		testCase.Fatalf("unexpected error: %v", err)
	}
	keys, _ := got.Keys()
	if diff := cmp.Diff([]string{"a", "b", "c"}, keys); diff != "" {
		testCase.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
}

func TestFromAny_Rejects(testCase *testing.T) {
	if _, err := FromAny(uint64(math.MaxUint64)); err == nil {
		testCase.Error("expected overflow error")
	}
	if _, err := FromAny(struct{}{}); !errors.Is(err, flowerr.ErrTypeMismatch) {
		testCase.Errorf("expected TypeMismatch, got %v", err)
	}
	if _, err := FromAny(map[int]string{1: "x"}); err == nil {
		testCase.Error("expected non-string keys to be rejected")
	}
}

func TestValue_Any(testCase *testing.T) {
	item := Map(
		Pair("n", Int(3)),
		Pair("items", Sequence(Float(1.5), Text("x"), Null())),
	)

	want := map[string]any{
		"n":     int64(3),
		"items": []any{1.5, "x", nil},
	}
	if diff := cmp.Diff(want, item.Any()); diff != "" {
		testCase.Errorf("Any() mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode(testCase *testing.T) {
	type summary struct {
		Title string   `json:"title"`
		Words int      `json:"words"`
		Tags  []string `json:"tags"`
	}

	item := Map(
		Pair("title", Text("Report")),
		Pair("words", Int(120)),
		Pair("tags", Sequence(Text("q3"), Text("draft"))),
	)

	got, err := Decode[summary](item)
	if err != nil {
		testCase.Fatalf("unexpected error: %v", err)
	}
	want := summary{Title: "Report", Words: 120, Tags: []string{"q3", "draft"}}
	if diff := cmp.Diff(want, got); diff != "" {
		testCase.Errorf("Decode() mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_ShapeMismatch(testCase *testing.T) {
	_, err := Decode[[]string](Text("not a list"))
	if !errors.Is(err, flowerr.ErrTypeMismatch) {
		testCase.Errorf("expected TypeMismatch, got %v", err)
	}
}
