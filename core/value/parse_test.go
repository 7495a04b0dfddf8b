package value

import "testing"

func TestParseLenient(testCase *testing.T) {
	testCases := []struct {
		name    string
		content string
		want    Value
	}{
		{
			name:    "valid json",
			content: `{"name":"Ada","age":36}`,
			want:    Map(Pair("name", Text("Ada")), Pair("age", Int(36))),
		},
		{
			name:    "fenced json",
			content: "```json\n{\"ok\": true}\n```",
			want:    Map(Pair("ok", Bool(true))),
		},
		{
			name:    "bare fence",
			content: "```\n[1, 2]\n```",
			want:    Sequence(Int(1), Int(2)),
		},
		{
			name:    "single quotes and trailing comma",
			content: `{'tags': ['a', 'b',],}`,
			want:    Map(Pair("tags", Sequence(Text("a"), Text("b")))),
		},
		{
			name:    "schema envelope",
			content: `{"title": {"type": "string", "value": "Summary"}, "count": {"type": "integer", "value": 3}}`,
			want:    Map(Pair("title", Text("Summary")), Pair("count", Int(3))),
		},
		{
			name:    "scalar",
			content: "  42  ",
			want:    Int(42),
		},
	}

	for _, tc := range testCases {
		testCase.Run(tc.name, func(t *testing.T) {
			got, err := ParseLenient(tc.content)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tc.want) {
				t.Errorf("ParseLenient() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestParseLenient_Empty(testCase *testing.T) {
	if _, err := ParseLenient("   "); err == nil {
		testCase.Error("expected error for empty content")
	}
}

func TestStripCodeFence(testCase *testing.T) {
	if got := stripCodeFence("plain"); got != "plain" {
		testCase.Errorf("unexpected %q", got)
	}
	if got := stripCodeFence("```yaml\nx\n```"); got != "x" {
		testCase.Errorf("unexpected %q", got)
	}
}
