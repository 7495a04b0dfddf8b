package flow

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/leofalp/agentflow/core/flowerr"
	"github.com/leofalp/agentflow/core/value"
)

func TestExecutionContext_SetAndGet(testCase *testing.T) {
	executionContext := NewExecutionContext()

	if _, exists := executionContext.Get("missing"); exists {
		testCase.Error("expected missing key to be absent")
	}

	executionContext.Set("path", value.Text("./paper.pdf"))
	stored, exists := executionContext.Get("path")
	if !exists || !stored.Equal(value.Text("./paper.pdf")) {
		testCase.Errorf("unexpected value %v", stored)
	}
	if writer, _ := executionContext.Writer("path"); writer != inputWriter {
		testCase.Errorf("expected input writer, got %q", writer)
	}
	if executionContext.Len() != 1 {
		testCase.Errorf("expected 1 key, got %d", executionContext.Len())
	}
}

func TestExecutionContext_OverwriteCallback(testCase *testing.T) {
	type overwrite struct{ key, previous, writer string }
	var reported []overwrite

	executionContext := NewExecutionContext()
	executionContext.onOverwrite = func(key, previousWriter, writer string) {
		reported = append(reported, overwrite{key, previousWriter, writer})
	}

	executionContext.set("a", "shared", value.Int(1))
	executionContext.set("a", "shared", value.Int(2))
	executionContext.set("b", "shared", value.Int(3))
	executionContext.set("b", "own", value.Int(4))

	want := []overwrite{{"shared", "a", "b"}}
	if diff := cmp.Diff(want, reported, cmp.AllowUnexported(overwrite{})); diff != "" {
		testCase.Errorf("overwrites mismatch (-want +got):\n%s", diff)
	}
	if writer, _ := executionContext.Writer("shared"); writer != "b" {
		testCase.Errorf("expected last writer b, got %q", writer)
	}
}

func TestExecutionContext_ConcurrentWrites(testCase *testing.T) {
	executionContext := NewExecutionContext()

	var waitGroup sync.WaitGroup
	for index := 0; index < 50; index++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			key := string(rune('a' + index%26))
			executionContext.set(key, key, value.Int(int64(index)))
			executionContext.Get(key)
		}()
	}
	waitGroup.Wait()

	if executionContext.Len() != 26 {
		testCase.Errorf("expected 26 keys, got %d", executionContext.Len())
	}
}

func TestExecutionContext_SnapshotIsImmutable(testCase *testing.T) {
	executionContext := NewExecutionContext()
	executionContext.Set("b", value.Int(2))
	executionContext.Set("a", value.Int(1))

	snapshot := executionContext.Snapshot()
	executionContext.Set("c", value.Int(3))
	executionContext.Set("a", value.Int(10))

	if diff := cmp.Diff([]string{"a", "b"}, snapshot.Keys()); diff != "" {
		testCase.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
	first, _ := snapshot.Get("a")
	if !first.Equal(value.Int(1)) {
		testCase.Errorf("expected snapshot to keep the old value, got %v", first)
	}

	keys := snapshot.Keys()
	keys[0] = "mutated"
	if snapshot.Keys()[0] != "a" {
		testCase.Error("expected Keys to return a copy")
	}
}

func TestSnapshot_JSONRoundTrip(testCase *testing.T) {
	executionContext := NewExecutionContext()
	executionContext.Set("summary", value.Text("short"))
	executionContext.Set("pages", value.Int(12))
	executionContext.Set("raw", value.Binary([]byte{0x00, 0xff}))
	executionContext.Set("meta", value.Map(value.Pair("lang", value.Text("fr"))))

	original := executionContext.Snapshot()
	encoded, err := json.Marshal(original)
	if err != nil {
		testCase.Fatalf("marshal error: %v", err)
	}

	decoded, err := ParseSnapshot(encoded)
	if err != nil {
		testCase.Fatalf("parse error: %v", err)
	}
	if !decoded.Value().Equal(original.Value()) {
		testCase.Errorf("round trip mismatch:\nwant %v\ngot  %v", original.Value(), decoded.Value())
	}

	var viaUnmarshal Snapshot
	if err := json.Unmarshal(encoded, &viaUnmarshal); err != nil {
		testCase.Fatalf("unmarshal error: %v", err)
	}
	if diff := cmp.Diff(original.Keys(), viaUnmarshal.Keys()); diff != "" {
		testCase.Errorf("keys mismatch (-want +got):\n%s", diff)
	}

	again, _ := json.Marshal(decoded)
	if string(again) != string(encoded) {
		testCase.Errorf("expected deterministic encoding:\n%s\n%s", encoded, again)
	}
}

func TestParseSnapshot_RejectsNonMapping(testCase *testing.T) {
	if _, err := ParseSnapshot([]byte(`[1, 2]`)); err == nil {
		testCase.Error("expected error for a sequence")
	}
	if _, err := ParseSnapshot([]byte(`{`)); err == nil {
		testCase.Error("expected error for malformed JSON")
	}
}

func TestHandle_RequireAndClose(testCase *testing.T) {
	executionContext := NewExecutionContext()
	executionContext.Set("title", value.Text("Attention"))
	executionContext.Set("pages", value.Int(11))

	handle := newHandle("summarize", executionContext)
	if handle.NodeID() != "summarize" {
		testCase.Errorf("unexpected node ID %q", handle.NodeID())
	}

	title, err := handle.RequireText("title")
	if err != nil || title != "Attention" {
		testCase.Errorf("unexpected title %q, %v", title, err)
	}

	_, err = handle.RequireText("pages")
	if !errors.Is(err, flowerr.ErrTypeMismatch) || flowerr.NodeOf(err) != "summarize" {
		testCase.Errorf("expected type mismatch for summarize, got %v", err)
	}
	if !strings.Contains(err.Error(), `context key "pages"`) {
		testCase.Errorf("expected the key in %q", err.Error())
	}

	_, err = handle.Require("abstract")
	if !errors.Is(err, flowerr.ErrMissingDependencyOutput) || flowerr.NodeOf(err) != "summarize" {
		testCase.Errorf("expected missing output for summarize, got %v", err)
	}

	if !handle.Set("summarize.tokens", value.Int(300)) {
		testCase.Error("expected write on an open handle")
	}
	if writer, _ := executionContext.Writer("summarize.tokens"); writer != "summarize" {
		testCase.Errorf("expected the handle's node as writer, got %q", writer)
	}
	if handle.Snapshot().Len() != 3 {
		testCase.Errorf("expected 3 keys, got %d", handle.Snapshot().Len())
	}

	handle.close()
	if !handle.Closed() {
		testCase.Error("expected handle to be closed")
	}
	if handle.Set("late", value.Null()) {
		testCase.Error("expected write on a closed handle to be dropped")
	}
	if _, exists := executionContext.Get("late"); exists {
		testCase.Error("expected dropped write to be absent")
	}
}

func TestHandleFromContext(testCase *testing.T) {
	if HandleFromContext(context.Background()) != nil {
		testCase.Error("expected no handle on a bare context")
	}

	handle := newHandle("node", NewExecutionContext())
	if HandleFromContext(contextWithHandle(context.Background(), handle)) != handle {
		testCase.Error("expected the stored handle")
	}
}
