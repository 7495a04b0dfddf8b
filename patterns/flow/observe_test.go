package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/leofalp/agentflow/core/flowerr"
	"github.com/leofalp/agentflow/core/value"
	"github.com/leofalp/agentflow/providers/observability"
)

func TestObserver_SpansAndMetrics(testCase *testing.T) {
	observer := newTestObserver()

	digest := mustBuild(testCase, NewBuilder("digest", WithObserver(observer), WithFailurePolicy(BestEffort)).
		AddNode("parse", textNode("hello")).
		AddNode("summarize", failingNode(errSummarize), DependsOn("parse")).
		AddNode("translate", textNode("hallo"), DependsOn("summarize")))

	if _, err := digest.Run(context.Background(), nil); err == nil {
		testCase.Fatal("expected run error")
	}

	wantSpans := []string{observability.SpanFlowRun, observability.SpanNodeRun, observability.SpanNodeRun}
	if diff := cmp.Diff(wantSpans, observer.spans); diff != "" {
		testCase.Errorf("spans mismatch (-want +got):\n%s", diff)
	}
	if observer.ended != len(observer.spans) {
		testCase.Errorf("expected every span ended, %d of %d", observer.ended, len(observer.spans))
	}

	if observer.metric(observability.MetricFlowRunCount) != 1 {
		testCase.Errorf("expected one run counted, got %v", observer.metric(observability.MetricFlowRunCount))
	}
	if observer.metric(observability.MetricNodeCount) != 3 {
		testCase.Errorf("expected three node outcomes counted, got %v", observer.metric(observability.MetricNodeCount))
	}

	wantErrors := []string{"node failed", "flow run finished with error"}
	if diff := cmp.Diff(wantErrors, observer.errors); diff != "" {
		testCase.Errorf("error logs mismatch (-want +got):\n%s", diff)
	}
}

func TestObserver_RetryIsCounted(testCase *testing.T) {
	observer := newTestObserver()
	calls := 0

	flaky := NodeFunc(func(_ context.Context, _ *Handle) (value.Value, error) {
		calls++
		if calls == 1 {
			return value.Null(), errors.New("transient")
		}
		return value.Text("ok"), nil
	})

	retrying := mustBuild(testCase, NewBuilder("retrying", WithObserver(observer)).
		AddNode("call", flaky, WithRetry(Backoff{MaxRetries: 1, InitialBackoff: time.Millisecond})))

	if _, err := retrying.Run(context.Background(), nil); err != nil {
		testCase.Fatalf("run error: %v", err)
	}
	if observer.metric(observability.MetricNodeRetries) != 1 {
		testCase.Errorf("expected one retry counted, got %v", observer.metric(observability.MetricNodeRetries))
	}
	if diff := cmp.Diff([]string{"node attempt failed, retrying"}, observer.warnings); diff != "" {
		testCase.Errorf("warnings mismatch (-want +got):\n%s", diff)
	}
}

func TestObserver_FromContext(testCase *testing.T) {
	observer := newTestObserver()
	ctx := observability.ContextWithObserver(context.Background(), observer)

	single := mustBuild(testCase, NewBuilder("single").AddNode("only", textNode("x")))
	if _, err := single.Run(ctx, nil); err != nil {
		testCase.Fatalf("run error: %v", err)
	}
	if len(observer.spans) != 2 {
		testCase.Errorf("expected spans from the context observer, got %v", observer.spans)
	}
}

func TestObserver_NilProviderIsSafe(testCase *testing.T) {
	single := mustBuild(testCase, NewBuilder("single").
		AddNode("only", failingNode(errors.New("boom")), WithRetry(Backoff{MaxRetries: 1, InitialBackoff: time.Millisecond})))

	result, err := single.Run(context.Background(), nil)
	if !errors.Is(err, flowerr.ErrNodeExecutionFailed) || result.Status != StatusFailed {
		testCase.Errorf("expected failed run, got %s %v", result.Status, err)
	}
}

func TestErrorKind(testCase *testing.T) {
	if got := errorKind(flowerr.Timeout("n", time.Second)); got != "timeout" {
		testCase.Errorf("expected timeout, got %q", got)
	}
	if got := errorKind(errors.New("plain")); got != "unknown" {
		testCase.Errorf("expected unknown, got %q", got)
	}
}
