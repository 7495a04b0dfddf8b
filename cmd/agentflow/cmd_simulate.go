package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/leofalp/agentflow/core/workflow"
	"github.com/leofalp/agentflow/internal/utils"
	"github.com/leofalp/agentflow/patterns/flow"
	"github.com/leofalp/agentflow/providers/observability"
	"github.com/leofalp/agentflow/providers/observability/otelobs"
	"github.com/leofalp/agentflow/providers/observability/slogobs"
)

type simulateOptions struct {
	fail        []string
	delays      map[string]string
	policy      string
	maxInFlight int
	runTimeout  time.Duration
	observer    string
	events      bool
	showContext bool
}

func newSimulateCmd(root *rootOptions) *cobra.Command {
	options := &simulateOptions{}

	cmd := &cobra.Command{
		Use:   "simulate <workflow>",
		Short: "Run a workflow with stub nodes and print the run ledger",
		Long: `Run a workflow with every node replaced by a stub.

Stubs sleep for their --delay (respecting cancellation and timeouts) and then
write "<id> done" to their output key, or fail when listed in --fail. The
workflow's own policy, concurrency bound and timeouts apply unless
overridden by flags.`,
		Example: `  agentflow simulate digest.yaml --fail=summarize --policy=best_effort
  agentflow simulate digest.yaml --delay=parse=200ms,fetch=1s --max-in-flight=1 --events`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, root, options, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&options.fail, "fail", nil, "node IDs whose stubs fail")
	flags.StringToStringVar(&options.delays, "delay", nil, "per-node stub delay, e.g. parse=200ms")
	flags.StringVar(&options.policy, "policy", "", "override the failure policy: fail_fast or best_effort")
	flags.IntVar(&options.maxInFlight, "max-in-flight", -1, "override the async concurrency bound (0 = unbounded)")
	flags.DurationVar(&options.runTimeout, "run-timeout", 0, "override the run timeout")
	flags.StringVar(&options.observer, "observer", "none", "observability backend: none, slog or otel")
	flags.BoolVar(&options.events, "events", false, "print lifecycle events as they happen")
	flags.BoolVar(&options.showContext, "context", true, "print the final execution context as JSON")
	return cmd
}

func runSimulate(cmd *cobra.Command, root *rootOptions, options *simulateOptions, path string) error {
	out := cmd.OutOrStdout()

	registry, err := newStubRegistry(options.fail, options.delays)
	if err != nil {
		return err
	}

	flowOptions, err := simulateFlowOptions(cmd, root, options)
	if err != nil {
		return err
	}

	definition, err := workflow.Load(path)
	if err != nil {
		return err
	}
	inputs, err := flow.InputsOf(definition)
	if err != nil {
		return err
	}
	compiled, err := flow.Compile(definition, registry, flowOptions...)
	if err != nil {
		return err
	}

	timer := utils.NewTimer()
	result, runErr := compiled.Run(cmd.Context(), inputs)
	elapsed := timer.Stop()

	fmt.Fprintf(out, "run %s of %s: %s in %s\n\n", result.RunID, result.Flow, result.Status, elapsed.Round(time.Millisecond))
	if err := printLedger(out, result); err != nil {
		return err
	}

	if options.showContext {
		encoded, err := json.MarshalIndent(result.Context, "", "  ")
		if err != nil {
			return fmt.Errorf("encode context: %w", err)
		}
		fmt.Fprintf(out, "\ncontext:\n%s\n", encoded)
	}

	if runErr != nil {
		return fmt.Errorf("run %s: %w", result.Status, runErr)
	}
	return nil
}

func newStubRegistry(failing []string, delays map[string]string) (stubRegistry, error) {
	registry := stubRegistry{
		failing: make(map[string]bool, len(failing)),
		delays:  make(map[string]time.Duration, len(delays)),
	}
	for _, nodeID := range failing {
		if nodeID = strings.TrimSpace(nodeID); nodeID != "" {
			registry.failing[nodeID] = true
		}
	}
	for nodeID, raw := range delays {
		delay, err := time.ParseDuration(raw)
		if err != nil {
			return stubRegistry{}, fmt.Errorf("--delay %s: %w", nodeID, err)
		}
		if delay < 0 {
			return stubRegistry{}, fmt.Errorf("--delay %s: negative duration %s", nodeID, raw)
		}
		registry.delays[nodeID] = delay
	}
	return registry, nil
}

func simulateFlowOptions(cmd *cobra.Command, root *rootOptions, options *simulateOptions) ([]flow.Option, error) {
	flowOptions := make([]flow.Option, 0)

	if options.policy != "" {
		policy, ok := flow.ParseFailurePolicy(options.policy)
		if !ok {
			return nil, fmt.Errorf("unknown failure policy %q", options.policy)
		}
		flowOptions = append(flowOptions, flow.WithFailurePolicy(policy))
	}
	if options.maxInFlight >= 0 {
		flowOptions = append(flowOptions, flow.WithMaxInFlight(options.maxInFlight))
	}
	if options.runTimeout > 0 {
		flowOptions = append(flowOptions, flow.WithRunTimeout(options.runTimeout))
	}

	provider, err := newObserver(options.observer, root, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	if provider != nil {
		flowOptions = append(flowOptions, flow.WithObserver(provider))
	}

	if options.events {
		flowOptions = append(flowOptions, flow.WithEventSink(printingSink(cmd.OutOrStdout())))
	}
	return flowOptions, nil
}

// newObserver builds the observability backend named by kind. Log output
// goes to errOut so it never interleaves with the ledger.
func newObserver(kind string, root *rootOptions, errOut io.Writer) (observability.Provider, error) {
	slogOptions := []slogobs.Option{slogobs.WithOutput(errOut)}
	if root.logLevel != "" {
		level, ok := slogobs.ParseLogLevel(root.logLevel)
		if !ok {
			return nil, fmt.Errorf("unknown log level %q", root.logLevel)
		}
		slogOptions = append(slogOptions, slogobs.WithLevel(level))
	}
	if root.logFormat != "" {
		slogOptions = append(slogOptions, slogobs.WithFormat(slogobs.ParseFormat(root.logFormat)))
	}

	switch strings.ToLower(kind) {
	case "", "none":
		return nil, nil
	case "slog":
		return slogobs.New(slogOptions...), nil
	case "otel":
		return otelobs.New(otelobs.WithLogger(slogobs.New(slogOptions...).Logger())), nil
	default:
		return nil, fmt.Errorf("unknown observer %q (want none, slog or otel)", kind)
	}
}

func printingSink(out io.Writer) observability.Sink {
	var mu sync.Mutex
	return observability.SinkFunc(func(event observability.Event) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, "event: %s\n", event)
	})
}

func printLedger(out io.Writer, result *flow.RunResult) error {
	writer := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(writer, "NODE\tSTATE\tATTEMPTS\tDURATION\tDETAIL")
	for _, outcome := range result.Outcomes {
		fmt.Fprintf(writer, "%s\t%s\t%d\t%s\t%s\n",
			outcome.NodeID, outcome.State, outcome.Attempts, outcome.Duration.Round(time.Millisecond), outcomeDetail(outcome))
	}
	return writer.Flush()
}

func outcomeDetail(outcome flow.NodeOutcome) string {
	switch {
	case outcome.State == flow.NodeSkipped && outcome.Cause != "":
		return fmt.Sprintf("%s (cause %s)", outcome.SkipReason, outcome.Cause)
	case outcome.State == flow.NodeSkipped:
		return string(outcome.SkipReason)
	case outcome.Err != nil:
		return utils.Truncate(outcome.Err.Error(), 80)
	default:
		return "-"
	}
}
