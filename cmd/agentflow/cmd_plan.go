package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/leofalp/agentflow/internal/utils"
	"github.com/leofalp/agentflow/patterns/flow"
)

type planOptions struct {
	asJSON bool
}

// planNode is the JSON shape of one node in a plan.
type planNode struct {
	ID           string   `json:"id"`
	Level        int      `json:"level"`
	Mode         string   `json:"mode"`
	OutputKey    string   `json:"output_key"`
	Dependencies []string `json:"depends_on,omitempty"`
	Inputs       []string `json:"inputs,omitempty"`
	Timeout      string   `json:"timeout,omitempty"`
	Retries      bool     `json:"retries,omitempty"`
	Breaker      string   `json:"circuit_breaker,omitempty"`
}

type plan struct {
	Name          string     `json:"name"`
	Version       string     `json:"version,omitempty"`
	FailurePolicy string     `json:"failure_policy"`
	MaxInFlight   int        `json:"max_in_flight"`
	MaxValueSize  int        `json:"max_value_size,omitempty"`
	MaxStateSize  int        `json:"max_state_size,omitempty"`
	Levels        [][]string `json:"levels"`
	Nodes         []planNode `json:"nodes"`
}

func newPlanCmd() *cobra.Command {
	options := &planOptions{}

	cmd := &cobra.Command{
		Use:   "plan <workflow>",
		Short: "Print the dispatch levels and node settings of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			compiled, err := compileFile(args[0], stubRegistry{})
			if err != nil {
				return err
			}

			described := describe(compiled)
			out := cmd.OutOrStdout()
			if options.asJSON {
				fmt.Fprintln(out, utils.JSONToString(described, true))
				return nil
			}
			return printPlan(cmd, described)
		},
	}

	cmd.Flags().BoolVar(&options.asJSON, "json", false, "print the plan as JSON")
	return cmd
}

func describe(compiled *flow.Flow) plan {
	described := plan{
		Name:          compiled.Name(),
		Version:       compiled.Version(),
		FailurePolicy: string(compiled.FailurePolicy()),
		MaxInFlight:   compiled.MaxInFlight(),
		MaxValueSize:  compiled.ContextLimits().MaxValueSize,
		MaxStateSize:  compiled.ContextLimits().MaxStateSize,
		Levels:        compiled.Levels(),
	}

	for _, nodeID := range compiled.TopologicalOrder() {
		info, _ := compiled.Node(nodeID)
		node := planNode{
			ID:           info.ID,
			Level:        info.Level,
			Mode:         string(info.Mode),
			OutputKey:    info.OutputKey,
			Dependencies: info.Dependencies,
			Inputs:       info.InputKeys,
			Retries:      info.Retries,
			Breaker:      string(info.Breaker),
		}
		if info.Timeout > 0 {
			node.Timeout = info.Timeout.String()
		}
		described.Nodes = append(described.Nodes, node)
	}
	return described
}

func printPlan(cmd *cobra.Command, described plan) error {
	out := cmd.OutOrStdout()

	maxInFlight := "unbounded"
	if described.MaxInFlight > 0 {
		maxInFlight = fmt.Sprint(described.MaxInFlight)
	}
	fmt.Fprintf(out, "workflow %s", described.Name)
	if described.Version != "" {
		fmt.Fprintf(out, " (%s)", described.Version)
	}
	fmt.Fprintf(out, "\npolicy %s, max in flight %s\n", described.FailurePolicy, maxInFlight)
	if described.MaxValueSize > 0 || described.MaxStateSize > 0 {
		fmt.Fprintf(out, "context limits: value %s, state %s\n", bytesOrDash(described.MaxValueSize), bytesOrDash(described.MaxStateSize))
	}
	fmt.Fprintln(out)

	writer := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(writer, "LEVEL\tNODE\tMODE\tOUTPUT\tDEPENDS ON\tTIMEOUT\tRETRY\tBREAKER")
	for _, node := range described.Nodes {
		timeout := node.Timeout
		if timeout == "" {
			timeout = "-"
		}
		retry := "-"
		if node.Retries {
			retry = "yes"
		}
		breaker := node.Breaker
		if breaker == "" {
			breaker = "-"
		}
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			node.Level, node.ID, node.Mode, node.OutputKey, joinOrDash(node.Dependencies), timeout, retry, breaker)
	}
	return writer.Flush()
}

func bytesOrDash(size int) string {
	if size <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d bytes", size)
}

func joinOrDash(values []string) string {
	if len(values) == 0 {
		return "-"
	}
	return strings.Join(values, ",")
}
