package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leofalp/agentflow/core/workflow"
	"github.com/leofalp/agentflow/patterns/flow"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow>...",
		Short: "Check workflow documents for structural errors and cycles",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			failed := 0

			for _, path := range args {
				compiled, err := compileFile(path, stubRegistry{})
				if err != nil {
					failed++
					fmt.Fprintf(out, "FAIL %s\n", path)
					for _, problem := range flattenErrors(err) {
						fmt.Fprintf(out, "  - %v\n", problem)
					}
					continue
				}
				fmt.Fprintf(out, "ok   %s (%s, %d nodes, %d levels)\n", path, compiled.Name(), len(compiled.NodeIDs()), len(compiled.Levels()))
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d workflows invalid", failed, len(args))
			}
			return nil
		},
	}
}

// compileFile loads, validates and compiles a workflow document.
func compileFile(path string, registry flow.Registry, opts ...flow.Option) (*flow.Flow, error) {
	definition, err := workflow.Load(path)
	if err != nil {
		return nil, err
	}
	return flow.Compile(definition, registry, opts...)
}

// flattenErrors expands errors joined with errors.Join into one entry each.
func flattenErrors(err error) []error {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		if wrapped := errors.Unwrap(err); wrapped != nil {
			if _, isJoined := wrapped.(interface{ Unwrap() []error }); isJoined {
				return flattenErrors(wrapped)
			}
		}
		return []error{err}
	}

	flattened := make([]error, 0)
	for _, inner := range joined.Unwrap() {
		flattened = append(flattened, flattenErrors(inner)...)
	}
	return flattened
}
