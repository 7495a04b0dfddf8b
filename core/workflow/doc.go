// Package workflow defines the declarative workflow document: a named,
// versioned list of nodes with their dependencies, execution mode, output
// key and tuning knobs.
//
// Documents are written in YAML (JSON is accepted as a YAML subset) and are
// produced by external tooling or by hand. [Parse] and [Load] decode a
// document; [Definition.Validate] checks its structure. Cycle detection is
// left to flow construction, which computes the topological order anyway.
//
// Example:
//
//	name: paper-digest
//	version: "1.2"
//	failure_policy: best_effort
//	max_in_flight: 4
//	inputs:
//	  path: ./paper.pdf
//	nodes:
//	  - id: parse
//	    type: pdf_parser
//	    inputs: [path]
//	  - id: summarize
//	    type: llm
//	    mode: async
//	    depends_on: [parse]
//	    timeout: 30s
//	    retry:
//	      max_retries: 2
//	      initial_backoff: 500ms
//	  - id: translate
//	    type: llm
//	    mode: async
//	    depends_on: [summarize]
package workflow
