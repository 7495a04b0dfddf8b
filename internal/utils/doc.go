// Package utils holds small helpers shared by the flow runtime and the
// command line: log-safe string truncation, JSON rendering for terminal
// output and a wall-clock timer.
package utils
