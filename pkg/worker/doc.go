// Package worker consumes run jobs from a task queue and hands them to the
// run executor. Many workers across many processes can consume the same
// queue; the run lock guarantees at most one of them executes a given run.
package worker
