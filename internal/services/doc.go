// Package services provides shared error classification and context
// propagation helpers used by every pipeline stage. Stage code wraps failures
// with a sentinel marker so the workflow manager can distinguish validation
// problems from external tool failures when deciding the task's terminal
// state and failure message.
package services
