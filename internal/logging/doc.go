// Package logging configures slog for the daemon: a key=value console
// handler for interactive use, a JSON handler for machine consumption, and
// helpers that derive per-task attributes from context so every stage log
// line carries the task id, stage, and source identity.
package logging
