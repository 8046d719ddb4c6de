// Package queue persists task records in SQLite and owns the task lifecycle:
// pending -> processing -> completed or failed. Each task carries three
// independent progress gauges (transcription, rendering, splitting) that are
// monotonically non-decreasing while the task is processing. Only the task's
// own worker mutates a record; status-polling readers see the last committed
// write.
package queue
