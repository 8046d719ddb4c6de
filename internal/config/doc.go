// Package config loads, validates, and normalizes daemon configuration.
// All style and pipeline parameters live here and are passed explicitly into
// stage calls; there is no process-wide mutable style state.
package config
