/*
Package log provides structured logging for the reconciliation engine
using zerolog.

The global Logger is configured once via Init and then narrowed with
WithComponent/WithTransformID/WithProcessingID so every log line an
agent or Work variant emits carries the fields that let an operator
correlate a tick's log output with the row it was claimed for.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│  Init(Config)  → global Logger (zerolog.Logger)           │
	│  WithComponent("transform-agent" | "processing-agent")   │
	│  WithTransformID(id) / WithProcessingID(id)               │
	│    → child loggers with structured fields attached        │
	└────────────────────────────────────────────────────────────┘

JSON output is used in production (Config.JSONOutput); console output
with a human-readable ConsoleWriter is the default for local runs.
*/
package log
