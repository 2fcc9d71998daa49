// Package audit writes an append-only JSONL trail of gateway actions.
//
// Each entry records who asked for what, against which sidecar component,
// and how it ended. Files rotate by size through lumberjack.
package audit
