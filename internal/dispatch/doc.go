// Package dispatch validates gateway requests and forwards them to the sidecar.
//
// The Dispatcher resolves configured component names, calls the sidecar
// client, normalizes every failure into a *sidecar.Error, and records
// audit entries, metrics, spans and log lines for each call.
package dispatch
