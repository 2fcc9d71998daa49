// Package sidecar defines the client contract the gateway uses to reach its
// colocated sidecar process.
//
// The sidecar owns state storage, pub/sub delivery, and output bindings. The
// gateway only forwards calls and classifies how they failed. Every
// implementation returns failures as *Error so callers can tell a transport
// failure from an error the sidecar reported in its own response.
//
// Implementations:
//   - httpclient: sidecar HTTP API over fasthttp
//   - grpcclient: sidecar gRPC API through the Dapr Go SDK
//   - memory: in-process stub used by tests and local runs
package sidecar
