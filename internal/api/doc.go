// Package api implements the gateway's HTTP surface.
//
// Five routes forward to the dispatcher: GET /order/{orderId}, POST /order,
// POST /binding, POST /query and POST /publish. Successful writes answer
// with a short confirmation text; every failure answers with the JSON error
// envelope. /health and /metrics are operational endpoints and never
// require authentication.
package api
