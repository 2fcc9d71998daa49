// Package auth verifies bearer tokens and enforces scopes on gateway routes.
//
// Tokens are JWTs signed with HS256 (shared secret) or RS256 (PEM public
// key). Reads of orders need the "read" scope; every POST route needs
// "write".
package auth
