// Package config builds the gateway configuration once at start.
//
// Values come from built-in defaults, then an optional YAML file named by
// OGW_CONFIG, then environment variables. The result is validated and
// handed to constructors explicitly; nothing reads the environment while
// serving requests.
package config
