// Package main provides the opendht command-line node.
//
// It runs a DHT node and performs one-off operations against the network:
//
//	opendht node --port 4222 --snapshot nodes.bin --metrics :9100
//	opendht put foo "hello"
//	opendht get foo
//	opendht listen foo
//
// Settings come from, in increasing priority: built-in defaults, a YAML
// file (--config, or ./opendht.yaml when present), OPENDHT_* environment
// variables, and command-line flags.
package main
