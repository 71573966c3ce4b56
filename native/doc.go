//go:build opendht && cgo

// Package native binds libopendht's DhtRunner through a small C wrapper.
//
// It is only built with the opendht build tag and cgo enabled, and links
// against the system libopendht found by pkg-config:
//
//	go build -tags opendht ./...
//
// Values handed to ValuesFunc and CopyFunc point into C++ memory and are
// valid only until the callback returns.
package native
