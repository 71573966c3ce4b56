// Package limits provides centralized size constants and validation functions
// shared by the bridge and the pure-Go engine.
//
// # Size Hierarchy
//
//   - MaxValueSize (56 KiB): the largest value accepted by Put. It stays below
//     OpenDHT's own 64 KiB cap and leaves room for the pure-Go engine's packet
//     header inside one UDP datagram.
//
//   - MaxPacketSize (65507 bytes): the largest UDP payload the pure-Go engine
//     sends or accepts.
//
//   - MaxSnapshotSize (1 MiB): the absolute maximum for snapshot files and
//     any other buffer read from disk. This prevents memory exhaustion when
//     loading untrusted files.
//
// # Validation Functions
//
// Each validation function checks for empty input and size limit violations:
//
//	if err := limits.ValidateValue(value); err != nil {
//	    // ErrEmpty or ErrTooLarge
//	}
//
// For custom limits use ValidateSize:
//
//	err := limits.ValidateSize(data, 4096)
package limits
