// Package limits provides centralized size limits for DHT values, packets and
// snapshots. This ensures consistent validation across different components.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxValueSize is the largest value that can be stored with Put.
	MaxValueSize = 56 * 1024

	// MaxPacketSize is the largest UDP payload (65535 - 8 byte UDP header - 20 byte IP header).
	MaxPacketSize = 65507

	// MaxSnapshotSize is the absolute maximum for snapshot buffers read from disk.
	MaxSnapshotSize = 1024 * 1024

	// MaxValuesPerBatch caps how many values the pure-Go engine hands to a
	// single item callback. It stays below the default stream capacity so
	// one batch always fits an empty stream.
	MaxValuesPerBatch = 8
)

var (
	// ErrEmpty indicates an empty buffer was provided
	ErrEmpty = errors.New("empty buffer")

	// ErrTooLarge indicates a buffer exceeds the maximum size
	ErrTooLarge = errors.New("buffer too large")
)

// ValidateSize validates a buffer against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateSize(data []byte, maxSize int) error {
	if len(data) == 0 {
		return ErrEmpty
	}
	if len(data) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrTooLarge, len(data), maxSize)
	}
	return nil
}

// ValidateValue validates a DHT value against MaxValueSize.
func ValidateValue(value []byte) error {
	if len(value) == 0 {
		return ErrEmpty
	}
	if len(value) > MaxValueSize {
		return fmt.Errorf("%w: value size %d exceeds limit %d", ErrTooLarge, len(value), MaxValueSize)
	}
	return nil
}

// ValidatePacket validates a datagram against MaxPacketSize.
func ValidatePacket(packet []byte) error {
	if len(packet) == 0 {
		return ErrEmpty
	}
	if len(packet) > MaxPacketSize {
		return fmt.Errorf("%w: packet size %d exceeds limit %d", ErrTooLarge, len(packet), MaxPacketSize)
	}
	return nil
}

// ValidateSnapshot validates a snapshot buffer against MaxSnapshotSize.
// Empty snapshots are valid: a node that knows no peers serializes to
// an empty list.
func ValidateSnapshot(snapshot []byte) error {
	if len(snapshot) > MaxSnapshotSize {
		return fmt.Errorf("%w: snapshot size %d exceeds limit %d", ErrTooLarge, len(snapshot), MaxSnapshotSize)
	}
	return nil
}
