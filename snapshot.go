package opendht

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/opendht/interfaces"
	"github.com/opd-ai/opendht/limits"
)

// snapshotBuffer is the destination handed to the engine's copy callback.
type snapshotBuffer struct {
	data   []byte
	copied bool
}

func (b *snapshotBuffer) abandon() {}

// snapshotCopy is the CopyFunc for Serialize. The destination is resized to
// the reported length before copying; src is not retained.
func snapshotCopy(src []byte, dst uintptr) {
	callbacksTotal.WithLabelValues(callbackCopy).Inc()

	v, ok := pending.borrow(dst)
	if !ok {
		invariantViolation("snapshotCopy", "copy callback for unknown token", dst)
		return
	}
	buf, ok := v.(*snapshotBuffer)
	if !ok {
		invariantViolation("snapshotCopy", "copy callback for non-snapshot token", dst)
		return
	}
	buf.data = make([]byte, len(src))
	if n := copy(buf.data, src); n != len(src) {
		invariantViolation("snapshotCopy", "short snapshot copy", dst)
	}
	buf.copied = true
}

func (b *bridge) serialize(e interfaces.Engine) []byte {
	token := pending.register(b.owner, &snapshotBuffer{})
	e.Serialize(snapshotCopy, token)

	v, ok := pending.take(token)
	if !ok {
		invariantViolation("bridge.serialize", "snapshot buffer reclaimed by engine", token)
		return nil
	}
	buf := v.(*snapshotBuffer)
	if !buf.copied {
		return []byte{}
	}
	return buf.data
}

// Serialize exports the engine's known nodes. The result is owned by the
// caller and is accepted by Deserialize on any engine of the same kind.
func (d *DHT) Serialize() ([]byte, error) {
	var out []byte
	err := d.withEngine(func(e interfaces.Engine) {
		out = d.bridge.serialize(e)
	})
	return out, err
}

// Deserialize merges a snapshot produced by Serialize into the engine.
func (d *DHT) Deserialize(snapshot []byte) error {
	if err := limits.ValidateSnapshot(snapshot); err != nil {
		return err
	}
	return d.withEngine(func(e interfaces.Engine) {
		e.Deserialize(snapshot)
	})
}

// SaveSnapshot writes Serialize's output to path.
func (d *DHT) SaveSnapshot(path string) error {
	return saveSnapshot(path, d.Serialize)
}

// LoadSnapshot reads a file written by SaveSnapshot and merges it.
func (d *DHT) LoadSnapshot(path string) error {
	return loadSnapshot(path, d.Deserialize)
}

func saveSnapshot(path string, serialize func() ([]byte, error)) error {
	data, err := serialize()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "saveSnapshot",
		"path":     path,
		"size":     len(data),
	}).Info("Snapshot saved")
	return nil
}

func loadSnapshot(path string, deserialize func([]byte) error) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	if err := limits.ValidateSnapshot(data); err != nil {
		return err
	}
	if err := deserialize(data); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"function": "loadSnapshot",
		"path":     path,
		"size":     len(data),
	}).Info("Snapshot loaded")
	return nil
}
