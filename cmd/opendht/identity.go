package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/opendht/crypto"
)

// loadIdentity reads the node's secret key from path, creating the file
// with a fresh key when it does not exist. The file holds the key in hex.
func loadIdentity(path string) (*crypto.KeyPair, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return createIdentity(path)
	}
	if err != nil {
		return nil, fmt.Errorf("error reading identity %s: %w", path, err)
	}

	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("error decoding identity %s: %w", path, err)
	}
	var secret [32]byte
	if len(raw) != len(secret) {
		return nil, fmt.Errorf("identity %s: want %d key bytes, got %d", path, len(secret), len(raw))
	}
	copy(secret[:], raw)

	kp, err := crypto.FromSecretKey(secret)
	if err != nil {
		return nil, fmt.Errorf("identity %s: %w", path, err)
	}
	return kp, nil
}

func createIdentity(path string) (*crypto.KeyPair, error) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(kp.Private[:])+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("error writing identity %s: %w", path, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "createIdentity",
		"path":     path,
		"node_id":  kp.ID().String(),
	}).Info("Generated new node identity")
	return kp, nil
}
