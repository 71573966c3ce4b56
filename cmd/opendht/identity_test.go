package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/opendht/dht"
	"github.com/opd-ai/opendht/factory"
)

func TestLoadIdentity_CreatesThenReuses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.key")

	first, err := loadIdentity(path)
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := loadIdentity(path)
	require.NoError(t, err)
	assert.Equal(t, first.ID(), second.ID())
	assert.Equal(t, first.Public, second.Public)
}

func TestLoadIdentity_Invalid(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{name: "not hex", content: "zz"},
		{name: "short key", content: "0102"},
		{name: "zero key", content: "0000000000000000000000000000000000000000000000000000000000000000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))
			_, err := loadIdentity(path)
			assert.Error(t, err)
		})
	}
}

func TestEngineFactory_Identity(t *testing.T) {
	t.Setenv(factory.EnvBackend, "")
	path := filepath.Join(t.TempDir(), "node.key")
	kp, err := loadIdentity(path)
	require.NoError(t, err)

	f, err := engineFactory(&Config{Identity: path})
	require.NoError(t, err)
	require.NotNil(t, f)

	engine, ok := f().(*dht.Engine)
	require.True(t, ok)
	assert.Equal(t, kp.ID(), engine.ID())

	_, err = engineFactory(&Config{Identity: filepath.Join(t.TempDir(), "missing", "node.key")})
	assert.Error(t, err)
}
