package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/opd-ai/opendht/interfaces"
)

const (
	envPrefix         = "OPENDHT_"
	defaultConfigFile = "opendht.yaml"
)

// Config holds the settings shared by every subcommand.
type Config struct {
	Port           uint16
	Bootstrap      []string
	Snapshot       string
	Identity       string
	MetricsAddr    string
	LogLevel       string
	Timeout        time.Duration
	Backend        string
	StreamCapacity int
}

func defaultSettings() map[string]interface{} {
	return map[string]interface{}{
		"port":            4222,
		"bootstrap":       []string{"bootstrap.ring.cx:4222"},
		"snapshot":        "",
		"identity":        "",
		"metrics":         "",
		"log-level":       "info",
		"timeout":         "30s",
		"backend":         "",
		"stream-capacity": 10,
	}
}

// registerFlags declares the persistent flags. Their names are the config
// keys, so posflag maps them without translation.
func registerFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "YAML configuration file")
	fs.Uint16P("port", "p", 4222, "UDP port to listen on (0 picks a free port)")
	fs.StringSliceP("bootstrap", "b", nil, "bootstrap nodes as host:port")
	fs.String("snapshot", "", "file to load known nodes from and save them to")
	fs.String("identity", "", "file holding the node's secret key, created if missing (go backend)")
	fs.String("metrics", "", "address to serve Prometheus metrics on")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.Duration("timeout", 30*time.Second, "how long to wait for bootstrap and one-off operations")
	fs.String("backend", "", "engine backend (go, native, sim)")
	fs.Int("stream-capacity", 10, "buffered values per get or listen stream")
}

// envKey maps OPENDHT_LOG_LEVEL to log-level.
func envKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(name, envPrefix)), "_", "-")
}

// loadConfig merges defaults, the config file, the environment and flags.
func loadConfig(fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultSettings(), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	path, explicit := defaultConfigFile, false
	if fs != nil {
		if p, _ := fs.GetString("config"); p != "" {
			path, explicit = p, true
		}
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config %s: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("error reading config %s: %w", path, err)
	}

	envOpts := env.ProviderWithValue(envPrefix, ".", func(name, value string) (string, interface{}) {
		key := envKey(name)
		if key == "bootstrap" {
			return key, strings.Split(value, ",")
		}
		return key, value
	})
	if err := k.Load(envOpts, nil); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	if fs != nil {
		if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
			return nil, fmt.Errorf("error loading flags: %w", err)
		}
	}

	port := k.Int("port")
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port %d: must be between 0 and 65535", port)
	}

	cfg := &Config{
		Port:           uint16(port),
		Bootstrap:      k.Strings("bootstrap"),
		Snapshot:       k.String("snapshot"),
		Identity:       k.String("identity"),
		MetricsAddr:    k.String("metrics"),
		LogLevel:       k.String("log-level"),
		Timeout:        k.Duration("timeout"),
		Backend:        k.String("backend"),
		StreamCapacity: k.Int("stream-capacity"),
	}
	return cfg, validateConfig(cfg)
}

// validateConfig checks values that no engine could accept.
func validateConfig(cfg *Config) error {
	if cfg.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if cfg.StreamCapacity < 0 {
		return errors.New("stream capacity cannot be negative")
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	switch interfaces.Backend(cfg.Backend) {
	case "", interfaces.BackendGo, interfaces.BackendNative, interfaces.BackendSimulation:
	default:
		return fmt.Errorf("%w: %q", interfaces.ErrUnknownBackend, cfg.Backend)
	}

	var bootstrap []string
	for _, b := range cfg.Bootstrap {
		if b = strings.TrimSpace(b); b != "" {
			bootstrap = append(bootstrap, b)
		}
	}
	cfg.Bootstrap = bootstrap
	return nil
}

// setupLogging applies the configured log level.
func setupLogging(cfg *Config) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
