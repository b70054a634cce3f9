// Package config loads bridge settings from flags, environment variables
// and an optional config file, in that order of precedence.
//
// Every flag has an environment variable named after it with the BRIDGE_
// prefix, dashes and dots turned into underscores: --store-path becomes
// BRIDGE_STORE_PATH.
package config

import (
	"math"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/wippyai/wasm-bridge/channel"
	"github.com/wippyai/wasm-bridge/coordinator"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/host"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "BRIDGE"

const (
	BackendLevelDB = "leveldb"
	BackendMemory  = "memory"
)

const (
	keyConfig        = "config"
	keyListen        = "listen"
	keyLogLevel      = "log-level"
	keyStoreBackend  = "store-backend"
	keyStorePath     = "store-path"
	keyStoreTimeout  = "store-op-timeout"
	keyConcurrency   = "concurrency"
	keyCapacity      = "capacity"
	keyBridgeTimeout = "bridge-timeout"
	keyRPCTimeout    = "rpc-timeout"
	keyAbsent        = "absent"
	keyMemoryPages   = "memory-limit-pages"
	keyVerifier      = "verifier"
)

// Config holds the settings of a bridge process.
type Config struct {
	Listen   string
	LogLevel string
	Verifier string

	StoreBackend   string
	StorePath      string
	StoreOpTimeout time.Duration
	Concurrency    int

	Capacity         int
	BridgeTimeout    time.Duration
	RPCTimeout       time.Duration
	Absent           host.AbsentPolicy
	MemoryLimitPages uint32
}

// Default returns the settings used when nothing overrides them.
func Default() *Config {
	return &Config{
		Listen:         "127.0.0.1:9650",
		LogLevel:       "info",
		StoreBackend:   BackendLevelDB,
		StorePath:      "./data",
		StoreOpTimeout: coordinator.DefaultOpTimeout,
		Concurrency:    coordinator.DefaultConcurrency,
		Capacity:       channel.DefaultCapacity,
		BridgeTimeout:  host.DefaultBridgeTimeout,
		RPCTimeout:     time.Minute,
		Absent:         host.AbsentEmpty,
	}
}

// FlagSet returns the flags understood by Load, with defaults filled in.
func FlagSet(name string) *pflag.FlagSet {
	d := Default()
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)

	fs.String(keyConfig, "", "Path to a config file (yaml, json or toml)")
	fs.String(keyListen, d.Listen, "JSON-RPC listen address")
	fs.String(keyLogLevel, d.LogLevel, "Log level: debug, info, warn, error")
	fs.String(keyVerifier, "", "Path to the verifier module")
	fs.String(keyStoreBackend, d.StoreBackend, "State store backend: leveldb or memory")
	fs.String(keyStorePath, d.StorePath, "LevelDB directory")
	fs.Duration(keyStoreTimeout, d.StoreOpTimeout, "Timeout of one store operation")
	fs.Int(keyConcurrency, d.Concurrency, "Maximum store operations in flight")
	fs.Int(keyCapacity, d.Capacity, "Shared channel capacity in bytes")
	fs.Duration(keyBridgeTimeout, d.BridgeTimeout, "Timeout of one state round trip (negative disables)")
	fs.Duration(keyRPCTimeout, d.RPCTimeout, "Timeout of one JSON-RPC call (0 disables)")
	fs.String(keyAbsent, d.Absent.String(), "Result of state_get for a missing key: empty or error")
	fs.Uint32(keyMemoryPages, 0, "Guest memory limit in 64KiB pages (0 keeps the runtime default)")

	return fs
}

// Load parses args and returns the merged configuration.
func Load(name string, args []string) (*Config, error) {
	fs := FlagSet(name)
	if err := fs.Parse(args); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "parse flags")
	}
	return FromFlags(fs)
}

// FromFlags merges parsed flags with the environment and the config file.
func FromFlags(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "bind flags")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if path := v.GetString(keyConfig); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "read config file "+path)
		}
	}

	absent, err := host.ParseAbsentPolicy(v.GetString(keyAbsent))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Listen:           v.GetString(keyListen),
		LogLevel:         v.GetString(keyLogLevel),
		Verifier:         v.GetString(keyVerifier),
		StoreBackend:     strings.ToLower(v.GetString(keyStoreBackend)),
		StorePath:        v.GetString(keyStorePath),
		StoreOpTimeout:   v.GetDuration(keyStoreTimeout),
		Concurrency:      v.GetInt(keyConcurrency),
		Capacity:         v.GetInt(keyCapacity),
		BridgeTimeout:    v.GetDuration(keyBridgeTimeout),
		RPCTimeout:       v.GetDuration(keyRPCTimeout),
		Absent:           absent,
		MemoryLimitPages: v.GetUint32(keyMemoryPages),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendLevelDB:
		if c.StorePath == "" {
			return invalid(keyStorePath, c.StorePath, "required for the leveldb backend")
		}
	case BackendMemory:
	default:
		return invalid(keyStoreBackend, c.StoreBackend, "unknown backend")
	}
	if c.Capacity < channel.MinCapacity || c.Capacity > math.MaxInt32 {
		return invalid(keyCapacity, c.Capacity, "out of range")
	}
	if c.Concurrency <= 0 {
		return invalid(keyConcurrency, c.Concurrency, "must be positive")
	}
	if c.StoreOpTimeout <= 0 {
		return invalid(keyStoreTimeout, c.StoreOpTimeout, "must be positive")
	}
	if c.RPCTimeout < 0 {
		return invalid(keyRPCTimeout, c.RPCTimeout, "must not be negative")
	}
	return nil
}

// HostConfig returns the host settings. The verifier binary is loaded by
// the caller.
func (c *Config) HostConfig(verifier []byte) *host.Config {
	return &host.Config{
		Verifier:         verifier,
		Capacity:         c.Capacity,
		BridgeTimeout:    c.BridgeTimeout,
		MemoryLimitPages: c.MemoryLimitPages,
		Absent:           c.Absent,
	}
}

// CoordinatorOptions returns the coordinator settings.
func (c *Config) CoordinatorOptions() []coordinator.Option {
	return []coordinator.Option{
		coordinator.WithConcurrency(c.Concurrency),
		coordinator.WithOpTimeout(c.StoreOpTimeout),
	}
}

func invalid(key string, value any, detail string) error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
		Key(key).
		Value(value).
		Detail(detail).
		Build()
}
