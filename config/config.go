// Package config loads the gateway's configuration from layered JSON files
// with environment overrides. Later layers win field by field; environment
// variables win over everything.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/parrishsteve/splatcast/errors"
	"github.com/parrishsteve/splatcast/gateway"
	"github.com/parrishsteve/splatcast/pkg/cache"
	"github.com/parrishsteve/splatcast/pkg/security"
	"github.com/parrishsteve/splatcast/sandbox"
)

// Storage mode constants.
const (
	StorageModeMemory = "memory" // In-memory stores, lost on restart
	StorageModeKV     = "kv"     // NATS KV backed stores
)

// Config is the complete gateway configuration.
type Config struct {
	NATS        NATSConfig      `json:"nats"`
	Gateway     gateway.Config  `json:"gateway"`
	Metrics     MetricsConfig   `json:"metrics,omitempty"`
	Sandbox     SandboxConfig   `json:"sandbox,omitempty"`
	Idempotency cache.Config    `json:"idempotency,omitempty"`
	Storage     StorageConfig   `json:"storage,omitempty"`
	Security    security.Config `json:"security,omitempty"`
}

// NATSConfig defines the broker connection.
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
	TLS           NATSTLSConfig `json:"tls,omitempty"`
}

// NATSTLSConfig for secure broker connections.
type NATSTLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"`
}

// MetricsConfig exposes the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
}

// SandboxConfig sizes the transform executor. Zero values fall back to the
// sandbox defaults.
type SandboxConfig struct {
	Workers          int    `json:"workers,omitempty"`
	QueueSize        int    `json:"queue_size,omitempty"`
	ProgramCacheSize int    `json:"program_cache_size,omitempty"`
	MaxSteps         uint64 `json:"max_steps,omitempty"`
	MaxOutputBytes   int    `json:"max_output_bytes,omitempty"`
	DefaultTimeoutMs int    `json:"default_timeout_ms,omitempty"`
	MaxTimeoutMs     int    `json:"max_timeout_ms,omitempty"`
}

// Limits converts the configured ceilings into sandbox limits, filling
// unset fields from the sandbox defaults.
func (c SandboxConfig) Limits() sandbox.Limits {
	limits := sandbox.DefaultLimits()
	if c.MaxSteps > 0 {
		limits.MaxSteps = c.MaxSteps
	}
	if c.MaxOutputBytes > 0 {
		limits.MaxOutputBytes = c.MaxOutputBytes
	}
	if c.DefaultTimeoutMs > 0 {
		limits.DefaultTimeout = time.Duration(c.DefaultTimeoutMs) * time.Millisecond
	}
	if c.MaxTimeoutMs > 0 {
		limits.MaxTimeout = time.Duration(c.MaxTimeoutMs) * time.Millisecond
	}
	return limits
}

// StorageConfig selects where apps, topics, schemas, and transformers live.
type StorageConfig struct {
	Mode   string       `json:"mode,omitempty"`
	Bucket BucketConfig `json:"bucket,omitempty"`
}

// BucketConfig defines the KV bucket used in kv storage mode.
type BucketConfig struct {
	Name     string `json:"name,omitempty"`
	History  int    `json:"history,omitempty"`
	MaxBytes int64  `json:"max_bytes,omitempty"`
	Replicas int    `json:"replicas,omitempty"`
}

// Validate checks the configuration. Section validators own their fields;
// this adds the cross-section checks.
func (c *Config) Validate() error {
	if len(c.NATS.URLs) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "nats.urls is required")
	}
	if c.NATS.TLS.Enabled {
		if c.NATS.TLS.CertFile == "" || c.NATS.TLS.KeyFile == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				"nats.tls requires cert_file and key_file")
		}
	}
	if err := c.Gateway.Validate(); err != nil {
		return err
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"metrics.addr is required when metrics are enabled")
	}
	switch c.Storage.Mode {
	case "", StorageModeMemory, StorageModeKV:
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("unknown storage.mode %q", c.Storage.Mode))
	}
	srvTLS := c.Security.TLS.Server
	if srvTLS.Enabled && srvTLS.Mode != "acme" {
		if srvTLS.CertFile == "" || srvTLS.KeyFile == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				"security.tls.server requires cert_file and key_file in manual mode")
		}
	}
	return nil
}

// String returns an indented JSON representation. Credentials are redacted.
func (c *Config) String() string {
	clone := *c
	if clone.NATS.Password != "" {
		clone.NATS.Password = "[redacted]"
	}
	if clone.NATS.Token != "" {
		clone.NATS.Token = "[redacted]"
	}
	data, _ := json.MarshalIndent(&clone, "", "  ")
	return string(data)
}

// Loader loads configuration from layered files with environment overrides.
type Loader struct {
	layers    []string
	envPrefix string
}

// NewLoader creates a loader with the SPLATCAST env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "SPLATCAST"}
}

// AddLayer appends a configuration file layer. Later layers override
// earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// LoadFile loads a single file on top of the defaults.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, file layers, and environment overrides, then
// validates the result.
func (l *Loader) Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range l.layers {
		raw, err := l.loadRawJSON(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("load %s", path))
		}
		cfg = l.mergeFromMap(cfg, raw)
	}

	l.applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns the configuration used when nothing else is given: a
// local broker, the default gateway edge, and a one-day idempotency window.
func Defaults() *Config {
	return &Config{
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Gateway: gateway.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		Idempotency: cache.Config{
			Enabled:         true,
			Strategy:        cache.StrategyTTL,
			TTL:             24 * time.Hour,
			CleanupInterval: time.Hour,
		},
		Storage: StorageConfig{
			Mode: StorageModeMemory,
			Bucket: BucketConfig{
				Name:    "splatcast_store",
				History: 10,
			},
		},
	}
}

// loadRawJSON reads one layer into a map so merging only touches the keys
// the file actually sets.
func (l *Loader) loadRawJSON(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := validateJSONDepth(data); err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	l.parseDurations(raw)
	return raw, nil
}

// mergeFromMap merges a raw layer over the base config, field by field.
func (l *Loader) mergeFromMap(base *Config, override map[string]any) *Config {
	if override == nil {
		return base
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return base
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return base
	}

	merged := deepMergeMaps(baseMap, override)

	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return base
	}
	var out Config
	if err := json.Unmarshal(mergedJSON, &out); err != nil {
		return base
	}
	return &out
}

// deepMergeMaps recursively merges override into base.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// parseDurations converts human duration strings to the nanosecond numbers
// time.Duration unmarshals from.
func (l *Loader) parseDurations(raw map[string]any) {
	if nats, ok := raw["nats"].(map[string]any); ok {
		parseDurationKey(nats, "reconnect_wait")
	}
	if idem, ok := raw["idempotency"].(map[string]any); ok {
		parseDurationKey(idem, "ttl")
		parseDurationKey(idem, "cleanup_interval")
		parseDurationKey(idem, "stats_interval")
	}
	if gw, ok := raw["gateway"].(map[string]any); ok {
		parseDurationKey(gw, "shutdown_timeout")
	}
}

func parseDurationKey(section map[string]any, key string) {
	s, ok := section[key].(string)
	if !ok {
		return
	}
	if d, err := parseDurationWithDays(s); err == nil {
		section[key] = d.Nanoseconds()
	}
}

// parseDurationWithDays accepts standard durations plus a day suffix,
// e.g. "7d" for retention-scale windows.
func parseDurationWithDays(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// applyEnvOverrides applies environment variable overrides.
func (l *Loader) applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(l.envPrefix + "_NATS_URLS"); val != "" {
		cfg.NATS.URLs = strings.Split(val, ",")
	}
	if val := os.Getenv(l.envPrefix + "_NATS_USERNAME"); val != "" {
		cfg.NATS.Username = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_PASSWORD"); val != "" {
		cfg.NATS.Password = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_TOKEN"); val != "" {
		cfg.NATS.Token = val
	}
	if val := os.Getenv(l.envPrefix + "_GATEWAY_ADDR"); val != "" {
		cfg.Gateway.Addr = val
	}
	if val := os.Getenv(l.envPrefix + "_METRICS_ADDR"); val != "" {
		cfg.Metrics.Addr = val
	}
	if val := os.Getenv(l.envPrefix + "_STORAGE_MODE"); val != "" {
		cfg.Storage.Mode = val
	}
}
