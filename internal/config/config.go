// Package config loads and validates the autohost controller's
// configuration (spec §6.5).
package config

import (
	"fmt"
	"net"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration surface from spec §6.5.
type Config struct {
	TachyonServer       string `yaml:"tachyonServer"`
	TachyonServerPort   int    `yaml:"tachyonServerPort"`
	UseSecureConnection *bool  `yaml:"useSecureConnection"`

	AuthClientID     string `yaml:"authClientId"`
	AuthClientSecret string `yaml:"authClientSecret"`

	HostingIP    string `yaml:"hostingIP"`
	EngineBindIP string `yaml:"engineBindIP"`

	MaxReconnectDelaySeconds int `yaml:"maxReconnectDelaySeconds"`

	EngineSettings map[string]string `yaml:"engineSettings"`

	MaxBattles                    int `yaml:"maxBattles"`
	MaxUpdatesSubscriptionAgeSeconds int `yaml:"maxUpdatesSubscriptionAgeSeconds"`

	EngineStartPort         int `yaml:"engineStartPort"`
	EngineAutohostStartPort int `yaml:"engineAutohostStartPort"`
	MaxPortsUsed            int `yaml:"maxPortsUsed"`

	EngineInstallTimeoutSeconds      int `yaml:"engineInstallTimeoutSeconds"`
	EngineDownloadMaxAttempts        int `yaml:"engineDownloadMaxAttempts"`
	EngineDownloadRetryBackoffBaseMs int `yaml:"engineDownloadRetryBackoffBaseMs"`

	EngineCdnBaseUrl string `yaml:"engineCdnBaseUrl"`

	MaxGameDurationSeconds int `yaml:"maxGameDurationSeconds"`

	// EnginesDir and InstancesDir are not part of the documented
	// options table but are needed to locate the on-disk layout (§6.4);
	// they default to "engines" and "instances" relative to cwd.
	EnginesDir   string `yaml:"enginesDir"`
	InstancesDir string `yaml:"instancesDir"`
}

// Default returns the configuration defaults documented in spec §6.5.
// UseSecureConnection is left unset so that Secure() applies its
// TLS-except-localhost default.
func Default() Config {
	return Config{
		EngineBindIP:                    "0.0.0.0",
		MaxReconnectDelaySeconds:         30,
		EngineSettings:                   map[string]string{},
		MaxBattles:                       50,
		MaxUpdatesSubscriptionAgeSeconds: 600,
		EngineStartPort:                  20000,
		EngineAutohostStartPort:          22000,
		MaxPortsUsed:                     1000,
		EngineInstallTimeoutSeconds:      600,
		EngineDownloadMaxAttempts:        3,
		EngineDownloadRetryBackoffBaseMs: 1000,
		MaxGameDurationSeconds:           28800,
		EnginesDir:                       "engines",
		InstancesDir:                     "instances",
	}
}

// Load reads a YAML config file at path, merges it over Default(), then
// applies the AUTOHOST_CLIENT_SECRET environment override, and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		var fromFile Config
		if err := yaml.Unmarshal(data, &fromFile); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
		if err := mergo.Merge(&cfg, fromFile, mergo.WithOverride); err != nil {
			return Config{}, fmt.Errorf("merging config %s: %w", path, err)
		}
	}

	if secret := os.Getenv("AUTOHOST_CLIENT_SECRET"); secret != "" {
		cfg.AuthClientSecret = secret
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Secure reports whether the lobby connection should use TLS (§4.8
// Scheme selection): TLS by default, plain only for localhost or when
// explicitly disabled.
func (c Config) Secure() bool {
	if c.TachyonServer == "localhost" || c.TachyonServer == "127.0.0.1" {
		if c.UseSecureConnection != nil {
			return *c.UseSecureConnection
		}
		return false
	}
	if c.UseSecureConnection == nil {
		return true
	}
	return *c.UseSecureConnection
}

// Validate checks the configuration invariants named in §6.5, notably
// that the required fields are present and that the engine battle-port
// and autohost-port ranges do not overlap.
func (c Config) Validate() error {
	if c.TachyonServer == "" {
		return fmt.Errorf("tachyonServer is required")
	}
	if c.AuthClientID == "" || c.AuthClientSecret == "" {
		return fmt.Errorf("authClientId and authClientSecret are required")
	}
	if c.HostingIP == "" {
		return fmt.Errorf("hostingIP is required")
	}
	if ip := net.ParseIP(c.HostingIP); ip == nil || ip.To4() == nil {
		return fmt.Errorf("hostingIP %q is not a valid IPv4 address", c.HostingIP)
	}
	if c.MaxPortsUsed <= 0 {
		return fmt.Errorf("maxPortsUsed must be positive")
	}
	if c.MaxBattles < 0 {
		return fmt.Errorf("maxBattles must not be negative")
	}
	lo1, hi1 := c.EngineStartPort, c.EngineStartPort+c.MaxPortsUsed
	lo2, hi2 := c.EngineAutohostStartPort, c.EngineAutohostStartPort+c.MaxPortsUsed
	if lo1 < hi2 && lo2 < hi1 {
		return fmt.Errorf("engineStartPort range [%d,%d) overlaps engineAutohostStartPort range [%d,%d)", lo1, hi1, lo2, hi2)
	}
	if c.EngineCdnBaseUrl == "" {
		return fmt.Errorf("engineCdnBaseUrl is required")
	}
	return nil
}

// TachyonBaseURL returns the lobby server's base HTTP(S) URL, applying
// the optional port override.
func (c Config) TachyonBaseURL() string {
	scheme := "http"
	if c.Secure() {
		scheme = "https"
	}
	host := c.TachyonServer
	if c.TachyonServerPort != 0 {
		host = fmt.Sprintf("%s:%d", host, c.TachyonServerPort)
	}
	return fmt.Sprintf("%s://%s", scheme, host)
}
