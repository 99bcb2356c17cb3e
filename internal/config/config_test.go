package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Default()
	cfg.TachyonServer = "lobby.example.com"
	cfg.AuthClientID = "client"
	cfg.AuthClientSecret = "secret"
	cfg.HostingIP = "203.0.113.5"
	cfg.EngineCdnBaseUrl = "https://cdn.example.com"
	return cfg
}

func TestValidate_RequiresFields(t *testing.T) {
	cfg := Config{}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidate_RejectsOverlappingPortRanges(t *testing.T) {
	cfg := validConfig()
	cfg.EngineStartPort = 20000
	cfg.EngineAutohostStartPort = 20500
	cfg.MaxPortsUsed = 1000

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overlaps")
}

func TestValidate_AcceptsNonOverlappingPortRanges(t *testing.T) {
	cfg := validConfig()
	cfg.EngineStartPort = 20000
	cfg.EngineAutohostStartPort = 22000
	cfg.MaxPortsUsed = 1000

	assert.NoError(t, cfg.Validate())
}

func TestSecure_DefaultsTrueExceptLocalhost(t *testing.T) {
	cfg := validConfig()
	assert.True(t, cfg.Secure())

	cfg.TachyonServer = "localhost"
	assert.False(t, cfg.Secure())
}

func TestSecure_ExplicitOverrideWins(t *testing.T) {
	cfg := validConfig()
	no := false
	cfg.UseSecureConnection = &no
	assert.False(t, cfg.Secure())

	cfg.TachyonServer = "localhost"
	yes := true
	cfg.UseSecureConnection = &yes
	assert.True(t, cfg.Secure())
}

func TestLoad_MergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "autohost.yaml")
	body := `
tachyonServer: lobby.example.com
authClientId: client
authClientSecret: secret
hostingIP: 203.0.113.5
engineCdnBaseUrl: https://cdn.example.com
maxBattles: 5
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxBattles)
	// Defaults not overridden by the file survive the merge.
	assert.Equal(t, 20000, cfg.EngineStartPort)
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	// Defaults alone fail validation (no tachyonServer etc) but Load
	// must not fail just because the file is absent.
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validating config")
}

func TestLoad_EnvOverridesClientSecret(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "autohost.yaml")
	body := `
tachyonServer: lobby.example.com
authClientId: client
authClientSecret: file-secret
hostingIP: 203.0.113.5
engineCdnBaseUrl: https://cdn.example.com
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("AUTOHOST_CLIENT_SECRET", "env-secret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.AuthClientSecret)
}

func TestTachyonBaseURL(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "https://lobby.example.com", cfg.TachyonBaseURL())

	cfg.TachyonServerPort = 8443
	assert.Equal(t, "https://lobby.example.com:8443", cfg.TachyonBaseURL())

	cfg.TachyonServer = "localhost"
	cfg.TachyonServerPort = 0
	assert.Equal(t, "http://localhost", cfg.TachyonBaseURL())
}
