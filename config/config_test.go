package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.True(t, cfg.A2A.Enabled)
	assert.True(t, cfg.A2A.Server.Enabled)
	assert.Equal(t, 100, cfg.A2A.Server.MaxTasks)
	assert.Equal(t, 60, cfg.A2A.Server.TaskExpiryMinutes)
	assert.True(t, cfg.A2A.Server.Streaming)
	assert.False(t, cfg.A2A.Server.PushNotifications)
	assert.Equal(t, 120, cfg.A2A.Client.TimeoutSeconds)
	assert.Equal(t, 5, cfg.A2A.Client.CacheTTLMinutes)
	assert.Equal(t, AuthModeNone, cfg.A2A.Auth.Mode)

	assert.True(t, cfg.Swarm.Enabled)
	assert.Equal(t, 10, cfg.Swarm.MaxAgentsPerSwarm)
	assert.Equal(t, 5, cfg.Swarm.MaxConcurrentSwarms)
	assert.Equal(t, 300000, cfg.Swarm.AgentTimeoutMs)
	assert.Equal(t, ConsensusMerge, cfg.Swarm.DefaultConsensus)

	assert.True(t, cfg.Gateway.Enabled)
	assert.Equal(t, 30, cfg.Gateway.RequestTimeoutSeconds)

	require.NoError(t, cfg.Validate())
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	doc := []byte(`
a2a:
  baseUrl: https://mesh.example.com
  auth:
    mode: token
    token: s3cret
swarm:
  maxAgentsPerSwarm: 3
`)

	cfg, err := Load(doc)
	require.NoError(t, err)

	// Values from the document.
	assert.Equal(t, "https://mesh.example.com", cfg.A2A.BaseURL)
	assert.Equal(t, AuthModeToken, cfg.A2A.Auth.Mode)
	assert.Equal(t, "s3cret", cfg.A2A.Auth.Token)
	assert.Equal(t, 3, cfg.Swarm.MaxAgentsPerSwarm)

	// Absent keys keep their defaults, including true-valued booleans.
	assert.True(t, cfg.A2A.Enabled)
	assert.True(t, cfg.A2A.Server.Streaming)
	assert.Equal(t, 100, cfg.A2A.Server.MaxTasks)
	assert.Equal(t, 120, cfg.A2A.Client.TimeoutSeconds)
	assert.True(t, cfg.Swarm.Enabled)
	assert.Equal(t, ConsensusMerge, cfg.Swarm.DefaultConsensus)
	assert.Equal(t, 30, cfg.Gateway.RequestTimeoutSeconds)
}

func TestLoad_ExplicitFalseOverridesDefault(t *testing.T) {
	doc := []byte(`
a2a:
  server:
    streaming: false
swarm:
  enabled: false
`)

	cfg, err := Load(doc)
	require.NoError(t, err)

	assert.False(t, cfg.A2A.Server.Streaming)
	assert.False(t, cfg.Swarm.Enabled)
	assert.True(t, cfg.A2A.Enabled, "untouched sibling keeps its default")
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load([]byte("a2a: ["))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: parse")
}

func TestLoad_ValidationFailure(t *testing.T) {
	doc := []byte(`
a2a:
  auth:
    mode: basic
`)

	_, err := Load(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a2a.auth.mode")
}

func TestValidate_Violations(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero max tasks",
			mutate:  func(c *Config) { c.A2A.Server.MaxTasks = 0 },
			wantErr: "a2a.server.maxTasks",
		},
		{
			name:    "negative task expiry",
			mutate:  func(c *Config) { c.A2A.Server.TaskExpiryMinutes = -1 },
			wantErr: "a2a.server.taskExpiryMinutes",
		},
		{
			name:    "zero client timeout",
			mutate:  func(c *Config) { c.A2A.Client.TimeoutSeconds = 0 },
			wantErr: "a2a.client.timeoutSeconds",
		},
		{
			name:    "zero cache ttl",
			mutate:  func(c *Config) { c.A2A.Client.CacheTTLMinutes = 0 },
			wantErr: "a2a.client.cacheTtlMinutes",
		},
		{
			name:    "unknown auth mode",
			mutate:  func(c *Config) { c.A2A.Auth.Mode = "basic" },
			wantErr: "a2a.auth.mode",
		},
		{
			name:    "token mode without token",
			mutate:  func(c *Config) { c.A2A.Auth.Mode = AuthModeToken },
			wantErr: "a2a.auth.token is required",
		},
		{
			name:    "zero agents per swarm",
			mutate:  func(c *Config) { c.Swarm.MaxAgentsPerSwarm = 0 },
			wantErr: "swarm.maxAgentsPerSwarm",
		},
		{
			name:    "zero concurrent swarms",
			mutate:  func(c *Config) { c.Swarm.MaxConcurrentSwarms = 0 },
			wantErr: "swarm.maxConcurrentSwarms",
		},
		{
			name:    "zero agent timeout",
			mutate:  func(c *Config) { c.Swarm.AgentTimeoutMs = 0 },
			wantErr: "swarm.agentTimeoutMs",
		},
		{
			name:    "unknown consensus strategy",
			mutate:  func(c *Config) { c.Swarm.DefaultConsensus = "quorum" },
			wantErr: "swarm.defaultConsensus",
		},
		{
			name:    "zero gateway timeout",
			mutate:  func(c *Config) { c.Gateway.RequestTimeoutSeconds = 0 },
			wantErr: "gateway.requestTimeoutSeconds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_TokenModeWithToken(t *testing.T) {
	cfg := Default()
	cfg.A2A.Auth.Mode = AuthModeToken
	cfg.A2A.Auth.Token = "s3cret"

	require.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentmesh.yaml")
	doc := []byte(`
a2a:
  server:
    exposeAgents:
      - researcher
      - critic
gateway:
  url: ws://localhost:9000/ws
`)
	require.NoError(t, os.WriteFile(path, doc, 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"researcher", "critic"}, cfg.A2A.Server.ExposeAgents)
	assert.Equal(t, "ws://localhost:9000/ws", cfg.Gateway.URL)
	assert.Equal(t, 100, cfg.A2A.Server.MaxTasks)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read")
}

func TestDurationAccessors(t *testing.T) {
	cfg := Default()

	assert.Equal(t, time.Hour, cfg.A2A.Server.TaskExpiry())
	assert.Equal(t, 2*time.Minute, cfg.A2A.Client.Timeout())
	assert.Equal(t, 5*time.Minute, cfg.A2A.Client.CacheTTL())
	assert.Equal(t, 5*time.Minute, cfg.Swarm.AgentTimeout())
	assert.Equal(t, 30*time.Second, cfg.Gateway.RequestTimeout())
}
