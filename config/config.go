// Package config holds the YAML-backed runtime configuration for the
// agentmesh subsystems. It only enumerates and validates options;
// environment and CLI parsing stay with the integrator, which maps
// these structs onto the a2a, swarm and gateway constructors.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Auth modes accepted by AuthConfig.Mode.
const (
	AuthModeNone    = "none"
	AuthModeToken   = "token"
	AuthModeGateway = "gateway"
)

// Consensus strategies accepted by SwarmConfig.DefaultConsensus.
const (
	ConsensusMerge = "merge"
	ConsensusVote  = "vote"
	ConsensusChain = "chain"
	ConsensusBest  = "best"
)

// Config is the root runtime configuration.
type Config struct {
	A2A     A2AConfig     `json:"a2a" yaml:"a2a"`
	Swarm   SwarmConfig   `json:"swarm" yaml:"swarm"`
	Gateway GatewayConfig `json:"gateway" yaml:"gateway"`
}

// A2AConfig configures the protocol engine.
type A2AConfig struct {
	Enabled bool         `json:"enabled" yaml:"enabled"`
	BaseURL string       `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	Server  ServerConfig `json:"server" yaml:"server"`
	Client  ClientConfig `json:"client" yaml:"client"`
	Auth    AuthConfig   `json:"auth" yaml:"auth"`
}

// ServerConfig configures the serving half of the protocol engine.
type ServerConfig struct {
	Enabled           bool     `json:"enabled" yaml:"enabled"`
	ExposeAgents      []string `json:"exposeAgents,omitempty" yaml:"exposeAgents,omitempty"`
	MaxTasks          int      `json:"maxTasks" yaml:"maxTasks"`
	TaskExpiryMinutes int      `json:"taskExpiryMinutes" yaml:"taskExpiryMinutes"`
	Streaming         bool     `json:"streaming" yaml:"streaming"`
	PushNotifications bool     `json:"pushNotifications" yaml:"pushNotifications"`
}

// ClientConfig configures outbound protocol calls.
type ClientConfig struct {
	Enabled         bool     `json:"enabled" yaml:"enabled"`
	TimeoutSeconds  int      `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	CacheTTLMinutes int      `json:"cacheTtlMinutes" yaml:"cacheTtlMinutes"`
	Agents          []string `json:"agents,omitempty" yaml:"agents,omitempty"`
}

// AuthConfig selects how inbound requests authenticate.
type AuthConfig struct {
	Mode  string `json:"mode" yaml:"mode"`
	Token string `json:"token,omitempty" yaml:"token,omitempty"`
}

// SwarmConfig bounds the orchestrator.
type SwarmConfig struct {
	Enabled             bool   `json:"enabled" yaml:"enabled"`
	MaxAgentsPerSwarm   int    `json:"maxAgentsPerSwarm" yaml:"maxAgentsPerSwarm"`
	MaxConcurrentSwarms int    `json:"maxConcurrentSwarms" yaml:"maxConcurrentSwarms"`
	AgentTimeoutMs      int    `json:"agentTimeoutMs" yaml:"agentTimeoutMs"`
	DefaultConsensus    string `json:"defaultConsensus" yaml:"defaultConsensus"`
}

// GatewayConfig configures the UI transport.
type GatewayConfig struct {
	Enabled               bool   `json:"enabled" yaml:"enabled"`
	URL                   string `json:"url,omitempty" yaml:"url,omitempty"`
	RequestTimeoutSeconds int    `json:"requestTimeoutSeconds" yaml:"requestTimeoutSeconds"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		A2A: A2AConfig{
			Enabled: true,
			Server: ServerConfig{
				Enabled:           true,
				MaxTasks:          100,
				TaskExpiryMinutes: 60,
				Streaming:         true,
				PushNotifications: false,
			},
			Client: ClientConfig{
				Enabled:         true,
				TimeoutSeconds:  120,
				CacheTTLMinutes: 5,
			},
			Auth: AuthConfig{
				Mode: AuthModeNone,
			},
		},
		Swarm: SwarmConfig{
			Enabled:             true,
			MaxAgentsPerSwarm:   10,
			MaxConcurrentSwarms: 5,
			AgentTimeoutMs:      300000,
			DefaultConsensus:    ConsensusMerge,
		},
		Gateway: GatewayConfig{
			Enabled:               true,
			RequestTimeoutSeconds: 30,
		},
	}
}

// Load parses YAML bytes overlaid on Default, so fields absent from
// the document keep their default values, and validates the result.
func Load(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a YAML configuration file via Load.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is chosen by the operator
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Load(data)
}

// Validate returns the first configuration violation found.
func (c *Config) Validate() error {
	if c.A2A.Server.MaxTasks <= 0 {
		return fmt.Errorf("config: a2a.server.maxTasks must be positive, got %d", c.A2A.Server.MaxTasks)
	}
	if c.A2A.Server.TaskExpiryMinutes <= 0 {
		return fmt.Errorf("config: a2a.server.taskExpiryMinutes must be positive, got %d", c.A2A.Server.TaskExpiryMinutes)
	}
	if c.A2A.Client.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: a2a.client.timeoutSeconds must be positive, got %d", c.A2A.Client.TimeoutSeconds)
	}
	if c.A2A.Client.CacheTTLMinutes <= 0 {
		return fmt.Errorf("config: a2a.client.cacheTtlMinutes must be positive, got %d", c.A2A.Client.CacheTTLMinutes)
	}

	switch c.A2A.Auth.Mode {
	case AuthModeNone, AuthModeToken, AuthModeGateway:
	default:
		return fmt.Errorf("config: a2a.auth.mode must be none, token or gateway, got %q", c.A2A.Auth.Mode)
	}
	if c.A2A.Auth.Mode == AuthModeToken && c.A2A.Auth.Token == "" {
		return errors.New("config: a2a.auth.token is required when mode is token")
	}

	if c.Swarm.MaxAgentsPerSwarm <= 0 {
		return fmt.Errorf("config: swarm.maxAgentsPerSwarm must be positive, got %d", c.Swarm.MaxAgentsPerSwarm)
	}
	if c.Swarm.MaxConcurrentSwarms <= 0 {
		return fmt.Errorf("config: swarm.maxConcurrentSwarms must be positive, got %d", c.Swarm.MaxConcurrentSwarms)
	}
	if c.Swarm.AgentTimeoutMs <= 0 {
		return fmt.Errorf("config: swarm.agentTimeoutMs must be positive, got %d", c.Swarm.AgentTimeoutMs)
	}

	switch c.Swarm.DefaultConsensus {
	case ConsensusMerge, ConsensusVote, ConsensusChain, ConsensusBest:
	default:
		return fmt.Errorf("config: swarm.defaultConsensus must be merge, vote, chain or best, got %q", c.Swarm.DefaultConsensus)
	}

	if c.Gateway.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("config: gateway.requestTimeoutSeconds must be positive, got %d", c.Gateway.RequestTimeoutSeconds)
	}

	return nil
}

// TaskExpiry returns the server task expiry as a duration.
func (c ServerConfig) TaskExpiry() time.Duration {
	return time.Duration(c.TaskExpiryMinutes) * time.Minute
}

// Timeout returns the client call timeout as a duration.
func (c ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CacheTTL returns the card cache TTL as a duration.
func (c ClientConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMinutes) * time.Minute
}

// AgentTimeout returns the per-agent execution deadline as a duration.
func (c SwarmConfig) AgentTimeout() time.Duration {
	return time.Duration(c.AgentTimeoutMs) * time.Millisecond
}

// RequestTimeout returns the gateway request timeout as a duration.
func (c GatewayConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}
