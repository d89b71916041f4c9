// Package payload defines the run input: agent configuration plus the task
// to execute. Parsing applies defaults; the API key check is the only
// validation that is fatal before any provider connection is attempted.
package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

const (
	DefaultMaxTokens   = 4096
	DefaultTemperature = 1.0
)

var (
	ErrMissingAPIKey = errors.New("api key must be provided in config or the ANTHROPIC_API_KEY environment variable")
	ErrMissingTask   = errors.New("payload is missing a task")
)

// ServerSpec describes how to launch one MCP server over stdio.
// Used once, at connection time.
type ServerSpec struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// AgentConfig is immutable once a run starts.
type AgentConfig struct {
	APIKey       string       `json:"api_key,omitempty"`
	Model        string       `json:"model,omitempty"`
	MaxTokens    int64        `json:"max_tokens,omitempty"`
	Temperature  *float64     `json:"temperature,omitempty"`
	MCPServers   []ServerSpec `json:"mcp_servers,omitempty"`
	BuiltinTools bool         `json:"builtin_tools,omitempty"`
}

// Payload is the full run input: configuration, the task instruction, and
// optional structured context appended to the instruction text.
type Payload struct {
	Config  AgentConfig    `json:"config"`
	Task    string         `json:"task"`
	Context map[string]any `json:"context,omitempty"`
}

// Parse decodes a JSON payload and applies defaults. Unknown fields are
// ignored; a missing task is an error.
func Parse(b []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if p.Task == "" {
		return nil, ErrMissingTask
	}
	if p.Config.MaxTokens <= 0 {
		p.Config.MaxTokens = DefaultMaxTokens
	}
	if p.Config.Temperature == nil {
		t := DefaultTemperature
		p.Config.Temperature = &t
	}
	return &p, nil
}

// Load reads and parses a payload file.
func Load(path string) (*Payload, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// ResolveAPIKey returns the configured API key, falling back to the
// ANTHROPIC_API_KEY environment variable.
func (c AgentConfig) ResolveAPIKey() (string, error) {
	if c.APIKey != "" {
		return c.APIKey, nil
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return key, nil
	}
	return "", ErrMissingAPIKey
}
