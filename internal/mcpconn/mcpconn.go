// Package mcpconn manages one stdio connection to one MCP server: launch,
// handshake, tool discovery, tool invocation, and close.
package mcpconn

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/petasbytes/mcp-agent/internal/registry"
)

const connectTimeout = 30 * time.Second

// Spec holds the launch parameters for one server process.
type Spec struct {
	Command string
	Args    []string
	Env     map[string]string
}

// Conn is one live server session. Close is idempotent.
type Conn struct {
	spec      Spec
	session   *mcp.ClientSession
	closeOnce sync.Once
	closeErr  error
}

// Connect launches the server process and performs the MCP handshake.
func Connect(ctx context.Context, spec Spec) (*Conn, error) {
	client := mcp.NewClient(&mcp.Implementation{
		Name:    "mcp-agent",
		Version: "1.0.0",
	}, nil)

	cmd := exec.Command(spec.Command, spec.Args...)
	if len(spec.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range spec.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	session, err := client.Connect(ctx, &mcp.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", spec.Command, err)
	}

	return &Conn{spec: spec, session: session}, nil
}

// ListTools returns the server's advertised tools. Called once per run,
// after connect; the orchestrator caches the result in the registry.
func (c *Conn) ListTools(ctx context.Context) ([]registry.ToolDescriptor, error) {
	result, err := c.session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools on %s: %w", c.spec.Command, err)
	}

	out := make([]registry.ToolDescriptor, 0, len(result.Tools))
	for _, t := range result.Tools {
		out = append(out, registry.ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schemaObject(t.InputSchema),
		})
	}
	return out, nil
}

// CallTool invokes a named tool. The server decides whether the name exists
// there; an unknown name surfaces as an ordinary call error.
func (c *Conn) CallTool(ctx context.Context, name string, input map[string]any) (any, error) {
	result, err := c.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: input,
	})
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", name, c.spec.Command, err)
	}
	return CoerceResult(result)
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.session.Close()
	})
	return c.closeErr
}

// CoerceResult turns a call result into an opaque value for the loop:
// all-text content becomes one joined string, structured content passes
// through as-is, and error results become Go errors carrying the text.
func CoerceResult(result *mcp.CallToolResult) (any, error) {
	if result.IsError {
		return nil, fmt.Errorf("tool returned error: %s", extractText(result.Content))
	}
	if text, ok := allText(result.Content); ok {
		return text, nil
	}
	if result.StructuredContent != nil {
		return result.StructuredContent, nil
	}
	return result.Content, nil
}

func allText(content []mcp.Content) (string, bool) {
	if len(content) == 0 {
		return "", false
	}
	parts := make([]string, 0, len(content))
	for _, c := range content {
		text, ok := c.(*mcp.TextContent)
		if !ok {
			return "", false
		}
		parts = append(parts, text.Text)
	}
	return strings.Join(parts, "\n"), true
}

func extractText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if text, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// schemaObject round-trips whatever schema representation the SDK carries
// into a plain JSON object.
func schemaObject(schema any) map[string]any {
	if schema != nil {
		if b, err := json.Marshal(schema); err == nil {
			var m map[string]any
			if err := json.Unmarshal(b, &m); err == nil {
				return m
			}
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}
