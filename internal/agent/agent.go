// Package agent owns the top-level run contract: connect the configured
// tool providers, build the initial conversation, execute the loop, and
// clean up every connection on every exit path.
package agent

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"

	"github.com/petasbytes/mcp-agent/internal/mcpconn"
	"github.com/petasbytes/mcp-agent/internal/payload"
	"github.com/petasbytes/mcp-agent/internal/provider"
	"github.com/petasbytes/mcp-agent/internal/registry"
	"github.com/petasbytes/mcp-agent/internal/runner"
	"github.com/petasbytes/mcp-agent/internal/telemetry"
	"github.com/petasbytes/mcp-agent/tools"
)

// RunResult is the run output returned to the caller. Usage comes from the
// final completion response.
type RunResult struct {
	Response   string       `json:"response"`
	Model      string       `json:"model"`
	StopReason string       `json:"stop_reason"`
	Usage      runner.Usage `json:"usage"`
}

// Connector opens one provider connection. Tests substitute in-process
// providers here; the default launches MCP servers over stdio.
type Connector func(ctx context.Context, spec payload.ServerSpec) (registry.Provider, error)

// Agent executes exactly one task end-to-end per Run call. Provider
// connections are owned by the run and never shared.
type Agent struct {
	Client  *anthropic.Client
	Obs     *telemetry.Observer
	Connect Connector
}

func New(client *anthropic.Client, obs *telemetry.Observer) *Agent {
	return &Agent{
		Client:  client,
		Obs:     obs,
		Connect: mcpConnect,
	}
}

func mcpConnect(ctx context.Context, spec payload.ServerSpec) (registry.Provider, error) {
	return mcpconn.Connect(ctx, mcpconn.Spec{
		Command: spec.Command,
		Args:    spec.Args,
		Env:     spec.Env,
	})
}

// Run connects providers in the order their specs were declared, executes
// the conversation loop, and closes every opened connection before
// returning, on the failure path included.
func (a *Agent) Run(ctx context.Context, p *payload.Payload) (*RunResult, error) {
	runID := uuid.NewString()

	reg := registry.New()
	defer reg.CloseAll(a.Obs)

	for _, spec := range p.Config.MCPServers {
		conn, err := a.Connect(ctx, spec)
		if err != nil {
			// One unreachable provider never aborts the run.
			a.Obs.Emit("provider_failed", map[string]any{
				"run_id":  runID,
				"command": spec.Command,
				"error":   err.Error(),
			})
			continue
		}

		descriptors, err := conn.ListTools(ctx)
		if err != nil {
			// The connection stays registered for cleanup; it just
			// contributes nothing to the catalog.
			a.Obs.Emit("provider_tools_failed", map[string]any{
				"run_id":  runID,
				"command": spec.Command,
				"error":   err.Error(),
			})
		}
		reg.Register(spec.Command, conn, descriptors)

		a.Obs.Emit("provider_connected", map[string]any{
			"run_id":  runID,
			"command": spec.Command,
			"tools":   len(descriptors),
		})
	}

	if p.Config.BuiltinTools {
		builtin := tools.NewProvider()
		reg.Register("builtin", builtin, builtin.Descriptors())
	}

	conv := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(a.initialPrompt(p, runID))),
	}

	model := provider.DefaultModel
	if p.Config.Model != "" {
		model = anthropic.Model(p.Config.Model)
	}

	r := runner.New(a.Client, reg, a.Obs)
	r.Model = model
	r.MaxTokens = p.Config.MaxTokens
	if p.Config.Temperature != nil {
		r.Temperature = *p.Config.Temperature
	}

	out, err := r.Run(ctx, conv)
	if err != nil {
		a.Obs.Emit("run_finished", map[string]any{
			"run_id": runID,
			"error":  err.Error(),
		})
		return nil, err
	}

	a.Obs.Emit("run_finished", map[string]any{
		"run_id":        runID,
		"stop_reason":   out.StopReason,
		"turns":         out.Turns,
		"input_tokens":  out.Usage.InputTokens,
		"output_tokens": out.Usage.OutputTokens,
	})

	return &RunResult{
		Response:   out.Text,
		Model:      string(model),
		StopReason: out.StopReason,
		Usage:      out.Usage,
	}, nil
}

// initialPrompt appends the structured context, when present, as a labeled
// JSON block. Context that cannot be encoded is dropped, never fatal.
func (a *Agent) initialPrompt(p *payload.Payload, runID string) string {
	text := p.Task
	if len(p.Context) == 0 {
		return text
	}
	b, err := json.MarshalIndent(p.Context, "", "  ")
	if err != nil {
		a.Obs.Emit("context_dropped", map[string]any{
			"run_id": runID,
			"error":  err.Error(),
		})
		return text
	}
	return text + "\n\nAdditional context:\n" + string(b)
}
