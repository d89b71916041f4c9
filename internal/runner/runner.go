// Package runner drives the request/execute/continue cycle against the
// Anthropic Messages API until the model stops asking for tools.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/petasbytes/mcp-agent/internal/provider"
	"github.com/petasbytes/mcp-agent/internal/registry"
	"github.com/petasbytes/mcp-agent/internal/telemetry"
)

// Usage holds the token counters from the final completion response.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Outcome is the terminal state of one conversation.
type Outcome struct {
	Text       string
	StopReason string
	Usage      Usage
	Turns      int
}

// Runner holds the loop's dependencies and model parameters. Fields may be
// overridden between New and Run; a Runner serves one run at a time.
type Runner struct {
	Client      *anthropic.Client
	Registry    *registry.Registry
	Obs         *telemetry.Observer
	Model       anthropic.Model
	MaxTokens   int64
	Temperature float64
}

func New(client *anthropic.Client, reg *registry.Registry, obs *telemetry.Observer) *Runner {
	return &Runner{
		Client:      client,
		Registry:    reg,
		Obs:         obs,
		Model:       provider.DefaultModel,
		MaxTokens:   4096,
		Temperature: 1.0,
	}
}

type invocation struct {
	id    string
	name  string
	input map[string]any
}

// Run executes the conversation to termination. The message sequence is
// append-only and sent whole on every call: one assistant message and one
// tool-result user message per tool turn. A failed tool dispatch ends the
// run with an error rather than being fed back to the model.
func (r *Runner) Run(ctx context.Context, conv []anthropic.MessageParam) (*Outcome, error) {
	tools := r.toolParams()
	turns := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		params := anthropic.MessageNewParams{
			Model:       r.Model,
			MaxTokens:   r.MaxTokens,
			Temperature: anthropic.Float(r.Temperature),
			Messages:    conv,
		}
		// With an empty catalog the tools parameter stays absent entirely,
		// not present-and-empty.
		if len(tools) > 0 {
			params.Tools = tools
		}

		msg, err := r.Client.Messages.New(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("completion: %w", err)
		}
		turns++

		r.Obs.Emit("completion_call", map[string]any{
			"model":         string(r.Model),
			"turn":          turns,
			"stop_reason":   string(msg.StopReason),
			"input_tokens":  msg.Usage.InputTokens,
			"output_tokens": msg.Usage.OutputTokens,
		})

		if msg.StopReason != anthropic.StopReasonToolUse {
			return r.outcome(msg, turns), nil
		}

		inv, err := firstToolUse(msg)
		if err != nil {
			return nil, err
		}
		if inv == nil {
			// The stop reason promised a tool call but no tool_use block
			// arrived; exit with whatever text is present.
			r.Obs.Emit("tool_use_missing", map[string]any{"turn": turns})
			return r.outcome(msg, turns), nil
		}

		// The assistant turn is appended in full so the API sees a coherent
		// conversation on the next call.
		conv = append(conv, msg.ToParam())

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		result, err := r.Registry.Dispatch(ctx, inv.name, inv.input)
		if err != nil {
			r.Obs.Emit("tool_dispatch", map[string]any{
				"tool_name":   inv.name,
				"duration_ms": time.Since(start).Milliseconds(),
				"error":       err.Error(),
			})
			return nil, fmt.Errorf("dispatch %q: %w", inv.name, err)
		}

		content := Serialize(result)
		r.Obs.Emit("tool_dispatch", map[string]any{
			"tool_name":   inv.name,
			"duration_ms": time.Since(start).Milliseconds(),
			"output_size": len(content),
		})

		conv = append(conv, anthropic.NewUserMessage(
			anthropic.NewToolResultBlock(inv.id, content, false),
		))
	}
}

func (r *Runner) outcome(msg *anthropic.Message, turns int) *Outcome {
	var text string
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += tb.Text
		}
	}
	return &Outcome{
		Text:       text,
		StopReason: string(msg.StopReason),
		Usage: Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
		Turns: turns,
	}
}

// firstToolUse extracts the first tool_use block; later tool_use blocks in
// the same response are ignored, one round-trip per model turn.
func firstToolUse(msg *anthropic.Message) (*invocation, error) {
	for _, block := range msg.Content {
		tu, ok := block.AsAny().(anthropic.ToolUseBlock)
		if !ok {
			continue
		}
		var input map[string]any
		if raw := tu.JSON.Input.Raw(); raw != "" && raw != "null" {
			if err := json.Unmarshal([]byte(raw), &input); err != nil {
				return nil, fmt.Errorf("completion: malformed input for tool %q: %w", tu.Name, err)
			}
		}
		return &invocation{id: tu.ID, name: tu.Name, input: input}, nil
	}
	return nil, nil
}

func (r *Runner) toolParams() []anthropic.ToolUnionParam {
	descriptors := r.Registry.AllTools()
	out := make([]anthropic.ToolUnionParam, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        d.Name,
			Description: anthropic.String(d.Description),
			InputSchema: inputSchemaParam(d.InputSchema),
		}})
	}
	return out
}

func inputSchemaParam(schema map[string]any) anthropic.ToolInputSchemaParam {
	var p anthropic.ToolInputSchemaParam
	if props, ok := schema["properties"]; ok {
		p.Properties = props
	}
	if req, ok := schema["required"].([]any); ok {
		for _, v := range req {
			if s, ok := v.(string); ok {
				p.Required = append(p.Required, s)
			}
		}
	}
	return p
}

// Serialize coerces a tool result to the string sent back to the model.
// Strings pass through untouched; anything else is JSON-encoded, falling
// back to plain formatting for values JSON cannot represent. It never fails.
func Serialize(result any) string {
	if s, ok := result.(string); ok {
		return s
	}
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(b)
}
