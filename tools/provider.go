package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/petasbytes/mcp-agent/internal/registry"
)

// Definition is one built-in tool.
type Definition struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     func(ctx context.Context, input json.RawMessage) (any, error)
}

// Definitions returns all built-in tools wired for the agent.
func Definitions() []Definition {
	return []Definition{CurrentTimeDefinition, ReadFileDefinition, ListFilesDefinition}
}

// Provider serves the built-in tools through the registry's provider
// contract.
type Provider struct {
	defs []Definition
}

func NewProvider() *Provider {
	return &Provider{defs: Definitions()}
}

// Descriptors returns the catalog without the error leg of ListTools; the
// built-in catalog cannot fail.
func (p *Provider) Descriptors() []registry.ToolDescriptor {
	out := make([]registry.ToolDescriptor, 0, len(p.defs))
	for _, d := range p.defs {
		out = append(out, registry.ToolDescriptor{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		})
	}
	return out
}

func (p *Provider) ListTools(ctx context.Context) ([]registry.ToolDescriptor, error) {
	return p.Descriptors(), nil
}

func (p *Provider) CallTool(ctx context.Context, name string, input map[string]any) (any, error) {
	for i := range p.defs {
		if p.defs[i].Name != name {
			continue
		}
		raw, err := json.Marshal(input)
		if err != nil {
			return nil, fmt.Errorf("encode input for %s: %w", name, err)
		}
		return p.defs[i].Handler(ctx, raw)
	}
	return nil, fmt.Errorf("unknown tool %q", name)
}

func (p *Provider) Close() error { return nil }

// GenerateSchema derives a JSON Schema object from T's fields and
// jsonschema tags.
func GenerateSchema[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(&v)

	b, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}
