// Package registry aggregates tool catalogs from every connected provider
// into one flat namespace and routes invocations to whichever provider
// answers first.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/petasbytes/mcp-agent/internal/telemetry"
)

// ErrToolNotFound is returned by Dispatch when no provider produced a
// successful result for the named tool.
var ErrToolNotFound = errors.New("tool not found on any connected provider")

// ToolDescriptor is one advertised tool. InputSchema is a JSON Schema
// object carried as decoded JSON.
type ToolDescriptor struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Provider is one connected tool source. The provider is the source of
// truth for whether a tool name exists there: CallTool with an unknown name
// fails the same way a failing tool does.
type Provider interface {
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
	CallTool(ctx context.Context, name string, input map[string]any) (any, error)
	Close() error
}

type entry struct {
	name     string
	provider Provider
	tools    []ToolDescriptor
}

// Registry holds providers in registration order. Registration order is
// dispatch order; it is not safe for concurrent use.
type Registry struct {
	entries []entry
}

func New() *Registry {
	return &Registry{}
}

// Register appends a provider and its cached catalog. Duplicate tool names
// across providers are allowed; routing resolves them by trying providers
// in registration order.
func (r *Registry) Register(name string, p Provider, tools []ToolDescriptor) {
	r.entries = append(r.entries, entry{name: name, provider: p, tools: tools})
}

// Providers reports the number of registered providers.
func (r *Registry) Providers() int {
	return len(r.entries)
}

// AllTools returns the aggregated catalog in registration order, without
// de-duplication.
func (r *Registry) AllTools() []ToolDescriptor {
	var out []ToolDescriptor
	for _, e := range r.entries {
		out = append(out, e.tools...)
	}
	return out
}

// Dispatch tries each provider in registration order; the first call that
// does not fail wins. When every provider fails, the result is
// ErrToolNotFound wrapping each provider's attempt error, so "no such tool
// here" stays readable in diagnostics even though it is conflated with
// execution failure at this boundary.
func (r *Registry) Dispatch(ctx context.Context, name string, input map[string]any) (any, error) {
	var attempts []error
	for _, e := range r.entries {
		result, err := e.provider.CallTool(ctx, name, input)
		if err != nil {
			attempts = append(attempts, fmt.Errorf("%s: %w", e.name, err))
			continue
		}
		return result, nil
	}
	err := fmt.Errorf("%w: %q", ErrToolNotFound, name)
	if len(attempts) > 0 {
		err = fmt.Errorf("%w (%w)", err, errors.Join(attempts...))
	}
	return nil, err
}

// CloseAll closes every provider independently. A failing close is observed
// and never suppresses the remaining closes; nothing is returned.
func (r *Registry) CloseAll(obs *telemetry.Observer) {
	for _, e := range r.entries {
		if err := e.provider.Close(); err != nil {
			obs.Emit("provider_close_failed", map[string]any{
				"provider": e.name,
				"error":    err.Error(),
			})
			continue
		}
		obs.Emit("provider_closed", map[string]any{"provider": e.name})
	}
}
