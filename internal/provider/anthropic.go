package provider

import (
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const DefaultModel = anthropic.ModelClaude3_7SonnetLatest

// NewClient returns a client using the given API key. Extra options are
// appended after the key so tests can override the transport.
func NewClient(apiKey string, opts ...option.RequestOption) *anthropic.Client {
	all := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	c := anthropic.NewClient(all...)
	return &c
}
