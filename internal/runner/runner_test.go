package runner_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/petasbytes/mcp-agent/internal/registry"
	"github.com/petasbytes/mcp-agent/internal/runner"
	"github.com/petasbytes/mcp-agent/internal/telemetry"
)

// fakeTransport serves one canned response per completion call, in order,
// and captures every request body.
type fakeTransport struct {
	responses [][]byte
	bodies    [][]byte
}

func (f *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	b, _ := io.ReadAll(req.Body)
	_ = req.Body.Close()
	f.bodies = append(f.bodies, b)

	i := len(f.bodies) - 1
	if i >= len(f.responses) {
		return nil, errors.New("fakeTransport: no response configured for call")
	}
	resp := &http.Response{
		StatusCode: 200,
		Body:       io.NopCloser(bytes.NewReader(f.responses[i])),
		Header:     make(http.Header),
	}
	resp.Header.Set("Content-Type", "application/json")
	return resp, nil
}

func newClientWithTransport(rt http.RoundTripper) *anthropic.Client {
	c := anthropic.NewClient(
		option.WithHTTPClient(&http.Client{Transport: rt}),
		option.WithAPIKey("test-key"),
	)
	return &c
}

type fakeProvider struct {
	result any
	err    error
	calls  []map[string]any
}

func (f *fakeProvider) ListTools(ctx context.Context) ([]registry.ToolDescriptor, error) {
	return nil, nil
}

func (f *fakeProvider) CallTool(ctx context.Context, name string, input map[string]any) (any, error) {
	f.calls = append(f.calls, input)
	return f.result, f.err
}

func (f *fakeProvider) Close() error { return nil }

func newRunner(fake *fakeTransport, reg *registry.Registry) *runner.Runner {
	if reg == nil {
		reg = registry.New()
	}
	return runner.New(newClientWithTransport(fake), reg, telemetry.Nop())
}

func searchRegistry(p *fakeProvider) *registry.Registry {
	reg := registry.New()
	reg.Register("srv", p, []registry.ToolDescriptor{{
		Name:        "search",
		Description: "Search things.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"query": map[string]any{"type": "string"}},
			"required":   []any{"query"},
		},
	}})
	return reg
}

const endTurnResponse = `{
	"role": "assistant",
	"model": "m",
	"stop_reason": "end_turn",
	"content": [{"type": "text", "text": "all done"}],
	"usage": {"input_tokens": 10, "output_tokens": 5}
}`

const toolUseResponse = `{
	"role": "assistant",
	"model": "m",
	"stop_reason": "tool_use",
	"content": [
		{"type": "text", "text": "let me check"},
		{"type": "tool_use", "id": "t1", "name": "search", "input": {"query": "x"}}
	],
	"usage": {"input_tokens": 7, "output_tokens": 3}
}`

func initialConv(text string) []anthropic.MessageParam {
	return []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(text))}
}

func TestRun_NoTools_SingleCallAndToolsParamAbsent(t *testing.T) {
	fake := &fakeTransport{responses: [][]byte{[]byte(endTurnResponse)}}
	r := newRunner(fake, nil)

	out, err := r.Run(context.Background(), initialConv("What is 2+2?"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(fake.bodies) != 1 {
		t.Fatalf("completion calls: got %d want 1", len(fake.bodies))
	}

	var body map[string]any
	if err := json.Unmarshal(fake.bodies[0], &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	// Absent, not present-and-empty.
	if _, ok := body["tools"]; ok {
		t.Errorf("tools param must be absent with an empty catalog, body=%s", fake.bodies[0])
	}

	if out.Text != "all done" {
		t.Errorf("text: got %q", out.Text)
	}
	if out.StopReason != "end_turn" {
		t.Errorf("stop_reason: got %q", out.StopReason)
	}
	if out.Usage.InputTokens != 10 || out.Usage.OutputTokens != 5 {
		t.Errorf("usage: got %+v", out.Usage)
	}
}

func TestRun_TerminalResponse_ConcatenatesTextBlocksInOrder(t *testing.T) {
	resp := `{
		"role": "assistant",
		"stop_reason": "end_turn",
		"content": [
			{"type": "text", "text": "first "},
			{"type": "text", "text": "second"}
		],
		"usage": {"input_tokens": 1, "output_tokens": 1}
	}`
	fake := &fakeTransport{responses: [][]byte{[]byte(resp)}}
	r := newRunner(fake, nil)

	out, err := r.Run(context.Background(), initialConv("hi"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.Text != "first second" {
		t.Errorf("text: got %q", out.Text)
	}
}

func TestRun_ToolTurn_DispatchesAndContinues(t *testing.T) {
	prov := &fakeProvider{result: map[string]any{"result": "y"}}
	fake := &fakeTransport{responses: [][]byte{[]byte(toolUseResponse), []byte(endTurnResponse)}}
	r := newRunner(fake, searchRegistry(prov))

	out, err := r.Run(context.Background(), initialConv("find x"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(fake.bodies) != 2 {
		t.Fatalf("completion calls: got %d want 2", len(fake.bodies))
	}
	if len(prov.calls) != 1 {
		t.Fatalf("tool dispatches: got %d want 1", len(prov.calls))
	}
	if prov.calls[0]["query"] != "x" {
		t.Errorf("tool input: got %v", prov.calls[0])
	}

	// The conversation grew by exactly two messages for the tool turn:
	// the full assistant content, then one tool-result user message.
	var second struct {
		Messages []struct {
			Role    string `json:"role"`
			Content []struct {
				Type      string `json:"type"`
				Text      string `json:"text,omitempty"`
				ID        string `json:"id,omitempty"`
				ToolUseID string `json:"tool_use_id,omitempty"`
			} `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(fake.bodies[1], &second); err != nil {
		t.Fatalf("unmarshal second body: %v", err)
	}
	if len(second.Messages) != 3 {
		t.Fatalf("second call messages: got %d want 3", len(second.Messages))
	}

	assistant := second.Messages[1]
	if assistant.Role != "assistant" || len(assistant.Content) != 2 {
		t.Fatalf("assistant turn not preserved in full: %+v", assistant)
	}
	if assistant.Content[0].Type != "text" || assistant.Content[1].Type != "tool_use" || assistant.Content[1].ID != "t1" {
		t.Errorf("assistant blocks: %+v", assistant.Content)
	}

	toolResult := second.Messages[2]
	if toolResult.Role != "user" || len(toolResult.Content) != 1 || toolResult.Content[0].Type != "tool_result" {
		t.Fatalf("tool result message: %+v", toolResult)
	}
	if toolResult.Content[0].ToolUseID != "t1" {
		t.Errorf("tool_use_id: got %q", toolResult.Content[0].ToolUseID)
	}
	if !strings.Contains(string(fake.bodies[1]), `{\"result\":\"y\"}`) {
		t.Errorf("serialized structured result missing from body: %s", fake.bodies[1])
	}

	if out.Text != "all done" {
		t.Errorf("final text: got %q", out.Text)
	}
}

func TestRun_NToolTurns_MakesNPlusOneCalls(t *testing.T) {
	prov := &fakeProvider{result: "ok"}
	fake := &fakeTransport{responses: [][]byte{
		[]byte(toolUseResponse),
		[]byte(toolUseResponse),
		[]byte(toolUseResponse),
		[]byte(endTurnResponse),
	}}
	r := newRunner(fake, searchRegistry(prov))

	out, err := r.Run(context.Background(), initialConv("loop it"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(fake.bodies) != 4 {
		t.Errorf("completion calls: got %d want 4", len(fake.bodies))
	}
	if len(prov.calls) != 3 {
		t.Errorf("tool dispatches: got %d want 3", len(prov.calls))
	}
	if out.Turns != 4 {
		t.Errorf("turns: got %d", out.Turns)
	}
	// Final usage comes from the terminal response.
	if out.Usage.InputTokens != 10 || out.Usage.OutputTokens != 5 {
		t.Errorf("usage: got %+v", out.Usage)
	}
}

func TestRun_ToolsParamCarriesCatalogSchema(t *testing.T) {
	prov := &fakeProvider{result: "ok"}
	fake := &fakeTransport{responses: [][]byte{[]byte(endTurnResponse)}}
	r := newRunner(fake, searchRegistry(prov))

	if _, err := r.Run(context.Background(), initialConv("hi")); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	var body struct {
		Tools []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			InputSchema struct {
				Type       string         `json:"type"`
				Properties map[string]any `json:"properties"`
				Required   []string       `json:"required"`
			} `json:"input_schema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(fake.bodies[0], &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if len(body.Tools) != 1 || body.Tools[0].Name != "search" {
		t.Fatalf("tools: %+v", body.Tools)
	}
	if _, ok := body.Tools[0].InputSchema.Properties["query"]; !ok {
		t.Errorf("input_schema properties: %+v", body.Tools[0].InputSchema)
	}
	if len(body.Tools[0].InputSchema.Required) != 1 || body.Tools[0].InputSchema.Required[0] != "query" {
		t.Errorf("input_schema required: %+v", body.Tools[0].InputSchema.Required)
	}
}

func TestRun_OnlyFirstToolUseBlockIsHonored(t *testing.T) {
	resp := `{
		"role": "assistant",
		"stop_reason": "tool_use",
		"content": [
			{"type": "tool_use", "id": "t1", "name": "search", "input": {"query": "first"}},
			{"type": "tool_use", "id": "t2", "name": "search", "input": {"query": "second"}}
		],
		"usage": {"input_tokens": 1, "output_tokens": 1}
	}`
	prov := &fakeProvider{result: "ok"}
	fake := &fakeTransport{responses: [][]byte{[]byte(resp), []byte(endTurnResponse)}}
	r := newRunner(fake, searchRegistry(prov))

	if _, err := r.Run(context.Background(), initialConv("hi")); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(prov.calls) != 1 {
		t.Fatalf("dispatches: got %d want 1", len(prov.calls))
	}
	if prov.calls[0]["query"] != "first" {
		t.Errorf("honored wrong tool_use block: %v", prov.calls[0])
	}
}

func TestRun_ToolUseStopReasonWithoutBlock_ExitsWithText(t *testing.T) {
	resp := `{
		"role": "assistant",
		"stop_reason": "tool_use",
		"content": [{"type": "text", "text": "confused"}],
		"usage": {"input_tokens": 1, "output_tokens": 1}
	}`
	prov := &fakeProvider{result: "ok"}
	fake := &fakeTransport{responses: [][]byte{[]byte(resp)}}
	r := newRunner(fake, searchRegistry(prov))

	out, err := r.Run(context.Background(), initialConv("hi"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(fake.bodies) != 1 {
		t.Errorf("completion calls: got %d want 1", len(fake.bodies))
	}
	if len(prov.calls) != 0 {
		t.Errorf("no dispatch expected, got %d", len(prov.calls))
	}
	if out.Text != "confused" {
		t.Errorf("text: got %q", out.Text)
	}
}

func TestRun_DispatchFailure_EndsTheRun(t *testing.T) {
	prov := &fakeProvider{err: errors.New("backend down")}
	fake := &fakeTransport{responses: [][]byte{[]byte(toolUseResponse), []byte(endTurnResponse)}}
	r := newRunner(fake, searchRegistry(prov))

	_, err := r.Run(context.Background(), initialConv("hi"))
	if !errors.Is(err, registry.ErrToolNotFound) {
		t.Fatalf("want wrapped ErrToolNotFound, got %v", err)
	}
	if len(fake.bodies) != 1 {
		t.Errorf("no further completion call after a failed dispatch, got %d", len(fake.bodies))
	}
}

func TestRun_CompletionError_Propagates(t *testing.T) {
	fake := &fakeTransport{} // zero responses configured: the call fails
	r := newRunner(fake, nil)

	_, err := r.Run(context.Background(), initialConv("hi"))
	if err == nil {
		t.Fatal("expected completion error")
	}
}

func TestRun_CancelledContext_StopsBeforeCompletionCall(t *testing.T) {
	fake := &fakeTransport{responses: [][]byte{[]byte(endTurnResponse)}}
	r := newRunner(fake, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, initialConv("hi"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if len(fake.bodies) != 0 {
		t.Errorf("no completion call expected after cancel, got %d", len(fake.bodies))
	}
}

func TestSerialize(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want string
	}{
		{"string passthrough", "already text", "already text"},
		{"struct to JSON", map[string]any{"result": "y"}, `{"result":"y"}`},
		{"number", 42, "42"},
		{"nil", nil, "null"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := runner.Serialize(tc.in); got != tc.want {
				t.Errorf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestSerialize_UnmarshalableValueFallsBackToFormatting(t *testing.T) {
	got := runner.Serialize(make(chan int))
	if got == "" {
		t.Fatal("fallback must produce a non-empty string")
	}
	if !strings.Contains(got, "chan") {
		t.Errorf("got %q", got)
	}
}
