package stream

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/j-veylop/antigravity-gateway/internal/clock"
	"github.com/j-veylop/antigravity-gateway/internal/models"
	"github.com/j-veylop/antigravity-gateway/internal/services/toolnames"
)

type collector struct {
	events []models.StreamEvent
}

func (c *collector) emit(ev models.StreamEvent) {
	c.events = append(c.events, ev)
}

func (c *collector) types() []models.EventType {
	out := make([]models.EventType, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Type
	}
	return out
}

func newTestParser(cache bool) (*Parser, *toolnames.ToolNameCache, *toolnames.SignatureCache) {
	fake := clock.NewFake(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	names := toolnames.NewToolNameCache(fake)
	sigs := toolnames.NewSignatureCache(fake)
	return NewParser(NewPools(), names, sigs, cache), names, sigs
}

func TestParser_TextAndReasoning(t *testing.T) {
	p, _, _ := newTestParser(false)
	state := &State{Model: "gemini-3-pro"}
	var c collector

	p.ParseLine(`data: {"response":{"candidates":[{"content":{"parts":[`+
		`{"thought":true,"text":"thinking","thoughtSignature":"sig-1"},`+
		`{"text":"Hello"},{"text":""}]}}]}}`, state, c.emit)

	require.Len(t, c.events, 3)
	assert.Equal(t, models.EventReasoning, c.events[0].Type)
	assert.Equal(t, "thinking", c.events[0].Reasoning)
	assert.Equal(t, "sig-1", c.events[0].Signature)
	assert.Equal(t, models.StreamEvent{Type: models.EventText, Content: "Hello"}, c.events[1])
	assert.Equal(t, models.EventText, c.events[2].Type, "an empty text part still emits")
	assert.Equal(t, "sig-1", state.Signature)
}

func TestParser_ReasoningUsesStateSignature(t *testing.T) {
	p, _, _ := newTestParser(false)
	state := &State{Signature: "earlier"}
	var c collector

	p.ParseLine(`data: {"response":{"candidates":[{"content":{"parts":[{"thought":true}]}}]}}`, state, c.emit)

	require.Len(t, c.events, 1)
	assert.Equal(t, "earlier", c.events[0].Signature)
	assert.Empty(t, c.events[0].Reasoning)
}

func TestParser_ToolCalls(t *testing.T) {
	p, names, sigs := newTestParser(true)
	names.Set("claude-sonnet-4-5", "mcp_fs_read", "mcp.fs/read")
	state := &State{SessionID: "sess", Model: "claude-sonnet-4-5"}
	var c collector

	p.ParseLine(`data: {"response":{"candidates":[{"content":{"parts":[`+
		`{"functionCall":{"id":"toolu_1","name":"mcp_fs_read","args":{ "path" : "/tmp" }},"thoughtSignature":"sig-t"},`+
		`{"functionCall":{"name":"other"}}]}}]}}`, state, c.emit)

	assert.Empty(t, c.events, "tool calls are buffered until the finish reason")
	assert.Equal(t, 2, state.PendingToolCalls())

	p.ParseLine(`data: {"response":{"candidates":[{"content":{"parts":[]},"finishReason":"STOP"}],`+
		`"usageMetadata":{"promptTokenCount":12,"candidatesTokenCount":30,"totalTokenCount":42}}}`, state, c.emit)

	assert.Equal(t, []models.EventType{models.EventToolCalls, models.EventUsage}, c.types())
	calls := c.events[0].ToolCalls
	require.Len(t, calls, 2)

	assert.Equal(t, "toolu_1", calls[0].ID)
	assert.Equal(t, "function", calls[0].Type)
	assert.Equal(t, "mcp.fs/read", calls[0].Function.Name)
	assert.Equal(t, `{"path":"/tmp"}`, calls[0].Function.Arguments)
	assert.Equal(t, "sig-t", calls[0].ThoughtSignature)

	assert.True(t, strings.HasPrefix(calls[1].ID, "call_"))
	assert.Equal(t, "other", calls[1].Function.Name)
	assert.Equal(t, "{}", calls[1].Function.Arguments)
	assert.Equal(t, "sig-t", calls[1].ThoughtSignature, "later calls inherit the stream signature")

	assert.Equal(t, &models.TokenCounts{Prompt: 12, Completion: 30, Total: 42}, c.events[1].Usage)
	assert.Zero(t, state.PendingToolCalls())

	got, ok := sigs.Tool("sess", "claude-sonnet-4-5")
	require.True(t, ok)
	assert.Equal(t, "sig-t", got)
	got, ok = sigs.Reasoning("sess", "claude-sonnet-4-5")
	require.True(t, ok)
	assert.Equal(t, "sig-t", got)
}

func TestParser_SignatureCacheDisabled(t *testing.T) {
	p, _, sigs := newTestParser(false)
	state := &State{SessionID: "sess", Model: "m"}

	p.ParseLine(`data: {"response":{"candidates":[{"content":{"parts":[{"text":"x","thoughtSignature":"s"}]}}]}}`,
		state, func(models.StreamEvent) {})

	assert.Equal(t, "s", state.Signature)
	assert.Zero(t, sigs.Len())
}

func TestParser_FinishWithoutUsage(t *testing.T) {
	p, _, _ := newTestParser(false)
	var c collector

	p.ParseLine(`data: {"response":{"candidates":[{"finishReason":"STOP"}]}}`, &State{}, c.emit)

	assert.Empty(t, c.events)
}

func TestParser_IgnoresNoise(t *testing.T) {
	p, _, _ := newTestParser(false)
	var c collector
	state := &State{}

	for _, line := range []string{
		"",
		": keepalive",
		"event: message",
		"data: {not json",
		"data: [DONE]",
		`data: {"response":{}}`,
		`{"response":{"candidates":[{"content":{"parts":[{"text":"no prefix"}]}}]}}`,
	} {
		p.ParseLine(line, state, c.emit)
	}

	assert.Empty(t, c.events)
}

func TestParser_CarriageReturn(t *testing.T) {
	p, _, _ := newTestParser(false)
	var c collector

	p.ParseLine("data: {\"response\":{\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"hi\"}]}}]}}\r", &State{}, c.emit)

	require.Len(t, c.events, 1)
	assert.Equal(t, "hi", c.events[0].Content)
}

func TestParser_Release(t *testing.T) {
	pools := NewPools()
	p := NewParser(pools, nil, nil, true)
	state := &State{}

	p.ParseLine(`data: {"response":{"candidates":[{"content":{"parts":[{"functionCall":{"name":"a"}}]}}]}}`,
		state, func(models.StreamEvent) {})
	require.Equal(t, 1, state.PendingToolCalls())

	p.Release(state)
	assert.Zero(t, state.PendingToolCalls())
	assert.Equal(t, 1, pools.ToolCalls.Len())
}
