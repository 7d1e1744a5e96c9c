package stream

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/j-veylop/antigravity-gateway/internal/models"
	"github.com/j-veylop/antigravity-gateway/internal/services/toolnames"
)

const dataPrefix = "data: "

// Emit receives each normalized event.
type Emit func(models.StreamEvent)

// State carries what one stream has seen so far.
type State struct {
	SessionID string
	Model     string
	// Signature is the latest thought signature on the stream.
	Signature string
	toolCalls []*models.ToolCall
}

// PendingToolCalls returns how many tool calls are buffered.
func (s *State) PendingToolCalls() int {
	return len(s.toolCalls)
}

type streamChunk struct {
	Response struct {
		Candidates []struct {
			Content struct {
				Parts []streamPart `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
		UsageMetadata *struct {
			PromptTokenCount     int64 `json:"promptTokenCount"`
			CandidatesTokenCount int64 `json:"candidatesTokenCount"`
			TotalTokenCount      int64 `json:"totalTokenCount"`
		} `json:"usageMetadata"`
	} `json:"response"`
}

type streamPart struct {
	Text             *string       `json:"text"`
	FunctionCall     *functionCall `json:"functionCall"`
	ThoughtSignature string        `json:"thoughtSignature"`
	Thought          bool          `json:"thought"`
}

type functionCall struct {
	Args json.RawMessage `json:"args"`
	ID   string          `json:"id"`
	Name string          `json:"name"`
}

// Parser converts upstream SSE lines into StreamEvents.
type Parser struct {
	pools      *Pools
	names      *toolnames.ToolNameCache
	signatures *toolnames.SignatureCache
	// cacheSignatures stores observed signatures for later requests.
	cacheSignatures bool
}

// NewParser creates a parser. names and signatures may be nil.
func NewParser(pools *Pools, names *toolnames.ToolNameCache, signatures *toolnames.SignatureCache, cacheSignatures bool) *Parser {
	if pools == nil {
		pools = NewPools()
	}
	return &Parser{
		pools:           pools,
		names:           names,
		signatures:      signatures,
		cacheSignatures: cacheSignatures && signatures != nil,
	}
}

// ParseLine handles one SSE line. Lines that are not data lines, or whose
// payload is not valid JSON, are ignored.
func (p *Parser) ParseLine(line string, state *State, emit Emit) {
	payload, ok := strings.CutPrefix(strings.TrimSuffix(line, "\r"), dataPrefix)
	if !ok {
		return
	}

	var chunk streamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return
	}
	if len(chunk.Response.Candidates) == 0 {
		return
	}
	candidate := chunk.Response.Candidates[0]

	for _, part := range candidate.Content.Parts {
		if part.ThoughtSignature != "" && part.ThoughtSignature != state.Signature {
			state.Signature = part.ThoughtSignature
			if p.cacheSignatures {
				p.signatures.SetReasoning(state.SessionID, state.Model, part.ThoughtSignature)
			}
		}

		switch {
		case part.Thought:
			text := ""
			if part.Text != nil {
				text = *part.Text
			}
			emit(models.StreamEvent{
				Type:      models.EventReasoning,
				Reasoning: text,
				Signature: firstNonEmpty(part.ThoughtSignature, state.Signature),
			})
		case part.Text != nil:
			emit(models.StreamEvent{Type: models.EventText, Content: *part.Text})
		case part.FunctionCall != nil:
			state.toolCalls = append(state.toolCalls, p.toolCall(part, state))
		}
	}

	if candidate.FinishReason == "" {
		return
	}
	if len(state.toolCalls) > 0 {
		calls := make([]models.ToolCall, len(state.toolCalls))
		for i, tc := range state.toolCalls {
			calls[i] = *tc
		}
		p.Release(state)
		emit(models.StreamEvent{Type: models.EventToolCalls, ToolCalls: calls})
	}
	if usage := chunk.Response.UsageMetadata; usage != nil {
		emit(models.StreamEvent{
			Type: models.EventUsage,
			Usage: &models.TokenCounts{
				Prompt:     usage.PromptTokenCount,
				Completion: usage.CandidatesTokenCount,
				Total:      usage.TotalTokenCount,
			},
		})
	}
}

func (p *Parser) toolCall(part streamPart, state *State) *models.ToolCall {
	fc := part.FunctionCall
	tc := p.pools.ToolCalls.Get()
	tc.Type = "function"

	tc.ID = fc.ID
	if tc.ID == "" {
		tc.ID = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	tc.Function.Name = fc.Name
	if p.names != nil {
		tc.Function.Name = p.names.Restore(state.Model, fc.Name)
	}
	tc.Function.Arguments = p.compactArgs(fc.Args)

	if sig := firstNonEmpty(part.ThoughtSignature, state.Signature); sig != "" {
		tc.ThoughtSignature = sig
		if p.cacheSignatures {
			p.signatures.SetTool(state.SessionID, state.Model, sig)
		}
	}
	return tc
}

func (p *Parser) compactArgs(args json.RawMessage) string {
	if len(args) == 0 || string(args) == "null" {
		return "{}"
	}
	buf := p.pools.Chunks.Get()
	defer p.pools.Chunks.Put(buf)
	if err := json.Compact(buf, args); err != nil {
		return string(args)
	}
	return buf.String()
}

// Release returns buffered tool calls to the pool without emitting them.
func (p *Parser) Release(state *State) {
	for i, tc := range state.toolCalls {
		p.pools.ToolCalls.Put(tc)
		state.toolCalls[i] = nil
	}
	state.toolCalls = state.toolCalls[:0]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
