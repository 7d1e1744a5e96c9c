// Package toolnames keeps the short-lived mappings the relay needs to undo
// request rewriting: sanitized tool names back to the caller's originals, and
// the latest thought signatures per session.
package toolnames

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/j-veylop/antigravity-gateway/internal/clock"
)

// Bounds shared by every cache in this package.
const (
	MaxEntries = 16
	EntryTTL   = 30 * time.Minute
)

const maxNameLength = 128

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Sanitize rewrites name into the character set upstream accepts.
func Sanitize(name string) string {
	cleaned := strings.Trim(unsafeChars.ReplaceAllString(name, "_"), "_")
	if cleaned == "" {
		return "tool"
	}
	if len(cleaned) > maxNameLength {
		cleaned = cleaned[:maxNameLength]
	}
	return cleaned
}

type entry struct {
	value   string
	written time.Time
	seq     uint64
}

// ttlCache is a small map bounded by age and entry count. The oldest write
// is evicted first.
type ttlCache struct {
	mu      sync.RWMutex
	clock   clock.Clock
	entries map[string]entry
	seq     uint64
	max     int
	ttl     time.Duration
}

func newTTLCache(clk clock.Clock) *ttlCache {
	if clk == nil {
		clk = clock.Real()
	}
	return &ttlCache{
		clock:   clk,
		entries: make(map[string]entry),
		max:     MaxEntries,
		ttl:     EntryTTL,
	}
}

func (c *ttlCache) set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.entries[key] = entry{value: value, written: c.clock.Now(), seq: c.seq}
	c.pruneSizeLocked()
}

func (c *ttlCache) get(key string) (string, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	if c.clock.Now().Sub(e.written) > c.ttl {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur.seq == e.seq {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return "", false
	}
	return e.value, true
}

func (c *ttlCache) prune(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	before := len(c.entries)
	for key, e := range c.entries {
		if now.Sub(e.written) > c.ttl {
			delete(c.entries, key)
		}
	}
	c.pruneSizeLocked()
	return before - len(c.entries)
}

func (c *ttlCache) pruneSizeLocked() {
	excess := len(c.entries) - c.max
	if excess <= 0 {
		return
	}
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return c.entries[keys[i]].seq < c.entries[keys[j]].seq })
	for _, key := range keys[:excess] {
		delete(c.entries, key)
	}
}

func (c *ttlCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *ttlCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

func key(scope, name string) string {
	return scope + "::" + name
}

// ToolNameCache maps model::safeName to the caller's original tool name.
type ToolNameCache struct {
	c *ttlCache
}

// NewToolNameCache creates an empty cache. A nil clock means real time.
func NewToolNameCache(clk clock.Clock) *ToolNameCache {
	return &ToolNameCache{c: newTTLCache(clk)}
}

// Set records a mapping. Identical or empty names are ignored.
func (t *ToolNameCache) Set(model, safeName, original string) {
	if safeName == "" || original == "" || safeName == original {
		return
	}
	t.c.set(key(model, safeName), original)
}

// Register sanitizes original, records the mapping when the name changed and
// returns the name to send upstream.
func (t *ToolNameCache) Register(model, original string) string {
	safe := Sanitize(original)
	if model != "" {
		t.Set(model, safe, original)
	}
	return safe
}

// Original returns the caller's name for safeName, if still cached.
func (t *ToolNameCache) Original(model, safeName string) (string, bool) {
	if safeName == "" {
		return "", false
	}
	return t.c.get(key(model, safeName))
}

// Restore returns the original name for safeName, or safeName itself.
func (t *ToolNameCache) Restore(model, safeName string) string {
	if model == "" {
		return safeName
	}
	if original, ok := t.Original(model, safeName); ok {
		return original
	}
	return safeName
}

// Prune drops expired entries, then the oldest ones above the size bound.
func (t *ToolNameCache) Prune(now time.Time) int {
	return t.c.prune(now)
}

// Len returns the number of cached mappings.
func (t *ToolNameCache) Len() int {
	return t.c.len()
}

// Clear removes every mapping.
func (t *ToolNameCache) Clear() {
	t.c.clear()
}

// SignatureCache keeps the latest reasoning and tool-call thought signatures
// per session and model.
type SignatureCache struct {
	reasoning *ttlCache
	tool      *ttlCache
}

// NewSignatureCache creates an empty cache. A nil clock means real time.
func NewSignatureCache(clk clock.Clock) *SignatureCache {
	return &SignatureCache{reasoning: newTTLCache(clk), tool: newTTLCache(clk)}
}

// SetReasoning stores the reasoning signature for session and model.
func (s *SignatureCache) SetReasoning(sessionID, model, signature string) {
	if sessionID == "" || model == "" || signature == "" {
		return
	}
	s.reasoning.set(key(sessionID, model), signature)
}

// Reasoning returns the cached reasoning signature.
func (s *SignatureCache) Reasoning(sessionID, model string) (string, bool) {
	return s.reasoning.get(key(sessionID, model))
}

// SetTool stores the tool-call signature for session and model.
func (s *SignatureCache) SetTool(sessionID, model, signature string) {
	if sessionID == "" || model == "" || signature == "" {
		return
	}
	s.tool.set(key(sessionID, model), signature)
}

// Tool returns the cached tool-call signature.
func (s *SignatureCache) Tool(sessionID, model string) (string, bool) {
	return s.tool.get(key(sessionID, model))
}

// Prune applies the age and size bounds to both signature kinds.
func (s *SignatureCache) Prune(now time.Time) int {
	return s.reasoning.prune(now) + s.tool.prune(now)
}

// Len returns the total number of cached signatures.
func (s *SignatureCache) Len() int {
	return s.reasoning.len() + s.tool.len()
}
