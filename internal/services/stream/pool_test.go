package stream

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/j-veylop/antigravity-gateway/internal/models"
)

func TestPool_ReusesAndBounds(t *testing.T) {
	created := 0
	p := NewPool(2, func() *bytes.Buffer { created++; return new(bytes.Buffer) }, func(b *bytes.Buffer) { b.Reset() })

	a, b, c := p.Get(), p.Get(), p.Get()
	assert.Equal(t, 3, created)

	a.WriteString("dirty")
	p.Put(a)
	p.Put(b)
	p.Put(c)
	assert.Equal(t, 2, p.Len(), "items beyond the bound are dropped")

	reused := p.Get()
	assert.Equal(t, 0, reused.Len(), "reset runs on Put")
	assert.Equal(t, 3, created)
	assert.Equal(t, 0, p.Trim())
}

func TestNewPools_Bounds(t *testing.T) {
	p := NewPools()
	for range ChunkPoolSize + 5 {
		p.Chunks.Put(new(bytes.Buffer))
	}
	for range LineBufferPoolSize + 5 {
		p.LineBuffers.Put(new(LineBuffer))
	}

	assert.Equal(t, ChunkPoolSize, p.Chunks.Len())
	assert.Equal(t, LineBufferPoolSize, p.LineBuffers.Len())
	assert.Equal(t, "function", p.ToolCalls.Get().Type)
}

func TestEventWriter_WritesFrames(t *testing.T) {
	var out bytes.Buffer
	w := NewEventWriter(&out, nil)

	require.NoError(t, w.Sink()(models.StreamEvent{Type: models.EventText, Content: "hi"}))
	require.NoError(t, w.WriteDone())

	assert.Equal(t, "data: {\"type\":\"text\",\"content\":\"hi\"}\n\ndata: [DONE]\n\n", out.String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestEventWriter_WriteError(t *testing.T) {
	w := NewEventWriter(failingWriter{}, NewPools())

	err := w.WriteEvent(models.StreamEvent{Type: models.EventText})
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "failed to write stream event"))
	assert.Error(t, w.WriteDone())
}
