package stream

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/j-veylop/antigravity-gateway/internal/models"
)

var doneFrame = []byte("data: [DONE]\n\n")

// Sink is the downstream consumer of normalized events.
type Sink func(models.StreamEvent) error

// EventWriter encodes events as SSE data frames.
type EventWriter struct {
	w     io.Writer
	pools *Pools
}

// NewEventWriter creates a writer over w. pools may be nil.
func NewEventWriter(w io.Writer, pools *Pools) *EventWriter {
	if pools == nil {
		pools = NewPools()
	}
	return &EventWriter{w: w, pools: pools}
}

// WriteEvent writes one `data: <json>` frame in a single Write call.
func (e *EventWriter) WriteEvent(ev models.StreamEvent) error {
	buf := e.pools.Chunks.Get()
	defer e.pools.Chunks.Put(buf)

	buf.WriteString(dataPrefix)
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode stream event: %w", err)
	}
	buf.Write(payload)
	buf.WriteString("\n\n")

	if _, err := e.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write stream event: %w", err)
	}
	return nil
}

// WriteDone writes the terminal [DONE] frame.
func (e *EventWriter) WriteDone() error {
	if _, err := e.w.Write(doneFrame); err != nil {
		return fmt.Errorf("failed to write stream end: %w", err)
	}
	return nil
}

// Sink returns a Sink that writes every event as a frame.
func (e *EventWriter) Sink() Sink {
	return e.WriteEvent
}
