package stream

import (
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/j-veylop/antigravity-gateway/internal/config"
	"github.com/j-veylop/antigravity-gateway/internal/logger"
	"github.com/j-veylop/antigravity-gateway/internal/services/scheduler"
)

var heartbeatFrame = []byte(": heartbeat\n\n")

// Registrar runs periodic callbacks. *scheduler.Scheduler satisfies it.
type Registrar interface {
	Register(name string, every time.Duration, fn scheduler.Func) (unregister func())
}

// closedWriter is implemented by downstream writers that know when the
// client has gone away.
type closedWriter interface {
	Closed() bool
}

// Heartbeat keeps an SSE stream alive with comment frames. It also
// serializes event writes to the same writer so frames never interleave.
type Heartbeat struct {
	mu         sync.Mutex
	w          io.Writer
	unregister func()
	stopped    bool
	beats      int
}

// StartHeartbeat writes a heartbeat frame to w every interval until Stop is
// called, w reports closed, or a write fails.
func StartHeartbeat(w io.Writer, reg Registrar, interval time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = config.DefaultHeartbeatInterval
	}
	h := &Heartbeat{w: w}

	h.mu.Lock()
	h.unregister = reg.Register("heartbeat-"+uuid.NewString()[:8], interval, h.beat)
	h.mu.Unlock()
	return h
}

func (h *Heartbeat) beat(time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	if c, ok := h.w.(closedWriter); ok && c.Closed() {
		h.stopLocked()
		return
	}
	if _, err := h.w.Write(heartbeatFrame); err != nil {
		logger.Debug("heartbeat write failed, stopping", "error", err)
		h.stopLocked()
		return
	}
	h.flushLocked()
	h.beats++
}

// Write sends p to the underlying writer and flushes it.
func (h *Heartbeat) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, err := h.w.Write(p)
	if err == nil {
		h.flushLocked()
	}
	return n, err
}

func (h *Heartbeat) flushLocked() {
	if f, ok := h.w.(http.Flusher); ok {
		f.Flush()
	}
}

// Stop deregisters the heartbeat. It is safe to call more than once.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked()
}

func (h *Heartbeat) stopLocked() {
	if h.stopped {
		return
	}
	h.stopped = true
	if h.unregister != nil {
		h.unregister()
	}
}

// Beats returns the number of heartbeat frames written.
func (h *Heartbeat) Beats() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.beats
}

// Stopped reports whether the heartbeat has deregistered.
func (h *Heartbeat) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}
