package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SSEWriter writes Server-Sent Events and flushes after every write so that each event
// reaches the client before the next upstream fragment is read.
type SSEWriter struct {
	w       io.Writer
	flusher http.Flusher
	rc      *http.ResponseController
}

// NewSSEWriter sets the event-stream headers and commits the 200 status.
// It fails when the ResponseWriter cannot flush.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming unsupported: response writer cannot flush")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEWriter{w: w, flusher: flusher, rc: http.NewResponseController(w)}, nil
}

// WriteEvent writes an "event:" line. The event is completed by the next WriteData.
func (s *SSEWriter) WriteEvent(name string) error {
	_, err := fmt.Fprintf(s.w, "event: %s\n", name)
	return err
}

// WriteData encodes v as JSON and writes it as a complete "data:" event.
func (s *SSEWriter) WriteData(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal SSE data: %w", err)
	}
	return s.WriteRaw(string(data))
}

// WriteRaw writes payload unmodified as a complete "data:" event.
func (s *SSEWriter) WriteRaw(payload string) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteFrame writes an already encoded frame.
func (s *SSEWriter) WriteFrame(frame []byte) error {
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// DisableWriteDeadline lifts the server's write timeout for this response. Streams may
// outlive any fixed deadline; client disconnects still end them through the context.
func (s *SSEWriter) DisableWriteDeadline() error {
	err := s.rc.SetWriteDeadline(time.Time{})
	if errors.Is(err, http.ErrNotSupported) {
		return nil
	}
	return err
}
