package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"time"
)

const defaultHeartbeat = 25 * time.Second

// eventStream writes text/event-stream frames.
type eventStream struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// openEventStream commits the SSE headers. It clears the server write deadline so
// long-lived streams are not cut by the server's WriteTimeout.
func openEventStream(w http.ResponseWriter) (*eventStream, error) {
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return nil, fmt.Errorf("event stream: %w", err)
	}
	return &eventStream{w: w, rc: rc}, nil
}

// send writes one event. Multi-line data is split across data: fields.
func (s *eventStream) send(event, id string, data []byte) error {
	var buf bytes.Buffer
	if id != "" {
		fmt.Fprintf(&buf, "id: %s\n", id)
	}
	if event != "" {
		fmt.Fprintf(&buf, "event: %s\n", event)
	}
	for _, line := range bytes.Split(data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(bytes.TrimRight(line, "\r"))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *eventStream) ping() error {
	if _, err := s.w.Write([]byte(": ping\n\n")); err != nil {
		return err
	}
	return s.rc.Flush()
}
