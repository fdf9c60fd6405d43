// Package sse writes text/event-stream frames.
package sse

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const ContentType = "text/event-stream"

type Event struct {
	ID   string
	Name string
	Data []byte
}

// Writer frames events onto w, flushing after each frame when w supports it.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

func NewWriter(w io.Writer) *Writer {
	flusher, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: flusher}
}

// Encode writes a single event frame. Multi-line data is split across data
// fields so the client reassembles it verbatim.
func Encode(w io.Writer, e Event) error {
	var buf bytes.Buffer
	if e.ID != "" {
		fmt.Fprintf(&buf, "id: %s\n", sanitize(e.ID))
	}
	if e.Name != "" {
		fmt.Fprintf(&buf, "event: %s\n", sanitize(e.Name))
	}
	for _, line := range bytes.Split(e.Data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(bytes.TrimSuffix(line, []byte("\r")))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return nil
}

func (w *Writer) Event(e Event) error {
	if err := Encode(w.w, e); err != nil {
		return err
	}
	w.flush()
	return nil
}

// Comment writes a comment frame, used as a keep-alive.
func (w *Writer) Comment(text string) error {
	if _, err := fmt.Fprintf(w.w, ": %s\n\n", sanitize(text)); err != nil {
		return fmt.Errorf("writing comment: %w", err)
	}
	w.flush()
	return nil
}

// Retry tells the client how long to wait before reconnecting.
func (w *Writer) Retry(d time.Duration) error {
	if _, err := fmt.Fprintf(w.w, "retry: %d\n\n", d.Milliseconds()); err != nil {
		return fmt.Errorf("writing retry: %w", err)
	}
	w.flush()
	return nil
}

func (w *Writer) flush() {
	if w.flusher != nil {
		w.flusher.Flush()
	}
}

func sanitize(s string) string {
	return strings.NewReplacer("\r", "", "\n", " ").Replace(s)
}
