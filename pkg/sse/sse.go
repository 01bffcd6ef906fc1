// Package sse implements the chat stream wire format: one JSON payload per
// `data:` event, terminated by the literal [DONE] marker.
package sse

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DoneMarker terminates a successful stream.
const DoneMarker = "[DONE]"

// Event is one decoded stream payload. Exactly one field is set per event;
// GroundingMetadata is informational and may be ignored by consumers.
type Event struct {
	Text              string          `json:"text,omitempty"`
	Thought           string          `json:"thought,omitempty"`
	GroundingMetadata json.RawMessage `json:"groundingMetadata,omitempty"`
	Error             string          `json:"error,omitempty"`
}

// SetupHeaders sets the response headers for an event stream.
func SetupHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

// Encoder frames events onto an http response, flushing after each one so
// fragments reach the client as they arrive.
type Encoder struct {
	w       io.Writer
	flusher http.Flusher
}

// NewEncoder wraps a response writer. Fails when the writer cannot flush,
// since buffered delivery would defeat streaming.
func NewEncoder(w http.ResponseWriter) (*Encoder, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming unsupported by response writer")
	}
	SetupHeaders(w)
	return &Encoder{w: w, flusher: flusher}, nil
}

// Event writes one JSON payload frame.
func (e *Encoder) Event(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal sse payload: %w", err)
	}
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write sse payload: %w", err)
	}
	e.flusher.Flush()
	return nil
}

// Done writes the success terminator.
func (e *Encoder) Done() error {
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", DoneMarker); err != nil {
		return fmt.Errorf("failed to write sse terminator: %w", err)
	}
	e.flusher.Flush()
	return nil
}

// Decoder consumes an event-stream body. Next returns events in order and
// io.EOF once the [DONE] terminator arrives; a body that ends without the
// terminator yields io.ErrUnexpectedEOF, so partial streams are
// distinguishable from complete ones.
type Decoder struct {
	reader *bufio.Reader
}

// NewDecoder wraps a stream body.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{reader: bufio.NewReader(r)}
}

// Next returns the next event.
func (d *Decoder) Next() (Event, error) {
	for {
		line, err := d.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return Event{}, io.ErrUnexpectedEOF
			}
			return Event{}, err
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			// Unknown field lines (comments, event names) are skipped.
			continue
		}
		if payload == DoneMarker {
			return Event{}, io.EOF
		}

		var event Event
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return Event{}, fmt.Errorf("malformed sse payload: %w", err)
		}
		return event, nil
	}
}
