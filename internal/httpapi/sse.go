package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"ragchat/internal/chat"
)

// sseWriter wraps an http.ResponseWriter to emit chat.Event as named SSE
// events, one per spec.md §6's token/citation/done/error framing.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &sseWriter{w: w, f: flusher}, true
}

// send writes one "event: <kind>\ndata: <json>\n\n" frame and flushes
// immediately so the client sees it as soon as it's produced.
func (s *sseWriter) send(kind chat.EventKind, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", kind, data)
	s.f.Flush()
}

// forward translates one chat.Event into its SSE frame.
func (s *sseWriter) forward(ev chat.Event) {
	switch ev.Kind {
	case chat.EventToken:
		s.send(ev.Kind, map[string]string{"content": ev.Token})
	case chat.EventCitation:
		s.send(ev.Kind, ev.Citation)
	case chat.EventDone:
		s.send(ev.Kind, ev.Done)
	case chat.EventError:
		s.send(ev.Kind, ev.Error)
	}
}
