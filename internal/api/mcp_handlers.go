package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tumf/oneoff-docker-runner/internal/mcp"
	"github.com/tumf/oneoff-docker-runner/internal/session"
)

const sessionHeader = "Mcp-Session-Id"

// resolveSession returns the live session named by the request header,
// or a fresh one when the header is absent or names an expired session.
func (s *Server) resolveSession(r *http.Request) *session.Session {
	id := r.Header.Get(sessionHeader)
	if id != "" {
		if sess := s.sessions.Get(id); sess != nil {
			return sess
		}
	}
	return s.sessions.Create(id)
}

func (s *Server) handleMCPPost(w http.ResponseWriter, r *http.Request) {
	sess := s.resolveSession(r)
	w.Header().Set(sessionHeader, sess.ID)

	var req mcp.Request
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, mcp.ErrorResponse(nil, mcp.CodeParseError, "parse error: "+err.Error()))
		return
	}

	resp := s.dispatcher.Dispatch(r.Context(), sess.ID, &req)
	if resp == nil {
		// Notification: acknowledged, nothing to return.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if wantsSSE(r) {
		flusher, err := setupSSE(w)
		if err != nil {
			writeValidationError(w, err.Error(), nil)
			return
		}
		if err := writeSSEEvent(w, "message", resp); err != nil {
			s.logger.Debug("sse write failed", "session_id", sess.ID, "error", err)
			return
		}
		flusher.Flush()
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMCPStream(w http.ResponseWriter, r *http.Request) {
	sess := s.resolveSession(r)
	w.Header().Set(sessionHeader, sess.ID)

	flusher, err := setupSSE(w)
	if err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	preamble := []struct {
		event string
		data  any
	}{
		{"connection", map[string]any{"status": "connected", "session_id": sess.ID}},
		{"server_info", s.dispatcher.ServerInfo()},
		{"tools_available", map[string]any{"tools": s.dispatcher.ToolDescriptors()}},
	}
	for _, ev := range preamble {
		if err := writeSSEEvent(w, ev.event, ev.data); err != nil {
			return
		}
	}
	flusher.Flush()

	s.logger.Debug("stream opened", "session_id", sess.ID)
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.sessions.Delete(sess.ID)
			s.logger.Debug("stream closed", "session_id", sess.ID)
			return
		case now := <-ticker.C:
			if err := writeSSEEvent(w, "heartbeat", map[string]any{
				"timestamp": now.UTC().Format(time.RFC3339),
			}); err != nil {
				s.sessions.Delete(sess.ID)
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleMCPDelete(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(sessionHeader)
	if id == "" || !s.sessions.Delete(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "session terminated"})
}

func wantsSSE(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// setupSSE configures headers for Server-Sent Events streaming.
func setupSSE(w http.ResponseWriter) (http.Flusher, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	return flusher, nil
}

func writeSSEEvent(w io.Writer, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}
