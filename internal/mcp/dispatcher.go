package mcp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tumf/oneoff-docker-runner/internal/session"
)

// ServerInfo identifies the server in the initialize handshake.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Tool is one named operation exposed over tools/call. Implementations
// are registered once at startup; tools/list and dispatch both derive
// from the same table.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Call(ctx context.Context, args map[string]any) (*ToolResult, error)
}

// Dispatcher routes JSON-RPC requests to method handlers. It is
// transport-agnostic: the HTTP layer decides whether the returned
// response is written as a plain body or framed as a server-push event.
type Dispatcher struct {
	sessions *session.Store
	logger   *slog.Logger
	info     ServerInfo
	tools    []Tool
	byName   map[string]Tool
}

func NewDispatcher(sessions *session.Store, logger *slog.Logger, info ServerInfo, tools ...Tool) *Dispatcher {
	byName := make(map[string]Tool, len(tools))
	for _, t := range tools {
		byName[t.Name()] = t
	}
	return &Dispatcher{
		sessions: sessions,
		logger:   logger,
		info:     info,
		tools:    tools,
		byName:   byName,
	}
}

// ToolDescriptors returns the static tool registry in registration
// order.
func (d *Dispatcher) ToolDescriptors() []ToolDescriptor {
	descriptors := make([]ToolDescriptor, 0, len(d.tools))
	for _, t := range d.tools {
		descriptors = append(descriptors, ToolDescriptor{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return descriptors
}

// ServerInfo returns the identity advertised in initialize and stream
// preambles.
func (d *Dispatcher) ServerInfo() ServerInfo {
	return d.info
}

// Dispatch handles one request against the session identified by
// sessionID, which the transport has already created or renewed. The
// return is nil for notifications.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID string, req *Request) *Response {
	resp := d.handle(ctx, sessionID, req)
	if req.IsNotification() {
		return nil
	}
	return resp
}

func (d *Dispatcher) handle(ctx context.Context, sessionID string, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return d.handleInitialize(sessionID, req)
	case "notifications/initialized":
		// Handshake acknowledgement; nothing to record beyond the
		// initialize call itself.
		return resultResponse(req.ID, map[string]any{})
	case "tools/list":
		return resultResponse(req.ID, map[string]any{"tools": d.ToolDescriptors()})
	case "tools/call":
		return d.handleToolsCall(ctx, req)
	default:
		return ErrorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (d *Dispatcher) handleInitialize(sessionID string, req *Request) *Response {
	protocolVersion := session.DefaultProtocolVersion
	if v, ok := req.Params["protocolVersion"].(string); ok && v != "" {
		protocolVersion = v
	}

	if d.sessions.Get(sessionID) == nil {
		d.sessions.Create(sessionID)
	}
	d.sessions.MarkInitialized(sessionID, protocolVersion)

	return resultResponse(req.ID, map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{"tools": map[string]any{}},
		"serverInfo":      d.info,
	})
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, req *Request) (resp *Response) {
	if req.Params == nil {
		return ErrorResponse(req.ID, CodeInvalidParams, "missing params")
	}

	name, ok := req.Params["name"].(string)
	if !ok || name == "" {
		return ErrorResponse(req.ID, CodeInvalidParams, "missing or invalid tool name")
	}

	tool, ok := d.byName[name]
	if !ok {
		return ErrorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("tool %q not found", name))
	}

	args, _ := req.Params["arguments"].(map[string]any)

	// A tool fault must surface as a JSON-RPC error, never as a
	// transport-level failure.
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool panicked", "tool", name, "panic", r)
			resp = ErrorResponse(req.ID, CodeInternalError, fmt.Sprintf("internal error: %v", r))
		}
	}()

	result, err := tool.Call(ctx, args)
	if err != nil {
		d.logger.Error("tool call failed", "tool", name, "error", err)
		return ErrorResponse(req.ID, CodeInternalError, fmt.Sprintf("internal error: %v", err))
	}
	return resultResponse(req.ID, result)
}
