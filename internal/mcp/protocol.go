// Package mcp implements the JSON-RPC method set of the MCP endpoint:
// initialize, tools/list, tools/call, and notifications, independent of
// how responses are framed on the wire.
package mcp

// JSON-RPC error codes used by the dispatcher.
const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request is one JSON-RPC request envelope. A nil ID marks a
// notification: side effects are applied but no response is produced.
type Request struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      any            `json:"id,omitempty"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

// IsNotification reports whether the request expects no response object.
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

// RPCError is the error member of a response envelope.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Response is one JSON-RPC response envelope; exactly one of Result and
// Error is set.
type Response struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id,omitempty"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

func resultResponse(id any, result any) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: result}
}

// ErrorResponse builds an error envelope. Exported so the transport can
// frame parse errors with the same shape.
func ErrorResponse(id any, code int, message string) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
}

// ContentItem is one piece of a tool result, MCP's content shape.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolResult is what a tool call returns. IsError marks an expected
// domain failure reported inside the result, as opposed to a dispatcher
// fault.
type ToolResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

func textResult(text string) *ToolResult {
	return &ToolResult{Content: []ContentItem{{Type: "text", Text: text}}}
}

func textError(text string) *ToolResult {
	return &ToolResult{Content: []ContentItem{{Type: "text", Text: text}}, IsError: true}
}

// ToolDescriptor is the tools/list entry for one tool.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}
