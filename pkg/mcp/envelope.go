// Package mcp parses the JSON-RPC envelope the proxy forwards in the
// X-Body header, so the validate endpoint never consumes the original
// request stream.
package mcp

import (
	"encoding/json"
	"errors"

	"golang.org/x/exp/jsonrpc2"
)

// MethodToolsCall is the method whose params carry a tool name.
const MethodToolsCall = "tools/call"

// ErrNotARequest is returned for valid JSON-RPC messages that are not
// requests or notifications.
var ErrNotARequest = errors.New("envelope is not a JSON-RPC request")

// Envelope is the parsed JSON-RPC request the proxy received.
type Envelope struct {
	// Method is the MCP method, e.g. initialize, tools/list, tools/call.
	Method string

	// ID is the raw JSON-RPC request id; nil for notifications.
	ID any

	// Params is the raw params object.
	Params json.RawMessage

	// ToolName is params.name, populated only for tools/call.
	ToolName string

	// Arguments is params.arguments, populated only for tools/call.
	Arguments map[string]any
}

// ParseEnvelope decodes a JSON-RPC 2.0 envelope and extracts the method
// plus, for tools/call, the tool name.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	if len(raw) == 0 {
		return nil, errors.New("empty envelope")
	}

	msg, err := jsonrpc2.DecodeMessage(raw)
	if err != nil {
		return nil, err
	}

	req, ok := msg.(*jsonrpc2.Request)
	if !ok {
		return nil, ErrNotARequest
	}

	env := &Envelope{
		Method: req.Method,
		ID:     req.ID.Raw(),
		Params: req.Params,
	}

	if req.Method == MethodToolsCall && len(req.Params) > 0 {
		var params struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal(req.Params, &params); err == nil {
			env.ToolName = params.Name
			env.Arguments = params.Arguments
		}
	}

	return env, nil
}

// Encode re-serializes the envelope as a JSON-RPC request. With canonical
// input this round-trips byte-equal through ParseEnvelope.
func (e *Envelope) Encode() ([]byte, error) {
	var req *jsonrpc2.Request
	var err error
	if e.ID == nil {
		req, err = jsonrpc2.NewNotification(e.Method, json.RawMessage(e.Params))
	} else {
		var id jsonrpc2.ID
		id, err = makeID(e.ID)
		if err == nil {
			req, err = jsonrpc2.NewCall(id, e.Method, json.RawMessage(e.Params))
		}
	}
	if err != nil {
		return nil, err
	}
	return jsonrpc2.EncodeMessage(req)
}

func makeID(raw any) (jsonrpc2.ID, error) {
	switch v := raw.(type) {
	case int64:
		return jsonrpc2.Int64ID(v), nil
	case float64:
		return jsonrpc2.Int64ID(int64(v)), nil
	case string:
		return jsonrpc2.StringID(v), nil
	default:
		return jsonrpc2.ID{}, errors.New("unsupported JSON-RPC id type")
	}
}
