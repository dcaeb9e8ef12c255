// Package vapi translates between VAPI tool-call webhooks and plain values.
package vapi

import (
	"bytes"
	"encoding/json"
	"strings"

	"vapidispatch/pkg/apperr"
)

// UnknownToolCallID is used in failure envelopes when no tool call id could
// be read from the request.
const UnknownToolCallID = "unknown"

// ToolCall is the first tool call of an inbound envelope.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Request is a decoded inbound envelope.
type Request struct {
	ToolCall ToolCall
	Call     Call
}

// SessionID is the key under which caller context is stored for this voice
// call: the call id, then the vapi_call_id argument, then the tool call id.
func (r *Request) SessionID() string {
	if r.Call.ID != "" {
		return r.Call.ID
	}
	if v, ok := r.ToolCall.Arguments["vapi_call_id"].(string); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return r.ToolCall.ID
}

type inboundEnvelope struct {
	Message *struct {
		ToolCalls []inboundToolCall `json:"toolCalls"`
		Call      *inboundCall      `json:"call"`
	} `json:"message"`
}

type inboundToolCall struct {
	ID       string `json:"id"`
	Function *struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

// Decode parses an inbound tool-call envelope. Only the first tool call is
// used. Every failure is a MalformedRequest.
func Decode(body []byte) (*Request, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, apperr.Malformed("The request body was not valid JSON.", err)
	}
	if env.Message == nil {
		return nil, apperr.Malformed("The request had no message.", nil)
	}
	if len(env.Message.ToolCalls) == 0 {
		return nil, apperr.Malformed("The request had no tool calls.", nil)
	}
	tc := env.Message.ToolCalls[0]
	if strings.TrimSpace(tc.ID) == "" {
		return nil, apperr.Malformed("The tool call had no id.", nil)
	}
	if tc.Function == nil {
		return nil, apperr.Malformed("The tool call had no function.", nil)
	}
	args, err := decodeArguments(tc.Function.Arguments)
	if err != nil {
		return nil, err
	}

	req := &Request{
		ToolCall: ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args},
	}
	if env.Message.Call != nil {
		req.Call = env.Message.Call.toCall()
	}
	return req, nil
}

// decodeArguments accepts an object or a JSON string holding an object.
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, apperr.Malformed("The tool call had no arguments.", nil)
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, apperr.Malformed("The tool call arguments could not be read.", err)
		}
		raw = []byte(s)
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, apperr.Malformed("The tool call arguments could not be read.", err)
	}
	if args == nil {
		return nil, apperr.Malformed("The tool call had no arguments.", nil)
	}
	return args, nil
}

// Response is the outbound envelope.
type Response struct {
	Results []Result `json:"results"`
}

// Result is one tool result.
type Result struct {
	ToolCallID string `json:"toolCallId"`
	Result     any    `json:"result"`
}

// FailureResult is the result payload for a failed tool call.
type FailureResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Success wraps one handler result.
func Success(toolCallID string, result any) Response {
	return Response{Results: []Result{{ToolCallID: toolCallID, Result: result}}}
}

// Failure wraps err as a failure result. Only the kind and the safe message
// reach the caller.
func Failure(toolCallID string, err error) Response {
	if toolCallID == "" {
		toolCallID = UnknownToolCallID
	}
	return Success(toolCallID, FailureResult{
		Success: false,
		Error:   string(apperr.KindOf(err)),
		Message: apperr.SafeMessage(err),
	})
}
