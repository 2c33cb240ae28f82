// Package cdp implements the client side of the DevTools-style control
// protocol: one persistent WebSocket session per remote process, with
// request/response correlation and execution-context tracking.
package cdp

import (
	"encoding/json"
	"fmt"
)

// frame is the single inbound/outbound wire shape. Outbound frames carry
// {id, method, params}; inbound frames are either a call reply
// {id, result|error} or an unsolicited notification {method, params}.
// No other shapes are defined by the protocol.
type frame struct {
	ID     *int64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *frameError     `json:"error,omitempty"`
}

// frameError is the error field of a failed call reply.
type frameError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// isReply reports whether the frame correlates to an outstanding call.
func (f *frame) isReply() bool {
	return f.ID != nil
}

// isNotification reports whether the frame is an unsolicited notification.
func (f *frame) isNotification() bool {
	return f.ID == nil && f.Method != ""
}

// newRequest builds an outbound call frame.
func newRequest(id int64, method string, params interface{}) (*frame, error) {
	req := &frame{
		ID:     &id,
		Method: method,
	}

	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		req.Params = data
	}

	return req, nil
}

// parseFrame parses an inbound frame. Every inbound message is parsed
// exactly once; dispatch works off the parsed shape.
func parseFrame(data []byte) (*frame, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	return &f, nil
}
