package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Frame types on the wire.
const (
	TypeRequest  = "req"
	TypeResponse = "res"
	TypeEvent    = "event"
)

// MethodConnect is the handshake request method.
const MethodConnect = "connect"

// HelloOK is the payload type that marks a successful handshake.
const HelloOK = "hello-ok"

// Errors
var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownFrame   = errors.New("unknown frame type")
)

// Request is a client-originated frame.
type Request struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// NewRequest builds a request frame.
func NewRequest(id, method string, params any) Request {
	return Request{
		Type:   TypeRequest,
		ID:     id,
		Method: method,
		Params: params,
	}
}

// ConnectParams are the handshake parameters.
type ConnectParams struct {
	MinProtocol int        `json:"minProtocol"`
	MaxProtocol int        `json:"maxProtocol"`
	Client      ClientInfo `json:"client"`
	Role        string     `json:"role"`
	Scopes      []string   `json:"scopes"`
	Auth        *Auth      `json:"auth,omitempty"`
}

// ClientInfo describes this client to the gateway.
type ClientInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Version     string `json:"version"`
	Platform    string `json:"platform"`
	Arch        string `json:"arch"`
	InstanceID  string `json:"instanceId"`
}

// Auth carries the optional bearer token.
type Auth struct {
	Token string `json:"token"`
}

// ErrorShape is the structured error object carried by failed responses.
type ErrorShape struct {
	Code    string `json:"code,omitempty"`
	Name    string `json:"name,omitempty"`
	Message string `json:"message,omitempty"`
}

// Response is a decoded "res" frame.
type Response struct {
	ID      string
	OK      bool
	Payload Payload

	// Error is the frame-level error, if any.
	Error *ErrorShape

	// ErrorText is set when the frame-level error was a bare string.
	ErrorText string
}

// CleanSuccess reports whether both the frame and the method succeeded.
func (r Response) CleanSuccess() bool {
	return r.OK && r.Payload.OK
}

// Payload is the decoded response payload. Raw keeps the original bytes so
// consumers can read plugin-specific fields.
type Payload struct {
	Type      string
	OK        bool
	Error     *ErrorShape
	ErrorText string
	Raw       json.RawMessage
}

// Event is a decoded server-initiated "event" frame.
type Event struct {
	Name    string
	Payload json.RawMessage
}

// Frame is the result of DecodeFrame: exactly one of Response or Event is set.
type Frame struct {
	Response *Response
	Event    *Event
}

type wireFrame struct {
	Type    string          `json:"type"`
	ID      json.RawMessage `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload"`
	Error   json.RawMessage `json:"error"`
	Event   string          `json:"event"`
}

type wirePayload struct {
	Type  string          `json:"type"`
	OK    bool            `json:"ok"`
	Error json.RawMessage `json:"error"`
}

// DecodeFrame validates and decodes one inbound message. All optional-field
// handling for inbound frames lives here.
func DecodeFrame(data []byte) (Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch w.Type {
	case TypeResponse:
		id, err := decodeID(w.ID)
		if err != nil {
			return Frame{}, err
		}
		resp := &Response{
			ID: id,
			OK: w.OK,
		}
		resp.Error, resp.ErrorText = decodeError(w.Error)
		if err := decodePayload(w.Payload, &resp.Payload); err != nil {
			return Frame{}, err
		}
		return Frame{Response: resp}, nil

	case TypeEvent:
		if w.Event == "" {
			return Frame{}, fmt.Errorf("%w: event without name", ErrMalformedFrame)
		}
		return Frame{Event: &Event{Name: w.Event, Payload: w.Payload}}, nil

	default:
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownFrame, w.Type)
	}
}

// decodeID accepts string or numeric ids.
func decodeID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", fmt.Errorf("%w: response without id", ErrMalformedFrame)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("%w: invalid id %s", ErrMalformedFrame, raw)
}

func decodePayload(raw json.RawMessage, p *Payload) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	p.Raw = raw

	// Non-object payloads (strings, arrays) are legal but carry no status.
	if raw[0] != '{' {
		return nil
	}

	var wp wirePayload
	if err := json.Unmarshal(raw, &wp); err != nil {
		return fmt.Errorf("%w: payload: %v", ErrMalformedFrame, err)
	}
	p.Type = wp.Type
	p.OK = wp.OK
	p.Error, p.ErrorText = decodeError(wp.Error)
	return nil
}

// decodeError returns the structured error, or the bare string form.
func decodeError(raw json.RawMessage) (*ErrorShape, string) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, ""
	}
	var shape ErrorShape
	if err := json.Unmarshal(raw, &shape); err == nil {
		return &shape, ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return nil, s
	}
	return nil, string(raw)
}
