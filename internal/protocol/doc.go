// Package protocol defines the gateway wire format.
//
// Frames are JSON objects over a WebSocket:
//   - request:  {type:"req", id, method, params}
//   - response: {type:"res", id, ok, payload}
//   - event:    {type:"event", event, payload}
//
// DecodeFrame is the only place inbound JSON is inspected. Classify turns a
// response into a Result so callers switch on types instead of probing
// optional fields.
package protocol
