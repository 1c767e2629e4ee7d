package protocol

import (
	"encoding/json"
	"strings"
)

// Kind identifies what a pending request was for.
type Kind string

const (
	KindConnect Kind = "connect"
	KindState   Kind = "state"
	KindReset   Kind = "reset"
)

// Result is the classified outcome of a response. It is one of
// HandshakeOK, HandshakeError, StateOK, MissingMethod or GenericError.
type Result interface {
	isResult()
}

// HandshakeOK is a hello-ok reply to the connect request.
type HandshakeOK struct {
	Payload json.RawMessage
}

// HandshakeError is any other reply to the connect request.
type HandshakeError struct {
	Reason string
}

// StateOK is a clean success for a capability request.
type StateOK struct {
	Payload json.RawMessage
}

// MissingMethod means the gateway does not know the method that was tried.
type MissingMethod struct {
	Code    string
	Message string
}

// GenericError is any other failure of a capability request.
type GenericError struct {
	Code    string
	Message string
}

func (HandshakeOK) isResult()    {}
func (HandshakeError) isResult() {}
func (StateOK) isResult()        {}
func (MissingMethod) isResult()  {}
func (GenericError) isResult()   {}

// Classify maps a response to a Result according to the kind of request it
// answers.
func Classify(kind Kind, resp Response) Result {
	if kind == KindConnect {
		if resp.Payload.Type == HelloOK {
			return HandshakeOK{Payload: resp.Payload.Raw}
		}
		return HandshakeError{Reason: HandshakeFailureReason(resp)}
	}

	if resp.CleanSuccess() {
		return StateOK{Payload: resp.Payload.Raw}
	}

	code, message := errorDetails(resp)
	if IsMissingMethod(resp) {
		return MissingMethod{Code: code, Message: message}
	}
	return GenericError{Code: code, Message: message}
}

var missingMethodPhrases = []string{
	"method not found",
	"unknown method",
	"unknown rpc method",
}

// IsMissingMethod reports whether resp says the requested method does not
// exist on the gateway.
func IsMissingMethod(resp Response) bool {
	if resp.CleanSuccess() {
		return false
	}

	for _, e := range []*ErrorShape{resp.Payload.Error, resp.Error} {
		if e == nil {
			continue
		}
		if codeSaysMissing(e.Code) || codeSaysMissing(e.Name) {
			return true
		}
		if messageSaysMissing(e.Message) {
			return true
		}
	}

	return messageSaysMissing(resp.Payload.ErrorText) || messageSaysMissing(resp.ErrorText)
}

// codeSaysMissing matches codes like METHOD_NOT_FOUND or NotFoundMethod.
func codeSaysMissing(code string) bool {
	if code == "" {
		return false
	}
	c := strings.ToLower(code)
	return strings.Contains(c, "method") &&
		strings.Contains(c, "not") &&
		strings.Contains(c, "found")
}

func messageSaysMissing(msg string) bool {
	if msg == "" {
		return false
	}
	m := strings.ToLower(msg)
	for _, phrase := range missingMethodPhrases {
		if strings.Contains(m, phrase) {
			return true
		}
	}
	return false
}

// HandshakeFailureReason extracts a human-readable reason, preferring a
// structured error object over a plain string.
func HandshakeFailureReason(resp Response) string {
	for _, e := range []*ErrorShape{resp.Payload.Error, resp.Error} {
		if e == nil {
			continue
		}
		if e.Message != "" {
			return e.Message
		}
		if e.Code != "" {
			return e.Code
		}
	}
	if resp.Payload.ErrorText != "" {
		return resp.Payload.ErrorText
	}
	if resp.ErrorText != "" {
		return resp.ErrorText
	}
	if resp.Payload.Type != "" {
		return "unexpected handshake payload: " + resp.Payload.Type
	}
	return "handshake rejected"
}

func errorDetails(resp Response) (code, message string) {
	for _, e := range []*ErrorShape{resp.Payload.Error, resp.Error} {
		if e == nil {
			continue
		}
		code = e.Code
		if code == "" {
			code = e.Name
		}
		return code, e.Message
	}
	if resp.Payload.ErrorText != "" {
		return "", resp.Payload.ErrorText
	}
	return "", resp.ErrorText
}
