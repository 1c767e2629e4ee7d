// Package resolver picks which remote method name to use for each plugin
// capability, falling back through legacy aliases when the gateway reports
// that a method does not exist.
package resolver

import (
	"github.com/rickgao/gateway-companion/internal/protocol"
)

// Capability names a remote feature probed by method name.
type Capability string

const (
	CapabilityState Capability = "state"
	CapabilityReset Capability = "reset"
)

// Default candidate lists, canonical name first.
var (
	DefaultStateMethods = []string{
		"companion.state",
		"companion.getState",
		"plugin.companion.state",
		"pet.state",
	}
	DefaultResetMethods = []string{
		"companion.reset",
		"companion.resetState",
		"plugin.companion.reset",
		"pet.reset",
	}
)

// Resolver holds an ordered candidate list and current index per capability.
// It is owned by the connection manager's control goroutine.
type Resolver struct {
	candidates map[Capability][]string
	index      map[Capability]int
	exhausted  map[Capability]bool
}

// New creates a resolver. Empty lists fall back to the defaults.
func New(stateMethods, resetMethods []string) *Resolver {
	if len(stateMethods) == 0 {
		stateMethods = DefaultStateMethods
	}
	if len(resetMethods) == 0 {
		resetMethods = DefaultResetMethods
	}
	return &Resolver{
		candidates: map[Capability][]string{
			CapabilityState: append([]string(nil), stateMethods...),
			CapabilityReset: append([]string(nil), resetMethods...),
		},
		index: map[Capability]int{
			CapabilityState: 0,
			CapabilityReset: 0,
		},
		exhausted: make(map[Capability]bool),
	}
}

// Current returns the method name to try next for cap.
func (r *Resolver) Current(c Capability) string {
	list := r.candidates[c]
	if len(list) == 0 {
		return ""
	}
	return list[r.index[c]]
}

// Index returns the current candidate index for cap.
func (r *Resolver) Index(c Capability) int {
	return r.index[c]
}

// Candidates returns a copy of the candidate list for cap.
func (r *Resolver) Candidates(c Capability) []string {
	return append([]string(nil), r.candidates[c]...)
}

// AtLast reports whether cap is already on its final candidate.
func (r *Resolver) AtLast(c Capability) bool {
	return r.index[c] >= len(r.candidates[c])-1
}

// OnResponse inspects a response to a request made with Current(cap). When
// the gateway reports a missing method and another candidate remains, the
// index advances and retry is true.
func (r *Resolver) OnResponse(c Capability, resp protocol.Response) (retry bool) {
	if !protocol.IsMissingMethod(resp) {
		return false
	}
	return r.advance(c)
}

// OnMissingMethod advances past a candidate already classified as missing.
func (r *Resolver) OnMissingMethod(c Capability) (retry bool) {
	return r.advance(c)
}

// Exhausted reports whether every candidate for cap has been reported
// missing since the last Reset.
func (r *Resolver) Exhausted(c Capability) bool {
	return r.exhausted[c]
}

func (r *Resolver) advance(c Capability) bool {
	if r.AtLast(c) {
		r.exhausted[c] = true
		return false
	}
	r.index[c]++
	return true
}

// Reset returns every capability to its first candidate. Called on each
// successful handshake so a previous session's resolution never carries over.
func (r *Resolver) Reset() {
	for c := range r.index {
		r.index[c] = 0
	}
	clear(r.exhausted)
}
