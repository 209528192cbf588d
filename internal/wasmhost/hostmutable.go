package wasmhost

import (
	"sync"

	"github.com/fenceline/fenceline/internal/decision"
)

// HostMutableContext holds the four slots the router writes between
// phases and guests read during phases: the interior-service Response
// (valid from the response phase onward), the combined Decision and
// Tags, and the Outcome (both valid from the feedback phase onward).
// All four slots are guarded by one read-write mutex: guest reads share
// it, and a router write excludes them for its duration. The router
// writes each slot at most once per phase transition; guests only read.
type HostMutableContext struct {
	mu       sync.RWMutex
	response *ResponseInterface
	decision *decision.Decision
	tags     []string
	outcome  *Outcome
}

// NewHostMutableContext returns an empty Host-Mutable Context with no
// slots set.
func NewHostMutableContext() *HostMutableContext {
	return &HostMutableContext{}
}

// SetResponse records the interior-service response ahead of the
// response-decision phase.
func (h *HostMutableContext) SetResponse(r ResponseInterface) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.response = &r
}

// Response reads the interior-service response, or HostStateError if the
// router has not yet set it.
func (h *HostMutableContext) Response() (ResponseInterface, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.response == nil {
		return ResponseInterface{}, &HostStateError{Slot: "response"}
	}
	return *h.response, nil
}

// SetCombined records the combined Decision and Tags ahead of the
// decision-feedback phase.
func (h *HostMutableContext) SetCombined(d decision.Decision, tags []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.decision = &d
	h.tags = tags
}

// CombinedDecision reads the combined Decision, or HostStateError if the
// router has not yet set it.
func (h *HostMutableContext) CombinedDecision() (decision.Decision, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.decision == nil {
		return decision.Decision{}, &HostStateError{Slot: "combined_decision"}
	}
	return *h.decision, nil
}

// CombinedTags reads the combined tag set, or HostStateError if the
// router has not yet set it.
func (h *HostMutableContext) CombinedTags() ([]string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.tags == nil {
		return nil, &HostStateError{Slot: "combined_tags"}
	}
	return h.tags, nil
}

// SetOutcome records the thresholded Outcome ahead of the
// decision-feedback phase.
func (h *HostMutableContext) SetOutcome(o Outcome) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outcome = &o
}

// Outcome reads the Outcome, or HostStateError if the router has not yet
// set it.
func (h *HostMutableContext) Outcome() (Outcome, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.outcome == nil {
		return "", &HostStateError{Slot: "outcome"}
	}
	return *h.outcome, nil
}
