package governance

import (
	"fmt"

	"VoicedeskGolang/internal/conversation"
	"VoicedeskGolang/pkg/classifier"
)

// Rejection reasons for fact writes. Callers branch on these, so the set is fixed.
const (
	ReasonFieldNotInSchema = "field_not_in_schema"
	ReasonSourceNotAllowed = "source_not_allowed"
	ReasonBelowThreshold   = "below_threshold"
	ReasonBookingLocked    = "booking_locked"
)

// Engine evaluates a company's configuration against a memory snapshot. Every
// decision is a pure function of (config, memory, proposed action): no randomness,
// no clock reads.
type Engine struct {
	cfg *GovernanceConfig
}

func NewEngine(cfg *GovernanceConfig) *Engine {
	return &Engine{cfg: cfg}
}

func (e *Engine) Config() *GovernanceConfig {
	return e.cfg
}

// CanCommitFact implements conversation.FactGate.
func (e *Engine) CanCommitFact(m *conversation.Memory, fieldID string, source string, confidence float64) conversation.FactDecision {
	rule, ok := e.cfg.FieldSchema[fieldID]
	if !ok {
		return conversation.FactDecision{Allowed: false, Reason: ReasonFieldNotInSchema}
	}

	if m.Booking.Locked && source != FactSourceBooking && source != FactSourceEscalation {
		return conversation.FactDecision{Allowed: false, Reason: ReasonBookingLocked}
	}

	allowed := false
	for _, s := range rule.AllowedSources {
		if s == source {
			allowed = true
			break
		}
	}
	if !allowed {
		return conversation.FactDecision{Allowed: false, Reason: ReasonSourceNotAllowed}
	}

	if confidence < rule.MinConfidence {
		return conversation.FactDecision{Allowed: false, Reason: ReasonBelowThreshold}
	}

	return conversation.FactDecision{Allowed: true}
}

// HandlerSelection reports the chosen handler plus every alternative that was
// considered and why it lost; the orchestrator copies this into the turn record.
type HandlerSelection struct {
	Handler   HandlerID
	Rejected  []HandlerID
	Reasoning []string
}

func (e *Engine) enabled(h HandlerID) bool {
	rule, ok := e.cfg.Handlers[h]
	return ok && rule.Enabled
}

// SelectHandler picks the handler for this turn. Precedence is fixed: emergency,
// close (wrong number/spam), booking lock, booking consent, knowledge intents, then
// the LLM fallback, which claims any turn nobody else does.
func (e *Engine) SelectHandler(m *conversation.Memory, intent *classifier.IntentResult) HandlerSelection {
	sel := HandlerSelection{}

	reject := func(h HandlerID, why string) {
		sel.Rejected = append(sel.Rejected, h)
		sel.Reasoning = append(sel.Reasoning, fmt.Sprintf("%s: %s", h, why))
	}
	accept := func(h HandlerID, why string) HandlerSelection {
		sel.Handler = h
		sel.Reasoning = append(sel.Reasoning, fmt.Sprintf("%s: %s", h, why))
		return sel
	}

	if intent.Signals[classifier.IntentEmergency] {
		if e.enabled(HandlerEmergency) {
			return accept(HandlerEmergency, "emergency signal present")
		}
		reject(HandlerEmergency, "disabled by config")
	}

	if intent.Signals[classifier.IntentWrongNumber] || intent.Signals[classifier.IntentSpam] {
		if e.enabled(HandlerClose) && intent.Confidence >= e.cfg.Handlers[HandlerClose].MinConfidence {
			return accept(HandlerClose, "wrong-number/spam signal above handler threshold")
		}
		reject(HandlerClose, "signal below handler threshold or disabled")
	}

	// Once booking is locked, only booking and escalation may produce content.
	if m.Booking.Locked {
		if e.enabled(HandlerBooking) {
			return accept(HandlerBooking, "booking locked, remaining turns belong to booking")
		}
		return accept(HandlerEscalation, "booking locked but booking handler disabled")
	}

	consentGiven := m.Booking.ConsentGivenAtTurn > 0
	bookingSignal := intent.Signals[classifier.IntentBooking] || intent.Signals[classifier.IntentUpdateBooking]

	if bookingSignal || consentGiven {
		if !e.enabled(HandlerBooking) {
			reject(HandlerBooking, "disabled by config")
		} else if consentGiven || intent.Confidence >= e.cfg.ConsentConfidence {
			return accept(HandlerBooking, "consent signal at or above configured confidence")
		} else {
			reject(HandlerBooking, fmt.Sprintf("consent confidence %.2f below %.2f", intent.Confidence, e.cfg.ConsentConfidence))
		}
	}

	knowledgeIntent := intent.Signals[classifier.IntentTroubleshooting] ||
		intent.Signals[classifier.IntentBilling] ||
		intent.Signals[classifier.IntentInfoRequest]

	if knowledgeIntent {
		if e.enabled(HandlerKnowledge) && intent.Confidence >= e.cfg.Handlers[HandlerKnowledge].MinConfidence {
			return accept(HandlerKnowledge, "informational intent above handler threshold")
		}
		reject(HandlerKnowledge, "below handler threshold or disabled")
	}

	if e.enabled(HandlerLLM) {
		return accept(HandlerLLM, "fallback: no other handler claimed the turn")
	}

	return accept(HandlerEscalation, "no handler available, escalating")
}

// ShouldInjectCapture forces a prompt for the single highest-priority missing must
// field once the conversation has stalled past the configured threshold.
func (e *Engine) ShouldInjectCapture(m *conversation.Memory) (string, bool) {
	if !e.enabled(HandlerCapture) {
		return "", false
	}
	if m.Booking.Locked {
		return "", false
	}
	if m.Capture.Must.TurnsWithoutProgress < e.cfg.CaptureInjectionThreshold {
		return "", false
	}

	for _, goal := range e.cfg.CaptureGoals.Must {
		if goal.OnMissing != OnMissingRouterPrompts && goal.OnMissing != "" {
			continue
		}
		if !m.Capture.Must.Fields[goal.Field] {
			return goal.Field, true
		}
	}

	return "", false
}
