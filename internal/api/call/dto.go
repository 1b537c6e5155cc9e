package call

import (
	"time"

	"VoicedeskGolang/internal/conversation"
)

type StartCallRequest struct {
	CallID      string `json:"call_id" validate:"required"`
	CompanyID   string `json:"company_id" validate:"required"`
	CallerPhone string `json:"caller_phone" validate:"required"`
}

type StartCallResponse struct {
	CallID   string `json:"call_id"`
	Greeting string `json:"greeting"`
	Phase    string `json:"phase"`
}

type TurnRequest struct {
	CallID          string  `json:"call_id" validate:"required"`
	CompanyID       string  `json:"company_id" validate:"required"`
	CallerUtterance string  `json:"caller_utterance" validate:"required"`
	InputConfidence float64 `json:"input_confidence" validate:"gte=0,lte=1"`
}

type TurnResponse struct {
	CallID         string                        `json:"call_id"`
	TurnNumber     int                           `json:"turn_number"`
	NextPromptText string                        `json:"next_prompt_text"`
	Action         string                        `json:"action"`
	Phase          string                        `json:"phase"`
	Handler        string                        `json:"handler"`
	Intent         string                        `json:"intent"`
	DebugTrace     []conversation.TierTraceEntry `json:"debug_trace,omitempty"`
}

type EndCallRequest struct {
	CallID    string    `json:"call_id" validate:"required"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

type EndCallResponse struct {
	CallID    string `json:"call_id"`
	SummaryID string `json:"summary_id"`
	Outcome   string `json:"outcome"`
	TurnCount int    `json:"turn_count"`
}

type TraceResponse struct {
	CallID    string                        `json:"call_id"`
	CompanyID string                        `json:"company_id"`
	Phase     string                        `json:"phase"`
	Turns     []conversation.TurnRecord     `json:"turns"`
	TierTrace []conversation.TierTraceEntry `json:"tier_trace"`
}

// Turn actions surfaced to the caller-facing layer.
const (
	ActionContinue = "continue"
	ActionAsk      = "ask"
	ActionBook     = "book"
	ActionClose    = "close"
	ActionEscalate = "escalate"
)
