package callService

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"VoicedeskGolang/internal/api/call"
	"VoicedeskGolang/internal/conversation"
	"VoicedeskGolang/internal/governance"
	"VoicedeskGolang/pkg/classifier"
	contextPkg "VoicedeskGolang/pkg/context"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var errDecisionUnparsable = errors.New("generation output is not a valid decision")

const maxPromptRunes = 6000

// agentDecision is the only shape the generation provider is allowed to answer with.
// Anything that doesn't parse into this falls back to the rule path for the turn.
type agentDecision struct {
	Reply   string         `json:"reply"`
	Action  string         `json:"action"`
	Phase   string         `json:"phase"`
	Facts   []decisionFact `json:"facts"`
	Urgency string         `json:"urgency"`
}

type decisionFact struct {
	Field      string      `json:"field"`
	Value      interface{} `json:"value"`
	Confidence float64     `json:"confidence"`
}

func buildSystemPrompt(cfg *governance.GovernanceConfig) string {
	var b strings.Builder

	b.WriteString("You are a phone receptionist for a ")
	if cfg.Trade != "" {
		b.WriteString(cfg.Trade)
		b.WriteString(" ")
	}
	b.WriteString("service company. Answer in one or two short spoken sentences.\n")
	b.WriteString("Respond ONLY with a JSON object: ")
	b.WriteString(`{"reply": string, "action": "continue"|"ask"|"book"|"close"|"escalate", "phase": string, "facts": [{"field": string, "value": any, "confidence": number}], "urgency": string}` + "\n")
	b.WriteString("Only report facts the caller actually stated. Allowed fact fields: ")

	fields := make([]string, 0, len(cfg.FieldSchema))
	for field := range cfg.FieldSchema {
		fields = append(fields, field)
	}
	b.WriteString(strings.Join(fields, ", "))
	b.WriteString(".\nNever confirm an appointment yourself; the booking system does that.")

	return b.String()
}

func (s *callService) buildUserPrompt(mem *conversation.Memory, intent *classifier.IntentResult, utterance string) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Call phase: %s\n", mem.Phase))
	b.WriteString(fmt.Sprintf("Detected intent: %s (confidence %.2f)\n", intent.Intent, intent.Confidence))

	if facts := mem.FactSummary(); len(facts) > 0 {
		factsJSON, err := jsoniter.MarshalToString(facts)
		if err == nil {
			b.WriteString("Known facts: ")
			b.WriteString(factsJSON)
			b.WriteString("\n")
		}
	}

	if missing := mem.MissingMustFields(); len(missing) > 0 {
		b.WriteString("Still needed: ")
		b.WriteString(strings.Join(missing, ", "))
		b.WriteString("\n")
	}

	if recent := mem.RecentTurns(6); len(recent) > 0 {
		b.WriteString("Recent turns:\n")
		for _, turn := range recent {
			b.WriteString(fmt.Sprintf("caller: %s\nagent: %s\n", turn.Input.Raw, turn.ResponseText))
		}
	}

	b.WriteString("Caller just said: ")
	b.WriteString(utterance)

	return s.utils.TruncateForPrompt(b.String(), maxPromptRunes)
}

func parseDecision(raw string) (*agentDecision, error) {
	trimmed := strings.TrimSpace(raw)

	// Some providers wrap JSON in markdown fences despite the response MIME type.
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var decision agentDecision
	if err := jsoniter.UnmarshalFromString(trimmed, &decision); err != nil {
		return nil, fmt.Errorf("%w: %v", errDecisionUnparsable, err)
	}

	if decision.Reply == "" {
		return nil, fmt.Errorf("%w: empty reply", errDecisionUnparsable)
	}

	switch decision.Action {
	case "", call.ActionContinue, call.ActionAsk, call.ActionBook, call.ActionClose, call.ActionEscalate:
	default:
		return nil, fmt.Errorf("%w: unknown action %q", errDecisionUnparsable, decision.Action)
	}

	if decision.Action == "" {
		decision.Action = call.ActionContinue
	}

	return &decision, nil
}

// extractFacts asks the generation provider which schema fields the caller just
// stated. Only the facts array of the decision shape is used here; the reply and
// action belong to the handler running the turn. A provider failure is not a turn
// failure, the caller falls back to scripted capture.
func (s *callService) extractFacts(ctx context.Context, engine *governance.Engine, mem *conversation.Memory, intent *classifier.IntentResult, utterance string) ([]decisionFact, bool) {
	raw, err := s.llm.GenerateDecision(ctx, buildSystemPrompt(engine.Config()), s.buildUserPrompt(mem, intent, utterance))
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": contextPkg.GetRequestID(ctx),
			"call_id":    mem.CallID,
			"error":      err.Error(),
		}).Warn("Fact extraction unavailable, using scripted capture")
		return nil, false
	}

	decision, err := parseDecision(raw)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": contextPkg.GetRequestID(ctx),
			"call_id":    mem.CallID,
			"error":      err.Error(),
		}).Debug("Fact extraction output unparsable, using scripted capture")
		return nil, false
	}

	return decision.Facts, true
}

// ruleFallback produces a safe scripted turn when generation fails or can't be
// parsed. The caller never hears about provider trouble.
func ruleFallback(mem *conversation.Memory, intent *classifier.IntentResult) (string, string) {
	if intent.Signals[classifier.IntentEmergency] {
		return "That sounds urgent. Can you give me the address so I can get someone out to you right away?", call.ActionAsk
	}

	if missing := mem.MissingMustFields(); len(missing) > 0 {
		return capturePrompt(missing[0]), call.ActionAsk
	}

	return "I want to make sure I get this right. Could you tell me a bit more about what you need?", call.ActionAsk
}

// capturePrompt maps a schema field to the question the agent asks for it. Unknown
// fields get a generic prompt so a custom schema never produces an empty turn.
func capturePrompt(field string) string {
	switch field {
	case "caller_name":
		return "May I have your name, please?"
	case "callback_number":
		return "What's the best number to reach you at?"
	case "service_address":
		return "What's the address where you need service?"
	case "problem_summary":
		return "Can you describe the problem you're having?"
	case "time_preference":
		return "When would work best for you, morning or afternoon?"
	case "problem_urgency":
		return "Is this something that needs attention today, or can it wait?"
	case "access_notes":
		return "Is there anything our technician should know about getting in?"
	default:
		return fmt.Sprintf("Could you tell me your %s?", strings.ReplaceAll(field, "_", " "))
	}
}
