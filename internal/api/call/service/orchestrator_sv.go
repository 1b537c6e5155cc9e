package callService

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"VoicedeskGolang/internal/api/call"
	"VoicedeskGolang/internal/conversation"
	"VoicedeskGolang/internal/entity"
	"VoicedeskGolang/internal/governance"
	"VoicedeskGolang/internal/knowledge"
	"VoicedeskGolang/pkg/booking"
	"VoicedeskGolang/pkg/classifier"
	contextPkg "VoicedeskGolang/pkg/context"
	websocketPkg "VoicedeskGolang/pkg/websocket"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ProcessTurn runs the full per-turn pipeline: lock, load, classify, route, respond,
// persist. Turns for the same call are strictly serialized by the Redis lock; a
// redelivered webhook gets a busy error instead of racing the in-flight turn.
func (s *callService) ProcessTurn(ctx context.Context, req call.TurnRequest) (*call.TurnResponse, error) {
	requestID := contextPkg.GetRequestID(ctx)

	owner := requestID
	if owner == "" {
		owner = uuid.NewString()
	}

	if err := s.memories.Lock(ctx, req.CallID, owner); err != nil {
		if errors.Is(err, conversation.ErrCallBusy) {
			return nil, call.ErrCallBusy
		}
		return nil, call.ErrMemoryStoreUnavailable
	}
	defer s.memories.Unlock(ctx, req.CallID, owner)

	cfg := s.loadGovernance(ctx, req.CompanyID)
	engine := governance.NewEngine(cfg)

	mem, err := s.memories.Load(ctx, req.CallID)
	if errors.Is(err, conversation.ErrMemoryNotFound) {
		// The platform can hand us a turn without a prior start webhook.
		mem = s.newMemory(req.CallID, req.CompanyID, "", cfg)
	} else if err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"call_id":    req.CallID,
			"error":      err.Error(),
		}).Error("Failed to load conversation memory")
		return nil, call.ErrMemoryStoreUnavailable
	}

	intent, err := s.classifier.Classify(req.CallerUtterance)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"call_id":    req.CallID,
			"error":      err.Error(),
		}).Warn("Classifier failed, proceeding with unknown intent")
		intent = &classifier.IntentResult{
			Intent:      classifier.IntentUnknown,
			Signals:     map[string]bool{},
			CleanedText: req.CallerUtterance,
		}
	}

	started := time.Now()

	if err := mem.StartTurn(len(mem.Turns)+1, conversation.CallerInput{
		Raw:        req.CallerUtterance,
		Cleaned:    intent.CleanedText,
		Confidence: req.InputConfidence,
	}); err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"call_id":    req.CallID,
			"error":      err.Error(),
		}).Error("Failed to open turn")
		return nil, call.ErrInvalidRequest
	}

	if mem.Phase == conversation.PhaseGreeting {
		s.transitionPhase(ctx, mem, conversation.PhaseDiscovery, "caller responded to greeting")
	}

	if (mem.PrimaryIntent == "" || mem.PrimaryIntent == classifier.IntentUnknown) && intent.Intent != classifier.IntentUnknown {
		mem.PrimaryIntent = intent.Intent
	}

	traceStart := len(mem.TierTrace)

	var replyText, action string
	var handlerID governance.HandlerID

	if field, inject := engine.ShouldInjectCapture(mem); inject {
		handlerID = governance.HandlerCapture
		mem.CurrentTurn().SetRouting(string(governance.HandlerCapture), nil,
			[]string{fmt.Sprintf("capture: forced prompt for stalled must field %q", field)})
		replyText, action = capturePrompt(field), call.ActionAsk
	} else {
		sel := engine.SelectHandler(mem, intent)
		handlerID = sel.Handler

		rejected := make([]string, 0, len(sel.Rejected))
		for _, h := range sel.Rejected {
			rejected = append(rejected, string(h))
		}
		mem.CurrentTurn().SetRouting(string(sel.Handler), rejected, sel.Reasoning)

		replyText, action = s.dispatch(ctx, handlerID, engine, mem, intent, req)
	}

	mem.CurrentTurn().SetResponse(replyText, time.Since(started))

	record, err := mem.CommitTurn()
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"call_id":    req.CallID,
			"error":      err.Error(),
		}).Error("Failed to commit turn")
		return nil, call.ErrInvalidRequest
	}

	if err := s.memories.Save(ctx, mem); err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"call_id":    req.CallID,
			"error":      err.Error(),
		}).Error("Failed to persist conversation memory")
		return nil, call.ErrMemoryStoreUnavailable
	}

	s.hub.Broadcast(websocketPkg.TurnEvent{
		CallID:     mem.CallID,
		CompanyID:  mem.CompanyID,
		TurnNumber: record.Number,
		Phase:      string(mem.Phase),
		Intent:     intent.Intent,
		Handler:    string(handlerID),
		Action:     action,
		LatencyMs:  record.ResponseLatencyMs,
		Timestamp:  time.Now().UTC(),
	})

	return &call.TurnResponse{
		CallID:         mem.CallID,
		TurnNumber:     record.Number,
		NextPromptText: replyText,
		Action:         action,
		Phase:          string(mem.Phase),
		Handler:        string(handlerID),
		Intent:         intent.Intent,
		DebugTrace:     mem.TierTrace[traceStart:],
	}, nil
}

func (s *callService) dispatch(ctx context.Context, handler governance.HandlerID, engine *governance.Engine, mem *conversation.Memory, intent *classifier.IntentResult, req call.TurnRequest) (string, string) {
	switch handler {
	case governance.HandlerEmergency:
		return s.handleEmergency(ctx, engine, mem, intent, req)
	case governance.HandlerClose:
		return s.handleClose(ctx, mem, intent)
	case governance.HandlerBooking:
		return s.handleBooking(ctx, engine, mem, intent, req)
	case governance.HandlerKnowledge:
		return s.handleKnowledge(ctx, engine, mem, intent, req)
	case governance.HandlerEscalation:
		return s.handleEscalation(ctx, engine, mem, "no handler could serve this turn")
	default:
		return s.handleLLM(ctx, engine, mem, intent, req)
	}
}

// commitFact routes every write through the governance gate. A rejection is a normal
// outcome here, already traced by the memory, so it only gets debug logging.
func (s *callService) commitFact(ctx context.Context, engine *governance.Engine, mem *conversation.Memory, fieldID string, value interface{}, source string, confidence float64) {
	if err := mem.CommitFact(engine, fieldID, value, source, confidence); err != nil {
		var rejected *conversation.FactRejectedError
		if errors.As(err, &rejected) {
			s.log.WithFields(logrus.Fields{
				"request_id": contextPkg.GetRequestID(ctx),
				"call_id":    mem.CallID,
				"field":      fieldID,
				"source":     source,
				"reason":     rejected.Reason,
			}).Debug("Fact write rejected")
			return
		}
		s.log.WithFields(logrus.Fields{
			"request_id": contextPkg.GetRequestID(ctx),
			"call_id":    mem.CallID,
			"field":      fieldID,
			"error":      err.Error(),
		}).Warn("Fact write failed")
	}
}

func (s *callService) handleEmergency(ctx context.Context, engine *governance.Engine, mem *conversation.Memory, intent *classifier.IntentResult, req call.TurnRequest) (string, string) {
	s.commitFact(ctx, engine, mem, "problem_urgency", "emergency", governance.FactSourceClassifier, intent.Confidence)
	if mem.FactString("problem_summary") == "" {
		s.commitFact(ctx, engine, mem, "problem_summary", req.CallerUtterance, governance.FactSourceCaller, intent.Confidence)
	}

	if mem.FactString("service_address") == "" {
		return "That sounds like an emergency. First, if you smell gas, please leave the building. What's the address so I can get someone out right away?", call.ActionAsk
	}

	mem.Outcome = string(entity.OutcomeEscalated)
	s.notifyEscalation(ctx, engine, mem, "emergency reported by caller")

	return "Help is on the way. Our on-call technician has been alerted and will head to " +
		mem.FactString("service_address") + " immediately.", call.ActionEscalate
}

func (s *callService) handleClose(ctx context.Context, mem *conversation.Memory, intent *classifier.IntentResult) (string, string) {
	if intent.Signals[classifier.IntentSpam] {
		mem.Outcome = string(entity.OutcomeSpam)
	} else {
		mem.Outcome = string(entity.OutcomeWrongNumber)
	}

	s.transitionPhase(ctx, mem, conversation.PhaseClosing, "wrong number or spam detected")
	return "No problem at all. Thanks for calling, have a good one.", call.ActionClose
}

// transitionPhase applies the phase table and logs a rejected move; the phase is
// left unchanged in that case and the turn continues.
func (s *callService) transitionPhase(ctx context.Context, mem *conversation.Memory, to conversation.Phase, reason string) {
	if err := mem.TransitionPhase(to, reason); err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": contextPkg.GetRequestID(ctx),
			"call_id":    mem.CallID,
			"phase":      string(mem.Phase),
			"to":         string(to),
			"error":      err.Error(),
		}).Warn("Phase transition rejected")
	}
}

func (s *callService) handleBooking(ctx context.Context, engine *governance.Engine, mem *conversation.Memory, intent *classifier.IntentResult, req call.TurnRequest) (string, string) {
	cfg := engine.Config()
	turn := mem.CurrentTurnNumber()

	// answerExpected is decided before consent is recorded: a turn after the consent
	// turn is the caller answering the field we last asked for.
	answerExpected := mem.Booking.ConsentGivenAtTurn > 0 && mem.Booking.ConsentGivenAtTurn < turn
	mem.GiveConsent(turn)

	if mem.Phase == conversation.PhaseDiscovery || mem.Phase == conversation.PhaseGreeting {
		s.transitionPhase(ctx, mem, conversation.PhaseBooking, "caller agreed to book an appointment")
	}

	// Every unlocked booking turn is mined for facts, the consent turn included, so
	// an utterance carrying name, number, address and a time all at once fills every
	// field in one pass instead of one per turn.
	if !mem.Booking.Locked {
		s.captureFacts(ctx, engine, mem, intent, req, answerExpected)
	}

	if missing := mem.MissingMustFields(); len(missing) > 0 {
		return capturePrompt(missing[0]), call.ActionAsk
	}

	if mem.Booking.AppointmentID != "" {
		return "You're all set. Your appointment is confirmed, and we'll see you then.", call.ActionClose
	}

	s.transitionPhase(ctx, mem, conversation.PhaseConfirmation, "all required booking fields captured")

	result, err := s.booking.CreateAppointment(ctx, booking.AppointmentRequest{
		CompanyID:      mem.CompanyID,
		CallID:         mem.CallID,
		CustomerName:   mem.FactString("caller_name"),
		CallbackNumber: mem.FactString("callback_number"),
		ServiceAddress: mem.FactString("service_address"),
		ProblemSummary: mem.FactString("problem_summary"),
		TimePreference: mem.FactString("time_preference"),
		AccessNotes:    mem.FactString("access_notes"),
		Urgency:        mem.FactString("problem_urgency"),
	})
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": contextPkg.GetRequestID(ctx),
			"call_id":    mem.CallID,
			"error":      err.Error(),
		}).Error("Appointment creation failed, escalating to on-call staff")
		return s.handleEscalation(ctx, engine, mem, "booking provider failed: "+err.Error())
	}

	mem.Booking.AppointmentID = result.AppointmentID
	if cfg.LockAfterConsent {
		mem.LockBooking()
	}
	mem.Outcome = string(entity.OutcomeBooked)
	s.transitionPhase(ctx, mem, conversation.PhaseClosing, "appointment confirmed")

	reply := "Great, you're booked"
	if result.ScheduledFor != "" {
		reply += " for " + result.ScheduledFor
	}
	reply += ". We'll call " + mem.FactString("callback_number") + " if anything changes. Anything else I can help with?"

	return reply, call.ActionBook
}

// captureFacts mines the utterance for schema fields. Extraction goes through the
// generation provider so a single turn can fill several fields at once; when the
// provider yields nothing usable and the turn answers a question we asked, the
// utterance is taken verbatim as that answer.
func (s *callService) captureFacts(ctx context.Context, engine *governance.Engine, mem *conversation.Memory, intent *classifier.IntentResult, req call.TurnRequest, answerExpected bool) {
	facts, ok := s.extractFacts(ctx, engine, mem, intent, req.CallerUtterance)
	if !ok || len(facts) == 0 {
		if answerExpected {
			s.captureAnswer(ctx, engine, mem, req)
		}
		return
	}

	for _, fact := range facts {
		value := fact.Value
		if fact.Field == "callback_number" {
			raw, isString := value.(string)
			if !isString {
				continue
			}
			normalized, err := s.utils.NormalizePhone(raw)
			if err != nil {
				continue
			}
			value = normalized
		}

		confidence := fact.Confidence
		if confidence == 0 {
			confidence = req.InputConfidence
		}

		s.commitFact(ctx, engine, mem, fact.Field, value, governance.FactSourceLLM, confidence)
	}
}

// captureAnswer treats the utterance as the caller's answer to the field we just
// asked for. Callback numbers go through phone normalization; everything else is
// taken verbatim from the transcript.
func (s *callService) captureAnswer(ctx context.Context, engine *governance.Engine, mem *conversation.Memory, req call.TurnRequest) {
	missing := mem.MissingMustFields()
	if len(missing) == 0 {
		return
	}

	field := missing[0]
	confidence := req.InputConfidence
	if confidence == 0 {
		confidence = 0.8
	}

	value := strings.TrimSpace(req.CallerUtterance)
	if field == "callback_number" {
		normalized, err := s.utils.NormalizePhone(value)
		if err != nil {
			return
		}
		value = normalized
	}

	if value == "" {
		return
	}

	s.commitFact(ctx, engine, mem, field, value, governance.FactSourceCaller, confidence)
}

func (s *callService) handleKnowledge(ctx context.Context, engine *governance.Engine, mem *conversation.Memory, intent *classifier.IntentResult, req call.TurnRequest) (string, string) {
	cfg := engine.Config()

	q := knowledge.NewQuery(mem.CompanyID, cfg.Trade, intent.CleanedText)
	result := s.router.Route(ctx, q, cfg.SourcePriority, mem)

	if result.IsNoMatch() {
		mem.CurrentTurn().AddReasoning("knowledge: no tier met its threshold, delegating to generation")
		return s.handleLLM(ctx, engine, mem, intent, req)
	}

	mem.TierUsed = string(result.Source)
	if mem.Outcome == "" {
		mem.Outcome = string(entity.OutcomeInfoOnly)
	}

	return result.Text, call.ActionContinue
}

func (s *callService) handleLLM(ctx context.Context, engine *governance.Engine, mem *conversation.Memory, intent *classifier.IntentResult, req call.TurnRequest) (string, string) {
	raw, err := s.llm.GenerateDecision(ctx, buildSystemPrompt(engine.Config()), s.buildUserPrompt(mem, intent, req.CallerUtterance))
	if err != nil {
		mem.AppendTierTrace(conversation.TierTraceEntry{
			Tier:      string(entity.SourceLLMFallback),
			Outcome:   "error",
			Reasoning: err.Error(),
		})
		s.log.WithFields(logrus.Fields{
			"request_id": contextPkg.GetRequestID(ctx),
			"call_id":    mem.CallID,
			"error":      err.Error(),
		}).Error("Generation provider failed, using rule fallback")
		return ruleFallback(mem, intent)
	}

	decision, err := parseDecision(raw)
	if err != nil {
		mem.AppendTierTrace(conversation.TierTraceEntry{
			Tier:      string(entity.SourceLLMFallback),
			Outcome:   "parse_failure",
			Reasoning: err.Error(),
		})
		s.log.WithFields(logrus.Fields{
			"request_id": contextPkg.GetRequestID(ctx),
			"call_id":    mem.CallID,
			"error":      err.Error(),
		}).Warn("Generation output unparsable, using rule fallback")
		return ruleFallback(mem, intent)
	}

	for _, fact := range decision.Facts {
		s.commitFact(ctx, engine, mem, fact.Field, fact.Value, governance.FactSourceLLM, fact.Confidence)
	}
	if decision.Urgency != "" {
		s.commitFact(ctx, engine, mem, "problem_urgency", decision.Urgency, governance.FactSourceLLM, 0.7)
	}

	if mem.TierUsed == "" {
		mem.TierUsed = string(entity.SourceLLMFallback)
	}

	if decision.Action == call.ActionBook {
		mem.GiveConsent(mem.CurrentTurnNumber())
	}
	if decision.Action == call.ActionEscalate {
		mem.Outcome = string(entity.OutcomeEscalated)
		s.notifyEscalation(ctx, engine, mem, "generation requested escalation")
	}

	return decision.Reply, decision.Action
}

func (s *callService) handleEscalation(ctx context.Context, engine *governance.Engine, mem *conversation.Memory, reason string) (string, string) {
	mem.Outcome = string(entity.OutcomeEscalated)
	mem.CurrentTurn().AddReasoning("escalation: " + reason)
	s.notifyEscalation(ctx, engine, mem, reason)

	return "I'm going to have one of our team members call you right back to get this sorted. You won't wait long.", call.ActionEscalate
}

// notifyEscalation alerts the company's on-call number. Failures are logged and
// swallowed: the caller-facing turn must still complete.
func (s *callService) notifyEscalation(ctx context.Context, engine *governance.Engine, mem *conversation.Memory, reason string) {
	cfg := engine.Config()
	if cfg.OnCallPhone == "" {
		s.log.WithFields(logrus.Fields{
			"call_id":    mem.CallID,
			"company_id": mem.CompanyID,
		}).Warn("Escalation needed but no on-call phone configured")
		return
	}

	message := fmt.Sprintf("Escalation for call %s: %s", mem.CallID, reason)
	if name := mem.FactString("caller_name"); name != "" {
		message += fmt.Sprintf("\nCaller: %s", name)
	}
	if phone := mem.FactString("callback_number"); phone != "" {
		message += fmt.Sprintf("\nCallback: %s", phone)
	} else if mem.CallerPhone != "" {
		message += fmt.Sprintf("\nCallback: %s", mem.CallerPhone)
	}
	if summary := mem.FactString("problem_summary"); summary != "" {
		message += fmt.Sprintf("\nProblem: %s", summary)
	}
	if address := mem.FactString("service_address"); address != "" {
		message += fmt.Sprintf("\nAddress: %s", address)
	}

	if err := s.notifier.NotifyEscalation(ctx, cfg.OnCallPhone, message); err != nil {
		s.log.WithFields(logrus.Fields{
			"call_id":    mem.CallID,
			"company_id": mem.CompanyID,
			"error":      err.Error(),
		}).Error("Failed to deliver escalation alert")
	}
}
