package callService

import (
	"context"
	"errors"
	"time"

	"VoicedeskGolang/internal/api/call"
	"VoicedeskGolang/internal/conversation"
	"VoicedeskGolang/internal/entity"
	"VoicedeskGolang/internal/governance"
	contextPkg "VoicedeskGolang/pkg/context"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

func (s *callService) newMemory(callID, companyID, callerPhone string, cfg *governance.GovernanceConfig) *conversation.Memory {
	return conversation.NewMemory(
		callID,
		companyID,
		cfg.TemplateID,
		callerPhone,
		cfg.CaptureGoals.MustFields(),
		cfg.CaptureGoals.ShouldFields(),
		cfg.CaptureGoals.NiceFields(),
	)
}

// StartCall initializes the call's conversation memory and returns the greeting the
// voice layer should speak. Starting an already-started call is idempotent.
func (s *callService) StartCall(ctx context.Context, req call.StartCallRequest) (*call.StartCallResponse, error) {
	requestID := contextPkg.GetRequestID(ctx)

	cfg := s.loadGovernance(ctx, req.CompanyID)

	callerPhone := req.CallerPhone
	if normalized, err := s.utils.NormalizePhone(req.CallerPhone); err == nil {
		callerPhone = normalized
	}

	mem, err := s.memories.Load(ctx, req.CallID)
	if err == nil {
		return &call.StartCallResponse{
			CallID:   mem.CallID,
			Greeting: greetingFor(cfg),
			Phase:    string(mem.Phase),
		}, nil
	}
	if !errors.Is(err, conversation.ErrMemoryNotFound) {
		s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"call_id":    req.CallID,
			"error":      err.Error(),
		}).Error("Failed to check for existing call memory")
		return nil, call.ErrMemoryStoreUnavailable
	}

	mem = s.newMemory(req.CallID, req.CompanyID, callerPhone, cfg)

	if err := s.memories.Save(ctx, mem); err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"call_id":    req.CallID,
			"error":      err.Error(),
		}).Error("Failed to persist new call memory")
		return nil, call.ErrMemoryStoreUnavailable
	}

	s.log.WithFields(logrus.Fields{
		"request_id": requestID,
		"call_id":    req.CallID,
		"company_id": req.CompanyID,
	}).Info("Call started")

	return &call.StartCallResponse{
		CallID:   req.CallID,
		Greeting: greetingFor(cfg),
		Phase:    string(mem.Phase),
	}, nil
}

func greetingFor(cfg *governance.GovernanceConfig) string {
	if cfg.Trade != "" {
		return "Thanks for calling, you've reached the " + cfg.Trade + " team. How can I help you today?"
	}
	return "Thanks for calling. How can I help you today?"
}

// EndCall finalizes the call: outcome classification, durable summary and transcript
// rows, customer upsert, and removal of the Redis memory. The database writes happen
// in one transaction so a partial summary can never exist.
func (s *callService) EndCall(ctx context.Context, req call.EndCallRequest) (*call.EndCallResponse, error) {
	requestID := contextPkg.GetRequestID(ctx)

	mem, err := s.memories.Load(ctx, req.CallID)
	if errors.Is(err, conversation.ErrMemoryNotFound) {
		return nil, call.ErrCallNotFound
	} else if err != nil {
		return nil, call.ErrMemoryStoreUnavailable
	}

	now := time.Now().UTC()
	startedAt := req.StartedAt
	if startedAt.IsZero() {
		startedAt = mem.StartedAt
	}
	endedAt := req.EndedAt
	if endedAt.IsZero() {
		endedAt = now
	}

	outcome := resolveOutcome(mem)

	summaryID, err := s.utils.NewULIDFromTimestamp(now)
	if err != nil {
		return nil, err
	}
	transcriptID, err := s.utils.NewULIDFromTimestamp(now)
	if err != nil {
		return nil, err
	}

	turnsJSON, err := jsoniter.Marshal(mem.Turns)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"call_id":    req.CallID,
			"error":      err.Error(),
		}).Error("Failed to encode transcript turns")
		return nil, call.ErrSummaryWriteFailed
	}

	repoClient, err := s.repo.NewClient(true)
	if err != nil {
		return nil, call.ErrSummaryWriteFailed
	}

	summary := entity.CallSummary{
		ID:             summaryID,
		CallID:         mem.CallID,
		CompanyID:      mem.CompanyID,
		CallerPhone:    mem.CallerPhone,
		Outcome:        outcome,
		DetectedIntent: mem.PrimaryIntent,
		TierUsed:       mem.TierUsed,
		TurnCount:      len(mem.Turns),
		AppointmentID:  mem.Booking.AppointmentID,
		Facts:          mem.FactSummary(),
		StartedAt:      startedAt,
		EndedAt:        endedAt,
		CreatedAt:      now,
	}

	if err := repoClient.Summaries.CreateCallSummary(ctx, summary); err != nil {
		repoClient.Rollback()
		return nil, call.ErrSummaryWriteFailed
	}

	if err := repoClient.Transcripts.CreateTranscript(ctx, entity.TranscriptRecord{
		ID:        transcriptID,
		CallID:    mem.CallID,
		CompanyID: mem.CompanyID,
		Turns:     turnsJSON,
		TurnCount: len(mem.Turns),
		CreatedAt: now,
	}); err != nil {
		repoClient.Rollback()
		return nil, call.ErrSummaryWriteFailed
	}

	if shouldUpsertCustomer(outcome, mem) {
		customerID, err := s.utils.NewULIDFromTimestamp(now)
		if err != nil {
			repoClient.Rollback()
			return nil, err
		}

		if err := repoClient.Customers.UpsertCustomerByPhone(ctx, entity.Customer{
			ID:            customerID,
			CompanyID:     mem.CompanyID,
			Name:          mem.FactString("caller_name"),
			Phone:         customerPhone(mem),
			Address:       mem.FactString("service_address"),
			LastContactAt: endedAt,
			CreatedAt:     now,
			UpdatedAt:     now,
		}); err != nil {
			repoClient.Rollback()
			return nil, call.ErrSummaryWriteFailed
		}
	}

	eventID, err := s.utils.NewULIDFromTimestamp(now)
	if err != nil {
		repoClient.Rollback()
		return nil, err
	}

	eventPayload, _ := jsoniter.MarshalToString(map[string]interface{}{
		"outcome":    string(outcome),
		"intent":     mem.PrimaryIntent,
		"tier_used":  mem.TierUsed,
		"turn_count": len(mem.Turns),
	})

	if err := repoClient.Events.CreateBehavioralEvent(ctx, entity.BehavioralEvent{
		ID:        eventID,
		CompanyID: mem.CompanyID,
		CallID:    mem.CallID,
		EventType: "call_ended",
		Payload:   eventPayload,
		CreatedAt: now,
	}); err != nil {
		repoClient.Rollback()
		return nil, call.ErrSummaryWriteFailed
	}

	if err := repoClient.Commit(); err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"call_id":    req.CallID,
			"error":      err.Error(),
		}).Error("Failed to commit end-of-call transaction")
		return nil, call.ErrSummaryWriteFailed
	}

	if err := s.memories.Delete(ctx, req.CallID); err != nil {
		// The TTL will reap it; a stale memory is harmless once the summary exists.
		s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"call_id":    req.CallID,
			"error":      err.Error(),
		}).Warn("Failed to delete call memory after summary write")
	}

	s.log.WithFields(logrus.Fields{
		"request_id": requestID,
		"call_id":    req.CallID,
		"outcome":    string(outcome),
		"turn_count": len(mem.Turns),
	}).Info("Call ended")

	return &call.EndCallResponse{
		CallID:    req.CallID,
		SummaryID: summaryID,
		Outcome:   string(outcome),
		TurnCount: len(mem.Turns),
	}, nil
}

func resolveOutcome(mem *conversation.Memory) entity.CallOutcome {
	if mem.Booking.AppointmentID != "" {
		return entity.OutcomeBooked
	}
	if mem.Outcome != "" {
		return entity.CallOutcome(mem.Outcome)
	}
	if len(mem.Turns) == 0 {
		return entity.OutcomeAbandoned
	}
	return entity.OutcomeInfoOnly
}

func shouldUpsertCustomer(outcome entity.CallOutcome, mem *conversation.Memory) bool {
	if outcome == entity.OutcomeSpam || outcome == entity.OutcomeWrongNumber {
		return false
	}
	return customerPhone(mem) != ""
}

func customerPhone(mem *conversation.Memory) string {
	if phone := mem.FactString("callback_number"); phone != "" {
		return phone
	}
	return mem.CallerPhone
}

// GetTrace exposes the full decision trail of an in-flight call for the ops
// dashboard. Once the call has ended the memory is gone and so is the trace.
func (s *callService) GetTrace(ctx context.Context, callID string) (*call.TraceResponse, error) {
	mem, err := s.memories.Load(ctx, callID)
	if errors.Is(err, conversation.ErrMemoryNotFound) {
		return nil, call.ErrTraceNotFound
	} else if err != nil {
		return nil, call.ErrMemoryStoreUnavailable
	}

	return &call.TraceResponse{
		CallID:    mem.CallID,
		CompanyID: mem.CompanyID,
		Phase:     string(mem.Phase),
		Turns:     mem.Turns,
		TierTrace: mem.TierTrace,
	}, nil
}
