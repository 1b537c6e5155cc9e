package conversation

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTurnOutOfOrder    = errors.New("conversation: turn number out of order")
	ErrTurnAlreadyOpen   = errors.New("conversation: a turn is already open")
	ErrNoOpenTurn        = errors.New("conversation: no open turn")
	ErrInvalidTransition = errors.New("conversation: phase transition not allowed")
	ErrUnknownPhase      = errors.New("conversation: unknown phase")
)

// FactRejectedError carries the governance rejection reason so callers can branch
// deterministically.
type FactRejectedError struct {
	FieldID string
	Reason  string
}

func (e *FactRejectedError) Error() string {
	return fmt.Sprintf("conversation: fact write rejected for %s: %s", e.FieldID, e.Reason)
}

type FactDecision struct {
	Allowed bool
	Reason  string
}

// FactGate is satisfied by the governance engine. Memory never mutates facts without
// consulting it first.
type FactGate interface {
	CanCommitFact(m *Memory, fieldID string, source string, confidence float64) FactDecision
}

type FactRecord struct {
	Value           interface{} `json:"value"`
	Source          string      `json:"source"`
	Confidence      float64     `json:"confidence"`
	CommittedAtTurn int         `json:"committed_at_turn"`
}

type TierTraceEntry struct {
	Turn            int       `json:"turn"`
	Tier            string    `json:"tier"`
	Outcome         string    `json:"outcome"`
	Score           float64   `json:"score"`
	MatchCount      int       `json:"match_count"`
	MatchedKeywords []string  `json:"matched_keywords,omitempty"`
	Reasoning       string    `json:"reasoning,omitempty"`
	At              time.Time `json:"at"`
}

type GoalProgress struct {
	Fields               map[string]bool `json:"fields"`
	TurnsWithoutProgress int             `json:"turns_without_progress"`
}

type CaptureProgress struct {
	Must   GoalProgress `json:"must"`
	Should GoalProgress `json:"should"`
	Nice   GoalProgress `json:"nice"`
}

type BookingState struct {
	ConsentGivenAtTurn int    `json:"consent_given_at_turn"`
	Locked             bool   `json:"locked"`
	AppointmentID      string `json:"appointment_id"`
}

// Memory is the single runtime-truth object for one active call. It is owned
// exclusively by the call's processing context; cross-call isolation is absolute.
type Memory struct {
	CallID      string `json:"call_id"`
	CompanyID   string `json:"company_id"`
	TemplateID  string `json:"template_id"`
	CallerPhone string `json:"caller_phone"`

	Phase     Phase                 `json:"phase"`
	Facts     map[string]FactRecord `json:"facts"`
	Turns     []TurnRecord          `json:"turns"`
	Capture   CaptureProgress       `json:"capture_progress"`
	Booking   BookingState          `json:"booking_state"`
	TierTrace []TierTraceEntry      `json:"tier_trace"`

	// Rolling classification of the call, refreshed as turns commit. EndCall reads
	// these when building the summary row.
	PrimaryIntent string `json:"primary_intent,omitempty"`
	TierUsed      string `json:"tier_used,omitempty"`
	Outcome       string `json:"outcome,omitempty"`

	StartedAt     time.Time `json:"started_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`

	// mustOrder preserves the configured priority of must fields for capture prompts.
	MustOrder []string `json:"must_order"`

	current *TurnRecordBuilder
}

func NewMemory(callID, companyID, templateID, callerPhone string, must, should, nice []string) *Memory {
	now := time.Now().UTC()

	return &Memory{
		CallID:      callID,
		CompanyID:   companyID,
		TemplateID:  templateID,
		CallerPhone: callerPhone,
		Phase:       PhaseGreeting,
		Facts:       make(map[string]FactRecord),
		Capture: CaptureProgress{
			Must:   newGoalProgress(must),
			Should: newGoalProgress(should),
			Nice:   newGoalProgress(nice),
		},
		MustOrder:     append([]string(nil), must...),
		StartedAt:     now,
		LastUpdatedAt: now,
	}
}

func newGoalProgress(fields []string) GoalProgress {
	m := make(map[string]bool, len(fields))
	for _, f := range fields {
		m[f] = false
	}
	return GoalProgress{Fields: m}
}

// StartTurn opens turn n. Turn numbers are strictly increasing from 1 and a committed
// turn can never be re-opened.
func (m *Memory) StartTurn(n int, input CallerInput) error {
	if m.current != nil {
		return ErrTurnAlreadyOpen
	}
	if n != len(m.Turns)+1 {
		return fmt.Errorf("%w: got %d, expected %d", ErrTurnOutOfOrder, n, len(m.Turns)+1)
	}

	m.current = newTurnRecordBuilder(n, input)
	return nil
}

func (m *Memory) CurrentTurn() *TurnRecordBuilder {
	return m.current
}

func (m *Memory) CurrentTurnNumber() int {
	if m.current != nil {
		return m.current.Number()
	}
	return len(m.Turns)
}

// CommitTurn finalizes the open turn into an immutable TurnRecord. Capture-goal
// stall counters advance here when the turn produced no must/should progress.
func (m *Memory) CommitTurn() (TurnRecord, error) {
	if m.current == nil {
		return TurnRecord{}, ErrNoOpenTurn
	}

	record := m.current.build()

	if !m.current.captureWrite {
		m.Capture.Must.TurnsWithoutProgress++
		m.Capture.Should.TurnsWithoutProgress++
	}

	m.Turns = append(m.Turns, record)
	m.LastUpdatedAt = time.Now().UTC()
	m.current = nil

	return record, nil
}

// CommitFact writes a fact if and only if the gate allows it. A rejection leaves
// Facts untouched and always leaves an audit entry in the tier trace.
func (m *Memory) CommitFact(gate FactGate, fieldID string, value interface{}, source string, confidence float64) error {
	decision := gate.CanCommitFact(m, fieldID, source, confidence)
	if !decision.Allowed {
		m.AppendTierTrace(TierTraceEntry{
			Turn:      m.CurrentTurnNumber(),
			Tier:      "governance",
			Outcome:   "fact_rejected",
			Reasoning: fmt.Sprintf("field=%s source=%s confidence=%.2f reason=%s", fieldID, source, confidence, decision.Reason),
			At:        time.Now().UTC(),
		})
		return &FactRejectedError{FieldID: fieldID, Reason: decision.Reason}
	}

	_, existed := m.Facts[fieldID]
	m.Facts[fieldID] = FactRecord{
		Value:           value,
		Source:          source,
		Confidence:      confidence,
		CommittedAtTurn: m.CurrentTurnNumber(),
	}

	if m.current != nil {
		if existed {
			m.current.recordFactUpdated(fieldID)
		} else {
			m.current.recordFactAdded(fieldID)
		}
	}

	m.markCaptured(fieldID)
	m.LastUpdatedAt = time.Now().UTC()

	return nil
}

func (m *Memory) markCaptured(fieldID string) {
	if _, ok := m.Capture.Must.Fields[fieldID]; ok {
		m.Capture.Must.Fields[fieldID] = true
		m.Capture.Must.TurnsWithoutProgress = 0
		m.Capture.Should.TurnsWithoutProgress = 0
		if m.current != nil {
			m.current.captureWrite = true
		}
		return
	}
	if _, ok := m.Capture.Should.Fields[fieldID]; ok {
		m.Capture.Should.Fields[fieldID] = true
		m.Capture.Must.TurnsWithoutProgress = 0
		m.Capture.Should.TurnsWithoutProgress = 0
		if m.current != nil {
			m.current.captureWrite = true
		}
		return
	}
	if _, ok := m.Capture.Nice.Fields[fieldID]; ok {
		m.Capture.Nice.Fields[fieldID] = true
	}
}

// TransitionPhase applies the phase table; the reason lands in the tier trace so the
// audit surface explains every phase move.
func (m *Memory) TransitionPhase(newPhase Phase, reason string) error {
	if !newPhase.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownPhase, newPhase)
	}
	if newPhase == m.Phase {
		return nil
	}
	if !m.Phase.CanTransitionTo(newPhase) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.Phase, newPhase)
	}

	from := m.Phase
	m.Phase = newPhase

	if m.current != nil {
		m.current.recordPhase(from, newPhase)
	}

	m.AppendTierTrace(TierTraceEntry{
		Turn:      m.CurrentTurnNumber(),
		Tier:      "phase",
		Outcome:   fmt.Sprintf("%s->%s", from, newPhase),
		Reasoning: reason,
		At:        time.Now().UTC(),
	})

	return nil
}

// AppendTierTrace is append-only; trace entries are never pruned mid-call.
func (m *Memory) AppendTierTrace(entry TierTraceEntry) {
	if entry.Turn == 0 {
		entry.Turn = m.CurrentTurnNumber()
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	m.TierTrace = append(m.TierTrace, entry)
}

func (m *Memory) GiveConsent(turn int) {
	if m.Booking.ConsentGivenAtTurn == 0 {
		m.Booking.ConsentGivenAtTurn = turn
	}
}

func (m *Memory) LockBooking() {
	m.Booking.Locked = true
}

func (m *Memory) MustFieldsCaptured() bool {
	for _, captured := range m.Capture.Must.Fields {
		if !captured {
			return false
		}
	}
	return true
}

// MissingMustFields returns uncaptured must fields in configured priority order.
func (m *Memory) MissingMustFields() []string {
	var missing []string
	for _, f := range m.MustOrder {
		if !m.Capture.Must.Fields[f] {
			missing = append(missing, f)
		}
	}
	return missing
}

// RecentTurns returns up to n most recent committed turns, oldest first. Generation
// prompts are bounded with this instead of the full history.
func (m *Memory) RecentTurns(n int) []TurnRecord {
	if n <= 0 || len(m.Turns) == 0 {
		return nil
	}
	if n >= len(m.Turns) {
		return m.Turns
	}
	return m.Turns[len(m.Turns)-n:]
}

func (m *Memory) FactSummary() map[string]interface{} {
	summary := make(map[string]interface{}, len(m.Facts))
	for fieldID, record := range m.Facts {
		summary[fieldID] = record.Value
	}
	return summary
}

func (m *Memory) FactValue(fieldID string) (interface{}, bool) {
	record, ok := m.Facts[fieldID]
	if !ok {
		return nil, false
	}
	return record.Value, true
}

func (m *Memory) FactString(fieldID string) string {
	if v, ok := m.FactValue(fieldID); ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	}
	return ""
}
