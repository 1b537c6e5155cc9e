package entity

import "time"

type CallOutcome string

const (
	OutcomeBooked      CallOutcome = "booked"
	OutcomeEscalated   CallOutcome = "escalated"
	OutcomeInfoOnly    CallOutcome = "info_only"
	OutcomeWrongNumber CallOutcome = "wrong_number"
	OutcomeSpam        CallOutcome = "spam"
	OutcomeAbandoned   CallOutcome = "abandoned"
)

type CallSummary struct {
	ID             string                 `json:"id"`
	CallID         string                 `json:"call_id"`
	CompanyID      string                 `json:"company_id"`
	CallerPhone    string                 `json:"caller_phone"`
	Outcome        CallOutcome            `json:"outcome"`
	DetectedIntent string                 `json:"detected_intent"`
	TierUsed       string                 `json:"tier_used"`
	TurnCount      int                    `json:"turn_count"`
	AppointmentID  string                 `json:"appointment_id"`
	Facts          map[string]interface{} `json:"facts"`
	StartedAt      time.Time              `json:"started_at"`
	EndedAt        time.Time              `json:"ended_at"`
	CreatedAt      time.Time              `json:"created_at"`
}

// TranscriptRecord keeps turn-level detail hot until the archiver moves it to cold
// storage; after that only the bucket/key reference and the turn count remain.
type TranscriptRecord struct {
	ID            string     `json:"id"`
	CallID        string     `json:"call_id"`
	CompanyID     string     `json:"company_id"`
	Turns         []byte     `json:"turns"`
	TurnCount     int        `json:"turn_count"`
	ArchiveBucket string     `json:"archive_bucket"`
	ArchiveKey    string     `json:"archive_key"`
	MovedToColdAt *time.Time `json:"moved_to_cold_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

type BehavioralEvent struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	CallID    string    `json:"call_id"`
	EventType string    `json:"event_type"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditLog struct {
	ID        string    `json:"id"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}
