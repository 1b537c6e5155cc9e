package classifier

// Intent categories the local classifier can emit. These act as a safety net that is
// independent of the generation provider and must stay cheap enough for every turn.
const (
	IntentEmergency       = "emergency"
	IntentWrongNumber     = "wrong_number"
	IntentSpam            = "spam"
	IntentBooking         = "booking_intent"
	IntentTroubleshooting = "troubleshooting"
	IntentBilling         = "billing"
	IntentInfoRequest     = "info_request"
	IntentUpdateBooking   = "update_booking"
	IntentUnknown         = "unknown"
)

type MatchResult struct {
	Keyword string  `json:"keyword"`
	Score   float64 `json:"score"`
	Type    string  `json:"type"`
}

type IntentResult struct {
	Intent         string          `json:"intent"`
	Confidence     float64         `json:"confidence"`
	Signals        map[string]bool `json:"signals"`
	Matches        []MatchResult   `json:"matches"`
	CleanedText    string          `json:"cleaned_text"`
	ProcessingTime string          `json:"processing_time"`
}

type IClassifier interface {
	Classify(text string) (*IntentResult, error)
}
