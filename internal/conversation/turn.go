package conversation

import "time"

type CallerInput struct {
	Raw        string  `json:"raw"`
	Cleaned    string  `json:"cleaned"`
	Confidence float64 `json:"confidence"`
}

type RoutingDecision struct {
	SelectedHandler  string   `json:"selected_handler"`
	RejectedHandlers []string `json:"rejected_handlers,omitempty"`
	Reasoning        []string `json:"reasoning,omitempty"`
}

type TurnDelta struct {
	FactsAdded   []string `json:"facts_added,omitempty"`
	FactsUpdated []string `json:"facts_updated,omitempty"`
	PhaseFrom    Phase    `json:"phase_from,omitempty"`
	PhaseTo      Phase    `json:"phase_to,omitempty"`
}

// TurnRecord is immutable once committed. It is only ever produced by committing a
// TurnRecordBuilder; nothing mutates an appended record.
type TurnRecord struct {
	Number            int                    `json:"number"`
	Timestamp         time.Time              `json:"timestamp"`
	Input             CallerInput            `json:"input"`
	Extraction        map[string]interface{} `json:"extraction,omitempty"`
	Routing           RoutingDecision        `json:"routing"`
	ResponseText      string                 `json:"response_text"`
	ResponseLatencyMs int64                  `json:"response_latency_ms"`
	Delta             TurnDelta              `json:"delta"`
}

// TurnRecordBuilder accumulates one turn's data while the orchestration loop runs.
type TurnRecordBuilder struct {
	record       TurnRecord
	factWritten  bool
	captureWrite bool
}

func newTurnRecordBuilder(number int, input CallerInput) *TurnRecordBuilder {
	return &TurnRecordBuilder{
		record: TurnRecord{
			Number:    number,
			Timestamp: time.Now().UTC(),
			Input:     input,
		},
	}
}

func (b *TurnRecordBuilder) Number() int {
	return b.record.Number
}

func (b *TurnRecordBuilder) SetExtraction(extraction map[string]interface{}) {
	b.record.Extraction = extraction
}

func (b *TurnRecordBuilder) SetRouting(selected string, rejected []string, reasoning []string) {
	b.record.Routing = RoutingDecision{
		SelectedHandler:  selected,
		RejectedHandlers: rejected,
		Reasoning:        reasoning,
	}
}

func (b *TurnRecordBuilder) AddReasoning(step string) {
	b.record.Routing.Reasoning = append(b.record.Routing.Reasoning, step)
}

func (b *TurnRecordBuilder) SetResponse(text string, latency time.Duration) {
	b.record.ResponseText = text
	b.record.ResponseLatencyMs = latency.Milliseconds()
}

func (b *TurnRecordBuilder) recordFactAdded(fieldID string) {
	b.record.Delta.FactsAdded = append(b.record.Delta.FactsAdded, fieldID)
	b.factWritten = true
}

func (b *TurnRecordBuilder) recordFactUpdated(fieldID string) {
	b.record.Delta.FactsUpdated = append(b.record.Delta.FactsUpdated, fieldID)
	b.factWritten = true
}

func (b *TurnRecordBuilder) recordPhase(from, to Phase) {
	if b.record.Delta.PhaseFrom == "" {
		b.record.Delta.PhaseFrom = from
	}
	b.record.Delta.PhaseTo = to
}

func (b *TurnRecordBuilder) build() TurnRecord {
	return b.record
}
