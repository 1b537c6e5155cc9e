package knowledge

import (
	"context"
	"fmt"

	"VoicedeskGolang/internal/entity"

	jsoniter "github.com/json-iterator/go"
)

// Generator is the synthesis boundary for the fallback tier.
type Generator interface {
	GenerateDecision(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
}

// llmSource is the only tier permitted to synthesize novel text instead of
// retrieving a stored answer. It sits last in the default priority so every cheaper,
// more specific tier gets a chance first.
type llmSource struct {
	generator Generator
}

// llmSourceScore is fixed: high enough to pass the tier's own threshold, never
// compared against retrieval scores because the walk stops here anyway.
const llmSourceScore = 0.9

func NewLLMSource(generator Generator) Source {
	return &llmSource{generator: generator}
}

func (s *llmSource) Kind() entity.SourceKind {
	return entity.SourceLLMFallback
}

func (s *llmSource) Search(ctx context.Context, q Query) (ScoredResult, error) {
	systemPrompt := "You answer one caller question for a home-services business in two short, " +
		"plain sentences. If you do not know, say the office will follow up. " +
		"Respond with JSON: {\"reply\": \"...\"}"

	raw, err := s.generator.GenerateDecision(ctx, systemPrompt, fmt.Sprintf("Caller asked: %s", q.Text))
	if err != nil {
		return ScoredResult{}, err
	}

	var parsed struct {
		Reply string `json:"reply"`
	}
	reply := raw
	if err := jsoniter.UnmarshalFromString(raw, &parsed); err == nil && parsed.Reply != "" {
		reply = parsed.Reply
	}

	if reply == "" {
		return ScoredResult{Source: entity.SourceLLMFallback}, nil
	}

	return ScoredResult{
		Text:       reply,
		Score:      llmSourceScore,
		MatchCount: 1,
		Source:     entity.SourceLLMFallback,
	}, nil
}
