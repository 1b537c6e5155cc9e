package knowledge

import (
	"context"
	"fmt"
	"time"

	"VoicedeskGolang/internal/conversation"
	"VoicedeskGolang/internal/governance"

	"github.com/sirupsen/logrus"
)

// Router walks the configured source priority list and selects the FIRST source
// whose score meets its threshold. This is deliberately first-match-wins, not
// best-score-wins: cheaper and more specific tiers sit earlier in the list, and a
// later tier that would have scored higher must not be consulted once a tier
// accepts. Every attempt lands in the call's tier trace.
type Router struct {
	registry *Registry
	log      *logrus.Logger
}

func NewRouter(registry *Registry, log *logrus.Logger) *Router {
	return &Router{registry: registry, log: log}
}

func (r *Router) Route(ctx context.Context, q Query, priorities []governance.SourceRule, mem *conversation.Memory) ScoredResult {
	for _, rule := range priorities {
		source, ok := r.registry.Get(rule.Kind)
		if !ok {
			mem.AppendTierTrace(conversation.TierTraceEntry{
				Tier:      string(rule.Kind),
				Outcome:   "skipped",
				Reasoning: "source not registered",
				At:        time.Now().UTC(),
			})
			continue
		}

		result, err := source.Search(ctx, q)
		if err != nil {
			// A failing tier never aborts the walk; it is recorded and skipped.
			r.log.WithFields(logrus.Fields{
				"call_id": mem.CallID,
				"tier":    string(rule.Kind),
				"error":   err.Error(),
			}).Warn("Knowledge source failed, continuing to next tier")

			mem.AppendTierTrace(conversation.TierTraceEntry{
				Tier:      string(rule.Kind),
				Outcome:   "error",
				Score:     0,
				Reasoning: err.Error(),
				At:        time.Now().UTC(),
			})
			continue
		}

		if result.Score >= rule.Threshold {
			mem.AppendTierTrace(conversation.TierTraceEntry{
				Tier:            string(rule.Kind),
				Outcome:         "selected",
				Score:           result.Score,
				MatchCount:      result.MatchCount,
				MatchedKeywords: result.MatchedKeywords,
				Reasoning:       fmt.Sprintf("score %.2f >= threshold %.2f", result.Score, rule.Threshold),
				At:              time.Now().UTC(),
			})
			return result
		}

		mem.AppendTierTrace(conversation.TierTraceEntry{
			Tier:            string(rule.Kind),
			Outcome:         "rejected",
			Score:           result.Score,
			MatchCount:      result.MatchCount,
			MatchedKeywords: result.MatchedKeywords,
			Reasoning:       fmt.Sprintf("score %.2f < threshold %.2f", result.Score, rule.Threshold),
			At:              time.Now().UTC(),
		})
	}

	mem.AppendTierTrace(conversation.TierTraceEntry{
		Tier:      "router",
		Outcome:   "no_match",
		Score:     NoMatchScore,
		Reasoning: "no source met its threshold",
		At:        time.Now().UTC(),
	})

	return NoMatch()
}
