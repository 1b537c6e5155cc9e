package knowledge

import (
	"context"
	"errors"
	"testing"

	"VoicedeskGolang/internal/conversation"
	"VoicedeskGolang/internal/entity"
	"VoicedeskGolang/internal/governance"
	"VoicedeskGolang/pkg/log"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	kind   entity.SourceKind
	result ScoredResult
	err    error
	calls  int
}

func (s *stubSource) Kind() entity.SourceKind {
	return s.kind
}

func (s *stubSource) Search(ctx context.Context, q Query) (ScoredResult, error) {
	s.calls++
	if s.err != nil {
		return ScoredResult{}, s.err
	}
	return s.result, nil
}

func scored(kind entity.SourceKind, score float64) ScoredResult {
	return ScoredResult{Text: "answer from " + string(kind), Score: score, MatchCount: 1, Source: kind}
}

func testMemory() *conversation.Memory {
	return conversation.NewMemory("call-1", "company-1", "", "", nil, nil, nil)
}

func priorities(rules ...governance.SourceRule) []governance.SourceRule {
	return rules
}

func TestRouteFirstMatchWins(t *testing.T) {
	// The second tier meets its threshold, so the third, higher-scoring tier must
	// never be consulted.
	company := &stubSource{kind: entity.SourceCompanyKB, result: scored(entity.SourceCompanyKB, 0.5)}
	trade := &stubSource{kind: entity.SourceTradeKB, result: scored(entity.SourceTradeKB, 0.80)}
	semantic := &stubSource{kind: entity.SourceSemantic, result: scored(entity.SourceSemantic, 0.95)}

	router := NewRouter(NewRegistry(company, trade, semantic), log.NewLogger())
	mem := testMemory()

	result := router.Route(context.Background(), NewQuery("company-1", "plumbing", "water heater leaking"), priorities(
		governance.SourceRule{Kind: entity.SourceCompanyKB, Threshold: 0.80},
		governance.SourceRule{Kind: entity.SourceTradeKB, Threshold: 0.75},
		governance.SourceRule{Kind: entity.SourceSemantic, Threshold: 0.60},
	), mem)

	assert.Equal(t, entity.SourceTradeKB, result.Source)
	assert.Equal(t, 0, semantic.calls)

	require.Len(t, mem.TierTrace, 2)
	assert.Equal(t, "rejected", mem.TierTrace[0].Outcome)
	assert.Equal(t, "selected", mem.TierTrace[1].Outcome)
}

func TestRouteFailingTierIsTracedAndSkipped(t *testing.T) {
	company := &stubSource{kind: entity.SourceCompanyKB, err: errors.New("backend down")}
	trade := &stubSource{kind: entity.SourceTradeKB, result: scored(entity.SourceTradeKB, 0.9)}

	router := NewRouter(NewRegistry(company, trade), log.NewLogger())
	mem := testMemory()

	result := router.Route(context.Background(), NewQuery("company-1", "hvac", "no heat"), priorities(
		governance.SourceRule{Kind: entity.SourceCompanyKB, Threshold: 0.80},
		governance.SourceRule{Kind: entity.SourceTradeKB, Threshold: 0.75},
	), mem)

	assert.Equal(t, entity.SourceTradeKB, result.Source)

	require.Len(t, mem.TierTrace, 2)
	assert.Equal(t, "error", mem.TierTrace[0].Outcome)
	assert.Equal(t, 0.0, mem.TierTrace[0].Score)
	assert.Contains(t, mem.TierTrace[0].Reasoning, "backend down")
}

func TestRouteUnregisteredTierIsSkipped(t *testing.T) {
	trade := &stubSource{kind: entity.SourceTradeKB, result: scored(entity.SourceTradeKB, 0.9)}

	router := NewRouter(NewRegistry(trade), log.NewLogger())
	mem := testMemory()

	result := router.Route(context.Background(), NewQuery("company-1", "hvac", "no heat"), priorities(
		governance.SourceRule{Kind: entity.SourceCompanyKB, Threshold: 0.80},
		governance.SourceRule{Kind: entity.SourceTradeKB, Threshold: 0.75},
	), mem)

	assert.Equal(t, entity.SourceTradeKB, result.Source)
	require.Len(t, mem.TierTrace, 2)
	assert.Equal(t, "skipped", mem.TierTrace[0].Outcome)
}

func TestRouteNoMatch(t *testing.T) {
	company := &stubSource{kind: entity.SourceCompanyKB, result: scored(entity.SourceCompanyKB, 0.2)}

	router := NewRouter(NewRegistry(company), log.NewLogger())
	mem := testMemory()

	result := router.Route(context.Background(), NewQuery("company-1", "hvac", "gibberish"), priorities(
		governance.SourceRule{Kind: entity.SourceCompanyKB, Threshold: 0.80},
	), mem)

	assert.True(t, result.IsNoMatch())
	assert.Equal(t, NoMatchScore, result.Score)

	last := mem.TierTrace[len(mem.TierTrace)-1]
	assert.Equal(t, "router", last.Tier)
	assert.Equal(t, "no_match", last.Outcome)
	assert.Equal(t, NoMatchScore, last.Score)
}

func TestRouteTraceGrowsPerAttempt(t *testing.T) {
	company := &stubSource{kind: entity.SourceCompanyKB, result: scored(entity.SourceCompanyKB, 0.2)}

	router := NewRouter(NewRegistry(company), log.NewLogger())
	mem := testMemory()
	rules := priorities(governance.SourceRule{Kind: entity.SourceCompanyKB, Threshold: 0.80})
	q := NewQuery("company-1", "hvac", "hello")

	router.Route(context.Background(), q, rules, mem)
	first := len(mem.TierTrace)
	router.Route(context.Background(), q, rules, mem)

	// Append-only: the second walk adds its own entries, never rewrites earlier ones.
	assert.Equal(t, first*2, len(mem.TierTrace))
	assert.Equal(t, "rejected", mem.TierTrace[0].Outcome)
}
