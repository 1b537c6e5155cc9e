package knowledge

import (
	"context"
	"strings"

	"VoicedeskGolang/internal/entity"
)

// Query is what a handler asks the routing chain. Tokens are pre-split so each
// source doesn't re-tokenize the same utterance.
type Query struct {
	CompanyID string
	Trade     string
	Text      string
	Tokens    []string
}

func NewQuery(companyID, trade, cleanedText string) Query {
	return Query{
		CompanyID: companyID,
		Trade:     trade,
		Text:      cleanedText,
		Tokens:    strings.Fields(cleanedText),
	}
}

// ScoredResult is ephemeral: produced per source query, consumed by the router,
// never stored beyond the trace entry derived from it.
type ScoredResult struct {
	Text            string
	Score           float64
	MatchCount      int
	MatchedKeywords []string
	Source          entity.SourceKind
}

// NoMatchScore marks "nothing matched anywhere" distinctly from "matched with low
// confidence".
const NoMatchScore = 0.1

func NoMatch() ScoredResult {
	return ScoredResult{Score: NoMatchScore, Source: ""}
}

func (r ScoredResult) IsNoMatch() bool {
	return r.Source == ""
}

// Source is one ranked lookup mechanism in the fallback chain. Adding a new tier is
// a pure addition: implement this and register it.
type Source interface {
	Kind() entity.SourceKind
	Search(ctx context.Context, q Query) (ScoredResult, error)
}

// EntryProvider feeds retrieval sources. The repository layer implements it; tests
// use in-memory fakes.
type EntryProvider interface {
	Entries(ctx context.Context, companyID, trade string, kind entity.SourceKind) ([]entity.KnowledgeEntry, error)
}

type Registry struct {
	sources map[entity.SourceKind]Source
}

func NewRegistry(sources ...Source) *Registry {
	m := make(map[entity.SourceKind]Source, len(sources))
	for _, s := range sources {
		m[s.Kind()] = s
	}
	return &Registry{sources: m}
}

func (r *Registry) Get(kind entity.SourceKind) (Source, bool) {
	s, ok := r.sources[kind]
	return s, ok
}
