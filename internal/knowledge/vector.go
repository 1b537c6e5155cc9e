package knowledge

import (
	"context"
	"fmt"
	"sync"

	"VoicedeskGolang/internal/entity"

	chromem "github.com/philippgille/chromem-go"
	"github.com/sirupsen/logrus"
)

// Embedder is the embedding boundary; pkg/gemini satisfies it.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// vectorSource backs the semantic tier with an embedded chromem-go store. Each
// company gets its own collection, seeded lazily from the company and trade KBs on
// first query and kept for the life of the process.
type vectorSource struct {
	db       *chromem.DB
	embedder Embedder
	entries  EntryProvider
	log      *logrus.Logger

	mu     sync.Mutex
	seeded map[string]bool
}

func NewVectorSource(embedder Embedder, entries EntryProvider, log *logrus.Logger) Source {
	return &vectorSource{
		db:       chromem.NewDB(),
		embedder: embedder,
		entries:  entries,
		log:      log,
		seeded:   make(map[string]bool),
	}
}

func (s *vectorSource) Kind() entity.SourceKind {
	return entity.SourceSemantic
}

func (s *vectorSource) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedText(ctx, text)
	}
}

func (s *vectorSource) collectionName(companyID string) string {
	return "kb-" + companyID
}

func (s *vectorSource) ensureSeeded(ctx context.Context, companyID, trade string) (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := s.collectionName(companyID)
	collection, err := s.db.GetOrCreateCollection(name, nil, s.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %s: %w", name, err)
	}

	if s.seeded[companyID] {
		return collection, nil
	}

	var docs []chromem.Document
	for _, kind := range []entity.SourceKind{entity.SourceCompanyKB, entity.SourceTradeKB} {
		entries, err := s.entries.Entries(ctx, companyID, trade, kind)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if !entry.IsActive {
				continue
			}
			docs = append(docs, chromem.Document{
				ID:      entry.ID,
				Content: entry.Question + "\n" + entry.Answer,
				Metadata: map[string]string{
					"answer": entry.Answer,
					"kind":   string(entry.Kind),
				},
			})
		}
	}

	if len(docs) > 0 {
		if err := collection.AddDocuments(ctx, docs, 2); err != nil {
			return nil, fmt.Errorf("failed to seed collection %s: %w", name, err)
		}
	}

	s.seeded[companyID] = true
	s.log.WithFields(logrus.Fields{
		"company_id": companyID,
		"documents":  len(docs),
	}).Debug("Seeded semantic collection")

	return collection, nil
}

func (s *vectorSource) Search(ctx context.Context, q Query) (ScoredResult, error) {
	collection, err := s.ensureSeeded(ctx, q.CompanyID, q.Trade)
	if err != nil {
		return ScoredResult{}, err
	}

	if collection.Count() == 0 {
		return ScoredResult{Source: entity.SourceSemantic}, nil
	}

	results, err := collection.Query(ctx, q.Text, 1, nil, nil)
	if err != nil {
		return ScoredResult{}, err
	}

	if len(results) == 0 {
		return ScoredResult{Source: entity.SourceSemantic}, nil
	}

	top := results[0]
	answer := top.Metadata["answer"]
	if answer == "" {
		answer = top.Content
	}

	return ScoredResult{
		Text:       answer,
		Score:      float64(top.Similarity),
		MatchCount: 1,
		Source:     entity.SourceSemantic,
	}, nil
}
