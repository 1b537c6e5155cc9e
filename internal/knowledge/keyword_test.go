package knowledge

import (
	"context"
	"testing"

	"VoicedeskGolang/internal/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryEntries struct {
	entries []entity.KnowledgeEntry
}

func (m *memoryEntries) Entries(ctx context.Context, companyID, trade string, kind entity.SourceKind) ([]entity.KnowledgeEntry, error) {
	return m.entries, nil
}

func entry(answer string, keywords, synonyms []string) entity.KnowledgeEntry {
	return entity.KnowledgeEntry{
		Kind:     entity.SourceCompanyKB,
		Answer:   answer,
		Keywords: keywords,
		Synonyms: synonyms,
		IsActive: true,
	}
}

func TestKeywordSourcePicksBestEntry(t *testing.T) {
	provider := &memoryEntries{entries: []entity.KnowledgeEntry{
		entry("We're open 7am to 6pm.", []string{"hours", "open"}, nil),
		entry("Service calls start at $95.", []string{"price", "cost"}, nil),
	}}

	source := NewKeywordSource(entity.SourceCompanyKB, provider)
	result, err := source.Search(context.Background(), NewQuery("company-1", "plumbing", "what are your hours are you open"))
	require.NoError(t, err)

	assert.Equal(t, "We're open 7am to 6pm.", result.Text)
	assert.Equal(t, entity.SourceCompanyKB, result.Source)
	assert.Equal(t, 1.0, result.Score)
	assert.ElementsMatch(t, []string{"hours", "open"}, result.MatchedKeywords)
}

func TestKeywordSourceSynonymContainment(t *testing.T) {
	provider := &memoryEntries{entries: []entity.KnowledgeEntry{
		entry("Yes, we handle tankless water heaters.", []string{"tankless"}, []string{"on demand water heater"}),
	}}

	source := NewKeywordSource(entity.SourceCompanyKB, provider)
	result, err := source.Search(context.Background(), NewQuery("company-1", "plumbing", "do you install an on demand water heater"))
	require.NoError(t, err)

	assert.Greater(t, result.Score, 0.0)
	assert.Contains(t, result.MatchedKeywords, "on demand water heater")
}

func TestKeywordSourceIgnoresInactiveEntries(t *testing.T) {
	inactive := entry("Old answer.", []string{"hours"}, nil)
	inactive.IsActive = false

	provider := &memoryEntries{entries: []entity.KnowledgeEntry{inactive}}

	source := NewKeywordSource(entity.SourceCompanyKB, provider)
	result, err := source.Search(context.Background(), NewQuery("company-1", "plumbing", "what are your hours"))
	require.NoError(t, err)

	assert.Equal(t, 0.0, result.Score)
	assert.Empty(t, result.Text)
}

func TestKeywordSourceNoOverlapScoresZero(t *testing.T) {
	provider := &memoryEntries{entries: []entity.KnowledgeEntry{
		entry("We're open 7am to 6pm.", []string{"hours", "open"}, nil),
	}}

	source := NewKeywordSource(entity.SourceCompanyKB, provider)
	result, err := source.Search(context.Background(), NewQuery("company-1", "plumbing", "completely unrelated utterance"))
	require.NoError(t, err)

	assert.Equal(t, 0.0, result.Score)
}
