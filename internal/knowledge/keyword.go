package knowledge

import (
	"context"
	"math"
	"strings"

	"VoicedeskGolang/internal/entity"
)

// keywordSource serves the four retrieval tiers that score stored entries against
// the utterance: company KB, trade KB, response templates, and learned insights.
// Scoring follows the exact/synonym/fuzzy ladder: exact token hits weigh most,
// synonym phrase containment next, fuzzy token similarity least.
type keywordSource struct {
	kind    entity.SourceKind
	entries EntryProvider
}

func NewKeywordSource(kind entity.SourceKind, entries EntryProvider) Source {
	return &keywordSource{kind: kind, entries: entries}
}

func (s *keywordSource) Kind() entity.SourceKind {
	return s.kind
}

func (s *keywordSource) Search(ctx context.Context, q Query) (ScoredResult, error) {
	entries, err := s.entries.Entries(ctx, q.CompanyID, q.Trade, s.kind)
	if err != nil {
		return ScoredResult{}, err
	}

	best := ScoredResult{Source: s.kind}

	for _, entry := range entries {
		if !entry.IsActive {
			continue
		}

		score, matched := scoreEntry(q, entry)
		if score > best.Score {
			best = ScoredResult{
				Text:            entry.Answer,
				Score:           score,
				MatchCount:      len(matched),
				MatchedKeywords: matched,
				Source:          s.kind,
			}
		}
	}

	return best, nil
}

func scoreEntry(q Query, entry entity.KnowledgeEntry) (float64, []string) {
	var matched []string
	totalScore := 0.0
	maxPossible := math.Max(float64(len(entry.Keywords)), 1.0)

	for _, keyword := range entry.Keywords {
		for _, token := range q.Tokens {
			if strings.EqualFold(token, keyword) {
				matched = append(matched, keyword)
				totalScore += 1.0
				continue
			}
			if sim := similarity(token, keyword); sim > 0.8 && sim < 1.0 {
				matched = append(matched, keyword)
				totalScore += sim * 0.7
			}
		}
	}

	for _, synonym := range entry.Synonyms {
		if strings.Contains(q.Text, strings.ToLower(synonym)) {
			matched = append(matched, synonym)
			totalScore += 1.2
		}
	}

	score := totalScore / maxPossible
	if len(matched) > 1 {
		score *= 1.1
	}

	return math.Min(score, 1.0), matched
}

func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}

	maxLen := math.Max(float64(len(a)), float64(len(b)))
	if maxLen == 0 {
		return 0.0
	}

	return math.Max(0, 1.0-float64(levenshtein(a, b))/maxLen)
}

func levenshtein(s1, s2 string) int {
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	prev := make([]int, len(s2)+1)
	curr := make([]int, len(s2)+1)

	for j := 0; j <= len(s2); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(s1); i++ {
		curr[0] = i
		for j := 1; j <= len(s2); j++ {
			cost := 0
			if s1[i-1] != s2[j-1] {
				cost = 1
			}
			curr[j] = minInt(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(s2)]
}

func minInt(values ...int) int {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
