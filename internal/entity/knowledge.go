package entity

import "time"

type SourceKind string

const (
	SourceCompanyKB   SourceKind = "company_kb"
	SourceTradeKB     SourceKind = "trade_kb"
	SourceTemplates   SourceKind = "templates"
	SourceInsights    SourceKind = "insights"
	SourceSemantic    SourceKind = "semantic"
	SourceLLMFallback SourceKind = "llm_fallback"
)

func (s SourceKind) Valid() bool {
	switch s {
	case SourceCompanyKB, SourceTradeKB, SourceTemplates, SourceInsights, SourceSemantic, SourceLLMFallback:
		return true
	}
	return false
}

// KnowledgeEntry is one retrievable answer. Company entries are scoped by CompanyID;
// trade entries share a trade identifier and apply to every company in that trade.
type KnowledgeEntry struct {
	ID        string     `json:"id"`
	CompanyID string     `json:"company_id"`
	Trade     string     `json:"trade"`
	Kind      SourceKind `json:"kind"`
	Question  string     `json:"question"`
	Answer    string     `json:"answer"`
	Keywords  []string   `json:"keywords"`
	Synonyms  []string   `json:"synonyms"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
