package callRepository

import (
	"context"
	"database/sql"
	"time"

	"VoicedeskGolang/internal/entity"
	contextPkg "VoicedeskGolang/pkg/context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

type KnowledgeEntryDB struct {
	ID        sql.NullString `db:"id"`
	CompanyID sql.NullString `db:"company_id"`
	Trade     sql.NullString `db:"trade"`
	Kind      sql.NullString `db:"kind"`
	Question  sql.NullString `db:"question"`
	Answer    sql.NullString `db:"answer"`
	Keywords  pq.StringArray `db:"keywords"`
	Synonyms  pq.StringArray `db:"synonyms"`
	IsActive  sql.NullBool   `db:"is_active"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

// Entries returns the active entries a knowledge source searches over: the
// company's own rows plus shared trade rows when the kind is trade scoped.
func (r *knowledgeRepository) Entries(ctx context.Context, companyID string, trade string, kind entity.SourceKind) ([]entity.KnowledgeEntry, error) {
	requestID := contextPkg.GetRequestID(ctx)

	argsKV := map[string]interface{}{
		"company_id": companyID,
		"trade":      trade,
		"kind":       string(kind),
	}

	query, args, err := sqlx.Named(queryListKnowledgeEntries, argsKV)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("Entries named query preparation err")
		return nil, err
	}
	query = r.q.Rebind(query)

	var rows []KnowledgeEntryDB
	if err := r.q.SelectContext(ctx, &rows, query, args...); err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"kind":       string(kind),
			"error":      err.Error(),
		}).Error("Entries execution err")
		return nil, err
	}

	entries := make([]entity.KnowledgeEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, entity.KnowledgeEntry{
			ID:        row.ID.String,
			CompanyID: row.CompanyID.String,
			Trade:     row.Trade.String,
			Kind:      entity.SourceKind(row.Kind.String),
			Question:  row.Question.String,
			Answer:    row.Answer.String,
			Keywords:  row.Keywords,
			Synonyms:  row.Synonyms,
			IsActive:  row.IsActive.Bool,
			CreatedAt: row.CreatedAt,
			UpdatedAt: row.UpdatedAt,
		})
	}

	return entries, nil
}
