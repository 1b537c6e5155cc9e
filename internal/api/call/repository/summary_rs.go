package callRepository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"VoicedeskGolang/internal/api/call"
	"VoicedeskGolang/internal/entity"
	contextPkg "VoicedeskGolang/pkg/context"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

type CallSummaryDB struct {
	ID             sql.NullString `db:"id"`
	CallID         sql.NullString `db:"call_id"`
	CompanyID      sql.NullString `db:"company_id"`
	CallerPhone    sql.NullString `db:"caller_phone"`
	Outcome        sql.NullString `db:"outcome"`
	DetectedIntent sql.NullString `db:"detected_intent"`
	TierUsed       sql.NullString `db:"tier_used"`
	TurnCount      sql.NullInt64  `db:"turn_count"`
	AppointmentID  sql.NullString `db:"appointment_id"`
	Facts          sql.NullString `db:"facts"`
	StartedAt      time.Time      `db:"started_at"`
	EndedAt        time.Time      `db:"ended_at"`
	CreatedAt      time.Time      `db:"created_at"`
}

func (r *summaryRepository) CreateCallSummary(ctx context.Context, summary entity.CallSummary) error {
	requestID := contextPkg.GetRequestID(ctx)

	factsJSON, err := json.Marshal(summary.Facts)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("Failed to marshal summary facts")
		return err
	}

	argsKV := map[string]interface{}{
		"id":              summary.ID,
		"call_id":         summary.CallID,
		"company_id":      summary.CompanyID,
		"caller_phone":    summary.CallerPhone,
		"outcome":         string(summary.Outcome),
		"detected_intent": summary.DetectedIntent,
		"tier_used":       summary.TierUsed,
		"turn_count":      summary.TurnCount,
		"appointment_id":  summary.AppointmentID,
		"facts":           string(factsJSON),
		"started_at":      summary.StartedAt,
		"ended_at":        summary.EndedAt,
		"created_at":      summary.CreatedAt,
	}

	query, args, err := sqlx.Named(queryCreateCallSummary, argsKV)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("CreateCallSummary named query preparation err")
		return err
	}
	query = r.q.Rebind(query)

	if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"call_id":    summary.CallID,
			"error":      err.Error(),
		}).Error("Database error when creating call summary")
		return err
	}

	return nil
}

func (r *summaryRepository) GetCallSummaryByCallID(ctx context.Context, callID string) (entity.CallSummary, error) {
	requestID := contextPkg.GetRequestID(ctx)
	var summaryDB CallSummaryDB

	argsKV := map[string]interface{}{
		"call_id": callID,
	}

	query, args, err := sqlx.Named(queryGetCallSummaryByCallID, argsKV)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("GetCallSummaryByCallID named query preparation err")
		return entity.CallSummary{}, err
	}
	query = r.q.Rebind(query)

	if err := r.q.QueryRowxContext(ctx, query, args...).StructScan(&summaryDB); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entity.CallSummary{}, call.ErrCallNotFound
		}
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("GetCallSummaryByCallID execution err")
		return entity.CallSummary{}, err
	}

	return r.makeCallSummary(summaryDB), nil
}

func (r *summaryRepository) ListCallSummariesByDate(ctx context.Context, date string) ([]entity.CallSummary, error) {
	requestID := contextPkg.GetRequestID(ctx)

	dayStart, err := time.Parse("2006-01-02", date)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"date":       date,
			"error":      err.Error(),
		}).Error("ListCallSummariesByDate invalid date")
		return nil, err
	}

	argsKV := map[string]interface{}{
		"day_start": dayStart,
		"day_end":   dayStart.AddDate(0, 0, 1),
	}

	query, args, err := sqlx.Named(queryListCallSummariesByDate, argsKV)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("ListCallSummariesByDate named query preparation err")
		return nil, err
	}
	query = r.q.Rebind(query)

	var rows []CallSummaryDB
	if err := r.q.SelectContext(ctx, &rows, query, args...); err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("ListCallSummariesByDate execution err")
		return nil, err
	}

	summaries := make([]entity.CallSummary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, r.makeCallSummary(row))
	}

	return summaries, nil
}

func (r *summaryRepository) CountCallSummariesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return countOlderThan(ctx, r.q, r.log, queryCountCallSummariesOlderThan, cutoff)
}

func (r *summaryRepository) DeleteCallSummariesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return deleteOlderThan(ctx, r.q, r.log, queryDeleteCallSummariesOlderThan, cutoff)
}

func (r *summaryRepository) makeCallSummary(summaryDB CallSummaryDB) entity.CallSummary {
	var facts map[string]interface{}
	if summaryDB.Facts.Valid && summaryDB.Facts.String != "" {
		json.Unmarshal([]byte(summaryDB.Facts.String), &facts)
	}

	return entity.CallSummary{
		ID:             summaryDB.ID.String,
		CallID:         summaryDB.CallID.String,
		CompanyID:      summaryDB.CompanyID.String,
		CallerPhone:    summaryDB.CallerPhone.String,
		Outcome:        entity.CallOutcome(summaryDB.Outcome.String),
		DetectedIntent: summaryDB.DetectedIntent.String,
		TierUsed:       summaryDB.TierUsed.String,
		TurnCount:      int(summaryDB.TurnCount.Int64),
		AppointmentID:  summaryDB.AppointmentID.String,
		Facts:          facts,
		StartedAt:      summaryDB.StartedAt,
		EndedAt:        summaryDB.EndedAt,
		CreatedAt:      summaryDB.CreatedAt,
	}
}

// countOlderThan and deleteOlderThan back every retention-facing repository so the
// purge job gets identical dry-run and destructive semantics across tables.
func countOlderThan(ctx context.Context, q SQLExecutor, log *logrus.Logger, namedQuery string, cutoff time.Time) (int64, error) {
	requestID := contextPkg.GetRequestID(ctx)

	query, args, err := sqlx.Named(namedQuery, map[string]interface{}{"cutoff": cutoff})
	if err != nil {
		log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("countOlderThan named query preparation err")
		return 0, err
	}
	query = q.Rebind(query)

	var count int64
	if err := q.GetContext(ctx, &count, query, args...); err != nil {
		log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("countOlderThan execution err")
		return 0, err
	}

	return count, nil
}

func deleteOlderThan(ctx context.Context, q SQLExecutor, log *logrus.Logger, namedQuery string, cutoff time.Time) (int64, error) {
	requestID := contextPkg.GetRequestID(ctx)

	query, args, err := sqlx.Named(namedQuery, map[string]interface{}{"cutoff": cutoff})
	if err != nil {
		log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("deleteOlderThan named query preparation err")
		return 0, err
	}
	query = q.Rebind(query)

	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("deleteOlderThan execution err")
		return 0, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("deleteOlderThan rows affected err")
		return 0, err
	}

	return rowsAffected, nil
}
