package callRepository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"VoicedeskGolang/internal/api/call"
	"VoicedeskGolang/internal/entity"
	contextPkg "VoicedeskGolang/pkg/context"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

type TranscriptDB struct {
	ID            sql.NullString `db:"id"`
	CallID        sql.NullString `db:"call_id"`
	CompanyID     sql.NullString `db:"company_id"`
	Turns         []byte         `db:"turns"`
	TurnCount     sql.NullInt64  `db:"turn_count"`
	ArchiveBucket sql.NullString `db:"archive_bucket"`
	ArchiveKey    sql.NullString `db:"archive_key"`
	MovedToColdAt sql.NullTime   `db:"moved_to_cold_at"`
	CreatedAt     time.Time      `db:"created_at"`
}

func (r *transcriptRepository) CreateTranscript(ctx context.Context, record entity.TranscriptRecord) error {
	requestID := contextPkg.GetRequestID(ctx)

	argsKV := map[string]interface{}{
		"id":               record.ID,
		"call_id":          record.CallID,
		"company_id":       record.CompanyID,
		"turns":            record.Turns,
		"turn_count":       record.TurnCount,
		"archive_bucket":   record.ArchiveBucket,
		"archive_key":      record.ArchiveKey,
		"moved_to_cold_at": record.MovedToColdAt,
		"created_at":       record.CreatedAt,
	}

	query, args, err := sqlx.Named(queryCreateTranscript, argsKV)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("CreateTranscript named query preparation err")
		return err
	}
	query = r.q.Rebind(query)

	if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"call_id":    record.CallID,
			"error":      err.Error(),
		}).Error("Database error when creating transcript")
		return err
	}

	return nil
}

func (r *transcriptRepository) GetTranscriptByCallID(ctx context.Context, callID string) (entity.TranscriptRecord, error) {
	requestID := contextPkg.GetRequestID(ctx)
	var transcriptDB TranscriptDB

	argsKV := map[string]interface{}{
		"call_id": callID,
	}

	query, args, err := sqlx.Named(queryGetTranscriptByCallID, argsKV)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("GetTranscriptByCallID named query preparation err")
		return entity.TranscriptRecord{}, err
	}
	query = r.q.Rebind(query)

	if err := r.q.QueryRowxContext(ctx, query, args...).StructScan(&transcriptDB); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entity.TranscriptRecord{}, call.ErrCallNotFound
		}
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("GetTranscriptByCallID execution err")
		return entity.TranscriptRecord{}, err
	}

	return r.makeTranscript(transcriptDB), nil
}

func (r *transcriptRepository) ListTranscriptsEligibleForArchive(ctx context.Context, cutoff time.Time, limit int) ([]entity.TranscriptRecord, error) {
	requestID := contextPkg.GetRequestID(ctx)

	argsKV := map[string]interface{}{
		"cutoff": cutoff,
		"limit":  limit,
	}

	query, args, err := sqlx.Named(queryListTranscriptsEligibleForArchive, argsKV)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("ListTranscriptsEligibleForArchive named query preparation err")
		return nil, err
	}
	query = r.q.Rebind(query)

	var rows []TranscriptDB
	if err := r.q.SelectContext(ctx, &rows, query, args...); err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("ListTranscriptsEligibleForArchive execution err")
		return nil, err
	}

	records := make([]entity.TranscriptRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, r.makeTranscript(row))
	}

	return records, nil
}

func (r *transcriptRepository) MarkTranscriptArchived(ctx context.Context, id string, bucket string, key string, movedAt time.Time) error {
	requestID := contextPkg.GetRequestID(ctx)

	argsKV := map[string]interface{}{
		"id":               id,
		"archive_bucket":   bucket,
		"archive_key":      key,
		"moved_to_cold_at": movedAt,
	}

	query, args, err := sqlx.Named(queryMarkTranscriptArchived, argsKV)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("MarkTranscriptArchived named query preparation err")
		return err
	}
	query = r.q.Rebind(query)

	result, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("MarkTranscriptArchived execution err")
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"id":         id,
		}).Warn("MarkTranscriptArchived no rows affected")
		return call.ErrCallNotFound
	}

	return nil
}

func (r *transcriptRepository) CountTranscriptsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return countOlderThan(ctx, r.q, r.log, queryCountTranscriptsOlderThan, cutoff)
}

func (r *transcriptRepository) DeleteTranscriptsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return deleteOlderThan(ctx, r.q, r.log, queryDeleteTranscriptsOlderThan, cutoff)
}

func (r *transcriptRepository) makeTranscript(transcriptDB TranscriptDB) entity.TranscriptRecord {
	record := entity.TranscriptRecord{
		ID:            transcriptDB.ID.String,
		CallID:        transcriptDB.CallID.String,
		CompanyID:     transcriptDB.CompanyID.String,
		Turns:         transcriptDB.Turns,
		TurnCount:     int(transcriptDB.TurnCount.Int64),
		ArchiveBucket: transcriptDB.ArchiveBucket.String,
		ArchiveKey:    transcriptDB.ArchiveKey.String,
		CreatedAt:     transcriptDB.CreatedAt,
	}

	if transcriptDB.MovedToColdAt.Valid {
		movedAt := transcriptDB.MovedToColdAt.Time
		record.MovedToColdAt = &movedAt
	}

	return record
}
