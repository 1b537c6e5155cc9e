package callRepository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"VoicedeskGolang/internal/entity"
	contextPkg "VoicedeskGolang/pkg/context"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

var ErrStatsNotFound = errors.New("daily stats row not found")

type DailyStatsDB struct {
	CompanyID     sql.NullString  `db:"company_id"`
	Date          sql.NullString  `db:"date"`
	TotalCalls    sql.NullInt64   `db:"total_calls"`
	ByOutcome     sql.NullString  `db:"by_outcome"`
	ByTier        sql.NullString  `db:"by_tier"`
	ByIntent      sql.NullString  `db:"by_intent"`
	HourlyVolume  sql.NullString  `db:"hourly_volume"`
	BookedCount   sql.NullInt64   `db:"booked_count"`
	EscalatedRate sql.NullFloat64 `db:"escalated_rate"`
	ComputedAt    time.Time       `db:"computed_at"`
}

func (r *statsRepository) UpsertDailyStats(ctx context.Context, stats entity.DailyCallStats) error {
	requestID := contextPkg.GetRequestID(ctx)

	byOutcome, err := json.Marshal(stats.ByOutcome)
	if err != nil {
		return err
	}
	byTier, err := json.Marshal(stats.ByTier)
	if err != nil {
		return err
	}
	byIntent, err := json.Marshal(stats.ByIntent)
	if err != nil {
		return err
	}
	hourly, err := json.Marshal(stats.HourlyVolume)
	if err != nil {
		return err
	}

	argsKV := map[string]interface{}{
		"company_id":     stats.CompanyID,
		"date":           stats.Date,
		"total_calls":    stats.TotalCalls,
		"by_outcome":     string(byOutcome),
		"by_tier":        string(byTier),
		"by_intent":      string(byIntent),
		"hourly_volume":  string(hourly),
		"booked_count":   stats.BookedCount,
		"escalated_rate": stats.EscalatedRate,
		"computed_at":    stats.ComputedAt,
	}

	query, args, err := sqlx.Named(queryUpsertDailyStats, argsKV)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("UpsertDailyStats named query preparation err")
		return err
	}
	query = r.q.Rebind(query)

	if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"company_id": stats.CompanyID,
			"date":       stats.Date,
			"error":      err.Error(),
		}).Error("Database error when upserting daily stats")
		return err
	}

	return nil
}

func (r *statsRepository) GetDailyStats(ctx context.Context, companyID string, date string) (entity.DailyCallStats, error) {
	requestID := contextPkg.GetRequestID(ctx)
	var statsDB DailyStatsDB

	argsKV := map[string]interface{}{
		"company_id": companyID,
		"date":       date,
	}

	query, args, err := sqlx.Named(queryGetDailyStats, argsKV)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("GetDailyStats named query preparation err")
		return entity.DailyCallStats{}, err
	}
	query = r.q.Rebind(query)

	if err := r.q.QueryRowxContext(ctx, query, args...).StructScan(&statsDB); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entity.DailyCallStats{}, ErrStatsNotFound
		}
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("GetDailyStats execution err")
		return entity.DailyCallStats{}, err
	}

	return r.makeDailyStats(statsDB), nil
}

func (r *statsRepository) ListDatesMissingRollup(ctx context.Context, lastNDays int) ([]string, error) {
	requestID := contextPkg.GetRequestID(ctx)

	argsKV := map[string]interface{}{
		"window_start": time.Now().UTC().AddDate(0, 0, -lastNDays),
	}

	query, args, err := sqlx.Named(queryListDatesMissingRollup, argsKV)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("ListDatesMissingRollup named query preparation err")
		return nil, err
	}
	query = r.q.Rebind(query)

	var dates []string
	if err := r.q.SelectContext(ctx, &dates, query, args...); err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("ListDatesMissingRollup execution err")
		return nil, err
	}

	return dates, nil
}

func (r *statsRepository) makeDailyStats(statsDB DailyStatsDB) entity.DailyCallStats {
	stats := entity.DailyCallStats{
		CompanyID:     statsDB.CompanyID.String,
		Date:          statsDB.Date.String,
		TotalCalls:    int(statsDB.TotalCalls.Int64),
		BookedCount:   int(statsDB.BookedCount.Int64),
		EscalatedRate: statsDB.EscalatedRate.Float64,
		ComputedAt:    statsDB.ComputedAt,
	}

	if statsDB.ByOutcome.Valid && statsDB.ByOutcome.String != "" {
		json.Unmarshal([]byte(statsDB.ByOutcome.String), &stats.ByOutcome)
	}
	if statsDB.ByTier.Valid && statsDB.ByTier.String != "" {
		json.Unmarshal([]byte(statsDB.ByTier.String), &stats.ByTier)
	}
	if statsDB.ByIntent.Valid && statsDB.ByIntent.String != "" {
		json.Unmarshal([]byte(statsDB.ByIntent.String), &stats.ByIntent)
	}
	if statsDB.HourlyVolume.Valid && statsDB.HourlyVolume.String != "" {
		json.Unmarshal([]byte(statsDB.HourlyVolume.String), &stats.HourlyVolume)
	}

	return stats
}
