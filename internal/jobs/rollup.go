package jobs

import (
	"context"
	"time"

	"VoicedeskGolang/internal/entity"

	"github.com/sirupsen/logrus"
)

const rollupCatchUpDays = 7

// RollupForDate aggregates one day's call summaries into per-company stat rows. The
// write is an upsert keyed on (company, date), so re-running a day recomputes it
// instead of double counting.
func (r *Runner) RollupForDate(ctx context.Context, date string) error {
	repoClient, err := r.repo.NewClient(false)
	if err != nil {
		return err
	}

	summaries, err := repoClient.Summaries.ListCallSummariesByDate(ctx, date)
	if err != nil {
		return err
	}

	byCompany := make(map[string][]entity.CallSummary)
	for _, summary := range summaries {
		byCompany[summary.CompanyID] = append(byCompany[summary.CompanyID], summary)
	}

	now := time.Now().UTC()

	for companyID, companySummaries := range byCompany {
		stats := aggregate(companyID, date, companySummaries, now)

		if err := repoClient.Stats.UpsertDailyStats(ctx, stats); err != nil {
			r.log.WithFields(logrus.Fields{
				"company_id": companyID,
				"date":       date,
				"error":      err.Error(),
			}).Error("Failed to upsert daily stats")
			return err
		}
	}

	r.log.WithFields(logrus.Fields{
		"date":      date,
		"companies": len(byCompany),
		"calls":     len(summaries),
	}).Info("Rollup completed")

	return nil
}

// CatchUpRollups recomputes any recent day that has summaries but no stats row,
// covering runs lost to restarts or downtime.
func (r *Runner) CatchUpRollups(ctx context.Context) error {
	repoClient, err := r.repo.NewClient(false)
	if err != nil {
		return err
	}

	dates, err := repoClient.Stats.ListDatesMissingRollup(ctx, rollupCatchUpDays)
	if err != nil {
		return err
	}

	for _, date := range dates {
		if err := r.RollupForDate(ctx, date); err != nil {
			return err
		}
	}

	return nil
}

func aggregate(companyID string, date string, summaries []entity.CallSummary, computedAt time.Time) entity.DailyCallStats {
	stats := entity.DailyCallStats{
		CompanyID:  companyID,
		Date:       date,
		TotalCalls: len(summaries),
		ByOutcome:  make(map[string]int),
		ByTier:     make(map[string]int),
		ByIntent:   make(map[string]int),
		ComputedAt: computedAt,
	}

	escalated := 0
	for _, summary := range summaries {
		stats.ByOutcome[string(summary.Outcome)]++
		if summary.TierUsed != "" {
			stats.ByTier[summary.TierUsed]++
		}
		if summary.DetectedIntent != "" {
			stats.ByIntent[summary.DetectedIntent]++
		}

		hour := summary.StartedAt.UTC().Hour()
		stats.HourlyVolume[hour]++

		switch summary.Outcome {
		case entity.OutcomeBooked:
			stats.BookedCount++
		case entity.OutcomeEscalated:
			escalated++
		}
	}

	if stats.TotalCalls > 0 {
		stats.EscalatedRate = float64(escalated) / float64(stats.TotalCalls)
	}

	return stats
}
