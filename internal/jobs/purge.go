package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	callRepository "VoicedeskGolang/internal/api/call/repository"
	"VoicedeskGolang/internal/entity"

	"github.com/sirupsen/logrus"
)

var ErrRetentionViolation = errors.New("jobs: retention period below the allowed minimum")

// minRetentionDays is the floor below which a purge refuses to run. A typo'd env
// var must never wipe recent production data.
const minRetentionDays = 30

const dormantCustomerBatchSize = 500

type RetentionConfig struct {
	SummaryDays          int
	TranscriptDays       int
	EventDays            int
	CustomerDormancyDays int
}

func loadRetentionConfig() RetentionConfig {
	return RetentionConfig{
		SummaryDays:          intFromEnv("RETENTION_SUMMARY_DAYS", 365),
		TranscriptDays:       intFromEnv("RETENTION_TRANSCRIPT_DAYS", 180),
		EventDays:            intFromEnv("RETENTION_EVENT_DAYS", 90),
		CustomerDormancyDays: intFromEnv("RETENTION_CUSTOMER_DORMANCY_DAYS", 730),
	}
}

func (c RetentionConfig) validate() error {
	for _, days := range []int{c.SummaryDays, c.TranscriptDays, c.EventDays, c.CustomerDormancyDays} {
		if days < minRetentionDays {
			return fmt.Errorf("%w: %d days", ErrRetentionViolation, days)
		}
	}
	return nil
}

func intFromEnv(key string, fallback int) int {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return fallback
}

// PurgeReport is what a purge run would do (dry run) or did do. Dry-run and
// destructive runs share the same counting queries, so the numbers match.
type PurgeReport struct {
	DryRun              bool      `json:"dry_run"`
	Summaries           int64     `json:"summaries"`
	Transcripts         int64     `json:"transcripts"`
	Events              int64     `json:"events"`
	CustomersAnonymized int64     `json:"customers_anonymized"`
	ExecutedAt          time.Time `json:"executed_at"`
}

// Purge enforces the retention policy: expired summaries, transcripts and events are
// deleted; dormant customers are anonymized in place rather than deleted so
// historical stats keep their shape.
func (r *Runner) Purge(ctx context.Context, dryRun bool) (*PurgeReport, error) {
	if err := r.retention.validate(); err != nil {
		r.log.WithFields(logrus.Fields{
			"error": err.Error(),
		}).Error("Purge refused, retention configuration violates the minimum")
		return nil, err
	}

	now := time.Now().UTC()
	summaryCutoff := now.AddDate(0, 0, -r.retention.SummaryDays)
	transcriptCutoff := now.AddDate(0, 0, -r.retention.TranscriptDays)
	eventCutoff := now.AddDate(0, 0, -r.retention.EventDays)
	dormancyCutoff := now.AddDate(0, 0, -r.retention.CustomerDormancyDays)

	report := &PurgeReport{DryRun: dryRun, ExecutedAt: now}

	counter, err := r.repo.NewClient(false)
	if err != nil {
		return nil, err
	}

	if report.Summaries, err = counter.Summaries.CountCallSummariesOlderThan(ctx, summaryCutoff); err != nil {
		return nil, err
	}
	if report.Transcripts, err = counter.Transcripts.CountTranscriptsOlderThan(ctx, transcriptCutoff); err != nil {
		return nil, err
	}
	if report.Events, err = counter.Events.CountBehavioralEventsOlderThan(ctx, eventCutoff); err != nil {
		return nil, err
	}
	if report.CustomersAnonymized, err = counter.Customers.CountDormantCustomers(ctx, dormancyCutoff); err != nil {
		return nil, err
	}

	if dryRun {
		r.log.WithFields(logrus.Fields{
			"summaries":   report.Summaries,
			"transcripts": report.Transcripts,
			"events":      report.Events,
			"customers":   report.CustomersAnonymized,
		}).Info("Purge dry run")
		return report, nil
	}

	repoClient, err := r.repo.NewClient(true)
	if err != nil {
		return nil, err
	}

	if _, err := repoClient.Summaries.DeleteCallSummariesOlderThan(ctx, summaryCutoff); err != nil {
		repoClient.Rollback()
		return nil, err
	}
	if _, err := repoClient.Transcripts.DeleteTranscriptsOlderThan(ctx, transcriptCutoff); err != nil {
		repoClient.Rollback()
		return nil, err
	}
	if _, err := repoClient.Events.DeleteBehavioralEventsOlderThan(ctx, eventCutoff); err != nil {
		repoClient.Rollback()
		return nil, err
	}

	if err := r.anonymizeDormantCustomers(ctx, repoClient, dormancyCutoff); err != nil {
		repoClient.Rollback()
		return nil, err
	}

	auditID, err := r.utils.NewULIDFromTimestamp(now)
	if err != nil {
		repoClient.Rollback()
		return nil, err
	}

	if err := repoClient.AuditLogs.CreateAuditLog(ctx, entity.AuditLog{
		ID:     auditID,
		Actor:  "retention-purge",
		Action: "purge_executed",
		Detail: fmt.Sprintf("summaries=%d transcripts=%d events=%d customers_anonymized=%d",
			report.Summaries, report.Transcripts, report.Events, report.CustomersAnonymized),
		CreatedAt: now,
	}); err != nil {
		repoClient.Rollback()
		return nil, err
	}

	if err := repoClient.Commit(); err != nil {
		return nil, err
	}

	r.log.WithFields(logrus.Fields{
		"summaries":   report.Summaries,
		"transcripts": report.Transcripts,
		"events":      report.Events,
		"customers":   report.CustomersAnonymized,
	}).Info("Purge executed")

	r.sendPurgeReport(report)

	return report, nil
}

func (r *Runner) anonymizeDormantCustomers(ctx context.Context, repoClient callRepository.Client, cutoff time.Time) error {
	salt := os.Getenv("ANONYMIZATION_SALT")

	for {
		customers, err := repoClient.Customers.ListDormantCustomers(ctx, cutoff, dormantCustomerBatchSize)
		if err != nil {
			return err
		}
		if len(customers) == 0 {
			return nil
		}

		for _, customer := range customers {
			nameHash := "anon-" + keyedHash(salt, customer.Name)[:12]
			phoneHash := "anon-" + keyedHash(salt, customer.Phone)[:16]

			if err := repoClient.Customers.AnonymizeCustomer(ctx, customer.ID, nameHash, phoneHash); err != nil {
				return err
			}
		}

		if len(customers) < dormantCustomerBatchSize {
			return nil
		}
	}
}

// keyedHash is one-way: the salt keeps rainbow tables off short phone numbers while
// keeping the hash stable, so repeated purges are idempotent.
func keyedHash(salt, value string) string {
	sum := sha256.Sum256([]byte(salt + ":" + value))
	return hex.EncodeToString(sum[:])
}

func (r *Runner) sendPurgeReport(report *PurgeReport) {
	recipient := os.Getenv("COMPLIANCE_REPORT_EMAIL")
	if recipient == "" {
		return
	}

	body := fmt.Sprintf(
		"Retention purge executed at %s\n\nCall summaries deleted: %d\nTranscripts deleted: %d\nBehavioral events deleted: %d\nCustomers anonymized: %d\n",
		report.ExecutedAt.Format(time.RFC3339),
		report.Summaries, report.Transcripts, report.Events, report.CustomersAnonymized,
	)

	if err := r.mailer.SendPurgeReport(recipient, "Retention purge report", body); err != nil {
		r.log.WithFields(logrus.Fields{
			"recipient": recipient,
			"error":     err.Error(),
		}).Error("Failed to send purge report email")
	}
}
