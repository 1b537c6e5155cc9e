package jobs

import (
	"context"
	"os"
	"strconv"
	"time"

	callRepository "VoicedeskGolang/internal/api/call/repository"
	"VoicedeskGolang/pkg/s3"
	"VoicedeskGolang/pkg/smtp"
	"VoicedeskGolang/pkg/utils"

	"github.com/sirupsen/logrus"
)

// Runner owns the three lifecycle jobs: the nightly rollup, the transcript archiver
// and the retention purge. Each job is idempotent so an overlapping or repeated run
// converges to the same state.
type Runner struct {
	log       *logrus.Logger
	repo      callRepository.Repository
	s3Client  s3.ItfS3
	mailer    smtp.ItfSmtp
	utils     utils.IUtils
	retention RetentionConfig

	rollupInterval  time.Duration
	archiveInterval time.Duration
	purgeInterval   time.Duration
}

func New(log *logrus.Logger, repo callRepository.Repository, s3Client s3.ItfS3, mailer smtp.ItfSmtp, utilsPkg utils.IUtils) *Runner {
	return &Runner{
		log:             log,
		repo:            repo,
		s3Client:        s3Client,
		mailer:          mailer,
		utils:           utilsPkg,
		retention:       loadRetentionConfig(),
		rollupInterval:  durationFromEnv("ROLLUP_INTERVAL_MINUTES", 60),
		archiveInterval: durationFromEnv("ARCHIVE_INTERVAL_MINUTES", 30),
		purgeInterval:   durationFromEnv("PURGE_INTERVAL_MINUTES", 24*60),
	}
}

// Start runs all jobs until the context is cancelled. Jobs tick independently; a
// slow archive run never delays a rollup.
func (r *Runner) Start(ctx context.Context) {
	go r.loop(ctx, "rollup", r.rollupInterval, func(c context.Context) error {
		return r.CatchUpRollups(c)
	})
	go r.loop(ctx, "archiver", r.archiveInterval, func(c context.Context) error {
		return r.ArchiveTranscripts(c)
	})
	go r.loop(ctx, "purge", r.purgeInterval, func(c context.Context) error {
		_, err := r.Purge(c, false)
		return err
	})
}

func (r *Runner) loop(ctx context.Context, name string, interval time.Duration, run func(context.Context) error) {
	runOnce := func() {
		if err := run(ctx); err != nil {
			r.log.WithFields(logrus.Fields{
				"job":   name,
				"error": err.Error(),
			}).Error("Job run failed")
		}
	}

	// First run fires immediately so a restart never leaves a full-interval gap
	// before catch-up work resumes.
	if ctx.Err() == nil {
		runOnce()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.WithFields(logrus.Fields{"job": name}).Info("Job loop stopped")
			return
		case <-ticker.C:
			runOnce()
		}
	}
}

func durationFromEnv(key string, defaultMinutes int) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if minutes, err := strconv.Atoi(raw); err == nil && minutes > 0 {
			return time.Duration(minutes) * time.Minute
		}
	}
	return time.Duration(defaultMinutes) * time.Minute
}
