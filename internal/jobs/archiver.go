package jobs

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	hotTranscriptWindow = 48 * time.Hour
	archiveBatchSize    = 100
)

// ArchiveTranscripts moves transcripts past the hot window to object storage. The
// hot row is cleared only after the upload succeeded; an upload failure leaves the
// transcript untouched for the next run.
func (r *Runner) ArchiveTranscripts(ctx context.Context) error {
	repoClient, err := r.repo.NewClient(false)
	if err != nil {
		return err
	}

	cutoff := time.Now().UTC().Add(-hotTranscriptWindow)

	records, err := repoClient.Transcripts.ListTranscriptsEligibleForArchive(ctx, cutoff, archiveBatchSize)
	if err != nil {
		return err
	}

	archived := 0
	for _, record := range records {
		bucket, key, err := r.s3Client.UploadTranscript(record.CallID, record.Turns)
		if err != nil {
			r.log.WithFields(logrus.Fields{
				"call_id": record.CallID,
				"error":   err.Error(),
			}).Error("Transcript upload failed, keeping hot copy")
			continue
		}

		if err := repoClient.Transcripts.MarkTranscriptArchived(ctx, record.ID, bucket, key, time.Now().UTC()); err != nil {
			// The object exists but the row still says hot; the next run re-uploads
			// to the same key and tries again.
			r.log.WithFields(logrus.Fields{
				"call_id": record.CallID,
				"key":     key,
				"error":   err.Error(),
			}).Error("Failed to mark transcript archived")
			continue
		}

		archived++
	}

	if len(records) > 0 {
		r.log.WithFields(logrus.Fields{
			"eligible": len(records),
			"archived": archived,
		}).Info("Transcript archive run completed")
	}

	return nil
}
