package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	callRepository "VoicedeskGolang/internal/api/call/repository"
	"VoicedeskGolang/internal/entity"
	"VoicedeskGolang/pkg/log"
	"VoicedeskGolang/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSummaries struct {
	byDate     map[string][]entity.CallSummary
	countOlder int64
	countCalls int
	deletes    []time.Time
}

func (s *stubSummaries) CreateCallSummary(ctx context.Context, summary entity.CallSummary) error {
	return nil
}

func (s *stubSummaries) GetCallSummaryByCallID(ctx context.Context, callID string) (entity.CallSummary, error) {
	return entity.CallSummary{}, nil
}

func (s *stubSummaries) ListCallSummariesByDate(ctx context.Context, date string) ([]entity.CallSummary, error) {
	return s.byDate[date], nil
}

func (s *stubSummaries) CountCallSummariesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.countCalls++
	return s.countOlder, nil
}

func (s *stubSummaries) DeleteCallSummariesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.deletes = append(s.deletes, cutoff)
	return s.countOlder, nil
}

type archiveMark struct {
	ID     string
	Bucket string
	Key    string
}

type stubTranscripts struct {
	eligible   []entity.TranscriptRecord
	marked     []archiveMark
	markErr    error
	countOlder int64
	deletes    []time.Time
}

func (s *stubTranscripts) CreateTranscript(ctx context.Context, record entity.TranscriptRecord) error {
	return nil
}

func (s *stubTranscripts) GetTranscriptByCallID(ctx context.Context, callID string) (entity.TranscriptRecord, error) {
	return entity.TranscriptRecord{}, nil
}

func (s *stubTranscripts) ListTranscriptsEligibleForArchive(ctx context.Context, cutoff time.Time, limit int) ([]entity.TranscriptRecord, error) {
	return s.eligible, nil
}

func (s *stubTranscripts) MarkTranscriptArchived(ctx context.Context, id string, bucket string, key string, movedAt time.Time) error {
	if s.markErr != nil {
		return s.markErr
	}
	s.marked = append(s.marked, archiveMark{ID: id, Bucket: bucket, Key: key})
	return nil
}

func (s *stubTranscripts) CountTranscriptsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.countOlder, nil
}

func (s *stubTranscripts) DeleteTranscriptsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.deletes = append(s.deletes, cutoff)
	return s.countOlder, nil
}

type anonymizeCall struct {
	ID        string
	NameHash  string
	PhoneHash string
}

type stubCustomers struct {
	dormant    []entity.Customer
	anonymized []anonymizeCall
}

func (s *stubCustomers) UpsertCustomerByPhone(ctx context.Context, customer entity.Customer) error {
	return nil
}

func (s *stubCustomers) ListDormantCustomers(ctx context.Context, cutoff time.Time, limit int) ([]entity.Customer, error) {
	return s.dormant, nil
}

func (s *stubCustomers) CountDormantCustomers(ctx context.Context, cutoff time.Time) (int64, error) {
	return int64(len(s.dormant)), nil
}

func (s *stubCustomers) AnonymizeCustomer(ctx context.Context, id string, nameHash string, phoneHash string) error {
	s.anonymized = append(s.anonymized, anonymizeCall{ID: id, NameHash: nameHash, PhoneHash: phoneHash})
	return nil
}

type stubStats struct {
	upserts      []entity.DailyCallStats
	missingDates []string
}

func (s *stubStats) UpsertDailyStats(ctx context.Context, stats entity.DailyCallStats) error {
	s.upserts = append(s.upserts, stats)
	return nil
}

func (s *stubStats) GetDailyStats(ctx context.Context, companyID string, date string) (entity.DailyCallStats, error) {
	return entity.DailyCallStats{}, nil
}

func (s *stubStats) ListDatesMissingRollup(ctx context.Context, lastNDays int) ([]string, error) {
	return s.missingDates, nil
}

type stubEvents struct {
	countOlder int64
	deletes    []time.Time
}

func (s *stubEvents) CreateBehavioralEvent(ctx context.Context, event entity.BehavioralEvent) error {
	return nil
}

func (s *stubEvents) CountBehavioralEventsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.countOlder, nil
}

func (s *stubEvents) DeleteBehavioralEventsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.deletes = append(s.deletes, cutoff)
	return s.countOlder, nil
}

type stubAudit struct {
	created []entity.AuditLog
}

func (s *stubAudit) CreateAuditLog(ctx context.Context, auditLog entity.AuditLog) error {
	s.created = append(s.created, auditLog)
	return nil
}

type stubRepo struct {
	summaries   *stubSummaries
	transcripts *stubTranscripts
	customers   *stubCustomers
	stats       *stubStats
	events      *stubEvents
	audit       *stubAudit
	commits     int
	rollbacks   int
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		summaries:   &stubSummaries{byDate: map[string][]entity.CallSummary{}},
		transcripts: &stubTranscripts{},
		customers:   &stubCustomers{},
		stats:       &stubStats{},
		events:      &stubEvents{},
		audit:       &stubAudit{},
	}
}

func (s *stubRepo) NewClient(tx bool) (callRepository.Client, error) {
	return callRepository.Client{
		Summaries:   s.summaries,
		Transcripts: s.transcripts,
		Customers:   s.customers,
		Stats:       s.stats,
		Events:      s.events,
		AuditLogs:   s.audit,
		Commit: func() error {
			s.commits++
			return nil
		},
		Rollback: func() error {
			s.rollbacks++
			return nil
		},
	}, nil
}

type uploadCall struct {
	CallID  string
	Payload []byte
}

type stubS3 struct {
	uploads []uploadCall
	err     error
}

func (s *stubS3) UploadTranscript(callID string, payload []byte) (string, string, error) {
	if s.err != nil {
		return "", "", s.err
	}
	s.uploads = append(s.uploads, uploadCall{CallID: callID, Payload: payload})
	return "cold-bucket", "transcripts/" + callID + ".json", nil
}

func (s *stubS3) PresignUrl(key string) (string, error) { return "https://example.com/" + key, nil }

func (s *stubS3) DeleteObject(key string) error { return nil }

type sentMail struct {
	Recipient string
	Subject   string
	Body      string
}

type stubMailer struct {
	sent []sentMail
}

func (s *stubMailer) SendPurgeReport(recipient string, subject string, body string) error {
	s.sent = append(s.sent, sentMail{Recipient: recipient, Subject: subject, Body: body})
	return nil
}

func newTestRunner(repo *stubRepo, s3Client *stubS3, mailer *stubMailer) *Runner {
	return &Runner{
		log:      log.NewLogger(),
		repo:     repo,
		s3Client: s3Client,
		mailer:   mailer,
		utils:    utils.New(),
		retention: RetentionConfig{
			SummaryDays:          365,
			TranscriptDays:       180,
			EventDays:            90,
			CustomerDormancyDays: 730,
		},
	}
}

func summaryAt(companyID string, outcome entity.CallOutcome, intent, tier string, hour int) entity.CallSummary {
	return entity.CallSummary{
		CompanyID:      companyID,
		Outcome:        outcome,
		DetectedIntent: intent,
		TierUsed:       tier,
		StartedAt:      time.Date(2026, 8, 20, hour, 15, 0, 0, time.UTC),
	}
}

func TestRollupForDateAggregates(t *testing.T) {
	repo := newStubRepo()
	repo.summaries.byDate["2026-08-20"] = []entity.CallSummary{
		summaryAt("company-1", entity.OutcomeBooked, "booking", "company_kb", 9),
		summaryAt("company-1", entity.OutcomeEscalated, "emergency", "", 9),
		summaryAt("company-1", entity.OutcomeInfoOnly, "info_request", "trade_kb", 14),
		summaryAt("company-2", entity.OutcomeBooked, "booking", "company_kb", 11),
	}

	runner := newTestRunner(repo, &stubS3{}, &stubMailer{})
	require.NoError(t, runner.RollupForDate(context.Background(), "2026-08-20"))

	require.Len(t, repo.stats.upserts, 2)

	var companyOne *entity.DailyCallStats
	for i := range repo.stats.upserts {
		if repo.stats.upserts[i].CompanyID == "company-1" {
			companyOne = &repo.stats.upserts[i]
		}
	}
	require.NotNil(t, companyOne)

	assert.Equal(t, "2026-08-20", companyOne.Date)
	assert.Equal(t, 3, companyOne.TotalCalls)
	assert.Equal(t, 1, companyOne.BookedCount)
	assert.InDelta(t, 1.0/3.0, companyOne.EscalatedRate, 0.0001)
	assert.Equal(t, 1, companyOne.ByOutcome[string(entity.OutcomeBooked)])
	assert.Equal(t, 1, companyOne.ByOutcome[string(entity.OutcomeEscalated)])
	assert.Equal(t, 2, companyOne.ByIntent["booking"]+companyOne.ByIntent["emergency"])
	assert.Equal(t, 1, companyOne.ByTier["company_kb"])
	assert.Equal(t, 2, companyOne.HourlyVolume[9])
	assert.Equal(t, 1, companyOne.HourlyVolume[14])
}

func TestRollupForDateIsIdempotent(t *testing.T) {
	repo := newStubRepo()
	repo.summaries.byDate["2026-08-20"] = []entity.CallSummary{
		summaryAt("company-1", entity.OutcomeBooked, "booking", "company_kb", 9),
		summaryAt("company-1", entity.OutcomeEscalated, "emergency", "", 9),
		summaryAt("company-1", entity.OutcomeInfoOnly, "info_request", "trade_kb", 14),
		summaryAt("company-2", entity.OutcomeBooked, "booking", "company_kb", 11),
	}

	runner := newTestRunner(repo, &stubS3{}, &stubMailer{})
	require.NoError(t, runner.RollupForDate(context.Background(), "2026-08-20"))
	require.NoError(t, runner.RollupForDate(context.Background(), "2026-08-20"))

	require.Len(t, repo.stats.upserts, 4)

	firstRun := make(map[string]entity.DailyCallStats, 2)
	for _, row := range repo.stats.upserts[:2] {
		row.ComputedAt = time.Time{}
		firstRun[row.CompanyID] = row
	}

	for _, row := range repo.stats.upserts[2:] {
		row.ComputedAt = time.Time{}
		assert.Equal(t, firstRun[row.CompanyID], row, "second run diverged for %s", row.CompanyID)
	}
}

func TestJobLoopRunsImmediatelyOnStart(t *testing.T) {
	runner := newTestRunner(newStubRepo(), &stubS3{}, &stubMailer{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ran := make(chan struct{}, 1)
	go runner.loop(ctx, "rollup", time.Hour, func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	})

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run before the first tick")
	}
}

func TestCatchUpRollupsRecomputesMissingDays(t *testing.T) {
	repo := newStubRepo()
	repo.stats.missingDates = []string{"2026-08-19", "2026-08-20"}
	repo.summaries.byDate["2026-08-19"] = []entity.CallSummary{
		summaryAt("company-1", entity.OutcomeInfoOnly, "info_request", "company_kb", 10),
	}
	repo.summaries.byDate["2026-08-20"] = []entity.CallSummary{
		summaryAt("company-1", entity.OutcomeBooked, "booking", "company_kb", 9),
	}

	runner := newTestRunner(repo, &stubS3{}, &stubMailer{})
	require.NoError(t, runner.CatchUpRollups(context.Background()))

	require.Len(t, repo.stats.upserts, 2)
	assert.Equal(t, "2026-08-19", repo.stats.upserts[0].Date)
	assert.Equal(t, "2026-08-20", repo.stats.upserts[1].Date)
}

func TestArchiveTranscriptsUploadsThenMarks(t *testing.T) {
	repo := newStubRepo()
	repo.transcripts.eligible = []entity.TranscriptRecord{
		{ID: "t-1", CallID: "call-1", Turns: []byte(`[{"number":1}]`)},
		{ID: "t-2", CallID: "call-2", Turns: []byte(`[{"number":1}]`)},
	}

	s3Client := &stubS3{}
	runner := newTestRunner(repo, s3Client, &stubMailer{})
	require.NoError(t, runner.ArchiveTranscripts(context.Background()))

	require.Len(t, s3Client.uploads, 2)
	assert.Equal(t, "call-1", s3Client.uploads[0].CallID)

	require.Len(t, repo.transcripts.marked, 2)
	assert.Equal(t, "t-1", repo.transcripts.marked[0].ID)
	assert.Equal(t, "cold-bucket", repo.transcripts.marked[0].Bucket)
	assert.Equal(t, "transcripts/call-1.json", repo.transcripts.marked[0].Key)
}

func TestArchiveUploadFailureKeepsHotCopy(t *testing.T) {
	repo := newStubRepo()
	repo.transcripts.eligible = []entity.TranscriptRecord{
		{ID: "t-1", CallID: "call-1", Turns: []byte(`[]`)},
	}

	s3Client := &stubS3{err: errors.New("bucket unreachable")}
	runner := newTestRunner(repo, s3Client, &stubMailer{})

	require.NoError(t, runner.ArchiveTranscripts(context.Background()))
	assert.Empty(t, repo.transcripts.marked)
}

func TestArchiveMarkFailureLeavesRowForRetry(t *testing.T) {
	repo := newStubRepo()
	repo.transcripts.eligible = []entity.TranscriptRecord{
		{ID: "t-1", CallID: "call-1", Turns: []byte(`[]`)},
	}
	repo.transcripts.markErr = errors.New("update failed")

	s3Client := &stubS3{}
	runner := newTestRunner(repo, s3Client, &stubMailer{})

	require.NoError(t, runner.ArchiveTranscripts(context.Background()))
	assert.Len(t, s3Client.uploads, 1)
	assert.Empty(t, repo.transcripts.marked)
}

func TestPurgeDryRunCountsWithoutDeleting(t *testing.T) {
	repo := newStubRepo()
	repo.summaries.countOlder = 4
	repo.transcripts.countOlder = 3
	repo.events.countOlder = 2
	repo.customers.dormant = []entity.Customer{{ID: "c-1", Name: "Dana", Phone: "+15551234567"}}

	runner := newTestRunner(repo, &stubS3{}, &stubMailer{})
	report, err := runner.Purge(context.Background(), true)
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.Equal(t, int64(4), report.Summaries)
	assert.Equal(t, int64(3), report.Transcripts)
	assert.Equal(t, int64(2), report.Events)
	assert.Equal(t, int64(1), report.CustomersAnonymized)

	assert.Empty(t, repo.summaries.deletes)
	assert.Empty(t, repo.transcripts.deletes)
	assert.Empty(t, repo.events.deletes)
	assert.Empty(t, repo.customers.anonymized)
	assert.Empty(t, repo.audit.created)
	assert.Equal(t, 0, repo.commits)
}

func TestPurgeDeletesAnonymizesAndAudits(t *testing.T) {
	t.Setenv("ANONYMIZATION_SALT", "pepper")
	t.Setenv("COMPLIANCE_REPORT_EMAIL", "compliance@example.com")

	repo := newStubRepo()
	repo.summaries.countOlder = 4
	repo.transcripts.countOlder = 3
	repo.events.countOlder = 2
	repo.customers.dormant = []entity.Customer{{ID: "c-1", Name: "Dana", Phone: "+15551234567"}}

	mailer := &stubMailer{}
	runner := newTestRunner(repo, &stubS3{}, mailer)

	report, err := runner.Purge(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, report.DryRun)

	assert.Len(t, repo.summaries.deletes, 1)
	assert.Len(t, repo.transcripts.deletes, 1)
	assert.Len(t, repo.events.deletes, 1)

	require.Len(t, repo.customers.anonymized, 1)
	anon := repo.customers.anonymized[0]
	assert.Equal(t, "c-1", anon.ID)
	assert.Equal(t, "anon-"+keyedHash("pepper", "Dana")[:12], anon.NameHash)
	assert.Equal(t, "anon-"+keyedHash("pepper", "+15551234567")[:16], anon.PhoneHash)

	require.Len(t, repo.audit.created, 1)
	audit := repo.audit.created[0]
	assert.Equal(t, "retention-purge", audit.Actor)
	assert.Equal(t, "purge_executed", audit.Action)
	assert.Contains(t, audit.Detail, "summaries=4")

	assert.Equal(t, 1, repo.commits)
	assert.Equal(t, 0, repo.rollbacks)

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "compliance@example.com", mailer.sent[0].Recipient)
	assert.Contains(t, mailer.sent[0].Body, "Customers anonymized: 1")
}

func TestPurgeRefusesRetentionBelowMinimum(t *testing.T) {
	repo := newStubRepo()
	runner := newTestRunner(repo, &stubS3{}, &stubMailer{})
	runner.retention.SummaryDays = 10

	_, err := runner.Purge(context.Background(), false)
	assert.ErrorIs(t, err, ErrRetentionViolation)
	assert.Equal(t, 0, repo.summaries.countCalls)
	assert.Empty(t, repo.summaries.deletes)
}
