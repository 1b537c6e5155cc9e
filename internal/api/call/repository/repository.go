package callRepository

import (
	"time"

	"VoicedeskGolang/internal/entity"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"
)

type SQLExecutor interface {
	sqlx.ExtContext
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
	Rebind(query string) string
}

func New(db *sqlx.DB, log *logrus.Logger) Repository {
	return &repository{
		DB:  db,
		log: log,
	}
}

type repository struct {
	DB  *sqlx.DB
	log *logrus.Logger
}

type Repository interface {
	NewClient(tx bool) (Client, error)
}

func (r *repository) NewClient(tx bool) (Client, error) {
	var sqlExecutor SQLExecutor
	var commitFunc, rollbackFunc func() error

	sqlExecutor = r.DB

	if tx {
		txx, err := r.DB.Beginx()
		if err != nil {
			return Client{}, err
		}

		sqlExecutor = txx
		commitFunc = txx.Commit
		rollbackFunc = txx.Rollback
	} else {
		commitFunc = func() error { return nil }
		rollbackFunc = func() error { return nil }
	}

	return Client{
		Summaries:   &summaryRepository{q: sqlExecutor, log: r.log},
		Transcripts: &transcriptRepository{q: sqlExecutor, log: r.log},
		Customers:   &customerRepository{q: sqlExecutor, log: r.log},
		Stats:       &statsRepository{q: sqlExecutor, log: r.log},
		Events:      &eventRepository{q: sqlExecutor, log: r.log},
		AuditLogs:   &auditRepository{q: sqlExecutor, log: r.log},
		Knowledge:   &knowledgeRepository{q: sqlExecutor, log: r.log},
		Configs:     &configRepository{q: sqlExecutor, log: r.log},
		Commit:      commitFunc,
		Rollback:    rollbackFunc,
	}, nil
}

type Client struct {
	Summaries interface {
		CreateCallSummary(ctx context.Context, summary entity.CallSummary) error
		GetCallSummaryByCallID(ctx context.Context, callID string) (entity.CallSummary, error)
		ListCallSummariesByDate(ctx context.Context, date string) ([]entity.CallSummary, error)
		CountCallSummariesOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
		DeleteCallSummariesOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	}

	Transcripts interface {
		CreateTranscript(ctx context.Context, record entity.TranscriptRecord) error
		GetTranscriptByCallID(ctx context.Context, callID string) (entity.TranscriptRecord, error)
		ListTranscriptsEligibleForArchive(ctx context.Context, cutoff time.Time, limit int) ([]entity.TranscriptRecord, error)
		MarkTranscriptArchived(ctx context.Context, id string, bucket string, key string, movedAt time.Time) error
		CountTranscriptsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
		DeleteTranscriptsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	}

	Customers interface {
		UpsertCustomerByPhone(ctx context.Context, customer entity.Customer) error
		ListDormantCustomers(ctx context.Context, cutoff time.Time, limit int) ([]entity.Customer, error)
		CountDormantCustomers(ctx context.Context, cutoff time.Time) (int64, error)
		AnonymizeCustomer(ctx context.Context, id string, nameHash string, phoneHash string) error
	}

	Stats interface {
		UpsertDailyStats(ctx context.Context, stats entity.DailyCallStats) error
		GetDailyStats(ctx context.Context, companyID string, date string) (entity.DailyCallStats, error)
		ListDatesMissingRollup(ctx context.Context, lastNDays int) ([]string, error)
	}

	Events interface {
		CreateBehavioralEvent(ctx context.Context, event entity.BehavioralEvent) error
		CountBehavioralEventsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
		DeleteBehavioralEventsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	}

	AuditLogs interface {
		CreateAuditLog(ctx context.Context, log entity.AuditLog) error
	}

	Knowledge interface {
		Entries(ctx context.Context, companyID string, trade string, kind entity.SourceKind) ([]entity.KnowledgeEntry, error)
	}

	Configs interface {
		GetLatestGovernanceConfig(ctx context.Context, companyID string) ([]byte, int, error)
	}

	Commit   func() error
	Rollback func() error
}

type summaryRepository struct {
	q   SQLExecutor
	log *logrus.Logger
}

type transcriptRepository struct {
	q   SQLExecutor
	log *logrus.Logger
}

type customerRepository struct {
	q   SQLExecutor
	log *logrus.Logger
}

type statsRepository struct {
	q   SQLExecutor
	log *logrus.Logger
}

type eventRepository struct {
	q   SQLExecutor
	log *logrus.Logger
}

type auditRepository struct {
	q   SQLExecutor
	log *logrus.Logger
}

type knowledgeRepository struct {
	q   SQLExecutor
	log *logrus.Logger
}

type configRepository struct {
	q   SQLExecutor
	log *logrus.Logger
}
