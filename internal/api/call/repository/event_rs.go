package callRepository

import (
	"context"
	"time"

	"VoicedeskGolang/internal/entity"
	contextPkg "VoicedeskGolang/pkg/context"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

func (r *eventRepository) CreateBehavioralEvent(ctx context.Context, event entity.BehavioralEvent) error {
	requestID := contextPkg.GetRequestID(ctx)

	argsKV := map[string]interface{}{
		"id":         event.ID,
		"company_id": event.CompanyID,
		"call_id":    event.CallID,
		"event_type": event.EventType,
		"payload":    event.Payload,
		"created_at": event.CreatedAt,
	}

	query, args, err := sqlx.Named(queryCreateBehavioralEvent, argsKV)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("CreateBehavioralEvent named query preparation err")
		return err
	}
	query = r.q.Rebind(query)

	if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"call_id":    event.CallID,
			"error":      err.Error(),
		}).Error("Database error when creating behavioral event")
		return err
	}

	return nil
}

func (r *eventRepository) CountBehavioralEventsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return countOlderThan(ctx, r.q, r.log, queryCountBehavioralEventsOlderThan, cutoff)
}

func (r *eventRepository) DeleteBehavioralEventsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return deleteOlderThan(ctx, r.q, r.log, queryDeleteBehavioralEventsOlderThan, cutoff)
}
