package callRepository

import (
	"context"

	"VoicedeskGolang/internal/entity"
	contextPkg "VoicedeskGolang/pkg/context"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

func (r *auditRepository) CreateAuditLog(ctx context.Context, auditLog entity.AuditLog) error {
	requestID := contextPkg.GetRequestID(ctx)

	argsKV := map[string]interface{}{
		"id":         auditLog.ID,
		"actor":      auditLog.Actor,
		"action":     auditLog.Action,
		"detail":     auditLog.Detail,
		"created_at": auditLog.CreatedAt,
	}

	query, args, err := sqlx.Named(queryCreateAuditLog, argsKV)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("CreateAuditLog named query preparation err")
		return err
	}
	query = r.q.Rebind(query)

	if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"action":     auditLog.Action,
			"error":      err.Error(),
		}).Error("Database error when creating audit log")
		return err
	}

	return nil
}
