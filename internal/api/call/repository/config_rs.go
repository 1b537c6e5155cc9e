package callRepository

import (
	"context"
	"database/sql"
	"errors"

	contextPkg "VoicedeskGolang/pkg/context"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

var ErrConfigNotFound = errors.New("no governance config stored for company")

type governanceConfigDB struct {
	Payload []byte        `db:"payload"`
	Version sql.NullInt64 `db:"version"`
}

func (r *configRepository) GetLatestGovernanceConfig(ctx context.Context, companyID string) ([]byte, int, error) {
	requestID := contextPkg.GetRequestID(ctx)
	var configDB governanceConfigDB

	argsKV := map[string]interface{}{
		"company_id": companyID,
	}

	query, args, err := sqlx.Named(queryGetLatestGovernanceConfig, argsKV)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("GetLatestGovernanceConfig named query preparation err")
		return nil, 0, err
	}
	query = r.q.Rebind(query)

	if err := r.q.QueryRowxContext(ctx, query, args...).StructScan(&configDB); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, ErrConfigNotFound
		}
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"company_id": companyID,
			"error":      err.Error(),
		}).Error("GetLatestGovernanceConfig execution err")
		return nil, 0, err
	}

	return configDB.Payload, int(configDB.Version.Int64), nil
}
