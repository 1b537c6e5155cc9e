package callRepository

import (
	"context"
	"database/sql"
	"time"

	"VoicedeskGolang/internal/entity"
	contextPkg "VoicedeskGolang/pkg/context"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

type CustomerDB struct {
	ID            sql.NullString `db:"id"`
	CompanyID     sql.NullString `db:"company_id"`
	Name          sql.NullString `db:"name"`
	Phone         sql.NullString `db:"phone"`
	Address       sql.NullString `db:"address"`
	Anonymized    sql.NullBool   `db:"anonymized"`
	LastContactAt time.Time      `db:"last_contact_at"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r *customerRepository) UpsertCustomerByPhone(ctx context.Context, customer entity.Customer) error {
	requestID := contextPkg.GetRequestID(ctx)

	argsKV := map[string]interface{}{
		"id":              customer.ID,
		"company_id":      customer.CompanyID,
		"name":            customer.Name,
		"phone":           customer.Phone,
		"address":         customer.Address,
		"anonymized":      customer.Anonymized,
		"last_contact_at": customer.LastContactAt,
		"created_at":      customer.CreatedAt,
		"updated_at":      customer.UpdatedAt,
	}

	query, args, err := sqlx.Named(queryUpsertCustomerByPhone, argsKV)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("UpsertCustomerByPhone named query preparation err")
		return err
	}
	query = r.q.Rebind(query)

	if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"company_id": customer.CompanyID,
			"error":      err.Error(),
		}).Error("Database error when upserting customer")
		return err
	}

	return nil
}

func (r *customerRepository) ListDormantCustomers(ctx context.Context, cutoff time.Time, limit int) ([]entity.Customer, error) {
	requestID := contextPkg.GetRequestID(ctx)

	argsKV := map[string]interface{}{
		"cutoff": cutoff,
		"limit":  limit,
	}

	query, args, err := sqlx.Named(queryListDormantCustomers, argsKV)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("ListDormantCustomers named query preparation err")
		return nil, err
	}
	query = r.q.Rebind(query)

	var rows []CustomerDB
	if err := r.q.SelectContext(ctx, &rows, query, args...); err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("ListDormantCustomers execution err")
		return nil, err
	}

	customers := make([]entity.Customer, 0, len(rows))
	for _, row := range rows {
		customers = append(customers, r.makeCustomer(row))
	}

	return customers, nil
}

func (r *customerRepository) CountDormantCustomers(ctx context.Context, cutoff time.Time) (int64, error) {
	requestID := contextPkg.GetRequestID(ctx)

	query, args, err := sqlx.Named(queryCountDormantCustomers, map[string]interface{}{"cutoff": cutoff})
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("CountDormantCustomers named query preparation err")
		return 0, err
	}
	query = r.q.Rebind(query)

	var count int64
	if err := r.q.GetContext(ctx, &count, query, args...); err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("CountDormantCustomers execution err")
		return 0, err
	}

	return count, nil
}

func (r *customerRepository) AnonymizeCustomer(ctx context.Context, id string, nameHash string, phoneHash string) error {
	requestID := contextPkg.GetRequestID(ctx)

	argsKV := map[string]interface{}{
		"id":         id,
		"name":       nameHash,
		"phone":      phoneHash,
		"updated_at": time.Now().UTC(),
	}

	query, args, err := sqlx.Named(queryAnonymizeCustomer, argsKV)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("AnonymizeCustomer named query preparation err")
		return err
	}
	query = r.q.Rebind(query)

	if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"id":         id,
			"error":      err.Error(),
		}).Error("AnonymizeCustomer execution err")
		return err
	}

	return nil
}

func (r *customerRepository) makeCustomer(customerDB CustomerDB) entity.Customer {
	return entity.Customer{
		ID:            customerDB.ID.String,
		CompanyID:     customerDB.CompanyID.String,
		Name:          customerDB.Name.String,
		Phone:         customerDB.Phone.String,
		Address:       customerDB.Address.String,
		Anonymized:    customerDB.Anonymized.Bool,
		LastContactAt: customerDB.LastContactAt,
		CreatedAt:     customerDB.CreatedAt,
		UpdatedAt:     customerDB.UpdatedAt,
	}
}
