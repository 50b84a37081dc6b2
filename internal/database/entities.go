package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"klinikcare/internal/models"
)

const entityColumns = `id, kind, status, payment_status, patient_name, phone, doctor_name,
                 service_name, amount, scheduled_at, notes, created_at, updated_at, version`

func (db *DB) CreateEntity(ctx context.Context, entity *models.Entity) error {
	query := `INSERT INTO entities (
				kind, status, payment_status, patient_name, phone, doctor_name,
				service_name, amount, scheduled_at, notes, created_at, updated_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		entity.Kind,
		entity.Status,
		entity.PaymentStatus,
		entity.PatientName,
		entity.Phone,
		entity.DoctorName,
		entity.ServiceName,
		entity.Amount,
		entity.ScheduledAt,
		entity.Notes,
		now,
		now,
		1,
	)
	if err != nil {
		return fmt.Errorf("failed to create entity: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	entity.ID = id
	entity.CreatedAt = now
	entity.UpdatedAt = now
	entity.Version = 1

	return nil
}

func (db *DB) GetEntity(ctx context.Context, id int64) (*models.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE id = ?`
	entity, err := scanEntity(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntityNotFound
		}
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return entity, nil
}

// UpdateStatusWithVersion commits the status change only if the stored
// version still matches. Zero rows affected means either a lost race or a
// missing row; the two are told apart with a follow-up read.
func (db *DB) UpdateStatusWithVersion(ctx context.Context, id, version int64, status string) error {
	query := `UPDATE entities SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`
	result, err := db.ExecContext(ctx, query, status, time.Now(), id, version)
	if err != nil {
		return fmt.Errorf("failed to update entity status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		if _, err := db.GetEntity(ctx, id); errors.Is(err, ErrEntityNotFound) {
			return ErrEntityNotFound
		}
		return ErrConcurrentModification
	}
	return nil
}

func (db *DB) UpdatePaymentStatus(ctx context.Context, id int64, paymentStatus string) error {
	query := `UPDATE entities SET payment_status = ?, updated_at = ? WHERE id = ?`
	result, err := db.ExecContext(ctx, query, paymentStatus, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrEntityNotFound
	}
	return nil
}

func (db *DB) ListEntities(ctx context.Context, kind, status string, limit int) ([]*models.Entity, error) {
	if limit <= 0 {
		limit = models.DefaultListLimit
	}

	query := `SELECT ` + entityColumns + ` FROM entities`
	var conds []string
	var args []interface{}
	if kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, kind)
	}
	if status != "" {
		conds = append(conds, "status = ?")
		args = append(args, status)
	}
	for i, cond := range conds {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	var entities []*models.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entities: %w", err)
	}
	return entities, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row rowScanner) (*models.Entity, error) {
	var e models.Entity
	var phone, doctorName, serviceName, notes sql.NullString
	var scheduledAt sql.NullTime
	err := row.Scan(
		&e.ID, &e.Kind, &e.Status, &e.PaymentStatus, &e.PatientName, &phone, &doctorName,
		&serviceName, &e.Amount, &scheduledAt, &notes, &e.CreatedAt, &e.UpdatedAt, &e.Version,
	)
	if err != nil {
		return nil, err
	}
	e.Phone = phone.String
	e.DoctorName = doctorName.String
	e.ServiceName = serviceName.String
	e.Notes = notes.String
	if scheduledAt.Valid {
		e.ScheduledAt = scheduledAt.Time
	}
	return &e, nil
}
