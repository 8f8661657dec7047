package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/bookingsync/libs/db"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/model"
)

type ServiceRepository struct {
	pool *db.Pool
}

func NewServiceRepository(pool *db.Pool) *ServiceRepository {
	return &ServiceRepository{pool: pool}
}

const serviceColumns = `id, name, description, duration_minutes, price::text, created_at`

func scanService(row pgx.Row) (model.Service, error) {
	var s model.Service
	err := row.Scan(&s.ID, &s.Name, &s.Description, &s.DurationMinutes, &s.Price, &s.CreatedAt)
	return s, err
}

func (r *ServiceRepository) GetService(ctx context.Context, id string) (model.Service, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Service{}, ErrNotFound
	}
	s, err := scanService(r.pool.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = $1`, id))
	return s, mapWriteErr(err)
}

func (r *ServiceRepository) ListServices(ctx context.Context) ([]model.Service, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+serviceColumns+` FROM services ORDER BY created_at, name`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Service, error) {
		return scanService(row)
	})
}

// DefaultService returns preferredID when set, otherwise the oldest service.
func (r *ServiceRepository) DefaultService(ctx context.Context, preferredID string) (model.Service, error) {
	if preferredID != "" {
		return r.GetService(ctx, preferredID)
	}
	s, err := scanService(r.pool.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services ORDER BY created_at, name LIMIT 1`))
	return s, mapWriteErr(err)
}

// SeedServices inserts services that do not exist yet, matched by name.
func (r *ServiceRepository) SeedServices(ctx context.Context, services []model.Service) (int, error) {
	var inserted int
	err := r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		for _, s := range services {
			id := s.ID
			if id == "" {
				id = uuid.NewString()
			}
			tag, err := tx.Exec(ctx, `
				INSERT INTO services (id, name, description, duration_minutes, price)
				VALUES ($1, $2, $3, $4, $5::numeric)
				ON CONFLICT (name) DO NOTHING
			`, id, s.Name, s.Description, s.DurationMinutes, s.Price)
			if err != nil {
				return err
			}
			inserted += int(tag.RowsAffected())
		}
		return nil
	})
	return inserted, err
}
