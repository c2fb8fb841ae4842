package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type Repository struct {
	Store *Store
}

func NewRepository(store *Store) *Repository {
	return &Repository{Store: store}
}

// GetServer resolves the server registered for (userID, hostname).
func (r *Repository) GetServer(ctx context.Context, userID, hostname string) (ServerRecord, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT id, user_id, hostname, created_at
		FROM servers WHERE user_id=$1 AND hostname=$2`, userID, hostname)
	var rec ServerRecord
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Hostname, &rec.CreatedAt); err != nil {
		return ServerRecord{}, ErrNotFound
	}
	return rec, nil
}

// GetServerByID resolves a server by primary key.
func (r *Repository) GetServerByID(ctx context.Context, id string) (ServerRecord, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT id, user_id, hostname, created_at
		FROM servers WHERE id=$1`, id)
	var rec ServerRecord
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Hostname, &rec.CreatedAt); err != nil {
		return ServerRecord{}, ErrNotFound
	}
	return rec, nil
}

// CreateServer inserts a server record for (userID, hostname) and returns
// the id of the row that exists afterwards. The unique constraint on
// (user_id, hostname) makes concurrent registrations collapse to a single
// row; when the insert loses that race it returns the winner's id, never
// the discarded one.
func (r *Repository) CreateServer(ctx context.Context, userID, hostname string) (string, error) {
	var id string
	err := r.Store.Pool.QueryRow(ctx, `
		INSERT INTO servers (id, user_id, hostname, created_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (user_id, hostname) DO NOTHING
		RETURNING id`,
		uuid.NewString(), userID, hostname,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		rec, getErr := r.GetServer(ctx, userID, hostname)
		if getErr != nil {
			return "", getErr
		}
		return rec.ID, nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) ListServers(ctx context.Context, userID string) ([]ServerRecord, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id, user_id, hostname, created_at
		FROM servers WHERE user_id=$1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []ServerRecord{}
	for rows.Next() {
		var rec ServerRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Hostname, &rec.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, nil
}

// InsertMetric appends one sample row.
func (r *Repository) InsertMetric(ctx context.Context, sample MetricSample) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO server_metrics (server_id, cpu, memory, disk, uptime, created_at)
		VALUES ($1,$2,$3,$4,$5,now())`,
		sample.ServerID, sample.CPU, sample.Memory, sample.Disk, sample.Uptime,
	)
	return err
}

// LatestMetrics returns the most recent samples for a server, newest first.
func (r *Repository) LatestMetrics(ctx context.Context, serverID string, limit int) ([]MetricSample, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id, server_id, cpu, memory, disk, uptime, created_at
		FROM server_metrics WHERE server_id=$1 ORDER BY created_at DESC LIMIT $2`, serverID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []MetricSample{}
	for rows.Next() {
		var rec MetricSample
		if err := rows.Scan(&rec.ID, &rec.ServerID, &rec.CPU, &rec.Memory, &rec.Disk, &rec.Uptime, &rec.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, nil
}

// UpsertThresholds updates the user's thresholds if present, inserts
// otherwise.
func (r *Repository) UpsertThresholds(ctx context.Context, rec ThresholdRecord) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO alert_thresholds (user_id, cpu, memory, disk, updated_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (user_id) DO UPDATE
		SET cpu=EXCLUDED.cpu, memory=EXCLUDED.memory, disk=EXCLUDED.disk, updated_at=now()`,
		rec.UserID, rec.CPU, rec.Memory, rec.Disk,
	)
	return err
}

func (r *Repository) GetThresholds(ctx context.Context, userID string) (ThresholdRecord, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT user_id, cpu, memory, disk, updated_at
		FROM alert_thresholds WHERE user_id=$1`, userID)
	var rec ThresholdRecord
	if err := row.Scan(&rec.UserID, &rec.CPU, &rec.Memory, &rec.Disk, &rec.UpdatedAt); err != nil {
		return ThresholdRecord{}, ErrNotFound
	}
	return rec, nil
}
