package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/signage/screen-pairing-server/internal/model"
)

type HeartbeatRepository interface {
	Create(ctx context.Context, deviceID string, params model.HeartbeatParams) error
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]model.Heartbeat, error)
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
	WithTx(tx *sqlx.Tx) HeartbeatRepository
}

type heartbeatRepo struct {
	db sqlxDB
}

func NewHeartbeatRepository(db *sqlx.DB) HeartbeatRepository {
	return &heartbeatRepo{db: db}
}

func (r *heartbeatRepo) WithTx(tx *sqlx.Tx) HeartbeatRepository {
	return &heartbeatRepo{db: tx}
}

func (r *heartbeatRepo) Create(ctx context.Context, deviceID string, params model.HeartbeatParams) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO device_heartbeats (device_id, status, current_media_id, progress, performance_metrics, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, deviceID, params.Status, params.CurrentMediaID, params.Progress,
		jsonOrEmpty(params.PerformanceMetrics), params.Now)
	return err
}

func (r *heartbeatRepo) ListByDevice(ctx context.Context, deviceID string, limit int) ([]model.Heartbeat, error) {
	var heartbeats []model.Heartbeat
	err := r.db.SelectContext(ctx, &heartbeats, `
		SELECT * FROM device_heartbeats
		WHERE device_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, deviceID, limit)
	return heartbeats, err
}

func (r *heartbeatRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM device_heartbeats WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
