package repository

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/signage/screen-pairing-server/internal/model"
)

type DeviceRepository interface {
	FindByID(ctx context.Context, id string) (*model.Device, error)
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.Device, error)
	ListByAccount(ctx context.Context, accountID string, filter model.DeviceFilter) ([]model.Device, int, error)
	// ListStale returns devices whose stored status is not offline but whose
	// last heartbeat is older than staleBefore.
	ListStale(ctx context.Context, accountID string, staleBefore time.Time) ([]model.Device, error)
	// FindUnlinked returns devices created before the cutoff that no pairing
	// code points at and that have not been flagged yet.
	FindUnlinked(ctx context.Context, createdBefore time.Time) ([]model.Device, error)
	// Create returns ErrDuplicate when the pairing code already produced a device.
	Create(ctx context.Context, params model.CreateDeviceParams) (*model.Device, error)
	Reconnect(ctx context.Context, id string, params model.ReconnectDeviceParams) (*model.Device, error)
	UpdateDetails(ctx context.Context, id string, name, deviceType *string, now time.Time) (*model.Device, error)
	RecordHeartbeat(ctx context.Context, id string, params model.HeartbeatParams) (*model.Device, error)
	AssignPlaylist(ctx context.Context, id string, playlistID *string, now time.Time) (*model.Device, error)
	// ApplyControl returns nil when the device is gone or, for actions that
	// need one, no playlist is assigned any more.
	ApplyControl(ctx context.Context, id string, params model.ControlParams) (*model.Device, error)
	MarkOrphaned(ctx context.Context, id string, now time.Time) error
	Delete(ctx context.Context, id string) (bool, error)
	WithTx(tx *sqlx.Tx) DeviceRepository
}

type deviceRepo struct {
	db sqlxDB
}

func NewDeviceRepository(db *sqlx.DB) DeviceRepository {
	return &deviceRepo{db: db}
}

func (r *deviceRepo) WithTx(tx *sqlx.Tx) DeviceRepository {
	return &deviceRepo{db: tx}
}

func (r *deviceRepo) FindByID(ctx context.Context, id string) (*model.Device, error) {
	var d model.Device
	err := r.db.GetContext(ctx, &d, `SELECT * FROM devices WHERE id = $1`, id)
	return HandleNotFound(&d, err)
}

func (r *deviceRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.Device, error) {
	var d model.Device
	err := r.db.GetContext(ctx, &d, `
		SELECT * FROM devices
		WHERE token_hash = $1 AND account_id IS NOT NULL
	`, tokenHash)
	return HandleNotFound(&d, err)
}

func (r *deviceRepo) ListByAccount(ctx context.Context, accountID string, filter model.DeviceFilter) ([]model.Device, int, error) {
	query := psql.Select("*").From("devices").Where(sq.Eq{"account_id": accountID})

	if filter.Status != nil {
		if *filter.Status == model.DeviceStatusOffline {
			query = query.Where(sq.Or{
				sq.Eq{"status": model.DeviceStatusOffline},
				sq.Eq{"last_seen": nil},
				sq.Lt{"last_seen": filter.StaleBefore},
			})
		} else {
			query = query.
				Where(sq.Eq{"status": *filter.Status}).
				Where(sq.GtOrEq{"last_seen": filter.StaleBefore})
		}
	}

	countSQL, countArgs, err := query.RemoveColumns().Columns("COUNT(*)").ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, countSQL, countArgs...); err != nil {
		return nil, 0, err
	}

	query = query.OrderBy("created_at DESC", "id")
	if filter.Limit > 0 {
		query = query.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		query = query.Offset(uint64(filter.Offset))
	}

	listSQL, args, err := query.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list query: %w", err)
	}

	var devices []model.Device
	if err := r.db.SelectContext(ctx, &devices, listSQL, args...); err != nil {
		return nil, 0, err
	}
	return devices, total, nil
}

func (r *deviceRepo) ListStale(ctx context.Context, accountID string, staleBefore time.Time) ([]model.Device, error) {
	query, args, err := psql.Select("*").From("devices").
		Where(sq.Eq{"account_id": accountID}).
		Where(sq.NotEq{"status": model.DeviceStatusOffline}).
		Where(sq.Or{sq.Eq{"last_seen": nil}, sq.Lt{"last_seen": staleBefore}}).
		OrderBy("last_seen ASC NULLS FIRST").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build stale query: %w", err)
	}

	var devices []model.Device
	err = r.db.SelectContext(ctx, &devices, query, args...)
	return devices, err
}

func (r *deviceRepo) FindUnlinked(ctx context.Context, createdBefore time.Time) ([]model.Device, error) {
	var devices []model.Device
	err := r.db.SelectContext(ctx, &devices, `
		SELECT d.* FROM devices d
		WHERE d.orphaned_at IS NULL
		  AND d.created_at < $1
		  AND NOT EXISTS (SELECT 1 FROM pairing_codes pc WHERE pc.device_id = d.id)
		ORDER BY d.created_at
	`, createdBefore)
	return devices, err
}

func (r *deviceRepo) Create(ctx context.Context, params model.CreateDeviceParams) (*model.Device, error) {
	var d model.Device
	err := r.db.GetContext(ctx, &d, `
		INSERT INTO devices (
			id, account_id, name, device_type, platform, capabilities, screen_resolution,
			fingerprint, token_hash, pairing_code_id, status, last_seen, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12, $12)
		RETURNING *
	`, params.ID, params.AccountID, params.Name, params.DeviceType, params.Platform,
		jsonOrEmpty(params.Capabilities), params.ScreenResolution, params.Fingerprint,
		params.TokenHash, params.PairingCodeID, model.DeviceStatusOnline, params.Now)
	if isUniqueViolation(err) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *deviceRepo) Reconnect(ctx context.Context, id string, params model.ReconnectDeviceParams) (*model.Device, error) {
	var d model.Device
	err := r.db.GetContext(ctx, &d, `
		UPDATE devices SET
			platform = COALESCE($2, platform),
			screen_resolution = COALESCE($3, screen_resolution),
			fingerprint = COALESCE($4, fingerprint),
			token_hash = $5,
			status = $6,
			last_seen = $7,
			orphaned_at = NULL,
			updated_at = $7
		WHERE id = $1
		RETURNING *
	`, id, params.Platform, params.ScreenResolution, params.Fingerprint, params.TokenHash,
		model.DeviceStatusOnline, params.Now)
	return HandleNotFound(&d, err)
}

func (r *deviceRepo) UpdateDetails(ctx context.Context, id string, name, deviceType *string, now time.Time) (*model.Device, error) {
	var d model.Device
	err := r.db.GetContext(ctx, &d, `
		UPDATE devices SET
			name = COALESCE($2, name),
			device_type = COALESCE($3, device_type),
			updated_at = $4
		WHERE id = $1
		RETURNING *
	`, id, name, deviceType, now)
	return HandleNotFound(&d, err)
}

func (r *deviceRepo) RecordHeartbeat(ctx context.Context, id string, params model.HeartbeatParams) (*model.Device, error) {
	var d model.Device
	err := r.db.GetContext(ctx, &d, `
		UPDATE devices SET
			status = $2,
			current_media_id = $3,
			playback_progress = $4,
			performance_metrics = $5,
			last_seen = $6,
			orphaned_at = NULL,
			updated_at = $6
		WHERE id = $1
		RETURNING *
	`, id, params.Status, params.CurrentMediaID, params.Progress,
		jsonOrEmpty(params.PerformanceMetrics), params.Now)
	return HandleNotFound(&d, err)
}

func (r *deviceRepo) AssignPlaylist(ctx context.Context, id string, playlistID *string, now time.Time) (*model.Device, error) {
	status := model.PlaylistStatusNone
	if playlistID != nil {
		status = model.PlaylistStatusAssigned
	}

	var d model.Device
	err := r.db.GetContext(ctx, &d, `
		UPDATE devices SET
			assigned_playlist_id = $2,
			playlist_status = $3,
			updated_at = $4
		WHERE id = $1
		RETURNING *
	`, id, playlistID, status, now)
	return HandleNotFound(&d, err)
}

func (r *deviceRepo) ApplyControl(ctx context.Context, id string, params model.ControlParams) (*model.Device, error) {
	// Without an assigned playlist the commanded status stays none; play and
	// restart are refused outright by the WHERE clause.
	var d model.Device
	err := r.db.GetContext(ctx, &d, `
		UPDATE devices SET
			playlist_status = CASE WHEN assigned_playlist_id IS NULL THEN 'none' ELSE $2 END,
			last_control_action = $3,
			last_control_time = $4,
			updated_at = $4
		WHERE id = $1 AND (NOT $5 OR assigned_playlist_id IS NOT NULL)
		RETURNING *
	`, id, params.PlaylistStatus, params.Action, params.Now, params.Action.RequiresPlaylist())
	return HandleNotFound(&d, err)
}

func (r *deviceRepo) MarkOrphaned(ctx context.Context, id string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE devices SET orphaned_at = $2, updated_at = $2
		WHERE id = $1 AND orphaned_at IS NULL
	`, id, now)
	return err
}

func (r *deviceRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return affectedOne(result)
}
