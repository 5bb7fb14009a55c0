package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/signage/screen-pairing-server/internal/model"
)

type PairingCodeRepository interface {
	FindByID(ctx context.Context, id string) (*model.PairingCode, error)
	// FindUnexpiredByCode looks across all accounts for an unexpired code,
	// claimed or not. A claimed value stays reserved until it expires.
	FindUnexpiredByCode(ctx context.Context, code string, now time.Time) (*model.PairingCode, error)
	// FindUnexpiredByAccountAndCode returns the newest unexpired code for the
	// account, claimed or not.
	FindUnexpiredByAccountAndCode(ctx context.Context, accountID, code string, now time.Time) (*model.PairingCode, error)
	FindCompletableByAccountAndCode(ctx context.Context, accountID, code string) (*model.PairingCode, error)
	FindActiveByAccountID(ctx context.Context, accountID string, now time.Time) ([]model.PairingCode, error)
	CountActiveByAccountID(ctx context.Context, accountID string, now time.Time) (int, error)
	Create(ctx context.Context, params model.CreatePairingCodeParams) (*model.PairingCode, error)
	// Link binds the code to a device. It reports false when the code was
	// already bound, which means a concurrent claim won.
	Link(ctx context.Context, id, deviceID string, claimedAt time.Time) (bool, error)
	// LinkAndComplete binds and completes a re-pair code in one statement.
	LinkAndComplete(ctx context.Context, id, deviceID string, now time.Time) (bool, error)
	MarkCompleted(ctx context.Context, id string, now time.Time) (bool, error)
	// DeleteExpired removes unclaimed codes that expired before the cutoff.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
	WithTx(tx *sqlx.Tx) PairingCodeRepository
}

type pairingCodeRepo struct {
	db sqlxDB
}

func NewPairingCodeRepository(db *sqlx.DB) PairingCodeRepository {
	return &pairingCodeRepo{db: db}
}

func (r *pairingCodeRepo) WithTx(tx *sqlx.Tx) PairingCodeRepository {
	return &pairingCodeRepo{db: tx}
}

func (r *pairingCodeRepo) FindByID(ctx context.Context, id string) (*model.PairingCode, error) {
	var pc model.PairingCode
	err := r.db.GetContext(ctx, &pc, `SELECT * FROM pairing_codes WHERE id = $1`, id)
	return HandleNotFound(&pc, err)
}

func (r *pairingCodeRepo) FindUnexpiredByCode(ctx context.Context, code string, now time.Time) (*model.PairingCode, error) {
	var pc model.PairingCode
	err := r.db.GetContext(ctx, &pc, `
		SELECT * FROM pairing_codes
		WHERE code = $1 AND expires_at > $2
		LIMIT 1
	`, code, now)
	return HandleNotFound(&pc, err)
}

func (r *pairingCodeRepo) FindUnexpiredByAccountAndCode(ctx context.Context, accountID, code string, now time.Time) (*model.PairingCode, error) {
	var pc model.PairingCode
	err := r.db.GetContext(ctx, &pc, `
		SELECT * FROM pairing_codes
		WHERE account_id = $1 AND code = $2 AND expires_at > $3
		ORDER BY created_at DESC
		LIMIT 1
	`, accountID, code, now)
	return HandleNotFound(&pc, err)
}

func (r *pairingCodeRepo) FindCompletableByAccountAndCode(ctx context.Context, accountID, code string) (*model.PairingCode, error) {
	var pc model.PairingCode
	err := r.db.GetContext(ctx, &pc, `
		SELECT * FROM pairing_codes
		WHERE account_id = $1 AND code = $2
		  AND device_id IS NOT NULL AND completed_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`, accountID, code)
	return HandleNotFound(&pc, err)
}

func (r *pairingCodeRepo) FindActiveByAccountID(ctx context.Context, accountID string, now time.Time) ([]model.PairingCode, error) {
	var codes []model.PairingCode
	err := r.db.SelectContext(ctx, &codes, `
		SELECT * FROM pairing_codes
		WHERE account_id = $1 AND completed_at IS NULL AND expires_at > $2
		ORDER BY created_at DESC
	`, accountID, now)
	return codes, err
}

func (r *pairingCodeRepo) CountActiveByAccountID(ctx context.Context, accountID string, now time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM pairing_codes
		WHERE account_id = $1 AND claimed_at IS NULL AND expires_at > $2
	`, accountID, now)
	return count, err
}

func (r *pairingCodeRepo) Create(ctx context.Context, params model.CreatePairingCodeParams) (*model.PairingCode, error) {
	var pc model.PairingCode
	err := r.db.GetContext(ctx, &pc, `
		INSERT INTO pairing_codes (
			id, code, account_id, intended_device_label, intended_device_type,
			target_device_id, created_at, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING *
	`, uuid.NewString(), params.Code, params.AccountID, params.IntendedDeviceLabel,
		params.IntendedDeviceType, params.TargetDeviceID, params.CreatedAt, params.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &pc, nil
}

func (r *pairingCodeRepo) Link(ctx context.Context, id, deviceID string, claimedAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE pairing_codes SET
			device_id = $2,
			claimed_at = $3
		WHERE id = $1 AND claimed_at IS NULL
	`, id, deviceID, claimedAt)
	if err != nil {
		return false, err
	}
	return affectedOne(result)
}

func (r *pairingCodeRepo) LinkAndComplete(ctx context.Context, id, deviceID string, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE pairing_codes SET
			device_id = $2,
			claimed_at = $3,
			completed_at = $3
		WHERE id = $1 AND claimed_at IS NULL
	`, id, deviceID, now)
	if err != nil {
		return false, err
	}
	return affectedOne(result)
}

func (r *pairingCodeRepo) MarkCompleted(ctx context.Context, id string, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE pairing_codes SET completed_at = $2
		WHERE id = $1 AND device_id IS NOT NULL AND completed_at IS NULL
	`, id, now)
	if err != nil {
		return false, err
	}
	return affectedOne(result)
}

func (r *pairingCodeRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM pairing_codes
		WHERE expires_at < $1 AND claimed_at IS NULL
	`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
