package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/signage/screen-pairing-server/internal/database"
)

// Store groups the repositories the services need and lets them run several
// writes atomically. Repositories returned inside WithTx share the transaction.
type Store interface {
	Accounts() AccountRepository
	PairingCodes() PairingCodeRepository
	Devices() DeviceRepository
	Heartbeats() HeartbeatRepository
	Playlists() PlaylistRepository
	WithTx(ctx context.Context, fn func(Store) error) error
}

type sqlStore struct {
	db        *database.DB
	inTx      bool
	accounts  AccountRepository
	codes     PairingCodeRepository
	devices   DeviceRepository
	heartbeat HeartbeatRepository
	playlists PlaylistRepository
}

func NewStore(db *database.DB) Store {
	return &sqlStore{
		db:        db,
		accounts:  NewAccountRepository(db.DB),
		codes:     NewPairingCodeRepository(db.DB),
		devices:   NewDeviceRepository(db.DB),
		heartbeat: NewHeartbeatRepository(db.DB),
		playlists: NewPlaylistRepository(db.DB),
	}
}

func (s *sqlStore) Accounts() AccountRepository         { return s.accounts }
func (s *sqlStore) PairingCodes() PairingCodeRepository { return s.codes }
func (s *sqlStore) Devices() DeviceRepository           { return s.devices }
func (s *sqlStore) Heartbeats() HeartbeatRepository     { return s.heartbeat }
func (s *sqlStore) Playlists() PlaylistRepository       { return s.playlists }

// WithTx runs fn in a transaction. Nested calls join the outer transaction.
func (s *sqlStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return fn(&sqlStore{
			db:        s.db,
			inTx:      true,
			accounts:  s.accounts.WithTx(tx),
			codes:     s.codes.WithTx(tx),
			devices:   s.devices.WithTx(tx),
			heartbeat: s.heartbeat.WithTx(tx),
			playlists: s.playlists.WithTx(tx),
		})
	})
}
