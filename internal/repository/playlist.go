package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/signage/screen-pairing-server/internal/model"
)

type PlaylistRepository interface {
	FindByID(ctx context.Context, id string) (*model.Playlist, error)
	WithTx(tx *sqlx.Tx) PlaylistRepository
}

type playlistRepo struct {
	db sqlxDB
}

func NewPlaylistRepository(db *sqlx.DB) PlaylistRepository {
	return &playlistRepo{db: db}
}

func (r *playlistRepo) WithTx(tx *sqlx.Tx) PlaylistRepository {
	return &playlistRepo{db: tx}
}

func (r *playlistRepo) FindByID(ctx context.Context, id string) (*model.Playlist, error) {
	var p model.Playlist
	err := r.db.GetContext(ctx, &p, `
		SELECT id, account_id, name, created_at FROM playlists WHERE id = $1
	`, id)
	return HandleNotFound(&p, err)
}
