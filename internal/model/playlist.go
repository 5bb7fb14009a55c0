package model

import "time"

// Playlist is the slice of the playlist catalogue needed for ownership checks.
type Playlist struct {
	ID        string    `db:"id" json:"id"`
	AccountID string    `db:"account_id" json:"accountId"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
