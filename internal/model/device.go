package model

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Device is a paired screen. Status is what the device observed and reported;
// PlaylistStatus is what the account last commanded. Heartbeats only write the
// former and control commands only write the latter.
type Device struct {
	ID                 string         `db:"id" json:"id"`
	AccountID          *string        `db:"account_id" json:"accountId,omitempty"`
	Name               string         `db:"name" json:"name"`
	DeviceType         *string        `db:"device_type" json:"deviceType,omitempty"`
	Platform           *string        `db:"platform" json:"platform,omitempty"`
	Capabilities       types.JSONText `db:"capabilities" json:"capabilities"`
	ScreenResolution   *string        `db:"screen_resolution" json:"screenResolution,omitempty"`
	Fingerprint        *string        `db:"fingerprint" json:"-"`
	TokenHash          *string        `db:"token_hash" json:"-"`
	PairingCodeID      *string        `db:"pairing_code_id" json:"-"`
	Status             DeviceStatus   `db:"status" json:"status"`
	AssignedPlaylistID *string        `db:"assigned_playlist_id" json:"assignedPlaylistId,omitempty"`
	PlaylistStatus     PlaylistStatus `db:"playlist_status" json:"playlistStatus"`
	CurrentMediaID     *string        `db:"current_media_id" json:"currentMediaId,omitempty"`
	PlaybackProgress   *float64       `db:"playback_progress" json:"playbackProgress,omitempty"`
	PerformanceMetrics types.JSONText `db:"performance_metrics" json:"performanceMetrics"`
	LastSeen           *time.Time     `db:"last_seen" json:"lastSeen,omitempty"`
	LastControlAction  *ControlAction `db:"last_control_action" json:"lastControlAction,omitempty"`
	LastControlTime    *time.Time     `db:"last_control_time" json:"lastControlTime,omitempty"`
	OrphanedAt         *time.Time     `db:"orphaned_at" json:"orphanedAt,omitempty"`
	CreatedAt          time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updatedAt"`
}

// IsStale reports whether a device last seen at lastSeen has been silent for
// longer than window. A device that never reported is stale.
func IsStale(lastSeen *time.Time, now time.Time, window time.Duration) bool {
	if lastSeen == nil {
		return true
	}
	return now.Sub(*lastSeen) > window
}

// EffectiveStatus is the stored status corrected for staleness.
func (d *Device) EffectiveStatus(now time.Time, window time.Duration) DeviceStatus {
	if IsStale(d.LastSeen, now, window) {
		return DeviceStatusOffline
	}
	return d.Status
}

func (d *Device) IsConnected(now time.Time, window time.Duration) bool {
	return d.EffectiveStatus(now, window) != DeviceStatusOffline
}

func (d *Device) OwnedBy(accountID string) bool {
	return d.AccountID != nil && *d.AccountID == accountID
}

type CreateDeviceParams struct {
	ID               string
	AccountID        string
	Name             string
	DeviceType       *string
	Platform         *string
	Capabilities     types.JSONText
	ScreenResolution *string
	Fingerprint      *string
	TokenHash        string
	PairingCodeID    string
	Now              time.Time
}

// ReconnectDeviceParams carries what a device re-presents when it claims
// a code again or completes a re-pair.
type ReconnectDeviceParams struct {
	Platform         *string
	ScreenResolution *string
	Fingerprint      *string
	TokenHash        string
	Now              time.Time
}

type HeartbeatParams struct {
	Status             DeviceStatus
	CurrentMediaID     *string
	Progress           *float64
	PerformanceMetrics types.JSONText
	Now                time.Time
}

type ControlParams struct {
	PlaylistStatus PlaylistStatus
	Action         ControlAction
	Now            time.Time
}

// DeviceFilter narrows ListByAccount. Status filters by effective status, so
// StaleBefore must be set whenever Status is.
type DeviceFilter struct {
	Status      *DeviceStatus
	StaleBefore time.Time
	Limit       int
	Offset      int
}
