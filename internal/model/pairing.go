package model

import (
	"time"
)

type PairingCode struct {
	ID                  string     `db:"id" json:"id"`
	Code                string     `db:"code" json:"code"`
	AccountID           string     `db:"account_id" json:"accountId"`
	IntendedDeviceLabel *string    `db:"intended_device_label" json:"intendedDeviceLabel,omitempty"`
	IntendedDeviceType  *string    `db:"intended_device_type" json:"intendedDeviceType,omitempty"`
	TargetDeviceID      *string    `db:"target_device_id" json:"targetDeviceId,omitempty"`
	DeviceID            *string    `db:"device_id" json:"deviceId,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"createdAt"`
	ExpiresAt           time.Time  `db:"expires_at" json:"expiresAt"`
	ClaimedAt           *time.Time `db:"claimed_at" json:"claimedAt,omitempty"`
	CompletedAt         *time.Time `db:"completed_at" json:"completedAt,omitempty"`
}

// IsClaimable reports whether a device may still consume the code.
func (pc *PairingCode) IsClaimable(now time.Time) bool {
	return now.Before(pc.ExpiresAt) && pc.ClaimedAt == nil
}

// IsCompletable reports whether a claimed code is waiting for the account to finish pairing.
func (pc *PairingCode) IsCompletable() bool {
	return pc.DeviceID != nil && pc.CompletedAt == nil
}

func (pc *PairingCode) IsRepair() bool {
	return pc.TargetDeviceID != nil
}

type CreatePairingCodeParams struct {
	Code                string
	AccountID           string
	IntendedDeviceLabel *string
	IntendedDeviceType  *string
	TargetDeviceID      *string
	CreatedAt           time.Time
	ExpiresAt           time.Time
}
