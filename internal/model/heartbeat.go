package model

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Heartbeat is one accepted device report, kept for liveness analytics.
type Heartbeat struct {
	ID                 int64          `db:"id" json:"id"`
	DeviceID           string         `db:"device_id" json:"deviceId"`
	Status             DeviceStatus   `db:"status" json:"status"`
	CurrentMediaID     *string        `db:"current_media_id" json:"currentMediaId,omitempty"`
	Progress           *float64       `db:"progress" json:"progress,omitempty"`
	PerformanceMetrics types.JSONText `db:"performance_metrics" json:"performanceMetrics"`
	CreatedAt          time.Time      `db:"created_at" json:"createdAt"`
}
