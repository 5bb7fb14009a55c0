package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/signage/screen-pairing-server/internal/errors"
	"github.com/signage/screen-pairing-server/internal/events"
	"github.com/signage/screen-pairing-server/internal/model"
	"github.com/signage/screen-pairing-server/internal/repository"
)

// EventPublisher delivers device lifecycle events to subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, accountID string, eventType events.Type, subject string, payload any) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, events.Type, string, any) error { return nil }

// publish is best effort: a failed publish is logged and never fails the caller.
func publish(ctx context.Context, p EventPublisher, accountID string, eventType events.Type, subject string, payload any) {
	if err := p.Publish(ctx, accountID, eventType, subject, payload); err != nil {
		log.Warn().
			Err(err).
			Str("type", string(eventType)).
			Str("accountId", accountID).
			Str("subject", subject).
			Msg("failed to publish event")
	}
}

func orNoop(p EventPublisher) EventPublisher {
	if p == nil {
		return noopPublisher{}
	}
	return p
}

func orNow(now func() time.Time) func() time.Time {
	if now == nil {
		return time.Now
	}
	return now
}

// storageErr passes AppErrors through and wraps anything else as a storage failure.
func storageErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.AsAppError(err); ok {
		return err
	}
	return apperrors.Database(err)
}

const (
	deviceResource   = "Device"
	playlistResource = "Playlist"
)

// findOwnedDevice resolves a device the account may act on: 404 when it does
// not exist, 403 when another account owns it.
func findOwnedDevice(ctx context.Context, devices repository.DeviceRepository, accountID, deviceID string) (*model.Device, error) {
	device, err := devices.FindByID(ctx, deviceID)
	if err != nil {
		return nil, storageErr(fmt.Errorf("find device: %w", err))
	}
	if device == nil {
		return nil, apperrors.NotFound(deviceResource)
	}
	if !device.OwnedBy(accountID) {
		return nil, apperrors.NotOwned(deviceResource)
	}
	return device, nil
}

// deviceEvent is the payload of every device.* event.
type deviceEvent struct {
	DeviceID          string               `json:"deviceId"`
	Name              string               `json:"name,omitempty"`
	Status            model.DeviceStatus   `json:"status,omitempty"`
	PlaylistID        *string              `json:"playlistId,omitempty"`
	PlaylistStatus    model.PlaylistStatus `json:"playlistStatus,omitempty"`
	LastControlAction *model.ControlAction `json:"lastControlAction,omitempty"`
}

func newDeviceEvent(d *model.Device) deviceEvent {
	return deviceEvent{
		DeviceID:          d.ID,
		Name:              d.Name,
		Status:            d.Status,
		PlaylistID:        d.AssignedPlaylistID,
		PlaylistStatus:    d.PlaylistStatus,
		LastControlAction: d.LastControlAction,
	}
}

func isServerError(err error) bool {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeDatabase, apperrors.ErrCodeInternal, apperrors.ErrCodeGenerationExhausted:
		return true
	}
	return false
}
