package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/signage/screen-pairing-server/internal/errors"
	"github.com/signage/screen-pairing-server/internal/events"
	"github.com/signage/screen-pairing-server/internal/metrics"
	"github.com/signage/screen-pairing-server/internal/model"
	"github.com/signage/screen-pairing-server/internal/repository"
)

// ControlService assigns playlists and issues playback commands. Commands are
// not acknowledged by the device; heartbeats report what actually happened.
type ControlService struct {
	store  repository.Store
	events EventPublisher
	window time.Duration
	now    func() time.Time
}

func NewControlService(store repository.Store, publisher EventPublisher, window time.Duration, now func() time.Time) *ControlService {
	return &ControlService{
		store:  store,
		events: orNoop(publisher),
		window: window,
		now:    orNow(now),
	}
}

// AssignPlaylist binds playlistID to the device, or clears the assignment when nil.
func (s *ControlService) AssignPlaylist(ctx context.Context, accountID, deviceID string, playlistID *string) (*model.Device, error) {
	if _, err := findOwnedDevice(ctx, s.store.Devices(), accountID, deviceID); err != nil {
		return nil, err
	}

	if playlistID != nil {
		playlist, err := s.store.Playlists().FindByID(ctx, *playlistID)
		if err != nil {
			return nil, storageErr(fmt.Errorf("find playlist: %w", err))
		}
		if playlist == nil {
			return nil, apperrors.NotFound(playlistResource)
		}
		if playlist.AccountID != accountID {
			return nil, apperrors.NotOwned(playlistResource)
		}
	}

	device, err := s.store.Devices().AssignPlaylist(ctx, deviceID, playlistID, s.now())
	if err != nil {
		return nil, storageErr(fmt.Errorf("assign playlist: %w", err))
	}
	if device == nil {
		return nil, apperrors.NotFound(deviceResource)
	}

	log.Info().
		Str("deviceId", deviceID).
		Str("accountId", accountID).
		Interface("playlistId", playlistID).
		Msg("playlist assignment changed")

	publish(ctx, s.events, accountID, events.PlaylistAssigned, deviceID, newDeviceEvent(device))
	return device, nil
}

// SendControl checks, in order, ownership, that the device is connected, and
// that play and restart have a playlist to act on.
func (s *ControlService) SendControl(ctx context.Context, accountID, deviceID string, action model.ControlAction) (*model.Device, error) {
	if !action.Valid() {
		return nil, apperrors.InvalidAction(string(action))
	}

	device, err := s.sendControl(ctx, accountID, deviceID, action)
	result := "accepted"
	if err != nil {
		result = string(apperrors.GetCode(err))
	}
	metrics.ControlCommands.WithLabelValues(string(action), result).Inc()
	return device, err
}

func (s *ControlService) sendControl(ctx context.Context, accountID, deviceID string, action model.ControlAction) (*model.Device, error) {
	device, err := findOwnedDevice(ctx, s.store.Devices(), accountID, deviceID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !device.IsConnected(now, s.window) {
		return nil, apperrors.DeviceNotOnline()
	}
	if action.RequiresPlaylist() && device.AssignedPlaylistID == nil {
		return nil, apperrors.NoPlaylistAssigned()
	}

	updated, err := s.store.Devices().ApplyControl(ctx, deviceID, model.ControlParams{
		PlaylistStatus: action.TargetStatus(),
		Action:         action,
		Now:            now,
	})
	if err != nil {
		return nil, storageErr(fmt.Errorf("apply control: %w", err))
	}
	if updated == nil {
		// The playlist was cleared or the device deleted since the checks above.
		if action.RequiresPlaylist() {
			return nil, apperrors.NoPlaylistAssigned()
		}
		return nil, apperrors.NotFound(deviceResource)
	}

	log.Info().
		Str("deviceId", deviceID).
		Str("accountId", accountID).
		Str("action", string(action)).
		Str("playlistStatus", string(updated.PlaylistStatus)).
		Msg("control command issued")

	publish(ctx, s.events, accountID, events.DeviceControl, deviceID, newDeviceEvent(updated))
	return updated, nil
}

func (s *ControlService) DeleteDevice(ctx context.Context, accountID, deviceID string) error {
	device, err := findOwnedDevice(ctx, s.store.Devices(), accountID, deviceID)
	if err != nil {
		return err
	}

	deleted, err := s.store.Devices().Delete(ctx, deviceID)
	if err != nil {
		return storageErr(fmt.Errorf("delete device: %w", err))
	}
	if !deleted {
		return apperrors.NotFound(deviceResource)
	}

	log.Info().
		Str("deviceId", deviceID).
		Str("accountId", accountID).
		Msg("device deleted")

	publish(ctx, s.events, accountID, events.DeviceDeleted, deviceID, newDeviceEvent(device))
	return nil
}
