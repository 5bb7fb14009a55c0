package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/rs/zerolog/log"

	"github.com/signage/screen-pairing-server/internal/config"
	apperrors "github.com/signage/screen-pairing-server/internal/errors"
	"github.com/signage/screen-pairing-server/internal/metrics"
	"github.com/signage/screen-pairing-server/internal/model"
	"github.com/signage/screen-pairing-server/internal/repository"
)

// DeviceView is a device as seen at read time. Status is corrected for
// staleness; ReportedStatus is what the device last sent.
type DeviceView struct {
	model.Device
	Status         model.DeviceStatus `json:"status"`
	ReportedStatus model.DeviceStatus `json:"reportedStatus"`
	Stale          bool               `json:"stale"`
}

type HeartbeatInput struct {
	Status      model.DeviceStatus
	CurrentItem *string
	Progress    *float64
	Metrics     types.JSONText
}

type ListDevicesInput struct {
	Status *model.DeviceStatus
	Limit  int
	Offset int
}

type PresenceService struct {
	store  repository.Store
	window time.Duration
	now    func() time.Time
}

func NewPresenceService(store repository.Store, window time.Duration, now func() time.Time) *PresenceService {
	return &PresenceService{
		store:  store,
		window: window,
		now:    orNow(now),
	}
}

// Heartbeat records what the device reports. Last write wins; the commanded
// playlist state is left alone.
func (s *PresenceService) Heartbeat(ctx context.Context, deviceID string, input HeartbeatInput) (time.Time, error) {
	if !input.Status.Valid() {
		return time.Time{}, apperrors.InvalidInput("status", fmt.Sprintf("unknown device status %q", input.Status))
	}

	now := s.now()
	params := model.HeartbeatParams{
		Status:             input.Status,
		CurrentMediaID:     input.CurrentItem,
		Progress:           input.Progress,
		PerformanceMetrics: input.Metrics,
		Now:                now,
	}

	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		device, err := tx.Devices().RecordHeartbeat(ctx, deviceID, params)
		if err != nil {
			return fmt.Errorf("record heartbeat: %w", err)
		}
		if device == nil {
			return apperrors.NotFound(deviceResource)
		}

		if err := tx.Heartbeats().Create(ctx, deviceID, params); err != nil {
			return fmt.Errorf("append heartbeat: %w", err)
		}
		return nil
	})
	if err != nil {
		return time.Time{}, storageErr(err)
	}

	metrics.Heartbeats.Inc()
	log.Debug().
		Str("deviceId", deviceID).
		Str("status", string(input.Status)).
		Msg("heartbeat received")

	return now, nil
}

func (s *PresenceService) GetDevice(ctx context.Context, accountID, deviceID string) (*DeviceView, error) {
	device, err := findOwnedDevice(ctx, s.store.Devices(), accountID, deviceID)
	if err != nil {
		return nil, err
	}
	view := s.View(device)
	return &view, nil
}

func (s *PresenceService) ListDevices(ctx context.Context, accountID string, input ListDevicesInput) ([]DeviceView, int, error) {
	if input.Status != nil && !input.Status.Valid() {
		return nil, 0, apperrors.InvalidInput("status", fmt.Sprintf("unknown device status %q", *input.Status))
	}

	devices, total, err := s.store.Devices().ListByAccount(ctx, accountID, model.DeviceFilter{
		Status:      input.Status,
		StaleBefore: s.now().Add(-s.window),
		Limit:       input.Limit,
		Offset:      input.Offset,
	})
	if err != nil {
		return nil, 0, storageErr(fmt.Errorf("list devices: %w", err))
	}
	return s.views(devices), total, nil
}

// ListStale returns devices that still claim to be up but have gone quiet.
func (s *PresenceService) ListStale(ctx context.Context, accountID string) ([]DeviceView, error) {
	devices, err := s.store.Devices().ListStale(ctx, accountID, s.now().Add(-s.window))
	if err != nil {
		return nil, storageErr(fmt.Errorf("list stale devices: %w", err))
	}
	return s.views(devices), nil
}

func (s *PresenceService) ListHeartbeats(ctx context.Context, accountID, deviceID string, limit int) ([]model.Heartbeat, error) {
	if _, err := findOwnedDevice(ctx, s.store.Devices(), accountID, deviceID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = config.DefaultHeartbeatLimit
	}
	if limit > config.MaxHeartbeatLimit {
		limit = config.MaxHeartbeatLimit
	}

	heartbeats, err := s.store.Heartbeats().ListByDevice(ctx, deviceID, limit)
	if err != nil {
		return nil, storageErr(fmt.Errorf("list heartbeats: %w", err))
	}
	return heartbeats, nil
}

func (s *PresenceService) View(d *model.Device) DeviceView {
	now := s.now()
	return DeviceView{
		Device:         *d,
		Status:         d.EffectiveStatus(now, s.window),
		ReportedStatus: d.Status,
		Stale:          model.IsStale(d.LastSeen, now, s.window),
	}
}

func (s *PresenceService) views(devices []model.Device) []DeviceView {
	views := make([]DeviceView, 0, len(devices))
	for i := range devices {
		views = append(views, s.View(&devices[i]))
	}
	return views
}
