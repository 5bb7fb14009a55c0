package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/signage/screen-pairing-server/internal/errors"
	"github.com/signage/screen-pairing-server/internal/events"
	"github.com/signage/screen-pairing-server/internal/model"
	"github.com/signage/screen-pairing-server/internal/repository/memstore"
)

var allActions = []model.ControlAction{
	model.ControlActionPlay,
	model.ControlActionPause,
	model.ControlActionStop,
	model.ControlActionRestart,
}

func TestControlService_AssignPlaylist(t *testing.T) {
	t.Run("assigns and clears", func(t *testing.T) {
		f := newFixture(t)
		paired := f.pairDevice(t, accountA, "AB12CD", "fp-1")
		f.addPlaylist("pl-1", accountA)

		device, err := f.control.AssignPlaylist(f.ctx, accountA, paired.Device.ID, strPtr("pl-1"))
		require.NoError(t, err)
		assert.Equal(t, "pl-1", *device.AssignedPlaylistID)
		assert.Equal(t, model.PlaylistStatusAssigned, device.PlaylistStatus)
		f.events.assertPublished(t, accountA, events.PlaylistAssigned, paired.Device.ID)

		device, err = f.control.AssignPlaylist(f.ctx, accountA, paired.Device.ID, nil)
		require.NoError(t, err)
		assert.Nil(t, device.AssignedPlaylistID)
		assert.Equal(t, model.PlaylistStatusNone, device.PlaylistStatus)
	})

	t.Run("playlist must belong to the account", func(t *testing.T) {
		f := newFixture(t)
		paired := f.pairDevice(t, accountA, "AB12CD", "fp-1")
		f.addPlaylist("pl-b", accountB)

		_, err := f.control.AssignPlaylist(f.ctx, accountA, paired.Device.ID, strPtr("pl-b"))
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))

		_, err = f.control.AssignPlaylist(f.ctx, accountA, paired.Device.ID, strPtr("pl-missing"))
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))

		device, _ := f.store.Device(paired.Device.ID)
		assert.Nil(t, device.AssignedPlaylistID)
	})

	t.Run("device must belong to the account", func(t *testing.T) {
		f := newFixture(t)
		paired := f.pairDevice(t, accountA, "AB12CD", "fp-1")
		f.addPlaylist("pl-b", accountB)

		_, err := f.control.AssignPlaylist(f.ctx, accountB, paired.Device.ID, strPtr("pl-b"))
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))

		_, err = f.control.AssignPlaylist(f.ctx, accountA, "missing", nil)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	})
}

func TestControlService_SendControl(t *testing.T) {
	withPlaylist := func(t *testing.T) (*fixture, string) {
		f := newFixture(t)
		paired := f.pairDevice(t, accountA, "AB12CD", "fp-1")
		f.addPlaylist("pl-1", accountA)
		_, err := f.control.AssignPlaylist(f.ctx, accountA, paired.Device.ID, strPtr("pl-1"))
		require.NoError(t, err)
		return f, paired.Device.ID
	}

	t.Run("maps actions to playlist status", func(t *testing.T) {
		tests := []struct {
			action model.ControlAction
			want   model.PlaylistStatus
		}{
			{model.ControlActionPlay, model.PlaylistStatusPlaying},
			{model.ControlActionPause, model.PlaylistStatusPaused},
			{model.ControlActionStop, model.PlaylistStatusStopped},
			{model.ControlActionRestart, model.PlaylistStatusPlaying},
		}

		for _, tt := range tests {
			t.Run(string(tt.action), func(t *testing.T) {
				f, deviceID := withPlaylist(t)

				device, err := f.control.SendControl(f.ctx, accountA, deviceID, tt.action)
				require.NoError(t, err)
				assert.Equal(t, tt.want, device.PlaylistStatus)
				assert.Equal(t, tt.action, *device.LastControlAction)
				assert.Equal(t, f.clock.Now(), *device.LastControlTime)
				assert.Equal(t, "pl-1", *device.AssignedPlaylistID)
				assert.Equal(t, model.DeviceStatusOnline, device.Status, "commands never touch the observed status")
				f.events.assertPublished(t, accountA, events.DeviceControl, deviceID)
			})
		}
	})

	t.Run("play and restart need a playlist", func(t *testing.T) {
		f := newFixture(t)
		paired := f.pairDevice(t, accountA, "AB12CD", "fp-1")

		for _, action := range []model.ControlAction{model.ControlActionPlay, model.ControlActionRestart} {
			_, err := f.control.SendControl(f.ctx, accountA, paired.Device.ID, action)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNoPlaylistAssigned), action)
		}

		device, _ := f.store.Device(paired.Device.ID)
		assert.Nil(t, device.LastControlAction)
	})

	t.Run("pause and stop without a playlist are recorded", func(t *testing.T) {
		f := newFixture(t)
		paired := f.pairDevice(t, accountA, "AB12CD", "fp-1")

		device, err := f.control.SendControl(f.ctx, accountA, paired.Device.ID, model.ControlActionStop)
		require.NoError(t, err)
		assert.Equal(t, model.PlaylistStatusNone, device.PlaylistStatus)
		assert.Equal(t, model.ControlActionStop, *device.LastControlAction)
	})

	t.Run("stale device rejects every action", func(t *testing.T) {
		f, deviceID := withPlaylist(t)
		f.clock.Advance(testWindow + time.Second)

		for _, action := range allActions {
			_, err := f.control.SendControl(f.ctx, accountA, deviceID, action)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDeviceNotOnline), action)
		}
	})

	t.Run("device reporting offline rejects every action", func(t *testing.T) {
		f, deviceID := withPlaylist(t)
		_, err := f.presence.Heartbeat(f.ctx, deviceID, HeartbeatInput{Status: model.DeviceStatusOffline})
		require.NoError(t, err)

		for _, action := range allActions {
			_, err := f.control.SendControl(f.ctx, accountA, deviceID, action)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDeviceNotOnline), action)
		}
	})

	t.Run("a heartbeat brings a stale device back", func(t *testing.T) {
		f, deviceID := withPlaylist(t)
		f.clock.Advance(5 * time.Minute)
		_, err := f.presence.Heartbeat(f.ctx, deviceID, HeartbeatInput{Status: model.DeviceStatusPaused})
		require.NoError(t, err)

		_, err = f.control.SendControl(f.ctx, accountA, deviceID, model.ControlActionPlay)
		assert.NoError(t, err)
	})

	t.Run("checks ownership before liveness", func(t *testing.T) {
		f, deviceID := withPlaylist(t)
		f.clock.Advance(time.Hour)

		_, err := f.control.SendControl(f.ctx, accountB, deviceID, model.ControlActionPlay)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))

		_, err = f.control.SendControl(f.ctx, accountA, "missing", model.ControlActionPlay)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	})

	t.Run("checks liveness before the playlist", func(t *testing.T) {
		f := newFixture(t)
		paired := f.pairDevice(t, accountA, "AB12CD", "fp-1")
		f.clock.Advance(time.Hour)

		_, err := f.control.SendControl(f.ctx, accountA, paired.Device.ID, model.ControlActionPlay)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDeviceNotOnline))
	})

	t.Run("rejects an unknown action", func(t *testing.T) {
		f, deviceID := withPlaylist(t)

		_, err := f.control.SendControl(f.ctx, accountA, deviceID, "rewind")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidAction))
	})

	t.Run("playlist cleared between check and write", func(t *testing.T) {
		f, deviceID := withPlaylist(t)
		f.store.OnCall(memstore.OpApplyControl, func() error {
			device, _ := f.store.Device(deviceID)
			device.AssignedPlaylistID = nil
			device.PlaylistStatus = model.PlaylistStatusNone
			f.store.PutDevice(device)
			return nil
		})

		_, err := f.control.SendControl(f.ctx, accountA, deviceID, model.ControlActionPlay)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNoPlaylistAssigned))
	})
}

func TestControlService_DeleteDevice(t *testing.T) {
	t.Run("removes the device and its history", func(t *testing.T) {
		f := newFixture(t)
		paired := f.pairDevice(t, accountA, "AB12CD", "fp-1")
		_, err := f.presence.Heartbeat(f.ctx, paired.Device.ID, HeartbeatInput{Status: model.DeviceStatusPlaying})
		require.NoError(t, err)

		require.NoError(t, f.control.DeleteDevice(f.ctx, accountA, paired.Device.ID))

		_, ok := f.store.Device(paired.Device.ID)
		assert.False(t, ok)
		assert.Zero(t, f.store.HeartbeatCount(paired.Device.ID))
		f.events.assertPublished(t, accountA, events.DeviceDeleted, paired.Device.ID)
	})

	t.Run("ownership", func(t *testing.T) {
		f := newFixture(t)
		paired := f.pairDevice(t, accountA, "AB12CD", "fp-1")

		err := f.control.DeleteDevice(f.ctx, accountB, paired.Device.ID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
		assert.Equal(t, 1, f.store.DeviceCount())

		err = f.control.DeleteDevice(f.ctx, accountA, "missing")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	})
}
