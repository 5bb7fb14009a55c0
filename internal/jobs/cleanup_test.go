package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signage/screen-pairing-server/internal/model"
	"github.com/signage/screen-pairing-server/internal/repository"
	"github.com/signage/screen-pairing-server/internal/repository/memstore"
)

var jobNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type failingHeartbeatRepo struct {
	repository.HeartbeatRepository
	err error
}

func (r failingHeartbeatRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	return 0, r.err
}

func TestCleanupJob(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes codes expired past retention", func(t *testing.T) {
		store := memstore.New()
		claimedAt := jobNow.Add(-48 * time.Hour)
		deviceID := "dev-1"
		store.PutCode(model.PairingCode{ID: "old", Code: "OLD111", AccountID: "a", ExpiresAt: jobNow.Add(-25 * time.Hour)})
		store.PutCode(model.PairingCode{ID: "recent", Code: "NEW111", AccountID: "a", ExpiresAt: jobNow.Add(-time.Hour)})
		store.PutCode(model.PairingCode{ID: "active", Code: "ACT111", AccountID: "a", ExpiresAt: jobNow.Add(10 * time.Minute)})
		store.PutCode(model.PairingCode{
			ID: "claimed", Code: "CLM111", AccountID: "a",
			ExpiresAt: jobNow.Add(-47 * time.Hour), ClaimedAt: &claimedAt, DeviceID: &deviceID,
		})

		job := NewCleanupJob(store.PairingCodes(), store.Heartbeats(), 24*time.Hour, 7*24*time.Hour, func() time.Time { return jobNow })
		require.NoError(t, job.Run(ctx))

		_, ok := store.Code("old")
		assert.False(t, ok)
		for _, id := range []string{"recent", "active", "claimed"} {
			_, ok := store.Code(id)
			assert.True(t, ok, id)
		}
	})

	t.Run("prunes heartbeats past retention", func(t *testing.T) {
		store := memstore.New()
		beats := store.Heartbeats()
		require.NoError(t, beats.Create(ctx, "dev-1", model.HeartbeatParams{Status: model.DeviceStatusOnline, Now: jobNow.Add(-8 * 24 * time.Hour)}))
		require.NoError(t, beats.Create(ctx, "dev-1", model.HeartbeatParams{Status: model.DeviceStatusOnline, Now: jobNow.Add(-time.Hour)}))

		job := NewCleanupJob(store.PairingCodes(), beats, 24*time.Hour, 7*24*time.Hour, func() time.Time { return jobNow })
		require.NoError(t, job.Run(ctx))

		assert.Equal(t, 1, store.HeartbeatCount("dev-1"))
	})

	t.Run("keeps going after a failure", func(t *testing.T) {
		store := memstore.New()
		store.PutCode(model.PairingCode{ID: "old", Code: "OLD111", AccountID: "a", ExpiresAt: jobNow.Add(-25 * time.Hour)})

		job := NewCleanupJob(
			store.PairingCodes(),
			failingHeartbeatRepo{err: errors.New("connection reset")},
			24*time.Hour, 7*24*time.Hour,
			func() time.Time { return jobNow },
		)
		err := job.Run(ctx)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection reset")
		_, ok := store.Code("old")
		assert.False(t, ok)
	})
}
