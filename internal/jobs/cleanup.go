package jobs

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"

	"github.com/signage/screen-pairing-server/internal/repository"
)

// CleanupJob deletes pairing codes that expired unclaimed more than
// codeRetention ago, and heartbeats older than heartbeatRetention.
type CleanupJob struct {
	pairingCodeRepo    repository.PairingCodeRepository
	heartbeatRepo      repository.HeartbeatRepository
	codeRetention      time.Duration
	heartbeatRetention time.Duration
	now                func() time.Time
}

func NewCleanupJob(
	pairingCodeRepo repository.PairingCodeRepository,
	heartbeatRepo repository.HeartbeatRepository,
	codeRetention time.Duration,
	heartbeatRetention time.Duration,
	now func() time.Time,
) *CleanupJob {
	if now == nil {
		now = time.Now
	}
	return &CleanupJob{
		pairingCodeRepo:    pairingCodeRepo,
		heartbeatRepo:      heartbeatRepo,
		codeRetention:      codeRetention,
		heartbeatRetention: heartbeatRetention,
		now:                now,
	}
}

func (j *CleanupJob) Name() string { return "cleanup" }

func (j *CleanupJob) Run(ctx context.Context) error {
	now := j.now()

	var result *multierror.Error
	if err := j.runCleanup(ctx, "pairing codes", func(ctx context.Context) (int64, error) {
		return j.pairingCodeRepo.DeleteExpired(ctx, now.Add(-j.codeRetention))
	}); err != nil {
		result = multierror.Append(result, err)
	}
	if err := j.runCleanup(ctx, "heartbeats", func(ctx context.Context) (int64, error) {
		return j.heartbeatRepo.DeleteOlderThan(ctx, now.Add(-j.heartbeatRetention))
	}); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) error {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
		return err
	}
	if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
	return nil
}
