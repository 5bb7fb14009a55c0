package service

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"

	"github.com/signage/screen-pairing-server/internal/events"
	"github.com/signage/screen-pairing-server/internal/model"
	"github.com/signage/screen-pairing-server/internal/repository"
)

type ReconcileResult struct {
	Relinked int
	Orphaned int
}

// Reconciler finds devices that no pairing code points at, which happens when
// device creation committed but linking did not. Each is re-linked to the code
// that created it when that code is still free, and flagged otherwise.
type Reconciler struct {
	store  repository.Store
	events EventPublisher
	grace  time.Duration
	now    func() time.Time
}

func NewReconciler(store repository.Store, publisher EventPublisher, grace time.Duration, now func() time.Time) *Reconciler {
	return &Reconciler{
		store:  store,
		events: orNoop(publisher),
		grace:  grace,
		now:    orNow(now),
	}
}

// ReconcileOrphans is idempotent. Devices younger than the grace period are
// skipped so in-flight claims are left alone.
func (r *Reconciler) ReconcileOrphans(ctx context.Context) (ReconcileResult, error) {
	var result ReconcileResult
	now := r.now()

	devices, err := r.store.Devices().FindUnlinked(ctx, now.Add(-r.grace))
	if err != nil {
		return result, storageErr(fmt.Errorf("find unlinked devices: %w", err))
	}

	var errs *multierror.Error
	for i := range devices {
		device := &devices[i]
		relinked, err := r.reconcile(ctx, device, now)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("device %s: %w", device.ID, err))
			continue
		}
		if relinked {
			result.Relinked++
		} else {
			result.Orphaned++
		}
	}

	if result.Relinked > 0 || result.Orphaned > 0 {
		log.Info().
			Int("relinked", result.Relinked).
			Int("orphaned", result.Orphaned).
			Msg("device reconciliation finished")
	}

	return result, errs.ErrorOrNil()
}

func (r *Reconciler) reconcile(ctx context.Context, device *model.Device, now time.Time) (bool, error) {
	if device.PairingCodeID != nil {
		pc, err := r.store.PairingCodes().FindByID(ctx, *device.PairingCodeID)
		if err != nil {
			return false, fmt.Errorf("find pairing code: %w", err)
		}
		if pc != nil && pc.ClaimedAt == nil && device.OwnedBy(pc.AccountID) {
			linked, err := r.store.PairingCodes().Link(ctx, pc.ID, device.ID, device.CreatedAt)
			if err != nil {
				return false, fmt.Errorf("link pairing code: %w", err)
			}
			if linked {
				log.Info().
					Str("deviceId", device.ID).
					Str("codeId", pc.ID).
					Msg("re-linked orphaned device")
				return true, nil
			}
		}
	}

	if err := r.store.Devices().MarkOrphaned(ctx, device.ID, now); err != nil {
		return false, fmt.Errorf("mark orphaned: %w", err)
	}

	log.Warn().
		Str("deviceId", device.ID).
		Msg("device has no pairing code link, flagged as orphaned")

	if device.AccountID != nil {
		publish(ctx, r.events, *device.AccountID, events.DeviceOrphaned, device.ID, newDeviceEvent(device))
	}
	return false, nil
}
