package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"

	"github.com/signage/screen-pairing-server/internal/config"
	apperrors "github.com/signage/screen-pairing-server/internal/errors"
	"github.com/signage/screen-pairing-server/internal/events"
	"github.com/signage/screen-pairing-server/internal/metrics"
	"github.com/signage/screen-pairing-server/internal/model"
	"github.com/signage/screen-pairing-server/internal/repository"
	"github.com/signage/screen-pairing-server/internal/util"
)

const (
	defaultDeviceName = "Unnamed screen"
	maxClaimAttempts  = 2
)

// errClaimRace means a concurrent request bound the code first.
var errClaimRace = errors.New("pairing code claimed concurrently")

// CodeGenerator draws pairing code values that no active code is using.
type CodeGenerator struct {
	random      func() (string, error)
	maxAttempts int
}

func NewCodeGenerator() *CodeGenerator {
	return &CodeGenerator{
		random:      randomCode,
		maxAttempts: config.PairingCodeMaxAttempts,
	}
}

func randomCode() (string, error) {
	return gonanoid.Generate(config.PairingCodeAlphabet, config.PairingCodeLength)
}

// Pick regenerates on collision with any unexpired code, claimed or not, so a
// claimed value is never reissued while its device may still retry with it.
// Expired codes may share a value with a new one.
func (g *CodeGenerator) Pick(ctx context.Context, codes repository.PairingCodeRepository, now time.Time) (string, error) {
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		code, err := g.random()
		if err != nil {
			return "", apperrors.Internal("failed to generate pairing code").WithCause(err)
		}

		existing, err := codes.FindUnexpiredByCode(ctx, code, now)
		if err != nil {
			return "", storageErr(fmt.Errorf("check pairing code: %w", err))
		}
		if existing == nil {
			return code, nil
		}

		log.Debug().Int("attempt", attempt).Msg("pairing code collision, regenerating")
	}
	return "", apperrors.GenerationExhausted(g.maxAttempts)
}

type GenerateCodeInput struct {
	ScreenName *string
	DeviceType *string
}

type ClaimInput struct {
	Code             string
	Fingerprint      string
	Name             *string
	DeviceType       *string
	Platform         *string
	ScreenResolution *string
	Capabilities     types.JSONText
}

type RepairInput struct {
	Code             string
	Fingerprint      *string
	Platform         *string
	ScreenResolution *string
}

// ClaimResult carries the device and the bearer token it must present on
// heartbeats. The token is only ever returned here.
type ClaimResult struct {
	Device      *model.Device
	Token       string
	Reconnected bool
}

type codeEvent struct {
	CodeID         string    `json:"codeId"`
	ExpiresAt      time.Time `json:"expiresAt"`
	TargetDeviceID *string   `json:"targetDeviceId,omitempty"`
}

type PairingService struct {
	store     repository.Store
	events    EventPublisher
	generator *CodeGenerator
	codeTTL   time.Duration
	now       func() time.Time
}

func NewPairingService(
	store repository.Store,
	publisher EventPublisher,
	codeTTL time.Duration,
	now func() time.Time,
) *PairingService {
	return &PairingService{
		store:     store,
		events:    orNoop(publisher),
		generator: NewCodeGenerator(),
		codeTTL:   codeTTL,
		now:       orNow(now),
	}
}

func (s *PairingService) GenerateCode(ctx context.Context, accountID string, input GenerateCodeInput) (*model.PairingCode, error) {
	now := s.now()
	if err := s.checkActiveLimit(ctx, accountID, now); err != nil {
		return nil, err
	}

	pc, err := s.issue(ctx, model.CreatePairingCodeParams{
		AccountID:           accountID,
		IntendedDeviceLabel: input.ScreenName,
		IntendedDeviceType:  input.DeviceType,
	}, now)
	if err != nil {
		return nil, err
	}

	metrics.CodesGenerated.WithLabelValues("pair").Inc()
	log.Info().
		Str("code", util.MaskCode(pc.Code)).
		Str("accountId", accountID).
		Time("expiresAt", pc.ExpiresAt).
		Msg("pairing code created")

	publish(ctx, s.events, accountID, events.CodeGenerated, pc.ID, codeEvent{
		CodeID:    pc.ID,
		ExpiresAt: pc.ExpiresAt,
	})
	return pc, nil
}

// GenerateRepairCode issues a code bound to an existing device so it can be
// paired again after losing its token.
func (s *PairingService) GenerateRepairCode(ctx context.Context, accountID, deviceID string) (*model.PairingCode, error) {
	device, err := findOwnedDevice(ctx, s.store.Devices(), accountID, deviceID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.checkActiveLimit(ctx, accountID, now); err != nil {
		return nil, err
	}

	pc, err := s.issue(ctx, model.CreatePairingCodeParams{
		AccountID:           accountID,
		IntendedDeviceLabel: &device.Name,
		IntendedDeviceType:  device.DeviceType,
		TargetDeviceID:      &device.ID,
	}, now)
	if err != nil {
		return nil, err
	}

	metrics.CodesGenerated.WithLabelValues("repair").Inc()
	log.Info().
		Str("code", util.MaskCode(pc.Code)).
		Str("accountId", accountID).
		Str("deviceId", device.ID).
		Msg("repair code created")

	publish(ctx, s.events, accountID, events.CodeGenerated, pc.ID, codeEvent{
		CodeID:         pc.ID,
		ExpiresAt:      pc.ExpiresAt,
		TargetDeviceID: pc.TargetDeviceID,
	})
	return pc, nil
}

func (s *PairingService) ListActiveCodes(ctx context.Context, accountID string) ([]model.PairingCode, error) {
	codes, err := s.store.PairingCodes().FindActiveByAccountID(ctx, accountID, s.now())
	if err != nil {
		return nil, storageErr(fmt.Errorf("list pairing codes: %w", err))
	}
	return codes, nil
}

func (s *PairingService) checkActiveLimit(ctx context.Context, accountID string, now time.Time) error {
	active, err := s.store.PairingCodes().CountActiveByAccountID(ctx, accountID, now)
	if err != nil {
		return storageErr(fmt.Errorf("count active codes: %w", err))
	}
	if active >= config.MaxActiveCodesPerAccount {
		return apperrors.TooManyActiveCodes(config.MaxActiveCodesPerAccount)
	}
	return nil
}

func (s *PairingService) issue(ctx context.Context, params model.CreatePairingCodeParams, now time.Time) (*model.PairingCode, error) {
	code, err := s.generator.Pick(ctx, s.store.PairingCodes(), now)
	if err != nil {
		return nil, err
	}

	params.Code = code
	params.CreatedAt = now
	params.ExpiresAt = now.Add(s.codeTTL)

	pc, err := s.store.PairingCodes().Create(ctx, params)
	if err != nil {
		return nil, storageErr(fmt.Errorf("create pairing code: %w", err))
	}
	return pc, nil
}

// ClaimCode registers the device presenting code, or reattaches it when the
// same device claimed the code before. Retrying is always safe.
func (s *PairingService) ClaimCode(ctx context.Context, accountID string, input ClaimInput) (*ClaimResult, error) {
	if input.Fingerprint == "" {
		return nil, apperrors.MissingRequired("fingerprint")
	}
	code := util.NormalizeCode(input.Code)

	result, err := s.retryOnRace(func() (*ClaimResult, error) {
		return s.claimOnce(ctx, accountID, code, input)
	})
	s.recordClaim(result, err, false)
	return result, err
}

func (s *PairingService) claimOnce(ctx context.Context, accountID, code string, input ClaimInput) (*ClaimResult, error) {
	now := s.now()

	pc, err := s.store.PairingCodes().FindUnexpiredByAccountAndCode(ctx, accountID, code, now)
	if err != nil {
		return nil, storageErr(fmt.Errorf("find pairing code: %w", err))
	}
	if pc == nil || pc.IsRepair() {
		return nil, apperrors.InvalidOrExpiredCode()
	}

	if pc.ClaimedAt != nil {
		return s.reconnect(ctx, pc, input, now)
	}
	return s.register(ctx, accountID, pc, input, now)
}

func (s *PairingService) reconnect(ctx context.Context, pc *model.PairingCode, input ClaimInput, now time.Time) (*ClaimResult, error) {
	// The device the code produced may have been deleted since.
	if pc.DeviceID == nil {
		return nil, apperrors.InvalidOrExpiredCode()
	}

	device, err := s.store.Devices().FindByID(ctx, *pc.DeviceID)
	if err != nil {
		return nil, storageErr(fmt.Errorf("find device: %w", err))
	}
	if device == nil || !device.OwnedBy(pc.AccountID) {
		return nil, apperrors.InvalidOrExpiredCode()
	}
	if device.Fingerprint == nil || !util.ConstantTimeEqual(*device.Fingerprint, input.Fingerprint) {
		return nil, apperrors.InvalidOrExpiredCode()
	}

	token, tokenHash, err := newDeviceToken()
	if err != nil {
		return nil, err
	}

	updated, err := s.store.Devices().Reconnect(ctx, device.ID, model.ReconnectDeviceParams{
		Platform:         input.Platform,
		ScreenResolution: input.ScreenResolution,
		TokenHash:        tokenHash,
		Now:              now,
	})
	if err != nil {
		return nil, storageErr(fmt.Errorf("reconnect device: %w", err))
	}
	if updated == nil {
		return nil, apperrors.InvalidOrExpiredCode()
	}

	log.Info().
		Str("deviceId", updated.ID).
		Str("accountId", pc.AccountID).
		Msg("device reconnected")

	publish(ctx, s.events, pc.AccountID, events.DeviceReconnected, updated.ID, newDeviceEvent(updated))
	return &ClaimResult{Device: updated, Token: token, Reconnected: true}, nil
}

func (s *PairingService) register(ctx context.Context, accountID string, pc *model.PairingCode, input ClaimInput, now time.Time) (*ClaimResult, error) {
	token, tokenHash, err := newDeviceToken()
	if err != nil {
		return nil, err
	}

	fingerprint := input.Fingerprint
	params := model.CreateDeviceParams{
		ID:               uuid.NewString(),
		AccountID:        accountID,
		Name:             deviceName(input.Name, pc.IntendedDeviceLabel),
		DeviceType:       firstNonEmpty(input.DeviceType, pc.IntendedDeviceType),
		Platform:         input.Platform,
		Capabilities:     input.Capabilities,
		ScreenResolution: input.ScreenResolution,
		Fingerprint:      &fingerprint,
		TokenHash:        tokenHash,
		PairingCodeID:    pc.ID,
		Now:              now,
	}

	// Device creation and code linking commit together, so a failed link
	// never leaves a device behind.
	var device *model.Device
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		created, err := tx.Devices().Create(ctx, params)
		if errors.Is(err, repository.ErrDuplicate) {
			return errClaimRace
		}
		if err != nil {
			return fmt.Errorf("create device: %w", err)
		}

		linked, err := tx.PairingCodes().Link(ctx, pc.ID, created.ID, now)
		if err != nil {
			return fmt.Errorf("link pairing code: %w", err)
		}
		if !linked {
			return errClaimRace
		}

		device = created
		return nil
	})
	if errors.Is(err, errClaimRace) {
		return nil, err
	}
	if err != nil {
		return nil, storageErr(err)
	}

	log.Info().
		Str("deviceId", device.ID).
		Str("accountId", accountID).
		Str("code", util.MaskCode(pc.Code)).
		Msg("device registered")

	publish(ctx, s.events, accountID, events.DeviceRegistered, device.ID, newDeviceEvent(device))
	return &ClaimResult{Device: device, Token: token}, nil
}

// CompletePairing is the account confirming a claimed code. The screen name
// and type chosen when the code was generated are applied to the device.
func (s *PairingService) CompletePairing(ctx context.Context, accountID, code string) (*model.Device, error) {
	code = util.NormalizeCode(code)

	pc, err := s.store.PairingCodes().FindCompletableByAccountAndCode(ctx, accountID, code)
	if err != nil {
		return nil, storageErr(fmt.Errorf("find pairing code: %w", err))
	}
	if pc == nil || pc.DeviceID == nil {
		return nil, apperrors.InvalidOrExpiredCode()
	}

	now := s.now()
	var device *model.Device
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		completed, err := tx.PairingCodes().MarkCompleted(ctx, pc.ID, now)
		if err != nil {
			return fmt.Errorf("complete pairing code: %w", err)
		}
		if !completed {
			return apperrors.InvalidOrExpiredCode()
		}

		updated, err := tx.Devices().UpdateDetails(ctx, *pc.DeviceID, pc.IntendedDeviceLabel, pc.IntendedDeviceType, now)
		if err != nil {
			return fmt.Errorf("update device: %w", err)
		}
		if updated == nil {
			return apperrors.InvalidOrExpiredCode()
		}

		device = updated
		return nil
	})
	if err != nil {
		return nil, storageErr(err)
	}

	log.Info().
		Str("deviceId", device.ID).
		Str("accountId", accountID).
		Msg("pairing completed")

	publish(ctx, s.events, accountID, events.PairingCompleted, device.ID, newDeviceEvent(device))
	return device, nil
}

// CompleteRepair consumes a repair code for the device it was issued for,
// brings the device back online and hands it a fresh token.
func (s *PairingService) CompleteRepair(ctx context.Context, accountID, deviceID string, input RepairInput) (*ClaimResult, error) {
	code := util.NormalizeCode(input.Code)

	result, err := s.retryOnRace(func() (*ClaimResult, error) {
		return s.repairOnce(ctx, accountID, deviceID, code, input)
	})
	s.recordClaim(result, err, true)
	return result, err
}

func (s *PairingService) repairOnce(ctx context.Context, accountID, deviceID, code string, input RepairInput) (*ClaimResult, error) {
	now := s.now()

	pc, err := s.store.PairingCodes().FindUnexpiredByAccountAndCode(ctx, accountID, code, now)
	if err != nil {
		return nil, storageErr(fmt.Errorf("find pairing code: %w", err))
	}
	if pc == nil || !pc.IsRepair() || *pc.TargetDeviceID != deviceID {
		return nil, apperrors.InvalidOrExpiredCode()
	}

	device, err := findOwnedDevice(ctx, s.store.Devices(), accountID, deviceID)
	if err != nil {
		return nil, err
	}

	token, tokenHash, err := newDeviceToken()
	if err != nil {
		return nil, err
	}
	params := model.ReconnectDeviceParams{
		Platform:         input.Platform,
		ScreenResolution: input.ScreenResolution,
		Fingerprint:      input.Fingerprint,
		TokenHash:        tokenHash,
		Now:              now,
	}

	if pc.ClaimedAt != nil {
		// A retried completion for the same device only rotates the token.
		if pc.DeviceID == nil || *pc.DeviceID != device.ID {
			return nil, apperrors.InvalidOrExpiredCode()
		}
		if input.Fingerprint != nil && device.Fingerprint != nil &&
			!util.ConstantTimeEqual(*device.Fingerprint, *input.Fingerprint) {
			return nil, apperrors.InvalidOrExpiredCode()
		}
		params.Fingerprint = nil

		updated, err := s.store.Devices().Reconnect(ctx, device.ID, params)
		if err != nil {
			return nil, storageErr(fmt.Errorf("reconnect device: %w", err))
		}
		if updated == nil {
			return nil, apperrors.NotFound(deviceResource)
		}
		return &ClaimResult{Device: updated, Token: token, Reconnected: true}, nil
	}

	var repaired *model.Device
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		linked, err := tx.PairingCodes().LinkAndComplete(ctx, pc.ID, device.ID, now)
		if err != nil {
			return fmt.Errorf("link repair code: %w", err)
		}
		if !linked {
			return errClaimRace
		}

		updated, err := tx.Devices().Reconnect(ctx, device.ID, params)
		if err != nil {
			return fmt.Errorf("reconnect device: %w", err)
		}
		if updated == nil {
			return apperrors.NotFound(deviceResource)
		}

		repaired = updated
		return nil
	})
	if errors.Is(err, errClaimRace) {
		return nil, err
	}
	if err != nil {
		return nil, storageErr(err)
	}

	log.Info().
		Str("deviceId", repaired.ID).
		Str("accountId", accountID).
		Msg("device repaired")

	publish(ctx, s.events, accountID, events.DeviceRepaired, repaired.ID, newDeviceEvent(repaired))
	return &ClaimResult{Device: repaired, Token: token}, nil
}

// retryOnRace re-evaluates a claim that lost a race once. The second pass
// sees the winner's link and takes the reconnect path.
func (s *PairingService) retryOnRace(fn func() (*ClaimResult, error)) (*ClaimResult, error) {
	for attempt := 1; ; attempt++ {
		result, err := fn()
		if !errors.Is(err, errClaimRace) {
			return result, err
		}
		if attempt >= maxClaimAttempts {
			log.Warn().Int("attempts", attempt).Msg("pairing claim kept losing races")
			return nil, apperrors.InvalidOrExpiredCode()
		}
		log.Debug().Int("attempt", attempt).Msg("pairing claim lost a race, retrying")
	}
}

func (s *PairingService) recordClaim(result *ClaimResult, err error, repair bool) {
	switch {
	case err != nil && isServerError(err):
		metrics.Claims.WithLabelValues(metrics.ClaimFailed).Inc()
	case err != nil:
		metrics.Claims.WithLabelValues(metrics.ClaimRejected).Inc()
	case repair:
		metrics.Claims.WithLabelValues(metrics.ClaimRepaired).Inc()
	case result.Reconnected:
		metrics.Claims.WithLabelValues(metrics.ClaimReconnected).Inc()
	default:
		metrics.Claims.WithLabelValues(metrics.ClaimCreated).Inc()
	}
}

func newDeviceToken() (token, tokenHash string, err error) {
	token, err = util.GenerateToken()
	if err != nil {
		return "", "", apperrors.Internal("failed to generate device token").WithCause(err)
	}
	return token, util.HashToken(token), nil
}

func deviceName(requested, intended *string) string {
	if name := firstNonEmpty(requested, intended); name != nil {
		return *name
	}
	return defaultDeviceName
}

func firstNonEmpty(values ...*string) *string {
	for _, v := range values {
		if v != nil && *v != "" {
			return v
		}
	}
	return nil
}
