package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/signage/screen-pairing-server/internal/audit"
	apperrors "github.com/signage/screen-pairing-server/internal/errors"
	"github.com/signage/screen-pairing-server/internal/httputil"
	"github.com/signage/screen-pairing-server/internal/model"
	"github.com/signage/screen-pairing-server/internal/repository"
	"github.com/signage/screen-pairing-server/internal/util"
)

type contextKey string

const (
	AccountContextKey contextKey = "account"
	DeviceContextKey  contextKey = "device"
)

func GetAccount(ctx context.Context) *model.Account {
	if account, ok := ctx.Value(AccountContextKey).(*model.Account); ok {
		return account
	}
	return nil
}

// DeviceIdentity is what a device token resolves to.
type DeviceIdentity struct {
	ID        string
	AccountID string
}

func GetDevice(ctx context.Context) *DeviceIdentity {
	if device, ok := ctx.Value(DeviceContextKey).(*DeviceIdentity); ok {
		return device
	}
	return nil
}

type AuthMiddleware struct {
	accountRepo repository.AccountRepository
}

func NewAuthMiddleware(accountRepo repository.AccountRepository) *AuthMiddleware {
	return &AuthMiddleware{accountRepo: accountRepo}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			httputil.WriteError(w, apperrors.Unauthorized("Missing authentication token"))
			return
		}

		account, err := m.accountRepo.FindByTokenHash(r.Context(), util.HashToken(token))
		if err != nil {
			log.Error().Err(err).Msg("auth middleware: database error")
			httputil.WriteError(w, apperrors.Database(err))
			return
		}

		if account == nil {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventAuthFailure,
				Details: map[string]interface{}{"kind": "account"},
			})
			httputil.WriteError(w, apperrors.InvalidToken("Invalid token"))
			return
		}

		ctx := context.WithValue(r.Context(), AccountContextKey, account)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// DeviceAuthMiddleware authenticates device tokens and pins them to the
// {id} route parameter. Resolved tokens are cached, so a rotated token keeps
// working until its cache entry expires.
type DeviceAuthMiddleware struct {
	devices repository.DeviceRepository
	cache   *cache.Cache
}

func NewDeviceAuthMiddleware(devices repository.DeviceRepository, ttl time.Duration) *DeviceAuthMiddleware {
	return &DeviceAuthMiddleware{
		devices: devices,
		cache:   cache.New(ttl, 2*ttl),
	}
}

func (m *DeviceAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			httputil.WriteError(w, apperrors.Unauthorized("Missing device token"))
			return
		}

		identity, err := m.resolve(r.Context(), util.HashToken(token))
		if err != nil {
			log.Error().Err(err).Msg("device auth middleware: database error")
			httputil.WriteError(w, apperrors.Database(err))
			return
		}

		if identity == nil {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventAuthFailure,
				Details: map[string]interface{}{"kind": "device"},
			})
			httputil.WriteError(w, apperrors.InvalidToken("Invalid device token"))
			return
		}

		if deviceID := chi.URLParam(r, "id"); deviceID != "" && deviceID != identity.ID {
			audit.LogFromRequest(r, audit.Event{
				Type:      audit.EventDeviceMismatch,
				AccountID: identity.AccountID,
				DeviceID:  identity.ID,
				Details:   map[string]interface{}{"requested": deviceID},
			})
			httputil.WriteError(w, apperrors.Forbidden("Device token does not match device"))
			return
		}

		ctx := context.WithValue(r.Context(), DeviceContextKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *DeviceAuthMiddleware) resolve(ctx context.Context, tokenHash string) (*DeviceIdentity, error) {
	if cached, ok := m.cache.Get(tokenHash); ok {
		return cached.(*DeviceIdentity), nil
	}

	device, err := m.devices.FindByTokenHash(ctx, tokenHash)
	if err != nil || device == nil {
		return nil, err
	}

	identity := &DeviceIdentity{ID: device.ID}
	if device.AccountID != nil {
		identity.AccountID = *device.AccountID
	}
	m.cache.SetDefault(tokenHash, identity)
	return identity, nil
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return ""
}
