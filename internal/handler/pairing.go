package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx/types"

	"github.com/signage/screen-pairing-server/internal/audit"
	"github.com/signage/screen-pairing-server/internal/middleware"
	"github.com/signage/screen-pairing-server/internal/service"
	"github.com/signage/screen-pairing-server/internal/util"
)

type PairingHandler struct {
	pairing  *service.PairingService
	presence *service.PresenceService
}

func NewPairingHandler(pairing *service.PairingService, presence *service.PresenceService) *PairingHandler {
	return &PairingHandler{
		pairing:  pairing,
		presence: presence,
	}
}

type generateCodeRequest struct {
	ScreenName *string `json:"screenName" validate:"omitempty,max=100"`
	DeviceType *string `json:"deviceType" validate:"omitempty,max=50"`
}

type registerRequest struct {
	Code             string         `json:"code" validate:"required,pairingcode"`
	Fingerprint      string         `json:"fingerprint" validate:"required,max=255"`
	Name             *string        `json:"name" validate:"omitempty,max=100"`
	DeviceType       *string        `json:"deviceType" validate:"omitempty,max=50"`
	Platform         *string        `json:"platform" validate:"omitempty,max=100"`
	ScreenResolution *string        `json:"screenResolution" validate:"omitempty,max=32"`
	Capabilities     types.JSONText `json:"capabilities"`
}

type completeRepairRequest struct {
	PairingCode      string  `json:"pairingCode" validate:"required,pairingcode"`
	Fingerprint      *string `json:"fingerprint" validate:"omitempty,max=255"`
	Platform         *string `json:"platform" validate:"omitempty,max=100"`
	ScreenResolution *string `json:"screenResolution" validate:"omitempty,max=32"`
}

// POST /pairing-codes
func (h *PairingHandler) GenerateCode(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())

	var req generateCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	pc, err := h.pairing.GenerateCode(r.Context(), account.ID, service.GenerateCodeInput{
		ScreenName: req.ScreenName,
		DeviceType: req.DeviceType,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventCodeGenerate,
		AccountID: account.ID,
		Details:   map[string]interface{}{"code": util.MaskCode(pc.Code)},
	})

	writeJSON(w, http.StatusCreated, formatCode(pc))
}

// GET /pairing-codes
func (h *PairingHandler) ListCodes(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())

	codes, err := h.pairing.ListActiveCodes(r.Context(), account.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"codes": codes})
}

// POST /pairing-codes/{code}/complete
func (h *PairingHandler) CompletePairing(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	code := chi.URLParam(r, "code")

	device, err := h.pairing.CompletePairing(r.Context(), account.ID, code)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventPairingComplete,
		AccountID: account.ID,
		DeviceID:  device.ID,
	})

	writeJSON(w, http.StatusOK, map[string]any{"device": h.presence.View(device)})
}

// POST /devices/register
// A retry with the same code and fingerprint reattaches the same device.
func (h *PairingHandler) Register(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())

	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.pairing.ClaimCode(r.Context(), account.ID, service.ClaimInput{
		Code:             req.Code,
		Fingerprint:      req.Fingerprint,
		Name:             req.Name,
		DeviceType:       req.DeviceType,
		Platform:         req.Platform,
		ScreenResolution: req.ScreenResolution,
		Capabilities:     req.Capabilities,
	})
	if err != nil {
		audit.LogFromRequest(r, audit.Event{
			Type:      audit.EventClaimFailure,
			AccountID: account.ID,
			Details:   map[string]interface{}{"code": util.MaskCode(util.NormalizeCode(req.Code))},
		})
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventClaimSuccess,
		AccountID: account.ID,
		DeviceID:  result.Device.ID,
		Details:   map[string]interface{}{"reconnected": result.Reconnected},
	})

	status := http.StatusCreated
	if result.Reconnected {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"device":      formatDevice(h.presence.View(result.Device)),
		"deviceToken": result.Token,
	})
}

// POST /devices/{id}/repair
func (h *PairingHandler) GenerateRepairCode(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	deviceID, ok := deviceIDParam(w, r)
	if !ok {
		return
	}

	pc, err := h.pairing.GenerateRepairCode(r.Context(), account.ID, deviceID)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventRepairGenerate,
		AccountID: account.ID,
		DeviceID:  deviceID,
		Details:   map[string]interface{}{"code": util.MaskCode(pc.Code)},
	})

	writeJSON(w, http.StatusCreated, map[string]any{
		"pairingCode": pc.Code,
		"expiresAt":   formatCode(pc)["expiresAt"],
	})
}

// POST /devices/{id}/complete-repair
func (h *PairingHandler) CompleteRepair(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	deviceID, ok := deviceIDParam(w, r)
	if !ok {
		return
	}

	var req completeRepairRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.pairing.CompleteRepair(r.Context(), account.ID, deviceID, service.RepairInput{
		Code:             req.PairingCode,
		Fingerprint:      req.Fingerprint,
		Platform:         req.Platform,
		ScreenResolution: req.ScreenResolution,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventRepairComplete,
		AccountID: account.ID,
		DeviceID:  deviceID,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"device":      h.presence.View(result.Device),
		"deviceToken": result.Token,
	})
}
