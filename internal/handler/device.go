package handler

import (
	"net/http"
	"time"

	"github.com/jmoiron/sqlx/types"

	"github.com/signage/screen-pairing-server/internal/audit"
	apperrors "github.com/signage/screen-pairing-server/internal/errors"
	"github.com/signage/screen-pairing-server/internal/middleware"
	"github.com/signage/screen-pairing-server/internal/model"
	"github.com/signage/screen-pairing-server/internal/service"
	"github.com/signage/screen-pairing-server/internal/util"
)

type DeviceHandler struct {
	presence *service.PresenceService
	control  *service.ControlService
}

func NewDeviceHandler(presence *service.PresenceService, control *service.ControlService) *DeviceHandler {
	return &DeviceHandler{
		presence: presence,
		control:  control,
	}
}

type heartbeatRequest struct {
	Status             model.DeviceStatus `json:"status" validate:"required"`
	CurrentItem        *string            `json:"currentItem" validate:"omitempty,max=255"`
	Progress           *float64           `json:"progress" validate:"omitempty,gte=0"`
	PerformanceMetrics types.JSONText     `json:"performanceMetrics"`
}

// assignPlaylistRequest requires playlistId to be present. Only an explicit
// null clears the assignment.
type assignPlaylistRequest struct {
	PlaylistID nullableString `json:"playlistId"`
}

type controlRequest struct {
	Action model.ControlAction `json:"action" validate:"required"`
}

// GET /devices
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	page := ParsePagination(r)

	input := service.ListDevicesInput{Limit: page.Limit, Offset: page.Offset}
	if status := r.URL.Query().Get("status"); status != "" {
		s := model.DeviceStatus(status)
		input.Status = &s
	}

	devices, total, err := h.presence.ListDevices(r.Context(), account.ID, input)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"total":   total,
	})
}

// GET /devices/stale
func (h *DeviceHandler) ListStale(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())

	devices, err := h.presence.ListStale(r.Context(), account.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

// GET /devices/{id}
func (h *DeviceHandler) Get(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	deviceID, ok := deviceIDParam(w, r)
	if !ok {
		return
	}

	device, err := h.presence.GetDevice(r.Context(), account.ID, deviceID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"device": device})
}

// DELETE /devices/{id}
func (h *DeviceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	deviceID, ok := deviceIDParam(w, r)
	if !ok {
		return
	}

	if err := h.control.DeleteDevice(r.Context(), account.ID, deviceID); err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventDeviceDelete,
		AccountID: account.ID,
		DeviceID:  deviceID,
	})

	w.WriteHeader(http.StatusNoContent)
}

// GET /devices/{id}/heartbeats
func (h *DeviceHandler) Heartbeats(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	deviceID, ok := deviceIDParam(w, r)
	if !ok {
		return
	}

	heartbeats, err := h.presence.ListHeartbeats(r.Context(), account.ID, deviceID, parseLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"heartbeats": heartbeats})
}

// POST /devices/{id}/assign-playlist
func (h *DeviceHandler) AssignPlaylist(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	deviceID, ok := deviceIDParam(w, r)
	if !ok {
		return
	}

	var req assignPlaylistRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if !req.PlaylistID.Set {
		writeError(w, apperrors.MissingRequired("playlistId"))
		return
	}
	playlistID := req.PlaylistID.Value
	if playlistID != nil && !util.IsValidUUID(*playlistID) {
		writeError(w, apperrors.InvalidInput("playlistId", "must be a uuid"))
		return
	}

	if _, err := h.control.AssignPlaylist(r.Context(), account.ID, deviceID, playlistID); err != nil {
		writeError(w, err)
		return
	}

	message := "Playlist assigned"
	if playlistID == nil {
		message = "Playlist unassigned"
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": message})
}

// POST /devices/{id}/control
func (h *DeviceHandler) Control(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	deviceID, ok := deviceIDParam(w, r)
	if !ok {
		return
	}

	var req controlRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	device, err := h.control.SendControl(r.Context(), account.ID, deviceID, req.Action)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventControlCommand,
		AccountID: account.ID,
		DeviceID:  deviceID,
		Details:   map[string]interface{}{"action": req.Action},
	})

	writeJSON(w, http.StatusOK, map[string]any{"device": formatControl(device)})
}

// POST /devices/{id}/heartbeat
// Authenticated with the device token, which DeviceAuthMiddleware has already
// matched against {id}.
func (h *DeviceHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetDevice(r.Context())

	var req heartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	serverTime, err := h.presence.Heartbeat(r.Context(), identity.ID, service.HeartbeatInput{
		Status:      req.Status,
		CurrentItem: req.CurrentItem,
		Progress:    req.Progress,
		Metrics:     req.PerformanceMetrics,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"serverTime": serverTime.UTC().Format(time.RFC3339),
	})
}
