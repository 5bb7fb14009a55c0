package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/signage/screen-pairing-server/internal/errors"
	"github.com/signage/screen-pairing-server/internal/httputil"
	"github.com/signage/screen-pairing-server/internal/model"
	"github.com/signage/screen-pairing-server/internal/service"
	"github.com/signage/screen-pairing-server/internal/util"
)

const deviceResource = "Device"

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

// decodeJSON reads and validates a request body. An empty body decodes to the
// zero value so endpoints whose fields are all optional accept it.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperrors.ValidationError("Request body too large")
		}
		return apperrors.ValidationError("Invalid request body")
	}

	if err := util.Validator().Struct(dst); err != nil {
		return apperrors.ValidationError("Invalid request body").WithDetails(util.ValidationDetails(err))
	}
	return nil
}

// deviceIDParam reads {id} and answers 404 itself when it is not a uuid,
// since no device can carry such an id.
func deviceIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if !util.IsValidUUID(id) {
		writeError(w, apperrors.NotFound(deviceResource))
		return "", false
	}
	return id, true
}

// nullableString tells an explicit JSON null apart from an absent key.
type nullableString struct {
	Set   bool
	Value *string
}

func (n *nullableString) UnmarshalJSON(data []byte) error {
	n.Set = true
	if string(data) == "null" {
		n.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n.Value = &s
	return nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func formatDevice(view service.DeviceView) map[string]any {
	return map[string]any{
		"id":        view.ID,
		"name":      view.Name,
		"status":    view.Status,
		"createdAt": view.CreatedAt.UTC().Format(time.RFC3339),
		"lastSeen":  formatTime(view.LastSeen),
	}
}

func formatControl(d *model.Device) map[string]any {
	return map[string]any{
		"id":                  d.ID,
		"playlist_status":     d.PlaylistStatus,
		"last_control_action": d.LastControlAction,
		"last_control_time":   formatTime(d.LastControlTime),
	}
}

func formatCode(pc *model.PairingCode) map[string]any {
	return map[string]any{
		"code":      pc.Code,
		"expiresAt": pc.ExpiresAt.UTC().Format(time.RFC3339),
	}
}
