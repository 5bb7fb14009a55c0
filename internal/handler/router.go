package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Middlewares are the auth and rate limiting layers the API routes need.
type Middlewares struct {
	AccountAuth  func(http.Handler) http.Handler
	AccountLimit func(http.Handler) http.Handler
	DeviceAuth   func(http.Handler) http.Handler
	// ClaimLimit guards the endpoints that accept a pairing code.
	ClaimLimit func(http.Handler) http.Handler
}

func Routes(pairing *PairingHandler, devices *DeviceHandler, mw Middlewares) chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(mw.DeviceAuth)
		r.Post("/devices/{id}/heartbeat", devices.Heartbeat)
	})

	r.Group(func(r chi.Router) {
		r.Use(mw.AccountAuth)
		r.Use(mw.AccountLimit)

		r.Post("/pairing-codes", pairing.GenerateCode)
		r.Get("/pairing-codes", pairing.ListCodes)

		r.Get("/devices", devices.List)
		r.Get("/devices/stale", devices.ListStale)
		r.Get("/devices/{id}", devices.Get)
		r.Delete("/devices/{id}", devices.Delete)
		r.Get("/devices/{id}/heartbeats", devices.Heartbeats)
		r.Post("/devices/{id}/repair", pairing.GenerateRepairCode)
		r.Post("/devices/{id}/assign-playlist", devices.AssignPlaylist)
		r.Post("/devices/{id}/control", devices.Control)

		r.Group(func(r chi.Router) {
			r.Use(mw.ClaimLimit)
			r.Post("/pairing-codes/{code}/complete", pairing.CompletePairing)
			r.Post("/devices/register", pairing.Register)
			r.Post("/devices/{id}/complete-repair", pairing.CompleteRepair)
		})
	})

	return r
}
