package handlers

import "net/http"

// Routes mounts the public and admin handlers. Public and Admin wrap their
// route groups; nil means no wrapping.
type Routes struct {
	PublicHandler *PublicHandler
	AdminHandler  *AdminHandler
	Public        func(http.Handler) http.Handler
	Admin         func(http.Handler) http.Handler
}

func (rt Routes) Register(mux *http.ServeMux) {
	public := wrapWith(rt.Public)
	admin := wrapWith(rt.Admin)

	mux.Handle("GET /api/v1/public/services", public(http.HandlerFunc(rt.PublicHandler.Services)))
	mux.Handle("GET /api/v1/public/availability", public(http.HandlerFunc(rt.PublicHandler.Availability)))
	mux.Handle("POST /api/v1/public/appointments", public(http.HandlerFunc(rt.PublicHandler.Create)))
	mux.Handle("GET /api/v1/public/appointments", public(http.HandlerFunc(rt.PublicHandler.ListMine)))
	mux.Handle("POST /api/v1/public/appointments/{id}/cancel", public(http.HandlerFunc(rt.PublicHandler.CancelMine)))

	mux.Handle("GET /api/v1/admin/appointments", admin(http.HandlerFunc(rt.AdminHandler.List)))
	mux.Handle("POST /api/v1/admin/appointments/{id}/confirm", admin(http.HandlerFunc(rt.AdminHandler.Confirm)))
	mux.Handle("POST /api/v1/admin/appointments/{id}/cancel", admin(http.HandlerFunc(rt.AdminHandler.Cancel)))
	mux.Handle("POST /api/v1/admin/calendar/sync", admin(http.HandlerFunc(rt.AdminHandler.Sync)))
}

func wrapWith(m func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if m == nil {
		return func(h http.Handler) http.Handler { return h }
	}
	return m
}
