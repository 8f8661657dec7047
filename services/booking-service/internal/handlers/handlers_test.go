package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/md-rashed-zaman/bookingsync/libs/auth"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/calendar"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/reconcile"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/storage"
)

// Wednesday, before opening.
var now = time.Date(2026, 1, 28, 8, 0, 0, 0, time.UTC)

const testSecret = "test-secret"

type fakeSync struct {
	res reconcile.Result
	err error
}

func (f *fakeSync) SyncOnce(context.Context) (reconcile.Result, error) { return f.res, f.err }

type env struct {
	mux     *http.ServeMux
	store   *storage.MemoryStore
	gateway *calendar.MemoryGateway
	sync    *fakeSync
	haircut model.Service
}

func newEnv(t *testing.T, adminAuth bool) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hours, err := availability.ParseWeeklyHours(availability.DefaultWeeklyHours)
	if err != nil {
		t.Fatalf("hours: %v", err)
	}
	store := storage.NewMemoryStore()
	haircut := store.AddService(model.Service{Name: "Haircut", DurationMinutes: 30, Price: "25.00"})
	gw := calendar.NewMemoryGateway()
	orch := booking.NewOrchestrator(store, store, gw, nil, logger, booking.Config{
		Location:        time.UTC,
		Hours:           hours,
		Granularity:     30 * time.Minute,
		PendingForUsers: true,
		Now:             func() time.Time { return now },
	})

	sync := &fakeSync{}
	admin := NewAdminHandler(orch, sync, logger, time.Second)
	admin.now = func() time.Time { return now }
	rt := Routes{PublicHandler: NewPublicHandler(orch, logger), AdminHandler: admin}
	if adminAuth {
		rt.Admin = auth.RequireRole(testSecret, "admin", "owner")
	}
	mux := http.NewServeMux()
	rt.Register(mux)
	return &env{mux: mux, store: store, gateway: gw, sync: sync, haircut: haircut}
}

func (e *env) do(t *testing.T, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func (e *env) book(t *testing.T, start string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body := `{"service_id":"` + e.haircut.ID + `","start_time":"` + start + `","guest_name":"Ana","guest_email":"ana@example.com"}`
	if header != nil {
		body = `{"service_id":"` + e.haircut.ID + `","start_time":"` + start + `"}`
	}
	return e.do(t, http.MethodPost, "/api/v1/public/appointments", body, header)
}

func TestServices(t *testing.T) {
	e := newEnv(t, false)
	rec := e.do(t, http.MethodGet, "/api/v1/public/services", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	items := decode[[]serviceItem](t, rec)
	if len(items) != 1 || items[0].Name != "Haircut" || items[0].DurationMinutes != 30 {
		t.Fatalf("unexpected services %+v", items)
	}
}

func TestAvailability(t *testing.T) {
	e := newEnv(t, false)
	e.book(t, "2026-01-28T10:00:00Z", nil)

	rec := e.do(t, http.MethodGet, "/api/v1/public/availability?date=2026-01-28&service_id="+e.haircut.ID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	resp := decode[availabilityResponse](t, rec)
	if len(resp.Slots) != 16 {
		t.Fatalf("expected 16 slots, got %d", len(resp.Slots))
	}
	if resp.Slots[0].StartTime != "2026-01-28T09:00:00Z" || !resp.Slots[0].Available {
		t.Fatalf("unexpected first slot %+v", resp.Slots[0])
	}
	if s := resp.Slots[2]; s.StartTime != "2026-01-28T10:00:00Z" || s.Available {
		t.Fatalf("booked slot should be unavailable, got %+v", s)
	}
}

func TestAvailabilityBadInput(t *testing.T) {
	e := newEnv(t, false)
	cases := []struct {
		name   string
		query  string
		status int
	}{
		{"missing date", "service_id=" + e.haircut.ID, http.StatusBadRequest},
		{"bad date", "date=28-01-2026&service_id=" + e.haircut.ID, http.StatusBadRequest},
		{"unknown service", "date=2026-01-28&service_id=nope", http.StatusNotFound},
		{"beyond horizon", "date=2026-06-01&service_id=" + e.haircut.ID, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := e.do(t, http.MethodGet, "/api/v1/public/availability?"+tc.query, "", nil)
			if rec.Code != tc.status {
				t.Fatalf("status %d, want %d: %s", rec.Code, tc.status, rec.Body)
			}
		})
	}
}

func TestCreateGuestAppointment(t *testing.T) {
	e := newEnv(t, false)
	rec := e.book(t, "2026-01-28T10:00:00Z", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	item := decode[appointmentItem](t, rec)
	if item.Status != "confirmed" || item.EndTime != "2026-01-28T10:30:00Z" || item.Reference == "" {
		t.Fatalf("unexpected appointment %+v", item)
	}

	rec = e.book(t, "2026-01-28T10:00:00Z", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("double booking: status %d", rec.Code)
	}
	if body := decode[errorBody](t, rec); body.Error != "slot no longer available" || body.Code != "conflict" {
		t.Fatalf("unexpected error body %+v", body)
	}
}

func TestCreateRejections(t *testing.T) {
	e := newEnv(t, false)
	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"bad start", `{"service_id":"` + e.haircut.ID + `","start_time":"tomorrow"}`, http.StatusBadRequest},
		{"no guest", `{"service_id":"` + e.haircut.ID + `","start_time":"2026-01-28T10:00:00Z"}`, http.StatusUnprocessableEntity},
		{"after hours", `{"service_id":"` + e.haircut.ID + `","start_time":"2026-01-28T18:00:00Z","guest_name":"A","guest_email":"a@example.com"}`, http.StatusUnprocessableEntity},
		{"unknown service", `{"service_id":"nope","start_time":"2026-01-28T10:00:00Z","guest_name":"A","guest_email":"a@example.com"}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, "/api/v1/public/appointments", tc.body, nil)
			if rec.Code != tc.status {
				t.Fatalf("status %d, want %d: %s", rec.Code, tc.status, rec.Body)
			}
		})
	}
	if n := len(e.store.All()); n != 0 {
		t.Fatalf("rejected requests stored %d appointments", n)
	}
}

func TestCreateFailsClosedWhenCalendarDown(t *testing.T) {
	e := newEnv(t, false)
	e.gateway.Fail(errors.New("timeout"))
	rec := e.book(t, "2026-01-28T10:00:00Z", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	if body := decode[errorBody](t, rec); body.Error != "failed to check availability" {
		t.Fatalf("unexpected error %q", body.Error)
	}
}

func TestSignedInBookingIsPendingUntilConfirmed(t *testing.T) {
	e := newEnv(t, false)
	rec := e.book(t, "2026-01-28T11:00:00Z", map[string]string{"X-User-Id": "user-42"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	item := decode[appointmentItem](t, rec)
	if item.Status != "pending" || item.UserID != "user-42" {
		t.Fatalf("unexpected appointment %+v", item)
	}

	rec = e.do(t, http.MethodPost, "/api/v1/admin/appointments/"+item.ID+"/confirm", "", nil)
	if rec.Code != http.StatusOK || decode[appointmentItem](t, rec).Status != "confirmed" {
		t.Fatalf("confirm: %d %s", rec.Code, rec.Body)
	}

	rec = e.do(t, http.MethodPost, "/api/v1/admin/appointments/"+item.ID+"/cancel", `{"reason":"sick"}`, nil)
	cancelled := decode[appointmentItem](t, rec)
	if rec.Code != http.StatusOK || cancelled.Status != "cancelled" || cancelled.CancelReason != "sick" || cancelled.CancelledAt == "" {
		t.Fatalf("cancel: %d %s", rec.Code, rec.Body)
	}

	// Cancelling again is a no-op, and a body is optional.
	if rec := e.do(t, http.MethodPost, "/api/v1/admin/appointments/"+item.ID+"/cancel", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("second cancel: %d %s", rec.Code, rec.Body)
	}
	if rec := e.do(t, http.MethodPost, "/api/v1/admin/appointments/"+item.ID+"/confirm", "", nil); rec.Code != http.StatusConflict {
		t.Fatalf("confirming a cancelled appointment: %d", rec.Code)
	}
}

func TestAdminNotFound(t *testing.T) {
	e := newEnv(t, false)
	rec := e.do(t, http.MethodPost, "/api/v1/admin/appointments/missing/confirm", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
	if body := decode[errorBody](t, rec); body.Code != "not_found" {
		t.Fatalf("unexpected code %q", body.Code)
	}
}

func TestAdminList(t *testing.T) {
	e := newEnv(t, false)
	e.book(t, "2026-01-28T10:00:00Z", nil)
	e.book(t, "2026-01-29T10:00:00Z", nil)

	rec := e.do(t, http.MethodGet, "/api/v1/admin/appointments", "", nil)
	if items := decode[[]appointmentItem](t, rec); rec.Code != http.StatusOK || len(items) != 2 {
		t.Fatalf("default range: %d %s", rec.Code, rec.Body)
	}
	rec = e.do(t, http.MethodGet, "/api/v1/admin/appointments?from=2026-01-29&to=2026-01-30", "", nil)
	items := decode[[]appointmentItem](t, rec)
	if len(items) != 1 || items[0].StartTime != "2026-01-29T10:00:00Z" {
		t.Fatalf("explicit range: %s", rec.Body)
	}
	if rec := e.do(t, http.MethodGet, "/api/v1/admin/appointments?from=soon", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad from: %d", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/api/v1/admin/appointments?from=2026-01-30&to=2026-01-29", "", nil); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("inverted range: %d", rec.Code)
	}
}

func TestManualSync(t *testing.T) {
	e := newEnv(t, false)
	e.sync.res = reconcile.Result{Imported: 2, Cancelled: 1}
	rec := e.do(t, http.MethodPost, "/api/v1/admin/calendar/sync", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	if got := decode[syncResponse](t, rec); got.Imported != 2 || got.Cancelled != 1 {
		t.Fatalf("unexpected result %+v", got)
	}

	e.sync.err = reconcile.ErrSyncInProgress
	if rec := e.do(t, http.MethodPost, "/api/v1/admin/calendar/sync", "", nil); rec.Code != http.StatusConflict {
		t.Fatalf("in-progress sync: %d", rec.Code)
	}
	e.sync.err = calendar.ErrUnavailable
	if rec := e.do(t, http.MethodPost, "/api/v1/admin/calendar/sync", "", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("failed sync: %d", rec.Code)
	}
}

func TestAdminRoutesRequireRole(t *testing.T) {
	e := newEnv(t, true)
	token := func(role string) map[string]string {
		tok, err := auth.SignHS256(auth.NewClaims("op-1", role, time.Hour), testSecret)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return map[string]string{"Authorization": "Bearer " + tok}
	}

	if rec := e.do(t, http.MethodGet, "/api/v1/admin/appointments", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/api/v1/admin/appointments", "", token("customer")); rec.Code != http.StatusForbidden {
		t.Fatalf("wrong role: %d", rec.Code)
	}
	for _, role := range []string{"admin", "owner"} {
		if rec := e.do(t, http.MethodGet, "/api/v1/admin/appointments", "", token(role)); rec.Code != http.StatusOK {
			t.Fatalf("%s: %d", role, rec.Code)
		}
	}
	// Public routes stay open.
	if rec := e.do(t, http.MethodGet, "/api/v1/public/services", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("public route: %d", rec.Code)
	}
}

func TestCustomerListsAndCancelsOwnAppointments(t *testing.T) {
	e := newEnv(t, false)
	ana := map[string]string{"X-User-Id": "user-ana"}
	ben := map[string]string{"X-User-Id": "user-ben"}
	mine := decode[appointmentItem](t, e.book(t, "2026-01-29T10:00:00Z", ana))
	e.book(t, "2026-01-28T11:00:00Z", ana)
	theirs := decode[appointmentItem](t, e.book(t, "2026-01-28T14:00:00Z", ben))
	e.book(t, "2026-01-28T15:00:00Z", nil)

	rec := e.do(t, http.MethodGet, "/api/v1/public/appointments", "", ana)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	items := decode[[]appointmentItem](t, rec)
	if len(items) != 2 || items[0].StartTime != "2026-01-28T11:00:00Z" || items[1].ID != mine.ID {
		t.Fatalf("expected own appointments earliest first, got %s", rec.Body)
	}
	for _, it := range items {
		if it.UserID != "user-ana" {
			t.Fatalf("leaked appointment %+v", it)
		}
	}

	if rec := e.do(t, http.MethodPost, "/api/v1/public/appointments/"+theirs.ID+"/cancel", "", ana); rec.Code != http.StatusNotFound {
		t.Fatalf("cancelling someone else's booking: %d", rec.Code)
	}
	if got, _ := e.store.FindByID(context.Background(), theirs.ID); got.Status == model.StatusCancelled {
		t.Fatalf("foreign appointment must not be cancelled")
	}

	rec = e.do(t, http.MethodPost, "/api/v1/public/appointments/"+mine.ID+"/cancel", `{"reason":"running late"}`, ana)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	if got := decode[appointmentItem](t, rec); got.Status != "cancelled" || got.CancelReason != "running late" {
		t.Fatalf("unexpected cancel result %+v", got)
	}
}

func TestCustomerRoutesRequireUser(t *testing.T) {
	e := newEnv(t, false)
	if rec := e.do(t, http.MethodGet, "/api/v1/public/appointments", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("list without user: %d", rec.Code)
	}
	guest := decode[appointmentItem](t, e.book(t, "2026-01-28T10:00:00Z", nil))
	if rec := e.do(t, http.MethodPost, "/api/v1/public/appointments/"+guest.ID+"/cancel", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("cancel without user: %d", rec.Code)
	}
}
