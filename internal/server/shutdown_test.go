package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestShutdown_ClosesInReverseOrder(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{}, zerolog.Nop())
	var order []string
	sm.RegisterCloser("first", CloserFunc(func() error { order = append(order, "first"); return nil }))
	sm.RegisterCloser("second", CloserFunc(func() error { order = append(order, "second"); return errors.New("boom") }))

	err := sm.Shutdown(context.Background(), "test")
	if err == nil || !strings.Contains(err.Error(), "close second") {
		t.Fatalf("Shutdown error = %v, want close second failure", err)
	}
	if !slices.Equal(order, []string{"second", "first"}) {
		t.Errorf("close order = %v", order)
	}
	if !sm.IsShuttingDown() {
		t.Error("expected IsShuttingDown after Shutdown")
	}

	select {
	case <-sm.Done():
	default:
		t.Fatalf("Done channel not closed")
	}
	if err := sm.Shutdown(context.Background(), "again"); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
	if len(order) != 2 {
		t.Errorf("closers ran %d times, want 2", len(order))
	}
}

func TestShutdown_WaitsForInFlight(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{DrainTimeout: time.Second}, zerolog.Nop())
	if !sm.TrackRequest() {
		t.Fatalf("TrackRequest rejected before shutdown")
	}
	go func() {
		time.Sleep(100 * time.Millisecond)
		sm.UntrackRequest()
	}()
	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if n := sm.InFlightCount(); n != 0 {
		t.Errorf("in-flight = %d after drain", n)
	}
	if sm.TrackRequest() {
		t.Error("TrackRequest accepted after shutdown")
	}
}

func TestShutdown_DrainTimeout(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{DrainTimeout: 50 * time.Millisecond}, zerolog.Nop())
	if !sm.TrackRequest() {
		t.Fatalf("TrackRequest rejected before shutdown")
	}
	err := sm.Shutdown(context.Background(), "test")
	if err == nil || !strings.Contains(err.Error(), "1 in-flight") {
		t.Fatalf("Shutdown error = %v, want drain timeout with 1 in-flight", err)
	}
}

func TestMiddleware_RejectsDuringShutdown(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{}, zerolog.Nop())
	var inFlight int64
	h := sm.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		inFlight = sm.InFlightCount()
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if inFlight != 1 {
		t.Errorf("in-flight during request = %d, want 1", inFlight)
	}

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
