package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
)

func TestTokenManager_ProbePassCached(t *testing.T) {
	var probes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes.Add(1)
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("probe missing token header")
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	m := NewTokenManager(testClient(), srv.URL, "tok", zerolog.Nop())
	for i := 0; i < 3; i++ {
		got, err := m.Token(context.Background())
		if err != nil {
			t.Fatalf("Token: %v", err)
		}
		if got != "tok" {
			t.Fatalf("unexpected token %q", got)
		}
	}
	if probes.Load() != 1 {
		t.Fatalf("verdict not cached: %d probes", probes.Load())
	}

	// Invalidate forces a fresh probe.
	m.Invalidate()
	if _, err := m.Token(context.Background()); err != nil {
		t.Fatalf("Token after invalidate: %v", err)
	}
	if probes.Load() != 2 {
		t.Fatalf("expected re-probe after invalidate, got %d", probes.Load())
	}
}

func TestTokenManager_RejectedToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := NewTokenManager(testClient(), srv.URL, "stale", zerolog.Nop())
	_, err := m.Token(context.Background())
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestTokenManager_NoProbeURL(t *testing.T) {
	m := NewTokenManager(testClient(), "", "tok", zerolog.Nop())
	got, err := m.Token(context.Background())
	if err != nil || got != "tok" {
		t.Fatalf("unprobed token must be trusted: %q %v", got, err)
	}
}
