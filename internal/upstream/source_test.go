package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestFetchRows_PollsUntilFinished(t *testing.T) {
	var polls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/refresh"):
			if r.Header.Get("Authorization") != "Key secret" {
				t.Errorf("missing api key header")
			}
			json.NewEncoder(w).Encode(map[string]any{"job": map[string]any{"id": "j1", "status": 1}})
		case strings.Contains(r.URL.Path, "/api/jobs/"):
			polls++
			status := 2
			var resultID any
			if polls >= 2 {
				status = jobFinished
				resultID = 77
			}
			json.NewEncoder(w).Encode(map[string]any{"job": map[string]any{"id": "j1", "status": status, "query_result_id": resultID}})
		case strings.Contains(r.URL.Path, "/api/query_results/77"):
			json.NewEncoder(w).Encode(map[string]any{
				"query_result": map[string]any{"data": map[string]any{"rows": []map[string]any{
					{"ticket_id": 1, "tracking_id": "A"},
					{"ticket_id": 2, "tracking_id": "B"},
				}}},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	sc := NewSourceClient(testClient(), srv.URL, "secret", zerolog.Nop())
	sc.pollEvery = time.Millisecond

	rows, err := sc.FetchRows(context.Background(), 123)
	if err != nil {
		t.Fatalf("FetchRows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if polls < 2 {
		t.Fatalf("expected at least 2 polls, got %d", polls)
	}
}

func TestFetchRows_JobFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/refresh"):
			json.NewEncoder(w).Encode(map[string]any{"job": map[string]any{"id": "j1", "status": 1}})
		default:
			json.NewEncoder(w).Encode(map[string]any{"job": map[string]any{"id": "j1", "status": jobFailed, "error": "boom"}})
		}
	}))
	defer srv.Close()

	sc := NewSourceClient(testClient(), srv.URL, "secret", zerolog.Nop())
	sc.pollEvery = time.Millisecond

	if _, err := sc.FetchRows(context.Background(), 123); err == nil {
		t.Fatal("expected job failure error")
	}
}
