package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newExtractClient(t *testing.T, handler http.HandlerFunc) *ExtractClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewExtractClient(testClient(), srv.URL, "key", 6000, zerolog.Nop())
}

func TestExtractAddresses_ParsesAnswer(t *testing.T) {
	ec := newExtractClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.PromptVersion != addressPromptVersion {
			t.Errorf("unexpected prompt version %q", req.PromptVersion)
		}
		json.NewEncoder(w).Encode(generateResponse{
			Text: `[{"id":1,"input":"q cau giay hn","address":null,"province":"Hà Nội","district":"Cầu Giấy","ward":"Dịch Vọng"}]`,
		})
	})

	out, err := ec.ExtractAddresses(context.Background(), []ExtractItem{{ID: 1, Text: "q cau giay hn"}})
	if err != nil {
		t.Fatalf("ExtractAddresses: %v", err)
	}
	if len(out) != 1 || out[0].ID != 1 || out[0].Province == nil || *out[0].Province != "Hà Nội" {
		t.Fatalf("unexpected answer: %+v", out)
	}
	if out[0].Address != nil {
		t.Fatalf("null field must stay nil: %+v", out[0])
	}
}

func TestExtractAddresses_MalformedOutputSkipsBatch(t *testing.T) {
	ec := newExtractClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{Text: "I could not parse these addresses, sorry."})
	})

	batch := make([]ExtractItem, 20)
	for i := range batch {
		batch[i] = ExtractItem{ID: int64(i + 1), Text: "x"}
	}
	out, err := ec.ExtractAddresses(context.Background(), batch)
	if !errors.Is(err, ErrMalformedExtraction) {
		t.Fatalf("expected ErrMalformedExtraction, got %v", err)
	}
	if out != nil {
		t.Fatalf("no partial results on malformed output, got %+v", out)
	}
}

func TestExtract_QuotaPacesConsecutiveCalls(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(generateResponse{Text: `[{"id":1,"date":"2026-08-03"}]`})
	}))
	t.Cleanup(srv.Close)

	// 600 rpm: one request every 100ms.
	ec := NewExtractClient(testClient(), srv.URL, "key", 600, zerolog.Nop())
	batch := []ExtractItem{{ID: 1, Text: "hẹn lại 03/08"}}

	start := time.Now()
	for i := 0; i < 2; i++ {
		if _, err := ec.ExtractDates(context.Background(), batch); err != nil {
			t.Fatalf("ExtractDates: %v", err)
		}
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Fatalf("second call not paced by the quota, took %v", elapsed)
	}
}

func TestExtract_QuotaWaitHonorsCancellation(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(generateResponse{Text: `[{"id":1,"date":"2026-08-03"}]`})
	}))
	t.Cleanup(srv.Close)

	// 1 rpm: the second call would wait a full minute for a token.
	ec := NewExtractClient(testClient(), srv.URL, "key", 1, zerolog.Nop())
	batch := []ExtractItem{{ID: 1, Text: "hẹn lại 03/08"}}

	if _, err := ec.ExtractDates(context.Background(), batch); err != nil {
		t.Fatalf("first call: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := ec.ExtractDates(ctx, batch); err == nil {
		t.Fatal("expected the quota wait to fail on context expiry")
	}
	if calls != 1 {
		t.Fatalf("expired call must not reach the service, got %d calls", calls)
	}
}

func TestExtractDates_StripsCodeFences(t *testing.T) {
	ec := newExtractClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{
			Text: "```json\n[{\"id\":7,\"date\":\"2026-09-05\"}]\n```",
		})
	})

	out, err := ec.ExtractDates(context.Background(), []ExtractItem{{ID: 7, Text: "hẹn 05/09"}})
	if err != nil {
		t.Fatalf("ExtractDates: %v", err)
	}
	if len(out) != 1 || out[0].Date == nil || *out[0].Date != "2026-09-05" {
		t.Fatalf("unexpected answer: %+v", out)
	}
}

func TestExtract_EmptyBatchSkipsCall(t *testing.T) {
	called := false
	ec := newExtractClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	out, err := ec.ExtractDates(context.Background(), nil)
	if err != nil {
		t.Fatalf("ExtractDates: %v", err)
	}
	if len(out) != 0 || called {
		t.Fatalf("empty batch must not call the service")
	}
}
