package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestOrderSearch_MergesChunks(t *testing.T) {
	var batches []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req orderSearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		batches = append(batches, len(req.TrackingIDs))
		orders := make([]OrderInfo, 0, len(req.TrackingIDs))
		for i, id := range req.TrackingIDs {
			orders = append(orders, OrderInfo{OrderID: int64(i + 1), TrackingID: id, IsRTS: id == "B"})
		}
		json.NewEncoder(w).Encode(orderSearchResponse{Orders: orders})
	}))
	defer srv.Close()

	c := testClient()
	tokens := NewTokenManager(c, "", "tok", zerolog.Nop())
	oc := NewOrderClient(c, srv.URL, tokens, 2, zerolog.Nop())

	out, err := oc.Search(context.Background(), []string{"A", "B", "C"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 orders, got %v", out)
	}
	if !out["B"].IsRTS || out["A"].IsRTS {
		t.Fatalf("per-order fields lost in merge: %v", out)
	}
	if len(batches) != 2 || batches[0] != 2 || batches[1] != 1 {
		t.Fatalf("unexpected chunking: %v", batches)
	}
}

func TestOrderSearch_FailedChunkDoesNotStopLaterChunks(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req orderSearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.TrackingIDs) == 1 && req.TrackingIDs[0] == "B" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		orders := make([]OrderInfo, 0, len(req.TrackingIDs))
		for i, id := range req.TrackingIDs {
			orders = append(orders, OrderInfo{OrderID: int64(i + 1), TrackingID: id})
		}
		json.NewEncoder(w).Encode(orderSearchResponse{Orders: orders})
	}))
	defer srv.Close()

	c := testClient()
	tokens := NewTokenManager(c, "", "tok", zerolog.Nop())
	oc := NewOrderClient(c, srv.URL, tokens, 1, zerolog.Nop())

	out, err := oc.Search(context.Background(), []string{"A", "B", "C"})
	if err == nil {
		t.Fatal("expected an error for the failed chunk")
	}
	if _, ok := out["A"]; !ok {
		t.Fatalf("chunk before the failure lost: %v", out)
	}
	if _, ok := out["C"]; !ok {
		t.Fatalf("chunk after the failure must still be fetched: %v", out)
	}
	if _, ok := out["B"]; ok {
		t.Fatalf("failed chunk must not appear in the map: %v", out)
	}
	if calls != 3 {
		t.Fatalf("expected 3 chunk calls, got %d", calls)
	}
}

func TestOrderSearch_MissingOrdersAbsentFromMap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(orderSearchResponse{Orders: []OrderInfo{{OrderID: 1, TrackingID: "A"}}})
	}))
	defer srv.Close()

	c := testClient()
	tokens := NewTokenManager(c, "", "tok", zerolog.Nop())
	oc := NewOrderClient(c, srv.URL, tokens, 100, zerolog.Nop())

	out, err := oc.Search(context.Background(), []string{"A", "GONE"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if _, ok := out["GONE"]; ok {
		t.Fatalf("unknown order must be absent, got %v", out)
	}
}

func TestChangeAddress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		var upd AddressUpdate
		if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
			t.Errorf("decode: %v", err)
		}
		if upd.Province != "Hà Nội" {
			t.Errorf("unexpected payload: %+v", upd)
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := testClient()
	tokens := NewTokenManager(c, "", "tok", zerolog.Nop())
	oc := NewOrderClient(c, srv.URL, tokens, 100, zerolog.Nop())

	err := oc.ChangeAddress(context.Background(), AddressUpdate{
		OrderID: 42, Address: "1 Trần Thái Tông", Province: "Hà Nội", District: "Cầu Giấy", Ward: "Dịch Vọng",
	})
	if err != nil {
		t.Fatalf("ChangeAddress: %v", err)
	}
}
