package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newVenueServer(t *testing.T, orderHandler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(hashkeyPath, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"HASH": "test-hash"})
	})
	mux.HandleFunc(orderPath, orderHandler)
	mux.HandleFunc(pricePath, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"rt_cd":  "0",
			"output": map[string]string{"stck_prpr": "61800"},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	client := NewClient(srv.URL, "app-key", "app-secret", "12345678", "01", true)
	return srv, client
}

func TestSubmitOrderSetsPaperTRID(t *testing.T) {
	var gotTRID, gotHashkey string
	var gotBody orderBody
	_, client := newVenueServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotTRID = r.Header.Get("tr_id")
		gotHashkey = r.Header.Get("hashkey")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"rt_cd":  "0",
			"output": map[string]string{"ODNO": "0000117057"},
		})
	})

	ack, err := client.SubmitOrder(context.Background(), "token", OrderRequest{
		Instrument: "005930",
		Side:       SideBuy,
		Type:       OrderMarket,
		Quantity:   16,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if ack.OrderID != "0000117057" {
		t.Errorf("order id = %q", ack.OrderID)
	}
	if gotTRID != "VTTC0802U" {
		t.Errorf("tr_id = %q, want VTTC0802U", gotTRID)
	}
	if gotHashkey != "test-hash" {
		t.Errorf("hashkey = %q, want test-hash", gotHashkey)
	}
	if gotBody.OrdDvsn != "01" || gotBody.OrdQty != "16" || gotBody.OrdUnpr != "0" {
		t.Errorf("body = %+v", gotBody)
	}
}

func TestSubmitOrderClassifiesVenueFailure(t *testing.T) {
	_, client := newVenueServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"rt_cd":  "1",
			"msg_cd": "EGW00201",
			"msg1":   "초당 거래건수를 초과하였습니다.",
		})
	})

	_, err := client.SubmitOrder(context.Background(), "token", OrderRequest{
		Instrument: "005930",
		Side:       SideSell,
		Type:       OrderMarket,
		Quantity:   1,
	})
	oe, ok := err.(*OrderError)
	if !ok {
		t.Fatalf("error = %v, want *OrderError", err)
	}
	if oe.Code != FailRateLimited || !oe.Retryable() {
		t.Errorf("code = %s retryable = %v, want retryable RateLimited", oe.Code, oe.Retryable())
	}
}

func TestSubmitOrderUnknownCodeIsNotRetryable(t *testing.T) {
	_, client := newVenueServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"rt_cd":  "1",
			"msg_cd": "APBK9999",
			"msg1":   "unmapped failure",
		})
	})

	_, err := client.SubmitOrder(context.Background(), "token", OrderRequest{
		Instrument: "005930",
		Side:       SideBuy,
		Type:       OrderMarket,
		Quantity:   1,
	})
	oe, ok := err.(*OrderError)
	if !ok {
		t.Fatalf("error = %v, want *OrderError", err)
	}
	if oe.Code != FailUnknown || oe.Retryable() {
		t.Errorf("code = %s retryable = %v, want non-retryable Unknown", oe.Code, oe.Retryable())
	}
}

func TestCurrentPrice(t *testing.T) {
	_, client := newVenueServer(t, func(w http.ResponseWriter, r *http.Request) {})

	price, err := client.CurrentPrice(context.Background(), "token", "005930")
	if err != nil {
		t.Fatalf("CurrentPrice: %v", err)
	}
	if price != 61800 {
		t.Errorf("price = %v, want 61800", price)
	}
}
