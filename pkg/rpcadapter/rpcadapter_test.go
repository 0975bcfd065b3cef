package rpcadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPAdapterSubmitSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Chain != "Sepolia" {
			t.Fatalf("chain = %q, want Sepolia", req.Chain)
		}
		json.NewEncoder(w).Encode(submitResponse{TxHash: "0xdeadbeef"})
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(HTTPConfig{URL: srv.URL, RequestsPerSecond: 100, Burst: 10})
	txHash, err := adapter.Submit(context.Background(), "Sepolia", []byte("signed"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if txHash != "0xdeadbeef" {
		t.Fatalf("txHash = %q, want 0xdeadbeef", txHash)
	}
}

func TestHTTPAdapterSubmitNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(HTTPConfig{URL: srv.URL, RequestsPerSecond: 100, Burst: 10})
	_, err := adapter.Submit(context.Background(), "Sepolia", []byte("signed"))
	if err == nil {
		t.Fatalf("expected error on 500 response")
	}
}

func TestHTTPAdapterSubmitGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(submitResponse{Error: "insufficient gas"})
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(HTTPConfig{URL: srv.URL, RequestsPerSecond: 100, Burst: 10})
	_, err := adapter.Submit(context.Background(), "Sepolia", []byte("signed"))
	if err == nil {
		t.Fatalf("expected error when gateway reports a failure")
	}
}

func TestHTTPAdapterSubmitUnreachable(t *testing.T) {
	adapter := NewHTTPAdapter(HTTPConfig{URL: "http://127.0.0.1:1", RequestsPerSecond: 100, Burst: 10, Timeout: 1})
	_, err := adapter.Submit(context.Background(), "Sepolia", []byte("signed"))
	if err == nil {
		t.Fatalf("expected error for unreachable gateway")
	}
}

func TestAlwaysFailAdapterReturnsError(t *testing.T) {
	a := AlwaysFailAdapter{}
	_, err := a.Submit(context.Background(), "Sepolia", []byte("signed"))
	if err == nil {
		t.Fatalf("expected error")
	}
}
