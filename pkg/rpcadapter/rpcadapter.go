// Package rpcadapter defines the external RPC adapter chainguard's
// dispatcher consumes: submit(chain, signed_payload) -> {tx_hash} | error
// (spec.md §6). The chain identifier is passed through verbatim; this
// package never inspects it.
package rpcadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Adapter submits a signed payload to chain and returns the resulting
// transaction hash.
type Adapter interface {
	Submit(ctx context.Context, chain string, signedPayload []byte) (string, error)
}

// HTTPConfig configures an HTTP-backed Adapter.
type HTTPConfig struct {
	URL     string
	Timeout time.Duration

	// RequestsPerSecond and Burst bound outbound call volume, the same
	// golang.org/x/time/rate shape pkg/api's GlobalRateLimiter applies
	// per-IP on the inbound side; here it protects the downstream RPC
	// provider from being hammered by a single dispatcher process.
	RequestsPerSecond float64
	Burst             int
}

const defaultTimeout = 10 * time.Second

// HTTPAdapter submits signed payloads to a JSON-over-HTTP RPC gateway.
// Any transport error, timeout, or non-200 response is surfaced as an
// error; it never invents a tx_hash on failure.
type HTTPAdapter struct {
	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTTPAdapter(cfg HTTPConfig) *HTTPAdapter {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &HTTPAdapter{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

type submitRequest struct {
	Chain         string `json:"chain"`
	SignedPayload []byte `json:"signed_payload"`
}

type submitResponse struct {
	TxHash string `json:"tx_hash"`
	Error  string `json:"error,omitempty"`
}

// Submit rate-limits then POSTs the signed payload to the configured RPC
// gateway URL.
func (h *HTTPAdapter) Submit(ctx context.Context, chain string, signedPayload []byte) (string, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rpcadapter: rate limit wait: %w", err)
	}

	body, err := json.Marshal(submitRequest{Chain: chain, SignedPayload: signedPayload})
	if err != nil {
		return "", fmt.Errorf("rpcadapter: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("rpcadapter: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("rpcadapter: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("rpcadapter: reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("rpcadapter: gateway returned status %d: %s", resp.StatusCode, string(raw))
	}

	var out submitResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("rpcadapter: decoding response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("rpcadapter: %s", out.Error)
	}
	if out.TxHash == "" {
		return "", fmt.Errorf("rpcadapter: gateway returned empty tx_hash")
	}
	return out.TxHash, nil
}

// AlwaysFailAdapter is a fake for tests exercising the dispatcher's
// execution-failure path.
type AlwaysFailAdapter struct{ Err error }

func (f AlwaysFailAdapter) Submit(context.Context, string, []byte) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	return "", fmt.Errorf("rpcadapter: submission refused")
}
