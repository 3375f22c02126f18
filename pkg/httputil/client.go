// Package httputil provides the shared HTTP plumbing used by the fallback
// detectors and embedding providers: pooled clients per timeout tier,
// bounded body reads, and a small semaphore for capping concurrent calls.
package httputil

import (
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

// MaxResponseSize bounds response body reads. Fallback providers return a
// few KB of JSON; anything near this limit is a broken or hostile upstream.
const MaxResponseSize = 10 * 1024 * 1024

var sharedTransport = &http.Transport{
	Proxy: http.ProxyFromEnvironment,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	ForceAttemptHTTP2:     true,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
}

// TimeoutTier selects a request deadline class. All tiers share one
// transport so connections are reused across the process.
type TimeoutTier int

const (
	// TierFast: health checks and cache probes.
	TierFast TimeoutTier = iota
	// TierMedium: ordinary API calls, embedding lookups.
	TierMedium
	// TierSlow: LLM classification calls.
	TierSlow
)

var tierTimeouts = map[TimeoutTier]time.Duration{
	TierFast:   5 * time.Second,
	TierMedium: 30 * time.Second,
	TierSlow:   60 * time.Second,
}

var (
	tierClients map[TimeoutTier]*http.Client
	clientOnce  sync.Once
)

// Client returns the pooled client for a tier. Callers must not mutate it.
func Client(tier TimeoutTier) *http.Client {
	clientOnce.Do(func() {
		tierClients = make(map[TimeoutTier]*http.Client, len(tierTimeouts))
		for t, d := range tierTimeouts {
			tierClients[t] = &http.Client{Timeout: d, Transport: sharedTransport}
		}
	})
	if c, ok := tierClients[tier]; ok {
		return c
	}
	return tierClients[TierMedium]
}

// SlowClient is shorthand for the LLM-call tier.
func SlowClient() *http.Client {
	return Client(TierSlow)
}

// ReadResponseBody reads at most maxSize bytes from r. A non-positive
// maxSize applies the package default.
func ReadResponseBody(r io.Reader, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = MaxResponseSize
	}
	return io.ReadAll(io.LimitReader(r, maxSize))
}

// ReadErrorBody reads an upstream error payload with a tight 1MB cap.
func ReadErrorBody(r io.Reader) ([]byte, error) {
	const maxErrorSize = 1 << 20
	return io.ReadAll(io.LimitReader(r, maxErrorSize))
}

// DrainAndClose empties and closes a response body so the underlying
// connection returns to the pool.
func DrainAndClose(body io.ReadCloser) {
	if body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(body, MaxResponseSize))
		_ = body.Close()
	}
}
