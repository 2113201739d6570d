package bridge

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/pixelatedempathy/aegis/internal/ratelimit"
)

// ---------------------------------------------------------------------------
// middleware.go — net/http integration for the bridge.
// ---------------------------------------------------------------------------

// blockedBody is the JSON payload returned on a 429.
type blockedBody struct {
	Error          string `json:"error"`
	Message        string `json:"message"`
	RetryAfter     int64  `json:"retryAfter"`
	Limit          int    `json:"limit"`
	Remaining      int    `json:"remaining"`
	ResetTime      int64  `json:"resetTime"`
	ThreatDetected bool   `json:"threatDetected"`
}

// IdentifierFunc extracts the rate-limit identity from a request. The
// default uses the API key header when present, otherwise the client IP.
type IdentifierFunc func(r *http.Request) string

func defaultIdentifier(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return clientIP(r)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware wraps an http.Handler with the bridged rate-limit check.
// Blocked requests receive a 429 with X-RateLimit-* headers and a JSON
// body; everything else passes through with the limit headers set.
func (b *Bridge) Middleware(next http.Handler) http.Handler {
	return b.MiddlewareWithIdentifier(next, defaultIdentifier)
}

// MiddlewareWithIdentifier is Middleware with a custom identity extractor.
func (b *Bridge) MiddlewareWithIdentifier(next http.Handler, ident IdentifierFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := ratelimit.CheckContext{
			UserID:    r.Header.Get("X-User-ID"),
			Role:      r.Header.Get("X-User-Role"),
			IP:        clientIP(r),
			Endpoint:  r.URL.Path,
			UserAgent: r.UserAgent(),
		}

		result := b.Check(r.Context(), ident(r), rc)
		writeLimitHeaders(w, result.RateLimit)

		if !result.ShouldBlock {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := int64(result.RateLimit.RetryAfter / time.Second)
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
		if result.ThreatDetected {
			w.Header().Set("X-Threat-Detected", "true")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(blockedBody{
			Error:          "rate_limit_exceeded",
			Message:        "rate limit exceeded, automated response engaged",
			RetryAfter:     retryAfter,
			Limit:          result.RateLimit.Limit,
			Remaining:      result.RateLimit.Remaining,
			ResetTime:      result.RateLimit.ResetTime.Unix(),
			ThreatDetected: result.ThreatDetected,
		})
	})
}

func writeLimitHeaders(w http.ResponseWriter, rl ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rl.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(rl.ResetTime.Unix(), 10))
}
