package httpx

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/handshake/pkg/slogx"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines the rate limiting parameters.
type RateLimitConfig struct {
	// RequestsPerWindow is the number of requests refilled per Window
	RequestsPerWindow int
	// Window is the time window for rate limiting
	Window time.Duration
	// Burst is the bucket size
	Burst int
}

// Limit returns the refill rate in tokens per second.
func (c RateLimitConfig) Limit() rate.Limit {
	if c.Window <= 0 || c.RequestsPerWindow <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(c.RequestsPerWindow) / c.Window.Seconds())
}

// Route limit profiles. Override with RATELIMIT_{NAME}_REQUESTS,
// RATELIMIT_{NAME}_WINDOW_SEC and RATELIMIT_{NAME}_BURST.
var (
	// StrictLimit guards unauthenticated entry points (init, challenge
	// verification) against enumeration.
	StrictLimit = RateLimitConfig{
		RequestsPerWindow: 10,
		Window:            time.Minute,
		Burst:             10,
	}

	// ModerateLimit for registration-key authenticated writes.
	ModerateLimit = RateLimitConfig{
		RequestsPerWindow: 60,
		Window:            time.Minute,
		Burst:             30,
	}

	// UploadLimit covers chunk PUTs, which legitimately arrive in quick
	// succession.
	UploadLimit = RateLimitConfig{
		RequestsPerWindow: 600,
		Window:            time.Minute,
		Burst:             100,
	}

	// PublicLimit for public read-only endpoints
	PublicLimit = RateLimitConfig{
		RequestsPerWindow: 1000,
		Window:            time.Minute,
		Burst:             1000,
	}
)

func init() {
	StrictLimit = ParseRateLimitFromEnv("STRICT", StrictLimit)
	ModerateLimit = ParseRateLimitFromEnv("MODERATE", ModerateLimit)
	UploadLimit = ParseRateLimitFromEnv("UPLOAD", UploadLimit)
	PublicLimit = ParseRateLimitFromEnv("PUBLIC", PublicLimit)
}

// ParseRateLimitFromEnv reads RATELIMIT_{prefix}_{REQUESTS,WINDOW_SEC,BURST},
// keeping defaultConfig values for anything unset or invalid.
func ParseRateLimitFromEnv(prefix string, defaultConfig RateLimitConfig) RateLimitConfig {
	config := defaultConfig

	if val := os.Getenv("RATELIMIT_" + prefix + "_REQUESTS"); val != "" {
		if requests, err := strconv.Atoi(val); err == nil && requests > 0 {
			config.RequestsPerWindow = requests
		}
	}

	if val := os.Getenv("RATELIMIT_" + prefix + "_WINDOW_SEC"); val != "" {
		if windowSec, err := strconv.Atoi(val); err == nil && windowSec > 0 {
			config.Window = time.Duration(windowSec) * time.Second
		}
	}

	if val := os.Getenv("RATELIMIT_" + prefix + "_BURST"); val != "" {
		if burst, err := strconv.Atoi(val); err == nil && burst > 0 {
			config.Burst = burst
		}
	}

	return config
}

// KeyExtractor is a function that extracts a unique key from the request
// for rate limiting purposes.
type KeyExtractor func(*http.Request) string

// TrustedProxies are the peers allowed to name the client through
// X-Forwarded-For or X-Real-IP. The zero value trusts nobody.
type TrustedProxies struct {
	prefixes []netip.Prefix
}

// ParseTrustedProxies reads CIDRs or bare addresses.
func ParseTrustedProxies(entries []string) (TrustedProxies, error) {
	var tp TrustedProxies
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			addr, err := netip.ParseAddr(entry)
			if err != nil {
				return TrustedProxies{}, fmt.Errorf("trusted proxy %q: %w", entry, err)
			}
			addr = addr.Unmap()
			tp.prefixes = append(tp.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			return TrustedProxies{}, fmt.Errorf("trusted proxy %q: %w", entry, err)
		}
		tp.prefixes = append(tp.prefixes, prefix.Masked())
	}
	return tp, nil
}

// Contains reports whether ip belongs to a trusted proxy.
func (tp TrustedProxies) Contains(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range tp.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the client address of r. Forwarding headers are
// honoured only when the direct peer is trusted; X-Forwarded-For is walked
// from the right, skipping trusted hops.
func (tp TrustedProxies) ClientIP(r *http.Request) string {
	peer := IPKeyExtractor(r)
	if !tp.Contains(peer) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if !tp.Contains(hop) {
				return hop
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

// IPKeyExtractor keys on the TCP peer address. Use TrustedProxies.ClientIP
// behind a proxy.
func IPKeyExtractor(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// HeaderKeyExtractor keys on a request header, e.g. X-Registration-Key.
func HeaderKeyExtractor(name string) KeyExtractor {
	return func(r *http.Request) string {
		return strings.TrimSpace(r.Header.Get(name))
	}
}

// CompositeKeyExtractor combines multiple key extractors with a separator,
// skipping extractors that return an empty key.
func CompositeKeyExtractor(sep string, extractors ...KeyExtractor) KeyExtractor {
	return func(r *http.Request) string {
		var parts []string
		for _, extractor := range extractors {
			if key := extractor(r); key != "" {
				parts = append(parts, key)
			}
		}
		return strings.Join(parts, sep)
	}
}

// KeyedLimiter is a set of token buckets, one per key, sharing one config.
// Buckets for keys not seen recently are dropped once they refill.
type KeyedLimiter struct {
	limiters sync.Map // map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
	now      func() time.Time

	mu          sync.Mutex
	lastCleanup time.Time
}

// NewKeyedLimiter builds a KeyedLimiter from config.
func NewKeyedLimiter(config RateLimitConfig) *KeyedLimiter {
	return &KeyedLimiter{
		limit:       config.Limit(),
		burst:       max(config.Burst, 1),
		now:         time.Now,
		lastCleanup: time.Now(),
	}
}

// SetNow overrides the clock. Tests only.
func (l *KeyedLimiter) SetNow(now func() time.Time) { l.now = now }

// Allow takes one token from key's bucket. When the bucket is empty it
// reports how long until the next token without consuming anything.
func (l *KeyedLimiter) Allow(key string) (bool, time.Duration) {
	now := l.now()
	limiter := l.get(key, now)

	if limiter.AllowN(now, 1) {
		return true, 0
	}

	r := limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return false, delay
}

func (l *KeyedLimiter) get(key string, now time.Time) *rate.Limiter {
	if limiter, ok := l.limiters.Load(key); ok {
		return limiter.(*rate.Limiter)
	}

	limiter := rate.NewLimiter(l.limit, l.burst)
	actual, _ := l.limiters.LoadOrStore(key, limiter)
	l.maybeCleanup(now)
	return actual.(*rate.Limiter)
}

// maybeCleanup removes buckets that are full again, at most every 5 minutes.
func (l *KeyedLimiter) maybeCleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) < 5*time.Minute {
		return
	}
	l.lastCleanup = now

	l.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).TokensAt(now) >= float64(l.burst) {
			l.limiters.Delete(key)
		}
		return true
	})
}

// RejectFunc writes the response for a rate-limited request.
type RejectFunc func(w http.ResponseWriter, r *http.Request, retryAfter time.Duration)

// RetryAfterSeconds rounds d up to whole seconds, minimum 1.
func RetryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	return max(secs, 1)
}

// RateLimitMiddleware limits requests grouped by keyExtractor. A nil
// onReject writes a plain JSON 429.
func RateLimitMiddleware(config RateLimitConfig, keyExtractor KeyExtractor, onReject RejectFunc) Middleware {
	rl := NewKeyedLimiter(config)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := slogx.FromContext(r.Context())

			key := keyExtractor(r)
			if key == "" {
				log.Warn("rate limit: unable to extract key, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			ok, delay := rl.Allow(key)
			if ok {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds(delay)))
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", config.RequestsPerWindow))
			w.Header().Set("X-RateLimit-Window", config.Window.String())

			log.Warn("rate limit exceeded",
				"key", key,
				"endpoint", r.URL.Path,
				"retry_after", delay.String(),
			)

			if onReject != nil {
				onReject(w, r, delay)
				return
			}
			WriteJSON(w, http.StatusTooManyRequests, map[string]string{
				"error":             "RateLimited",
				"error_description": "Too many requests. Please try again later.",
			})
		})
	}
}

// RateLimitByIP creates a rate limiter that limits by IP address only.
// A nil clientIP keys on the TCP peer.
func RateLimitByIP(config RateLimitConfig, clientIP KeyExtractor, onReject RejectFunc) Middleware {
	if clientIP == nil {
		clientIP = IPKeyExtractor
	}
	return RateLimitMiddleware(config, clientIP, onReject)
}
