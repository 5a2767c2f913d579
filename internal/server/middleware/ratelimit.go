package middleware

import (
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleClientTTL is how long a bucket survives without requests.
const idleClientTTL = 10 * time.Minute

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// IPLimiter keeps one token bucket per client address.
type IPLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*bucket
	swept   time.Time
	now     func() time.Time
}

// NewIPLimiter allows each client rps requests per second with the given
// burst, which is at least one.
func NewIPLimiter(rps float64, burst int) *IPLimiter {
	return &IPLimiter{
		rps:     rate.Limit(rps),
		burst:   max(burst, 1),
		clients: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (l *IPLimiter) Allow(ip string) bool {
	ok, _ := l.Reserve(ip)
	return ok
}

// Reserve takes a token for ip. When none is available it returns false and
// how long until one will be.
func (l *IPLimiter) Reserve(ip string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	b, ok := l.clients[ip]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.rps, l.burst)}
		l.clients[ip] = b
	}
	b.seen = now

	r := b.lim.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return false, wait
	}
	return true, 0
}

func (l *IPLimiter) sweep(now time.Time) {
	if now.Sub(l.swept) <= idleClientTTL {
		return
	}
	for ip, b := range l.clients {
		if now.Sub(b.seen) > idleClientTTL {
			delete(l.clients, ip)
		}
	}
	l.swept = now
}

// RateLimit rejects clients over their budget with 429 and a Retry-After in
// whole seconds. A nil limiter disables it.
func RateLimit(limiter *IPLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := limiter.Reserve(clientIP(r))
			if ok {
				next.ServeHTTP(w, r)
				return
			}
			secs := max(int(math.Ceil(wait.Seconds())), 1)
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
		})
	}
}

// clientIP prefers the first valid address in X-Forwarded-For, then
// X-Real-IP, then the socket peer.
func clientIP(r *http.Request) string {
	if first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); first != "" {
		if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
			return addr.String()
		}
	}
	if addr, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return addr.String()
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
