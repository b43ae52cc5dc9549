package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimit configures one token bucket per client. RatePerSecond wins over
// RequestsPerMinute when both are set. Paths lists the URL prefixes the limit
// applies to when used through Global; empty means every path.
type RateLimit struct {
	RatePerSecond     float64
	RequestsPerMinute float64
	Burst             int
	Paths             []string
}

func (l RateLimit) perSecond() rate.Limit {
	switch {
	case l.RatePerSecond > 0:
		return rate.Limit(l.RatePerSecond)
	case l.RequestsPerMinute > 0:
		return rate.Limit(l.RequestsPerMinute / 60.0)
	default:
		return 1
	}
}

func (l RateLimit) matches(path string) bool {
	if len(l.Paths) == 0 {
		return true
	}
	for _, prefix := range l.Paths {
		if strings.HasPrefix(path, strings.TrimSpace(prefix)) {
			return true
		}
	}
	return false
}

const visitorTTL = 5 * time.Minute

type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type RateLimiter struct {
	logger    *slog.Logger
	limits    map[string]RateLimit
	order     []string
	mu        sync.Mutex
	visitors  map[string]*rateEntry
	lastSweep time.Time
	clockNow  func() time.Time
}

// NewRateLimiter builds a limiter over the named limits. order fixes the
// precedence used by Global; names missing from it are ignored there.
func NewRateLimiter(limits map[string]RateLimit, logger *slog.Logger, order ...string) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		logger:   logger,
		limits:   limits,
		order:    order,
		visitors: make(map[string]*rateEntry),
		clockNow: time.Now,
	}
}

// Global enforces the first limit, in construction order, whose paths match
// the request.
func (r *RateLimiter) Global(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		for _, key := range r.order {
			limit, ok := r.limits[key]
			if !ok || !limit.matches(req.URL.Path) {
				continue
			}
			if !r.allow(key, clientID(req), limit) {
				r.tooMany(w, req, key, limit)
				return
			}
			break
		}
		next.ServeHTTP(w, req)
	})
}

func (r *RateLimiter) tooMany(w http.ResponseWriter, req *http.Request, key string, limit RateLimit) {
	retry := int(math.Ceil(1 / float64(limit.perSecond())))
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	r.logger.Debug("rate limit exceeded", slog.String("limit", key), slog.String("path", req.URL.Path))
	http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
}

func (r *RateLimiter) allow(key, client string, cfg RateLimit) bool {
	now := r.clockNow()
	r.mu.Lock()
	defer r.mu.Unlock()
	if now.Sub(r.lastSweep) > time.Minute {
		for id, entry := range r.visitors {
			if now.Sub(entry.lastSeen) > visitorTTL {
				delete(r.visitors, id)
			}
		}
		r.lastSweep = now
	}
	id := key + "|" + client
	entry, ok := r.visitors[id]
	if !ok {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		entry = &rateEntry{limiter: rate.NewLimiter(cfg.perSecond(), burst)}
		r.visitors[id] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func clientID(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		first = strings.TrimSpace(first)
		if parsed := net.ParseIP(first); parsed != nil {
			return parsed.String()
		}
		return first
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
