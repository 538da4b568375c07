package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// staleAfter is how long an idle client keeps its limiter before pruning.
const staleAfter = 10 * time.Minute

// pruneThreshold bounds the limiter map; pruning runs when it is exceeded.
const pruneThreshold = 4096

// ipLimiter applies a token bucket per client IP.
type ipLimiter struct {
	mu         sync.Mutex
	clients    map[string]*clientLimiter
	rps        rate.Limit
	burst      int
	trustProxy bool
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter(rps float64, burst int, trustProxy bool) *ipLimiter {
	return &ipLimiter{
		clients:    make(map[string]*clientLimiter),
		rps:        rate.Limit(rps),
		burst:      burst,
		trustProxy: trustProxy,
	}
}

// Allow reports whether the request's client is within its rate budget.
func (l *ipLimiter) Allow(r *http.Request) bool {
	ip := l.clientIP(r)

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[ip]
	if !ok {
		if len(l.clients) >= pruneThreshold {
			l.pruneLocked()
		}
		c = &clientLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = time.Now()
	return c.limiter.Allow()
}

// pruneLocked drops limiters for clients not seen recently.
func (l *ipLimiter) pruneLocked() {
	cutoff := time.Now().Add(-staleAfter)
	for ip, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, ip)
		}
	}
}

// clientIP resolves the client address. X-Forwarded-For is honored only
// when the server is explicitly configured to sit behind a trusted proxy,
// since the header is trivially spoofable otherwise.
func (l *ipLimiter) clientIP(r *http.Request) string {
	if l.trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
