package relay

import (
	"crypto/subtle"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/soyeahso/parley/internal/config"
)

// Identity is the user a token authenticates as.
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// AuthResult is the outcome of an authenticate request.
type AuthResult struct {
	OK       bool
	Identity Identity
	Reason   string
}

// ResolveUsers returns the configured token table. When none is configured
// and PARLEY_RELAY_TOKEN is set, that token authenticates a single "dev" user.
func ResolveUsers(users []config.RelayUser) []config.RelayUser {
	if len(users) > 0 {
		return users
	}
	if tok := os.Getenv("PARLEY_RELAY_TOKEN"); tok != "" {
		return []config.RelayUser{{Token: tok, ID: "dev", Email: "dev@localhost", Name: "dev"}}
	}
	return nil
}

// Authorize checks token against every user in the table. Every entry is
// compared so the time taken does not depend on which user matched.
func Authorize(users []config.RelayUser, token string) AuthResult {
	if len(users) == 0 {
		return AuthResult{Reason: "relay has no users configured"}
	}
	if token == "" {
		return AuthResult{Reason: "token required"}
	}

	match := -1
	for i, u := range users {
		if safeEqual(token, u.Token) && match < 0 {
			match = i
		}
	}
	if match < 0 {
		return AuthResult{Reason: "invalid token"}
	}

	u := users[match]
	name := u.Name
	if name == "" {
		name = u.ID
	}
	return AuthResult{OK: true, Identity: Identity{UserID: u.ID, Email: u.Email, Name: name}}
}

// safeEqual performs a constant-time string comparison that does not leak
// the secret's length.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}

// checkWebSocketOrigin validates the Origin header of upgrade requests.
// Requests without an Origin (non-browser clients) are always allowed.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || isOriginAllowed(origin, allowed)
	}
}

const (
	authRateWindow   = 5 * time.Minute
	authRateMaxFails = 10
	authRateMaxIPs   = 10000
)

// authRateLimiter counts failed authenticate attempts per remote host.
type authRateLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	now      func() time.Time
}

func newAuthRateLimiter() *authRateLimiter {
	return &authRateLimiter{failures: make(map[string][]time.Time), now: time.Now}
}

// run prunes stale entries every minute until stop is closed.
func (l *authRateLimiter) run(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			l.prune()
		}
	}
}

func (l *authRateLimiter) prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for host := range l.failures {
		l.recentLocked(host)
	}
}

// recentLocked drops expired failures for host and returns what is left.
func (l *authRateLimiter) recentLocked(host string) []time.Time {
	cutoff := l.now().Add(-authRateWindow)
	times := l.failures[host]
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(l.failures, host)
		return nil
	}
	l.failures[host] = kept
	return kept
}

func (l *authRateLimiter) allow(remoteAddr string) bool {
	host := hostOf(remoteAddr)
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.recentLocked(host)) < authRateMaxFails
}

func (l *authRateLimiter) recordFailure(remoteAddr string) {
	host := hostOf(remoteAddr)
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, tracked := l.failures[host]; !tracked && len(l.failures) >= authRateMaxIPs {
		var oldestHost string
		var oldest time.Time
		for h, times := range l.failures {
			if len(times) > 0 && (oldestHost == "" || times[0].Before(oldest)) {
				oldestHost, oldest = h, times[0]
			}
		}
		delete(l.failures, oldestHost)
	}
	l.failures[host] = append(l.failures[host], l.now())
}

func hostOf(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}
