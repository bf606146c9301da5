package admission

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Inbound is the request metadata the inspector looks at.
type Inbound struct {
	IP        string
	UserAgent string
	Method    string
	Path      string
	Query     string
}

// Verdict is the traffic inspection result.
type Verdict struct {
	SuspectedBot    bool
	ShieldTriggered bool
	Detail          string
}

// Inspector classifies traffic before the admission counter runs.
type Inspector interface {
	Classify(ctx context.Context, in Inbound) (Verdict, error)
}

// InspectorFunc adapts a function to Inspector.
type InspectorFunc func(ctx context.Context, in Inbound) (Verdict, error)

// Classify implements Inspector.
func (f InspectorFunc) Classify(ctx context.Context, in Inbound) (Verdict, error) {
	return f(ctx, in)
}

var botSignatures = []string{
	"bot", "crawler", "spider", "scrapy", "curl/", "wget/", "python-requests",
	"python-urllib", "httpie", "headlesschrome", "phantomjs", "selenium", "puppeteer",
}

var shieldSignatures = []string{
	"../", "..\\", "/etc/passwd", "<script", "javascript:", "onerror=",
	"union select", "' or '1'='1", "\" or \"1\"=\"1", "; drop table", "\x00",
}

// HeuristicInspector flags bots by user agent and attacks by request signatures,
// and trips the shield when a single client IP bursts past its token bucket.
type HeuristicInspector struct {
	mu       sync.Mutex
	clients  map[string]*clientEntry
	rps      rate.Limit
	burst    int
	idleTTL  time.Duration
	allowed  []string
	now      Clock
	interval time.Duration
}

type clientEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// InspectorOption customises a HeuristicInspector.
type InspectorOption func(*HeuristicInspector)

// WithPerIPRate sets the per-client token bucket. A non-positive rps disables it.
func WithPerIPRate(rps float64, burst int) InspectorOption {
	return func(h *HeuristicInspector) {
		h.rps = rate.Limit(rps)
		h.burst = burst
	}
}

// WithIdleTTL sets how long an idle client bucket is kept.
func WithIdleTTL(d time.Duration) InspectorOption {
	return func(h *HeuristicInspector) { h.idleTTL = d }
}

// WithCleanupEvery sets the janitor interval.
func WithCleanupEvery(d time.Duration) InspectorOption {
	return func(h *HeuristicInspector) { h.interval = d }
}

// WithAllowedAgents exempts user agents containing any of the given substrings.
func WithAllowedAgents(agents ...string) InspectorOption {
	return func(h *HeuristicInspector) {
		for _, a := range agents {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				h.allowed = append(h.allowed, a)
			}
		}
	}
}

// WithInspectorClock injects the time source for the token buckets.
func WithInspectorClock(now Clock) InspectorOption {
	return func(h *HeuristicInspector) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHeuristicInspector builds an inspector with a 20 rps / 40 burst per-IP guard.
func NewHeuristicInspector(opts ...InspectorOption) *HeuristicInspector {
	h := &HeuristicInspector{
		clients:  make(map[string]*clientEntry),
		rps:      20,
		burst:    40,
		idleTTL:  15 * time.Minute,
		interval: 2 * time.Minute,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Classify implements Inspector.
func (h *HeuristicInspector) Classify(_ context.Context, in Inbound) (Verdict, error) {
	if h.isBot(in.UserAgent) {
		return Verdict{SuspectedBot: true, Detail: "user-agent"}, nil
	}
	if sig, ok := matchShield(in.Path, in.Query); ok {
		return Verdict{ShieldTriggered: true, Detail: "signature " + sig}, nil
	}
	if !h.allowClient(in.IP) {
		return Verdict{ShieldTriggered: true, Detail: "client burst"}, nil
	}
	return Verdict{}, nil
}

func (h *HeuristicInspector) isBot(userAgent string) bool {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if ua == "" {
		return true
	}
	for _, a := range h.allowed {
		if strings.Contains(ua, a) {
			return false
		}
	}
	for _, sig := range botSignatures {
		if strings.Contains(ua, sig) {
			return true
		}
	}
	return false
}

func matchShield(path, query string) (string, bool) {
	target := path
	if query != "" {
		target += "?" + query
	}
	candidates := []string{strings.ToLower(target)}
	if decoded, err := url.QueryUnescape(target); err == nil {
		candidates = append(candidates, strings.ToLower(decoded))
	}
	for _, c := range candidates {
		for _, sig := range shieldSignatures {
			if strings.Contains(c, sig) {
				return strings.TrimSpace(sig), true
			}
		}
	}
	return "", false
}

func (h *HeuristicInspector) allowClient(ip string) bool {
	if h.rps <= 0 || h.burst <= 0 {
		return true
	}
	if ip == "" {
		ip = "unknown"
	}
	now := h.now()

	h.mu.Lock()
	ent, ok := h.clients[ip]
	if !ok {
		ent = &clientEntry{lim: rate.NewLimiter(h.rps, h.burst)}
		h.clients[ip] = ent
	}
	ent.lastSeen = now
	h.mu.Unlock()

	return ent.lim.AllowN(now, 1)
}

// Cleanup drops client buckets idle for longer than the idle TTL.
func (h *HeuristicInspector) Cleanup() {
	cutoff := h.now().Add(-h.idleTTL)

	h.mu.Lock()
	defer h.mu.Unlock()

	for ip, ent := range h.clients {
		if ent.lastSeen.Before(cutoff) {
			delete(h.clients, ip)
		}
	}
}

// Tracked returns the number of client buckets currently held.
func (h *HeuristicInspector) Tracked() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// StartJanitor sweeps idle client buckets until ctx is done.
func (h *HeuristicInspector) StartJanitor(ctx context.Context) {
	if h.interval <= 0 {
		return
	}
	t := time.NewTicker(h.interval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				h.Cleanup()
			}
		}
	}()
}
