package services

import (
	"context"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Scripto81/Discordbottytyty/internal/domain"
)

// Challenge codes avoid characters that are easy to confuse when typed into
// a profile (0/O, 1/I/L).
const (
	codeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"
	codeLength   = 8
	codePrefix   = "RB-"
)

var pendingVerifications = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "verification_pending",
	Help: "Number of outstanding verification challenges.",
})

func init() {
	prometheus.MustRegister(pendingVerifications)
}

// UsernameKey folds a Roblox username into its registry key.
func UsernameKey(username string) string {
	// cases.Caser is stateful; one per call keeps this goroutine-safe.
	return cases.Lower(language.Und).String(strings.TrimSpace(username))
}

// VerificationRegistry holds outstanding proof-of-ownership challenges keyed
// by lowercased username. One coarse lock guards the whole table; at most one
// challenge exists per key and a new Issue replaces the previous one.
type VerificationRegistry struct {
	mu      sync.Mutex
	entries map[string]domain.PendingVerification

	ttl time.Duration
	now func() time.Time
}

// NewVerificationRegistry returns an empty registry whose entries expire once
// older than ttl.
func NewVerificationRegistry(ttl time.Duration) *VerificationRegistry {
	return &VerificationRegistry{
		entries: make(map[string]domain.PendingVerification),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Issue creates a challenge for username on behalf of requesterID and returns
// its code. Any existing challenge for the same key is overwritten.
func (r *VerificationRegistry) Issue(username, requesterID string) string {
	key := UsernameKey(username)
	code := codePrefix + gonanoid.MustGenerate(codeAlphabet, codeLength)

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.entries[key]; ok {
		log.Debug().
			Str("username", key).
			Str("previous_requester", prev.RequesterID).
			Str("requester", requesterID).
			Msg("verification challenge replaced")
	}
	r.entries[key] = domain.PendingVerification{
		Username:    key,
		RequesterID: requesterID,
		Code:        code,
		IssuedAt:    r.now(),
	}
	pendingVerifications.Set(float64(len(r.entries)))
	return code
}

// Verify returns the outstanding challenge for username, if any.
func (r *VerificationRegistry) Verify(username string) (domain.PendingVerification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.entries[UsernameKey(username)]
	return p, ok
}

// Consume removes the challenge for username.
func (r *VerificationRegistry) Consume(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, UsernameKey(username))
	pendingVerifications.Set(float64(len(r.entries)))
}

// Sweep removes every challenge whose age at now exceeds the TTL and returns
// how many were removed. Entries exactly TTL old are kept.
func (r *VerificationRegistry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for k, p := range r.entries {
		if p.Age(now) > r.ttl {
			delete(r.entries, k)
			removed++
		}
	}
	pendingVerifications.Set(float64(len(r.entries)))
	return removed
}

// Len returns the number of outstanding challenges.
func (r *VerificationRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// RunSweeper sweeps the registry every interval until ctx is done.
func (r *VerificationRegistry) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.Sweep(r.now()); n > 0 {
				log.Info().Int("removed", n).Msg("expired verification challenges swept")
			}
		}
	}
}
