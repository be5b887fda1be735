// Package ideasource implements the idea-source collaborator: given
// the daemon's current directive and the archetype menu, it returns a
// finite batch of candidate strategy specs from an external HTTP
// service. Failures degrade to zero ideas for the cycle rather than
// failing it.
//
// A gobreaker.CircuitBreaker guards against hammering a down
// idea-source endpoint, and an x/time/rate limiter paces requests the
// endpoint's own quota wouldn't otherwise enforce.
package ideasource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/bostonrobbie/marcus/internal/stratspec"
)

// Menu is the fixed set of archetypes the idea source may propose
// params for. The kernel registry is the only place new archetypes
// can be added; the menu mirrors it.
var Menu = []stratspec.Archetype{
	stratspec.ArchetypeORB,
	stratspec.ArchetypeMACrossover,
	stratspec.ArchetypeOvernight,
}

// Request is the payload sent to the idea-source endpoint each cycle.
type Request struct {
	Directive string                `json:"directive,omitempty"`
	Menu      []stratspec.Archetype `json:"menu"`
	BatchSize int                   `json:"batch_size"`
}

// response mirrors the idea source's JSON reply: a flat batch of
// candidate specs.
type response struct {
	Ideas []stratspec.Spec `json:"ideas"`
}

// Source is disabled (IdeaSourceEnabled=false) in the zero value, in
// which case Fetch always returns an empty batch without making any
// network call -- the same degrade-to-empty contract as a live
// endpoint that fails.
type Source struct {
	enabled   bool
	url       string
	model     string
	apiKey    string
	batchSize int

	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	limiter    *rate.Limiter
}

// Options configures a Source.
type Options struct {
	Enabled   bool
	URL       string
	Model     string
	APIKey    string
	BatchSize int
	Timeout   time.Duration
	// RatePerSecond caps outbound requests; defaults to 1 every 2
	// seconds, comfortably under any reasonable idea-source quota.
	RatePerSecond float64
}

// New builds a Source. The breaker trips after 3 consecutive failures
// or a >50% failure rate over at least 5 requests in a rolling
// interval, and stays open for 60s before allowing a half-open probe.
func New(opts Options) *Source {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 0.5
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "idea_source",
		Interval:    60 * time.Second,
		Timeout:     60 * time.Second,
		MaxRequests: 1,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures >= 3 || (counts.Requests >= 5 && failureRatio > 0.5)
		},
	})

	return &Source{
		enabled:    opts.Enabled,
		url:        opts.URL,
		model:      opts.Model,
		apiKey:     opts.APIKey,
		batchSize:  opts.BatchSize,
		httpClient: &http.Client{Timeout: opts.Timeout},
		breaker:    breaker,
		limiter:    rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1),
	}
}

// Fetch returns a batch of candidate specs for the given directive.
// A disabled (or nil) source returns a nil batch and no error. Any
// failure along the way -- rate-limit wait cancellation, breaker open,
// transport error, malformed response -- degrades to a nil batch and
// a non-fatal error the caller logs and continues past.
func (s *Source) Fetch(ctx context.Context, directive string) ([]stratspec.Spec, error) {
	if s == nil || !s.enabled {
		return nil, nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("ideasource: rate limiter: %w", err)
	}

	result, err := s.breaker.Execute(func() (interface{}, error) {
		return s.doRequest(ctx, directive)
	})
	if err != nil {
		return nil, fmt.Errorf("ideasource: fetch: %w", err)
	}

	ideas := result.([]stratspec.Spec)
	valid := make([]stratspec.Spec, 0, len(ideas))
	for _, idea := range ideas {
		if err := idea.Validate(); err != nil {
			continue // malformed candidate: rejected per-idea, not cycle-fatal
		}
		valid = append(valid, idea)
	}
	return valid, nil
}

func (s *Source) doRequest(ctx context.Context, directive string) ([]stratspec.Spec, error) {
	body, err := json.Marshal(Request{
		Directive: directive,
		Menu:      Menu,
		BatchSize: s.batchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	if s.model != "" {
		req.Header.Set("X-Marcus-Model", s.model)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("idea source returned status %d", resp.StatusCode)
	}

	var parsed response
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return parsed.Ideas, nil
}
