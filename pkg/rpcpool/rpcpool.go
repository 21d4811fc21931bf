// Package rpcpool implements the weighted, rate-limit-aware RPC endpoint
// pool from spec.md §4.1: next-endpoint selection excluding recently-failed
// endpoints, and the retry/backoff policy around a single call.
package rpcpool

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ref-trader/reftrader/internal/boterr"
)

// defaultFailureReset matches spec.md §4.1's failure_reset_seconds default.
const defaultFailureReset = 300 * time.Second

// Endpoint is one configured RPC endpoint with its operator-assigned weight.
type Endpoint struct {
	URL        string
	Weight     int
	MaxRetries int

	limiter *rate.Limiter
}

// Config configures a Pool's endpoints and retry shape.
type Config struct {
	Endpoints    []Endpoint
	FailureReset time.Duration // default 300s
	RetryLimit   int           // default operator-configured
	BackoffUpper time.Duration // "upper" in y(k) = upper*(k/(limit-1))^(1/e)
	BackoffExp   float64       // "e" in the same formula
	Fluctuation  float64       // "fr", jitter fraction
}

// Pool multiplexes outbound RPC calls across N configured endpoints. A
// failed endpoint is excluded from selection until FailureReset has elapsed;
// golang.org/x/time/rate.Limiter smooths per-endpoint call bursts
// independently of the retry/backoff policy below (SPEC_FULL.md DOMAIN STACK).
type Pool struct {
	mu        sync.Mutex
	endpoints []Endpoint
	failedAt  map[string]time.Time
	cfg       Config
	rng       *rand.Rand
}

// NewPool builds a Pool from cfg, defaulting FailureReset when unset.
func NewPool(cfg Config) *Pool {
	if cfg.FailureReset <= 0 {
		cfg.FailureReset = defaultFailureReset
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 3
	}
	if cfg.BackoffExp <= 0 {
		cfg.BackoffExp = 2
	}
	eps := make([]Endpoint, len(cfg.Endpoints))
	for i, e := range cfg.Endpoints {
		e.limiter = rate.NewLimiter(rate.Limit(10), 10)
		eps[i] = e
	}
	return &Pool{
		endpoints: eps,
		failedAt:  make(map[string]time.Time),
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(1)),
	}
}

// NextEndpoint performs a weighted-random pick across currently-healthy
// endpoints. If every endpoint is failed, the failure table is cleared first
// so the operator is never left with zero candidates.
func (p *Pool) NextEndpoint() Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	healthy := p.healthyLocked()
	if len(healthy) == 0 {
		p.failedAt = make(map[string]time.Time)
		healthy = p.endpoints
	}

	totalWeight := 0
	for _, e := range healthy {
		totalWeight += e.Weight
	}
	if totalWeight <= 0 {
		return healthy[p.rng.Intn(len(healthy))]
	}
	pick := p.rng.Intn(totalWeight)
	for _, e := range healthy {
		if pick < e.Weight {
			return e
		}
		pick -= e.Weight
	}
	return healthy[len(healthy)-1]
}

func (p *Pool) healthyLocked() []Endpoint {
	now := time.Now()
	healthy := make([]Endpoint, 0, len(p.endpoints))
	for _, e := range p.endpoints {
		failedAt, failed := p.failedAt[e.URL]
		if failed && now.Sub(failedAt) < p.cfg.FailureReset {
			continue
		}
		healthy = append(healthy, e)
	}
	return healthy
}

// MarkFailed records a failure against url with the current wall-clock time.
func (p *Pool) MarkFailed(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failedAt[url] = time.Now()
}

// ErrRateLimited and ErrTransportSend classify the two retryable error kinds
// from spec.md §4.1; callers of Call wrap their errors with these sentinels
// via errors.Join or by returning them directly to select the retry branch.
var (
	ErrRateLimited   = errors.New("rpcpool: rate limited")
	ErrTransportSend = errors.New("rpcpool: transport send error")
)

// Call invokes fn against a selected endpoint, retrying per spec.md §4.1's
// policy: rate-limit errors mark the endpoint failed and wait >=500ms before
// retrying; transport-send errors retry immediately on a different endpoint.
// Any other error is surfaced to the caller unchanged. ctx cancellation aborts
// the in-flight attempt.
func (p *Pool) Call(ctx context.Context, fn func(ctx context.Context, ep Endpoint) error) error {
	var lastErr error
	for attempt := 0; attempt < p.cfg.RetryLimit; attempt++ {
		ep := p.NextEndpoint()
		if err := ep.limiter.Wait(ctx); err != nil {
			return err
		}

		err := fn(ctx, ep)
		if err == nil {
			return nil
		}
		lastErr = err

		switch {
		case errors.Is(err, ErrRateLimited):
			p.MarkFailed(ep.URL)
			if waitErr := p.sleep(ctx, 500*time.Millisecond); waitErr != nil {
				return waitErr
			}
			continue
		case errors.Is(err, ErrTransportSend):
			// Retry immediately on a different endpoint, per spec.md §4.1 -
			// no backoff delay for this class, unlike rate limiting.
			continue
		default:
			return &boterr.RpcPermanent{Method: "call", Err: err}
		}
	}
	return &boterr.RpcTransient{Method: "call", Err: lastErr}
}

// backoff computes y(k) = upper * (k/(limit-1))^(1/e) milliseconds, jittered
// by +/- fr*y, per spec.md §4.1.
func (p *Pool) backoff(attempt int) time.Duration {
	if p.cfg.RetryLimit <= 1 {
		return p.cfg.BackoffUpper
	}
	upper := p.cfg.BackoffUpper
	if upper <= 0 {
		upper = time.Second
	}
	frac := float64(attempt) / float64(p.cfg.RetryLimit-1)
	y := float64(upper) * math.Pow(frac, 1/p.cfg.BackoffExp)

	fr := p.cfg.Fluctuation
	if fr > 0 {
		jitter := (p.rng.Float64()*2 - 1) * fr * y
		y += jitter
	}
	if y < 0 {
		y = 0
	}
	return time.Duration(y)
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
