package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/nl2sql/queryengine/internal/cache"
)

// ErrUnavailable is returned when the breaker refuses a call, wrapping
// ErrBreakerOpen so callers can classify it as an unavailable-provider
// failure without reaching into the breaker directly.
var ErrUnavailable = errors.New("llm: provider unavailable")

// Config bundles the LM Client's tunables.
type Config struct {
	RateLimitPerMinute int
	FailureThreshold   int
	Cooldown           time.Duration
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	MaxAttempts        int
	CallTimeout        time.Duration
	CacheTTL           time.Duration
	CacheEnabled       bool
}

// DefaultConfig: 60 requests/min, breaker opens after 5 consecutive
// failures with a 30s cooldown, backoff base 0.5s capped at 8s, max 3
// attempts, 15s per-call timeout, 5 minute response cache.
func DefaultConfig() Config {
	return Config{
		RateLimitPerMinute: 60,
		FailureThreshold:   5,
		Cooldown:           30 * time.Second,
		RetryBaseDelay:     500 * time.Millisecond,
		RetryMaxDelay:      8 * time.Second,
		MaxAttempts:        3,
		CallTimeout:        15 * time.Second,
		CacheTTL:           5 * time.Minute,
		CacheEnabled:       true,
	}
}

// Client is the LM Client component: every call passes through an
// optional response cache, the circuit breaker, the rate limiter, and a
// bounded retry with backoff, in that order.
type Client struct {
	provider Provider
	modelID  string
	store    cache.Store
	cfg      Config
	limiter  *rate.Limiter
	breaker  *Breaker
	log      *slog.Logger
}

// New builds a Client around a single provider. Swapping providers
// means building a new Client rather than selecting one per call.
func New(provider Provider, modelID string, store cache.Store, cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	burst := cfg.RateLimitPerMinute
	if burst < 1 {
		burst = 1
	}
	return &Client{
		provider: provider,
		modelID:  modelID,
		store:    store,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMinute)/60.0), burst),
		breaker:  NewBreaker(cfg.FailureThreshold, cfg.Cooldown),
		log:      log,
	}
}

// Complete runs a single-turn completion through the full client
// pipeline. A cache hit returns immediately without consuming a rate
// limiter token, touching the breaker, or calling the provider at all.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error) {
	key := cache.LMResponseKey(systemPrompt, userPrompt, temperature, c.modelID)

	if c.cfg.CacheEnabled && c.store != nil {
		if cached, ok, err := c.store.Get(ctx, cache.NamespaceLMResponse, key); err == nil && ok {
			return string(cached), nil
		}
	}

	allowed, err := c.breaker.Allow()
	if !allowed {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm: rate limiter: %w", err)
	}

	result, err := c.completeWithRetry(ctx, systemPrompt, userPrompt, temperature)
	if err != nil {
		c.breaker.Failure()
		return "", err
	}
	c.breaker.Success()

	if c.cfg.CacheEnabled && c.store != nil {
		_ = c.store.Put(ctx, cache.NamespaceLMResponse, key, []byte(result), c.cfg.CacheTTL)
	}
	return result, nil
}

// completeWithRetry retries transient failures with exponential
// backoff (base/cap from Config, capped at MaxAttempts).
func (c *Client) completeWithRetry(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error) {
	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = c.cfg.RetryBaseDelay
	boff.MaxInterval = c.cfg.RetryMaxDelay
	boff.Multiplier = 2
	bounded := backoff.WithMaxRetries(boff, uint64(c.cfg.MaxAttempts-1))

	var result string
	attempt := 0
	op := func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()

		out, err := c.provider.Complete(callCtx, systemPrompt, userPrompt, temperature)
		if err != nil {
			c.log.Warn("llm call failed", "attempt", attempt, "error", err)
			if isNonTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = out
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(bounded, ctx)); err != nil {
		return "", fmt.Errorf("llm: attempt %d failed: %w", attempt, err)
	}
	return result, nil
}

// isNonTransient reports whether err is a 4xx HTTP response or a parse
// failure — both are reproducible against the same request, so retrying
// only burns the budget without a chance of success.
func isNonTransient(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 400 && statusErr.Code < 500
	}
	return errors.Is(err, ErrParseFailure)
}

// State returns the breaker's current state for health reporting.
func (c *Client) State() BreakerState {
	return c.breaker.State()
}
