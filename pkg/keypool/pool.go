// Package keypool runs provider calls against a rotating set of API
// credentials, sharing cooldown and usage state across processes.
package keypool

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/feichai0017/study-ingestor/pkg/logger"
	"github.com/feichai0017/study-ingestor/pkg/metrics"
)

const (
	// DefaultFirstCooldown applies to a credential's first rate-limit.
	DefaultFirstCooldown = 30 * time.Second
	// DefaultEscalatedCooldown applies once a credential was already penalized.
	DefaultEscalatedCooldown = 24 * time.Hour
)

// ErrNoCredentials is returned when no credential is eligible for a call.
var ErrNoCredentials = errors.New("no usable provider credentials")

// Credential is one provider API key. ID is a stable fingerprint used as the
// state key so that secrets never reach the shared store.
type Credential struct {
	ID  string
	Key string
}

// NewCredentials fingerprints keys in the given order, skipping blanks.
func NewCredentials(keys []string) []Credential {
	creds := make([]Credential, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		sum := sha256.Sum256([]byte(k))
		creds = append(creds, Credential{ID: "key-" + hex.EncodeToString(sum[:6]), Key: k})
	}
	return creds
}

// Pool executes work against the first usable credential.
type Pool struct {
	creds             []Credential
	store             StateStore
	log               logger.Logger
	now               func() time.Time
	firstCooldown     time.Duration
	escalatedCooldown time.Duration
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Pool) { p.log = l }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithCooldowns overrides the first and escalated cooldown windows.
func WithCooldowns(first, escalated time.Duration) Option {
	return func(p *Pool) {
		p.firstCooldown = first
		p.escalatedCooldown = escalated
	}
}

// New builds a pool over creds in fixed order.
func New(creds []Credential, store StateStore, opts ...Option) (*Pool, error) {
	if len(creds) == 0 {
		return nil, fmt.Errorf("keypool: at least one credential is required")
	}
	if store == nil {
		return nil, fmt.Errorf("keypool: state store is required")
	}
	p := &Pool{
		creds:             creds,
		store:             store,
		log:               logger.NewNop(),
		now:               time.Now,
		firstCooldown:     DefaultFirstCooldown,
		escalatedCooldown: DefaultEscalatedCooldown,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Size returns the number of configured credentials.
func (p *Pool) Size() int { return len(p.creds) }

// Work is a unit of provider work bound to one credential.
type Work func(ctx context.Context, cred Credential) error

// WithRetry runs work against eligible credentials in order until one
// succeeds. The shared state is loaded once and saved once per call. model,
// when non-empty, is counted in the usage statistics on success.
func (p *Pool) WithRetry(ctx context.Context, model string, work Work) error {
	state, err := p.store.Load(ctx)
	if err != nil {
		p.log.Warn("Failed to load pool state, using empty state", logger.Error(err))
		state = NewState()
	}
	state.normalize()

	var lastErr error
	tried := 0

	for _, cred := range p.creds {
		now := p.now()
		entry := state.Entries[cred.ID]
		if entry.Disabled || entry.CooldownUntil > now.UnixMilli() {
			continue
		}

		tried++
		callErr := work(ctx, cred)
		if callErr == nil {
			if model != "" {
				state.RecordUsage(model, now.Format("2006-01-02"))
			}
			p.save(ctx, state)
			metrics.KeypoolAttempts.WithLabelValues("success").Inc()
			return nil
		}
		lastErr = callErr

		class := Classify(callErr)
		metrics.KeypoolAttempts.WithLabelValues(class.String()).Inc()

		switch class {
		case ClassRateLimited:
			window := p.firstCooldown
			if entry.CooldownUntil != 0 {
				window = p.escalatedCooldown
			}
			entry.CooldownUntil = now.Add(window).UnixMilli()
			state.Entries[cred.ID] = entry
			p.log.Warn("Credential rate limited",
				logger.String("credential", cred.ID),
				logger.Duration("cooldown", window),
			)
		case ClassUnauthorized:
			entry.Disabled = true
			state.Entries[cred.ID] = entry
			p.log.Error("Credential rejected, disabling",
				logger.String("credential", cred.ID),
				logger.Error(callErr),
			)
		case ClassUnavailable:
			p.log.Warn("Provider unavailable, rotating",
				logger.String("credential", cred.ID),
				logger.Error(callErr),
			)
		case ClassClient, ClassCanceled:
			p.save(ctx, state)
			return callErr
		}

		// penalties above are kept; a done caller stops the rotation
		if ctx.Err() != nil {
			p.save(ctx, state)
			return callErr
		}
	}

	p.save(ctx, state)
	if lastErr == nil {
		return ErrNoCredentials
	}
	p.log.Error("All credentials failed",
		logger.Int("tried", tried),
		logger.Error(lastErr),
	)
	return lastErr
}

// save persists state; a failure is logged and otherwise ignored so that a
// store outage does not fail a successful provider call.
func (p *Pool) save(ctx context.Context, state *State) {
	if err := p.store.Save(context.WithoutCancel(ctx), state); err != nil {
		p.log.Warn("Failed to save pool state", logger.Error(err))
	}
}

// Do is the typed form of WithRetry.
func Do[T any](ctx context.Context, p *Pool, model string, work func(ctx context.Context, cred Credential) (T, error)) (T, error) {
	var result T
	err := p.WithRetry(ctx, model, func(ctx context.Context, cred Credential) error {
		r, err := work(ctx, cred)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}
