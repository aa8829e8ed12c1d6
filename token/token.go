// Package token keeps the session credential from silently expiring. The
// gateway invalidates access tokens without notice, so the refresher
// rotates them ahead of the deadline and asks the owning connection to
// restart cleanly under the new credential.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrNoCredential is returned when a credential is required but none could
// be obtained.
var ErrNoCredential = errors.New("token: no credential available")

// defaultPoll is how often the refresh loop re-evaluates the deadline.
const defaultPoll = time.Minute

// Credential is an opaque access token and the time it was issued.
// Replaced wholesale on refresh, never mutated.
type Credential struct {
	Token    string
	IssuedAt time.Time
}

// Source issues fresh credentials, typically the marketplace REST API.
type Source interface {
	IssueToken(ctx context.Context, deviceID string) (string, error)
}

// Refresher owns the current credential and rotates it on a schedule.
type Refresher struct {
	src             Source
	deviceID        string
	refreshInterval time.Duration
	retryInterval   time.Duration
	poll            time.Duration

	mu   sync.Mutex
	cred Credential
}

// NewRefresher creates a refresher. refreshInterval is the credential
// lifetime; retryInterval is the wait after a failed refresh attempt.
func NewRefresher(src Source, deviceID string, refreshInterval, retryInterval time.Duration) *Refresher {
	return &Refresher{
		src:             src,
		deviceID:        deviceID,
		refreshInterval: refreshInterval,
		retryInterval:   retryInterval,
		poll:            defaultPoll,
	}
}

// Credential returns the current credential and whether one is installed.
func (r *Refresher) Credential() (Credential, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cred, r.cred.Token != ""
}

// stale reports whether the credential is missing or past its lifetime.
func (r *Refresher) stale() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cred.Token == "" || time.Since(r.cred.IssuedAt) >= r.refreshInterval
}

// Refresh obtains a new credential from the source and installs it.
func (r *Refresher) Refresh(ctx context.Context) (Credential, error) {
	tok, err := r.src.IssueToken(ctx, r.deviceID)
	if err != nil {
		return Credential{}, fmt.Errorf("token: refresh: %w", err)
	}
	if tok == "" {
		return Credential{}, ErrNoCredential
	}
	cred := Credential{Token: tok, IssuedAt: time.Now()}
	r.mu.Lock()
	r.cred = cred
	r.mu.Unlock()
	slog.Info("credential refreshed")
	return cred, nil
}

// EnsureFresh returns the current credential, refreshing first if it is
// missing or past its lifetime. Used during registration.
func (r *Refresher) EnsureFresh(ctx context.Context) (Credential, error) {
	if !r.stale() {
		cred, _ := r.Credential()
		return cred, nil
	}
	return r.Refresh(ctx)
}

// Run re-evaluates the refresh deadline at least once per poll interval.
// When the credential crosses its lifetime it attempts a refresh: on
// success it installs the new credential, invokes onRotate (the owning
// connection flags a planned restart and closes its socket) and returns
// nil; on failure it leaves the connection untouched and retries after the
// retry interval. Run returns ctx.Err() when the connection that spawned
// it closes.
func (r *Refresher) Run(ctx context.Context, onRotate func()) error {
	for {
		wait := r.poll
		if r.stale() {
			if _, err := r.Refresh(ctx); err != nil {
				slog.Error("credential refresh failed, will retry", "error", err, "retry_in", r.retryInterval)
				wait = r.retryInterval
			} else {
				onRotate()
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
