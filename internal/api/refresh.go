package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultRefreshPath is the cookie-authenticated renewal endpoint.
const DefaultRefreshPath = "/auth/token"

// DefaultRefreshTimeout bounds a renewal call. A hung renewal would
// otherwise block every queued replay.
const DefaultRefreshTimeout = 30 * time.Second

// refreshKey is the single singleflight key: there is one credential per
// client, so there is at most one renewal in flight.
const refreshKey = "refresh"

// RefreshState is the coordinator's lifecycle state.
type RefreshState int32

const (
	StateIdle RefreshState = iota
	StateRefreshing
	StateLoggedOut
)

func (s RefreshState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRefreshing:
		return "refreshing"
	case StateLoggedOut:
		return "logged-out"
	default:
		return fmt.Sprintf("RefreshState(%d)", int32(s))
	}
}

// Coordinator renews the credential with the session cookie. At most one
// renewal call is in flight at any time; callers arriving while one is
// running wait for it and receive its outcome.
type Coordinator struct {
	transport *Transport
	store     SessionStore
	path      string
	timeout   time.Duration
	logger    *slog.Logger

	group    singleflight.Group
	state    atomic.Int32
	renewals atomic.Int64

	// mu serializes state transitions against Reset.
	mu sync.Mutex
}

// NewCoordinator creates a coordinator that renews through transport at
// path (DefaultRefreshPath when empty). timeout 0 disables the bound.
func NewCoordinator(transport *Transport, store SessionStore, path string, timeout time.Duration, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}

	if path == "" {
		path = DefaultRefreshPath
	}

	return &Coordinator{
		transport: transport,
		store:     store,
		path:      path,
		timeout:   timeout,
		logger:    logger,
	}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() RefreshState {
	return RefreshState(c.state.Load())
}

// Renewals returns how many renewal calls have been sent.
func (c *Coordinator) Renewals() int64 {
	return c.renewals.Load()
}

// Reset leaves LoggedOut after a fresh login.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Store(int32(StateIdle))
}

// Refresh returns a renewed credential. Concurrent callers share one
// renewal. Once a renewal has failed the coordinator stays LoggedOut and
// fails fast until Reset.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	if c.State() == StateLoggedOut {
		return "", fmt.Errorf("%w: logged out", ErrRefreshFailed)
	}

	ch := c.group.DoChan(refreshKey, func() (any, error) {
		return c.renew(ctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}

		return res.Val.(string), nil //nolint:forcetypeassert // renew only returns strings
	case <-ctx.Done():
		// The renewal keeps running for the other waiters.
		return "", fmt.Errorf("api: waiting for credential refresh: %w", ctx.Err())
	}
}

// renew performs the renewal call and applies its outcome. It runs detached
// from the first caller's cancellation so joiners are not failed by it.
func (c *Coordinator) renew(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.State() == StateLoggedOut {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: logged out", ErrRefreshFailed)
	}

	c.state.Store(int32(StateRefreshing))
	c.mu.Unlock()

	c.renewals.Add(1)
	c.logger.Info("refreshing credential", slog.String("path", c.path))

	rctx := context.WithoutCancel(ctx)
	if c.timeout > 0 {
		var cancel context.CancelFunc

		rctx, cancel = context.WithTimeout(rctx, c.timeout)
		defer cancel()
	}

	token, err := c.requestToken(rctx)
	if err != nil {
		c.fail(err)
		return "", err
	}

	if storeErr := c.store.SetToken(token); storeErr != nil {
		// The credential is still valid in memory for this process.
		c.logger.Warn("failed to persist refreshed credential", slog.String("error", storeErr.Error()))
	}

	c.transport.SetDefaultHeader("Authorization", "Bearer "+token)
	c.state.Store(int32(StateIdle))

	c.logger.Info("credential refreshed")

	return token, nil
}

// requestToken calls the renewal endpoint directly on the transport: the
// renewal authenticates with the cookie and must not re-enter the 401 stage.
func (c *Coordinator) requestToken(ctx context.Context) (string, error) {
	resp, err := c.transport.Send(ctx, Request{Method: http.MethodGet, Path: c.path}, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	data, err := decodeEnvelope[tokenData](resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	if data.AccessToken == "" {
		return "", fmt.Errorf("%w: response has no access_token", ErrRefreshFailed)
	}

	return data.AccessToken, nil
}

// fail moves to LoggedOut and drops the credential everywhere.
func (c *Coordinator) fail(cause error) {
	c.state.Store(int32(StateLoggedOut))

	if err := c.store.Clear(); err != nil {
		c.logger.Warn("failed to clear credential", slog.String("error", err.Error()))
	}

	c.transport.DelDefaultHeader("Authorization")

	level := slog.LevelWarn
	if errors.Is(cause, context.DeadlineExceeded) {
		level = slog.LevelError
	}

	c.logger.Log(context.Background(), level, "credential refresh failed, session ended",
		slog.String("error", cause.Error()),
	)
}
