package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Default endpoints and entry points.
const (
	DefaultLoginEndpoint  = "/auth/login"
	DefaultLogoutEndpoint = "/auth/logout"
	DefaultLoginPath      = "/login"
)

// Options configures a Client. Zero values select the defaults.
type Options struct {
	HTTPClient     *http.Client
	Logger         *slog.Logger
	Navigator      Navigator
	LoginPath      string // where the user is sent when the session expires
	RefreshPath    string
	RefreshTimeout time.Duration // 0 selects DefaultRefreshTimeout, negative disables
	UserAgent      string
	MaxRetries     int
}

// Client is the authenticated gateway every query and mutation goes
// through: Transport, the interceptor pipeline and the refresh coordinator,
// sharing one session store.
type Client struct {
	transport   *Transport
	store       SessionStore
	coordinator *Coordinator
	pipeline    *Pipeline
	logger      *slog.Logger
}

// NewClient wires a client for baseURL around store.
func NewClient(baseURL string, store SessionStore, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	loginPath := opts.LoginPath
	if loginPath == "" {
		loginPath = DefaultLoginPath
	}

	timeout := opts.RefreshTimeout
	switch {
	case timeout == 0:
		timeout = DefaultRefreshTimeout
	case timeout < 0:
		timeout = 0
	}

	transport := NewTransport(baseURL, opts.HTTPClient, logger)
	if opts.UserAgent != "" {
		transport.SetDefaultHeader("User-Agent", opts.UserAgent)
	}

	transport.SetMaxRetries(opts.MaxRetries)

	coordinator := NewCoordinator(transport, store, opts.RefreshPath, timeout, logger)

	pipeline := NewPipeline(TransportHandler(transport),
		SurfaceErrors(opts.Navigator, loginPath, logger),
		HandleUnauthorized(store, coordinator, logger),
		AttachCredential(store),
	)

	return &Client{
		transport:   transport,
		store:       store,
		coordinator: coordinator,
		pipeline:    pipeline,
		logger:      logger,
	}
}

// Transport returns the client's transport.
func (c *Client) Transport() *Transport { return c.transport }

// Coordinator returns the client's refresh coordinator.
func (c *Client) Coordinator() *Coordinator { return c.coordinator }

// Pipeline returns the client's interceptor pipeline.
func (c *Client) Pipeline() *Pipeline { return c.pipeline }

// Do sends req through the interceptor pipeline.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	return c.pipeline.Do(ctx, req)
}

// LoggedIn reports whether a credential is present.
func (c *Client) LoggedIn() bool {
	return c.store.Token() != ""
}

// Login exchanges username and password for a credential and stores it.
// The login call bypasses the 401 stage: bad credentials are an answer, not
// an expired session.
func (c *Client) Login(ctx context.Context, username, password string) error {
	req, err := NewRequest(http.MethodPost, DefaultLoginEndpoint, nil, map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return err
	}

	c.logger.Info("logging in", slog.String("username", username))

	resp, err := c.transport.Send(ctx, req, nil)
	if err != nil {
		return fmt.Errorf("api: login: %w", err)
	}

	data, err := decodeEnvelope[tokenData](resp.Body)
	if err != nil {
		return err
	}

	if data.AccessToken == "" {
		return errors.New("api: login response has no access_token")
	}

	if err := c.store.SetToken(data.AccessToken); err != nil {
		return fmt.Errorf("api: storing credential: %w", err)
	}

	c.transport.SetDefaultHeader("Authorization", "Bearer "+data.AccessToken)
	c.coordinator.Reset()

	c.logger.Info("login successful", slog.String("username", username))

	return nil
}

// Logout tells the server to end the session (best effort) and clears the
// local credential.
func (c *Client) Logout(ctx context.Context) error {
	if c.LoggedIn() {
		_, err := c.transport.Send(ctx, Request{Method: http.MethodPost, Path: DefaultLogoutEndpoint},
			http.Header{"Authorization": {"Bearer " + c.store.Token()}})
		if err != nil {
			c.logger.Warn("server logout failed, clearing local credential anyway",
				slog.String("error", err.Error()),
			)
		}
	}

	c.transport.DelDefaultHeader("Authorization")

	if err := c.store.Clear(); err != nil {
		return fmt.Errorf("api: clearing credential: %w", err)
	}

	c.logger.Info("logged out")

	return nil
}

// Fetch GETs path and decodes the envelope's data into T.
func Fetch[T any](ctx context.Context, c *Client, path string, query Params) (T, error) {
	var zero T

	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
	if err != nil {
		return zero, err
	}

	return decodeEnvelope[T](resp.Body)
}

// FetchPage GETs one page of a list endpoint.
func FetchPage[T any](ctx context.Context, c *Client, path string, lp ListParams, page int) (Page[T], error) {
	return Fetch[Page[T]](ctx, c, path, lp.Params(page))
}

// Send issues a mutation (POST, PUT, PATCH, DELETE) with a JSON body and
// decodes the envelope's data into T. Mutations are never cached.
func Send[T any](ctx context.Context, c *Client, method, path string, body any) (T, error) {
	var zero T

	req, err := NewRequest(method, path, nil, body)
	if err != nil {
		return zero, err
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return zero, err
	}

	return decodeEnvelope[T](resp.Body)
}
