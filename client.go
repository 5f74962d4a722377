package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/tonimelisma/adminctl/internal/api"
	"github.com/tonimelisma/adminctl/internal/config"
	"github.com/tonimelisma/adminctl/internal/query"
	"github.com/tonimelisma/adminctl/internal/session"
)

// httpClient builds an HTTP client from the network settings. The connect
// timeout bounds dialing; the data timeout bounds waiting for response
// headers. There is no overall deadline, so --all can drain long lists.
func httpClient(cfg *config.Resolved) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = cfg.ConnectTimeout
	transport.ResponseHeaderTimeout = cfg.DataTimeout

	return &http.Client{Transport: transport}
}

// loginHint is the CLI's navigator: an expired session cannot be recovered
// in-process, so the user is told how to start a new one.
func (cc *CLIContext) loginHint() api.Navigator {
	return api.NavigatorFunc(func(path string) {
		fmt.Fprintf(cc.Err, "Session expired. Run 'adminctl login' to sign in again (login page: %s).\n", path)
	})
}

// openSession opens the configured session store. Callers must Close it.
func (cc *CLIContext) openSession(ctx context.Context) (session.Store, error) {
	store, err := session.Open(ctx, cc.Cfg.SessionBackend, cc.Cfg.SessionPath, cc.Logger)
	if err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}

	return store, nil
}

// newClient wires an API client around store.
func (cc *CLIContext) newClient(store session.Store) *api.Client {
	timeout := cc.Cfg.RefreshTimeout
	if timeout == 0 {
		timeout = -1 // zero in config means no renewal deadline
	}

	return api.NewClient(cc.Cfg.BaseURL, store, api.Options{
		HTTPClient:     httpClient(cc.Cfg),
		Logger:         cc.Logger,
		Navigator:      cc.loginHint(),
		LoginPath:      cc.Cfg.LoginPath,
		RefreshPath:    cc.Cfg.RefreshPath,
		RefreshTimeout: timeout,
		UserAgent:      cc.Cfg.UserAgent,
		MaxRetries:     cc.Cfg.MaxRetries,
	})
}

// newCache returns a query cache for one command run.
func (cc *CLIContext) newCache() *query.Cache {
	return query.NewCache(cc.Logger)
}

// queryOptions are the options every single-record query gets.
func (cc *CLIContext) queryOptions(extra ...query.Option) []query.Option {
	return append([]query.Option{query.WithStaleTime(cc.Cfg.StaleTime)}, extra...)
}

// withClient opens the session, runs fn with a client, and closes the
// session afterwards.
func (cc *CLIContext) withClient(ctx context.Context, fn func(*api.Client) error) error {
	store, err := cc.openSession(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if cerr := store.Close(); cerr != nil {
			cc.Logger.Warn("closing session store", "error", cerr)
		}
	}()

	return fn(cc.newClient(store))
}
