package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is a minimal in-package SessionStore.
type memStore struct {
	mu     sync.Mutex
	token  string
	clears int
}

func (s *memStore) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.token
}

func (s *memStore) SetToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = token

	return nil
}

func (s *memStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = ""
	s.clears++

	return nil
}

// recordingNavigator remembers every navigation.
type recordingNavigator struct {
	mu    sync.Mutex
	paths []string
}

func (n *recordingNavigator) Navigate(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.paths = append(n.paths, path)
}

func (n *recordingNavigator) Paths() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]string(nil), n.paths...)
}

// authServer is a backend that accepts exactly one bearer token and renews
// it through /auth/token when the refresh cookie is present.
type authServer struct {
	*httptest.Server

	mu        sync.Mutex
	valid     string
	next      string
	renewFail bool
	seenAuth  []string

	renewals atomic.Int32
	// renewGate, when set, holds renewal responses until closed.
	renewGate chan struct{}
	// renewStarted receives once per renewal call.
	renewStarted chan struct{}
}

// newAuthServer starts the backend. wrap, when given, decorates the handler
// before the server starts.
func newAuthServer(t *testing.T, valid, next string, wrap ...func(*authServer, http.Handler) http.Handler) *authServer {
	t.Helper()

	as := &authServer{valid: valid, next: next, renewStarted: make(chan struct{}, 16)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/token", as.handleRenew)
	mux.HandleFunc("POST /auth/login", as.handleLogin)
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, http.StatusOK, "bye", "")
	})
	mux.HandleFunc("/", as.handleResource)

	var h http.Handler = mux
	for _, w := range wrap {
		h = w(as, h)
	}

	as.Server = httptest.NewServer(h)
	t.Cleanup(as.Close)

	return as
}

func (as *authServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	if !strings.Contains(string(body), `"password":"secret"`) {
		writeEnvelope(w, http.StatusUnauthorized, "Invalid username or password", "")
		return
	}

	http.SetCookie(w, &http.Cookie{Name: "refresh", Value: "r1", Path: "/"})
	writeEnvelope(w, http.StatusOK, "ok", `{"access_token":"`+as.valid+`"}`)
}

func (as *authServer) handleRenew(w http.ResponseWriter, r *http.Request) {
	as.renewals.Add(1)

	select {
	case as.renewStarted <- struct{}{}:
	default:
	}

	if as.renewGate != nil {
		<-as.renewGate
	}

	as.mu.Lock()
	fail := as.renewFail
	next := as.next
	as.mu.Unlock()

	if c, err := r.Cookie("refresh"); fail || err != nil || c.Value != "r1" {
		writeEnvelope(w, http.StatusUnauthorized, "Refresh token expired", "")
		return
	}

	as.mu.Lock()
	as.valid = next
	as.mu.Unlock()

	writeEnvelope(w, http.StatusOK, "ok", `{"access_token":"`+next+`"}`)
}

func (as *authServer) handleResource(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")

	as.mu.Lock()
	as.seenAuth = append(as.seenAuth, auth)
	valid := as.valid
	as.mu.Unlock()

	if auth != "Bearer "+valid {
		writeEnvelope(w, http.StatusUnauthorized, "Unauthenticated", "")
		return
	}

	writeEnvelope(w, http.StatusOK, "ok", `{"path":"`+r.URL.Path+`"}`)
}

func (as *authServer) SeenAuth() []string {
	as.mu.Lock()
	defer as.mu.Unlock()

	return append([]string(nil), as.seenAuth...)
}

// setCookie plants the refresh cookie in the client's jar, as a prior login
// would have.
func setCookie(t *testing.T, c *Client, serverURL string) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, serverURL, nil)
	require.NoError(t, err)

	c.Transport().HTTPClient().Jar.SetCookies(req.URL, []*http.Cookie{{Name: "refresh", Value: "r1", Path: "/"}})
}

type pathData struct {
	Path string `json:"path"`
}

func newAuthClient(t *testing.T, as *authServer, store SessionStore, nav Navigator) *Client {
	t.Helper()

	c := NewClient(as.URL, store, Options{Logger: testLogger(t), Navigator: nav})
	setCookie(t, c, as.URL)

	return c
}

// Credential present, request returns 401, renewal returns "abc",
// the original request is replayed with "Bearer abc" and succeeds.
func TestClient_RefreshAndReplay(t *testing.T) {
	as := newAuthServer(t, "stale", "abc")
	store := &memStore{token: "expired"}
	nav := &recordingNavigator{}
	c := newAuthClient(t, as, store, nav)

	got, err := Fetch[pathData](context.Background(), c, "/machines", nil)
	require.NoError(t, err)
	assert.Equal(t, "/machines", got.Path)

	assert.Equal(t, []string{"Bearer expired", "Bearer abc"}, as.SeenAuth())
	assert.Equal(t, int32(1), as.renewals.Load())
	assert.Equal(t, "abc", store.Token())
	assert.Equal(t, "Bearer abc", c.Transport().DefaultHeader("Authorization"))
	assert.Equal(t, StateIdle, c.Coordinator().State())
	assert.Empty(t, nav.Paths())
}

// The renewal itself is rejected. The store is cleared and the
// user is sent to /login.
func TestClient_RefreshFailsRedirectsToLogin(t *testing.T) {
	as := newAuthServer(t, "stale", "abc")
	as.renewFail = true

	store := &memStore{token: "expired"}
	nav := &recordingNavigator{}
	c := newAuthClient(t, as, store, nav)

	_, err := Fetch[pathData](context.Background(), c, "/machines", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.ErrorIs(t, err, ErrRefreshFailed)

	assert.Empty(t, store.Token())
	assert.Equal(t, 1, store.clears)
	assert.Empty(t, c.Transport().DefaultHeader("Authorization"))
	assert.Equal(t, []string{"/login"}, nav.Paths())
	assert.Equal(t, StateLoggedOut, c.Coordinator().State())

	// LoggedOut is terminal: later 401s fail fast without a renewal call.
	_, err = Fetch[pathData](context.Background(), c, "/items", nil)
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, int32(1), as.renewals.Load())
	assert.Equal(t, []string{"/login", "/login"}, nav.Paths())
}

// N concurrent requests failing with 401 together trigger exactly one
// renewal and are all replayed with the same new credential.
func TestClient_SingleFlightRefresh(t *testing.T) {
	const n = 16

	var rejected atomic.Int32

	// Hold the renewal until every request has been rejected once.
	gate := make(chan struct{})
	countRejections := func(_ *authServer, h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h.ServeHTTP(w, r)

			if r.URL.Path != "/auth/token" && r.Header.Get("Authorization") == "Bearer expired" {
				if rejected.Add(1) == n {
					close(gate)
				}
			}
		})
	}

	as := newAuthServer(t, "valid-before", "renewed", countRejections)
	as.renewGate = gate

	store := &memStore{token: "expired"}
	c := newAuthClient(t, as, store, &recordingNavigator{})

	var wg sync.WaitGroup

	errs := make([]error, n)

	for i := range n {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, errs[i] = Fetch[pathData](context.Background(), c, "/items", nil)
		}()
	}

	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "request %d", i)
	}

	assert.Equal(t, int32(1), as.renewals.Load())
	assert.Equal(t, int64(1), c.Coordinator().Renewals())

	var replays int

	for _, auth := range as.SeenAuth() {
		switch auth {
		case "Bearer renewed":
			replays++
		case "Bearer expired":
		default:
			t.Fatalf("unexpected credential %q", auth)
		}
	}

	assert.Equal(t, n, replays)
}

// A replay that is rejected again surfaces the 401 without a second
// renewal and without a redirect.
func TestClient_RetryOnlyOnce(t *testing.T) {
	// The renewal hands out a token the resource handler still rejects.
	revoke := func(as *authServer, h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h.ServeHTTP(w, r)

			as.mu.Lock()
			as.valid = "never-matches"
			as.mu.Unlock()
		})
	}

	as := newAuthServer(t, "never-matches", "renewed", revoke)

	store := &memStore{token: "expired"}
	nav := &recordingNavigator{}
	c := newAuthClient(t, as, store, nav)

	_, err := Fetch[pathData](context.Background(), c, "/items", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.NotErrorIs(t, err, ErrSessionExpired)

	assert.Equal(t, int32(1), as.renewals.Load())
	assert.Equal(t, []string{"Bearer expired", "Bearer renewed"}, as.SeenAuth())
	assert.Empty(t, nav.Paths())
	assert.Equal(t, "renewed", store.Token())
}

func TestClient_NoCredentialSendsUnauthenticated(t *testing.T) {
	as := newAuthServer(t, "valid", "renewed")
	store := &memStore{}
	c := newAuthClient(t, as, store, &recordingNavigator{})

	// The cookie alone is enough to obtain a credential.
	got, err := Fetch[pathData](context.Background(), c, "/reasons", nil)
	require.NoError(t, err)
	assert.Equal(t, "/reasons", got.Path)
	assert.Equal(t, []string{"", "Bearer renewed"}, as.SeenAuth())
}

func TestClient_NonAuthErrorsPassThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, http.StatusUnprocessableEntity, "Name is required", "")
	}))
	defer srv.Close()

	nav := &recordingNavigator{}
	c := NewClient(srv.URL, &memStore{token: "t"}, Options{Logger: testLogger(t), Navigator: nav})

	_, err := Send[pathData](context.Background(), c, http.MethodPost, "/reasons", map[string]string{})
	require.ErrorIs(t, err, ErrValidation)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Name is required", apiErr.Message)
	assert.Zero(t, c.Coordinator().Renewals())
	assert.Empty(t, nav.Paths())
}

func TestClient_LoginAndLogout(t *testing.T) {
	as := newAuthServer(t, "fresh", "renewed")
	store := &memStore{}
	c := NewClient(as.URL, store, Options{Logger: testLogger(t)})

	err := c.Login(context.Background(), "alice", "wrong")
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, c.LoggedIn())

	require.NoError(t, c.Login(context.Background(), "alice", "secret"))
	assert.True(t, c.LoggedIn())
	assert.Equal(t, "fresh", store.Token())
	assert.Equal(t, "Bearer fresh", c.Transport().DefaultHeader("Authorization"))

	// The login cookie now drives renewals.
	as.mu.Lock()
	as.valid = "rotated-server-side"
	as.mu.Unlock()

	_, err = Fetch[pathData](context.Background(), c, "/items", nil)
	require.NoError(t, err)
	assert.Equal(t, "renewed", store.Token())

	require.NoError(t, c.Logout(context.Background()))
	assert.False(t, c.LoggedIn())
	assert.Empty(t, c.Transport().DefaultHeader("Authorization"))
}

func TestClient_LoginResetsLoggedOut(t *testing.T) {
	as := newAuthServer(t, "fresh", "renewed")
	as.renewFail = true

	store := &memStore{token: "expired"}
	c := newAuthClient(t, as, store, nil)

	_, err := Fetch[pathData](context.Background(), c, "/items", nil)
	require.ErrorIs(t, err, ErrSessionExpired)
	require.Equal(t, StateLoggedOut, c.Coordinator().State())

	require.NoError(t, c.Login(context.Background(), "alice", "secret"))
	assert.Equal(t, StateIdle, c.Coordinator().State())

	_, err = Fetch[pathData](context.Background(), c, "/items", nil)
	require.NoError(t, err)
}

func TestCoordinator_Timeout(t *testing.T) {
	as := newAuthServer(t, "valid", "renewed")
	as.renewGate = make(chan struct{})
	t.Cleanup(func() { close(as.renewGate) })

	store := &memStore{token: "expired"}
	c := NewClient(as.URL, store, Options{Logger: testLogger(t), RefreshTimeout: 50 * time.Millisecond})
	setCookie(t, c, as.URL)

	_, err := c.Coordinator().Refresh(context.Background())
	require.ErrorIs(t, err, ErrRefreshFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateLoggedOut, c.Coordinator().State())
	assert.Empty(t, store.Token())
}

func TestCoordinator_JoinerSurvivesFirstCallerCancel(t *testing.T) {
	as := newAuthServer(t, "valid", "renewed")
	as.renewGate = make(chan struct{})

	store := &memStore{token: "expired"}
	c := newAuthClient(t, as, store, nil)
	coord := c.Coordinator()

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)

	go func() {
		_, err := coord.Refresh(firstCtx)
		firstErr <- err
	}()

	<-as.renewStarted
	assert.Equal(t, StateRefreshing, coord.State())

	joined := make(chan string, 1)

	go func() {
		tok, err := coord.Refresh(context.Background())
		assert.NoError(t, err)
		joined <- tok
	}()

	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(as.renewGate)

	assert.Equal(t, "renewed", <-joined)
	assert.Equal(t, "renewed", store.Token())
	assert.Equal(t, StateIdle, coord.State())
}

// A caller whose context ends while it waits for a renewal gets its own
// cancellation back. The session is not treated as expired and the renewal
// still lands in the store.
func TestClient_CancelDuringRefreshIsNotSessionExpiry(t *testing.T) {
	as := newAuthServer(t, "valid", "renewed")
	as.renewGate = make(chan struct{})

	store := &memStore{token: "expired"}
	nav := &recordingNavigator{}
	c := newAuthClient(t, as, store, nav)

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		<-as.renewStarted
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := Fetch[pathData](ctx, c, "/items", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrSessionExpired)
	assert.NotErrorIs(t, err, ErrRefreshFailed)
	assert.Empty(t, nav.Paths())

	close(as.renewGate)

	require.Eventually(t, func() bool {
		return store.Token() == "renewed"
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateIdle, c.Coordinator().State())
	assert.Empty(t, nav.Paths())
}

func TestCoordinator_EmptyTokenIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, http.StatusOK, "ok", `{"access_token":""}`)
	}))
	defer srv.Close()

	store := &memStore{token: "old"}
	tr := newTestTransport(t, srv.URL)
	coord := NewCoordinator(tr, store, "", 0, testLogger(t))

	_, err := coord.Refresh(context.Background())
	require.ErrorIs(t, err, ErrRefreshFailed)
	assert.Empty(t, store.Token())
}

func TestCoordinator_NetworkFailureIsRefreshFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	coord := NewCoordinator(newTestTransport(t, url), &memStore{token: "old"}, "", 0, testLogger(t))

	_, err := coord.Refresh(context.Background())
	require.ErrorIs(t, err, ErrRefreshFailed)
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestRefreshState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "refreshing", StateRefreshing.String())
	assert.Equal(t, "logged-out", StateLoggedOut.String())
	assert.Equal(t, "RefreshState(9)", RefreshState(9).String())
}

// --- stage-level tests ---

type fakeRefresher struct {
	calls atomic.Int32
	token string
	err   error
}

func (f *fakeRefresher) Refresh(context.Context) (string, error) {
	f.calls.Add(1)
	return f.token, f.err
}

func TestPipeline_StageOrder(t *testing.T) {
	c := NewClient("http://example.invalid", &memStore{}, Options{Logger: testLogger(t)})

	assert.Equal(t,
		[]string{StageSurfaceError, StageHandleUnauthorized, StageAttachCredential},
		c.Pipeline().Names())
}

func TestAttachCredential(t *testing.T) {
	var seen []Call

	terminal := func(_ context.Context, call Call) (*Response, error) {
		seen = append(seen, call)
		return &Response{StatusCode: http.StatusOK}, nil
	}

	store := &memStore{}
	p := NewPipeline(terminal, AttachCredential(store))

	_, err := p.Do(context.Background(), Request{Method: http.MethodGet, Path: "/a"})
	require.NoError(t, err)

	require.NoError(t, store.SetToken("tok"))
	_, err = p.Do(context.Background(), Request{Method: http.MethodGet, Path: "/a"})
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.Empty(t, seen[0].Header.Get("Authorization"))
	assert.Equal(t, "Bearer tok", seen[1].Header.Get("Authorization"))
	assert.Equal(t, "tok", seen[1].Token)
}

func TestHandleUnauthorized_UsesConcurrentlyRenewedCredential(t *testing.T) {
	store := &memStore{token: "old"}
	refresher := &fakeRefresher{token: "unused"}

	var tokens []string

	terminal := func(_ context.Context, call Call) (*Response, error) {
		tokens = append(tokens, call.Token)

		if call.Attempt == 0 {
			// Another request's refresh lands while this one is in flight.
			_ = store.SetToken("new")
			return nil, &Error{StatusCode: http.StatusUnauthorized, Err: ErrUnauthorized}
		}

		return &Response{StatusCode: http.StatusOK}, nil
	}

	p := NewPipeline(terminal, HandleUnauthorized(store, refresher, testLogger(t)), AttachCredential(store))

	_, err := p.Do(context.Background(), Request{Method: http.MethodGet, Path: "/a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"old", "new"}, tokens)
	assert.Zero(t, refresher.calls.Load())
}

func TestHandleUnauthorized_IgnoresOtherErrors(t *testing.T) {
	store := &memStore{token: "t"}
	refresher := &fakeRefresher{token: "n"}
	boom := &Error{StatusCode: http.StatusForbidden, Err: ErrForbidden}

	p := NewPipeline(func(context.Context, Call) (*Response, error) { return nil, boom },
		HandleUnauthorized(store, refresher, testLogger(t)))

	_, err := p.Do(context.Background(), Request{Method: http.MethodGet, Path: "/a"})
	require.ErrorIs(t, err, ErrForbidden)
	assert.Zero(t, refresher.calls.Load())
}

func TestSurfaceErrors_NavigatesOnlyOnSessionExpiry(t *testing.T) {
	nav := &recordingNavigator{}
	results := []error{
		&Error{StatusCode: http.StatusNotFound, Err: ErrNotFound},
		&NetworkError{Method: http.MethodGet, Path: "/a", Err: errors.New("refused")},
		errors.Join(ErrSessionExpired, ErrRefreshFailed),
	}

	var i int

	p := NewPipeline(func(context.Context, Call) (*Response, error) {
		err := results[i]
		i++

		return nil, err
	}, SurfaceErrors(nav, "/signin", testLogger(t)))

	for range results {
		_, err := p.Do(context.Background(), Request{Method: http.MethodGet, Path: "/a"})
		require.Error(t, err)
	}

	assert.Equal(t, []string{"/signin"}, nav.Paths())
}
