package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Stage names of the default pipeline, outermost first.
const (
	StageSurfaceError       = "surface-error"
	StageHandleUnauthorized = "handle-unauthorized"
	StageAttachCredential   = "attach-credential"
)

// SessionStore is the part of the session store the client needs.
// Defined at the consumer per Go convention; internal/session provides
// implementations.
type SessionStore interface {
	Token() string
	SetToken(token string) error
	Clear() error
}

// Refresher renews the credential. *Coordinator implements it.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// Navigator sends the user to another entry point. The CLI prints a login
// hint; a UI host would route to the login screen.
type Navigator interface {
	Navigate(path string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(path string)

func (f NavigatorFunc) Navigate(path string) { f(path) }

// Call is one attempt at executing a Request. Attempt is 0 for the first
// send and 1 for the replay after a refresh. Token is the credential the
// attempt is sent with; Header holds per-attempt headers. Stages derive new
// Calls rather than modifying the one they receive.
type Call struct {
	Request Request
	Attempt int
	Token   string
	Header  http.Header
}

// Handler executes a Call.
type Handler func(ctx context.Context, call Call) (*Response, error)

// Stage is a named middleware around a Handler.
type Stage struct {
	Name string
	Wrap func(next Handler) Handler
}

// Pipeline runs requests through an ordered list of stages around a
// terminal handler. stages[0] is the outermost.
type Pipeline struct {
	stages  []Stage
	handler Handler
}

// NewPipeline composes stages around terminal.
func NewPipeline(terminal Handler, stages ...Stage) *Pipeline {
	h := terminal
	for i := len(stages) - 1; i >= 0; i-- {
		h = stages[i].Wrap(h)
	}

	return &Pipeline{stages: stages, handler: h}
}

// Names returns the stage names, outermost first.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}

	return names
}

// Do executes req as a first attempt.
func (p *Pipeline) Do(ctx context.Context, req Request) (*Response, error) {
	return p.handler(ctx, Call{Request: req})
}

// TransportHandler is the terminal handler that sends a Call over t.
func TransportHandler(t *Transport) Handler {
	return func(ctx context.Context, call Call) (*Response, error) {
		return t.Send(ctx, call.Request, call.Header)
	}
}

// AttachCredential adds "Authorization: Bearer <token>" using the call's
// pinned token, or the store's current one. Without a credential the call
// goes out unauthenticated and the server is expected to reject it.
func AttachCredential(store SessionStore) Stage {
	return Stage{
		Name: StageAttachCredential,
		Wrap: func(next Handler) Handler {
			return func(ctx context.Context, call Call) (*Response, error) {
				token := call.Token
				if token == "" {
					token = store.Token()
				}

				if token == "" {
					return next(ctx, call)
				}

				header := call.Header.Clone()
				if header == nil {
					header = http.Header{}
				}

				header.Set("Authorization", "Bearer "+token)

				return next(ctx, Call{
					Request: call.Request,
					Attempt: call.Attempt,
					Token:   token,
					Header:  header,
				})
			}
		},
	}
}

// HandleUnauthorized recovers a first-attempt 401: it obtains a fresh
// credential from refresher and replays the same request once. When the
// store already holds a different credential than the one the call was sent
// with, another caller's refresh has landed and the replay uses that
// credential without a new renewal. A 401 on the replay is returned as-is.
func HandleUnauthorized(store SessionStore, refresher Refresher, logger *slog.Logger) Stage {
	if logger == nil {
		logger = slog.Default()
	}

	return Stage{
		Name: StageHandleUnauthorized,
		Wrap: func(next Handler) Handler {
			return func(ctx context.Context, call Call) (*Response, error) {
				if call.Token == "" {
					call.Token = store.Token()
				}

				resp, err := next(ctx, call)
				if err == nil || !errors.Is(err, ErrUnauthorized) {
					return resp, err
				}

				if call.Attempt > 0 {
					logger.Warn("request unauthorized after credential refresh",
						slog.String("method", call.Request.Method),
						slog.String("path", call.Request.Path),
					)

					return nil, err
				}

				token := store.Token()
				if token == "" || token == call.Token {
					var refreshErr error

					token, refreshErr = refresher.Refresh(ctx)
					if refreshErr != nil {
						// Only a failed renewal ends the session. A caller that
						// stopped waiting gets its own context error back.
						if !errors.Is(refreshErr, ErrRefreshFailed) {
							return nil, refreshErr
						}

						return nil, fmt.Errorf("%w: %w", ErrSessionExpired, refreshErr)
					}
				} else {
					logger.Debug("credential renewed by a concurrent request, replaying",
						slog.String("path", call.Request.Path),
					)
				}

				return next(ctx, Call{
					Request: call.Request,
					Attempt: call.Attempt + 1,
					Token:   token,
				})
			}
		},
	}
}

// SurfaceErrors logs failures and, when the session is gone, navigates to
// the login entry point. Every error is returned to the caller.
func SurfaceErrors(nav Navigator, loginPath string, logger *slog.Logger) Stage {
	if logger == nil {
		logger = slog.Default()
	}

	return Stage{
		Name: StageSurfaceError,
		Wrap: func(next Handler) Handler {
			return func(ctx context.Context, call Call) (*Response, error) {
				resp, err := next(ctx, call)
				if err == nil {
					return resp, nil
				}

				if errors.Is(err, ErrSessionExpired) {
					logger.Error("session expired, redirecting to login",
						slog.String("path", call.Request.Path),
						slog.String("login_path", loginPath),
					)

					if nav != nil {
						nav.Navigate(loginPath)
					}

					return nil, err
				}

				logger.Debug("request failed",
					slog.String("method", call.Request.Method),
					slog.String("path", call.Request.Path),
					slog.Int("status", StatusCode(err)),
					slog.String("error", err.Error()),
				)

				return nil, err
			}
		},
	}
}
