// Package guard gates protected entry points on the session state.
package guard

import (
	"context"
	"errors"
	"net/http"

	"publishwed/pkg/models"
	"publishwed/pkg/session"
	"publishwed/pkg/sessionfsm"
)

var ErrLoginRequired = errors.New("login required")

type Outcome int

const (
	Loading Outcome = iota
	Render
	Redirect
)

func (o Outcome) String() string {
	switch o {
	case Render:
		return "render"
	case Redirect:
		return "redirect"
	default:
		return "loading"
	}
}

type Decision struct {
	Outcome  Outcome
	To       string
	Identity *models.User
}

// Source is satisfied by *session.Controller.
type Source interface {
	Snapshot() session.Snapshot
	Ready() <-chan struct{}
	LoginPath() string
}

func Decide(snap session.Snapshot, loginPath string) Decision {
	switch {
	case snap.State == sessionfsm.Loading:
		return Decision{Outcome: Loading}
	case snap.Authenticated():
		return Decision{Outcome: Render, Identity: snap.Identity}
	default:
		return Decision{Outcome: Redirect, To: loginPath}
	}
}

// Require waits out the Loading phase and returns the identity, or
// ErrLoginRequired when the session is anonymous.
func Require(ctx context.Context, src Source) (*models.User, error) {
	select {
	case <-src.Ready():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	d := Decide(src.Snapshot(), src.LoginPath())
	if d.Outcome != Render {
		return nil, ErrLoginRequired
	}
	return d.Identity, nil
}

type contextKey string

const identityContextKey contextKey = "publishwed.identity"

func WithIdentity(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, identityContextKey, u)
}

func IdentityFrom(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(identityContextKey).(*models.User)
	return u, ok && u != nil
}

// Middleware renders protected handlers only for an authenticated session.
func Middleware(src Source) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := Decide(src.Snapshot(), src.LoginPath())
			switch d.Outcome {
			case Render:
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), d.Identity)))
			case Loading:
				w.Header().Set("Retry-After", "1")
				http.Error(w, "session loading", http.StatusServiceUnavailable)
			default:
				http.Redirect(w, r, d.To, http.StatusFound)
			}
		})
	}
}
