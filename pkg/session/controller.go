// Package session owns the authentication lifecycle: the initial identity
// check, login, logout and reaction to server-side invalidation.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"publishwed/pkg/metrics"
	"publishwed/pkg/models"
	"publishwed/pkg/sessionfsm"
	"publishwed/pkg/stream"
	"publishwed/pkg/tokenstore"
)

var ErrMissingCredentials = errors.New("all fields are required")

// API is the subset of feedapi.API the controller calls.
type API interface {
	Login(ctx context.Context, email, password string) (models.TokenResponse, error)
	Register(ctx context.Context, req models.RegisterRequest) (models.User, error)
	Me(ctx context.Context) (models.User, error)
}

// Bus is the event hub shared with the gateway.
type Bus interface {
	stream.Publisher
	Listen(fn func(stream.Event)) (cancel func())
}

type Navigator interface {
	Navigate(path string)
}

type NavigatorFunc func(path string)

func (f NavigatorFunc) Navigate(path string) { f(path) }

type Snapshot struct {
	State    string
	Identity *models.User
}

func (s Snapshot) Authenticated() bool {
	return s.State == sessionfsm.Authenticated && s.Identity != nil
}

type Options struct {
	Navigator Navigator
	LoginPath string
	Logger    *slog.Logger
	Metrics   *metrics.Registry
}

type Controller struct {
	api       API
	tokens    tokenstore.Store
	bus       Bus
	nav       Navigator
	loginPath string
	logger    *slog.Logger
	metrics   *metrics.Registry

	mu       sync.RWMutex
	state    string
	identity *models.User

	initOnce  sync.Once
	initErr   error
	ready     chan struct{}
	readyOnce sync.Once
	stop      func()
}

func New(api API, tokens tokenstore.Store, bus Bus, opts Options) *Controller {
	c := &Controller{
		api:       api,
		tokens:    tokens,
		bus:       bus,
		nav:       opts.Navigator,
		loginPath: opts.LoginPath,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		state:     sessionfsm.Loading,
		ready:     make(chan struct{}),
		stop:      func() {},
	}
	if c.loginPath == "" {
		c.loginPath = "/login"
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if bus != nil {
		c.stop = bus.Listen(c.onEvent)
	}
	return c
}

// Close detaches the controller from the event bus.
func (c *Controller) Close() { c.stop() }

// Ready is closed once the initial identity check has settled.
func (c *Controller) Ready() <-chan struct{} { return c.ready }

func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{State: c.state, Identity: copyUser(c.identity)}
}

func (c *Controller) Identity() *models.User {
	return c.Snapshot().Identity
}

func (c *Controller) LoginPath() string { return c.loginPath }

// Init resolves the stored token into an identity. It runs once; later calls
// return the first result.
func (c *Controller) Init(ctx context.Context) error {
	c.initOnce.Do(func() {
		c.initErr = c.init(ctx)
	})
	return c.initErr
}

func (c *Controller) init(ctx context.Context) error {
	token, ok, err := c.tokens.Get(ctx)
	if err != nil {
		c.apply(sessionfsm.EventReject, nil)
		return fmt.Errorf("read session token: %w", err)
	}
	if !ok || strings.TrimSpace(token) == "" {
		c.apply(sessionfsm.EventReject, nil)
		return nil
	}
	user, err := c.api.Me(ctx)
	if err != nil {
		if clearErr := c.tokens.Clear(ctx); clearErr != nil {
			c.logger.WarnContext(ctx, "clear session token failed", "error", clearErr)
		}
		c.apply(sessionfsm.EventReject, nil)
		return fmt.Errorf("resolve identity: %w", err)
	}
	if c.apply(sessionfsm.EventResolve, &user) {
		c.publish(stream.SessionAuthenticated, map[string]int64{"user_id": user.ID})
	}
	return nil
}

// Login exchanges credentials for a token and resolves the identity. On a
// rejected login the session is left as it was.
func (c *Controller) Login(ctx context.Context, email, password string) (models.User, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return models.User{}, ErrMissingCredentials
	}
	tok, err := c.api.Login(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return models.User{}, err
	}
	if err := c.tokens.Set(ctx, tok.AccessToken); err != nil {
		return models.User{}, fmt.Errorf("store session token: %w", err)
	}
	user, err := c.api.Me(ctx)
	if err != nil {
		if clearErr := c.tokens.Clear(ctx); clearErr != nil {
			c.logger.WarnContext(ctx, "clear session token failed", "error", clearErr)
		}
		c.apply(sessionfsm.EventInvalidate, nil)
		return models.User{}, fmt.Errorf("resolve identity: %w", err)
	}
	event := sessionfsm.EventLogin
	if c.Snapshot().State == sessionfsm.Loading {
		event = sessionfsm.EventResolve
	}
	c.apply(event, &user)
	c.logger.InfoContext(ctx, "logged in", "user_id", user.ID)
	c.publish(stream.SessionAuthenticated, map[string]int64{"user_id": user.ID})
	return user, nil
}

// Register creates an account. It does not log in.
func (c *Controller) Register(ctx context.Context, userName, email, password string) (models.User, error) {
	if strings.TrimSpace(userName) == "" || strings.TrimSpace(email) == "" || password == "" {
		return models.User{}, ErrMissingCredentials
	}
	return c.api.Register(ctx, models.RegisterRequest{
		UserName: strings.TrimSpace(userName),
		Email:    strings.TrimSpace(email),
		Password: password,
	})
}

// Logout forgets the token and identity without contacting the server.
func (c *Controller) Logout(ctx context.Context) error {
	err := c.tokens.Clear(ctx)
	c.apply(sessionfsm.EventLogout, nil)
	c.publish(stream.SessionLoggedOut, nil)
	if err != nil {
		return fmt.Errorf("clear session token: %w", err)
	}
	return nil
}

func (c *Controller) onEvent(evt stream.Event) {
	if c.metrics != nil {
		c.metrics.IncSessionEvent(evt.Type)
	}
	if evt.Type != stream.SessionInvalidated {
		return
	}
	c.apply(sessionfsm.EventInvalidate, nil)
	c.logger.Warn("session invalidated, redirecting", "to", c.loginPath)
	if c.nav != nil {
		c.nav.Navigate(c.loginPath)
	}
}

// apply moves the state machine and swaps the identity. It reports whether
// the transition was accepted.
func (c *Controller) apply(event sessionfsm.Event, identity *models.User) bool {
	c.mu.Lock()
	from := c.state
	next, err := sessionfsm.Next(from, event)
	if err != nil {
		c.mu.Unlock()
		c.logger.Debug("ignored session event", "state", from, "event", event)
		return false
	}
	c.state = next
	if next == sessionfsm.Authenticated {
		c.identity = copyUser(identity)
	} else {
		c.identity = nil
	}
	c.mu.Unlock()
	if sessionfsm.IsSettled(next) {
		c.readyOnce.Do(func() { close(c.ready) })
	}
	return true
}

func (c *Controller) publish(eventType string, data interface{}) {
	if c.bus != nil {
		c.bus.Publish(stream.NewEvent(eventType, data))
	}
}

func copyUser(u *models.User) *models.User {
	if u == nil {
		return nil
	}
	cp := *u
	return &cp
}
