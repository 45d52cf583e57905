package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"publishwed/pkg/config"
	"publishwed/pkg/feed"
	"publishwed/pkg/feedapi"
	"publishwed/pkg/gateway"
	"publishwed/pkg/guard"
	"publishwed/pkg/metrics"
	"publishwed/pkg/redact"
	"publishwed/pkg/session"
	"publishwed/pkg/statebus"
	"publishwed/pkg/stream"
	"publishwed/pkg/telemetry"
	"publishwed/pkg/tokenstore"
)

var (
	logOutput       io.Writer = os.Stderr
	initTelemetryFn           = telemetry.Init
)

// app is the wired client stack for one CLI invocation.
type app struct {
	cfg     config.Config
	out     io.Writer
	logger  *slog.Logger
	hub     *stream.Hub
	tokens  tokenstore.Store
	metrics *metrics.Registry
	client  *gateway.Client
	api     *feedapi.API
	session *session.Controller
	feed    *feed.Synchronizer

	closers []func()
}

func newApp(ctx context.Context, envFile string, out io.Writer) (*app, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, out: out, logger: cfg.NewLogger(logOutput)}
	slog.SetDefault(a.logger)

	shutdown, err := initTelemetryFn(ctx, cfg.Telemetry("feedctl"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.closers = append(a.closers, func() { _ = shutdown(context.Background()) })

	tokens, closeTokens, err := tokenstore.Open(ctx, cfg.TokenStore())
	if err != nil {
		a.Close()
		return nil, err
	}
	a.tokens = tokens
	a.closers = append(a.closers, closeTokens)

	a.hub = stream.NewHub()
	a.metrics = metrics.NewRegistry()
	if err := a.startSink(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.client = gateway.NewClient(cfg.APIBase, cfg.Timeout, tokens, a.hub)
	a.client.Metrics = a.metrics
	a.client.Logger = a.logger
	a.client.Redactor = redact.New(cfg.RedactSalt)
	a.api = feedapi.New(a.client)

	a.session = session.New(a.api, tokens, a.hub, session.Options{
		LoginPath: cfg.LoginPath,
		Logger:    a.logger,
		Metrics:   a.metrics,
		Navigator: session.NavigatorFunc(func(path string) {
			fmt.Fprintf(out, "session expired, log in again (%s)\n", path)
		}),
	})
	a.closers = append(a.closers, a.session.Close)
	a.feed = feed.NewSynchronizer(a.api, a.session, a.logger)
	return a, nil
}

// startSink forwards session events to Kafka when brokers are configured.
func (a *app) startSink(ctx context.Context) error {
	brokers := a.cfg.Brokers()
	if len(brokers) == 0 {
		return nil
	}
	sink, err := statebus.NewKafkaSink(statebus.KafkaConfig{Brokers: brokers, Topic: a.cfg.KafkaTopic}, a.logger)
	if err != nil {
		return fmt.Errorf("kafka sink: %w", err)
	}
	events := a.hub.Subscribe(64)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sink.Run(context.WithoutCancel(ctx), events)
	}()
	a.closers = append(a.closers, func() {
		a.hub.Unsubscribe(events)
		wg.Wait()
		if err := sink.Close(); err != nil {
			a.logger.Warn("close kafka sink", "error", err)
		}
	})
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// requireLogin resolves the stored token and passes the route guard.
func (a *app) requireLogin(ctx context.Context) error {
	if err := a.session.Init(ctx); err != nil {
		a.logger.Debug("session init failed", "error", err)
	}
	if _, err := guard.Require(ctx, a.session); err != nil {
		if errors.Is(err, guard.ErrLoginRequired) {
			return errors.New("not logged in: run feedctl login")
		}
		return err
	}
	return nil
}
