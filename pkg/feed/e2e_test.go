package feed_test

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"publishwed/pkg/feed"
	"publishwed/pkg/feedapi"
	"publishwed/pkg/feedapitest"
	"publishwed/pkg/gateway"
	"publishwed/pkg/metrics"
	"publishwed/pkg/models"
	"publishwed/pkg/session"
	"publishwed/pkg/sessionfsm"
	"publishwed/pkg/stream"
	"publishwed/pkg/tokenstore"
)

type stack struct {
	fake    *feedapitest.Server
	tokens  *tokenstore.MemoryStore
	metrics *metrics.Registry
	ctrl    *session.Controller
	syncer  *feed.Synchronizer

	mu        sync.Mutex
	navigated []string
}

func (s *stack) redirects() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.navigated...)
}

func newStack(t *testing.T) *stack {
	t.Helper()
	fake := feedapitest.New("")
	if _, err := fake.AddUser("u", "u@test.com", "secret"); err != nil {
		t.Fatalf("add user: %v", err)
	}
	fake.SeedMessage(models.Message{ID: 5, UserID: 1, UserMessage: "welcome"})
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	st := &stack{fake: fake, tokens: tokenstore.NewMemoryStore(), metrics: metrics.NewRegistry()}
	hub := stream.NewHub()
	client := gateway.NewClient(srv.URL, 5*time.Second, st.tokens, hub)
	client.Metrics = st.metrics
	api := feedapi.New(client)
	st.ctrl = session.New(api, st.tokens, hub, session.Options{
		Metrics: st.metrics,
		Navigator: session.NavigatorFunc(func(path string) {
			st.mu.Lock()
			st.navigated = append(st.navigated, path)
			st.mu.Unlock()
		}),
	})
	t.Cleanup(st.ctrl.Close)
	st.syncer = feed.NewSynchronizer(api, st.ctrl, nil)
	return st
}

func ids(msgs []models.Message) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func sameIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestEndToEndLoginLoadAndPost(t *testing.T) {
	ctx := context.Background()
	st := newStack(t)

	if err := st.ctrl.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if got := st.ctrl.Snapshot().State; got != sessionfsm.Anonymous {
		t.Fatalf("expected anonymous without token, got %s", got)
	}

	user, err := st.ctrl.Login(ctx, "u@test.com", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if user.ID != 1 || user.UserName != "u" {
		t.Fatalf("unexpected identity %+v", user)
	}
	if tok, ok, _ := st.tokens.Get(ctx); !ok || tok == "" {
		t.Fatal("expected token to be stored after login")
	}

	msgs, err := st.syncer.LoadMessages(ctx)
	if err != nil {
		t.Fatalf("load messages: %v", err)
	}
	if !sameIDs(ids(msgs), []int64{5}) {
		t.Fatalf("expected [5], got %v", ids(msgs))
	}

	created, err := st.syncer.CreateMessage(ctx, "hello")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID != 6 || created.UserMessage != "hello" {
		t.Fatalf("unexpected created message %+v", created)
	}
	if got := ids(st.syncer.Messages()); !sameIDs(got, []int64{6, 5}) {
		t.Fatalf("expected [6 5], got %v", got)
	}

	view := st.syncer.View()
	if !view.Messages[0].CanEdit || !view.Messages[1].CanEdit {
		t.Fatalf("expected both messages editable by their author: %+v", view.Messages)
	}

	snap := st.metrics.Snapshot()
	if snap.Endpoints["POST /login"].Count != 1 || snap.Endpoints["GET /messages/"].Count != 1 {
		t.Fatalf("unexpected endpoint metrics %+v", snap.Endpoints)
	}
	if snap.SessionEvents[stream.SessionAuthenticated] != 1 {
		t.Fatalf("expected one authenticated event, got %+v", snap.SessionEvents)
	}
}

func TestEndToEndExpiredTokenClearsSessionAndRedirects(t *testing.T) {
	ctx := context.Background()
	st := newStack(t)
	if _, err := st.ctrl.Login(ctx, "u@test.com", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}

	st.fake.ExpireTokens()
	_, err := st.syncer.LoadMessages(ctx)
	if !gateway.IsUnauthorized(err) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, ok, _ := st.tokens.Get(ctx); ok {
		t.Fatal("expected token to be cleared")
	}
	if got := st.redirects(); len(got) != 1 || got[0] != "/login" {
		t.Fatalf("expected one redirect to /login, got %v", got)
	}
	if snap := st.ctrl.Snapshot(); snap.State != sessionfsm.Anonymous || snap.Identity != nil {
		t.Fatalf("expected anonymous session, got %+v", snap)
	}

	if _, err := st.ctrl.Login(ctx, "u@test.com", "secret"); err != nil {
		t.Fatalf("login after expiry: %v", err)
	}
	if _, err := st.syncer.LoadMessages(ctx); err != nil {
		t.Fatalf("reload after fresh login: %v", err)
	}
}

func TestEndToEndForeignCommentEditIsRejected(t *testing.T) {
	ctx := context.Background()
	st := newStack(t)
	other, err := st.fake.AddUser("other", "other@test.com", "pw")
	if err != nil {
		t.Fatalf("add user: %v", err)
	}
	foreign := st.fake.SeedComment(models.Comment{MessageID: 5, UserID: other.ID, Comment: "not yours"})
	if _, err := st.ctrl.Login(ctx, "u@test.com", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := st.syncer.LoadMessages(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	before, err := st.syncer.LoadComments(ctx, 5)
	if err != nil {
		t.Fatalf("load comments: %v", err)
	}
	if _, err := st.syncer.LoadComments(ctx, 5); err != nil {
		t.Fatalf("second load: %v", err)
	}
	if hits := st.fake.Hits("GET /messages/{id}/comments/"); hits != 1 {
		t.Fatalf("expected a single comment fetch, got %d", hits)
	}

	_, err = st.syncer.UpdateComment(ctx, 5, foreign.ID, "hijacked")
	if !gateway.IsForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	after, loaded := st.syncer.Comments(5)
	if !loaded || len(after) != len(before) || after[0].Comment != "not yours" {
		t.Fatalf("local comments changed: before %+v after %+v", before, after)
	}
	if view := st.syncer.View(); view.Messages[0].Comments[0].CanEdit {
		t.Fatal("foreign comment must not be editable")
	}

	own, err := st.syncer.CreateComment(ctx, 5, "mine")
	if err != nil {
		t.Fatalf("create comment: %v", err)
	}
	if err := st.syncer.DeleteComment(ctx, 5, own.ID); err != nil {
		t.Fatalf("delete own comment: %v", err)
	}
	if list, _ := st.syncer.Comments(5); len(list) != 1 {
		t.Fatalf("expected only the foreign comment left, got %+v", list)
	}
}
