package feedapi

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"publishwed/pkg/gateway"
)

type recordedCall struct {
	path string
	opts gateway.Options
}

type fakeDoer struct {
	calls []recordedCall
	reply string
	err   error
}

func (f *fakeDoer) Do(ctx context.Context, path string, opts gateway.Options, out any) error {
	f.calls = append(f.calls, recordedCall{path: path, opts: opts})
	if f.err != nil {
		return f.err
	}
	if out != nil && f.reply != "" {
		return json.Unmarshal([]byte(f.reply), out)
	}
	return nil
}

func TestEndpointRouting(t *testing.T) {
	t.Parallel()

	doer := &fakeDoer{reply: `{}`}
	api := New(doer)
	ctx := context.Background()
	_, _ = api.Me(ctx)
	_, _ = api.UpdateMessage(ctx, 5, "x")
	_ = api.DeleteMessage(ctx, 5)
	_, _ = api.CreateComment(ctx, 5, "c")
	_, _ = api.UpdateComment(ctx, 9, "c2")
	_ = api.DeleteComment(ctx, 9)
	doer.reply = `[]`
	_, _ = api.ListComments(ctx, 5)

	want := []struct {
		path   string
		method string
		route  string
	}{
		{"/users/me/", "", "GET /users/me/"},
		{"/messages/5", http.MethodPut, "PUT /messages/{id}"},
		{"/messages/5", http.MethodDelete, "DELETE /messages/{id}"},
		{"/comments/", http.MethodPost, "POST /comments/"},
		{"/comments/9", http.MethodPut, "PUT /comments/{id}"},
		{"/comments/9", http.MethodDelete, "DELETE /comments/{id}"},
		{"/messages/5/comments/", "", "GET /messages/{id}/comments/"},
	}
	if len(doer.calls) != len(want) {
		t.Fatalf("expected %d calls, got %d", len(want), len(doer.calls))
	}
	for i, w := range want {
		got := doer.calls[i]
		if got.path != w.path || got.opts.Method != w.method || got.opts.Route != w.route {
			t.Fatalf("call %d: got %s %q %q", i, got.path, got.opts.Method, got.opts.Route)
		}
	}
}

func TestLoginUsesMultipartForm(t *testing.T) {
	t.Parallel()

	doer := &fakeDoer{reply: `{"access_token":"tok","token_type":"bearer"}`}
	tok, err := New(doer).Login(context.Background(), "u@test.com", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if tok.AccessToken != "tok" {
		t.Fatalf("unexpected token %+v", tok)
	}
	form, ok := doer.calls[0].opts.Body.(*gateway.Form)
	if !ok {
		t.Fatalf("expected form body, got %T", doer.calls[0].opts.Body)
	}
	if form.Get("username") != "u@test.com" || form.Get("password") != "secret" {
		t.Fatalf("unexpected form fields %v", form.Fields())
	}
}

func TestCreateMessageBodyShape(t *testing.T) {
	t.Parallel()

	doer := &fakeDoer{reply: `{"id":6,"user_id":1,"user_message":"hello"}`}
	msg, err := New(doer).CreateMessage(context.Background(), "hello")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if msg.ID != 6 || msg.UserMessage != "hello" {
		t.Fatalf("unexpected message %+v", msg)
	}
	raw, _ := json.Marshal(doer.calls[0].opts.Body)
	if string(raw) != `{"user_message":"hello"}` {
		t.Fatalf("unexpected body %s", raw)
	}
}
