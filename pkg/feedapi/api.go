// Package feedapi maps the remote feed API onto typed calls over the gateway.
package feedapi

import (
	"context"
	"net/http"
	"strconv"

	"publishwed/pkg/gateway"
	"publishwed/pkg/models"
)

// Doer is satisfied by *gateway.Client.
type Doer interface {
	Do(ctx context.Context, path string, opts gateway.Options, out any) error
}

type API struct {
	c Doer
}

func New(c Doer) *API {
	return &API{c: c}
}

func (a *API) Login(ctx context.Context, email, password string) (models.TokenResponse, error) {
	var out models.TokenResponse
	form := gateway.NewForm().Set("username", email).Set("password", password)
	err := a.c.Do(ctx, "/login", gateway.Options{Method: http.MethodPost, Body: form, Route: "POST /login"}, &out)
	return out, err
}

func (a *API) Register(ctx context.Context, req models.RegisterRequest) (models.User, error) {
	var out models.User
	err := a.c.Do(ctx, "/users/", gateway.Options{Method: http.MethodPost, Body: req, Route: "POST /users/"}, &out)
	return out, err
}

func (a *API) Me(ctx context.Context) (models.User, error) {
	var out models.User
	err := a.c.Do(ctx, "/users/me/", gateway.Options{Route: "GET /users/me/"}, &out)
	return out, err
}

func (a *API) ListMessages(ctx context.Context) ([]models.Message, error) {
	var out []models.Message
	err := a.c.Do(ctx, "/messages/", gateway.Options{Route: "GET /messages/"}, &out)
	return out, err
}

func (a *API) CreateMessage(ctx context.Context, text string) (models.Message, error) {
	var out models.Message
	err := a.c.Do(ctx, "/messages/", gateway.Options{
		Method: http.MethodPost,
		Body:   models.MessageInput{UserMessage: text},
		Route:  "POST /messages/",
	}, &out)
	return out, err
}

func (a *API) UpdateMessage(ctx context.Context, id int64, text string) (models.Message, error) {
	var out models.Message
	err := a.c.Do(ctx, "/messages/"+idPath(id), gateway.Options{
		Method: http.MethodPut,
		Body:   models.MessageInput{UserMessage: text},
		Route:  "PUT /messages/{id}",
	}, &out)
	return out, err
}

func (a *API) DeleteMessage(ctx context.Context, id int64) error {
	return a.c.Do(ctx, "/messages/"+idPath(id), gateway.Options{Method: http.MethodDelete, Route: "DELETE /messages/{id}"}, nil)
}

func (a *API) ListComments(ctx context.Context, messageID int64) ([]models.Comment, error) {
	var out []models.Comment
	err := a.c.Do(ctx, "/messages/"+idPath(messageID)+"/comments/", gateway.Options{Route: "GET /messages/{id}/comments/"}, &out)
	return out, err
}

func (a *API) CreateComment(ctx context.Context, messageID int64, text string) (models.Comment, error) {
	var out models.Comment
	err := a.c.Do(ctx, "/comments/", gateway.Options{
		Method: http.MethodPost,
		Body:   models.CommentCreate{MessageID: messageID, Comment: text},
		Route:  "POST /comments/",
	}, &out)
	return out, err
}

func (a *API) UpdateComment(ctx context.Context, id int64, text string) (models.Comment, error) {
	var out models.Comment
	err := a.c.Do(ctx, "/comments/"+idPath(id), gateway.Options{
		Method: http.MethodPut,
		Body:   models.CommentUpdate{Comment: text},
		Route:  "PUT /comments/{id}",
	}, &out)
	return out, err
}

func (a *API) DeleteComment(ctx context.Context, id int64) error {
	return a.c.Do(ctx, "/comments/"+idPath(id), gateway.Options{Method: http.MethodDelete, Route: "DELETE /comments/{id}"}, nil)
}

func idPath(id int64) string { return strconv.FormatInt(id, 10) }
