// Package feedapitest is an in-memory implementation of the remote feed API.
// It speaks the same wire contract as the production service (multipart
// login, bearer tokens, {"detail": ...} errors) and is meant for tests and
// local development.
package feedapitest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"publishwed/pkg/httpx"
	"publishwed/pkg/models"
)

const (
	defaultTokenTTL = 30 * time.Minute
	maxFormMemory   = 1 << 20
)

type userRecord struct {
	models.User
	hash []byte
}

type claims struct {
	Generation int `json:"gen"`
	jwt.RegisteredClaims
}

type Server struct {
	mu          sync.Mutex
	secret      []byte
	tokenTTL    time.Duration
	now         func() time.Time
	generation  int
	users       map[int64]*userRecord
	byEmail     map[string]int64
	messages    map[int64]models.Message
	comments    map[int64]models.Comment
	nextUser    int64
	nextMessage int64
	nextComment int64
	hits        map[string]int
	router      chi.Router
}

// New returns a server signing tokens with secret. An empty secret gets a
// fixed development value.
func New(secret string) *Server {
	if secret == "" {
		secret = "feedapitest-secret"
	}
	s := &Server{
		secret:      []byte(secret),
		tokenTTL:    defaultTokenTTL,
		now:         time.Now,
		users:       map[int64]*userRecord{},
		byEmail:     map[string]int64{},
		messages:    map[int64]models.Message{},
		comments:    map[int64]models.Comment{},
		nextUser:    1,
		nextMessage: 1,
		nextComment: 1,
		hits:        map[string]int{},
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	s.route(r, http.MethodPost, "/login", false, s.login)
	s.route(r, http.MethodPost, "/users/", false, s.register)
	s.route(r, http.MethodGet, "/users/me/", true, s.me)
	s.route(r, http.MethodGet, "/messages/", true, s.listMessages)
	s.route(r, http.MethodPost, "/messages/", true, s.createMessage)
	s.route(r, http.MethodPut, "/messages/{id}", true, s.updateMessage)
	s.route(r, http.MethodDelete, "/messages/{id}", true, s.deleteMessage)
	s.route(r, http.MethodGet, "/messages/{id}/comments/", true, s.listComments)
	s.route(r, http.MethodPost, "/comments/", true, s.createComment)
	s.route(r, http.MethodPut, "/comments/{id}", true, s.updateComment)
	s.route(r, http.MethodDelete, "/comments/{id}", true, s.deleteComment)
	return r
}

// route registers h and counts every request that reaches it, including
// ones rejected for missing credentials.
func (s *Server) route(r chi.Router, method, pattern string, authenticated bool, h http.HandlerFunc) {
	var handler http.Handler = h
	if authenticated {
		handler = s.requireUser(handler)
	}
	label := method + " " + pattern
	r.Method(method, pattern, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.mu.Lock()
		s.hits[label]++
		s.mu.Unlock()
		handler.ServeHTTP(w, req)
	}))
}

// AddUser registers an account directly, bypassing the HTTP surface.
func (s *Server) AddUser(userName, email, password string) (models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(email)
	if _, exists := s.byEmail[key]; exists {
		return models.User{}, fmt.Errorf("email %q already registered", email)
	}
	u := models.User{ID: s.nextUser, UserName: userName, Email: email}
	s.nextUser++
	s.users[u.ID] = &userRecord{User: u, hash: hash}
	s.byEmail[key] = u.ID
	return u, nil
}

// SeedMessage stores m as-is. A zero ID is allocated; an explicit ID moves
// the allocator past it.
func (s *Server) SeedMessage(m models.Message) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == 0 {
		m.ID = s.nextMessage
	}
	if m.ID >= s.nextMessage {
		s.nextMessage = m.ID + 1
	}
	m.UserName = ""
	s.messages[m.ID] = m
	return s.messageOutLocked(m)
}

// SeedComment stores c as-is, allocating like SeedMessage.
func (s *Server) SeedComment(c models.Comment) models.Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.nextComment
	}
	if c.ID >= s.nextComment {
		s.nextComment = c.ID + 1
	}
	c.UserName = ""
	s.comments[c.ID] = c
	return s.commentOutLocked(c)
}

// IssueToken mints a valid bearer token for email.
func (s *Server) IssueToken(email string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked(email)
}

// ExpireTokens invalidates every token issued so far.
func (s *Server) ExpireTokens() {
	s.mu.Lock()
	s.generation++
	s.mu.Unlock()
}

// Hits returns how many requests matched route, written as
// "METHOD /pattern" (for example "GET /messages/{id}/comments/").
func (s *Server) Hits(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[route]
}

// Messages returns stored messages in creation order.
func (s *Server) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messagesLocked()
}

// Comments returns the stored comments of one message in creation order.
func (s *Server) Comments(messageID int64) []models.Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commentsLocked(messageID)
}

func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			httpx.Unauthorized(w, "Not authenticated")
			return
		}
		u, err := s.authenticate(raw)
		if err != nil {
			httpx.Unauthorized(w, "Could not validate credentials")
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), u)))
	})
}

func (s *Server) authenticate(raw string) (models.User, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return models.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Generation != s.generation {
		return models.User{}, errors.New("token revoked")
	}
	id, ok := s.byEmail[strings.ToLower(c.Subject)]
	if !ok {
		return models.User{}, errors.New("unknown subject")
	}
	return s.users[id].User, nil
}

func (s *Server) issueLocked(email string) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Generation: s.generation,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	})
	return token.SignedString(s.secret)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxFormMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		httpx.Error(w, http.StatusBadRequest, "invalid form body")
		return
	}
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	var missing []httpx.FieldError
	if username == "" {
		missing = append(missing, requiredField("username"))
	}
	if password == "" {
		missing = append(missing, requiredField("password"))
	}
	if len(missing) > 0 {
		httpx.ValidationError(w, missing...)
		return
	}

	s.mu.Lock()
	id, ok := s.byEmail[strings.ToLower(username)]
	var rec *userRecord
	if ok {
		rec = s.users[id]
	}
	s.mu.Unlock()
	if rec == nil || bcrypt.CompareHashAndPassword(rec.hash, []byte(password)) != nil {
		httpx.Error(w, http.StatusBadRequest, "Incorrect email or password")
		return
	}

	s.mu.Lock()
	token, err := s.issueLocked(rec.Email)
	s.mu.Unlock()
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, models.TokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.ValidationError(w, httpx.FieldError{Loc: []string{"body"}, Msg: "JSON decode error"})
		return
	}
	var missing []httpx.FieldError
	for _, f := range []struct{ name, value string }{
		{"user_name", req.UserName}, {"email", req.Email}, {"password", req.Password},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, requiredField(f.name))
		}
	}
	if len(missing) > 0 {
		httpx.ValidationError(w, missing...)
		return
	}
	u, err := s.AddUser(req.UserName, req.Email, req.Password)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "Email already registered")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, u)
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	httpx.WriteJSON(w, http.StatusOK, u)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, s.Messages())
}

func (s *Server) createMessage(w http.ResponseWriter, r *http.Request) {
	var in models.MessageInput
	if !decodeBody(w, r, &in) {
		return
	}
	u, _ := userFrom(r.Context())
	s.mu.Lock()
	m := models.Message{ID: s.nextMessage, UserID: u.ID, UserMessage: in.UserMessage}
	s.nextMessage++
	s.messages[m.ID] = m
	out := s.messageOutLocked(m)
	s.mu.Unlock()
	httpx.WriteJSON(w, http.StatusCreated, out)
}

func (s *Server) updateMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in models.MessageInput
	if !decodeBody(w, r, &in) {
		return
	}
	u, _ := userFrom(r.Context())
	s.mu.Lock()
	defer s.mu.Unlock()
	m, exists := s.messages[id]
	if !exists {
		httpx.Error(w, http.StatusNotFound, "Message not found")
		return
	}
	if m.UserID != u.ID {
		httpx.Error(w, http.StatusForbidden, "You do not have permission to modify this message")
		return
	}
	m.UserMessage = in.UserMessage
	s.messages[id] = m
	httpx.WriteJSON(w, http.StatusOK, s.messageOutLocked(m))
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	u, _ := userFrom(r.Context())
	s.mu.Lock()
	defer s.mu.Unlock()
	m, exists := s.messages[id]
	if !exists {
		httpx.Error(w, http.StatusNotFound, "Message not found")
		return
	}
	if m.UserID != u.ID {
		httpx.Error(w, http.StatusForbidden, "You do not have permission to delete this message")
		return
	}
	delete(s.messages, id)
	for cid, c := range s.comments {
		if c.MessageID == id {
			delete(s.comments, cid)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listComments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, s.Comments(id))
}

func (s *Server) createComment(w http.ResponseWriter, r *http.Request) {
	var in models.CommentCreate
	if !decodeBody(w, r, &in) {
		return
	}
	u, _ := userFrom(r.Context())
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.messages[in.MessageID]; !exists {
		httpx.Error(w, http.StatusNotFound, "Message not found")
		return
	}
	c := models.Comment{ID: s.nextComment, MessageID: in.MessageID, UserID: u.ID, Comment: in.Comment}
	s.nextComment++
	s.comments[c.ID] = c
	httpx.WriteJSON(w, http.StatusCreated, s.commentOutLocked(c))
}

func (s *Server) updateComment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in models.CommentUpdate
	if !decodeBody(w, r, &in) {
		return
	}
	u, _ := userFrom(r.Context())
	s.mu.Lock()
	defer s.mu.Unlock()
	c, exists := s.comments[id]
	if !exists {
		httpx.Error(w, http.StatusNotFound, "Comment not found")
		return
	}
	if c.UserID != u.ID {
		httpx.Error(w, http.StatusForbidden, "You do not have permission to modify this comment")
		return
	}
	c.Comment = in.Comment
	s.comments[id] = c
	httpx.WriteJSON(w, http.StatusOK, s.commentOutLocked(c))
}

func (s *Server) deleteComment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	u, _ := userFrom(r.Context())
	s.mu.Lock()
	defer s.mu.Unlock()
	c, exists := s.comments[id]
	if !exists {
		httpx.Error(w, http.StatusNotFound, "Comment not found")
		return
	}
	if c.UserID != u.ID {
		httpx.Error(w, http.StatusForbidden, "You do not have permission to delete this comment")
		return
	}
	delete(s.comments, id)
	w.WriteHeader(http.StatusNoContent)
}

// messageOutLocked fills in the author's name; authors that no longer exist
// leave it empty.
func (s *Server) messageOutLocked(m models.Message) models.Message {
	if u, ok := s.users[m.UserID]; ok {
		m.UserName = u.UserName
	}
	return m
}

func (s *Server) commentOutLocked(c models.Comment) models.Comment {
	if u, ok := s.users[c.UserID]; ok {
		c.UserName = u.UserName
	}
	return c
}

func (s *Server) messagesLocked() []models.Message {
	out := make([]models.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, s.messageOutLocked(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Server) commentsLocked(messageID int64) []models.Comment {
	out := []models.Comment{}
	for _, c := range s.comments {
		if c.MessageID == messageID {
			out = append(out, s.commentOutLocked(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpx.ValidationError(w, httpx.FieldError{Loc: []string{"body"}, Msg: "JSON decode error"})
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		httpx.ValidationError(w, httpx.FieldError{Loc: []string{"path", "id"}, Msg: "Input should be a valid integer"})
		return 0, false
	}
	return id, true
}

func requiredField(name string) httpx.FieldError {
	return httpx.FieldError{Loc: []string{"body", name}, Msg: "Field required"}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
