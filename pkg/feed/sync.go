// Package feed keeps the local message/comment aggregate in step with the
// remote API. Every mutation is applied only after the server confirms it.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"publishwed/pkg/gateway"
	"publishwed/pkg/models"
)

var ErrEmptyContent = errors.New("content must not be empty")

// API is the subset of feedapi.API the synchronizer calls.
type API interface {
	ListMessages(ctx context.Context) ([]models.Message, error)
	CreateMessage(ctx context.Context, text string) (models.Message, error)
	UpdateMessage(ctx context.Context, id int64, text string) (models.Message, error)
	DeleteMessage(ctx context.Context, id int64) error
	ListComments(ctx context.Context, messageID int64) ([]models.Comment, error)
	CreateComment(ctx context.Context, messageID int64, text string) (models.Comment, error)
	UpdateComment(ctx context.Context, id int64, text string) (models.Comment, error)
	DeleteComment(ctx context.Context, id int64) error
}

// IdentitySource yields the current identity; nil means anonymous.
type IdentitySource interface {
	Identity() *models.User
}

type Synchronizer struct {
	api      API
	identity IdentitySource
	logger   *slog.Logger

	mu       sync.RWMutex
	order    []int64
	messages map[int64]models.Message
	// comments holds an entry only for messages whose comments were fetched.
	comments map[int64][]models.Comment
	expanded map[int64]bool

	loads singleflight.Group
}

func NewSynchronizer(api API, identity IdentitySource, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		api:      api,
		identity: identity,
		logger:   logger,
		messages: map[int64]models.Message{},
		comments: map[int64][]models.Comment{},
		expanded: map[int64]bool{},
	}
}

// LoadMessages replaces the collection with the server's, newest first.
// Comment sets of messages that survive the reload are kept.
func (s *Synchronizer) LoadMessages(ctx context.Context) ([]models.Message, error) {
	list, err := s.api.ListMessages(ctx)
	if err != nil {
		return nil, err
	}
	order := make([]int64, 0, len(list))
	messages := make(map[int64]models.Message, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		m := list[i]
		if _, dup := messages[m.ID]; dup {
			continue
		}
		order = append(order, m.ID)
		messages[m.ID] = m
	}

	s.mu.Lock()
	s.order = order
	s.messages = messages
	for id := range s.comments {
		if _, ok := messages[id]; !ok {
			delete(s.comments, id)
			delete(s.expanded, id)
		}
	}
	for id := range s.expanded {
		if _, ok := messages[id]; !ok {
			delete(s.expanded, id)
		}
	}
	out := s.messagesLocked()
	s.mu.Unlock()
	s.logger.Debug("messages loaded", "count", len(out))
	return out, nil
}

func (s *Synchronizer) CreateMessage(ctx context.Context, text string) (models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return models.Message{}, ErrEmptyContent
	}
	msg, err := s.api.CreateMessage(ctx, text)
	if err != nil {
		return models.Message{}, err
	}
	s.mu.Lock()
	if _, exists := s.messages[msg.ID]; !exists {
		s.order = append([]int64{msg.ID}, s.order...)
	}
	s.messages[msg.ID] = msg
	s.mu.Unlock()
	return msg, nil
}

func (s *Synchronizer) UpdateMessage(ctx context.Context, id int64, text string) (models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return models.Message{}, ErrEmptyContent
	}
	msg, err := s.api.UpdateMessage(ctx, id, text)
	if err != nil {
		return models.Message{}, err
	}
	s.mu.Lock()
	if _, ok := s.messages[id]; ok && msg.ID == id {
		s.messages[id] = msg
	}
	s.mu.Unlock()
	return msg, nil
}

func (s *Synchronizer) DeleteMessage(ctx context.Context, id int64) error {
	if err := s.api.DeleteMessage(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	if _, ok := s.messages[id]; ok {
		delete(s.messages, id)
		s.order = removeID(s.order, id)
	}
	delete(s.comments, id)
	delete(s.expanded, id)
	s.mu.Unlock()
	return nil
}

// LoadComments fetches a message's comments once per synchronizer.
// Concurrent callers for the same message share one request; a failed fetch
// is not remembered. The shared request outlives any single caller's
// cancellation, so a caller that gives up does not fail the others.
func (s *Synchronizer) LoadComments(ctx context.Context, messageID int64) ([]models.Comment, error) {
	if list, ok := s.Comments(messageID); ok {
		return list, nil
	}
	fetchCtx := context.WithoutCancel(ctx)
	ch := s.loads.DoChan(strconv.FormatInt(messageID, 10), func() (interface{}, error) {
		if list, ok := s.Comments(messageID); ok {
			return list, nil
		}
		list, err := s.api.ListComments(fetchCtx, messageID)
		if err != nil {
			return nil, err
		}
		for _, c := range list {
			if c.MessageID != messageID {
				return nil, mismatch(c, messageID)
			}
		}
		stored := append(make([]models.Comment, 0, len(list)), list...)
		s.mu.Lock()
		if _, ok := s.comments[messageID]; !ok {
			s.comments[messageID] = stored
		}
		s.mu.Unlock()
		return s.commentsOrEmpty(messageID), nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneComments(res.Val.([]models.Comment)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ToggleComments flips visibility of a message's comments, loading them on
// the first expand. It returns the new visibility.
func (s *Synchronizer) ToggleComments(ctx context.Context, messageID int64) (bool, error) {
	s.mu.RLock()
	expanded := s.expanded[messageID]
	s.mu.RUnlock()
	if expanded {
		s.mu.Lock()
		delete(s.expanded, messageID)
		s.mu.Unlock()
		return false, nil
	}
	if _, err := s.LoadComments(ctx, messageID); err != nil {
		return false, err
	}
	s.mu.Lock()
	s.expanded[messageID] = true
	s.mu.Unlock()
	return true, nil
}

// CreateComment posts a comment and appends it to the parent's loaded set.
// Comments for a message whose set was never loaded are not materialized
// locally; the next load fetches them.
func (s *Synchronizer) CreateComment(ctx context.Context, messageID int64, text string) (models.Comment, error) {
	if strings.TrimSpace(text) == "" {
		return models.Comment{}, ErrEmptyContent
	}
	c, err := s.api.CreateComment(ctx, messageID, text)
	if err != nil {
		return models.Comment{}, err
	}
	if c.MessageID != messageID {
		return models.Comment{}, mismatch(c, messageID)
	}
	s.mu.Lock()
	if list, ok := s.comments[messageID]; ok && indexOfComment(list, c.ID) < 0 {
		s.comments[messageID] = append(list, c)
	}
	s.mu.Unlock()
	return c, nil
}

// UpdateComment edits a comment by id. The local copy is replaced in
// whichever loaded set holds it; messageID only names the caller's view.
func (s *Synchronizer) UpdateComment(ctx context.Context, messageID, commentID int64, text string) (models.Comment, error) {
	if strings.TrimSpace(text) == "" {
		return models.Comment{}, ErrEmptyContent
	}
	c, err := s.api.UpdateComment(ctx, commentID, text)
	if err != nil {
		return models.Comment{}, err
	}
	if c.MessageID != messageID {
		s.logger.Warn("comment updated under another message", "comment_id", commentID, "message_id", c.MessageID, "requested", messageID)
	}
	s.mu.Lock()
	for _, list := range s.comments {
		if i := indexOfComment(list, commentID); i >= 0 {
			list[i] = c
		}
	}
	s.mu.Unlock()
	return c, nil
}

// DeleteComment removes a comment by id from every loaded set.
func (s *Synchronizer) DeleteComment(ctx context.Context, messageID, commentID int64) error {
	if err := s.api.DeleteComment(ctx, commentID); err != nil {
		return err
	}
	s.mu.Lock()
	for parent, list := range s.comments {
		if i := indexOfComment(list, commentID); i >= 0 {
			s.comments[parent] = append(list[:i:i], list[i+1:]...)
		}
	}
	s.mu.Unlock()
	return nil
}

// Messages returns the collection, newest first.
func (s *Synchronizer) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messagesLocked()
}

// Comments returns the loaded comments of a message and whether they were
// loaded at all.
func (s *Synchronizer) Comments(messageID int64) ([]models.Comment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list, ok := s.comments[messageID]
	if !ok {
		return nil, false
	}
	return cloneComments(list), true
}

func (s *Synchronizer) commentsOrEmpty(messageID int64) []models.Comment {
	list, _ := s.Comments(messageID)
	if list == nil {
		return []models.Comment{}
	}
	return list
}

func (s *Synchronizer) messagesLocked() []models.Message {
	out := make([]models.Message, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.messages[id])
	}
	return out
}

func mismatch(c models.Comment, messageID int64) error {
	return &gateway.APIError{
		Kind:    gateway.KindUnexpected,
		Message: fmt.Sprintf("comment %d belongs to message %d, expected %d", c.ID, c.MessageID, messageID),
	}
}

func removeID(ids []int64, id int64) []int64 {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func indexOfComment(list []models.Comment, id int64) int {
	for i, c := range list {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func cloneComments(list []models.Comment) []models.Comment {
	if list == nil {
		return nil
	}
	return append(make([]models.Comment, 0, len(list)), list...)
}
