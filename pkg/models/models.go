package models

import "strconv"

// User is the identity returned by the current-identity endpoint.
type User struct {
	ID       int64  `json:"id"`
	UserName string `json:"user_name"`
	Email    string `json:"email"`
}

// Message is a top-level feed post.
type Message struct {
	ID          int64  `json:"id"`
	UserID      int64  `json:"user_id"`
	UserName    string `json:"user_name,omitempty"`
	UserMessage string `json:"user_message"`
}

// Comment belongs to exactly one Message through MessageID.
type Comment struct {
	ID        int64  `json:"id"`
	MessageID int64  `json:"message_id"`
	UserID    int64  `json:"user_id"`
	UserName  string `json:"user_name,omitempty"`
	Comment   string `json:"comment"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type RegisterRequest struct {
	UserName string `json:"user_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type MessageInput struct {
	UserMessage string `json:"user_message"`
}

type CommentCreate struct {
	MessageID int64  `json:"message_id"`
	Comment   string `json:"comment"`
}

type CommentUpdate struct {
	Comment string `json:"comment"`
}

// Owned is implemented by entities that carry a creator id.
type Owned interface {
	OwnerID() int64
}

func (m Message) OwnerID() int64 { return m.UserID }

func (c Comment) OwnerID() int64 { return c.UserID }

// Owns reports whether identity created e. A nil identity owns nothing.
func Owns(identity *User, e Owned) bool {
	if identity == nil || e == nil {
		return false
	}
	return identity.ID == e.OwnerID()
}

func (m Message) DisplayName() string {
	return displayName(m.UserName, "Usuario #"+strconv.FormatInt(m.UserID, 10))
}

func (c Comment) DisplayName() string {
	return displayName(c.UserName, "Usuario #"+strconv.FormatInt(c.UserID, 10))
}

func displayName(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}
