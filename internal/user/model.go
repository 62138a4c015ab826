package user

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"chat-server/internal/apperr"
)

// User is the identity record. The public key material is opaque to the
// server; it is stored at registration and handed to conversation peers
// without ever being interpreted.
type User struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Avatar    string `json:"avatar"`
	Email     string `json:"email"`
	Password  string `json:"password"` // bcrypt hash; persisted in the blob, never returned to clients
	PublicKey string `json:"public_key"`
}

// MessageUser is the value snapshot of a sender or recipient embedded in
// messages and member lists. It is a copy, never re-resolved against the
// identity store, so messages stay stable when profiles change.
type MessageUser struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
	Owner  bool   `json:"owner"`
}

// Contact is the presence-facing view of a user.
type Contact struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Avatar   string    `json:"avatar"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen,omitzero"`
}

// Profile is the client-facing account view returned by the account API.
type Profile struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Avatar    string `json:"avatar"`
}

type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Avatar    string `json:"avatar"`
	PublicKey string `json:"public_key"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Profile
}

// NewID returns a fresh 32-char hex identifier.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// New validates a registration request and builds the user record.
// The password arrives plain and is hashed by the service before storage.
func New(req *RegisterRequest) (User, error) {
	if req == nil {
		return User{}, apperr.Invalid("registration request is required")
	}
	if strings.TrimSpace(req.Email) == "" {
		return User{}, apperr.Invalid("email is required")
	}
	if strings.TrimSpace(req.Password) == "" {
		return User{}, apperr.Invalid("password is required")
	}
	if strings.TrimSpace(req.FirstName) == "" {
		return User{}, apperr.Invalid("firstname is required")
	}
	if strings.TrimSpace(req.LastName) == "" {
		return User{}, apperr.Invalid("lastname is required")
	}
	return User{
		ID:        NewID(),
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Avatar:    req.Avatar,
		Email:     req.Email,
		PublicKey: req.PublicKey,
	}, nil
}

// FullName joins the name parts, substituting "-" for missing parts.
func (u User) FullName() string {
	first, last := u.FirstName, u.LastName
	if first == "" {
		first = "-"
	}
	if last == "" {
		last = "-"
	}
	return first + " " + last
}

// WithFirstName returns a copy of the user with an updated first name.
func (u User) WithFirstName(fname string) (User, error) {
	if strings.TrimSpace(fname) == "" {
		return u, apperr.Invalid("firstname is required for this request")
	}
	u.FirstName = fname
	return u, nil
}

// WithLastName returns a copy of the user with an updated last name.
func (u User) WithLastName(lname string) (User, error) {
	if strings.TrimSpace(lname) == "" {
		return u, apperr.Invalid("lastname is required for this request")
	}
	u.LastName = lname
	return u, nil
}

// WithAvatar returns a copy of the user with an updated avatar reference.
func (u User) WithAvatar(avatar string) (User, error) {
	if strings.TrimSpace(avatar) == "" {
		return u, apperr.Invalid("avatar is required for this request")
	}
	u.Avatar = avatar
	return u, nil
}

// MessageUser builds the value snapshot embedded in messages and rooms.
func (u User) MessageUser(owner bool) MessageUser {
	return MessageUser{ID: u.ID, Name: u.FullName(), Avatar: u.Avatar, Owner: owner}
}

// Contact builds the presence view of the user.
func (u User) Contact(online bool, lastSeen time.Time) Contact {
	return Contact{ID: u.ID, Name: u.FullName(), Avatar: u.Avatar, Online: online, LastSeen: lastSeen}
}

// Profile builds the account view of the user.
func (u User) Profile() Profile {
	return Profile{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName, Avatar: u.Avatar}
}
