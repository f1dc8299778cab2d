// Package memory holds a static, in-memory credential store.
package memory

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/cyp0633/caldora/server/auth"
)

// User is an account of the store.
type User struct {
	Username string
	Password string
}

// Store implements auth.Authenticator over a fixed set of users. Every user owns
// exactly the resources under its own principal.
type Store struct {
	mu     sync.RWMutex
	users  map[string]User
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithUsers adds users from a username to password map.
func WithUsers(users map[string]string) Option {
	return func(s *Store) {
		for name, password := range users {
			s.users[name] = User{Username: name, Password: password}
		}
	}
}

// New creates a credential store.
func New(opts ...Option) *Store {
	s := &Store{
		users:  make(map[string]User),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddUser adds a user. Usernames are unique.
func (s *Store) AddUser(username, password string) error {
	if username == "" {
		return fmt.Errorf("username must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; exists {
		s.logger.Warn("failed to add user: already exists",
			"username", username)
		return fmt.Errorf("user already exists: %s", username)
	}
	s.users[username] = User{Username: username, Password: password}

	s.logger.Info("user added",
		"username", username)
	return nil
}

// Authenticate implements auth.Authenticator.
func (s *Store) Authenticate(_ context.Context, creds auth.Credentials) (*auth.Principal, error) {
	s.mu.RLock()
	user, exists := s.users[creds.Username]
	s.mu.RUnlock()

	// compare even for unknown users so both failures take the same time
	match := subtle.ConstantTimeCompare([]byte(user.Password), []byte(creds.Password)) == 1
	if !exists || creds.Username == "" || !match {
		s.logger.Info("authentication failed",
			"username", creds.Username)
		return nil, &auth.Error{
			Type:    auth.ErrInvalidCredentials,
			Message: "invalid username or password",
		}
	}

	s.logger.Debug("authentication successful",
		"username", creds.Username)
	return &auth.Principal{ID: creds.Username}, nil
}

// ValidateAccess implements auth.Authenticator.
func (s *Store) ValidateAccess(_ context.Context, principal *auth.Principal, ownerID string) error {
	if principal == nil {
		return &auth.Error{
			Type:    auth.ErrUnauthorized,
			Message: "authentication required",
		}
	}
	if ownerID != "" && ownerID != principal.ID {
		s.logger.Warn("access denied",
			"username", principal.ID,
			"owner", ownerID)
		return &auth.Error{
			Type:    auth.ErrForbidden,
			Message: fmt.Sprintf("access denied to resources of %s", ownerID),
		}
	}
	return nil
}
