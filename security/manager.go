package security

import (
	"errors"
	"fmt"
	"time"
)

// ErrAuthFailed is returned for a wrong password or unknown user. The
// two cases are deliberately indistinguishable.
var ErrAuthFailed = errors.New("security: authentication failed")

// UserStore persists user records. The database backs this with its
// catalog map so credentials live inside the database file itself.
type UserStore interface {
	GetUser(username string) (*User, error)
	SaveUser(user *User) error
}

// UserManager handles credential creation and verification.
type UserManager struct {
	store UserStore
}

// NewUserManager creates a manager over the given store.
func NewUserManager(store UserStore) *UserManager {
	return &UserManager{store: store}
}

// CreateUser derives and stores credentials for a new user.
func (m *UserManager) CreateUser(username, password string) error {
	if _, err := m.store.GetUser(username); err == nil {
		return fmt.Errorf("user %s already exists", username)
	}
	salt, err := GenerateSalt()
	if err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	creds, err := GenerateCredentials(password, salt, ScramIterCount)
	if err != nil {
		return fmt.Errorf("failed to generate credentials: %w", err)
	}
	now := time.Now()
	return m.store.SaveUser(&User{
		Username:    username,
		Credentials: creds,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

// Authenticate verifies username/password against the stored
// credentials.
func (m *UserManager) Authenticate(username, password string) error {
	user, err := m.store.GetUser(username)
	if err != nil {
		return ErrAuthFailed
	}
	if !VerifyPassword(password, user.Credentials) {
		return ErrAuthFailed
	}
	return nil
}

// EnsureUser creates credentials on first open and authenticates on
// every subsequent one — the open-with-credentials flow of the database
// builder.
func (m *UserManager) EnsureUser(username, password string) error {
	if _, err := m.store.GetUser(username); err != nil {
		return m.CreateUser(username, password)
	}
	return m.Authenticate(username, password)
}
