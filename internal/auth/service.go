package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"studio_gateway/internal/logging"
	"studio_gateway/internal/models"
	"studio_gateway/internal/storage"
)

var (
	ErrUsernameRequired   = errors.New("username is required")
	ErrUsernameTaken      = errors.New("Username already exists")
	ErrInvalidCredentials = errors.New("Invalid credentials")
	ErrAccountInactive    = errors.New("Account is not active")
	ErrInvalidRole        = errors.New("role must be USER or ADMIN")
)

// UserStore is the subset of the user repository the service needs
type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateLastLogin(ctx context.Context, id string) error
}

// Session is a signed token and the user it was issued to
type Session struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *models.User `json:"user"`
}

// Service implements registration, login and password changes
type Service struct {
	users  UserStore
	tokens *TokenIssuer
	logger *logging.Logger
}

// NewService creates an auth service
func NewService(users UserStore, tokens *TokenIssuer) *Service {
	return &Service{
		users:  users,
		tokens: tokens,
		logger: logging.NewLogger("auth"),
	}
}

// Tokens returns the issuer used to validate bearer tokens
func (s *Service) Tokens() *TokenIssuer {
	return s.tokens
}

// CreateUser stores a new account with a hashed password
func (s *Service) CreateUser(ctx context.Context, username, password string, role Role) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrUsernameRequired
	}
	if !role.IsValid() {
		return nil, ErrInvalidRole
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Username:     username,
		PasswordHash: hash,
		Role:         role.String(),
		Status:       models.UserStatusActive,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, storage.ErrDuplicateUser) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	return user, nil
}

// Register creates a USER account and signs it in
func (s *Service) Register(ctx context.Context, username, password string) (*Session, error) {
	user, err := s.CreateUser(ctx, username, password, RoleUser)
	if err != nil {
		return nil, err
	}
	s.logger.Info("User registered", "username", user.Username)
	return s.issue(user)
}

// Login checks credentials and returns a session
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	user, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive() {
		return nil, ErrAccountInactive
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID); err != nil {
		s.logger.Warn("Failed to update last login", "username", user.Username, "error", err)
	}
	return s.issue(user)
}

// ChangePassword replaces the password after checking the current one
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := VerifyPassword(current, user.PasswordHash)
	if err != nil || !ok {
		return ErrInvalidCredentials
	}

	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	return s.users.UpdatePassword(ctx, user.ID, hash)
}

// EnsureAdmin creates the default admin account when it does not exist yet
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) (bool, error) {
	_, err := s.users.GetByUsername(ctx, username)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, storage.ErrUserNotFound) {
		return false, fmt.Errorf("failed to look up admin: %w", err)
	}

	if _, err := s.CreateUser(ctx, username, password, RoleAdmin); err != nil {
		return false, fmt.Errorf("failed to create admin: %w", err)
	}
	s.logger.Info("Default admin created", "username", username)
	return true, nil
}

func (s *Service) issue(user *models.User) (*Session, error) {
	token, exp, err := s.tokens.Generate(user.ID, user.Username, Role(user.Role))
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: exp, User: user}, nil
}
