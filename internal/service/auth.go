package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/dmagur/passlock/internal/crypto"
)

// Errors surfaced by the authentication service.
var (
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid login or secret")
)

// AuthRepository defines the persistence operations required by the
// authentication service.
type AuthRepository interface {
	// UserExists returns true if a user with the given login exists.
	UserExists(ctx context.Context, login string) (bool, error)
	// RegisterUser creates a new user record with the given login and
	// secret hash.
	RegisterUser(ctx context.Context, login, secretHash string) error
	// SecretHash returns the stored secret hash for login.
	SecretHash(ctx context.Context, login string) (string, error)
	// SaveToken records a bearer token for login.
	SaveToken(ctx context.Context, login, token string) error
	// UserForToken resolves a bearer token to its owning login.
	UserForToken(ctx context.Context, token string) (string, error)
}

// AuthService implements registration, login, and token resolution.
// Secrets never reach storage in the clear; only their peppered hash
// is kept, verified in constant time on login.
type AuthService struct {
	repo AuthRepository
}

// NewAuthService constructs an AuthService over repo.
func NewAuthService(repo AuthRepository) *AuthService {
	return &AuthService{repo: repo}
}

// Register creates a new user. The secret is hashed before it touches
// the repository.
func (s *AuthService) Register(ctx context.Context, login, secret string) error {
	exists, err := s.repo.UserExists(ctx, login)
	if err != nil {
		return err
	}
	if exists {
		return ErrUserExists
	}

	hash, err := crypto.HashSecret([]byte(secret))
	if err != nil {
		return err
	}
	return s.repo.RegisterUser(ctx, login, hash)
}

// Login verifies the secret against the stored hash and issues a
// fresh bearer token, replacing any previous session.
func (s *AuthService) Login(ctx context.Context, login, secret string) (string, error) {
	stored, err := s.repo.SecretHash(ctx, login)
	if err != nil {
		return "", ErrInvalidCredentials
	}
	if !crypto.VerifySecret([]byte(secret), stored) {
		return "", ErrInvalidCredentials
	}

	token := uuid.NewString()
	if err := s.repo.SaveToken(ctx, login, token); err != nil {
		return "", err
	}
	return token, nil
}

// UserForToken resolves a bearer token to its owning login. Satisfies
// the auth middleware's validator interface.
func (s *AuthService) UserForToken(ctx context.Context, token string) (string, error) {
	return s.repo.UserForToken(ctx, token)
}
