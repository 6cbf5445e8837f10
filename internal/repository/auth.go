package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresAuthRepository implements user and session persistence
// against a PostgreSQL database. Secrets are stored only as peppered
// hashes; tokens are opaque random values issued at login.
type PostgresAuthRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresAuthRepository creates a repository over the given
// database connection.
func NewPostgresAuthRepository(db *sql.DB) *PostgresAuthRepository {
	return &PostgresAuthRepository{DB: db}
}

// UserExists reports whether a user with the given login exists.
func (r *PostgresAuthRepository) UserExists(ctx context.Context, login string) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(
		ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE login = $1)`,
		login,
	).Scan(&exists)
	return exists, err
}

// RegisterUser creates a new user record with the given login and
// secret hash. A duplicate login is left untouched.
func (r *PostgresAuthRepository) RegisterUser(ctx context.Context, login, secretHash string) error {
	_, err := r.DB.ExecContext(
		ctx,
		`INSERT INTO users (login, secret_hash) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		login, secretHash,
	)
	return err
}

// SecretHash returns the stored secret hash for login.
func (r *PostgresAuthRepository) SecretHash(ctx context.Context, login string) (string, error) {
	var hash string
	err := r.DB.QueryRowContext(
		ctx,
		`SELECT secret_hash FROM users WHERE login = $1`,
		login,
	).Scan(&hash)
	if err != nil {
		return "", fmt.Errorf("SecretHash: %w", err)
	}
	return hash, nil
}

// SaveToken records a bearer token for login, replacing any previous
// session token.
func (r *PostgresAuthRepository) SaveToken(ctx context.Context, login, token string) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO tokens (user_login, token) VALUES ($1, $2)
		ON CONFLICT (user_login) DO UPDATE SET token = EXCLUDED.token, issued_at = now()
	`, login, token)
	return err
}

// UserForToken resolves a bearer token to its owning login.
func (r *PostgresAuthRepository) UserForToken(ctx context.Context, token string) (string, error) {
	var login string
	err := r.DB.QueryRowContext(
		ctx,
		`SELECT user_login FROM tokens WHERE token = $1`,
		token,
	).Scan(&login)
	if err != nil {
		return "", fmt.Errorf("UserForToken: %w", err)
	}
	return login, nil
}
