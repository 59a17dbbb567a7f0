package auth

import (
	"context"
	"database/sql"
	"time"
)

// Repository persists refresh tokens for rotation checks.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// SaveRefreshToken stores a refresh token issued to a subject.
func (r *Repository) SaveRefreshToken(ctx context.Context, subject, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (subject, token, expires_at)
		VALUES ($1, $2, $3)
	`, subject, token, expiresAt)
	return err
}

// RevokeRefreshToken marks a token revoked.
func (r *Repository) RevokeRefreshToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE token = $1`, token)
	return err
}

// IsRefreshTokenActive reports whether a token is known, unexpired, and not
// revoked.
func (r *Repository) IsRefreshTokenActive(ctx context.Context, token string) (bool, error) {
	var active bool
	err := r.db.QueryRowContext(ctx, `
		SELECT NOT revoked AND expires_at > NOW()
		FROM refresh_tokens WHERE token = $1
	`, token).Scan(&active)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return active, err
}
