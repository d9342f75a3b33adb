package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/parking-reservation/internal/model"
)

// TokenRepo persists/validates refresh tokens (single 'token_hash' column).
// Each row also records the identity session it was issued for so logout
// can revoke exactly that session's tokens.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// StoreRefresh inserts a refresh token hash row.
func (r *TokenRepo) StoreRefresh(ctx context.Context, t model.RefreshToken) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO refresh_tokens (user_id, session_id, token_hash, expires_at) VALUES (?,?,?,?)",
		t.UserID, t.SessionID, t.TokenHash, t.ExpiresAt.UTC())
	return classify(err)
}

// ValidateRefresh returns the token row if it is neither revoked nor
// expired at now.
func (r *TokenRepo) ValidateRefresh(ctx context.Context, tokenHash string, now time.Time) (model.RefreshToken, error) {
	t := model.RefreshToken{TokenHash: tokenHash}
	err := r.DB.QueryRowContext(ctx,
		"SELECT user_id, session_id, expires_at, revoked_at FROM refresh_tokens WHERE token_hash=? LIMIT 1",
		tokenHash).Scan(&t.UserID, &t.SessionID, &t.ExpiresAt, &t.RevokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, fmt.Errorf("%w: unknown refresh token", ErrUnauthorized)
	}
	if err != nil {
		return t, classify(err)
	}
	if t.RevokedAt.Valid {
		return t, fmt.Errorf("%w: refresh token revoked", ErrUnauthorized)
	}
	if now.After(t.ExpiresAt) {
		return t, fmt.Errorf("%w: refresh token expired", ErrUnauthorized)
	}
	return t, nil
}

// RevokeRefresh marks a token as revoked.
func (r *TokenRepo) RevokeRefresh(ctx context.Context, tokenHash string, now time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at=? WHERE token_hash=? AND revoked_at IS NULL",
		now.UTC(), tokenHash)
	return classify(err)
}

// RevokeSessionTokens revokes every token minted for one identity session.
func (r *TokenRepo) RevokeSessionTokens(ctx context.Context, sessionID string, now time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at=? WHERE session_id=? AND revoked_at IS NULL",
		now.UTC(), sessionID)
	return classify(err)
}

// RevokeAllForUser revokes all user's active tokens.
func (r *TokenRepo) RevokeAllForUser(ctx context.Context, userID string, now time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at=? WHERE user_id=? AND revoked_at IS NULL",
		now.UTC(), userID)
	return classify(err)
}
