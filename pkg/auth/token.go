package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crozierhq/crozier/pkg/orgs"
	"github.com/crozierhq/crozier/pkg/storage/postgres"
)

const (
	// TokenPrefix identifies crozier tokens.
	TokenPrefix = "crz_"
	// tokenBytes is the random payload size (32 bytes = 256 bits).
	tokenBytes = 32
)

// GenerateToken creates a new API token.
// Format: crz_<base64url(32 random bytes)>. Returns the plaintext, the
// SHA-256 hex hash to store, and the short display prefix.
func GenerateToken() (token, hash, prefix string, err error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(raw)
	token = TokenPrefix + encoded

	sum := sha256.Sum256([]byte(token))
	hash = hex.EncodeToString(sum[:])

	prefix = TokenPrefix
	if len(encoded) >= 8 {
		prefix = TokenPrefix + encoded[:8]
	}
	return token, hash, prefix, nil
}

// HashToken computes the SHA-256 hash of a token for lookup.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ValidateTokenFormat checks shape without touching the database.
func ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}
	encoded := strings.TrimPrefix(token, TokenPrefix)
	if encoded == "" {
		return fmt.Errorf("token is too short")
	}
	if _, err := base64.RawURLEncoding.DecodeString(encoded); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}
	return nil
}

// APIToken is a stored token record. The hash never leaves the store.
type APIToken struct {
	ID          string     `json:"id"`
	ActorID     string     `json:"actor_id"`
	Name        string     `json:"name"`
	TokenPrefix string     `json:"token_prefix"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	RevokedBy   string     `json:"revoked_by,omitempty"`
}

// TokenStore persists API tokens and authenticates against them.
type TokenStore struct {
	pool postgres.Pool
}

var _ Authenticator = (*TokenStore)(nil)

// NewTokenStore creates a new token store.
func NewTokenStore(pool postgres.Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

// Create mints a token for the actor and returns the plaintext exactly
// once. Only the hash is stored.
func (s *TokenStore) Create(ctx context.Context, actorID, name string, expiresAt *time.Time) (*APIToken, string, error) {
	token, hash, prefix, err := GenerateToken()
	if err != nil {
		return nil, "", err
	}

	record := &APIToken{
		ID:          uuid.New().String(),
		ActorID:     actorID,
		Name:        name,
		TokenPrefix: prefix,
		ExpiresAt:   expiresAt,
	}

	var expires sql.NullTime
	if expiresAt != nil {
		expires = sql.NullTime{Time: *expiresAt, Valid: true}
	}

	query := `
		INSERT INTO api_tokens (id, actor_id, name, token_hash, token_prefix, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	err = s.pool.Primary().QueryRowContext(ctx, query,
		record.ID, actorID, name, hash, prefix, expires,
	).Scan(&record.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create token: %w", err)
	}

	return record, token, nil
}

// Authenticate resolves a presented token to its actor ID. The lookup
// and the last-used stamp are one statement, so a revoked or expired
// token can never be stamped.
func (s *TokenStore) Authenticate(ctx context.Context, token string) (string, error) {
	if err := ValidateTokenFormat(token); err != nil {
		return "", &UnauthenticatedError{Reason: "malformed token"}
	}

	query := `
		UPDATE api_tokens
		SET last_used_at = NOW()
		WHERE token_hash = $1
		  AND revoked_at IS NULL
		  AND (expires_at IS NULL OR expires_at > NOW())
		RETURNING actor_id
	`
	var actorID string
	err := s.pool.Primary().QueryRowContext(ctx, query, HashToken(token)).Scan(&actorID)
	if err == sql.ErrNoRows {
		return "", &UnauthenticatedError{Reason: "unknown or expired token"}
	}
	if err != nil {
		return "", fmt.Errorf("failed to authenticate token: %w", err)
	}
	return actorID, nil
}

// Revoke disables a token by ID. Revocation is permanent; re-revoking
// is a not-found.
func (s *TokenStore) Revoke(ctx context.Context, id, revokedBy string) error {
	query := `
		UPDATE api_tokens
		SET revoked_at = NOW(), revoked_by = $1
		WHERE id = $2 AND revoked_at IS NULL
	`
	result, err := s.pool.Primary().ExecContext(ctx, query, revokedBy, id)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return &orgs.NotFoundError{Kind: "token", Ref: id}
	}
	return nil
}

// ListByActor returns the actor's tokens, newest first, including
// revoked ones.
func (s *TokenStore) ListByActor(ctx context.Context, actorID string) ([]*APIToken, error) {
	query := `
		SELECT id, actor_id, name, token_prefix, created_at, expires_at, last_used_at, revoked_at, revoked_by
		FROM api_tokens
		WHERE actor_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.pool.Replica().QueryContext(ctx, query, actorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*APIToken
	for rows.Next() {
		var t APIToken
		var expiresAt, lastUsedAt, revokedAt sql.NullTime
		var revokedBy sql.NullString

		err := rows.Scan(&t.ID, &t.ActorID, &t.Name, &t.TokenPrefix, &t.CreatedAt,
			&expiresAt, &lastUsedAt, &revokedAt, &revokedBy)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}

		if expiresAt.Valid {
			at := expiresAt.Time
			t.ExpiresAt = &at
		}
		if lastUsedAt.Valid {
			at := lastUsedAt.Time
			t.LastUsedAt = &at
		}
		if revokedAt.Valid {
			at := revokedAt.Time
			t.RevokedAt = &at
		}
		t.RevokedBy = revokedBy.String
		tokens = append(tokens, &t)
	}
	return tokens, rows.Err()
}

// PurgeExpired deletes tokens past their expiry. Run from the
// reconciler.
func (s *TokenStore) PurgeExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM api_tokens WHERE expires_at IS NOT NULL AND expires_at < NOW()`
	result, err := s.pool.Primary().ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired tokens: %w", err)
	}
	return result.RowsAffected()
}
