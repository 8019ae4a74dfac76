// File path: internal/store/users.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// User is an identity-provider principal mirrored into local storage.
type User struct {
	ID           string `db:"id" json:"id"`
	Email        string `db:"email" json:"email"`
	PasswordHash string `db:"password_hash" json:"-"`
	CreatedAt    int64  `db:"created_at" json:"createdAt"`
}

// APIKey is the stored form of an issued key: only the hash is kept.
type APIKey struct {
	ID        string         `db:"id" json:"id"`
	UserID    string         `db:"user_id" json:"userId"`
	Name      sql.NullString `db:"name" json:"-"`
	KeyHash   string         `db:"key_hash" json:"-"`
	CreatedAt int64          `db:"created_at" json:"createdAt"`
}

// CreateUser inserts a principal. Server-side only: public sign-up is
// disabled by policy.
func (s *Store) CreateUser(ctx context.Context, u User) error {
	if u.CreatedAt == 0 {
		u.CreatedAt = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// UserByEmail returns the user with the given email, or ErrNotFound.
func (s *Store) UserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, `SELECT * FROM users WHERE email = ?`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("user by email: %w", err)
	}
	return u, nil
}

// UserByID returns the user with the given id, or ErrNotFound.
func (s *Store) UserByID(ctx context.Context, id string) (User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, `SELECT * FROM users WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("user by id: %w", err)
	}
	return u, nil
}

// CreateAPIKey stores the hash of an issued key.
func (s *Store) CreateAPIKey(ctx context.Context, key APIKey) error {
	if key.CreatedAt == 0 {
		key.CreatedAt = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.CreatedAt)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// UserIDForKeyHash resolves an api-key hash to its owning user id, or
// ErrNotFound when the key is unknown.
func (s *Store) UserIDForKeyHash(ctx context.Context, hash string) (string, error) {
	var userID string
	err := s.db.GetContext(ctx, &userID, `SELECT user_id FROM api_keys WHERE key_hash = ?`, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("key lookup: %w", err)
	}
	return userID, nil
}
