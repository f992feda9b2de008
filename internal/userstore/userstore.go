// Package userstore implements the relational user store behind login
// and registration. Two backends are provided — Postgres (production,
// via pgx) and SQLite (local/dev/test, via mattn/go-sqlite3) — both
// satisfying the same Store interface. Only the Postgres backend also
// has a constructor taking an existing pool (or a pgxmock pool); the
// SQLite backend is built from a path.
package userstore

import (
	"context"

	"github.com/relaychat/relaychat/internal/errkind"
	"github.com/relaychat/relaychat/internal/security"
)

// Store is the contract internal/gateway depends on. It is a narrow,
// storage-agnostic surface over three queries: verify, exists, insert.
type Store interface {
	// Verify looks up username, checks password against the stored PBKDF2
	// hash in constant time, and returns the uid on success. Both "no such
	// user" and "wrong password" surface as errkind.BadCredentials — the
	// caller must not be able to distinguish them.
	Verify(ctx context.Context, username, password string) (uid uint64, err error)

	// Register inserts a new user row with a freshly hashed password.
	// Returns errkind.AlreadyExists if username is taken.
	Register(ctx context.Context, uid uint64, username, password string) error

	// InitSchema creates the backing table if it doesn't exist.
	InitSchema(ctx context.Context) error

	Close() error
}

// verifyPassword centralizes the security.Verify call + error mapping so
// both backends report the same BadCredentials-for-everything shape.
func verifyPassword(password, storedHash string) error {
	ok, err := security.Verify(password, storedHash)
	if err != nil {
		return errkind.Wrap(errkind.BadCredentials, "stored hash unreadable", err)
	}
	if !ok {
		return errkind.New(errkind.BadCredentials, "password mismatch")
	}
	return nil
}

func hashPassword(password string) (string, error) {
	return security.HashPassword(password, security.DefaultIterations)
}
