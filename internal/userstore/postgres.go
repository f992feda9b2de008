package userstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaychat/relaychat/internal/errkind"
)

// DBPool is the slice of pgxpool.Pool this package actually calls, kept
// narrow so PostgresStore can be driven by pgxmock in tests.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore is the production user store, one row per username in
// tbl_user(uid, username, passcode).
type PostgresStore struct {
	pool      DBPool
	tableName string
}

// PostgresOptions configures the connection.
type PostgresOptions struct {
	ConnString string
	TableName  string // default "tbl_user"
}

// NewPostgresStore dials a pgxpool and wraps it.
func NewPostgresStore(ctx context.Context, opts PostgresOptions) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, errkind.Wrap(errkind.UpstreamUnavailable, "unable to create postgres pool", err)
	}
	tableName := opts.TableName
	if tableName == "" {
		tableName = "tbl_user"
	}
	return &PostgresStore{pool: pool, tableName: tableName}, nil
}

// NewPostgresStoreWithPool wraps an already-open pool, letting tests hand
// in a pgxmock.Pool instead of dialing a real server.
func NewPostgresStoreWithPool(pool DBPool, tableName string) *PostgresStore {
	if tableName == "" {
		tableName = "tbl_user"
	}
	return &PostgresStore{pool: pool, tableName: tableName}
}

func (s *PostgresStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			uid      BIGINT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			passcode TEXT NOT NULL
		)
	`, s.tableName)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return errkind.Wrap(errkind.Internal, "creating tbl_user", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Verify(ctx context.Context, username, password string) (uint64, error) {
	query := fmt.Sprintf(`SELECT uid, passcode FROM %s WHERE username = $1`, s.tableName)

	var uid uint64
	var passcode string
	err := s.pool.QueryRow(ctx, query, username).Scan(&uid, &passcode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, errkind.New(errkind.BadCredentials, "unknown user")
		}
		return 0, errkind.Wrap(errkind.Internal, "querying tbl_user", err)
	}

	if err := verifyPassword(password, passcode); err != nil {
		return 0, err
	}
	return uid, nil
}

func (s *PostgresStore) Register(ctx context.Context, uid uint64, username, password string) error {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE username = $1`, s.tableName)
	var count int
	if err := s.pool.QueryRow(ctx, query, username).Scan(&count); err != nil {
		return errkind.Wrap(errkind.Internal, "checking username uniqueness", err)
	}
	if count > 0 {
		return errkind.New(errkind.AlreadyExists, "username already registered")
	}

	hashed, err := hashPassword(password)
	if err != nil {
		return errkind.Wrap(errkind.Internal, "hashing password", err)
	}

	insert := fmt.Sprintf(`INSERT INTO %s (uid, username, passcode) VALUES ($1, $2, $3)`, s.tableName)
	if _, err := s.pool.Exec(ctx, insert, uid, username, hashed); err != nil {
		return errkind.Wrap(errkind.Internal, "inserting user row", err)
	}
	return nil
}
