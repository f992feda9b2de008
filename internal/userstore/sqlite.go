package userstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/relaychat/relaychat/internal/dbpool"
	"github.com/relaychat/relaychat/internal/errkind"
)

// SqliteStore is the local/dev/test user store, backed by a single-file
// or in-memory SQLite database. Unlike PostgresStore (which delegates
// pooling to pgxpool), every query here goes through an internal/dbpool
// pool of *sql.Conn: this is the store's C6 — the fixed-max,
// mutex+cond-var-guarded pool Verify and Register actually acquire from.
type SqliteStore struct {
	db        *sql.DB
	pool      *dbpool.Pool
	tableName string
}

type SqliteOptions struct {
	Path      string // e.g. "file:relaychat.db?cache=shared" or ":memory:"
	TableName string // default "tbl_user"
	PoolMax   int    // default 4
}

func NewSqliteStore(opts SqliteOptions) (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, "opening sqlite database", err)
	}

	tableName := opts.TableName
	if tableName == "" {
		tableName = "tbl_user"
	}
	poolMax := opts.PoolMax
	if poolMax == 0 {
		poolMax = 4
	}
	if opts.Path == ":memory:" {
		// Every *sql.Conn to ":memory:" is its own isolated database unless
		// a shared-cache DSN is used; capping the pool at one connection
		// keeps Verify/Register/InitSchema all looking at the same database.
		poolMax = 1
	}

	ctx := context.Background()
	pool, err := dbpool.New(ctx, 1, poolMax, func(ctx context.Context) (dbpool.Conn, error) {
		return db.Conn(ctx)
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	store := &SqliteStore{db: db, pool: pool, tableName: tableName}
	if err := store.InitSchema(ctx); err != nil {
		pool.Stop()
		db.Close()
		return nil, err
	}
	return store, nil
}

// InitSchema runs through the same pool as every other query — for a
// ":memory:" database each *sql.Conn is its own isolated database, so
// creating the table on a connection outside the pool would leave it
// invisible to Verify/Register.
func (s *SqliteStore) InitSchema(ctx context.Context) error {
	conn, release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	ok := false
	defer func() { release(ok) }()

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			uid      INTEGER PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			passcode TEXT NOT NULL
		)
	`, s.tableName)
	if _, err := conn.ExecContext(ctx, query); err != nil {
		return errkind.Wrap(errkind.Internal, "creating tbl_user", err)
	}
	ok = true
	return nil
}

func (s *SqliteStore) Close() error {
	s.pool.Stop()
	return s.db.Close()
}

// acquire pulls a *sql.Conn from the pool. release must be called exactly
// once: it either returns the connection to the pool (ok) or discards it
// (the pool shrinks and will grow a fresh one on a later Acquire).
func (s *SqliteStore) acquire(ctx context.Context) (conn *sql.Conn, release func(ok bool), err error) {
	c, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, errkind.Wrap(errkind.UpstreamUnavailable, "acquiring sqlite connection", err)
	}
	conn = c.(*sql.Conn)
	release = func(ok bool) {
		if ok {
			s.pool.Release(conn)
		} else {
			conn.Close()
			s.pool.Discard()
		}
	}
	return conn, release, nil
}

func (s *SqliteStore) Verify(ctx context.Context, username, password string) (uint64, error) {
	conn, release, err := s.acquire(ctx)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`SELECT uid, passcode FROM %s WHERE username = ?`, s.tableName)
	var uid uint64
	var passcode string
	scanErr := conn.QueryRowContext(ctx, query, username).Scan(&uid, &passcode)
	release(scanErr == nil || errors.Is(scanErr, sql.ErrNoRows))
	if scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			return 0, errkind.New(errkind.BadCredentials, "unknown user")
		}
		return 0, errkind.Wrap(errkind.Internal, "querying tbl_user", scanErr)
	}

	if err := verifyPassword(password, passcode); err != nil {
		return 0, err
	}
	return uid, nil
}

func (s *SqliteStore) Register(ctx context.Context, uid uint64, username, password string) error {
	conn, release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	ok := false
	defer func() { release(ok) }()

	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE username = ?`, s.tableName)
	var count int
	if err := conn.QueryRowContext(ctx, query, username).Scan(&count); err != nil {
		return errkind.Wrap(errkind.Internal, "checking username uniqueness", err)
	}
	if count > 0 {
		ok = true
		return errkind.New(errkind.AlreadyExists, "username already registered")
	}

	hashed, err := hashPassword(password)
	if err != nil {
		ok = true
		return errkind.Wrap(errkind.Internal, "hashing password", err)
	}

	insert := fmt.Sprintf(`INSERT INTO %s (uid, username, passcode) VALUES (?, ?, ?)`, s.tableName)
	if _, err := conn.ExecContext(ctx, insert, uid, username, hashed); err != nil {
		return errkind.Wrap(errkind.Internal, "inserting user row", err)
	}
	ok = true
	return nil
}
