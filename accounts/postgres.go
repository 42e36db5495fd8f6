package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MrEthical07/goReset/accounts/migrations"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// DB is the subset of *pgxpool.Pool used by PostgresStore.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore reads and updates the accounts table.
type PostgresStore struct {
	db DB
}

// NewPostgresStore wraps db, normally a *pgxpool.Pool.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const findByEmailSQL = `
	SELECT id, email, password_hash, disabled, password_changed_at
	FROM accounts
	WHERE email = $1
`

// FindByEmail implements [Store].
func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (Account, error) {
	var a Account
	err := s.db.QueryRow(ctx, findByEmailSQL, NormalizeEmail(email)).Scan(
		&a.ID,
		&a.Email,
		&a.PasswordHash,
		&a.Disabled,
		&a.PasswordChangedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return a, nil
}

const updatePasswordHashSQL = `
	UPDATE accounts
	SET password_hash = $2, password_changed_at = now()
	WHERE id = $1
`

// UpdatePasswordHash implements [Store].
func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	tag, err := s.db.Exec(ctx, updatePasswordHashSQL, id, hash)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Migrate applies the embedded schema migrations using a database/sql connection
// opened through the pgx stdlib driver.
func Migrate(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("accounts: open migration connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("accounts: migrate: %w", err)
	}
	return nil
}
