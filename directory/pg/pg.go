// Package pg is a PostgreSQL goIdentity.UserDirectory. Every role lives in the single
// identity_users table with role as the discriminator and the role-specific profile in
// a JSONB column.
package pg

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	goIdentity "github.com/MrEthical07/goIdentity"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// ErrDuplicateEmail is returned by Create when the email is taken in the tenant.
var ErrDuplicateEmail = errors.New("email already registered")

const uniqueViolation = "23505"

// NewPool opens and pings a connection pool.
func NewPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 10 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded schema migrations to the database at url.
func Migrate(url string) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(url))
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrate: %w", err)
	}
	return nil
}

// migrateURL rewrites a libpq-style URL to the scheme of the pgx/v5 migrate driver.
func migrateURL(url string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(url, scheme) {
			return "pgx5://" + strings.TrimPrefix(url, scheme)
		}
	}
	return url
}

// Directory reads and writes identity_users.
type Directory struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Directory {
	return &Directory{db: db}
}

const selectUser = `SELECT id, email, name, role, sub_role, password_hash, active, verified,
	last_login, login_count, profile
	FROM identity_users`

// Create inserts rec in the tenant of ctx.
func (d *Directory) Create(ctx context.Context, rec goIdentity.UserRecord) error {
	if rec.Role == "" && rec.Profile != nil {
		rec.Role = rec.Profile.Role()
	}
	if rec.Profile != nil && rec.Profile.Role() != rec.Role {
		return fmt.Errorf("profile of role %q does not match %q", rec.Profile.Role(), rec.Role)
	}
	profile, err := encodeProfile(rec.Profile)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(ctx,
		`INSERT INTO identity_users (tenant_id, id, email, name, role, sub_role, password_hash, active, verified, profile)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		goIdentity.TenantID(ctx), rec.UserID, strings.ToLower(strings.TrimSpace(rec.Email)), rec.Name,
		rec.Role, rec.SubRole, rec.PasswordHash, rec.Active, rec.Verified, profile,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateEmail
	}
	return err
}

func (d *Directory) FindByEmail(ctx context.Context, email string) (goIdentity.UserRecord, error) {
	row := d.db.QueryRow(ctx, selectUser+` WHERE tenant_id = $1 AND lower(email) = lower($2)`,
		goIdentity.TenantID(ctx), strings.TrimSpace(email))
	return scanUser(row)
}

// Get returns the record with userID.
func (d *Directory) Get(ctx context.Context, userID string) (goIdentity.UserRecord, error) {
	row := d.db.QueryRow(ctx, selectUser+` WHERE tenant_id = $1 AND id = $2`,
		goIdentity.TenantID(ctx), userID)
	return scanUser(row)
}

func scanUser(row pgx.Row) (goIdentity.UserRecord, error) {
	var (
		rec       goIdentity.UserRecord
		lastLogin *time.Time
		profile   []byte
	)
	err := row.Scan(&rec.UserID, &rec.Email, &rec.Name, &rec.Role, &rec.SubRole, &rec.PasswordHash,
		&rec.Active, &rec.Verified, &lastLogin, &rec.LoginCount, &profile)
	if errors.Is(err, pgx.ErrNoRows) {
		return goIdentity.UserRecord{}, goIdentity.ErrUserNotFound
	}
	if err != nil {
		return goIdentity.UserRecord{}, err
	}
	if lastLogin != nil {
		rec.LastLogin = *lastLogin
	}
	rec.Profile, err = decodeProfile(rec.Role, profile)
	if err != nil {
		return goIdentity.UserRecord{}, err
	}
	return rec, nil
}

func (d *Directory) MarkVerified(ctx context.Context, userID string) error {
	return d.exec(ctx,
		`UPDATE identity_users SET verified = TRUE, updated_at = NOW() WHERE tenant_id = $1 AND id = $2`,
		goIdentity.TenantID(ctx), userID)
}

func (d *Directory) UpdatePassword(ctx context.Context, userID, hash string) error {
	return d.exec(ctx,
		`UPDATE identity_users SET password_hash = $3, updated_at = NOW() WHERE tenant_id = $1 AND id = $2`,
		goIdentity.TenantID(ctx), userID, hash)
}

func (d *Directory) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	return d.exec(ctx,
		`UPDATE identity_users SET last_login = $3, login_count = login_count + 1 WHERE tenant_id = $1 AND id = $2`,
		goIdentity.TenantID(ctx), userID, at)
}

func (d *Directory) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := d.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return goIdentity.ErrUserNotFound
	}
	return nil
}

var _ goIdentity.UserDirectory = (*Directory)(nil)
