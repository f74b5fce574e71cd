package userstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/cmsauth/role"
)

// Schema creates the tables Postgres expects. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS cms_user (
	id            UUID PRIMARY KEY,
	username      TEXT NOT NULL,
	email         TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	role          TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_login_at TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS cms_user_username_key ON cms_user (lower(username));
CREATE UNIQUE INDEX IF NOT EXISTS cms_user_email_key ON cms_user (lower(email)) WHERE email <> '';

CREATE TABLE IF NOT EXISTS cms_api_key (
	id           UUID PRIMARY KEY,
	user_id      UUID NOT NULL REFERENCES cms_user (id) ON DELETE CASCADE,
	name         TEXT NOT NULL DEFAULT '',
	lookup_hash  TEXT NOT NULL UNIQUE,
	secret_hash  TEXT NOT NULL,
	permissions  TEXT[] NOT NULL DEFAULT '{}',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at   TIMESTAMPTZ,
	last_used_at TIMESTAMPTZ
);
`

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is a Store on top of pgx.
type Postgres struct {
	db Querier
}

func NewPostgres(db Querier) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres connects a pool to dsn, pings it and applies Schema.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("userstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("userstore: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("userstore: migrate: %w", err)
	}
	return NewPostgres(pool), pool, nil
}

const userColumns = `id::text, username, email, password_hash, role, created_at, last_login_at`

func scanUser(row pgx.Row) (User, error) {
	var (
		u         User
		roleName  string
		lastLogin *time.Time
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &roleName, &u.CreatedAt, &lastLogin); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	r, err := role.Parse(roleName)
	if err != nil {
		return User{}, fmt.Errorf("userstore: user %s: %w", u.ID, err)
	}
	u.Role = r
	if lastLogin != nil {
		u.LastLoginAt = *lastLogin
	}
	return u, nil
}

func (p *Postgres) ByIdentifier(ctx context.Context, identifier string) (User, error) {
	const q = `SELECT ` + userColumns + ` FROM cms_user
WHERE lower(username) = $1 OR (email <> '' AND lower(email) = $1)
ORDER BY lower(username) = $1 DESC
LIMIT 1`
	return scanUser(p.db.QueryRow(ctx, q, normalize(identifier)))
}

func (p *Postgres) ByID(ctx context.Context, id string) (User, error) {
	const q = `SELECT ` + userColumns + ` FROM cms_user WHERE id::text = $1`
	return scanUser(p.db.QueryRow(ctx, q, id))
}

func (p *Postgres) Create(ctx context.Context, in NewUser) (User, error) {
	if normalize(in.Username) == "" {
		return User{}, fmt.Errorf("userstore: username is required")
	}
	const q = `
INSERT INTO cms_user (id, username, email, password_hash, role)
VALUES (gen_random_uuid(), $1, $2, $3, $4)
RETURNING ` + userColumns
	u, err := scanUser(p.db.QueryRow(ctx, q, in.Username, in.Email, in.PasswordHash, in.Role.String()))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, fmt.Errorf("%w: %s", ErrExists, pgErr.ConstraintName)
		}
		return User{}, err
	}
	return u, nil
}

func (p *Postgres) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	tag, err := p.db.Exec(ctx, `UPDATE cms_user SET password_hash = $2 WHERE id::text = $1`, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SetRole(ctx context.Context, id string, r role.Role) error {
	if !r.Valid() {
		return fmt.Errorf("userstore: %w", role.ErrUnknownRole)
	}
	tag, err := p.db.Exec(ctx, `UPDATE cms_user SET role = $2 WHERE id::text = $1`, id, r.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) TouchLogin(ctx context.Context, id string, at time.Time) error {
	tag, err := p.db.Exec(ctx, `UPDATE cms_user SET last_login_at = $2 WHERE id::text = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const apiKeyColumns = `id::text, user_id::text, name, lookup_hash, secret_hash, permissions, created_at, expires_at, last_used_at`

func scanAPIKey(row pgx.Row) (APIKey, error) {
	var (
		k                 APIKey
		expires, lastUsed *time.Time
	)
	err := row.Scan(&k.ID, &k.UserID, &k.Name, &k.LookupHash, &k.SecretHash, &k.Permissions, &k.CreatedAt, &expires, &lastUsed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return APIKey{}, ErrNotFound
		}
		return APIKey{}, err
	}
	if expires != nil {
		k.ExpiresAt = *expires
	}
	if lastUsed != nil {
		k.LastUsedAt = *lastUsed
	}
	return k, nil
}

func (p *Postgres) CreateAPIKey(ctx context.Context, k APIKey) (APIKey, error) {
	if k.LookupHash == "" || k.SecretHash == "" {
		return APIKey{}, fmt.Errorf("userstore: api key hashes are required")
	}
	var expires *time.Time
	if !k.ExpiresAt.IsZero() {
		expires = &k.ExpiresAt
	}
	perms := k.Permissions
	if perms == nil {
		perms = []string{}
	}
	const q = `
INSERT INTO cms_api_key (id, user_id, name, lookup_hash, secret_hash, permissions, expires_at)
VALUES (gen_random_uuid(), $1::uuid, $2, $3, $4, $5, $6)
RETURNING ` + apiKeyColumns
	out, err := scanAPIKey(p.db.QueryRow(ctx, q, k.UserID, k.Name, k.LookupHash, k.SecretHash, perms, expires))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return APIKey{}, fmt.Errorf("%w: api key", ErrExists)
			case "23503":
				return APIKey{}, ErrNotFound
			}
		}
		return APIKey{}, err
	}
	return out, nil
}

func (p *Postgres) APIKeyByLookupHash(ctx context.Context, lookupHash string) (APIKey, error) {
	const q = `SELECT ` + apiKeyColumns + ` FROM cms_api_key WHERE lookup_hash = $1`
	return scanAPIKey(p.db.QueryRow(ctx, q, lookupHash))
}

func (p *Postgres) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	tag, err := p.db.Exec(ctx, `UPDATE cms_api_key SET last_used_at = $2 WHERE id::text = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
