package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"

	"github.com/lib/pq"

	"licsrv/internal/license"
)

const schema = `
CREATE TABLE IF NOT EXISTS license_keys (
	license_key TEXT PRIMARY KEY,
	hwid        TEXT NULL,
	active      BOOLEAN NOT NULL DEFAULT TRUE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	note        TEXT NOT NULL DEFAULT '',
	deleted_at  TIMESTAMPTZ NULL
);
ALTER TABLE license_keys ADD COLUMN IF NOT EXISTS deleted_at TIMESTAMPTZ NULL;
CREATE INDEX IF NOT EXISTS license_keys_live_created_at_idx
	ON license_keys (created_at DESC, license_key) WHERE deleted_at IS NULL;
`

const columns = `license_key, hwid, active, created_at, note`

// SQLSTATE codes the repository classifies.
const (
	uniqueViolation          = "23505"
	characterNotInRepertoire = "22021"
	untranslatableCharacter  = "22P05"
)

// KeyRepository is the PostgreSQL license.Store. Deleted rows stay behind as
// tombstones (deleted_at set) so the primary key covers every key ever issued.
type KeyRepository struct {
	db *DB
}

var (
	_ license.Store  = (*KeyRepository)(nil)
	_ license.Pinger = (*KeyRepository)(nil)
)

func NewKeyRepository(db *DB) *KeyRepository {
	return &KeyRepository{db: db}
}

// EnsureSchema creates the license_keys table when it does not exist.
func (r *KeyRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *KeyRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return storeErr(err)
	}
	return nil
}

func (r *KeyRepository) Insert(ctx context.Context, rec license.KeyRecord) error {
	if rec.Key == "" {
		return fmt.Errorf("%w: empty key", license.ErrInvalidArgument)
	}

	query := `
		INSERT INTO license_keys (license_key, hwid, active, created_at, note)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query, rec.Key, nullable(rec.HWID), rec.Active, rec.CreatedAt, rec.Note)
	if err != nil {
		return fmt.Errorf("failed to insert key %s: %w", license.MaskKey(rec.Key), storeErr(err))
	}
	return nil
}

func (r *KeyRepository) Get(ctx context.Context, key string) (license.KeyRecord, error) {
	query := `SELECT ` + columns + ` FROM license_keys WHERE license_key = $1 AND deleted_at IS NULL`
	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return license.KeyRecord{}, fmt.Errorf("%w: %s", license.ErrNotFound, license.MaskKey(key))
	}
	if err != nil {
		return license.KeyRecord{}, storeErr(err)
	}
	return rec, nil
}

// BindIfUnbound locks the row for the duration of one transaction so that
// concurrent first uses of the same key serialize on it.
func (r *KeyRepository) BindIfUnbound(ctx context.Context, key, hwid string) (license.BindResult, error) {
	if hwid == "" {
		return license.BindResult{}, fmt.Errorf("%w: empty hwid", license.ErrInvalidArgument)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return license.BindResult{}, storeErr(err)
	}
	defer tx.Rollback()

	query := `SELECT ` + columns + ` FROM license_keys WHERE license_key = $1 AND deleted_at IS NULL FOR UPDATE`
	rec, err := scanRecord(tx.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return license.BindResult{}, fmt.Errorf("%w: %s", license.ErrNotFound, license.MaskKey(key))
	}
	if err != nil {
		return license.BindResult{}, storeErr(err)
	}

	switch {
	case !rec.Active:
		return license.BindResult{}, fmt.Errorf("%w: %s", license.ErrRevoked, license.MaskKey(key))
	case rec.HWID == hwid:
		return license.BindResult{Record: rec}, nil
	case rec.HWID != "":
		return license.BindResult{}, fmt.Errorf("%w: %s", license.ErrHWIDMismatch, license.MaskKey(key))
	}

	if _, err := tx.ExecContext(ctx, `UPDATE license_keys SET hwid = $1 WHERE license_key = $2`, hwid, key); err != nil {
		return license.BindResult{}, storeErr(err)
	}
	if err := tx.Commit(); err != nil {
		return license.BindResult{}, storeErr(err)
	}

	rec.HWID = hwid
	return license.BindResult{Bound: true, Record: rec}, nil
}

func (r *KeyRepository) SetActive(ctx context.Context, key string, active bool) error {
	return r.update(ctx, key, `UPDATE license_keys SET active = $1 WHERE license_key = $2 AND deleted_at IS NULL`, active)
}

func (r *KeyRepository) UpdateNote(ctx context.Context, key, note string) error {
	return r.update(ctx, key, `UPDATE license_keys SET note = $1 WHERE license_key = $2 AND deleted_at IS NULL`, note)
}

// Delete clears the record and leaves a tombstone holding the key.
func (r *KeyRepository) Delete(ctx context.Context, key string) error {
	query := `
		UPDATE license_keys
		SET deleted_at = NOW(), hwid = NULL, active = FALSE, note = ''
		WHERE license_key = $1 AND deleted_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, key)
	return affected(key, res, err)
}

func (r *KeyRepository) update(ctx context.Context, key, query string, value any) error {
	res, err := r.db.ExecContext(ctx, query, value, key)
	return affected(key, res, err)
}

// List runs a fresh query each time the sequence is ranged over and streams
// rows as they arrive.
func (r *KeyRepository) List(ctx context.Context) iter.Seq2[license.KeyRecord, error] {
	return func(yield func(license.KeyRecord, error) bool) {
		query := `SELECT ` + columns + ` FROM license_keys WHERE deleted_at IS NULL ORDER BY created_at DESC, license_key ASC`
		rows, err := r.db.QueryContext(ctx, query)
		if err != nil {
			yield(license.KeyRecord{}, storeErr(err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				yield(license.KeyRecord{}, storeErr(err))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(license.KeyRecord{}, storeErr(err))
		}
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (license.KeyRecord, error) {
	var (
		rec  license.KeyRecord
		hwid sql.NullString
	)
	if err := s.Scan(&rec.Key, &hwid, &rec.Active, &rec.CreatedAt, &rec.Note); err != nil {
		return license.KeyRecord{}, err
	}
	rec.HWID = hwid.String
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

func affected(key string, res sql.Result, err error) error {
	if err != nil {
		return storeErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr(err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", license.ErrNotFound, license.MaskKey(key))
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// storeErr classifies driver errors: unique violations become ErrDuplicateKey,
// rejected text becomes ErrInvalidArgument, context errors pass through and
// everything else is ErrStoreUnavailable.
func storeErr(err error) error {
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pqErr) && pqErr.Code == uniqueViolation:
		return fmt.Errorf("%w: %s", license.ErrDuplicateKey, pqErr.Message)
	case errors.As(err, &pqErr) && (pqErr.Code == characterNotInRepertoire || pqErr.Code == untranslatableCharacter):
		// The server refused the text itself (NUL bytes, invalid UTF-8).
		return fmt.Errorf("%w: %s", license.ErrInvalidArgument, pqErr.Message)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", license.ErrStoreUnavailable, err)
	}
}
