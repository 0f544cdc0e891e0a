package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chain-screening/internal/overrides"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertOverrideSQL = `INSERT INTO override_entries (
        list,
        address,
        chains,
        reason,
        added_by,
        added_at,
        expires_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (list, address) DO UPDATE
    SET
        chains     = EXCLUDED.chains,
        reason     = EXCLUDED.reason,
        added_by   = EXCLUDED.added_by,
        added_at   = EXCLUDED.added_at,
        expires_at = EXCLUDED.expires_at,
        updated_at = now();`

	listOverridesSQL = `SELECT
        address,
        chains,
        reason,
        added_by,
        added_at,
        expires_at
    FROM override_entries
    WHERE list = $1
    ORDER BY added_at, address;`

	deleteOverrideSQL = `DELETE FROM override_entries WHERE list = $1 AND address = $2;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// OverrideStore persists operator override lists.
type OverrideStore interface {
	UpsertOverride(ctx context.Context, list overrides.List, entry overrides.Entry) error
	ListOverrides(ctx context.Context, list overrides.List) ([]overrides.Entry, error)
	DeleteOverride(ctx context.Context, list overrides.List, address string) (bool, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the Postgres-backed persistence layer.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the session lock dies with the connection anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertOverride writes one entry; the address is stored lower-cased.
func (s *Store) UpsertOverride(ctx context.Context, list overrides.List, entry overrides.Entry) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	rec := newOverrideRecord(list, entry)
	if _, execErr := pool.Exec(ctx, upsertOverrideSQL,
		rec.List,
		rec.Address,
		rec.Chains,
		rec.Reason,
		rec.AddedBy,
		rec.AddedAt,
		rec.ExpiresAt,
	); execErr != nil {
		return fmt.Errorf("upsert override: %w", execErr)
	}
	return nil
}

// ListOverrides returns every stored entry for list, expired ones included.
func (s *Store) ListOverrides(ctx context.Context, list overrides.List) ([]overrides.Entry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listOverridesSQL, string(list))
	if queryErr != nil {
		return nil, fmt.Errorf("list overrides: %w", queryErr)
	}
	defer rows.Close()

	var entries []overrides.Entry
	for rows.Next() {
		entry, scanErr := scanOverride(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		entries = append(entries, entry)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

// DeleteOverride removes an entry and reports whether it existed.
func (s *Store) DeleteOverride(ctx context.Context, list overrides.List, address string) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	tag, execErr := pool.Exec(ctx, deleteOverrideSQL, string(list), normalizeAddress(address))
	if execErr != nil {
		return false, fmt.Errorf("delete override: %w", execErr)
	}
	return tag.RowsAffected() > 0, nil
}

func scanOverride(rows pgx.Rows) (overrides.Entry, error) {
	var (
		entry   overrides.Entry
		chains  []string
		expires *time.Time
	)
	if err := rows.Scan(
		&entry.Address,
		&chains,
		&entry.Reason,
		&entry.AddedBy,
		&entry.AddedAt,
		&expires,
	); err != nil {
		return overrides.Entry{}, fmt.Errorf("scan override: %w", err)
	}
	if len(chains) > 0 {
		entry.Chains = chains
	}
	entry.ExpiresAt = expires
	return entry, nil
}
