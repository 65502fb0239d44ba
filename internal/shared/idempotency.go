package shared

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/blake2b"
)

// Querier is the subset of pgx.Tx used by the idempotency helpers.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// IdempotencyRecord is a row of idempotency_keys.
type IdempotencyRecord struct {
	Key         string
	Module      string
	Fingerprint string
	Response    []byte
	CreatedAt   time.Time
}

// Completed reports whether the original request stored its result.
func (r IdempotencyRecord) Completed() bool {
	return len(r.Response) > 0
}

var (
	// ErrIdempotencyMismatch indicates a key reused for a different payload.
	ErrIdempotencyMismatch = Conflict("idempotency key already used with a different request")
	// ErrIdempotencyInFlight indicates the original request has not finished.
	ErrIdempotencyInFlight = Conflict("request with this idempotency key is still being processed")
)

// Fingerprint hashes the canonical request parts with BLAKE2b-256.
func Fingerprint(parts ...[]byte) string {
	h, _ := blake2b.New256(nil)
	for _, p := range parts {
		_, _ = h.Write(p)
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ClaimIdempotencyKey inserts key inside the caller's transaction. When the
// key is new, claimed is true and the caller proceeds. Otherwise the stored
// record is returned; a concurrent claimer blocks on the unique index until
// the first transaction finishes.
func ClaimIdempotencyKey(ctx context.Context, q Querier, module, key, fingerprint string) (rec IdempotencyRecord, claimed bool, err error) {
	if key == "" || module == "" {
		return IdempotencyRecord{}, false, errors.New("idempotency key and module required")
	}
	var createdAt time.Time
	err = q.QueryRow(ctx, `INSERT INTO idempotency_keys (key, module, fingerprint, created_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (module, key) DO NOTHING
RETURNING created_at`, key, module, fingerprint).Scan(&createdAt)
	if err == nil {
		return IdempotencyRecord{Key: key, Module: module, Fingerprint: fingerprint, CreatedAt: createdAt}, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, fmt.Errorf("claim idempotency key: %w", err)
	}
	rec = IdempotencyRecord{Key: key, Module: module}
	err = q.QueryRow(ctx, `SELECT fingerprint, response, created_at FROM idempotency_keys WHERE module=$1 AND key=$2`, module, key).
		Scan(&rec.Fingerprint, &rec.Response, &rec.CreatedAt)
	if err != nil {
		return IdempotencyRecord{}, false, fmt.Errorf("load idempotency key: %w", err)
	}
	return rec, false, nil
}

// CheckReplay validates a previously claimed record against the new request.
func CheckReplay(rec IdempotencyRecord, fingerprint string) error {
	if rec.Fingerprint != fingerprint {
		return ErrIdempotencyMismatch
	}
	if !rec.Completed() {
		return ErrIdempotencyInFlight
	}
	return nil
}

// SaveIdempotencyResponse stores the serialized result of the claimed request.
func SaveIdempotencyResponse(ctx context.Context, q Querier, module, key string, response []byte) error {
	_, err := q.Exec(ctx, `UPDATE idempotency_keys SET response=$3 WHERE module=$1 AND key=$2`, module, key, response)
	return err
}

// IdempotencyStore maintains the idempotency_keys table of one database.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// Cleanup removes entries older than retention and returns how many went.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, nil
	}
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
