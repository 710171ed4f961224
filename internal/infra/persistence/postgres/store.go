// Package postgres keeps the reconciliation state in Postgres. Transactions run
// against the in-memory engine; each commit upserts the JSONB rows of the
// buckets it changed before the new state becomes visible.
package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"refereecore/internal/infra/persistence/memory"
	"refereecore/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/refereecore?sslmode=disable"

	// commitLockKey serializes commits of every process sharing the database.
	commitLockKey int64 = 0x7265666572656531
)

const (
	createStateTable = `CREATE TABLE IF NOT EXISTS reconcile_state (
	bucket     TEXT PRIMARY KEY,
	payload    JSONB NOT NULL,
	revision   BIGINT NOT NULL DEFAULT 1,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	selectState = `SELECT bucket, payload FROM reconcile_state`
	lockCommits = `SELECT pg_advisory_xact_lock($1)`
	upsertState = `INSERT INTO reconcile_state(bucket, payload) VALUES($1, $2)
ON CONFLICT(bucket) DO UPDATE SET payload = EXCLUDED.payload,
	revision = reconcile_state.revision + 1, updated_at = now()`
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists state to Postgres while reusing the in-memory implementation for transactions.
type Store struct {
	*memory.Store
	db *sql.DB

	mu      sync.Mutex
	digests map[string][sha256.Size]byte
}

// NewStore opens the database at dsn (defaultDSN when empty), creates the
// state table if needed and hydrates the in-memory engine from it.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, createStateTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure state table: %w", err)
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore(engine)
	mem.ImportState(snapshot)
	s := &Store{Store: mem, db: db, digests: make(map[string][sha256.Size]byte)}
	mem.SetCommitHook(s.persist)
	return s, nil
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	rows, err := db.QueryContext(ctx, selectState)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	targets := make(map[string]any)
	for _, b := range snapshot.Buckets() {
		targets[b.Name] = b.Target
	}
	for rows.Next() {
		var (
			bucket  string
			payload []byte
		)
		if err := rows.Scan(&bucket, &payload); err != nil {
			return memory.Snapshot{}, fmt.Errorf("scan state: %w", err)
		}
		target, ok := targets[bucket]
		if !ok || len(payload) == 0 {
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return memory.Snapshot{}, fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate state: %w", err)
	}
	return snapshot, nil
}

// persist writes the buckets whose encoding differs from the last successful
// commit. Digests advance only once Postgres has committed.
func (s *Store) persist(ctx context.Context, snapshot memory.Snapshot) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type row struct {
		bucket string
		data   []byte
		digest [sha256.Size]byte
	}
	var changed []row
	for _, b := range snapshot.Buckets() {
		data, err := json.Marshal(b.Target)
		if err != nil {
			return fmt.Errorf("encode %s: %w", b.Name, err)
		}
		digest := sha256.Sum256(data)
		if prev, ok := s.digests[b.Name]; ok && prev == digest {
			continue
		}
		changed = append(changed, row{bucket: b.Name, data: data, digest: digest})
	}
	if len(changed) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, lockCommits, commitLockKey); err != nil {
		return fmt.Errorf("lock commits: %w", err)
	}
	for _, r := range changed {
		if _, err := tx.ExecContext(ctx, upsertState, r.bucket, r.data); err != nil {
			return fmt.Errorf("upsert %s: %w", r.bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	for _, r := range changed {
		s.digests[r.bucket] = r.digest
	}
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
