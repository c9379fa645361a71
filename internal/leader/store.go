package leader

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// LeaseStore persists session leases. Implementations must be safe for
// concurrent use and atomic per call: TryAcquire either transfers the
// lease or leaves it untouched.
type LeaseStore interface {
	// TryAcquire acquires or renews the lease on session for holder.
	// It succeeds when the lease is free, expired, or already held by
	// this holder, and reports whether holder owns the lease afterwards.
	TryAcquire(ctx context.Context, session, holder string, ttl time.Duration) (bool, error)

	// Release frees the lease if held by holder. Releasing a lease
	// held by someone else is a no-op.
	Release(ctx context.Context, session, holder string) error
}

// MemoryLeaseStore is an in-process LeaseStore for single-binary
// deployments and tests.
type MemoryLeaseStore struct {
	mu     sync.Mutex
	leases map[string]memoryLease
}

type memoryLease struct {
	holder    string
	expiresAt time.Time
}

// NewMemoryLeaseStore creates an empty in-memory lease store.
func NewMemoryLeaseStore() *MemoryLeaseStore {
	return &MemoryLeaseStore{
		leases: make(map[string]memoryLease),
	}
}

// TryAcquire acquires or renews the lease on session for holder.
func (m *MemoryLeaseStore) TryAcquire(ctx context.Context, session, holder string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	lease, ok := m.leases[session]
	if ok && lease.holder != holder && now.Before(lease.expiresAt) {
		return false, nil
	}

	m.leases[session] = memoryLease{
		holder:    holder,
		expiresAt: now.Add(ttl),
	}
	return true, nil
}

// Release frees the lease if held by holder.
func (m *MemoryLeaseStore) Release(ctx context.Context, session, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lease, ok := m.leases[session]; ok && lease.holder == holder {
		delete(m.leases, session)
	}
	return nil
}

// PostgresLeaseStore is a LeaseStore backed by the feed_leases table,
// for sessions whose instances span multiple processes.
type PostgresLeaseStore struct {
	pool *pgxpool.Pool
}

// NewPostgresLeaseStore creates a lease store on the given pool.
func NewPostgresLeaseStore(pool *pgxpool.Pool) *PostgresLeaseStore {
	return &PostgresLeaseStore{pool: pool}
}

// The upsert only transfers the lease when the row is absent, expired,
// or already owned by this holder. RowsAffected is 0 when the WHERE
// clause rejects the update, which is the losing case.
const acquireLeaseSQL = `
	INSERT INTO feed_leases (session_id, holder, expires_at)
	VALUES ($1, $2, now() + make_interval(secs => $3))
	ON CONFLICT (session_id) DO UPDATE
	SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
	WHERE feed_leases.holder = EXCLUDED.holder
	   OR feed_leases.expires_at < now()
`

const releaseLeaseSQL = `
	DELETE FROM feed_leases WHERE session_id = $1 AND holder = $2
`

// TryAcquire acquires or renews the lease on session for holder.
func (p *PostgresLeaseStore) TryAcquire(ctx context.Context, session, holder string, ttl time.Duration) (bool, error) {
	tag, err := p.pool.Exec(ctx, acquireLeaseSQL, session, holder, ttl.Seconds())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Release frees the lease if held by holder.
func (p *PostgresLeaseStore) Release(ctx context.Context, session, holder string) error {
	_, err := p.pool.Exec(ctx, releaseLeaseSQL, session, holder)
	return err
}
