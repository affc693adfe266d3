package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// advisoryNamespace keeps run locks apart from other advisory lock users.
const advisoryNamespace int32 = 0x5350 // "SP"

// AdvisoryLocker serializes pipeline runs across processes with Postgres
// session advisory locks. Each held lock pins one pooled connection.
type AdvisoryLocker struct {
	db *sql.DB
}

// NewAdvisoryLocker creates a locker on a Postgres-backed store.
func NewAdvisoryLocker(store *SQLStore) (*AdvisoryLocker, error) {
	if store.Dialect() != DialectPostgres {
		return nil, fmt.Errorf("advisory locks require postgres, store uses %s", store.Dialect())
	}
	return &AdvisoryLocker{db: store.DB()}, nil
}

// TryLock takes the lock for audioID without waiting. ok is false when another
// session holds it.
func (l *AdvisoryLocker) TryLock(ctx context.Context, audioID int64) (unlock func(), ok bool, err error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock connection: %w", err)
	}

	// the two-key form takes int4 keys, so the id is folded into 32 bits
	key := int32(audioID ^ (audioID >> 32))
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1, $2)`, advisoryNamespace, key).Scan(&ok); err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Close()
		return nil, false, nil
	}

	unlock = func() {
		// the run's context may already be done; unlocking must still happen
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1, $2)`, advisoryNamespace, key)
		conn.Close()
	}
	return unlock, true, nil
}
