package storage

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jbctechsolutions/focussync/internal/application/ports"
	domainSync "github.com/jbctechsolutions/focussync/internal/domain/sync"
)

// Compile-time check that PendingChangeRepository implements PendingChangeQueuePort.
var _ ports.PendingChangeQueuePort = (*PendingChangeRepository)(nil)

// removeBatchSize keeps IN lists well under SQLite's bound parameter limit.
const removeBatchSize = 500

// PendingChangeRepository is the SQLite-backed change queue. Order is the
// AUTOINCREMENT seq column, so it survives restarts and never reuses positions.
type PendingChangeRepository struct {
	db querier
}

// NewPendingChangeRepository creates a new queue repository.
func NewPendingChangeRepository(db *sql.DB) *PendingChangeRepository {
	return &PendingChangeRepository{db: db}
}

// Append adds a change to the tail of the queue.
func (r *PendingChangeRepository) Append(ctx context.Context, change *domainSync.PendingChange) error {
	if err := change.Validate(); err != nil {
		return err
	}

	var payload any
	if len(change.Payload) > 0 {
		payload = []byte(change.Payload)
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO pending_changes (id, entity_type, entity_id, operation, timestamp, payload, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		change.ID,
		string(change.EntityType),
		change.EntityID,
		string(change.Operation),
		formatTime(change.Timestamp),
		payload,
		change.RetryCount,
	)
	if err != nil {
		return repoError("failed to append pending change", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return repoError("failed to read pending change sequence", err)
	}
	change.Seq = seq
	return nil
}

// ListAll returns the queue in append order.
func (r *PendingChangeRepository) ListAll(ctx context.Context) ([]*domainSync.PendingChange, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT seq, id, entity_type, entity_id, operation, timestamp, payload, retry_count
		FROM pending_changes
		ORDER BY seq`)
	if err != nil {
		return nil, repoError("failed to query pending changes", err)
	}
	defer rows.Close()

	var changes []*domainSync.PendingChange
	for rows.Next() {
		var (
			c                  domainSync.PendingChange
			entityType, op, ts string
			payload            []byte
		)
		if err := rows.Scan(&c.Seq, &c.ID, &entityType, &c.EntityID, &op, &ts, &payload, &c.RetryCount); err != nil {
			return nil, repoError("failed to scan pending change", err)
		}
		c.EntityType = domainSync.EntityType(entityType)
		c.Operation = domainSync.Operation(op)
		if c.Timestamp, err = parseTime(ts); err != nil {
			return nil, repoError("failed to parse pending change timestamp", err)
		}
		if len(payload) > 0 {
			c.Payload = payload
		}
		changes = append(changes, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, repoError("error iterating pending changes", err)
	}
	return changes, nil
}

// RemoveByIDs deletes the given entries.
func (r *PendingChangeRepository) RemoveByIDs(ctx context.Context, ids []string) error {
	for start := 0; start < len(ids); start += removeBatchSize {
		end := start + removeBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(batch)), ", ")
		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		if _, err := r.db.ExecContext(ctx, `DELETE FROM pending_changes WHERE id IN (`+placeholders+`)`, args...); err != nil {
			return repoError("failed to remove pending changes", err)
		}
	}
	return nil
}

// IncrementRetry bumps an entry's retry counter. Missing entries are ignored.
func (r *PendingChangeRepository) IncrementRetry(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE pending_changes SET retry_count = retry_count + 1 WHERE id = ?`, id); err != nil {
		return repoError("failed to increment retry count", err)
	}
	return nil
}

// Count returns the queue length.
func (r *PendingChangeRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_changes`).Scan(&n); err != nil {
		return 0, repoError("failed to count pending changes", err)
	}
	return n, nil
}

// MaxRetryCount returns the highest retry counter in the queue.
func (r *PendingChangeRepository) MaxRetryCount(ctx context.Context) (int, error) {
	var n sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(retry_count) FROM pending_changes`).Scan(&n); err != nil {
		return 0, repoError("failed to read retry counts", err)
	}
	return int(n.Int64), nil
}
