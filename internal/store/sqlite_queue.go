package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/apisync/internal/mapping"
)

var _ PushQueue = (*SQLiteStore)(nil)

// claimAttempts bounds the conditional-update retry loop so a pathological
// race cannot spin forever.
const claimAttempts = 10

// Enqueue inserts or merges a queue item. The (name, entity id) key is
// unique: re-enqueueing overwrites the operation and mapped-object
// reference and refreshes updated, while the existing failure count and
// lease survive. Use Requeue to reset failures explicitly.
func (s *SQLiteStore) Enqueue(ctx context.Context, item QueueItem) error {
	now := time.Now().UTC()
	if item.ID == "" {
		item.ID = ulid.Make().String()
	}
	if item.Created.IsZero() {
		item.Created = now
	}
	item.Updated = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO push_queue (id, name, entity_id, op, mapped_object_id, failures, expire, created, updated)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(name, entity_id) DO UPDATE SET
			op = excluded.op,
			mapped_object_id = excluded.mapped_object_id,
			updated = excluded.updated
	`, item.ID, item.Name, item.EntityID, string(item.Op), item.MappedObjectID,
		item.Failures, timeNano(item.Created), timeNano(item.Updated))
	if err != nil {
		return fmt.Errorf("enqueue push item: %w", err)
	}
	return nil
}

const queueItemColumns = `id, name, entity_id, op, mapped_object_id, failures, expire, created, updated`

func scanQueueItem(row interface{ Scan(...any) error }) (QueueItem, error) {
	var item QueueItem
	var op string
	var expire, created, updated int64
	err := row.Scan(&item.ID, &item.Name, &item.EntityID, &op, &item.MappedObjectID,
		&item.Failures, &expire, &created, &updated)
	if err != nil {
		return QueueItem{}, err
	}
	item.Op = mapping.Operation(op)
	item.Expire = parseTimeNano(expire)
	item.Created = parseTimeNano(created)
	item.Updated = parseTimeNano(updated)
	return item, nil
}

// ClaimItems atomically leases up to n claimable items of one mapping's
// queue. Claimable means the lease is absent or expired and the failure
// count is under failLimit. Selection order is (created, id),
// approximating FIFO.
//
// The claim is a conditional update restricted to still-unleased rows;
// when a concurrent claimer wins every selected row, the whole claim is
// retried. This is the sole concurrency-control mechanism: no locks.
func (s *SQLiteStore) ClaimItems(ctx context.Context, name string, n, failLimit int, leaseTime time.Duration) ([]QueueItem, error) {
	if n <= 0 {
		return nil, nil
	}

	for attempt := 0; attempt < claimAttempts; attempt++ {
		now := time.Now().UTC()
		rows, err := s.db.QueryContext(ctx, `
			SELECT `+queueItemColumns+`
			FROM push_queue
			WHERE name = ? AND expire <= ? AND failures < ?
			ORDER BY created, id
			LIMIT ?
		`, name, timeNano(now), failLimit, n)
		if err != nil {
			return nil, fmt.Errorf("select claimable items: %w", err)
		}

		var candidates []QueueItem
		for rows.Next() {
			item, err := scanQueueItem(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			candidates = append(candidates, item)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()

		if len(candidates) == 0 {
			return nil, nil
		}

		lease := now.Add(leaseTime)
		ids := make([]any, 0, len(candidates)+2)
		placeholders := make([]string, len(candidates))
		ids = append(ids, timeNano(lease), timeNano(now))
		for i, c := range candidates {
			placeholders[i] = "?"
			ids = append(ids, c.ID)
		}

		res, err := s.db.ExecContext(ctx, `
			UPDATE push_queue SET expire = ?
			WHERE expire <= ? AND id IN (`+strings.Join(placeholders, ",")+`)
		`, ids...)
		if err != nil {
			return nil, fmt.Errorf("lease items: %w", err)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			// Lost every row to a concurrent claimer; try again.
			continue
		}

		// Reread to find which rows this claim actually leased.
		args := make([]any, 0, len(candidates)+1)
		args = append(args, timeNano(lease))
		for _, c := range candidates {
			args = append(args, c.ID)
		}
		claimedRows, err := s.db.QueryContext(ctx, `
			SELECT `+queueItemColumns+`
			FROM push_queue
			WHERE expire = ? AND id IN (`+strings.Join(placeholders, ",")+`)
			ORDER BY created, id
		`, args...)
		if err != nil {
			return nil, fmt.Errorf("reread claimed items: %w", err)
		}
		defer claimedRows.Close()

		var claimed []QueueItem
		for claimedRows.Next() {
			item, err := scanQueueItem(claimedRows)
			if err != nil {
				return nil, err
			}
			claimed = append(claimed, item)
		}
		return claimed, claimedRows.Err()
	}

	return nil, fmt.Errorf("claim contention: gave up after %d attempts", claimAttempts)
}

// Release clears the leases of the given items, making them immediately
// claimable again.
func (s *SQLiteStore) Release(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE push_queue SET expire = 0
		WHERE id IN (`+strings.Join(placeholders, ",")+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("release items: %w", err)
	}
	return nil
}

// Fail increments an item's failure count and clears its lease. Items
// whose count reaches the mapping's limit stop being claimed but stay in
// the table for operator visibility.
func (s *SQLiteStore) Fail(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE push_queue SET failures = failures + 1, expire = 0, updated = ?
		WHERE id = ?
	`, timeNano(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("fail item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteItem removes an item outright. Reserved for success and for the
// non-retryable entity-not-found case.
func (s *SQLiteStore) DeleteItem(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM push_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

// Requeue resets an item's failure count and lease, returning a
// permanently-failed item to circulation.
func (s *SQLiteStore) Requeue(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE push_queue SET failures = 0, expire = 0, updated = ?
		WHERE id = ?
	`, timeNano(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("requeue item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Len returns the number of items queued for one mapping.
func (s *SQLiteStore) Len(ctx context.Context, name string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM push_queue WHERE name = ?`, name).Scan(&n)
	return n, err
}

// TotalLen returns the number of items queued across all mappings.
func (s *SQLiteStore) TotalLen(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM push_queue`).Scan(&n)
	return n, err
}

// FailedLen returns the number of permanently-failed items of one
// mapping under the given limit.
func (s *SQLiteStore) FailedLen(ctx context.Context, name string, failLimit int) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM push_queue WHERE name = ? AND failures >= ?
	`, name, failLimit).Scan(&n)
	return n, err
}

// GetItem fetches one queue item by id.
func (s *SQLiteStore) GetItem(ctx context.Context, id string) (QueueItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+queueItemColumns+` FROM push_queue WHERE id = ?
	`, id)
	item, err := scanQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return QueueItem{}, ErrNotFound
	}
	return item, err
}

// GetItemByEntity fetches the queue item for a (mapping, entity) pair.
func (s *SQLiteStore) GetItemByEntity(ctx context.Context, name, entityID string) (QueueItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+queueItemColumns+` FROM push_queue WHERE name = ? AND entity_id = ?
	`, name, entityID)
	item, err := scanQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return QueueItem{}, ErrNotFound
	}
	return item, err
}
