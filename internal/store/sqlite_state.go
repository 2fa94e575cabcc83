package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var _ MappingStates = (*SQLiteStore)(nil)

// Get returns a mapping's runtime state. A mapping that has never run
// yields zero timestamps, not an error.
func (s *SQLiteStore) Get(ctx context.Context, mappingID string) (*MappingState, error) {
	var pull, push, del int64
	err := s.db.QueryRowContext(ctx, `
		SELECT last_pull_time, last_push_time, last_delete_time
		FROM mapping_state WHERE mapping_id = ?
	`, mappingID).Scan(&pull, &push, &del)
	if errors.Is(err, sql.ErrNoRows) {
		return &MappingState{MappingID: mappingID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mapping state: %w", err)
	}
	return &MappingState{
		MappingID:      mappingID,
		LastPullTime:   parseTimeNano(pull),
		LastPushTime:   parseTimeNano(push),
		LastDeleteTime: parseTimeNano(del),
	}, nil
}

// SetLastPull advances the pull watermark. The update is forward-only:
// a value at or behind the stored watermark is a no-op, so redundant
// re-delivery can never rewind the window.
func (s *SQLiteStore) SetLastPull(ctx context.Context, mappingID string, t time.Time) error {
	return s.setState(ctx, mappingID, "last_pull_time", t)
}

// SetLastPush records the completion time of the latest push run.
func (s *SQLiteStore) SetLastPush(ctx context.Context, mappingID string, t time.Time) error {
	return s.setState(ctx, mappingID, "last_push_time", t)
}

// SetLastDelete records the completion time of the latest delete
// reconciliation.
func (s *SQLiteStore) SetLastDelete(ctx context.Context, mappingID string, t time.Time) error {
	return s.setState(ctx, mappingID, "last_delete_time", t)
}

func (s *SQLiteStore) setState(ctx context.Context, mappingID, column string, t time.Time) error {
	// column comes from the fixed caller set above, never user input.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mapping_state (mapping_id, `+column+`)
		VALUES (?, ?)
		ON CONFLICT(mapping_id) DO UPDATE SET `+column+` = excluded.`+column+`
		WHERE excluded.`+column+` > mapping_state.`+column+`
	`, mappingID, timeNano(t))
	if err != nil {
		return fmt.Errorf("set %s: %w", column, err)
	}
	return nil
}
