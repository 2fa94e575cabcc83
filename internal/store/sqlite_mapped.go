package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

var _ MappedObjects = (*SQLiteStore)(nil)

const mappedObjectColumns = `id, local_type, local_id, mapping_id, COALESCE(remote_id, ''), force_pull,
	last_sync_status, last_sync_action, entity_updated, created, changed`

func scanMappedObject(row interface{ Scan(...any) error }) (*MappedObject, error) {
	var obj MappedObject
	var forcePull int
	var status, action, entityUpdated, created, changed string
	err := row.Scan(&obj.ID, &obj.LocalType, &obj.LocalID, &obj.MappingID, &obj.RemoteID,
		&forcePull, &status, &action, &entityUpdated, &created, &changed)
	if err != nil {
		return nil, err
	}
	obj.ForcePull = forcePull != 0
	obj.LastSyncStatus = SyncStatus(status)
	obj.LastSyncAction = SyncAction(action)
	obj.EntityUpdated = parseTimeText(entityUpdated)
	obj.Created = parseTimeText(created)
	obj.Changed = parseTimeText(changed)
	return &obj, nil
}

// GetByID fetches one link row by its primary key.
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*MappedObject, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+mappedObjectColumns+`
		FROM mapped_objects
		WHERE id = ?
	`, id)
	obj, err := scanMappedObject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return obj, err
}

// GetByLocal fetches the link row for a local entity under a mapping.
func (s *SQLiteStore) GetByLocal(ctx context.Context, mappingID, localType, localID string) (*MappedObject, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+mappedObjectColumns+`
		FROM mapped_objects
		WHERE mapping_id = ? AND local_type = ? AND local_id = ?
	`, mappingID, localType, localID)
	obj, err := scanMappedObject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return obj, err
}

// GetByRemote fetches the link row for a remote identity under a
// mapping.
func (s *SQLiteStore) GetByRemote(ctx context.Context, mappingID, remoteID string) (*MappedObject, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+mappedObjectColumns+`
		FROM mapped_objects
		WHERE mapping_id = ? AND remote_id = ?
	`, mappingID, remoteID)
	obj, err := scanMappedObject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return obj, err
}

// Save upserts the link row, stamps a new revision, and prunes history
// beyond the revision limit. New objects get a ULID and created
// timestamp.
func (s *SQLiteStore) Save(ctx context.Context, obj *MappedObject) error {
	now := time.Now().UTC()
	if obj.ID == "" {
		obj.ID = ulid.Make().String()
		obj.Created = now
	}
	obj.Changed = now

	var remoteID any
	if obj.RemoteID != "" {
		remoteID = obj.RemoteID
	}
	forcePull := 0
	if obj.ForcePull {
		forcePull = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO mapped_objects
			(id, local_type, local_id, mapping_id, remote_id, force_pull,
			 last_sync_status, last_sync_action, entity_updated, created, changed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			local_type = excluded.local_type,
			local_id = excluded.local_id,
			remote_id = excluded.remote_id,
			force_pull = excluded.force_pull,
			last_sync_status = excluded.last_sync_status,
			last_sync_action = excluded.last_sync_action,
			entity_updated = excluded.entity_updated,
			changed = excluded.changed
	`, obj.ID, obj.LocalType, obj.LocalID, obj.MappingID, remoteID, forcePull,
		string(obj.LastSyncStatus), string(obj.LastSyncAction),
		timeText(obj.EntityUpdated), timeText(obj.Created), timeText(obj.Changed))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: mapping %s", ErrDuplicateLink, obj.MappingID)
		}
		return fmt.Errorf("save mapped object: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO mapped_object_revisions
			(id, mapped_object_id, remote_id, last_sync_status, last_sync_action, entity_updated, created)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ulid.Make().String(), obj.ID, remoteID,
		string(obj.LastSyncStatus), string(obj.LastSyncAction),
		timeText(obj.EntityUpdated), timeText(now))
	if err != nil {
		return fmt.Errorf("stamp revision: %w", err)
	}

	// Prune oldest revisions beyond the bound; the newest rows survive.
	_, err = tx.ExecContext(ctx, `
		DELETE FROM mapped_object_revisions
		WHERE mapped_object_id = ?
		  AND id NOT IN (
			SELECT id FROM mapped_object_revisions
			WHERE mapped_object_id = ?
			ORDER BY created DESC, id DESC
			LIMIT ?
		  )
	`, obj.ID, obj.ID, s.revisionLimit)
	if err != nil {
		return fmt.Errorf("prune revisions: %w", err)
	}

	return tx.Commit()
}

// Delete removes one link row; revisions cascade.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM mapped_objects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete mapped object: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByMapping removes every link row of a mapping. Purge tooling.
func (s *SQLiteStore) DeleteByMapping(ctx context.Context, mappingID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM mapped_objects WHERE mapping_id = ?`, mappingID)
	if err != nil {
		return 0, fmt.Errorf("purge mapped objects: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListIDPairs returns the distinct (remote identity, row id) pairs of a
// mapping, the local side of the orphan diff. Rows without a remote
// identity are skipped: they have nothing to compare against.
func (s *SQLiteStore) ListIDPairs(ctx context.Context, mappingID string) ([]IDPair, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT remote_id, id FROM mapped_objects
		WHERE mapping_id = ? AND remote_id IS NOT NULL
	`, mappingID)
	if err != nil {
		return nil, fmt.Errorf("list id pairs: %w", err)
	}
	defer rows.Close()

	var pairs []IDPair
	for rows.Next() {
		var p IDPair
		if err := rows.Scan(&p.RemoteID, &p.MappedObjectID); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// Revisions returns a mapped object's history, newest first.
func (s *SQLiteStore) Revisions(ctx context.Context, mappedObjectID string) ([]Revision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mapped_object_id, COALESCE(remote_id, ''), last_sync_status, last_sync_action, entity_updated, created
		FROM mapped_object_revisions
		WHERE mapped_object_id = ?
		ORDER BY created DESC, id DESC
	`, mappedObjectID)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	var revs []Revision
	for rows.Next() {
		var r Revision
		var status, action, entityUpdated, created string
		if err := rows.Scan(&r.ID, &r.MappedObjectID, &r.RemoteID, &status, &action, &entityUpdated, &created); err != nil {
			return nil, err
		}
		r.LastSyncStatus = SyncStatus(status)
		r.LastSyncAction = SyncAction(action)
		r.EntityUpdated = parseTimeText(entityUpdated)
		r.Created = parseTimeText(created)
		revs = append(revs, r)
	}
	return revs, rows.Err()
}

// RemoteID implements fieldmap.LinkResolver over the link table.
func (s *SQLiteStore) RemoteID(ctx context.Context, mappingID, localID string) (string, bool, error) {
	var remoteID string
	err := s.db.QueryRowContext(ctx, `
		SELECT remote_id FROM mapped_objects
		WHERE mapping_id = ? AND local_id = ? AND remote_id IS NOT NULL
	`, mappingID, localID).Scan(&remoteID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return remoteID, true, nil
}

// LocalID implements fieldmap.LinkResolver over the link table.
func (s *SQLiteStore) LocalID(ctx context.Context, mappingID, remoteID string) (string, bool, error) {
	var localID string
	err := s.db.QueryRowContext(ctx, `
		SELECT local_id FROM mapped_objects
		WHERE mapping_id = ? AND remote_id = ?
	`, mappingID, remoteID).Scan(&localID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return localID, true, nil
}

// isUniqueViolation detects a sqlite unique constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
