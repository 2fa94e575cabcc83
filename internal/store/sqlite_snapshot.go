package store

import (
	"context"
	"fmt"
	"os"
)

// snapshotSuffix names the snapshot file next to the live database.
const snapshotSuffix = ".snapshot"

// GenerateSnapshot writes a consistent copy of the sync database next to
// the live file using VACUUM INTO. The previous snapshot is replaced.
func (s *SQLiteStore) GenerateSnapshot(ctx context.Context) error {
	target := s.path + snapshotSuffix
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale snapshot: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, target); err != nil {
		return fmt.Errorf("vacuum into snapshot: %w", err)
	}
	return nil
}

// GetSnapshotPath returns the path of the current snapshot file, or an
// error when none has been generated yet.
func (s *SQLiteStore) GetSnapshotPath(ctx context.Context) (string, error) {
	target := s.path + snapshotSuffix
	if _, err := os.Stat(target); err != nil {
		return "", fmt.Errorf("no snapshot available: %w", err)
	}
	return target, nil
}
