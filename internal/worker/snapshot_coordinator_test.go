package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperengineering/apisync/internal/snapshot"
)

type mockSnapshotStore struct {
	generates atomic.Int64
	genErr    error
	path      string
	pathErr   error
	generated chan struct{}
}

var _ SnapshotStore = (*mockSnapshotStore)(nil)

func newMockSnapshotStore() *mockSnapshotStore {
	return &mockSnapshotStore{
		path:      "/tmp/sync.db.snapshot",
		generated: make(chan struct{}, 16),
	}
}

func (m *mockSnapshotStore) GenerateSnapshot(ctx context.Context) error {
	m.generates.Add(1)
	select {
	case m.generated <- struct{}{}:
	default:
	}
	return m.genErr
}

func (m *mockSnapshotStore) GetSnapshotPath(ctx context.Context) (string, error) {
	return m.path, m.pathErr
}

type mockUploader struct {
	uploads  atomic.Int64
	err      error
	uploaded chan struct{}
	lastPath atomic.Value
}

var _ snapshot.Uploader = (*mockUploader)(nil)

func newMockUploader() *mockUploader {
	return &mockUploader{uploaded: make(chan struct{}, 16)}
}

func (m *mockUploader) Upload(ctx context.Context, filePath string) error {
	m.uploads.Add(1)
	m.lastPath.Store(filePath)
	select {
	case m.uploaded <- struct{}{}:
	default:
	}
	return m.err
}

func (m *mockUploader) PresignedURL(ctx context.Context) (string, time.Time, error) {
	return "", time.Time{}, nil
}

func TestSnapshotCoordinator_GeneratesAndUploads(t *testing.T) {
	store := newMockSnapshotStore()
	uploader := newMockUploader()
	c := NewSnapshotCoordinator(store, 10*time.Millisecond, uploader)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	waitFor(t, store.generated, "immediate snapshot")
	waitFor(t, uploader.uploaded, "upload after snapshot")
	waitFor(t, store.generated, "tick-driven snapshot")

	cancel()
	waitFor(t, done, "coordinator shutdown")

	if got := uploader.lastPath.Load(); got != "/tmp/sync.db.snapshot" {
		t.Errorf("uploaded path = %v", got)
	}
}

func TestSnapshotCoordinator_GenerateFailureSkipsUpload(t *testing.T) {
	store := newMockSnapshotStore()
	store.genErr = errors.New("disk full")
	uploader := newMockUploader()

	c := NewSnapshotCoordinator(store, time.Hour, uploader)
	if c.generateSnapshot(context.Background()) {
		t.Error("generateSnapshot() = true on failure")
	}
	if uploader.uploads.Load() != 0 {
		t.Error("upload attempted after failed snapshot")
	}
}

func TestSnapshotCoordinator_UploadFailureIsNonFatal(t *testing.T) {
	store := newMockSnapshotStore()
	uploader := newMockUploader()
	uploader.err = errors.New("bucket unreachable")

	c := NewSnapshotCoordinator(store, time.Hour, uploader)
	if !c.generateSnapshot(context.Background()) {
		t.Error("generateSnapshot() = false; a failed upload must not fail the snapshot")
	}
}

func TestSnapshotCoordinator_NilUploader(t *testing.T) {
	store := newMockSnapshotStore()
	c := NewSnapshotCoordinator(store, time.Hour, nil)
	if !c.generateSnapshot(context.Background()) {
		t.Error("generateSnapshot() = false with no uploader")
	}
}
