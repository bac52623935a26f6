package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func newTestStorage(t *testing.T) (*LocalStorage, string) {
	t.Helper()
	tmpDir := t.TempDir()

	store, err := NewLocalStorage(filepath.Join(tmpDir, "lake"))
	if err != nil {
		t.Fatalf("NewLocalStorage failed: %v", err)
	}
	return store, tmpDir
}

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestLocalStorage_UploadDownload(t *testing.T) {
	store, tmpDir := newTestStorage(t)
	ctx := context.Background()

	src := writeTempFile(t, tmpDir, "src.txt", "hello lake")
	if err := store.Upload(ctx, src, "events/dt=2025-11-01/events.ndjson.snappy"); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	dest := filepath.Join(tmpDir, "out.txt")
	if err := store.Download(ctx, "events/dt=2025-11-01/events.ndjson.snappy", dest); err != nil {
		t.Fatalf("Download failed: %v", err)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(data) != "hello lake" {
		t.Errorf("round trip mismatch: got %q", data)
	}
}

func TestLocalStorage_DownloadMissing(t *testing.T) {
	store, tmpDir := newTestStorage(t)

	err := store.Download(context.Background(), "users/users.ndjson.snappy", filepath.Join(tmpDir, "out"))
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestLocalStorage_Exists(t *testing.T) {
	store, tmpDir := newTestStorage(t)
	ctx := context.Background()

	ok, err := store.Exists(ctx, "users/users.ndjson.snappy")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if ok {
		t.Error("object should not exist yet")
	}

	src := writeTempFile(t, tmpDir, "users.txt", "{}")
	if err := store.Upload(ctx, src, "users/users.ndjson.snappy"); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	ok, err = store.Exists(ctx, "users/users.ndjson.snappy")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !ok {
		t.Error("object should exist after upload")
	}
}

func TestLocalStorage_DeleteIdempotent(t *testing.T) {
	store, tmpDir := newTestStorage(t)
	ctx := context.Background()

	src := writeTempFile(t, tmpDir, "a.txt", "x")
	if err := store.Upload(ctx, src, "events/dt=2025-11-01/events.ndjson.snappy"); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if err := store.Delete(ctx, "events/dt=2025-11-01/events.ndjson.snappy"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	// Second delete of a missing object is not an error.
	if err := store.Delete(ctx, "events/dt=2025-11-01/events.ndjson.snappy"); err != nil {
		t.Fatalf("repeat Delete failed: %v", err)
	}
}

func TestLocalStorage_ListObjects(t *testing.T) {
	store, tmpDir := newTestStorage(t)
	ctx := context.Background()

	src := writeTempFile(t, tmpDir, "f.txt", "x")
	paths := []string{
		"events/dt=2025-11-01/events.ndjson.snappy",
		"events/dt=2025-11-02/events.ndjson.snappy",
		"users/users.ndjson.snappy",
	}
	for _, p := range paths {
		if err := store.Upload(ctx, src, p); err != nil {
			t.Fatalf("Upload %s failed: %v", p, err)
		}
	}

	objects, err := store.ListObjects(ctx, "events/")
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	sort.Strings(objects)

	want := []string{
		"events/dt=2025-11-01/events.ndjson.snappy",
		"events/dt=2025-11-02/events.ndjson.snappy",
	}
	if len(objects) != len(want) {
		t.Fatalf("expected %d objects, got %d: %v", len(want), len(objects), objects)
	}
	for i := range want {
		if objects[i] != want[i] {
			t.Errorf("object[%d] = %q, want %q", i, objects[i], want[i])
		}
	}

	// Missing prefix yields an empty list, not an error.
	none, err := store.ListObjects(ctx, "nothing/")
	if err != nil {
		t.Fatalf("ListObjects on missing prefix failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected empty list, got %v", none)
	}
}
