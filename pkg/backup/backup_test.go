package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type settingsDoc struct {
	Quality string `json:"quality"`
	Port    int    `json:"port"`
}

func newTestService(t *testing.T) (*Service, string, *time.Time) {
	t.Helper()
	tmpDir := t.TempDir()
	storage, err := NewFileStorage(tmpDir)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	service := NewService(storage, "1.0.0")
	service.now = func() time.Time { return now }
	return service, tmpDir, &now
}

func TestService_CreateAndLoad(t *testing.T) {
	service, tmpDir, _ := newTestService(t)
	ctx := context.Background()

	name, err := service.Create(ctx, "settings", settingsDoc{Quality: "high", Port: 8554}, map[string]string{"trigger": "manual"})
	if err != nil {
		t.Fatalf("failed to create backup: %v", err)
	}
	if name != "settings-20240301-120000.000.json" {
		t.Errorf("unexpected backup name %q", name)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, name)); err != nil {
		t.Fatalf("backup file does not exist: %v", err)
	}

	snap, err := service.Load(ctx, "settings", name)
	if err != nil {
		t.Fatalf("failed to load backup: %v", err)
	}
	if snap.Version != "1.0.0" || snap.Metadata["trigger"] != "manual" {
		t.Errorf("unexpected snapshot header: %+v", snap)
	}

	var doc settingsDoc
	if err := snap.Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Quality != "high" || doc.Port != 8554 {
		t.Errorf("unexpected payload %+v", doc)
	}
}

func TestService_LoadRejectsOtherKind(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	name, err := service.Create(ctx, "settings", settingsDoc{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := service.Load(ctx, "alerts", name); !errors.Is(err, ErrKindMismatch) {
		t.Fatalf("expected kind mismatch, got %v", err)
	}
}

func TestService_ListLatestPrune(t *testing.T) {
	service, tmpDir, now := newTestService(t)
	ctx := context.Background()

	var names []string
	for range 3 {
		name, err := service.Create(ctx, "settings", settingsDoc{}, nil)
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, name)
		*now = now.Add(24 * time.Hour)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "settings-notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	listed, err := service.List(ctx, "settings")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("expected 3 backups, got %v", listed)
	}

	latest, err := service.Latest(ctx, "settings")
	if err != nil || latest != names[2] {
		t.Errorf("expected latest %s, got %s (%v)", names[2], latest, err)
	}

	// now is one day after the newest; keep two days.
	removed, err := service.Prune(ctx, "settings", 48*time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(removed) != 1 || removed[0] != names[0] {
		t.Errorf("expected only %s pruned, got %v", names[0], removed)
	}

	listed, _ = service.List(ctx, "settings")
	if len(listed) != 2 {
		t.Errorf("expected 2 backups after prune, got %v", listed)
	}
}

func TestService_LatestEmpty(t *testing.T) {
	service, _, _ := newTestService(t)

	latest, err := service.Latest(context.Background(), "settings")
	if err != nil || latest != "" {
		t.Errorf("expected no backup, got %q (%v)", latest, err)
	}
}

func TestParseSnapshotName(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 5, 250e6, time.UTC)

	got, ok := ParseSnapshotName("settings", SnapshotName("settings", ts))
	if !ok || !got.Equal(ts) {
		t.Errorf("round trip failed: %v %v", got, ok)
	}

	for _, name := range []string{"settings.json", "settings-x.json", "alerts-20240301-120000.000.json", "settings-20240301-120000.000"} {
		if _, ok := ParseSnapshotName("settings", name); ok {
			t.Errorf("expected %q to be rejected", name)
		}
	}
}

func TestFileStorage(t *testing.T) {
	storage, err := NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	ctx := context.Background()

	if err := storage.Save(ctx, "a.json", strings.NewReader("data")); err != nil {
		t.Fatalf("save: %v", err)
	}

	rc, err := storage.Load(ctx, "a.json")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	rc.Close()

	files, err := storage.List(ctx, "")
	if err != nil || len(files) != 1 {
		t.Errorf("expected one file without temp leftovers, got %v (%v)", files, err)
	}

	if err := storage.Delete(ctx, "a.json"); err != nil {
		t.Errorf("delete: %v", err)
	}
	if _, err := storage.Load(ctx, "a.json"); err == nil {
		t.Error("expected error loading deleted file")
	}
}

func TestFileStorage_RejectsPaths(t *testing.T) {
	storage, err := NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"", "../escape.json", "sub/dir.json", ".hidden"} {
		if err := storage.Save(context.Background(), name, strings.NewReader("x")); err == nil {
			t.Errorf("expected %q to be rejected", name)
		}
	}
}
