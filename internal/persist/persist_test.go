package persist

import (
	"path/filepath"
	"testing"

	"outrigger/internal/store"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "outrigger.db")

	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	entries := map[string]store.Value{
		"resource:r1": store.NewResourceValue(1.5, store.StatePleaseAssign, "eth0:10.0.0.1"),
		"assign:r1":   store.NewAssignmentValue("peer-a"),
	}
	for k, v := range entries {
		if err := s.Save(k, v); err != nil {
			t.Fatalf("Save(%q): %v", k, err)
		}
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != len(entries) {
		t.Fatalf("got %d entries, want %d", len(loaded), len(entries))
	}
	r1, ok := loaded["resource:r1"]
	if !ok || r1.Resource.Address != "eth0:10.0.0.1" {
		t.Fatalf("resource:r1 round-tripped wrong: %+v", r1)
	}
	a1, ok := loaded["assign:r1"]
	if !ok || a1.Assignment.Peer == nil || *a1.Assignment.Peer != "peer-a" {
		t.Fatalf("assign:r1 round-tripped wrong: %+v", a1)
	}
}

func TestSaveOverwritesExistingKey(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "outrigger.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Save("resource:r1", store.NewResourceValue(0, store.StatePleaseAssign, "eth0:10.0.0.1")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save("resource:r1", store.DeletedValue(store.KindResource)); err != nil {
		t.Fatalf("Save overwrite: %v", err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected exactly one row after overwrite, got %d", len(loaded))
	}
	if !loaded["resource:r1"].Deleted {
		t.Fatalf("expected the tombstone to win, got %+v", loaded["resource:r1"])
	}
}

func TestBackupCreatesFile(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "outrigger.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	s.Save("resource:r1", store.NewResourceValue(0, store.StatePleaseAssign, "eth0:10.0.0.1"))

	dest := filepath.Join(dir, "outrigger.db.backup")
	if err := s.Backup(dest); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	backup, err := Open(dest)
	if err != nil {
		t.Fatalf("reopen backup: %v", err)
	}
	defer backup.Close()
	loaded, err := backup.Load()
	if err != nil {
		t.Fatalf("Load backup: %v", err)
	}
	if _, ok := loaded["resource:r1"]; !ok {
		t.Fatal("expected backup to contain resource:r1")
	}
}
