package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoggerWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	l, err := NewLogger(path)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer l.Close()

	if err := l.Log(Entry{Action: "resource_assigned", Peer: "a", Resource: "r1", Success: true}); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := l.Log(Entry{Action: "platform_install", Peer: "a", Resource: "r1", Success: false}); err != nil {
		t.Fatalf("Log: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var entries []Entry
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal line %q: %v", scanner.Text(), err)
		}
		entries = append(entries, e)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(entries))
	}
	if entries[0].Level != LevelInfo {
		t.Errorf("successful action should be INFO, got %s", entries[0].Level)
	}
	if entries[1].Level != LevelError {
		t.Errorf("failed action should be ERROR, got %s", entries[1].Level)
	}
}

func TestLoadOrCreateAuditKeyPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "audit.key")

	key1, err := LoadOrCreateAuditKey(path)
	if err != nil {
		t.Fatalf("LoadOrCreateAuditKey (create): %v", err)
	}
	if len(key1) != 32 {
		t.Fatalf("expected a 32-byte key, got %d bytes", len(key1))
	}

	key2, err := LoadOrCreateAuditKey(path)
	if err != nil {
		t.Fatalf("LoadOrCreateAuditKey (reload): %v", err)
	}
	if string(key1) != string(key2) {
		t.Fatal("expected the second call to load the same key, not mint a new one")
	}
}

func TestLoadOrCreateAuditKeyRejectsWrongLength(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.key")
	if err := os.WriteFile(path, []byte("too-short"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := LoadOrCreateAuditKey(path); err == nil {
		t.Fatal("expected an error for a wrong-length key file")
	}
}
