// Package persist gives the replicated store a durable SQLite backing so a
// restarted peer rejoins the cluster with its last-known state instead of an
// empty map, matching the teacher's cmd/dplaned/main.go pragma tuning
// (WAL mode, busy_timeout, periodic checkpoint, VACUUM INTO backups).
package persist

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"outrigger/internal/store"
)

// Store wraps a *sql.DB holding a single store_entries table, key TEXT
// primary key, value BLOB holding the JSON encoding of a store.Value. The
// JSON-in-BLOB encoding is the only contract the base spec places on
// persistence (it must round-trip store.Value) so no separate wire schema
// is introduced here.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite file at path, applying the
// same WAL/busy_timeout/cache tuning the teacher's daemon uses for its
// audit database, and ensures the store_entries schema exists.
func Open(path string) (*Store, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=30000&cache=shared&_cache_size=-65536&_wal_autocheckpoint=1000&_synchronous=FULL"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store %q: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Printf("persist: initial WAL checkpoint failed: %v", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init store schema: %w", err)
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS store_entries (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`)
	return err
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB returns the underlying *sql.DB, so the daemon bootstrap can share the
// same SQLite file for internal/audit's chain table, matching the
// teacher's single shared db handle for multiple concerns.
func (s *Store) DB() *sql.DB { return s.db }

// Load reads every persisted entry back into a map suitable for
// store.Store.LoadSnapshot.
func (s *Store) Load() (map[string]store.Value, error) {
	rows, err := s.db.Query("SELECT key, value FROM store_entries")
	if err != nil {
		return nil, fmt.Errorf("query store_entries: %w", err)
	}
	defer rows.Close()

	out := make(map[string]store.Value)
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scan store_entries row: %w", err)
		}
		var v store.Value
		if err := v.UnmarshalJSON(raw); err != nil {
			log.Printf("persist: dropping unreadable row %q: %v", key, err)
			continue
		}
		out[key] = v
	}
	return out, rows.Err()
}

// Save upserts a single key/value pair. Called from the store's change
// notification, so it runs on whatever goroutine delivered that change
// (see internal/store's ChangeFunc note: those calls are not serialized).
func (s *Store) Save(key string, value store.Value) error {
	raw, err := value.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal value for key %q: %w", key, err)
	}
	_, err = s.db.Exec(`INSERT INTO store_entries (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, raw)
	if err != nil {
		return fmt.Errorf("upsert store_entries key %q: %w", key, err)
	}
	return nil
}

// SyncOnChange has the store.ChangeFunc shape and persists every local and
// remote change it is handed, suitable for store.Store.OnChange-style
// wiring through a fan-out (see cmd/outriggerd, which chains this ahead of
// the controller).
func (s *Store) SyncOnChange(source, key string, value store.Value) {
	if err := s.Save(key, value); err != nil {
		log.Printf("persist: save %q failed: %v", key, err)
	}
}

// StartCheckpointLoop runs PRAGMA wal_checkpoint(PASSIVE) on interval,
// matching the teacher's 5-minute periodic checkpoint goroutine, until
// stop is closed.
func (s *Store) StartCheckpointLoop(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if _, err := s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
					log.Printf("persist: periodic WAL checkpoint failed: %v", err)
				}
			}
		}
	}()
}

// Backup runs VACUUM INTO dest, matching the teacher's daily backup
// routine. Called once at startup and then on a daily ticker by the
// daemon, with dest typically path+".backup".
func (s *Store) Backup(dest string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", dest); err != nil {
		return fmt.Errorf("vacuum into %q: %w", dest, err)
	}
	return nil
}

// StartBackupLoop runs Backup on interval (the teacher uses 24h), logging
// failures rather than treating them as fatal, until stop is closed.
func (s *Store) StartBackupLoop(dest string, interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if err := s.Backup(dest); err != nil {
		log.Printf("persist: startup backup failed: %v", err)
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := s.Backup(dest); err != nil {
					log.Printf("persist: periodic backup failed: %v", err)
				}
			}
		}
	}()
}
