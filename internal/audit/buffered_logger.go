package audit

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"
)

// ChainEvent is a single row in the hash-chained audit trail kept in SQLite,
// alongside the plain JSON-line log written by Logger.
type ChainEvent struct {
	Timestamp int64
	Peer      string
	Action    string
	Resource  string
	Details   string
	Success   bool
}

// BufferedLogger batches ChainEvents into SQLite, threading an HMAC chain
// across rows so the history of leader elections and assignment decisions
// can be verified offline.
type BufferedLogger struct {
	db            *sql.DB
	buffer        []ChainEvent
	bufferMutex   sync.Mutex
	flushTicker   *time.Ticker
	stopChan      chan struct{}
	maxBuffer     int
	flushInterval time.Duration
	hmacKey       []byte // 32-byte key for chain integrity; nil = chain disabled
}

// NewBufferedLogger builds a BufferedLogger sharing db with the replicated
// store's persistence (see internal/persist), creating the audit_chain
// table if it does not already exist.
func NewBufferedLogger(db *sql.DB, maxBuffer int, flushInterval time.Duration, hmacKey []byte) *BufferedLogger {
	if maxBuffer <= 0 {
		maxBuffer = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	if err := initChainSchema(db); err != nil {
		log.Printf("audit: failed to create audit_chain table: %v", err)
	}

	return &BufferedLogger{
		db:            db,
		buffer:        make([]ChainEvent, 0, maxBuffer),
		maxBuffer:     maxBuffer,
		flushInterval: flushInterval,
		stopChan:      make(chan struct{}),
		hmacKey:       hmacKey,
	}
}

// initChainSchema creates the audit_chain table if absent. id is the
// hash-chain's row ordering; prev_hash/row_hash are empty strings when the
// chain is disabled (no HMAC key), rather than NULL, so Verify can scan
// them into plain strings and never has to special-case a disabled chain.
func initChainSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS audit_chain (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		peer      TEXT NOT NULL,
		action    TEXT NOT NULL,
		resource  TEXT NOT NULL,
		details   TEXT NOT NULL,
		success   BOOLEAN NOT NULL,
		prev_hash TEXT NOT NULL,
		row_hash  TEXT NOT NULL
	)`)
	return err
}

// Start begins the background flushing goroutine.
func (bl *BufferedLogger) Start() {
	bl.flushTicker = time.NewTicker(bl.flushInterval)

	go func() {
		for {
			select {
			case <-bl.flushTicker.C:
				if err := bl.Flush(); err != nil {
					log.Printf("error flushing audit chain: %v", err)
				}
			case <-bl.stopChan:
				bl.flushTicker.Stop()
				if err := bl.Flush(); err != nil {
					log.Printf("error in final audit chain flush: %v", err)
				}
				return
			}
		}
	}()
}

func (bl *BufferedLogger) Stop() {
	close(bl.stopChan)
}

// CriticalActions lists actions that must bypass the buffer and write
// directly to SQLite: the events an operator needs to trust survived a
// crash mid-transition (a leader election result, a resource migrating).
var CriticalActions = map[string]bool{
	"leader_elected":     true,
	"resource_assigned":  true,
	"resource_installed": true,
	"resource_released":  true,
	"peer_dead":          true,
}

// Log adds an event to the buffer. Critical events bypass the buffer and
// are written directly, synchronously.
func (bl *BufferedLogger) Log(event ChainEvent) error {
	if CriticalActions[event.Action] {
		return bl.writeDirect([]ChainEvent{event})
	}

	bl.bufferMutex.Lock()
	bl.buffer = append(bl.buffer, event)
	needFlush := len(bl.buffer) >= bl.maxBuffer
	bl.bufferMutex.Unlock()

	if needFlush {
		return bl.Flush()
	}
	return nil
}

func (bl *BufferedLogger) writeDirect(events []ChainEvent) error {
	tx, err := bl.db.Begin()
	if err != nil {
		return fmt.Errorf("audit direct write: begin: %w", err)
	}
	defer tx.Rollback()

	var prevHash string
	if bl.hmacKey != nil {
		_ = tx.QueryRow(
			`SELECT COALESCE(row_hash,'') FROM audit_chain ORDER BY id DESC LIMIT 1`,
		).Scan(&prevHash)
	}

	stmt, err := tx.Prepare(`INSERT INTO audit_chain
		(timestamp, peer, action, resource, details, success, prev_hash, row_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("audit direct write: prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		rowHash := computeRowHash(bl.hmacKey, prevHash, e)
		if _, err := stmt.Exec(e.Timestamp, e.Peer, e.Action, e.Resource, e.Details, e.Success, prevHash, rowHash); err != nil {
			log.Printf("audit direct write: exec: %v", err)
			continue
		}
		prevHash = rowHash
	}
	return tx.Commit()
}

// Flush writes all buffered events to SQLite in a single transaction,
// threading the HMAC chain across them.
func (bl *BufferedLogger) Flush() error {
	bl.bufferMutex.Lock()
	if len(bl.buffer) == 0 {
		bl.bufferMutex.Unlock()
		return nil
	}
	events := make([]ChainEvent, len(bl.buffer))
	copy(events, bl.buffer)
	bl.buffer = bl.buffer[:0]
	bl.bufferMutex.Unlock()

	tx, err := bl.db.Begin()
	if err != nil {
		return fmt.Errorf("begin audit chain tx: %w", err)
	}
	defer tx.Rollback()

	var prevHash string
	if bl.hmacKey != nil {
		_ = tx.QueryRow(
			`SELECT COALESCE(row_hash,'') FROM audit_chain ORDER BY id DESC LIMIT 1`,
		).Scan(&prevHash)
	}

	stmt, err := tx.Prepare(`INSERT INTO audit_chain
		(timestamp, peer, action, resource, details, success, prev_hash, row_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare audit chain insert: %w", err)
	}
	defer stmt.Close()

	for _, event := range events {
		rowHash := computeRowHash(bl.hmacKey, prevHash, event)
		if _, err := stmt.Exec(event.Timestamp, event.Peer, event.Action, event.Resource, event.Details, event.Success, prevHash, rowHash); err != nil {
			log.Printf("failed to insert audit chain row: %v", err)
			continue
		}
		prevHash = rowHash
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit chain tx: %w", err)
	}
	return nil
}

// Verify walks the chain in order and confirms every row's hash matches
// what computeRowHash derives from the previous row. Returns the index of
// the first broken row, or -1 if the chain is intact.
func Verify(db *sql.DB, hmacKey []byte) (int, error) {
	rows, err := db.Query(`SELECT timestamp, peer, action, resource, details, success, prev_hash, row_hash
		FROM audit_chain ORDER BY id ASC`)
	if err != nil {
		return -1, fmt.Errorf("query audit chain: %w", err)
	}
	defer rows.Close()

	prevHash := ""
	idx := 0
	for rows.Next() {
		var e ChainEvent
		var storedPrev, storedRow string
		if err := rows.Scan(&e.Timestamp, &e.Peer, &e.Action, &e.Resource, &e.Details, &e.Success, &storedPrev, &storedRow); err != nil {
			return idx, fmt.Errorf("scan audit chain row: %w", err)
		}
		if storedPrev != prevHash {
			return idx, nil
		}
		if computeRowHash(hmacKey, prevHash, e) != storedRow {
			return idx, nil
		}
		prevHash = storedRow
		idx++
	}
	return -1, rows.Err()
}
