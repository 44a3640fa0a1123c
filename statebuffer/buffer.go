package statebuffer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	losantmqtt "github.com/losant/losant-mqtt-go"
)

// Buffer configuration constants.
const (
	// dirPermissions is the permission mode for the buffer directory.
	dirPermissions = 0750

	// busyTimeoutMS is the maximum time to wait for a database lock.
	busyTimeoutMS = 5000
)

// schema creates the queue table. Entries are drained oldest first.
const schema = `
CREATE TABLE IF NOT EXISTS state_queue (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	state   TEXT    NOT NULL,
	time_ms INTEGER NOT NULL
);`

// Buffer is a SQLite-backed FIFO queue of device state reports.
//
// It lets a device survive broker outages without losing telemetry: state
// reports that fail to publish are enqueued, then drained oldest-first once
// the connection is restored. Each report keeps the timestamp it was
// captured with, so replayed telemetry lands at the correct instant.
//
// Thread Safety:
//   - All methods are safe for concurrent use; SQLite serialises writers.
type Buffer struct {
	db   *sql.DB
	path string
}

// DrainFunc consumes one queued state report. A nil return deletes the
// entry; an error stops the drain and keeps the entry for the next pass.
type DrainFunc func(state losantmqtt.State, millis int64) error

// Open creates or opens a state buffer at the given path.
//
// The directory is created if it doesn't exist. The database uses WAL mode
// and a busy timeout to tolerate concurrent access.
//
// Parameters:
//   - path: Filesystem path to the SQLite database file
//
// Returns:
//   - *Buffer: Open buffer ready for use
//   - error: If the directory, database, or schema cannot be created
func Open(path string) (*Buffer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("creating buffer directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL", path, busyTimeoutMS)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening buffer database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buffer schema: %w", err)
	}

	return &Buffer{db: db, path: path}, nil
}

// Enqueue appends a state report to the queue.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - state: State snapshot to queue
//   - millis: Epoch milliseconds the state was captured at
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (b *Buffer) Enqueue(ctx context.Context, state losantmqtt.State, millis int64) error {
	if state == nil {
		state = losantmqtt.State{}
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	_, err = b.db.ExecContext(ctx,
		"INSERT INTO state_queue (state, time_ms) VALUES (?, ?)",
		string(stateJSON),
		millis,
	)
	if err != nil {
		return fmt.Errorf("inserting queued state: %w", err)
	}
	return nil
}

// Drain delivers queued state reports oldest first.
//
// Each entry is deleted only after fn returns nil, so a failure mid-drain
// (for example the connection dropping again) leaves the remaining entries
// queued for the next pass.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - fn: Consumer invoked once per queued entry
//
// Returns:
//   - int: Number of entries successfully delivered and removed
//   - error: nil when the queue is emptied, otherwise the error that
//     stopped the drain
func (b *Buffer) Drain(ctx context.Context, fn DrainFunc) (int, error) {
	drained := 0
	for {
		var (
			id        int64
			stateJSON string
			millis    int64
		)
		err := b.db.QueryRowContext(ctx,
			"SELECT id, state, time_ms FROM state_queue ORDER BY id LIMIT 1",
		).Scan(&id, &stateJSON, &millis)
		if errors.Is(err, sql.ErrNoRows) {
			return drained, nil
		}
		if err != nil {
			return drained, fmt.Errorf("reading queued state: %w", err)
		}

		var state losantmqtt.State
		if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
			return drained, fmt.Errorf("decoding queued state %d: %w", id, err)
		}

		if err := fn(state, millis); err != nil {
			return drained, err
		}

		if _, err := b.db.ExecContext(ctx, "DELETE FROM state_queue WHERE id = ?", id); err != nil {
			return drained, fmt.Errorf("removing queued state %d: %w", id, err)
		}
		drained++
	}
}

// Len returns the number of queued state reports.
func (b *Buffer) Len(ctx context.Context) (int, error) {
	var count int
	err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM state_queue").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting queued state: %w", err)
	}
	return count, nil
}

// Close closes the underlying database.
func (b *Buffer) Close() error {
	return b.db.Close()
}
