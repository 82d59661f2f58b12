package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gearmarket/chat-relay/internal/protocol"
)

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	closed atomic.Bool
}

// NewSQLiteStore opens (creating if needed) the chat database.
// If dbPath is empty, defaults to "./data/chat.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/chat.db"
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	// seq preserves insertion order for equal timestamps; ts_unix_ns is
	// the parsed timestamp so ordering never depends on string shape.
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		id TEXT NOT NULL,
		sender TEXT NOT NULL,
		sender_name TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		ts_unix_ns INTEGER NOT NULL,
		UNIQUE (room_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, ts_unix_ns, seq);

	CREATE TABLE IF NOT EXISTS read_checkpoints (
		room_id TEXT PRIMARY KEY,
		last_checked_ns INTEGER NOT NULL
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Append inserts the message; duplicates on (room_id, id) are ignored.
func (s *SQLiteStore) Append(ctx context.Context, m protocol.Message) error {
	if s.closed.Load() {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages (room_id, id, sender, sender_name, content, timestamp, ts_unix_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.RoomID, m.ID, m.Sender, m.SenderName, m.Content, m.Timestamp, m.Time().UnixNano(),
	)
	return err
}

// ListByRoom returns the room's messages in chronological order.
func (s *SQLiteStore) ListByRoom(ctx context.Context, roomID string) ([]protocol.Message, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id, id, sender, sender_name, content, timestamp
		FROM messages WHERE room_id = ?
		ORDER BY ts_unix_ns ASC, seq ASC`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

// ListAllRooms returns every stored message grouped by room.
func (s *SQLiteStore) ListAllRooms(ctx context.Context) (map[string][]protocol.Message, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id, id, sender, sender_name, content, timestamp
		FROM messages
		ORDER BY ts_unix_ns ASC, seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	byRoom := make(map[string][]protocol.Message)
	for _, m := range msgs {
		byRoom[m.RoomID] = append(byRoom[m.RoomID], m)
	}
	return byRoom, nil
}

func scanMessages(rows *sql.Rows) ([]protocol.Message, error) {
	var out []protocol.Message
	for rows.Next() {
		var m protocol.Message
		if err := rows.Scan(&m.RoomID, &m.ID, &m.Sender, &m.SenderName, &m.Content, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LastChecked returns the persisted per-room read checkpoints.
func (s *SQLiteStore) LastChecked(ctx context.Context) (map[string]time.Time, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT room_id, last_checked_ns FROM read_checkpoints`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var roomID string
		var ns int64
		if err := rows.Scan(&roomID, &ns); err != nil {
			return nil, err
		}
		out[roomID] = time.Unix(0, ns).UTC()
	}
	return out, rows.Err()
}

// SetLastChecked upserts all given checkpoints in a single transaction.
func (s *SQLiteStore) SetLastChecked(ctx context.Context, checkpoints map[string]time.Time) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if len(checkpoints) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO read_checkpoints (room_id, last_checked_ns) VALUES (?, ?)
		ON CONFLICT (room_id) DO UPDATE SET last_checked_ns = excluded.last_checked_ns`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for roomID, t := range checkpoints {
		if _, err := stmt.ExecContext(ctx, roomID, t.UnixNano()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Close closes the underlying database. Later operations return
// ErrClosed.
func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
