package db

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/segmentio/ksuid"
	_ "modernc.org/sqlite"

	"github.com/manpreetbhatti/inkwell/internal/drawing"
)

// Database is the operation archive. Every open gets a fresh epoch: rooms
// restart their seq at 1 in each process, so (room, epoch, seq) is what
// identifies a seal.
type Database struct {
	db    *sql.DB
	epoch string
}

type Room struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Operation is an archived stroke row
type Operation struct {
	OpID      string          `json:"opId"`
	RoomID    string          `json:"roomId"`
	Epoch     string          `json:"epoch"`
	Seq       int64           `json:"seq"`
	LocalID   string          `json:"localId"`
	AuthorID  string          `json:"authorId"`
	Tool      string          `json:"tool"`
	Color     string          `json:"color"`
	Width     float64         `json:"width"`
	Points    []drawing.Point `json:"points"`
	Active    bool            `json:"active"`
	CreatedAt int64           `json:"timestamp"`
}

func New(dbPath string) (*Database, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// WAL lets the API read while the recorder writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	d := &Database{db: db, epoch: ksuid.New().String()}
	slog.Info("database initialized", "path", dbPath, "epoch", d.epoch)
	return d, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS operations (
		op_id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		epoch TEXT NOT NULL DEFAULT '',
		seq INTEGER NOT NULL,
		local_id TEXT NOT NULL,
		author_id TEXT NOT NULL,
		tool TEXT NOT NULL,
		color TEXT NOT NULL,
		width REAL NOT NULL,
		points TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
	);

	`

	_, err := db.Exec(schema)
	return err
}

// migrate brings archives written before epochs existed up to date. Their
// (room_id, seq) index rejected seals after a restart.
func migrate(db *sql.DB) error {
	rows, err := db.Query("PRAGMA table_info(operations)")
	if err != nil {
		return err
	}
	hasEpoch := false
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			rows.Close()
			return err
		}
		if name == "epoch" {
			hasEpoch = true
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if !hasEpoch {
		if _, err := db.Exec("ALTER TABLE operations ADD COLUMN epoch TEXT NOT NULL DEFAULT ''"); err != nil {
			return err
		}
	}

	_, err = db.Exec(`
	DROP INDEX IF EXISTS idx_operations_room_seq;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_operations_room_epoch_seq ON operations(room_id, epoch, seq);
	`)
	return err
}

// Epoch identifies this open of the archive
func (d *Database) Epoch() string { return d.epoch }

func (d *Database) Close() error {
	return d.db.Close()
}

// Room operations

func (d *Database) CreateRoom(id string) error {
	_, err := d.db.Exec("INSERT OR IGNORE INTO rooms (id) VALUES (?)", id)
	return err
}

func (d *Database) GetRoom(id string) (*Room, error) {
	row := d.db.QueryRow(
		"SELECT id, created_at, updated_at FROM rooms WHERE id = ?",
		id,
	)

	var room Room
	err := row.Scan(&room.ID, &room.CreatedAt, &room.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (d *Database) ListRooms(limit, offset int) ([]Room, error) {
	rows, err := d.db.Query(
		"SELECT id, created_at, updated_at FROM rooms ORDER BY updated_at DESC, id ASC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.ID, &room.CreatedAt, &room.UpdatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (d *Database) UpdateRoomTimestamp(id string) error {
	_, err := d.db.Exec(
		"UPDATE rooms SET updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		id,
	)
	return err
}

// Operation archive

func (d *Database) SaveOperation(roomID string, op drawing.Operation) error {
	if err := d.CreateRoom(roomID); err != nil {
		return err
	}

	points, err := json.Marshal(op.Points)
	if err != nil {
		return err
	}

	_, err = d.db.Exec(`
		INSERT INTO operations (op_id, room_id, epoch, seq, local_id, author_id, tool, color, width, points, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, op.OpID, roomID, d.epoch, op.Seq, op.LocalID, op.AuthorID, op.Tool, op.Color, op.Width, string(points), op.Active, op.Timestamp)
	if err != nil {
		return err
	}

	return d.UpdateRoomTimestamp(roomID)
}

// SetOperationActive records an undo or redo. It reports whether the
// operation was found.
func (d *Database) SetOperationActive(opID string, active bool) (bool, error) {
	result, err := d.db.Exec("UPDATE operations SET active = ? WHERE op_id = ?", active, opID)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListOperations returns a room's archived operations in the order they were
// sealed, across every epoch.
func (d *Database) ListOperations(roomID string, limit, offset int) ([]Operation, error) {
	rows, err := d.db.Query(`
		SELECT op_id, room_id, epoch, seq, local_id, author_id, tool, color, width, points, active, created_at
		FROM operations
		WHERE room_id = ?
		ORDER BY rowid ASC
		LIMIT ? OFFSET ?
	`, roomID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		var op Operation
		var points string
		if err := rows.Scan(&op.OpID, &op.RoomID, &op.Epoch, &op.Seq, &op.LocalID, &op.AuthorID,
			&op.Tool, &op.Color, &op.Width, &points, &op.Active, &op.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(points), &op.Points); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func (d *Database) GetOperationCount(roomID string) (int, error) {
	var count int
	err := d.db.QueryRow(
		"SELECT COUNT(*) FROM operations WHERE room_id = ?",
		roomID,
	).Scan(&count)
	return count, err
}

// Stats

func (d *Database) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var roomCount int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM rooms").Scan(&roomCount); err != nil {
		return nil, err
	}
	stats["room_count"] = roomCount

	var opCount int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM operations").Scan(&opCount); err != nil {
		return nil, err
	}
	stats["operation_count"] = opCount

	var activeCount int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM operations WHERE active").Scan(&activeCount); err != nil {
		return nil, err
	}
	stats["active_operation_count"] = activeCount

	return stats, nil
}
