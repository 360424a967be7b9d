package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// DB keeps snapshots in a single SQLite table, one row per tick, with the
// snapshot stored as a JSON blob.
type DB struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// Open opens (creating if needed) the snapshot database at path.
func Open(path string) (*DB, error) {
	if path == "" {
		path = "cellspace.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS snapshots (
		tick INTEGER PRIMARY KEY,
		seed INTEGER NOT NULL,
		cells INTEGER NOT NULL,
		bookmark TEXT NOT NULL DEFAULT '',
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create snapshots table: %w", err)
	}
	return &DB{db: db, path: path}, nil
}

// Save stores snap, replacing any snapshot already recorded for its tick.
func (d *DB) Save(ctx context.Context, snap *Snapshot) (retErr error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	var bookmark string
	if snap.Bookmark != nil {
		bookmark = string(snap.Bookmark.Type)
	}
	var cells int
	if snap.Space != nil {
		cells = len(snap.Space.Cells)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO snapshots(tick,seed,cells,bookmark,payload) VALUES(?,?,?,?,?)
		ON CONFLICT(tick) DO UPDATE SET seed=excluded.seed, cells=excluded.cells, bookmark=excluded.bookmark, payload=excluded.payload`,
		int64(snap.Tick), snap.Seed, cells, bookmark, data); err != nil {
		return fmt.Errorf("upsert tick %d: %w", snap.Tick, err)
	}
	return tx.Commit()
}

// Load returns the snapshot recorded at tick.
func (d *DB) Load(ctx context.Context, tick uint64) (*Snapshot, error) {
	row := d.db.QueryRowContext(ctx, `SELECT payload FROM snapshots WHERE tick = ?`, int64(tick))
	return scanSnapshot(row, fmt.Sprintf("tick %d", tick))
}

// Latest returns the snapshot with the highest tick.
func (d *DB) Latest(ctx context.Context) (*Snapshot, error) {
	row := d.db.QueryRowContext(ctx, `SELECT payload FROM snapshots ORDER BY tick DESC LIMIT 1`)
	return scanSnapshot(row, "latest")
}

// Summary describes a stored snapshot without decoding it.
type Summary struct {
	Tick     uint64
	Seed     int64
	Cells    int
	Bookmark string
}

// List returns every stored snapshot in tick order.
func (d *DB) List(ctx context.Context) ([]Summary, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT tick, seed, cells, bookmark FROM snapshots ORDER BY tick`)
	if err != nil {
		return nil, fmt.Errorf("select snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Summary
	for rows.Next() {
		var (
			s    Summary
			tick int64
		)
		if err := rows.Scan(&tick, &s.Seed, &s.Cells, &s.Bookmark); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		s.Tick = uint64(tick)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Path returns the database path.
func (d *DB) Path() string { return d.path }

// Close closes the database.
func (d *DB) Close() error { return d.db.Close() }

func scanSnapshot(row *sql.Row, what string) (*Snapshot, error) {
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNoSnapshot, what)
		}
		return nil, fmt.Errorf("select snapshot: %w", err)
	}
	return decode(payload)
}
