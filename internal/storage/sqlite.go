package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/slipbox/internal/apperr"
	"github.com/starford/slipbox/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS notes (
	scope      TEXT NOT NULL,
	id         TEXT NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	tags       TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL,
	PRIMARY KEY (scope, id)
);

CREATE TABLE IF NOT EXISTS links (
	scope  TEXT NOT NULL,
	source TEXT NOT NULL,
	target TEXT NOT NULL,
	UNIQUE(scope, source, target)
);

CREATE INDEX IF NOT EXISTS idx_links_source ON links(scope, source);
CREATE INDEX IF NOT EXISTS idx_links_target ON links(scope, target);
`

// SQLite is a Provider backed by a SQLite database. A link is one row from
// the feeding note to the note it feeds into, so both directions are read
// back from the same row.
type SQLite struct {
	conn   *sql.DB
	logger *slog.Logger
	subs   subscribers
}

var _ Provider = (*SQLite)(nil)

// OpenSQLite opens (or creates) the database at dsn and applies the schema.
func OpenSQLite(dsn string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("storage: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}
	return &SQLite{conn: conn, logger: logger}, nil
}

// Close closes the underlying database connection.
func (db *SQLite) Close() error {
	return db.conn.Close()
}

// Load returns every note of scope with its links.
func (db *SQLite) Load(ctx context.Context, scope string) ([]models.Note, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, content, tags, created_at FROM notes WHERE scope = ? ORDER BY created_at DESC, id`, scope)
	if err != nil {
		return nil, fmt.Errorf("storage: load notes: %w", err)
	}
	defer rows.Close()

	var notes []models.Note
	index := make(map[string]int)
	for rows.Next() {
		var (
			n        models.Note
			tagsJSON string
		)
		if err := rows.Scan(&n.ID, &n.Content, &tagsJSON, &n.Timestamp); err != nil {
			return nil, fmt.Errorf("storage: scan note: %w", err)
		}
		_ = json.Unmarshal([]byte(tagsJSON), &n.Tags)
		if n.Tags == nil {
			n.Tags = []string{}
		}
		n.Timestamp = n.Timestamp.UTC()
		n.Links = models.NewLinks()
		index[n.ID] = len(notes)
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	linkRows, err := db.conn.QueryContext(ctx, `SELECT source, target FROM links WHERE scope = ?`, scope)
	if err != nil {
		return nil, fmt.Errorf("storage: load links: %w", err)
	}
	defer linkRows.Close()
	for linkRows.Next() {
		var from, to string
		if err := linkRows.Scan(&from, &to); err != nil {
			return nil, fmt.Errorf("storage: scan link: %w", err)
		}
		i, okFrom := index[from]
		j, okTo := index[to]
		if !okFrom || !okTo {
			continue
		}
		notes[i].Links.Posterior.Add(to)
		notes[j].Links.Anterior.Add(from)
	}
	return notes, linkRows.Err()
}

// Subscribe registers fn for snapshots taken after every committed write
// to scope through this provider.
func (db *SQLite) Subscribe(scope string, fn SnapshotFunc) (func(), error) {
	return db.subs.add(scope, fn), nil
}

// Create inserts a note row.
func (db *SQLite) Create(ctx context.Context, scope string, n models.Note) error {
	tagsJSON, _ := json.Marshal(nonNil(n.Tags))
	ts := n.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	err := db.withTx(ctx, scope, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO notes (scope, id, content, tags, created_at) VALUES (?, ?, ?, ?, ?)`,
			scope, n.ID, n.Content, string(tagsJSON), ts.UTC()); err != nil {
			return fmt.Errorf("storage: insert note: %w", err)
		}
		return nil
	})
	return err
}

// UpdateContent replaces content and tags of id.
func (db *SQLite) UpdateContent(ctx context.Context, scope, id, content string, tags []string) error {
	tagsJSON, _ := json.Marshal(nonNil(tags))
	return db.withTx(ctx, scope, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE notes SET content = ?, tags = ? WHERE scope = ? AND id = ?`,
			content, string(tagsJSON), scope, id)
		if err != nil {
			return fmt.Errorf("storage: update note: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("storage: update %s: %w", id, apperr.ErrNotFound)
		}
		return nil
	})
}

// Delete removes id and every link row that touches it.
func (db *SQLite) Delete(ctx context.Context, scope, id string) error {
	return db.withTx(ctx, scope, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE scope = ? AND id = ?`, scope, id)
		if err != nil {
			return fmt.Errorf("storage: delete note: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("storage: delete %s: %w", id, apperr.ErrNotFound)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM links WHERE scope = ? AND (source = ? OR target = ?)`, scope, id, id); err != nil {
			return fmt.Errorf("storage: delete links: %w", err)
		}
		return nil
	})
}

// Link inserts the link row for (source, target, dir). Existing links are kept.
func (db *SQLite) Link(ctx context.Context, scope, source, target string, dir models.Direction) error {
	if source == target || !dir.Valid() {
		return fmt.Errorf("storage: link %s -> %s: %w", source, target, apperr.ErrInvalidLink)
	}
	from, to := orient(source, target, dir)
	return db.withTx(ctx, scope, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM notes WHERE scope = ? AND id IN (?, ?)`, scope, from, to).Scan(&n); err != nil {
			return fmt.Errorf("storage: check endpoints: %w", err)
		}
		if n != 2 {
			return fmt.Errorf("storage: link %s -> %s: %w", source, target, apperr.ErrNotFound)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO links (scope, source, target) VALUES (?, ?, ?)`, scope, from, to); err != nil {
			return fmt.Errorf("storage: insert link: %w", err)
		}
		return nil
	})
}

// Unlink deletes the link row for (source, target, dir), if any.
func (db *SQLite) Unlink(ctx context.Context, scope, source, target string, dir models.Direction) error {
	if !dir.Valid() {
		return fmt.Errorf("storage: unlink %s -> %s: %w", source, target, apperr.ErrInvalidLink)
	}
	from, to := orient(source, target, dir)
	return db.withTx(ctx, scope, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM links WHERE scope = ? AND source = ? AND target = ?`, scope, from, to); err != nil {
			return fmt.Errorf("storage: delete link: %w", err)
		}
		return nil
	})
}

// withTx runs fn in a transaction and publishes a fresh snapshot of scope
// once it commits.
func (db *SQLite) withTx(ctx context.Context, scope string, fn func(*sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}

	if db.subs.has(scope) {
		notes, err := db.Load(context.WithoutCancel(ctx), scope)
		if err != nil {
			db.logger.Warn("storage: snapshot after write failed",
				slog.String("scope", scope),
				slog.String("error", err.Error()))
			return nil
		}
		db.subs.publish(scope, notes)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
