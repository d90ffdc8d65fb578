package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/systemshift/bioref/internal/keys"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at dbPath
func NewSQLite(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "bioref.db"
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// One writer connection keeps pragmas in effect and avoids SQLITE_BUSY
	// between our own batches.
	db.SetMaxOpenConns(1)

	// Verify connectivity
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to sqlite: %w", err)
	}

	for _, pragma := range allPragmas() {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	for _, stmt := range allSchemaStatements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the SQLite connection
func (s *SQLiteStore) Close(ctx context.Context) error {
	return s.db.Close()
}

// InsertBatch upserts a batch inside one transaction
func (s *SQLiteStore) InsertBatch(ctx context.Context, collection string, docs []Document) error {
	if err := checkBatch(collection, docs); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	upsertNode, err := tx.PrepareContext(ctx, `
		INSERT INTO nodes (collection, key, name, attrs)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, key) DO UPDATE SET name = excluded.name, attrs = excluded.attrs
	`)
	if err != nil {
		return fmt.Errorf("preparing node upsert: %w", err)
	}
	defer upsertNode.Close()

	insertEdge, err := tx.PrepareContext(ctx, `
		INSERT INTO edges (collection, from_ref, to_ref, type, source)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("preparing edge insert: %w", err)
	}
	defer insertEdge.Close()

	nodeExists, err := tx.PrepareContext(ctx, `SELECT EXISTS (SELECT 1 FROM nodes WHERE collection = ? AND key = ?)`)
	if err != nil {
		return fmt.Errorf("preparing node lookup: %w", err)
	}
	defer nodeExists.Close()

	for _, doc := range docs {
		switch d := doc.(type) {
		case *Node:
			attrs, err := json.Marshal(d.Attrs)
			if err != nil {
				return fmt.Errorf("marshaling attrs for %s: %w", d.Key, err)
			}
			if _, err := upsertNode.ExecContext(ctx, collection, d.Key, d.Name, string(attrs)); err != nil {
				return fmt.Errorf("upserting node %s: %w", d.Key, err)
			}
		case *Edge:
			for _, ref := range []string{d.From, d.To} {
				coll, key, ok := keys.SplitRef(ref)
				if !ok {
					return fmt.Errorf("%w: malformed reference %q", ErrDanglingEdge, ref)
				}
				var exists bool
				if err := nodeExists.QueryRowContext(ctx, coll, key).Scan(&exists); err != nil {
					return fmt.Errorf("looking up %s: %w", ref, err)
				}
				if !exists {
					return fmt.Errorf("%w: %s", ErrDanglingEdge, ref)
				}
			}
			if _, err := insertEdge.ExecContext(ctx, collection, d.From, d.To, d.Type, d.Source); err != nil {
				return fmt.Errorf("inserting edge %s -> %s: %w", d.From, d.To, err)
			}
		default:
			return fmt.Errorf("unsupported document %T", doc)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}

// Truncate deletes all nodes and edges in the named collections
func (s *SQLiteStore) Truncate(ctx context.Context, collections ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, name := range collections {
		if _, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE collection = ?`, name); err != nil {
			return fmt.Errorf("truncating edges in %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE collection = ?`, name); err != nil {
			return fmt.Errorf("truncating nodes in %s: %w", name, err)
		}
	}
	return tx.Commit()
}

// Count returns the number of nodes plus edges stored in collection
func (s *SQLiteStore) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM nodes WHERE collection = ?) +
		       (SELECT COUNT(*) FROM edges WHERE collection = ?)
	`, collection, collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", collection, err)
	}
	return n, nil
}
