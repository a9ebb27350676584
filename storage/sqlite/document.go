// Package sqlite provides a SQLite-backed document metadata store for
// deployments that keep scan state next to other relational data.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/grimoire/core"
	"github.com/poiesic/grimoire/storage"
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	path            TEXT PRIMARY KEY,
	id              INTEGER NOT NULL,
	ruleset_id      TEXT NOT NULL DEFAULT '',
	kind            TEXT NOT NULL DEFAULT '',
	content_hash    TEXT NOT NULL,
	revision        INTEGER NOT NULL,
	first_seen_at   INTEGER NOT NULL,
	last_scanned_at INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);
`

const selectColumns = `id, ruleset_id, kind, path, content_hash, revision, first_seen_at, last_scanned_at, updated_at`

// DocumentRepository implements storage.DocumentRepository on SQLite.
type DocumentRepository struct {
	db *sql.DB
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// querier is implemented by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens (or creates) the database at dsn and applies the schema.
func Open(dsn string) (*DocumentRepository, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open db: %w", err)
	}
	// Single writer; reconciliation transactions serialize on it.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &DocumentRepository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *DocumentRepository) Close() error {
	return r.db.Close()
}

// GetDocumentByPath retrieves document metadata by relative path.
func (r *DocumentRepository) GetDocumentByPath(ctx context.Context, path string) (*core.DocumentMetadata, error) {
	doc, err := getDocument(ctx, r.db, path)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, storage.ErrNotFound
	}
	return doc, nil
}

// ListDocuments returns every document ordered by path.
func (r *DocumentRepository) ListDocuments(ctx context.Context) ([]*core.DocumentMetadata, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM documents ORDER BY path`)
	if err != nil {
		return nil, transient(err)
	}
	defer rows.Close()

	var docs []*core.DocumentMetadata
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, transient(rows.Err())
}

// ReconcileDocument classifies obs against the stored metadata and persists
// the outcome in one transaction. onChange runs before commit.
func (r *DocumentRepository) ReconcileDocument(ctx context.Context, obs storage.Observation, onChange storage.ChangeFunc) (storage.ChangeKind, *core.DocumentMetadata, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Unchanged, nil, transient(err)
	}
	defer tx.Rollback()

	doc, err := getDocument(ctx, tx, obs.Path)
	if err != nil {
		return storage.Unchanged, nil, err
	}

	change, doc := storage.Reconcile(doc, obs, time.Now().UTC())
	if change != storage.Unchanged && onChange != nil {
		if err := onChange(ctx, change, doc); err != nil {
			return storage.Unchanged, nil, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (path, id, ruleset_id, kind, content_hash, revision, first_seen_at, last_scanned_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			ruleset_id = excluded.ruleset_id,
			kind = excluded.kind,
			content_hash = excluded.content_hash,
			revision = excluded.revision,
			last_scanned_at = excluded.last_scanned_at,
			updated_at = excluded.updated_at`,
		doc.Path, int64(doc.Id), doc.RulesetID, string(doc.Kind), doc.ContentHash, int64(doc.Revision),
		doc.FirstSeenAt.UnixMicro(), doc.LastScannedAt.UnixMicro(), doc.UpdatedAt.UnixMicro())
	if err != nil {
		return storage.Unchanged, nil, transient(err)
	}
	if err := tx.Commit(); err != nil {
		return storage.Unchanged, nil, transient(err)
	}
	return change, doc, nil
}

func getDocument(ctx context.Context, q querier, path string) (*core.DocumentMetadata, error) {
	row := q.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM documents WHERE path = ?`, path)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return doc, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(s scanner) (*core.DocumentMetadata, error) {
	var (
		doc                                   core.DocumentMetadata
		id, revision                          int64
		kind                                  string
		firstSeenAt, lastScannedAt, updatedAt int64
	)
	err := s.Scan(&id, &doc.RulesetID, &kind, &doc.Path, &doc.ContentHash, &revision,
		&firstSeenAt, &lastScannedAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, transient(err)
	}
	doc.Id = core.ID(id)
	doc.Kind = core.DocumentKind(kind)
	doc.Revision = uint64(revision)
	doc.FirstSeenAt = time.UnixMicro(firstSeenAt).UTC()
	doc.LastScannedAt = time.UnixMicro(lastScannedAt).UTC()
	doc.UpdatedAt = time.UnixMicro(updatedAt).UTC()
	return &doc, nil
}

func transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("sqlite: %w: %w", core.ErrTransient, err)
}
