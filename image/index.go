package image

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/wharfd/wharf/internal/apierr"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Index is a derived, rebuildable SQLite index over the JSON catalog files,
// used to serve list/filter queries without a directory scan. It is never
// the source of truth (spec §6: JSON files under <state_root>/metadata are)
// and is rebuilt from the catalog at daemon startup, per the Design Notes'
// "in-memory caches must be rebuilt from disk" rule.
//
// This generalizes the teacher's boxer.go pattern (modernc.org/sqlite,
// opened in WAL mode, schema applied on open) from a single raw
// db.Exec(schemaSQL) to versioned golang-migrate migrations.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (creating if absent) the SQLite index file at path and
// applies any pending migrations.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apierr.Wrap(apierr.IO, "open image index", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, apierr.Wrap(apierr.IO, "enable WAL mode on image index", err)
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Index{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return apierr.Wrap(apierr.IO, "create migration driver", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return apierr.Wrap(apierr.Internal, "load embedded migrations", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return apierr.Wrap(apierr.Internal, "construct migrator", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return apierr.Wrap(apierr.IO, "apply image index migrations", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (idx *Index) Close() error {
	if idx == nil || idx.db == nil {
		return nil
	}
	return idx.db.Close()
}

// Upsert inserts or updates a single record's row in the index.
func (idx *Index) Upsert(rec *Record) error {
	_, err := idx.db.Exec(
		`INSERT INTO images (id, name, tag, created, size_bytes, repo_tag)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(repo_tag) DO UPDATE SET
		   id=excluded.id, created=excluded.created, size_bytes=excluded.size_bytes`,
		rec.ID, rec.Name, rec.Tag, rec.Created.Format("2006-01-02T15:04:05Z07:00"), rec.SizeBytes, rec.RepoTag(),
	)
	if err != nil {
		return apierr.Wrap(apierr.IO, "upsert image index row", err)
	}
	return nil
}

// Delete removes any row for the given image id.
func (idx *Index) Delete(id string) error {
	_, err := idx.db.Exec(`DELETE FROM images WHERE id = ?`, id)
	if err != nil {
		return apierr.Wrap(apierr.IO, "delete image index row", err)
	}
	return nil
}

// Rebuild truncates and repopulates the index from an authoritative slice of
// records read from the JSON catalog on disk.
func (idx *Index) Rebuild(records []*Record) error {
	tx, err := idx.db.Begin()
	if err != nil {
		return apierr.Wrap(apierr.IO, "begin index rebuild", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM images`); err != nil {
		return apierr.Wrap(apierr.IO, "clear image index", err)
	}
	for _, rec := range records {
		if _, err := tx.Exec(
			`INSERT INTO images (id, name, tag, created, size_bytes, repo_tag) VALUES (?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.Name, rec.Tag, rec.Created.Format("2006-01-02T15:04:05Z07:00"), rec.SizeBytes, rec.RepoTag(),
		); err != nil {
			return apierr.Wrap(apierr.IO, fmt.Sprintf("index rebuild row for %s", rec.RepoTag()), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return apierr.Wrap(apierr.IO, "commit index rebuild", err)
	}
	return nil
}

// RepoTags returns every repo:tag string currently indexed, ordered by name.
func (idx *Index) RepoTags() ([]string, error) {
	rows, err := idx.db.Query(`SELECT repo_tag FROM images ORDER BY name, tag`)
	if err != nil {
		return nil, apierr.Wrap(apierr.IO, "query image index", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, apierr.Wrap(apierr.IO, "scan image index row", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}
