// Package store persists simulation definitions by identifier.
//
// Each saved definition is written twice under the store root: a
// human-readable JSON document (<id>.json) and an opaque zstd-compressed gob
// artifact (<id>.gob.zst) that Load rebuilds from. A SQLite catalog
// (catalog.db) indexes what has been saved. Saving a definition whose
// identifier is already present fails with ErrDuplicateDefinition.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/plant-twin/twinsim/sim/defn"
)

var (
	// ErrDuplicateDefinition is returned when saving an identifier that is
	// already stored.
	ErrDuplicateDefinition = errors.New("definition already exists")

	// ErrNotFound is returned for identifiers the store does not hold.
	ErrNotFound = errors.New("definition not found")
)

// Entry is one catalog row.
type Entry struct {
	ID           string
	CreatedAt    time.Time
	Objects      int
	Kinds        []string
	JSONPath     string
	ArtifactPath string
}

// Store is a directory of saved definitions plus its catalog.
type Store struct {
	root string
	db   *sql.DB
}

// Open opens (creating if needed) the store rooted at root.
func Open(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("empty store root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", filepath.Join(root, "catalog.db"))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{root: root, db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS definitions (
		id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		objects INTEGER NOT NULL,
		kinds TEXT NOT NULL,
		json_path TEXT NOT NULL,
		artifact_path TEXT NOT NULL
	);`)
	return err
}

// Close closes the catalog.
func (s *Store) Close() error { return s.db.Close() }

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

func (s *Store) jsonPath(id string) string { return filepath.Join(s.root, id+".json") }

func (s *Store) artifactPath(id string) string { return filepath.Join(s.root, id+".gob.zst") }

// Exists reports whether id is stored, either in the catalog or on disk.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM definitions WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("querying catalog: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	_, err := os.Stat(s.artifactPath(id))
	return err == nil, nil
}

// Save writes d and records it in the catalog.
func (s *Store) Save(ctx context.Context, d *defn.SimulationDefn) (Entry, error) {
	id := d.ID()
	exists, err := s.Exists(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	if exists {
		return Entry{}, fmt.Errorf("%w: %s", ErrDuplicateDefinition, id)
	}

	data, err := d.MarshalJSON()
	if err != nil {
		return Entry{}, fmt.Errorf("encoding definition %s: %w", id, err)
	}
	entry := Entry{
		ID:           id,
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
		Objects:      len(d.Objects()),
		Kinds:        kindsOf(d),
		JSONPath:     s.jsonPath(id),
		ArtifactPath: s.artifactPath(id),
	}
	if err := os.WriteFile(entry.JSONPath, append(data, '\n'), 0o644); err != nil {
		return Entry{}, fmt.Errorf("writing definition document: %w", err)
	}
	if err := writeArtifact(entry.ArtifactPath, d); err != nil {
		_ = os.Remove(entry.JSONPath)
		return Entry{}, fmt.Errorf("writing definition artifact: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO definitions (id, created_at, objects, kinds, json_path, artifact_path) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.CreatedAt.Format(time.RFC3339), entry.Objects, strings.Join(entry.Kinds, ","), entry.JSONPath, entry.ArtifactPath)
	if err != nil {
		return Entry{}, fmt.Errorf("recording definition %s: %w", id, err)
	}
	logrus.Infof("saved definition %s (%d objects) to %s", id, entry.Objects, s.root)
	return entry, nil
}

// Load rebuilds the definition stored under id from its artifact.
func (s *Store) Load(ctx context.Context, id string) (*defn.SimulationDefn, error) {
	path := s.artifactPath(id)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hdr, doc, err := readArtifact(path)
	if err != nil {
		return nil, fmt.Errorf("loading definition %s: %w", id, err)
	}
	d, err := defn.FromDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("loading definition %s: %w", id, err)
	}
	if d.ID() != id || hdr.ID != id {
		return nil, fmt.Errorf("loading definition %s: artifact rebuilds as %s", id, d.ID())
	}
	return d, nil
}

// List returns the catalog, oldest first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, objects, kinds, json_path, artifact_path FROM definitions ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("querying catalog: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			created string
			kinds   string
		)
		if err := rows.Scan(&e.ID, &created, &e.Objects, &kinds, &e.JSONPath, &e.ArtifactPath); err != nil {
			return nil, err
		}
		e.CreatedAt, err = time.Parse(time.RFC3339, created)
		if err != nil {
			return nil, fmt.Errorf("catalog row %s: %w", e.ID, err)
		}
		if kinds != "" {
			e.Kinds = strings.Split(kinds, ",")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func kindsOf(d *defn.SimulationDefn) []string {
	seen := map[string]bool{}
	var out []string
	for _, o := range d.Objects() {
		k := o.Defn.Kind()
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
