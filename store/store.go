// Package store manages the content-addressed object tree and the SQLite
// index that tracks each object's metadata, reference count and checkpoint
// names. The filesystem layout under root is the source of truth; the index
// is an accelerator that must never disagree with it.
package store

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banksean/pipeforge/errorkind"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	objectsDir   = "objects"
	tmpDir       = "tmp"
	workspaceDir = "workspace"
	indexFile    = "index.db"
)

// Store is a single content-addressed object tree rooted at Root, backed by
// a SQLite index at Root/index.db.
type Store struct {
	Root string
	db   *sql.DB
}

// Open creates the on-disk layout under root if missing, applies any
// pending index migrations, and returns a ready-to-use Store.
func Open(root string) (*Store, error) {
	for _, d := range []string{objectsDir, tmpDir, workspaceDir} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o750); err != nil {
			return nil, errorkind.New(errorkind.StoreIO, root, "creating store layout", err)
		}
	}

	dbPath := filepath.Join(root, indexFile)
	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errorkind.New(errorkind.StoreIO, root, "opening index database", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		sqlDB.Close()
		return nil, errorkind.New(errorkind.StoreIO, root, "enabling WAL mode", err)
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys=ON"); err != nil {
		sqlDB.Close()
		return nil, errorkind.New(errorkind.StoreIO, root, "enabling foreign keys", err)
	}

	if err := applyMigrations(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &Store{Root: root, db: sqlDB}, nil
}

func applyMigrations(sqlDB *sql.DB) error {
	srcDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return errorkind.New(errorkind.StoreIO, "", "loading embedded migrations", err)
	}
	dbDriver, err := sqlite.WithInstance(sqlDB, &sqlite.Config{})
	if err != nil {
		return errorkind.New(errorkind.StoreIO, "", "attaching migration driver", err)
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "sqlite", dbDriver)
	if err != nil {
		return errorkind.New(errorkind.StoreIO, "", "constructing migrator", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return errorkind.New(errorkind.StoreIO, "", "applying index migrations", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ObjectPath returns the path of a committed object's root directory.
func (s *Store) ObjectPath(id string) string {
	return filepath.Join(s.Root, objectsDir, sanitizeID(id))
}

// Exists reports whether id has a committed object on disk, cross-checking
// the index: a filesystem/index disagreement is reported as store-corrupt
// rather than silently resolved either way.
func (s *Store) Exists(id string) (bool, error) {
	_, fsErr := os.Stat(s.ObjectPath(id))
	onDisk := fsErr == nil
	if fsErr != nil && !os.IsNotExist(fsErr) {
		return false, errorkind.New(errorkind.StoreIO, id, "statting object", fsErr)
	}

	var indexed bool
	row := s.db.QueryRow(`SELECT 1 FROM objects WHERE id = ?`, id)
	switch err := row.Scan(new(int)); err {
	case nil:
		indexed = true
	case sql.ErrNoRows:
		indexed = false
	default:
		return false, errorkind.New(errorkind.StoreIO, id, "querying index", err)
	}

	if onDisk != indexed {
		return false, errorkind.New(errorkind.StoreCorrupt, id, fmt.Sprintf("object on disk=%v but indexed=%v", onDisk, indexed), nil)
	}
	return onDisk, nil
}

// sanitizeID turns "sha256:<hex>" into a filesystem-safe "sha256/<hex>" path
// component so objects fan out into subdirectories instead of one flat dir.
func sanitizeID(id string) string {
	for i := 0; i < len(id); i++ {
		if id[i] == ':' {
			return filepath.Join(id[:i], id[i+1:])
		}
	}
	return id
}
