package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func init() {
	// modernc registers as "sqlite", which sqlx does not know by name.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

const buildingColumns = `id, name, aliases, latitude, longitude, address, description, building_hours, image_url, building_code`

const routeColumns = `id, from_building_id, to_building_id, distance_meters, walk_time_minutes, route_description, waypoints`

const poiColumns = `id, name, building_id, floor, room_number, poi_type, description, hours`

// Store is the read side of the campus knowledge base: buildings, points of
// interest and routes. It runs on SQLite by default and on PostgreSQL when
// opened with a postgres:// DSN.
type Store struct {
	db     *sqlx.DB
	driver string
}

// Open opens the knowledge base and runs pending migrations.
//
// target is one of:
//   - ":memory:" for an in-memory SQLite database (used by tests)
//   - a postgres:// or postgresql:// DSN
//   - a directory, in which campus.db is created
func Open(target string) (*Store, error) {
	driver, dsn, err := resolveTarget(target)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if driver == "sqlite" {
		// Limit to single connection to avoid "database is locked" errors.
		db.SetMaxOpenConns(1)

		if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting busy timeout: %w", err)
		}
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting journal mode: %w", err)
		}
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func resolveTarget(target string) (driver, dsn string, err error) {
	switch {
	case target == ":memory:":
		return "sqlite", ":memory:", nil
	case strings.HasPrefix(target, "postgres://"), strings.HasPrefix(target, "postgresql://"):
		return "postgres", target, nil
	case target == "":
		return "", "", fmt.Errorf("no storage target configured")
	default:
		if err := os.MkdirAll(target, 0o755); err != nil {
			return "", "", fmt.Errorf("creating data directory: %w", err)
		}
		return "sqlite", filepath.Join(target, "campus.db"), nil
	}
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver reports which database driver backs the store.
func (s *Store) Driver() string {
	return s.driver
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.Get(&exists, s.db.Rebind("SELECT COUNT(*) FROM schema_version WHERE version = ?"), version); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Beginx()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec(tx.Rebind("INSERT INTO schema_version (version) VALUES (?)"), version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	var versions []int
	if err := s.db.Select(&versions, "SELECT version FROM schema_version ORDER BY version ASC"); err != nil {
		return nil, err
	}
	return versions, nil
}

// --- Buildings ---

// FindBuilding returns the first building whose name or alias list contains
// name, case-insensitively. Rows are considered in id order and there is no
// ranking: overlapping aliases resolve to the lowest id. A blank name or no
// match yields (nil, nil).
func (s *Store) FindBuilding(ctx context.Context, name string) (*Building, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	pattern := likePattern(name)

	var b Building
	err := s.db.GetContext(ctx, &b, s.db.Rebind(`
		SELECT `+buildingColumns+` FROM buildings
		WHERE LOWER(name) LIKE ? ESCAPE '\' OR LOWER(aliases) LIKE ? ESCAPE '\'
		ORDER BY id ASC LIMIT 1`), pattern, pattern)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding building %q: %w", name, err)
	}
	return &b, nil
}

// SearchBuildings returns every building whose name or aliases contain q.
func (s *Store) SearchBuildings(ctx context.Context, q string) ([]Building, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return []Building{}, nil
	}
	pattern := likePattern(q)

	buildings := []Building{}
	err := s.db.SelectContext(ctx, &buildings, s.db.Rebind(`
		SELECT `+buildingColumns+` FROM buildings
		WHERE LOWER(name) LIKE ? ESCAPE '\' OR LOWER(aliases) LIKE ? ESCAPE '\'
		ORDER BY id ASC`), pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("searching buildings: %w", err)
	}
	return buildings, nil
}

// GetBuilding returns the building with the given id or ErrNotFound.
func (s *Store) GetBuilding(ctx context.Context, id int64) (Building, error) {
	var b Building
	err := s.db.GetContext(ctx, &b, s.db.Rebind(`SELECT `+buildingColumns+` FROM buildings WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return Building{}, ErrNotFound
	}
	if err != nil {
		return Building{}, err
	}
	return b, nil
}

// ListBuildings returns all buildings ordered by name.
func (s *Store) ListBuildings(ctx context.Context) ([]Building, error) {
	buildings := []Building{}
	if err := s.db.SelectContext(ctx, &buildings, `SELECT `+buildingColumns+` FROM buildings ORDER BY name ASC`); err != nil {
		return nil, fmt.Errorf("listing buildings: %w", err)
	}
	return buildings, nil
}

// --- Routes ---

// GetRoute returns the route between two buildings. The stored direction is
// tried first, then the reverse, so (A, B) and (B, A) answer with the same
// record. No route yields (nil, nil).
func (s *Store) GetRoute(ctx context.Context, fromID, toID int64) (*Route, error) {
	q := s.db.Rebind(`SELECT ` + routeColumns + ` FROM routes
		WHERE from_building_id = ? AND to_building_id = ?
		ORDER BY id ASC LIMIT 1`)

	for _, pair := range [][2]int64{{fromID, toID}, {toID, fromID}} {
		var r Route
		err := s.db.GetContext(ctx, &r, q, pair[0], pair[1])
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("getting route %d->%d: %w", pair[0], pair[1], err)
		}
		return &r, nil
	}
	return nil, nil
}

// --- Points of interest ---

// GetPOIs returns the points of interest inside a building, in id order.
func (s *Store) GetPOIs(ctx context.Context, buildingID int64) ([]POI, error) {
	pois := []POI{}
	err := s.db.SelectContext(ctx, &pois, s.db.Rebind(`SELECT `+poiColumns+` FROM poi WHERE building_id = ? ORDER BY id ASC`), buildingID)
	if err != nil {
		return nil, fmt.Errorf("getting POIs for building %d: %w", buildingID, err)
	}
	return pois, nil
}

// likePattern lowercases s, escapes LIKE wildcards and wraps it for a
// substring match.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(s)) + "%"
}
