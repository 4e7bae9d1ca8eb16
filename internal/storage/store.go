// Package storage mirrors environments, installed packages and extracted
// module data in SQLite so repeated lookups skip the interpreter.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/canonical/python-module-explorer/internal/introspect"
	"github.com/canonical/python-module-explorer/internal/storage/migrations"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
)

type Environment struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Path          string    `json:"path"`
	PythonVersion string    `json:"pythonVersion,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type Package struct {
	ID          string    `json:"id"`
	EnvID       string    `json:"envId"`
	Name        string    `json:"name"`
	Version     string    `json:"version,omitempty"`
	InstalledAt time.Time `json:"installedAt"`
}

type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens or creates the database at path and applies pending
// migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, path: path, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Path() string {
	return s.path
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	var files []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil || version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}
	return nil
}

// ==================== Environments ====================

// CreateEnvironment records a new environment. An empty ID is assigned a
// UUID. Names are unique.
func (s *Store) CreateEnvironment(ctx context.Context, env Environment) (*Environment, error) {
	if env.Name == "" || env.Path == "" {
		return nil, fmt.Errorf("environment name and path are required")
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	now := s.now()
	env.CreatedAt = now
	env.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO environments (id, name, path, python_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		env.ID, env.Name, env.Path, env.PythonVersion, env.CreatedAt, env.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("environment %q: %w", env.Name, ErrExists)
		}
		return nil, fmt.Errorf("insert environment: %w", err)
	}
	return &env, nil
}

const environmentColumns = `id, name, path, python_version, created_at, updated_at`

func (s *Store) GetEnvironment(ctx context.Context, id string) (*Environment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+environmentColumns+` FROM environments WHERE id = ?`, id)
	env, err := scanEnvironment(row)
	if err != nil {
		return nil, fmt.Errorf("environment %s: %w", id, err)
	}
	return env, nil
}

func (s *Store) EnvironmentByName(ctx context.Context, name string) (*Environment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+environmentColumns+` FROM environments WHERE name = ?`, name)
	env, err := scanEnvironment(row)
	if err != nil {
		return nil, fmt.Errorf("environment %q: %w", name, err)
	}
	return env, nil
}

// ListEnvironments returns every environment, oldest first.
func (s *Store) ListEnvironments(ctx context.Context) ([]Environment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+environmentColumns+` FROM environments ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("query environments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	envs := make([]Environment, 0)
	for rows.Next() {
		env, err := scanEnvironment(rows)
		if err != nil {
			return nil, err
		}
		envs = append(envs, *env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate environments: %w", err)
	}
	return envs, nil
}

// DeleteEnvironment removes an environment with its packages and module
// mirror.
func (s *Store) DeleteEnvironment(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM environments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete environment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("environment %s: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnvironment(row rowScanner) (*Environment, error) {
	var env Environment
	if err := row.Scan(&env.ID, &env.Name, &env.Path, &env.PythonVersion, &env.CreatedAt, &env.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan environment: %w", err)
	}
	return &env, nil
}

// ==================== Packages ====================

// AddPackage records an installed package, replacing the version of an
// earlier install of the same name.
func (s *Store) AddPackage(ctx context.Context, envID, name, version string) (*Package, error) {
	if _, err := s.GetEnvironment(ctx, envID); err != nil {
		return nil, err
	}
	pkg := Package{ID: uuid.NewString(), EnvID: envID, Name: name, Version: version, InstalledAt: s.now()}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO packages (id, env_id, name, version, installed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (env_id, name) DO UPDATE SET
			version = excluded.version,
			installed_at = excluded.installed_at
		RETURNING id`,
		pkg.ID, pkg.EnvID, pkg.Name, pkg.Version, pkg.InstalledAt).Scan(&pkg.ID)
	if err != nil {
		return nil, fmt.Errorf("insert package: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE environments SET updated_at = ? WHERE id = ?`, pkg.InstalledAt, envID); err != nil {
		return nil, fmt.Errorf("touch environment: %w", err)
	}
	return &pkg, nil
}

// ListPackages returns the packages of an environment by name.
func (s *Store) ListPackages(ctx context.Context, envID string) ([]Package, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, env_id, name, version, installed_at
		FROM packages WHERE env_id = ? ORDER BY name COLLATE NOCASE`, envID)
	if err != nil {
		return nil, fmt.Errorf("query packages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	pkgs := make([]Package, 0)
	for rows.Next() {
		var p Package
		if err := rows.Scan(&p.ID, &p.EnvID, &p.Name, &p.Version, &p.InstalledAt); err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		pkgs = append(pkgs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate packages: %w", err)
	}
	return pkgs, nil
}

// ==================== Modules ====================

// SaveAttributes replaces the stored attribute list of a module.
func (s *Store) SaveAttributes(ctx context.Context, envID, module string, attrs []introspect.Attribute) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO modules (env_id, name, attributes_updated_at) VALUES (?, ?, ?)
		ON CONFLICT (env_id, name) DO UPDATE SET attributes_updated_at = excluded.attributes_updated_at`,
		envID, module, s.now()); err != nil {
		return moduleWriteError(envID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM attributes WHERE env_id = ? AND module = ?`, envID, module); err != nil {
		return fmt.Errorf("clear attributes: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO attributes (env_id, module, position, name, type, doc) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (env_id, module, name) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare attribute insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for i, a := range attrs {
		if _, err := stmt.ExecContext(ctx, envID, module, i, a.Name, a.Type, a.DocString); err != nil {
			return fmt.Errorf("insert attribute %s: %w", a.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit attributes: %w", err)
	}
	return nil
}

// Attributes returns the stored attributes of a module in extraction
// order. ErrNotFound means the module was never extracted.
func (s *Store) Attributes(ctx context.Context, envID, module string) ([]introspect.Attribute, error) {
	var updated sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT attributes_updated_at FROM modules WHERE env_id = ? AND name = ?`, envID, module).Scan(&updated)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !updated.Valid) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query module: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, type, doc FROM attributes
		WHERE env_id = ? AND module = ? ORDER BY position`, envID, module)
	if err != nil {
		return nil, fmt.Errorf("query attributes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	attrs := make([]introspect.Attribute, 0)
	for rows.Next() {
		var a introspect.Attribute
		if err := rows.Scan(&a.Name, &a.Type, &a.DocString); err != nil {
			return nil, fmt.Errorf("scan attribute: %w", err)
		}
		attrs = append(attrs, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attributes: %w", err)
	}
	return attrs, nil
}

func (s *Store) SaveHelp(ctx context.Context, envID, module, text string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO modules (env_id, name, help, help_updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (env_id, name) DO UPDATE SET
			help = excluded.help,
			help_updated_at = excluded.help_updated_at`,
		envID, module, text, s.now())
	if err != nil {
		return moduleWriteError(envID, err)
	}
	return nil
}

// Help returns the stored help text of a module.
func (s *Store) Help(ctx context.Context, envID, module string) (string, error) {
	var help sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT help FROM modules WHERE env_id = ? AND name = ?`, envID, module).Scan(&help)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !help.Valid) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query help: %w", err)
	}
	return help.String, nil
}

// ModuleNames lists the modules with stored data in an environment.
func (s *Store) ModuleNames(ctx context.Context, envID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM modules WHERE env_id = ? ORDER BY name`, envID)
	if err != nil {
		return nil, fmt.Errorf("query modules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan module: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate modules: %w", err)
	}
	return names, nil
}

// ClearModules drops the module mirror of an environment, e.g. after a
// package install changed what its modules contain.
func (s *Store) ClearModules(ctx context.Context, envID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM modules WHERE env_id = ?`, envID); err != nil {
		return fmt.Errorf("clear modules: %w", err)
	}
	return nil
}

func moduleWriteError(envID string, err error) error {
	if strings.Contains(err.Error(), "FOREIGN KEY") {
		return fmt.Errorf("environment %s: %w", envID, ErrNotFound)
	}
	return fmt.Errorf("write module: %w", err)
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
