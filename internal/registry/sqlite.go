//go:build sqlite
// +build sqlite

package registry

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"unitforge/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutDeployment(d Deployment) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	units, err := json.Marshal(d.UnitFiles)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO deployments(name, mode, container, unit_files, created_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(name) DO UPDATE SET
		   mode=excluded.mode, container=excluded.container,
		   unit_files=excluded.unit_files, created_at=excluded.created_at`,
		d.Name, d.Mode, nullStr(d.Container), string(units), d.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) GetDeployment(name string) (Deployment, bool, error) {
	if s == nil || s.db == nil {
		return Deployment{}, false, ErrDisabled
	}
	row := s.db.QueryRow(
		`SELECT name, mode, container, unit_files, created_at FROM deployments WHERE name = ?`, name)
	d, err := scanDeployment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Deployment{}, false, nil
	}
	if err != nil {
		return Deployment{}, false, err
	}
	return d, true, nil
}

func (s *sqliteStore) ListDeployments() ([]Deployment, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.Query(
		`SELECT name, mode, container, unit_files, created_at FROM deployments ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteDeployment(name string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.Exec(`DELETE FROM deployments WHERE name = ?`, name)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeployment(r rowScanner) (Deployment, error) {
	var d Deployment
	var container sql.NullString
	var units, created string
	if err := r.Scan(&d.Name, &d.Mode, &container, &units, &created); err != nil {
		return Deployment{}, err
	}
	d.Container = container.String
	if err := json.Unmarshal([]byte(units), &d.UnitFiles); err != nil {
		return Deployment{}, err
	}
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		d.CreatedAt = t
	}
	return d, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
