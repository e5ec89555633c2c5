package configstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vitaliisemenov/run-record-archiver/internal/errs"
)

// Dialect selects the SQL variant spoken by a SQLStore.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLStore is the in-process driver transport mode of the configuration
// store: a single *sql.DB shared by every caller. Grounded on the
// teacher's SQLiteStorage (WAL-mode DSN, path validation, RWMutex guard,
// structured debug/info logging) generalized to run-record files instead
// of alert rows, and extended with a Postgres dialect via pgx's
// database/sql shim.
type SQLStore struct {
	db      *sql.DB
	logger  *slog.Logger
	dialect Dialect
	mu      sync.RWMutex
}

// Open opens (and schema-initializes) a SQLStore. For DialectSQLite, dsn
// is a filesystem path; for DialectPostgres, dsn is a standard Postgres
// connection string.
func Open(ctx context.Context, dialect Dialect, dsn string, logger *slog.Logger) (*SQLStore, error) {
	if dsn == "" {
		return nil, errs.New(errs.KindConfigurationStore, "dsn must not be empty")
	}

	driverName := "sqlite"
	switch dialect {
	case DialectSQLite:
		if strings.Contains(dsn, "..") {
			return nil, errs.New(errs.KindConfigurationStore, "dsn must not contain '..'").WithField("dsn", dsn)
		}
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, errs.Wrap(errs.KindConfigurationStore, "create sqlite directory", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", dsn)
	case DialectPostgres:
		driverName = "pgx"
	default:
		return nil, errs.New(errs.KindConfigurationStore, "unknown dialect").WithField("dialect", string(dialect))
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfigurationStore, "open database", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.KindConfigurationStore, "ping database", err)
	}

	s := &SQLStore{db: db, logger: logger, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("configuration store opened", "dialect", string(dialect))
	return s, nil
}

// Close releases the underlying database connection.
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// MaxConcurrency reports the driver-mode clamp of 1 (spec §9): an
// in-process adapter must serialize access rather than trust the caller's
// worker-pool size.
func (s *SQLStore) MaxConcurrency() int { return 1 }

func (s *SQLStore) placeholder(n int) string {
	if s.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLStore) ListRuns(ctx context.Context) (map[int]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT run_number FROM config_runs")
	if err != nil {
		return nil, errs.Wrap(errs.KindConfigurationStore, "list runs", err)
	}
	defer rows.Close()

	runs := make(map[int]struct{})
	for rows.Next() {
		var run int
		if err := rows.Scan(&run); err != nil {
			return nil, errs.Wrap(errs.KindConfigurationStore, "scan run number", err)
		}
		runs[run] = struct{}{}
	}
	return runs, rows.Err()
}

func (s *SQLStore) ResolveConfigName(ctx context.Context, run int) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := fmt.Sprintf("SELECT config_name FROM config_runs WHERE run_number = %s", s.placeholder(1))
	var name string
	err := s.db.QueryRowContext(ctx, query, run).Scan(&name)
	if err == sql.ErrNoRows {
		return "", errs.New(errs.KindConfigurationStore, "not-found").WithRun(run)
	}
	if err != nil {
		return "", errs.Wrap(errs.KindConfigurationStore, "resolve config name", err).WithRun(run)
	}
	return name, nil
}

func (s *SQLStore) Insert(ctx context.Context, run int, configName string, dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.KindConfigurationStore, "begin insert transaction", err).WithRun(run)
	}
	defer tx.Rollback()

	var exists int
	existsQuery := fmt.Sprintf("SELECT 1 FROM config_runs WHERE run_number = %s", s.placeholder(1))
	err = tx.QueryRowContext(ctx, existsQuery, run).Scan(&exists)
	if err == nil {
		return errs.New(errs.KindConfigurationStore, "already-exists").WithRun(run).WithField("config_name", configName)
	}
	if err != sql.ErrNoRows {
		return errs.Wrap(errs.KindConfigurationStore, "check existing record", err).WithRun(run)
	}

	insertRun := fmt.Sprintf("INSERT INTO config_runs (run_number, config_name) VALUES (%s, %s)", s.placeholder(1), s.placeholder(2))
	if _, err := tx.ExecContext(ctx, insertRun, run, configName); err != nil {
		return errs.Wrap(errs.KindConfigurationStore, "insert run record", err).WithRun(run)
	}

	if err := s.writeFiles(ctx, tx, run, dir); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.KindConfigurationStore, "commit insert transaction", err).WithRun(run)
	}
	s.logger.Debug("configuration record inserted", "run", run, "config_name", configName)
	return nil
}

func (s *SQLStore) Update(ctx context.Context, run int, configName string, dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.KindConfigurationStore, "begin update transaction", err).WithRun(run)
	}
	defer tx.Rollback()

	var exists int
	existsQuery := fmt.Sprintf("SELECT 1 FROM config_runs WHERE run_number = %s", s.placeholder(1))
	err = tx.QueryRowContext(ctx, existsQuery, run).Scan(&exists)
	if err == sql.ErrNoRows {
		return errs.New(errs.KindConfigurationStore, "not-found").WithRun(run)
	}
	if err != nil {
		return errs.Wrap(errs.KindConfigurationStore, "check existing record", err).WithRun(run)
	}

	if err := s.writeFiles(ctx, tx, run, dir); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.KindConfigurationStore, "commit update transaction", err).WithRun(run)
	}
	s.logger.Debug("configuration record updated", "run", run, "config_name", configName)
	return nil
}

// writeFiles upserts every flat file in dir into config_files for run.
func (s *SQLStore) writeFiles(ctx context.Context, tx *sql.Tx, run int, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errs.Wrap(errs.KindConfigurationStore, "read source directory", err).WithRun(run)
	}

	var upsert string
	switch s.dialect {
	case DialectPostgres:
		upsert = `INSERT INTO config_files (run_number, filename, content) VALUES ($1, $2, $3)
			ON CONFLICT (run_number, filename) DO UPDATE SET content = excluded.content`
	default:
		upsert = `INSERT INTO config_files (run_number, filename, content) VALUES (?, ?, ?)
			ON CONFLICT (run_number, filename) DO UPDATE SET content = excluded.content`
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return errs.Wrap(errs.KindConfigurationStore, "read file for upload", err).WithRun(run).WithField("file", e.Name())
		}
		if _, err := tx.ExecContext(ctx, upsert, run, e.Name(), string(data)); err != nil {
			return errs.Wrap(errs.KindConfigurationStore, "write file record", err).WithRun(run).WithField("file", e.Name())
		}
	}
	return nil
}

func (s *SQLStore) Export(ctx context.Context, run int, destDir string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return errs.Wrap(errs.KindConfigurationStore, "create export directory", err).WithRun(run)
	}

	query := fmt.Sprintf("SELECT filename, content FROM config_files WHERE run_number = %s", s.placeholder(1))
	rows, err := s.db.QueryContext(ctx, query, run)
	if err != nil {
		return errs.Wrap(errs.KindConfigurationStore, "query record files", err).WithRun(run)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var filename, content string
		if err := rows.Scan(&filename, &content); err != nil {
			return errs.Wrap(errs.KindConfigurationStore, "scan record file", err).WithRun(run)
		}
		if err := os.WriteFile(filepath.Join(destDir, filename), []byte(content), 0o644); err != nil {
			return errs.Wrap(errs.KindConfigurationStore, "write exported file", err).WithRun(run).WithField("file", filename)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return errs.Wrap(errs.KindConfigurationStore, "iterate record files", err).WithRun(run)
	}
	if count == 0 {
		return errs.New(errs.KindConfigurationStore, "not-found").WithRun(run)
	}
	return nil
}
