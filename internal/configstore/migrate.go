package configstore

import (
	"context"
	"embed"

	"github.com/pressly/goose/v3"

	"github.com/vitaliisemenov/run-record-archiver/internal/errs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrate applies every pending schema migration via goose, adapted from
// the teacher's MigrationManager but trimmed to the one call a driver-mode
// store needs on open: bring the schema up to date, nothing more.
func (s *SQLStore) migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationFS)
	dialect := "sqlite3"
	if s.dialect == DialectPostgres {
		dialect = "postgres"
	}
	if err := goose.SetDialect(dialect); err != nil {
		return errs.Wrap(errs.KindConfigurationStore, "set migration dialect", err)
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return errs.Wrap(errs.KindConfigurationStore, "apply schema migrations", err)
	}
	return nil
}
