package migrations

import (
	"database/sql"
	"embed"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var files embed.FS

var setupOnce sync.Once

// Run applies all pending migrations.
func Run(db *sql.DB) error {
	var err error
	setupOnce.Do(func() {
		goose.SetBaseFS(files)
		goose.SetLogger(goose.NopLogger())
		err = goose.SetDialect("sqlite3")
	})
	if err != nil {
		return err
	}
	return goose.Up(db, ".")
}
