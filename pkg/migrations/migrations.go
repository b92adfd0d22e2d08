package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

func wrapOpenDB(err error) error {
	return fmt.Errorf("open db: %w", err)
}

var remoteSchemes = []string{"libsql://", "http://", "https://", "ws://", "wss://"}

// IsRemote reports whether a database location is a libsql server url
// rather than a local sqlite file.
func IsRemote(location string) bool {
	for _, scheme := range remoteSchemes {
		if strings.HasPrefix(location, scheme) {
			return true
		}
	}
	return false
}

// OpenDB opens a local sqlite file (or ":memory:") or, given a server url,
// a remote libsql database. Auth tokens go in the url as "?authToken=...".
func OpenDB(location string) (*sql.DB, error) {
	if IsRemote(location) {
		db, err := sql.Open("libsql", location)
		if err != nil {
			return nil, wrapOpenDB(err)
		}
		return db, nil
	}

	if location != ":memory:" {
		err := os.MkdirAll(filepath.Dir(location), 0777)
		if err != nil {
			return nil, wrapOpenDB(err)
		}
	}

	db, err := sql.Open("sqlite", location)
	if err != nil {
		return nil, wrapOpenDB(err)
	}

	// see this stackoverflow post for information on why the following
	// lines exist: https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
	db.SetMaxOpenConns(1)
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		return nil, wrapOpenDB(err)
	}

	return db, nil
}

// Statements splits a schema into its statements. Comments are dropped, a
// statement ends at a semicolon at the end of a line.
func Statements(schema string) []string {
	var statements []string
	var current []string
	for _, line := range strings.Split(schema, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current = append(current, line)
		if strings.HasSuffix(trimmed, ";") {
			statements = append(statements, strings.Join(current, "\n"))
			current = nil
		}
	}
	if len(current) > 0 {
		statements = append(statements, strings.Join(current, "\n"))
	}
	return statements
}

func wrapMigrate(err error) error {
	return fmt.Errorf("migrate db: %w", err)
}

// Migrate runs every statement of an idempotent schema ("create ... if not
// exists") one at a time, libsql servers do not accept batches through Exec.
func Migrate(ctx context.Context, db *sql.DB, schema string) error {
	for _, statement := range Statements(schema) {
		_, err := db.ExecContext(ctx, statement)
		if err != nil {
			return wrapMigrate(fmt.Errorf("%w: %s", err, statement))
		}
	}
	return nil
}

// OpenAndMigrateDB opens a database and brings it up to schema.
func OpenAndMigrateDB(ctx context.Context, schema, location string) (*sql.DB, error) {
	db, err := OpenDB(location)
	if err != nil {
		return nil, err
	}
	err = Migrate(ctx, db, schema)
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
