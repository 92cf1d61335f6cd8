package sqliteutil

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// OpenDB opens a local sqlite database and applies the schema.
// The schema is expected to be CREATE TABLE IF NOT EXISTS statements,
// so reopening an existing database is fine.
func OpenDB(schema, path string) (*sql.DB, error) {
	if path != ":memory:" {
		err := os.MkdirAll(filepath.Dir(path), 0777)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// see this stackoverflow post for information on why the following
	// lines exist: https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
	db.SetMaxOpenConns(1)
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	err = applySchema(db, schema)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return db, nil
}

func applySchema(db *sql.DB, schema string) error {
	if schema == "" {
		return nil
	}
	_, err := db.Exec(schema)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return err
	}
	return nil
}

// Config selects between a local sqlite file and a remote libsql
// database. A url takes precedence over a file.
type Config struct {
	File      string `json:"file"`
	Url       string `json:"url"`
	AuthToken string `json:"auth_token"`
}

func (config Config) OpenDB(schema string) (*sql.DB, error) {
	if config.Url == "" {
		file := config.File
		if file == "" {
			return nil, fmt.Errorf("a database path was not specified")
		}
		return OpenDB(schema, file)
	}

	dsn := config.Url
	if config.AuthToken != "" {
		u, err := url.Parse(config.Url)
		if err != nil {
			return nil, fmt.Errorf("open libsql db: %w", err)
		}
		q := u.Query()
		q.Set("authToken", config.AuthToken)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open libsql db: %w", err)
	}
	err = applySchema(db, schema)
	if err != nil {
		return nil, fmt.Errorf("open libsql db: %w", err)
	}
	return db, nil
}
