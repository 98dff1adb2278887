// Package conf
package conf

import (
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/lib/pq"
)

// Config holds a database connection and metadata
type Config struct {
	Name    string
	DB      *sql.DB
	ConnStr string
}

// adminConnStr points at the maintenance database of a local PostgreSQL.
// BOOKSTREAM_TEST_PG overrides it.
func adminConnStr() string {
	if s := os.Getenv("BOOKSTREAM_TEST_PG"); s != "" {
		return s
	}
	return "host=localhost port=5432 user=postgres password=postgres dbname=postgres sslmode=disable"
}

// FindSchema looks for scripts/schema.sql in the working directory and up to
// three levels above it.
func FindSchema() (string, error) {
	path := filepath.Join("scripts", "schema.sql")
	for range 4 {
		if _, err := os.Stat(path); err == nil {
			b, err := os.ReadFile(path)
			if err != nil {
				return "", err
			}
			return string(b), nil
		}
		path = filepath.Join("..", path)
	}
	return "", fmt.Errorf("schema.sql not found")
}

// NewTestConfig creates a new database with a random name and applies the schema.
// It skips the test when PostgreSQL is not reachable.
func NewTestConfig(t *testing.T) (*Config, func()) {
	t.Helper()

	adminConn := adminConnStr()
	adminDB, err := sql.Open("postgres", adminConn)
	if err != nil {
		t.Fatalf("Failed to connect to postgres: %v", err)
	}

	if err = adminDB.Ping(); err != nil {
		adminDB.Close()
		t.Skipf("Skipping test: PostgreSQL is not running or not accessible: %v", err)
		return nil, func() {}
	}

	dbName := fmt.Sprintf("bookstream_test_%d", rand.Int31())
	if _, err = adminDB.Exec(fmt.Sprintf("CREATE DATABASE %s", dbName)); err != nil {
		adminDB.Close()
		t.Fatalf("Failed to create test database: %v", err)
	}

	schema, err := FindSchema()
	if err != nil {
		adminDB.Close()
		t.Fatalf("Failed to read schema.sql: %v", err)
	}

	dbConnStr := strings.Replace(adminConn, "dbname=postgres", "dbname="+dbName, 1)
	db, err := sql.Open("postgres", dbConnStr)
	if err != nil {
		adminDB.Close()
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	for stmt := range strings.SplitSeq(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err = db.Exec(stmt); err != nil {
			db.Close()
			adminDB.Close()
			t.Fatalf("Failed to apply schema statement: %s\nError: %v", stmt, err)
		}
	}

	testDB := &Config{
		Name:    dbName,
		DB:      db,
		ConnStr: dbConnStr,
	}

	cleanup := func() {
		db.Close()
		if _, err := adminDB.Exec(fmt.Sprintf("DROP DATABASE %s WITH (FORCE)", dbName)); err != nil {
			t.Logf("Warning: Failed to drop test database %s: %v", dbName, err)
		}
		adminDB.Close()
	}

	return testDB, cleanup
}
