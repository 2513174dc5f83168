package testfixtures

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
)

// MigrationFile is a migration file to be materialised by a fixture.
type MigrationFile struct {
	Name string
	SQL  string
}

// GrantSchema returns three dependent migrations modelled on the grant
// matching schema. Each later file depends on tables from the earlier ones.
func GrantSchema() []MigrationFile {
	return []MigrationFile{
		{Name: "001_create_faculty.sql", SQL: `-- Description: faculty directory
CREATE TABLE faculty (
    id    INTEGER PRIMARY KEY,
    name  TEXT NOT NULL,
    email TEXT NOT NULL UNIQUE
);
`},
		{Name: "002_create_opportunity.sql", SQL: `-- Description: funding opportunities
CREATE TABLE opportunity (
    id       INTEGER PRIMARY KEY,
    title    TEXT NOT NULL,
    agency   TEXT,
    deadline TEXT
);
CREATE INDEX idx_opportunity_agency ON opportunity (agency);
`},
		{Name: "003_create_match_result.sql", SQL: `CREATE TABLE match_result (
    faculty_id     INTEGER NOT NULL REFERENCES faculty (id),
    opportunity_id INTEGER NOT NULL REFERENCES opportunity (id),
    score          REAL NOT NULL,
    PRIMARY KEY (faculty_id, opportunity_id)
);
`},
	}
}

// WriteMigrations writes files into a new temporary directory and returns it.
func WriteMigrations(tb testing.TB, files ...MigrationFile) string {
	tb.Helper()
	dir := tb.TempDir()
	for _, f := range files {
		WriteMigration(tb, dir, f)
	}
	return dir
}

// WriteMigration writes a single migration file into dir, replacing any
// existing file of the same name.
func WriteMigration(tb testing.TB, dir string, f MigrationFile) {
	tb.Helper()
	if err := os.WriteFile(filepath.Join(dir, f.Name), []byte(f.SQL), 0o644); err != nil {
		tb.Fatalf("failed to write migration %s: %v", f.Name, err)
	}
}

// MapFS builds an in-memory file system holding files.
func MapFS(files ...MigrationFile) fstest.MapFS {
	fsys := make(fstest.MapFS, len(files))
	for _, f := range files {
		fsys[f.Name] = &fstest.MapFile{Data: []byte(f.SQL), Mode: 0o644}
	}
	return fsys
}
