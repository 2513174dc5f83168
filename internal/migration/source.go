package migration

import (
	"context"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Extension is the file extension of migration files, compared case-insensitively.
const Extension = ".sql"

// DirSource enumerates migration files in the root of a file system.
type DirSource struct {
	fsys fs.FS
	root string // Reported in errors and logs
}

// NewDirSource returns a Source reading migration files from dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{fsys: os.DirFS(dir), root: dir}
}

// NewFSSource returns a Source reading migration files from the root of fsys.
func NewFSSource(fsys fs.FS) *DirSource {
	return &DirSource{fsys: fsys, root: "."}
}

// Root returns the directory the source reads from.
func (s *DirSource) Root() string {
	return s.root
}

// Scan lists the migration files ordered by name. A directory that does not
// exist is treated as empty.
func (s *DirSource) Scan(ctx context.Context) ([]Migration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := fs.ReadDir(s.fsys, ".")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Migration{}, nil
		}
		return nil, &SourceError{Path: s.root, Operation: "read directory", Err: err}
	}

	migrations := make([]Migration, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !IsMigrationFile(name) {
			continue
		}
		if entry.Type()&fs.ModeSymlink != 0 {
			// Follow the link; only links to regular files count.
			info, err := fs.Stat(s.fsys, name)
			if err != nil {
				return nil, &SourceError{Path: filepath.Join(s.root, name), Operation: "stat file", Err: err}
			}
			if !info.Mode().IsRegular() {
				continue
			}
		} else if !entry.Type().IsRegular() {
			continue
		}
		migrations = append(migrations, Migration{Name: name, Path: filepath.Join(s.root, name)})
	}

	SortMigrations(migrations)
	return migrations, nil
}

// Load reads the content of m.
func (s *DirSource) Load(ctx context.Context, m Migration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	content, err := fs.ReadFile(s.fsys, m.Name)
	if err != nil {
		return "", &SourceError{Path: m.Path, Operation: "read file", Err: err}
	}
	return string(content), nil
}

// IsMigrationFile reports whether name has the migration file extension.
func IsMigrationFile(name string) bool {
	ext := path.Ext(name)
	return ext != "" && strings.EqualFold(ext, Extension) && len(name) > len(ext)
}

// SortMigrations orders migrations by filename, byte-wise.
func SortMigrations(migrations []Migration) {
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Name < migrations[j].Name
	})
}

// Checksum returns the hex BLAKE2b-256 digest of content.
func Checksum(content string) string {
	sum := blake2b.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
