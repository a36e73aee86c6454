package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var fileNamePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_-]+)\.sql$`)

// Scanner reads migration files from a directory of an fs.FS.
type Scanner struct {
	files fs.FS
	dir   string
}

// NewScanner constructs a Scanner over dir inside files.
func NewScanner(files fs.FS, dir string) *Scanner {
	return &Scanner{files: files, dir: dir}
}

// Scan returns every migration sorted by numeric version.
func (s *Scanner) Scan() ([]Migration, error) {
	entries, err := fs.ReadDir(s.files, s.dir)
	if err != nil {
		return nil, newMigrationError("", s.dir, "read directory", err)
	}

	var migrations []Migration
	seen := make(map[int]string)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		matches := fileNamePattern.FindStringSubmatch(entry.Name())
		if matches == nil {
			return nil, newMigrationError("", entry.Name(), "validate filename",
				fmt.Errorf("%w: %q does not match {version}_{description}.sql", ErrInvalidMigrationFile, entry.Name()))
		}
		number, _ := strconv.Atoi(matches[1])
		if existing, dup := seen[number]; dup {
			return nil, newMigrationError(matches[1], entry.Name(), "check duplicates",
				fmt.Errorf("%w: %s and %s", ErrDuplicateVersion, existing, entry.Name()))
		}
		seen[number] = entry.Name()

		filePath := path.Join(s.dir, entry.Name())
		content, err := fs.ReadFile(s.files, filePath)
		if err != nil {
			return nil, newMigrationError(matches[1], filePath, "read file", err)
		}
		if strings.TrimSpace(string(content)) == "" {
			return nil, newMigrationError(matches[1], filePath, "read file",
				fmt.Errorf("%w: file is empty", ErrInvalidMigrationFile))
		}

		sum := sha256.Sum256(content)
		migrations = append(migrations, Migration{
			Version:     matches[1],
			Description: strings.ReplaceAll(matches[2], "_", " "),
			SQL:         string(content),
			FilePath:    filePath,
			Checksum:    hex.EncodeToString(sum[:]),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return versionNumber(migrations[i].Version) < versionNumber(migrations[j].Version)
	})
	return migrations, nil
}

func versionNumber(version string) int {
	n, _ := strconv.Atoi(version)
	return n
}
