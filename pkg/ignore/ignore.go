// Package ignore decides which files "av import" skips, using gitignore
// syntax from an optional .avignore at the import root.
package ignore

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	gitignore "github.com/sabhiram/go-gitignore"
)

// FileName is the per-directory ignore file read from the import root.
const FileName = ".avignore"

// Matcher wraps the compiled rules.
type Matcher struct {
	ignorer *gitignore.GitIgnore
}

// defaultRules always apply.
var defaultRules = []string{
	// local store and VCS metadata
	".av",
	".git",

	// credentials
	"config.yaml",
	".env",

	// OS junk
	".DS_Store",
	"Thumbs.db",

	FileName,
}

// NewMatcher compiles the default rules plus rootPath/.avignore when present.
func NewMatcher(rootPath string) (*Matcher, error) {
	ignoreFilePath := filepath.Join(rootPath, FileName)

	var (
		ignorer *gitignore.GitIgnore
		err     error
	)
	if _, statErr := os.Stat(ignoreFilePath); statErr == nil {
		ignorer, err = gitignore.CompileIgnoreFileAndLines(ignoreFilePath, defaultRules...)
	} else {
		ignorer = gitignore.CompileIgnoreLines(defaultRules...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", ignoreFilePath, err)
	}
	return &Matcher{ignorer: ignorer}, nil
}

// Matches reports whether path, relative to the root, is ignored.
func (m *Matcher) Matches(path string) bool {
	if m.ignorer == nil {
		return false
	}
	return m.ignorer.MatchesPath(filepath.ToSlash(path))
}

// Collect walks root and returns the relative paths of every regular file
// not ignored. Ignored directories are not descended into.
func (m *Matcher) Collect(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if m.Matches(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
