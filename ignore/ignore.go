package ignore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/denormal/go-gitignore"
)

// Matcher determines whether a path should be left out of watching.
// It combines default patterns, .gitignore and .watchignore rules from the
// root directory, and patterns from the configuration file.
// Thread-safe: Reload() acquires a write lock, ShouldIgnore()/ShouldIgnoreDir() acquire a read lock.
type Matcher struct {
	mu             sync.RWMutex
	rootDir        string
	useGitignore   bool
	gitIgnore      gitignore.GitIgnore
	watchIgnore    gitignore.GitIgnore
	customPatterns []string
}

// MatcherOptions configures the ignore matcher.
type MatcherOptions struct {
	RootDir        string
	CustomPatterns []string
	UseGitignore   bool
}

// NewMatcher creates an ignore matcher. Custom patterns are doublestar globs
// matched against the path relative to RootDir and against the base name.
func NewMatcher(options MatcherOptions) (*Matcher, error) {
	for _, pattern := range options.CustomPatterns {
		if !doublestar.ValidatePattern(filepath.ToSlash(pattern)) {
			return nil, fmt.Errorf("invalid ignore pattern: %s", pattern)
		}
	}

	matcher := &Matcher{
		rootDir:        options.RootDir,
		useGitignore:   options.UseGitignore,
		customPatterns: options.CustomPatterns,
	}
	matcher.Reload()
	return matcher, nil
}

// ShouldIgnore returns true if changes to the given absolute path must not
// trigger anything.
func (m *Matcher) ShouldIgnore(absolutePath string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	relativePath, inside := m.relative(absolutePath)

	if matchesDefaultDirs(relativePath) {
		return true
	}
	if matchesAny(DefaultIgnorePatterns, relativePath) {
		return true
	}
	if matchesAny(m.customPatterns, relativePath) {
		return true
	}
	if !inside {
		return false
	}

	isDir := false
	if info, err := os.Stat(absolutePath); err == nil {
		isDir = info.IsDir()
	}

	// Relative() doesn't require the file to exist on disk
	if m.gitIgnore != nil {
		match := m.gitIgnore.Relative(relativePath, isDir)
		if match != nil && match.Ignore() {
			return true
		}
	}
	if m.watchIgnore != nil {
		match := m.watchIgnore.Relative(relativePath, isDir)
		if match != nil && match.Ignore() {
			return true
		}
	}
	return false
}

// ShouldIgnoreDir returns true if a directory should be skipped entirely during traversal.
func (m *Matcher) ShouldIgnoreDir(absolutePath string) bool {
	dirName := filepath.Base(absolutePath)
	for _, name := range DefaultIgnoreDirs {
		if dirName == name {
			return true
		}
	}
	return m.ShouldIgnore(absolutePath)
}

// IsIgnoreFile reports whether path is one of the rule files read by Reload.
func (m *Matcher) IsIgnoreFile(absolutePath string) bool {
	if filepath.Dir(absolutePath) != filepath.Clean(m.rootDir) {
		return false
	}
	base := filepath.Base(absolutePath)
	for _, name := range ignoreFiles {
		if base == name {
			return true
		}
	}
	return false
}

// Reload re-reads .gitignore and .watchignore from disk.
func (m *Matcher) Reload() {
	var newGitIgnore gitignore.GitIgnore
	if m.useGitignore {
		newGitIgnore = loadIgnoreFile(filepath.Join(m.rootDir, ".gitignore"), m.rootDir)
	}
	newWatchIgnore := loadIgnoreFile(filepath.Join(m.rootDir, ".watchignore"), m.rootDir)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.gitIgnore = newGitIgnore
	m.watchIgnore = newWatchIgnore
}

// relative returns the forward-slash path of absolutePath below the root and
// whether it lies inside the root at all.
func (m *Matcher) relative(absolutePath string) (string, bool) {
	relativePath, err := filepath.Rel(m.rootDir, absolutePath)
	if err != nil {
		return filepath.ToSlash(absolutePath), false
	}
	relativePath = filepath.ToSlash(relativePath)
	if relativePath == ".." || strings.HasPrefix(relativePath, "../") {
		return filepath.ToSlash(absolutePath), false
	}
	return relativePath, true
}

// matchesDefaultDirs checks whether any path component is a default ignored directory.
func matchesDefaultDirs(relativePath string) bool {
	for _, part := range strings.Split(relativePath, "/") {
		for _, name := range DefaultIgnoreDirs {
			if part == name {
				return true
			}
		}
	}
	return false
}

// matchesAny tries every pattern against the relative path and the base name.
func matchesAny(patterns []string, relativePath string) bool {
	baseName := filepath.Base(relativePath)
	for _, pattern := range patterns {
		pattern = filepath.ToSlash(pattern)
		if matched, err := doublestar.Match(pattern, relativePath); err == nil && matched {
			return true
		}
		if matched, err := doublestar.Match(pattern, baseName); err == nil && matched {
			return true
		}
	}
	return false
}

// loadIgnoreFile reads an ignore file and creates a GitIgnore matcher from it.
// Uses io.Reader approach to ensure the file handle is properly closed on Windows.
func loadIgnoreFile(filePath string, baseDir string) gitignore.GitIgnore {
	f, err := os.Open(filePath)
	if err != nil {
		return nil
	}
	defer f.Close()

	return gitignore.New(f, baseDir, nil)
}
