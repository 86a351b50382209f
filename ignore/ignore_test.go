package ignore

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestMatcher(t *testing.T, options MatcherOptions) *Matcher {
	t.Helper()
	matcher, err := NewMatcher(options)
	if err != nil {
		t.Fatalf("failed to create matcher: %v", err)
	}
	return matcher
}

func Test_Matcher_DefaultDirs_NodeModules(t *testing.T) {
	tmpDir := t.TempDir()
	matcher := newTestMatcher(t, MatcherOptions{RootDir: tmpDir})

	nodePath := filepath.Join(tmpDir, "node_modules", "express", "index.js")
	if !matcher.ShouldIgnore(nodePath) {
		t.Error("expected node_modules files to be ignored")
	}
}

func Test_Matcher_DefaultDirs_GitDir(t *testing.T) {
	tmpDir := t.TempDir()
	matcher := newTestMatcher(t, MatcherOptions{RootDir: tmpDir})

	gitPath := filepath.Join(tmpDir, ".git", "index")
	if !matcher.ShouldIgnore(gitPath) {
		t.Error("expected .git files to be ignored")
	}
}

func Test_Matcher_DefaultPatterns_SwapFiles(t *testing.T) {
	tmpDir := t.TempDir()
	matcher := newTestMatcher(t, MatcherOptions{RootDir: tmpDir})

	for _, name := range []string{".one.js.swp", "one.js~", ".DS_Store"} {
		if !matcher.ShouldIgnore(filepath.Join(tmpDir, "lib", name)) {
			t.Errorf("expected %s to be ignored", name)
		}
	}
}

func Test_Matcher_AllowsSourceFiles(t *testing.T) {
	tmpDir := t.TempDir()
	matcher := newTestMatcher(t, MatcherOptions{RootDir: tmpDir})

	for _, name := range []string{"lib/one.js", "assets/logo.png", "dist/app.js"} {
		if matcher.ShouldIgnore(filepath.Join(tmpDir, filepath.FromSlash(name))) {
			t.Errorf("expected %s to NOT be ignored", name)
		}
	}
}

func Test_Matcher_GitignoreOnlyWhenEnabled(t *testing.T) {
	tmpDir := t.TempDir()
	os.WriteFile(filepath.Join(tmpDir, ".gitignore"), []byte("*.generated.js\ntmp/\n"), 0644)

	generated := filepath.Join(tmpDir, "models.generated.js")

	disabled := newTestMatcher(t, MatcherOptions{RootDir: tmpDir})
	if disabled.ShouldIgnore(generated) {
		t.Error("expected .gitignore to be skipped when UseGitignore is false")
	}

	enabled := newTestMatcher(t, MatcherOptions{RootDir: tmpDir, UseGitignore: true})
	if !enabled.ShouldIgnore(generated) {
		t.Error("expected .gitignore pattern to ignore *.generated.js")
	}
	if enabled.ShouldIgnore(filepath.Join(tmpDir, "main.js")) {
		t.Error("expected main.js to NOT be ignored by .gitignore")
	}
}

func Test_Matcher_WatchignoreAlwaysApplies(t *testing.T) {
	tmpDir := t.TempDir()
	os.WriteFile(filepath.Join(tmpDir, ".watchignore"), []byte("coverage/\n*.snap\n"), 0644)

	matcher := newTestMatcher(t, MatcherOptions{RootDir: tmpDir})

	if !matcher.ShouldIgnore(filepath.Join(tmpDir, "test", "view.snap")) {
		t.Error("expected .watchignore pattern to ignore *.snap")
	}
}

func Test_Matcher_CustomPatterns(t *testing.T) {
	tmpDir := t.TempDir()
	matcher := newTestMatcher(t, MatcherOptions{
		RootDir:        tmpDir,
		CustomPatterns: []string{"*.tmp", "generated/**"},
	})

	if !matcher.ShouldIgnore(filepath.Join(tmpDir, "lib", "data.tmp")) {
		t.Error("expected custom pattern to ignore *.tmp files")
	}
	if !matcher.ShouldIgnore(filepath.Join(tmpDir, "generated", "api", "client.js")) {
		t.Error("expected custom pattern to ignore generated/**")
	}
}

func Test_Matcher_InvalidCustomPattern(t *testing.T) {
	_, err := NewMatcher(MatcherOptions{RootDir: t.TempDir(), CustomPatterns: []string{"lib/[.js"}})
	if err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

func Test_Matcher_ShouldIgnoreDir(t *testing.T) {
	tmpDir := t.TempDir()
	matcher := newTestMatcher(t, MatcherOptions{RootDir: tmpDir})

	tests := []struct {
		dirName string
		ignored bool
	}{
		{".git", true},
		{"node_modules", true},
		{"__pycache__", true},
		{".idea", true},
		{"src", false},
		{"lib", false},
	}

	for _, tt := range tests {
		dirPath := filepath.Join(tmpDir, tt.dirName)
		got := matcher.ShouldIgnoreDir(dirPath)
		if got != tt.ignored {
			t.Errorf("ShouldIgnoreDir(%s) = %v, want %v", tt.dirName, got, tt.ignored)
		}
	}
}

func Test_Matcher_ReloadPicksUpNewRules(t *testing.T) {
	tmpDir := t.TempDir()
	matcher := newTestMatcher(t, MatcherOptions{RootDir: tmpDir})

	target := filepath.Join(tmpDir, "notes.draft")
	if matcher.ShouldIgnore(target) {
		t.Fatal("expected notes.draft to be watched before reload")
	}

	rules := filepath.Join(tmpDir, ".watchignore")
	os.WriteFile(rules, []byte("*.draft\n"), 0644)
	if !matcher.IsIgnoreFile(rules) {
		t.Fatal("expected .watchignore to be recognised as a rule file")
	}
	matcher.Reload()

	if !matcher.ShouldIgnore(target) {
		t.Error("expected notes.draft to be ignored after reload")
	}
}

func Test_Matcher_IsIgnoreFile(t *testing.T) {
	tmpDir := t.TempDir()
	matcher := newTestMatcher(t, MatcherOptions{RootDir: tmpDir})

	if !matcher.IsIgnoreFile(filepath.Join(tmpDir, ".gitignore")) {
		t.Error("expected root .gitignore to be a rule file")
	}
	if matcher.IsIgnoreFile(filepath.Join(tmpDir, "sub", ".gitignore")) {
		t.Error("expected nested .gitignore to not be a rule file")
	}
	if matcher.IsIgnoreFile(filepath.Join(tmpDir, "main.js")) {
		t.Error("expected main.js to not be a rule file")
	}
}
