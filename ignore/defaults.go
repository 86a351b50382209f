package ignore

// DefaultIgnoreDirs are directory names that are never watched.
var DefaultIgnoreDirs = []string{
	".git",
	".svn",
	".hg",
	"node_modules",
	"bower_components",
	"__pycache__",
	".idea",
	".vscode",
	".vs",
	".cache",
	".parcel-cache",
	".nyc_output",
	".venv",
}

// DefaultIgnorePatterns contains doublestar patterns for files whose changes
// never trigger a run: editor swap files, OS metadata and our own log files.
var DefaultIgnorePatterns = []string{
	"**/*.swp",
	"**/*.swo",
	"**/*.swx",
	"**/*~",
	"**/.#*",
	"**/#*#",
	"**/4913",
	"**/.DS_Store",
	"**/Thumbs.db",
	"**/desktop.ini",
	"**/taskwatch.log",
	"**/taskwatch.log.*",
}

// ignoreFiles are the rule files read from the root directory.
var ignoreFiles = []string{".gitignore", ".watchignore"}
