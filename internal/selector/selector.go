// Package selector filters extracted file entries down to the analyzable
// subset: ignore-rule filtering, binary rejection, language classification
// and priority ordering under an aggregate size budget.
package selector

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/scribeworks/scribe/internal/archive"
)

// Language is the closed classification for a selected entry.
type Language int

const (
	LangSource Language = iota
	LangConfig
	LangDocumentation
	LangBinary
	LangUnknown
)

func (l Language) String() string {
	switch l {
	case LangSource:
		return "source"
	case LangConfig:
		return "config"
	case LangDocumentation:
		return "documentation"
	case LangBinary:
		return "binary"
	case LangUnknown:
		return "unknown"
	}
	return "unknown"
}

// Entry is a file that survived selection.
type Entry struct {
	archive.FileEntry
	Language Language
}

// Skip records why an entry was discarded.
type Skip struct {
	Path   string
	Reason string // "ignored", "binary", "empty"
}

// Result is the ordered selection plus accounting for everything dropped.
type Result struct {
	Entries          []Entry
	Tree             string // indented listing of the selected paths
	Skipped          []Skip
	DroppedForBudget int
}

// defaultIgnoreGlobs covers version-control metadata, dependency trees,
// build output, caches and lockfiles. Matched against the full relative path.
var defaultIgnoreGlobs = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/vendor/**",
	"**/target/**",
	"**/dist/**",
	"**/build/**",
	"**/__pycache__/**",
	"**/.venv*/**",
	"**/venv*/**",
	"**/virtualenv/**",
	"**/.pyenv/**",
	"**/*.egg-info/**",
	"**/.pytest_cache/**",
	"**/.mypy_cache/**",
	"**/htmlcov/**",
	"**/.idea/**",
	"**/.vscode/**",
	"**/.vs/**",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/Pipfile.lock",
	"**/go.sum",
	"**/.DS_Store",
}

// manifestNames rank above everything else: they describe the project.
var manifestNames = map[string]bool{
	"go.mod":           true,
	"package.json":     true,
	"cargo.toml":       true,
	"pyproject.toml":   true,
	"requirements.txt": true,
	"setup.py":         true,
	"pom.xml":          true,
	"build.gradle":     true,
	"composer.json":    true,
	"gemfile":          true,
	"makefile":         true,
	"dockerfile":       true,
	"docker-compose.yml": true,
}

var sourceExts = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".jsx": true,
	".tsx": true, ".java": true, ".rs": true, ".php": true, ".rb": true,
	".c": true, ".h": true, ".cpp": true, ".hpp": true, ".cc": true,
	".cs": true, ".kt": true, ".swift": true, ".scala": true, ".sh": true,
	".sql": true,
}

var configExts = map[string]bool{
	".json": true, ".yaml": true, ".yml": true, ".toml": true,
	".ini": true, ".env": true, ".xml": true, ".cfg": true,
}

var docExts = map[string]bool{
	".md": true, ".rst": true, ".txt": true, ".adoc": true,
}

var binaryExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true,
	".ico": true, ".svg": true, ".pdf": true, ".zip": true, ".tar": true,
	".gz": true, ".bin": true, ".dll": true, ".exe": true, ".so": true,
	".pyc": true, ".pyd": true, ".class": true, ".jar": true, ".woff": true,
	".woff2": true, ".ttf": true, ".mp3": true, ".mp4": true, ".log": true,
}

type Selector struct {
	globs  []string
	budget int64 // aggregate content budget in bytes
}

// New builds a selector with the default ignore rules plus extraGlobs.
// budgetBytes bounds the total selected content; entries past it are counted,
// not silently lost.
func New(extraGlobs []string, budgetBytes int64) *Selector {
	globs := make([]string, 0, len(defaultIgnoreGlobs)+2*len(extraGlobs))
	globs = append(globs, defaultIgnoreGlobs...)
	for _, g := range extraGlobs {
		globs = append(globs, g, "**/"+g)
	}
	return &Selector{globs: globs, budget: budgetBytes}
}

// Select filters and orders entries. Order of equal-priority entries is the
// archive order, so selection is deterministic for a given upload.
func (s *Selector) Select(entries []archive.FileEntry) Result {
	var res Result
	var kept []Entry

	for _, e := range entries {
		if s.ignored(e.Path) {
			res.Skipped = append(res.Skipped, Skip{Path: e.Path, Reason: "ignored"})
			continue
		}
		if len(e.Content) == 0 {
			res.Skipped = append(res.Skipped, Skip{Path: e.Path, Reason: "empty"})
			continue
		}
		lang := classify(e.Path)
		if lang == LangBinary || looksBinary(e.Content) {
			res.Skipped = append(res.Skipped, Skip{Path: e.Path, Reason: "binary"})
			continue
		}
		kept = append(kept, Entry{FileEntry: e, Language: lang})
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return rank(kept[i]) < rank(kept[j])
	})

	var total int64
	var selected []Entry
	for _, e := range kept {
		if total+e.Size > s.budget && len(selected) > 0 {
			res.DroppedForBudget = len(kept) - len(selected)
			break
		}
		total += e.Size
		selected = append(selected, e)
	}

	res.Entries = selected
	res.Tree = renderTree(selected)
	return res
}

func (s *Selector) ignored(p string) bool {
	for _, g := range s.globs {
		if ok, _ := doublestar.Match(g, p); ok {
			return true
		}
	}
	return false
}

func classify(p string) Language {
	base := strings.ToLower(p)
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	if manifestNames[base] {
		return LangConfig
	}
	ext := ""
	if i := strings.LastIndex(base, "."); i >= 0 {
		ext = base[i:]
	}
	switch {
	case sourceExts[ext]:
		return LangSource
	case configExts[ext]:
		return LangConfig
	case docExts[ext]:
		return LangDocumentation
	case binaryExts[ext]:
		return LangBinary
	}
	return LangUnknown
}

// looksBinary samples the head of the content: NUL bytes or invalid UTF-8
// mean non-text.
func looksBinary(content []byte) bool {
	sample := content
	if len(sample) > 8000 {
		sample = sample[:8000]
	}
	if len(sample) == len(content) {
		if !utf8.Valid(sample) {
			return true
		}
	}
	for _, b := range sample {
		if b == 0 {
			return true
		}
	}
	return false
}

// rank orders entries: project manifests first, then source by depth, then
// documentation, config and finally the unknown bucket.
func rank(e Entry) int {
	depth := strings.Count(e.Path, "/")
	base := strings.ToLower(e.Path)
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}

	var kind int
	switch {
	case manifestNames[base]:
		kind = 0
	case e.Language == LangSource:
		kind = 1
	case e.Language == LangDocumentation:
		kind = 2
	case e.Language == LangConfig:
		kind = 3
	default:
		kind = 4
	}
	return kind*1000 + depth
}

// renderTree produces an indented path listing of the selected entries,
// grouped by directory, for inclusion in prompts.
func renderTree(entries []Entry) string {
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.Path
	}
	sort.Strings(paths)

	var sb strings.Builder
	seen := map[string]bool{}
	for _, p := range paths {
		parts := strings.Split(p, "/")
		for i := 0; i < len(parts)-1; i++ {
			dir := strings.Join(parts[:i+1], "/")
			if !seen[dir] {
				seen[dir] = true
				sb.WriteString(strings.Repeat("  ", i))
				sb.WriteString(parts[i])
				sb.WriteString("/\n")
			}
		}
		sb.WriteString(strings.Repeat("  ", len(parts)-1))
		sb.WriteString(parts[len(parts)-1])
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
