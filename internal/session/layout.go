// Package session implements project-root discovery and the session.json
// persistence layer from spec section 6: the small JSON document recording
// the last-opened source per project context, and the directory layout
// (data/sources/idx, project-local or user-global) capture mode and the CLI
// consult to find a capture's files.
package session

import (
	"os"
	"path/filepath"
)

// ProjectRoot walks upward from startDir looking for a .git directory,
// mirroring the teacher's own repo-root detection
// (standardbeagle-lci/internal/git.Provider), but without shelling out to
// git: this only needs to know where a project's `.lazytail` directory
// belongs, not any git metadata.
func ProjectRoot(startDir string) (string, bool) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false
	}
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// Layout resolves the paths spec section 6's "Persisted state layout"
// names, rooted either at a project's `.lazytail` directory or at the
// user-global one under os.UserConfigDir().
type Layout struct {
	root   string // the `.lazytail` directory itself
	Global bool   // true when root has no enclosing project (user-global)
}

// NewLayout resolves a Layout for startDir: project-local if startDir (or
// an ancestor) is inside a git repository, user-global otherwise.
func NewLayout(startDir string) (Layout, error) {
	if root, ok := ProjectRoot(startDir); ok {
		return Layout{root: filepath.Join(root, ".lazytail")}, nil
	}
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return Layout{}, err
	}
	return Layout{root: filepath.Join(cfgDir, "lazytail"), Global: true}, nil
}

// Key returns the session.json key for this layout's scope: the project
// root's absolute path, or the literal "__global__".
func (l Layout) Key(startDir string) string {
	if l.Global {
		return "__global__"
	}
	if root, ok := ProjectRoot(startDir); ok {
		return root
	}
	return "__global__"
}

// DataFile returns the path of a captured source's log file.
func (l Layout) DataFile(name string) string {
	return filepath.Join(l.root, "data", name+".log")
}

// MarkerFile returns the path of a captured source's PID marker.
func (l Layout) MarkerFile(name string) string {
	return filepath.Join(l.root, "sources", name)
}

// IndexDir returns the path of a captured source's columnar index
// directory.
func (l Layout) IndexDir(name string) string {
	return filepath.Join(l.root, "idx", name)
}

// SourcesDir returns the directory holding every PID marker, for the
// startup stale-marker sweep (spec section 5).
func (l Layout) SourcesDir() string {
	return filepath.Join(l.root, "sources")
}

// SessionFile returns the path of session.json. It is always user-global
// (spec section 6 lists it only once, under the user config directory) —
// project-local layouts answer with the same path a global one would.
func (l Layout) SessionFile() (string, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cfgDir, "lazytail", "session.json"), nil
}

// EnsureDirs creates data/sources/idx under root with owner-only
// permissions, per spec section 6's "Directories created with owner-only
// permissions (0700) on POSIX."
func (l Layout) EnsureDirs() error {
	for _, sub := range []string{"data", "sources", "idx"} {
		if err := os.MkdirAll(filepath.Join(l.root, sub), 0o700); err != nil {
			return err
		}
	}
	return nil
}
