package colindex

import "path/filepath"

// DirFor returns the index directory D(P) for a log file at path.
// Index state for /var/log/app.log lives alongside it as a dotted
// sibling directory, so the index travels with the log when a directory
// of logs is copied or archived.
func DirFor(path string) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	return filepath.Join(dir, "."+base+".ltidx")
}
