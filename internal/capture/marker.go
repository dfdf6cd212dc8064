// Package capture implements the tee'd capture mode from spec section 5/6:
// a process that reads an upstream command's stdout, writes it to a managed
// log file, builds its columnar index inline, and advertises itself to
// other lazytail processes via a PID marker. Grounded on
// standardbeagle-lci/cmd/lci/main.go's signal-handling and cleanup-on-exit
// pattern, generalized to the spec's two-signal escalation.
package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/standardbeagle/lazytail/internal/errors"
)

// CreateMarker atomically creates the PID marker at path, containing the
// current process's PID as ASCII (spec section 3: "Atomic creation via
// exclusive-create"). It fails if a live marker already exists.
func CreateMarker(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			if alive, liveErr := markerIsLive(path); liveErr == nil && alive {
				return errors.NewCaptureError(errors.KindProtocol, "create-marker", path, fmt.Errorf("capture already active"))
			}
			// Stale marker from a dead process: remove it and retry once.
			if rmErr := os.Remove(path); rmErr != nil {
				return errors.NewCaptureError(errors.KindStateInconsist, "remove-stale-marker", path, rmErr)
			}
			return CreateMarker(path)
		}
		return errors.NewCaptureError(errors.KindTransientIO, "create-marker", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		os.Remove(path)
		return errors.NewCaptureError(errors.KindTransientIO, "write-marker", path, err)
	}
	return nil
}

// RemoveMarker deletes the PID marker on clean exit. Its absence is not an
// error — a second removal attempt (e.g. from both a defer and an explicit
// call) must be harmless.
func RemoveMarker(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.NewCaptureError(errors.KindTransientIO, "remove-marker", path, err)
	}
	return nil
}

// markerIsLive reads the PID out of a marker file and probes its liveness.
func markerIsLive(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, err
	}
	return pidIsAlive(pid), nil
}

// SweepStale scans dir (a Layout's SourcesDir) on startup and removes every
// marker whose PID is not alive, per spec section 5's "Stale markers"
// behaviour. Returns the names it removed.
func SweepStale(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewCaptureError(errors.KindTransientIO, "sweep-stale", dir, err)
	}

	var removed []string
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		markerPath := filepath.Join(dir, de.Name())
		alive, err := markerIsLive(markerPath)
		if err == nil && alive {
			continue
		}
		if rmErr := os.Remove(markerPath); rmErr == nil {
			removed = append(removed, de.Name())
		}
	}
	return removed, nil
}
