package capture

import (
	"bufio"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/standardbeagle/lazytail/internal/colindex"
	"github.com/standardbeagle/lazytail/internal/config"
	"github.com/standardbeagle/lazytail/internal/debug"
	"github.com/standardbeagle/lazytail/internal/errors"
	"github.com/standardbeagle/lazytail/internal/session"
)

// Capture owns one named capture's managed files: the appended-to data
// file, its inline columnar index, and the PID marker advertising it to
// other lazytail processes (spec section 3/5/6).
type Capture struct {
	Name   string
	Layout session.Layout

	dataFile *os.File
	writer   *colindex.Writer
	offset   uint64

	shutdown atomic.Bool
}

// Start creates name's managed files: the `.lazytail` directory tree (if
// absent), the PID marker (fails if another live capture holds it), the
// data file, and a fresh columnar index writer.
func Start(name string, layout session.Layout, tunables config.Tunables) (*Capture, error) {
	if err := layout.EnsureDirs(); err != nil {
		return nil, errors.NewCaptureError(errors.KindTransientIO, "ensure-dirs", name, err)
	}

	markerPath := layout.MarkerFile(name)
	if err := CreateMarker(markerPath); err != nil {
		return nil, err
	}

	dataPath := layout.DataFile(name)
	f, err := os.OpenFile(dataPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		RemoveMarker(markerPath)
		return nil, errors.NewCaptureError(errors.KindTransientIO, "open-data-file", name, err)
	}
	info, statErr := f.Stat()
	var offset uint64
	if statErr == nil {
		offset = uint64(info.Size())
	}

	w, err := colindex.CreateWriter(layout.IndexDir(name), tunables)
	if err != nil {
		f.Close()
		RemoveMarker(markerPath)
		return nil, err
	}

	return &Capture{Name: name, Layout: layout, dataFile: f, writer: w, offset: offset}, nil
}

// RequestShutdown sets the shutdown flag the tee loop polls. Safe to call
// from a signal handler: it does no allocation or I/O.
func (c *Capture) RequestShutdown() { c.shutdown.Store(true) }

// ShuttingDown reports whether RequestShutdown has been called.
func (c *Capture) ShuttingDown() bool { return c.shutdown.Load() }

// Tee reads lines from r (the captured process's stdout), writes each to
// the data file, and appends its columns to the index inline — one pass,
// no separate bulk-build step, matching spec section 2's "capture tees
// stdout... and maintains the index inline." It returns when r reaches EOF
// or the shutdown flag is observed.
func (c *Capture) Tee(r io.Reader) error {
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		if c.shutdown.Load() {
			return nil
		}

		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			content := line
			if content[len(content)-1] == '\n' {
				content = content[:len(content)-1]
			}
			if werr := c.appendLine(content); werr != nil {
				return werr
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.NewCaptureError(errors.KindTransientIO, "tee-read", c.Name, err)
		}
	}
}

func (c *Capture) appendLine(content []byte) error {
	if _, err := c.dataFile.Write(content); err != nil {
		return errors.NewCaptureError(errors.KindTransientIO, "tee-write", c.Name, err)
	}
	if _, err := c.dataFile.Write([]byte{'\n'}); err != nil {
		return errors.NewCaptureError(errors.KindTransientIO, "tee-write", c.Name, err)
	}

	if err := c.writer.AppendLine(c.offset, content, time.Now().UnixMilli()); err != nil {
		return err
	}
	c.offset += uint64(len(content)) + 1
	return nil
}

// Close flushes the index, closes the data file, and removes the PID
// marker — the normal-exit cleanup path spec section 5 assigns to the
// coordinator's tick loop observing `shutdown`.
func (c *Capture) Close() error {
	var errs []error
	if err := c.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.dataFile.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := RemoveMarker(c.Layout.MarkerFile(c.Name)); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.NewMultiError(errs)
}

// RunWithSignals wires SIGINT/SIGTERM to c per spec section 5: the first
// signal sets `shutdown` and nothing else; a second signal while already
// shutting down force-quits immediately with exit code 1. Tee's own return
// (EOF or shutdown observed) is the normal path. Nothing interrupts a read
// on r that is already blocked when the first signal arrives: Tee observes
// the flag only after that read returns (a new line or EOF), so a capture
// whose upstream is silent stops on the first signal only once input
// arrives, or on a second signal.
func RunWithSignals(c *Capture, r io.Reader) int {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		c.RequestShutdown()
		<-sigCh
		os.Exit(1) // protocol violation: second signal during shutdown force-quits
	}()

	if err := c.Tee(r); err != nil {
		debug.LogCapture("tee failed for %s: %v", c.Name, err)
		c.Close()
		return 1
	}
	if err := c.Close(); err != nil {
		debug.LogCapture("cleanup failed for %s: %v", c.Name, err)
		return 1
	}
	return 0
}
