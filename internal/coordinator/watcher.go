package coordinator

import (
	"io"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"

	"github.com/standardbeagle/lazytail/internal/debug"
)

// watcherPrefixBytes bounds the fingerprint read used to catch a
// same-size in-place rewrite (spec 4.5.5, "size shrank or first bytes
// changed"), matching reader.Reader's own prefixFingerprintBytes constant.
const watcherPrefixBytes = 4096

// filePrefixHash hashes up to watcherPrefixBytes from the start of path.
// Any read failure (file vanished between the stat and this read)
// degrades to a zero hash rather than erroring the whole watch loop.
func filePrefixHash(path string) uint64 {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	buf := make([]byte, watcherPrefixBytes)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return 0
	}
	return xxhash.Sum64(buf[:n])
}

// watcher wraps fsnotify and translates raw filesystem events into the
// coordinator's Event taxonomy, per spec 4.5.5. It follows the shape of
// standardbeagle-lci/internal/indexing/watcher.go's FileWatcher — one
// fsnotify.Watcher, a goroutine draining its Events/Errors channels — but
// drops that teacher's recursive-directory-walk and debounce machinery:
// here each watched path is a single log file added individually by the
// coordinator, and the grow/shrink distinction (not present in the
// teacher, which only has create/write/remove/rename) is spec 4.5.5's own.
type watcher struct {
	fsw *fsnotify.Watcher

	mu       sync.Mutex
	sizes    map[string]int64  // last known size per watched path, for grow/shrink detection
	prefixes map[string]uint64 // last known prefix fingerprint per watched path, for same-size rewrite detection

	out chan Event
}

func newWatcher() (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &watcher{
		fsw:      fsw,
		sizes:    make(map[string]int64),
		prefixes: make(map[string]uint64),
		out:      make(chan Event, 64),
	}
	go w.run()
	return w, nil
}

// Watch begins watching path, recording its current size as the baseline
// for grow/shrink comparisons.
func (w *watcher) Watch(sourceName, path string) error {
	info, err := os.Stat(path)
	var size int64
	if err == nil {
		size = info.Size()
	}
	w.mu.Lock()
	w.sizes[path] = size
	w.prefixes[path] = filePrefixHash(path)
	w.mu.Unlock()
	return w.fsw.Add(path)
}

func (w *watcher) Unwatch(path string) {
	w.mu.Lock()
	delete(w.sizes, path)
	delete(w.prefixes, path)
	w.mu.Unlock()
	_ = w.fsw.Remove(path)
}

// Events returns the channel of translated coordinator events.
func (w *watcher) Events() <-chan Event { return w.out }

func (w *watcher) Close() error {
	err := w.fsw.Close()
	return err
}

func (w *watcher) run() {
	defer close(w.out)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			debug.LogCoord("watcher error: %v", err)
		}
	}
}

func (w *watcher) handle(ev fsnotify.Event) {
	path := ev.Name

	switch {
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.mu.Lock()
		delete(w.sizes, path)
		w.mu.Unlock()
		w.out <- Event{Kind: EventSourceLost, Source: path}
		return

	case ev.Op&(fsnotify.Write|fsnotify.Create) != 0:
		info, err := os.Stat(path)
		if err != nil {
			// File vanished between the event and the stat; treat as lost.
			w.out <- Event{Kind: EventSourceLost, Source: path}
			return
		}
		newSize := info.Size()
		newHash := filePrefixHash(path)

		w.mu.Lock()
		oldSize, known := w.sizes[path]
		oldHash := w.prefixes[path]
		w.sizes[path] = newSize
		w.prefixes[path] = newHash
		w.mu.Unlock()
		if !known {
			oldSize = newSize
			oldHash = newHash
		}

		switch {
		case newSize > oldSize:
			// Line totals come from the coordinator's reload, not raw byte
			// sizes, so this event carries no OldTotal/NewTotal; the
			// coordinator gets them from Source.OnFileGrew.
			w.out <- Event{Kind: EventFileGrew, Source: path}
		case newSize < oldSize:
			w.out <- Event{Kind: EventFileTruncated, Source: path}
		case newHash != oldHash:
			// Same size but the head of the file changed: an in-place
			// rewrite (spec 4.5.5, "size shrank or first bytes changed").
			w.out <- Event{Kind: EventFileTruncated, Source: path}
		}
	}
}
