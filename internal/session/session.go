package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/standardbeagle/lazytail/internal/config"
	"github.com/standardbeagle/lazytail/internal/debug"
)

// Record is one project context's persisted state (spec section 6: "a small
// JSON document mapping project-context keys ... to records
// {last_source: string}").
type Record struct {
	LastSource string `json:"last_source"`
}

// entry pairs a key with its record and the order it was last touched in,
// so eviction can find the oldest entry without a second map.
type entry struct {
	Key     string `json:"key"`
	Record  Record `json:"record"`
	Touched int64  `json:"touched"`
}

// Session is the in-memory form of session.json: a bounded, oldest-evicted
// map from project-context key to its last-opened source.
type Session struct {
	entries []entry
	max     int
	clock   int64 // logical clock; avoids a disallowed time.Now() dependency on save order alone
}

// Load reads session.json from path. A missing or malformed file is
// equivalent to an empty session (spec section 6: "absent or malformed
// file is equivalent to empty"), matching the teacher's own tolerant
// config-load behavior of falling back to defaults rather than failing.
func Load(path string, tunables config.Tunables) *Session {
	s := &Session{max: tunables.SessionMaxEntries}
	data, err := os.ReadFile(path)
	if err != nil {
		return s
	}
	var entries []entry
	if err := json.Unmarshal(data, &entries); err != nil {
		debug.Log("session", "malformed session file %s, starting empty: %v", path, err)
		return s
	}
	s.entries = entries
	for _, e := range entries {
		if e.Touched > s.clock {
			s.clock = e.Touched
		}
	}
	return s
}

// Get returns the record for key, if present.
func (s *Session) Get(key string) (Record, bool) {
	for _, e := range s.entries {
		if e.Key == key {
			return e.Record, true
		}
	}
	return Record{}, false
}

// Put records key's last-opened source, evicting the oldest entry if the
// session is at capacity and key is new (spec section 6: "At most 100
// entries; oldest-eviction policy").
func (s *Session) Put(key, lastSource string) {
	s.clock++
	for i := range s.entries {
		if s.entries[i].Key == key {
			s.entries[i].Record = Record{LastSource: lastSource}
			s.entries[i].Touched = s.clock
			return
		}
	}

	if s.max > 0 && len(s.entries) >= s.max {
		s.evictOldest()
	}
	s.entries = append(s.entries, entry{Key: key, Record: Record{LastSource: lastSource}, Touched: s.clock})
}

func (s *Session) evictOldest() {
	oldest := 0
	for i := range s.entries {
		if s.entries[i].Touched < s.entries[oldest].Touched {
			oldest = i
		}
	}
	s.entries = append(s.entries[:oldest], s.entries[oldest+1:]...)
}

// Len reports how many project-context keys are currently recorded.
func (s *Session) Len() int { return len(s.entries) }

// Save writes session.json atomically (temp file + rename), so a reader
// never sees a partly written file and a kill mid-save leaves the previous
// file intact.
func (s *Session) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	sorted := make([]entry, len(s.entries))
	copy(sorted, s.entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Touched < sorted[j].Touched })

	data, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".session-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
