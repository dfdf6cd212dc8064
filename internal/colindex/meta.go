// Package colindex implements the columnar index (component C2): an
// append-only on-disk format of per-line typed columns plus sparse
// checkpoints, built inline during capture or lazily for pre-existing
// files, and validated by content hashing.
package colindex

import (
	"encoding/binary"
	"fmt"
)

// Magic identifies a lazytail columnar index directory.
const Magic = "LTIX"

// Version is the on-disk format version this package reads and writes.
const Version uint32 = 1

// MetaSize is the fixed on-disk size of the meta record.
const MetaSize = 64

// Column presence bits for Meta.ColumnsPresent.
const (
	ColOffsets uint32 = 1 << iota
	ColLengths
	ColFlags
	ColTime
	ColTemplates
)

// Meta is the 64-byte per-source index header (spec section 3).
type Meta struct {
	CheckpointIntervalK  uint32
	EntryCount           uint64
	LogFileSize          uint64
	ColumnsPresent       uint32
	FlagsSchemaVersion   uint32
}

// MarshalBinary packs Meta into exactly MetaSize bytes.
func (m Meta) MarshalBinary() ([]byte, error) {
	buf := make([]byte, MetaSize)
	copy(buf[0:4], Magic)
	binary.LittleEndian.PutUint32(buf[4:8], Version)
	binary.LittleEndian.PutUint32(buf[8:12], m.CheckpointIntervalK)
	binary.LittleEndian.PutUint64(buf[12:20], m.EntryCount)
	binary.LittleEndian.PutUint64(buf[20:28], m.LogFileSize)
	binary.LittleEndian.PutUint32(buf[28:32], m.ColumnsPresent)
	binary.LittleEndian.PutUint32(buf[32:36], m.FlagsSchemaVersion)
	// bytes [36:64) reserved, left zero.
	return buf, nil
}

// UnmarshalBinary reads Meta from exactly MetaSize bytes, validating the
// magic and version.
func (m *Meta) UnmarshalBinary(buf []byte) error {
	if len(buf) < MetaSize {
		return fmt.Errorf("colindex: meta record too short: %d bytes", len(buf))
	}
	if string(buf[0:4]) != Magic {
		return fmt.Errorf("colindex: bad magic %q, want %q", buf[0:4], Magic)
	}
	version := binary.LittleEndian.Uint32(buf[4:8])
	if version != Version {
		return fmt.Errorf("colindex: unsupported version %d, want %d", version, Version)
	}
	m.CheckpointIntervalK = binary.LittleEndian.Uint32(buf[8:12])
	m.EntryCount = binary.LittleEndian.Uint64(buf[12:20])
	m.LogFileSize = binary.LittleEndian.Uint64(buf[20:28])
	m.ColumnsPresent = binary.LittleEndian.Uint32(buf[28:32])
	m.FlagsSchemaVersion = binary.LittleEndian.Uint32(buf[32:36])
	return nil
}

// HasColumn reports whether bit is set in ColumnsPresent.
func (m Meta) HasColumn(bit uint32) bool {
	return m.ColumnsPresent&bit != 0
}

// Column widths, in bytes, for each column file's fixed-width entries.
const (
	WidthOffsets   = 8
	WidthLengths   = 4
	WidthFlags     = 4
	WidthTime      = 8
	WidthTemplates = 2
)

// File names within an index directory D(P).
const (
	FileMeta        = "meta"
	FileOffsets     = "offsets"
	FileLengths     = "lengths"
	FileFlags       = "flags"
	FileTime        = "time"
	FileTemplates   = "templates"
	FileCheckpoints = "checkpoints"
	FileBuildLock   = "build.lock"
)
