// Package config holds the small set of tunables the core needs. Per spec
// section 1, file-based config discovery and a YAML schema are external
// collaborators and are out of scope here; this package is plain Go values
// with documented defaults, overridable by the CLI layer or by a caller
// constructing a source programmatically.
package config

import "time"

// Tunables collects every knob named in the core specification.
type Tunables struct {
	// SparseIndexIntervalLines is K in spec section 4.1: the sparse index
	// records a (line_no, byte_offset) pair every K lines.
	SparseIndexIntervalLines int

	// CheckpointIntervalK is the checkpoint cadence multiplier: a
	// checkpoint is written every CheckpointIntervalK * 1000 lines.
	CheckpointIntervalK int

	// ColumnBatchSize is the number of column entries batched per write
	// during inline (capture-time) index construction.
	ColumnBatchSize int

	// ProgressBatchLines is the number of scanned lines between
	// PartialResults messages on the filter progress channel.
	ProgressBatchLines int

	// CancelPollLines is the scan-loop cadence at which a worker checks its
	// cancellation token.
	CancelPollLines int

	// DebounceInterval is the live-preview filter debounce (spec 4.5.4).
	DebounceInterval time.Duration

	// StdinPollInterval bounds how long the coordinator's input read blocks
	// per tick (spec section 5).
	StdinPollInterval time.Duration

	// SessionMaxEntries bounds session.json (spec section 6).
	SessionMaxEntries int

	// FileValidationThresholdBytes is a size threshold carried with the
	// other tunables. No code reads it: sources of any size are scanned
	// the same way, with no header sniff before the mmap scan.
	FileValidationThresholdBytes int64
}

// Default returns the tunables used unless a caller overrides them.
func Default() Tunables {
	return Tunables{
		SparseIndexIntervalLines:     10_000,
		CheckpointIntervalK:          100,
		ColumnBatchSize:              1024,
		ProgressBatchLines:           50_000,
		CancelPollLines:              10_000,
		DebounceInterval:             500 * time.Millisecond,
		StdinPollInterval:            100 * time.Millisecond,
		SessionMaxEntries:            100,
		FileValidationThresholdBytes: 256 * 1024 * 1024,
	}
}

// CheckpointIntervalLines is the checkpoint cadence in lines.
func (t Tunables) CheckpointIntervalLines() int {
	return t.CheckpointIntervalK * 1000
}
