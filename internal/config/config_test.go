package config

import "testing"

func TestDefaultTunables(t *testing.T) {
	d := Default()

	if d.SparseIndexIntervalLines != 10_000 {
		t.Errorf("SparseIndexIntervalLines = %d, want 10000", d.SparseIndexIntervalLines)
	}
	if d.CheckpointIntervalLines() != 100_000 {
		t.Errorf("CheckpointIntervalLines() = %d, want 100000", d.CheckpointIntervalLines())
	}
	if d.ColumnBatchSize != 1024 {
		t.Errorf("ColumnBatchSize = %d, want 1024", d.ColumnBatchSize)
	}
	if d.ProgressBatchLines != 50_000 {
		t.Errorf("ProgressBatchLines = %d, want 50000", d.ProgressBatchLines)
	}
	if d.CancelPollLines != 10_000 {
		t.Errorf("CancelPollLines = %d, want 10000", d.CancelPollLines)
	}
	if d.SessionMaxEntries != 100 {
		t.Errorf("SessionMaxEntries = %d, want 100", d.SessionMaxEntries)
	}
}

func TestCheckpointIntervalLinesScalesWithK(t *testing.T) {
	tn := Default()
	tn.CheckpointIntervalK = 1
	if got := tn.CheckpointIntervalLines(); got != 1000 {
		t.Errorf("CheckpointIntervalLines() = %d, want 1000", got)
	}
}
