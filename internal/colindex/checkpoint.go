package colindex

import (
	"encoding/binary"
	"fmt"
)

// CheckpointSize is the fixed on-disk size of a checkpoint record.
const CheckpointSize = 64

// numSeverities is the width of Checkpoint.SeverityCounts: unknown, trace,
// debug, info, warn, error, fatal.
const numSeverities = 7

// Checkpoint is a 64-byte sparse record written every
// checkpoint_interval_k * 1000 lines (spec section 3).
type Checkpoint struct {
	LineNo           uint64
	ByteOffset       uint64
	ContentHash      uint64
	WriteTimestampMs uint64
	SeverityCounts   [numSeverities]uint32
}

// MarshalBinary packs Checkpoint into exactly CheckpointSize bytes.
func (c Checkpoint) MarshalBinary() ([]byte, error) {
	buf := make([]byte, CheckpointSize)
	binary.LittleEndian.PutUint64(buf[0:8], c.LineNo)
	binary.LittleEndian.PutUint64(buf[8:16], c.ByteOffset)
	binary.LittleEndian.PutUint64(buf[16:24], c.ContentHash)
	binary.LittleEndian.PutUint64(buf[24:32], c.WriteTimestampMs)
	off := 32
	for _, count := range c.SeverityCounts {
		binary.LittleEndian.PutUint32(buf[off:off+4], count)
		off += 4
	}
	// remaining bytes reserved, left zero.
	return buf, nil
}

// UnmarshalBinary reads a Checkpoint from exactly CheckpointSize bytes.
func (c *Checkpoint) UnmarshalBinary(buf []byte) error {
	if len(buf) < CheckpointSize {
		return fmt.Errorf("colindex: checkpoint record too short: %d bytes", len(buf))
	}
	c.LineNo = binary.LittleEndian.Uint64(buf[0:8])
	c.ByteOffset = binary.LittleEndian.Uint64(buf[8:16])
	c.ContentHash = binary.LittleEndian.Uint64(buf[16:24])
	c.WriteTimestampMs = binary.LittleEndian.Uint64(buf[24:32])
	off := 32
	for i := range c.SeverityCounts {
		c.SeverityCounts[i] = binary.LittleEndian.Uint32(buf[off : off+4])
		off += 4
	}
	return nil
}

// decodeCheckpoints reads every CheckpointSize-byte record in buf, in order.
func decodeCheckpoints(buf []byte) ([]Checkpoint, error) {
	n := len(buf) / CheckpointSize
	out := make([]Checkpoint, 0, n)
	for i := 0; i < n; i++ {
		var cp Checkpoint
		if err := cp.UnmarshalBinary(buf[i*CheckpointSize : (i+1)*CheckpointSize]); err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}
