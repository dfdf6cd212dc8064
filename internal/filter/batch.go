package filter

import "github.com/standardbeagle/lazytail/internal/config"

// batcher accumulates matches and flushes a PartialResults message once
// every ProgressBatchLines lines have been processed, per spec 4.3.3
// ("batched, typically every 50 000 lines").
type batcher struct {
	ch           chan Progress
	every        int
	pending      []int
	sinceFlush   int
	linesSoFar   int
}

func newBatcher(ch chan Progress, tunables config.Tunables) *batcher {
	every := tunables.ProgressBatchLines
	if every <= 0 {
		every = 50_000
	}
	return &batcher{ch: ch, every: every}
}

// record notes that one more line was processed, optionally matching.
func (b *batcher) record(lineNo int, matched bool) {
	b.linesSoFar++
	b.sinceFlush++
	if matched {
		b.pending = append(b.pending, lineNo)
	}
	if b.sinceFlush >= b.every {
		b.flushPartial()
	}
}

func (b *batcher) flushPartial() {
	if b.sinceFlush == 0 {
		return
	}
	batch := b.pending
	b.pending = nil
	b.sinceFlush = 0
	b.ch <- Progress{Partial: &PartialResults{Matches: batch, LinesProcessed: b.linesSoFar}}
}

// finish sends the terminal Complete message, with any not-yet-delivered
// matches as the final batch.
func (b *batcher) finish(agg *AggregationResult) {
	b.ch <- Progress{Complete: &CompleteResult{
		FinalBatch:          b.pending,
		TotalLinesProcessed: b.linesSoFar,
		Aggregation:         agg,
	}}
	close(b.ch)
}

// fail sends the terminal Error message and closes the channel.
func (b *batcher) fail(err error) {
	b.ch <- Progress{Err: err}
	close(b.ch)
}

// allPending returns the matches recorded since the last partial flush,
// not yet delivered. Scanners that need the full match set for aggregation
// collect it themselves rather than reconstructing it from the channel.
func (b *batcher) allPending() []int { return b.pending }
