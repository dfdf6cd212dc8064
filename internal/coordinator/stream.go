package coordinator

import (
	"bufio"
	"io"
)

// streamMsg is one message on a stream reader's channel. A reader always
// sends exactly one message with closed=true as its last send before the
// channel itself closes — a channel that closes without ever sending a
// closed message means the reader goroutine died unexpectedly (spec 4.5.6,
// "silent thread death is an error state the coordinator must detect").
type streamMsg struct {
	lines  []byte // batched raw bytes, newline-terminated
	closed bool
	err    error
}

// StartStdinStream launches the dedicated stdin/pipe reading goroutine from
// spec 4.5.6 and returns the channel to pass to AttachStream. Callers (the
// CLI entrypoint) own r's lifetime; closing or exhausting it ends the
// goroutine, which always sends a terminal streamMsg before its channel
// closes.
func StartStdinStream(r io.Reader) <-chan streamMsg {
	return startStreamReader(r)
}

// startStreamReader launches the dedicated stdin/pipe reading goroutine
// from spec 4.5.6. It reads lines and batches them onto ch; the coordinator
// drains ch once per tick and appends to the source's reader.
func startStreamReader(r io.Reader) <-chan streamMsg {
	ch := make(chan streamMsg, 16)
	go func() {
		defer close(ch)
		br := bufio.NewReaderSize(r, 64*1024)
		var batch []byte
		for {
			line, err := br.ReadBytes('\n')
			batch = append(batch, line...)
			if err != nil {
				if len(batch) > 0 {
					ch <- streamMsg{lines: batch}
				}
				if err == io.EOF {
					ch <- streamMsg{closed: true}
				} else {
					ch <- streamMsg{closed: true, err: err}
				}
				return
			}
			if len(batch) >= 64*1024 {
				ch <- streamMsg{lines: batch}
				batch = nil
			}
		}
	}()
	return ch
}
