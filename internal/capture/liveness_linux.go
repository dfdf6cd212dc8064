//go:build linux

package capture

import (
	"os"
	"strconv"
)

// pidIsAlive on Linux checks for the existence of /proc/<pid>, per spec
// section 5's "Linux-/proc-vs-BSD-kill(pid,0) split."
func pidIsAlive(pid int) bool {
	_, err := os.Stat("/proc/" + strconv.Itoa(pid))
	return err == nil
}
