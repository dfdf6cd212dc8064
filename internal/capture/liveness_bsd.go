//go:build darwin

package capture

import "golang.org/x/sys/unix"

// pidIsAlive on macOS sends the null signal and treats EPERM (process
// exists but is owned by someone else) as alive, per spec section 5. This
// file builds for darwin only; the other BSDs use liveness_other.go.
func pidIsAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
