//go:build unix || darwin || linux || freebsd || openbsd || netbsd

// pkg/segment/fsync_unix.go
package segment

import (
	"os"

	"golang.org/x/sys/unix"
)

// fsync flushes f's data to disk before the caller reports success,
// mirroring the durability discipline a pager applies to a dirty mmap
// region before returning control.
func fsync(f *os.File) error {
	return unix.Fsync(int(f.Fd()))
}
