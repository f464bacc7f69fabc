//go:build windows

// pkg/segment/fsync_windows.go
package segment

import "os"

// fsync flushes f's data to disk before the caller reports success.
func fsync(f *os.File) error {
	return f.Sync()
}
