// Package atomicio provides crash-safe file writes for the daemon state
// file and any other small file shared between concurrent writers.
package atomicio

import (
	"io/fs"
	"os"
)

// WriteFile writes data to filename atomically using the temp-then-rename
// pattern. A reader never observes a partially written file.
func WriteFile(filename string, data []byte, perm fs.FileMode) error {
	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	return os.Rename(tmp, filename)
}
