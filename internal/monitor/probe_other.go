//go:build !unix

package monitor

import "os"

// exclusive reports whether path can be opened for reading and writing. On
// windows this fails while another program holds the file.
func exclusive(path string) bool {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
