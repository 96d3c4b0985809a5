package vault

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// changeTime returns the inode change time, the closest thing to a creation
// time most linux filesystems expose through stat.
func changeTime(path string, info os.FileInfo) time.Time {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return info.ModTime()
	}
	return time.Unix(st.Ctim.Unix())
}
