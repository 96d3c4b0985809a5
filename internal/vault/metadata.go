package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"inveni/internal/index"
)

const localTimeFormat = "2006-01-02 15:04:05 MST"

func timePair(t time.Time) index.TimePair {
	return index.TimePair{
		UTC:   t.UTC().Format(index.TimeFormat),
		Local: t.Local().Format(localTimeFormat),
	}
}

// collectMetadata describes the file at path as it is being committed.
func collectMetadata(path string) (index.Metadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return index.Metadata{}, fmt.Errorf("reading file metadata: %w", err)
	}

	return index.Metadata{
		Size:             info.Size(),
		FileType:         strings.ToLower(filepath.Ext(path)),
		CreationTime:     timePair(changeTime(path, info)),
		ModificationTime: timePair(info.ModTime()),
		IsReadable:       canOpen(path, os.O_RDONLY),
		IsWritable:       canOpen(path, os.O_WRONLY|os.O_APPEND),
	}, nil
}

func canOpen(path string, flag int) bool {
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
