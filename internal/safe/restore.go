package safe

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// Formats that keep their own lock or journal files are restored through a
// sibling temp file and swapped in.
var officeExtensions = map[string]bool{
	".doc":  true,
	".docx": true,
	".xls":  true,
	".xlsx": true,
	".ppt":  true,
	".pptx": true,
}

const stagingTimeFormat = "20060102_150405"

// Restore overwrites path with the stored version hash. The current content
// is first copied to the staging area.
func (s *Safe) Restore(path, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, ok := s.findLocked(path, hash)
	if !ok {
		return ErrBackupNotFound
	}

	if _, err := os.Stat(path); err == nil {
		if staged, err := s.stage(path); err != nil {
			s.logger.Warn("could not stage current content", zap.String("path", path), zap.Error(err))
		} else {
			s.logger.Debug("staged current content", zap.String("path", path), zap.String("copy", staged))
		}

		if err := s.writable(path); err != nil {
			return ErrFileLocked.Wrap(err)
		}
	} else if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating target directory: %w", err)
	}

	src, err := os.Open(blob)
	if err != nil {
		return fmt.Errorf("opening blob: %w", err)
	}
	defer src.Close()

	if officeExtensions[strings.ToLower(filepath.Ext(path))] {
		err = s.restoreViaTemp(path, src)
	} else {
		err = s.restoreInPlace(path, src)
	}
	if err != nil {
		return err
	}

	s.missing.Remove(cacheKey(path, hash))
	s.logger.Info("version restored", zap.String("path", path), zap.String("hash", hash))
	return nil
}

func (s *Safe) restoreInPlace(path string, src io.Reader) error {
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("opening target: %w", err)
	}
	_, err = s.cm.decompress(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("restoring %s: %w", path, err)
	}
	return nil
}

func (s *Safe) restoreViaTemp(path string, src io.Reader) (err error) {
	tmpPath := filepath.Join(filepath.Dir(path), "temp_"+filepath.Base(path))
	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	_, err = s.cm.decompress(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("restoring %s: %w", path, err)
	}

	// rename cannot replace an existing file on windows
	if runtime.GOOS == "windows" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing target: %w", err)
		}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replacing target: %w", err)
	}
	return nil
}

// stage copies the current content of path to
// temp_backups/<basename>.<YYYYMMDD_HHMMSS>.bak.
func (s *Safe) stage(path string) (string, error) {
	dir := filepath.Join(s.root, stagingDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating staging directory: %w", err)
	}
	dst := filepath.Join(dir, fmt.Sprintf("%s.%s.bak", filepath.Base(path), s.now().Format(stagingTimeFormat)))

	in, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	_, err = io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return "", err
	}
	return dst, nil
}

// PurgeStaging removes staged copies older than the configured age and
// returns how many were removed.
func (s *Safe) PurgeStaging() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purgeStaging()
}

func (s *Safe) purgeStaging() (int, error) {
	dir := filepath.Join(s.root, stagingDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading staging directory: %w", err)
	}

	cutoff := s.now().Add(-s.stagingMaxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".bak") {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			s.logger.Debug("removing staged copy", zap.String("name", e.Name()), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

// canWrite opens the file for appending without writing anything.
func canWrite(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return err
	}
	return f.Close()
}

