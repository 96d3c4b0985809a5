package safe

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// CompressionOptions configures blob compression.
type CompressionOptions struct {
	// gzip level, gzip.DefaultCompression when zero
	Level int
}

func DefaultCompressionOptions() CompressionOptions {
	return CompressionOptions{Level: gzip.DefaultCompression}
}

// compressionManager pools gzip writers, readers and scratch buffers.
type compressionManager struct {
	opts CompressionOptions

	writers sync.Pool
	readers sync.Pool
	bufs    sync.Pool
}

func newCompressionManager(opts CompressionOptions) (*compressionManager, error) {
	if opts.Level == 0 {
		opts.Level = gzip.DefaultCompression
	}

	// validate the level once so pooled constructors cannot fail
	zw, err := gzip.NewWriterLevel(io.Discard, opts.Level)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}

	cm := &compressionManager{opts: opts}
	cm.writers.Put(zw)
	cm.writers.New = func() interface{} {
		w, _ := gzip.NewWriterLevel(io.Discard, opts.Level)
		return w
	}
	cm.bufs.New = func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 32*1024))
	}
	return cm, nil
}

// compress gzips src into dst and returns the number of raw bytes read.
func (cm *compressionManager) compress(dst io.Writer, src io.Reader) (int64, error) {
	zw := cm.writers.Get().(*gzip.Writer)
	defer cm.writers.Put(zw)
	zw.Reset(dst)

	n, err := io.Copy(zw, src)
	if err != nil {
		return n, fmt.Errorf("compressing: %w", err)
	}
	if err := zw.Close(); err != nil {
		return n, fmt.Errorf("finalizing compression: %w", err)
	}
	return n, nil
}

func (cm *compressionManager) reader(src io.Reader) (*gzip.Reader, error) {
	if zr, ok := cm.readers.Get().(*gzip.Reader); ok {
		if err := zr.Reset(src); err != nil {
			cm.readers.Put(zr)
			return nil, err
		}
		return zr, nil
	}
	return gzip.NewReader(src)
}

// decompress streams the gunzipped form of src into dst.
func (cm *compressionManager) decompress(dst io.Writer, src io.Reader) (int64, error) {
	zr, err := cm.reader(src)
	if err != nil {
		return 0, fmt.Errorf("opening gzip stream: %w", err)
	}
	defer func() {
		zr.Close()
		cm.readers.Put(zr)
	}()

	n, err := io.Copy(dst, zr)
	if err != nil {
		return n, fmt.Errorf("decompressing: %w", err)
	}
	return n, nil
}

// decompressBytes returns the full decompressed content of src.
func (cm *compressionManager) decompressBytes(src io.Reader) ([]byte, error) {
	buf := cm.bufs.Get().(*bytes.Buffer)
	defer cm.bufs.Put(buf)
	buf.Reset()

	if _, err := cm.decompress(buf, src); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}
