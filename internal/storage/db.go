package storage

import (
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// Open opens a badger database at dir, or an in-memory one when dir is
// empty. Badger's own logging goes through logger at debug level and up.
func Open(dir string, logger *zap.Logger) (*badger.DB, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = nil
	if logger != nil {
		opts.Logger = badgerLogger{logger.Named("badger").Sugar()}
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// badgerLogger adapts zap to badger.Logger.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(f string, v ...interface{})   { l.s.Errorf(trim(f), v...) }
func (l badgerLogger) Warningf(f string, v ...interface{}) { l.s.Warnf(trim(f), v...) }
func (l badgerLogger) Infof(f string, v ...interface{})    { l.s.Debugf(trim(f), v...) }
func (l badgerLogger) Debugf(f string, v ...interface{})   { l.s.Debugf(trim(f), v...) }

func trim(f string) string {
	return strings.TrimSuffix(f, "\n")
}
