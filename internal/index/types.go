package index

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TimeFormat is the canonical layout of persisted timestamps (UTC).
const TimeFormat = "2006-01-02 15:04:05"

// Layouts accepted when reading older or hand-edited indexes. Everything is
// written back in TimeFormat.
var timeLayouts = []string{
	TimeFormat,
	"2006-01-02 15:04:05 MST",
	time.RFC3339,
	"2006-01-02",
	"02-01-2006 15:04:05",
	"01/02/2006 15:04:05",
}

// Timestamp is a second-resolution UTC instant persisted as TimeFormat.
type Timestamp struct {
	time.Time
}

func Now() Timestamp {
	return Timestamp{time.Now().UTC().Truncate(time.Second)}
}

func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return Timestamp{t.UTC()}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func (t Timestamp) String() string {
	return t.UTC().Format(TimeFormat)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// TimePair carries the same instant rendered in UTC and local time.
type TimePair struct {
	UTC   string `json:"utc"`
	Local string `json:"local"`
}

// Metadata describes the file at commit time.
type Metadata struct {
	Size             int64    `json:"size"`
	FileType         string   `json:"file_type"`
	CreationTime     TimePair `json:"creation_time"`
	ModificationTime TimePair `json:"modification_time"`
	IsReadable       bool     `json:"is_readable"`
	IsWritable       bool     `json:"is_writable"`
}

// VersionRecord is one committed version of a tracked file. Records are
// immutable once written.
type VersionRecord struct {
	Timestamp     Timestamp `json:"timestamp"`
	CommitMessage string    `json:"commit_message"`
	Username      string    `json:"username"`
	Metadata      Metadata  `json:"metadata"`
	PreviousHash  *string   `json:"previous_hash"`
}

type wireRecord struct {
	Timestamp     *Timestamp `json:"timestamp"`
	CommitMessage *string    `json:"commit_message"`
	Username      *string    `json:"username"`
	Metadata      *Metadata  `json:"metadata"`
	PreviousHash  *string    `json:"previous_hash"`
}

// UnmarshalJSON rejects records with unknown keys or missing required fields.
func (r *VersionRecord) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var w wireRecord
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("decoding version record: %w", err)
	}

	switch {
	case w.Timestamp == nil:
		return fmt.Errorf("version record missing timestamp")
	case w.CommitMessage == nil:
		return fmt.Errorf("version record missing commit_message")
	case w.Username == nil:
		return fmt.Errorf("version record missing username")
	case w.Metadata == nil:
		return fmt.Errorf("version record missing metadata")
	}

	*r = VersionRecord{
		Timestamp:     *w.Timestamp,
		CommitMessage: *w.CommitMessage,
		Username:      *w.Username,
		Metadata:      *w.Metadata,
		PreviousHash:  w.PreviousHash,
	}
	return nil
}

// FileHistory holds every retained version of one path, keyed by hash.
type FileHistory struct {
	Versions map[string]VersionRecord `json:"versions"`
}

// Version pairs a record with its content hash.
type Version struct {
	Hash string
	VersionRecord
}

// Newer reports whether a is more recent than b. Timestamps are compared as
// parsed instants; for equal instants a record that names the other as its
// previous hash wins, then the greater hash.
func Newer(a, b Version) bool {
	if !a.Timestamp.Equal(b.Timestamp.Time) {
		return a.Timestamp.After(b.Timestamp.Time)
	}
	if a.PreviousHash != nil && *a.PreviousHash == b.Hash {
		return true
	}
	if b.PreviousHash != nil && *b.PreviousHash == a.Hash {
		return false
	}
	return a.Hash > b.Hash
}
