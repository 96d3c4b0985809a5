package journal

import (
	"testing"
	"time"

	"inveni/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJournal(t *testing.T) *Journal {
	db, err := storage.Open("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	j := New(db)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time {
		base = base.Add(time.Second)
		return base
	}
	return j
}

func TestJournal_Append(t *testing.T) {
	j := newJournal(t)

	e := &Entry{Kind: KindCommit, Path: "/a.txt", Hash: "h1", Username: "ada"}
	require.NoError(t, j.Append(e))
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.CreatedAt.IsZero())

	assert.Error(t, j.Append(&Entry{Path: "/a.txt"}))
}

func TestJournal_RecentAndForPath(t *testing.T) {
	j := newJournal(t)

	entries := []*Entry{
		{Kind: KindCommit, Path: "/a.txt", Hash: "h1"},
		{Kind: KindCommit, Path: "/a.txt:b", Hash: "x1"},
		{Kind: KindEvict, Path: "/a.txt", Hash: "h0"},
		{Kind: KindRestore, Path: "/a.txt", Hash: "h1"},
		{Kind: KindCommit, Path: "/c.txt", Hash: "c1"},
	}
	for _, e := range entries {
		require.NoError(t, j.Append(e))
	}

	tests := []struct {
		name  string
		fetch func() ([]Entry, error)
		want  []string
	}{
		{
			name:  "recent newest first",
			fetch: func() ([]Entry, error) { return j.Recent(0) },
			want:  []string{"c1", "h1", "h0", "x1", "h1"},
		},
		{
			name:  "recent limited",
			fetch: func() ([]Entry, error) { return j.Recent(2) },
			want:  []string{"c1", "h1"},
		},
		{
			name:  "path excludes longer paths with the same prefix",
			fetch: func() ([]Entry, error) { return j.ForPath("/a.txt", 0) },
			want:  []string{"h1", "h0", "h1"},
		},
		{
			name:  "path limited",
			fetch: func() ([]Entry, error) { return j.ForPath("/a.txt", 1) },
			want:  []string{"h1"},
		},
		{
			name:  "unknown path",
			fetch: func() ([]Entry, error) { return j.ForPath("/nope", 0) },
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fetch()
			require.NoError(t, err)
			hashes := make([]string, 0, len(got))
			for _, e := range got {
				hashes = append(hashes, e.Hash)
			}
			assert.Equal(t, tt.want, hashes)
		})
	}
}

func TestJournal_Prune(t *testing.T) {
	j := newJournal(t)

	var stamps []time.Time
	for _, h := range []string{"h1", "h2", "h3"} {
		e := &Entry{Kind: KindCommit, Path: "/a.txt", Hash: h}
		require.NoError(t, j.Append(e))
		stamps = append(stamps, e.CreatedAt)
	}

	n, err := j.Prune(stamps[2])
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	recent, err := j.Recent(0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "h3", recent[0].Hash)

	byPath, err := j.ForPath("/a.txt", 0)
	require.NoError(t, err)
	assert.Len(t, byPath, 1)

	n, err = j.Prune(stamps[0])
	require.NoError(t, err)
	assert.Zero(t, n)
}
