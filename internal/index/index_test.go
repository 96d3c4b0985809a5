package index

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"inveni/shared/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func strPtr(s string) *string { return &s }

func record(ts string, prev *string) VersionRecord {
	parsed, err := ParseTimestamp(ts)
	if err != nil {
		panic(err)
	}
	return VersionRecord{
		Timestamp:     parsed,
		CommitMessage: "msg",
		Username:      "ada",
		Metadata:      Metadata{Size: 1, FileType: ".txt"},
		PreviousHash:  prev,
	}
}

func TestStore_SaveLoad(t *testing.T) {
	dir, err := os.MkdirTemp("", "inveni-index")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	store := NewStore(filepath.Join(dir, "nested", "tracked_files.json"), nil)

	t.Run("missing file loads empty", func(t *testing.T) {
		idx := store.Load()
		assert.Empty(t, idx)
	})

	t.Run("round trip", func(t *testing.T) {
		idx := Index{}
		idx.Record("/docs/a.txt", "h1", record("2024-01-01 10:00:00", nil))
		idx.Record("/docs/a.txt", "h2", record("2024-01-01 11:00:00", strPtr("h1")))
		require.NoError(t, store.Save(idx))

		loaded := store.Load()
		require.Contains(t, loaded, "/docs/a.txt")
		assert.Len(t, loaded["/docs/a.txt"].Versions, 2)
		assert.Equal(t, "h1", *loaded["/docs/a.txt"].Versions["h2"].PreviousHash)
		assert.Nil(t, loaded["/docs/a.txt"].Versions["h1"].PreviousHash)

		raw, err := os.ReadFile(store.Path())
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"timestamp": "2024-01-01 11:00:00"`)
		assert.Contains(t, string(raw), `"previous_hash": null`)
	})

	t.Run("no temp files left behind", func(t *testing.T) {
		entries, err := os.ReadDir(filepath.Dir(store.Path()))
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})
}

func TestStore_LoadCorrupt(t *testing.T) {
	dir, err := os.MkdirTemp("", "inveni-index")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	valid := `{"timestamp": "2024-01-01 10:00:00", "commit_message": "", "username": "ada", "metadata": {}, "previous_hash": null}`

	tests := []struct {
		name string
		body string
	}{
		{"truncated json", `{"/a": {"versions": `},
		{"unknown record field", `{"/a": {"versions": {"h1": {"timestamp": "2024-01-01 10:00:00", "commit_message": "", "username": "ada", "metadata": {}, "previous_hash": null, "extra": 1}}}}`},
		{"unknown history field", `{"/a": {"versions": {"h1": ` + valid + `}, "tags": []}}`},
		{"missing username", `{"/a": {"versions": {"h1": {"timestamp": "2024-01-01 10:00:00", "commit_message": "", "metadata": {}}}}}`},
		{"missing metadata", `{"/a": {"versions": {"h1": {"timestamp": "2024-01-01 10:00:00", "commit_message": "", "username": "ada"}}}}`},
		{"unparseable timestamp", `{"/a": {"versions": {"h1": {"timestamp": "yesterday", "commit_message": "", "username": "ada", "metadata": {}}}}}`},
		{"null history", `{"/a": null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "tracked_files.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0644))

			core, logs := observer.New(zap.ErrorLevel)
			store := NewStore(path, zap.New(core))

			idx := store.Load()
			assert.Empty(t, idx)
			assert.Equal(t, 1, logs.Len())
		})
	}

	t.Run("valid record accepted", func(t *testing.T) {
		path := filepath.Join(dir, "ok.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"/a": {"versions": {"h1": `+valid+`}}}`), 0644))

		idx := NewStore(path, nil).Load()
		require.Contains(t, idx, "/a")
		assert.Equal(t, "ada", idx["/a"].Versions["h1"].Username)
	})
}

func TestTimestamp(t *testing.T) {
	t.Run("alternate layouts normalize", func(t *testing.T) {
		a, err := ParseTimestamp("2024-03-05 08:09:10")
		require.NoError(t, err)
		b, err := ParseTimestamp("2024-03-05T08:09:10Z")
		require.NoError(t, err)
		assert.True(t, a.Equal(b.Time))
		assert.Equal(t, "2024-03-05 08:09:10", b.String())
	})

	t.Run("marshal", func(t *testing.T) {
		ts := Timestamp{time.Date(2024, 3, 5, 8, 9, 10, 0, time.UTC)}
		data, err := json.Marshal(ts)
		require.NoError(t, err)
		assert.Equal(t, `"2024-03-05 08:09:10"`, string(data))
	})

	t.Run("now has second resolution", func(t *testing.T) {
		assert.Zero(t, Now().Nanosecond())
	})
}

func TestNewer(t *testing.T) {
	tests := []struct {
		name string
		a, b Version
		want bool
	}{
		{
			name: "later timestamp wins",
			a:    Version{Hash: "aa", VersionRecord: record("2024-01-02 00:00:00", nil)},
			b:    Version{Hash: "bb", VersionRecord: record("2024-01-01 23:59:59", nil)},
			want: true,
		},
		{
			name: "compares parsed instants not strings",
			a:    Version{Hash: "aa", VersionRecord: record("2024-01-10 00:00:00", nil)},
			b:    Version{Hash: "bb", VersionRecord: record("2024-01-09T23:00:00Z", nil)},
			want: true,
		},
		{
			name: "tie prefers chain tip",
			a:    Version{Hash: "aa", VersionRecord: record("2024-01-01 00:00:00", strPtr("bb"))},
			b:    Version{Hash: "bb", VersionRecord: record("2024-01-01 00:00:00", nil)},
			want: true,
		},
		{
			name: "tie loses to its successor",
			a:    Version{Hash: "zz", VersionRecord: record("2024-01-01 00:00:00", nil)},
			b:    Version{Hash: "aa", VersionRecord: record("2024-01-01 00:00:00", strPtr("zz"))},
			want: false,
		},
		{
			name: "unrelated tie falls back to hash",
			a:    Version{Hash: "bb", VersionRecord: record("2024-01-01 00:00:00", nil)},
			b:    Version{Hash: "aa", VersionRecord: record("2024-01-01 00:00:00", nil)},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Newer(tt.a, tt.b))
		})
	}
}

func TestIndex_VersionsAndLatest(t *testing.T) {
	idx := Index{}
	_, ok := idx.Latest("/a")
	assert.False(t, ok)

	idx.Record("/a", "h1", record("2024-01-01 10:00:00", nil))
	idx.Record("/a", "h2", record("2024-01-01 10:00:00", strPtr("h1")))
	idx.Record("/a", "h3", record("2024-01-01 09:00:00", nil))

	latest, ok := idx.Latest("/a")
	require.True(t, ok)
	assert.Equal(t, "h2", latest.Hash)

	versions := idx.Versions("/a")
	require.Len(t, versions, 3)
	assert.Equal(t, []string{"h2", "h1", "h3"}, []string{versions[0].Hash, versions[1].Hash, versions[2].Hash})

	assert.True(t, idx.Remove("/a", "h2"))
	assert.False(t, idx.Remove("/a", "h2"))
	latest, _ = idx.Latest("/a")
	assert.Equal(t, "h1", latest.Hash)

	idx.Remove("/a", "h1")
	idx.Remove("/a", "h3")
	assert.Contains(t, idx, "/a")
	assert.Equal(t, []string{"/a"}, idx.Paths())
}

func TestHasChanged(t *testing.T) {
	dir, err := os.MkdirTemp("", "inveni-index")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("one"), 0644))

	idx := Index{}
	changed, current, last, err := HasChanged(path, idx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, utils.HashContent([]byte("one")), current)
	assert.Empty(t, last)

	idx.Record(path, current, record("2024-01-01 10:00:00", nil))
	changed, _, last, err = HasChanged(path, idx)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, current, last)

	require.NoError(t, os.WriteFile(path, []byte("two"), 0644))
	changed, _, _, err = HasChanged(path, idx)
	require.NoError(t, err)
	assert.True(t, changed)

	_, _, _, err = HasChanged(filepath.Join(dir, "missing"), idx)
	assert.Error(t, err)
}
