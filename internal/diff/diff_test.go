package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_Diff(t *testing.T) {
	engine := NewEngine(1)

	tests := []struct {
		name      string
		old, new  string
		additions int
		deletions int
		hunks     int
	}{
		{"identical", "a\nb\n", "a\nb\n", 0, 0, 0},
		{"append line", "a\nb\n", "a\nb\nc\n", 1, 0, 1},
		{"replace line", "a\nb\nc\n", "a\nB\nc\n", 1, 1, 1},
		{"from empty", "", "x\ny\n", 2, 0, 1},
		{"two distant edits", "1\n2\n3\n4\n5\n6\n7\n8\n", "one\n2\n3\n4\n5\n6\n7\neight\n", 2, 2, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := engine.Diff("old", []byte(tt.old), "new", []byte(tt.new))
			require.NoError(t, err)
			assert.Equal(t, tt.additions, res.Stats.Additions)
			assert.Equal(t, tt.deletions, res.Stats.Deletions)
			assert.Len(t, res.Hunks, tt.hunks)
			assert.Equal(t, tt.additions == 0 && tt.deletions == 0, res.Empty())
		})
	}
}

func TestDiffResult_Format(t *testing.T) {
	engine := NewEngine(3)

	res, err := engine.Diff("a.txt@1", []byte("a\nb\nc\n"), "a.txt", []byte("a\nB\nc\n"))
	require.NoError(t, err)

	want := "--- a.txt@1\n+++ a.txt\n@@ -1,3 +1,3 @@\n a\n-b\n+B\n c\n"
	assert.Equal(t, want, res.Format())

	t.Run("identical renders nothing", func(t *testing.T) {
		res, err := engine.Diff("x", []byte("same"), "y", []byte("same"))
		require.NoError(t, err)
		assert.Empty(t, res.Format())
	})
}

func TestEngine_Binary(t *testing.T) {
	engine := NewEngine(3)

	res, err := engine.Diff("a", []byte{0, 1, 2}, "b", []byte{0, 1, 3})
	require.NoError(t, err)
	assert.True(t, res.Binary)
	assert.Empty(t, res.Hunks)
	assert.Equal(t, "Binary files a and b differ\n", res.Format())

	res, err = engine.Diff("a", []byte{0, 1}, "b", []byte{0, 1})
	require.NoError(t, err)
	assert.True(t, res.Empty())
}
