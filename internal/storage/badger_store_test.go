package storage

import (
	"testing"

	"inveni/internal/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (i *item) GetID() string { return i.ID }

func setupTestDB(t *testing.T) *badger.DB {
	db, err := Open("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBadgerStore(t *testing.T) {
	db := setupTestDB(t)
	store := NewBadgerStore(db, "item")

	t.Run("Create", func(t *testing.T) {
		require.NoError(t, store.Create(&item{ID: "a", Name: "first"}, "item_name:first:a"))

		err := store.Create(&item{ID: "a"})
		assert.ErrorIs(t, err, ErrExists)

		assert.Error(t, store.Create(&item{}))
	})

	t.Run("Get", func(t *testing.T) {
		var got item
		require.NoError(t, store.Get("a", &got))
		assert.Equal(t, "first", got.Name)

		err := store.Get("missing", &got)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, errors.ErrorTypeNotFound, errors.TypeOf(err))
	})

	t.Run("Create second", func(t *testing.T) {
		require.NoError(t, store.Create(&item{ID: "b", Name: "second"}, "item_name:second:b"))
	})

	t.Run("ScanKeys", func(t *testing.T) {
		keys, err := store.ScanKeys("item_name:", false, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"first:a", "second:b"}, keys)

		keys, err = store.ScanKeys("item_name:", true, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"second:b"}, keys)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete("a", "item_name:first:a"))
		assert.ErrorIs(t, store.Delete("a"), ErrNotFound)

		keys, err := store.ScanKeys("item_name:", false, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"second:b"}, keys)
	})
}
