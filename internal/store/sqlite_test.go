package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSQLiteStoreContract(t *testing.T) {
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "manual.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	runDocumentStoreContract(t, s)
}

func TestOpenSQLiteIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manual.db")
	ctx := context.Background()

	first, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	_, err = first.Create(ctx, "c", Document{ID: "x", Data: []byte(`{"a":1}`)})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer second.Close()
	doc, err := second.Get(ctx, "c", "x")
	require.NoError(t, err)
	require.Equal(t, int64(1), doc.Version)
}
