package local

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grazeapp/menupipe/internal/pipeline"
)

func TestPutAndGetObject(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "artifacts/ab/cd.html", "text/html", bytes.NewReader([]byte("<html>menu</html>")))
	require.NoError(t, err)
	require.Contains(t, uri, "file://")

	body, err := store.GetObject(context.Background(), "artifacts/ab/cd.html")
	require.NoError(t, err)
	require.Equal(t, []byte("<html>menu</html>"), body)
}

func TestGetObjectMissing(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.GetObject(context.Background(), "artifacts/missing.pdf")
	require.True(t, errors.Is(err, pipeline.ErrNotFound))
}

func TestRejectsPathTraversal(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "../escape.txt", "text/plain", bytes.NewReader([]byte("x")))
	require.Error(t, err)
}

func TestRequiresBaseDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}
