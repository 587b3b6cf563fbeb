package artifact

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grazeapp/menupipe/internal/hash/sha256"
	"github.com/grazeapp/menupipe/internal/metrics"
	"github.com/grazeapp/menupipe/internal/pipeline"
	storagemem "github.com/grazeapp/menupipe/internal/storage/memory"
	storemem "github.com/grazeapp/menupipe/internal/store/memory"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqIDs struct{ n int }

func (g *seqIDs) NewID() (string, error) {
	g.n++
	return string(rune('a' + g.n - 1)), nil
}

func newTestService(t *testing.T) (*Service, *storemem.ArtifactStore, *storagemem.BlobStore) {
	t.Helper()
	metrics.Init()
	blobs := storagemem.NewBlobStore()
	meta := storemem.NewArtifactStore()
	clock := fixedClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	svc := NewService(blobs, meta, sha256.New(), clock, &seqIDs{})
	return svc, meta, blobs
}

func TestPutStoresNewArtifact(t *testing.T) {
	t.Parallel()

	svc, _, blobs := newTestService(t)
	art, deduped, err := svc.Put(context.Background(), Capture{
		CrawlRunID: "run-1",
		SourceURL:  "https://example.com/menu.pdf",
		Filename:   "menu.pdf",
		MIMEType:   "application/pdf",
		Data:       []byte("%PDF-1.4 fake"),
	})
	require.NoError(t, err)
	require.False(t, deduped)
	require.NotEmpty(t, art.ID)
	require.Equal(t, "run-1/20260314T120000Z/menu.pdf", art.StoragePath)
	require.Equal(t, "mem://"+art.StoragePath, art.BlobURI)
	require.Equal(t, int64(13), art.ByteSize)
	require.Len(t, art.ContentHash, 64)
	require.Equal(t, 1, blobs.Len())
}

func TestPutDeduplicatesByContentHash(t *testing.T) {
	t.Parallel()

	svc, meta, blobs := newTestService(t)
	data := []byte("identical menu bytes")

	first, deduped, err := svc.Put(context.Background(), Capture{
		CrawlRunID: "run-1", Filename: "a.jpg", MIMEType: "image/jpeg", Data: data,
	})
	require.NoError(t, err)
	require.False(t, deduped)

	second, deduped, err := svc.Put(context.Background(), Capture{
		CrawlRunID: "run-2", Filename: "b.jpg", MIMEType: "image/jpeg", Data: data,
	})
	require.NoError(t, err)
	require.True(t, deduped)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, first.StoragePath, second.StoragePath)
	require.Equal(t, 1, blobs.Len())
	require.Equal(t, []string{"run-2"}, meta.Attachments(first.ID))
}

func TestFetchRoundTrip(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	data := []byte("<html>menu page</html>")
	art, _, err := svc.Put(context.Background(), Capture{
		CrawlRunID: "run-1", Filename: "index.html", MIMEType: "text/html", Data: data,
	})
	require.NoError(t, err)

	got, body, err := svc.Fetch(context.Background(), art.ID)
	require.NoError(t, err)
	require.Equal(t, art.ID, got.ID)
	require.Equal(t, data, body)
}

func TestPutRejectsEmptyData(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	_, _, err := svc.Put(context.Background(), Capture{CrawlRunID: "run-1"})
	require.Error(t, err)
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	require.Equal(t, "menu.pdf", sanitizeFilename("/uploads/menu.pdf"))
	require.Equal(t, "caf__menu.jpg", sanitizeFilename("café menu.jpg"))
	require.Equal(t, "", sanitizeFilename(""))
}

var _ pipeline.ArtifactStore = (*storemem.ArtifactStore)(nil)
