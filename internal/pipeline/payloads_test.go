package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	raw, err := EncodePayload(JobTypeOCR, OCRPayload{
		PlaceID:    "place-1",
		CrawlRunID: "run-1",
		ArtifactID: "art-1",
	})
	require.NoError(t, err)

	decoded, err := DecodePayload(Job{Type: JobTypeOCR, Payload: raw})
	require.NoError(t, err)

	p, ok := decoded.(OCRPayload)
	require.True(t, ok)
	require.Equal(t, "art-1", p.ArtifactID)
}

func TestEncodePayloadTypeMismatch(t *testing.T) {
	t.Parallel()

	_, err := EncodePayload(JobTypeCrawl, OCRPayload{ArtifactID: "art-1"})
	require.Error(t, err)
}

func TestDecodePayloadUnknownTypeIsPermanent(t *testing.T) {
	t.Parallel()

	_, err := DecodePayload(Job{Type: "resize", Payload: []byte(`{}`)})
	require.Error(t, err)
	require.True(t, IsPermanent(err))
}

func TestDecodePayloadMalformedJSONIsPermanent(t *testing.T) {
	t.Parallel()

	_, err := DecodePayload(Job{Type: JobTypeLabel, Payload: []byte(`{`)})
	require.Error(t, err)
	require.True(t, IsPermanent(err))
}

func TestIsPermanentWrapped(t *testing.T) {
	t.Parallel()

	err := Permanentf("robots disallows %s", "/menu")
	require.True(t, IsPermanent(err))
	require.False(t, IsPermanent(ErrNotFound))
	require.False(t, IsPermanent(nil))
}
