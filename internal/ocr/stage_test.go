package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/grazeapp/menupipe/internal/artifact"
	"github.com/grazeapp/menupipe/internal/hash/sha256"
	"github.com/grazeapp/menupipe/internal/metrics"
	"github.com/grazeapp/menupipe/internal/pipeline"
	queuemem "github.com/grazeapp/menupipe/internal/queue/memory"
	storagemem "github.com/grazeapp/menupipe/internal/storage/memory"
	storemem "github.com/grazeapp/menupipe/internal/store/memory"
)

type stubClock struct{ t time.Time }

func (c stubClock) Now() time.Time { return c.t }

type countingIDs struct{ n int }

func (g *countingIDs) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

type fakeEngine struct {
	result   pipeline.OCRResult
	err      error
	gotMIME  string
	gotBytes []byte
}

func (e *fakeEngine) Extract(_ context.Context, image []byte, mimeType string) (pipeline.OCRResult, error) {
	e.gotBytes = image
	e.gotMIME = mimeType
	if e.err != nil {
		return pipeline.OCRResult{}, e.err
	}
	return e.result, nil
}

func TestHandleOCRPersistsResultBeforeEnqueue(t *testing.T) {
	t.Parallel()
	metrics.Init()

	clock := stubClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	ids := &countingIDs{}
	queue := queuemem.NewQueue(clock, queuemem.Config{})
	artifacts := artifact.NewService(storagemem.NewBlobStore(), storemem.NewArtifactStore(), sha256.New(), clock, ids)

	src, _, err := artifacts.Put(context.Background(), artifact.Capture{
		CrawlRunID: "run-1",
		SourceURL:  "https://bistro.test/dinner.pdf",
		Filename:   "dinner.pdf",
		MIMEType:   "application/pdf",
		Data:       []byte("%PDF-1.4 menu"),
	})
	require.NoError(t, err)

	engine := &fakeEngine{result: pipeline.OCRResult{
		Blocks:    []pipeline.TextBlock{{Text: "MAINS", Confidence: 0.97, Page: 1}},
		PageCount: 2,
		Engine:    "tess-5",
	}}
	stage := NewStage(queue, artifacts, engine, ids, zap.NewNop())

	raw, err := pipeline.EncodePayload(pipeline.JobTypeOCR, pipeline.OCRPayload{
		PlaceID: "place-1", CrawlRunID: "run-1", ArtifactID: src.ID,
	})
	require.NoError(t, err)
	job := pipeline.Job{ID: "job-1", Type: pipeline.JobTypeOCR, Payload: raw, Priority: 2}

	require.NoError(t, stage.Handle(context.Background(), job))

	// PDFs pass through to the engine unpreprocessed.
	require.Equal(t, "application/pdf", engine.gotMIME)
	require.Equal(t, []byte("%PDF-1.4 menu"), engine.gotBytes)

	parseJob, ok, err := queue.Claim(context.Background(), "w1", pipeline.JobTypeParse)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, parseJob.Priority)

	decoded, err := pipeline.DecodePayload(parseJob)
	require.NoError(t, err)
	payload := decoded.(pipeline.ParsePayload)
	require.Equal(t, src.ID, payload.SourceArtifact)
	require.NotEmpty(t, payload.OCRArtifactID)

	// The derived artifact round-trips the OCR result.
	_, data, err := artifacts.Fetch(context.Background(), payload.OCRArtifactID)
	require.NoError(t, err)
	var persisted pipeline.OCRResult
	require.NoError(t, json.Unmarshal(data, &persisted))
	require.Equal(t, src.ID, persisted.ArtifactID)
	require.Len(t, persisted.Blocks, 1)
	require.Equal(t, "MAINS", persisted.Blocks[0].Text)
}

func TestHandleOCREngineFailureIsTransient(t *testing.T) {
	t.Parallel()
	metrics.Init()

	clock := stubClock{t: time.Now().UTC()}
	ids := &countingIDs{}
	queue := queuemem.NewQueue(clock, queuemem.Config{})
	artifacts := artifact.NewService(storagemem.NewBlobStore(), storemem.NewArtifactStore(), sha256.New(), clock, ids)

	src, _, err := artifacts.Put(context.Background(), artifact.Capture{
		CrawlRunID: "run-1", Filename: "menu.pdf", MIMEType: "application/pdf", Data: []byte("%PDF"),
	})
	require.NoError(t, err)

	engine := &fakeEngine{err: fmt.Errorf("engine overloaded")}
	stage := NewStage(queue, artifacts, engine, ids, zap.NewNop())

	raw, err := pipeline.EncodePayload(pipeline.JobTypeOCR, pipeline.OCRPayload{
		PlaceID: "place-1", CrawlRunID: "run-1", ArtifactID: src.ID,
	})
	require.NoError(t, err)

	err = stage.Handle(context.Background(), pipeline.Job{ID: "job-1", Type: pipeline.JobTypeOCR, Payload: raw})
	require.Error(t, err)
	require.False(t, pipeline.IsPermanent(err))

	// No parse job on failure.
	_, ok, err := queue.Claim(context.Background(), "w1", pipeline.JobTypeParse)
	require.NoError(t, err)
	require.False(t, ok)
}
