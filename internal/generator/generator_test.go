package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sral/selfrefine/core"
	"github.com/sral/selfrefine/internal/blobstore"
	"github.com/sral/selfrefine/internal/domain"
	"github.com/sral/selfrefine/internal/llm"
)

type callbackRecorder struct {
	mu       sync.Mutex
	received []domain.ReportGenerationRequest
	done     chan struct{}
}

func newCallbackRecorder() *callbackRecorder {
	return &callbackRecorder{done: make(chan struct{}, 10)}
}

func (c *callbackRecorder) handler(w http.ResponseWriter, r *http.Request) {
	var report domain.ReportGenerationRequest
	_ = json.NewDecoder(r.Body).Decode(&report)
	c.mu.Lock()
	c.received = append(c.received, report)
	c.mu.Unlock()
	w.WriteHeader(http.StatusOK)
	c.done <- struct{}{}
}

func (c *callbackRecorder) waitOne(t *testing.T) domain.ReportGenerationRequest {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.received[len(c.received)-1]
}

func TestGenerateSuccessWritesBlobAndReportsSuccess(t *testing.T) {
	mock := llm.NewMockClient()
	mock.SetResponses("<html>generated</html>")
	blobs, err := blobstore.New(t.TempDir())
	require.NoError(t, err)

	recorder := newCallbackRecorder()
	server := httptest.NewServer(http.HandlerFunc(recorder.handler))
	defer server.Close()

	svc := NewService(mock, blobs, core.NoOpLogger{})

	req := httptest.NewRequest(http.MethodPost, "/", jsonBody(t, domain.GenerateRequest{
		OrchestratorID: "orch-1",
		ArtifactID:     "a1",
		MetaPrompt:     "make something",
		OutputBlobPath: "artifacts/wave-1/a1.html",
		CallbackURL:    server.URL,
	}))
	rec := httptest.NewRecorder()
	svc.handleGenerate(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	report := recorder.waitOne(t)
	assert.Equal(t, "SUCCESS", report.Status)
	require.NotNil(t, report.BlobPath)
	assert.Equal(t, "artifacts/wave-1/a1.html", *report.BlobPath)

	data, err := blobs.Get(context.Background(), "artifacts/wave-1/a1.html")
	require.NoError(t, err)
	assert.Equal(t, "<html>generated</html>", string(data))
}

func TestGenerateModelFailureReportsFailedWithNilBlobPath(t *testing.T) {
	mock := llm.NewMockClient()
	mock.SetError(mockErr("model unavailable"))
	blobs, err := blobstore.New(t.TempDir())
	require.NoError(t, err)

	recorder := newCallbackRecorder()
	server := httptest.NewServer(http.HandlerFunc(recorder.handler))
	defer server.Close()

	svc := NewService(mock, blobs, core.NoOpLogger{})

	req := httptest.NewRequest(http.MethodPost, "/", jsonBody(t, domain.GenerateRequest{
		OrchestratorID: "orch-1",
		ArtifactID:     "a2",
		MetaPrompt:     "make something",
		OutputBlobPath: "artifacts/wave-1/a2.html",
		CallbackURL:    server.URL,
	}))
	rec := httptest.NewRecorder()
	svc.handleGenerate(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	report := recorder.waitOne(t)
	assert.Equal(t, "FAILED", report.Status)
	assert.Nil(t, report.BlobPath)
}

func TestGenerateRejectsMissingField(t *testing.T) {
	mock := llm.NewMockClient()
	blobs, err := blobstore.New(t.TempDir())
	require.NoError(t, err)
	svc := NewService(mock, blobs, core.NoOpLogger{})

	req := httptest.NewRequest(http.MethodPost, "/", jsonBody(t, domain.GenerateRequest{
		ArtifactID: "a3",
	}))
	rec := httptest.NewRecorder()
	svc.handleGenerate(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateRejectsNonPOST(t *testing.T) {
	mock := llm.NewMockClient()
	blobs, err := blobstore.New(t.TempDir())
	require.NoError(t, err)
	svc := NewService(mock, blobs, core.NoOpLogger{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	svc.handleGenerate(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func jsonBody(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

type mockErr string

func (e mockErr) Error() string { return string(e) }
