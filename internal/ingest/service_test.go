// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/framepipe/framedb"
	"github.com/cardinalhq/framepipe/internal/cloudstorage"
	"github.com/cardinalhq/framepipe/internal/framequeue"
	"github.com/cardinalhq/framepipe/internal/idgen"
)

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]framedb.Session
	jobs     []framedb.InsertFrameJobParams
	stats    framedb.SessionStats
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: map[uuid.UUID]framedb.Session{}}
}

func (f *fakeSessionStore) addSession(completed bool) framedb.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := framedb.Session{ID: uuid.New(), Completed: completed, CreatedAt: time.Now()}
	f.sessions[s.ID] = s
	return s
}

func (f *fakeSessionStore) CreateSession(_ context.Context, name string) (framedb.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := framedb.Session{ID: uuid.New(), Name: name, CreatedAt: time.Now()}
	f.sessions[s.ID] = s
	return s, nil
}

func (f *fakeSessionStore) GetSession(_ context.Context, id uuid.UUID) (framedb.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return framedb.Session{}, framedb.ErrNotFound
	}
	return s, nil
}

func (f *fakeSessionStore) MarkSessionDone(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return framedb.ErrNotFound
	}
	s.Completed = true
	f.sessions[id] = s
	return nil
}

func (f *fakeSessionStore) SessionStats(_ context.Context, _ uuid.UUID) (framedb.SessionStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats, nil
}

func (f *fakeSessionStore) InsertFrameJob(_ context.Context, params framedb.InsertFrameJobParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, params)
	return nil
}

func testService(t *testing.T) (*Service, *fakeSessionStore, cloudstorage.Client, *framequeue.MemoryQueue) {
	t.Helper()
	db := newFakeSessionStore()
	storage := cloudstorage.NewFileClient(t.TempDir())
	queue := framequeue.NewMemoryQueue(time.Minute)
	svc := NewService(db, storage, queue, idgen.NewULIDGenerator(), Config{
		Bucket:   "frames",
		Provider: "local",
	})
	return svc, db, storage, queue
}

func postFrame(t *testing.T, handler http.Handler, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleFrameAccepted(t *testing.T) {
	svc, db, storage, queue := testService(t)
	session := db.addSession(false)

	rec := postFrame(t, svc.Handler(),
		"/api/v1/frames?session="+session.ID.String()+"&capturedAtSeconds=3.250&correlationId=cam-1",
		[]byte("jpegbytes"))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["frameJobId"])
	assert.True(t, strings.HasPrefix(resp["frameUri"], "local://frames/frames/"+session.ID.String()+"/"))

	// Job row recorded.
	require.Len(t, db.jobs, 1)
	job := db.jobs[0]
	assert.Equal(t, session.ID, job.SessionID)
	assert.Equal(t, 3.25, job.CapturedAtSeconds)
	require.NotNil(t, job.CorrelationID)
	assert.Equal(t, "cam-1", *job.CorrelationID)

	// Frame bytes durable in object storage.
	bucket, key, err := cloudstorage.ParseURI(job.FrameURI)
	require.NoError(t, err)
	body, notFound, err := storage.DownloadObject(context.Background(), bucket, key)
	require.NoError(t, err)
	require.False(t, notFound)
	assert.Equal(t, []byte("jpegbytes"), body)

	// Descriptor enqueued and resolvable back to the job.
	deliveries, err := queue.Receive(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, session.ID, deliveries[0].Message.SessionID)
	assert.Equal(t, job.FrameURI, deliveries[0].Message.FrameURI)

	// The descriptor carries the capture time, not the enqueue time.
	wantCapturedAt := session.CreatedAt.Add(3250 * time.Millisecond).UTC()
	assert.True(t, wantCapturedAt.Equal(deliveries[0].Message.CapturedAt),
		"capturedAt %s != session start + offset %s", deliveries[0].Message.CapturedAt, wantCapturedAt)
}

func TestHandleFrameUnknownSession(t *testing.T) {
	svc, db, _, queue := testService(t)

	rec := postFrame(t, svc.Handler(), "/api/v1/frames?session="+uuid.NewString(), []byte("x"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, db.jobs)
	assert.Equal(t, 0, queue.Depth())
}

func TestHandleFrameCompletedSession(t *testing.T) {
	svc, db, _, queue := testService(t)
	session := db.addSession(true)

	rec := postFrame(t, svc.Handler(), "/api/v1/frames?session="+session.ID.String(), []byte("x"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, db.jobs)
	assert.Equal(t, 0, queue.Depth())
}

func TestHandleFrameEmptyBody(t *testing.T) {
	svc, db, _, _ := testService(t)
	session := db.addSession(false)

	rec := postFrame(t, svc.Handler(), "/api/v1/frames?session="+session.ID.String(), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, db.jobs)
}

func TestHandleFrameBadQuery(t *testing.T) {
	svc, db, _, _ := testService(t)
	session := db.addSession(false)

	rec := postFrame(t, svc.Handler(), "/api/v1/frames?session=not-a-uuid", []byte("x"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postFrame(t, svc.Handler(),
		"/api/v1/frames?session="+session.ID.String()+"&capturedAtSeconds=yesterday", []byte("x"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postFrame(t, svc.Handler(),
		"/api/v1/frames?session="+session.ID.String()+"&capturedAtSeconds=-1", []byte("x"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleFrameTooLarge(t *testing.T) {
	db := newFakeSessionStore()
	session := db.addSession(false)
	svc := NewService(db, cloudstorage.NewFileClient(t.TempDir()),
		framequeue.NewMemoryQueue(time.Minute), idgen.NewULIDGenerator(),
		Config{Bucket: "frames", Provider: "local", MaxBodyBytes: 8})

	rec := postFrame(t, svc.Handler(), "/api/v1/frames?session="+session.ID.String(),
		bytes.Repeat([]byte("a"), 64))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, db.jobs)
}

func TestSessionLifecycle(t *testing.T) {
	svc, db, _, _ := testService(t)
	handler := svc.Handler()

	// Create.
	rec := postFrame(t, handler, "/api/v1/sessions", []byte(`{"name": "living room"}`))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id, err := uuid.Parse(created["id"])
	require.NoError(t, err)

	// Done is idempotent.
	for range 2 {
		rec = postFrame(t, handler, "/api/v1/sessions/"+id.String()+"/done", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
	session, err := db.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, session.Completed)

	// Done on an unknown session.
	rec = postFrame(t, handler, "/api/v1/sessions/"+uuid.NewString()+"/done", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionStats(t *testing.T) {
	svc, db, _, _ := testService(t)
	session := db.addSession(false)
	db.stats = framedb.SessionStats{Pending: 2, Completed: 5, Failed: 1}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+session.ID.String()+"/stats", nil)
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(2), stats["pending"])
	assert.Equal(t, int64(5), stats["completed"])
	assert.Equal(t, int64(1), stats["failed"])

	req = httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+uuid.NewString()+"/stats", nil)
	rec = httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
