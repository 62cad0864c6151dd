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

// Package ingest is the HTTP edge of the pipeline: it accepts raw frame
// bytes, makes them durable in object storage and the database, and enqueues
// a descriptor for the analysis workers. A frame is acknowledged only after
// all three writes succeed.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/framepipe/framedb"
	"github.com/cardinalhq/framepipe/internal/cloudstorage"
	"github.com/cardinalhq/framepipe/internal/framequeue"
	"github.com/cardinalhq/framepipe/internal/idgen"
	"github.com/cardinalhq/framepipe/internal/logctx"
)

// SessionStore defines the database operations the ingest service needs.
type SessionStore interface {
	CreateSession(ctx context.Context, name string) (framedb.Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (framedb.Session, error)
	MarkSessionDone(ctx context.Context, id uuid.UUID) error
	SessionStats(ctx context.Context, id uuid.UUID) (framedb.SessionStats, error)
	InsertFrameJob(ctx context.Context, params framedb.InsertFrameJobParams) error
}

// Config parameterizes the ingest HTTP service.
type Config struct {
	Addr         string `mapstructure:"addr"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
	Bucket       string `mapstructure:"bucket"`
	// Provider names the storage scheme used in frame URIs; it must match
	// the storage client the workers read with.
	Provider string `mapstructure:"provider"`
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 16 << 20
	}
}

// Service accepts frames and session lifecycle calls.
type Service struct {
	db      SessionStore
	storage cloudstorage.Client
	queue   framequeue.Queue
	ids     idgen.IDGenerator
	cfg     Config
	tracer  trace.Tracer
}

func NewService(db SessionStore, storage cloudstorage.Client, queue framequeue.Queue, ids idgen.IDGenerator, cfg Config) *Service {
	cfg.applyDefaults()
	return &Service{
		db:      db,
		storage: storage,
		queue:   queue,
		ids:     ids,
		cfg:     cfg,
		tracer:  otel.Tracer("github.com/cardinalhq/framepipe/internal/ingest"),
	}
}

// Handler returns the route table; split out so tests can drive it through
// httptest without binding a port.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/frames", s.handleFrame)
	mux.HandleFunc("POST /api/v1/sessions", s.handleCreateSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/done", s.handleSessionDone)
	mux.HandleFunc("GET /api/v1/sessions/{id}/stats", s.handleSessionStats)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logctx.FromContext(ctx).Info("starting ingest service", slog.String("addr", s.cfg.Addr))

	errChan := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleFrame accepts one frame for a live session. 202 means the frame is
// durable and will be analyzed; any error response means nothing was kept.
func (s *Service) handleFrame(w http.ResponseWriter, req *http.Request) {
	ctx, span := s.tracer.Start(req.Context(), "ingest.handleFrame")
	defer span.End()
	ll := logctx.FromContext(ctx)

	sessionID, err := uuid.Parse(req.URL.Query().Get("session"))
	if err != nil {
		http.Error(w, "missing or malformed session id", http.StatusBadRequest)
		return
	}

	capturedAt := 0.0
	if raw := req.URL.Query().Get("capturedAtSeconds"); raw != "" {
		capturedAt, err = strconv.ParseFloat(raw, 64)
		if err != nil || capturedAt < 0 {
			http.Error(w, "malformed capturedAtSeconds", http.StatusBadRequest)
			return
		}
	}
	correlationID := req.URL.Query().Get("correlationId")

	session, err := s.db.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, framedb.ErrNotFound) {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}
		ll.Error("failed to load session", slog.Any("error", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if session.Completed {
		// Late frames after the client declared the session done are
		// indistinguishable from misdirected ones; reject them.
		http.Error(w, "session already completed", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "frame too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read frame body", http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		http.Error(w, "empty frame body", http.StatusBadRequest)
		return
	}

	key := fmt.Sprintf("frames/%s/%s.jpg", sessionID, s.ids.Make(time.Now()))
	if err := s.storage.UploadObject(ctx, s.cfg.Bucket, key, body); err != nil {
		ll.Error("frame upload failed", slog.Any("error", err))
		http.Error(w, "storage unavailable", http.StatusInternalServerError)
		return
	}

	frameURI := cloudstorage.BuildURI(s.cfg.Provider, s.cfg.Bucket, key)
	job := framedb.InsertFrameJobParams{
		ID:                uuid.New(),
		SessionID:         sessionID,
		FrameURI:          frameURI,
		CapturedAtSeconds: capturedAt,
	}
	if correlationID != "" {
		job.CorrelationID = &correlationID
	}
	if err := s.db.InsertFrameJob(ctx, job); err != nil {
		ll.Error("failed to record frame job", slog.Any("error", err))
		http.Error(w, "database unavailable", http.StatusInternalServerError)
		return
	}

	msg := framequeue.Message{
		SessionID: sessionID,
		FrameURI:  frameURI,
		// Capture time is the session start plus the client's offset, not
		// the enqueue time.
		CapturedAt:    session.CreatedAt.Add(time.Duration(capturedAt * float64(time.Second))).UTC(),
		CorrelationID: correlationID,
	}
	if err := s.queue.Send(ctx, msg); err != nil {
		// The job row and blob exist but no descriptor does. Refuse the
		// frame; the client retries and the new attempt gets fresh ids.
		ll.Error("failed to enqueue frame descriptor", slog.Any("error", err))
		http.Error(w, "queue unavailable", http.StatusInternalServerError)
		return
	}

	ll.Debug("frame accepted",
		slog.String("sessionID", sessionID.String()),
		slog.String("frameURI", frameURI),
		slog.Int("bytes", len(body)))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"frameJobId": job.ID.String(),
		"frameUri":   frameURI,
	})
}

func (s *Service) handleCreateSession(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	var body struct {
		Name string `json:"name"`
	}
	if req.Body != nil {
		// Body is optional; a bare POST creates an unnamed session.
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "malformed request body", http.StatusBadRequest)
			return
		}
	}

	session, err := s.db.CreateSession(ctx, body.Name)
	if err != nil {
		logctx.FromContext(ctx).Error("failed to create session", slog.Any("error", err))
		http.Error(w, "database unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"id": session.ID.String()})
}

func (s *Service) handleSessionDone(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	id, err := uuid.Parse(req.PathValue("id"))
	if err != nil {
		http.Error(w, "malformed session id", http.StatusBadRequest)
		return
	}

	if err := s.db.MarkSessionDone(ctx, id); err != nil {
		if errors.Is(err, framedb.ErrNotFound) {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}
		logctx.FromContext(ctx).Error("failed to mark session done", slog.Any("error", err))
		http.Error(w, "database unavailable", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleSessionStats(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	id, err := uuid.Parse(req.PathValue("id"))
	if err != nil {
		http.Error(w, "malformed session id", http.StatusBadRequest)
		return
	}

	if _, err := s.db.GetSession(ctx, id); err != nil {
		if errors.Is(err, framedb.ErrNotFound) {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}
		logctx.FromContext(ctx).Error("failed to load session", slog.Any("error", err))
		http.Error(w, "database unavailable", http.StatusInternalServerError)
		return
	}

	stats, err := s.db.SessionStats(ctx, id)
	if err != nil {
		logctx.FromContext(ctx).Error("failed to load session stats", slog.Any("error", err))
		http.Error(w, "database unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]int64{
		"pending":   stats.Pending,
		"analyzing": stats.Analyzing,
		"storing":   stats.Storing,
		"completed": stats.Completed,
		"failed":    stats.Failed,
	})
}
