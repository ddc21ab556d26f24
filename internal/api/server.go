// Package api exposes the HTTP boundary: the upload endpoint, artifact
// metadata lookups, and serving of stored files. All validation lives in the
// upload pipeline; handlers only translate between HTTP and pipeline types.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkoval/imagevault/internal/config"
	"github.com/dkoval/imagevault/internal/queue"
	"github.com/dkoval/imagevault/internal/storage"
	"github.com/dkoval/imagevault/internal/upload"
)

// Server exposes HTTP endpoints for uploads and stored artifact access.
type Server struct {
	cfg      *config.Config
	pipeline *upload.Pipeline
	index    *storage.MemoryIndex
	resolver *upload.Resolver
	queue    *asynq.Client // nil when the background queue is disabled
	log      zerolog.Logger
	server   *http.Server
	once     sync.Once
}

// New constructs a Server. queueClient may be nil.
func New(cfg *config.Config, pipeline *upload.Pipeline, index *storage.MemoryIndex, resolver *upload.Resolver, queueClient *asynq.Client, log zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		pipeline: pipeline,
		index:    index,
		resolver: resolver,
		queue:    queueClient,
		log:      log,
	}
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:    s.cfg.Address,
			Handler: s.Handler(),
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.log.Info().Str("address", s.cfg.Address).Msg("api listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler assembles the route table and middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/upload", s.handleUpload)
	mux.HandleFunc("/files/", s.handleFileRoute)
	mux.HandleFunc(strings.TrimSuffix(s.cfg.PublicBase, "/")+"/", s.handleServeFile)
	return corsMiddleware(s.requestMiddleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	// Transport-level ceiling; the pipeline re-checks independently. The
	// slack covers multipart framing overhead.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024)
	mr, err := r.MultipartReader()
	if err != nil {
		respondError(w, http.StatusBadRequest, "expecting multipart form")
		return
	}
	part, err := nextFilePart(mr)
	if err != nil {
		respondError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer part.Close()

	artifact, err := s.pipeline.Process(ctx, upload.Request{
		Filename:    part.FileName(),
		ContentType: part.Header.Get("Content-Type"),
		Size:        -1, // multipart parts carry no declared length
		Body:        part,
	})
	if err != nil {
		s.respondPipelineError(w, r, err)
		return
	}

	s.index.Save(*artifact)
	if s.queue != nil {
		payload := queue.ArchivePayload{
			ArtifactID:  artifact.ID,
			StoredName:  artifact.StoredName,
			ContentType: artifact.ContentType,
		}
		if err := queue.EnqueueArchive(ctx, s.queue, payload); err != nil {
			// The local copy is durable; archival is best-effort.
			s.log.Warn().Err(err).Str("artifact", artifact.ID).Msg("enqueue archive failed")
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"file":    artifact,
	})
}

func (s *Server) respondPipelineError(w http.ResponseWriter, r *http.Request, err error) {
	var ue *upload.Error
	if errors.As(err, &ue) && ue.ClientError() {
		if ue.Kind == upload.KindInvalidPath {
			// Unreachable with a correct resolver; log louder than a routine
			// rejection.
			s.log.Error().Err(err).Str("path", r.URL.Path).Msg("containment invariant violated")
		}
		respondError(w, http.StatusBadRequest, ue.Message)
		return
	}
	s.log.Error().Err(err).Msg("upload storage failure")
	respondError(w, http.StatusInternalServerError, "failed to store file")
}

func (s *Server) handleFileRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/files/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	artifact, err := s.index.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "file not found")
		return
	}
	respondJSON(w, http.StatusOK, artifact)
}

// handleServeFile serves stored bytes. Names resolve only through the index,
// so request paths never reach the filesystem directly.
func (s *Server) handleServeFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, strings.TrimSuffix(s.cfg.PublicBase, "/")+"/")
	artifact, err := s.index.GetByName(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	path, err := s.resolver.Locate(artifact.StoredName)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "file unavailable")
		return
	}
	f, err := os.Open(path)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "file unavailable")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "file unavailable")
		return
	}
	w.Header().Set("Content-Type", artifact.ContentType)
	http.ServeContent(w, r, artifact.StoredName, info.ModTime(), f)
}

func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn().Err(err).Msg("encode response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// requestMiddleware tags each request with an ID and logs its outcome.
func (s *Server) requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
