// internal/api/server.go

// Package api exposes the batch engine over a small JSON HTTP surface.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/valpere/SiteMigrator/internal/batch"
	"github.com/valpere/SiteMigrator/internal/monitoring"
	"github.com/valpere/SiteMigrator/internal/rowsource"
	"github.com/valpere/SiteMigrator/internal/utils"
)

// Server handles the JSON API: batch submission, status, retry, cancel.
type Server struct {
	engine    *batch.Engine
	metrics   *monitoring.Metrics
	logger    utils.Logger
	router    *mux.Router
	uploadDir string
}

// NewServer creates the API server and its routes. uploadDir receives
// uploaded migration files; empty means the system temp directory.
func NewServer(engine *batch.Engine, metrics *monitoring.Metrics, logger utils.Logger, uploadDir string) *Server {
	if logger == nil {
		logger = utils.NewLogger()
	}
	if uploadDir == "" {
		uploadDir = os.TempDir()
	}

	s := &Server{
		engine:    engine,
		metrics:   metrics,
		logger:    logger,
		router:    mux.NewRouter(),
		uploadDir: uploadDir,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.instrument)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/batches", s.handleCreateBatch).Methods(http.MethodPost)
	api.HandleFunc("/batches/{id:[0-9]+}", s.handleBatchStatus).Methods(http.MethodGet)
	api.HandleFunc("/batches/{id:[0-9]+}/retry", s.handleRetryBatch).Methods(http.MethodPost)
	api.HandleFunc("/batches/{id:[0-9]+}/cancel", s.handleCancelBatch).Methods(http.MethodPost)
	api.HandleFunc("/batches/{id:[0-9]+}/items/{itemID:[0-9]+}/retry", s.handleRetryItem).Methods(http.MethodPost)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// createBatchRequest is the JSON form of batch submission, used when the
// migration file is already on the server's filesystem.
type createBatchRequest struct {
	FilePath       string `json:"file_path"`
	AllowOverwrite bool   `json:"allow_overwrite"`
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var filePath string
	var allowOverwrite bool

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		uploaded, overwrite, err := s.acceptUpload(r)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filePath = uploaded
		allowOverwrite = overwrite
	} else {
		var req createBatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.FilePath == "" {
			s.writeError(w, http.StatusBadRequest, "file_path is required")
			return
		}
		filePath = req.FilePath
		allowOverwrite = req.AllowOverwrite
	}

	reader, err := rowsource.Open(filePath)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := reader.ReadAll()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows := make([]map[string]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, rec.Fields)
	}

	b, err := s.engine.CreateBatch(r.Context(), filepath.Base(filePath), filePath, rows, allowOverwrite)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.BatchesCreated.Inc()
	}
	s.writeJSON(w, http.StatusCreated, b)
}

// acceptUpload stores the multipart "file" part in the upload directory and
// returns its path.
func (s *Server) acceptUpload(r *http.Request) (string, bool, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return "", false, fmt.Errorf("invalid multipart request: %v", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", false, errors.New("multipart request is missing the file part")
	}
	defer file.Close()

	dst := filepath.Join(s.uploadDir, fmt.Sprintf("%d-%s", time.Now().UnixNano(), filepath.Base(header.Filename)))
	out, err := os.Create(dst)
	if err != nil {
		return "", false, fmt.Errorf("failed to store upload: %v", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, file); err != nil {
		os.Remove(dst)
		return "", false, fmt.Errorf("failed to store upload: %v", err)
	}

	overwrite := r.FormValue("allow_overwrite") == "true"
	return dst, overwrite, nil
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	status, err := s.engine.GetStatus(r.Context(), id, limit, offset)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleRetryBatch(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	n, err := s.engine.RetryBatch(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.ItemsRetried.Add(float64(n))
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"batch_id": id, "items_reset": n})
}

func (s *Server) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	if err := s.engine.CancelBatch(r.Context(), id); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"batch_id": id, "status": batch.BatchCancelled})
}

func (s *Server) handleRetryItem(w http.ResponseWriter, r *http.Request) {
	itemID := pathID(r, "itemID")
	if err := s.engine.RetryItem(r.Context(), itemID); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.ItemsRetried.Inc()
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"item_id": itemID, "status": batch.ItemPending})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// instrument records request metrics using the matched route template, so
// /api/v1/batches/42 and /api/v1/batches/7 count as one path.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if template, err := route.GetPathTemplate(); err == nil {
				path = template
			}
		}
		s.metrics.RecordRequest(r.Method, path, recorder.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func pathID(r *http.Request, key string) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)[key], 10, 64)
	return id
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Errorf("failed to encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
