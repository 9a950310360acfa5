package internal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/etesami/traffic-counting-system/pkg/pipeline"
	"github.com/etesami/traffic-counting-system/pkg/store"
	"github.com/etesami/traffic-counting-system/pkg/utils"
)

const (
	uploadField     = "video"
	maxUploadMemory = 32 << 20
)

var errNoUpload = errors.New("no video uploaded")

// VideoProcessor counts the vehicles of one video and writes the annotated copy.
type VideoProcessor interface {
	ProcessVideo(ctx context.Context, inputPath, outputPath string) (*pipeline.Result, error)
}

// RunStore keeps the history of processed videos.
type RunStore interface {
	RecordRun(ctx context.Context, r *store.Run) error
	GetRun(ctx context.Context, id string) (*store.Run, error)
	RecentRuns(ctx context.Context, limit int) ([]*store.Run, error)
}

type Config struct {
	UploadDir string
	OutputDir string
	// HistorySize is the number of recent runs listed on the index page.
	HistorySize int
}

type Server struct {
	cfg       Config
	processor VideoProcessor
	runs      RunStore
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	page      *template.Template
}

// NewServer creates the upload and output directories and parses the page template.
// runs and gatherer may be nil, which disables history and /metrics.
func NewServer(cfg Config, processor VideoProcessor, runs RunStore, gatherer prometheus.Gatherer, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 10
	}
	for _, dir := range []string{cfg.UploadDir, cfg.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	page, err := parsePage()
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:       cfg,
		processor: processor,
		runs:      runs,
		gatherer:  gatherer,
		logger:    logger,
		page:      page,
	}, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /{$}", s.handleUpload)
	mux.HandleFunc("GET /outputs/{filename}", s.handleOutput)
	mux.HandleFunc("GET /runs/{id}/chart", s.handleChart)
	mux.HandleFunc("POST /api/process", s.handleAPIProcess)
	mux.HandleFunc("GET /api/runs", s.handleAPIRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleAPIRun)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, r, nil)
}

// handleUpload processes the uploaded video and renders its results. A missing or
// empty upload renders the bare page.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	run, err := s.processUpload(r)
	if errors.Is(err, errNoUpload) {
		s.renderPage(w, r, nil)
		return
	}
	if err != nil {
		s.logger.Error("error processing upload", "err", err)
		http.Error(w, fmt.Sprintf("error processing video: %v", err), http.StatusInternalServerError)
		return
	}
	s.renderPage(w, r, run)
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	name := utils.SafeFilename(r.PathValue("filename"))
	if name == "" || name != r.PathValue("filename") {
		http.NotFound(w, r)
		return
	}
	path := filepath.Join(s.cfg.OutputDir, name)
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleAPIProcess(w http.ResponseWriter, r *http.Request) {
	run, err := s.processUpload(r)
	if errors.Is(err, errNoUpload) {
		WriteJSONError(w, http.StatusBadRequest, fmt.Sprintf("missing %q file", uploadField))
		return
	}
	if err != nil {
		s.logger.Error("error processing upload", "err", err)
		WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, run)
}

func (s *Server) handleAPIRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		WriteJSON(w, http.StatusOK, []*store.Run{})
		return
	}
	limit := store.DefaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			WriteJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	runs, err := s.runs.RecentRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("error listing runs", "err", err)
		WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, runs)
}

func (s *Server) handleAPIRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.lookupRun(r)
	if err != nil {
		s.writeLookupError(w, err, WriteJSONError)
		return
	}
	WriteJSON(w, http.StatusOK, run)
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	run, err := s.lookupRun(r)
	if err != nil {
		s.writeLookupError(w, err, func(w http.ResponseWriter, status int, msg string) {
			http.Error(w, msg, status)
		})
		return
	}
	var buf bytes.Buffer
	if err := renderChart(&buf, run); err != nil {
		s.logger.Error("error rendering chart", "run", run.ID, "err", err)
		http.Error(w, fmt.Sprintf("render error: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) lookupRun(r *http.Request) (*store.Run, error) {
	if s.runs == nil {
		return nil, store.ErrNotFound
	}
	return s.runs.GetRun(r.Context(), r.PathValue("id"))
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error, write func(http.ResponseWriter, int, string)) {
	if errors.Is(err, store.ErrNotFound) {
		write(w, http.StatusNotFound, "run not found")
		return
	}
	s.logger.Error("error reading run", "err", err)
	write(w, http.StatusInternalServerError, err.Error())
}

// processUpload saves the multipart "video" file, processes it and records the run.
// It returns errNoUpload when the request carries no usable file.
func (s *Server) processUpload(r *http.Request) (*store.Run, error) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return nil, fmt.Errorf("%w: %v", errNoUpload, err)
	}
	file, header, err := r.FormFile(uploadField)
	if err != nil {
		return nil, errNoUpload
	}
	defer file.Close()

	name := utils.SafeFilename(header.Filename)
	if name == "" || header.Size == 0 {
		return nil, errNoUpload
	}

	inputPath := filepath.Join(s.cfg.UploadDir, name)
	if err := saveUpload(file, inputPath); err != nil {
		return nil, err
	}

	outputName := utils.OutputFilename(name)
	res, err := s.processor.ProcessVideo(r.Context(), inputPath, filepath.Join(s.cfg.OutputDir, outputName))
	if err != nil {
		return nil, err
	}

	run := store.NewRun(name, outputName, res)
	if s.runs != nil {
		if err := s.runs.RecordRun(r.Context(), run); err != nil {
			s.logger.Warn("error recording run", "source", name, "err", err)
		}
	}
	s.logger.Info("video processed", "source", name, "output", outputName, "total", run.Total, "level", run.Level)
	return run, nil
}

func saveUpload(src io.Reader, path string) error {
	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to save upload: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to save upload: %w", err)
	}
	return dst.Close()
}
