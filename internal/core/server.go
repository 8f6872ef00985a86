package core

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"

	"pastebin/internal/container"
	"pastebin/internal/metrics"
	"pastebin/internal/pasteid"
	"pastebin/internal/storage"
	"pastebin/internal/ui"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// sniffLen is how much of a paste is inspected to guess its type.
	sniffLen = 512

	// formOverhead is the slack allowed on top of MaxUploadSize for the
	// multipart framing of browser uploads.
	formOverhead = 1 << 20

	fallbackContentType = "text/plain; charset=utf-8"
)

// Server is the paste HTTP service.
type Server struct {
	Config   Config
	Registry *prometheus.Registry

	requests *metrics.RequestMetrics
	limiter  *UploadLimiter
}

// NewServer validates cfg, prepares storage and registers the metrics. Any
// error here means the service cannot run with this configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.DataDir == "" {
		return nil, errors.New("DataDir must not be empty")
	}

	if cfg.IDLength <= 0 {
		return nil, fmt.Errorf("IDLength must be positive, got %d", cfg.IDLength)
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil || !base.IsAbs() || base.Host == "" {
		return nil, fmt.Errorf("BaseURL %q is not an absolute URL", cfg.BaseURL)
	}

	if cfg.Engine == nil {
		engine, err := storage.NewLocalFileStorage(cfg.DataDir, cfg.StagingDir, cfg.MaxUploadSize)
		if err != nil {
			return nil, err
		}
		cfg.Engine = engine
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(cfg.DataDir)
	if err := metrics.RegisterGauges(registry, collector.Gauges()); err != nil {
		return nil, err
	}

	requests, err := metrics.NewRequestMetrics(registry)
	if err != nil {
		return nil, err
	}

	return &Server{
		Config:   cfg,
		Registry: registry,
		requests: requests,
		limiter:  NewUploadLimiter(cfg.MaxConcurrentUploads),
	}, nil
}

// handleIndex implements GET /, the usage page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := ui.IndexPage(s.Config.BaseURL).Render(r.Context(), w); err != nil {
		slog.Error("Render index page", "err", err)
	}
}

// handleUploadPage implements GET /upload, the browser upload form.
func (s *Server) handleUploadPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := ui.UploadPage().Render(r.Context(), w); err != nil {
		slog.Error("Render upload page", "err", err)
	}
}

// tooLarge reports whether the declared request size already exceeds the
// upload limit, so the body does not need to be read at all.
func (s *Server) tooLarge(r *http.Request) bool {
	return s.Config.MaxUploadSize > 0 && r.ContentLength > s.Config.MaxUploadSize
}

// handleUpload implements POST /, storing the raw request body.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	if s.tooLarge(r) {
		writeTooLarge(w, s.Config.MaxUploadSize)
		return
	}

	id := pasteid.Generate(s.Config.IDLength)
	n, err := s.Config.Engine.CreateOrReplace(r.Context(), id, r.Body)
	if err != nil {
		s.writeUploadError(w, r, id, err)
		return
	}

	slog.Debug("Stored paste", "id", id, "size", n)
	s.writeCreated(w, id)
}

// handleUploadEncrypted implements POST /encrypted. The body is sealed into
// a container before it reaches storage.
func (s *Server) handleUploadEncrypted(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	if len(s.Config.Secret) == 0 {
		http.Error(w, "encrypted uploads are not configured", http.StatusNotImplemented)
		return
	}

	if s.tooLarge(r) {
		writeTooLarge(w, s.Config.MaxUploadSize)
		return
	}

	body := io.Reader(r.Body)
	if s.Config.MaxUploadSize > 0 {
		body = http.MaxBytesReader(w, r.Body, s.Config.MaxUploadSize)
	}

	raw, err := io.ReadAll(body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeTooLarge(w, s.Config.MaxUploadSize)
			return
		}
		slog.Warn("Read encrypted upload body", "err", err)
		writeBadRequest(w, "failed to read request body")
		return
	}

	sealed, err := container.Seal(raw, s.Config.Secret)
	if err != nil {
		slog.Error("Seal container", "err", err)
		writeInternalError(w)
		return
	}

	id := pasteid.Generate(s.Config.IDLength)
	if err := s.Config.Engine.Put(r.Context(), id, sealed); err != nil {
		s.writeUploadError(w, r, id, err)
		return
	}

	slog.Debug("Stored encrypted paste", "id", id, "size", len(raw), "stored_size", len(sealed))
	s.writeCreated(w, id)
}

// handleUploadForm implements POST /upload for the browser form. The "file"
// part is streamed straight into storage.
func (s *Server) handleUploadForm(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	if s.Config.MaxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.Config.MaxUploadSize+formOverhead)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		writeBadRequest(w, "expected a multipart/form-data body")
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeTooLarge(w, s.Config.MaxUploadSize)
				return
			}
			writeBadRequest(w, "malformed multipart body")
			return
		}

		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}

		id := pasteid.Generate(s.Config.IDLength)
		_, err = s.Config.Engine.CreateOrReplace(r.Context(), id, part)
		_ = part.Close()
		if err != nil {
			s.writeUploadError(w, r, id, err)
			return
		}

		s.writeCreated(w, id)
		return
	}

	writeBadRequest(w, `missing form field "file"`)
}

// writeUploadError maps a storage failure onto a response.
func (s *Server) writeUploadError(w http.ResponseWriter, r *http.Request, id pasteid.ID, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, storage.ErrSizeLimitExceeded), errors.As(err, &maxErr):
		writeTooLarge(w, s.Config.MaxUploadSize)
	case r.Context().Err() != nil:
		// The client went away; nobody is left to read a response.
		slog.Info("Upload abandoned", "id", id, "err", err)
	default:
		slog.Error("Store paste", "id", id, "err", err)
		writeInternalError(w)
	}
}

// handleRetrieve implements GET /{id}. Stored bytes are returned unchanged;
// encrypted containers are not opened here.
func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	id, err := pasteid.Parse(r.PathValue("id"), s.Config.IDLength)
	if err != nil {
		writeNotFound(w)
		return
	}

	f, size, err := s.Config.Engine.Open(id)
	if errors.Is(err, storage.ErrNotFound) {
		writeNotFound(w)
		return
	}
	if err != nil {
		slog.Error("Open paste", "id", id, "err", err)
		writeInternalError(w)
		return
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		slog.Error("Read paste", "id", id, "err", err)
		writeInternalError(w)
		return
	}
	head = head[:n]

	w.Header().Set("Content-Type", ResolveContentType(r.URL.Query().Get("mime_type"), head))
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, io.MultiReader(bytes.NewReader(head), f)); err != nil {
		slog.Warn("Stream paste", "id", id, "err", err)
	}
}

// handleDelete implements DELETE /{id}.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pasteid.Parse(r.PathValue("id"), s.Config.IDLength)
	if err != nil {
		writeNotFound(w)
		return
	}

	err = s.Config.Engine.Delete(id)
	if errors.Is(err, storage.ErrNotFound) {
		writeNotFound(w)
		return
	}
	if err != nil {
		slog.Error("Delete paste", "id", id, "err", err)
		writeInternalError(w)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// ResolveContentType picks the Content-Type for a paste: a valid override
// wins, then whatever the content sniffs as, then plain text. An override
// that does not parse as a media type also yields plain text.
func ResolveContentType(override string, head []byte) string {
	if override != "" {
		if _, _, err := mime.ParseMediaType(override); err == nil {
			return override
		}
		return fallbackContentType
	}

	sniffed := http.DetectContentType(head)
	if sniffed == "application/octet-stream" {
		return fallbackContentType
	}
	return sniffed
}
