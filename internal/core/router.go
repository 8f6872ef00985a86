package core

import (
	"net/http"

	"pastebin/internal/metrics"
)

// Handler returns the http.Handler serving the paste API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)

	// Uploads
	mux.HandleFunc("POST /{$}", s.limiter.Limit(s.handleUpload))
	mux.HandleFunc("POST /encrypted", s.limiter.Limit(s.handleUploadEncrypted))
	mux.HandleFunc("GET /upload", s.handleUploadPage)
	mux.HandleFunc("POST /upload", s.limiter.Limit(s.handleUploadForm))

	mux.Handle("GET /metrics", metrics.Handler(s.Registry))

	// Paste-level operations
	mux.HandleFunc("GET /{id}", s.handleRetrieve)
	mux.HandleFunc("DELETE /{id}", s.handleDelete)

	handler := SlashFix(mux)
	handler = s.LogRequest(handler)
	handler = Recoverer(handler)
	return handler
}
