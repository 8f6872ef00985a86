package core

import (
	"fmt"
	"net/http"
	"strings"

	"pastebin/internal/pasteid"
)

// pasteURL builds the absolute link handed back to uploaders.
func (s *Server) pasteURL(id pasteid.ID) string {
	return strings.TrimSuffix(s.Config.BaseURL, "/") + "/" + id.String()
}

// writeCreated answers a successful upload with the link to the new paste.
func (s *Server) writeCreated(w http.ResponseWriter, id pasteid.ID) {
	link := s.pasteURL(id)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Location", link)
	w.WriteHeader(http.StatusCreated)
	_, _ = fmt.Fprintln(w, link)
}

// writeNotFound writes an empty 404.
func writeNotFound(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNotFound)
}

func writeInternalError(w http.ResponseWriter) {
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeTooLarge(w http.ResponseWriter, limit int64) {
	http.Error(w, fmt.Sprintf("upload exceeds the limit of %d bytes", limit), http.StatusRequestEntityTooLarge)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	http.Error(w, message, http.StatusBadRequest)
}
