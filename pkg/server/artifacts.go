package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/Mindburn-Labs/soulbound/pkg/api"
)

func (s *Server) handlePutArtifact(w http.ResponseWriter, r *http.Request) {
	if _, ok := caller(w, r); !ok {
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxArtifactBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.WriteError(w, http.StatusRequestEntityTooLarge, "Payload Too Large", "artifact exceeds the upload limit")
			return
		}
		api.WriteBadRequest(w, "could not read artifact body")
		return
	}
	if len(data) == 0 {
		api.WriteBadRequest(w, "artifact body is empty")
		return
	}
	locator, err := s.blobs.Put(r.Context(), data)
	if err != nil {
		api.WriteRegistryError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, map[string]string{"locator": locator})
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	locator := r.PathValue("locator")
	data, err := s.blobs.Get(r.Context(), locator)
	if err != nil {
		api.WriteRegistryError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("ETag", `"`+locator+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
