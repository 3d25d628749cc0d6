package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/nevindra/lagoon"
)

// resolver is the slice of the manager the HTTP surface needs.
type resolver interface {
	Resolve(ctx context.Context, userID string) (lagoon.Handle, error)
}

// resolveRequest is the parsed body of POST /resolve.
type resolveRequest struct {
	UserID string `json:"user_id"`
}

// resolveResponse is the JSON body returned by POST /resolve.
type resolveResponse struct {
	SandboxID  string            `json:"sandbox_id"`
	State      string            `json:"state"`
	Previews   map[string]string `json:"preview_urls"`
	Credential string            `json:"access_credential"`
}

const maxRequestBodyBytes = 1 << 20 // 1MB

func handleResolve(res resolver, w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req resolveRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	handle, err := res.Resolve(r.Context(), req.UserID)
	if err != nil {
		writeResolveError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resolveResponse{
		SandboxID:  handle.SandboxID,
		State:      string(handle.State),
		Previews:   handle.Previews,
		Credential: handle.Credential,
	})
}

// writeResolveError maps the lifecycle error taxonomy onto status codes so
// callers can tell an expensive provisioning retry from a cheap bootstrap
// retry.
func writeResolveError(w http.ResponseWriter, err error) {
	var pe *lagoon.ProvisionError
	var be *lagoon.BootstrapError
	var de *lagoon.DirectoryError
	switch {
	case errors.As(err, &pe):
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": err.Error(), "kind": "provision",
		})
	case errors.As(err, &be):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": err.Error(), "kind": "bootstrap",
		})
	case errors.As(err, &de):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": err.Error(), "kind": "directory",
		})
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
