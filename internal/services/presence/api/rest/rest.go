// Package rest exposes the presence flows over HTTP/JSON.
package rest

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	apperrors "github.com/louisbranch/presence.space/internal/platform/errors"
	"github.com/louisbranch/presence.space/internal/services/presence/flow"
	"github.com/louisbranch/presence.space/internal/services/presence/session"
)

// Handler serves the presence REST endpoints.
type Handler struct {
	flows     *flow.Service
	sessions  *session.Store
	codec     *session.TokenCodec
	uploadDir string
}

// NewHandler builds the REST handler.
func NewHandler(flows *flow.Service, sessions *session.Store, codec *session.TokenCodec, uploadDir string) (*Handler, error) {
	if flows == nil || sessions == nil || codec == nil {
		return nil, fmt.Errorf("rest: flows, sessions, and token codec are required")
	}
	if uploadDir == "" {
		uploadDir = "uploads"
	}
	return &Handler{flows: flows, sessions: sessions, codec: codec, uploadDir: uploadDir}, nil
}

// Routes registers the REST endpoints on a fresh mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /up", h.handleUp)
	mux.HandleFunc("POST /api/auth/register", h.handleRegister)
	mux.HandleFunc("POST /api/auth/register/complete", h.handleRegisterComplete)
	mux.HandleFunc("POST /api/auth/login", h.handleLogin)
	mux.HandleFunc("POST /api/auth/login/complete", h.handleLoginComplete)
	mux.HandleFunc("POST /api/auth/logout", h.handleLogout)
	mux.HandleFunc("POST /api/att/mark", h.handleMarkAttendance)
	mux.HandleFunc("POST /api/att/mark/complete", h.handleMarkAttendanceComplete)
	mux.HandleFunc("GET /api/att/events", h.handleListAttendance)
	return mux
}

func (h *Handler) handleUp(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON renders a JSON response body.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("encode response: %v", err)
	}
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error struct {
		Code     string            `json:"code"`
		Message  string            `json:"message"`
		Metadata map[string]string `json:"metadata,omitempty"`
	} `json:"error"`
}

// writeError maps a domain error to its HTTP status and envelope. Errors
// outside the taxonomy render as a bare 500 so internals do not leak.
func writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	var body errorBody
	body.Error.Code = string(apperrors.GetCode(err))
	body.Error.Metadata = apperrors.GetMetadata(err)
	if status == http.StatusInternalServerError {
		log.Printf("internal error: %v", err)
		body.Error.Message = "internal error"
	} else {
		body.Error.Message = err.Error()
	}
	writeJSON(w, status, body)
}
