package rest

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	apperrors "github.com/louisbranch/presence.space/internal/platform/errors"
	"github.com/louisbranch/presence.space/internal/services/presence/flow"
	"github.com/louisbranch/presence.space/internal/services/presence/geofence"
	"github.com/louisbranch/presence.space/internal/services/presence/storage"
)

const (
	maxUploadBytes   = 32 << 20
	maxResponseBytes = 1 << 20
)

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	sessionID, err := h.ensureSession(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeInvalidInput, "request must be multipart form data", err))
		return
	}
	samples, err := h.saveUploads(r, "samples", sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	creation, err := h.flows.BeginRegistration(r.Context(), sessionID, flow.RegisterInput{
		Email:       r.FormValue("email"),
		Password:    r.FormValue("password"),
		SamplePaths: samples,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, creation)
}

func (h *Handler) handleRegisterComplete(w http.ResponseWriter, r *http.Request) {
	sessionID, err := h.requireSession(r)
	if err != nil {
		writeError(w, err)
		return
	}
	response, err := io.ReadAll(io.LimitReader(r.Body, maxResponseBytes))
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeInvalidInput, "unreadable request body", err))
		return
	}

	account, err := h.flows.FinishRegistration(r.Context(), sessionID, response)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user": map[string]string{"id": account.ID, "email": account.Email},
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	sessionID, err := h.ensureSession(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeInvalidInput, "request must be multipart form data", err))
		return
	}
	probePath, err := h.saveOptionalUpload(r, "probe", sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.flows.BeginLogin(r.Context(), sessionID, flow.LoginInput{
		Email:     r.FormValue("email"),
		Password:  r.FormValue("password"),
		Factor:    flow.Factor(r.FormValue("factor")),
		ProbePath: probePath,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if result.Authenticated {
		writeJSON(w, http.StatusOK, map[string]bool{"authenticated": true})
		return
	}
	writeJSON(w, http.StatusOK, result.Assertion)
}

func (h *Handler) handleLoginComplete(w http.ResponseWriter, r *http.Request) {
	sessionID, err := h.requireSession(r)
	if err != nil {
		writeError(w, err)
		return
	}
	response, err := io.ReadAll(io.LimitReader(r.Body, maxResponseBytes))
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeInvalidInput, "unreadable request body", err))
		return
	}

	account, err := h.flows.FinishLogin(r.Context(), sessionID, response)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"user":          map[string]string{"id": account.ID, "email": account.Email},
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sessionID, err := h.requireSession(r); err == nil {
		h.flows.Logout(sessionID)
	}
	clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleMarkAttendance(w http.ResponseWriter, r *http.Request) {
	sessionID, err := h.requireSession(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeInvalidInput, "request must be multipart form data", err))
		return
	}
	location, err := parseLocation(r.FormValue("latitude"), r.FormValue("longitude"))
	if err != nil {
		writeError(w, err)
		return
	}
	probePath, err := h.saveOptionalUpload(r, "probe", sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.flows.BeginAttendance(r.Context(), sessionID, flow.AttendanceInput{
		Location:  location,
		Factor:    flow.Factor(r.FormValue("factor")),
		ProbePath: probePath,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if result.Event != nil {
		writeJSON(w, http.StatusCreated, map[string]any{"event": eventBody(*result.Event)})
		return
	}
	writeJSON(w, http.StatusOK, result.Assertion)
}

func (h *Handler) handleMarkAttendanceComplete(w http.ResponseWriter, r *http.Request) {
	sessionID, err := h.requireSession(r)
	if err != nil {
		writeError(w, err)
		return
	}
	response, err := io.ReadAll(io.LimitReader(r.Body, maxResponseBytes))
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeInvalidInput, "unreadable request body", err))
		return
	}

	event, err := h.flows.FinishAttendance(r.Context(), sessionID, response)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"event": eventBody(event)})
}

func (h *Handler) handleListAttendance(w http.ResponseWriter, r *http.Request) {
	sessionID, err := h.requireSession(r)
	if err != nil {
		writeError(w, err)
		return
	}
	events, err := h.flows.ListAttendance(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	bodies := make([]map[string]any, 0, len(events))
	for _, event := range events {
		bodies = append(bodies, eventBody(event))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": bodies})
}

func eventBody(event storage.AttendanceEvent) map[string]any {
	return map[string]any{
		"id":          event.ID,
		"user_id":     event.UserID,
		"recorded_at": event.RecordedAt.UTC().Format(time.RFC3339),
		"latitude":    event.Latitude,
		"longitude":   event.Longitude,
	}
}

func parseLocation(latitude, longitude string) (geofence.Location, error) {
	lat, err := strconv.ParseFloat(latitude, 64)
	if err != nil {
		return geofence.Location{}, apperrors.New(apperrors.CodeInvalidLocation, "latitude must be a decimal degree value")
	}
	long, err := strconv.ParseFloat(longitude, 64)
	if err != nil {
		return geofence.Location{}, apperrors.New(apperrors.CodeInvalidLocation, "longitude must be a decimal degree value")
	}
	return geofence.Location{Latitude: lat, Longitude: long}, nil
}

// saveUploads stores every file under the field into the upload directory and
// returns the stored paths in submission order.
func (h *Handler) saveUploads(r *http.Request, field, sessionID string) ([]string, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	headers := r.MultipartForm.File[field]
	paths := make([]string, 0, len(headers))
	for _, header := range headers {
		path, err := h.saveUpload(header, sessionID)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// saveOptionalUpload stores at most one file under the field.
func (h *Handler) saveOptionalUpload(r *http.Request, field, sessionID string) (string, error) {
	paths, err := h.saveUploads(r, field, sessionID)
	if err != nil || len(paths) == 0 {
		return "", err
	}
	return paths[0], nil
}

func (h *Handler) saveUpload(header *multipart.FileHeader, sessionID string) (string, error) {
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	source, err := header.Open()
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInvalidInput, "unreadable upload", err)
	}
	defer source.Close()

	name := fmt.Sprintf("%s_%d_%s", sessionID, time.Now().UnixMilli(), filepath.Base(header.Filename))
	path := filepath.Join(h.uploadDir, name)
	target, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	defer target.Close()

	if _, err := io.Copy(target, source); err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}
	return path, nil
}
