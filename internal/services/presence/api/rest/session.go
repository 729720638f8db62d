package rest

import (
	"net/http"

	"github.com/louisbranch/presence.space/internal/services/presence/session"
)

// ensureSession resolves the caller's session from the signed cookie, minting
// a fresh session and cookie when none is valid.
func (h *Handler) ensureSession(w http.ResponseWriter, r *http.Request) (string, error) {
	if cookie, err := r.Cookie(session.CookieName); err == nil {
		if sessionID, err := h.codec.Decode(cookie.Value); err == nil {
			if _, err := h.sessions.Get(sessionID); err == nil {
				return sessionID, nil
			}
		}
	}

	created, err := h.sessions.Create()
	if err != nil {
		return "", err
	}
	token, err := h.codec.Encode(created.ID, created.ExpiresAt)
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  created.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return created.ID, nil
}

// requireSession resolves an existing session without minting a new one.
func (h *Handler) requireSession(r *http.Request) (string, error) {
	cookie, err := r.Cookie(session.CookieName)
	if err != nil {
		return "", session.ErrNotFound
	}
	sessionID, err := h.codec.Decode(cookie.Value)
	if err != nil {
		return "", err
	}
	if _, err := h.sessions.Get(sessionID); err != nil {
		return "", err
	}
	return sessionID, nil
}

// clearSessionCookie expires the browser cookie.
func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
