package api

import (
	"log"
	"net/http"
	"time"

	"github.com/example/ticket-inventory/internal/api/middleware"
	"github.com/example/ticket-inventory/internal/auth"
)

// SessionHandlers issues checkout session tokens
type SessionHandlers struct {
	jwtService *auth.JWTService
}

func NewSessionHandlers(jwtService *auth.JWTService) *SessionHandlers {
	return &SessionHandlers{jwtService: jwtService}
}

// SessionResponse is returned to API clients that do not keep cookies
type SessionResponse struct {
	SessionID string    `json:"session_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateSession starts a checkout session. The token is set as a cookie and
// also returned in the body.
func (h *SessionHandlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	sessionID, token, expiresAt, err := h.jwtService.IssueSession()
	if err != nil {
		log.Printf("[API] Failed to issue session: %v", err)
		respondErrorMessage(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})

	respondJSON(w, http.StatusCreated, SessionResponse{
		SessionID: sessionID,
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// EndSession clears the session cookie. Holds are released separately via DELETE /holds.
func (h *SessionHandlers) EndSession(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}
