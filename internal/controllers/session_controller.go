package controllers

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/neokatalyst/approvalflow/internal/config"
	"github.com/neokatalyst/approvalflow/internal/engine"
	"github.com/neokatalyst/approvalflow/pkg/approvalflow/models"

	"golang.org/x/crypto/bcrypt"
)

// SessionController handles login and logout for the session-cookie flow.
type SessionController struct {
	AuthController
}

func NewSessionController(userRepo engine.UserRepo) *SessionController {
	return &SessionController{AuthController: AuthController{UserRepo: userRepo}}
}

func (c *SessionController) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "username and password are required", http.StatusUnauthorized)
		return
	}
	u, err := c.UserRepo.FindByUsername(req.Username)
	if err != nil {
		slog.Error("FindByUsername failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if u == nil || (u.Enabled.Valid && !u.Enabled.Bool) {
		http.Error(w, "invalid username or password", http.StatusUnauthorized)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		http.Error(w, "invalid username or password", http.StatusUnauthorized)
		return
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		slog.Error("rand.Read failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	sessionID := hex.EncodeToString(buf)
	expiryHours := config.GetSystemSettingInteger(config.WEB_SESSION_EXPIRY_HOURS)
	expires := time.Now().Add(time.Duration(expiryHours) * time.Hour)
	if err := c.UserRepo.UpdateSession(u.ID, sessionID, expires); err != nil {
		slog.Error("UpdateSession failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "sessionId",
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   false,
		SameSite: http.SameSiteLaxMode,
		Expires:  expires,
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(models.LoginResponse{OK: true, Username: u.Username, Admin: u.IsAdmin()})
}

func (c *SessionController) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie("sessionId"); err == nil && cookie.Value != "" {
		if err := c.UserRepo.ClearSessionBySessionID(cookie.Value); err != nil {
			slog.Error("ClearSessionBySessionID failed", "error", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:   "sessionId",
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	w.WriteHeader(http.StatusNoContent)
}
