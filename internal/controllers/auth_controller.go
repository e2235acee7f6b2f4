package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/neokatalyst/approvalflow/internal/engine"
	"github.com/neokatalyst/approvalflow/pkg/approvalflow/core"
)

type AuthController struct {
	UserRepo engine.UserRepo
}

func NewBaseController(userRepo engine.UserRepo) *AuthController {
	return &AuthController{UserRepo: userRepo}
}

// RequireAuth authenticates the caller via session cookie or X-API-Key
// header and stashes the username and admin flag in the request context.
func (wc *AuthController) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			next(w, r)
			return
		}
		// 1) Try session cookie
		if c, err := r.Cookie("sessionId"); err == nil && c.Value != "" {
			u, err := wc.UserRepo.FindBySessionID(c.Value, time.Now().UTC())
			if err == nil && u != nil {
				next(w, withUser(r, u.Username, u.IsAdmin()))
				return
			}
		}
		// 2) Try API key from headers
		// Supported headers: X-API-Key: <key>
		apiKey := r.Header.Get("X-API-Key")
		if apiKey != "" {
			u, err := wc.UserRepo.FindByApiKey(apiKey)
			if err == nil && u != nil {
				next(w, withUser(r, u.Username, u.IsAdmin()))
				return
			}
		}
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}
}

func withUser(r *http.Request, username string, admin bool) *http.Request {
	ctx := context.WithValue(r.Context(), core.CtxKeyUsername, username)
	ctx = context.WithValue(ctx, core.CtxKeyAdmin, admin)
	return r.WithContext(ctx)
}

// actorFromContext returns the authenticated username, empty if absent.
func actorFromContext(ctx context.Context) string {
	if v := ctx.Value(core.CtxKeyUsername); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
