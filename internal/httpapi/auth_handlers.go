package httpapi

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"labdesk.org/internal/access"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token       string          `json:"token"`
	ExpiresAt   time.Time       `json:"expires_at"`
	UserID      string          `json:"user_id"`
	Username    string          `json:"username"`
	Role        access.Role     `json:"role"`
	Permissions []access.Action `json:"permissions"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := a.decodeJSON(w, r, &req); err != nil {
		a.handleError(w, r, err)
		return
	}
	sess, err := a.engine.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	token, err := a.tokens.Issue(sess)
	if err != nil {
		// The session flag is set; release it so the account is not stuck.
		if lerr := a.engine.Logout(r.Context(), sess); lerr != nil {
			a.log.Error("release session after token failure", zap.String("user_id", sess.UserID), zap.Error(lerr))
		}
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:       token,
		ExpiresAt:   sess.ExpiresAt,
		UserID:      sess.UserID,
		Username:    sess.Username,
		Role:        sess.Role,
		Permissions: a.engine.Permissions(sess),
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.Logout(r.Context(), sessionOf(r)); err != nil {
		a.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	sess := sessionOf(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     sess.UserID,
		"username":    sess.Username,
		"role":        sess.Role,
		"expires_at":  sess.ExpiresAt,
		"permissions": a.engine.Permissions(sess),
	})
}
