package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"labdesk.org/internal/apperrors"
	"labdesk.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withAuth turns a bearer token into a live session. A token whose session
// was ended or replaced is rejected even before it expires.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="labdesk"`)
			writeError(w, r, http.StatusUnauthorized, "unauthenticated", err.Error())
			return
		}
		claims, err := a.tokens.Parse(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="labdesk", error="invalid_token"`)
			a.handleError(w, r, err)
			return
		}
		sess, err := a.engine.Resolve(r.Context(), claims.Subject, claims.SessionID)
		if err != nil {
			if errors.Is(err, apperrors.ErrInvalidCredentials) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="labdesk", error="invalid_token"`)
				err = auth.ErrInvalidToken
			}
			a.handleError(w, r, err)
			return
		}
		ctx := auth.ContextWithSession(r.Context(), sess)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
