package middleware

import (
	"context"
	"net/http"
	"strings"

	"kit-notes-server/pkg/jwt"
	"kit-notes-server/pkg/response"
)

type contextKey string

const (
	UserIDKey      contextKey = "userID"
	requestInfoKey contextKey = "requestInfo"
)

// requestInfo lets inner middleware report the user back to the logger,
// which only sees the outer request.
type requestInfo struct {
	userID string
}

// AnonymousUser owns every connection when authentication is disabled.
const AnonymousUser = "anonymous"

func AuthMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := TokenFromRequest(r)
			if !ok {
				response.Unauthorized(w, "Missing authorization token")
				return
			}

			claims, err := jwt.ValidateToken(token, jwtSecret)
			if err != nil {
				response.Unauthorized(w, "Invalid or expired token")
				return
			}

			if info, ok := r.Context().Value(requestInfoKey).(*requestInfo); ok {
				info.userID = claims.UserID
			}
			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TokenFromRequest reads a bearer token from the Authorization header or,
// for websocket upgrades where browsers cannot set headers, the token
// query parameter.
func TokenFromRequest(r *http.Request) (string, bool) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, true
	}
	return "", false
}

func GetUserID(r *http.Request) string {
	userID, ok := r.Context().Value(UserIDKey).(string)
	if !ok {
		return ""
	}
	return userID
}
