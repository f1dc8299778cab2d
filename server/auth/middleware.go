package auth

import (
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// DefaultRealm is used when Middleware gets an empty realm.
const DefaultRealm = "CalDAV Server"

// Middleware creates HTTP middleware that requires Basic credentials and stores the
// authenticated principal in the request context. Discovery paths under
// /.well-known/ pass through unauthenticated.
func Middleware(authenticator Authenticator, realm string, logger *slog.Logger) func(http.Handler) http.Handler {
	if realm == "" {
		realm = DefaultRealm
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/.well-known/") {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Debug("authentication required - no auth header",
					"path", r.URL.Path)
				requestAuth(w, realm)
				return
			}

			creds, err := ParseBasicAuth(authHeader)
			if err != nil {
				logger.Warn("malformed authorization header",
					"error", err)
				http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
				return
			}

			principal, err := authenticator.Authenticate(r.Context(), creds)
			if err != nil {
				logger.Info("authentication failed",
					"user", creds.Username,
					"error", err)
				requestAuth(w, realm)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// requestAuth sends a 401 asking for Basic credentials.
func requestAuth(w http.ResponseWriter, realm string) {
	w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

// ParseBasicAuth parses an HTTP Basic Authorization header value.
func ParseBasicAuth(header string) (Credentials, error) {
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return Credentials{}, &Error{
			Type:    ErrInvalidCredentials,
			Message: "invalid authorization header format",
		}
	}

	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return Credentials{}, &Error{
			Type:    ErrInvalidCredentials,
			Message: "invalid base64 encoding",
			Err:     err,
		}
	}

	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return Credentials{}, &Error{
			Type:    ErrInvalidCredentials,
			Message: "invalid credentials format",
		}
	}

	return Credentials{Username: username, Password: password}, nil
}
