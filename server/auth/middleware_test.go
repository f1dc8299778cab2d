package auth

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type staticAuthenticator struct {
	user, password string
}

func (a staticAuthenticator) Authenticate(_ context.Context, creds Credentials) (*Principal, error) {
	if creds.Username != a.user || creds.Password != a.password {
		return nil, &Error{Type: ErrInvalidCredentials, Message: "bad credentials"}
	}
	return &Principal{ID: creds.Username}, nil
}

func (a staticAuthenticator) ValidateAccess(_ context.Context, p *Principal, ownerID string) error {
	return nil
}

func basic(s string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(s))
}

func TestMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		header     string
		wantStatus int
		wantUser   string
	}{
		{name: "no auth header", path: "/alice/", wantStatus: http.StatusUnauthorized},
		{name: "not basic", path: "/alice/", header: "Bearer abc", wantStatus: http.StatusBadRequest},
		{name: "invalid base64", path: "/alice/", header: "Basic !@#$%^", wantStatus: http.StatusBadRequest},
		{name: "no colon", path: "/alice/", header: basic("alice"), wantStatus: http.StatusBadRequest},
		{name: "wrong password", path: "/alice/", header: basic("alice:nope"), wantStatus: http.StatusUnauthorized},
		{name: "valid", path: "/alice/", header: basic("alice:secret"), wantStatus: http.StatusOK, wantUser: "alice"},
		{name: "well-known skips auth", path: "/.well-known/caldav", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if p := GetPrincipalFromContext(r.Context()); p != nil {
					gotUser = p.ID
				}
				w.WriteHeader(http.StatusOK)
			})
			h := Middleware(staticAuthenticator{user: "alice", password: "secret"}, "Test Realm", nil)(next)

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantUser, gotUser)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Equal(t, `Basic realm="Test Realm"`, rr.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestParseBasicAuth_PasswordWithColon(t *testing.T) {
	creds, err := ParseBasicAuth(basic("bob:pa:ss"))
	assert.NoError(t, err)
	assert.Equal(t, Credentials{Username: "bob", Password: "pa:ss"}, creds)
}

func TestIsForbidden(t *testing.T) {
	assert.True(t, IsForbidden(&Error{Type: ErrForbidden}))
	assert.False(t, IsForbidden(&Error{Type: ErrUnauthorized}))
	assert.False(t, IsForbidden(nil))
}
