package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cyp0633/caldora/internal/config"
	"github.com/cyp0633/caldora/server"
	authmem "github.com/cyp0633/caldora/server/auth/memory"
	"github.com/cyp0633/caldora/server/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter(t *testing.T) {
	users := authmem.New(authmem.WithUsers(map[string]string{"alice": "secret"}))
	h := server.NewCaldavHandler(memory.New(), users, server.Options{Prefix: "/caldav/"})
	router := newRouter(h)

	tests := []struct {
		name     string
		method   string
		path     string
		auth     bool
		want     int
		location string
	}{
		{name: "well-known", method: http.MethodGet, path: "/.well-known/caldav", want: http.StatusMovedPermanently, location: "/caldav/"},
		{name: "bare prefix", method: "PROPFIND", path: "/caldav", want: http.StatusMovedPermanently, location: "/caldav/"},
		{name: "metrics", method: http.MethodGet, path: "/metrics", want: http.StatusOK},
		{name: "propfind without credentials", method: "PROPFIND", path: "/caldav/alice/", want: http.StatusUnauthorized},
		{name: "report reaches handler", method: "REPORT", path: "/caldav/alice/cal/calendar/", auth: true, want: http.StatusBadRequest},
		{name: "options", method: http.MethodOptions, path: "/caldav/alice/cal/calendar/", auth: true, want: http.StatusOK},
		{name: "outside prefix", method: http.MethodGet, path: "/other", want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(""))
			if tt.auth {
				req.SetBasicAuth("alice", "secret")
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			assert.Equal(t, tt.want, rr.Code)
			if tt.location != "" {
				assert.Equal(t, tt.location, rr.Header().Get("Location"))
			}
		})
	}
}

func TestOpenStore_Memory(t *testing.T) {
	store, closeStore, err := openStore(t.Context(), config.Storage{Backend: config.StoreMemory, ResultCap: 10}, newLogger(config.Log{Level: "info", Format: "text"}))
	require.NoError(t, err)
	defer closeStore()
	assert.NotNil(t, store)
}
