package server

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/cyp0633/caldora/server/auth"
	"github.com/cyp0633/caldora/server/storage"
	"github.com/cyp0633/caldora/server/write"
)

const (
	headerContentType = "Content-Type"
	headerETag        = "ETag"
	headerDAV         = "DAV"
	headerAllow       = "Allow"

	mimeTypeCalendar = "text/calendar; charset=utf-8"
	mimeTypeXML      = "application/xml; charset=utf-8"

	davCapabilities = "1, 3, calendar-access"
	allowedMethods  = "OPTIONS, PROPFIND, REPORT, GET, HEAD, PUT, DELETE"

	// DefaultMaxDepth caps the Depth header, "infinity" included.
	DefaultMaxDepth = 1
)

// RequestContext holds parsed information about the incoming CalDAV request.
type RequestContext struct {
	Resource   Resource
	Principal  *auth.Principal
	Depth      int
	// Collection is set for collection and object resources.
	Collection Collection
}

// Collection is a calendar collection every user's home exposes. Each user gets a
// separate backend folder per collection.
type Collection struct {
	ID          string
	DisplayName string
	Kind        storage.Kind
}

// Options configures a CaldavHandler. Zero values get defaults.
type Options struct {
	// Prefix is the path the handler is mounted at, e.g. "/caldav/".
	Prefix       string
	Realm        string
	MaxDepth     int
	URLConverter URLConverter
	Collections  []Collection
	Codec        storage.Codec
	Logger       *slog.Logger
}

// CaldavHandler is the HTTP handler for CalDAV requests under a prefix.
type CaldavHandler struct {
	Prefix        string
	Realm         string
	Store         storage.Store
	Authenticator auth.Authenticator
	MaxDepth      int
	URLConverter  URLConverter
	Collections   []Collection
	Codec         storage.Codec
	Pipeline      *write.Pipeline
	Logger        *slog.Logger

	handler http.Handler
}

// NewCaldavHandler creates a handler serving store to the users authenticator knows.
func NewCaldavHandler(store storage.Store, authenticator auth.Authenticator, opts Options) *CaldavHandler {
	prefix := opts.Prefix
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	converter := opts.URLConverter
	if converter == nil {
		converter = &DefaultURLConverter{Prefix: prefix}
	}
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	collections := opts.Collections
	if len(collections) == 0 {
		collections = DefaultCollections
	}

	h := &CaldavHandler{
		Prefix:        prefix,
		Realm:         opts.Realm,
		Store:         store,
		Authenticator: authenticator,
		MaxDepth:      maxDepth,
		URLConverter:  converter,
		Collections:   collections,
		Codec:         opts.Codec,
		Pipeline:      write.NewPipeline(store, logger),
		Logger:        logger,
	}
	h.handler = auth.Middleware(authenticator, opts.Realm, logger)(http.HandlerFunc(h.serve))
	return h
}

// DefaultCollections is the home layout used when Options names none.
var DefaultCollections = []Collection{
	{ID: "calendar", DisplayName: "Calendar", Kind: storage.KindAppointment},
	{ID: "tasks", DisplayName: "Tasks", Kind: storage.KindTask},
}

// ServeHTTP authenticates the request, then parses and routes it.
func (h *CaldavHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

func (h *CaldavHandler) serve(w http.ResponseWriter, r *http.Request) {
	principal := auth.GetPrincipalFromContext(r.Context())

	resource, err := h.URLConverter.ParsePath(r.URL.Path)
	if err != nil {
		h.Logger.Info("unparseable path",
			"path", r.URL.Path,
			"error", err)
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	if err := h.Authenticator.ValidateAccess(r.Context(), principal, resource.UserID); err != nil {
		if auth.IsForbidden(err) {
			http.Error(w, "Forbidden: Access denied to the requested resource", http.StatusForbidden)
			return
		}
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ctx := &RequestContext{
		Resource:  resource,
		Principal: principal,
		Depth:     parseDepth(r.Header.Get("Depth"), h.MaxDepth),
	}
	if resource.CalendarID != "" {
		c, ok := h.collection(resource.CalendarID)
		if !ok {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		ctx.Collection = c
	}

	h.Logger.Debug("request received",
		"method", r.Method,
		"resource_type", resource.ResourceType,
		"user_id", resource.UserID,
		"calendar_id", resource.CalendarID,
		"object_id", resource.ObjectID)

	switch r.Method {
	case "PROPFIND":
		h.handlePropfind(w, r, ctx)
	case "REPORT":
		h.handleReport(w, r, ctx)
	case http.MethodPut:
		h.handlePut(w, r, ctx)
	case http.MethodGet, http.MethodHead:
		h.handleGet(w, r, ctx)
	case http.MethodDelete:
		h.handleDelete(w, r, ctx)
	case http.MethodOptions:
		h.handleOptions(w, r, ctx)
	default:
		h.Logger.Info("method not allowed",
			"method", r.Method)
		w.Header().Set(headerAllow, allowedMethods)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// ServeWellKnown redirects /.well-known/caldav to the handler prefix.
func (h *CaldavHandler) ServeWellKnown(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.Prefix, http.StatusMovedPermanently)
}

func (h *CaldavHandler) handleOptions(w http.ResponseWriter, _ *http.Request, _ *RequestContext) {
	w.Header().Set(headerAllow, allowedMethods)
	w.Header().Set(headerDAV, davCapabilities)
	w.WriteHeader(http.StatusOK)
}

func (h *CaldavHandler) collection(id string) (Collection, bool) {
	for _, c := range h.Collections {
		if c.ID == id {
			return c, true
		}
	}
	return Collection{}, false
}

// folderID names the backend folder holding a user's collection.
func folderID(userID string, c Collection) string {
	return userID + "/" + c.ID
}

// parseDepth reads a Depth header capped at limit. A missing header means
// infinity (RFC 4918 9.1); invalid values mean 0.
func parseDepth(header string, limit int) int {
	switch header {
	case "", "infinity":
		return limit
	}
	depth, err := strconv.Atoi(header)
	if err != nil || depth < 0 {
		return 0
	}
	return min(depth, limit)
}
