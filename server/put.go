package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cyp0633/caldora/internal/xml"
	"github.com/cyp0633/caldora/server/storage"
	"github.com/samber/mo"
)

// MaxResourceSize bounds the body of a PUT.
const MaxResourceSize = 10 << 20

func (h *CaldavHandler) handlePut(w http.ResponseWriter, r *http.Request, rc *RequestContext) {
	if rc.Resource.ResourceType != storage.ResourceObject {
		h.Logger.Warn("put not allowed on resource type",
			"resource_type", rc.Resource.ResourceType)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	contentType := r.Header.Get(headerContentType)
	if !strings.HasPrefix(contentType, "text/calendar") {
		h.Logger.Warn("unsupported media type",
			"content_type", contentType)
		http.Error(w, "Unsupported Media Type", http.StatusUnsupportedMediaType)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxResourceSize))
	if err != nil {
		h.Logger.Warn("failed to read request body",
			"error", err)
		http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
		return
	}

	set, err := h.Codec.Deserialize(data)
	if err != nil {
		h.writeError(w, "put", err)
		return
	}
	if !holdsOnly(set, rc.Collection.Kind) {
		h.Logger.Warn("component not supported by collection",
			"calendar_id", rc.Collection.ID,
			"kind", rc.Collection.Kind)
		h.writePrecondition(w, http.StatusForbidden, xml.CalDAV, xml.TagSupportedComponent)
		return
	}

	ctx := r.Context()
	folder := folderID(rc.Resource.UserID, rc.Collection)
	cache := newRequestCaches(h.Store).For(rc.Collection.Kind)
	existing, err := cache.Resource(ctx, folder, rc.Resource.ObjectID)
	exists := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		h.writeError(w, "put", err)
		return
	}

	ifMatch := r.Header.Get("If-Match")
	if exists && r.Header.Get("If-None-Match") == "*" {
		h.Logger.Warn("if-none-match=* used but resource exists",
			"object_id", rc.Resource.ObjectID)
		http.Error(w, "Precondition Failed", http.StatusPreconditionFailed)
		return
	}
	if !exists && ifMatch != "" {
		h.Logger.Warn("if-match used on non-existent resource",
			"etag", ifMatch)
		http.Error(w, "Precondition Failed", http.StatusPreconditionFailed)
		return
	}

	if !exists {
		if name := strings.TrimSuffix(rc.Resource.ObjectID, ".ics"); name != set.UID() {
			set = withFilename(set, name)
		}
		c, err := h.Pipeline.Create(ctx, folder, set)
		if err != nil {
			h.writeError(w, "put", err)
			return
		}
		h.Logger.Info("object created",
			"folder_id", folder,
			"object_id", c.MasterID,
			"etag", c.ETag())
		w.Header().Set(headerETag, c.ETag())
		w.Header().Set("Location", h.href(rc.Resource))
		w.WriteHeader(http.StatusCreated)
		return
	}

	expected, ok := expectedModification(ifMatch, existing)
	if !ok {
		h.Logger.Warn("etag mismatch",
			"client_etag", ifMatch,
			"server_etag", storage.SeriesETag(existing))
		http.Error(w, "Precondition Failed", http.StatusPreconditionFailed)
		return
	}
	c, err := h.Pipeline.Update(ctx, existing, expected, set)
	if err != nil {
		h.writeError(w, "put", err)
		return
	}
	h.Logger.Info("object updated",
		"folder_id", folder,
		"object_id", c.MasterID,
		"etag", c.ETag())
	w.Header().Set(headerETag, c.ETag())
	w.WriteHeader(http.StatusNoContent)
}

// expectedModification turns an If-Match header into the modification time the
// client last saw. Without a header the client sees the current state. An entity tag
// of another resource fails the precondition.
func expectedModification(ifMatch string, existing storage.Series) (time.Time, bool) {
	if ifMatch == "" || ifMatch == "*" {
		return existing.LastModified(), true
	}
	id, lastModified, err := storage.ParseETag(ifMatch)
	if err != nil {
		return time.Time{}, false
	}
	current, _, _ := storage.ParseETag(storage.SeriesETag(existing))
	if id != current {
		return time.Time{}, false
	}
	return lastModified, true
}

func holdsOnly(set storage.ExceptionSet, kind storage.Kind) bool {
	if m, ok := set.Master.Get(); ok && m.Kind != kind {
		return false
	}
	for _, exc := range set.ChangeExceptions {
		if exc.Kind != kind {
			return false
		}
	}
	return true
}

// withFilename stores the series under a resource name other than its UID.
func withFilename(set storage.ExceptionSet, name string) storage.ExceptionSet {
	if m, ok := set.Master.Get(); ok {
		m.Filename = name
		set.Master = mo.Some(m)
	}
	excs := make([]storage.CalendarObject, len(set.ChangeExceptions))
	for i, exc := range set.ChangeExceptions {
		exc.Filename = name
		excs[i] = exc
	}
	set.ChangeExceptions = excs
	return set
}
