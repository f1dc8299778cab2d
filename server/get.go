package server

import (
	"net/http"
	"strconv"

	"github.com/cyp0633/caldora/server/storage"
)

func (h *CaldavHandler) handleGet(w http.ResponseWriter, r *http.Request, rc *RequestContext) {
	if rc.Resource.ResourceType != storage.ResourceObject {
		h.Logger.Info("get not allowed on resource type",
			"resource_type", rc.Resource.ResourceType)
		http.Error(w, "Method Not Allowed on this resource type", http.StatusMethodNotAllowed)
		return
	}

	cache := newRequestCaches(h.Store).For(rc.Collection.Kind)
	series, err := cache.Resource(r.Context(), folderID(rc.Resource.UserID, rc.Collection), rc.Resource.ObjectID)
	if err != nil {
		h.writeError(w, "get", err)
		return
	}

	etag := storage.SeriesETag(series)
	if inm := r.Header.Get("If-None-Match"); inm != "" && (inm == "*" || inm == etag) {
		w.Header().Set(headerETag, etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	data, err := h.Codec.Serialize(series)
	if err != nil {
		h.writeError(w, "get", err)
		return
	}

	w.Header().Set(headerContentType, mimeTypeCalendar)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set(headerETag, etag)
	w.Header().Set("Last-Modified", series.LastModified().UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(data); err != nil {
		h.Logger.Warn("failed to write response",
			"error", err)
	}
}
