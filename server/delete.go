package server

import (
	"net/http"

	"github.com/cyp0633/caldora/server/storage"
)

func (h *CaldavHandler) handleDelete(w http.ResponseWriter, r *http.Request, rc *RequestContext) {
	if rc.Resource.ResourceType != storage.ResourceObject {
		h.Logger.Warn("delete not allowed on resource type",
			"resource_type", rc.Resource.ResourceType)
		http.Error(w, "Method Not Allowed on this resource type", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	folder := folderID(rc.Resource.UserID, rc.Collection)
	cache := newRequestCaches(h.Store).For(rc.Collection.Kind)
	series, err := cache.Resource(ctx, folder, rc.Resource.ObjectID)
	if err != nil {
		h.writeError(w, "delete", err)
		return
	}

	ifMatch := r.Header.Get("If-Match")
	expected, ok := expectedModification(ifMatch, series)
	if !ok {
		h.Logger.Warn("etag mismatch",
			"client_etag", ifMatch,
			"server_etag", storage.SeriesETag(series))
		http.Error(w, "Precondition Failed", http.StatusPreconditionFailed)
		return
	}

	// without a visible master the resource is its occurrences, removed one by one
	targets := series.Exceptions
	if master, ok := series.Master.Get(); ok {
		targets = []storage.CalendarObject{master}
	}
	for _, obj := range targets {
		if err := h.Pipeline.Delete(ctx, obj, expected); err != nil {
			h.writeError(w, "delete", err)
			return
		}
	}

	h.Logger.Info("object deleted",
		"folder_id", folder,
		"name", rc.Resource.ObjectID,
		"objects", len(targets))
	w.WriteHeader(http.StatusNoContent)
}
