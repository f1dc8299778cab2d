package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/cyp0633/caldora/internal/metrics"
	"github.com/cyp0633/caldora/internal/xml"
	"github.com/cyp0633/caldora/server/storage"
	"github.com/cyp0633/caldora/server/sync"
)

func (h *CaldavHandler) handleReport(w http.ResponseWriter, r *http.Request, rc *RequestContext) {
	doc, err := xml.ReadDocument(r.Body)
	if err != nil || doc.Root() == nil {
		h.Logger.Warn("failed to parse report body",
			"error", err)
		http.Error(w, "Bad Request: invalid report body", http.StatusBadRequest)
		return
	}

	switch doc.Root().Tag {
	case xml.TagSyncCollection:
		var req xml.SyncCollectionRequest
		if err := req.Parse(doc); err != nil {
			http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
			return
		}
		h.handleSyncCollection(w, r, rc, req)
	case xml.TagCalendarMultiget:
		var req xml.CalendarMultigetRequest
		if err := req.Parse(doc); err != nil {
			http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
			return
		}
		h.handleCalendarMultiget(w, r, rc, req)
	default:
		h.Logger.Info("unsupported report type",
			"report", doc.Root().Tag)
		h.writePrecondition(w, http.StatusForbidden, xml.DAV, xml.TagSupportedReport)
	}
}

func (h *CaldavHandler) handleSyncCollection(w http.ResponseWriter, r *http.Request, rc *RequestContext, req xml.SyncCollectionRequest) {
	if rc.Resource.ResourceType != storage.ResourceCollection {
		h.writePrecondition(w, http.StatusForbidden, xml.DAV, xml.TagSupportedReport)
		return
	}
	// collections are flat, so infinite is the same as 1
	if req.SyncLevel != "1" && req.SyncLevel != "infinite" {
		http.Error(w, "Bad Request: unsupported sync-level", http.StatusBadRequest)
		return
	}

	start := time.Now()
	folder := folderID(rc.Resource.UserID, rc.Collection)
	synchronizer := sync.NewSynchronizer(h.Store, rc.Collection.Kind, h.Logger)
	report, err := synchronizer.Synchronize(r.Context(), folder, req.SyncToken, req.Limit)
	if errors.Is(err, sync.ErrInvalidSyncToken) {
		metrics.RecordInvalidSyncToken()
		h.Logger.Info("invalid sync token",
			"folder_id", folder,
			"token", req.SyncToken)
		h.writePrecondition(w, http.StatusForbidden, xml.DAV, xml.TagValidSyncToken)
		return
	}
	if err != nil {
		metrics.RecordSync(time.Since(start), nil, false, err)
		h.writeError(w, "sync-collection", err)
		return
	}

	caches := newRequestCaches(h.Store)
	collectionHref := h.href(collectionOf(rc.Resource.UserID, rc.Collection.ID))
	ms := &xml.MultistatusResponse{SyncToken: report.NextToken}
	statuses := make([]int, 0, len(report.Entries))
	for _, entry := range report.Entries {
		statuses = append(statuses, entry.Status)
		href := collectionHref + entry.Name
		if entry.Deleted() {
			ms.Responses = append(ms.Responses, xml.Response{Href: href, Status: xml.StatusLine(http.StatusNotFound)})
			continue
		}
		env := h.newPropEnv(r.Context(), rc, objectOf(rc.Resource.UserID, rc.Collection.ID, entry.Name), caches).
			withSeries(entry.Series).
			withETag(entry.ETag)
		stats, err := resolveProps(env, req.Prop, false)
		if err != nil {
			metrics.RecordSync(time.Since(start), nil, false, err)
			h.writeError(w, "sync-collection", err)
			return
		}
		ms.Responses = append(ms.Responses, xml.Response{Href: href, PropStats: stats})
	}
	if report.Truncated {
		ms.Responses = append(ms.Responses, xml.Response{
			Href:   collectionHref,
			Status: xml.StatusLine(http.StatusInsufficientStorage),
			Error:  &xml.Error{Namespace: xml.DAV, Tag: xml.TagNumberOfMatches},
		})
	}

	metrics.RecordSync(time.Since(start), statuses, report.Truncated, nil)
	h.Logger.Info("sync-collection answered",
		"folder_id", folder,
		"entries", len(report.Entries),
		"truncated", report.Truncated)
	h.writeMultistatus(w, ms)
}

func (h *CaldavHandler) handleCalendarMultiget(w http.ResponseWriter, r *http.Request, rc *RequestContext, req xml.CalendarMultigetRequest) {
	if rc.Resource.ResourceType != storage.ResourceCollection && rc.Resource.ResourceType != storage.ResourceObject {
		h.writePrecondition(w, http.StatusForbidden, xml.DAV, xml.TagSupportedReport)
		return
	}

	caches := newRequestCaches(h.Store)
	ms := &xml.MultistatusResponse{}
	for _, href := range req.Hrefs {
		res, err := h.URLConverter.ParsePath(href)
		c, known := h.collection(res.CalendarID)
		if err != nil || res.ResourceType != storage.ResourceObject || !known || res.UserID != rc.Resource.UserID {
			ms.Responses = append(ms.Responses, xml.Response{Href: href, Status: xml.StatusLine(http.StatusNotFound)})
			continue
		}

		cache := caches.For(c.Kind)
		series, err := cache.Resource(r.Context(), folderID(res.UserID, c), res.ObjectID)
		if errors.Is(err, storage.ErrNotFound) {
			ms.Responses = append(ms.Responses, xml.Response{Href: href, Status: xml.StatusLine(http.StatusNotFound)})
			continue
		}
		if err != nil {
			h.writeError(w, "calendar-multiget", err)
			return
		}

		env := h.newPropEnv(r.Context(), rc, res, caches).withSeries(series)
		stats, err := resolveProps(env, req.Prop, false)
		if err != nil {
			h.writeError(w, "calendar-multiget", err)
			return
		}
		ms.Responses = append(ms.Responses, xml.Response{Href: href, PropStats: stats})
	}

	h.Logger.Debug("calendar-multiget answered",
		"hrefs", len(req.Hrefs))
	h.writeMultistatus(w, ms)
}
