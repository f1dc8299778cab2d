package server

import (
	"errors"
	"net/http"

	"github.com/beevik/etree"
	"github.com/cyp0633/caldora/internal/xml"
	"github.com/cyp0633/caldora/server/storage"
	"github.com/cyp0633/caldora/server/write"
)

// statusOf maps an error of the storage or write layer to an HTTP status.
func statusOf(err error) int {
	var werr *write.Error
	if errors.As(err, &werr) {
		return werr.Kind.HTTPStatus()
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, storage.ErrInvalidCalendarData):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError sends the status err maps to. Server faults are logged as errors,
// client faults as warnings. A series write that failed part way carries the
// entity tag of what it committed.
func (h *CaldavHandler) writeError(w http.ResponseWriter, op string, err error) {
	status := statusOf(err)
	attrs := []any{"op", op, "status", status, "error", err}
	var werr *write.Error
	if errors.As(err, &werr) && !werr.Committed.IsZero() {
		attrs = append(attrs, "committed", werr.Committed)
		if etag := werr.ETag(); etag != "" {
			w.Header().Set(headerETag, etag)
		}
	}
	if status >= http.StatusInternalServerError {
		h.Logger.Error("request failed", attrs...)
	} else {
		h.Logger.Warn("request rejected", attrs...)
	}
	http.Error(w, http.StatusText(status), status)
}

// writePrecondition sends a DAV:error body naming the failed precondition.
func (h *CaldavHandler) writePrecondition(w http.ResponseWriter, status int, namespace, tag string) {
	h.writeXML(w, status, xml.ErrorDocument(xml.Error{Namespace: namespace, Tag: tag}))
}

func (h *CaldavHandler) writeXML(w http.ResponseWriter, status int, doc *etree.Document) {
	doc.Indent(2)
	body, err := doc.WriteToBytes()
	if err != nil {
		h.Logger.Error("failed to serialize xml response",
			"error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set(headerContentType, mimeTypeXML)
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		h.Logger.Warn("failed to write response",
			"error", err)
	}
}

func (h *CaldavHandler) writeMultistatus(w http.ResponseWriter, ms *xml.MultistatusResponse) {
	h.writeXML(w, http.StatusMultiStatus, ms.ToXML())
}
