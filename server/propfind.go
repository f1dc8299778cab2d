package server

import (
	"net/http"
	"sort"

	"github.com/cyp0633/caldora/internal/xml"
	"github.com/cyp0633/caldora/server/storage"
	"github.com/cyp0633/caldora/server/sync"
)

func (h *CaldavHandler) handlePropfind(w http.ResponseWriter, r *http.Request, rc *RequestContext) {
	doc, err := xml.ReadDocument(r.Body)
	if err != nil {
		h.Logger.Warn("failed to parse propfind body",
			"error", err)
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	}
	var req xml.PropfindRequest
	if err := req.Parse(doc); err != nil {
		h.Logger.Warn("invalid propfind request",
			"error", err)
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	}

	names := req.Prop
	if req.AllProp || req.PropNames {
		names = allProps
	}

	ctx := r.Context()
	caches := newRequestCaches(h.Store)

	targets, err := h.propfindTargets(r, rc, caches.For(rc.Collection.Kind))
	if err != nil {
		h.writeError(w, "propfind", err)
		return
	}

	ms := &xml.MultistatusResponse{}
	for _, t := range targets {
		env := h.newPropEnv(ctx, rc, t.res, caches)
		if t.series != nil {
			env.withSeries(*t.series)
		}
		stats, err := resolveProps(env, names, req.PropNames)
		if err != nil {
			h.writeError(w, "propfind", err)
			return
		}
		if req.PropNames {
			stats = found(stats)
		}
		ms.Responses = append(ms.Responses, xml.Response{Href: h.href(t.res), PropStats: stats})
	}

	h.Logger.Debug("propfind answered",
		"resource_type", rc.Resource.ResourceType,
		"depth", rc.Depth,
		"responses", len(ms.Responses))
	h.writeMultistatus(w, ms)
}

type propfindTarget struct {
	res    Resource
	series *storage.Series
}

// propfindTargets lists the request target and, with Depth 1, its members.
func (h *CaldavHandler) propfindTargets(r *http.Request, rc *RequestContext, cache *sync.Cache) ([]propfindTarget, error) {
	res := rc.Resource
	user := res.UserID
	ctx := r.Context()

	switch res.ResourceType {
	case storage.ResourceObject:
		s, err := cache.Resource(ctx, folderID(user, rc.Collection), res.ObjectID)
		if err != nil {
			return nil, err
		}
		return []propfindTarget{{res: res, series: &s}}, nil
	case storage.ResourceServiceRoot:
		if rc.Principal != nil {
			user = rc.Principal.ID
		}
	}

	targets := []propfindTarget{{res: res}}
	if rc.Depth < 1 {
		return targets, nil
	}

	switch res.ResourceType {
	case storage.ResourceServiceRoot:
		if user != "" {
			targets = append(targets, propfindTarget{res: principalOf(user)})
		}
	case storage.ResourcePrincipal:
		targets = append(targets, propfindTarget{res: homeSetOf(user)})
	case storage.ResourceHomeSet:
		for _, c := range h.Collections {
			targets = append(targets, propfindTarget{res: collectionOf(user, c.ID)})
		}
	case storage.ResourceCollection:
		resources, err := cache.Resources(ctx, folderID(user, rc.Collection))
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(resources))
		for name := range resources {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			s := resources[name]
			targets = append(targets, propfindTarget{res: objectOf(user, res.CalendarID, name), series: &s})
		}
	}
	return targets, nil
}

// found keeps the 200 propstat only.
func found(stats []xml.PropStat) []xml.PropStat {
	var out []xml.PropStat
	for _, ps := range stats {
		if ps.Status == xml.StatusLine(http.StatusOK) {
			out = append(out, ps)
		}
	}
	return out
}
