package server

import (
	"context"
	"errors"
	"strings"

	"github.com/cyp0633/caldora/internal/xml"
	"github.com/cyp0633/caldora/server/storage"
	"github.com/cyp0633/caldora/server/sync"
)

// errNoProp marks a property the resource does not have. It is reported with 404
// inside the multistatus instead of failing the request.
var errNoProp = errors.New("property not defined on resource")

// Resolver resolves a single property for the given environment.
type Resolver func(env *propEnv) (xml.Property, error)

// propEnv provides lazy accessors for the data resolvers need. It lives for one
// request; its caches are shared by every resource the request touches.
type propEnv struct {
	ctx        context.Context
	h          *CaldavHandler
	res        Resource
	principal  string
	collection Collection
	caches     *requestCaches

	series   *storage.Series
	etag     string
	calendar []byte
}

func (h *CaldavHandler) newPropEnv(ctx context.Context, rc *RequestContext, res Resource, caches *requestCaches) *propEnv {
	env := &propEnv{ctx: ctx, h: h, res: res, caches: caches}
	if rc.Principal != nil {
		env.principal = rc.Principal.ID
	}
	if c, ok := h.collection(res.CalendarID); ok {
		env.collection = c
	}
	return env
}

// withSeries preloads the series of an object resource.
func (e *propEnv) withSeries(s storage.Series) *propEnv {
	e.series = &s
	return e
}

// withETag overrides the entity tag computed from the series.
func (e *propEnv) withETag(etag string) *propEnv {
	e.etag = etag
	return e
}

func (e *propEnv) folderID() string {
	return folderID(e.res.UserID, e.collection)
}

func (e *propEnv) cache() *sync.Cache {
	return e.caches.For(e.collection.Kind)
}

func (e *propEnv) Series() (storage.Series, error) {
	if e.series != nil {
		return *e.series, nil
	}
	s, err := e.cache().Resource(e.ctx, e.folderID(), e.res.ObjectID)
	if err != nil {
		return storage.Series{}, err
	}
	e.series = &s
	return s, nil
}

func (e *propEnv) CalendarData() ([]byte, error) {
	if e.calendar != nil {
		return e.calendar, nil
	}
	s, err := e.Series()
	if err != nil {
		return nil, err
	}
	data, err := e.h.Codec.Serialize(s)
	if err != nil {
		return nil, err
	}
	e.calendar = data
	return data, nil
}

func (e *propEnv) is(types ...storage.ResourceType) bool {
	for _, t := range types {
		if e.res.ResourceType == t {
			return true
		}
	}
	return false
}

func davProp(name string, children ...xml.Property) xml.Property {
	return xml.Property{Name: name, Namespace: xml.DAV, Children: children}
}

func hrefProp(href string) xml.Property {
	return xml.Property{Name: xml.TagHref, Namespace: xml.DAV, TextContent: href}
}

var resolvers = map[xml.Name]Resolver{
	{Space: xml.DAV, Local: xml.TagResourcetype}:         resolveResourceType,
	{Space: xml.DAV, Local: xml.TagDisplayName}:          resolveDisplayName,
	{Space: xml.DAV, Local: xml.TagCurrentUserPrincipal}: resolveCurrentUserPrincipal,
	{Space: xml.CalDAV, Local: xml.TagCalendarHomeSet}:   resolveCalendarHomeSet,
	{Space: xml.CalendarServer, Local: xml.TagGetCTag}:   resolveCTag,
	{Space: xml.DAV, Local: xml.TagSyncToken}:            resolveSyncToken,
	{Space: xml.DAV, Local: xml.TagSupportedReports}:     resolveSupportedReports,
	{Space: xml.CalDAV, Local: xml.TagSupportedCompSet}:  resolveSupportedComponents,
	{Space: xml.DAV, Local: xml.TagGetETag}:              resolveETag,
	{Space: xml.DAV, Local: xml.TagGetContentType}:       resolveContentType,
	{Space: xml.CalDAV, Local: xml.TagCalendarData}:      resolveCalendarData,
}

// allProps is what an allprop PROPFIND returns. calendar-data is left out, clients
// fetch it with calendar-multiget.
var allProps = []xml.Name{
	{Space: xml.DAV, Local: xml.TagResourcetype},
	{Space: xml.DAV, Local: xml.TagDisplayName},
	{Space: xml.DAV, Local: xml.TagCurrentUserPrincipal},
	{Space: xml.CalDAV, Local: xml.TagCalendarHomeSet},
	{Space: xml.CalendarServer, Local: xml.TagGetCTag},
	{Space: xml.DAV, Local: xml.TagSyncToken},
	{Space: xml.DAV, Local: xml.TagSupportedReports},
	{Space: xml.CalDAV, Local: xml.TagSupportedCompSet},
	{Space: xml.DAV, Local: xml.TagGetETag},
	{Space: xml.DAV, Local: xml.TagGetContentType},
}

func resolveResourceType(env *propEnv) (xml.Property, error) {
	switch env.res.ResourceType {
	case storage.ResourcePrincipal:
		return davProp(xml.TagResourcetype, davProp(xml.TagCollection), davProp(xml.TagPrincipal)), nil
	case storage.ResourceCollection:
		return davProp(xml.TagResourcetype,
			davProp(xml.TagCollection),
			xml.Property{Name: xml.TagCalendar, Namespace: xml.CalDAV}), nil
	case storage.ResourceObject:
		return davProp(xml.TagResourcetype), nil
	default:
		return davProp(xml.TagResourcetype, davProp(xml.TagCollection)), nil
	}
}

func resolveDisplayName(env *propEnv) (xml.Property, error) {
	var name string
	switch env.res.ResourceType {
	case storage.ResourcePrincipal:
		name = env.res.UserID
	case storage.ResourceCollection:
		name = env.collection.DisplayName
		if name == "" {
			name = env.collection.ID
		}
	default:
		return xml.Property{}, errNoProp
	}
	p := davProp(xml.TagDisplayName)
	p.TextContent = name
	return p, nil
}

func resolveCurrentUserPrincipal(env *propEnv) (xml.Property, error) {
	if env.principal == "" {
		return xml.Property{}, errNoProp
	}
	return davProp(xml.TagCurrentUserPrincipal, hrefProp(env.h.href(principalOf(env.principal)))), nil
}

func resolveCalendarHomeSet(env *propEnv) (xml.Property, error) {
	if env.res.ResourceType != storage.ResourcePrincipal {
		return xml.Property{}, errNoProp
	}
	return xml.Property{
		Name:      xml.TagCalendarHomeSet,
		Namespace: xml.CalDAV,
		Children:  []xml.Property{hrefProp(env.h.href(homeSetOf(env.res.UserID)))},
	}, nil
}

func resolveCTag(env *propEnv) (xml.Property, error) {
	if !env.is(storage.ResourceCollection) {
		return xml.Property{}, errNoProp
	}
	ctag, err := env.cache().CTag(env.ctx, env.folderID())
	if err != nil {
		return xml.Property{}, err
	}
	return xml.Property{Name: xml.TagGetCTag, Namespace: xml.CalendarServer, TextContent: ctag}, nil
}

func resolveSyncToken(env *propEnv) (xml.Property, error) {
	if !env.is(storage.ResourceCollection) {
		return xml.Property{}, errNoProp
	}
	token, err := env.cache().SyncToken(env.ctx, env.folderID())
	if err != nil {
		return xml.Property{}, err
	}
	p := davProp(xml.TagSyncToken)
	p.TextContent = token
	return p, nil
}

func resolveSupportedReports(env *propEnv) (xml.Property, error) {
	if !env.is(storage.ResourceCollection) {
		return xml.Property{}, errNoProp
	}
	report := func(name xml.Property) xml.Property {
		return davProp(xml.TagSupportedReport, davProp(xml.TagReport, name))
	}
	return davProp(xml.TagSupportedReports,
		report(davProp(xml.TagSyncCollection)),
		report(xml.Property{Name: xml.TagCalendarMultiget, Namespace: xml.CalDAV}),
	), nil
}

func resolveSupportedComponents(env *propEnv) (xml.Property, error) {
	if !env.is(storage.ResourceCollection) {
		return xml.Property{}, errNoProp
	}
	comp := xml.Property{
		Name:       xml.TagComp,
		Namespace:  xml.CalDAV,
		Attributes: map[string]string{"name": env.collection.Kind.Capability().Component},
	}
	return xml.Property{
		Name:      xml.TagSupportedCompSet,
		Namespace: xml.CalDAV,
		Children:  []xml.Property{comp},
	}, nil
}

func resolveETag(env *propEnv) (xml.Property, error) {
	if !env.is(storage.ResourceObject) {
		return xml.Property{}, errNoProp
	}
	p := davProp(xml.TagGetETag)
	if env.etag != "" {
		p.TextContent = env.etag
		return p, nil
	}
	s, err := env.Series()
	if err != nil {
		return xml.Property{}, err
	}
	p.TextContent = storage.SeriesETag(s)
	return p, nil
}

func resolveContentType(env *propEnv) (xml.Property, error) {
	if !env.is(storage.ResourceObject) {
		return xml.Property{}, errNoProp
	}
	component := strings.ToLower(env.collection.Kind.Capability().Component)
	p := davProp(xml.TagGetContentType)
	p.TextContent = "text/calendar; charset=utf-8; component=" + component
	return p, nil
}

func resolveCalendarData(env *propEnv) (xml.Property, error) {
	if !env.is(storage.ResourceObject) {
		return xml.Property{}, errNoProp
	}
	data, err := env.CalendarData()
	if err != nil {
		return xml.Property{}, err
	}
	return xml.Property{Name: xml.TagCalendarData, Namespace: xml.CalDAV, TextContent: string(data)}, nil
}

// resolveProps builds the propstats of one resource: found properties under 200,
// unknown or undefined ones under 404. Backend failures abort the request.
func resolveProps(env *propEnv, names []xml.Name, namesOnly bool) ([]xml.PropStat, error) {
	var found, missing []xml.Property
	for _, name := range names {
		resolve, ok := resolvers[name]
		if !ok {
			missing = append(missing, xml.Property{Name: name.Local, Namespace: name.Space})
			continue
		}
		prop, err := resolve(env)
		switch {
		case errors.Is(err, errNoProp):
			missing = append(missing, xml.Property{Name: name.Local, Namespace: name.Space})
			continue
		case err != nil:
			return nil, err
		}
		if namesOnly {
			prop = xml.Property{Name: prop.Name, Namespace: prop.Namespace}
		}
		found = append(found, prop)
	}

	var stats []xml.PropStat
	if len(found) > 0 {
		stats = append(stats, xml.PropStat{Props: found, Status: xml.StatusLine(200)})
	}
	if len(missing) > 0 {
		stats = append(stats, xml.PropStat{Props: missing, Status: xml.StatusLine(404)})
	}
	return stats, nil
}
