package sync

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cyp0633/caldora/server/storage"
)

// Cache memoizes the object list of the folders a single request touches. It must
// not outlive the request: a cached list older than the client's token would hide
// changes from it.
type Cache struct {
	source  storage.ChangeSource
	filter  ObjectFilter
	objects map[string][]storage.CalendarObject
	ctags   map[string]time.Time
}

// NewCache returns an empty request-scoped cache.
func NewCache(source storage.ChangeSource, filter ObjectFilter) *Cache {
	return &Cache{
		source:  source,
		filter:  filter,
		objects: make(map[string][]storage.CalendarObject),
		ctags:   make(map[string]time.Time),
	}
}

// Objects returns the visible objects of a folder, loading them once.
func (c *Cache) Objects(ctx context.Context, folderID string) ([]storage.CalendarObject, error) {
	if objs, ok := c.objects[folderID]; ok {
		return objs, nil
	}
	all, err := c.source.GetAll(ctx, folderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load folder %s: %w", folderID, err)
	}
	objs := c.filter.Apply(all)
	c.objects[folderID] = objs
	return objs, nil
}

// Resources returns the series of a folder keyed by resource name.
func (c *Cache) Resources(ctx context.Context, folderID string) (map[string]storage.Series, error) {
	objs, err := c.Objects(ctx, folderID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]storage.Series)
	for _, s := range storage.GroupSeries(objs) {
		primary, ok := s.Primary()
		if !ok {
			continue
		}
		out[primary.ResourceName()] = *s
	}
	return out, nil
}

// Resource returns the series stored under a resource name.
func (c *Cache) Resource(ctx context.Context, folderID, name string) (storage.Series, error) {
	resources, err := c.Resources(ctx, folderID)
	if err != nil {
		return storage.Series{}, err
	}
	s, ok := resources[name]
	if !ok {
		return storage.Series{}, storage.ErrNotFound
	}
	return s, nil
}

// LastChange returns the time of the newest change in the folder, deletions included.
func (c *Cache) LastChange(ctx context.Context, folderID string) (time.Time, error) {
	if t, ok := c.ctags[folderID]; ok {
		return t, nil
	}
	objs, err := c.Objects(ctx, folderID)
	if err != nil {
		return time.Time{}, err
	}
	var latest time.Time
	for _, obj := range objs {
		if obj.LastModified.After(latest) {
			latest = obj.LastModified
		}
	}

	// only tombstones newer than the newest live object can move the tag
	for {
		page, err := c.source.GetDeleted(ctx, folderID, latest, 0)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to load deletions of %s: %w", folderID, err)
		}
		for _, obj := range page.Objects {
			if obj.LastModified.After(latest) {
				latest = obj.LastModified
			}
		}
		if !page.Truncated || len(page.Objects) == 0 {
			break
		}
	}

	c.ctags[folderID] = latest
	return latest, nil
}

// CTag returns the collection tag of a folder.
func (c *Cache) CTag(ctx context.Context, folderID string) (string, error) {
	latest, err := c.LastChange(ctx, folderID)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(int64(WatermarkOf(latest)), 10), nil
}

// SyncToken returns the token a client starting from the current state should use.
func (c *Cache) SyncToken(ctx context.Context, folderID string) (string, error) {
	latest, err := c.LastChange(ctx, folderID)
	if err != nil {
		return "", err
	}
	return TokenCodec{}.Encode(Token{Watermark: WatermarkOf(latest)}), nil
}
