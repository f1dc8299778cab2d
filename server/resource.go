package server

import (
	"fmt"
	"strings"

	"github.com/cyp0633/caldora/server/storage"
)

// URLConverter defines the URL path convention. Leave it nil when creating the handler
// to get a DefaultURLConverter.
//
// A resource must be able to find its parent from its path: an object path names its
// user and calendar, so serving it never needs a reverse lookup.
type URLConverter interface {
	// ParsePath parses a request path and returns the corresponding Resource.
	ParsePath(path string) (Resource, error)
	// EncodePath encodes a Resource back to its URL path.
	EncodePath(resource Resource) (string, error)
}

// Resource is a parsed request target.
type Resource struct {
	UserID       string
	CalendarID   string
	// ObjectID is the resource name inside the collection, "<uid>.ics" by default.
	ObjectID     string
	URI          string
	ResourceType storage.ResourceType
}

// DefaultURLConverter implements URLConverter with the structure
//
//   - Service Root: /
//   - Principal: /<userid>/
//   - Home Set: /<userid>/cal/
//   - Collection: /<userid>/cal/<calendarid>/
//   - Object: /<userid>/cal/<calendarid>/<objectid>
//
// below Prefix.
type DefaultURLConverter struct {
	Prefix string
}

// ParsePath parses a CalDAV path into its components. The prefix is optional.
func (c *DefaultURLConverter) ParsePath(path string) (Resource, error) {
	resource := Resource{ResourceType: storage.ResourceUnknown, URI: path}

	path = strings.TrimPrefix(path, c.Prefix)
	var segments []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			segments = append(segments, p)
		}
	}

	if len(segments) >= 2 && segments[1] != "cal" {
		return resource, fmt.Errorf("invalid path: expected '/<userid>/cal', got '/%s/%s'", segments[0], segments[1])
	}

	switch len(segments) {
	case 0:
		resource.ResourceType = storage.ResourceServiceRoot
	case 1:
		resource.UserID = segments[0]
		resource.ResourceType = storage.ResourcePrincipal
	case 2:
		resource.UserID = segments[0]
		resource.ResourceType = storage.ResourceHomeSet
	case 3:
		resource.UserID = segments[0]
		resource.CalendarID = segments[2]
		resource.ResourceType = storage.ResourceCollection
	case 4:
		resource.UserID = segments[0]
		resource.CalendarID = segments[2]
		resource.ObjectID = segments[3]
		resource.ResourceType = storage.ResourceObject
	default:
		return resource, fmt.Errorf("invalid path: too many segments (%d)", len(segments))
	}

	return resource, nil
}

// EncodePath encodes a Resource into a CalDAV path below the prefix. Collections end
// with a slash.
func (c *DefaultURLConverter) EncodePath(resource Resource) (string, error) {
	var path string

	switch resource.ResourceType {
	case storage.ResourcePrincipal:
		if resource.UserID == "" {
			return "", fmt.Errorf("invalid resource: principal must have a UserID")
		}
		path = resource.UserID + "/"

	case storage.ResourceHomeSet:
		if resource.UserID == "" {
			return "", fmt.Errorf("invalid resource: home set must have a UserID")
		}
		path = resource.UserID + "/cal/"

	case storage.ResourceCollection:
		if resource.UserID == "" || resource.CalendarID == "" {
			return "", fmt.Errorf("invalid resource: collection must have both UserID and CalendarID")
		}
		path = resource.UserID + "/cal/" + resource.CalendarID + "/"

	case storage.ResourceObject:
		if resource.UserID == "" || resource.CalendarID == "" || resource.ObjectID == "" {
			return "", fmt.Errorf("invalid resource: object must have UserID, CalendarID, and ObjectID")
		}
		path = resource.UserID + "/cal/" + resource.CalendarID + "/" + resource.ObjectID

	case storage.ResourceServiceRoot:
		path = ""

	default:
		return "", fmt.Errorf("invalid resource type: %s", resource.ResourceType.String())
	}

	prefix := c.Prefix
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + path, nil
}

// href encodes a resource the handler built itself, logging the impossible failure.
func (h *CaldavHandler) href(res Resource) string {
	path, err := h.URLConverter.EncodePath(res)
	if err != nil {
		h.Logger.Error("unexpected error encoding path",
			"error", err,
			"resource", res)
	}
	return path
}

func principalOf(userID string) Resource {
	return Resource{UserID: userID, ResourceType: storage.ResourcePrincipal}
}

func homeSetOf(userID string) Resource {
	return Resource{UserID: userID, ResourceType: storage.ResourceHomeSet}
}

func collectionOf(userID, calendarID string) Resource {
	return Resource{UserID: userID, CalendarID: calendarID, ResourceType: storage.ResourceCollection}
}

func objectOf(userID, calendarID, name string) Resource {
	return Resource{UserID: userID, CalendarID: calendarID, ObjectID: name, ResourceType: storage.ResourceObject}
}
