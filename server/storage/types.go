package storage

import "github.com/emersion/go-ical"

// Kind names an object kind a collection can hold.
type Kind string

const (
	// KindAppointment is a VEVENT stored in an appointment folder.
	KindAppointment Kind = "appointment"
	// KindTask is a VTODO stored in a task folder.
	KindTask Kind = "task"
)

// Capability describes how collections treat one Kind. Collections are parameterized
// by capability data instead of having one implementation per object type.
type Capability struct {
	Kind Kind
	// Component is the iCalendar component name the kind serializes to.
	Component string
	// Recurring reports whether objects of this kind can form series.
	Recurring bool
	// Accept is an additional predicate. Nil accepts every object of the kind.
	Accept func(obj *CalendarObject) bool
}

var capabilities = map[Kind]Capability{
	KindAppointment: {Kind: KindAppointment, Component: ical.CompEvent, Recurring: true},
	KindTask: {
		Kind:      KindTask,
		Component: ical.CompToDo,
		Recurring: true,
		// tasks are never exposed per occurrence
		Accept: func(obj *CalendarObject) bool { return !obj.IsException() },
	},
}

// Capability returns the capability data of the kind.
func (k Kind) Capability() Capability {
	if c, ok := capabilities[k]; ok {
		return c
	}
	return Capability{Kind: k}
}

// Supports reports whether obj belongs to a collection of this kind.
func (k Kind) Supports(obj *CalendarObject) bool {
	if obj == nil || obj.Kind != k {
		return false
	}
	if accept := k.Capability().Accept; accept != nil {
		return accept(obj)
	}
	return true
}

// KindForComponent returns the kind serialized as the given component name.
func KindForComponent(name string) (Kind, bool) {
	for k, c := range capabilities {
		if c.Component == name {
			return k, true
		}
	}
	return "", false
}

// ResourceType indicates the type of CalDAV resource identified by the URL path.
// This is distinct from CalDAV prop "resourcetype".
type ResourceType int

const (
	ResourceUnknown ResourceType = iota
	ResourcePrincipal
	ResourceHomeSet
	ResourceCollection
	ResourceObject
	ResourceServiceRoot // Not really a resource, treat as unknown if not specified
)

// String provides a human-readable representation of the ResourceType.
func (rt ResourceType) String() string {
	switch rt {
	case ResourcePrincipal:
		return "Principal"
	case ResourceHomeSet:
		return "HomeSet"
	case ResourceCollection:
		return "Collection"
	case ResourceObject:
		return "Object"
	case ResourceServiceRoot:
		return "ServiceRoot"
	default:
		return "Unknown"
	}
}
