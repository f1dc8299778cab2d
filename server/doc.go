/*
Package server provides a CalDAV server over a groupware backend.

# Basic Usage

	store := memory.New()
	users := authmem.New(authmem.WithUsers(map[string]string{"alice": "secret"}))
	h := server.NewCaldavHandler(store, users, server.Options{Prefix: "/caldav/"})
	http.Handle("/caldav/", h)
	http.HandleFunc("/.well-known/caldav", h.ServeWellKnown)

# URL Scheme

Below the prefix:
  - /<userid>/ - User principal
  - /<userid>/cal/ - Calendar home
  - /<userid>/cal/<calendarid>/ - Calendar collection
  - /<userid>/cal/<calendarid>/<name>.ics - Calendar object resource, one series

Every user's home holds the collections listed in Options.Collections. A collection
maps to the backend folder "<userid>/<calendarid>" and exposes objects of one kind.

# Synchronization

Collections support the sync-collection REPORT. Tokens carry the backend
modification time of the newest reported change; a truncated report ends with a
507 response for the collection and the client continues from the returned token.
Writes go through the write pipeline, which repairs values the backend refuses and
maps failures onto HTTP statuses.
*/
package server
