package xml

import "github.com/beevik/etree"

// Namespace definitions for CalDAV and WebDAV
const (
	// DAV is the WebDAV namespace
	DAV = "DAV:"
	// CalDAV is the CalDAV namespace
	CalDAV = "urn:ietf:params:xml:ns:caldav"
	// CalendarServer is the Calendar Server namespace, home of getctag
	CalendarServer = "http://calendarserver.org/ns/"
)

var prefixes = map[string]string{
	DAV:            "D",
	CalDAV:         "C",
	CalendarServer: "CS",
}

// Prefix returns the prefix responses use for a namespace, "" for unknown ones.
func Prefix(namespace string) string {
	return prefixes[namespace]
}

// AddNamespaces adds standard CalDAV namespaces to the XML document
func AddNamespaces(doc *etree.Document) {
	root := doc.Root()
	if root == nil {
		return
	}
	root.CreateAttr("xmlns:D", DAV)
	root.CreateAttr("xmlns:C", CalDAV)
	root.CreateAttr("xmlns:CS", CalendarServer)
}

// namespaceOf resolves the namespace of a parsed element. Clients that omit the
// declaration still get DAV: for the prefix D.
func namespaceOf(elem *etree.Element) string {
	if ns := elem.NamespaceURI(); ns != "" {
		return ns
	}
	for ns, prefix := range prefixes {
		if elem.Space == prefix {
			return ns
		}
	}
	return elem.Space
}
