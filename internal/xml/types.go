// Package xml reads and writes the WebDAV and CalDAV bodies the server speaks.
package xml

import (
	"fmt"
	"net/http"

	"github.com/beevik/etree"
)

// Common XML tag names used in CalDAV
const (
	TagPropfind             = "propfind"
	TagProp                 = "prop"
	TagPropname             = "propname"
	TagAllprop              = "allprop"
	TagMultistatus          = "multistatus"
	TagResponse             = "response"
	TagHref                 = "href"
	TagPropstat             = "propstat"
	TagStatus               = "status"
	TagError                = "error"
	TagSyncToken            = "sync-token"
	TagSyncLevel            = "sync-level"
	TagSyncCollection       = "sync-collection"
	TagLimit                = "limit"
	TagNResults             = "nresults"
	TagCalendarMultiget     = "calendar-multiget"
	TagResourcetype         = "resourcetype"
	TagCollection           = "collection"
	TagCalendar             = "calendar"
	TagGetETag              = "getetag"
	TagGetCTag              = "getctag"
	TagCalendarData         = "calendar-data"
	TagDisplayName          = "displayname"
	TagGetContentType       = "getcontenttype"
	TagSupportedReports     = "supported-report-set"
	TagSupportedCompSet     = "supported-calendar-component-set"
	TagValidSyncToken       = "valid-sync-token"
	TagCurrentUserPrincipal = "current-user-principal"
	TagCalendarHomeSet      = "calendar-home-set"
	TagPrincipal            = "principal"
	TagSupportedReport      = "supported-report"
	TagReport               = "report"
	TagComp                 = "comp"
	TagSupportedComponent   = "supported-calendar-component"
	TagNumberOfMatches      = "number-of-matches-within-limits"
)

// Name is a namespaced element name.
type Name struct {
	Space string
	Local string
}

func (n Name) String() string {
	return "{" + n.Space + "}" + n.Local
}

// Property represents a generic XML property
type Property struct {
	Name        string
	Namespace   string
	TextContent string
	Children    []Property
	Attributes  map[string]string
}

// XMLName returns the namespaced name of the property.
func (p *Property) XMLName() Name {
	return Name{Space: p.Namespace, Local: p.Name}
}

// ToElement converts a Property to an etree.Element, prefixed for its namespace.
func (p *Property) ToElement() *etree.Element {
	elem := etree.NewElement(p.Name)
	if prefix := Prefix(p.Namespace); prefix != "" {
		elem.Space = prefix
	} else if p.Namespace != "" {
		elem.CreateAttr("xmlns", p.Namespace)
	}
	if p.TextContent != "" {
		elem.SetText(p.TextContent)
	}
	for key, value := range p.Attributes {
		elem.CreateAttr(key, value)
	}
	for _, child := range p.Children {
		elem.AddChild(child.ToElement())
	}
	return elem
}

// FromElement populates a Property from an etree.Element
func (p *Property) FromElement(elem *etree.Element) {
	p.Name = elem.Tag
	p.Namespace = namespaceOf(elem)
	p.TextContent = elem.Text()
	p.Children = nil
	p.Attributes = make(map[string]string)

	for _, attr := range elem.Attr {
		if attr.Space == "xmlns" || attr.Key == "xmlns" {
			continue
		}
		p.Attributes[attr.Key] = attr.Value
	}

	for _, child := range elem.ChildElements() {
		childProp := Property{}
		childProp.FromElement(child)
		p.Children = append(p.Children, childProp)
	}
}

// Error represents a WebDAV error response
type Error struct {
	Namespace string
	Tag       string
	Message   string
}

// ToElement converts an Error to an etree.Element
func (e *Error) ToElement() *etree.Element {
	err := etree.NewElement(TagError)
	err.Space = Prefix(DAV)
	tag := etree.NewElement(e.Tag)
	if prefix := Prefix(e.Namespace); prefix != "" {
		tag.Space = prefix
	}
	if e.Message != "" {
		tag.SetText(e.Message)
	}
	err.AddChild(tag)
	return err
}

// ErrorDocument builds a standalone DAV:error body for a precondition failure.
func ErrorDocument(e Error) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	doc.AddChild(e.ToElement())
	AddNamespaces(doc)
	return doc
}

// StatusLine renders an HTTP status the way multistatus bodies carry it.
func StatusLine(code int) string {
	return fmt.Sprintf("HTTP/1.1 %d %s", code, http.StatusText(code))
}
