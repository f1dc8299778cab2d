package xml

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

// ReadDocument parses a request body. An empty body yields an empty document.
func ReadDocument(r io.Reader) (*etree.Document, error) {
	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(r); err != nil {
		if err == io.EOF {
			return doc, nil
		}
		return nil, fmt.Errorf("malformed xml: %w", err)
	}
	return doc, nil
}

func propNames(root *etree.Element) []Name {
	prop := root.SelectElement(TagProp)
	if prop == nil {
		return nil
	}
	var names []Name
	for _, p := range prop.ChildElements() {
		names = append(names, Name{Space: namespaceOf(p), Local: p.Tag})
	}
	return names
}

func createRoot(doc *etree.Document, tag, namespace string) *etree.Element {
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement(tag)
	root.Space = Prefix(namespace)
	AddNamespaces(doc)
	return root
}

func addProps(root *etree.Element, names []Name) {
	if len(names) == 0 {
		return
	}
	prop := davElement(root, TagProp)
	for _, n := range names {
		p := Property{Name: n.Local, Namespace: n.Space}
		prop.AddChild(p.ToElement())
	}
}

// SyncCollectionRequest represents a sync-collection REPORT request
type SyncCollectionRequest struct {
	SyncToken string
	SyncLevel string
	// Limit is the client's DAV:nresults, 0 when absent.
	Limit int
	Prop  []Name
}

// Parse parses a sync-collection request from an XML document
func (r *SyncCollectionRequest) Parse(doc *etree.Document) error {
	if doc == nil || doc.Root() == nil {
		return fmt.Errorf("empty document")
	}

	root := doc.Root()
	if root.Tag != TagSyncCollection {
		return fmt.Errorf("invalid root tag: %s", root.Tag)
	}

	*r = SyncCollectionRequest{}

	if token := root.SelectElement(TagSyncToken); token != nil {
		r.SyncToken = strings.TrimSpace(token.Text())
	}
	if level := root.SelectElement(TagSyncLevel); level != nil {
		r.SyncLevel = strings.TrimSpace(level.Text())
	}
	if limit := root.SelectElement(TagLimit); limit != nil {
		if n := limit.SelectElement(TagNResults); n != nil {
			v, err := strconv.Atoi(strings.TrimSpace(n.Text()))
			if err != nil || v < 0 {
				return fmt.Errorf("invalid nresults: %q", n.Text())
			}
			r.Limit = v
		}
	}
	r.Prop = propNames(root)

	return nil
}

// ToXML converts a SyncCollectionRequest to an XML document
func (r *SyncCollectionRequest) ToXML() *etree.Document {
	doc := etree.NewDocument()
	root := createRoot(doc, TagSyncCollection, DAV)

	davElement(root, TagSyncToken).SetText(r.SyncToken)
	level := r.SyncLevel
	if level == "" {
		level = "1"
	}
	davElement(root, TagSyncLevel).SetText(level)
	if r.Limit > 0 {
		limit := davElement(root, TagLimit)
		davElement(limit, TagNResults).SetText(strconv.Itoa(r.Limit))
	}
	addProps(root, r.Prop)

	return doc
}

// CalendarMultigetRequest represents a calendar-multiget REPORT request
type CalendarMultigetRequest struct {
	Prop  []Name
	Hrefs []string
}

// Parse parses a calendar-multiget request from an XML document
func (r *CalendarMultigetRequest) Parse(doc *etree.Document) error {
	if doc == nil || doc.Root() == nil {
		return fmt.Errorf("empty document")
	}

	root := doc.Root()
	if root.Tag != TagCalendarMultiget {
		return fmt.Errorf("invalid root tag: %s", root.Tag)
	}

	r.Prop = propNames(root)
	r.Hrefs = nil
	for _, href := range root.SelectElements(TagHref) {
		r.Hrefs = append(r.Hrefs, strings.TrimSpace(href.Text()))
	}

	return nil
}

// ToXML converts a CalendarMultigetRequest to an XML document
func (r *CalendarMultigetRequest) ToXML() *etree.Document {
	doc := etree.NewDocument()
	root := createRoot(doc, TagCalendarMultiget, CalDAV)

	addProps(root, r.Prop)
	for _, href := range r.Hrefs {
		davElement(root, TagHref).SetText(href)
	}

	return doc
}

// PropfindRequest represents a PROPFIND request
type PropfindRequest struct {
	Prop      []Name
	PropNames bool
	AllProp   bool
}

// Parse parses a PROPFIND request. An empty body means allprop.
func (r *PropfindRequest) Parse(doc *etree.Document) error {
	*r = PropfindRequest{}
	if doc == nil || doc.Root() == nil {
		r.AllProp = true
		return nil
	}

	root := doc.Root()
	if root.Tag != TagPropfind {
		return fmt.Errorf("invalid root tag: %s", root.Tag)
	}

	r.Prop = propNames(root)
	r.PropNames = root.SelectElement(TagPropname) != nil
	r.AllProp = root.SelectElement(TagAllprop) != nil || (len(r.Prop) == 0 && !r.PropNames)

	return nil
}

// ToXML converts a PropfindRequest to an XML document
func (r *PropfindRequest) ToXML() *etree.Document {
	doc := etree.NewDocument()
	root := createRoot(doc, TagPropfind, DAV)

	switch {
	case r.PropNames:
		davElement(root, TagPropname)
	case r.AllProp:
		davElement(root, TagAllprop)
	default:
		addProps(root, r.Prop)
	}

	return doc
}
