package xml

import (
	"fmt"

	"github.com/beevik/etree"
)

// MultistatusResponse represents a multistatus response
type MultistatusResponse struct {
	Responses []Response
	// SyncToken is set on sync-collection reports.
	SyncToken string
}

// Response represents a single response within a multistatus
type Response struct {
	Href      string
	PropStats []PropStat
	Error     *Error
	Status    string
}

// PropStat represents property status in a response
type PropStat struct {
	Props  []Property
	Status string
}

// Parse parses a multistatus response from an XML document
func (m *MultistatusResponse) Parse(doc *etree.Document) error {
	if doc == nil || doc.Root() == nil {
		return fmt.Errorf("empty document")
	}

	root := doc.Root()
	if root.Tag != TagMultistatus {
		return fmt.Errorf("invalid root tag: %s", root.Tag)
	}

	m.Responses = nil
	m.SyncToken = ""
	if token := root.SelectElement(TagSyncToken); token != nil {
		m.SyncToken = token.Text()
	}

	for _, respElem := range root.SelectElements(TagResponse) {
		resp := Response{}

		if hrefElem := respElem.SelectElement(TagHref); hrefElem != nil {
			resp.Href = hrefElem.Text()
		}
		if statusElem := respElem.SelectElement(TagStatus); statusElem != nil {
			resp.Status = statusElem.Text()
		}

		if errorElem := respElem.SelectElement(TagError); errorElem != nil {
			if child := errorElem.ChildElements(); len(child) > 0 {
				resp.Error = &Error{
					Tag:       child[0].Tag,
					Namespace: namespaceOf(child[0]),
					Message:   child[0].Text(),
				}
			}
		}

		for _, propstatElem := range respElem.SelectElements(TagPropstat) {
			propstat := PropStat{}

			if propElem := propstatElem.SelectElement(TagProp); propElem != nil {
				for _, prop := range propElem.ChildElements() {
					property := Property{}
					property.FromElement(prop)
					propstat.Props = append(propstat.Props, property)
				}
			}

			if statusElem := propstatElem.SelectElement(TagStatus); statusElem != nil {
				propstat.Status = statusElem.Text()
			}

			resp.PropStats = append(resp.PropStats, propstat)
		}

		m.Responses = append(m.Responses, resp)
	}

	return nil
}

// Find returns the response for href.
func (m *MultistatusResponse) Find(href string) (Response, bool) {
	for _, r := range m.Responses {
		if r.Href == href {
			return r, true
		}
	}
	return Response{}, false
}

// Prop returns the first property called name with status 200 in the response.
func (r Response) Prop(namespace, name string) (Property, bool) {
	for _, ps := range r.PropStats {
		if ps.Status != StatusLine(200) {
			continue
		}
		for _, p := range ps.Props {
			if p.Name == name && p.Namespace == namespace {
				return p, true
			}
		}
	}
	return Property{}, false
}

// ToXML converts a MultistatusResponse to an XML document
func (m *MultistatusResponse) ToXML() *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement(TagMultistatus)
	root.Space = Prefix(DAV)
	AddNamespaces(doc)

	for _, resp := range m.Responses {
		response := davElement(root, TagResponse)
		davElement(response, TagHref).SetText(resp.Href)

		for _, propstat := range resp.PropStats {
			ps := davElement(response, TagPropstat)
			prop := davElement(ps, TagProp)
			for _, p := range propstat.Props {
				prop.AddChild(p.ToElement())
			}
			davElement(ps, TagStatus).SetText(propstat.Status)
		}
		if resp.Status != "" {
			davElement(response, TagStatus).SetText(resp.Status)
		}
		if resp.Error != nil {
			response.AddChild(resp.Error.ToElement())
		}
	}

	if m.SyncToken != "" {
		davElement(root, TagSyncToken).SetText(m.SyncToken)
	}

	return doc
}

// Bytes serializes the response.
func (m *MultistatusResponse) Bytes() ([]byte, error) {
	doc := m.ToXML()
	doc.Indent(2)
	return doc.WriteToBytes()
}

func davElement(parent *etree.Element, tag string) *etree.Element {
	elem := parent.CreateElement(tag)
	elem.Space = Prefix(DAV)
	return elem
}
