package xml

import (
	"reflect"
	"strings"
	"testing"

	"github.com/beevik/etree"
)

func TestProperty_ToElement(t *testing.T) {
	tests := []struct {
		name      string
		prop      Property
		wantSpace string
		wantXmlns string
	}{
		{
			name:      "dav property",
			prop:      Property{Name: "getetag", Namespace: DAV, TextContent: `"a-1"`},
			wantSpace: "D",
		},
		{
			name:      "calendar server property",
			prop:      Property{Name: "getctag", Namespace: CalendarServer},
			wantSpace: "CS",
		},
		{
			name:      "unknown namespace is declared inline",
			prop:      Property{Name: "calendar-color", Namespace: "http://apple.com/ns/ical/"},
			wantXmlns: "http://apple.com/ns/ical/",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			elem := tt.prop.ToElement()
			if elem.Tag != tt.prop.Name {
				t.Errorf("Tag = %q, want %q", elem.Tag, tt.prop.Name)
			}
			if elem.Space != tt.wantSpace {
				t.Errorf("Space = %q, want %q", elem.Space, tt.wantSpace)
			}
			if got := elem.SelectAttrValue("xmlns", ""); got != tt.wantXmlns {
				t.Errorf("xmlns = %q, want %q", got, tt.wantXmlns)
			}
			if elem.Text() != tt.prop.TextContent {
				t.Errorf("Text = %q, want %q", elem.Text(), tt.prop.TextContent)
			}
		})
	}
}

func TestProperty_FromElement(t *testing.T) {
	doc := etree.NewDocument()
	err := doc.ReadFromString(`<D:prop xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
<D:resourcetype><D:collection/><C:calendar/></D:resourcetype>
</D:prop>`)
	if err != nil {
		t.Fatal(err)
	}

	var p Property
	p.FromElement(doc.Root().ChildElements()[0])

	if p.XMLName() != (Name{Space: DAV, Local: "resourcetype"}) {
		t.Errorf("XMLName() = %v", p.XMLName())
	}
	var children []Name
	for _, c := range p.Children {
		children = append(children, c.XMLName())
	}
	want := []Name{{Space: DAV, Local: "collection"}, {Space: CalDAV, Local: "calendar"}}
	if !reflect.DeepEqual(children, want) {
		t.Errorf("children = %v, want %v", children, want)
	}
	if len(p.Attributes) != 0 {
		t.Errorf("Attributes = %v, want none", p.Attributes)
	}
}

func TestErrorDocument(t *testing.T) {
	doc := ErrorDocument(Error{Namespace: DAV, Tag: TagValidSyncToken})
	s, err := doc.WriteToString()
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"<D:error", `xmlns:D="DAV:"`, "<D:valid-sync-token/>"} {
		if !strings.Contains(s, want) {
			t.Errorf("ErrorDocument() = %s, missing %s", s, want)
		}
	}
}

func TestStatusLine(t *testing.T) {
	tests := map[int]string{
		200: "HTTP/1.1 200 OK",
		404: "HTTP/1.1 404 Not Found",
		507: "HTTP/1.1 507 Insufficient Storage",
	}
	for code, want := range tests {
		if got := StatusLine(code); got != want {
			t.Errorf("StatusLine(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestName_String(t *testing.T) {
	n := Name{Space: CalDAV, Local: "calendar-data"}
	if got := n.String(); got != "{urn:ietf:params:xml:ns:caldav}calendar-data" {
		t.Errorf("String() = %q", got)
	}
}
