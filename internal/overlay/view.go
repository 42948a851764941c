package overlay

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Decl is one CSS declaration.
type Decl struct {
	Prop  string
	Value string
}

// Style is an ordered list of declarations.
type Style []Decl

func (s Style) String() string {
	var b strings.Builder
	for i, d := range s {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(d.Prop)
		b.WriteString(": ")
		b.WriteString(d.Value)
		b.WriteByte(';')
	}
	return b.String()
}

// With returns a copy of s with prop set to value, keeping its position if
// already present.
func (s Style) With(prop, value string) Style {
	out := make(Style, len(s), len(s)+1)
	copy(out, s)
	for i := range out {
		if out[i].Prop == prop {
			out[i].Value = value
			return out
		}
	}
	return append(out, Decl{prop, value})
}

// Element is a node in an injected overlay. An empty Tag makes it a text
// node carrying only Text.
type Element struct {
	Tag      string
	ID       string
	Style    Style
	Attrs    []html.Attribute
	Text     string
	Children []*Element
}

// TextNode is a bare text node.
func TextNode(s string) *Element {
	return &Element{Text: s}
}

// Lines turns s into text nodes separated by <br> elements.
func Lines(s string) []*Element {
	parts := strings.Split(s, "\n")
	out := make([]*Element, 0, 2*len(parts)-1)
	for i, p := range parts {
		if i > 0 {
			out = append(out, &Element{Tag: "br"})
		}
		if p != "" {
			out = append(out, TextNode(p))
		}
	}
	return out
}

// Node converts e to an html.Node tree.
func (e *Element) Node() *html.Node {
	if e.Tag == "" {
		return &html.Node{Type: html.TextNode, Data: e.Text}
	}

	n := &html.Node{
		Type:     html.ElementNode,
		Data:     e.Tag,
		DataAtom: atom.Lookup([]byte(e.Tag)),
	}
	if e.ID != "" {
		n.Attr = append(n.Attr, html.Attribute{Key: "id", Val: e.ID})
	}
	if len(e.Style) > 0 {
		n.Attr = append(n.Attr, html.Attribute{Key: "style", Val: e.Style.String()})
	}
	n.Attr = append(n.Attr, e.Attrs...)

	if e.Text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: e.Text})
	}
	for _, c := range e.Children {
		n.AppendChild(c.Node())
	}
	return n
}

// Render serialises e to HTML.
func Render(e *Element) (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, e.Node()); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Document holds the top-level elements injected into one page, in the order
// they were appended.
type Document struct {
	order []string
	byID  map[string]*Element
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{byID: make(map[string]*Element)}
}

// Append adds el, removing any existing element with the same id first.
func (d *Document) Append(el *Element) {
	d.Remove(el.ID)
	d.order = append(d.order, el.ID)
	d.byID[el.ID] = el
}

// Replace swaps the element with el's id in place. It appends when absent.
func (d *Document) Replace(el *Element) {
	if _, ok := d.byID[el.ID]; !ok {
		d.Append(el)
		return
	}
	d.byID[el.ID] = el
}

// Remove drops the element with id. It reports whether one was present.
func (d *Document) Remove(id string) bool {
	if _, ok := d.byID[id]; !ok {
		return false
	}
	delete(d.byID, id)
	for i, o := range d.order {
		if o == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the element with id, or nil.
func (d *Document) Get(id string) *Element {
	return d.byID[id]
}

// IDs lists the top-level ids in document order.
func (d *Document) IDs() []string {
	return append([]string(nil), d.order...)
}

// HTML renders every top-level element in order.
func (d *Document) HTML() (string, error) {
	var buf bytes.Buffer
	for _, id := range d.order {
		if err := html.Render(&buf, d.byID[id].Node()); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}
