package templatex

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Element identifiers recognised in the host page skeleton.
const (
	CSSSlot    = "site_css"
	HeaderSlot = "site_header"
	FooterSlot = "site_footer"
	DataSlot   = "hostpagedata"
	ModuleID   = "app_module"
	DevModeID  = "app_devmode"
)

// ErrMissingElement is returned when a required element is absent from the skeleton.
var ErrMissingElement = errors.New("required element missing from host page")

// Options controls how the skeleton is prepared before compilation.
type Options struct {
	// DevMode keeps the app_devmode element in the page.
	DevMode bool
	// ModuleSrc is written into the src attribute of the app_module script.
	ModuleSrc string
}

type slotSpec struct {
	id       string
	stripID  bool
	script   bool
	required bool
}

var slotSpecs = []slotSpec{
	{id: CSSSlot, stripID: true},
	{id: HeaderSlot},
	{id: FooterSlot},
	{id: DataSlot, script: true, required: true},
}

type slot struct {
	id    string
	open  string
	close string
}

// Template is the compiled host page: serialized text split around the
// injectable elements. It is immutable and safe for concurrent use.
type Template struct {
	segments []string
	slots    []slot
	size     int
}

// Load reads and compiles the host page skeleton at path.
func Load(path string, opts Options) (*Template, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("host page %s: %w", path, err)
	}
	return Parse(raw, opts)
}

// Parse compiles a host page skeleton.
func Parse(raw []byte, opts Options) (*Template, error) {
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse host page: %w", err)
	}

	if !opts.DevMode {
		if n := findByID(doc, DevModeID); n != nil {
			n.Parent.RemoveChild(n)
		}
	}

	module := findByID(doc, ModuleID)
	if module == nil {
		return nil, fmt.Errorf("%w: no %s to rewrite", ErrMissingElement, ModuleID)
	}
	setAttr(module, "src", opts.ModuleSrc)
	asScript(module)

	token := markerToken(raw)
	slots := make([]slot, 0, len(slotSpecs))
	for _, spec := range slotSpecs {
		n := findByID(doc, spec.id)
		if n == nil {
			if spec.required {
				return nil, fmt.Errorf("%w: no %s", ErrMissingElement, spec.id)
			}
			continue
		}
		for n.FirstChild != nil {
			n.RemoveChild(n.FirstChild)
		}
		switch {
		case spec.script:
			asScript(n)
		case spec.stripID:
			removeAttr(n, "id")
		}
		open, closing, err := renderShell(n, token)
		if err != nil {
			return nil, fmt.Errorf("slot %s: %w", spec.id, err)
		}
		marker := &html.Node{Type: html.CommentNode, Data: token + ":" + strconv.Itoa(len(slots))}
		n.Parent.InsertBefore(marker, n)
		n.Parent.RemoveChild(n)
		slots = append(slots, slot{id: spec.id, open: open, close: closing})
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return nil, fmt.Errorf("render host page: %w", err)
	}

	text := buf.String()
	t := &Template{slots: slots, size: len(text)}
	for i := range slots {
		marker := "<!--" + token + ":" + strconv.Itoa(i) + "-->"
		idx := strings.Index(text, marker)
		if idx < 0 {
			return nil, fmt.Errorf("slot marker %d lost during rendering", i)
		}
		t.segments = append(t.segments, text[:idx])
		text = text[idx+len(marker):]
	}
	t.segments = append(t.segments, text)
	return t, nil
}

// HasSlot reports whether the skeleton contains the injectable element id.
func (t *Template) HasSlot(id string) bool {
	for _, s := range t.slots {
		if s.id == id {
			return true
		}
	}
	return false
}

// Execute assembles the document. fill returns the content of a slot, or
// ok=false to drop the element entirely.
func (t *Template) Execute(fill func(id string) (content string, ok bool)) string {
	out, _ := t.ExecuteOffsets(fill)
	return out
}

// ExecuteOffsets is Execute that also reports where the content of each
// emitted slot starts in the returned document.
func (t *Template) ExecuteOffsets(fill func(id string) (content string, ok bool)) (string, map[string]int) {
	var sb strings.Builder
	sb.Grow(t.size)
	offsets := make(map[string]int, len(t.slots))
	for i, s := range t.slots {
		sb.WriteString(t.segments[i])
		content, ok := fill(s.id)
		if !ok {
			continue
		}
		sb.WriteString(s.open)
		offsets[s.id] = sb.Len()
		sb.WriteString(content)
		sb.WriteString(s.close)
	}
	sb.WriteString(t.segments[len(t.segments)-1])
	return sb.String(), offsets
}

// Fragment parses an HTML snippet in body context and re-serializes it, so
// unbalanced markup in an operator supplied file cannot leak into the page.
func Fragment(raw []byte) (string, error) {
	context := &html.Node{Type: html.ElementNode, DataAtom: atom.Div, Data: "div"}
	nodes, err := html.ParseFragment(bytes.NewReader(raw), context)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	for _, n := range nodes {
		if err := html.Render(&buf, n); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

func renderShell(n *html.Node, token string) (string, string, error) {
	shell := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	shell.AppendChild(&html.Node{Type: html.TextNode, Data: token})
	var buf bytes.Buffer
	if err := html.Render(&buf, shell); err != nil {
		return "", "", err
	}
	open, closing, ok := strings.Cut(buf.String(), token)
	if !ok {
		return "", "", fmt.Errorf("element <%s> cannot hold content", n.Data)
	}
	return open, closing, nil
}

func markerToken(raw []byte) string {
	token := "templatex-slot"
	for i := 0; bytes.Contains(raw, []byte(token)); i++ {
		token = "templatex-slot-" + strconv.Itoa(i)
	}
	return token
}

func findByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode {
		for _, a := range n.Attr {
			if a.Namespace == "" && a.Key == "id" && a.Val == id {
				return n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

func asScript(n *html.Node) {
	removeAttr(n, "id")
	setAttr(n, "type", "text/javascript")
	setAttr(n, "language", "javascript")
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			continue
		}
		kept = append(kept, a)
	}
	n.Attr = kept
}
