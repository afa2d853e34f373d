package hostpage

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/iedon/reviewhost/account"
	"github.com/iedon/reviewhost/fsutil"
	"github.com/iedon/reviewhost/templatex"
)

// DataVar is the global script variable carrying bootstrap data.
const DataVar = templatex.DataSlot

// ErrNoMarker is returned when the injection marker cannot be located in the
// serialized page.
var ErrNoMarker = errors.New("no injection marker in transformed host page")

const dataMarker = "<!--" + DataVar

// ClientConfig is the server configuration exposed to the client application.
type ClientConfig struct {
	CanonicalURL      string `json:"canonical_url,omitempty"`
	SiteName          string `json:"site_name"`
	AllowDraftChanges bool   `json:"allow_draft_changes"`
}

// HostPageData is the anonymous bootstrap payload.
type HostPageData struct {
	Config ClientConfig `json:"config"`
}

// FileInfo records the modification time of a fragment at build time.
type FileInfo struct {
	Path    string
	ModTime time.Time
}

func statFile(path string) FileInfo {
	return FileInfo{Path: path, ModTime: fsutil.ModTime(path)}
}

// Stale reports whether the file's modification time moved since it was recorded.
func (f FileInfo) Stale() bool {
	return !fsutil.ModTime(f.Path).Equal(f.ModTime)
}

// Page is one rendered snapshot of the host page. It is never modified
// after construction.
type Page struct {
	CSS    FileInfo
	Header FileInfo
	Footer FileInfo

	// Part1 and Part2 surround the per-user injection point.
	Part1  []byte
	Part2  []byte
	Full   []byte
	FullGz []byte

	BuiltAt time.Time
}

// Stale reports whether any tracked fragment changed on disk.
func (p *Page) Stale() bool {
	return p.CSS.Stale() || p.Header.Stale() || p.Footer.Stale()
}

// Render returns the document for acct. A nil account yields the shared
// anonymous bytes, which callers must not modify.
func (p *Page) Render(acct *account.Account) ([]byte, error) {
	if acct == nil {
		return p.Full, nil
	}
	raw, err := json.Marshal(acct)
	if err != nil {
		return nil, fmt.Errorf("encode account: %w", err)
	}
	userData := make([]byte, 0, len(DataVar)+len(raw)+10)
	userData = append(userData, DataVar+".account="...)
	userData = append(userData, raw...)
	userData = append(userData, ';')
	return concat(p.Part1, userData, p.Part2), nil
}

type fragment struct {
	content string
	present bool
}

func (c *Cache) build() (*Page, error) {
	page := &Page{BuiltAt: time.Now()}
	fill := make(map[string]fragment, 4)

	var err error
	page.CSS, fill[templatex.CSSSlot], err = c.injectCSS(c.sources.CSS)
	if err != nil {
		return nil, err
	}
	page.Header, fill[templatex.HeaderSlot], err = c.injectHTML(templatex.HeaderSlot, c.sources.Header)
	if err != nil {
		return nil, err
	}
	page.Footer, fill[templatex.FooterSlot], err = c.injectHTML(templatex.FooterSlot, c.sources.Footer)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(c.data)
	if err != nil {
		return nil, fmt.Errorf("encode host page data: %w", err)
	}
	fill[templatex.DataSlot] = fragment{
		content: "var " + DataVar + "=" + string(data) + ";" + dataMarker + "-->",
		present: true,
	}

	raw, offsets := c.tmpl.ExecuteOffsets(func(id string) (string, bool) {
		f := fill[id]
		return f.content, f.present
	})
	// Search inside the data slot only; fragments may carry the same comment.
	start := offsets[templatex.DataSlot]
	p := strings.Index(raw[start:], dataMarker)
	if p < 0 {
		return nil, ErrNoMarker
	}
	p += start
	end := strings.IndexByte(raw[p:], '>')
	if end < 0 {
		return nil, ErrNoMarker
	}
	page.Part1 = []byte(raw[:p])
	page.Part2 = []byte(raw[p+end+1:])
	page.Full = concat(page.Part1, page.Part2)
	page.FullGz, err = compress(page.Full)
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (c *Cache) injectCSS(path string) (FileInfo, fragment, error) {
	info := statFile(path)
	if !c.tmpl.HasSlot(templatex.CSSSlot) {
		return info, fragment{}, nil
	}
	css, ok, err := fsutil.ReadOptional(path)
	if err != nil {
		return info, fragment{}, fmt.Errorf("read %s: %w", path, err)
	}
	if !ok {
		return info, fragment{}, nil
	}
	if c.minify {
		if css, err = c.renderer.MinifyCSS(css); err != nil {
			return info, fragment{}, fmt.Errorf("minify %s: %w", path, err)
		}
	}
	return info, fragment{content: "\n" + string(norm.NFC.Bytes(css)) + "\n", present: true}, nil
}

func (c *Cache) injectHTML(id, path string) (FileInfo, fragment, error) {
	info := statFile(path)
	if !c.tmpl.HasSlot(id) {
		return info, fragment{}, nil
	}
	src, ok, err := fsutil.ReadOptional(path)
	if err != nil {
		return info, fragment{}, fmt.Errorf("read %s: %w", path, err)
	}
	if !ok {
		return info, fragment{}, nil
	}

	var markup []byte
	if strings.EqualFold(filepath.Ext(path), ".md") {
		if markup, err = c.renderer.Markdown(src); err != nil {
			return info, fragment{}, fmt.Errorf("%s: %w", path, err)
		}
	} else {
		normalized, err := templatex.Fragment(src)
		if err != nil {
			return info, fragment{}, fmt.Errorf("parse %s: %w", path, err)
		}
		markup = []byte(normalized)
	}
	if c.minify {
		if markup, err = c.renderer.MinifyHTML(markup); err != nil {
			return info, fragment{}, fmt.Errorf("minify %s: %w", path, err)
		}
	}
	return info, fragment{content: string(norm.NFC.Bytes(markup)), present: true}, nil
}

func concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return buf.Bytes(), nil
}
