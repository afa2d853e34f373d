package renderer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkdownRendersFragment(t *testing.T) {
	r := New()
	out, err := r.Markdown([]byte("---\ntitle: ignored\n---\n# Site *header*\n\n[home](/)\n"))
	require.NoError(t, err)

	html := string(out)
	assert.Contains(t, html, "<h1")
	assert.Contains(t, html, "<em>header</em>")
	assert.Contains(t, html, `<a href="/">home</a>`)
	assert.NotContains(t, html, "ignored")
}

func TestMarkdownHighlightsCode(t *testing.T) {
	out, err := New().Markdown([]byte("```go\npackage main\n```\n"))
	require.NoError(t, err)
	assert.Contains(t, string(out), `data-lang="go"`)
}

func TestMinifyCSS(t *testing.T) {
	out, err := New().MinifyCSS([]byte("body {\n  color : #ff0000;\n}\n"))
	require.NoError(t, err)
	assert.Equal(t, "body{color:red}", string(out))
}

func TestMinifyHTMLKeepsStructure(t *testing.T) {
	out, err := New().MinifyHTML([]byte("<div   class=\"a\">\n  <p>hi</p>\n</div>"))
	require.NoError(t, err)
	html := string(out)
	assert.True(t, strings.HasPrefix(html, `<div class="a">`), html)
	assert.Contains(t, html, "<p>hi</p>")
	assert.Contains(t, html, "</div>")
}
