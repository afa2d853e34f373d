package hostpage

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iedon/reviewhost/account"
)

func serve(c *Cache, r *http.Request) (*http.Response, []byte) {
	rr := httptest.NewRecorder()
	c.ServeHTTP(rr, r)
	res := rr.Result()
	body, _ := io.ReadAll(res.Body)
	return res, body
}

func assertNoCacheHeaders(t *testing.T, res *http.Response, body []byte) {
	t.Helper()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "Fri, 01 Jan 1980 00:00:00 GMT", res.Header.Get("Expires"))
	assert.Equal(t, "no-cache", res.Header.Get("Pragma"))
	assert.Equal(t, "no-cache, must-revalidate", res.Header.Get("Cache-Control"))
	assert.Equal(t, "text/html; charset=UTF-8", res.Header.Get("Content-Type"))
	assert.Equal(t, strconv.Itoa(len(body)), res.Header.Get("Content-Length"))
}

func TestServeAnonymous(t *testing.T) {
	f := newFixture(t)
	c := f.cache(t)

	res, body := serve(c, httptest.NewRequest("GET", "/", nil))
	assertNoCacheHeaders(t, res, body)
	assert.Empty(t, res.Header.Get("Content-Encoding"))
	assert.Equal(t, c.Get().Full, body)

	_, again := serve(c, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, body, again)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.PageResponses.WithLabelValues("anonymous", "identity")))
}

func TestServeAnonymousGzipUsesPrecomputedBytes(t *testing.T) {
	c := newFixture(t).cache(t)
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Accept-Encoding", "deflate, gzip;q=0.8")

	res, body := serve(c, r)
	assertNoCacheHeaders(t, res, body)
	assert.Equal(t, "gzip", res.Header.Get("Content-Encoding"))
	assert.Equal(t, c.Get().FullGz, body)
}

func TestServeIdentifiedUser(t *testing.T) {
	c := newFixture(t).cache(t)
	acct := &account.Account{ID: 1000001, Username: "admin", RegisteredOn: baseTime}
	want, err := c.Get().Render(acct)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/", nil)
	r = r.WithContext(account.WithCurrent(r.Context(), acct))
	res, body := serve(c, r)
	assertNoCacheHeaders(t, res, body)
	assert.Equal(t, want, body)

	r.Header.Set("Accept-Encoding", "gzip")
	res, body = serve(c, r)
	assertNoCacheHeaders(t, res, body)
	assert.Equal(t, "gzip", res.Header.Get("Content-Encoding"))
	assert.Equal(t, want, gunzip(t, body))
}

func TestServeHeadOmitsBody(t *testing.T) {
	c := newFixture(t).cache(t)
	rr := httptest.NewRecorder()
	c.ServeHTTP(rr, httptest.NewRequest("HEAD", "/", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Zero(t, rr.Body.Len())
	assert.Equal(t, strconv.Itoa(len(c.Get().Full)), rr.Header().Get("Content-Length"))
}

func TestAcceptsGzip(t *testing.T) {
	cases := map[string]bool{
		"":                  false,
		"gzip":              true,
		"GZIP":              true,
		"br, gzip":          true,
		"gzip;q=0":          false,
		"gzip; q=0.000":     false,
		"gzip;q=0.5":        true,
		"deflate":           false,
		"x-gzip":            false,
		"identity, *;q=0.1": false,
	}
	for header, want := range cases {
		r := httptest.NewRequest("GET", "/", nil)
		if header != "" {
			r.Header.Set("Accept-Encoding", header)
		}
		assert.Equal(t, want, acceptsGzip(r), header)
	}
}
