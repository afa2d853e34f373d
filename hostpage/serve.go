package hostpage

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/iedon/reviewhost/account"
)

// Response header values that keep clients and proxies from caching the page.
const (
	HeaderExpires      = "Fri, 01 Jan 1980 00:00:00 GMT"
	HeaderPragma       = "no-cache"
	HeaderCacheControl = "no-cache, must-revalidate"
	ContentType        = "text/html; charset=UTF-8"
)

// ServeHTTP writes the host page for the request's user.
func (c *Cache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	page := c.Get()

	acct, identified := account.Current(r.Context())
	raw, err := page.Render(acct)
	if err != nil {
		c.logger.Error("render host page", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	variant := "anonymous"
	if identified {
		variant = "identified"
	}
	encoding := "identity"

	body := raw
	if acceptsGzip(r) {
		if identified {
			if body, err = compress(raw); err != nil {
				c.logger.Error("compress host page", "error", err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
		} else {
			body = page.FullGz
		}
		encoding = "gzip"
		w.Header().Set("Content-Encoding", "gzip")
	}

	h := w.Header()
	h.Set("Vary", "Accept-Encoding")
	h.Set("Expires", HeaderExpires)
	h.Set("Pragma", HeaderPragma)
	h.Set("Cache-Control", HeaderCacheControl)
	h.Set("Content-Type", ContentType)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)

	if c.metrics != nil {
		c.metrics.PageResponses.WithLabelValues(variant, encoding).Inc()
	}
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(body); err != nil {
		c.logger.Debug("write host page", "error", err)
	}
}

func acceptsGzip(r *http.Request) bool {
	for _, header := range r.Header.Values("Accept-Encoding") {
		for part := range strings.SplitSeq(header, ",") {
			name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
			if !strings.EqualFold(strings.TrimSpace(name), "gzip") {
				continue
			}
			return !zeroQuality(params)
		}
	}
	return false
}

func zeroQuality(params string) bool {
	for param := range strings.SplitSeq(params, ";") {
		key, val, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "q") {
			continue
		}
		q, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return err == nil && q == 0
	}
	return false
}
