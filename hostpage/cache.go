package hostpage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/iedon/reviewhost/metrics"
	"github.com/iedon/reviewhost/renderer"
	"github.com/iedon/reviewhost/templatex"
)

// Sources names the on-disk fragments spliced into the page.
type Sources struct {
	CSS    string
	Header string
	Footer string
}

// Options configures a Cache.
type Options struct {
	Template *templatex.Template
	Sources  Sources
	Data     HostPageData
	Renderer *renderer.Renderer
	Minify   bool
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Cache serves the current Page and rebuilds it when a fragment changes.
// Readers never block: the published page is swapped atomically.
type Cache struct {
	tmpl     *templatex.Template
	sources  Sources
	data     HostPageData
	renderer *renderer.Renderer
	minify   bool
	logger   *slog.Logger
	metrics  *metrics.Metrics

	page     atomic.Pointer[Page]
	building atomic.Bool
}

// New builds the first page. Any failure here is returned to the caller.
func New(opts Options) (*Cache, error) {
	if opts.Template == nil {
		return nil, errors.New("host page template not loaded")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if opts.Renderer == nil {
		opts.Renderer = renderer.New()
	}
	c := &Cache{
		tmpl:     opts.Template,
		sources:  opts.Sources,
		data:     opts.Data,
		renderer: opts.Renderer,
		minify:   opts.Minify,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
	p, err := c.build()
	c.observeRebuild(err)
	if err != nil {
		return nil, fmt.Errorf("build host page: %w", err)
	}
	c.page.Store(p)
	return c, nil
}

// Get returns the current page, rebuilding it first when a fragment changed.
// Only the goroutine that wins the rebuild flag does the work; everyone else
// keeps serving the current page. A failed rebuild is logged and the
// previous page stays in service.
func (c *Cache) Get() *Page {
	p := c.page.Load()
	if !p.Stale() {
		return p
	}
	if !c.building.CompareAndSwap(false, true) {
		return p
	}
	defer c.building.Store(false)

	if cur := c.page.Load(); cur != p && !cur.Stale() {
		return cur
	}
	next, err := c.build()
	c.observeRebuild(err)
	if err != nil {
		c.logger.Error("cannot refresh site header/footer", "error", err)
		return p
	}
	c.page.Store(next)
	c.logger.Debug("host page rebuilt", "built_at", next.BuiltAt, "replaced", p.BuiltAt, "css", next.CSS.Path, "header", next.Header.Path, "footer", next.Footer.Path)
	return next
}

// Refresh rebuilds unconditionally. On failure the current page is kept and
// the error returned.
func (c *Cache) Refresh() error {
	next, err := c.build()
	c.observeRebuild(err)
	if err != nil {
		return err
	}
	c.page.Store(next)
	c.logger.Debug("host page refreshed", "built_at", next.BuiltAt)
	return nil
}

func (c *Cache) observeRebuild(err error) {
	if c.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.metrics.PageRebuilds.WithLabelValues(result).Inc()
}
