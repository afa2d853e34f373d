package hostpage

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/iedon/reviewhost/config"
	"github.com/iedon/reviewhost/fsutil"
	"github.com/iedon/reviewhost/metrics"
	"github.com/iedon/reviewhost/renderer"
	"github.com/iedon/reviewhost/templatex"
)

// Open loads the skeleton named by cfg and builds the first page.
func Open(cfg *config.Config, rend *renderer.Renderer, logger *slog.Logger, m *metrics.Metrics) (*Cache, error) {
	src, err := ModuleSrc(cfg.Webapp.Dir, cfg.Webapp.Module, cfg.Webapp.DevMode)
	if err != nil {
		return nil, err
	}
	tmpl, err := templatex.Load(cfg.HostPagePath(), templatex.Options{
		DevMode:   cfg.Webapp.DevMode,
		ModuleSrc: src,
	})
	if err != nil {
		return nil, err
	}
	return New(Options{
		Template: tmpl,
		Sources: Sources{
			CSS:    cfg.SiteFile(cfg.Site.CSS),
			Header: cfg.SiteFile(cfg.Site.Header),
			Footer: cfg.SiteFile(cfg.Site.Footer),
		},
		Data: HostPageData{Config: ClientConfig{
			CanonicalURL:      cfg.CanonicalURL,
			SiteName:          cfg.SiteName,
			AllowDraftChanges: cfg.Change.AllowDrafts,
		}},
		Renderer: rend,
		Minify:   cfg.Site.Minify,
		Logger:   logger,
		Metrics:  m,
	})
}

// ModuleSrc returns the script reference for the client module. Outside dev
// mode the module content hash is appended so browsers fetch a new copy
// after every upgrade.
func ModuleSrc(webappDir, module string, devMode bool) (string, error) {
	if devMode {
		return module, nil
	}
	sum, err := fsutil.HashFile(filepath.Join(webappDir, filepath.FromSlash(module)))
	if err != nil {
		return "", fmt.Errorf("no %s in webapp root: %w", module, err)
	}
	return module + "?content=" + sum, nil
}
