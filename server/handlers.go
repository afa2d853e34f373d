package server

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/iedon/reviewhost/account"
	"github.com/iedon/reviewhost/change"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHostPage(w http.ResponseWriter, r *http.Request) {
	if s.opts.Page == nil {
		writeError(w, http.StatusServiceUnavailable, "host page not loaded")
		return
	}
	s.opts.Page.ServeHTTP(w, r)
}

// loadResource resolves the change in the URL for the current caller.
func (s *Server) loadResource(r *http.Request) (change.Resource, error) {
	id, err := change.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		return change.Resource{}, err
	}
	c, err := s.opts.Changes.Change(r.Context(), id)
	if err != nil {
		return change.Resource{}, err
	}
	acct, _ := account.Current(r.Context())
	return change.Resource{Change: c, Actor: acct}, nil
}

func (s *Server) handleDeleteChange(w http.ResponseWriter, r *http.Request) {
	if _, ok := account.Current(r.Context()); !ok {
		writeError(w, http.StatusForbidden, "Authentication required")
		return
	}
	rsrc, err := s.loadResource(r)
	if err == nil {
		err = s.opts.Delete.Apply(r.Context(), rsrc)
	}
	if err != nil {
		s.writeRESTError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChangeActions(w http.ResponseWriter, r *http.Request) {
	rsrc, err := s.loadResource(r)
	if err != nil {
		s.writeRESTError(w, r, err)
		return
	}
	actions := map[string]change.Description{}
	if d := s.opts.Delete.Description(r.Context(), rsrc); d.Visible {
		actions["/"] = d
	}
	writeREST(w, http.StatusOK, actions)
}

func (s *Server) writeRESTError(w http.ResponseWriter, r *http.Request, err error) {
	status := restStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("rest", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, restMessage(err, status))
}

// handleStatic serves webapp assets. The host page skeleton itself is only
// reachable through the cache.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.tryStatic(w, r) {
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) tryStatic(w http.ResponseWriter, r *http.Request) bool {
	clean := sanitizeRequestPath(r.URL.Path)
	if clean == "/" {
		return false
	}
	if strings.EqualFold(strings.TrimPrefix(clean, "/"), path.Clean(filepath.ToSlash(s.cfg.Webapp.HostPage))) {
		return false
	}
	target := filepath.Join(s.cfg.Webapp.Dir, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
	if !isWithin(s.cfg.Webapp.Dir, target) {
		return false
	}
	info, err := os.Stat(target)
	if err != nil || info.IsDir() {
		return false
	}
	if r.URL.Query().Get("content") != "" {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	}
	http.ServeFile(w, r, target)
	return true
}

func isWithin(base, target string) bool {
	baseAbs, err := filepath.Abs(base)
	if err != nil {
		return false
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(baseAbs, targetAbs)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return false
	}
	return true
}

func sanitizeRequestPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	clean := path.Clean(p)
	if clean == "." {
		return "/"
	}
	return clean
}
