// Package app renders the HTML pages of setpass. Pages are embedded in the
// binary and may be overridden from a directory that is reloaded on change.
package app

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"

	"git.sr.ht/~jakintosh/setpass/internal/resources"
)

const (
	PasswordForm = "password_form.html"
	ResetForm    = "reset_form.html"
)

const serverErrorHTML = "<!DOCTYPE html><html><body><h1>Internal Server Error</h1></body></html>"

//go:embed templates/*.html
var embedded embed.FS

type Pages struct {
	mu        sync.RWMutex
	templates *template.Template
	dir       string
	watcher   *resources.Watcher
}

// NewPages loads the embedded pages. When dir is not empty, any *.html file in
// dir replaces the embedded page of the same name and dir is watched for
// changes.
func NewPages(
	dir string,
) (
	*Pages,
	error,
) {
	p := &Pages{dir: dir}

	templates, err := p.load()
	if err != nil {
		return nil, err
	}
	p.templates = templates

	if dir != "" {
		watcher, err := resources.WatchDir(dir, resources.DefaultDebounce, p.reload)
		if err != nil {
			return nil, fmt.Errorf("failed to watch templates dir '%s': %w", dir, err)
		}
		p.watcher = watcher
	}
	return p, nil
}

func (p *Pages) Close() error {
	if p.watcher == nil {
		return nil
	}
	return p.watcher.Close()
}

// Render writes the named page, or a 500 page if it can't be rendered.
func (p *Pages) Render(
	w http.ResponseWriter,
	r *http.Request,
	name string,
	data any,
) {
	p.mu.RLock()
	templates := p.templates
	p.mu.RUnlock()

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		logAppErr(r, fmt.Sprintf("couldn't render template: %v", err))
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(serverErrorHTML))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (p *Pages) load() (*template.Template, error) {
	templates, err := template.ParseFS(embedded, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse embedded templates: %w", err)
	}
	if p.dir == "" {
		return templates, nil
	}

	matches, err := filepath.Glob(filepath.Join(p.dir, "*.html"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return templates, nil
	}
	templates, err = templates.ParseFiles(matches...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates from '%s': %w", p.dir, err)
	}
	return templates, nil
}

func (p *Pages) reload() {
	templates, err := p.load()
	if err != nil {
		// keep serving the last good set
		slog.Error("template reload failed", "dir", p.dir, "err", err)
		return
	}

	p.mu.Lock()
	p.templates = templates
	p.mu.Unlock()
	slog.Info("loaded templates", "dir", p.dir)
}

func logAppErr(r *http.Request, msg string) {
	slog.Error(msg, "method", r.Method, "uri", r.RequestURI)
}
