// Package web serves the installable web shell and the API reference page.
package web

import (
	_ "embed"
	"html/template"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"

	"github.com/kuitang/tickr/internal/obs"
)

const (
	cacheNoStore  = "no-cache, no-store, must-revalidate"
	cacheManifest = "public, max-age=3600, must-revalidate"
)

//go:embed api.md
var apiReference []byte

var docsTemplate = template.Must(template.New("docs").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
</head>
<body>
<main>{{.Content}}</main>
</body>
</html>
`))

// StaticHandler serves the web shell from a directory: index.html at "/",
// manifest.json, sw.js and everything else under /static/.
type StaticHandler struct {
	dir string

	docsOnce sync.Once
	docsHTML template.HTML
}

// NewStaticHandler creates a handler serving files from dir.
func NewStaticHandler(dir string) *StaticHandler {
	return &StaticHandler{dir: dir}
}

// RegisterRoutes registers static routes on the given mux.
func (h *StaticHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.HandleIndex)
	mux.HandleFunc("GET /manifest.json", h.HandleManifest)
	mux.HandleFunc("GET /sw.js", h.HandleServiceWorker)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(h.dir))))
	mux.HandleFunc("GET /docs", h.HandleAPIDocs)
}

// HandleIndex serves the app shell. It is never cached so a deploy reaches
// every device on its next load.
func (h *StaticHandler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	setNoStore(w)
	h.serveFile(w, r, "index.html", "text/html; charset=utf-8")
}

// HandleManifest serves the PWA manifest with a short cache.
func (h *StaticHandler) HandleManifest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", cacheManifest)
	h.serveFile(w, r, "manifest.json", "application/manifest+json")
}

// HandleServiceWorker serves sw.js uncached so browsers notice updates.
func (h *StaticHandler) HandleServiceWorker(w http.ResponseWriter, r *http.Request) {
	setNoStore(w)
	h.serveFile(w, r, "sw.js", "application/javascript")
}

// HandleAPIDocs renders the embedded API reference.
func (h *StaticHandler) HandleAPIDocs(w http.ResponseWriter, r *http.Request) {
	h.docsOnce.Do(func() {
		h.docsHTML = template.HTML(renderMarkdownContent(apiReference))
	})
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := struct {
		Title   string
		Content template.HTML
	}{Title: "Tickr API", Content: h.docsHTML}
	if err := docsTemplate.Execute(w, data); err != nil {
		obs.From(r.Context()).Error("docs_render_failed", "pkg", "web", "error", err)
	}
}

func (h *StaticHandler) serveFile(w http.ResponseWriter, r *http.Request, name, contentType string) {
	path := filepath.Join(h.dir, name)
	if _, err := os.Stat(path); err != nil {
		obs.From(r.Context()).Warn("static_file_missing", "pkg", "web", "file", name)
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", contentType)
	http.ServeFile(w, r, path)
}

func setNoStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", cacheNoStore)
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}

// renderMarkdownContent converts markdown to sanitized HTML.
func renderMarkdownContent(md []byte) []byte {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock
	p := parser.NewWithExtensions(extensions)
	doc := p.Parse(md)

	renderer := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.HrefTargetBlank,
	})
	htmlContent := markdown.Render(doc, renderer)

	policy := bluemonday.UGCPolicy()
	policy.AllowElements("pre", "code")
	policy.AllowAttrs("class").OnElements("code", "pre")
	return policy.SanitizeBytes(htmlContent)
}
