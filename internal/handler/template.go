package handler

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/dukerupert/ncats/internal/flash"
	"github.com/dukerupert/ncats/internal/middleware"
	"github.com/dukerupert/ncats/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageNames = []string{
	"index.html",
	"login.html",
	"logout.html",
	"register.html",
	"reset_request.html",
	"reset_password.html",
	"dashboard.html",
	"profile.html",
}

// page is the data every template receives.
type page struct {
	Title        string
	Flashes      []flash.Message
	LoggedIn     bool
	SiteKey      string
	User         *model.User
	Applications []model.Application
	Next         string
	Token        string
}

// Renderer executes page templates inside the shared layout.
type Renderer struct {
	pages    map[string]*template.Template
	sessions middleware.SessionReader
	siteKey  string
	logger   *slog.Logger
}

// NewRenderer parses the embedded templates. siteKey is the public
// reCAPTCHA key; empty hides the widget.
func NewRenderer(sessions middleware.SessionReader, siteKey string, logger *slog.Logger) *Renderer {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		pages[name] = template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/"+name))
	}
	return &Renderer{
		pages:    pages,
		sessions: sessions,
		siteKey:  siteKey,
		logger:   logger,
	}
}

func (rd *Renderer) render(w http.ResponseWriter, r *http.Request, status int, name string, p page) {
	tmpl, ok := rd.pages[name]
	if !ok {
		rd.logger.Error("unknown template", "name", name)
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}

	_, p.LoggedIn = rd.sessions.Current(r)
	p.SiteKey = rd.siteKey
	p.Flashes = flash.Pop(w, r)

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", p); err != nil {
		rd.logger.Error("template error", "name", name, "error", err)
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}
