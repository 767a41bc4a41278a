package server

import (
	_ "embed"
	"html/template"
	"maps"
	"net/http"
	"slices"

	"github.com/dgellow/auth-front/internal/log"
)

// PageData is rendered by the landing and account pages
type PageData struct {
	Title         string
	Authenticated bool
	Subject       string
	Email         string
	Claims        map[string]any
	LoginURL      string
	LogoutURL     string
	AccountURL    string
}

// ClaimRows returns the claims as name/value pairs sorted by name
func (d PageData) ClaimRows() [][2]any {
	keys := slices.Sorted(maps.Keys(d.Claims))
	rows := make([][2]any, len(keys))
	for i, k := range keys {
		rows[i] = [2]any{k, d.Claims[k]}
	}
	return rows
}

//go:embed templates/page.html
var pageTemplateHTML string

var pageTemplate = template.Must(template.New("page").Parse(pageTemplateHTML))

// RenderPage writes data as an HTML page
func RenderPage(w http.ResponseWriter, data PageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := pageTemplate.Execute(w, data); err != nil {
		log.LogErrorWithFields("server", "Failed to render page", map[string]any{
			"title": data.Title,
			"error": err.Error(),
		})
	}
}
