// Package web holds the studio page and its browser assets.
package web

import (
	"embed"
	"html/template"
	"io/fs"
	"net/http"
)

//go:embed templates static
var assets embed.FS

func Templates() (*template.Template, error) {
	return template.ParseFS(assets, "templates/*.html")
}

// Static serves the files under static/.
func Static() http.Handler {
	sub, err := fs.Sub(assets, "static")
	if err != nil {
		panic(err)
	}
	return http.FileServerFS(sub)
}
