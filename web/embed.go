// Package web ships the browser chat page inside the server binary.
package web

import (
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

// reserved prefixes belong to the API and the WebSocket endpoint. A miss
// under them is a 404, never the chat page.
var reserved = []string{"/api/", "/ws/"}

// SPAHandler serves the files built into dist/. Any other path gets the chat
// page itself so that links into the page keep working after a reload.
func SPAHandler() http.Handler {
	page, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: dist missing from embedded files: " + err.Error())
	}
	files := http.FileServer(http.FS(page))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range reserved {
			if strings.HasPrefix(r.URL.Path, prefix) {
				http.NotFound(w, r)
				return
			}
		}

		if !embedded(page, strings.TrimPrefix(r.URL.Path, "/")) {
			r.URL.Path = "/"
		}
		files.ServeHTTP(w, r)
	})
}

func embedded(page fs.FS, name string) bool {
	if name == "" {
		return true
	}
	f, err := page.Open(name)
	if err != nil {
		return false
	}
	if err := f.Close(); err != nil {
		slog.Debug("web: close embedded file", "name", name, "error", err)
	}
	return true
}
