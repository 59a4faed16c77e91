// Package web embeds the browser chat page (dist/) and serves it.
//
// dist/ ships a minimal page that talks to /ws/chat. A richer frontend can be
// built into the same directory.
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

// ChatPageHandler serves the chat page and its assets from dist/. Any path
// that is not an embedded file gets the chat page, so a conversation link
// like /conversations/{id} opens the page instead of a 404.
func ChatPageHandler() http.Handler {
	subFS, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}

	fileServer := http.FileServer(http.FS(subFS))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")
		if path == "" {
			path = "index.html"
		}

		if f, err := subFS.Open(path); err == nil {
			if closeErr := f.Close(); closeErr != nil {
				slog.Debug("web: failed to close embedded file", "path", path, "error", closeErr)
			}
			fileServer.ServeHTTP(w, r)
			return
		}

		// Unknown path: hand back the chat page.
		r.URL.Path = "/"
		fileServer.ServeHTTP(w, r)
	})
}
