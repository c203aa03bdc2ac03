package server

import (
	"io/fs"
	"log"
	"net/http"
	"path"
	"strings"
)

// Handler assembles the HTTP surface: the event websocket, the control and
// history API, and the overlay UI served as a SPA.
func Handler(staticFS fs.FS, hub *Hub, store MeetingStore, orch Orchestrator, healthSource HealthSource) http.Handler {
	mux := http.NewServeMux()

	registerWSRoute(mux, hub)
	registerAPIRoutes(mux, store, orch, healthSource)

	fileServer := http.FileServer(http.FS(staticFS))
	mux.HandleFunc("/", serveSPA(fileServer))

	return mux
}

func Serve(addr string, staticFS fs.FS, hub *Hub, store MeetingStore, orch Orchestrator, healthSource HealthSource) error {
	h := Handler(staticFS, hub, store, orch, healthSource)

	log.Printf("overlay UI at http://%s", addr)
	return http.ListenAndServe(addr, h)
}

func serveSPA(fileServer http.Handler) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/ws" {
			http.NotFound(w, r)
			return
		}

		cleanPath := path.Clean(strings.TrimPrefix(r.URL.Path, "/"))
		if cleanPath == "." || cleanPath == "" {
			r.URL.Path = "/"
		} else if !strings.Contains(cleanPath, ".") {
			r.URL.Path = "/index.html"
		} else {
			r.URL.Path = "/" + cleanPath
		}

		fileServer.ServeHTTP(w, r)
	}
}
