package server

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Routes collects the handlers the lifecycle router dispatches to.
type Routes struct {
	Thumbnails http.Handler
	Metrics    http.Handler
}

// NewThumbnailHandler wires URL dispatch in front of the thumbnail resolver.
// Every path that is not an operational route reaches the resolver, which
// rejects anything that is not a thumbnail identifier.
func NewThumbnailHandler(routes Routes) http.Handler {
	thumbs := routes.Thumbnails
	if thumbs == nil {
		thumbs = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "resolver unavailable", http.StatusServiceUnavailable)
		})
	}
	metrics := routes.Metrics
	if metrics == nil {
		metrics = http.NotFoundHandler()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch parseRoute(r.URL.Path) {
		case "healthz":
			serveHealth(w, r)
		case "metrics":
			metrics.ServeHTTP(w, r)
		default:
			thumbs.ServeHTTP(w, r)
		}
	})
}

func parseRoute(path string) string {
	switch strings.ToLower(strings.Trim(path, "/")) {
	case "health", "healthz":
		return "healthz"
	case "metrics":
		return "metrics"
	default:
		return "thumb"
	}
}

func serveHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
