package api

import (
	"net/http"
	"strings"

	"novaplayer/handlers"

	"github.com/gorilla/mux"
)

// localhostOnlyMiddleware restricts the control API to localhost requests.
func localhostOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if idx := strings.LastIndex(host, ":"); idx >= 0 {
			host = host[:idx]
		}
		if host != "localhost" && host != "127.0.0.1" && host != "[::1]" && host != "::1" {
			http.Error(w, "control API only accessible from localhost", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewRouter builds the local control API router.
func NewRouter(control *handlers.ControlHandler) *mux.Router {
	r := mux.NewRouter()

	ctrl := r.PathPrefix("/control").Subrouter()
	ctrl.Use(localhostOnlyMiddleware)

	ctrl.HandleFunc("/status", control.Status).Methods(http.MethodGet)
	ctrl.HandleFunc("/seek", control.Seek).Methods(http.MethodPost)
	ctrl.HandleFunc("/tracks/audio", control.AudioTrack).Methods(http.MethodPost)
	ctrl.HandleFunc("/tracks/subtitle", control.SubtitleTrack).Methods(http.MethodPost)
	ctrl.HandleFunc("/play", control.Play).Methods(http.MethodPost)
	ctrl.HandleFunc("/pause", control.Pause).Methods(http.MethodPost)

	return r
}
