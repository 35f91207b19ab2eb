package api

import (
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"zholda/metrics"
)

// Routes builds the HTTP handler of the server.
func (s *Server) Routes() http.Handler {
	router := mux.NewRouter()
	router.Use(timed)

	// Client endpoints
	router.HandleFunc("/api/client/check", s.CheckClient).Methods("POST")
	router.HandleFunc("/api/client/request", s.CreateClientRequest).Methods("POST")
	router.HandleFunc("/api/client/requests", s.ClientRequests).Methods("GET")

	// Driver endpoints
	router.HandleFunc("/api/driver/check", s.CheckDriver).Methods("POST")
	router.HandleFunc("/api/driver/profile", s.DriverProfile).Methods("POST")
	router.HandleFunc("/api/driver/register", s.RegisterDriver).Methods("POST")
	router.HandleFunc("/api/driver/update", s.UpdateDriver).Methods("POST")
	router.HandleFunc("/api/driver/request", s.CreateDriverRequest).Methods("POST")
	router.HandleFunc("/api/driver/matching", s.MatchingDrivers).Methods("GET")
	router.HandleFunc("/api/driver/search", s.SearchRequests).Methods("GET")

	// Tracking sessions
	router.HandleFunc("/api/session", s.CreateSession).Methods("POST")
	router.HandleFunc("/ws/track", s.Track).Methods("GET")

	router.HandleFunc("/files/{name}", s.ServeFile).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Accept", "Content-Type", "Content-Length", "Authorization"}),
	)

	return cors(router)
}

// timed records request durations by route template.
func timed(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		name := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				name = tpl
			}
		}
		metrics.HTTPDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	})
}
