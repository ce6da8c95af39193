package api

import (
	"net/http"

	"github.com/go-chi/cors"
)

// corsMiddleware opens the API to every origin with credentials. Origins are
// echoed rather than answered with "*", which browsers reject for credentialed
// requests.
func corsMiddleware() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowOriginFunc: func(_ *http.Request, _ string) bool { return true },
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
			http.MethodDelete, http.MethodOptions, http.MethodHead,
		},
		AllowedHeaders:       []string{"*"},
		ExposedHeaders:       []string{"X-Request-ID"},
		AllowCredentials:     true,
		MaxAge:               600,
		OptionsSuccessStatus: http.StatusNoContent,
	})
}
