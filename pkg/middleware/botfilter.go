package middleware

import (
	"net/http"
	"strings"
)

// isBotProbe matches the PHP-probe paths automated scanners hammer public
// servers with. These get a 404 before any logging happens.
func isBotProbe(path string) bool {
	return strings.HasSuffix(path, ".php") ||
		strings.Contains(path, ".php7") ||
		strings.Contains(path, ".php/")
}

// BotFilter short-circuits known bot probes with a silent 404. It must wrap
// the logging middleware so probes never reach the logs.
func BotFilter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isBotProbe(r.URL.Path) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}
