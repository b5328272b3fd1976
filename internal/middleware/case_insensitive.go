package middleware

import (
	"net/http"
	"strings"
)

// SessionQRPrefix is the path the report QR code points at
const SessionQRPrefix = "/arkik/"

// CaseInsensitive lowercases all URL paths so scanned QR codes, which favour
// uppercase, reach the same routes. /ARKIK/{id} resolves to the session itself.
func CaseInsensitive(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.ToLower(r.URL.Path)
		if rest, ok := strings.CutPrefix(path, SessionQRPrefix); ok && rest != "" {
			path = "/api/import/sessions/" + rest
		}
		r.URL.Path = path
		r.URL.RawPath = ""

		next.ServeHTTP(w, r)
	})
}
