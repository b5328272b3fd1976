package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCaseInsensitive(t *testing.T) {
	var seen string
	h := CaseInsensitive(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = r.URL.Path
	}))

	tests := []struct {
		in   string
		want string
	}{
		{"/API/Import/Sessions/ABC", "/api/import/sessions/abc"},
		{"/ARKIK/7F1C-AA", "/api/import/sessions/7f1c-aa"},
		{"/arkik/", "/arkik/"},
		{"/health", "/health"},
	}
	for _, tt := range tests {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.in, nil))
		assert.Equal(t, tt.want, seen, tt.in)
	}
}
