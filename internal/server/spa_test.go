package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAPIPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/v1/prune", true},
		{"/v1/wells/w-1/timeline", true},
		{"/v1/replay/stream", true},
		{"/v1/", true},
		{"/mcp", true},

		{"/", false},
		{"/timeline", false},
		{"/assets/app.js", false},
		{"/health", false},
		{"/v1", false},
		{"/v2/prune", false},
		{"/mcpserver", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, isAPIPath(tt.path))
		})
	}
}

func TestSetCacheHeaders(t *testing.T) {
	tests := []struct {
		urlPath string
		wantCC  string
	}{
		{"/assets/app.js", "public, max-age=86400"},
		{"/assets/style.css", "public, max-age=86400"},
		{"/favicon.ico", "public, max-age=3600"},
		{"/index.html", "public, max-age=3600"},
	}

	for _, tt := range tests {
		t.Run(tt.urlPath, func(t *testing.T) {
			w := httptest.NewRecorder()
			setCacheHeaders(w, tt.urlPath)
			assert.Equal(t, tt.wantCC, w.Header().Get("Cache-Control"))
		})
	}
}

func TestSPAHandler(t *testing.T) {
	h := newSPAHandler(fstest.MapFS{
		"index.html":    {Data: []byte("<html>viewer</html>")},
		"assets/app.js": {Data: []byte("console.log('x')")},
	})

	t.Run("asset served with cache header", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/assets/app.js", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "public, max-age=86400", w.Header().Get("Cache-Control"))
		assert.Contains(t, w.Body.String(), "console.log")
	})

	t.Run("unknown route falls back to index", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/wells/w-1", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "viewer")
		assert.Equal(t, "no-cache, no-store, must-revalidate", w.Header().Get("Cache-Control"))
	})

	t.Run("unmatched api path is a json 404", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/nope", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), `"NOT_FOUND"`)
	})
}
