package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sifan077/ClickURL/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer_ServesConfiguredPath(t *testing.T) {
	RedirectsTotal.WithLabelValues("redirected").Inc()

	srv := NewServer(config.PrometheusConfig{Port: 9191, Path: "/internal/metrics"}, nil)
	assert.Equal(t, ":9191", srv.Addr)

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/internal/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `clickurl_redirects_total{outcome="redirected"}`)

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewServer_Defaults(t *testing.T) {
	srv := NewServer(config.PrometheusConfig{}, nil)
	assert.Equal(t, ":9090", srv.Addr)

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBoolLabel(t *testing.T) {
	assert.Equal(t, "true", BoolLabel(true))
	assert.Equal(t, "false", BoolLabel(false))
}
