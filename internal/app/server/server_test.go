package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/ClickURL/internal/app/media"
	"github.com/sifan077/ClickURL/internal/app/model"
	"github.com/sifan077/ClickURL/internal/app/repository/sqlite"
	"github.com/sifan077/ClickURL/internal/app/service"
	inthttp "github.com/sifan077/ClickURL/internal/http/handler"
	"github.com/sifan077/ClickURL/internal/infra/qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testBaseURL = "http://sho.rt"

type testEnv struct {
	app   *fiber.App
	store *sqlite.Store
	media media.Store
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvFor(t, ":memory:", media.NewMemoryStore())
}

func newTestEnvFor(t *testing.T, dsn string, mediaStore media.Store, opts ...func(*Dependencies)) *testEnv {
	t.Helper()

	store, err := sqlite.Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := zap.NewNop()
	links := service.NewLinkService(service.LinkServiceDeps{
		Links:    store,
		Clicks:   store,
		Renderer: qrcode.NewRenderer(128),
		Media:    mediaStore,
		Logger:   logger,
	})
	recorder := service.NewVisitRecorder(store, nil, logger)

	deps := Dependencies{
		Logger:    logger,
		Links:     links,
		Redirects: service.NewRedirectService(store, recorder, logger),
		Media:     mediaStore,
		HealthChecks: map[string]inthttp.HealthCheck{
			"database": store.Ping,
		},
		BaseURL: testBaseURL,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	return &testEnv{app: New(deps).App(), store: store, media: mediaStore}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header ...string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (e *testEnv) visit(t *testing.T, code, ip string) *http.Response {
	t.Helper()
	return e.do(t, fiber.MethodGet, "/r/"+code, nil,
		fiber.HeaderXForwardedFor, ip,
		fiber.HeaderUserAgent, "e2e-agent",
	)
}

func (e *testEnv) createLink(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	resp := e.do(t, fiber.MethodPost, "/api/urls", body)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	return decode(t, resp)
}

func TestServer_RedirectCountsUniqueVisitors(t *testing.T) {
	env := newTestEnv(t)
	created := env.createLink(t, map[string]any{
		"original_url": "https://github.com",
		"short_code":   "github",
	})
	assert.Equal(t, testBaseURL+"/r/github", created["short_url"])
	assert.Equal(t, true, created["is_active"])

	steps := []struct {
		ip     string
		total  float64
		unique float64
	}{
		{"1.1.1.1", 1, 1},
		{"1.1.1.1", 2, 1},
		{"2.2.2.2", 3, 2},
	}
	for _, step := range steps {
		resp := env.visit(t, "github", step.ip)
		require.Equal(t, fiber.StatusFound, resp.StatusCode)
		assert.Equal(t, "https://github.com", resp.Header.Get(fiber.HeaderLocation))

		detail := decode(t, env.do(t, fiber.MethodGet, "/api/urls/github", nil))
		assert.Equal(t, step.total, detail["total_clicks"], "after visit from %s", step.ip)
		assert.Equal(t, step.unique, detail["unique_clicks"], "after visit from %s", step.ip)
	}

	stats := decode(t, env.do(t, fiber.MethodGet, "/api/urls/github/statistics", nil))
	assert.Equal(t, float64(3), stats["total_clicks"])
	assert.Equal(t, float64(2), stats["unique_clicks"])
	assert.Equal(t, false, stats["is_expired"])
	recent, ok := stats["recent_clicks"].([]any)
	require.True(t, ok)
	assert.Len(t, recent, 3)
	latest := recent[0].(map[string]any)
	assert.Equal(t, "2.2.2.2", latest["ip_address"])
	assert.Equal(t, "e2e-agent", latest["user_agent"])
}

func TestServer_RedirectUnknownCode(t *testing.T) {
	env := newTestEnv(t)

	resp := env.visit(t, "nope42", "1.1.1.1")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "short link not found", decode(t, resp)["error"])
}

func TestServer_MaxClicksDeniesNewVisitors(t *testing.T) {
	env := newTestEnv(t)
	env.createLink(t, map[string]any{
		"original_url": "https://example.com/capped",
		"short_code":   "capped",
		"max_clicks":   2,
	})

	assert.Equal(t, fiber.StatusFound, env.visit(t, "capped", "10.0.0.1").StatusCode)
	assert.Equal(t, fiber.StatusFound, env.visit(t, "capped", "10.0.0.2").StatusCode)

	resp := env.visit(t, "capped", "10.0.0.3")
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, string(model.AccessMaxClicksReached), body["reason"])

	detail := decode(t, env.do(t, fiber.MethodGet, "/api/urls/capped", nil))
	assert.Equal(t, float64(2), detail["total_clicks"])
	assert.Equal(t, float64(2), detail["unique_clicks"])
	status := detail["status"].(map[string]any)
	assert.Equal(t, false, status["can_access"])
}

func TestServer_DeactivateAndActivate(t *testing.T) {
	env := newTestEnv(t)
	env.createLink(t, map[string]any{"original_url": "https://example.com", "short_code": "toggle"})

	resp := env.do(t, fiber.MethodPost, "/api/urls/toggle/deactivate", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, "URL deactivated successfully", body["message"])
	assert.Equal(t, false, body["data"].(map[string]any)["is_active"])

	resp = env.visit(t, "toggle", "1.1.1.1")
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	assert.Equal(t, string(model.AccessInactive), decode(t, resp)["reason"])

	resp = env.do(t, fiber.MethodPost, "/api/urls/toggle/activate", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, fiber.StatusFound, env.visit(t, "toggle", "1.1.1.1").StatusCode)

	detail := decode(t, env.do(t, fiber.MethodGet, "/api/urls/toggle", nil))
	assert.Equal(t, float64(1), detail["total_clicks"])
}

func TestServer_CreateValidation(t *testing.T) {
	env := newTestEnv(t)
	env.createLink(t, map[string]any{"original_url": "https://example.com", "short_code": "taken1"})

	resp := env.do(t, fiber.MethodPost, "/api/urls", map[string]any{
		"original_url": "https://example.org",
		"short_code":   "taken1",
	})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	fields := decode(t, resp)["fields"].(map[string]any)
	assert.Contains(t, fields, "short_code")

	resp = env.do(t, fiber.MethodPost, "/api/urls", map[string]any{
		"original_url": "javascript:alert(1)",
		"expires_at":   time.Now().Add(-time.Hour).UTC().Format(time.RFC3339),
		"max_clicks":   0,
	})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	fields = decode(t, resp)["fields"].(map[string]any)
	assert.Contains(t, fields, "original_url")
	assert.Contains(t, fields, "expires_at")
	assert.Contains(t, fields, "max_clicks")

	resp = env.do(t, fiber.MethodGet, "/api/urls?is_active=maybe", nil)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestServer_GeneratedCodeAndQRCode(t *testing.T) {
	env := newTestEnv(t)
	created := env.createLink(t, map[string]any{"original_url": "https://example.com/qr"})

	code, _ := created["short_code"].(string)
	require.Len(t, code, 6)
	require.NotNil(t, created["qr_code"])

	resp := env.do(t, fiber.MethodGet, "/api/urls/"+code+"/qrcode", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, code, body["short_code"])
	qrURL, err := url.Parse(body["qr_code_url"].(string))
	require.NoError(t, err)
	assert.Equal(t, "/media/qrcodes/"+code+".png", qrURL.Path)

	resp = env.do(t, fiber.MethodGet, qrURL.Path, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get(fiber.HeaderContentType))
	png, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	resp = env.do(t, fiber.MethodGet, "/media/qrcodes/missing.png", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestServer_UpdateLink(t *testing.T) {
	env := newTestEnv(t)
	env.createLink(t, map[string]any{
		"original_url": "https://example.com/old",
		"short_code":   "patchme",
		"max_clicks":   5,
	})
	env.visit(t, "patchme", "1.1.1.1")

	resp := env.do(t, fiber.MethodPatch, "/api/urls/patchme", map[string]any{
		"original_url": "https://example.com/new",
		"max_clicks":   nil,
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, "https://example.com/new", body["original_url"])
	assert.Equal(t, float64(0), body["max_clicks"])
	assert.Equal(t, float64(1), body["total_clicks"])

	resp = env.visit(t, "patchme", "1.1.1.1")
	assert.Equal(t, "https://example.com/new", resp.Header.Get(fiber.HeaderLocation))

	resp = env.do(t, fiber.MethodPatch, "/api/urls/unknown", map[string]any{"is_active": false})
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestServer_DeleteLink(t *testing.T) {
	env := newTestEnv(t)
	created := env.createLink(t, map[string]any{"original_url": "https://example.com", "short_code": "gone"})
	env.visit(t, "gone", "1.1.1.1")

	resp := env.do(t, fiber.MethodDelete, "/api/urls/gone", nil)
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	assert.Equal(t, fiber.StatusNotFound, env.do(t, fiber.MethodGet, "/api/urls/gone", nil).StatusCode)
	assert.Equal(t, fiber.StatusNotFound, env.visit(t, "gone", "1.1.1.1").StatusCode)
	assert.Equal(t, fiber.StatusNotFound, env.do(t, fiber.MethodDelete, "/api/urls/gone", nil).StatusCode)

	if created["qr_code"] != nil {
		_, err := env.media.Get(context.Background(), media.QRName("gone"))
		assert.ErrorIs(t, err, media.ErrNotFound)
	}
}

func TestServer_ListLinks(t *testing.T) {
	env := newTestEnv(t)
	env.createLink(t, map[string]any{"original_url": "https://golang.org", "short_code": "golang"})
	env.createLink(t, map[string]any{"original_url": "https://rust-lang.org", "short_code": "rusty"})
	env.do(t, fiber.MethodPost, "/api/urls/rusty/deactivate", nil)

	body := decode(t, env.do(t, fiber.MethodGet, "/api/urls", nil))
	assert.Equal(t, float64(2), body["count"])

	body = decode(t, env.do(t, fiber.MethodGet, "/api/urls?is_active=true", nil))
	assert.Equal(t, float64(1), body["count"])
	results := body["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "golang", results[0].(map[string]any)["short_code"])

	body = decode(t, env.do(t, fiber.MethodGet, "/api/urls?search=rust", nil))
	assert.Equal(t, float64(1), body["count"])

	body = decode(t, env.do(t, fiber.MethodGet, "/api/urls?limit=1&offset=1", nil))
	assert.Equal(t, float64(2), body["count"])
	assert.Len(t, body["results"], 1)
	assert.Equal(t, float64(1), body["limit"])
}

func TestServer_PurgeExpired(t *testing.T) {
	env := newTestEnv(t)
	past := time.Now().Add(-time.Minute).UTC()
	require.NoError(t, env.store.Create(context.Background(), &model.Link{
		OriginalURL: "https://example.com/old",
		ShortCode:   "stale1",
		IsActive:    true,
		ExpiresAt:   &past,
	}))
	env.createLink(t, map[string]any{"original_url": "https://example.com", "short_code": "fresh1"})

	resp := env.visit(t, "stale1", "1.1.1.1")
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	assert.Equal(t, string(model.AccessExpired), decode(t, resp)["reason"])

	resp = env.do(t, fiber.MethodPost, "/api/maintenance/purge-expired", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), decode(t, resp)["deleted"])

	assert.Equal(t, fiber.StatusNotFound, env.do(t, fiber.MethodGet, "/api/urls/stale1", nil).StatusCode)
	assert.Equal(t, fiber.StatusOK, env.do(t, fiber.MethodGet, "/api/urls/fresh1", nil).StatusCode)
}

func TestServer_HealthAndUnknownRoute(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, fiber.MethodGet, "/health", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	body := decode(t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "up", body["dependencies"].(map[string]any)["database"])

	resp = env.do(t, fiber.MethodGet, "/does/not/exist", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Contains(t, decode(t, resp), "error")
}

func TestServer_QRCodeSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "clickurl.db")
	mediaRoot := filepath.Join(dir, "media")

	files, err := media.NewFileStore(mediaRoot)
	require.NoError(t, err)
	first := newTestEnvFor(t, dsn, files)
	first.createLink(t, map[string]any{
		"original_url": "https://example.com/durable",
		"short_code":   "durable",
	})
	require.NoError(t, first.store.Close())

	files, err = media.NewFileStore(mediaRoot)
	require.NoError(t, err)
	second := newTestEnvFor(t, dsn, files)

	resp := second.do(t, fiber.MethodGet, "/api/urls/durable/qrcode", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	qrURL, err := url.Parse(decode(t, resp)["qr_code_url"].(string))
	require.NoError(t, err)

	resp = second.do(t, fiber.MethodGet, qrURL.Path, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get(fiber.HeaderContentType))
	png, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
}

func TestServer_IgnoresMalformedForwardedFor(t *testing.T) {
	env := newTestEnv(t)
	env.createLink(t, map[string]any{
		"original_url": "https://example.com/xff",
		"short_code":   "xff",
	})

	resp := env.visit(t, "xff", "<script>alert(1)</script>")
	require.Equal(t, fiber.StatusFound, resp.StatusCode)

	link, err := env.store.GetByCode(context.Background(), "xff")
	require.NoError(t, err)
	events, err := env.store.ListRecent(context.Background(), link.ID, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotContains(t, events[0].IPAddress, "script")
	assert.NotEmpty(t, events[0].IPAddress)
}

func TestServer_CORSOrigins(t *testing.T) {
	env := newTestEnvFor(t, ":memory:", media.NewMemoryStore(), func(d *Dependencies) {
		d.CORSOrigins = []string{"https://admin.example.com"}
	})

	resp := env.do(t, fiber.MethodOptions, "/api/urls", nil, fiber.HeaderOrigin, "https://admin.example.com")
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://admin.example.com", resp.Header.Get(fiber.HeaderAccessControlAllowOrigin))

	resp = env.do(t, fiber.MethodGet, "/api/urls", nil, fiber.HeaderOrigin, "https://evil.example.com")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get(fiber.HeaderAccessControlAllowOrigin))
}
