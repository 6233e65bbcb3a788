package http_handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/anthanhphan/go-file-drop/internal/drop/adapter/outbound/memory_registry"
	"github.com/anthanhphan/go-file-drop/internal/drop/config"
	"github.com/anthanhphan/go-file-drop/internal/drop/domain"
	"github.com/anthanhphan/go-file-drop/internal/drop/service"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPIN = "2468"

type testEnv struct {
	server *Server
	view   *service.RegistryView
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, func(*config.Config) {})
}

func newTestEnvWith(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.App.AdminSecret = testPIN
	mutate(cfg)

	registry := memory_registry.New(nil)
	view := service.NewRegistryView(registry, cfg.App.MaxUploadBytes)
	s := NewServer(cfg, view, service.NewAdminGate(cfg.App.AdminSecret))

	sub, err := view.Subscribe(context.Background(), s.PublishSnapshot, s.PublishError)
	require.NoError(t, err)

	t.Cleanup(func() {
		sub.Unsubscribe()
		_ = registry.Close()
		s.broker.Close()
	})
	return &testEnv{server: s, view: view}
}

func (e *testEnv) do(t *testing.T, req *http.Request, cookie *http.Cookie) *http.Response {
	t.Helper()
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := e.server.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func (e *testEnv) login(t *testing.T, pin string) (*http.Response, *http.Cookie) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/session", strings.NewReader(fmt.Sprintf(`{"pin":%q}`, pin)))
	req.Header.Set("Content-Type", "application/json")
	resp := e.do(t, req, nil)
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookie {
			return resp, c
		}
	}
	return resp, nil
}

func (e *testEnv) waitForRecords(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.view.Snapshot().Len() == n
	}, 2*time.Second, 10*time.Millisecond)
}

func uploadRequest(t *testing.T, name, mimeType string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	header.Set("Content-Type", mimeType)
	part, err := w.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/files", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name       string
		pin        string
		wantStatus int
		wantCookie bool
	}{
		{name: "correct pin", pin: testPIN, wantStatus: http.StatusOK, wantCookie: true},
		{name: "wrong pin", pin: "0000", wantStatus: http.StatusUnauthorized},
		{name: "empty pin", pin: "", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			resp, cookie := env.login(t, tt.pin)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantCookie, cookie != nil)
			assert.Equal(t, btoi(tt.wantCookie), env.server.sessions.Len())
		})
	}
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)

	admin := func(cookie *http.Cookie) bool {
		resp := env.do(t, httptest.NewRequest(http.MethodGet, "/api/session", nil), cookie)
		var body struct {
			Admin bool `json:"admin"`
		}
		decodeBody(t, resp, &body)
		return body.Admin
	}

	assert.False(t, admin(nil))

	_, cookie := env.login(t, testPIN)
	require.NotNil(t, cookie)
	assert.True(t, admin(cookie))

	resp := env.do(t, httptest.NewRequest(http.MethodDelete, "/api/session", nil), cookie)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, admin(cookie))
	assert.Equal(t, 0, env.server.sessions.Len())

	// Logging out as a guest is harmless.
	resp = env.do(t, httptest.NewRequest(http.MethodDelete, "/api/session", nil), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMutationsRequireAdmin(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, uploadRequest(t, "a.txt", "text/plain", []byte("hello")), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, httptest.NewRequest(http.MethodDelete, "/api/files/1", nil), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	forged := &http.Cookie{Name: sessionCookie, Value: "not-a-session"}
	resp = env.do(t, uploadRequest(t, "a.txt", "text/plain", []byte("hello")), forged)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	assert.Equal(t, 0, env.view.Snapshot().Len())
}

func TestUploadListDownloadDelete(t *testing.T) {
	env := newTestEnv(t)
	_, cookie := env.login(t, testPIN)
	require.NotNil(t, cookie)

	resp := env.do(t, uploadRequest(t, "a.txt", "text/plain", []byte("hello")), cookie)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &created)
	require.NotEmpty(t, created.ID)

	env.waitForRecords(t, 1)

	resp = env.do(t, httptest.NewRequest(http.MethodGet, "/api/files", nil), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "payload")
	var list snapshotEvent
	require.NoError(t, json.Unmarshal(raw, &list))
	require.Len(t, list.Files, 1)
	assert.Equal(t, created.ID, list.Files[0].ID)
	assert.Equal(t, "a.txt", list.Files[0].Name)
	assert.Equal(t, int64(5), list.Files[0].SizeBytes)
	assert.False(t, list.Files[0].Pending)

	downloadURL := "/api/files/" + created.ID + "/download"
	resp = env.do(t, httptest.NewRequest(http.MethodGet, downloadURL, nil), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.Equal(t, "attachment; filename=a.txt", resp.Header.Get("Content-Disposition"))
	etag := resp.Header.Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, downloadURL, nil)
	req.Header.Set("If-None-Match", etag)
	resp = env.do(t, req, nil)
	assert.Equal(t, http.StatusNotModified, resp.StatusCode)

	resp = env.do(t, httptest.NewRequest(http.MethodDelete, "/api/files/"+created.ID, nil), cookie)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	env.waitForRecords(t, 0)

	resp = env.do(t, httptest.NewRequest(http.MethodGet, downloadURL, nil), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUploadTooLarge(t *testing.T) {
	env := newTestEnv(t)
	_, cookie := env.login(t, testPIN)
	require.NotNil(t, cookie)

	big := bytes.Repeat([]byte{'x'}, 900_000)
	resp := env.do(t, uploadRequest(t, "big.bin", "application/octet-stream", big), cookie)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, resp, &body)
	assert.Contains(t, body.Error, "700000")
	assert.Equal(t, 0, env.view.Snapshot().Len())
}

func TestUploadMissingFilePart(t *testing.T) {
	env := newTestEnv(t)
	_, cookie := env.login(t, testPIN)
	require.NotNil(t, cookie)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	require.NoError(t, w.WriteField("note", "no file here"))
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/files", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp := env.do(t, req, cookie)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSendErrorStatuses(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"too large", domain.ErrTooLarge, http.StatusRequestEntityTooLarge},
		{"auth denied", domain.ErrAuthDenied, http.StatusUnauthorized},
		{"not found", domain.ErrRecordNotFound, http.StatusNotFound},
		{"upload failed", fmt.Errorf("%w: boom", domain.ErrUploadFailed), http.StatusBadGateway},
		{"delete failed", fmt.Errorf("%w: boom", domain.ErrDeleteFailed), http.StatusBadGateway},
		{"unknown", io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}

	app := fiber.New()
	for i, tt := range tests {
		err := tt.err
		app.Get(fmt.Sprintf("/err/%d", i), func(c *fiber.Ctx) error {
			return env.server.sendError(c, err)
		})
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/err/%d", i), nil), -1)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestFrameworkErrorsUseJSONShape(t *testing.T) {
	env := newTestEnvWith(t, func(cfg *config.Config) {
		cfg.App.MaxUploadBytes = 1000
	})
	_, cookie := env.login(t, testPIN)
	require.NotNil(t, cookie)

	tests := []struct {
		name       string
		req        *http.Request
		wantStatus int
		wantError  string
	}{
		{
			name:       "body over limit",
			req:        uploadRequest(t, "huge.bin", "application/octet-stream", bytes.Repeat([]byte{'x'}, env.server.cfg.BodyLimit()+1)),
			wantStatus: http.StatusRequestEntityTooLarge,
			wantError:  fmt.Sprintf("%d byte limit", env.server.cfg.BodyLimit()),
		},
		{
			name:       "unknown route",
			req:        httptest.NewRequest(http.MethodGet, "/api/nope", nil),
			wantStatus: http.StatusNotFound,
			wantError:  "Cannot GET /api/nope",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, tt.req, cookie)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

			var body struct {
				Error string `json:"error"`
			}
			decodeBody(t, resp, &body)
			assert.Contains(t, body.Error, tt.wantError)
		})
	}
}

func TestTooLargeMessageUsesViewCeiling(t *testing.T) {
	env := newTestEnvWith(t, func(cfg *config.Config) {
		cfg.App.MaxUploadBytes = 10
	})
	_, cookie := env.login(t, testPIN)
	require.NotNil(t, cookie)

	resp := env.do(t, uploadRequest(t, "eleven.txt", "text/plain", []byte("hello world")), cookie)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, fmt.Sprintf("File exceeds the %d byte limit", env.view.MaxUploadBytes()), body.Error)
}
