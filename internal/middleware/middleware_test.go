package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-reservation/internal/config"
	"github.com/iliyamo/parking-reservation/internal/identity"
	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/repository"
)

type fakeAuth map[string]identity.Session

func (f fakeAuth) Authenticate(_ context.Context, raw string) (identity.Session, error) {
	if raw == "down" {
		return identity.Session{}, fmt.Errorf("%w: redis", repository.ErrTransient)
	}
	s, ok := f[raw]
	if !ok {
		return identity.Session{}, repository.ErrUnauthorized
	}
	return s, nil
}

func serve(e *echo.Echo, method, path string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuthAndRole(t *testing.T) {
	auth := fakeAuth{
		"driver": {ID: "sess1", UserID: "u1", Role: model.RoleDriver},
		"staff":  {ID: "sess2", UserID: "u2", Role: model.RoleStaff},
	}
	e := echo.New()
	ok := func(c echo.Context) error {
		s, _ := Session(c)
		return c.String(http.StatusOK, s.UserID)
	}
	e.GET("/me", ok, JWTAuth(auth))
	e.GET("/staff", ok, JWTAuth(auth), RequireRole(model.RoleStaff))

	cases := []struct {
		path, token string
		code        int
		body        string
	}{
		{"/me", "", http.StatusUnauthorized, ""},
		{"/me", "bogus", http.StatusUnauthorized, ""},
		{"/me", "down", http.StatusServiceUnavailable, ""},
		{"/me", "driver", http.StatusOK, "u1"},
		{"/staff", "driver", http.StatusForbidden, ""},
		{"/staff", "staff", http.StatusOK, "u2"},
	}
	for _, tc := range cases {
		hdr := map[string]string{}
		if tc.token != "" {
			hdr["Authorization"] = "Bearer " + tc.token
		}
		rec := serve(e, http.MethodGet, tc.path, hdr)
		if rec.Code != tc.code {
			t.Errorf("%s with %q: code %d, want %d", tc.path, tc.token, rec.Code, tc.code)
		}
		if tc.body != "" && rec.Body.String() != tc.body {
			t.Errorf("%s with %q: body %q", tc.path, tc.token, rec.Body.String())
		}
	}
}

func TestJWTAuthWebsocketQueryToken(t *testing.T) {
	e := echo.New()
	e.GET("/ws", func(c echo.Context) error { return c.NoContent(http.StatusOK) },
		JWTAuth(fakeAuth{"driver": {UserID: "u1", Role: model.RoleDriver}}))

	if rec := serve(e, http.MethodGet, "/ws?access_token=driver", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("plain request with query token: %d", rec.Code)
	}
	rec := serve(e, http.MethodGet, "/ws?access_token=driver", map[string]string{"Upgrade": "websocket"})
	if rec.Code != http.StatusOK {
		t.Fatalf("upgrade with query token: %d", rec.Code)
	}
}

func TestDeviceKey(t *testing.T) {
	e := echo.New()
	h := func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }
	e.POST("/open", h, DeviceKey("k1"))
	e.POST("/closed", h, DeviceKey(""))

	if rec := serve(e, http.MethodPost, "/open", map[string]string{DeviceHeader: "k1"}); rec.Code != http.StatusNoContent {
		t.Errorf("valid key: %d", rec.Code)
	}
	if rec := serve(e, http.MethodPost, "/open", map[string]string{DeviceHeader: "k2"}); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: %d", rec.Code)
	}
	if rec := serve(e, http.MethodPost, "/closed", map[string]string{DeviceHeader: ""}); rec.Code != http.StatusUnauthorized {
		t.Errorf("unconfigured key: %d", rec.Code)
	}
}

func TestTokenBucketFallsBackInProcess(t *testing.T) {
	cfg := config.RateLimitConfig{
		Enabled:        true,
		Capacity:       2,
		RefillTokens:   1,
		RefillInterval: time.Hour,
		TTL:            5 * time.Hour,
		KeyStrategy:    "ip",
		Prefix:         "rl",
	}
	e := echo.New()
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, NewTokenBucket(cfg, nil))

	for i := 0; i < 2; i++ {
		if rec := serve(e, http.MethodGet, "/", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: %d", i, rec.Code)
		}
	}
	rec := serve(e, http.MethodGet, "/", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request: %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}
	other := serve(e, http.MethodGet, "/", map[string]string{"X-Real-IP": "10.0.0.9"})
	if other.Code != http.StatusOK {
		t.Fatalf("other client throttled: %d", other.Code)
	}
}

func TestCacheKeySeparatesParams(t *testing.T) {
	cfg := config.CacheConfig{Prefix: "c", KeyStrategy: "route_query"}
	e := echo.New()
	key := func(target string) string {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
		c.SetPath("/v1/lots/:id")
		return cacheKeyFrom(cfg, c)
	}
	if key("/v1/lots/a") == key("/v1/lots/b") {
		t.Fatal("different lots share a cache key")
	}
	if key("/v1/lots/a?q=x") != key("/v1/lots/a?q=x") {
		t.Fatal("cache key is not stable")
	}
}
