package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-seat-lock/internal/config"
)

const secret = "test-secret"

func signed(t *testing.T, claims jwt.MapClaims, key string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return s
}

func run(mw echo.MiddlewareFunc, req *http.Request, path string) (*httptest.ResponseRecorder, echo.Context) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath(path)
	_ = mw(func(c echo.Context) error {
		return c.String(http.StatusOK, UserID(c)+"|"+Role(c))
	})(c)
	return rec, c
}

func TestJWTAuth(t *testing.T) {
	valid := signed(t, jwt.MapClaims{"sub": "42", "role": "CUSTOMER", "exp": time.Now().Add(time.Hour).Unix()}, secret)
	expired := signed(t, jwt.MapClaims{"sub": "42", "role": "CUSTOMER", "exp": time.Now().Add(-time.Hour).Unix()}, secret)
	forged := signed(t, jwt.MapClaims{"sub": "42", "role": "OWNER"}, "other")
	noSub := signed(t, jwt.MapClaims{"role": "CUSTOMER"}, secret)

	cases := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"valid", "Bearer " + valid, http.StatusOK, "42|CUSTOMER"},
		{"missing", "", http.StatusUnauthorized, ""},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, ""},
		{"wrong key", "Bearer " + forged, http.StatusUnauthorized, ""},
		{"no subject", "Bearer " + noSub, http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec, _ := run(JWTAuth(secret), req, "/v1/me")
			assert.Equal(t, tc.status, rec.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, rec.Body.String())
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	e := echo.New()
	h := RequireRole("OWNER")(func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.Set("role", "CUSTOMER")
	require.NoError(t, h(c))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.Set("role", "OWNER")
	require.NoError(t, h(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestTokenBucket(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cfg := config.RateLimitConfig{
		Enabled: true, Capacity: 5, RefillTokens: 1, RefillInterval: time.Second,
		TTL: time.Minute, KeyStrategy: "user_route", Prefix: "rl",
	}
	now := time.UnixMilli(1_700_000_000_000)
	mw := newTokenBucket(cfg, db, func() time.Time { return now })
	args := []interface{}{now.UnixMilli(), 5, 1, int64(1000), int64(60)}
	key := []string{"rl:user:anon:route:POST /v1/holds"}

	mock.ExpectEvalSha(limiterScript.Hash(), key, args...).SetVal([]interface{}{int64(1), int64(4), int64(0)})
	rec, _ := run(mw, httptest.NewRequest(http.MethodPost, "/v1/holds", nil), "/v1/holds")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))

	mock.ExpectEvalSha(limiterScript.Hash(), key, args...).SetVal([]interface{}{int64(0), int64(0), int64(1500)})
	rec, _ = run(mw, httptest.NewRequest(http.MethodPost, "/v1/holds", nil), "/v1/holds")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenBucketDisabledWithoutRedis(t *testing.T) {
	mw := NewTokenBucket(config.RateLimitConfig{Enabled: true}, nil)
	rec, _ := run(mw, httptest.NewRequest(http.MethodPost, "/v1/holds", nil), "/v1/holds")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRedisCache(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cfg := config.CacheConfig{
		Enabled: true, Methods: map[string]bool{"GET": true}, TTL: time.Minute,
		KeyStrategy: "route_query", Prefix: "cache",
	}
	mw := NewRedisCache(cfg, db)
	key := CacheKey(cfg, http.MethodGet, "/v1/shows/1/layout", "")
	body := []byte(`{"showId":1}`)
	handler := mw(func(c echo.Context) error {
		return c.Blob(http.StatusOK, "application/json", body)
	})
	e := echo.New()

	payload, err := encodePayload(http.StatusOK, http.Header{
		"Content-Type": {"application/json"},
		"X-Cache":      {"MISS"},
	}, body)
	require.NoError(t, err)

	mock.ExpectGet(key).RedisNil()
	mock.ExpectSetEx(key, payload, time.Minute).SetVal("OK")
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/v1/shows/1/layout", nil), rec)
	require.NoError(t, handler(c))
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, string(body), rec.Body.String())

	mock.ExpectGet(key).SetVal(string(payload))
	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/v1/shows/1/layout", nil), rec)
	require.NoError(t, handler(c))
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, string(body), rec.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheKeyDependsOnPath(t *testing.T) {
	cfg := config.CacheConfig{Prefix: "cache"}
	assert.NotEqual(t,
		CacheKey(cfg, http.MethodGet, "/v1/shows/1/layout", ""),
		CacheKey(cfg, http.MethodGet, "/v1/shows/2/layout", ""))
}

func TestCachePurger(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cfg := config.CacheConfig{Enabled: true, Prefix: "cache"}
	mock.ExpectDel(CacheKey(cfg, http.MethodGet, "/v1/shows/1/layout", "")).SetVal(1)

	NewCachePurger(cfg, db)(testContext(t), "/v1/shows/1/layout")
	assert.NoError(t, mock.ExpectationsWereMet())
}
