package middleware

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/cinema-seat-lock/internal/config"
)

// cachedResponse is what a cache entry holds.
type cachedResponse struct {
	Status int         `json:"s"`
	Header http.Header `json:"h"`
	Body   []byte      `json:"b"`
}

func encodePayload(status int, header http.Header, body []byte) ([]byte, error) {
	return json.Marshal(cachedResponse{Status: status, Header: header, Body: body})
}

func decodePayload(bs []byte) (cachedResponse, bool) {
	var r cachedResponse
	if err := json.Unmarshal(bs, &r); err != nil || r.Status == 0 {
		return cachedResponse{}, false
	}
	return r, true
}

// teeWriter forwards a response to the client and keeps a copy of up to
// limit bytes of the body.  overflow is set once the body outgrows limit.
type teeWriter struct {
	http.ResponseWriter
	status   int
	limit    int64
	body     bytes.Buffer
	overflow bool
}

func (w *teeWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *teeWriter) Write(b []byte) (int, error) {
	if !w.overflow {
		if w.limit > 0 && int64(w.body.Len()+len(b)) > w.limit {
			w.overflow = true
			w.body.Reset()
		} else {
			w.body.Write(b)
		}
	}
	return w.ResponseWriter.Write(b)
}

// CacheKey builds the Redis key of a cached response.  The request path,
// not the route pattern, is part of every strategy so different shows
// never share an entry.
func CacheKey(cfg config.CacheConfig, method, path, query string) string {
	strategy := strings.ToLower(cfg.KeyStrategy)
	if strategy == "" {
		strategy = "route_query"
	}
	var b strings.Builder
	if strings.HasPrefix(strategy, "method_") {
		b.WriteString("method:" + method + ":")
	}
	b.WriteString("path:" + path)
	if strings.HasSuffix(strategy, "_query") {
		b.WriteString(":q:" + query)
	}
	sum := sha1.Sum([]byte(b.String()))
	return cfg.Prefix + ":" + hex.EncodeToString(sum[:])
}

// NewRedisCache serves repeated 200 responses from Redis, headers
// included.  X-Cache tells HIT from MISS.
func NewRedisCache(cfg config.CacheConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !cfg.Methods[strings.ToUpper(req.Method)] {
				return next(c)
			}
			ctx := req.Context()
			key := CacheKey(cfg, req.Method, req.URL.Path, req.URL.RawQuery)
			res := c.Response()

			if bs, err := rdb.Get(ctx, key).Bytes(); err == nil {
				if hit, ok := decodePayload(bs); ok {
					replay(res, hit)
					return nil
				}
			}

			tw := &teeWriter{ResponseWriter: res.Writer, status: http.StatusOK, limit: int64(cfg.MaxBodyBytes)}
			res.Writer = tw
			res.Header().Set("X-Cache", "MISS")
			if err := next(c); err != nil {
				return err
			}
			if tw.status != http.StatusOK || tw.overflow {
				return nil
			}
			payload, err := encodePayload(tw.status, res.Header().Clone(), tw.body.Bytes())
			if err != nil {
				return nil
			}
			if err := rdb.SetEx(context.WithoutCancel(ctx), key, payload, ttl).Err(); err != nil {
				c.Logger().Debugf("[cache] store %s: %v", key, err)
			}
			return nil
		}
	}
}

func replay(res *echo.Response, hit cachedResponse) {
	h := res.Header()
	for k, vals := range hit.Header {
		switch http.CanonicalHeaderKey(k) {
		case "Content-Length", "X-Cache":
			continue
		}
		h[k] = append([]string(nil), vals...)
	}
	h.Set("X-Cache", "HIT")
	res.WriteHeader(hit.Status)
	_, _ = res.Write(hit.Body)
}

// NewCachePurger returns a function that drops the cached GET response of
// a path.  It is a no-op when caching is disabled.
func NewCachePurger(cfg config.CacheConfig, rdb *redis.Client) func(ctx context.Context, path string) {
	if !cfg.Enabled || rdb == nil {
		return func(context.Context, string) {}
	}
	return func(ctx context.Context, path string) {
		_ = rdb.Del(ctx, CacheKey(cfg, http.MethodGet, path, "")).Err()
	}
}
