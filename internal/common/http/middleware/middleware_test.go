package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	appErr "coderunner/pkg/errors"
	"coderunner/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestTraceContextMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(TraceContextMiddleware())
	router.GET("/", func(c *gin.Context) {
		ctx := c.Request.Context()
		c.String(http.StatusOK, "%v|%v|%s", ctx.Value(contextkey.TraceID), ctx.Value(contextkey.RequestID), RequestIDFromContext(c))
	})

	cases := []struct {
		name   string
		header map[string]string
		verify func(t *testing.T, w *httptest.ResponseRecorder)
	}{
		{
			name:   "ids propagated",
			header: map[string]string{traceIDHeader: "trace-1", requestIDHeader: "req-1"},
			verify: func(t *testing.T, w *httptest.ResponseRecorder) {
				if w.Body.String() != "trace-1|req-1|req-1" {
					t.Fatalf("body = %q", w.Body.String())
				}
				if w.Header().Get(traceIDHeader) != "trace-1" || w.Header().Get(requestIDHeader) != "req-1" {
					t.Fatalf("headers = %v", w.Header())
				}
			},
		},
		{
			name: "ids generated",
			verify: func(t *testing.T, w *httptest.ResponseRecorder) {
				if w.Header().Get(traceIDHeader) == "" || w.Header().Get(requestIDHeader) == "" {
					t.Fatalf("headers = %v", w.Header())
				}
			},
		},
		{
			name:   "oversized id replaced",
			header: map[string]string{requestIDHeader: strings.Repeat("r", maxIDLength+1)},
			verify: func(t *testing.T, w *httptest.ResponseRecorder) {
				if got := w.Header().Get(requestIDHeader); len(got) > maxIDLength {
					t.Fatalf("request id not replaced: %d bytes", len(got))
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			tc.verify(t, w)
		})
	}
}

func echoRouter(maxBytes int64) *gin.Engine {
	router := gin.New()
	router.Use(DecompressMiddleware(maxBytes))
	router.POST("/", func(c *gin.Context) {
		data, err := io.ReadAll(c.Request.Body)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		if err != nil {
			c.Status(http.StatusBadRequest)
			return
		}
		c.String(http.StatusOK, "%s", data)
	})
	return router
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func zstdBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil)
}

func TestDecompressMiddleware(t *testing.T) {
	payload := []byte(`{"code":"print(2+2)"}`)
	cases := []struct {
		name       string
		encoding   string
		body       func(t *testing.T) []byte
		wantStatus int
		wantBody   string
	}{
		{name: "plain", body: func(*testing.T) []byte { return payload }, wantStatus: http.StatusOK, wantBody: string(payload)},
		{name: "gzip", encoding: "gzip", body: func(t *testing.T) []byte { return gzipBytes(t, payload) }, wantStatus: http.StatusOK, wantBody: string(payload)},
		{name: "zstd", encoding: "zstd", body: func(t *testing.T) []byte { return zstdBytes(t, payload) }, wantStatus: http.StatusOK, wantBody: string(payload)},
		{name: "corrupt gzip", encoding: "gzip", body: func(*testing.T) []byte { return []byte("not gzip") }, wantStatus: http.StatusBadRequest},
		{name: "unsupported", encoding: "br", body: func(*testing.T) []byte { return payload }, wantStatus: http.StatusBadRequest},
		{
			name:       "bomb capped",
			encoding:   "gzip",
			body:       func(t *testing.T) []byte { return gzipBytes(t, bytes.Repeat([]byte("a"), 1<<20)) },
			wantStatus: http.StatusRequestEntityTooLarge,
		},
	}
	router := echoRouter(1024)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(tc.body(t)))
			if tc.encoding != "" {
				req.Header.Set("Content-Encoding", tc.encoding)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
			}
			if tc.wantBody != "" && w.Body.String() != tc.wantBody {
				t.Fatalf("body = %q", w.Body.String())
			}
		})
	}
}

type countingLimiter struct {
	max  int
	seen map[string]int
}

func (l *countingLimiter) Allow(_ context.Context, key string) error {
	l.seen[key]++
	if l.seen[key] > l.max {
		return appErr.New(appErr.TooManyRequests)
	}
	return nil
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := &countingLimiter{max: 1, seen: make(map[string]int)}
	router := gin.New()
	router.Use(RateLimitMiddleware(limiter, "execute"))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func() int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}
	if code := do(); code != http.StatusOK {
		t.Fatalf("first status = %d", code)
	}
	if code := do(); code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d", code)
	}
	if limiter.seen["runner:rate:ip:10.0.0.1:execute"] != 2 {
		t.Fatalf("keys = %v", limiter.seen)
	}

	open := gin.New()
	open.Use(RateLimitMiddleware(nil, "execute"))
	open.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	open.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("nil limiter status = %d", w.Code)
	}
}
