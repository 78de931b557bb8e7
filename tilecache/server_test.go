package tilecache

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseTileRequestValid(t *testing.T) {
	k, err := parseTileRequest("/5/10/20.png")
	require.NoError(t, err)
	assert.Equal(t, TileKey{Z: 5, X: 10, Y: 20}, k)
}

func TestParseTileRequestRejectsBadPath(t *testing.T) {
	cases := []string{
		"/not-a-tile",
		"/5/10/20.jpg",
		"/5/10/",
		"/abc/10/20.png",
		"/5/abc/20.png",
		"/5/10/abc.png",
	}
	for _, path := range cases {
		t.Run(path, func(t *testing.T) {
			_, err := parseTileRequest(path)
			require.Error(t, err)
			e, ok := AsError(err)
			require.True(t, ok)
			assert.Equal(t, InvalidCoordinates, e.Kind)
		})
	}
}

func TestParseTileRequestRejectsOutOfRangeCoordinate(t *testing.T) {
	_, err := parseTileRequest("/2/99/0.png")
	require.Error(t, err)
}

func newTestServer(t *testing.T, ts *httptest.Server) *Server {
	t.Helper()
	p := newTestPipeline(t, ts)
	return NewServer(p, 0, zap.NewNop())
}

func TestServeHTTPReturnsTileOnSuccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", "etag-srv")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("png-body"))
	}))
	defer upstream.Close()

	s := newTestServer(t, upstream)
	req := httptest.NewRequest(http.MethodGet, "/1/0/0.png", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png-body", rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "etag-srv", rec.Header().Get("ETag"))
}

func TestServeHTTPReturnsNotModifiedOnMatchingETag(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", "etag-match")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("png-body"))
	}))
	defer upstream.Close()

	s := newTestServer(t, upstream)
	req := httptest.NewRequest(http.MethodGet, "/1/0/0.png", nil)
	req.Header.Set("If-None-Match", "etag-match")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotModified, rec.Code)
}

func TestServeHTTPRejectsBadCoordinatesWith400(t *testing.T) {
	s := newTestServer(t, httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream should never be reached for an invalid path")
	})))
	req := httptest.NewRequest(http.MethodGet, "/not-a-tile", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeHTTPMapsNotFoundTo404(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer upstream.Close()

	s := newTestServer(t, upstream)
	req := httptest.NewRequest(http.MethodGet, "/1/0/0.png", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeHTTPPassesThroughUpstreamStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	s := newTestServer(t, upstream)
	req := httptest.NewRequest(http.MethodGet, "/1/0/0.png", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServeHTTPRejectsUnsupportedMethod(t *testing.T) {
	s := newTestServer(t, httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream should never be reached for a disallowed method")
	})))
	req := httptest.NewRequest(http.MethodPost, "/1/0/0.png", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServeHTTPHeadOmitsBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("png-body"))
	}))
	defer upstream.Close()

	s := newTestServer(t, upstream)
	req := httptest.NewRequest(http.MethodHead, "/1/0/0.png", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
}

func TestHandlerWithoutCORSOriginReturnsServerDirectly(t *testing.T) {
	p := newTestPipeline(t, httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	s := NewServer(p, 0, zap.NewNop())
	h := s.Handler("")
	assert.Equal(t, s, h)
}

func TestHandlerWithCORSOriginSetsHeaders(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("png-body"))
	}))
	defer upstream.Close()

	s := newTestServer(t, upstream)
	h := s.Handler("https://example.com")

	req := httptest.NewRequest(http.MethodGet, "/1/0/0.png", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
