package tilecache

import (
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"
)

// tilePattern matches the one route this proxy serves: GET /{z}/{x}/{filename}
// where filename is "{y}.png". Grounded directly on pmtiles/server.go's
// tilePattern, simplified for a single-archive, PNG-only surface.
var tilePattern = regexp.MustCompile(`^/([0-9]+)/([0-9]+)/([^/]+)$`)

var filenamePattern = regexp.MustCompile(`^([0-9]+)\.png$`)

// Server is the HTTP surface (C7): route parsing, conditional-response
// shaping, and error-to-status mapping around a Pipeline.
type Server struct {
	pipeline    *Pipeline
	cacheMaxAge time.Duration
	logger      *zap.Logger
}

// NewServer builds the HTTP surface over pipeline.
func NewServer(pipeline *Pipeline, cacheMaxAge time.Duration, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{pipeline: pipeline, cacheMaxAge: cacheMaxAge, logger: logger.Named("server")}
}

// parseTileRequest parses (z, x, filename) out of the request path per
// the one route this proxy serves, returning InvalidCoordinates on any parse failure
// so coordinate errors fail fast, before any cache or upstream work.
func parseTileRequest(path string) (TileKey, error) {
	m := tilePattern.FindStringSubmatch(path)
	if m == nil {
		return TileKey{}, &Error{Kind: InvalidCoordinates, msg: "path does not match /{z}/{x}/{y}.png"}
	}
	fm := filenamePattern.FindStringSubmatch(m[3])
	if fm == nil {
		return TileKey{}, &Error{Kind: InvalidCoordinates, msg: "filename must be {y}.png"}
	}
	z, err := strconv.ParseUint(m[1], 10, 8)
	if err != nil {
		return TileKey{}, &Error{Kind: InvalidCoordinates, msg: "invalid zoom"}
	}
	x, err := strconv.ParseUint(m[2], 10, 32)
	if err != nil {
		return TileKey{}, &Error{Kind: InvalidCoordinates, msg: "invalid x"}
	}
	y, err := strconv.ParseUint(fm[1], 10, 32)
	if err != nil {
		return TileKey{}, &Error{Kind: InvalidCoordinates, msg: "invalid y"}
	}
	return NewTileKey(uint8(z), uint32(x), uint32(y))
}

// ServeHTTP returns 200 with body on a fresh tile, 304 on a
// client ETag match, 400 on a coordinate-parse failure, 404 on upstream
// 404 (or the pathological collapse), the upstream's own code for any other
// valid upstream status, and 502 on a transport failure.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	key, err := parseTileRequest(r.URL.Path)
	if err != nil {
		s.writeError(w, err)
		s.logger.Debug("rejected request", zap.String("path", r.URL.Path), zap.Error(err))
		return
	}

	tile, err := s.pipeline.Acquire(r.Context(), key)
	if err != nil {
		s.writeError(w, err)
		s.logger.Info("request failed", zap.String("key", key.String()), zap.Error(err), zap.Duration("duration", time.Since(start)))
		return
	}

	clientETag := r.Header.Get("If-None-Match")
	status := s.writeTile(w, r.Method, tile, clientETag)
	s.logger.Info("served tile", zap.String("key", key.String()), zap.Int("status", status), zap.Duration("duration", time.Since(start)))
}

func (s *Server) writeTile(w http.ResponseWriter, method string, tile *TileData, clientETag string) int {
	if tile.ETag != "" && clientETag != "" && tile.ETag == clientETag {
		w.WriteHeader(http.StatusNotModified)
		return http.StatusNotModified
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age="+strconv.FormatFloat(s.cacheMaxAge.Seconds(), 'f', 0, 64))
	if tile.ETag != "" {
		w.Header().Set("ETag", tile.ETag)
	}
	w.WriteHeader(http.StatusOK)
	if method != http.MethodHead {
		_, _ = w.Write(tile.Bytes)
	}
	return http.StatusOK
}

// Handler wraps the server in CORS middleware. An empty corsOrigin
// disables CORS headers entirely rather than installing a permissive
// wildcard default.
func (s *Server) Handler(corsOrigin string) http.Handler {
	if corsOrigin == "" {
		return s
	}
	c := cors.New(cors.Options{
		AllowedOrigins: []string{corsOrigin},
		AllowedMethods: []string{http.MethodGet, http.MethodHead},
	})
	return c.Handler(s)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	if e, ok := AsError(err); ok {
		status = e.HTTPStatus()
	}
	http.Error(w, http.StatusText(status), status)
}
