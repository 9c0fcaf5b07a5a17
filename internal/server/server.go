// Package server exposes the query pipeline over HTTP: free-text and
// point similarity lookups plus a health probe.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/skylens/chipquery/internal/core"
	"github.com/skylens/chipquery/internal/errors"
	"github.com/skylens/chipquery/internal/metrics"
	"github.com/skylens/chipquery/internal/pipeline"
)

// Resolver is the pipeline surface the server depends on.
type Resolver interface {
	ResolveByText(ctx context.Context, query string) (pipeline.Result, error)
	ResolveByPoint(ctx context.Context, coord core.Coordinate) (pipeline.Result, error)
}

// Config holds the serving options.
type Config struct {
	Addr          string        `envconfig:"HTTP_ADDR" default:":8080"`
	ThumbnailBase string        `envconfig:"THUMBNAIL_BASE"`
	ReadTimeout   time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout  time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"30s"`
}

// Server routes similarity queries to the pipeline.
type Server struct {
	resolver  Resolver
	router    *mux.Router
	cfg       Config
	thumbBase string
	logger    *zap.Logger
}

// New builds the server and its routes.
func New(resolver Resolver, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		resolver:  resolver,
		router:    mux.NewRouter(),
		cfg:       cfg,
		thumbBase: strings.TrimRight(cfg.ThumbnailBase, "/"),
		logger:    logger,
	}
	s.router.Use(corsMiddleware)
	s.router.HandleFunc("/similarity/text", s.handleSimilarityText).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/similarity/point", s.handleSimilarityPoint).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks until the context is canceled, then shuts the
// listener down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

type matchPayload struct {
	ChipID    string  `json:"chip_id"`
	Score     float64 `json:"score"`
	Lon       float64 `json:"lon"`
	Lat       float64 `json:"lat"`
	Thumbnail string  `json:"thumbnail"`
}

type poiPayload struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

type queryPayload struct {
	Query    string         `json:"query,omitempty"`
	POI      poiPayload     `json:"poi"`
	SeedChip string         `json:"seed_chip"`
	Results  []matchPayload `json:"results"`
}

type errorPayload struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) handleSimilarityText(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		s.writeError(w, "/similarity/text", errors.NewValidation("server.similarity_text", "missing query parameter q"))
		return
	}

	res, err := s.resolver.ResolveByText(r.Context(), query)
	if err != nil {
		s.writeError(w, "/similarity/text", err)
		return
	}
	s.writeResult(w, "/similarity/text", query, res)
}

func (s *Server) handleSimilarityPoint(w http.ResponseWriter, r *http.Request) {
	const route = "/similarity/point"

	lon, errLon := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	if errLon != nil || errLat != nil {
		s.writeError(w, route, errors.NewValidation("server.similarity_point", "lon and lat must be decimal degrees"))
		return
	}

	res, err := s.resolver.ResolveByPoint(r.Context(), core.Coordinate{Lon: lon, Lat: lat})
	if err != nil {
		s.writeError(w, route, err)
		return
	}
	s.writeResult(w, route, "", res)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	metrics.HTTPRequestsTotal.WithLabelValues("/healthz", "200").Inc()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) writeResult(w http.ResponseWriter, route, query string, res pipeline.Result) {
	payload := queryPayload{
		Query:    query,
		POI:      poiPayload{Lon: res.SeedCoordinate.Lon, Lat: res.SeedCoordinate.Lat},
		SeedChip: res.SeedChip.ID,
		Results:  make([]matchPayload, 0, len(res.Matches)),
	}
	for _, m := range res.Matches {
		payload.Results = append(payload.Results, matchPayload{
			ChipID:    m.ChipID,
			Score:     m.Score,
			Lon:       m.Coordinate.Lon,
			Lat:       m.Coordinate.Lat,
			Thumbnail: s.thumbnailURL(m.ThumbnailRef),
		})
	}

	metrics.HTTPRequestsTotal.WithLabelValues(route, "200").Inc()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("response encode failed", zap.String("route", route), zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, route string, err error) {
	kind := errors.KindOf(err)
	status := statusForKind(kind)

	metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorPayload{Error: err.Error(), Kind: string(kind)})
}

func (s *Server) thumbnailURL(ref string) string {
	if s.thumbBase == "" || ref == "" {
		return ref
	}
	return s.thumbBase + "/" + ref
}

func statusForKind(kind errors.Kind) int {
	switch kind {
	case errors.KindNotFound, errors.KindNoChipCovers:
		return http.StatusNotFound
	case errors.KindValidation:
		return http.StatusBadRequest
	case errors.KindEmptyCorpus:
		return http.StatusConflict
	case errors.KindUpstream, errors.KindTimeout:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// corsMiddleware mirrors the permissive policy of the original service.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
