// Package ingress implements the HTTP API that pi stations push aircraft
// data through, plus the health and admin read endpoints. Pushed data lands
// in per-station cache buffers; the collection cycle picks it up from there.
package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jeffstrout/flightTrackerCollector/internal/cache"
	"github.com/jeffstrout/flightTrackerCollector/internal/source"
	"github.com/jeffstrout/flightTrackerCollector/pkg/config"
	"github.com/jeffstrout/flightTrackerCollector/pkg/model"
)

// Server is the push-ingress HTTP API.
type Server struct {
	cfg   *config.Config
	store cache.Store
	log   *logrus.Entry

	now func() time.Time
}

// New creates the ingress server on top of the shared cache store.
func New(cfg *config.Config, store cache.Store) *Server {
	return &Server{
		cfg:   cfg,
		store: store,
		log:   logrus.WithField("component", "ingress"),
		now:   time.Now,
	}
}

// Router builds the chi router with all ingress routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key"},
		MaxAge:         300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/aircraft/bulk", s.handleBulk)
		r.Get("/health", s.handleHealth)
		r.Get("/admin/regions", s.handleRegions)
	})
	return r
}

// bulkRequest is the push payload one station sends per interval.
type bulkRequest struct {
	StationID   string           `json:"station_id"`
	StationName string           `json:"station_name"`
	Timestamp   string           `json:"timestamp"`
	Aircraft    []model.Aircraft `json:"aircraft"`
}

// bulkResponse reports what happened to a push.
type bulkResponse struct {
	Status         string   `json:"status"`
	ProcessedCount int      `json:"processed_count"`
	AircraftCount  int      `json:"aircraft_count"`
	Errors         []string `json:"errors,omitempty"`
	RequestID      string   `json:"request_id"`
}

// handleBulk ingests one station push. The X-API-Key header carries the
// region-prefixed shared secret; its prefix routes the push, the full value
// authorizes it.
func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	log := s.log.WithField("request_id", requestID)

	apiKey := r.Header.Get("X-API-Key")
	if apiKey == "" {
		writeError(w, http.StatusUnauthorized, "missing X-API-Key header", requestID)
		return
	}

	region, _, ok := strings.Cut(apiKey, ".")
	if !ok || region == "" {
		writeError(w, http.StatusUnauthorized, "malformed API key", requestID)
		return
	}
	secret, configured := s.cfg.SecretForRegion(region)
	if !configured || secret != apiKey {
		log.WithField("region", region).Warn("Rejected push with invalid API key")
		writeError(w, http.StatusForbidden, "invalid API key for region", requestID)
		return
	}

	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body", requestID)
		return
	}
	if req.StationID == "" {
		writeError(w, http.StatusBadRequest, "missing station_id", requestID)
		return
	}
	if max := s.cfg.Push.MaxRecordsOrDefault(); len(req.Aircraft) > max {
		writeError(w, http.StatusRequestEntityTooLarge, "too many aircraft records", requestID)
		return
	}

	accepted, errs := validateRecords(req.Aircraft)

	buffer := source.StationBuffer{
		Station:  req.StationID,
		StoredAt: s.now().Unix(),
		Aircraft: accepted,
	}
	data, err := json.Marshal(buffer)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode buffer", requestID)
		return
	}

	key := cache.PushBufferKey(region, req.StationID)
	if err := s.store.Set(r.Context(), key, string(data), s.cfg.Push.BufferTTL()); err != nil {
		log.WithError(err).Error("Failed to store push buffer")
		writeError(w, http.StatusServiceUnavailable, "cache unavailable", requestID)
		return
	}

	log.WithFields(logrus.Fields{
		"region":   region,
		"station":  req.StationID,
		"accepted": len(accepted),
		"rejected": len(errs),
	}).Debug("Stored station push")

	writeJSON(w, http.StatusOK, bulkResponse{
		Status:         "success",
		ProcessedCount: len(req.Aircraft),
		AircraftCount:  len(accepted),
		Errors:         errs,
		RequestID:      requestID,
	})
}

// validateRecords normalizes and filters pushed aircraft records. Rejections
// are collected per record, never failing the whole push.
func validateRecords(records []model.Aircraft) ([]model.Aircraft, []string) {
	accepted := make([]model.Aircraft, 0, len(records))
	var errs []string
	for i, ac := range records {
		ac.Hex = model.NormalizeHex(ac.Hex)
		if !model.ValidHex(ac.Hex) {
			errs = append(errs, formatRecordError(i, "invalid hex"))
			continue
		}
		if !ac.HasPosition() {
			errs = append(errs, formatRecordError(i, "missing position"))
			continue
		}
		if *ac.Lat < -90 || *ac.Lat > 90 || *ac.Lon < -180 || *ac.Lon > 180 {
			errs = append(errs, formatRecordError(i, "position out of range"))
			continue
		}
		accepted = append(accepted, ac)
	}
	return accepted, errs
}

func formatRecordError(index int, reason string) string {
	return fmt.Sprintf("record %d: %s", index, reason)
}

// healthResponse is the GET /api/v1/health document.
type healthResponse struct {
	Status  string   `json:"status"`
	Cache   string   `json:"cache"`
	Regions []string `json:"regions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Cache: "connected"}
	if err := s.store.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Cache = "unreachable"
	}
	for _, region := range s.cfg.EnabledRegions() {
		resp.Regions = append(resp.Regions, region.ID)
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// regionInfo is one entry in the GET /api/v1/admin/regions listing.
type regionInfo struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	RadiusMiles float64 `json:"radius_miles"`
	Sources     int     `json:"sources"`
}

func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	regions := make([]regionInfo, 0)
	for _, region := range s.cfg.EnabledRegions() {
		regions = append(regions, regionInfo{
			ID:          region.ID,
			Name:        region.Name,
			Lat:         region.Center.Lat,
			Lon:         region.Center.Lon,
			RadiusMiles: region.RadiusMiles,
			Sources:     len(region.Sources),
		})
	}
	writeJSON(w, http.StatusOK, regions)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message, requestID string) {
	writeJSON(w, code, map[string]string{
		"status":     "error",
		"error":      message,
		"request_id": requestID,
	})
}
