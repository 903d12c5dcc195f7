package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/ceazamet-ingest/internal/catalog"
)

// catalogResponse is the body of GET /catalog.
type catalogResponse struct {
	LoadedAt time.Time        `json:"loaded_at"`
	Count    int              `json:"count"`
	Sensors  []catalog.Sensor `json:"sensors"`
}

// handleCatalog returns the published catalog, optionally filtered by
// ?station= and ?category= (both exact, case-insensitive).
func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		writeError(w, r, http.StatusServiceUnavailable, "catalog is not configured")
		return
	}

	snap := s.catalog.Snapshot()
	station := strings.TrimSpace(r.URL.Query().Get("station"))
	category := strings.TrimSpace(r.URL.Query().Get("category"))

	sensors := make([]catalog.Sensor, 0, len(snap.Sensors))
	for _, sn := range snap.Sensors {
		if station != "" && !strings.EqualFold(sn.StationCode, station) {
			continue
		}
		if category != "" && !strings.EqualFold(sn.Category, category) {
			continue
		}
		sensors = append(sensors, sn)
	}

	writeJSON(w, http.StatusOK, catalogResponse{
		LoadedAt: snap.LoadedAt,
		Count:    len(sensors),
		Sensors:  sensors,
	})
}

// handleCatalogReload forces a rediscovery. Only one reload runs at a
// time; a concurrent request gets 409.
func (s *Server) handleCatalogReload(w http.ResponseWriter, r *http.Request) {
	if s.reload == nil {
		writeError(w, r, http.StatusServiceUnavailable, "catalog reload is not configured")
		return
	}
	if !s.reloading.TryLock() {
		writeError(w, r, http.StatusConflict, "catalog reload already in progress")
		return
	}
	defer s.reloading.Unlock()

	start := time.Now()
	n, err := s.reload(r.Context())
	if err != nil {
		s.logger.Error("catalog reload failed", "error", err)
		writeError(w, r, http.StatusBadGateway, "catalog reload failed: "+err.Error())
		return
	}

	s.logger.Info("catalog reloaded", "sensors", n, "duration_ms", time.Since(start).Milliseconds())
	writeJSON(w, http.StatusOK, map[string]any{
		"sensors":     n,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

// handleLastRound returns the most recent round report.
func (s *Server) handleLastRound(w http.ResponseWriter, r *http.Request) {
	last, ok := s.LastRound()
	if !ok {
		writeError(w, r, http.StatusNotFound, "no round has finished yet")
		return
	}
	writeJSON(w, http.StatusOK, last)
}
