package web

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/creker7/netvigil/pkg/export"
	"github.com/creker7/netvigil/pkg/history"
)

const defaultHistoryHours = 24

func hoursParam(r *http.Request) time.Duration {
	hours := defaultHistoryHours

	if raw := r.URL.Query().Get("hours"); raw != "" {
		if h, err := strconv.Atoi(raw); err == nil && h > 0 {
			hours = h
		}
	}

	return time.Duration(hours) * time.Hour
}

func (s *Server) handleTemperature(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		writeError(w, http.StatusServiceUnavailable, "history not available")
		return
	}

	id := mux.Vars(r)["id"]

	samples, err := s.opts.History.TemperatureSince(id, time.Now().Add(-hoursParam(r)))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}

	writeSuccess(w, map[string]interface{}{"samples": samples})
}

func (s *Server) handleBandwidth(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		writeError(w, http.StatusServiceUnavailable, "history not available")
		return
	}

	id := mux.Vars(r)["id"]

	samples, err := s.opts.History.BandwidthSince(id, time.Now().Add(-hoursParam(r)))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}

	writeSuccess(w, map[string]interface{}{"samples": samples})
}

func (s *Server) collectStats(r *http.Request) (map[string]*history.EndpointStats, time.Duration, error) {
	window := hoursParam(r)

	if s.opts.History == nil {
		return map[string]*history.EndpointStats{}, window, nil
	}

	stats, err := s.opts.History.Stats(time.Now().Add(-window))

	return stats, window, err
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, _, err := s.collectStats(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to aggregate stats")
		return
	}

	writeSuccess(w, map[string]interface{}{"stats": stats})
}

func (s *Server) handleStatsExport(w http.ResponseWriter, r *http.Request) {
	stats, _, err := s.collectStats(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to aggregate stats")
		return
	}

	sess := sessionFrom(r)
	endpoints := s.opts.Store.List(s.sessions.sites(sess))

	// Render to memory first so a failure can still produce a JSON error.
	var buf bytes.Buffer

	if err := export.StatsXLSX(&buf, endpoints, stats); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to render spreadsheet")
		return
	}

	w.Header().Set("Content-Type",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition",
		`attachment; filename="netvigil-stats-`+time.Now().Format("20060102")+`.xlsx"`)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleStatsReport(w http.ResponseWriter, r *http.Request) {
	stats, window, err := s.collectStats(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to aggregate stats")
		return
	}

	sess := sessionFrom(r)
	endpoints := s.opts.Store.List(s.sessions.sites(sess))

	var buf bytes.Buffer

	if err := export.AvailabilityPDF(&buf, s.config().General.SiteName,
		endpoints, stats, window); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to render report")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition",
		`attachment; filename="netvigil-report-`+time.Now().Format("20060102")+`.pdf"`)
	_, _ = w.Write(buf.Bytes())
}
