package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/kalshi-sentinel/internal/bus"
	"github.com/aristath/kalshi-sentinel/internal/dispatch"
	"github.com/aristath/kalshi-sentinel/internal/domain"
)

// writeJSON writes a JSON response, logging (not propagating) encode failures.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// writeError maps a tagged domain error to its HTTP status and a JSON
// {"error": "..."} body (§7 error-classification table).
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := domain.KindOf(err).HTTPStatus()
	s.log.Error().Err(err).Int("status", status).Msg("request failed")
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "kalshi-sentinel",
		"uptime":  time.Since(s.cfg.StartedAt).String(),
	})
}

func (s *Server) handleSyncMarketSnapshots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := dispatch.MarketSnapshotFilters{Status: q.Get("status")}
	if v := q.Get("minCreatedTs"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.MinCreatedTs = n
		}
	}
	if v := q.Get("maxCreatedTs"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.MaxCreatedTs = n
		}
	}

	id, err := s.cfg.Dispatcher.EnqueueMarketSnapshotSync(r.Context(), f)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyInProgress) {
			s.writeJSON(w, http.StatusConflict, map[string]string{"error": "already in progress"})
			return
		}
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{"started": true, "message_id": id})
}

func (s *Server) handleMarketSnapshotStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.cfg.Dispatcher.Status(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	message := "idle"
	if status.IsRunning {
		message = "running"
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"is_running":   status.IsRunning,
		"pending_jobs": status.PendingJobs,
		"message":      message,
	})
}

func (s *Server) handleSyncCategories(w http.ResponseWriter, r *http.Request) {
	id, err := s.cfg.Dispatcher.EnqueueTagsCategoriesSync(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{"started": true, "message_id": id})
}

func (s *Server) handleSyncSeries(w http.ResponseWriter, r *http.Request) {
	id, err := s.cfg.Dispatcher.EnqueueSeriesSync(r.Context(), r.URL.Query().Get("cursor"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{"started": true, "message_id": id})
}

func (s *Server) handleSyncEvents(w http.ResponseWriter, r *http.Request) {
	id, err := s.cfg.Dispatcher.EnqueueEventsSync(r.Context(), r.URL.Query().Get("cursor"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{"started": true, "message_id": id})
}

func (s *Server) handleSyncEventDetail(w http.ResponseWriter, r *http.Request) {
	eventTicker := chi.URLParam(r, "eventTicker")
	if eventTicker == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "eventTicker is required"})
		return
	}
	ids, err := s.cfg.Dispatcher.EnqueueEventDetailSync(r.Context(), []string{eventTicker})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{"started": true, "message_ids": ids})
}

func (s *Server) handleSyncOrderbook(w http.ResponseWriter, r *http.Request) {
	id, err := s.cfg.Dispatcher.EnqueueOrderbookSync(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{"started": true, "message_id": id})
}

func (s *Server) handleSyncCandlesticks(w http.ResponseWriter, r *http.Request) {
	id, err := s.cfg.Dispatcher.EnqueueCandlesticksSync(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{"started": true, "message_id": id})
}

func (s *Server) handleCleanupSweep(w http.ResponseWriter, r *http.Request) {
	tickers, err := s.cfg.Cleanup.Enumerate(r.Context(), s.cfg.Retention, time.Now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if len(tickers) == 0 {
		s.writeJSON(w, http.StatusAccepted, map[string]interface{}{"markets_queued": 0})
		return
	}
	ids, err := s.cfg.Dispatcher.EnqueueCleanup(r.Context(), tickers)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{"markets_queued": len(ids)})
}

func (s *Server) handleCleanupOne(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "tickerId")
	if ticker == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tickerId is required"})
		return
	}
	if err := s.cfg.Cleanup.Clean(r.Context(), ticker, time.Now()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"cleaned": ticker})
}

func (s *Server) handleQueuesPurge(w http.ResponseWriter, r *http.Request) {
	purged, errs := s.cfg.Bus.PurgeAll(r.Context(), bus.AllKinds())

	purgedNames := make([]string, 0, len(purged))
	for _, k := range purged {
		purgedNames = append(purgedNames, string(k))
	}
	errMsgs := make([]string, 0, len(errs))
	for k, msg := range errs {
		errMsgs = append(errMsgs, string(k)+": "+msg)
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"purged_queues":  purgedNames,
		"skipped_queues": []string{},
		"errors":         errMsgs,
	})
}

func (s *Server) handleQueuesStatus(w http.ResponseWriter, r *http.Request) {
	kinds := bus.AllKinds()
	queues := make([]map[string]interface{}, 0, len(kinds))
	total := 0
	active := 0
	for _, k := range kinds {
		stat := s.cfg.Bus.Stats(r.Context(), k)
		total += stat.Messages
		if stat.Messages > 0 {
			active++
		}
		queues = append(queues, map[string]interface{}{
			"name":                    string(stat.Kind),
			"exists":                  stat.Exists,
			"messages":                stat.Messages,
			"messages_ready":          stat.MessagesReady,
			"messages_unacknowledged": stat.MessagesUnacknowledged,
			"consumers":               stat.Consumers,
			"error":                   stat.Error,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_pending_messages": total,
		"active_queues":          active,
		"queues":                 queues,
	})
}
