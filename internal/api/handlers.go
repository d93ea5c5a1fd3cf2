package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"portfolio-tracker/internal/domain"
	"portfolio-tracker/internal/holdings"
	"portfolio-tracker/internal/ingestion"
	"portfolio-tracker/internal/storage"
)

const maxBodyBytes = 1 << 20

type eventRequest struct {
	AssetID   string   `json:"asset_id"`
	Timestamp int64    `json:"timestamp"`
	Amount    *float64 `json:"amount"`
}

type catalogStatus struct {
	Version     uint64  `json:"version"`
	Assets      int     `json:"assets"`
	FetchedAt   int64   `json:"fetched_at"`
	Currency    string  `json:"currency"`
	FXRate      float64 `json:"fx_rate"`
	FXUpdatedAt int64   `json:"fx_updated_at"`
}

type statusResponse struct {
	Uptime    string            `json:"uptime"`
	Catalog   catalogStatus     `json:"catalog"`
	Scheduler *ingestion.Status `json:"scheduler,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.catalog.Snapshot()
	resp := statusResponse{
		Uptime: time.Since(s.started).Truncate(time.Second).String(),
		Catalog: catalogStatus{
			Version:     snap.Version,
			Assets:      len(snap.Assets),
			FetchedAt:   snap.FetchedAt,
			Currency:    snap.Currency,
			FXRate:      snap.Rate(),
			FXUpdatedAt: snap.FXUpdatedAt,
		},
	}
	if s.scheduler != nil {
		st := s.scheduler.Status()
		resp.Scheduler = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleValuation(w http.ResponseWriter, r *http.Request) {
	series, err := s.valuation.Series(r.Context(), chi.URLParam(r, "userID"), r.URL.Query().Get("asset"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.valuation.CurrentBalance(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (s *Server) handleHoldings(w http.ResponseWriter, r *http.Request) {
	values, err := s.valuation.CurrentHoldings(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, values)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.holdings.List(r.Context(), chi.URLParam(r, "userID"), r.URL.Query().Get("asset"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []*domain.HoldingEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleAddEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Amount == nil {
		s.writeError(w, r, fmt.Errorf("%w: amount is required", holdings.ErrInvalidEvent))
		return
	}

	e, err := s.holdings.Add(r.Context(), chi.URLParam(r, "userID"), req.AssetID, req.Timestamp, *req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleEditEvent(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "eventID"))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: malformed event id", holdings.ErrInvalidEvent))
		return
	}

	var req eventRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Amount == nil {
		s.writeError(w, r, fmt.Errorf("%w: amount is required", holdings.ErrInvalidEvent))
		return
	}

	e, err := s.holdings.Edit(r.Context(), chi.URLParam(r, "userID"), eventID, req.Timestamp, *req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "eventID"))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: malformed event id", holdings.ErrInvalidEvent))
		return
	}

	if err := s.holdings.Delete(r.Context(), chi.URLParam(r, "userID"), eventID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListAssets serves the in-memory catalog snapshot, ordered by rank.
func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	snap := s.catalog.Snapshot()
	assets := make([]*domain.Asset, 0, len(snap.Assets))
	for _, a := range snap.Assets {
		assets = append(assets, a)
	}
	sort.Slice(assets, func(i, j int) bool {
		if assets[i].Rank != assets[j].Rank {
			return assets[i].Rank < assets[j].Rank
		}
		return assets[i].ID < assets[j].ID
	})
	writeJSON(w, http.StatusOK, assets)
}

// handleGetAsset reads the stored asset, which carries refresh bookkeeping.
func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := s.assets.GetByID(r.Context(), chi.URLParam(r, "assetID"))
	if err != nil {
		s.writeError(w, r, storage.Wrap("get asset", err))
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

// writeError maps err to a status code. Storage failures are logged and
// reported with an opaque message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, holdings.ErrInvalidEvent):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, storage.ErrInvalidInput):
		writeJSONError(w, http.StatusBadRequest, "invalid input")
	default:
		s.log.Error().
			Err(err).
			Str("kind", domain.KindOf(err).String()).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request failed")
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed body: %v", holdings.ErrInvalidEvent, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
