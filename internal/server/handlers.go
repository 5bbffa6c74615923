package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/lox/pokersplit/internal/report"
	"github.com/lox/pokersplit/internal/round"
	"github.com/lox/pokersplit/internal/settle"
	"github.com/lox/pokersplit/internal/store"
)

const maxBodyBytes = 1 << 20

// CreateRoundRequest is the body of POST /api/rounds.
type CreateRoundRequest struct {
	BuyIn   decimal.Decimal `json:"buy_in"`
	Players []string        `json:"players"`
}

// AddPlayerRequest is the body of POST /api/rounds/{code}/players.
type AddPlayerRequest struct {
	Name string `json:"name"`
}

// AmountRequest is the body of cash-out and wins updates.
type AmountRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

// SettleRequest is the body of POST /api/settle.
type SettleRequest struct {
	Participants []settle.Participant `json:"participants"`
	Strategy     string               `json:"strategy,omitempty"`
}

// SettleResponse is the stateless settlement result.
type SettleResponse struct {
	Strategy  settle.Strategy `json:"strategy"`
	Invested  decimal.Decimal `json:"invested"`
	CashedOut decimal.Decimal `json:"cashed_out"`
	Plan      settle.Plan     `json:"plan"`
}

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	Rounds   store.Stats     `json:"rounds"`
	Watchers int             `json:"watchers"`
	Strategy settle.Strategy `json:"strategy"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func decodeAmount(w http.ResponseWriter, r *http.Request) (decimal.Decimal, error) {
	var req AmountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return decimal.Decimal{}, err
	}
	if req.Amount == nil {
		return decimal.Decimal{}, fmt.Errorf("%w: amount is required", errBadRequest)
	}
	return *req.Amount, nil
}

func dealerToken(r *http.Request) string {
	return r.Header.Get(DealerTokenHeader)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "OK")
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, StatsResponse{
		Rounds:   stats,
		Watchers: s.hub.ConnectionCount(),
		Strategy: s.service.Strategy(),
	})
}

// handleSettle runs the engine on a posted roster without touching the store.
func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	strategy := s.service.Strategy()
	if req.Strategy != "" {
		parsed, err := settle.ParseStrategy(req.Strategy)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
		strategy = parsed
	}

	plan, err := settle.SettleChecked(req.Participants, strategy)
	if errors.Is(err, settle.ErrTooManyParties) {
		strategy = settle.StrategyGreedy
		plan, err = settle.SettleChecked(req.Participants, strategy)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	invested, cashedOut := settle.Totals(req.Participants)
	s.writeJSON(w, http.StatusOK, SettleResponse{
		Strategy:  strategy,
		Invested:  invested,
		CashedOut: cashedOut,
		Plan:      plan,
	})
}

func (s *Server) handleCreateRound(w http.ResponseWriter, r *http.Request) {
	var req CreateRoundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	created, err := s.service.CreateRound(r.Context(), req.BuyIn, req.Players)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

// handleListRounds is the admin view of every round, newest first.
func (s *Server) handleListRounds(w http.ResponseWriter, r *http.Request) {
	rounds, err := s.service.ListRounds(r.Context(), r.Header.Get(AdminTokenHeader))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rounds)
}

func (s *Server) handleDeleteRound(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteRound(r.Context(), r.Header.Get(AdminTokenHeader), chi.URLParam(r, "code")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetRound(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.Get(r.Context(), chi.URLParam(r, "code"))
	s.respondSnapshot(w, r, snap, err)
}

func (s *Server) handleSettlement(w http.ResponseWriter, r *http.Request) {
	plan, err := s.service.Settlement(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plan)
}

// handleSummary returns the shareable plain-text result of a completed round.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	plan, err := s.service.Settlement(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprint(w, report.Summary(plan))
}

func (s *Server) handleAddPlayer(w http.ResponseWriter, r *http.Request) {
	var req AddPlayerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.service.AddPlayer(r.Context(), chi.URLParam(r, "code"), dealerToken(r), req.Name)
	s.respondSnapshot(w, r, snap, err)
}

func (s *Server) handleAddBuyIn(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.AddBuyIn(r.Context(), chi.URLParam(r, "code"), dealerToken(r), chi.URLParam(r, "id"))
	s.respondSnapshot(w, r, snap, err)
}

func (s *Server) handleRemoveBuyIn(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.RemoveBuyIn(r.Context(), chi.URLParam(r, "code"), dealerToken(r), chi.URLParam(r, "id"))
	s.respondSnapshot(w, r, snap, err)
}

func (s *Server) handleCashOut(w http.ResponseWriter, r *http.Request) {
	amount, err := decodeAmount(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.service.CashOut(r.Context(), chi.URLParam(r, "code"), dealerToken(r), chi.URLParam(r, "id"), amount)
	s.respondSnapshot(w, r, snap, err)
}

func (s *Server) handleSetWins(w http.ResponseWriter, r *http.Request) {
	amount, err := decodeAmount(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.service.SetWins(r.Context(), chi.URLParam(r, "code"), dealerToken(r), chi.URLParam(r, "id"), amount)
	s.respondSnapshot(w, r, snap, err)
}

func (s *Server) handleEndGame(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.EndGame(r.Context(), chi.URLParam(r, "code"), dealerToken(r))
	s.respondSnapshot(w, r, snap, err)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.Resume(r.Context(), chi.URLParam(r, "code"), dealerToken(r))
	s.respondSnapshot(w, r, snap, err)
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.Finalize(r.Context(), chi.URLParam(r, "code"), dealerToken(r))
	s.respondSnapshot(w, r, snap, err)
}

func (s *Server) respondSnapshot(w http.ResponseWriter, r *http.Request, snap round.Snapshot, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}
