package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lox/pokersplit/internal/round"
	"github.com/lox/pokersplit/internal/settle"
	"github.com/lox/pokersplit/internal/store"
)

// Error types returned in API error bodies.
const (
	ErrTypeInvalidRequest = "invalid_request"
	ErrTypeNotDealer      = "not_dealer"
	ErrTypeNotAdmin       = "not_admin"
	ErrTypeNotFound       = "not_found"
	ErrTypeConflict       = "conflict"
	ErrTypePoolMismatch   = "pool_mismatch"
	ErrTypeInternal       = "internal"
)

// errBadRequest marks malformed request bodies.
var errBadRequest = errors.New("bad request")

// APIError is the JSON body of every failed API call.
type APIError struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// classify maps a domain error to an HTTP status and error type.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrNotDealer):
		return http.StatusForbidden, ErrTypeNotDealer
	case errors.Is(err, ErrNotAdmin):
		return http.StatusForbidden, ErrTypeNotAdmin
	case errors.Is(err, store.ErrNotFound), errors.Is(err, round.ErrPlayerNotFound):
		return http.StatusNotFound, ErrTypeNotFound
	case errors.Is(err, round.ErrWrongPhase), errors.Is(err, round.ErrCashedOut):
		return http.StatusConflict, ErrTypeConflict
	case errors.Is(err, settle.ErrPoolMismatch):
		return http.StatusUnprocessableEntity, ErrTypePoolMismatch
	case errors.Is(err, errBadRequest),
		errors.Is(err, ErrInvalidCode),
		errors.Is(err, round.ErrInvalidAmount),
		errors.Is(err, round.ErrInvalidBuyIn),
		errors.Is(err, round.ErrTooFewPlayers),
		errors.Is(err, round.ErrTooManyPlayers),
		errors.Is(err, round.ErrMinimumBuyIn),
		errors.Is(err, settle.ErrNegativeAmount),
		errors.Is(err, settle.ErrTooManyParties):
		return http.StatusBadRequest, ErrTypeInvalidRequest
	default:
		return http.StatusInternalServerError, ErrTypeInternal
	}
}

// writeJSON writes a JSON response with proper headers
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

// writeError maps err to a status and writes it as an APIError.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, errType := classify(err)
	body := APIError{Type: errType, Message: err.Error()}

	var mismatch *settle.PoolMismatchError
	if errors.As(err, &mismatch) {
		body.Context = map[string]any{
			"pot":        mismatch.Pot,
			"entered":    mismatch.Entered,
			"difference": mismatch.Difference(),
		}
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		body.Message = "internal server error"
	}
	s.writeJSON(w, status, body)
}
