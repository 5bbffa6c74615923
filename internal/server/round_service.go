package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/shopspring/decimal"

	"github.com/lox/pokersplit/internal/events"
	"github.com/lox/pokersplit/internal/gamecode"
	"github.com/lox/pokersplit/internal/round"
	"github.com/lox/pokersplit/internal/settle"
	"github.com/lox/pokersplit/internal/store"
)

// maxCodeAttempts bounds the search for an unused round code.
const maxCodeAttempts = 10

var (
	ErrNotDealer     = errors.New("server: dealer token required")
	ErrInvalidCode   = errors.New("server: invalid round code")
	ErrCodeExhausted = errors.New("server: could not allocate a unique round code")
	ErrNotAdmin      = errors.New("server: admin token required")
)

// RoundStore is the persistence the service needs. *store.Store satisfies it.
type RoundStore interface {
	CodeExists(ctx context.Context, code string) (bool, error)
	CreateRound(ctx context.Context, r *round.Round) error
	LoadRound(ctx context.Context, code string) (*round.Round, error)
	SaveRound(ctx context.Context, r *round.Round) error
	Stats(ctx context.Context) (store.Stats, error)
	ListRounds(ctx context.Context) ([]store.RoundSummary, error)
	DeleteRound(ctx context.Context, code string) error
}

// RoundService is the single writer for rounds. Every mutation loads the
// round, applies the change, saves it and publishes the new snapshot while
// holding the service lock, so concurrent dealers see last-write-wins.
type RoundService struct {
	mu         sync.Mutex
	store      RoundStore
	bus        *events.Bus
	codes      *gamecode.Generator
	clock      quartz.Clock
	strategy   settle.Strategy
	minPlayers int
	maxPlayers int
	adminToken string
	logger     *log.Logger
}

// ServiceOption configures a RoundService.
type ServiceOption func(*RoundService)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clock quartz.Clock) ServiceOption {
	return func(s *RoundService) { s.clock = clock }
}

// WithCodeGenerator sets the round code generator.
func WithCodeGenerator(g *gamecode.Generator) ServiceOption {
	return func(s *RoundService) { s.codes = g }
}

// WithStrategy sets how completed rounds are settled.
func WithStrategy(strategy settle.Strategy) ServiceOption {
	return func(s *RoundService) { s.strategy = strategy }
}

// WithPlayerLimits bounds the table size of new rounds.
func WithPlayerLimits(minPlayers, maxPlayers int) ServiceOption {
	return func(s *RoundService) {
		s.minPlayers = minPlayers
		s.maxPlayers = maxPlayers
	}
}

// WithAdminToken enables the admin operations for callers presenting token.
// With no token they are refused.
func WithAdminToken(token string) ServiceOption {
	return func(s *RoundService) { s.adminToken = strings.TrimSpace(token) }
}

// NewRoundService creates a service over st that announces changes on bus.
func NewRoundService(st RoundStore, bus *events.Bus, logger *log.Logger, opts ...ServiceOption) *RoundService {
	s := &RoundService{
		store:      st,
		bus:        bus,
		codes:      gamecode.NewGenerator(nil),
		clock:      quartz.NewReal(),
		strategy:   settle.StrategyGreedy,
		minPlayers: round.DefaultMinPlayers,
		maxPlayers: round.DefaultMaxPlayers,
		logger:     logger.WithPrefix("rounds"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Strategy is the settlement strategy applied to completed rounds.
func (s *RoundService) Strategy() settle.Strategy {
	return s.strategy
}

// Created is returned once, to the dealer who opened the round.
type Created struct {
	Code        string         `json:"code"`
	DealerToken string         `json:"dealer_token"`
	Round       round.Snapshot `json:"round"`
}

// CreateRound opens a new round with a fresh code and dealer token.
func (s *RoundService) CreateRound(ctx context.Context, buyIn decimal.Decimal, names []string) (Created, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, err := s.allocateCode(ctx)
	if err != nil {
		return Created{}, err
	}

	r, err := round.New(round.Options{
		Code:       code,
		BuyIn:      buyIn,
		Names:      names,
		MinPlayers: s.minPlayers,
		MaxPlayers: s.maxPlayers,
		Now:        s.clock.Now(),
	})
	if err != nil {
		return Created{}, err
	}
	if err := s.store.CreateRound(ctx, r); err != nil {
		return Created{}, err
	}

	snap := r.Snapshot(s.strategy)
	s.bus.Publish(events.RoundUpdated{Code: code, Change: "created", Snapshot: snap})
	s.logger.Info("Round created", "code", code, "players", len(r.Players), "buyIn", buyIn.StringFixed(2))

	return Created{Code: code, DealerToken: r.DealerToken, Round: snap}, nil
}

func (s *RoundService) allocateCode(ctx context.Context) (string, error) {
	for range maxCodeAttempts {
		code := s.codes.Generate()
		exists, err := s.store.CodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
		s.logger.Debug("Round code collision", "code", code)
	}
	return "", ErrCodeExhausted
}

func normalizeCode(code string) (string, error) {
	code = gamecode.Normalize(code)
	if err := gamecode.Validate(code); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}
	return code, nil
}

// Get returns the current snapshot of a round.
func (s *RoundService) Get(ctx context.Context, code string) (round.Snapshot, error) {
	r, err := s.load(ctx, code)
	if err != nil {
		return round.Snapshot{}, err
	}
	return r.Snapshot(s.strategy), nil
}

// Settlement returns the payment plan of a completed round.
func (s *RoundService) Settlement(ctx context.Context, code string) (settle.Plan, error) {
	r, err := s.load(ctx, code)
	if err != nil {
		return settle.Plan{}, err
	}
	return r.Settlement(s.strategy)
}

// Stats counts rounds in the store.
func (s *RoundService) Stats(ctx context.Context) (store.Stats, error) {
	return s.store.Stats(ctx)
}

func (s *RoundService) load(ctx context.Context, code string) (*round.Round, error) {
	code, err := normalizeCode(code)
	if err != nil {
		return nil, err
	}
	return s.store.LoadRound(ctx, code)
}

// mutate runs apply against the stored round as the dealer and commits it.
func (s *RoundService) mutate(ctx context.Context, code, token, change string, apply func(*round.Round) error) (round.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.load(ctx, code)
	if err != nil {
		return round.Snapshot{}, err
	}
	if !r.IsDealer(strings.TrimSpace(token)) {
		s.logger.Warn("Rejected mutation without dealer token", "code", r.Code, "change", change)
		return round.Snapshot{}, ErrNotDealer
	}
	if err := apply(r); err != nil {
		return round.Snapshot{}, err
	}

	r.UpdatedAt = s.clock.Now()
	if err := s.store.SaveRound(ctx, r); err != nil {
		return round.Snapshot{}, err
	}

	snap := r.Snapshot(s.strategy)
	s.bus.Publish(events.RoundUpdated{Code: r.Code, Change: change, Snapshot: snap})
	s.logger.Info("Round updated", "code", r.Code, "change", change, "phase", r.Phase)
	return snap, nil
}

// AddPlayer seats a new player while the round is playing.
func (s *RoundService) AddPlayer(ctx context.Context, code, token, name string) (round.Snapshot, error) {
	return s.mutate(ctx, code, token, "player_added", func(r *round.Round) error {
		_, err := r.AddPlayer(name)
		return err
	})
}

// AddBuyIn records a rebuy.
func (s *RoundService) AddBuyIn(ctx context.Context, code, token, playerID string) (round.Snapshot, error) {
	return s.mutate(ctx, code, token, "buy_in_added", func(r *round.Round) error {
		return r.AddBuyIn(playerID)
	})
}

// RemoveBuyIn undoes a rebuy.
func (s *RoundService) RemoveBuyIn(ctx context.Context, code, token, playerID string) (round.Snapshot, error) {
	return s.mutate(ctx, code, token, "buy_in_removed", func(r *round.Round) error {
		return r.RemoveBuyIn(playerID)
	})
}

// CashOut locks a player's final amount before the game ends.
func (s *RoundService) CashOut(ctx context.Context, code, token, playerID string, amount decimal.Decimal) (round.Snapshot, error) {
	return s.mutate(ctx, code, token, "cashed_out", func(r *round.Round) error {
		return r.CashOut(playerID, amount)
	})
}

// SetWins records a player's final amount during settlement.
func (s *RoundService) SetWins(ctx context.Context, code, token, playerID string, amount decimal.Decimal) (round.Snapshot, error) {
	return s.mutate(ctx, code, token, "wins_set", func(r *round.Round) error {
		return r.SetWins(playerID, amount)
	})
}

// EndGame moves the round to settlement.
func (s *RoundService) EndGame(ctx context.Context, code, token string) (round.Snapshot, error) {
	return s.mutate(ctx, code, token, "ended", func(r *round.Round) error {
		return r.EndGame()
	})
}

// Resume returns the round to playing.
func (s *RoundService) Resume(ctx context.Context, code, token string) (round.Snapshot, error) {
	return s.mutate(ctx, code, token, "resumed", func(r *round.Round) error {
		return r.Resume()
	})
}

// Finalize completes the round once the amounts balance.
func (s *RoundService) Finalize(ctx context.Context, code, token string) (round.Snapshot, error) {
	return s.mutate(ctx, code, token, "finalized", func(r *round.Round) error {
		return r.Finalize()
	})
}

func (s *RoundService) isAdmin(token string) bool {
	if s.adminToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.adminToken)) == 1
}

// ListRounds returns every stored round, newest first.
func (s *RoundService) ListRounds(ctx context.Context, adminToken string) ([]store.RoundSummary, error) {
	if !s.isAdmin(adminToken) {
		s.logger.Warn("Rejected round list without admin token")
		return nil, ErrNotAdmin
	}
	return s.store.ListRounds(ctx)
}

// DeleteRound removes a round and its players. Watchers receive the last
// snapshot with change "deleted".
func (s *RoundService) DeleteRound(ctx context.Context, adminToken, code string) error {
	if !s.isAdmin(adminToken) {
		s.logger.Warn("Rejected round delete without admin token", "code", code)
		return ErrNotAdmin
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.load(ctx, code)
	if err != nil {
		return err
	}
	if err := s.store.DeleteRound(ctx, r.Code); err != nil {
		return err
	}

	s.bus.Publish(events.RoundUpdated{Code: r.Code, Change: "deleted", Snapshot: r.Snapshot(s.strategy)})
	s.logger.Info("Round deleted", "code", r.Code, "phase", r.Phase)
	return nil
}
