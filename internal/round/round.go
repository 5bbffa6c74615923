// Package round holds the state of one poker night: who is playing, how many
// times each player bought in, and what they walked away with. A Round is a
// plain value owned by its caller; it does no I/O and takes no locks.
package round

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lox/pokersplit/internal/settle"
)

// Phase is where a round is in its lifecycle.
type Phase string

const (
	PhasePlaying    Phase = "playing"
	PhaseSettlement Phase = "settlement"
	PhaseComplete   Phase = "complete"
)

// Player limits applied when Options leaves them unset.
const (
	DefaultMinPlayers = 2
	DefaultMaxPlayers = 10
)

var (
	ErrWrongPhase     = errors.New("round: not allowed in this phase")
	ErrPlayerNotFound = errors.New("round: player not found")
	ErrInvalidAmount  = errors.New("round: amount must be zero or more")
	ErrInvalidBuyIn   = errors.New("round: buy-in amount must be positive")
	ErrTooFewPlayers  = errors.New("round: not enough players")
	ErrTooManyPlayers = errors.New("round: too many players")
	ErrMinimumBuyIn   = errors.New("round: players keep at least one buy-in")
	ErrCashedOut      = errors.New("round: player already cashed out")
)

// Player is one seat in a round.
type Player struct {
	ID        string
	Name      string
	BuyIns    int
	Wins      decimal.NullDecimal
	CashedOut bool
	Position  int
}

// Invested is the player's total buy-in at the given unit.
func (p *Player) Invested(unit decimal.Decimal) decimal.Decimal {
	return unit.Mul(decimal.NewFromInt(int64(p.BuyIns)))
}

// Round is the state of a single session from setup to settlement.
type Round struct {
	ID          string
	Code        string
	BuyIn       decimal.Decimal
	Phase       Phase
	DealerToken string
	MaxPlayers  int
	Players     []*Player
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Options configures New.
type Options struct {
	Code        string
	BuyIn       decimal.Decimal
	Names       []string
	DealerToken string
	MinPlayers  int
	MaxPlayers  int
	Now         time.Time
}

// New opens a round in the playing phase with one buy-in per player.
func New(opts Options) (*Round, error) {
	if opts.MinPlayers == 0 {
		opts.MinPlayers = DefaultMinPlayers
	}
	if opts.MaxPlayers == 0 {
		opts.MaxPlayers = DefaultMaxPlayers
	}
	if !opts.BuyIn.IsPositive() {
		return nil, ErrInvalidBuyIn
	}
	if len(opts.Names) < opts.MinPlayers {
		return nil, fmt.Errorf("%w: need at least %d, got %d", ErrTooFewPlayers, opts.MinPlayers, len(opts.Names))
	}
	if len(opts.Names) > opts.MaxPlayers {
		return nil, fmt.Errorf("%w: at most %d, got %d", ErrTooManyPlayers, opts.MaxPlayers, len(opts.Names))
	}

	token := opts.DealerToken
	if token == "" {
		token = uuid.NewString()
	}

	r := &Round{
		ID:          uuid.NewString(),
		Code:        opts.Code,
		BuyIn:       opts.BuyIn,
		Phase:       PhasePlaying,
		DealerToken: token,
		MaxPlayers:  opts.MaxPlayers,
		CreatedAt:   opts.Now,
		UpdatedAt:   opts.Now,
	}
	for _, name := range opts.Names {
		r.appendPlayer(name)
	}
	return r, nil
}

func (r *Round) appendPlayer(name string) *Player {
	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("Player %d", len(r.Players)+1)
	}
	p := &Player{
		ID:       uuid.NewString(),
		Name:     name,
		BuyIns:   1,
		Position: len(r.Players),
	}
	r.Players = append(r.Players, p)
	return p
}

// IsDealer reports whether token is this round's dealer token.
func (r *Round) IsDealer(token string) bool {
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(r.DealerToken)) == 1
}

// Player looks a player up by ID.
func (r *Round) Player(id string) (*Player, error) {
	for _, p := range r.Players {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrPlayerNotFound, id)
}

func (r *Round) requirePhase(phase Phase) error {
	if r.Phase != phase {
		return fmt.Errorf("%w: round is %s, need %s", ErrWrongPhase, r.Phase, phase)
	}
	return nil
}

// AddPlayer seats a new player with one buy-in.
func (r *Round) AddPlayer(name string) (*Player, error) {
	if err := r.requirePhase(PhasePlaying); err != nil {
		return nil, err
	}
	if r.MaxPlayers > 0 && len(r.Players) >= r.MaxPlayers {
		return nil, fmt.Errorf("%w: at most %d", ErrTooManyPlayers, r.MaxPlayers)
	}
	return r.appendPlayer(name), nil
}

// activePlayer returns a player who has not cashed out yet.
func (r *Round) activePlayer(id string) (*Player, error) {
	p, err := r.Player(id)
	if err != nil {
		return nil, err
	}
	if p.CashedOut {
		return nil, fmt.Errorf("%w: %s", ErrCashedOut, p.Name)
	}
	return p, nil
}

// AddBuyIn records one more buy-in for a player.
func (r *Round) AddBuyIn(id string) error {
	if err := r.requirePhase(PhasePlaying); err != nil {
		return err
	}
	p, err := r.activePlayer(id)
	if err != nil {
		return err
	}
	p.BuyIns++
	return nil
}

// RemoveBuyIn takes back a buy-in, never going below one.
func (r *Round) RemoveBuyIn(id string) error {
	if err := r.requirePhase(PhasePlaying); err != nil {
		return err
	}
	p, err := r.activePlayer(id)
	if err != nil {
		return err
	}
	if p.BuyIns <= 1 {
		return ErrMinimumBuyIn
	}
	p.BuyIns--
	return nil
}

// CashOut settles a player early. Their amount is locked from then on.
func (r *Round) CashOut(id string, amount decimal.Decimal) error {
	if err := r.requirePhase(PhasePlaying); err != nil {
		return err
	}
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	p, err := r.activePlayer(id)
	if err != nil {
		return err
	}
	p.Wins = decimal.NewNullDecimal(amount)
	p.CashedOut = true
	return nil
}

// SetWins records a player's final amount during settlement.
func (r *Round) SetWins(id string, amount decimal.Decimal) error {
	if err := r.requirePhase(PhaseSettlement); err != nil {
		return err
	}
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	p, err := r.activePlayer(id)
	if err != nil {
		return err
	}
	p.Wins = decimal.NewNullDecimal(amount)
	return nil
}

// EndGame moves from playing to entering final amounts.
func (r *Round) EndGame() error {
	if err := r.requirePhase(PhasePlaying); err != nil {
		return err
	}
	r.Phase = PhaseSettlement
	return nil
}

// Resume goes back to playing from settlement.
func (r *Round) Resume() error {
	if err := r.requirePhase(PhaseSettlement); err != nil {
		return err
	}
	r.Phase = PhasePlaying
	return nil
}

// Finalize completes the round. Unset amounts count as zero, and the round
// stays in settlement if the entered total doesn't match the pot.
func (r *Round) Finalize() error {
	if err := r.requirePhase(PhaseSettlement); err != nil {
		return err
	}
	if err := settle.Validate(r.Participants()); err != nil {
		return err
	}
	for _, p := range r.Players {
		if !p.Wins.Valid {
			p.Wins = decimal.NewNullDecimal(decimal.Zero)
		}
	}
	r.Phase = PhaseComplete
	return nil
}

// Pot is the sum of all buy-ins.
func (r *Round) Pot() decimal.Decimal {
	var pot decimal.Decimal
	for _, p := range r.Players {
		pot = pot.Add(p.Invested(r.BuyIn))
	}
	return pot
}

// EnteredTotal is the sum of recorded amounts, unset ones counting as zero.
func (r *Round) EnteredTotal() decimal.Decimal {
	var total decimal.Decimal
	for _, p := range r.Players {
		if p.Wins.Valid {
			total = total.Add(p.Wins.Decimal)
		}
	}
	return total
}

// Participants is the engine's view of the round.
func (r *Round) Participants() []settle.Participant {
	out := make([]settle.Participant, len(r.Players))
	for i, p := range r.Players {
		wins := decimal.Zero
		if p.Wins.Valid {
			wins = p.Wins.Decimal
		}
		out[i] = settle.NewParticipant(p.Name, p.BuyIns, r.BuyIn, wins)
	}
	return out
}

// Settlement returns the plan for a completed round. An optimal search over
// too many players falls back to greedy.
func (r *Round) Settlement(strategy settle.Strategy) (settle.Plan, error) {
	if err := r.requirePhase(PhaseComplete); err != nil {
		return settle.Plan{}, err
	}
	plan, err := settle.SettleChecked(r.Participants(), strategy)
	if errors.Is(err, settle.ErrTooManyParties) {
		return settle.SettleChecked(r.Participants(), settle.StrategyGreedy)
	}
	return plan, err
}
