package round

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lox/pokersplit/internal/settle"
)

// PlayerView is the public view of a player.
type PlayerView struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	BuyIns    int              `json:"buy_ins"`
	Invested  decimal.Decimal  `json:"invested"`
	Wins      *decimal.Decimal `json:"wins"`
	CashedOut bool             `json:"cashed_out"`
	Position  int              `json:"position"`
}

// Snapshot is the read-side projection of a round sent to observers. It never
// carries the dealer token.
type Snapshot struct {
	Code         string          `json:"code"`
	BuyIn        decimal.Decimal `json:"buy_in"`
	Phase        Phase           `json:"phase"`
	Pot          decimal.Decimal `json:"pot"`
	EnteredTotal decimal.Decimal `json:"entered_total"`
	Players      []PlayerView    `json:"players"`
	Plan         *settle.Plan    `json:"plan,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Snapshot copies the round into a Snapshot. Completed rounds include their
// settlement plan computed with strategy.
func (r *Round) Snapshot(strategy settle.Strategy) Snapshot {
	snap := Snapshot{
		Code:         r.Code,
		BuyIn:        r.BuyIn,
		Phase:        r.Phase,
		Pot:          r.Pot(),
		EnteredTotal: r.EnteredTotal(),
		Players:      make([]PlayerView, len(r.Players)),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}

	for i, p := range r.Players {
		view := PlayerView{
			ID:        p.ID,
			Name:      p.Name,
			BuyIns:    p.BuyIns,
			Invested:  p.Invested(r.BuyIn),
			CashedOut: p.CashedOut,
			Position:  p.Position,
		}
		if p.Wins.Valid {
			wins := p.Wins.Decimal
			view.Wins = &wins
		}
		snap.Players[i] = view
	}

	if r.Phase == PhaseComplete {
		if plan, err := r.Settlement(strategy); err == nil {
			snap.Plan = &plan
		}
	}
	return snap
}
