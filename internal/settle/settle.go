// Package settle turns a finished round's buy-ins and cash-outs into per
// player results and the list of transfers that clears every balance.
//
// Everything in this package is a pure function of its arguments: inputs are
// never mutated and repeated calls on the same snapshot return identical
// output, so callers can recompute on every change notification.
package settle

import (
	"slices"

	"github.com/shopspring/decimal"
)

// Epsilon is the one-cent tolerance below which a balance counts as settled.
var Epsilon = decimal.New(1, -2)

// Participant is one person's position at settlement time.
type Participant struct {
	Name       string          `json:"name" yaml:"name"`
	Investment decimal.Decimal `json:"investment" yaml:"investment"`
	CashOut    decimal.Decimal `json:"cash_out" yaml:"cash_out"`
}

// NewParticipant derives the investment from a buy-in count and unit.
func NewParticipant(name string, buyIns int, unit, cashOut decimal.Decimal) Participant {
	return Participant{
		Name:       name,
		Investment: unit.Mul(decimal.NewFromInt(int64(buyIns))),
		CashOut:    cashOut,
	}
}

// Net returns cash-out minus investment.
func (p Participant) Net() decimal.Decimal {
	return p.CashOut.Sub(p.Investment)
}

// Result is the per-participant row of a settlement.
type Result struct {
	Name     string          `json:"name"`
	Invested decimal.Decimal `json:"invested"`
	Wins     decimal.Decimal `json:"wins"`
	Net      decimal.Decimal `json:"net"`
}

// Payment is a single transfer from a debtor to a creditor.
type Payment struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// Plan bundles the net table with the transfers that clear it.
type Plan struct {
	Results  []Result  `json:"results"`
	Payments []Payment `json:"payments"`
}

// ComputeNet returns one result per participant, in input order.
func ComputeNet(participants []Participant) []Result {
	results := make([]Result, len(participants))
	for i, p := range participants {
		results[i] = Result{
			Name:     p.Name,
			Invested: p.Investment,
			Wins:     p.CashOut,
			Net:      p.Net(),
		}
	}
	return results
}

// balance is a party's remaining amount owed (debtor) or due (creditor).
type balance struct {
	name   string
	amount decimal.Decimal
}

// ComputeSettlements pairs the largest remaining debtor with the largest
// remaining creditor until one side runs out. Balances within Epsilon of zero
// take no part, payments of Epsilon or less are not recorded, and whatever is
// left on the longer side when the other empties is dropped.
func ComputeSettlements(participants []Participant) []Payment {
	debtors, creditors := partition(participants)

	payments := []Payment{}
	for len(debtors) > 0 && len(creditors) > 0 {
		debtor := &debtors[0]
		creditor := &creditors[0]

		amount := decimal.Min(debtor.amount, creditor.amount)
		if amount.GreaterThan(Epsilon) {
			payments = append(payments, Payment{
				From:   debtor.name,
				To:     creditor.name,
				Amount: amount,
			})
		}

		debtor.amount = debtor.amount.Sub(amount)
		creditor.amount = creditor.amount.Sub(amount)

		if debtor.amount.LessThan(Epsilon) {
			debtors = debtors[1:]
		}
		if creditor.amount.LessThan(Epsilon) {
			creditors = creditors[1:]
		}
	}
	return payments
}

// partition splits participants into debtors and creditors, each sorted
// largest first. The sort is stable so equal amounts keep input order.
func partition(participants []Participant) (debtors, creditors []balance) {
	for _, p := range participants {
		net := p.Net()
		if net.Abs().LessThan(Epsilon) {
			continue
		}
		if net.IsNegative() {
			debtors = append(debtors, balance{name: p.Name, amount: net.Neg()})
		} else {
			creditors = append(creditors, balance{name: p.Name, amount: net})
		}
	}

	largestFirst := func(a, b balance) int { return b.amount.Cmp(a.amount) }
	slices.SortStableFunc(debtors, largestFirst)
	slices.SortStableFunc(creditors, largestFirst)
	return debtors, creditors
}

// Settle computes the net table and greedy transfers in one call.
func Settle(participants []Participant) Plan {
	return Plan{
		Results:  ComputeNet(participants),
		Payments: ComputeSettlements(participants),
	}
}

// SettleChecked validates the pool before settling with the given strategy.
func SettleChecked(participants []Participant, strategy Strategy) (Plan, error) {
	if err := Validate(participants); err != nil {
		return Plan{}, err
	}

	plan := Plan{Results: ComputeNet(participants)}
	switch strategy {
	case StrategyOptimal:
		payments, err := Optimal(participants)
		if err != nil {
			return Plan{}, err
		}
		plan.Payments = payments
	default:
		plan.Payments = ComputeSettlements(participants)
	}
	return plan, nil
}

// Totals returns the summed investment and cash-out across participants.
func Totals(participants []Participant) (invested, cashedOut decimal.Decimal) {
	for _, p := range participants {
		invested = invested.Add(p.Investment)
		cashedOut = cashedOut.Add(p.CashOut)
	}
	return invested, cashedOut
}
