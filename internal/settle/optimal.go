package settle

import (
	"errors"
	"fmt"
	"math/bits"
	"strings"
)

// MaxOptimalParties bounds the number of unsettled balances Optimal accepts.
// The search is exponential in this number.
const MaxOptimalParties = 16

// ErrTooManyParties is returned by Optimal when the group is too large.
var ErrTooManyParties = errors.New("settle: too many unsettled parties for optimal search")

// Strategy selects how transfers are generated.
type Strategy string

const (
	// StrategyGreedy is ComputeSettlements: largest debtor pays largest creditor.
	StrategyGreedy Strategy = "greedy"
	// StrategyOptimal is Optimal: fewest possible transfers.
	StrategyOptimal Strategy = "optimal"
)

// ParseStrategy accepts "greedy" or "optimal", case-insensitively. Empty
// input means greedy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyGreedy:
		return StrategyGreedy, nil
	case StrategyOptimal:
		return StrategyOptimal, nil
	default:
		return "", fmt.Errorf("settle: unknown strategy %q", s)
	}
}

func (s Strategy) String() string {
	return string(s)
}

// Optimal returns a settlement with the minimum number of transfers.
//
// Balances are split into the largest possible number of groups that each
// sum to zero; a group of k balances needs k-1 transfers and no fewer, so
// maximising the group count minimises the total. Each group is then cleared
// with ComputeSettlements. Balances are compared in whole cents.
func Optimal(participants []Participant) ([]Payment, error) {
	var parties []Participant
	var cents []int64
	for _, p := range participants {
		net := p.Net()
		if net.Abs().LessThan(Epsilon) {
			continue
		}
		parties = append(parties, p)
		cents = append(cents, net.Shift(2).Round(0).IntPart())
	}

	n := len(parties)
	if n > MaxOptimalParties {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrTooManyParties, n, MaxOptimalParties)
	}
	if n == 0 {
		return []Payment{}, nil
	}

	full := uint32(1)<<n - 1
	sums := make([]int64, full+1)
	groups := make([]int8, full+1)
	last := make([]uint8, full+1)

	for mask := uint32(1); mask <= full; mask++ {
		low := bits.TrailingZeros32(mask)
		sums[mask] = sums[mask&(mask-1)] + cents[low]

		best := int8(-1)
		for rest := mask; rest != 0; rest &= rest - 1 {
			i := bits.TrailingZeros32(rest)
			if g := groups[mask^(1<<i)]; g > best {
				best = g
				last[mask] = uint8(i)
			}
		}
		if sums[mask] == 0 {
			best++
		}
		groups[mask] = best
	}

	payments := []Payment{}
	var group []Participant
	for mask := full; mask != 0; {
		i := last[mask]
		group = append(group, parties[i])
		mask ^= 1 << i
		if sums[mask] == 0 {
			payments = append(payments, ComputeSettlements(group)...)
			group = group[:0]
		}
	}
	return payments, nil
}
