// Package report renders settlement plans for people: a share message for
// group chats and aligned tables for the terminal.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"github.com/lox/pokersplit/internal/settle"
)

// BrokeEven is shown when a plan has no payments.
const BrokeEven = "Everyone broke even!"

// Currency formats an amount as dollars with two decimals.
func Currency(amount decimal.Decimal) string {
	return "$" + amount.StringFixed(2)
}

// SignedCurrency is Currency with a leading "+" on winnings above a cent.
func SignedCurrency(net decimal.Decimal) string {
	if net.GreaterThan(settle.Epsilon) {
		return "+" + Currency(net)
	}
	return Currency(net)
}

// Pot sums what every result invested.
func Pot(results []settle.Result) decimal.Decimal {
	var pot decimal.Decimal
	for _, r := range results {
		pot = pot.Add(r.Invested)
	}
	return pot
}

// Summary renders plan as a message suitable for pasting into a chat.
func Summary(plan settle.Plan) string {
	var b strings.Builder

	b.WriteString("🃏 Poker Game Settled!\n\n")
	fmt.Fprintf(&b, "💰 Total Pot: %s\n", Currency(Pot(plan.Results)))
	fmt.Fprintf(&b, "👥 Players: %d\n\n", len(plan.Results))

	b.WriteString("📊 Results:\n")
	for _, r := range plan.Results {
		fmt.Fprintf(&b, "• %s: %s (In: %s, Out: %s)\n",
			r.Name, SignedCurrency(r.Net), Currency(r.Invested), Currency(r.Wins))
	}

	if len(plan.Payments) > 0 {
		b.WriteString("\n💸 Settle Up:\n")
		for _, p := range plan.Payments {
			fmt.Fprintf(&b, "• %s → %s: %s\n", p.From, p.To, Currency(p.Amount))
		}
	} else {
		b.WriteString("\n✅ " + BrokeEven + "\n")
	}

	return b.String()
}

// WriteResults prints one row per player with a pot footer.
func WriteResults(w io.Writer, results []settle.Result) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Player", "Invested", "Cashed Out", "Net"})
	table.SetAutoFormatHeaders(false)
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT,
	})

	var invested, cashedOut decimal.Decimal
	for _, r := range results {
		table.Append([]string{r.Name, Currency(r.Invested), Currency(r.Wins), SignedCurrency(r.Net)})
		invested = invested.Add(r.Invested)
		cashedOut = cashedOut.Add(r.Wins)
	}
	table.SetFooter([]string{
		strconv.Itoa(len(results)) + " players",
		Currency(invested),
		Currency(cashedOut),
		"",
	})
	table.Render()
}

// WritePayments prints the transfers, or BrokeEven when there are none.
func WritePayments(w io.Writer, payments []settle.Payment) {
	if len(payments) == 0 {
		fmt.Fprintln(w, BrokeEven)
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"From", "", "To", "Amount"})
	table.SetAutoFormatHeaders(false)
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_CENTER,
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_RIGHT,
	})
	for _, p := range payments {
		table.Append([]string{p.From, "→", p.To, Currency(p.Amount)})
	}
	table.Render()
}
