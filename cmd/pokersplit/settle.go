package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"

	"github.com/lox/pokersplit/cmd/pokersplit/shared"
	"github.com/lox/pokersplit/internal/fileutil"
	"github.com/lox/pokersplit/internal/report"
	"github.com/lox/pokersplit/internal/settle"
)

// SettleCmd settles a finished game from a roster file without a server.
type SettleCmd struct {
	Roster   string `arg:"" type:"existingfile" help:"Roster file (.yaml, .yml or .csv)"`
	BuyIn    string `kong:"name='buy-in',help='Buy-in amount, overrides the roster'"`
	Strategy string `kong:"default='greedy',env='POKERSPLIT_STRATEGY',help='Settlement strategy: greedy or optimal'"`
	Summary  bool   `kong:"help='Also print the shareable text summary'"`
	Output   string `kong:"short='o',type='path',help='Write the plan as JSON to this file'"`
	LogLevel string `kong:"default='warn',env='POKERSPLIT_LOG_LEVEL',help='Log level'"`
}

// settleOutput is what --output writes.
type settleOutput struct {
	Strategy  settle.Strategy `json:"strategy"`
	Invested  decimal.Decimal `json:"invested"`
	CashedOut decimal.Decimal `json:"cashed_out"`
	Plan      settle.Plan     `json:"plan"`
}

func (c *SettleCmd) Run() error {
	logger, err := shared.SetupLogger(c.LogLevel)
	if err != nil {
		return err
	}
	return c.run(os.Stdout, logger)
}

func (c *SettleCmd) run(w io.Writer, logger *log.Logger) error {
	strategy, err := settle.ParseStrategy(c.Strategy)
	if err != nil {
		return err
	}

	var override decimal.Decimal
	if c.BuyIn != "" {
		if override, err = decimal.NewFromString(c.BuyIn); err != nil {
			return fmt.Errorf("invalid --buy-in %q: %w", c.BuyIn, err)
		}
	}

	r, err := loadRoster(c.Roster)
	if err != nil {
		return err
	}
	participants, err := r.participants(override)
	if err != nil {
		return err
	}
	logger.Debug("Loaded roster", "file", c.Roster, "players", len(participants))

	plan, err := settle.SettleChecked(participants, strategy)
	if errors.Is(err, settle.ErrTooManyParties) {
		logger.Warn("Too many players for optimal settlement, using greedy", "players", len(participants))
		strategy = settle.StrategyGreedy
		plan, err = settle.SettleChecked(participants, strategy)
	}
	var mismatch *settle.PoolMismatchError
	if errors.As(err, &mismatch) {
		return fmt.Errorf("cannot settle: cash-outs total %s but the pot is %s (off by %s)",
			report.Currency(mismatch.Entered), report.Currency(mismatch.Pot), report.SignedCurrency(mismatch.Difference()))
	}
	if err != nil {
		return err
	}

	report.WriteResults(w, plan.Results)
	fmt.Fprintln(w)
	report.WritePayments(w, plan.Payments)
	if c.Summary {
		fmt.Fprintln(w)
		fmt.Fprint(w, report.Summary(plan))
	}

	if c.Output != "" {
		invested, cashedOut := settle.Totals(participants)
		out := settleOutput{Strategy: strategy, Invested: invested, CashedOut: cashedOut, Plan: plan}
		if err := fileutil.WriteJSONAtomic(c.Output, out, 0o644); err != nil {
			return err
		}
		logger.Info("Wrote settlement", "file", c.Output, "payments", len(plan.Payments))
	}
	return nil
}
