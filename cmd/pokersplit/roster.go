package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/lox/pokersplit/internal/settle"
)

var errNoBuyIn = errors.New("buy-in amount is required (set buy_in in the roster or pass --buy-in)")

// amount is a money value read from YAML or CSV. Blank means zero.
type amount struct {
	Decimal decimal.Decimal
}

func (a *amount) parse(s string) error {
	s = strings.TrimPrefix(strings.TrimSpace(s), "$")
	if s == "" {
		a.Decimal = decimal.Zero
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid amount %q", s)
	}
	a.Decimal = d
	return nil
}

// UnmarshalYAML accepts both numeric and quoted scalars.
func (a *amount) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: amount must be a scalar", value.Line)
	}
	return a.parse(value.Value)
}

// rosterEntry is one player of a roster file.
type rosterEntry struct {
	Name    string `yaml:"name"`
	BuyIns  int    `yaml:"buy_ins"`
	CashOut amount `yaml:"cash_out"`
}

// csvRow is a raw CSV line; cells are parsed after decoding so blanks and
// "$" prefixes are accepted.
type csvRow struct {
	Name    string `csv:"name"`
	BuyIns  string `csv:"buy_ins"`
	CashOut string `csv:"cash_out"`
}

// roster is a finished game described in a file.
type roster struct {
	BuyIn   amount        `yaml:"buy_in"`
	Players []rosterEntry `yaml:"players"`
}

// loadRoster reads a .yaml/.yml or .csv roster, chosen by extension.
func loadRoster(path string) (*roster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open roster: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return parseCSVRoster(f)
	case ".yaml", ".yml":
		return parseYAMLRoster(f)
	default:
		return nil, fmt.Errorf("unsupported roster format %q (want .yaml, .yml or .csv)", filepath.Ext(path))
	}
}

func parseYAMLRoster(r io.Reader) (*roster, error) {
	var out roster
	if err := yaml.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode YAML roster: %w", err)
	}
	return &out, nil
}

// parseCSVRoster reads a name,buy_ins,cash_out table. The buy-in unit has
// to come from the command line.
func parseCSVRoster(r io.Reader) (*roster, error) {
	var rows []csvRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode CSV roster: %w", err)
	}

	entries := make([]rosterEntry, 0, len(rows))
	for i, row := range rows {
		e := rosterEntry{Name: row.Name}
		if cell := strings.TrimSpace(row.BuyIns); cell != "" {
			n, err := strconv.Atoi(cell)
			if err != nil {
				return nil, fmt.Errorf("row %d: invalid buy_ins %q", i+1, row.BuyIns)
			}
			e.BuyIns = n
		}
		if err := e.CashOut.parse(row.CashOut); err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		entries = append(entries, e)
	}
	return &roster{Players: entries}, nil
}

// participants resolves the roster against a buy-in unit. A non-zero
// override replaces the roster's own unit.
func (r *roster) participants(override decimal.Decimal) ([]settle.Participant, error) {
	unit := r.BuyIn.Decimal
	if !override.IsZero() {
		unit = override
	}
	if !unit.IsPositive() {
		return nil, errNoBuyIn
	}
	if len(r.Players) == 0 {
		return nil, errors.New("roster has no players")
	}

	seen := make(map[string]bool, len(r.Players))
	ps := make([]settle.Participant, 0, len(r.Players))
	for i, e := range r.Players {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			name = fmt.Sprintf("Player %d", i+1)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate player %q", name)
		}
		seen[name] = true

		buyIns := e.BuyIns
		if buyIns == 0 {
			buyIns = 1
		}
		if buyIns < 0 {
			return nil, fmt.Errorf("%s: buy-ins must be at least 1, got %d", name, buyIns)
		}
		ps = append(ps, settle.NewParticipant(name, buyIns, unit, e.CashOut.Decimal))
	}
	return ps, nil
}
