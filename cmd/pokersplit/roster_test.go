package main

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestLoadRosterFormatsAgree(t *testing.T) {
	t.Parallel()

	for _, path := range []string{"testdata/friday.yaml", "testdata/friday.csv"} {
		t.Run(path, func(t *testing.T) {
			t.Parallel()

			r, err := loadRoster(path)
			require.NoError(t, err)

			ps, err := r.participants(d("20"))
			require.NoError(t, err)
			require.Len(t, ps, 4)

			assert.Equal(t, "Alice", ps[0].Name)
			assert.True(t, ps[0].Investment.Equal(d("40")))
			assert.True(t, ps[0].CashOut.Equal(d("75")))
			assert.True(t, ps[1].CashOut.IsZero())
			assert.True(t, ps[2].Investment.Equal(d("20")), "missing buy_ins means one")
			assert.True(t, ps[2].CashOut.Equal(d("25")), "dollar sign is accepted")
			assert.True(t, ps[3].CashOut.IsZero(), "missing cash_out means zero")
		})
	}
}

func TestRosterBuyInOverride(t *testing.T) {
	t.Parallel()

	r, err := loadRoster("testdata/friday.yaml")
	require.NoError(t, err)
	assert.True(t, r.BuyIn.Decimal.Equal(d("20")))

	ps, err := r.participants(d("5"))
	require.NoError(t, err)
	assert.True(t, ps[0].Investment.Equal(d("10")))
}

func TestCSVRosterNeedsBuyIn(t *testing.T) {
	t.Parallel()

	r, err := loadRoster("testdata/friday.csv")
	require.NoError(t, err)

	_, err = r.participants(decimal.Zero)
	assert.ErrorIs(t, err, errNoBuyIn)
}

func TestRosterErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		csv   bool
		want  string
	}{
		{
			name:  "bad amount",
			input: "buy_in: 10\nplayers:\n  - name: A\n    cash_out: lots\n",
			want:  "invalid amount",
		},
		{
			name:  "duplicate player",
			input: "buy_in: 10\nplayers:\n  - name: A\n  - name: A\n",
			want:  "duplicate player",
		},
		{
			name:  "negative buy-ins",
			input: "buy_in: 10\nplayers:\n  - name: A\n    buy_ins: -1\n",
			want:  "at least 1",
		},
		{
			name:  "no players",
			input: "buy_in: 10\n",
			want:  "no players",
		},
		{
			name:  "bad csv buy-ins",
			input: "name,buy_ins,cash_out\nA,two,0\n",
			csv:   true,
			want:  "invalid buy_ins",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			parse := parseYAMLRoster
			if tt.csv {
				parse = parseCSVRoster
			}
			r, err := parse(strings.NewReader(tt.input))
			if err == nil {
				_, err = r.participants(decimal.Zero)
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadRosterUnsupportedExtension(t *testing.T) {
	t.Parallel()

	_, err := loadRoster("testdata/missing.txt")
	assert.Error(t, err)
}
