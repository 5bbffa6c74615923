package tui

import (
	"io"
	"os"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/pokersplit/internal/client"
	"github.com/lox/pokersplit/internal/round"
	"github.com/lox/pokersplit/internal/server"
	"github.com/lox/pokersplit/internal/settle"
)

func TestMain(m *testing.M) {
	// Plain output keeps assertions independent of the terminal.
	lipgloss.SetColorProfile(termenv.Ascii)
	os.Exit(m.Run())
}

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr(v decimal.Decimal) *decimal.Decimal {
	return &v
}

func playingSnapshot() round.Snapshot {
	return round.Snapshot{
		Code:         "K7QZ2M",
		BuyIn:        d("20"),
		Phase:        round.PhasePlaying,
		Pot:          d("60"),
		EnteredTotal: d("35"),
		Players: []round.PlayerView{
			{ID: "1", Name: "Alice", BuyIns: 1, Invested: d("20")},
			{ID: "2", Name: "Bob", BuyIns: 2, Invested: d("40"), Wins: ptr(d("35")), CashedOut: true},
		},
		UpdatedAt: time.Date(2025, 3, 14, 20, 5, 0, 0, time.UTC),
	}
}

func TestWatchModelRendersRound(t *testing.T) {
	t.Parallel()

	m := NewWatchModel("k7qz2m", make(chan client.Update), testLogger())
	assert.Contains(t, m.View(), "Waiting for round")

	_, cmd := m.Update(UpdateMsg{Change: "subscribed", Round: playingSnapshot()})
	require.NotNil(t, cmd, "model keeps listening after an update")

	view := m.View()
	assert.Contains(t, view, "PokerSplit · K7QZ2M")
	assert.Contains(t, view, "Playing")
	assert.Contains(t, view, "Pot $60.00")
	assert.Contains(t, view, "Alice")
	assert.Contains(t, view, "Bob*", "cashed-out players are marked")
	assert.Contains(t, view, "$-5.00")
	assert.Contains(t, view, "Watching round")
	assert.NotContains(t, view, "Entered")
}

func TestWatchModelShowsSettlement(t *testing.T) {
	t.Parallel()

	m := NewWatchModel("K7QZ2M", make(chan client.Update), testLogger())

	snap := playingSnapshot()
	snap.Phase = round.PhaseComplete
	snap.Players[0].Wins = ptr(d("25"))
	snap.EnteredTotal = d("60")
	snap.Plan = &settle.Plan{
		Payments: []settle.Payment{{From: "Bob", To: "Alice", Amount: d("5")}},
	}
	m.Update(UpdateMsg{Change: "finalized", Round: snap})

	view := m.View()
	assert.Contains(t, view, "Settled")
	assert.Contains(t, view, "Entered $60.00")
	assert.Contains(t, view, "+$5.00")
	assert.Contains(t, view, "Bob → Alice  $5.00")
	assert.Contains(t, view, "Round settled")

	snap.Plan = &settle.Plan{}
	m.Update(UpdateMsg{Change: "finalized", Round: snap})
	assert.Contains(t, m.View(), "Everyone broke even!")
}

func TestWatchModelErrorsAndDisconnect(t *testing.T) {
	t.Parallel()

	m := NewWatchModel("ZZZZZZ", make(chan client.Update), testLogger())

	m.Update(UpdateMsg{Err: &server.ErrorData{Code: "not_found", Message: "No round with code ZZZZZZ"}})
	assert.Contains(t, m.View(), "No round with code ZZZZZZ")

	_, cmd := m.Update(DisconnectedMsg{})
	assert.Nil(t, cmd)
	assert.Contains(t, m.View(), "disconnected")
}

func TestWatchModelListensOnChannel(t *testing.T) {
	t.Parallel()

	updates := make(chan client.Update, 1)
	m := NewWatchModel("K7QZ2M", updates, testLogger())

	updates <- client.Update{Change: "ended", Round: playingSnapshot()}
	msg := m.Init()()
	require.IsType(t, UpdateMsg{}, msg)
	assert.Equal(t, "ended", msg.(UpdateMsg).Change)

	close(updates)
	assert.Equal(t, DisconnectedMsg{}, m.waitForUpdate()())
}

func TestWatchModelQuit(t *testing.T) {
	t.Parallel()

	m := NewWatchModel("K7QZ2M", make(chan client.Update), testLogger())
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	assert.Equal(t, 98, m.logViewport.Width)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
	assert.Empty(t, m.View())
}
