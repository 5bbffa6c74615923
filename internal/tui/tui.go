// Package tui renders a live view of a round in the terminal.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"

	"github.com/lox/pokersplit/internal/client"
	"github.com/lox/pokersplit/internal/report"
	"github.com/lox/pokersplit/internal/round"
	"github.com/lox/pokersplit/internal/settle"
)

// UpdateMsg carries one update from the server into the model.
type UpdateMsg client.Update

// DisconnectedMsg is sent when the update stream ends.
type DisconnectedMsg struct{}

// WatchModel is the Bubble Tea model behind `pokersplit watch`.
type WatchModel struct {
	code    string
	updates <-chan client.Update
	logger  *log.Logger

	logViewport viewport.Model

	snapshot     *round.Snapshot
	changeLog    []string
	lastError    string
	disconnected bool
	quitting     bool

	width  int
	height int
}

// NewWatchModel creates a model fed by updates.
func NewWatchModel(code string, updates <-chan client.Update, logger *log.Logger) *WatchModel {
	// Resized when the first WindowSizeMsg arrives.
	vp := viewport.New(60, 6)
	vp.SetContent("")

	return &WatchModel{
		code:        strings.ToUpper(code),
		updates:     updates,
		logger:      logger.WithPrefix("tui"),
		logViewport: vp,
	}
}

// Init starts listening for updates.
func (m *WatchModel) Init() tea.Cmd {
	return m.waitForUpdate()
}

func (m *WatchModel) waitForUpdate() tea.Cmd {
	updates := m.updates
	return func() tea.Msg {
		u, ok := <-updates
		if !ok {
			return DisconnectedMsg{}
		}
		return UpdateMsg(u)
	}
}

// Update handles messages in the TUI
func (m *WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case UpdateMsg:
		m.apply(client.Update(msg))
		return m, m.waitForUpdate()

	case DisconnectedMsg:
		m.disconnected = true
		m.addLogEntry(WarningStyle.Render("Disconnected from server"))
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.logViewport.Width = max(msg.Width-2, 20)
		m.logViewport.Height = max(msg.Height/3, 3)
		m.logger.Debug("Updating dimensions", "width", m.width, "height", m.height)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			m.quitting = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.logViewport, cmd = m.logViewport.Update(msg)
	return m, cmd
}

func (m *WatchModel) apply(u client.Update) {
	if u.Err != nil {
		m.lastError = u.Err.Message
		m.addLogEntry(ErrorStyle.Render("Error: " + u.Err.Message))
		return
	}

	snap := u.Round
	m.snapshot = &snap
	m.lastError = ""
	m.addLogEntry(fmt.Sprintf("%s  %s",
		InfoStyle.Render(snap.UpdatedAt.Local().Format("15:04:05")),
		describeChange(u.Change)))
}

func (m *WatchModel) addLogEntry(entry string) {
	m.changeLog = append(m.changeLog, entry)
	m.logViewport.SetContent(strings.Join(m.changeLog, "\n"))
	m.logViewport.GotoBottom()
}

func describeChange(change string) string {
	switch change {
	case "subscribed":
		return "Watching round"
	case "created":
		return "Round created"
	case "player_added":
		return "Player joined"
	case "buy_in_added":
		return "Buy-in added"
	case "buy_in_removed":
		return "Buy-in removed"
	case "cashed_out":
		return "Player cashed out"
	case "wins_set":
		return "Final amount entered"
	case "ended":
		return "Game ended, entering final amounts"
	case "resumed":
		return "Game resumed"
	case "finalized":
		return "Round settled"
	case "deleted":
		return "Round deleted by an admin"
	default:
		return change
	}
}

// View renders the TUI
func (m *WatchModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(HeaderStyle.Render("PokerSplit · " + m.code))

	if m.snapshot == nil {
		b.WriteString("\n\n")
		if m.lastError != "" {
			b.WriteString(ErrorStyle.Render(m.lastError))
		} else {
			b.WriteString(InfoStyle.Render("Waiting for round..."))
		}
		b.WriteString("\n")
	} else {
		b.WriteString("  ")
		b.WriteString(PhaseStyle.Render(phaseLabel(m.snapshot.Phase)))
		b.WriteString("\n\n")
		b.WriteString(m.renderSummaryLine())
		b.WriteString("\n\n")
		b.WriteString(m.renderPlayers())
		if m.snapshot.Plan != nil {
			b.WriteString("\n")
			b.WriteString(renderPayments(m.snapshot.Plan.Payments))
		}
	}

	b.WriteString("\n")
	b.WriteString(LogBorderStyle.Render(m.logViewport.View()))
	b.WriteString("\n")

	help := "q: quit · ↑/↓: scroll log"
	if m.disconnected {
		help = WarningStyle.Render("disconnected") + " · " + help
	}
	b.WriteString(InfoStyle.Render(help))
	return b.String()
}

func phaseLabel(phase round.Phase) string {
	switch phase {
	case round.PhasePlaying:
		return "Playing"
	case round.PhaseSettlement:
		return "Entering final amounts"
	case round.PhaseComplete:
		return "Settled"
	default:
		return string(phase)
	}
}

func (m *WatchModel) renderSummaryLine() string {
	s := m.snapshot
	line := fmt.Sprintf("Buy-in %s · Pot %s · %d players",
		report.Currency(s.BuyIn), report.Currency(s.Pot), len(s.Players))
	if s.Phase != round.PhasePlaying {
		entered := "Entered " + report.Currency(s.EnteredTotal)
		if s.EnteredTotal.Sub(s.Pot).Abs().LessThan(settle.Epsilon) {
			entered = PositiveStyle.Render(entered)
		} else {
			entered = WarningStyle.Render(entered)
		}
		line += " · " + entered
	}
	return line
}

func (m *WatchModel) renderPlayers() string {
	nameWidth := len("Player")
	for _, p := range m.snapshot.Players {
		nameWidth = max(nameWidth, lipgloss.Width(p.Name))
	}

	var b strings.Builder
	header := fmt.Sprintf("%-*s %7s %10s %10s %10s", nameWidth, "Player", "Buy-ins", "Invested", "Out", "Net")
	b.WriteString(ColumnHeaderStyle.Render(header))
	b.WriteString("\n")

	for _, p := range m.snapshot.Players {
		out, net := "-", "-"
		netStyle := PlayerInfoStyle
		if p.Wins != nil {
			out = report.Currency(*p.Wins)
			diff := p.Wins.Sub(p.Invested)
			net = report.SignedCurrency(diff)
			netStyle = netStyleFor(diff)
		}
		name := p.Name
		if p.CashedOut {
			name += "*"
		}
		row := fmt.Sprintf("%-*s %7d %10s %10s ", nameWidth, name, p.BuyIns, report.Currency(p.Invested), out)
		b.WriteString(PlayerInfoStyle.Render(row))
		b.WriteString(netStyle.Render(fmt.Sprintf("%10s", net)))
		b.WriteString("\n")
	}
	return b.String()
}

func netStyleFor(net decimal.Decimal) lipgloss.Style {
	switch {
	case net.GreaterThan(settle.Epsilon):
		return PositiveStyle
	case net.LessThan(settle.Epsilon.Neg()):
		return NegativeStyle
	default:
		return PlayerInfoStyle
	}
}

func renderPayments(payments []settle.Payment) string {
	if len(payments) == 0 {
		return PositiveStyle.Render(report.BrokeEven) + "\n"
	}

	var b strings.Builder
	b.WriteString(ColumnHeaderStyle.Render("Settle up"))
	b.WriteString("\n")
	for _, p := range payments {
		fmt.Fprintf(&b, "  %s → %s  %s\n", p.From, p.To, PositiveStyle.Render(report.Currency(p.Amount)))
	}
	return b.String()
}
