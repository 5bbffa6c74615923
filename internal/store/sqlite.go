// Package store persists rounds in SQLite.
// Uses the pure-Go modernc.org/sqlite driver to avoid CGO dependencies.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/lox/pokersplit/internal/round"
)

// ErrNotFound is returned when no round has the requested code.
var ErrNotFound = errors.New("store: round not found")

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store manages the SQLite database holding rounds and players.
type Store struct {
	db *sql.DB
}

// Stats counts rounds by lifecycle stage.
type Stats struct {
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// RoundSummary is one row of the admin round list.
type RoundSummary struct {
	Code      string          `json:"code"`
	Phase     round.Phase     `json:"phase"`
	BuyIn     decimal.Decimal `json:"buy_in"`
	Players   int             `json:"players"`
	Pot       decimal.Decimal `json:"pot"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Open creates or opens a SQLite database at the given path.
// It creates the parent directories if needed and runs migrations.
func Open(dbPath string) (*Store, error) {
	if dbPath != "" && dbPath[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("store: cannot expand home directory: %w", err)
		}
		dbPath = filepath.Join(home, dbPath[1:])
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: cannot create directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: cannot open database: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: cannot connect to database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migration failed: %w", err)
	}
	return s, nil
}

// migrate creates the database schema if it doesn't exist.
func (s *Store) migrate() error {
	schema := `
		PRAGMA foreign_keys = ON;

		CREATE TABLE IF NOT EXISTS rounds (
			id TEXT PRIMARY KEY,
			code TEXT NOT NULL UNIQUE,
			buy_in TEXT NOT NULL,
			phase TEXT NOT NULL,
			dealer_token TEXT NOT NULL,
			max_players INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_rounds_phase ON rounds(phase);

		CREATE TABLE IF NOT EXISTS players (
			id TEXT PRIMARY KEY,
			round_id TEXT NOT NULL REFERENCES rounds(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			buy_ins INTEGER NOT NULL DEFAULT 1,
			wins TEXT,
			cashed_out INTEGER NOT NULL DEFAULT 0,
			position INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_players_round ON players(round_id, position);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// CodeExists reports whether a round already uses code.
func (s *Store) CodeExists(ctx context.Context, code string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rounds WHERE code = ?", code).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: cannot check code: %w", err)
	}
	return n > 0, nil
}

// CreateRound inserts a new round and its players.
func (s *Store) CreateRound(ctx context.Context, r *round.Round) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: cannot begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx,
		`INSERT INTO rounds (id, code, buy_in, phase, dealer_token, max_players, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Code, r.BuyIn.String(), string(r.Phase), r.DealerToken, r.MaxPlayers,
		r.CreatedAt.UTC().Format(timeLayout), r.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("store: cannot insert round %s: %w", r.Code, err)
	}

	if err := upsertPlayers(ctx, tx, r); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: cannot commit round %s: %w", r.Code, err)
	}
	return nil
}

// SaveRound writes the round's mutable fields and upserts every player.
func (s *Store) SaveRound(ctx context.Context, r *round.Round) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: cannot begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx,
		`UPDATE rounds SET buy_in = ?, phase = ?, max_players = ?, updated_at = ? WHERE id = ?`,
		r.BuyIn.String(), string(r.Phase), r.MaxPlayers, r.UpdatedAt.UTC().Format(timeLayout), r.ID,
	)
	if err != nil {
		return fmt.Errorf("store: cannot update round %s: %w", r.Code, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, r.Code)
	}

	if err := upsertPlayers(ctx, tx, r); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: cannot commit round %s: %w", r.Code, err)
	}
	return nil
}

func upsertPlayers(ctx context.Context, tx *sql.Tx, r *round.Round) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO players (id, round_id, name, buy_ins, wins, cashed_out, position)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			buy_ins = excluded.buy_ins,
			wins = excluded.wins,
			cashed_out = excluded.cashed_out,
			position = excluded.position`)
	if err != nil {
		return fmt.Errorf("store: cannot prepare player upsert: %w", err)
	}
	defer stmt.Close()

	for _, p := range r.Players {
		var wins sql.NullString
		if p.Wins.Valid {
			wins = sql.NullString{String: p.Wins.Decimal.String(), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, p.ID, r.ID, p.Name, p.BuyIns, wins, p.CashedOut, p.Position); err != nil {
			return fmt.Errorf("store: cannot save player %s: %w", p.Name, err)
		}
	}
	return nil
}

// LoadRound reads a round and its players by code.
func (s *Store) LoadRound(ctx context.Context, code string) (*round.Round, error) {
	var (
		r                    round.Round
		buyIn, phase         string
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, code, buy_in, phase, dealer_token, max_players, created_at, updated_at
		 FROM rounds WHERE code = ?`, code,
	).Scan(&r.ID, &r.Code, &buyIn, &phase, &r.DealerToken, &r.MaxPlayers, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("store: cannot load round %s: %w", code, err)
	}

	if r.BuyIn, err = decimal.NewFromString(buyIn); err != nil {
		return nil, fmt.Errorf("store: round %s has bad buy-in %q: %w", code, buyIn, err)
	}
	r.Phase = round.Phase(phase)
	if r.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("store: round %s has bad created_at: %w", code, err)
	}
	if r.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("store: round %s has bad updated_at: %w", code, err)
	}

	players, err := s.loadPlayers(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	r.Players = players
	return &r, nil
}

func (s *Store) loadPlayers(ctx context.Context, roundID string) ([]*round.Player, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, buy_ins, wins, cashed_out, position
		 FROM players WHERE round_id = ? ORDER BY position`, roundID)
	if err != nil {
		return nil, fmt.Errorf("store: cannot query players: %w", err)
	}
	defer rows.Close()

	var players []*round.Player
	for rows.Next() {
		var (
			p    round.Player
			wins sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.BuyIns, &wins, &p.CashedOut, &p.Position); err != nil {
			return nil, fmt.Errorf("store: cannot scan player: %w", err)
		}
		if wins.Valid {
			amount, err := decimal.NewFromString(wins.String)
			if err != nil {
				return nil, fmt.Errorf("store: player %s has bad wins %q: %w", p.Name, wins.String, err)
			}
			p.Wins = decimal.NewNullDecimal(amount)
		}
		players = append(players, &p)
	}
	return players, rows.Err()
}

// Stats counts active (playing) and completed (settlement or complete) rounds.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT phase, COUNT(*) FROM rounds GROUP BY phase")
	if err != nil {
		return Stats{}, fmt.Errorf("store: cannot count rounds: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var (
			phase string
			n     int
		)
		if err := rows.Scan(&phase, &n); err != nil {
			return Stats{}, fmt.Errorf("store: cannot scan stats: %w", err)
		}
		switch round.Phase(phase) {
		case round.PhasePlaying:
			stats.Active += n
		case round.PhaseSettlement, round.PhaseComplete:
			stats.Completed += n
		}
	}
	stats.Total = stats.Active + stats.Completed
	return stats, rows.Err()
}

// ListRounds returns every round, newest first.
func (s *Store) ListRounds(ctx context.Context) ([]RoundSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.code, r.phase, r.buy_in, r.created_at, r.updated_at,
		       COUNT(p.id), COALESCE(SUM(p.buy_ins), 0)
		FROM rounds r
		LEFT JOIN players p ON p.round_id = r.id
		GROUP BY r.id
		ORDER BY r.created_at DESC, r.code`)
	if err != nil {
		return nil, fmt.Errorf("store: cannot list rounds: %w", err)
	}
	defer rows.Close()

	summaries := []RoundSummary{}
	for rows.Next() {
		var (
			sum                  RoundSummary
			phase, buyIn         string
			createdAt, updatedAt string
			buyIns               int64
		)
		if err := rows.Scan(&sum.Code, &phase, &buyIn, &createdAt, &updatedAt, &sum.Players, &buyIns); err != nil {
			return nil, fmt.Errorf("store: cannot scan round: %w", err)
		}
		sum.Phase = round.Phase(phase)
		if sum.BuyIn, err = decimal.NewFromString(buyIn); err != nil {
			return nil, fmt.Errorf("store: round %s has bad buy-in %q: %w", sum.Code, buyIn, err)
		}
		if sum.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("store: round %s has bad created_at: %w", sum.Code, err)
		}
		if sum.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
			return nil, fmt.Errorf("store: round %s has bad updated_at: %w", sum.Code, err)
		}
		sum.Pot = sum.BuyIn.Mul(decimal.NewFromInt(buyIns))
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// DeleteRound removes a round and all of its players.
func (s *Store) DeleteRound(ctx context.Context, code string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: cannot begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	// Players go first so the delete holds even without foreign key enforcement.
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM players WHERE round_id IN (SELECT id FROM rounds WHERE code = ?)", code); err != nil {
		return fmt.Errorf("store: cannot delete players of %s: %w", code, err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM rounds WHERE code = ?", code)
	if err != nil {
		return fmt.Errorf("store: cannot delete round %s: %w", code, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: cannot commit delete of %s: %w", code, err)
	}
	return nil
}
