package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"autotrader-v1/internal/model"
)

// MarketEvent is one journaled book or trade-tick update, in journal order.
// Exactly one of Book and Trade is set.
type MarketEvent struct {
	At    time.Time
	Book  *model.Snapshot
	Trade *model.TradeTicks
}

// Session describes one journaled run.
type Session struct {
	ID        string
	StartedAt time.Time
}

// Reader provides read-only access to the journal for replay and reports.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// Sessions lists journaled runs, oldest first.
func (r *Reader) Sessions() ([]Session, error) {
	rows, err := r.db.Query(`SELECT id, started_at FROM sessions ORDER BY started_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		var ns int64
		if err := rows.Scan(&s.ID, &ns); err != nil {
			return nil, fmt.Errorf("sqlite scan sessions: %w", err)
		}
		s.StartedAt = time.Unix(0, ns).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// LatestSession returns the most recently started run. ok is false for an
// empty journal.
func (r *Reader) LatestSession() (s Session, ok bool, err error) {
	var ns int64
	err = r.db.QueryRow(`SELECT id, started_at FROM sessions ORDER BY started_at DESC LIMIT 1`).Scan(&s.ID, &ns)
	if err == sql.ErrNoRows {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("sqlite latest session: %w", err)
	}
	s.StartedAt = time.Unix(0, ns).UTC()
	return s, true, nil
}

// ReadMarket loads the market data journaled for session in arrival order.
func (r *Reader) ReadMarket(session string) ([]MarketEvent, error) {
	rows, err := r.db.Query(`
		SELECT ts, kind, instrument, sequence, asks, bids
		FROM market_events
		WHERE session = ?
		ORDER BY id ASC
	`, session)
	if err != nil {
		return nil, fmt.Errorf("sqlite query market_events: %w", err)
	}
	defer rows.Close()

	var events []MarketEvent
	for rows.Next() {
		var (
			ns, seq    int64
			kind       string
			inst       int
			asks, bids string
		)
		if err := rows.Scan(&ns, &kind, &inst, &seq, &asks, &bids); err != nil {
			return nil, fmt.Errorf("sqlite scan market_events: %w", err)
		}
		var a, b model.Levels
		if err := json.Unmarshal([]byte(asks), &a); err != nil {
			return nil, fmt.Errorf("unmarshal asks: %w", err)
		}
		if err := json.Unmarshal([]byte(bids), &b); err != nil {
			return nil, fmt.Errorf("unmarshal bids: %w", err)
		}

		e := MarketEvent{At: time.Unix(0, ns).UTC()}
		switch kind {
		case kindBook:
			e.Book = &model.Snapshot{Instrument: model.Instrument(inst), Sequence: seq, Asks: a, Bids: b}
		case kindTrade:
			e.Trade = &model.TradeTicks{Instrument: model.Instrument(inst), Sequence: seq, Asks: a, Bids: b}
		default:
			continue
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ReadFills loads the fills journaled for session.
func (r *Reader) ReadFills(session string) ([]model.Fill, error) {
	rows, err := r.db.Query(`
		SELECT kind, order_id, side, price, volume, cycle
		FROM fills
		WHERE session = ?
		ORDER BY id ASC
	`, session)
	if err != nil {
		return nil, fmt.Errorf("sqlite query fills: %w", err)
	}
	defer rows.Close()

	var fills []model.Fill
	for rows.Next() {
		var f model.Fill
		var kind string
		var side int
		if err := rows.Scan(&kind, &f.OrderID, &side, &f.Price, &f.Volume, &f.Cycle); err != nil {
			return nil, fmt.Errorf("sqlite scan fills: %w", err)
		}
		f.Kind = model.FillKind(kind)
		f.Side = model.Side(side)
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// CountArchived returns archived order counts for session keyed by state.
func (r *Reader) CountArchived(session string) (map[string]int, error) {
	rows, err := r.db.Query(`
		SELECT state, COUNT(*) FROM archived_orders WHERE session = ? GROUP BY state
	`, session)
	if err != nil {
		return nil, fmt.Errorf("sqlite query archived_orders: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("sqlite scan archived_orders: %w", err)
		}
		out[state] = n
	}
	return out, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
