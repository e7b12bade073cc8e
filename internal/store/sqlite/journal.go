package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"autotrader-v1/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
	defaultBuffer     = 8192
)

// Market event kinds stored in market_events.kind.
const (
	kindBook  = "book"
	kindTrade = "trade"
)

// WriterConfig configures the journal writer.
type WriterConfig struct {
	DBPath  string // path to SQLite database file, e.g. "data/journal.db"
	Session string // run identifier stamped on every row
	Buffer  int    // queued records before Record* calls start dropping
}

type recordKind uint8

const (
	recBook recordKind = iota
	recTrade
	recFill
	recOrder
)

type record struct {
	kind  recordKind
	at    time.Time
	book  model.Snapshot
	trade model.TradeTicks
	fill  model.Fill
	order model.Order
}

// Writer journals the engine's audit trail. Record* methods never block the
// caller; a single goroutine in Run commits records in batched transactions.
type Writer struct {
	db      *sql.DB
	session string
	ch      chan record
	dropped atomic.Uint64

	// Optional hook, called with the duration of each committed batch.
	OnCommit func(d time.Duration)
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// Session returns the run identifier rows are stamped with.
func (w *Writer) Session() string { return w.session }

// New opens the journal with WAL mode, creates the schema and registers the
// session.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	if _, err := db.Exec(`INSERT OR IGNORE INTO sessions (id, started_at) VALUES (?, ?)`,
		cfg.Session, time.Now().UnixNano()); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite session: %w", err)
	}

	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	log.Printf("[sqlite] opened journal at %s session=%s", cfg.DBPath, cfg.Session)
	return &Writer{db: db, session: cfg.Session, ch: make(chan record, buffer)}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT    PRIMARY KEY,
			started_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS market_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session    TEXT    NOT NULL,
			ts         INTEGER NOT NULL,
			kind       TEXT    NOT NULL,
			instrument INTEGER NOT NULL,
			sequence   INTEGER NOT NULL,
			asks       TEXT    NOT NULL,
			bids       TEXT    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_market_events_session ON market_events (session, id);

		CREATE TABLE IF NOT EXISTS fills (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			session  TEXT    NOT NULL,
			ts       INTEGER NOT NULL,
			kind     TEXT    NOT NULL,
			order_id INTEGER NOT NULL,
			side     INTEGER NOT NULL,
			price    INTEGER NOT NULL,
			volume   INTEGER NOT NULL,
			purpose  TEXT    NOT NULL,
			cycle    INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS archived_orders (
			session      TEXT    NOT NULL,
			order_id     INTEGER NOT NULL,
			side         INTEGER NOT NULL,
			price        INTEGER NOT NULL,
			volume       INTEGER NOT NULL,
			filled       INTEGER NOT NULL,
			lifespan     INTEGER NOT NULL,
			state        TEXT    NOT NULL,
			purpose      TEXT    NOT NULL,
			pair_id      INTEGER NOT NULL,
			fees         INTEGER NOT NULL,
			submitted_at INTEGER NOT NULL,
			live_at      INTEGER NOT NULL,
			done_at      INTEGER NOT NULL,
			PRIMARY KEY (session, order_id)
		);
	`)
	return err
}

func (w *Writer) enqueue(r record) {
	r.at = time.Now()
	select {
	case w.ch <- r:
	default:
		if w.dropped.Add(1)%1000 == 1 {
			log.Printf("[sqlite] journal queue full, %d records dropped", w.dropped.Load())
		}
	}
}

// RecordBook implements model.Recorder.
func (w *Writer) RecordBook(s model.Snapshot) { w.enqueue(record{kind: recBook, book: s}) }

// RecordTrade implements model.Recorder.
func (w *Writer) RecordTrade(t model.TradeTicks) { w.enqueue(record{kind: recTrade, trade: t}) }

// RecordFill implements model.Recorder.
func (w *Writer) RecordFill(f model.Fill) { w.enqueue(record{kind: recFill, fill: f}) }

// RecordArchived implements model.Recorder.
func (w *Writer) RecordArchived(o model.Order) { w.enqueue(record{kind: recOrder, order: o}) }

// Dropped is the number of records lost to a full queue.
func (w *Writer) Dropped() uint64 { return w.dropped.Load() }

// Run commits queued records in batched transactions.
// Flushes every batchSize records OR every flushDelay, whichever first.
// Blocks until ctx is cancelled; queued records are flushed before returning.
func (w *Writer) Run(ctx context.Context) {
	batch := make([]record, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.insertBatch(batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		} else if w.OnCommit != nil {
			w.OnCommit(time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case r := <-w.ch:
					batch = append(batch, r)
					if len(batch) >= defaultBatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}

		case r := <-w.ch:
			batch = append(batch, r)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// insertBatch writes a batch of records in a single transaction.
func (w *Writer) insertBatch(batch []record) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	market, err := tx.Prepare(`
		INSERT INTO market_events (session, ts, kind, instrument, sequence, asks, bids)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer market.Close()

	fills, err := tx.Prepare(`
		INSERT INTO fills (session, ts, kind, order_id, side, price, volume, purpose, cycle)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer fills.Close()

	orders, err := tx.Prepare(`
		INSERT OR REPLACE INTO archived_orders
			(session, order_id, side, price, volume, filled, lifespan, state, purpose, pair_id, fees, submitted_at, live_at, done_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer orders.Close()

	for _, r := range batch {
		ts := r.at.UnixNano()
		switch r.kind {
		case recBook:
			err = insertMarket(market, w.session, ts, kindBook, r.book.Instrument, r.book.Sequence, r.book.Asks, r.book.Bids)
		case recTrade:
			err = insertMarket(market, w.session, ts, kindTrade, r.trade.Instrument, r.trade.Sequence, r.trade.Asks, r.trade.Bids)
		case recFill:
			f := r.fill
			_, err = fills.Exec(w.session, ts, string(f.Kind), f.OrderID, int(f.Side), f.Price, f.Volume, f.Purpose.String(), f.Cycle)
		case recOrder:
			o := r.order
			_, err = orders.Exec(w.session, o.ID, int(o.Side), o.Price, o.Volume, o.Filled, int(o.Lifespan),
				o.State.String(), o.Purpose.String(), o.Purpose.PairID, o.Fees, o.SubmittedAt, o.LiveAt, o.DoneAt)
		}
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func insertMarket(stmt *sql.Stmt, session string, ts int64, kind string, inst model.Instrument, seq int64, asks, bids model.Levels) error {
	a, err := json.Marshal(asks)
	if err != nil {
		return fmt.Errorf("marshal asks: %w", err)
	}
	b, err := json.Marshal(bids)
	if err != nil {
		return fmt.Errorf("marshal bids: %w", err)
	}
	_, err = stmt.Exec(session, ts, kind, int(inst), seq, string(a), string(b))
	return err
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
