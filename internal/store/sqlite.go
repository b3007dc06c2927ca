package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"tradewind/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ OrderStore = (*SQLiteStore)(nil)
var _ FillStore = (*SQLiteStore)(nil)
var _ BreakerEventStore = (*SQLiteStore)(nil)

// SQLiteStore implements OrderStore, FillStore, and BreakerEventStore backed
// by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id               TEXT PRIMARY KEY,
	symbol           TEXT NOT NULL,
	side             TEXT NOT NULL,
	type             TEXT NOT NULL,
	qty              REAL NOT NULL,
	limit_price      REAL NOT NULL DEFAULT 0,
	stop_price       REAL NOT NULL DEFAULT 0,
	time_in_force    TEXT NOT NULL,
	status           TEXT NOT NULL,
	filled_qty       REAL NOT NULL DEFAULT 0,
	filled_avg_price REAL NOT NULL DEFAULT 0,
	broker_order_id  TEXT NOT NULL DEFAULT '',
	parent_order_id  TEXT NOT NULL DEFAULT '',
	metadata         TEXT NOT NULL DEFAULT '{}',
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);

CREATE TABLE IF NOT EXISTS fills (
	id         TEXT PRIMARY KEY,
	order_id   TEXT NOT NULL,
	qty        REAL NOT NULL,
	price      REAL NOT NULL,
	commission REAL NOT NULL DEFAULT 0,
	venue      TEXT NOT NULL DEFAULT '',
	ts         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fills_order ON fills(order_id);

CREATE TABLE IF NOT EXISTS breaker_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	from_state TEXT NOT NULL,
	to_state   TEXT NOT NULL,
	reason     TEXT NOT NULL,
	at         INTEGER NOT NULL
);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// OrderStore implementation
// ---------------------------------------------------------------------------

// SaveOrder inserts a new order into the database.
func (s *SQLiteStore) SaveOrder(ctx context.Context, order *domain.Order) error {
	meta, err := json.Marshal(order.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (id, symbol, side, type, qty, limit_price, stop_price,
			time_in_force, status, filled_qty, filled_avg_price, broker_order_id,
			parent_order_id, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.Symbol, string(order.Side), string(order.Type), order.Qty,
		order.LimitPrice, order.StopPrice, string(order.TimeInForce),
		string(order.Status), order.FilledQty, order.FilledAvgPrice,
		order.BrokerOrderID, order.ParentOrderID, string(meta),
		order.CreatedAt.UnixMilli(), order.UpdatedAt.UnixMilli())
	return err
}

// UpdateOrder persists changes to an existing order.
func (s *SQLiteStore) UpdateOrder(ctx context.Context, order *domain.Order) error {
	meta, err := json.Marshal(order.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE orders SET status = ?, filled_qty = ?, filled_avg_price = ?,
			broker_order_id = ?, metadata = ?, updated_at = ?
		WHERE id = ?`,
		string(order.Status), order.FilledQty, order.FilledAvgPrice,
		order.BrokerOrderID, string(meta), order.UpdatedAt.UnixMilli(), order.ID)
	return err
}

// GetOrder retrieves a single order by its ID.
func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, symbol, side, type, qty, limit_price, stop_price,
			time_in_force, status, filled_qty, filled_avg_price, broker_order_id,
			parent_order_id, metadata, created_at, updated_at
		FROM orders WHERE id = ?`, id)
	return scanOrder(row)
}

// ListOrders returns all orders matching the given status, newest first.
func (s *SQLiteStore) ListOrders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	query := `
		SELECT id, symbol, side, type, qty, limit_price, stop_price,
			time_in_force, status, filled_qty, filled_avg_price, broker_order_id,
			parent_order_id, metadata, created_at, updated_at
		FROM orders`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// scanner abstracts over *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*domain.Order, error) {
	var o domain.Order
	var side, typ, tif, status, meta string
	var createdAt, updatedAt int64

	err := row.Scan(&o.ID, &o.Symbol, &side, &typ, &o.Qty, &o.LimitPrice,
		&o.StopPrice, &tif, &status, &o.FilledQty, &o.FilledAvgPrice,
		&o.BrokerOrderID, &o.ParentOrderID, &meta, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(typ)
	o.TimeInForce = domain.TimeInForce(tif)
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = time.UnixMilli(createdAt)
	o.UpdatedAt = time.UnixMilli(updatedAt)
	if err := json.Unmarshal([]byte(meta), &o.Metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	return &o, nil
}

// ---------------------------------------------------------------------------
// FillStore implementation
// ---------------------------------------------------------------------------

// SaveFill appends a fill record.
func (s *SQLiteStore) SaveFill(ctx context.Context, fill *domain.Fill) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fills (id, order_id, qty, price, commission, venue, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		fill.ID, fill.OrderID, fill.Qty, fill.Price, fill.Commission,
		fill.Venue, fill.Timestamp.UnixMilli())
	return err
}

// ListFills returns all fills for an order, oldest first.
func (s *SQLiteStore) ListFills(ctx context.Context, orderID string) ([]domain.Fill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, qty, price, commission, venue, ts
		FROM fills WHERE order_id = ? ORDER BY ts ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fills []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var ts int64
		if err := rows.Scan(&f.ID, &f.OrderID, &f.Qty, &f.Price, &f.Commission, &f.Venue, &ts); err != nil {
			return nil, err
		}
		f.Timestamp = time.UnixMilli(ts)
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// ---------------------------------------------------------------------------
// BreakerEventStore implementation
// ---------------------------------------------------------------------------

// SaveBreakerEvent appends a breaker state change.
func (s *SQLiteStore) SaveBreakerEvent(ctx context.Context, evt BreakerEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO breaker_events (from_state, to_state, reason, at)
		VALUES (?, ?, ?, ?)`,
		evt.FromState, evt.ToState, evt.Reason, evt.At.UnixMilli())
	return err
}

// ListBreakerEvents returns the most recent events, newest first.
func (s *SQLiteStore) ListBreakerEvents(ctx context.Context, limit int) ([]BreakerEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT from_state, to_state, reason, at
		FROM breaker_events ORDER BY at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []BreakerEvent
	for rows.Next() {
		var e BreakerEvent
		var at int64
		if err := rows.Scan(&e.FromState, &e.ToState, &e.Reason, &at); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(at)
		events = append(events, e)
	}
	return events, rows.Err()
}
