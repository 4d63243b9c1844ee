package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/marketsim/exchange/engine"
	"github.com/marketsim/exchange/logging"
	"github.com/marketsim/exchange/models"
)

// Error types for retry logic
var (
	ErrDeadlock             = errors.New("deadlock detected")
	ErrSerializationFailure = errors.New("serialization failure")
	ErrConnectionFailure    = errors.New("connection failure")
)

// PostgresStore is the durable record of orders, trades, companies and
// accounts. It implements engine.Journal; the market calls it synchronously
// so an accepted submit has already reached the database when it returns.
type PostgresStore struct {
	db         *sql.DB
	maxRetries int
	retryDelay time.Duration
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:         db,
		maxRetries: 3,
		retryDelay: 100 * time.Millisecond,
	}
}

// SetRetryConfig sets the retry configuration
func (ps *PostgresStore) SetRetryConfig(maxRetries int, retryDelay time.Duration) {
	ps.maxRetries = maxRetries
	ps.retryDelay = retryDelay
}

// EnsureSchema creates the tables if they do not exist
func (ps *PostgresStore) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS companies (
			symbol             TEXT PRIMARY KEY,
			name               TEXT NOT NULL,
			sector             TEXT NOT NULL,
			stock_price        NUMERIC(20,8) NOT NULL,
			outstanding_shares BIGINT NOT NULL,
			listed_at          TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS shareholders (
			shareholder_id TEXT PRIMARY KEY,
			name           TEXT NOT NULL,
			type           TEXT NOT NULL,
			cash           NUMERIC(20,8) NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS holdings (
			shareholder_id TEXT NOT NULL REFERENCES shareholders(shareholder_id),
			symbol         TEXT NOT NULL,
			quantity       BIGINT NOT NULL,
			PRIMARY KEY (shareholder_id, symbol)
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			order_id        UUID PRIMARY KEY,
			shareholder_id  TEXT NOT NULL,
			symbol          TEXT NOT NULL,
			side            TEXT NOT NULL,
			type            TEXT NOT NULL,
			price           NUMERIC(20,8) NOT NULL,
			stop_price      NUMERIC(20,8) NOT NULL,
			quantity        BIGINT NOT NULL,
			filled_quantity BIGINT NOT NULL,
			status          TEXT NOT NULL,
			sequence        BIGINT NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_shareholder ON orders (shareholder_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS trades (
			trade_id      UUID PRIMARY KEY,
			symbol        TEXT NOT NULL,
			buy_order_id  UUID NOT NULL,
			sell_order_id UUID NOT NULL,
			buyer_id      TEXT NOT NULL,
			seller_id     TEXT NOT NULL,
			price         NUMERIC(20,8) NOT NULL,
			quantity      BIGINT NOT NULL,
			executed_at   TIMESTAMPTZ NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades (symbol, executed_at DESC)`,
	}

	for _, stmt := range ddl {
		if _, err := ps.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// RecordTrade inserts a trade, idempotently on trade_id
func (ps *PostgresStore) RecordTrade(ctx context.Context, trade *engine.Trade) error {
	err := ps.executeWithRetry(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO trades (
				trade_id, symbol, buy_order_id, sell_order_id,
				buyer_id, seller_id, price, quantity, executed_at, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (trade_id) DO NOTHING
		`
		_, execErr := ps.db.ExecContext(ctx, query,
			trade.TradeID,
			trade.Symbol,
			trade.BuyOrderID,
			trade.SellOrderID,
			trade.BuyerID,
			trade.SellerID,
			trade.Price.String(),
			trade.Quantity,
			trade.Timestamp,
			time.Now(),
		)
		return execErr
	})
	if err != nil {
		logging.LogDBError("record_trade", "trades", err, map[string]interface{}{
			"trade_id": trade.TradeID,
			"symbol":   trade.Symbol,
		})
		return err
	}

	logging.LogDBSuccess("record_trade", "trades", 1, map[string]interface{}{
		"trade_id": trade.TradeID,
	})
	return nil
}

// RecordOrder upserts the current state of an order. The same order is
// recorded again on every state transition, so the write is an upsert keyed
// on order_id.
func (ps *PostgresStore) RecordOrder(ctx context.Context, order *models.Order) error {
	err := ps.executeWithRetry(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO orders (
				order_id, shareholder_id, symbol, side, type,
				price, stop_price, quantity, filled_quantity, status,
				sequence, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (order_id) DO UPDATE SET
				filled_quantity = EXCLUDED.filled_quantity,
				status          = EXCLUDED.status,
				type            = EXCLUDED.type,
				sequence        = EXCLUDED.sequence,
				updated_at      = EXCLUDED.updated_at
		`
		_, execErr := ps.db.ExecContext(ctx, query,
			order.ID,
			order.ShareholderID,
			order.Symbol,
			order.Side,
			order.Type,
			order.Price.String(),
			order.StopPrice.String(),
			order.Quantity,
			order.FilledQuantity,
			order.Status,
			order.Sequence,
			order.CreatedAt,
			order.UpdatedAt,
		)
		return execErr
	})
	if err != nil {
		logging.LogDBError("record_order", "orders", err, map[string]interface{}{
			"order_id": order.ID,
			"symbol":   order.Symbol,
		})
		return err
	}

	logging.LogDBSuccess("record_order", "orders", 1, map[string]interface{}{
		"order_id": order.ID,
	})
	return nil
}

// SaveCompany upserts a company listing
func (ps *PostgresStore) SaveCompany(ctx context.Context, company *models.Company) error {
	return ps.executeWithRetry(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO companies (symbol, name, sector, stock_price, outstanding_shares, listed_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (symbol) DO UPDATE SET
				stock_price = EXCLUDED.stock_price
		`
		_, err := ps.db.ExecContext(ctx, query,
			company.Symbol,
			company.Name,
			company.Sector,
			company.StockPrice.String(),
			company.OutstandingShares,
			company.ListedAt,
		)
		return err
	})
}

// SaveAccount upserts a shareholder account and its holdings in one
// transaction.
func (ps *PostgresStore) SaveAccount(ctx context.Context, acct *models.Account) error {
	return ps.executeWithRetry(ctx, func(ctx context.Context) error {
		tx, err := ps.db.BeginTx(ctx, &sql.TxOptions{
			Isolation: sql.LevelReadCommitted,
		})
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() {
			_ = tx.Rollback() // Ignore error; will fail if transaction already committed
		}()

		query := `
			INSERT INTO shareholders (shareholder_id, name, type, cash, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (shareholder_id) DO UPDATE SET
				cash = EXCLUDED.cash
		`
		if _, err := tx.ExecContext(ctx, query,
			acct.ShareholderID,
			acct.Name,
			acct.Type,
			acct.Cash.String(),
			acct.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to upsert shareholder: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM holdings WHERE shareholder_id = $1`, acct.ShareholderID); err != nil {
			return fmt.Errorf("failed to clear holdings: %w", err)
		}

		for symbol, quantity := range acct.Holdings {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO holdings (shareholder_id, symbol, quantity) VALUES ($1, $2, $3)`,
				acct.ShareholderID, symbol, quantity); err != nil {
				return fmt.Errorf("failed to insert holding: %w", err)
			}
		}

		return tx.Commit()
	})
}

// GetTrade retrieves a trade by ID
func (ps *PostgresStore) GetTrade(ctx context.Context, tradeID uuid.UUID) (*engine.Trade, error) {
	query := `
		SELECT trade_id, symbol, buy_order_id, sell_order_id,
		       buyer_id, seller_id, price, quantity, executed_at
		FROM trades
		WHERE trade_id = $1
	`

	var trade engine.Trade
	var priceStr string

	err := ps.db.QueryRowContext(ctx, query, tradeID).Scan(
		&trade.TradeID,
		&trade.Symbol,
		&trade.BuyOrderID,
		&trade.SellOrderID,
		&trade.BuyerID,
		&trade.SellerID,
		&priceStr,
		&trade.Quantity,
		&trade.Timestamp,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("trade not found: %s", tradeID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade: %w", err)
	}

	trade.Price, err = decimal.NewFromString(priceStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse price: %w", err)
	}

	return &trade, nil
}

// GetTradesBySymbol retrieves the most recent trades for a symbol
func (ps *PostgresStore) GetTradesBySymbol(ctx context.Context, symbol string, limit int) ([]*engine.Trade, error) {
	query := `
		SELECT trade_id, symbol, buy_order_id, sell_order_id,
		       buyer_id, seller_id, price, quantity, executed_at
		FROM trades
		WHERE symbol = $1
		ORDER BY executed_at DESC
		LIMIT $2
	`

	rows, err := ps.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer func() {
		_ = rows.Close() // Ignore error on defer close
	}()

	trades := make([]*engine.Trade, 0)

	for rows.Next() {
		var trade engine.Trade
		var priceStr string

		if err := rows.Scan(
			&trade.TradeID,
			&trade.Symbol,
			&trade.BuyOrderID,
			&trade.SellOrderID,
			&trade.BuyerID,
			&trade.SellerID,
			&priceStr,
			&trade.Quantity,
			&trade.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}

		trade.Price, err = decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse price: %w", err)
		}

		trades = append(trades, &trade)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}

	return trades, nil
}

// GetOrder retrieves an order by ID
func (ps *PostgresStore) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	query := `
		SELECT order_id, shareholder_id, symbol, side, type,
		       price, stop_price, quantity, filled_quantity, status,
		       sequence, created_at, updated_at
		FROM orders
		WHERE order_id = $1
	`

	order, err := scanOrder(ps.db.QueryRowContext(ctx, query, orderID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order not found: %s", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// GetOrdersByShareholder retrieves the most recent orders for one participant
func (ps *PostgresStore) GetOrdersByShareholder(ctx context.Context, shareholderID string, limit int) ([]*models.Order, error) {
	query := `
		SELECT order_id, shareholder_id, symbol, side, type,
		       price, stop_price, quantity, filled_quantity, status,
		       sequence, created_at, updated_at
		FROM orders
		WHERE shareholder_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := ps.db.QueryContext(ctx, query, shareholderID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer func() {
		_ = rows.Close() // Ignore error on defer close
	}()

	orders := make([]*models.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}

	return orders, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var order models.Order
	var priceStr, stopPriceStr string
	var sideStr, typeStr, statusStr string

	err := row.Scan(
		&order.ID,
		&order.ShareholderID,
		&order.Symbol,
		&sideStr,
		&typeStr,
		&priceStr,
		&stopPriceStr,
		&order.Quantity,
		&order.FilledQuantity,
		&statusStr,
		&order.Sequence,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	order.Price, err = decimal.NewFromString(priceStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse price: %w", err)
	}
	order.StopPrice, err = decimal.NewFromString(stopPriceStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stop price: %w", err)
	}

	order.Side = models.OrderSide(sideStr)
	order.Type = models.OrderType(typeStr)
	order.Status = models.OrderStatus(statusStr)

	return &order, nil
}

// executeWithRetry executes a function with retry logic for transient errors
func (ps *PostgresStore) executeWithRetry(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= ps.maxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		lastErr = err

		if !ps.isRetryableError(err) {
			return err
		}

		if attempt < ps.maxRetries {
			// Exponential backoff
			delay := ps.retryDelay * time.Duration(1<<uint(attempt))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// isRetryableError determines if an error is transient and should be retried
func (ps *PostgresStore) isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Code {
		case "40001": // serialization_failure
			return true
		case "40P01": // deadlock_detected
			return true
		case "08000", "08003", "08006": // connection_exception, connection_does_not_exist, connection_failure
			return true
		case "57P03": // cannot_connect_now
			return true
		}
	}

	return errors.Is(err, ErrDeadlock) ||
		errors.Is(err, ErrSerializationFailure) ||
		errors.Is(err, ErrConnectionFailure)
}
