package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"clobcore/internal/model"
	"clobcore/internal/types"

	_ "github.com/lib/pq" // postgres driver, registered under "postgres"
)

// SQLStore is the production backend: every acknowledged write is durable
// (committed to Postgres) before the call returns, per spec.md §4.5. Schema
// is five tables — users, orders, trades, batches, batch_trades — created
// out of band (see schema.sql); SQLStore only issues DML.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens a connection pool against dsn (a postgres connection
// string) using the lib/pq driver.
func OpenSQLStore(dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	return &SQLStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) SaveUser(ctx context.Context, u model.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, nonce, active, created_at, last_activity)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			nonce = EXCLUDED.nonce,
			active = EXCLUDED.active,
			last_activity = EXCLUDED.last_activity`,
		u.ID, u.Nonce, u.Active, u.CreatedAt, u.LastActivity)
	return wrapWriteErr(err)
}

func (s *SQLStore) SaveOrder(ctx context.Context, o model.Order) error {
	var expiresAt *int64
	if o.ExpiresAt != nil {
		v := *o.ExpiresAt
		expiresAt = &v
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (
			id, user_id, base, quote, side, order_type, price, amount, filled,
			status, timestamp, nonce, signature, chain_id, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (id) DO NOTHING`,
		o.ID, o.UserID, o.Pair.Base, o.Pair.Quote, int(o.Side), int(o.Type),
		o.Price.String(), o.Amount.String(), o.Filled.String(),
		int(o.Status), o.Timestamp, o.Nonce, o.Signature, o.ChainID, expiresAt)
	return wrapWriteErr(err)
}

func (s *SQLStore) UpdateOrder(ctx context.Context, id string, status types.OrderStatus, filled, remaining types.Decimal) error {
	_ = remaining // remaining is derived from amount-filled; not a stored column.
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = $2, filled = $3 WHERE id = $1`,
		id, int(status), filled.String())
	if err != nil {
		return wrapWriteErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapWriteErr(err)
	}
	if n == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (s *SQLStore) SaveTrade(ctx context.Context, tr model.Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (
			id, taker_order_id, maker_order_id, base, quote, side, price,
			amount, fee, timestamp, batch_id, chain_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO NOTHING`,
		tr.ID, tr.TakerOrderID, tr.MakerOrderID, tr.Pair.Base, tr.Pair.Quote,
		int(tr.Side), tr.Price.String(), tr.Amount.String(), tr.Fee.String(),
		tr.Timestamp, nullableString(tr.BatchID), tr.ChainID)
	return wrapWriteErr(err)
}

func (s *SQLStore) CreateBatch(ctx context.Context, b model.Batch) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batches (id, status, created_at, tx_hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		b.ID, int(b.Status), b.CreatedAt, nullableString(b.TxHash))
	return wrapWriteErr(err)
}

func (s *SQLStore) AttachTradeToBatch(ctx context.Context, batchID, tradeID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapWriteErr(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO batch_trades (batch_id, trade_id) VALUES ($1, $2)
		ON CONFLICT (batch_id, trade_id) DO NOTHING`, batchID, tradeID); err != nil {
		return wrapWriteErr(err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE trades SET batch_id = $1 WHERE id = $2`, batchID, tradeID); err != nil {
		return wrapWriteErr(err)
	}
	if err := tx.Commit(); err != nil {
		return wrapWriteErr(err)
	}
	return nil
}

func (s *SQLStore) UpdateBatch(ctx context.Context, b model.Batch) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE batches SET
			status = $2, submitted_at = $3, confirmed_at = $4, failed_at = $5, tx_hash = $6
		WHERE id = $1`,
		b.ID, int(b.Status), b.SubmittedAt, b.ConfirmedAt, b.FailedAt, nullableString(b.TxHash))
	return wrapWriteErr(err)
}

func (s *SQLStore) GetOrder(ctx context.Context, id string) (model.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, base, quote, side, order_type, price, amount,
		       filled, status, timestamp, nonce, signature, chain_id, expires_at
		FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

func (s *SQLStore) OrdersByUser(ctx context.Context, userID string, limit, offset int) ([]model.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, base, quote, side, order_type, price, amount,
		       filled, status, timestamp, nonce, signature, chain_id, expires_at
		FROM orders WHERE user_id = $1 ORDER BY timestamp ASC LIMIT $2 OFFSET $3`,
		userID, nullLimit(limit), offset)
	if err != nil {
		return nil, wrapWriteErr(err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *SQLStore) OrdersByPair(ctx context.Context, pair types.Pair) ([]model.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, base, quote, side, order_type, price, amount,
		       filled, status, timestamp, nonce, signature, chain_id, expires_at
		FROM orders WHERE base = $1 AND quote = $2 ORDER BY timestamp ASC`,
		pair.Base, pair.Quote)
	if err != nil {
		return nil, wrapWriteErr(err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *SQLStore) Trades(ctx context.Context, pair *types.Pair, limit int) ([]model.Trade, error) {
	var rows *sql.Rows
	var err error
	if pair != nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, taker_order_id, maker_order_id, base, quote, side, price,
			       amount, fee, timestamp, batch_id, chain_id
			FROM trades WHERE base = $1 AND quote = $2 ORDER BY timestamp ASC LIMIT $3`,
			pair.Base, pair.Quote, nullLimit(limit))
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, taker_order_id, maker_order_id, base, quote, side, price,
			       amount, fee, timestamp, batch_id, chain_id
			FROM trades ORDER BY timestamp ASC LIMIT $1`, nullLimit(limit))
	}
	if err != nil {
		return nil, wrapWriteErr(err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (s *SQLStore) TradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.taker_order_id, t.maker_order_id, t.base, t.quote, t.side,
		       t.price, t.amount, t.fee, t.timestamp, t.batch_id, t.chain_id
		FROM trades t
		JOIN orders o ON o.id = t.taker_order_id OR o.id = t.maker_order_id
		WHERE o.user_id = $1
		ORDER BY t.timestamp ASC`, userID)
	if err != nil {
		return nil, wrapWriteErr(err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (s *SQLStore) PendingBatches(ctx context.Context) ([]model.Batch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, created_at, submitted_at, confirmed_at, failed_at, tx_hash
		FROM batches WHERE status IN ($1, $2) ORDER BY created_at ASC`,
		int(types.BatchPending), int(types.BatchSubmitted))
	if err != nil {
		return nil, wrapWriteErr(err)
	}
	defer rows.Close()

	var out []model.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, wrapWriteErr(err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLStore) Health(ctx context.Context) (HealthCounts, error) {
	var counts HealthCounts
	row := s.db.QueryRowContext(ctx, `SELECT
		(SELECT count(*) FROM users),
		(SELECT count(*) FROM orders),
		(SELECT count(*) FROM trades),
		(SELECT count(*) FROM batches)`)
	if err := row.Scan(&counts.Users, &counts.Orders, &counts.Trades, &counts.Batches); err != nil {
		return HealthCounts{}, wrapWriteErr(err)
	}
	return counts, nil
}

// --- scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (model.Order, error) {
	var (
		o                  model.Order
		base, quote        string
		side, orderType    int
		status             int
		priceStr, amtStr   string
		filledStr          string
		expiresAt          sql.NullInt64
	)
	err := row.Scan(&o.ID, &o.UserID, &base, &quote, &side, &orderType, &priceStr,
		&amtStr, &filledStr, &status, &o.Timestamp, &o.Nonce, &o.Signature, &o.ChainID, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, types.ErrNotFound
	}
	if err != nil {
		return model.Order{}, wrapWriteErr(err)
	}
	o.Pair = types.NewPair(base, quote)
	o.Side = types.Side(side)
	o.Type = types.OrderType(orderType)
	o.Status = types.OrderStatus(status)
	o.Price, err = types.ParseAmount(priceStr)
	if err != nil {
		return model.Order{}, err
	}
	o.Amount, err = types.ParseAmount(amtStr)
	if err != nil {
		return model.Order{}, err
	}
	o.Filled, err = types.ParseAmount(filledStr)
	if err != nil {
		return model.Order{}, err
	}
	if expiresAt.Valid {
		v := expiresAt.Int64
		o.ExpiresAt = &v
	}
	return o, nil
}

func scanOrders(rows *sql.Rows) ([]model.Order, error) {
	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanTrades(rows *sql.Rows) ([]model.Trade, error) {
	var out []model.Trade
	for rows.Next() {
		var (
			tr          model.Trade
			base, quote string
			side        int
			priceStr    string
			amtStr      string
			feeStr      string
			batchID     sql.NullString
		)
		if err := rows.Scan(&tr.ID, &tr.TakerOrderID, &tr.MakerOrderID, &base, &quote,
			&side, &priceStr, &amtStr, &feeStr, &tr.Timestamp, &batchID, &tr.ChainID); err != nil {
			return nil, wrapWriteErr(err)
		}
		tr.Pair = types.NewPair(base, quote)
		tr.Side = types.Side(side)
		var err error
		tr.Price, err = types.ParseAmount(priceStr)
		if err != nil {
			return nil, err
		}
		tr.Amount, err = types.ParseAmount(amtStr)
		if err != nil {
			return nil, err
		}
		tr.Fee, err = types.ParseAmount(feeStr)
		if err != nil {
			return nil, err
		}
		if batchID.Valid {
			tr.BatchID = batchID.String
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

func scanBatch(rows *sql.Rows) (model.Batch, error) {
	var (
		b                                      model.Batch
		status                                 int
		submittedAt, confirmedAt, failedAt     sql.NullInt64
		txHash                                 sql.NullString
	)
	if err := rows.Scan(&b.ID, &status, &b.CreatedAt, &submittedAt, &confirmedAt, &failedAt, &txHash); err != nil {
		return model.Batch{}, err
	}
	b.Status = types.BatchStatus(status)
	if submittedAt.Valid {
		v := submittedAt.Int64
		b.SubmittedAt = &v
	}
	if confirmedAt.Valid {
		v := confirmedAt.Int64
		b.ConfirmedAt = &v
	}
	if failedAt.Valid {
		v := failedAt.Int64
		b.FailedAt = &v
	}
	if txHash.Valid {
		b.TxHash = txHash.String
	}
	return b, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullLimit(limit int) any {
	if limit <= 0 {
		return 1 << 31
	}
	return limit
}

func wrapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
}

var _ Store = (*SQLStore)(nil)
