// Package store persists finished runs: the run record and its full order
// ledger land in a DuckDB database so results can be queried and exported
// long after the run.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"

	"github.com/opentradelab/turtle-backtest/internal/logger"
	"github.com/opentradelab/turtle-backtest/internal/types"
	"github.com/opentradelab/turtle-backtest/pkg/errors"
)

// DuckDBStore writes run records and orders to a DuckDB database.
type DuckDBStore struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
}

// NewDuckDBStore opens (or creates) the results database at path and ensures
// the schema exists.
func NewDuckDBStore(path string, logger *logger.Logger) (*DuckDBStore, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreFailed, "failed to open results database", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS backtests (
			id VARCHAR PRIMARY KEY,
			account_id VARCHAR NOT NULL,
			strategy VARCHAR NOT NULL,
			strategy_params VARCHAR NOT NULL,
			currency VARCHAR NOT NULL,
			asset VARCHAR NOT NULL,
			interval_hours INTEGER NOT NULL,
			from_time TIMESTAMP NOT NULL,
			to_time TIMESTAMP NOT NULL,
			records INTEGER NOT NULL,
			total_groups INTEGER NOT NULL,
			winning_groups INTEGER NOT NULL,
			losing_groups INTEGER NOT NULL,
			profit DOUBLE NOT NULL,
			profit_pct DOUBLE NOT NULL,
			buy_and_hold_pct DOUBLE NOT NULL,
			drawdown_pct DOUBLE NOT NULL,
			created_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS orders (
			id VARCHAR PRIMARY KEY,
			backtest_id VARCHAR NOT NULL,
			account_id VARCHAR NOT NULL,
			currency VARCHAR NOT NULL,
			asset VARCHAR NOT NULL,
			market VARCHAR NOT NULL,
			type VARCHAR NOT NULL,
			position VARCHAR NOT NULL,
			side VARCHAR NOT NULL,
			status VARCHAR NOT NULL,
			price DOUBLE NOT NULL,
			units DOUBLE NOT NULL,
			slippage DOUBLE NOT NULL,
			slippage_pct DOUBLE NOT NULL,
			fee DOUBLE NOT NULL,
			fee_pct DOUBLE NOT NULL,
			total DOUBLE NOT NULL,
			reason VARCHAR,
			recreate VARCHAR,
			group_id VARCHAR NOT NULL,
			created_at TIMESTAMP NOT NULL,
			filled_at TIMESTAMP
		);
	`)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreFailed, "failed to create results schema", err)
	}

	return &DuckDBStore{
		db:     db,
		logger: logger,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}, nil
}

// SaveResult persists a finished run and its order ledger in one
// transaction.
func (s *DuckDBStore) SaveResult(result types.BacktestResult, orders []types.Order) error {
	params, err := json.Marshal(result.StrategyParams)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailed, "failed to encode strategy params", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailed, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	query, args, err := s.sq.
		Insert("backtests").
		Columns("id", "account_id", "strategy", "strategy_params", "currency", "asset",
			"interval_hours", "from_time", "to_time", "records",
			"total_groups", "winning_groups", "losing_groups",
			"profit", "profit_pct", "buy_and_hold_pct", "drawdown_pct", "created_at").
		Values(result.ID, result.AccountID, result.Strategy, string(params),
			result.Pair.Currency, result.Pair.Asset,
			result.IntervalHours, result.From, result.To, result.Records,
			result.Summary.TotalGroups, result.Summary.WinningGroups, result.Summary.LosingGroups,
			result.Summary.Profit, result.Summary.ProfitPct,
			result.Summary.BuyAndHoldPct, result.Summary.DrawdownPct, result.CreatedAt).
		ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to build backtest insert", err)
	}

	if _, err := tx.Exec(query, args...); err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailed, "failed to insert backtest record", err)
	}

	if len(orders) > 0 {
		builder := s.sq.
			Insert("orders").
			Columns("id", "backtest_id", "account_id", "currency", "asset", "market",
				"type", "position", "side", "status",
				"price", "units", "slippage", "slippage_pct", "fee", "fee_pct", "total",
				"reason", "recreate", "group_id", "created_at", "filled_at")

		for _, order := range orders {
			recreate, err := json.Marshal(order.Recreate)
			if err != nil {
				return errors.Wrap(errors.ErrCodeStoreFailed, "failed to encode recreate payload", err)
			}

			var filledAt any
			if order.FilledAt.IsSome() {
				filledAt = order.FilledAt.Unwrap()
			}

			builder = builder.Values(order.ID, result.ID, order.AccountID,
				order.Pair.Currency, order.Pair.Asset, string(order.Market),
				string(order.Type), string(order.Position), string(order.Side), string(order.Status),
				order.Price, order.Units, order.Slippage, order.SlippagePct,
				order.Fee, order.FeePct, order.Total,
				order.Reason, string(recreate), order.GroupID, order.CreatedAt, filledAt)
		}

		query, args, err := builder.ToSql()
		if err != nil {
			return errors.Wrap(errors.ErrCodeQueryFailed, "failed to build order insert", err)
		}

		if _, err := tx.Exec(query, args...); err != nil {
			return errors.Wrap(errors.ErrCodeStoreFailed, "failed to insert orders", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailed, "failed to commit result", err)
	}

	s.logger.Info("Persisted backtest result",
		zap.String("id", result.ID),
		zap.Int("orders", len(orders)),
	)

	return nil
}

// CountOrders returns how many orders are stored for a run.
func (s *DuckDBStore) CountOrders(backtestID string) (int, error) {
	query, args, err := s.sq.
		Select("COUNT(*)").
		From("orders").
		Where(squirrel.Eq{"backtest_id": backtestID}).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build order count", err)
	}

	var count int
	if err := s.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to count orders", err)
	}

	return count, nil
}

// GetResultIDs returns the stored run identifiers, newest first.
func (s *DuckDBStore) GetResultIDs() ([]string, error) {
	query, _, err := s.sq.
		Select("id").
		From("backtests").
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build result listing", err)
	}

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to list results", err)
	}
	defer rows.Close()

	var ids []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan result id", err)
		}

		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// ExportOrdersParquet writes a run's orders to a Parquet file.
func (s *DuckDBStore) ExportOrdersParquet(backtestID, path string) error {
	if strings.ContainsAny(backtestID+path, "'") {
		return errors.New(errors.ErrCodeInvalidParameter, "identifiers must not contain quotes")
	}

	count, err := s.CountOrders(backtestID)
	if err != nil {
		return err
	}

	if count == 0 {
		return errors.Newf(errors.ErrCodeDataNotFound, "no orders stored for run %s", backtestID)
	}

	// COPY takes literals, not placeholders
	query := fmt.Sprintf(`
		COPY (SELECT * FROM orders WHERE backtest_id = '%s' ORDER BY created_at)
		TO '%s' (FORMAT PARQUET);
	`, backtestID, path)

	if _, err := s.db.Exec(query); err != nil {
		return errors.Wrapf(errors.ErrCodeStoreFailed, err, "failed to export orders to %s", path)
	}

	return nil
}

// Close releases the database handle.
func (s *DuckDBStore) Close() error {
	return s.db.Close()
}

// PruneBefore deletes run records created before the cutoff.
func (s *DuckDBStore) PruneBefore(cutoff time.Time) error {
	query, args, err := s.sq.
		Delete("backtests").
		Where(squirrel.Lt{"created_at": cutoff}).
		ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to build prune", err)
	}

	if _, err := s.db.Exec(query, args...); err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailed, "failed to prune old results", err)
	}

	return nil
}
