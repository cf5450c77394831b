package candles

import (
	"database/sql"
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

// DuckDBSource serves candles from a DuckDB database. Raw candles live in
// the exchange_candles table at whatever granularity they were imported at;
// coarser intervals are aggregated at query time.
type DuckDBSource struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
}

// NewDuckDBSource opens (or creates) a DuckDB database at path and ensures
// the exchange_candles table exists. Use ":memory:" for an ephemeral source.
func NewDuckDBSource(path string, logger *logger.Logger) (*DuckDBSource, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreFailed, "failed to open candle database", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS exchange_candles (
			currency VARCHAR NOT NULL,
			asset VARCHAR NOT NULL,
			time TIMESTAMP NOT NULL,
			open DOUBLE NOT NULL,
			high DOUBLE NOT NULL,
			low DOUBLE NOT NULL,
			close DOUBLE NOT NULL,
			volume DOUBLE NOT NULL
		);
	`)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreFailed, "failed to create exchange_candles table", err)
	}

	return &DuckDBSource{
		db:     db,
		logger: logger,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}, nil
}

// ImportFile loads candles from a CSV or Parquet file into exchange_candles.
// The file must carry the table's column names.
func (d *DuckDBSource) ImportFile(path string) error {
	if strings.ContainsAny(path, "'") {
		return errors.New(errors.ErrCodeInvalidParameter, "import path must not contain quotes")
	}

	d.logger.Debug("Importing candles", zap.String("path", path))

	reader := "read_csv_auto"
	if strings.HasSuffix(path, ".parquet") {
		reader = "read_parquet"
	}

	// Squirrel doesn't cover COPY-style inserts, so build the statement
	// directly. DuckDB quotes the path literal, not a placeholder.
	query := fmt.Sprintf(`
		INSERT INTO exchange_candles
		SELECT currency, asset, time, open, high, low, close, volume
		FROM %s('%s');
	`, reader, path)

	if _, err := d.db.Exec(query); err != nil {
		return errors.Wrapf(errors.ErrCodeStoreFailed, err, "failed to import candles from %s", path)
	}

	return nil
}

// InsertCandles writes candles into exchange_candles in one batch insert.
func (d *DuckDBSource) InsertCandles(candles []types.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	builder := d.sq.
		Insert("exchange_candles").
		Columns("currency", "asset", "time", "open", "high", "low", "close", "volume")

	for _, c := range candles {
		builder = builder.Values(c.Pair.Currency, c.Pair.Asset, c.Time, c.Open, c.High, c.Low, c.Close, c.Volume)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to build candle insert", err)
	}

	if _, err := d.db.Exec(query, args...); err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailed, "failed to insert candles", err)
	}

	return nil
}

// GetCandles implements Source. Raw rows are grouped into intervalHours
// buckets: open is the first value in the bucket, close the last, high and
// low the extremes, volume the sum.
func (d *DuckDBSource) GetCandles(pair types.Pair, from, to time.Time, intervalHours int) ([]types.Candle, error) {
	if intervalHours < 1 {
		return nil, errors.Newf(errors.ErrCodeInvalidInterval, "interval must be at least one hour, got %d", intervalHours)
	}

	query := fmt.Sprintf(`
		WITH time_buckets AS MATERIALIZED (
			SELECT
				time_bucket(INTERVAL '%d hours', time) as bucket_time,
				FIRST_VALUE(open) OVER (PARTITION BY time_bucket(INTERVAL '%d hours', time) ORDER BY time) as open,
				MAX(high) OVER (PARTITION BY time_bucket(INTERVAL '%d hours', time)) as high,
				MIN(low) OVER (PARTITION BY time_bucket(INTERVAL '%d hours', time)) as low,
				LAST_VALUE(close) OVER (PARTITION BY time_bucket(INTERVAL '%d hours', time) ORDER BY time ROWS BETWEEN UNBOUNDED PRECEDING AND UNBOUNDED FOLLOWING) as close,
				SUM(volume) OVER (PARTITION BY time_bucket(INTERVAL '%d hours', time)) as volume
			FROM exchange_candles
			WHERE currency = $1 AND asset = $2 AND time >= $3 AND time <= $4
		)
		SELECT DISTINCT bucket_time, open, high, low, close, volume
		FROM time_buckets
		ORDER BY bucket_time;
	`, intervalHours, intervalHours, intervalHours, intervalHours, intervalHours, intervalHours)

	rows, err := d.db.Query(query, pair.Currency, pair.Asset, from, to)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeQueryFailed, err, "failed to query candles for %s", pair)
	}
	defer rows.Close()

	var candles []types.Candle

	for rows.Next() {
		candle := types.Candle{
			Pair:          pair,
			IntervalHours: intervalHours,
		}
		if err := rows.Scan(&candle.Time, &candle.Open, &candle.High, &candle.Low, &candle.Close, &candle.Volume); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan candle row", err)
		}

		candles = append(candles, candle)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "candle row iteration failed", err)
	}

	return candles, nil
}

// Count implements Source.
func (d *DuckDBSource) Count(pair types.Pair, from, to time.Time, intervalHours int) (int, error) {
	if intervalHours < 1 {
		return 0, errors.Newf(errors.ErrCodeInvalidInterval, "interval must be at least one hour, got %d", intervalHours)
	}

	query := fmt.Sprintf(`
		SELECT COUNT(DISTINCT time_bucket(INTERVAL '%d hours', time))
		FROM exchange_candles
		WHERE currency = $1 AND asset = $2 AND time >= $3 AND time <= $4;
	`, intervalHours)

	var count int
	if err := d.db.QueryRow(query, pair.Currency, pair.Asset, from, to).Scan(&count); err != nil {
		return 0, errors.Wrapf(errors.ErrCodeQueryFailed, err, "failed to count candles for %s", pair)
	}

	return count, nil
}

// Close implements Source.
func (d *DuckDBSource) Close() error {
	return d.db.Close()
}
