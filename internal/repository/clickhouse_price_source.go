package repository

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"SignalDesk/internal/domain/models"
	domrepo "SignalDesk/internal/domain/repository"
	pkgch "SignalDesk/pkg/clickhouse"
	applogger "SignalDesk/pkg/logger"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// CHPriceSource reads close/volume history from a ClickHouse candles table
// with columns (bucket DateTime, symbol String, close Float64, vol Float64).
type CHPriceSource struct {
	db       *sql.DB
	table    string
	lookback int
	l        *applogger.Logger
}

func NewCHPriceSource(ch *pkgch.Client, table string, lookback int) (*CHPriceSource, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid clickhouse table name %q", table)
	}
	if lookback <= 0 {
		lookback = 200
	}
	return &CHPriceSource{db: ch.DB(), table: table, lookback: lookback}, nil
}

func (s *CHPriceSource) SetLogger(l *applogger.Logger) { s.l = l }

type chRow struct {
	bucket time.Time
	close  float64
	vol    float64
}

// FetchSeries returns the latest lookback buckets, oldest first. Every
// failure is reported as an upstream error so the cache degrades.
func (s *CHPriceSource) FetchSeries(ctx context.Context, asset models.Asset) (models.PriceSeries, error) {
	start := time.Now()
	q := fmt.Sprintf(`
        SELECT bucket, close, vol
        FROM %s
        WHERE symbol = ?
        ORDER BY bucket DESC
        LIMIT ?
    `, s.table)

	rows, err := s.db.QueryContext(ctx, q, asset.SourceID, s.lookback)
	if err != nil {
		return models.PriceSeries{}, s.fail(asset, "query", err)
	}
	defer rows.Close()

	tmp := make([]chRow, 0, s.lookback)
	for rows.Next() {
		var r chRow
		if err := rows.Scan(&r.bucket, &r.close, &r.vol); err != nil {
			return models.PriceSeries{}, s.fail(asset, "scan", err)
		}
		tmp = append(tmp, r)
	}
	if err := rows.Err(); err != nil {
		return models.PriceSeries{}, s.fail(asset, "rows", err)
	}

	series := toSeries(asset.Symbol, tmp)
	if s.l != nil {
		s.l.Debug("clickhouse price history ok",
			applogger.String("table", s.table),
			applogger.String("asset", asset.Symbol),
			applogger.Int("rows", len(series.Points)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return series, nil
}

// toSeries reverses DESC rows into an ascending series.
func toSeries(symbol string, desc []chRow) models.PriceSeries {
	s := models.PriceSeries{Asset: symbol, HasVolume: true}
	s.Points = make([]models.PricePoint, 0, len(desc))
	for i := len(desc) - 1; i >= 0; i-- {
		r := desc[i]
		if !(r.close > 0) {
			continue
		}
		s.Points = append(s.Points, models.PricePoint{TS: r.bucket.UTC(), Close: r.close, Volume: r.vol})
	}
	return s
}

func (s *CHPriceSource) fail(asset models.Asset, stage string, err error) error {
	if s.l != nil {
		s.l.Error("clickhouse price history "+stage+" error",
			applogger.String("table", s.table),
			applogger.String("asset", asset.Symbol),
			applogger.Error(err),
		)
	}
	return &models.UpstreamFetchError{Source: "clickhouse", Asset: asset.Symbol, Err: fmt.Errorf("%s: %w", stage, err)}
}

var _ domrepo.PriceSource = (*CHPriceSource)(nil)
