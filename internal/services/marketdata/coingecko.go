package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"SignalDesk/internal/domain/models"
	"SignalDesk/internal/domain/repository"
	xhttp "SignalDesk/pkg/http"
	"SignalDesk/pkg/util"

	"golang.org/x/time/rate"
)

// CoinGecko reads close/volume history from /coins/{id}/market_chart.
type CoinGecko struct {
	base *HTTPServiceBase
	days int
}

type CoinGeckoConfig struct {
	BaseURL string
	APIKey  string
	Days    int
	RPS     float64
	Retries int
	Backoff time.Duration
	Timeout time.Duration
}

func NewCoinGecko(cfg CoinGeckoConfig) *CoinGecko {
	client := xhttp.NewClient(
		xhttp.WithTimeout(cfg.Timeout),
		xhttp.WithHeader("x-cg-demo-api-key", cfg.APIKey),
	)
	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}
	days := cfg.Days
	if days <= 0 {
		days = 60
	}
	return &CoinGecko{
		base: NewHTTPServiceBase(cfg.BaseURL, client, limiter, cfg.Retries+1, cfg.Backoff),
		days: days,
	}
}

type marketChart struct {
	Prices       [][2]float64 `json:"prices"`
	TotalVolumes [][2]float64 `json:"total_volumes"`
}

func (c *CoinGecko) FetchSeries(ctx context.Context, asset models.Asset) (models.PriceSeries, error) {
	var chart marketChart
	err := c.base.GetJSONWithRetry(ctx, "/coins/"+asset.SourceID+"/market_chart", map[string][]string{
		"vs_currency": {"usd"},
		"days":        {strconv.Itoa(c.days)},
	}, &chart)
	if err != nil {
		return models.PriceSeries{}, upstreamError("coingecko", asset.Symbol, err)
	}
	return chart.series(asset.Symbol), nil
}

// series joins prices and volumes by timestamp; points are sorted ascending.
func (m marketChart) series(symbol string) models.PriceSeries {
	vols := make(map[int64]float64, len(m.TotalVolumes))
	for _, v := range m.TotalVolumes {
		vols[int64(v[0])] = v[1]
	}

	s := models.PriceSeries{Asset: symbol, HasVolume: len(m.TotalVolumes) > 0}
	s.Points = make([]models.PricePoint, 0, len(m.Prices))
	for _, p := range m.Prices {
		if !(p[1] > 0) {
			continue
		}
		ms := int64(p[0])
		vol, ok := vols[ms]
		if !ok && s.HasVolume {
			s.HasVolume = false
		}
		s.Points = append(s.Points, models.PricePoint{TS: util.FromEpoch(float64(ms)), Close: p[1], Volume: vol})
	}
	sort.SliceStable(s.Points, func(i, j int) bool { return s.Points[i].TS.Before(s.Points[j].TS) })
	return s
}

// upstreamError folds any fetch failure into *models.UpstreamFetchError.
func upstreamError(source, asset string, err error) error {
	ue := &models.UpstreamFetchError{Source: source, Asset: asset, Err: err}
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		ue.StatusCode = se.StatusCode
		ue.Err = fmt.Errorf("http %d", se.StatusCode)
	}
	return ue
}

var _ repository.PriceSource = (*CoinGecko)(nil)
