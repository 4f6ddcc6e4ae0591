package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"SignalDesk/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chartBody = `{
  "prices": [[1700003600000, 101.5], [1700000000000, 100.0], [1700007200000, 102.25]],
  "total_volumes": [[1700000000000, 10], [1700003600000, 11], [1700007200000, 30]]
}`

func newTestCoinGecko(url string, retries int) *CoinGecko {
	return NewCoinGecko(CoinGeckoConfig{BaseURL: url, Days: 60, Retries: retries, Backoff: time.Millisecond, Timeout: time.Second})
}

func TestCoinGeckoFetchSeries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/bitcoin/market_chart", r.URL.Path)
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currency"))
		assert.Equal(t, "60", r.URL.Query().Get("days"))
		fmt.Fprint(w, chartBody)
	}))
	defer srv.Close()

	s, err := newTestCoinGecko(srv.URL, 0).FetchSeries(context.Background(), models.Asset{Symbol: "BTC", SourceID: "bitcoin"})
	require.NoError(t, err)

	require.Len(t, s.Points, 3)
	assert.Equal(t, "BTC", s.Asset)
	assert.True(t, s.HasVolume)
	assert.Equal(t, []float64{100.0, 101.5, 102.25}, s.Closes())
	assert.Equal(t, []float64{10, 11, 30}, s.Volumes())
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), s.Points[0].TS)
}

func TestCoinGeckoRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, chartBody)
	}))
	defer srv.Close()

	s, err := newTestCoinGecko(srv.URL, 2).FetchSeries(context.Background(), models.Asset{Symbol: "SOL", SourceID: "solana"})
	require.NoError(t, err)
	assert.Len(t, s.Points, 3)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCoinGeckoFailuresAreUpstreamErrors(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		wantCalls int32
		temporary bool
	}{
		{"server error retried", http.StatusBadGateway, 3, true},
		{"rate limited retried", http.StatusTooManyRequests, 3, true},
		{"not found not retried", http.StatusNotFound, 1, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			_, err := newTestCoinGecko(srv.URL, 2).FetchSeries(context.Background(), models.Asset{Symbol: "PUMP", SourceID: "pump"})

			var ue *models.UpstreamFetchError
			require.True(t, errors.As(err, &ue))
			assert.Equal(t, tc.status, ue.StatusCode)
			assert.Equal(t, tc.temporary, ue.Temporary())
			assert.Equal(t, tc.wantCalls, calls.Load())
			assert.NotContains(t, ue.Public(), "127.0.0.1")
		})
	}
}

func TestCoinGeckoTimeoutIsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		fmt.Fprint(w, chartBody)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := newTestCoinGecko(srv.URL, 0).FetchSeries(ctx, models.Asset{Symbol: "BTC", SourceID: "bitcoin"})

	var ue *models.UpstreamFetchError
	require.True(t, errors.As(err, &ue))
	assert.True(t, ue.Temporary())
}

func TestMarketChartDropsVolumeWhenMisaligned(t *testing.T) {
	m := marketChart{
		Prices:       [][2]float64{{1000, 1}, {2000, 2}, {3000, 0}},
		TotalVolumes: [][2]float64{{1000, 5}},
	}
	s := m.series("X")
	assert.Len(t, s.Points, 2, "non-positive closes are dropped")
	assert.False(t, s.HasVolume)
	assert.Nil(t, s.Volumes())
}
