package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"trading_bot/internal/core"
	apperrors "trading_bot/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{})                     {}
func (nopLogger) Info(string, ...interface{})                      {}
func (nopLogger) Warn(string, ...interface{})                      {}
func (nopLogger) Error(string, ...interface{})                     {}
func (nopLogger) Fatal(string, ...interface{})                     {}
func (l nopLogger) WithField(string, interface{}) core.ILogger     { return l }
func (l nopLogger) WithFields(map[string]interface{}) core.ILogger { return l }

func newTestExchange(t *testing.T, handler http.Handler) *Exchange {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		APIKey:    "test-key",
		SecretKey: "test-secret",
		BaseURL:   srv.URL,
		Timeout:   5 * time.Second,
	}, nopLogger{})
}

func TestSignerProducesVerifiableSignature(t *testing.T) {
	s := &signer{
		apiKey:    "test-key",
		secretKey: "test-secret",
		now:       func() time.Time { return time.UnixMilli(1700000000000) },
	}

	req, err := http.NewRequest(http.MethodGet, "https://example.test/api/v3/account?recvWindow=5000", nil)
	require.NoError(t, err)
	require.NoError(t, s.SignRequest(req))

	assert.Equal(t, "test-key", req.Header.Get("X-MBX-APIKEY"))

	q := req.URL.Query()
	assert.Equal(t, "1700000000000", q.Get("timestamp"))

	sig := q.Get("signature")
	require.NotEmpty(t, sig)

	// Recompute over the signed payload (everything except the signature)
	q.Del("signature")
	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte(q.Encode()))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), sig)
}

func TestFetchBalanceSkipsZeroAssets(t *testing.T) {
	var gotQuery url.Values
	e := newTestExchange(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/account", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("X-MBX-APIKEY"))
		gotQuery = r.URL.Query()
		w.Write([]byte(`{"balances":[
			{"asset":"USDT","free":"5000.5","locked":"100"},
			{"asset":"BTC","free":"0.25","locked":"0.00000000"},
			{"asset":"DUST","free":"0.00000000","locked":"0.00000000"}
		]}`))
	}))

	balances, err := e.FetchBalance(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, gotQuery.Get("signature"))
	assert.NotEmpty(t, gotQuery.Get("timestamp"))

	require.Len(t, balances, 2)
	assert.True(t, balances["USDT"].Free.Equal(decimal.NewFromFloat(5000.5)))
	assert.True(t, balances["USDT"].Used.Equal(decimal.NewFromInt(100)))
	assert.True(t, balances["USDT"].Total.Equal(decimal.NewFromFloat(5100.5)))
	assert.True(t, balances["BTC"].Total.Equal(decimal.NewFromFloat(0.25)))
}

func TestFetchTicker(t *testing.T) {
	e := newTestExchange(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/ticker/24hr", r.URL.Path)
		require.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{"lastPrice":"50000.00","bidPrice":"49990.00","askPrice":"50010.00"}`))
	}))

	ticker, err := e.FetchTicker(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "BTC/USDT", ticker.Symbol)
	assert.True(t, ticker.Last.Equal(decimal.NewFromInt(50000)))
	assert.True(t, ticker.Bid.Equal(decimal.NewFromInt(49990)))
	assert.True(t, ticker.Ask.Equal(decimal.NewFromInt(50010)))
}

func TestFetchOHLCVParsesKlines(t *testing.T) {
	e := newTestExchange(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/klines", r.URL.Path)
		q := r.URL.Query()
		require.Equal(t, "BTCUSDT", q.Get("symbol"))
		require.Equal(t, "1h", q.Get("interval"))
		require.Equal(t, "2", q.Get("limit"))
		w.Write([]byte(`[
			[1700000000000,"100.0","110.0","95.0","105.0","1234.5",1700003599999,"0",0,"0","0","0"],
			[1700003600000,"105.0","120.0","104.0","118.0","2000.0",1700007199999,"0",0,"0","0","0"]
		]`))
	}))

	bars, err := e.FetchOHLCV(context.Background(), "BTC/USDT", "1h", 0, 2)
	require.NoError(t, err)
	require.Len(t, bars, 2)

	assert.Equal(t, int64(1700000000000), bars[0].OpenTime)
	assert.Equal(t, "binance", bars[0].Venue)
	assert.Equal(t, "BTC/USDT", bars[0].Symbol)
	assert.Equal(t, 100.0, bars[0].Open)
	assert.Equal(t, 110.0, bars[0].High)
	assert.Equal(t, 95.0, bars[0].Low)
	assert.Equal(t, 105.0, bars[0].Close)
	assert.Equal(t, 1234.5, bars[0].Volume)
	assert.Equal(t, 118.0, bars[1].Close)
	require.NoError(t, bars[0].Validate())
}

func TestCreateOrderFilledMarketOrder(t *testing.T) {
	e := newTestExchange(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/order", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		q := r.URL.Query()
		require.Equal(t, "BTCUSDT", q.Get("symbol"))
		require.Equal(t, "BUY", q.Get("side"))
		require.Equal(t, "MARKET", q.Get("type"))
		require.Equal(t, "0.1", q.Get("quantity"))
		require.NotEmpty(t, q.Get("newClientOrderId"))
		require.NotEmpty(t, q.Get("signature"))
		w.Write([]byte(`{"orderId":12345,"status":"FILLED",
			"executedQty":"0.1","cummulativeQuoteQty":"5001.0","transactTime":1700000000000}`))
	}))

	order, err := e.CreateOrder(context.Background(), "BTC/USDT", core.TypeMarket, core.SideBuy, decimal.NewFromFloat(0.1), nil)
	require.NoError(t, err)

	assert.Equal(t, "12345", order.ID)
	assert.Equal(t, core.StatusClosed, order.Status)
	// 5001 / 0.1 = average fill of 50010
	assert.True(t, order.Price.Equal(decimal.NewFromInt(50010)), "got %s", order.Price)
	assert.True(t, order.Cost.Equal(decimal.NewFromInt(5001)))
	assert.Equal(t, int64(1700000000000), order.Timestamp)
}

func TestCreateOrderLimitRequiresPrice(t *testing.T) {
	e := newTestExchange(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))

	_, err := e.CreateOrder(context.Background(), "BTC/USDT", core.TypeLimit, core.SideBuy, decimal.NewFromFloat(0.1), nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOrderParameter)
}

func TestVenueErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		body string
		want error
	}{
		{"insufficient funds", `{"code":-2010,"msg":"Account has insufficient balance"}`, apperrors.ErrInsufficientBalance},
		{"bad credentials", `{"code":-2015,"msg":"Invalid API-key"}`, apperrors.ErrAuthenticationFailed},
		{"lot size", `{"code":-1013,"msg":"Filter failure: LOT_SIZE"}`, apperrors.ErrInvalidOrderParameter},
		{"unknown symbol", `{"code":-1121,"msg":"Invalid symbol"}`, apperrors.ErrInvalidSymbol},
		{"clock skew", `{"code":-1021,"msg":"Timestamp outside of recvWindow"}`, apperrors.ErrTimestampOutOfBounds},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestExchange(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(tc.body))
			}))
			_, err := e.CreateOrder(context.Background(), "BTC/USDT", core.TypeMarket, core.SideBuy, decimal.NewFromFloat(0.1), nil)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}
