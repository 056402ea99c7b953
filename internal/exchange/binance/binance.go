// Package binance implements the live venue adapter over the Binance spot
// REST API.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"trading_bot/internal/core"
	apperrors "trading_bot/pkg/errors"
	"trading_bot/pkg/httpclient"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.binance.com"

// Config carries the venue credentials and tuning
type Config struct {
	APIKey    string
	SecretKey string
	BaseURL   string
	Timeout   time.Duration
}

// Exchange implements core.Exchange against Binance spot
type Exchange struct {
	public  *httpclient.Client
	private *httpclient.Client
	limiter *rate.Limiter
	logger  core.ILogger
}

// signer sets the API key header and appends an HMAC-SHA256 signature over
// the query string, the way Binance authenticates private endpoints
type signer struct {
	apiKey    string
	secretKey string
	now       func() time.Time
}

func (s *signer) SignRequest(req *http.Request) error {
	req.Header.Set("X-MBX-APIKEY", s.apiKey)

	q := req.URL.Query()
	if q.Get("timestamp") == "" {
		q.Set("timestamp", strconv.FormatInt(s.now().UnixMilli(), 10))
	}
	mac := hmac.New(sha256.New, []byte(s.secretKey))
	mac.Write([]byte(q.Encode()))
	q.Set("signature", hex.EncodeToString(mac.Sum(nil)))
	req.URL.RawQuery = q.Encode()
	return nil
}

// New creates a live Binance spot client
func New(cfg Config, logger core.ILogger) *Exchange {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Exchange{
		public: httpclient.NewClient(baseURL, timeout, nil),
		private: httpclient.NewClient(baseURL, timeout, &signer{
			apiKey:    cfg.APIKey,
			secretKey: cfg.SecretKey,
			now:       time.Now,
		}),
		// Order flow should stay well under the venue's request weight caps
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		logger:  logger.WithField("component", "binance"),
	}
}

// Name identifies the venue
func (e *Exchange) Name() string {
	return "binance"
}

// CheckHealth pings the venue
func (e *Exchange) CheckHealth(ctx context.Context) error {
	_, err := e.public.Get(ctx, "/api/v3/ping", nil)
	return err
}

// venueSymbol converts "BTC/USDT" to the venue's "BTCUSDT"
func venueSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

// FetchBalance returns all non-zero account balances
func (e *Exchange) FetchBalance(ctx context.Context) (core.Balances, error) {
	body, err := e.private.Get(ctx, "/api/v3/account", nil)
	if err != nil {
		return nil, e.wrapError(err)
	}

	var resp struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse account response: %w", err)
	}

	balances := make(core.Balances)
	for _, b := range resp.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return nil, fmt.Errorf("bad free balance for %s: %w", b.Asset, err)
		}
		locked, err := decimal.NewFromString(b.Locked)
		if err != nil {
			return nil, fmt.Errorf("bad locked balance for %s: %w", b.Asset, err)
		}
		if free.IsZero() && locked.IsZero() {
			continue
		}
		balances[b.Asset] = core.AssetBalance{
			Free:  free,
			Used:  locked,
			Total: free.Add(locked),
		}
	}
	return balances, nil
}

// FetchTicker returns last, bid and ask for one symbol
func (e *Exchange) FetchTicker(ctx context.Context, symbol string) (*core.Ticker, error) {
	body, err := e.public.Get(ctx, "/api/v3/ticker/24hr", map[string]string{
		"symbol": venueSymbol(symbol),
	})
	if err != nil {
		return nil, e.wrapError(err)
	}

	var resp struct {
		LastPrice string `json:"lastPrice"`
		BidPrice  string `json:"bidPrice"`
		AskPrice  string `json:"askPrice"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse ticker response: %w", err)
	}

	last, err := decimal.NewFromString(resp.LastPrice)
	if err != nil {
		return nil, fmt.Errorf("bad last price %q: %w", resp.LastPrice, err)
	}
	bid, err := decimal.NewFromString(resp.BidPrice)
	if err != nil {
		return nil, fmt.Errorf("bad bid price %q: %w", resp.BidPrice, err)
	}
	ask, err := decimal.NewFromString(resp.AskPrice)
	if err != nil {
		return nil, fmt.Errorf("bad ask price %q: %w", resp.AskPrice, err)
	}

	return &core.Ticker{Symbol: symbol, Last: last, Bid: bid, Ask: ask}, nil
}

// FetchOHLCV returns candles in the venue's native ascending order
func (e *Exchange) FetchOHLCV(ctx context.Context, symbol, timeframe string, since int64, limit int) ([]core.Bar, error) {
	params := map[string]string{
		"symbol":   venueSymbol(symbol),
		"interval": timeframe,
	}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}
	if since > 0 {
		params["startTime"] = strconv.FormatInt(since, 10)
	}

	body, err := e.public.Get(ctx, "/api/v3/klines", params)
	if err != nil {
		return nil, e.wrapError(err)
	}

	var raw [][]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse klines response: %w", err)
	}

	bars := make([]core.Bar, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			return nil, fmt.Errorf("short kline row: %d fields", len(k))
		}
		var openTime int64
		if err := json.Unmarshal(k[0], &openTime); err != nil {
			return nil, fmt.Errorf("bad kline open time: %w", err)
		}
		var fields [5]float64
		for i := range fields {
			var s string
			if err := json.Unmarshal(k[i+1], &s); err != nil {
				return nil, fmt.Errorf("bad kline field %d: %w", i+1, err)
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("bad kline value %q: %w", s, err)
			}
			fields[i] = v
		}
		bars = append(bars, core.Bar{
			Venue:     e.Name(),
			Symbol:    symbol,
			Timeframe: timeframe,
			OpenTime:  openTime,
			Open:      fields[0],
			High:      fields[1],
			Low:       fields[2],
			Close:     fields[3],
			Volume:    fields[4],
		})
	}
	return bars, nil
}

// CreateOrder places a spot order
func (e *Exchange) CreateOrder(ctx context.Context, symbol string, orderType core.OrderType, side core.OrderSide, amount decimal.Decimal, price *decimal.Decimal) (*core.Order, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := map[string]string{
		"symbol":           venueSymbol(symbol),
		"quantity":         amount.String(),
		"newClientOrderId": uuid.NewString(),
	}

	switch side {
	case core.SideBuy:
		params["side"] = "BUY"
	case core.SideSell:
		params["side"] = "SELL"
	default:
		return nil, fmt.Errorf("%w: side %q", apperrors.ErrInvalidOrderParameter, side)
	}

	switch orderType {
	case core.TypeLimit:
		if price == nil || !price.IsPositive() {
			return nil, fmt.Errorf("%w: limit order without a price", apperrors.ErrInvalidOrderParameter)
		}
		params["type"] = "LIMIT"
		params["price"] = price.String()
		params["timeInForce"] = "GTC"
	case core.TypeMarket:
		params["type"] = "MARKET"
	default:
		return nil, fmt.Errorf("%w: type %q", apperrors.ErrInvalidOrderParameter, orderType)
	}

	body, err := e.private.PostForm(ctx, "/api/v3/order", params)
	if err != nil {
		return nil, e.wrapError(err)
	}

	var resp struct {
		OrderID             int64  `json:"orderId"`
		Status              string `json:"status"`
		ExecutedQty         string `json:"executedQty"`
		CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
		TransactTime        int64  `json:"transactTime"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse order response: %w", err)
	}

	execPrice := decimal.Zero
	if price != nil {
		execPrice = *price
	}
	executed, _ := decimal.NewFromString(resp.ExecutedQty)
	quoteQty, _ := decimal.NewFromString(resp.CummulativeQuoteQty)
	if executed.IsPositive() && quoteQty.IsPositive() {
		// Average fill price, the only honest figure for market orders
		execPrice = quoteQty.Div(executed)
	}

	status := core.StatusNew
	if resp.Status == "FILLED" {
		status = core.StatusClosed
	}

	order := &core.Order{
		ID:        strconv.FormatInt(resp.OrderID, 10),
		Symbol:    symbol,
		Type:      orderType,
		Side:      side,
		Amount:    amount,
		Price:     execPrice,
		Cost:      quoteQty,
		Status:    status,
		Timestamp: resp.TransactTime,
	}
	e.logger.Info("Live order placed",
		"order_id", order.ID, "symbol", symbol, "side", side, "status", status)
	return order, nil
}

// wrapError maps venue error codes onto the shared error taxonomy
func (e *Exchange) wrapError(err error) error {
	var apiErr *httpclient.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
	}

	var venueErr struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if jsonErr := json.Unmarshal(apiErr.Body, &venueErr); jsonErr != nil {
		return fmt.Errorf("venue error (status %d): %s", apiErr.StatusCode, string(apiErr.Body))
	}

	switch venueErr.Code {
	case -2015:
		return fmt.Errorf("%w: %s", apperrors.ErrAuthenticationFailed, venueErr.Msg)
	case -2010:
		return fmt.Errorf("%w: %s", apperrors.ErrInsufficientBalance, venueErr.Msg)
	case -1013, -1111:
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidOrderParameter, venueErr.Msg)
	case -1121:
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, venueErr.Msg)
	case -1003:
		return fmt.Errorf("%w: %s", apperrors.ErrRateLimitExceeded, venueErr.Msg)
	case -1021:
		return fmt.Errorf("%w: %s", apperrors.ErrTimestampOutOfBounds, venueErr.Msg)
	}
	return fmt.Errorf("venue error %d: %s", venueErr.Code, venueErr.Msg)
}
