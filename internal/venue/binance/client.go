package binance

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"perpguard/internal/market"
	"perpguard/internal/schema"
	"perpguard/internal/venue"
	"perpguard/pkg/exception"
)

const (
	_baseURL        = "https://fapi.binance.com"
	_baseURLTestnet = "https://testnet.binancefuture.com"

	_name                 = "binanceusdm"
	_defaultFundingHours  = 8
	_codeNoNeedMarginType = -4046
)

// Option configures the USD-M futures client.
type Option struct {
	BaseURL    string
	Testnet    bool
	APIKey     string
	APISecret  string
	RecvWindow time.Duration
	// QuoteAsset selects the balance returned by FetchBalance. Default USDT.
	QuoteAsset string
	Timeout    time.Duration
}

// Client talks to the Binance USD-M futures REST API.
type Client struct {
	opt     Option
	baseURL string
	client  *http.Client
	now     func() time.Time

	mu      sync.Mutex
	markets map[string]symbolInfo
}

var (
	_ venue.Client             = (*Client)(nil)
	_ venue.OrderFetcher       = (*Client)(nil)
	_ venue.FundingRateFetcher = (*Client)(nil)
)

func NewClient(opt Option, client *http.Client) *Client {
	base := opt.BaseURL
	if base == "" {
		base = _baseURL
		if opt.Testnet {
			base = _baseURLTestnet
		}
	}
	if opt.QuoteAsset == "" {
		opt.QuoteAsset = "USDT"
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 15 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: opt.Timeout}
	}
	return &Client{
		opt:     opt,
		baseURL: strings.TrimRight(base, "/"),
		client:  client,
		now:     time.Now,
	}
}

func (c *Client) Name() string {
	return _name
}

// MarketID converts "BTC/USDT:USDT" or "BTC-USDT" into "BTCUSDT".
func MarketID(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	s = strings.ReplaceAll(s, "/", "")
	return strings.ReplaceAll(s, "-", "")
}

func (c *Client) Market(ctx context.Context, symbol string) (market.MarketInfo, error) {
	info, err := c.symbol(ctx, MarketID(symbol))
	if err != nil {
		return market.MarketInfo{}, err
	}

	var m market.MarketInfo
	for _, f := range info.Filters {
		switch f.FilterType {
		case "PRICE_FILTER":
			m.TickSize = parseFloat(f.TickSize)
			m.PricePrecision = precisionOf(f.TickSize)
			m.MaxPrice = parseFloat(f.MaxPrice)
		case "LOT_SIZE":
			m.StepSize = parseFloat(f.StepSize)
			m.AmountPrecision = precisionOf(f.StepSize)
			m.MinAmount = parseFloat(f.MinQty)
			m.MaxAmount = parseFloat(f.MaxQty)
		case "MIN_NOTIONAL":
			m.MinCost = parseFloat(f.Notional)
		}
	}
	return m, nil
}

func (c *Client) symbol(ctx context.Context, id string) (symbolInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.markets == nil {
		var ex exchangeInfo
		if err := c.do(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", nil, false, &ex); err != nil {
			return symbolInfo{}, errors.Wrap(err, "fetch exchange info")
		}
		markets := make(map[string]symbolInfo, len(ex.Symbols))
		for _, s := range ex.Symbols {
			markets[s.Symbol] = s
		}
		c.markets = markets
	}

	info, ok := c.markets[id]
	if !ok {
		return symbolInfo{}, errors.Wrap(exception.ErrVenueUnknownSymbol, "lookup symbol").With("symbol", id)
	}
	return info, nil
}

func (c *Client) CreateOrder(ctx context.Context, req venue.OrderRequest) (venue.OrderResult, error) {
	q := url.Values{}
	q.Set("symbol", MarketID(req.Symbol))
	q.Set("side", strings.ToUpper(req.Side.String()))
	q.Set("quantity", formatFloat(req.Amount))
	q.Set("newOrderRespType", "RESULT")
	if req.ClientOrderID != "" {
		q.Set("newClientOrderId", req.ClientOrderID)
	}

	switch req.Type {
	case schema.OrderTypeLimit:
		q.Set("type", "LIMIT")
		q.Set("price", formatFloat(req.Price))
		tif := req.Params.String("timeInForce")
		if tif == "" {
			tif = "GTC"
		}
		q.Set("timeInForce", tif)
	case schema.OrderTypeMarket:
		q.Set("type", "MARKET")
	case schema.OrderTypeStopMarket:
		q.Set("type", "STOP_MARKET")
		q.Set("stopPrice", formatFloat(req.StopPrice))
		if wt := req.Params.String("workingType"); wt != "" {
			q.Set("workingType", wt)
		}
	default:
		return venue.OrderResult{}, errors.Wrap(exception.ErrVenueUnsupported, "order type").With("type", req.Type)
	}
	if req.Params.Bool("reduceOnly") {
		q.Set("reduceOnly", "true")
	}

	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/fapi/v1/order", q, true, &resp); err != nil {
		return venue.OrderResult{}, errors.Wrap(err, "create order").With("client_order_id", req.ClientOrderID)
	}
	return resp.result(), nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID, symbol string) error {
	q := orderQuery(orderID, symbol)
	if err := c.do(ctx, http.MethodDelete, "/fapi/v1/order", q, true, nil); err != nil {
		return errors.Wrap(err, "cancel order").With("order_id", orderID)
	}
	return nil
}

func (c *Client) FetchOrder(ctx context.Context, orderID, symbol string) (venue.OrderResult, error) {
	var resp orderResponse
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/order", orderQuery(orderID, symbol), true, &resp); err != nil {
		return venue.OrderResult{}, errors.Wrap(err, "fetch order").With("order_id", orderID)
	}
	return resp.result(), nil
}

func (c *Client) SetMarginMode(ctx context.Context, mode venue.MarginMode, symbol string) error {
	marginType := "ISOLATED"
	if mode == venue.MarginCross {
		marginType = "CROSSED"
	}
	q := url.Values{}
	q.Set("symbol", MarketID(symbol))
	q.Set("marginType", marginType)
	err := c.do(ctx, http.MethodPost, "/fapi/v1/marginType", q, true, nil)
	if apiErr, ok := err.(*responseError); ok && apiErr.Code == _codeNoNeedMarginType {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "set margin mode").With("symbol", symbol)
	}
	return nil
}

func (c *Client) SetLeverage(ctx context.Context, leverage float64, symbol string) error {
	q := url.Values{}
	q.Set("symbol", MarketID(symbol))
	q.Set("leverage", strconv.Itoa(int(math.Max(1, math.Round(leverage)))))
	if err := c.do(ctx, http.MethodPost, "/fapi/v1/leverage", q, true, nil); err != nil {
		return errors.Wrap(err, "set leverage").With("symbol", symbol)
	}
	return nil
}

func (c *Client) FetchBalance(ctx context.Context) (venue.Balance, error) {
	var rows []balanceResponse
	if err := c.do(ctx, http.MethodGet, "/fapi/v2/balance", nil, true, &rows); err != nil {
		return venue.Balance{}, errors.Wrap(err, "fetch balance")
	}
	for _, r := range rows {
		if strings.EqualFold(r.Asset, c.opt.QuoteAsset) {
			return venue.Balance{
				Currency: r.Asset,
				Total:    parseFloat(r.Balance),
				Free:     parseFloat(r.AvailableBalance),
			}, nil
		}
	}
	return venue.Balance{Currency: c.opt.QuoteAsset}, nil
}

func (c *Client) FetchFundingRate(ctx context.Context, symbol string) (venue.FundingRate, error) {
	q := url.Values{}
	q.Set("symbol", MarketID(symbol))
	var resp premiumIndexResponse
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/premiumIndex", q, false, &resp); err != nil {
		return venue.FundingRate{}, errors.Wrap(err, "fetch funding rate").With("symbol", symbol)
	}
	return venue.FundingRate{
		Symbol:        symbol,
		Rate:          parseFloat(resp.LastFundingRate),
		IntervalHours: _defaultFundingHours,
		MarkPrice:     parseFloat(resp.MarkPrice),
		NextFundingMs: resp.NextFundingTime,
	}, nil
}

// responseError is a decoded Binance error body.
type responseError struct {
	Status int
	Code   int
	Msg    string
}

func (e *responseError) Error() string {
	return "binance: status " + strconv.Itoa(e.Status) + " code " + strconv.Itoa(e.Code) + ": " + e.Msg
}

func (e *responseError) Unwrap() error {
	return exception.ErrVenueResponse
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, signed bool, out any) error {
	if q == nil {
		q = url.Values{}
	}
	if signed {
		if c.opt.APIKey == "" || c.opt.APISecret == "" {
			return exception.ErrVenueMissingAPIKey
		}
		q.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		if c.opt.RecvWindow > 0 {
			q.Set("recvWindow", strconv.FormatInt(c.opt.RecvWindow.Milliseconds(), 10))
		}
	}
	encoded := q.Encode()
	if signed {
		encoded += "&signature=" + c.sign(encoded)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opt.Timeout)
	defer cancel()

	endpoint := c.baseURL + path
	var body io.Reader
	if method == http.MethodPost {
		body = bytes.NewReader([]byte(encoded))
	} else if encoded != "" {
		endpoint += "?" + encoded
	}

	r, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.opt.APIKey != "" {
		r.Header.Set("X-MBX-APIKEY", c.opt.APIKey)
	}

	resp, err := c.client.Do(r)
	if err != nil {
		return errors.Wrap(exception.ErrVenueRequest, err.Error()).With("path", path)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read body").With("path", path)
	}

	if resp.StatusCode/100 != 2 {
		var apiErr apiError
		_ = sonic.ConfigFastest.Unmarshal(payload, &apiErr)
		if apiErr.Message == "" {
			apiErr.Message = string(payload)
		}
		return &responseError{Status: resp.StatusCode, Code: apiErr.Code, Msg: apiErr.Message}
	}

	if out == nil {
		return nil
	}
	if err := sonic.ConfigFastest.Unmarshal(payload, out); err != nil {
		return errors.Wrap(err, "decode response").With("path", path)
	}
	return nil
}

func (c *Client) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(c.opt.APISecret))
	_, _ = io.WriteString(mac, payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func orderQuery(orderID, symbol string) url.Values {
	q := url.Values{}
	q.Set("symbol", MarketID(symbol))
	if _, err := strconv.ParseInt(orderID, 10, 64); err == nil {
		q.Set("orderId", orderID)
	} else {
		q.Set("origClientOrderId", orderID)
	}
	return q
}

func (o orderResponse) result() venue.OrderResult {
	postOnly := o.TimeInForce == "GTX"
	id := ""
	if o.OrderID != 0 {
		id = strconv.FormatInt(o.OrderID, 10)
	}
	return venue.OrderResult{
		ID:            id,
		ClientOrderID: o.ClientOrderID,
		Status:        o.Status,
		Price:         parseFloat(o.Price),
		Average:       parseFloat(o.AvgPrice),
		Filled:        parseFloat(o.ExecutedQty),
		PostOnly:      &postOnly,
	}
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func formatFloat(v float64) string {
	return decimal.NewFromFloat(v).String()
}

// precisionOf returns the decimal places of a power-of-ten step, nil otherwise.
func precisionOf(step string) *float64 {
	d, err := decimal.NewFromString(step)
	if err != nil || !d.IsPositive() {
		return nil
	}
	lg := math.Log10(d.InexactFloat64())
	if math.Abs(lg-math.Round(lg)) > 1e-9 {
		return nil
	}
	p := -math.Round(lg)
	return &p
}
