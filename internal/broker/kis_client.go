package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType selects how the order is priced at the venue.
type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// OrderRequest is a single cash order as submitted to the venue.
type OrderRequest struct {
	Instrument string
	Side       Side
	Type       OrderType
	Quantity   int64
	Price      float64 // limit price, ignored for market orders
}

// OrderAck is the venue acknowledgement of an accepted order.
type OrderAck struct {
	OrderID string
	At      time.Time
}

// Venue abstracts the broker REST surface the gateway depends on.
type Venue interface {
	SubmitOrder(ctx context.Context, token string, req OrderRequest) (*OrderAck, error)
	CurrentPrice(ctx context.Context, token, instrument string) (float64, error)
}

const (
	defaultClientTimeout = 10 * time.Second

	orderPath   = "/uapi/domestic-stock/v1/trading/order-cash"
	hashkeyPath = "/uapi/hashkey"
	pricePath   = "/uapi/domestic-stock/v1/quotations/inquire-price"

	priceTRID = "FHKST01010100"
)

// Cash order transaction ids, keyed by paper-trading mode and side.
var orderTRIDs = map[bool]map[Side]string{
	false: {SideBuy: "TTTC0802U", SideSell: "TTTC0801U"},
	true:  {SideBuy: "VTTC0802U", SideSell: "VTTC0801U"},
}

// Client talks to the KIS domestic-stock REST API.
type Client struct {
	baseURL        string
	appKey         string
	appSecret      string
	accountNo      string
	accountProduct string
	paper          bool

	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpClient = c }
}

func WithClientLogger(l *zap.Logger) ClientOption {
	return func(cl *Client) { cl.logger = l }
}

func WithClientClock(now func() time.Time) ClientOption {
	return func(cl *Client) { cl.now = now }
}

// NewClient creates a venue client. accountNo is the 8-digit account
// number and accountProduct the 2-digit product code.
func NewClient(baseURL, appKey, appSecret, accountNo, accountProduct string, paper bool, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:        baseURL,
		appKey:         appKey,
		appSecret:      appSecret,
		accountNo:      accountNo,
		accountProduct: accountProduct,
		paper:          paper,
		httpClient:     &http.Client{Timeout: defaultClientTimeout},
		logger:         zap.NewNop(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type orderBody struct {
	CANO       string `json:"CANO"`
	ACNTPrdtCD string `json:"ACNT_PRDT_CD"`
	PDNO       string `json:"PDNO"`
	OrdDvsn    string `json:"ORD_DVSN"`
	OrdQty     string `json:"ORD_QTY"`
	OrdUnpr    string `json:"ORD_UNPR"`
}

type orderResponse struct {
	RtCD   string `json:"rt_cd"`
	MsgCD  string `json:"msg_cd"`
	Msg1   string `json:"msg1"`
	Output struct {
		Odno   string `json:"ODNO"`
		OrdTmd string `json:"ORD_TMD"`
	} `json:"output"`
}

// SubmitOrder places a cash order and returns the venue acknowledgement.
// Failures from the venue come back as *OrderError.
func (c *Client) SubmitOrder(ctx context.Context, token string, req OrderRequest) (*OrderAck, error) {
	trID, ok := orderTRIDs[c.paper][req.Side]
	if !ok {
		return nil, fmt.Errorf("submit order: unknown side %q", req.Side)
	}

	ordDvsn, ordUnpr := "01", "0"
	if req.Type == OrderLimit {
		ordDvsn = "00"
		ordUnpr = strconv.FormatInt(int64(req.Price), 10)
	}
	body := orderBody{
		CANO:       c.accountNo,
		ACNTPrdtCD: c.accountProduct,
		PDNO:       req.Instrument,
		OrdDvsn:    ordDvsn,
		OrdQty:     strconv.FormatInt(req.Quantity, 10),
		OrdUnpr:    ordUnpr,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("submit order: marshal body: %w", err)
	}

	headers := map[string]string{
		"authorization": "Bearer " + token,
		"appkey":        c.appKey,
		"appsecret":     c.appSecret,
		"tr_id":         trID,
	}
	// The hashkey is an integrity signature over the body; the venue
	// accepts orders without it, so a failure here is not fatal.
	if hk, err := c.hashkey(ctx, raw); err == nil {
		headers["hashkey"] = hk
	} else {
		c.logger.Warn("hashkey request failed, sending order without it", zap.Error(err))
	}

	httpResp, respBody, err := c.post(ctx, orderPath, raw, headers)
	if err != nil {
		return nil, fmt.Errorf("submit order: %w", err)
	}
	if httpResp.StatusCode == http.StatusTooManyRequests {
		return nil, &OrderError{Code: FailRateLimited, Msg: "http 429"}
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &OrderError{Code: FailUnknown, Msg: fmt.Sprintf("http %d: %s", httpResp.StatusCode, truncate(respBody, 200))}
	}

	var resp orderResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("submit order: decode response: %w", err)
	}
	if resp.RtCD != "0" {
		return nil, &OrderError{
			Code:      classifyVenueCode(resp.MsgCD),
			VenueCode: resp.MsgCD,
			Msg:       resp.Msg1,
		}
	}
	return &OrderAck{OrderID: resp.Output.Odno, At: c.now()}, nil
}

// CurrentPrice returns the latest traded price for an instrument.
func (c *Client) CurrentPrice(ctx context.Context, token, instrument string) (float64, error) {
	q := url.Values{}
	q.Set("fid_cond_mrkt_div_code", "J")
	q.Set("fid_input_iscd", instrument)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pricePath+"?"+q.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("current price: build request: %w", err)
	}
	req.Header.Set("authorization", "Bearer "+token)
	req.Header.Set("appkey", c.appKey)
	req.Header.Set("appsecret", c.appSecret)
	req.Header.Set("tr_id", priceTRID)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("current price: %w", err)
	}
	defer httpResp.Body.Close()
	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return 0, fmt.Errorf("current price: read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("current price: http %d: %s", httpResp.StatusCode, truncate(respBody, 200))
	}

	var resp struct {
		RtCD   string `json:"rt_cd"`
		Msg1   string `json:"msg1"`
		Output struct {
			StckPrpr string `json:"stck_prpr"`
		} `json:"output"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return 0, fmt.Errorf("current price: decode response: %w", err)
	}
	if resp.RtCD != "0" {
		return 0, fmt.Errorf("current price: venue error: %s", resp.Msg1)
	}
	price, err := strconv.ParseFloat(resp.Output.StckPrpr, 64)
	if err != nil {
		return 0, fmt.Errorf("current price: parse %q: %w", resp.Output.StckPrpr, err)
	}
	return price, nil
}

func (c *Client) hashkey(ctx context.Context, body []byte) (string, error) {
	headers := map[string]string{
		"appkey":    c.appKey,
		"appsecret": c.appSecret,
	}
	httpResp, respBody, err := c.post(ctx, hashkeyPath, body, headers)
	if err != nil {
		return "", err
	}
	if httpResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("hashkey: http %d", httpResp.StatusCode)
	}
	var resp struct {
		Hash string `json:"HASH"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("hashkey: decode response: %w", err)
	}
	if resp.Hash == "" {
		return "", fmt.Errorf("hashkey: empty hash in response")
	}
	return resp.Hash, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte, headers map[string]string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	return resp, respBody, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
