package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trendydresses/payment-recon/internal/infrastructure/redis"
)

const (
	sandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	productionBaseURL = "https://api.safaricom.co.ke"
	tokenCacheKey     = "mpesa:access_token"
	// Daraja tokens last an hour; refresh five minutes early.
	tokenTTL = 55 * time.Minute
)

type Config struct {
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	Environment    string
	CallbackURL    string
}

// Client talks to the Daraja API: OAuth token management, STK push
// initiation, and push status queries. The token is cached in-process and in
// Redis so restarts and sibling instances reuse it.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	redis      redis.RedisClient

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewClient(cfg Config, redisClient redis.RedisClient) *Client {
	baseURL := sandboxBaseURL
	if cfg.Environment == "production" {
		baseURL = productionBaseURL
	}
	return &Client{
		cfg:        cfg,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		redis:      redisClient,
	}
}

// WithBaseURL overrides the API host, used in tests.
func (c *Client) WithBaseURL(url string) *Client {
	c.baseURL = url
	return c
}

type STKPushResult struct {
	CheckoutRequestID   string `json:"checkout_request_id"`
	MerchantRequestID   string `json:"merchant_request_id"`
	ResponseCode        string `json:"response_code"`
	ResponseDescription string `json:"response_description"`
	CustomerMessage     string `json:"customer_message"`
}

type STKStatusResult struct {
	CheckoutRequestID   string `json:"checkout_request_id"`
	ResponseCode        string `json:"response_code"`
	ResponseDescription string `json:"response_description"`
	ResultCode          string `json:"result_code"`
	ResultDesc          string `json:"result_desc"`
}

// GetValidToken returns a cached OAuth token or fetches a fresh one.
func (c *Client) GetValidToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	if c.redis != nil {
		if cached, err := c.redis.Get(ctx, tokenCacheKey); err == nil && cached != "" {
			c.token = cached
			c.tokenExpiry = time.Now().Add(time.Minute)
			return cached, nil
		}
	}

	if c.cfg.ConsumerKey == "" || c.cfg.ConsumerSecret == "" {
		return "", fmt.Errorf("mpesa credentials not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	basic := base64.StdEncoding.EncodeToString([]byte(c.cfg.ConsumerKey + ":" + c.cfg.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+basic)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch access token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request failed with status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("empty access token in response")
	}

	c.token = body.AccessToken
	c.tokenExpiry = time.Now().Add(tokenTTL)
	if c.redis != nil {
		if err := c.redis.Set(ctx, tokenCacheKey, body.AccessToken, tokenTTL); err != nil {
			slog.Error("failed to cache mpesa token", "error", err)
		}
	}

	slog.Info("mpesa access token obtained")
	return c.token, nil
}

// InitiateSTKPush asks the network to prompt the payer's phone. The caller
// records the returned checkout request id as a pending placeholder so the
// eventual callback can be correlated.
func (c *Client) InitiateSTKPush(ctx context.Context, phoneNumber string, amount decimal.Decimal, accountReference, description string) (*STKPushResult, error) {
	token, err := c.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.Passkey + timestamp))
	phone := NormalizePhoneNumber(phoneNumber)

	payload := map[string]any{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          password,
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            amount.Round(0).IntPart(),
		"PartyA":            phone,
		"PartyB":            c.cfg.ShortCode,
		"PhoneNumber":       phone,
		"CallBackURL":       c.cfg.CallbackURL,
		"AccountReference":  accountReference,
		"TransactionDesc":   description,
	}

	var resp struct {
		CheckoutRequestID   string `json:"CheckoutRequestID"`
		MerchantRequestID   string `json:"MerchantRequestID"`
		ResponseCode        string `json:"ResponseCode"`
		ResponseDescription string `json:"ResponseDescription"`
		CustomerMessage     string `json:"CustomerMessage"`
	}
	if err := c.post(ctx, "/mpesa/stkpush/v1/processrequest", token, payload, &resp); err != nil {
		return nil, err
	}
	if resp.ResponseCode != "0" {
		return nil, fmt.Errorf("stk push rejected: %s", resp.ResponseDescription)
	}

	slog.Info("stk push initiated", "checkout_request_id", resp.CheckoutRequestID, "phone", phone)
	return &STKPushResult{
		CheckoutRequestID:   resp.CheckoutRequestID,
		MerchantRequestID:   resp.MerchantRequestID,
		ResponseCode:        resp.ResponseCode,
		ResponseDescription: resp.ResponseDescription,
		CustomerMessage:     resp.CustomerMessage,
	}, nil
}

// QuerySTKStatus asks the network for the outcome of an in-flight push.
func (c *Client) QuerySTKStatus(ctx context.Context, checkoutRequestID string) (*STKStatusResult, error) {
	token, err := c.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.Passkey + timestamp))

	payload := map[string]any{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          password,
		"Timestamp":         timestamp,
		"CheckoutRequestID": checkoutRequestID,
	}

	var resp struct {
		ResponseCode        string `json:"ResponseCode"`
		ResponseDescription string `json:"ResponseDescription"`
		ResultCode          string `json:"ResultCode"`
		ResultDesc          string `json:"ResultDesc"`
	}
	if err := c.post(ctx, "/mpesa/stkpushquery/v1/query", token, payload, &resp); err != nil {
		return nil, err
	}

	return &STKStatusResult{
		CheckoutRequestID:   checkoutRequestID,
		ResponseCode:        resp.ResponseCode,
		ResponseDescription: resp.ResponseDescription,
		ResultCode:          resp.ResultCode,
		ResultDesc:          resp.ResultDesc,
	}, nil
}

func (c *Client) post(ctx context.Context, path, token string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request to %s failed with status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

// NormalizePhoneNumber converts local formats (07..., 7...) to the 254 MSISDN
// form the network expects.
func NormalizePhoneNumber(phone string) string {
	p := strings.TrimSpace(phone)
	if strings.HasPrefix(p, "254") {
		return p
	}
	if strings.HasPrefix(p, "0") {
		return "254" + p[1:]
	}
	return "254" + p
}
