package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sony/gobreaker/v2"

	"github.com/example/marketplace/internal/domain/payment"
)

var (
	ErrIncompleteCredentials = errors.New("mpesa credentials are incomplete")
	ErrRequestRejected       = errors.New("mpesa rejected the request")
)

const (
	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	pushPath  = "/mpesa/stkpush/v1/processrequest"

	// Tokens are refreshed this long before the carrier expires them.
	tokenSlack = time.Minute
)

// Client performs live push-payment requests against one provider.
type Client struct {
	provider   payment.Provider
	creds      payment.Credentials
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*payment.GatewayResult]
	now        func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpClient = c }
}

func NewClient(provider payment.Provider, creds payment.Credentials, opts ...ClientOption) (*Client, error) {
	if !creds.Complete() {
		return nil, fmt.Errorf("%w: %s", ErrIncompleteCredentials, provider)
	}
	c := &Client{
		provider:   provider,
		creds:      creds,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker[*payment.GatewayResult](gobreaker.Settings{
		Name:        "mpesa-" + string(provider),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// a rejection means the carrier is up
			return err == nil || errors.Is(err, ErrRequestRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[Mpesa] Circuit %s changed from %s to %s", name, from, to)
		},
	})
	return c, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

type pushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            string `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type pushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	ErrorMessage        string `json:"errorMessage"`
}

// Initiate sends a push request to the payer's handset. Calls fail fast
// while the circuit is open.
func (c *Client) Initiate(ctx context.Context, req payment.GatewayRequest) (*payment.GatewayResult, error) {
	return c.breaker.Execute(func() (*payment.GatewayResult, error) {
		return c.push(ctx, req)
	})
}

func (c *Client) push(ctx context.Context, req payment.GatewayRequest) (*payment.GatewayResult, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	ts := c.now().Format("20060102150405")
	desc := req.Description
	if desc == "" {
		desc = "Order payment"
	}
	// carriers only accept whole currency units
	charged := req.Amount.Ceil()
	body := pushRequest{
		BusinessShortCode: c.creds.ShortCode,
		Password:          base64.StdEncoding.EncodeToString([]byte(c.creds.ShortCode + c.creds.PassKey + ts)),
		Timestamp:         ts,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            charged.String(),
		PartyA:            req.Phone,
		PartyB:            c.creds.ShortCode,
		PhoneNumber:       req.Phone,
		CallBackURL:       c.creds.CallbackURL,
		AccountReference:  req.Reference,
		TransactionDesc:   truncate(desc, 100),
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(pushPath), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("push request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read push response: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("push request returned %d", resp.StatusCode)
	}

	var out pushResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode push response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || out.ResponseCode != "0" {
		msg := out.ErrorMessage
		if msg == "" {
			msg = out.ResponseDescription
		}
		return nil, fmt.Errorf("%w: %s", ErrRequestRejected, msg)
	}

	return &payment.GatewayResult{
		ConversationID: out.CheckoutRequestID,
		Description:    out.ResponseDescription,
		ChargedAmount:  charged,
	}, nil
}

// accessToken returns a cached OAuth token, fetching a new one when it is
// missing or about to expire.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(tokenPath), nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.creds.ConsumerKey, c.creds.ConsumerSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request returned %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", errors.New("token response has no access token")
	}

	ttl, err := time.ParseDuration(tr.ExpiresIn + "s")
	if err != nil || ttl <= tokenSlack {
		ttl = 2 * tokenSlack
	}
	c.token = tr.AccessToken
	c.tokenExpiry = c.now().Add(ttl - tokenSlack)
	return c.token, nil
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.creds.BaseURL, "/") + path
}

// truncate shortens s to at most n bytes without splitting a character.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
