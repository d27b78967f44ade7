package paypal

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/vidorahq/vidora-billing/pkg/config"
	"github.com/vidorahq/vidora-billing/pkg/logger"
)

const (
	sandboxBaseURL    = "https://api-m.sandbox.paypal.com"
	productionBaseURL = "https://api-m.paypal.com"

	tokenPath = "/v1/oauth2/token"
)

var (
	errClientIDRequired  = errors.New("paypal client id is required")
	errSecretRequired    = errors.New("paypal client secret is required")
	errWebhookIDRequired = errors.New("paypal webhook id is required")
)

// APIError is a non-2xx response from PayPal's REST API.
type APIError struct {
	StatusCode int
	Name       string           `json:"name"`
	Message    string           `json:"message"`
	Details    []APIErrorDetail `json:"details"`
}

type APIErrorDetail struct {
	Issue       string `json:"issue"`
	Description string `json:"description"`
}

// Issue returns the first detail issue code, if any.
func (e *APIError) Issue() string {
	if len(e.Details) == 0 {
		return ""
	}
	return e.Details[0].Issue
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paypal api %d %s: %s", e.StatusCode, e.Name, e.Message)
}

// Client is a minimal PayPal REST client with cached OAuth2 client-credentials
// tokens.
type Client struct {
	httpClient *http.Client
	baseURL    string
	clientID   string
	secret     string
	webhookID  string

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient validates credentials and binds the client to the configured env.
func NewClient(ctx context.Context, cfg config.PayPalConfig, timeout time.Duration, logg *logger.Logger) (*Client, error) {
	creds := cfg.Credentials()

	if strings.TrimSpace(creds.APIKey) == "" {
		return nil, errClientIDRequired
	}
	if strings.TrimSpace(creds.APISecret) == "" {
		return nil, errSecretRequired
	}
	if strings.TrimSpace(cfg.WebhookID) == "" {
		return nil, errWebhookIDRequired
	}

	baseURL := sandboxBaseURL
	if creds.Env == config.GatewayEnvProduction {
		baseURL = productionBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		clientID:   creds.APIKey,
		secret:     creds.APISecret,
		webhookID:  cfg.WebhookID,
	}

	if logg != nil {
		logg.Info(ctx, fmt.Sprintf("paypal client initialized (%s)", creds.Env))
	}
	return client, nil
}

// NewStubClient builds a client pointed at a stub server with a preloaded
// token. Test use only.
func NewStubClient(baseURL string, webhookID string) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: 5 * time.Second},
		baseURL:     baseURL,
		clientID:    "stub",
		secret:      "stub",
		webhookID:   webhookID,
		token:       "stub-token",
		tokenExpiry: time.Now().Add(time.Hour),
	}
}

func (c *Client) WebhookID() string {
	if c == nil {
		return ""
	}
	return c.webhookID
}

// Post sends a JSON body and decodes the JSON response into out (if non-nil).
func (c *Client) Post(ctx context.Context, path string, body any, out any) error {
	return c.doJSON(ctx, http.MethodPost, path, body, out)
}

// Get fetches a resource and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// accessToken returns a cached OAuth2 token, refreshing when within a minute
// of expiry.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Until(c.tokenExpiry) > time.Minute {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	basic := base64.StdEncoding.EncodeToString([]byte(c.clientID + ":" + c.secret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{StatusCode: resp.StatusCode, Name: "OAUTH_FAILURE", Message: "token request rejected"}
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}

	c.token = tokenResp.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	return c.token, nil
}
