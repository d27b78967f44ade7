package alipay

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/vidorahq/vidora-billing/pkg/config"
	"github.com/vidorahq/vidora-billing/pkg/logger"
)

const (
	sandboxGatewayURL    = "https://openapi-sandbox.dl.alipaydev.com/gateway.do"
	productionGatewayURL = "https://openapi.alipay.com/gateway.do"
)

var (
	errAppIDRequired      = errors.New("alipay app id is required")
	errPrivateKeyRequired = errors.New("alipay merchant private key is required")
	errPublicKeyRequired  = errors.New("alipay platform public key is required")
)

// BusinessError is an Alipay response with a non-success code: the call
// reached Alipay but was rejected.
type BusinessError struct {
	Code    string
	SubCode string
	Message string
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("alipay %s/%s: %s", e.Code, e.SubCode, e.Message)
}

// Client speaks Alipay's openapi gateway protocol: form-encoded requests
// signed RSA2 (SHA256withRSA) with the merchant key, responses verified with
// the platform key.
type Client struct {
	httpClient      *http.Client
	gatewayURL      string
	appID           string
	privateKey      *rsa.PrivateKey
	alipayPublicKey *rsa.PublicKey
}

func NewClient(ctx context.Context, cfg config.AlipayConfig, timeout time.Duration, logg *logger.Logger) (*Client, error) {
	creds := cfg.Credentials()

	if strings.TrimSpace(creds.APIKey) == "" {
		return nil, errAppIDRequired
	}
	privateKey, err := parsePrivateKey(cfg.PrivateKeyPEM)
	if err != nil {
		return nil, err
	}
	publicKey, err := parsePublicKey(cfg.AlipayPublicKey)
	if err != nil {
		return nil, err
	}

	gatewayURL := sandboxGatewayURL
	if creds.Env == config.GatewayEnvProduction {
		gatewayURL = productionGatewayURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	if logg != nil {
		logg.Info(ctx, fmt.Sprintf("alipay client initialized (%s)", creds.Env))
	}

	return &Client{
		httpClient:      &http.Client{Timeout: timeout},
		gatewayURL:      gatewayURL,
		appID:           creds.APIKey,
		privateKey:      privateKey,
		alipayPublicKey: publicKey,
	}, nil
}

// NewStubClient builds a client pointed at a stub gateway with throwaway
// keys. Test use only.
func NewStubClient(gatewayURL string) (*Client, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return &Client{
		httpClient:      &http.Client{Timeout: 5 * time.Second},
		gatewayURL:      gatewayURL,
		appID:           "stub-app",
		privateKey:      key,
		alipayPublicKey: &key.PublicKey,
	}, nil
}

// Execute calls one openapi method and decodes its response body into out.
// Non-10000 codes come back as *BusinessError.
func (c *Client) Execute(ctx context.Context, method string, bizContent map[string]any, out any) error {
	biz, err := json.Marshal(bizContent)
	if err != nil {
		return fmt.Errorf("encoding biz_content: %w", err)
	}

	params := url.Values{}
	params.Set("app_id", c.appID)
	params.Set("method", method)
	params.Set("format", "JSON")
	params.Set("charset", "utf-8")
	params.Set("sign_type", "RSA2")
	params.Set("timestamp", time.Now().Format("2006-01-02 15:04:05"))
	params.Set("version", "1.0")
	params.Set("biz_content", string(biz))

	sign, err := c.sign(signContent(params))
	if err != nil {
		return err
	}
	params.Set("sign", sign)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.gatewayURL, strings.NewReader(params.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("alipay gateway returned %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	return c.decodeResponse(method, data, out)
}

func (c *Client) decodeResponse(method string, data []byte, out any) error {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("decoding response envelope: %w", err)
	}

	key := strings.ReplaceAll(method, ".", "_") + "_response"
	raw, ok := envelope[key]
	if !ok {
		if errRaw, exists := envelope["error_response"]; exists {
			raw = errRaw
		} else {
			return fmt.Errorf("response missing %s", key)
		}
	}

	var status struct {
		Code    string `json:"code"`
		SubCode string `json:"sub_code"`
		SubMsg  string `json:"sub_msg"`
		Msg     string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &status); err != nil {
		return fmt.Errorf("decoding response status: %w", err)
	}
	if status.Code != "10000" {
		msg := status.SubMsg
		if msg == "" {
			msg = status.Msg
		}
		return &BusinessError{Code: status.Code, SubCode: status.SubCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// VerifyNotification checks the RSA2 signature of an async notification's
// form parameters against the platform public key.
func (c *Client) VerifyNotification(values url.Values) error {
	sign := values.Get("sign")
	if sign == "" {
		return errors.New("notification is unsigned")
	}

	filtered := url.Values{}
	for k, v := range values {
		if k == "sign" || k == "sign_type" {
			continue
		}
		filtered[k] = v
	}

	return c.verify(signContent(filtered), sign)
}

// signContent joins sorted non-empty params as k=v pairs with &, the content
// both sides sign.
func signContent(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if values.Get(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+values.Get(k))
	}
	return strings.Join(pairs, "&")
}

func (c *Client) sign(content string) (string, error) {
	digest := sha256.Sum256([]byte(content))
	signature, err := rsa.SignPKCS1v15(rand.Reader, c.privateKey, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("signing request: %w", err)
	}
	return base64.StdEncoding.EncodeToString(signature), nil
}

func (c *Client) verify(content string, sign string) error {
	signature, err := base64.StdEncoding.DecodeString(sign)
	if err != nil {
		return fmt.Errorf("decoding signature: %w", err)
	}
	digest := sha256.Sum256([]byte(content))
	if err := rsa.VerifyPKCS1v15(c.alipayPublicKey, crypto.SHA256, digest[:], signature); err != nil {
		return fmt.Errorf("signature mismatch: %w", err)
	}
	return nil
}

// SignForTesting signs arbitrary notification params with the client's own
// key so stub-key tests can produce verifiable notifications.
func (c *Client) SignForTesting(values url.Values) (string, error) {
	return c.sign(signContent(values))
}

func parsePrivateKey(pemData string) (*rsa.PrivateKey, error) {
	if strings.TrimSpace(pemData) == "" {
		return nil, errPrivateKeyRequired
	}
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("invalid alipay private key pem")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if priv, ok := key.(*rsa.PrivateKey); ok {
			return priv, nil
		}
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.New("unsupported alipay private key format")
	}
	return priv, nil
}

func parsePublicKey(pemData string) (*rsa.PublicKey, error) {
	if strings.TrimSpace(pemData) == "" {
		return nil, errPublicKeyRequired
	}
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("invalid alipay public key pem")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing alipay public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("alipay public key is not rsa")
	}
	return rsaPub, nil
}
