package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/vidorahq/vidora-billing/pkg/config"
	"github.com/vidorahq/vidora-billing/pkg/logger"
)

const pingTimeout = 5 * time.Second

// Client wraps Cloud Storage access for generated invoice documents.
type Client struct {
	client        *storage.Client
	invoiceBucket string
	urlExpiry     time.Duration
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// NewClient creates a storage client bound to the invoice bucket.
func NewClient(ctx context.Context, cfg config.GCSConfig, gcp config.GCPConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.InvoiceBucket) == "" {
		return nil, errors.New("gcs invoice bucket is required")
	}

	var opts []option.ClientOption
	if gcp.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(gcp.CredentialsJSON)))
	}

	sc, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}

	client := &Client{
		client:        sc,
		invoiceBucket: cfg.InvoiceBucket,
		urlExpiry:     cfg.DownloadURLExpiry,
	}

	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("gcs health check failed: %w", err)
	}

	if logg != nil {
		logg.Info(ctx, "gcs client initialized")
	}
	return client, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("gcs client not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	_, err := c.client.Bucket(c.invoiceBucket).Attrs(ctx)
	if err != nil {
		return fmt.Errorf("bucket check failed: %w", err)
	}
	return nil
}

// UploadInvoice writes a rendered invoice document and returns its object
// path. Objects are keyed by invoice number so re-renders overwrite in place.
func (c *Client) UploadInvoice(ctx context.Context, invoiceNumber string, contentType string, body io.Reader) (string, error) {
	if c == nil || c.client == nil {
		return "", errors.New("gcs client not initialized")
	}
	if strings.TrimSpace(invoiceNumber) == "" {
		return "", errors.New("invoice number is required")
	}

	object := InvoiceObjectPath(invoiceNumber)
	w := c.client.Bucket(c.invoiceBucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("writing invoice object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalizing invoice object: %w", err)
	}
	return object, nil
}

// SignedDownloadURL returns a time-limited URL for a stored invoice document.
func (c *Client) SignedDownloadURL(object string) (string, error) {
	if c == nil || c.client == nil {
		return "", errors.New("gcs client not initialized")
	}
	expiry := c.urlExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	url, err := c.client.Bucket(c.invoiceBucket).SignedURL(object, &storage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(expiry),
		Scheme:  storage.SigningSchemeV4,
	})
	if err != nil {
		return "", fmt.Errorf("signing download url: %w", err)
	}
	return url, nil
}

// InvoiceObjectPath maps an invoice number to its bucket key, e.g.
// invoices/2026/INV-2026-000042.txt.
func InvoiceObjectPath(invoiceNumber string) string {
	year := "unknown"
	parts := strings.Split(invoiceNumber, "-")
	if len(parts) == 3 {
		year = parts[1]
	}
	return path.Join("invoices", year, invoiceNumber+".txt")
}
