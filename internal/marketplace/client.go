package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/marketcart/checkout-api/internal/services"
)

const (
	defaultTimeout    = 10 * time.Second
	apiKeyHeader      = "X-Api-Key"
	idempotencyHeader = "Idempotency-Key"
	maxErrorBody      = 2048
)

// Config configures the marketplace API client.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the marketplace API for voucher catalogs, store addresses and the order service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

var (
	_ services.VoucherCatalog     = (*Client)(nil)
	_ services.StoreAddressLookup = (*Client)(nil)
	_ services.CheckoutBackend    = (*Client)(nil)
)

// NewClient constructs a marketplace client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("marketplace: base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("marketplace: invalid base url: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		http:    httpClient,
	}, nil
}

// VouchersForProduct returns the store and platform vouchers attached to a product. Unknown
// products yield an empty result.
func (c *Client) VouchersForProduct(ctx context.Context, productRef string) (services.ProductVouchers, error) {
	productRef = strings.TrimSpace(productRef)
	if productRef == "" {
		return services.ProductVouchers{}, fmt.Errorf("%w: product id is required", services.ErrCheckoutInvalidInput)
	}
	endpoint, err := url.JoinPath(c.baseURL, "products", productRef, "vouchers")
	if err != nil {
		return services.ProductVouchers{}, err
	}

	var payload productVouchersPayload
	if err := c.do(ctx, http.MethodGet, endpoint, nil, nil, &payload); err != nil {
		if errors.Is(err, services.ErrMarketplaceNotFound) {
			return services.ProductVouchers{}, nil
		}
		return services.ProductVouchers{}, err
	}
	return payload.toDomain(), nil
}

// StoreVouchers lists the active store-wide vouchers of a store. A store without vouchers may
// answer 404, which is reported as an empty list.
func (c *Client) StoreVouchers(ctx context.Context, storeID string) ([]services.Voucher, error) {
	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		return nil, fmt.Errorf("%w: store id is required", services.ErrCheckoutInvalidInput)
	}
	endpoint, err := url.JoinPath(c.baseURL, "stores", storeID, "vouchers")
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	query.Set("status", "ACTIVE")
	query.Set("scope", "STORE_WIDE")
	endpoint += "?" + query.Encode()

	var payload storeVouchersPayload
	if err := c.do(ctx, http.MethodGet, endpoint, nil, nil, &payload); err != nil {
		if errors.Is(err, services.ErrMarketplaceNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return payload.toDomain(storeID), nil
}

// DefaultOrigin returns the pickup district and ward of the store selling productRef.
func (c *Client) DefaultOrigin(ctx context.Context, productRef string) (services.Origin, error) {
	productRef = strings.TrimSpace(productRef)
	if productRef == "" {
		return services.Origin{}, fmt.Errorf("%w: product id is required", services.ErrCheckoutInvalidInput)
	}
	endpoint, err := url.JoinPath(c.baseURL, "products", productRef, "store-address")
	if err != nil {
		return services.Origin{}, err
	}

	var payload storeAddressPayload
	if err := c.do(ctx, http.MethodGet, endpoint, nil, nil, &payload); err != nil {
		return services.Origin{}, err
	}
	origin := payload.toDomain()
	if !origin.Valid() {
		return services.Origin{}, fmt.Errorf("%w: store address for %s has no district or ward", services.ErrMarketplaceNotFound, productRef)
	}
	return origin, nil
}

// PreviewCheckout asks the order service to price the payload without placing orders.
func (c *Client) PreviewCheckout(ctx context.Context, payload services.OrderPayload) (services.CheckoutPreview, error) {
	endpoint, err := url.JoinPath(c.baseURL, "checkout", "preview")
	if err != nil {
		return services.CheckoutPreview{}, err
	}
	var resp previewPayload
	if err := c.do(ctx, http.MethodPost, endpoint, payload, nil, &resp); err != nil {
		return services.CheckoutPreview{}, err
	}
	return resp.toDomain(), nil
}

// SubmitOrder places one order per store. The idempotency key is forwarded so a replayed request
// does not create duplicate orders.
func (c *Client) SubmitOrder(ctx context.Context, payload services.OrderPayload, idempotencyKey string) (services.SubmissionResult, error) {
	endpoint, err := url.JoinPath(c.baseURL, "checkout", "orders")
	if err != nil {
		return services.SubmissionResult{}, err
	}
	headers := map[string]string{}
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		headers[idempotencyHeader] = key
	}
	var resp submissionPayload
	if err := c.do(ctx, http.MethodPost, endpoint, payload, headers, &resp); err != nil {
		return services.SubmissionResult{}, err
	}
	result := resp.toDomain()
	if result.RequestID == "" {
		result.RequestID = strings.TrimSpace(idempotencyKey)
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, headers map[string]string, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		backendErr := decodeBackendError(resp)
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %w", services.ErrMarketplaceNotFound, backendErr)
		}
		return backendErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("marketplace: decode %s response: %w", endpoint, err)
	}
	return nil
}

func decodeBackendError(resp *http.Response) *services.BackendError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	out := &services.BackendError{Status: resp.StatusCode}

	var envelope errorPayload
	if err := json.Unmarshal(raw, &envelope); err == nil {
		code, message := envelope.fields()
		out.Code = code
		out.Message = message
	}
	if out.Message == "" {
		out.Message = strings.TrimSpace(string(raw))
	}
	if out.Message == "" {
		out.Message = http.StatusText(resp.StatusCode)
	}
	return out
}
