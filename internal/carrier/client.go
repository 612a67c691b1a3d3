package carrier

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

	"github.com/sony/gobreaker/v2"

	"github.com/marketcart/checkout-api/internal/services"
)

const (
	defaultTimeout = 8 * time.Second
	tokenHeader    = "Token"
	shopIDHeader   = "ShopId"
	maxErrorBody   = 512

	defaultBreakerFailures = 5
	defaultBreakerCooldown = 30 * time.Second
)

var (
	// ErrMissingToken is returned when the carrier client is built without an API token.
	ErrMissingToken = errors.New("carrier: api token is required")
	// ErrCircuitOpen is returned without contacting the carrier while the breaker is open.
	ErrCircuitOpen = errors.New("carrier: circuit open")
)

// Config configures the carrier fee client.
type Config struct {
	BaseURL    string
	Token      string
	ShopID     string
	Timeout    time.Duration
	HTTPClient *http.Client
	// BreakerFailures is the number of consecutive carrier failures that opens the circuit.
	BreakerFailures uint32
	// BreakerCooldown is how long the circuit stays open before a probe request is let through.
	BreakerCooldown time.Duration
	// OnBreakerChange observes circuit transitions.
	OnBreakerChange func(from, to gobreaker.State)
}

// Client quotes delivery fees against the carrier's fee endpoint.
type Client struct {
	baseURL string
	token   string
	shopID  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[int64]
}

// NewClient validates the configuration and constructs a carrier client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("carrier: base url is required")
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, ErrMissingToken
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
		token:   token,
		shopID:  strings.TrimSpace(cfg.ShopID),
		http:    httpClient,
		breaker: newBreaker(cfg),
	}, nil
}

func newBreaker(cfg Config) *gobreaker.CircuitBreaker[int64] {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = defaultBreakerFailures
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = defaultBreakerCooldown
	}
	settings := gobreaker.Settings{
		Name:        "carrier-fee",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Unserved routes and caller cancellations say nothing about carrier health.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, services.ErrCarrierServiceNotOffered) ||
				errors.Is(err, context.Canceled)
		},
	}
	if cfg.OnBreakerChange != nil {
		notify := cfg.OnBreakerChange
		settings.OnStateChange = func(_ string, from, to gobreaker.State) {
			notify(from, to)
		}
	}
	return gobreaker.NewCircuitBreaker[int64](settings)
}

// QuoteFee returns the total delivery fee for a single parcel. Routes the carrier does not serve
// yield services.ErrCarrierServiceNotOffered. After repeated carrier failures calls fail fast with
// ErrCircuitOpen until the cooldown elapses.
func (c *Client) QuoteFee(ctx context.Context, req services.CarrierFeeRequest) (int64, error) {
	fee, err := c.breaker.Execute(func() (int64, error) {
		return c.quoteFee(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return 0, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return fee, err
}

func (c *Client) quoteFee(ctx context.Context, req services.CarrierFeeRequest) (int64, error) {
	endpoint, err := url.JoinPath(c.baseURL, "shipping-order", "fee")
	if err != nil {
		return 0, err
	}
	body, err := json.Marshal(newFeeRequest(req))
	if err != nil {
		return 0, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(tokenHeader, c.token)
	if c.shopID != "" {
		httpReq.Header.Set(shopIDHeader, c.shopID)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, fmt.Errorf("%w: %s", services.ErrCarrierServiceNotOffered, drainError(resp.Body))
	}
	if resp.StatusCode >= 400 {
		msg := drainError(resp.Body)
		if notOffered(msg) {
			return 0, fmt.Errorf("%w: %s", services.ErrCarrierServiceNotOffered, msg)
		}
		return 0, fmt.Errorf("carrier: fee status %d: %s", resp.StatusCode, msg)
	}

	var payload feeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("carrier: decode fee response: %w", err)
	}
	if payload.Code != http.StatusOK {
		if notOffered(payload.Message) {
			return 0, fmt.Errorf("%w: %s", services.ErrCarrierServiceNotOffered, payload.Message)
		}
		return 0, fmt.Errorf("carrier: fee code %d: %s", payload.Code, strings.TrimSpace(payload.Message))
	}
	if payload.Data == nil {
		return 0, errors.New("carrier: fee response missing data")
	}
	if payload.Data.Total > 0 {
		return payload.Data.Total, nil
	}
	return payload.Data.ServiceFee, nil
}

func notOffered(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "not offered") ||
		strings.Contains(msg, "route not found") ||
		strings.Contains(msg, "service not found")
}

func drainError(r io.Reader) string {
	if r == nil {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(b))
}

type feeRequest struct {
	ServiceTypeID  int       `json:"service_type_id"`
	FromDistrictID int       `json:"from_district_id"`
	FromWardCode   string    `json:"from_ward_code"`
	ToDistrictID   int       `json:"to_district_id"`
	ToWardCode     string    `json:"to_ward_code"`
	Weight         int64     `json:"weight"`
	Items          []feeItem `json:"items,omitempty"`
}

type feeItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Weight   int64  `json:"weight"`
	Length   int    `json:"length"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

type feeResponse struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Data    *feeData `json:"data"`
}

type feeData struct {
	Total      int64 `json:"total"`
	ServiceFee int64 `json:"service_fee"`
}

func newFeeRequest(req services.CarrierFeeRequest) feeRequest {
	out := feeRequest{
		ServiceTypeID:  req.ServiceTypeID,
		FromDistrictID: req.From.DistrictCode,
		FromWardCode:   req.From.WardCode,
		ToDistrictID:   req.To.DistrictCode,
		ToWardCode:     req.To.WardCode,
		Weight:         req.WeightGrams,
	}
	for _, item := range req.Items {
		out.Items = append(out.Items, feeItem{
			Name:     item.Name,
			Quantity: item.Quantity,
			Weight:   item.WeightGrams,
			Length:   item.LengthCm,
			Width:    item.WidthCm,
			Height:   item.HeightCm,
		})
	}
	return out
}
