package carrier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketcart/checkout-api/internal/services"
)

func sampleRequest() services.CarrierFeeRequest {
	return services.CarrierFeeRequest{
		ServiceTypeID: 2,
		From:          services.Origin{DistrictCode: 1454, WardCode: "21211"},
		To:            services.Origin{DistrictCode: 1442, WardCode: "20109"},
		WeightGrams:   1000,
		Items: []services.CarrierItem{
			{Name: "prod-a", Quantity: 2, WeightGrams: 500, LengthCm: 20, WidthCm: 20, HeightCm: 10},
		},
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(Config{BaseURL: srv.URL + "/v2/", Token: "secret-token", ShopID: "885"})
	require.NoError(t, err)
	return client
}

func TestClientQuoteFee(t *testing.T) {
	var captured feeRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/shipping-order/fee", r.URL.Path)
		assert.Equal(t, "secret-token", r.Header.Get("Token"))
		assert.Equal(t, "885", r.Header.Get("ShopId"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":200,"message":"Success","data":{"total":36300,"service_fee":33000}}`))
	})

	fee, err := client.QuoteFee(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, int64(36300), fee)

	assert.Equal(t, 2, captured.ServiceTypeID)
	assert.Equal(t, 1454, captured.FromDistrictID)
	assert.Equal(t, "21211", captured.FromWardCode)
	assert.Equal(t, 1442, captured.ToDistrictID)
	assert.Equal(t, "20109", captured.ToWardCode)
	assert.Equal(t, int64(1000), captured.Weight)
	require.Len(t, captured.Items, 1)
	assert.Equal(t, feeItem{Name: "prod-a", Quantity: 2, Weight: 500, Length: 20, Width: 20, Height: 10}, captured.Items[0])
}

func TestClientQuoteFeeFallsBackToServiceFee(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":200,"data":{"service_fee":22000}}`))
	})

	fee, err := client.QuoteFee(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, int64(22000), fee)
}

func TestClientQuoteFeeNotOffered(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"http 404": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "route not found", http.StatusNotFound)
		},
		"http 400 with message": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"code":400,"message":"Service not offered for this route"}`, http.StatusBadRequest)
		},
		"body code": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"code":400,"message":"service not offered"}`))
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, handler)
			_, err := client.QuoteFee(context.Background(), sampleRequest())
			require.ErrorIs(t, err, services.ErrCarrierServiceNotOffered)
		})
	}
}

func TestClientQuoteFeeFailures(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
		},
		"body error code": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"code":401,"message":"invalid token"}`))
		},
		"missing data": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"code":200}`))
		},
		"missing code": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"data":{"total":36300}}`))
		},
		"malformed": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not-json`))
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, handler)
			_, err := client.QuoteFee(context.Background(), sampleRequest())
			require.Error(t, err)
			assert.NotErrorIs(t, err, services.ErrCarrierServiceNotOffered)
		})
	}
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{Token: "x"})
	require.Error(t, err)

	_, err = NewClient(Config{BaseURL: "https://carrier.test"})
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestClientQuoteFeeOpensCircuitAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	var transitions []gobreaker.State
	client, err := NewClient(Config{
		BaseURL:         srv.URL,
		Token:           "secret-token",
		BreakerFailures: 2,
		BreakerCooldown: time.Hour,
		OnBreakerChange: func(_, to gobreaker.State) { transitions = append(transitions, to) },
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := client.QuoteFee(context.Background(), sampleRequest())
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}
	_, err = client.QuoteFee(context.Background(), sampleRequest())
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []gobreaker.State{gobreaker.StateOpen}, transitions)
}

func TestClientQuoteFeeNotOfferedDoesNotTripCircuit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{BaseURL: srv.URL, Token: "secret-token", BreakerFailures: 1})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := client.QuoteFee(context.Background(), sampleRequest())
		require.ErrorIs(t, err, services.ErrCarrierServiceNotOffered)
	}
	assert.Equal(t, int32(3), calls.Load())
}
