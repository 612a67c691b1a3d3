package services

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutAddressRequired indicates shipping or submission was requested without an address.
	ErrCheckoutAddressRequired = errors.New("checkout: address required")
	// ErrCheckoutNothingSelected indicates no cart line was selected for the order.
	ErrCheckoutNothingSelected = errors.New("checkout: no lines selected")
	// ErrCarrierServiceNotOffered indicates the carrier does not serve the route; treated as a zero fee.
	ErrCarrierServiceNotOffered = errors.New("carrier: service not offered")
	// ErrMarketplaceNotFound indicates the marketplace returned 404 for a lookup.
	ErrMarketplaceNotFound = errors.New("marketplace: not found")
)

// BackendError is a non-2xx response from the marketplace order API.
type BackendError struct {
	Status  int
	Code    string
	Message string
}

func (e *BackendError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Code != "" {
		return fmt.Sprintf("marketplace: status %d: %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("marketplace: status %d: %s", e.Status, e.Message)
}

// SubmissionCategory groups order submission failures by what the customer should do next.
type SubmissionCategory string

const (
	SubmissionBadRequest     SubmissionCategory = "bad_request"
	SubmissionStaleStock     SubmissionCategory = "stale_stock"
	SubmissionQuotaExceeded  SubmissionCategory = "quota_exceeded"
	SubmissionInvalidVoucher SubmissionCategory = "invalid_voucher"
	SubmissionAuthExpired    SubmissionCategory = "auth_expired"
	SubmissionServerError    SubmissionCategory = "server_error"
	SubmissionUnknown        SubmissionCategory = "unknown"
)

// SubmissionError reports a failed order submission. Submissions are never retried automatically.
type SubmissionError struct {
	Category    SubmissionCategory
	Status      int
	Message     string
	UserMessage string
	Err         error
}

func (e *SubmissionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Message != "" {
		return fmt.Sprintf("checkout: submission %s: %s", e.Category, e.Message)
	}
	return fmt.Sprintf("checkout: submission %s", e.Category)
}

func (e *SubmissionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

var submissionUserMessages = map[SubmissionCategory]string{
	SubmissionBadRequest:     "Some order details are invalid. Please review your cart and try again.",
	SubmissionStaleStock:     "Some items are no longer available in the requested quantity.",
	SubmissionQuotaExceeded:  "A campaign price is no longer available for some items.",
	SubmissionInvalidVoucher: "One of the selected vouchers can no longer be applied.",
	SubmissionAuthExpired:    "Your session has expired. Please sign in again.",
	SubmissionServerError:    "The order service is temporarily unavailable. Please try again later.",
	SubmissionUnknown:        "The order could not be placed.",
}

// categorizeSubmissionError maps a backend failure to a SubmissionError.
func categorizeSubmissionError(err error) *SubmissionError {
	var subErr *SubmissionError
	if errors.As(err, &subErr) {
		return subErr
	}

	category := SubmissionUnknown
	status := 0
	message := err.Error()

	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		status = backendErr.Status
		message = backendErr.Message
		category = categoryFromBackend(backendErr)
	}

	return &SubmissionError{
		Category:    category,
		Status:      status,
		Message:     message,
		UserMessage: submissionUserMessages[category],
		Err:         err,
	}
}

func categoryFromBackend(err *BackendError) SubmissionCategory {
	code := strings.ToLower(err.Code + " " + err.Message)
	switch {
	case err.Status == http.StatusUnauthorized || err.Status == http.StatusForbidden:
		return SubmissionAuthExpired
	case strings.Contains(code, "quota"):
		return SubmissionQuotaExceeded
	case strings.Contains(code, "stock") || strings.Contains(code, "inventory"):
		return SubmissionStaleStock
	case strings.Contains(code, "voucher") || strings.Contains(code, "coupon"):
		return SubmissionInvalidVoucher
	case err.Status == http.StatusConflict:
		return SubmissionStaleStock
	case err.Status >= 500:
		return SubmissionServerError
	case err.Status >= 400:
		return SubmissionBadRequest
	default:
		return SubmissionUnknown
	}
}
