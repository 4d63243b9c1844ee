package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxPricePrecision = 8
	MinPrice          = 0.00000001
	MaxPrice          = 1000000000.0

	MinQuantity int64 = 1
	MaxQuantity int64 = 1000000000

	MaxShareholderIDLength = 64
	MaxSymbolLength        = 20
	MaxOrderIDLength       = 64

	MaxRequestBodySize = 1024 * 1024

	ShareholderIDPattern = `^[a-zA-Z0-9_-]+$`
	SymbolPattern        = `^[A-Z0-9]+$`
)

var (
	shareholderIDRegex = regexp.MustCompile(ShareholderIDPattern)
	symbolRegex        = regexp.MustCompile(SymbolPattern)

	ErrInvalidPrice           = errors.New("invalid price")
	ErrPricePrecisionExceeded = errors.New("price precision exceeds 8 decimals")
	ErrPriceOutOfRange        = errors.New("price out of valid range")
	ErrInvalidQuantity        = errors.New("invalid quantity")
	ErrQuantityOutOfRange     = errors.New("quantity out of valid range")
	ErrInvalidShareholderID   = errors.New("invalid shareholder_id format or length")
	ErrInvalidSymbol          = errors.New("invalid symbol format or length")
	ErrInvalidSide            = errors.New("invalid order side")
	ErrInvalidOrderType       = errors.New("invalid order type")
	ErrInvalidStopPrice       = errors.New("invalid stop price")
	ErrRequestBodyTooLarge    = errors.New("request body too large")
	ErrMalformedJSON          = errors.New("malformed JSON")
	ErrInvalidContentType     = errors.New("invalid content type, expected application/json")
)

type ValidationConfig struct {
	MaxPricePrecision      int
	MinPrice               float64
	MaxPrice               float64
	MinQuantity            int64
	MaxQuantity            int64
	MaxShareholderIDLength int
	MaxSymbolLength        int
	MaxRequestBodySize     int64
}

func DefaultValidationConfig() *ValidationConfig {
	return &ValidationConfig{
		MaxPricePrecision:      MaxPricePrecision,
		MinPrice:               MinPrice,
		MaxPrice:               MaxPrice,
		MinQuantity:            MinQuantity,
		MaxQuantity:            MaxQuantity,
		MaxShareholderIDLength: MaxShareholderIDLength,
		MaxSymbolLength:        MaxSymbolLength,
		MaxRequestBodySize:     MaxRequestBodySize,
	}
}

type InputValidator struct {
	config *ValidationConfig
}

func NewInputValidator(config *ValidationConfig) *InputValidator {
	if config == nil {
		config = DefaultValidationConfig()
	}
	return &InputValidator{config: config}
}

// NewDefaultInputValidator creates a validator with default configuration
func NewDefaultInputValidator() *InputValidator {
	return NewInputValidator(DefaultValidationConfig())
}

// ValidatePrice validates price with precision and range checks
func (iv *InputValidator) ValidatePrice(price float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return fmt.Errorf("%w: not a valid number", ErrInvalidPrice)
	}

	if price < iv.config.MinPrice {
		return fmt.Errorf("%w: price %.10f is below minimum %.10f",
			ErrPriceOutOfRange, price, iv.config.MinPrice)
	}
	if price > iv.config.MaxPrice {
		return fmt.Errorf("%w: price %.2f exceeds maximum %.2f",
			ErrPriceOutOfRange, price, iv.config.MaxPrice)
	}

	if err := iv.checkPrecision(price, iv.config.MaxPricePrecision); err != nil {
		return fmt.Errorf("%w: %v", ErrPricePrecisionExceeded, err)
	}

	return nil
}

// ValidateQuantity validates quantity as a whole number of shares
func (iv *InputValidator) ValidateQuantity(quantity int64) error {
	if quantity < iv.config.MinQuantity {
		return fmt.Errorf("%w: quantity %d is below minimum %d",
			ErrQuantityOutOfRange, quantity, iv.config.MinQuantity)
	}
	if quantity > iv.config.MaxQuantity {
		return fmt.Errorf("%w: quantity %d exceeds maximum %d",
			ErrQuantityOutOfRange, quantity, iv.config.MaxQuantity)
	}

	return nil
}

// ValidateShareholderID validates shareholder ID format and length
func (iv *InputValidator) ValidateShareholderID(shareholderID string) error {
	if shareholderID == "" {
		return fmt.Errorf("%w: shareholder_id cannot be empty", ErrInvalidShareholderID)
	}

	if len(shareholderID) > iv.config.MaxShareholderIDLength {
		return fmt.Errorf("%w: shareholder_id length %d exceeds maximum %d",
			ErrInvalidShareholderID, len(shareholderID), iv.config.MaxShareholderIDLength)
	}

	if !utf8.ValidString(shareholderID) {
		return fmt.Errorf("%w: shareholder_id contains invalid UTF-8", ErrInvalidShareholderID)
	}

	if !shareholderIDRegex.MatchString(shareholderID) {
		return fmt.Errorf("%w: shareholder_id must contain only alphanumeric characters, underscores, and hyphens",
			ErrInvalidShareholderID)
	}

	return nil
}

// ValidateSymbol validates ticker symbol format and length
func (iv *InputValidator) ValidateSymbol(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("%w: symbol cannot be empty", ErrInvalidSymbol)
	}

	if len(symbol) > iv.config.MaxSymbolLength {
		return fmt.Errorf("%w: symbol length %d exceeds maximum %d",
			ErrInvalidSymbol, len(symbol), iv.config.MaxSymbolLength)
	}

	if !symbolRegex.MatchString(symbol) {
		return fmt.Errorf("%w: symbol must contain only uppercase letters and numbers",
			ErrInvalidSymbol)
	}

	return nil
}

// ValidateSide validates order side (buy/sell)
func (iv *InputValidator) ValidateSide(side string) error {
	side = strings.ToLower(strings.TrimSpace(side))

	if side != "buy" && side != "sell" {
		return fmt.Errorf("%w: side must be 'buy' or 'sell', got '%s'", ErrInvalidSide, side)
	}

	return nil
}

// ValidateOrderType validates the order type
func (iv *InputValidator) ValidateOrderType(orderType string) error {
	switch strings.ToLower(strings.TrimSpace(orderType)) {
	case "limit", "market", "stop":
		return nil
	}
	return fmt.Errorf("%w: type must be 'limit', 'market' or 'stop', got '%s'", ErrInvalidOrderType, orderType)
}

// ValidateRequestBody validates and reads request body with size limit
func (iv *InputValidator) ValidateRequestBody(r *http.Request, maxSize int64) ([]byte, error) {
	contentType := r.Header.Get("Content-Type")
	if contentType != "" && !strings.Contains(contentType, "application/json") {
		return nil, ErrInvalidContentType
	}

	if maxSize <= 0 {
		maxSize = iv.config.MaxRequestBodySize
	}

	// Limit reader to max size + 1 (to detect oversized requests)
	limitedReader := io.LimitReader(r.Body, maxSize+1)

	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}

	if int64(len(body)) > maxSize {
		return nil, fmt.Errorf("%w: body size %d exceeds maximum %d bytes",
			ErrRequestBodyTooLarge, len(body), maxSize)
	}

	return body, nil
}

// ValidateAndDecodeJSON validates and decodes JSON with strict checks
func (iv *InputValidator) ValidateAndDecodeJSON(body []byte, v interface{}) error {
	if len(body) == 0 {
		return fmt.Errorf("%w: empty request body", ErrMalformedJSON)
	}

	decoder := json.NewDecoder(strings.NewReader(string(body)))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}

	if decoder.More() {
		return fmt.Errorf("%w: trailing data after JSON", ErrMalformedJSON)
	}

	return nil
}

// checkPrecision checks if a number has more than maxDecimals decimal places
func (iv *InputValidator) checkPrecision(value float64, maxDecimals int) error {
	multiplier := math.Pow(10, float64(maxDecimals))
	shifted := value * multiplier

	truncated := math.Trunc(shifted)
	difference := math.Abs(shifted - truncated)

	// Allow small floating point errors (epsilon)
	epsilon := 1e-9
	if difference > epsilon {
		return fmt.Errorf("value %.15f has more than %d decimal places", value, maxDecimals)
	}

	return nil
}

// OrderRequest is an order submission as received over the API
type OrderRequest struct {
	ShareholderID string  `json:"shareholder_id"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Type          string  `json:"type"`
	Price         float64 `json:"price,omitempty"`
	StopPrice     float64 `json:"stop_price,omitempty"`
	Quantity      int64   `json:"quantity"`
}

// ValidateOrderRequest performs comprehensive validation on an order request.
// Which price fields are required depends on the order type: a limit order
// needs a price, a market order must not carry one, and a stop order needs a
// trigger price plus an optional limit price.
func (iv *InputValidator) ValidateOrderRequest(req *OrderRequest) error {
	var errs []error

	if err := iv.ValidateShareholderID(req.ShareholderID); err != nil {
		errs = append(errs, err)
	}

	if err := iv.ValidateSymbol(req.Symbol); err != nil {
		errs = append(errs, err)
	}

	if err := iv.ValidateSide(req.Side); err != nil {
		errs = append(errs, err)
	}

	if err := iv.ValidateOrderType(req.Type); err != nil {
		errs = append(errs, err)
	}

	if err := iv.ValidateQuantity(req.Quantity); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(strings.TrimSpace(req.Type)) {
	case "limit":
		if err := iv.ValidatePrice(req.Price); err != nil {
			errs = append(errs, err)
		}
	case "market":
		if req.Price != 0 {
			errs = append(errs, fmt.Errorf("%w: market orders must not carry a price", ErrInvalidPrice))
		}
	case "stop":
		if err := iv.ValidatePrice(req.StopPrice); err != nil {
			errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidStopPrice, err))
		}
		if req.Price != 0 {
			// Stop-limit: the resting price must itself be valid
			if err := iv.ValidatePrice(req.Price); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed: %v", errs)
	}

	return nil
}

// CompanyRequest is a company listing as received over the API
type CompanyRequest struct {
	Symbol            string  `json:"symbol"`
	Name              string  `json:"name"`
	Sector            string  `json:"sector"`
	StockPrice        float64 `json:"stock_price"`
	OutstandingShares int64   `json:"outstanding_shares"`
	FounderID         string  `json:"founder_id"`
}

// ValidateCompanyRequest validates a company listing request
func (iv *InputValidator) ValidateCompanyRequest(req *CompanyRequest) error {
	var errs []error

	if err := iv.ValidateSymbol(req.Symbol); err != nil {
		errs = append(errs, err)
	}

	if strings.TrimSpace(req.Name) == "" {
		errs = append(errs, errors.New("company name cannot be empty"))
	}

	if err := iv.ValidatePrice(req.StockPrice); err != nil {
		errs = append(errs, err)
	}

	if err := iv.ValidateQuantity(req.OutstandingShares); err != nil {
		errs = append(errs, fmt.Errorf("outstanding_shares: %w", err))
	}

	if err := iv.ValidateShareholderID(req.FounderID); err != nil {
		errs = append(errs, fmt.Errorf("founder_id: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed: %v", errs)
	}

	return nil
}

// ShareholderRequest is an account opening as received over the API
type ShareholderRequest struct {
	ShareholderID string  `json:"shareholder_id"`
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	Cash          float64 `json:"cash"`
}

// ValidateShareholderRequest validates an account opening request
func (iv *InputValidator) ValidateShareholderRequest(req *ShareholderRequest) error {
	var errs []error

	if err := iv.ValidateShareholderID(req.ShareholderID); err != nil {
		errs = append(errs, err)
	}

	if strings.TrimSpace(req.Name) == "" {
		errs = append(errs, errors.New("shareholder name cannot be empty"))
	}

	if math.IsNaN(req.Cash) || math.IsInf(req.Cash, 0) || req.Cash < 0 {
		errs = append(errs, errors.New("cash must be a non-negative number"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed: %v", errs)
	}

	return nil
}

// SanitizeString removes control characters and limits length
func SanitizeString(s string, maxLen int) string {
	var result strings.Builder
	for _, r := range s {
		if r >= 32 || r == '\n' || r == '\t' {
			result.WriteRune(r)
		}
	}

	str := result.String()
	if len(str) > maxLen {
		str = str[:maxLen]
	}

	return str
}
