package validation

import (
	"math"
	"strings"
	"testing"
)

func TestValidatePrice(t *testing.T) {
	iv := NewDefaultInputValidator()

	tests := []struct {
		name    string
		price   float64
		wantErr bool
	}{
		{"valid price", 150.25, false},
		{"minimum price", MinPrice, false},
		{"maximum price", MaxPrice, false},
		{"zero", 0, true},
		{"negative", -1, true},
		{"above maximum", MaxPrice + 1, true},
		{"NaN", math.NaN(), true},
		{"positive infinity", math.Inf(1), true},
		{"negative infinity", math.Inf(-1), true},
		{"eight decimals", 0.12345678, false},
		{"nine decimals", 0.123456789, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := iv.ValidatePrice(tt.price)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePrice(%v) error = %v, wantErr %v", tt.price, err, tt.wantErr)
			}
		})
	}
}

func TestValidateQuantity(t *testing.T) {
	iv := NewDefaultInputValidator()

	tests := []struct {
		name     string
		quantity int64
		wantErr  bool
	}{
		{"valid", 100, false},
		{"minimum", MinQuantity, false},
		{"maximum", MaxQuantity, false},
		{"zero", 0, true},
		{"negative", -5, true},
		{"above maximum", MaxQuantity + 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := iv.ValidateQuantity(tt.quantity)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateQuantity(%d) error = %v, wantErr %v", tt.quantity, err, tt.wantErr)
			}
		})
	}
}

func TestValidateShareholderID(t *testing.T) {
	iv := NewDefaultInputValidator()

	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"simple", "alice", false},
		{"with underscore and hyphen", "fund_a-123", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", MaxShareholderIDLength+1), true},
		{"spaces", "alice smith", true},
		{"sql injection attempt", "alice'; DROP TABLE--", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := iv.ValidateShareholderID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateShareholderID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestValidateSymbol(t *testing.T) {
	iv := NewDefaultInputValidator()

	tests := []struct {
		name    string
		symbol  string
		wantErr bool
	}{
		{"uppercase ticker", "ACME", false},
		{"alphanumeric", "BRK2", false},
		{"empty", "", true},
		{"lowercase", "acme", true},
		{"punctuation", "BRK.A", true},
		{"too long", strings.Repeat("A", MaxSymbolLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := iv.ValidateSymbol(tt.symbol)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSymbol(%q) error = %v, wantErr %v", tt.symbol, err, tt.wantErr)
			}
		})
	}
}

func TestValidateOrderRequest(t *testing.T) {
	iv := NewDefaultInputValidator()

	valid := OrderRequest{
		ShareholderID: "alice",
		Symbol:        "ACME",
		Side:          "buy",
		Type:          "limit",
		Price:         150.25,
		Quantity:      10,
	}

	tests := []struct {
		name    string
		mutate  func(*OrderRequest)
		wantErr bool
	}{
		{"valid limit order", func(r *OrderRequest) {}, false},
		{"limit without price", func(r *OrderRequest) { r.Price = 0 }, true},
		{"market order", func(r *OrderRequest) {
			r.Type = "market"
			r.Price = 0
		}, false},
		{"market order with price", func(r *OrderRequest) {
			r.Type = "market"
		}, true},
		{"stop market order", func(r *OrderRequest) {
			r.Type = "stop"
			r.Price = 0
			r.StopPrice = 175
		}, false},
		{"stop limit order", func(r *OrderRequest) {
			r.Type = "stop"
			r.StopPrice = 175
		}, false},
		{"stop without trigger", func(r *OrderRequest) {
			r.Type = "stop"
			r.StopPrice = 0
		}, true},
		{"stop with invalid limit price", func(r *OrderRequest) {
			r.Type = "stop"
			r.StopPrice = 175
			r.Price = -10
		}, true},
		{"bad side", func(r *OrderRequest) { r.Side = "hold" }, true},
		{"bad type", func(r *OrderRequest) { r.Type = "iceberg" }, true},
		{"zero quantity", func(r *OrderRequest) { r.Quantity = 0 }, true},
		{"bad symbol", func(r *OrderRequest) { r.Symbol = "ac me" }, true},
		{"missing shareholder", func(r *OrderRequest) { r.ShareholderID = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)

			err := iv.ValidateOrderRequest(&req)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateOrderRequest(%+v) error = %v, wantErr %v", req, err, tt.wantErr)
			}
		})
	}
}

func TestValidateCompanyRequest(t *testing.T) {
	iv := NewDefaultInputValidator()

	valid := CompanyRequest{
		Symbol:            "ACME",
		Name:              "Acme Corp",
		Sector:            "Industrials",
		StockPrice:        100,
		OutstandingShares: 1000000,
		FounderID:         "founder-1",
	}

	tests := []struct {
		name    string
		mutate  func(*CompanyRequest)
		wantErr bool
	}{
		{"valid", func(r *CompanyRequest) {}, false},
		{"empty name", func(r *CompanyRequest) { r.Name = "  " }, true},
		{"zero price", func(r *CompanyRequest) { r.StockPrice = 0 }, true},
		{"zero shares", func(r *CompanyRequest) { r.OutstandingShares = 0 }, true},
		{"bad founder", func(r *CompanyRequest) { r.FounderID = "" }, true},
		{"bad symbol", func(r *CompanyRequest) { r.Symbol = "acme" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)

			err := iv.ValidateCompanyRequest(&req)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCompanyRequest error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateShareholderRequest(t *testing.T) {
	iv := NewDefaultInputValidator()

	tests := []struct {
		name    string
		req     ShareholderRequest
		wantErr bool
	}{
		{"valid", ShareholderRequest{ShareholderID: "alice", Name: "Alice", Type: "individual", Cash: 10000}, false},
		{"zero cash", ShareholderRequest{ShareholderID: "alice", Name: "Alice", Type: "individual", Cash: 0}, false},
		{"negative cash", ShareholderRequest{ShareholderID: "alice", Name: "Alice", Type: "individual", Cash: -1}, true},
		{"empty name", ShareholderRequest{ShareholderID: "alice", Name: "", Cash: 100}, true},
		{"bad id", ShareholderRequest{ShareholderID: "a b", Name: "Alice", Cash: 100}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := iv.ValidateShareholderRequest(&tt.req)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateShareholderRequest error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateAndDecodeJSON(t *testing.T) {
	iv := NewDefaultInputValidator()

	var req OrderRequest

	if err := iv.ValidateAndDecodeJSON([]byte(`{"shareholder_id":"alice","symbol":"ACME","side":"buy","type":"limit","price":100,"quantity":5}`), &req); err != nil {
		t.Errorf("valid JSON rejected: %v", err)
	}
	if req.Symbol != "ACME" || req.Quantity != 5 {
		t.Errorf("decoded request = %+v", req)
	}

	if err := iv.ValidateAndDecodeJSON([]byte(``), &req); err == nil {
		t.Error("empty body accepted")
	}
	if err := iv.ValidateAndDecodeJSON([]byte(`{"symbol":"ACME"`), &req); err == nil {
		t.Error("truncated JSON accepted")
	}
	if err := iv.ValidateAndDecodeJSON([]byte(`{"symbol":"ACME","bogus":true}`), &req); err == nil {
		t.Error("unknown field accepted")
	}
	if err := iv.ValidateAndDecodeJSON([]byte(`{"symbol":"ACME"}{"symbol":"GLOBX"}`), &req); err == nil {
		t.Error("trailing data accepted")
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("hello\x00world", 100); got != "helloworld" {
		t.Errorf("SanitizeString control chars = %q", got)
	}
	if got := SanitizeString("abcdef", 3); got != "abc" {
		t.Errorf("SanitizeString truncation = %q", got)
	}
	if got := SanitizeString("line\nbreak\ttab", 100); got != "line\nbreak\ttab" {
		t.Errorf("SanitizeString preserved whitespace = %q", got)
	}
}
