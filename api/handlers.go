package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketsim/exchange/engine"
	"github.com/marketsim/exchange/logging"
	"github.com/marketsim/exchange/metrics"
	"github.com/marketsim/exchange/models"
	"github.com/marketsim/exchange/validation"
)

// OrderResponse is the reply to an order submission
type OrderResponse struct {
	Success   bool            `json:"success"`
	OrderID   string          `json:"order_id"`
	Order     *models.Order   `json:"order,omitempty"`
	Trades    []*engine.Trade `json:"trades,omitempty"`
	Message   string          `json:"message,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Replayed  bool            `json:"replayed,omitempty"` // True if response was from cache
}

// HandleSubmitOrder returns the POST /orders handler. When the request
// carries an Idempotency-Key header and Redis is available, a repeated key
// replays the original response instead of submitting a second order.
func HandleSubmitOrder(r *Router) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		correlationID := GetCorrelationID(req)

		idempotencyKey := req.Header.Get("Idempotency-Key")
		if idempotencyKey != "" && r.cache != nil {
			if cached := r.checkIdempotencyKey(idempotencyKey); cached != nil {
				cached.Replayed = true
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Idempotency-Key", idempotencyKey)
				w.Header().Set("X-Idempotency-Replayed", "true")
				w.WriteHeader(http.StatusAccepted)
				_ = json.NewEncoder(w).Encode(cached)
				return
			}
		}

		var orderReq validation.OrderRequest
		body, err := r.validator.ValidateRequestBody(req, maxOrderBodySize)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := r.validator.ValidateAndDecodeJSON(body, &orderReq); err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
			return
		}

		if err := r.validator.ValidateOrderRequest(&orderReq); err != nil {
			metrics.RecordOrderRejected(orderReq.Symbol, "validation_failed")
			logging.LogOrderRejected(correlationID, "", orderReq.Symbol, "validation_failed", err.Error())
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		order := buildOrder(&orderReq)

		metrics.RecordOrderReceived(orderReq.Symbol, orderReq.Side, orderReq.Type)
		logging.LogOrderReceived(correlationID, order.ID.String(), orderReq.ShareholderID,
			orderReq.Symbol, orderReq.Side, orderReq.Type, orderReq.Price, orderReq.Quantity)

		startTime := time.Now()
		trades, err := r.market.Submit(req.Context(), order)
		metrics.RecordOrderLatency(orderReq.Symbol, orderReq.Type, time.Since(startTime).Seconds())

		if err != nil {
			reason := rejectionReason(err)
			metrics.RecordOrderRejected(orderReq.Symbol, reason)
			logging.LogOrderRejected(correlationID, order.ID.String(), orderReq.Symbol, reason, err.Error())
			respondError(w, statusForError(err), err.Error())
			return
		}

		if order.FilledQuantity > 0 {
			metrics.RecordOrderMatched(orderReq.Symbol, orderReq.Side)
			logging.LogOrderMatched(correlationID, order.ID.String(), orderReq.Symbol, orderReq.Side,
				order.FilledQuantity, order.RemainingQuantity(), string(order.Status))
		}

		for _, trade := range trades {
			metrics.RecordTrade(trade.Symbol, float64(trade.Quantity))
			price, _ := trade.Price.Float64()
			logging.LogTradeExecuted(correlationID, trade.TradeID.String(),
				trade.BuyOrderID.String(), trade.SellOrderID.String(), trade.Symbol, price, trade.Quantity)
		}

		response := OrderResponse{
			Success:   true,
			OrderID:   order.ID.String(),
			Order:     order,
			Trades:    trades,
			Message:   "Order accepted and processed",
			Timestamp: time.Now().UnixMilli(),
		}

		if idempotencyKey != "" && r.cache != nil {
			r.cacheIdempotencyResponse(idempotencyKey, &response)
		}

		w.Header().Set("Content-Type", "application/json")
		if idempotencyKey != "" {
			w.Header().Set("X-Idempotency-Key", idempotencyKey)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(response)
	}
}

const maxOrderBodySize = 1 << 20 // 1 MB

// buildOrder converts a validated request into an engine order. Prices come
// over the wire as floats; NewFromFloat keeps the shortest exact
// representation so 150.25 stays 150.25.
func buildOrder(req *validation.OrderRequest) *models.Order {
	side := models.OrderSide(req.Side)

	if req.Type == string(models.OrderTypeStop) {
		return models.NewStopOrder(req.ShareholderID, req.Symbol, side,
			decimal.NewFromFloat(req.StopPrice), decimal.NewFromFloat(req.Price), req.Quantity)
	}

	return models.NewOrder(req.ShareholderID, req.Symbol, side,
		models.OrderType(req.Type), decimal.NewFromFloat(req.Price), req.Quantity)
}

// statusForError maps engine rejection reasons onto HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidOrder):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNotFound), errors.Is(err, engine.ErrUnknownInstrument):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrAlreadyTerminal):
		return http.StatusConflict
	case errors.Is(err, engine.ErrInsufficientFunds), errors.Is(err, engine.ErrInsufficientShares):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrEngineStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, engine.ErrInvalidOrder):
		return "invalid_order"
	case errors.Is(err, engine.ErrUnknownInstrument):
		return "unknown_instrument"
	case errors.Is(err, engine.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, engine.ErrInsufficientShares):
		return "insufficient_shares"
	case errors.Is(err, engine.ErrEngineStopped):
		return "engine_stopped"
	default:
		return "engine_error"
	}
}

// respondError is a helper to send error responses
func respondError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success":   false,
		"error":     message,
		"timestamp": time.Now().UnixMilli(),
	})
}

// checkIdempotencyKey returns the cached response for a key, nil otherwise
func (r *Router) checkIdempotencyKey(key string) *OrderResponse {
	var response OrderResponse
	if err := r.cache.GetJSON(r.keys.IdempotencyKey(hashIdempotencyKey(key)), &response); err != nil {
		return nil
	}
	return &response
}

// cacheIdempotencyResponse stores the response with a 24-hour expiration. A
// cache failure is logged but never fails the request: the order is already
// processed.
func (r *Router) cacheIdempotencyResponse(key string, response *OrderResponse) {
	redisKey := r.keys.IdempotencyKey(hashIdempotencyKey(key))
	if err := r.cache.SetJSON(redisKey, response, 24*time.Hour); err != nil {
		logging.LogDBError("idempotency_cache", "redis", err, map[string]interface{}{
			"order_id": response.OrderID,
		})
	}
}

// hashIdempotencyKey hashes the client-supplied key so storage keys have a
// fixed length regardless of what the client sends
func hashIdempotencyKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}
