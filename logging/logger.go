package logging

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var log *logrus.Logger

// ErrorRateLimiter suppresses repeats of the same error so a flapping
// collaborator cannot flood the log.
type ErrorRateLimiter struct {
	mu            sync.Mutex
	errorCounts   map[string]*errorEntry
	cleanupTicker *time.Ticker
}

type errorEntry struct {
	count      int
	firstSeen  time.Time
	lastLogged time.Time
	suppressed int
}

var (
	rateLimiter     *ErrorRateLimiter
	rateLimitWindow = 1 * time.Minute
	maxErrorsPerMin = 5
)

func NewErrorRateLimiter() *ErrorRateLimiter {
	limiter := &ErrorRateLimiter{
		errorCounts:   make(map[string]*errorEntry),
		cleanupTicker: time.NewTicker(5 * time.Minute),
	}

	go func() {
		for range limiter.cleanupTicker.C {
			limiter.cleanup()
		}
	}()

	return limiter
}

func (rl *ErrorRateLimiter) ShouldLog(errorKey string) (shouldLog bool, suppressedCount int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	entry, exists := rl.errorCounts[errorKey]

	if !exists {
		rl.errorCounts[errorKey] = &errorEntry{
			count:      1,
			firstSeen:  now,
			lastLogged: now,
		}
		return true, 0
	}

	if now.Sub(entry.firstSeen) > rateLimitWindow {
		suppressedCount = entry.suppressed
		rl.errorCounts[errorKey] = &errorEntry{
			count:      1,
			firstSeen:  now,
			lastLogged: now,
		}
		return true, suppressedCount
	}

	entry.count++

	if entry.count <= maxErrorsPerMin {
		entry.lastLogged = now
		return true, 0
	}

	entry.suppressed++
	return false, 0
}

func (rl *ErrorRateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for key, entry := range rl.errorCounts {
		if now.Sub(entry.lastLogged) > 10*time.Minute {
			delete(rl.errorCounts, key)
		}
	}
}

// InitLogger initializes the structured logger with JSON format
func InitLogger() *logrus.Logger {
	log = logrus.New()

	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "ts",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	log.SetOutput(os.Stdout)

	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	rateLimiter = NewErrorRateLimiter()

	log.WithFields(logrus.Fields{
		"event": "logger_initialized",
		"level": log.Level.String(),
	}).Info("Structured logging initialized")

	return log
}

// NewCorrelationID generates a new correlation ID for request tracing
func NewCorrelationID() string {
	return uuid.New().String()
}

// GetLogger returns the global logger instance
func GetLogger() *logrus.Logger {
	if log == nil {
		return InitLogger()
	}
	return log
}

// Event types as constants
const (
	EventOrderReceived   = "order_received"
	EventOrderMatched    = "order_matched"
	EventOrderCancelled  = "order_cancelled"
	EventOrderRejected   = "order_rejected"
	EventTradeExecuted   = "trade_executed"
	EventTradeSettled    = "trade_settled"
	EventSettlementFault = "settlement_fault"
	EventStopTriggered   = "stop_triggered"
	EventCompanyListed   = "company_listed"
	EventAccountOpened   = "account_opened"
	EventDBError         = "db_error"
	EventDBSuccess       = "db_success"
	EventServerStarted   = "server_started"
	EventServerStopped   = "server_stopped"
)

// LogOrderReceived logs when an order is received
func LogOrderReceived(correlationID, orderID, shareholderID, symbol, side, orderType string, price float64, quantity int64) {
	fields := logrus.Fields{
		"event":          EventOrderReceived,
		"order_id":       orderID,
		"shareholder_id": shareholderID,
		"symbol":         symbol,
		"side":           side,
		"type":           orderType,
		"price":          price,
		"quantity":       quantity,
	}
	if correlationID != "" {
		fields["correlation_id"] = correlationID
	}
	GetLogger().WithFields(fields).Info("Order received")
}

// LogOrderMatched logs when an order is matched or filled
func LogOrderMatched(correlationID, orderID, symbol, side string, filledQty, remainingQty int64, status string) {
	fields := logrus.Fields{
		"event":         EventOrderMatched,
		"order_id":      orderID,
		"symbol":        symbol,
		"side":          side,
		"filled_qty":    filledQty,
		"remaining_qty": remainingQty,
		"status":        status,
	}
	if correlationID != "" {
		fields["correlation_id"] = correlationID
	}
	GetLogger().WithFields(fields).Info("Order matched")
}

// LogTradeExecuted logs when a trade is executed
func LogTradeExecuted(correlationID, tradeID, buyOrderID, sellOrderID, symbol string, price float64, quantity int64) {
	fields := logrus.Fields{
		"event":         EventTradeExecuted,
		"trade_id":      tradeID,
		"buy_order_id":  buyOrderID,
		"sell_order_id": sellOrderID,
		"symbol":        symbol,
		"price":         price,
		"quantity":      quantity,
	}
	if correlationID != "" {
		fields["correlation_id"] = correlationID
	}
	GetLogger().WithFields(fields).Info("Trade executed")
}

// LogOrderCancelled logs when an order is cancelled
func LogOrderCancelled(correlationID, orderID, symbol, reason string) {
	fields := logrus.Fields{
		"event":    EventOrderCancelled,
		"order_id": orderID,
		"symbol":   symbol,
		"reason":   reason,
	}
	if correlationID != "" {
		fields["correlation_id"] = correlationID
	}
	GetLogger().WithFields(fields).Info("Order cancelled")
}

// LogOrderRejected logs when an order is rejected
func LogOrderRejected(correlationID, orderID, symbol, reason string, details interface{}) {
	fields := logrus.Fields{
		"event":    EventOrderRejected,
		"order_id": orderID,
		"symbol":   symbol,
		"reason":   reason,
		"details":  details,
	}
	if correlationID != "" {
		fields["correlation_id"] = correlationID
	}
	GetLogger().WithFields(fields).Warn("Order rejected")
}

// LogSettlementFault escalates a trade that failed re-validation at
// settlement. This is an internal consistency fault: the trade was not
// applied, and silently dropping value would be worse than halting.
func LogSettlementFault(tradeID, symbol, buyerID, sellerID string, err error) {
	GetLogger().WithFields(logrus.Fields{
		"event":     EventSettlementFault,
		"trade_id":  tradeID,
		"symbol":    symbol,
		"buyer_id":  buyerID,
		"seller_id": sellerID,
		"error":     err.Error(),
	}).Error("Trade discarded: settlement re-validation failed")
}

// LogCompanyListed logs a new company listing
func LogCompanyListed(symbol, name string, price float64, shares int64) {
	GetLogger().WithFields(logrus.Fields{
		"event":              EventCompanyListed,
		"symbol":             symbol,
		"name":               name,
		"stock_price":        price,
		"outstanding_shares": shares,
	}).Info("Company listed")
}

// LogDBError logs database errors with rate limiting
func LogDBError(operation, table string, err error, details interface{}) {
	errorKey := fmt.Sprintf("%s:%s:%s", operation, table, err.Error())

	if rateLimiter == nil {
		rateLimiter = NewErrorRateLimiter()
	}

	shouldLog, suppressedCount := rateLimiter.ShouldLog(errorKey)
	if !shouldLog {
		return
	}

	fields := logrus.Fields{
		"event":     EventDBError,
		"operation": operation,
		"table":     table,
		"error":     err.Error(),
		"details":   details,
	}

	if suppressedCount > 0 {
		fields["suppressed_count"] = suppressedCount
	}

	GetLogger().WithFields(fields).Error("Database error")
}

// LogDBSuccess logs successful database operations
func LogDBSuccess(operation, table string, recordCount int, details interface{}) {
	GetLogger().WithFields(logrus.Fields{
		"event":        EventDBSuccess,
		"operation":    operation,
		"table":        table,
		"record_count": recordCount,
		"details":      details,
	}).Debug("Database operation successful")
}

// LogServerStarted logs server startup
func LogServerStarted(port int, features interface{}) {
	GetLogger().WithFields(logrus.Fields{
		"event":    EventServerStarted,
		"port":     port,
		"features": features,
	}).Info("Market simulator server started")
}
