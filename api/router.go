package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	gorilla_ws "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/marketsim/exchange/cache"
	"github.com/marketsim/exchange/engine"
	"github.com/marketsim/exchange/logging"
	"github.com/marketsim/exchange/marketdata"
	"github.com/marketsim/exchange/models"
	"github.com/marketsim/exchange/persistence"
	"github.com/marketsim/exchange/ratelimit"
	"github.com/marketsim/exchange/settlement"
	"github.com/marketsim/exchange/validation"
	"github.com/marketsim/exchange/websocket"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

// Router holds the HTTP router and all handlers
type Router struct {
	router      *mux.Router
	market      *engine.Market
	ledger      *settlement.Ledger
	feed        *marketdata.Feed
	store       *persistence.PostgresStore
	cache       *cache.RedisCache
	keys        *cache.KeyBuilder
	wsHub       *websocket.Hub
	wsUpgrader  gorilla_ws.Upgrader
	rateLimiter *ratelimit.TokenBucketLimiter
	validator   *validation.InputValidator
}

// Deps carries the collaborators the router wires together. Store, Cache and
// Hub may be nil; the corresponding endpoints degrade gracefully.
type Deps struct {
	Market          *engine.Market
	Ledger          *settlement.Ledger
	Feed            *marketdata.Feed
	Store           *persistence.PostgresStore
	Cache           *cache.RedisCache
	Keys            *cache.KeyBuilder
	Hub             *websocket.Hub
	RateLimitConfig ratelimit.Config
}

// NewRouter creates a new router with all API routes
func NewRouter(deps Deps) *Router {
	r := &Router{
		router:    mux.NewRouter(),
		market:    deps.Market,
		ledger:    deps.Ledger,
		feed:      deps.Feed,
		store:     deps.Store,
		cache:     deps.Cache,
		keys:      deps.Keys,
		wsHub:     deps.Hub,
		validator: validation.NewDefaultInputValidator(),
		wsUpgrader: gorilla_ws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	if r.keys == nil {
		r.keys = cache.NewKeyBuilder("marketsim")
	}

	var redisClient = redisClientOrNil(deps.Cache)
	r.rateLimiter = ratelimit.NewTokenBucketLimiter(redisClient, deps.RateLimitConfig)

	r.setupRoutes()
	return r
}

func (r *Router) setupRoutes() {
	r.router.Use(correlationIDMiddleware)

	vm := validation.NewValidationMiddleware(r.validator, nil)
	r.router.Use(vm.SecureHeadersMiddleware)
	r.router.Use(vm.ValidateContentType)

	rateLimitMiddleware := ratelimit.NewMiddleware(ratelimit.MiddlewareConfig{
		Limiter:      r.rateLimiter,
		KeyExtractor: ratelimit.ShareholderAndIPKeyExtractor,
		ErrorHandler: ratelimit.DefaultErrorHandler,
		SkipPaths:    []string{"/healthz", "/metrics", "/stream"},
	})
	r.router.Use(rateLimitMiddleware.Handler)

	// Order management
	r.router.HandleFunc("/orders", HandleSubmitOrder(r)).Methods("POST")
	r.router.HandleFunc("/orders/{order_id}/cancel", r.CancelOrder).Methods("POST")
	r.router.HandleFunc("/orders/{order_id}", r.GetOrder).Methods("GET")

	// Market data
	r.router.HandleFunc("/orderbook/{symbol}", r.GetOrderBook).Methods("GET")
	r.router.HandleFunc("/trades/{symbol}", r.GetTrades).Methods("GET")
	r.router.HandleFunc("/quotes", r.GetQuotes).Methods("GET")
	r.router.HandleFunc("/quotes/{symbol}", r.GetQuote).Methods("GET")

	// Listings and accounts
	r.router.HandleFunc("/companies", r.ListCompany).Methods("POST")
	r.router.HandleFunc("/companies", r.GetCompanies).Methods("GET")
	r.router.HandleFunc("/companies/{symbol}", r.GetCompany).Methods("GET")
	r.router.HandleFunc("/shareholders", r.OpenAccount).Methods("POST")
	r.router.HandleFunc("/shareholders/{shareholder_id}", r.GetPortfolio).Methods("GET")

	// WebSocket streaming endpoint
	r.router.HandleFunc("/stream", r.HandleWebSocket).Methods("GET")

	r.router.HandleFunc("/healthz", r.HealthCheck).Methods("GET")
	r.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// ServeHTTP implements http.Handler interface
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.router.ServeHTTP(w, req)
}

// CancelOrder handles POST /orders/{order_id}/cancel
func (r *Router) CancelOrder(w http.ResponseWriter, req *http.Request) {
	orderID, err := uuid.Parse(mux.Vars(req)["order_id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid order ID format")
		return
	}

	order, err := r.market.Cancel(req.Context(), orderID)
	if err != nil {
		respondError(w, statusForError(err), err.Error())
		return
	}

	logging.LogOrderCancelled(GetCorrelationID(req), order.ID.String(), order.Symbol, "user_requested")

	if r.wsHub != nil {
		r.wsHub.BroadcastOrder(order)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"order":   order,
	})
}

// GetOrder handles GET /orders/{order_id}. The live engine is authoritative;
// the database serves orders that have aged out of the routing table.
func (r *Router) GetOrder(w http.ResponseWriter, req *http.Request) {
	orderID, err := uuid.Parse(mux.Vars(req)["order_id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid order ID format")
		return
	}

	order, err := r.market.GetOrder(orderID)
	if err == nil {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Data-Source", "in-memory")
		_ = json.NewEncoder(w).Encode(order)
		return
	}

	if r.store != nil {
		ctx, cancel := context.WithTimeout(req.Context(), 3*time.Second)
		defer cancel()

		if order, dbErr := r.store.GetOrder(ctx, orderID); dbErr == nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Data-Source", "database")
			_ = json.NewEncoder(w).Encode(order)
			return
		}
	}

	respondError(w, statusForError(err), err.Error())
}

// OrderBookLevel is one aggregated price level in the orderbook response
type OrderBookLevel struct {
	Price           decimal.Decimal `json:"price"`
	Size            int64           `json:"size"`
	OrderCount      int             `json:"order_count"`
	CumulativeDepth int64           `json:"cumulative_depth"`
}

type OrderBookResponse struct {
	Symbol         string           `json:"symbol"`
	Bids           []OrderBookLevel `json:"bids"`
	Asks           []OrderBookLevel `json:"asks"`
	TotalBidVolume int64            `json:"total_bid_volume"`
	TotalAskVolume int64            `json:"total_ask_volume"`
	Timestamp      int64            `json:"timestamp"`
	ResponseTimeMs float64          `json:"response_time_ms"`
}

// GetOrderBook handles GET /orderbook/{symbol}?levels=20
func (r *Router) GetOrderBook(w http.ResponseWriter, req *http.Request) {
	startTime := time.Now()
	symbol := mux.Vars(req)["symbol"]

	levels := 20
	if levelsStr := req.URL.Query().Get("levels"); levelsStr != "" {
		if parsed, err := strconv.Atoi(levelsStr); err == nil && parsed > 0 {
			levels = parsed
		}
	}

	bids, asks, err := r.feed.Depth(symbol, levels)
	if err != nil {
		respondError(w, statusForError(err), err.Error())
		return
	}

	response := OrderBookResponse{
		Symbol:    symbol,
		Bids:      make([]OrderBookLevel, 0, len(bids)),
		Asks:      make([]OrderBookLevel, 0, len(asks)),
		Timestamp: time.Now().UnixMilli(),
	}

	var cumulative int64
	for _, level := range bids {
		cumulative += level.Quantity
		response.Bids = append(response.Bids, OrderBookLevel{
			Price:           level.Price,
			Size:            level.Quantity,
			OrderCount:      level.Orders,
			CumulativeDepth: cumulative,
		})
		response.TotalBidVolume += level.Quantity
	}

	cumulative = 0
	for _, level := range asks {
		cumulative += level.Quantity
		response.Asks = append(response.Asks, OrderBookLevel{
			Price:           level.Price,
			Size:            level.Quantity,
			OrderCount:      level.Orders,
			CumulativeDepth: cumulative,
		})
		response.TotalAskVolume += level.Quantity
	}

	response.ResponseTimeMs = float64(time.Since(startTime).Microseconds()) / 1000.0

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, must-revalidate")
	_ = json.NewEncoder(w).Encode(response)
}

// GetTrades handles GET /trades/{symbol}?limit=50. Recent trades come from
// the in-memory feed ring; source=db reads the full history from Postgres.
func (r *Router) GetTrades(w http.ResponseWriter, req *http.Request) {
	symbol := mux.Vars(req)["symbol"]

	limit := 50
	if limitStr := req.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed >= 1 {
			limit = parsed
			if limit > 1000 {
				limit = 1000
			}
		}
	}

	if req.URL.Query().Get("source") == "db" {
		if r.store == nil {
			respondError(w, http.StatusServiceUnavailable, "Database not available")
			return
		}

		ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
		defer cancel()

		trades, err := r.store.GetTradesBySymbol(ctx, symbol, limit)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to retrieve trades: "+err.Error())
			return
		}

		r.respondTrades(w, symbol, "database", trades)
		return
	}

	ticks, err := r.feed.RecentTrades(symbol, limit)
	if err != nil {
		respondError(w, statusForError(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Data-Source", "in-memory")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"symbol": symbol,
		"trades": ticks,
		"count":  len(ticks),
	})
}

func (r *Router) respondTrades(w http.ResponseWriter, symbol, source string, trades []*engine.Trade) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Data-Source", source)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"symbol": symbol,
		"trades": trades,
		"count":  len(trades),
	})
}

// GetQuotes handles GET /quotes
func (r *Router) GetQuotes(w http.ResponseWriter, req *http.Request) {
	quotes := r.feed.Quotes()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"quotes": quotes,
		"count":  len(quotes),
	})
}

// GetQuote handles GET /quotes/{symbol}
func (r *Router) GetQuote(w http.ResponseWriter, req *http.Request) {
	symbol := mux.Vars(req)["symbol"]

	quote, err := r.feed.GetQuote(symbol)
	if err != nil {
		respondError(w, statusForError(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(quote)
}

// ListCompany handles POST /companies. Listing starts a matching engine for
// the symbol, attaches it to the market data feed, and grants the founder
// the full initial float.
func (r *Router) ListCompany(w http.ResponseWriter, req *http.Request) {
	var companyReq validation.CompanyRequest
	body, err := r.validator.ValidateRequestBody(req, maxOrderBodySize)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := r.validator.ValidateAndDecodeJSON(body, &companyReq); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	if err := r.validator.ValidateCompanyRequest(&companyReq); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := r.ledger.GetAccount(companyReq.FounderID); err != nil {
		respondError(w, http.StatusNotFound, "Founder account not found: "+companyReq.FounderID)
		return
	}

	company := models.NewCompany(companyReq.Symbol, companyReq.Name,
		models.Sector(companyReq.Sector), decimal.NewFromFloat(companyReq.StockPrice),
		companyReq.OutstandingShares)

	me, err := r.market.ListCompany(company)
	if err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}

	r.feed.Attach(me)

	if err := r.ledger.GrantShares(companyReq.FounderID, company.Symbol, company.OutstandingShares); err != nil {
		respondError(w, http.StatusInternalServerError, "Listing succeeded but share grant failed: "+err.Error())
		return
	}

	price, _ := company.StockPrice.Float64()
	logging.LogCompanyListed(company.Symbol, company.Name, price, company.OutstandingShares)

	if r.store != nil {
		ctx, cancel := context.WithTimeout(req.Context(), 3*time.Second)
		defer cancel()
		if err := r.store.SaveCompany(ctx, company); err != nil {
			logging.LogDBError("save_company", "companies", err, map[string]interface{}{
				"symbol": company.Symbol,
			})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"company": company,
	})
}

// GetCompanies handles GET /companies
func (r *Router) GetCompanies(w http.ResponseWriter, req *http.Request) {
	companies := r.market.Companies()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"companies": companies,
		"count":     len(companies),
	})
}

// GetCompany handles GET /companies/{symbol}
func (r *Router) GetCompany(w http.ResponseWriter, req *http.Request) {
	symbol := mux.Vars(req)["symbol"]

	company, err := r.market.GetCompany(symbol)
	if err != nil {
		respondError(w, statusForError(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"company":    company,
		"market_cap": company.MarketCap(),
	})
}

// OpenAccount handles POST /shareholders
func (r *Router) OpenAccount(w http.ResponseWriter, req *http.Request) {
	var acctReq validation.ShareholderRequest
	body, err := r.validator.ValidateRequestBody(req, maxOrderBodySize)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := r.validator.ValidateAndDecodeJSON(body, &acctReq); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	if err := r.validator.ValidateShareholderRequest(&acctReq); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	account := models.NewAccount(acctReq.ShareholderID, acctReq.Name,
		models.ShareholderType(acctReq.Type), decimal.NewFromFloat(acctReq.Cash))

	if err := r.ledger.OpenAccount(account); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}

	if r.store != nil {
		ctx, cancel := context.WithTimeout(req.Context(), 3*time.Second)
		defer cancel()
		if err := r.store.SaveAccount(ctx, account); err != nil {
			logging.LogDBError("save_account", "shareholders", err, map[string]interface{}{
				"shareholder_id": account.ShareholderID,
			})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"account": account,
	})
}

// PositionValue is one holding valued at the current stock price
type PositionValue struct {
	Symbol      string          `json:"symbol"`
	Quantity    int64           `json:"quantity"`
	StockPrice  decimal.Decimal `json:"stock_price"`
	MarketValue decimal.Decimal `json:"market_value"`
}

// GetPortfolio handles GET /shareholders/{shareholder_id}. Holdings are
// valued at each company's current stock price.
func (r *Router) GetPortfolio(w http.ResponseWriter, req *http.Request) {
	shareholderID := mux.Vars(req)["shareholder_id"]

	account, err := r.ledger.GetAccount(shareholderID)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	positions := make([]PositionValue, 0, len(account.Holdings))
	totalValue := account.Cash

	for symbol, quantity := range account.Holdings {
		price := decimal.Zero
		if company, err := r.market.GetCompany(symbol); err == nil {
			price = company.StockPrice
		}

		marketValue := price.Mul(decimal.NewFromInt(quantity))
		totalValue = totalValue.Add(marketValue)

		positions = append(positions, PositionValue{
			Symbol:      symbol,
			Quantity:    quantity,
			StockPrice:  price,
			MarketValue: marketValue,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"account":     account,
		"positions":   positions,
		"total_value": totalValue,
	})
}

// HealthCheck handles GET /healthz
func (r *Router) HealthCheck(w http.ResponseWriter, req *http.Request) {
	components := map[string]string{
		"engine": "up",
	}

	if r.store != nil {
		components["database"] = "up"
	} else {
		components["database"] = "disabled"
	}

	if r.cache != nil {
		if err := r.cache.Ping(); err != nil {
			components["redis"] = "down"
		} else {
			components["redis"] = "up"
		}
	} else {
		components["redis"] = "disabled"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":     "healthy",
		"components": components,
	})
}

// HandleWebSocket handles the /stream WebSocket endpoint. An optional
// shareholder_id query parameter scopes the orders topic to that account.
func (r *Router) HandleWebSocket(w http.ResponseWriter, req *http.Request) {
	if r.wsHub == nil {
		respondError(w, http.StatusServiceUnavailable, "Streaming not available")
		return
	}

	conn, err := r.wsUpgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := websocket.NewClient(r.wsHub, conn, req.URL.Query().Get("shareholder_id"))
	r.wsHub.Register(client)
	client.Start()
}

// GetWebSocketHub returns the WebSocket hub
func (r *Router) GetWebSocketHub() *websocket.Hub {
	return r.wsHub
}

func redisClientOrNil(c *cache.RedisCache) *redis.Client {
	if c == nil {
		return nil
	}
	return c.GetClient()
}

// correlationIDMiddleware adds a correlation ID to each request for tracing
func correlationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = logging.NewCorrelationID()
		}

		w.Header().Set("X-Correlation-ID", correlationID)

		ctx := context.WithValue(r.Context(), contextKey("correlation_id"), correlationID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetCorrelationID extracts correlation ID from request context
func GetCorrelationID(r *http.Request) string {
	if correlationID, ok := r.Context().Value(contextKey("correlation_id")).(string); ok {
		return correlationID
	}
	return ""
}
