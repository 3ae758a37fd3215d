// Package httpapi предоставляет REST API сервиса поверх gin.
package httpapi

import (
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/domain"
	"github.com/vladislavdragonenkov/ims/internal/service/catalog"
	"github.com/vladislavdragonenkov/ims/internal/service/orders"
	"github.com/vladislavdragonenkov/ims/internal/service/stock"
)

const defaultIdempotencyTTL = 24 * time.Hour

var registerFieldNamesOnce sync.Once

// registerJSONFieldNames заставляет валидатор называть поля так же, как в JSON.
func registerJSONFieldNames() {
	registerFieldNamesOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			for _, tag := range []string{"json", "form"} {
				name := strings.SplitN(field.Tag.Get(tag), ",", 2)[0]
				if name == "-" {
					return ""
				}
				if name != "" {
					return name
				}
			}
			return field.Name
		})
	})
}

// Dependencies — сервисы, которые обслуживает HTTP-слой.
type Dependencies struct {
	Orders  *orders.Coordinator
	Stock   *stock.Service
	Catalog *catalog.Service
	// Idempotency может быть nil: тогда заголовок Idempotency-Key игнорируется.
	Idempotency domain.IdempotencyRepository
	Logger      *log.Entry
}

// Config задаёт ограничения HTTP-слоя.
type Config struct {
	// RateLimitRPS <= 0 отключает ограничение частоты запросов.
	RateLimitRPS   float64
	RateLimitBurst int
	IdempotencyTTL time.Duration
}

// Handler связывает маршруты /api/v1 с сервисами.
type Handler struct {
	orders  *orders.Coordinator
	stock   *stock.Service
	catalog *catalog.Service
	idem    domain.IdempotencyRepository
	logger  *log.Entry
	cfg     Config
	limiter *clientLimiter
}

// NewHandler создаёт обработчик HTTP API.
func NewHandler(deps Dependencies, cfg Config) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = log.New().WithField("component", "http-api")
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = defaultIdempotencyTTL
	}
	registerJSONFieldNames()

	h := &Handler{
		orders:  deps.Orders,
		stock:   deps.Stock,
		catalog: deps.Catalog,
		idem:    deps.Idempotency,
		logger:  logger,
		cfg:     cfg,
	}
	if cfg.RateLimitRPS > 0 {
		h.limiter = newClientLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	return h
}

// Router собирает gin.Engine со всеми маршрутами и middleware.
func (h *Handler) Router() *gin.Engine {
	engine := gin.New()
	engine.Use(h.recovery(), h.requestLogger())
	if h.limiter != nil {
		engine.Use(h.limiter.middleware())
	}

	engine.NoRoute(func(c *gin.Context) {
		writeFailure(c, http.StatusNotFound, codeNotFound, "route not found", nil)
	})

	api := engine.Group("/api/v1")

	ordersGroup := api.Group("/orders")
	ordersGroup.POST("", h.idempotent(domain.OperationOrderCreate), h.createOrder)
	ordersGroup.GET("", h.listOrders)
	ordersGroup.GET("/:id", h.getOrder)
	ordersGroup.PATCH("/:id/status", h.updateOrderStatus)

	inventory := api.Group("/inventory")
	inventory.POST("", h.createStockRecord)
	inventory.GET("", h.listStockRecords)
	inventory.POST("/transfer", h.idempotent(domain.OperationStockTransfer), h.transferStock)
	inventory.GET("/:id", h.getStockRecord)
	inventory.PUT("/:id", h.updateStockRecord)
	inventory.DELETE("/:id", h.deleteStockRecord)
	inventory.POST("/:id/adjust", h.idempotent(domain.OperationStockAdjust), h.adjustStock)
	inventory.GET("/:id/movements", h.listMovements)

	products := api.Group("/products")
	products.POST("", h.createProduct)
	products.GET("", h.listProducts)
	products.GET("/:id", h.getProduct)
	products.PUT("/:id", h.updateProduct)
	products.DELETE("/:id", h.deleteProduct)

	warehouses := api.Group("/warehouses")
	warehouses.POST("", h.createWarehouse)
	warehouses.GET("", h.listWarehouses)
	warehouses.GET("/:id", h.getWarehouse)
	warehouses.PUT("/:id", h.updateWarehouse)
	warehouses.DELETE("/:id", h.deleteWarehouse)

	customers := api.Group("/customers")
	customers.POST("", h.createCustomer)
	customers.GET("", h.listCustomers)
	customers.GET("/:id", h.getCustomer)
	customers.PUT("/:id", h.updateCustomer)
	customers.DELETE("/:id", h.deleteCustomer)

	return engine
}

func (h *Handler) recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		h.logger.WithFields(log.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"panic":  recovered,
		}).Error("panic while handling request")
		writeFailure(c, http.StatusInternalServerError, codeInternal, "internal server error", nil)
	})
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := h.logger.WithFields(log.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"client_ip":   c.ClientIP(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request completed with server error")
			return
		}
		entry.Debug("request completed")
	}
}
