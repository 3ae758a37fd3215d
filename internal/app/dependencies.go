package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/metrics"
	"github.com/vladislavdragonenkov/ims/internal/service/catalog"
	"github.com/vladislavdragonenkov/ims/internal/service/httpapi"
	"github.com/vladislavdragonenkov/ims/internal/service/orders"
	"github.com/vladislavdragonenkov/ims/internal/service/stock"
)

// Services содержит доменные сервисы приложения.
type Services struct {
	Catalog *catalog.Service
	Stock   *stock.Service
	Orders  *orders.Coordinator
	Metrics *metrics.InventoryMetrics
}

// newServices собирает сервисы поверх выбранного хранилища. Ledger общий для
// сервиса остатков и координатора заказов.
func newServices(deps *runtimeDependencies, cfg Config, m *metrics.InventoryMetrics, logger *log.Entry) Services {
	ledger := stock.NewLedger(nil)

	return Services{
		Catalog: catalog.NewService(deps.transactor, logger.WithField("layer", "catalog")),
		Stock: stock.NewService(deps.transactor, ledger,
			stock.WithLogger(logger.WithField("layer", "stock")),
			stock.WithMetrics(m),
		),
		Orders: orders.NewCoordinator(deps.transactor, ledger,
			orders.WithLogger(logger.WithField("layer", "orders")),
			orders.WithMetrics(m),
			orders.WithStockPrecheck(cfg.StockPrecheck),
			orders.WithRestitutionPolicy(cfg.RestitutionPolicy),
		),
		Metrics: m,
	}
}

// newHTTPHandler собирает REST-слой.
func newHTTPHandler(services Services, deps *runtimeDependencies, cfg Config, logger *log.Entry) *httpapi.Handler {
	return httpapi.NewHandler(httpapi.Dependencies{
		Orders:      services.Orders,
		Stock:       services.Stock,
		Catalog:     services.Catalog,
		Idempotency: deps.idempotencyRepo,
		Logger:      logger.WithField("layer", "http"),
	}, httpapi.Config{
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		IdempotencyTTL: cfg.IdempotencyTTL,
	})
}
