package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

type pairKey struct {
	productID   string
	warehouseID string
}

// state — всё содержимое in-memory хранилища. На время транзакции снимается копия.
type state struct {
	products   map[string]domain.Product
	warehouses map[string]domain.Warehouse
	customers  map[string]domain.Customer
	stock      map[string]domain.StockRecord
	pairs      map[pairKey]string
	orders     map[string]domain.Order
	movements  []domain.StockMovement
	outbox     map[string]outboxRecord
}

func newState() *state {
	return &state{
		products:   make(map[string]domain.Product),
		warehouses: make(map[string]domain.Warehouse),
		customers:  make(map[string]domain.Customer),
		stock:      make(map[string]domain.StockRecord),
		pairs:      make(map[pairKey]string),
		orders:     make(map[string]domain.Order),
		outbox:     make(map[string]outboxRecord),
	}
}

func (s *state) clone() *state {
	dst := &state{
		products:   copyMap(s.products),
		warehouses: copyMap(s.warehouses),
		customers:  copyMap(s.customers),
		stock:      copyMap(s.stock),
		pairs:      copyMap(s.pairs),
		orders:     make(map[string]domain.Order, len(s.orders)),
		movements:  append([]domain.StockMovement(nil), s.movements...),
		outbox:     copyMap(s.outbox),
	}
	for id, order := range s.orders {
		dst.orders[id] = cloneOrder(order)
	}
	return dst
}

func copyMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// Store — транзакционное in-memory хранилище для локальной разработки и тестов.
// Транзакции сериализуются одним мьютексом; при ошибке или панике состояние
// восстанавливается из снимка, снятого в начале транзакции.
type Store struct {
	mu    sync.Mutex
	state *state
	// lastStockAt гарантирует строго возрастающий created_at у записей остатка,
	// чтобы FIFO-порядок не зависел от разрешения часов.
	lastStockAt time.Time
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{state: newState()}
}

// WithinTx выполняет fn под эксклюзивной блокировкой хранилища.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	committed := false
	defer func() {
		if !committed {
			s.state = snapshot
		}
	}()

	if err := fn(ctx, &memTx{store: s, st: s.state}); err != nil {
		return err
	}
	committed = true

	return nil
}

// Outbox возвращает репозиторий outbox для worker, работающий вне бизнес-транзакций.
func (s *Store) Outbox() domain.OutboxRepository {
	return &lockedOutboxRepository{store: s}
}

func (s *Store) nextStockCreatedAt(at time.Time) time.Time {
	if !at.After(s.lastStockAt) {
		at = s.lastStockAt.Add(time.Nanosecond)
	}
	s.lastStockAt = at
	return at
}

type memTx struct {
	store *Store
	st    *state
}

func (t *memTx) Products() domain.ProductRepository     { return &productRepository{st: t.st} }
func (t *memTx) Warehouses() domain.WarehouseRepository { return &warehouseRepository{st: t.st} }
func (t *memTx) Customers() domain.CustomerRepository   { return &customerRepository{st: t.st} }
func (t *memTx) Stock() domain.StockRepository          { return &stockRepository{store: t.store, st: t.st} }
func (t *memTx) Orders() domain.OrderRepository         { return &orderRepository{st: t.st} }
func (t *memTx) Movements() domain.MovementRepository   { return &movementRepository{st: t.st} }
func (t *memTx) Outbox() domain.OutboxRepository        { return &outboxRepository{st: t.st} }

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Lines = make([]domain.OrderLine, len(src.Lines))
	for i, line := range src.Lines {
		line.Allocations = append([]domain.LineAllocation(nil), line.Allocations...)
		dst.Lines[i] = line
	}
	return dst
}

func applyLimit[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

var (
	_ domain.Transactor = (*Store)(nil)
	_ domain.Tx         = (*memTx)(nil)
)
