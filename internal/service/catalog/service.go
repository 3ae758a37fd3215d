// Package catalog управляет справочниками: товары, склады и покупатели.
package catalog

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

const defaultListLimit = 100

// ProductInput — поля товара, задаваемые клиентом.
type ProductInput struct {
	Name        string
	Category    string
	UnitPrice   decimal.Decimal
	SKU         string
	Description string
}

// WarehouseInput — поля склада, задаваемые клиентом.
type WarehouseInput struct {
	Name     string
	Location string
}

// CustomerInput — поля покупателя, задаваемые клиентом.
type CustomerInput struct {
	FullName string
	Email    string
	Phone    string
	Address  string
}

// Service выполняет CRUD справочников с проверкой ссылочной целостности при удалении.
type Service struct {
	tx     domain.Transactor
	logger *log.Entry
	now    func() time.Time
}

// NewService создаёт сервис каталога.
func NewService(tx domain.Transactor, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "catalog")
	}
	return &Service{
		tx:     tx,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) CreateProduct(ctx context.Context, in ProductInput) (product domain.Product, err error) {
	now := s.now()
	product = productFromInput(uuid.NewString(), in)
	product.CreatedAt = now
	product.UpdatedAt = now
	if errs := product.Validate(); len(errs) > 0 {
		return domain.Product{}, errors.Join(errs...)
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Products().Create(ctx, product)
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logger.WithFields(log.Fields{"product_id": product.ID, "sku": product.SKU}).Info("product created")
	return product, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (product domain.Product, err error) {
	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		product, err = tx.Products().Get(ctx, id)
		return err
	})
	return product, err
}

func (s *Service) ListProducts(ctx context.Context, filter domain.ProductFilter) (products []domain.Product, err error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		products, err = tx.Products().List(ctx, filter)
		return err
	})
	return products, err
}

// UpdateProduct меняет поля товара. Цены в уже оформленных заказах не пересчитываются.
func (s *Service) UpdateProduct(ctx context.Context, id string, in ProductInput) (product domain.Product, err error) {
	candidate := productFromInput(id, in)
	if errs := candidate.Validate(); len(errs) > 0 {
		return domain.Product{}, errors.Join(errs...)
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		current, err := tx.Products().Get(ctx, id)
		if err != nil {
			return err
		}
		candidate.CreatedAt = current.CreatedAt
		candidate.UpdatedAt = s.now()
		if err := tx.Products().Update(ctx, candidate); err != nil {
			return err
		}
		product = candidate
		return nil
	})
	return product, err
}

// DeleteProduct удаляет товар, если на него не ссылаются остатки или позиции заказов.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.Products().Get(ctx, id); err != nil {
			return err
		}
		if used, err := tx.Stock().ExistsForProduct(ctx, id); err != nil || used {
			return inUse(err, domain.ErrProductInUse)
		}
		if used, err := tx.Orders().ExistsForProduct(ctx, id); err != nil || used {
			return inUse(err, domain.ErrProductInUse)
		}
		return tx.Products().Delete(ctx, id)
	})
}

func (s *Service) CreateWarehouse(ctx context.Context, in WarehouseInput) (warehouse domain.Warehouse, err error) {
	if strings.TrimSpace(in.Name) == "" {
		return domain.Warehouse{}, domain.ErrNameRequired
	}

	now := s.now()
	warehouse = domain.Warehouse{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(in.Name),
		Location:  strings.TrimSpace(in.Location),
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Warehouses().Create(ctx, warehouse)
	})
	if err != nil {
		return domain.Warehouse{}, err
	}
	return warehouse, nil
}

func (s *Service) GetWarehouse(ctx context.Context, id string) (warehouse domain.Warehouse, err error) {
	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		warehouse, err = tx.Warehouses().Get(ctx, id)
		return err
	})
	return warehouse, err
}

func (s *Service) ListWarehouses(ctx context.Context, limit int) (warehouses []domain.Warehouse, err error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		warehouses, err = tx.Warehouses().List(ctx, limit)
		return err
	})
	return warehouses, err
}

func (s *Service) UpdateWarehouse(ctx context.Context, id string, in WarehouseInput) (warehouse domain.Warehouse, err error) {
	if strings.TrimSpace(in.Name) == "" {
		return domain.Warehouse{}, domain.ErrNameRequired
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		current, err := tx.Warehouses().Get(ctx, id)
		if err != nil {
			return err
		}
		current.Name = strings.TrimSpace(in.Name)
		current.Location = strings.TrimSpace(in.Location)
		current.UpdatedAt = s.now()
		if err := tx.Warehouses().Update(ctx, current); err != nil {
			return err
		}
		warehouse = current
		return nil
	})
	return warehouse, err
}

// DeleteWarehouse удаляет склад без записей остатка.
func (s *Service) DeleteWarehouse(ctx context.Context, id string) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.Warehouses().Get(ctx, id); err != nil {
			return err
		}
		if used, err := tx.Stock().ExistsForWarehouse(ctx, id); err != nil || used {
			return inUse(err, domain.ErrWarehouseInUse)
		}
		return tx.Warehouses().Delete(ctx, id)
	})
}

func (s *Service) CreateCustomer(ctx context.Context, in CustomerInput) (customer domain.Customer, err error) {
	if strings.TrimSpace(in.FullName) == "" {
		return domain.Customer{}, domain.ErrNameRequired
	}

	now := s.now()
	customer = customerFromInput(uuid.NewString(), in)
	customer.CreatedAt = now
	customer.UpdatedAt = now
	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Customers().Create(ctx, customer)
	})
	if err != nil {
		return domain.Customer{}, err
	}
	return customer, nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (customer domain.Customer, err error) {
	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		customer, err = tx.Customers().Get(ctx, id)
		return err
	})
	return customer, err
}

func (s *Service) ListCustomers(ctx context.Context, limit int) (customers []domain.Customer, err error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		customers, err = tx.Customers().List(ctx, limit)
		return err
	})
	return customers, err
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, in CustomerInput) (customer domain.Customer, err error) {
	if strings.TrimSpace(in.FullName) == "" {
		return domain.Customer{}, domain.ErrNameRequired
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		current, err := tx.Customers().Get(ctx, id)
		if err != nil {
			return err
		}
		next := customerFromInput(id, in)
		next.CreatedAt = current.CreatedAt
		next.UpdatedAt = s.now()
		if err := tx.Customers().Update(ctx, next); err != nil {
			return err
		}
		customer = next
		return nil
	})
	return customer, err
}

// DeleteCustomer удаляет покупателя без заказов.
func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.Customers().Get(ctx, id); err != nil {
			return err
		}
		if used, err := tx.Orders().ExistsForCustomer(ctx, id); err != nil || used {
			return inUse(err, domain.ErrCustomerInUse)
		}
		return tx.Customers().Delete(ctx, id)
	})
}

func inUse(err, sentinel error) error {
	if err != nil {
		return err
	}
	return sentinel
}

func productFromInput(id string, in ProductInput) domain.Product {
	return domain.Product{
		ID:          id,
		Name:        strings.TrimSpace(in.Name),
		Category:    strings.TrimSpace(in.Category),
		UnitPrice:   domain.RoundMoney(in.UnitPrice),
		SKU:         strings.TrimSpace(in.SKU),
		Description: in.Description,
	}
}

func customerFromInput(id string, in CustomerInput) domain.Customer {
	return domain.Customer{
		ID:       id,
		FullName: strings.TrimSpace(in.FullName),
		Email:    strings.TrimSpace(in.Email),
		Phone:    strings.TrimSpace(in.Phone),
		Address:  strings.TrimSpace(in.Address),
	}
}
