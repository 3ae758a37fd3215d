package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/ims/internal/domain"
	"github.com/vladislavdragonenkov/ims/internal/service/catalog"
)

type productRequest struct {
	Name        string          `json:"name" binding:"required,max=255"`
	Category    string          `json:"category" binding:"max=100"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	SKU         string          `json:"sku" binding:"required,max=64"`
	Description string          `json:"description"`
}

type warehouseRequest struct {
	Name     string `json:"name" binding:"required,max=255"`
	Location string `json:"location" binding:"max=255"`
}

type customerRequest struct {
	FullName string `json:"full_name" binding:"required,max=255"`
	Email    string `json:"email" binding:"omitempty,email"`
	Phone    string `json:"phone" binding:"max=32"`
	Address  string `json:"address"`
}

type listProductsQuery struct {
	Category string `form:"category"`
	Search   string `form:"search"`
	Limit    int    `form:"limit" binding:"omitempty,min=1,max=1000"`
}

func (r productRequest) input() catalog.ProductInput {
	return catalog.ProductInput{
		Name:        r.Name,
		Category:    r.Category,
		UnitPrice:   r.UnitPrice,
		SKU:         r.SKU,
		Description: r.Description,
	}
}

func (r customerRequest) input() catalog.CustomerInput {
	return catalog.CustomerInput{FullName: r.FullName, Email: r.Email, Phone: r.Phone, Address: r.Address}
}

func (h *Handler) createProduct(c *gin.Context) {
	var req productRequest
	if !h.bindJSON(c, &req) {
		return
	}
	product, err := h.catalog.CreateProduct(c.Request.Context(), req.input())
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeOK(c, http.StatusCreated, "Product created successfully", toProductView(product))
}

func (h *Handler) getProduct(c *gin.Context) {
	product, err := h.catalog.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, "", toProductView(product))
}

func (h *Handler) listProducts(c *gin.Context) {
	var query listProductsQuery
	if !h.bindQuery(c, &query) {
		return
	}
	products, err := h.catalog.ListProducts(c.Request.Context(), domain.ProductFilter{
		Category: query.Category,
		Search:   query.Search,
		Limit:    query.Limit,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, "", mapSlice(products, toProductView))
}

func (h *Handler) updateProduct(c *gin.Context) {
	var req productRequest
	if !h.bindJSON(c, &req) {
		return
	}
	product, err := h.catalog.UpdateProduct(c.Request.Context(), c.Param("id"), req.input())
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, "Product updated successfully", toProductView(product))
}

func (h *Handler) deleteProduct(c *gin.Context) {
	if err := h.catalog.DeleteProduct(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, "Product deleted successfully", nil)
}

func (h *Handler) createWarehouse(c *gin.Context) {
	var req warehouseRequest
	if !h.bindJSON(c, &req) {
		return
	}
	warehouse, err := h.catalog.CreateWarehouse(c.Request.Context(), catalog.WarehouseInput{Name: req.Name, Location: req.Location})
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeOK(c, http.StatusCreated, "Warehouse created successfully", toWarehouseView(warehouse))
}

func (h *Handler) getWarehouse(c *gin.Context) {
	warehouse, err := h.catalog.GetWarehouse(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, "", toWarehouseView(warehouse))
}

func (h *Handler) listWarehouses(c *gin.Context) {
	var query limitQuery
	if !h.bindQuery(c, &query) {
		return
	}
	warehouses, err := h.catalog.ListWarehouses(c.Request.Context(), query.Limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, "", mapSlice(warehouses, toWarehouseView))
}

func (h *Handler) updateWarehouse(c *gin.Context) {
	var req warehouseRequest
	if !h.bindJSON(c, &req) {
		return
	}
	warehouse, err := h.catalog.UpdateWarehouse(c.Request.Context(), c.Param("id"), catalog.WarehouseInput{Name: req.Name, Location: req.Location})
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, "Warehouse updated successfully", toWarehouseView(warehouse))
}

func (h *Handler) deleteWarehouse(c *gin.Context) {
	if err := h.catalog.DeleteWarehouse(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, "Warehouse deleted successfully", nil)
}

func (h *Handler) createCustomer(c *gin.Context) {
	var req customerRequest
	if !h.bindJSON(c, &req) {
		return
	}
	customer, err := h.catalog.CreateCustomer(c.Request.Context(), req.input())
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeOK(c, http.StatusCreated, "Customer created successfully", toCustomerView(customer))
}

func (h *Handler) getCustomer(c *gin.Context) {
	customer, err := h.catalog.GetCustomer(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, "", toCustomerView(customer))
}

func (h *Handler) listCustomers(c *gin.Context) {
	var query limitQuery
	if !h.bindQuery(c, &query) {
		return
	}
	customers, err := h.catalog.ListCustomers(c.Request.Context(), query.Limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, "", mapSlice(customers, toCustomerView))
}

func (h *Handler) updateCustomer(c *gin.Context) {
	var req customerRequest
	if !h.bindJSON(c, &req) {
		return
	}
	customer, err := h.catalog.UpdateCustomer(c.Request.Context(), c.Param("id"), req.input())
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, "Customer updated successfully", toCustomerView(customer))
}

func (h *Handler) deleteCustomer(c *gin.Context) {
	if err := h.catalog.DeleteCustomer(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, "Customer deleted successfully", nil)
}
