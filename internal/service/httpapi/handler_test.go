package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/ims/internal/domain"
	"github.com/vladislavdragonenkov/ims/internal/service/catalog"
	"github.com/vladislavdragonenkov/ims/internal/service/orders"
	"github.com/vladislavdragonenkov/ims/internal/service/stock"
	"github.com/vladislavdragonenkov/ims/internal/storage/memory"
)

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   *struct {
		Code    string          `json:"code"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

type HandlerSuite struct {
	suite.Suite
	router *gin.Engine

	productID  string
	warehouses []string
	customerID string
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func newTestHandler(cfg Config) *Handler {
	store := memory.NewStore()
	ledger := stock.NewLedger(nil)
	return NewHandler(Dependencies{
		Orders:      orders.NewCoordinator(store, ledger),
		Stock:       stock.NewService(store, ledger),
		Catalog:     catalog.NewService(store, nil),
		Idempotency: memory.NewIdempotencyRepository(),
	}, cfg)
}

func (s *HandlerSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	s.router = newTestHandler(Config{}).Router()

	var product productView
	s.mustDecode(s.do(http.MethodPost, "/api/v1/products", map[string]any{
		"name": "Widget", "sku": "W-1", "unit_price": "10.00",
	}, nil), http.StatusCreated, &product)
	s.productID = product.ID

	s.warehouses = nil
	for _, name := range []string{"North", "South"} {
		var warehouse warehouseView
		s.mustDecode(s.do(http.MethodPost, "/api/v1/warehouses", map[string]any{"name": name}, nil), http.StatusCreated, &warehouse)
		s.warehouses = append(s.warehouses, warehouse.ID)
	}

	var customer customerView
	s.mustDecode(s.do(http.MethodPost, "/api/v1/customers", map[string]any{
		"full_name": "Ann Lee", "email": "ann@example.com",
	}, nil), http.StatusCreated, &customer)
	s.customerID = customer.ID
}

func (s *HandlerSuite) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) decode(rec *httptest.ResponseRecorder) apiResponse {
	var resp apiResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func (s *HandlerSuite) mustDecode(rec *httptest.ResponseRecorder, status int, dst any) {
	s.Require().Equal(status, rec.Code, rec.Body.String())
	resp := s.decode(rec)
	s.Require().True(resp.Success)
	if dst != nil {
		s.Require().NoError(json.Unmarshal(resp.Data, dst))
	}
}

func (s *HandlerSuite) stockIn(warehouseIdx int, qty int64) stockRecordView {
	var rec stockRecordView
	s.mustDecode(s.do(http.MethodPost, "/api/v1/inventory", map[string]any{
		"product_id": s.productID, "warehouse_id": s.warehouses[warehouseIdx], "quantity": qty,
	}, nil), http.StatusCreated, &rec)
	return rec
}

func (s *HandlerSuite) orderBody(qty int64) map[string]any {
	return map[string]any{
		"customer_id":    s.customerID,
		"payment_method": "Cash",
		"items":          []map[string]any{{"product_id": s.productID, "quantity": qty}},
	}
}

func (s *HandlerSuite) quantities() map[string]int64 {
	var records []stockRecordView
	s.mustDecode(s.do(http.MethodGet, "/api/v1/inventory?product_id="+s.productID, nil, nil), http.StatusOK, &records)
	result := make(map[string]int64, len(records))
	for _, rec := range records {
		result[rec.WarehouseID] = rec.Quantity
	}
	return result
}

func (s *HandlerSuite) TestCreateOrderDrainsOldestStockFirst() {
	s.stockIn(0, 4)
	s.stockIn(1, 10)

	var order orderView
	s.mustDecode(s.do(http.MethodPost, "/api/v1/orders", s.orderBody(6), nil), http.StatusCreated, &order)

	s.Equal("60.00", order.TotalAmount)
	s.Equal("Pending", order.OrderStatus)
	s.Require().Len(order.Items, 1)
	s.Equal("60.00", order.Items[0].Subtotal)
	s.Len(order.Items[0].Allocations, 2)

	s.Equal(map[string]int64{s.warehouses[0]: 0, s.warehouses[1]: 8}, s.quantities())

	var fetched orderView
	s.mustDecode(s.do(http.MethodGet, "/api/v1/orders/"+order.ID, nil, nil), http.StatusOK, &fetched)
	s.Equal(order.ID, fetched.ID)
}

func (s *HandlerSuite) TestCreateOrderInsufficientStock() {
	s.stockIn(0, 4)

	rec := s.do(http.MethodPost, "/api/v1/orders", s.orderBody(10), nil)
	s.Require().Equal(http.StatusConflict, rec.Code)

	resp := s.decode(rec)
	s.False(resp.Success)
	s.Require().NotNil(resp.Error)
	s.Equal(codeInsufficientStock, resp.Error.Code)

	var details insufficientStockDetails
	s.Require().NoError(json.Unmarshal(resp.Error.Details, &details))
	s.Equal(s.productID, details.ProductID)
	s.Equal(int64(10), details.Requested)
	s.Equal(int64(4), details.Available)
	s.Equal(int64(6), details.Shortfall)

	s.Equal(map[string]int64{s.warehouses[0]: 4}, s.quantities())
}

func (s *HandlerSuite) TestCreateOrderValidation() {
	rec := s.do(http.MethodPost, "/api/v1/orders", map[string]any{
		"customer_id": s.customerID, "payment_method": "Cash",
	}, nil)
	s.Require().Equal(http.StatusBadRequest, rec.Code)

	resp := s.decode(rec)
	s.Equal(codeValidation, resp.Error.Code)
	var fields map[string]string
	s.Require().NoError(json.Unmarshal(resp.Error.Details, &fields))
	s.Contains(fields, "items")

	rec = s.do(http.MethodPost, "/api/v1/orders", s.orderBody(0), nil)
	s.Require().Equal(http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	raw := httptest.NewRecorder()
	s.router.ServeHTTP(raw, req)
	s.Equal(http.StatusBadRequest, raw.Code)
	s.Equal(codeInvalidInput, s.decode(raw).Error.Code)

	body := s.orderBody(1)
	body["customer_id"] = "missing"
	rec = s.do(http.MethodPost, "/api/v1/orders", body, nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerSuite) TestCreateOrderIdempotencyReplay() {
	s.stockIn(0, 10)
	headers := map[string]string{idempotencyKeyHeader: "order-key-1"}

	first := s.do(http.MethodPost, "/api/v1/orders", s.orderBody(3), headers)
	s.Require().Equal(http.StatusCreated, first.Code)

	second := s.do(http.MethodPost, "/api/v1/orders", s.orderBody(3), headers)
	s.Require().Equal(http.StatusCreated, second.Code)
	s.Equal("true", second.Header().Get(idempotencyReplayHeader))
	s.JSONEq(first.Body.String(), second.Body.String())

	s.Equal(map[string]int64{s.warehouses[0]: 7}, s.quantities())

	conflict := s.do(http.MethodPost, "/api/v1/orders", s.orderBody(4), headers)
	s.Equal(http.StatusConflict, conflict.Code)
	s.Equal(codeIdempotencyConflict, s.decode(conflict).Error.Code)
}

func (s *HandlerSuite) TestIdempotencyReplaysClientErrors() {
	headers := map[string]string{idempotencyKeyHeader: "order-key-2"}

	first := s.do(http.MethodPost, "/api/v1/orders", s.orderBody(5), headers)
	s.Require().Equal(http.StatusConflict, first.Code)

	s.stockIn(0, 10)

	second := s.do(http.MethodPost, "/api/v1/orders", s.orderBody(5), headers)
	s.Equal(http.StatusConflict, second.Code)
	s.Equal("true", second.Header().Get(idempotencyReplayHeader))
	s.Equal(map[string]int64{s.warehouses[0]: 10}, s.quantities())
}

func (s *HandlerSuite) TestTransfer() {
	source := s.stockIn(0, 10)

	var result transferView
	s.mustDecode(s.do(http.MethodPost, "/api/v1/inventory/transfer", map[string]any{
		"product_id":        s.productID,
		"from_warehouse_id": s.warehouses[0],
		"to_warehouse_id":   s.warehouses[1],
		"quantity":          10,
	}, nil), http.StatusOK, &result)

	s.Equal(source.ID, result.Source.ID)
	s.Equal(int64(0), result.Source.Quantity)
	s.Equal(int64(10), result.Destination.Quantity)
	s.NotEmpty(result.TransferID)

	rec := s.do(http.MethodPost, "/api/v1/inventory/transfer", map[string]any{
		"product_id":        s.productID,
		"from_warehouse_id": s.warehouses[1],
		"to_warehouse_id":   s.warehouses[1],
		"quantity":          1,
	}, nil)
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal(codeInvalidInput, s.decode(rec).Error.Code)

	rec = s.do(http.MethodPost, "/api/v1/inventory/transfer", map[string]any{
		"product_id":        s.productID,
		"from_warehouse_id": s.warehouses[0],
		"to_warehouse_id":   s.warehouses[1],
		"quantity":          1,
	}, nil)
	s.Equal(http.StatusConflict, rec.Code)
	s.Equal(map[string]int64{s.warehouses[0]: 0, s.warehouses[1]: 10}, s.quantities())
}

func (s *HandlerSuite) TestAdjustAndMovements() {
	rec := s.stockIn(0, 5)
	path := "/api/v1/inventory/" + rec.ID

	var adjusted stockRecordView
	s.mustDecode(s.do(http.MethodPost, path+"/adjust", map[string]any{"quantity": 3, "operation": "add"}, nil), http.StatusOK, &adjusted)
	s.Equal(int64(8), adjusted.Quantity)

	s.mustDecode(s.do(http.MethodPost, path+"/adjust", map[string]any{"quantity": 2, "operation": "SET"}, nil), http.StatusOK, &adjusted)
	s.Equal(int64(2), adjusted.Quantity)

	resp := s.do(http.MethodPost, path+"/adjust", map[string]any{"quantity": 3, "operation": "subtract"}, nil)
	s.Equal(http.StatusConflict, resp.Code)

	resp = s.do(http.MethodPost, path+"/adjust", map[string]any{"quantity": 1, "operation": "multiply"}, nil)
	s.Equal(http.StatusBadRequest, resp.Code)

	resp = s.do(http.MethodPost, path+"/adjust", map[string]any{"quantity": int64(math.MaxInt64), "operation": "add"}, nil)
	s.Equal(http.StatusBadRequest, resp.Code, resp.Body.String())

	var movements []movementView
	s.mustDecode(s.do(http.MethodGet, path+"/movements", nil, nil), http.StatusOK, &movements)
	s.Require().Len(movements, 3)
	s.Equal("adjust_set", movements[0].Kind)
	s.Equal(int64(-6), movements[0].Delta)

	resp = s.do(http.MethodGet, "/api/v1/inventory/missing/movements", nil, nil)
	s.Equal(http.StatusNotFound, resp.Code)
}

func (s *HandlerSuite) TestAdjustIdempotencyReplay() {
	first := s.stockIn(0, 5)
	second := s.stockIn(1, 5)
	headers := map[string]string{idempotencyKeyHeader: "adjust-key-1"}
	body := map[string]any{"quantity": 4, "operation": "add"}

	var adjusted stockRecordView
	s.mustDecode(s.do(http.MethodPost, "/api/v1/inventory/"+first.ID+"/adjust", body, headers), http.StatusOK, &adjusted)
	s.Equal(int64(9), adjusted.Quantity)

	replayed := s.do(http.MethodPost, "/api/v1/inventory/"+first.ID+"/adjust", body, headers)
	s.Require().Equal(http.StatusOK, replayed.Code)
	s.Equal("true", replayed.Header().Get(idempotencyReplayHeader))

	// Тот же ключ и тело, но другая запись: это другой запрос.
	other := s.do(http.MethodPost, "/api/v1/inventory/"+second.ID+"/adjust", body, headers)
	s.Equal(http.StatusConflict, other.Code)
	s.Equal(codeIdempotencyConflict, s.decode(other).Error.Code)

	s.Equal(map[string]int64{s.warehouses[0]: 9, s.warehouses[1]: 5}, s.quantities())
}

func (s *HandlerSuite) TestStockRecordCRUD() {
	rec := s.stockIn(0, 5)

	resp := s.do(http.MethodPost, "/api/v1/inventory", map[string]any{
		"product_id": s.productID, "warehouse_id": s.warehouses[0], "quantity": 1,
	}, nil)
	s.Equal(http.StatusConflict, resp.Code)
	s.Equal(codeDuplicate, s.decode(resp).Error.Code)

	resp = s.do(http.MethodPost, "/api/v1/inventory", map[string]any{
		"product_id": s.productID, "warehouse_id": s.warehouses[1],
	}, nil)
	s.Equal(http.StatusBadRequest, resp.Code)

	var updated stockRecordView
	s.mustDecode(s.do(http.MethodPut, "/api/v1/inventory/"+rec.ID, map[string]any{
		"product_id": s.productID, "warehouse_id": s.warehouses[1], "quantity": 7,
	}, nil), http.StatusOK, &updated)
	s.Equal(s.warehouses[1], updated.WarehouseID)
	s.Equal(int64(7), updated.Quantity)

	resp = s.do(http.MethodDelete, "/api/v1/warehouses/"+s.warehouses[1], nil, nil)
	s.Equal(http.StatusConflict, resp.Code)
	s.Equal(codeInUse, s.decode(resp).Error.Code)

	s.mustDecode(s.do(http.MethodDelete, "/api/v1/inventory/"+rec.ID, nil, nil), http.StatusOK, nil)
	s.mustDecode(s.do(http.MethodDelete, "/api/v1/inventory/"+rec.ID, nil, nil), http.StatusOK, nil)
	s.Equal(http.StatusNotFound, s.do(http.MethodGet, "/api/v1/inventory/"+rec.ID, nil, nil).Code)
}

func (s *HandlerSuite) TestOrderStatusFlow() {
	s.stockIn(0, 5)

	var order orderView
	s.mustDecode(s.do(http.MethodPost, "/api/v1/orders", s.orderBody(2), nil), http.StatusCreated, &order)
	path := "/api/v1/orders/" + order.ID + "/status"

	resp := s.do(http.MethodPatch, path, map[string]any{"order_status": "Lost"}, nil)
	s.Equal(http.StatusUnprocessableEntity, resp.Code)

	s.mustDecode(s.do(http.MethodPatch, path, map[string]any{"order_status": "shipped"}, nil), http.StatusOK, &order)
	s.Equal("Shipped", order.OrderStatus)

	resp = s.do(http.MethodPatch, path, map[string]any{"order_status": "Pending"}, nil)
	s.Equal(http.StatusUnprocessableEntity, resp.Code)
	s.Equal(codeInvalidTransition, s.decode(resp).Error.Code)

	for i := 0; i < 2; i++ {
		s.mustDecode(s.do(http.MethodPatch, path, map[string]any{"order_status": "Cancelled"}, nil), http.StatusOK, &order)
	}
	s.Equal("Cancelled", order.OrderStatus)
	s.Equal(map[string]int64{s.warehouses[0]: 5}, s.quantities())

	var list []orderView
	s.mustDecode(s.do(http.MethodGet, "/api/v1/orders?status=cancelled", nil, nil), http.StatusOK, &list)
	s.Len(list, 1)

	s.Equal(http.StatusNotFound, s.do(http.MethodPatch, "/api/v1/orders/missing/status", map[string]any{"order_status": "Shipped"}, nil).Code)
	s.Equal(http.StatusConflict, s.do(http.MethodDelete, "/api/v1/customers/"+s.customerID, nil, nil).Code)
}

func (s *HandlerSuite) TestCatalogEndpoints() {
	var products []productView
	s.mustDecode(s.do(http.MethodGet, "/api/v1/products?search=widg", nil, nil), http.StatusOK, &products)
	s.Require().Len(products, 1)
	s.Equal("10.00", products[0].UnitPrice)

	resp := s.do(http.MethodPost, "/api/v1/products", map[string]any{"name": "Other", "sku": "W-1"}, nil)
	s.Equal(http.StatusConflict, resp.Code)

	resp = s.do(http.MethodPost, "/api/v1/products", map[string]any{"name": "Neg", "sku": "N-1", "unit_price": -1}, nil)
	s.Equal(http.StatusBadRequest, resp.Code)

	resp = s.do(http.MethodPost, "/api/v1/customers", map[string]any{"full_name": "Bob", "email": "not-an-email"}, nil)
	s.Equal(http.StatusBadRequest, resp.Code)
	var fields map[string]string
	s.Require().NoError(json.Unmarshal(s.decode(resp).Error.Details, &fields))
	s.Contains(fields, "email")

	var product productView
	s.mustDecode(s.do(http.MethodPut, "/api/v1/products/"+s.productID, map[string]any{
		"name": "Widget Pro", "sku": "W-1", "unit_price": 12.5,
	}, nil), http.StatusOK, &product)
	s.Equal("12.50", product.UnitPrice)

	s.mustDecode(s.do(http.MethodDelete, "/api/v1/products/"+s.productID, nil, nil), http.StatusOK, nil)
	s.Equal(http.StatusNotFound, s.do(http.MethodGet, "/api/v1/products/"+s.productID, nil, nil).Code)
	s.Equal(http.StatusNotFound, s.do(http.MethodGet, "/api/v1/unknown", nil, nil).Code)
}

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := newTestHandler(Config{RateLimitRPS: 1, RateLimitBurst: 1}).Router()

	send := func() int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/warehouses", nil)
		req.RemoteAddr = "192.0.2.10:4321"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusOK, send())
	require.Equal(t, http.StatusTooManyRequests, send())
}

func TestWriteErrorHidesInternalErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newTestHandler(Config{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	h.writeError(c, errors.New("connection reset by peer"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "connection reset")
	require.Contains(t, rec.Body.String(), codeInternal)
}

func TestIdempotencyReleasesKeyAfterPanic(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := memory.NewIdempotencyRepository()
	h := NewHandler(Dependencies{Idempotency: repo}, Config{})

	calls := 0
	engine := gin.New()
	engine.Use(h.recovery())
	engine.POST("/api/v1/inventory/:id/adjust", h.idempotent(domain.OperationStockAdjust), func(c *gin.Context) {
		calls++
		if calls == 1 {
			panic("ledger unavailable")
		}
		writeOK(c, http.StatusOK, "stock adjusted", map[string]int64{"quantity": 7})
	})

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/inventory/r-1/adjust", bytes.NewReader([]byte(`{"quantity":2,"operation":"add"}`)))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(idempotencyKeyHeader, "adjust-key-1")
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	require.Equal(t, http.StatusInternalServerError, first.Code)
	_, err := repo.Get(context.Background(), "adjust-key-1")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

	second := send()
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())
	require.Empty(t, second.Header().Get(idempotencyReplayHeader))
	require.Equal(t, 2, calls)

	record, err := repo.Get(context.Background(), "adjust-key-1")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusDone, record.Status)
}

func TestWriteErrorMapsVersionConflict(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newTestHandler(Config{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPatch, "/api/v1/orders/o-1/status", nil)

	h.writeError(c, fmt.Errorf("update order status: %w", domain.ErrOrderVersionConflict))

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), codeConcurrentModification)
}

func TestRequestHashIgnoresWhitespace(t *testing.T) {
	a := requestHash("orders.create", []byte(`{"a": 1, "b": [1, 2]}`))
	b := requestHash("orders.create", []byte("{\"a\":1,\n\"b\":[1,2]}"))
	require.Equal(t, a, b)
	require.NotEqual(t, a, requestHash("inventory.transfer", []byte(`{"a":1,"b":[1,2]}`)))
}
