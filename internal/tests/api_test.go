package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/google/uuid"

	"github.com/emprendedores-unidos/marketplace/internal/models"
	"github.com/emprendedores-unidos/marketplace/internal/services"
	"github.com/emprendedores-unidos/marketplace/internal/utils"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *utils.APIError `json:"error"`
}

func (s *MarketplaceSuite) tokenFor(user *models.User) string {
	token, err := utils.GenerateJWT(user.ID, user.Email, string(user.Role), 1)
	s.Require().NoError(err)
	return token
}

func (s *MarketplaceSuite) call(method, path string, user *models.User, body interface{}) (int, envelope) {
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
	req.Header.Set("Accept-Language", "en")
	if user != nil {
		req.Header.Set("Authorization", "Bearer "+s.tokenFor(user))
	}

	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var resp envelope
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w.Code, resp
}

func orderBody(lines ...map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"items": lines,
		"shipping_address": map[string]string{
			"street": "Carrera 7 # 12-34",
			"city":   "Cali",
		},
	}
}

func line(productID uuid.UUID, qty int) map[string]interface{} {
	return map[string]interface{}{"product_id": productID, "quantity": qty}
}

func (s *MarketplaceSuite) TestAPIOrderLifecycle() {
	seller := s.createUser(models.RoleSeller)
	product := s.createProduct(s.createStore(seller, "Artesanías del Pacífico"), "30000", 3)
	buyer := s.createUser(models.RoleBuyer)

	status, resp := s.call(http.MethodPost, "/v1/orders", buyer, orderBody(line(product.ID, 2)))
	s.Require().Equal(http.StatusCreated, status)
	s.True(resp.Success)
	var order models.Order
	s.Require().NoError(json.Unmarshal(resp.Data, &order))
	s.Equal(models.OrderStatusPending, order.Status)

	status, resp = s.call(http.MethodPost, "/v1/payments/create-intent", buyer, map[string]interface{}{"order_id": order.ID})
	s.Require().Equal(http.StatusOK, status)
	var intent struct {
		Reference string `json:"payment_intent_id"`
		Simulated bool   `json:"simulated"`
	}
	s.Require().NoError(json.Unmarshal(resp.Data, &intent))
	s.True(intent.Simulated)

	status, _ = s.call(http.MethodPost, "/v1/payments/confirm-payment", buyer, map[string]interface{}{
		"order_id":          order.ID,
		"payment_intent_id": intent.Reference,
	})
	s.Require().Equal(http.StatusOK, status)

	status, resp = s.call(http.MethodGet, "/v1/orders/"+order.ID.String(), buyer, nil)
	s.Require().Equal(http.StatusOK, status)
	var fetched models.Order
	s.Require().NoError(json.Unmarshal(resp.Data, &fetched))
	s.Equal(models.OrderStatusPaid, fetched.Status)

	status, _ = s.call(http.MethodPut, "/v1/orders/"+order.ID.String()+"/status", seller, map[string]string{"status": "shipped"})
	s.Equal(http.StatusOK, status)
}

func (s *MarketplaceSuite) TestAPIOrderRejections() {
	seller := s.createUser(models.RoleSeller)
	product := s.createProduct(s.createStore(seller, "Joyería Momposina"), "80000", 1)
	buyer := s.createUser(models.RoleBuyer)

	status, resp := s.call(http.MethodPost, "/v1/orders", buyer, orderBody(line(uuid.New(), 1)))
	s.Equal(http.StatusBadRequest, status)
	s.Require().NotNil(resp.Error)
	s.Equal("PRODUCT_NOT_FOUND", resp.Error.Code)

	status, resp = s.call(http.MethodPost, "/v1/orders", buyer, orderBody(line(product.ID, 2)))
	s.Equal(http.StatusBadRequest, status)
	s.Require().NotNil(resp.Error)
	s.Equal("INSUFFICIENT_STOCK", resp.Error.Code)

	status, _ = s.call(http.MethodPost, "/v1/orders", nil, orderBody(line(product.ID, 1)))
	s.Equal(http.StatusUnauthorized, status)
	s.Equal(1, s.stockOf(product.ID))
}

func (s *MarketplaceSuite) TestAPIOrderAccessControl() {
	seller := s.createUser(models.RoleSeller)
	product := s.createProduct(s.createStore(seller, "Ruanas de Boyacá"), "70000", 5)
	buyer := s.createUser(models.RoleBuyer)
	order, err := s.order(buyer, services.ItemRequest{ProductID: product.ID, Quantity: 1})
	s.Require().NoError(err)

	stranger := s.createUser(models.RoleBuyer)
	status, resp := s.call(http.MethodGet, "/v1/orders/"+order.ID.String(), stranger, nil)
	s.Equal(http.StatusNotFound, status)
	s.Require().NotNil(resp.Error)

	status, _ = s.call(http.MethodGet, "/v1/orders/"+order.ID.String(), seller, nil)
	s.Equal(http.StatusOK, status)

	otherSeller := s.createUser(models.RoleSeller)
	s.createStore(otherSeller, "Otra tienda")
	status, _ = s.call(http.MethodPut, "/v1/orders/"+order.ID.String()+"/status", otherSeller, map[string]string{"status": "cancelled"})
	s.Equal(http.StatusForbidden, status)

	// buyers never reach the seller routes
	status, _ = s.call(http.MethodPut, "/v1/orders/"+order.ID.String()+"/status", buyer, map[string]string{"status": "cancelled"})
	s.Equal(http.StatusForbidden, status)

	// paid is not a status a seller can set
	status, resp = s.call(http.MethodPut, "/v1/orders/"+order.ID.String()+"/status", seller, map[string]string{"status": "paid"})
	s.Equal(http.StatusBadRequest, status)
	s.Require().NotNil(resp.Error)

	// pending cannot jump to delivered
	status, resp = s.call(http.MethodPut, "/v1/orders/"+order.ID.String()+"/status", seller, map[string]string{"status": "delivered"})
	s.Equal(http.StatusBadRequest, status)
	s.Require().NotNil(resp.Error)
	s.Equal("INVALID_STATUS_TRANSITION", resp.Error.Code)

	status, _ = s.call(http.MethodGet, "/v1/orders/not-a-uuid", buyer, nil)
	s.Equal(http.StatusBadRequest, status)
}

func (s *MarketplaceSuite) TestAPIConfirmRejectsUnissuedReference() {
	seller := s.createUser(models.RoleSeller)
	product := s.createProduct(s.createStore(seller, "Cestería Guane"), "25000", 2)
	buyer := s.createUser(models.RoleBuyer)
	order, err := s.order(buyer, services.ItemRequest{ProductID: product.ID, Quantity: 1})
	s.Require().NoError(err)

	status, resp := s.call(http.MethodPost, "/v1/payments/confirm-payment", buyer, map[string]interface{}{
		"order_id":          order.ID,
		"payment_intent_id": "pi_simulated_" + order.ID.String() + "_1",
	})
	s.Equal(http.StatusBadRequest, status)
	s.Require().NotNil(resp.Error)
	s.Equal("ORDER_NOT_ELIGIBLE", resp.Error.Code)

	var reloaded models.Order
	s.Require().NoError(s.db.First(&reloaded, "id = ?", order.ID).Error)
	s.Equal(models.OrderStatusPending, reloaded.Status)
}

func (s *MarketplaceSuite) TestAPIRestockUsesDelta() {
	seller := s.createUser(models.RoleSeller)
	product := s.createProduct(s.createStore(seller, "Panela Orgánica"), "9000", 4)

	status, resp := s.call(http.MethodPut, "/v1/products/"+product.ID.String(), seller, map[string]int{"stock_delta": 6})
	s.Require().Equal(http.StatusOK, status)
	var updated models.Product
	s.Require().NoError(json.Unmarshal(resp.Data, &updated))
	s.Equal(10, updated.Stock)

	status, resp = s.call(http.MethodPut, "/v1/products/"+product.ID.String(), seller, map[string]int{"stock_delta": -11})
	s.Equal(http.StatusBadRequest, status)
	s.Require().NotNil(resp.Error)
	s.Equal("INSUFFICIENT_STOCK", resp.Error.Code)
	s.Equal(10, s.stockOf(product.ID))
}
