package tests

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/emprendedores-unidos/marketplace/internal/models"
	"github.com/emprendedores-unidos/marketplace/internal/services"
	"github.com/emprendedores-unidos/marketplace/internal/utils"
)

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (s *MarketplaceSuite) order(buyer *models.User, lines ...services.ItemRequest) (*models.Order, error) {
	return s.orders.Create(context.Background(), buyer.ID, &services.CreateOrderRequest{
		Items: lines,
		ShippingAddress: models.ShippingAddress{
			Street: "Calle 10 # 5-20",
			City:   "Bogotá",
			Region: "Cundinamarca",
		},
	})
}

func (s *MarketplaceSuite) payOrder(buyer *models.User, order *models.Order) *services.ConfirmPaymentResponse {
	ctx := context.Background()
	intent, err := s.payments.CreatePaymentIntent(ctx, buyer.ID, &services.CreatePaymentIntentRequest{OrderID: order.ID})
	s.Require().NoError(err)

	paid, err := s.payments.ConfirmPayment(ctx, buyer.ID, &services.ConfirmPaymentRequest{
		OrderID:         order.ID,
		PaymentIntentID: intent.Reference,
	})
	s.Require().NoError(err)
	return paid
}

func (s *MarketplaceSuite) TestConcurrentOrdersNeverOversell() {
	seller := s.createUser(models.RoleSeller)
	product := s.createProduct(s.createStore(seller, "Tejidos Wayuu"), "20000", 10)

	const buyers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, outOfStock := 0, 0

	for i := 0; i < buyers; i++ {
		buyer := s.createUser(models.RoleBuyer)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.order(buyer, services.ItemRequest{ProductID: product.ID, Quantity: 1})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case utils.IsKind(err, utils.KindInsufficientStock):
				outOfStock++
			default:
				s.T().Errorf("unexpected order error: %v", err)
			}
		}()
	}
	wg.Wait()

	s.Equal(10, succeeded)
	s.Equal(buyers-10, outOfStock)
	s.Equal(0, s.stockOf(product.ID))

	var count int64
	s.Require().NoError(s.db.Model(&models.Order{}).Count(&count).Error)
	s.Equal(int64(10), count)
}

func (s *MarketplaceSuite) TestOrderTotalsAndSnapshots() {
	seller := s.createUser(models.RoleSeller)
	store := s.createStore(seller, "Café de Origen")
	coffee := s.createProduct(store, "18000", 5)
	buyer := s.createUser(models.RoleBuyer)

	order, err := s.order(buyer, services.ItemRequest{ProductID: coffee.ID, Quantity: 2})
	s.Require().NoError(err)

	// 36000 is under the free shipping threshold
	s.True(mustDecimal("36000").Equal(order.Subtotal))
	s.True(mustDecimal("5000").Equal(order.ShippingCost))
	s.True(mustDecimal("6840").Equal(order.Tax))
	s.True(mustDecimal("47840").Equal(order.Total))
	s.Equal(models.OrderStatusPending, order.Status)

	s.Require().Len(order.Items, 1)
	s.Equal(store.ID, order.Items[0].StoreID)
	s.Equal(coffee.Name, order.Items[0].ProductName)
	s.Equal(3, s.stockOf(coffee.ID))
}

func (s *MarketplaceSuite) TestUnknownProductRejectsWholeOrder() {
	seller := s.createUser(models.RoleSeller)
	product := s.createProduct(s.createStore(seller, "Cerámica Ráquira"), "45000", 4)
	buyer := s.createUser(models.RoleBuyer)

	_, err := s.order(buyer,
		services.ItemRequest{ProductID: product.ID, Quantity: 1},
		services.ItemRequest{ProductID: uuid.New(), Quantity: 1},
	)
	s.Require().Error(err)
	s.Equal("PRODUCT_NOT_FOUND", utils.AsAppError(err).Code)
	s.Equal(4, s.stockOf(product.ID))
}

func (s *MarketplaceSuite) TestSimulatedPaymentMarksOrderPaid() {
	seller := s.createUser(models.RoleSeller)
	store := s.createStore(seller, "Hamacas del Caribe")
	product := s.createProduct(store, "120000", 3)
	buyer := s.createUser(models.RoleBuyer)

	order, err := s.order(buyer, services.ItemRequest{ProductID: product.ID, Quantity: 1})
	s.Require().NoError(err)

	paid := s.payOrder(buyer, order)
	s.True(paid.Simulated)
	s.Equal(models.OrderStatusPaid, paid.Order.Status)
	s.NotNil(paid.Order.PaidAt)

	var reloaded models.Store
	s.Require().NoError(s.db.First(&reloaded, "id = ?", store.ID).Error)
	s.Equal(int64(1), reloaded.SalesCount)

	// a second confirmation finds the order no longer pending
	_, err = s.payments.ConfirmPayment(context.Background(), buyer.ID, &services.ConfirmPaymentRequest{
		OrderID:         order.ID,
		PaymentIntentID: paid.Order.PaymentReference,
	})
	s.True(utils.IsKind(err, utils.KindNotEligible))
}

func (s *MarketplaceSuite) TestRefundRestoresSnapshotQuantities() {
	ctx := context.Background()
	seller := s.createUser(models.RoleSeller)
	store := s.createStore(seller, "Mochilas Arhuacas")
	product := s.createProduct(store, "90000", 5)
	buyer := s.createUser(models.RoleBuyer)

	order, err := s.order(buyer, services.ItemRequest{ProductID: product.ID, Quantity: 2})
	s.Require().NoError(err)
	s.payOrder(buyer, order)

	// the seller restocks between payment and refund
	restock := 7
	updated, err := s.products.UpdateProduct(ctx, seller.ID, product.ID, &services.UpdateProductRequest{StockDelta: &restock})
	s.Require().NoError(err)
	s.Equal(10, updated.Stock)

	owner := services.Actor{ID: seller.ID, Role: seller.Role}
	refund, err := s.payments.Refund(ctx, owner, &services.RefundOrderRequest{OrderID: order.ID, Reason: "Producto defectuoso"})
	s.Require().NoError(err)
	s.True(refund.Simulated)
	s.Equal(models.OrderStatusCancelled, refund.Order.Status)
	s.Equal(12, s.stockOf(product.ID))

	_, err = s.payments.Refund(ctx, owner, &services.RefundOrderRequest{OrderID: order.ID, Reason: "otra vez"})
	s.True(utils.IsKind(err, utils.KindNotEligible))
	s.Equal(12, s.stockOf(product.ID))
}

func (s *MarketplaceSuite) TestRefundByStranger() {
	seller := s.createUser(models.RoleSeller)
	product := s.createProduct(s.createStore(seller, "Sombreros Vueltiaos"), "150000", 2)
	buyer := s.createUser(models.RoleBuyer)
	order, err := s.order(buyer, services.ItemRequest{ProductID: product.ID, Quantity: 1})
	s.Require().NoError(err)
	s.payOrder(buyer, order)

	other := s.createUser(models.RoleSeller)
	_, err = s.payments.Refund(context.Background(), services.Actor{ID: other.ID, Role: other.Role},
		&services.RefundOrderRequest{OrderID: order.ID, Reason: "no"})
	s.True(utils.IsKind(err, utils.KindAuthorization))
	s.Equal(1, s.stockOf(product.ID))
}

func (s *MarketplaceSuite) TestSellerStatusFlow() {
	ctx := context.Background()
	seller := s.createUser(models.RoleSeller)
	product := s.createProduct(s.createStore(seller, "Bolsos de Fique"), "60000", 2)
	buyer := s.createUser(models.RoleBuyer)
	order, err := s.order(buyer, services.ItemRequest{ProductID: product.ID, Quantity: 1})
	s.Require().NoError(err)
	actor := services.Actor{ID: seller.ID, Role: seller.Role}

	_, err = s.orders.UpdateStatus(ctx, actor, order.ID, &services.UpdateOrderStatusRequest{Status: models.OrderStatusShipped})
	s.Equal("INVALID_STATUS_TRANSITION", utils.AsAppError(err).Code)

	s.payOrder(buyer, order)

	shipped, err := s.orders.UpdateStatus(ctx, actor, order.ID, &services.UpdateOrderStatusRequest{
		Status:         models.OrderStatusShipped,
		TrackingNumber: "SRV-12345",
	})
	s.Require().NoError(err)
	s.Equal(models.OrderStatusShipped, shipped.Status)
	s.NotNil(shipped.EstimatedDelivery)

	sales, total, err := s.orders.ListForSeller(ctx, seller.ID, utils.PaginationParams{Page: 1, Limit: 10})
	s.Require().NoError(err)
	s.Equal(int64(1), total)
	s.Require().Len(sales, 1)
	s.Equal(order.ID, sales[0].ID)
}

func (s *MarketplaceSuite) TestConcurrentJoinCreatesOneConversation() {
	alice := s.createUser(models.RoleBuyer)
	bob := s.createUser(models.RoleSeller)

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 10)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := alice.ID, bob.ID
			if i%2 == 1 {
				a, b = b, a
			}
			conv, _, err := s.chat.JoinConversation(context.Background(), a, b)
			if s.NoError(err) {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	var count int64
	s.Require().NoError(s.db.Model(&models.Conversation{}).Count(&count).Error)
	s.Equal(int64(1), count)
	for _, id := range ids {
		s.Equal(ids[0], id)
	}
}

func (s *MarketplaceSuite) TestMessagingUnreadAndHistory() {
	ctx := context.Background()
	alice := s.createUser(models.RoleBuyer)
	bob := s.createUser(models.RoleSeller)

	_, conv, err := s.chat.SendMessage(ctx, alice.ID, bob.ID, "Hola, ¿tienes envíos a Medellín?", "")
	s.Require().NoError(err)
	_, _, err = s.chat.SendMessage(ctx, alice.ID, bob.ID, "Es para un regalo", models.MessageTypeText)
	s.Require().NoError(err)

	list, err := s.chat.ListConversations(ctx, bob.ID, 20, 0)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(conv.ID, list[0].ID)
	s.Equal(alice.ID, list[0].OtherUser.ID)
	s.Equal(int64(2), list[0].UnreadCount)
	s.Equal("Es para un regalo", list[0].LastMessage)

	history, err := s.chat.History(ctx, bob.ID, conv.ID, 50, 0)
	s.Require().NoError(err)
	s.Require().Len(history, 2)
	s.Equal("Hola, ¿tienes envíos a Medellín?", history[0].Content)
	s.Equal(models.MessageTypeText, history[0].Type)

	updated, err := s.chat.MarkRead(ctx, bob.ID, conv.ID)
	s.Require().NoError(err)
	s.Equal(int64(2), updated)

	updated, err = s.chat.MarkRead(ctx, bob.ID, conv.ID)
	s.Require().NoError(err)
	s.Zero(updated)

	// the sender's own messages never count as unread for them
	list, err = s.chat.ListConversations(ctx, alice.ID, 20, 0)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Zero(list[0].UnreadCount)

	stranger := s.createUser(models.RoleBuyer)
	_, err = s.chat.History(ctx, stranger.ID, conv.ID, 50, 0)
	s.True(utils.IsKind(err, utils.KindAuthorization))
}

func (s *MarketplaceSuite) TestSellerRegistrationGetsUniqueSlug() {
	ctx := context.Background()
	first, err := s.auth.Register(ctx, &services.RegisterRequest{
		Name:      "Lucía Pérez",
		Email:     "lucia@example.com",
		Password:  "secreto123",
		Role:      models.RoleSeller,
		StoreName: "Café Luna",
	})
	s.Require().NoError(err)
	s.Require().NotNil(first.Store)
	s.Equal("cafe-luna", first.Store.Slug)
	s.NotEmpty(first.AccessToken)

	second, err := s.auth.Register(ctx, &services.RegisterRequest{
		Name:      "Andrés Gómez",
		Email:     "andres@example.com",
		Password:  "secreto123",
		Role:      models.RoleSeller,
		StoreName: "Cafe Luna",
	})
	s.Require().NoError(err)
	s.Equal("cafe-luna-2", second.Store.Slug)

	_, err = s.auth.Register(ctx, &services.RegisterRequest{
		Name:     "Otra Lucía",
		Email:    "LUCIA@example.com",
		Password: "secreto123",
	})
	s.True(utils.IsKind(err, utils.KindConflict))

	user, err := s.auth.Authenticate(ctx, second.AccessToken)
	s.Require().NoError(err)
	s.Equal(second.User.ID, user.ID)
}

func (s *MarketplaceSuite) TestRefundRacingCancellationReleasesOnce() {
	ctx := context.Background()
	seller := s.createUser(models.RoleSeller)
	product := s.createProduct(s.createStore(seller, "Chocolates de Santander"), "15000", 5)
	buyer := s.createUser(models.RoleBuyer)
	order, err := s.order(buyer, services.ItemRequest{ProductID: product.ID, Quantity: 2})
	s.Require().NoError(err)
	s.payOrder(buyer, order)
	s.Equal(3, s.stockOf(product.ID))

	actor := services.Actor{ID: seller.ID, Role: seller.Role}
	errs := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = s.payments.Refund(ctx, actor, &services.RefundOrderRequest{OrderID: order.ID, Reason: "Cliente desistió"})
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = s.orders.UpdateStatus(ctx, actor, order.ID, &services.UpdateOrderStatusRequest{Status: models.OrderStatusCancelled})
	}()
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		s.True(utils.IsKind(err, utils.KindNotEligible), "loser got %v", err)
	}
	s.Equal(1, succeeded)
	s.Equal(5, s.stockOf(product.ID))

	var reloaded models.Order
	s.Require().NoError(s.db.First(&reloaded, "id = ?", order.ID).Error)
	s.Equal(models.OrderStatusCancelled, reloaded.Status)
}

func (s *MarketplaceSuite) TestMultiStoreOrderNeedsEveryStoreForStatus() {
	ctx := context.Background()
	first := s.createUser(models.RoleSeller)
	second := s.createUser(models.RoleSeller)
	hat := s.createProduct(s.createStore(first, "Sombreros"), "40000", 3)
	bag := s.createProduct(s.createStore(second, "Bolsos"), "55000", 3)
	buyer := s.createUser(models.RoleBuyer)

	order, err := s.order(buyer,
		services.ItemRequest{ProductID: hat.ID, Quantity: 1},
		services.ItemRequest{ProductID: bag.ID, Quantity: 2},
	)
	s.Require().NoError(err)
	s.payOrder(buyer, order)

	partial := services.Actor{ID: first.ID, Role: first.Role}
	_, err = s.orders.UpdateStatus(ctx, partial, order.ID, &services.UpdateOrderStatusRequest{Status: models.OrderStatusShipped})
	s.True(utils.IsKind(err, utils.KindAuthorization))

	// either seller sees the order
	_, err = s.orders.Get(ctx, partial, order.ID)
	s.NoError(err)

	// a refund by one seller restocks every line
	_, err = s.payments.Refund(ctx, partial, &services.RefundOrderRequest{OrderID: order.ID, Reason: "Envío imposible"})
	s.Require().NoError(err)
	s.Equal(3, s.stockOf(hat.ID))
	s.Equal(3, s.stockOf(bag.ID))
}

func (s *MarketplaceSuite) TestSellerCancellationReleasesStock() {
	seller := s.createUser(models.RoleSeller)
	product := s.createProduct(s.createStore(seller, "Cerámica Carmen de Viboral"), "35000", 5)
	buyer := s.createUser(models.RoleBuyer)
	order, err := s.order(buyer, services.ItemRequest{ProductID: product.ID, Quantity: 2})
	s.Require().NoError(err)
	s.Equal(3, s.stockOf(product.ID))

	cancelled, err := s.orders.UpdateStatus(context.Background(), services.Actor{ID: seller.ID, Role: seller.Role}, order.ID,
		&services.UpdateOrderStatusRequest{Status: models.OrderStatusCancelled})
	s.Require().NoError(err)
	s.Equal(models.OrderStatusCancelled, cancelled.Status)
	s.Equal(5, s.stockOf(product.ID))
}

func (s *MarketplaceSuite) TestDeliveredOrderIsFinal() {
	ctx := context.Background()
	seller := s.createUser(models.RoleSeller)
	product := s.createProduct(s.createStore(seller, "Café del Huila"), "28000", 4)
	buyer := s.createUser(models.RoleBuyer)
	order, err := s.order(buyer, services.ItemRequest{ProductID: product.ID, Quantity: 1})
	s.Require().NoError(err)
	s.payOrder(buyer, order)

	actor := services.Actor{ID: seller.ID, Role: seller.Role}
	for _, next := range []models.OrderStatus{models.OrderStatusShipped, models.OrderStatusDelivered} {
		_, err = s.orders.UpdateStatus(ctx, actor, order.ID, &services.UpdateOrderStatusRequest{Status: next})
		s.Require().NoError(err)
	}

	for _, next := range []models.OrderStatus{models.OrderStatusCancelled, models.OrderStatusShipped, models.OrderStatusDelivered} {
		_, err = s.orders.UpdateStatus(ctx, actor, order.ID, &services.UpdateOrderStatusRequest{Status: next})
		s.Equal("INVALID_STATUS_TRANSITION", utils.AsAppError(err).Code, string(next))
	}

	_, err = s.payments.Refund(ctx, actor, &services.RefundOrderRequest{OrderID: order.ID, Reason: "tarde"})
	s.True(utils.IsKind(err, utils.KindNotEligible))
	s.Equal(3, s.stockOf(product.ID))
}

func (s *MarketplaceSuite) TestConfirmRequiresIssuedReference() {
	ctx := context.Background()
	seller := s.createUser(models.RoleSeller)
	store := s.createStore(seller, "Filigrana Momposina")
	product := s.createProduct(store, "210000", 2)
	buyer := s.createUser(models.RoleBuyer)
	order, err := s.order(buyer, services.ItemRequest{ProductID: product.ID, Quantity: 1})
	s.Require().NoError(err)

	_, err = s.payments.ConfirmPayment(ctx, buyer.ID, &services.ConfirmPaymentRequest{
		OrderID:         order.ID,
		PaymentIntentID: "pi_simulated_anything",
	})
	s.True(utils.IsKind(err, utils.KindNotEligible))

	_, err = s.payments.CreatePaymentIntent(ctx, buyer.ID, &services.CreatePaymentIntentRequest{OrderID: order.ID})
	s.Require().NoError(err)

	for _, forged := range []string{"pi_simulated_anything", "pi_simulated_" + order.ID.String() + "_forged"} {
		_, err = s.payments.ConfirmPayment(ctx, buyer.ID, &services.ConfirmPaymentRequest{
			OrderID:         order.ID,
			PaymentIntentID: forged,
		})
		s.True(utils.IsKind(err, utils.KindValidation), forged)
	}

	var reloaded models.Order
	s.Require().NoError(s.db.First(&reloaded, "id = ?", order.ID).Error)
	s.Equal(models.OrderStatusPending, reloaded.Status)
	s.Nil(reloaded.PaidAt)

	var reloadedStore models.Store
	s.Require().NoError(s.db.First(&reloadedStore, "id = ?", store.ID).Error)
	s.Zero(reloadedStore.SalesCount)
}

func (s *MarketplaceSuite) TestRestockRacingOrderKeepsBoth() {
	ctx := context.Background()
	seller := s.createUser(models.RoleSeller)
	product := s.createProduct(s.createStore(seller, "Arepas Boyacenses"), "6000", 5)
	buyer := s.createUser(models.RoleBuyer)

	var wg sync.WaitGroup
	var orderErr, restockErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, orderErr = s.order(buyer, services.ItemRequest{ProductID: product.ID, Quantity: 2})
	}()
	go func() {
		defer wg.Done()
		delta := 5
		_, restockErr = s.products.UpdateProduct(ctx, seller.ID, product.ID, &services.UpdateProductRequest{StockDelta: &delta})
	}()
	wg.Wait()

	s.Require().NoError(orderErr)
	s.Require().NoError(restockErr)
	s.Equal(8, s.stockOf(product.ID))

	drain := -9
	_, err := s.products.UpdateProduct(ctx, seller.ID, product.ID, &services.UpdateProductRequest{StockDelta: &drain})
	s.True(utils.IsKind(err, utils.KindInsufficientStock))
	s.Equal(8, s.stockOf(product.ID))
}
