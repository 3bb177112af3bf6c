package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emprendedores-unidos/marketplace/internal/config"
	"github.com/emprendedores-unidos/marketplace/internal/models"
	"github.com/emprendedores-unidos/marketplace/internal/utils"
)

func defaultPricing() PricingPolicy {
	return NewPricingPolicy(config.PricingConfig{
		FreeShippingThreshold: 50000,
		FlatShippingFee:       5000,
		TaxRate:               0.19,
	})
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestPricingQuote(t *testing.T) {
	pricing := defaultPricing()

	cases := []struct {
		name                 string
		subtotal             string
		shipping, tax, total string
	}{
		{"below threshold", "45000", "5000", "8550", "58550"},
		{"above threshold", "60000", "0", "11400", "71400"},
		{"exactly threshold", "50000", "0", "9500", "59500"},
		{"small order", "40000", "5000", "7600", "52600"},
		{"fractional tax rounds to cents", "1000.55", "5000", "190.1", "6190.65"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := pricing.Quote(dec(tc.subtotal))
			assert.True(t, dec(tc.shipping).Equal(q.Shipping), "shipping %s", q.Shipping)
			assert.True(t, dec(tc.tax).Equal(q.Tax), "tax %s", q.Tax)
			assert.True(t, dec(tc.total).Equal(q.Total), "total %s", q.Total)
			assert.True(t, q.Subtotal.Add(q.Shipping).Add(q.Tax).Equal(q.Total))
		})
	}
}

func TestMergeItemRequests(t *testing.T) {
	a := uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000000")
	b := uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000000")

	merged, err := mergeItemRequests([]ItemRequest{
		{ProductID: b, Quantity: 1},
		{ProductID: a, Quantity: 2},
		{ProductID: b, Quantity: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, []ItemRequest{{ProductID: a, Quantity: 2}, {ProductID: b, Quantity: 4}}, merged)
}

func TestMergeItemRequestsRejectsInvalid(t *testing.T) {
	_, err := mergeItemRequests(nil)
	assert.True(t, utils.IsKind(err, utils.KindValidation))

	_, err = mergeItemRequests([]ItemRequest{{ProductID: uuid.New(), Quantity: 0}})
	assert.True(t, utils.IsKind(err, utils.KindValidation))

	_, err = mergeItemRequests([]ItemRequest{{ProductID: uuid.Nil, Quantity: 1}})
	assert.True(t, utils.IsKind(err, utils.KindValidation))
}

func TestReservationOrderItemsSnapshot(t *testing.T) {
	storeID := uuid.New()
	product := models.Product{StoreID: storeID, Name: "Mochila wayuu", Price: dec("15000")}
	product.ID = uuid.New()

	res := &Reservation{Lines: []ReservedLine{{
		Product:   product,
		Quantity:  3,
		UnitPrice: product.Price,
		Subtotal:  dec("45000"),
	}}}

	items := res.OrderItems()
	require.Len(t, items, 1)
	assert.Equal(t, product.ID, items[0].ProductID)
	assert.Equal(t, storeID, items[0].StoreID)
	assert.Equal(t, "Mochila wayuu", items[0].ProductName)
	assert.Equal(t, 3, items[0].Quantity)
	assert.True(t, dec("45000").Equal(items[0].Subtotal))
}
