// internal/services/inventory_service.go
package services

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/emprendedores-unidos/marketplace/internal/config"
	"github.com/emprendedores-unidos/marketplace/internal/models"
	"github.com/emprendedores-unidos/marketplace/internal/utils"
)

// PricingPolicy turns a pre-tax subtotal into shipping, tax and total.
type PricingPolicy struct {
	FreeShippingThreshold decimal.Decimal
	FlatShippingFee       decimal.Decimal
	TaxRate               decimal.Decimal
}

func NewPricingPolicy(cfg config.PricingConfig) PricingPolicy {
	return PricingPolicy{
		FreeShippingThreshold: decimal.NewFromFloat(cfg.FreeShippingThreshold),
		FlatShippingFee:       decimal.NewFromFloat(cfg.FlatShippingFee),
		TaxRate:               decimal.NewFromFloat(cfg.TaxRate),
	}
}

type Quote struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Shipping decimal.Decimal `json:"shipping"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// Quote prices a subtotal. Shipping is waived at or above the threshold and tax
// applies to the subtotal only.
func (p PricingPolicy) Quote(subtotal decimal.Decimal) Quote {
	shipping := p.FlatShippingFee
	if subtotal.GreaterThanOrEqual(p.FreeShippingThreshold) {
		shipping = decimal.Zero
	}

	tax := subtotal.Mul(p.TaxRate).Round(2)

	return Quote{
		Subtotal: subtotal,
		Shipping: shipping,
		Tax:      tax,
		Total:    subtotal.Add(shipping).Add(tax),
	}
}

type ItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,min=1,max=1000"`
}

// ReservedLine is one priced, stock-decremented order line.
type ReservedLine struct {
	Product   models.Product
	Quantity  int
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
}

type Reservation struct {
	Lines []ReservedLine
	Quote Quote
}

// OrderItems converts the reservation into line items snapshotting price and store.
func (r *Reservation) OrderItems() []models.OrderItem {
	items := make([]models.OrderItem, 0, len(r.Lines))
	for _, line := range r.Lines {
		items = append(items, models.OrderItem{
			ProductID:   line.Product.ID,
			StoreID:     line.Product.StoreID,
			ProductName: line.Product.Name,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Subtotal:    line.Subtotal,
		})
	}
	return items
}

// InventoryService is the only writer of products.stock after a product is
// created. Every method takes the caller's transaction.
type InventoryService struct {
	pricing PricingPolicy
}

func NewInventoryService(pricing PricingPolicy) *InventoryService {
	return &InventoryService{pricing: pricing}
}

// Adjust adds delta to the product's stock relative to its current value, so
// a restock never overwrites units sold concurrently. Stock cannot go below
// zero. Returns the new stock.
func (s *InventoryService) Adjust(tx *gorm.DB, productID uuid.UUID, delta int) (int, error) {
	result := tx.Model(&models.Product{}).
		Where("id = ? AND stock + ? >= 0", productID, delta).
		UpdateColumn("stock", gorm.Expr("stock + ?", delta))
	if result.Error != nil {
		return 0, fmt.Errorf("failed to adjust stock for %s: %w", productID, result.Error)
	}

	var product models.Product
	if err := tx.Select("id", "name", "stock").First(&product, "id = ?", productID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, utils.NewNotFoundError("product")
		}
		return 0, fmt.Errorf("failed to read stock for %s: %w", productID, err)
	}

	if result.RowsAffected == 0 {
		return 0, utils.NewInsufficientStockError(utils.StockShortage{
			ProductID:   product.ID.String(),
			ProductName: product.Name,
			Requested:   -delta,
			Available:   product.Stock,
		})
	}
	return product.Stock, nil
}

// Reserve validates, prices and decrements stock for every requested item.
// Any error leaves the transaction to be rolled back by the caller, which
// undoes the decrements already applied.
func (s *InventoryService) Reserve(tx *gorm.DB, requests []ItemRequest) (*Reservation, error) {
	merged, err := mergeItemRequests(requests)
	if err != nil {
		return nil, err
	}

	reservation := &Reservation{Lines: make([]ReservedLine, 0, len(merged))}
	subtotal := decimal.Zero

	for _, req := range merged {
		var product models.Product
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND active = ?", req.ProductID, true).
			First(&product).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil, utils.NewProductNotFoundError(req.ProductID.String())
			}
			return nil, fmt.Errorf("failed to load product %s: %w", req.ProductID, err)
		}

		shortage := utils.StockShortage{
			ProductID:   product.ID.String(),
			ProductName: product.Name,
			Requested:   req.Quantity,
			Available:   product.Stock,
		}
		if product.Stock < req.Quantity {
			return nil, utils.NewInsufficientStockError(shortage)
		}

		// stock never goes negative even without the row lock
		result := tx.Model(&models.Product{}).
			Where("id = ? AND stock >= ?", product.ID, req.Quantity).
			UpdateColumn("stock", gorm.Expr("stock - ?", req.Quantity))
		if result.Error != nil {
			return nil, fmt.Errorf("failed to decrement stock for %s: %w", product.ID, result.Error)
		}
		if result.RowsAffected == 0 {
			return nil, utils.NewInsufficientStockError(shortage)
		}

		lineSubtotal := product.Price.Mul(decimal.NewFromInt(int64(req.Quantity)))
		reservation.Lines = append(reservation.Lines, ReservedLine{
			Product:   product,
			Quantity:  req.Quantity,
			UnitPrice: product.Price,
			Subtotal:  lineSubtotal,
		})
		subtotal = subtotal.Add(lineSubtotal)
	}

	reservation.Quote = s.pricing.Quote(subtotal)
	return reservation, nil
}

// Release returns the snapshotted quantities of items to stock. Live product
// data is never consulted.
func (s *InventoryService) Release(tx *gorm.DB, items []models.OrderItem) error {
	sorted := make([]models.OrderItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ProductID.String() < sorted[j].ProductID.String()
	})

	for _, item := range sorted {
		err := tx.Model(&models.Product{}).
			Where("id = ?", item.ProductID).
			UpdateColumn("stock", gorm.Expr("stock + ?", item.Quantity)).Error
		if err != nil {
			return fmt.Errorf("failed to restock product %s: %w", item.ProductID, err)
		}
	}

	return nil
}

// mergeItemRequests sums duplicate products and sorts by id so concurrent
// orders lock product rows in the same order.
func mergeItemRequests(requests []ItemRequest) ([]ItemRequest, error) {
	if len(requests) == 0 {
		return nil, utils.NewValidationError("order must contain at least one item", nil)
	}

	totals := make(map[uuid.UUID]int, len(requests))
	for _, req := range requests {
		if req.ProductID == uuid.Nil {
			return nil, utils.NewValidationError("product_id is required", nil)
		}
		if req.Quantity <= 0 {
			return nil, utils.NewValidationError("quantity must be positive", map[string]string{
				"product_id": req.ProductID.String(),
			})
		}
		totals[req.ProductID] += req.Quantity
	}

	merged := make([]ItemRequest, 0, len(totals))
	for id, qty := range totals {
		merged = append(merged, ItemRequest{ProductID: id, Quantity: qty})
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].ProductID.String() < merged[j].ProductID.String()
	})

	return merged, nil
}
