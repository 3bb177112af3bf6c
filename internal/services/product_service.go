// internal/services/product_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/emprendedores-unidos/marketplace/internal/models"
	"github.com/emprendedores-unidos/marketplace/internal/utils"
)

type ProductService struct {
	db        *gorm.DB
	stores    *StoreService
	inventory *InventoryService
	logger    *logrus.Entry
}

type CreateProductRequest struct {
	StoreID     *uuid.UUID      `json:"store_id,omitempty"`
	Name        string          `json:"name" validate:"required,min=2,max=255"`
	Description string          `json:"description" validate:"max=5000"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock" validate:"min=0"`
	Category    string          `json:"category" validate:"max=100"`
	Images      []string        `json:"images,omitempty" validate:"max=10,dive,url"`
	Tags        []string        `json:"tags,omitempty" validate:"max=20,dive,max=50"`
}

// UpdateProductRequest only touches the fields that are present.
type UpdateProductRequest struct {
	Name        *string          `json:"name,omitempty" validate:"omitempty,min=2,max=255"`
	Description *string          `json:"description,omitempty" validate:"omitempty,max=5000"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	// StockDelta restocks (positive) or writes off (negative) units relative
	// to the current stock.
	StockDelta *int `json:"stock_delta,omitempty" validate:"omitempty,min=-100000,max=100000"`
	Category    *string          `json:"category,omitempty" validate:"omitempty,max=100"`
	Active      *bool            `json:"active,omitempty"`
	Images      []string         `json:"images,omitempty" validate:"omitempty,max=10,dive,url"`
	Tags        []string         `json:"tags,omitempty" validate:"omitempty,max=20,dive,max=50"`
}

type ProductSearchParams struct {
	utils.PaginationParams
	StoreID  *uuid.UUID
	PriceMin *decimal.Decimal
	PriceMax *decimal.Decimal
	InStock  bool
}

var productSortFields = []string{"created_at", "price", "name", "stock"}

func NewProductService(db *gorm.DB, stores *StoreService, inventory *InventoryService) *ProductService {
	return &ProductService{
		db:        db,
		stores:    stores,
		inventory: inventory,
		logger:    logrus.WithField("component", "products"),
	}
}

func (s *ProductService) CreateProduct(ctx context.Context, sellerID uuid.UUID, req *CreateProductRequest) (*models.Product, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, utils.NewValidationError("invalid product", utils.GetValidationErrors(err))
	}
	if !req.Price.IsPositive() {
		return nil, utils.NewValidationError("price must be greater than zero", nil)
	}

	store, err := s.stores.ResolveSellerStore(ctx, sellerID, req.StoreID)
	if err != nil {
		return nil, err
	}

	product := &models.Product{
		StoreID:     store.ID,
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Price:       req.Price.Round(2),
		Stock:       req.Stock,
		Category:    req.Category,
		Active:      true,
		Images:      pq.StringArray(req.Images),
		Tags:        pq.StringArray(req.Tags),
	}

	if err := s.db.WithContext(context.WithoutCancel(ctx)).Create(product).Error; err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"product_id": product.ID,
		"store_id":   store.ID,
	}).Info("Product created")

	return product, nil
}

func (s *ProductService) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := s.db.WithContext(ctx).Preload("Store").First(&product, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("product")
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &product, nil
}

// UpdateProduct edits a product of one of the seller's stores. Stock changes
// go through the inventory engine as a delta in the same transaction.
func (s *ProductService) UpdateProduct(ctx context.Context, sellerID, id uuid.UUID, req *UpdateProductRequest) (*models.Product, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, utils.NewValidationError("invalid product", utils.GetValidationErrors(err))
	}
	if req.Price != nil && !req.Price.IsPositive() {
		return nil, utils.NewValidationError("price must be greater than zero", nil)
	}

	product, err := s.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if product.Store == nil || product.Store.UserID != sellerID {
		return nil, utils.NewAuthorizationError("unauthorized to update this product")
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Price != nil {
		updates["price"] = req.Price.Round(2)
	}
	if req.Category != nil {
		updates["category"] = *req.Category
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}
	if req.Images != nil {
		updates["images"] = pq.StringArray(req.Images)
	}
	if req.Tags != nil {
		updates["tags"] = pq.StringArray(req.Tags)
	}

	err = s.db.WithContext(context.WithoutCancel(ctx)).Transaction(func(tx *gorm.DB) error {
		if len(updates) > 0 {
			if err := tx.Model(product).Updates(updates).Error; err != nil {
				return fmt.Errorf("failed to update product: %w", err)
			}
		}
		if req.StockDelta != nil && *req.StockDelta != 0 {
			stock, err := s.inventory.Adjust(tx, product.ID, *req.StockDelta)
			if err != nil {
				return err
			}
			s.logger.WithFields(logrus.Fields{
				"product_id": product.ID,
				"delta":      *req.StockDelta,
				"stock":      stock,
			}).Info("Stock adjusted")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.GetProduct(ctx, id)
}

// SearchProducts lists active products of active stores.
func (s *ProductService) SearchProducts(ctx context.Context, params ProductSearchParams) ([]models.Product, int64, error) {
	base := func() *gorm.DB {
		query := s.db.WithContext(ctx).Model(&models.Product{}).
			Joins("JOIN stores ON stores.id = products.store_id").
			Where("products.active = ? AND stores.active = ?", true, true)

		if params.Search != "" {
			searchTerm := "%" + strings.ToLower(params.Search) + "%"
			query = query.Where("(LOWER(products.name) LIKE ? OR LOWER(products.description) LIKE ?)", searchTerm, searchTerm)
		}
		if params.Category != "" {
			query = query.Where("products.category = ?", params.Category)
		}
		if params.StoreID != nil {
			query = query.Where("products.store_id = ?", *params.StoreID)
		}
		if params.PriceMin != nil {
			query = query.Where("products.price >= ?", *params.PriceMin)
		}
		if params.PriceMax != nil {
			query = query.Where("products.price <= ?", *params.PriceMax)
		}
		if params.InStock {
			query = query.Where("products.stock > 0")
		}
		return query
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count products: %w", err)
	}

	var products []models.Product
	query := utils.ApplySort(base(), params.PaginationParams, "products", productSortFields)
	query = utils.ApplyPagination(query, params.PaginationParams)
	if err := query.Select("products.*").Preload("Store").Find(&products).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list products: %w", err)
	}

	return products, total, nil
}
