// internal/services/store_service.go
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/emprendedores-unidos/marketplace/internal/models"
	"github.com/emprendedores-unidos/marketplace/internal/utils"
)

type StoreService struct {
	db *gorm.DB
}

func NewStoreService(db *gorm.DB) *StoreService {
	return &StoreService{db: db}
}

func (s *StoreService) GetBySlug(ctx context.Context, slug string) (*models.Store, error) {
	var store models.Store
	err := s.db.WithContext(ctx).
		Preload("Products", "active = ?", true).
		Where("slug = ? AND active = ?", slug, true).
		First(&store).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("store")
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &store, nil
}

func (s *StoreService) ListByOwner(ctx context.Context, userID uuid.UUID) ([]models.Store, error) {
	var stores []models.Store
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at").Find(&stores).Error; err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}
	return stores, nil
}

// ResolveSellerStore returns the requested store if the seller owns it, or
// the seller's only store when none is requested.
func (s *StoreService) ResolveSellerStore(ctx context.Context, sellerID uuid.UUID, storeID *uuid.UUID) (*models.Store, error) {
	if storeID != nil {
		var store models.Store
		if err := s.db.WithContext(ctx).First(&store, "id = ?", *storeID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, utils.NewNotFoundError("store")
			}
			return nil, fmt.Errorf("database error: %w", err)
		}
		if store.UserID != sellerID {
			return nil, utils.NewAuthorizationError("store belongs to another seller")
		}
		return &store, nil
	}

	stores, err := s.ListByOwner(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	switch len(stores) {
	case 0:
		return nil, utils.NewNotFoundError("store")
	case 1:
		return &stores[0], nil
	default:
		return nil, utils.NewValidationError("store_id is required when owning several stores", nil)
	}
}
