// internal/models/product.go
package models

import (
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type Store struct {
	BaseModel
	UserID      uuid.UUID `json:"user_id" gorm:"type:uuid;not null;index"`
	Name        string    `json:"name" gorm:"uniqueIndex;size:150;not null"`
	Slug        string    `json:"slug" gorm:"uniqueIndex;size:180;not null"`
	Description string    `json:"description" gorm:"type:text"`
	Sector      string    `json:"sector" gorm:"size:100"`
	Active      bool      `json:"active" gorm:"not null;default:true"`
	SalesCount  int64     `json:"sales_count" gorm:"not null;default:0"`

	// Relationships
	Owner    *User     `json:"owner,omitempty" gorm:"foreignKey:UserID"`
	Products []Product `json:"products,omitempty" gorm:"foreignKey:StoreID;constraint:OnDelete:CASCADE"`
}

type Product struct {
	BaseModel
	StoreID     uuid.UUID       `json:"store_id" gorm:"type:uuid;not null;index"`
	Name        string          `json:"name" gorm:"size:255;not null"`
	Description string          `json:"description" gorm:"type:text"`
	Price       decimal.Decimal `json:"price" gorm:"type:numeric(12,2);not null"`
	Stock       int             `json:"stock" gorm:"not null;default:0;check:stock_non_negative,stock >= 0"`
	Category    string          `json:"category" gorm:"size:100;index"`
	Active      bool            `json:"active" gorm:"not null;default:true"`
	Images      pq.StringArray  `json:"images" gorm:"type:text[]"`
	Tags        pq.StringArray  `json:"tags" gorm:"type:text[]"`

	// Relationships
	Store *Store `json:"store,omitempty" gorm:"foreignKey:StoreID"`
}
