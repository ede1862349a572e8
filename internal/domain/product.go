package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ProductDraft      = "draft"
	ProductInStock    = "in_stock"
	ProductOutOfStock = "out_of_stock"
	ProductArchived   = "archived"
)

// Product is a catalog item owned by one organization.
// CurrentStock is nil when the product is not stock tracked.
type Product struct {
	ID                int64           `gorm:"primaryKey" json:"id,string"`
	OrganizationID    int64           `gorm:"index" json:"organization_id,string"`
	Name              string          `gorm:"index" json:"name"`
	Slug              string          `gorm:"uniqueIndex;size:191" json:"slug"`
	Description       string          `gorm:"type:text" json:"description"`
	Price             decimal.Decimal `gorm:"type:numeric(14,2)" json:"price"`
	Category          string          `gorm:"size:64;index" json:"category"`
	Image             string          `gorm:"size:1024" json:"image"`
	CurrentStock      *int            `json:"current_stock"`
	InventoryEnabled  bool            `json:"inventory_enabled"`
	LowStockThreshold int             `json:"low_stock_threshold"`
	Status            string          `gorm:"size:16;index" json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (Product) TableName() string {
	return "products"
}

// Stock returns the tracked stock, zero when untracked.
func (p *Product) Stock() int {
	if p.CurrentStock == nil {
		return 0
	}
	return *p.CurrentStock
}
