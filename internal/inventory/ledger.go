package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/bjo163/sokomarket/internal/domain"
	"github.com/bjo163/sokomarket/pkg/common"
	perrors "github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Delta is one requested stock change.
type Delta struct {
	ProductID      int64
	OrganizationID int64
	QuantityChange int
	ChangeType     string
	Reason         string
	ActorID        int64
	// ReferenceKey deduplicates the change; a second apply with the same key is a no-op.
	ReferenceKey string
}

type Result struct {
	PreviousStock int    `json:"previous_stock"`
	NewStock      int    `json:"new_stock"`
	Shortfall     int    `json:"shortfall"`
	StatusChanged bool   `json:"status_changed"`
	Status        string `json:"status"`
	Duplicate     bool   `json:"duplicate"`
}

// StockInfo is the read model served to carts before checkout.
type StockInfo struct {
	ProductID        int64  `json:"product_id,string"`
	CurrentStock     *int   `json:"current_stock"`
	InventoryEnabled bool   `json:"inventory_enabled"`
	Status           string `json:"status"`
}

// Ledger is the only writer of Product.CurrentStock and of InventoryHistory.
type Ledger struct {
	db  *gorm.DB
	now func() time.Time
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// DeriveStatus maps the product status after a stock change.
func DeriveStatus(current string, newStock int) string {
	switch {
	case current == domain.ProductDraft && newStock > 0:
		return domain.ProductInStock
	case (current == domain.ProductInStock || current == domain.ProductOutOfStock) && newStock == 0:
		return domain.ProductOutOfStock
	case current == domain.ProductOutOfStock && newStock > 0:
		return domain.ProductInStock
	}
	return current
}

// Apply runs the delta in its own transaction.
func (l *Ledger) Apply(ctx context.Context, d Delta) (*Result, error) {
	var res *Result
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = l.ApplyTx(tx, d)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ApplyTx applies the delta inside the caller's transaction. The product row is
// locked for the rest of that transaction.
func (l *Ledger) ApplyTx(tx *gorm.DB, d Delta) (*Result, error) {
	if d.QuantityChange == 0 {
		return nil, domain.NewValidationError("INVALID_QUANTITY", "quantity change must not be zero")
	}
	if !domain.IsChangeType(d.ChangeType) {
		return nil, domain.NewValidationError("INVALID_CHANGE_TYPE", "unknown change type "+d.ChangeType)
	}

	if d.ReferenceKey != "" {
		var prior domain.InventoryHistory
		err := tx.Where("reference_key = ?", d.ReferenceKey).First(&prior).Error
		if err == nil {
			return &Result{
				PreviousStock: prior.PreviousStock,
				NewStock:      prior.NewStock,
				Shortfall:     prior.Shortfall,
				Duplicate:     true,
			}, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, perrors.Wrap(err, "lookup ledger reference")
		}
	}

	var product domain.Product
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND organization_id = ?", d.ProductID, d.OrganizationID).
		First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NewNotFoundError("PRODUCT_NOT_FOUND", "product not found")
	}
	if err != nil {
		return nil, perrors.Wrap(err, "load product")
	}
	if !product.InventoryEnabled {
		return nil, domain.ErrInventoryDisabled
	}

	previous := product.Stock()
	raw := previous + d.QuantityChange
	newStock, shortfall := raw, 0
	if raw < 0 {
		newStock, shortfall = 0, -raw
	}
	status := DeriveStatus(product.Status, newStock)
	now := l.now()

	if err := tx.Model(&domain.Product{}).Where("id = ?", product.ID).Updates(map[string]interface{}{
		"current_stock": newStock,
		"status":        status,
		"updated_at":    now,
	}).Error; err != nil {
		return nil, perrors.Wrap(err, "update product stock")
	}

	entry := domain.InventoryHistory{
		ID:             common.UUIDint64(),
		ProductID:      product.ID,
		OrganizationID: product.OrganizationID,
		ChangeType:     d.ChangeType,
		QuantityChange: d.QuantityChange,
		PreviousStock:  previous,
		NewStock:       newStock,
		Shortfall:      shortfall,
		Reason:         d.Reason,
		ActorID:        d.ActorID,
		CreatedAt:      now,
	}
	if d.ReferenceKey != "" {
		key := d.ReferenceKey
		entry.ReferenceKey = &key
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, perrors.Wrap(err, "append ledger entry")
	}

	return &Result{
		PreviousStock: previous,
		NewStock:      newStock,
		Shortfall:     shortfall,
		StatusChanged: status != product.Status,
		Status:        status,
	}, nil
}

// StockBatch returns current stock for products of one organization. Unknown ids are omitted.
func (l *Ledger) StockBatch(ctx context.Context, organizationID int64, productIDs []int64) ([]StockInfo, error) {
	if len(productIDs) == 0 {
		return []StockInfo{}, nil
	}
	var products []domain.Product
	err := l.db.WithContext(ctx).
		Select("id", "current_stock", "inventory_enabled", "status").
		Where("organization_id = ? AND id IN ?", organizationID, productIDs).
		Find(&products).Error
	if err != nil {
		return nil, perrors.Wrap(err, "query stock batch")
	}
	result := make([]StockInfo, 0, len(products))
	for _, p := range products {
		result = append(result, StockInfo{
			ProductID:        p.ID,
			CurrentStock:     p.CurrentStock,
			InventoryEnabled: p.InventoryEnabled,
			Status:           p.Status,
		})
	}
	return result, nil
}

// HistoryFilter narrows History. Zero values are ignored.
type HistoryFilter struct {
	OrganizationID int64
	ProductID      int64
	ChangeType     string
	From           time.Time
	To             time.Time
}

func (f HistoryFilter) apply(db *gorm.DB) *gorm.DB {
	db = db.Where("organization_id = ?", f.OrganizationID)
	if f.ProductID != 0 {
		db = db.Where("product_id = ?", f.ProductID)
	}
	if f.ChangeType != "" {
		db = db.Where("change_type = ?", f.ChangeType)
	}
	if !f.From.IsZero() {
		db = db.Where("created_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		db = db.Where("created_at <= ?", f.To)
	}
	return db
}

// History lists ledger entries newest first. pageSize <= 0 returns everything.
func (l *Ledger) History(ctx context.Context, f HistoryFilter, page, pageSize int) ([]domain.InventoryHistory, int64, error) {
	var total int64
	query := f.apply(l.db.WithContext(ctx).Model(&domain.InventoryHistory{}))
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, perrors.Wrap(err, "count history")
	}
	var rows []domain.InventoryHistory
	query = f.apply(l.db.WithContext(ctx)).Order("created_at DESC, id DESC")
	if pageSize > 0 {
		if page < 1 {
			page = 1
		}
		query = query.Offset((page - 1) * pageSize).Limit(pageSize)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, 0, perrors.Wrap(err, "query history")
	}
	return rows, total, nil
}

// LowStock lists tracked, non-archived products at or below their threshold.
// organizationID 0 means every organization.
func (l *Ledger) LowStock(ctx context.Context, organizationID int64) ([]domain.Product, error) {
	query := l.db.WithContext(ctx).
		Where("inventory_enabled = ? AND status <> ?", true, domain.ProductArchived).
		Where("current_stock IS NOT NULL AND current_stock <= low_stock_threshold")
	if organizationID != 0 {
		query = query.Where("organization_id = ?", organizationID)
	}
	var products []domain.Product
	if err := query.Order("organization_id, current_stock").Find(&products).Error; err != nil {
		return nil, perrors.Wrap(err, "query low stock")
	}
	return products, nil
}
