package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bjo163/sokomarket/internal/billing"
	"github.com/bjo163/sokomarket/internal/domain"
	"github.com/bjo163/sokomarket/internal/events"
	"github.com/bjo163/sokomarket/pkg/common"
	perrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrProductNotFound = domain.NewNotFoundError("PRODUCT_NOT_FOUND", "product not found")

// ProductGate enforces the per-organization product allowance.
type ProductGate interface {
	CheckProductLimitTx(tx *gorm.DB, organizationID int64) (*billing.LimitResult, error)
}

// RoleResolver returns the member role of a user in an organization, "" when not a member.
type RoleResolver interface {
	MemberRole(ctx context.Context, organizationID, userID int64) (string, error)
}

// Catalog owns product rows. Stock fields are only written through the Ledger.
type Catalog struct {
	db     *gorm.DB
	ledger *Ledger
	limits ProductGate
	roles  RoleResolver
	events events.Publisher
	now    func() time.Time
}

func NewCatalog(db *gorm.DB, ledger *Ledger, limits ProductGate, roles RoleResolver, pub events.Publisher) *Catalog {
	return &Catalog{db: db, ledger: ledger, limits: limits, roles: roles, events: pub, now: time.Now}
}

type ProductInput struct {
	Name              string          `json:"name" validate:"required,min=1,max=200"`
	Description       string          `json:"description" validate:"max=5000"`
	Price             decimal.Decimal `json:"price"`
	Category          string          `json:"category" validate:"max=64"`
	Image             string          `json:"image" validate:"max=1024"`
	InventoryEnabled  bool            `json:"inventory_enabled"`
	InitialStock      int             `json:"initial_stock" validate:"min=0"`
	LowStockThreshold int             `json:"low_stock_threshold" validate:"min=0"`
}

// ProductUpdate carries optional fields; nil means unchanged.
type ProductUpdate struct {
	Name              *string          `json:"name" validate:"omitempty,min=1,max=200"`
	Description       *string          `json:"description" validate:"omitempty,max=5000"`
	Price             *decimal.Decimal `json:"price"`
	Category          *string          `json:"category" validate:"omitempty,max=64"`
	Image             *string          `json:"image" validate:"omitempty,max=1024"`
	InventoryEnabled  *bool            `json:"inventory_enabled"`
	LowStockThreshold *int             `json:"low_stock_threshold" validate:"omitempty,min=0"`
}

func (c *Catalog) requireManager(ctx context.Context, organizationID int64, user *domain.User) error {
	if user.IsAdmin() {
		return nil
	}
	role, err := c.roles.MemberRole(ctx, organizationID, user.ID)
	if err != nil {
		return err
	}
	if !domain.CanManage(role) {
		return domain.ErrForbidden
	}
	return nil
}

func uniqueSlug(tx *gorm.DB, name string) (string, error) {
	base := common.Slugify(name)
	if base == "" {
		base = "product"
	}
	slug := base
	for i := 0; i < 5; i++ {
		var n int64
		if err := tx.Model(&domain.Product{}).Where("slug = ?", slug).Count(&n).Error; err != nil {
			return "", perrors.Wrap(err, "check product slug")
		}
		if n == 0 {
			return slug, nil
		}
		suffix, err := common.RandomToken(3)
		if err != nil {
			return "", err
		}
		slug = base + "-" + suffix
	}
	return "", domain.NewBusinessError("SLUG_TAKEN", "could not allocate a unique slug for "+name)
}

func validatePrice(p decimal.Decimal) error {
	if p.IsNegative() {
		return domain.NewValidationError("INVALID_PRICE", "price must not be negative")
	}
	return nil
}

// Create adds a product to the organization. The product limit is checked while the
// organization row is locked, so two concurrent creates cannot both take the last slot.
func (c *Catalog) Create(ctx context.Context, organizationID int64, actor *domain.User, in ProductInput) (*domain.Product, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, domain.NewValidationError("INVALID_NAME", "name is required")
	}
	if err := validatePrice(in.Price); err != nil {
		return nil, err
	}
	if in.InitialStock < 0 || in.LowStockThreshold < 0 {
		return nil, domain.NewValidationError("INVALID_QUANTITY", "stock values must not be negative")
	}
	if err := c.requireManager(ctx, organizationID, actor); err != nil {
		return nil, err
	}

	var product *domain.Product
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var org domain.Organization
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&org, organizationID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.NewNotFoundError("ORGANIZATION_NOT_FOUND", "organization not found")
		}
		if err != nil {
			return perrors.Wrap(err, "lock organization")
		}

		limit, err := c.limits.CheckProductLimitTx(tx, organizationID)
		if err != nil {
			return err
		}
		if err := limit.Denied(); err != nil {
			return err
		}

		slug, err := uniqueSlug(tx, in.Name)
		if err != nil {
			return err
		}
		now := c.now()
		product = &domain.Product{
			ID:                common.UUIDint64(),
			OrganizationID:    organizationID,
			Name:              in.Name,
			Slug:              slug,
			Description:       strings.TrimSpace(in.Description),
			Price:             in.Price,
			Category:          strings.TrimSpace(in.Category),
			Image:             strings.TrimSpace(in.Image),
			InventoryEnabled:  in.InventoryEnabled,
			LowStockThreshold: in.LowStockThreshold,
			Status:            domain.ProductDraft,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if in.InventoryEnabled {
			zero := 0
			product.CurrentStock = &zero
		} else {
			product.Status = domain.ProductInStock
		}
		if err := tx.Create(product).Error; err != nil {
			return perrors.Wrap(err, "insert product")
		}

		if in.InventoryEnabled && in.InitialStock > 0 {
			res, err := c.ledger.ApplyTx(tx, Delta{
				ProductID:      product.ID,
				OrganizationID: organizationID,
				QuantityChange: in.InitialStock,
				ChangeType:     domain.ChangeRestock,
				Reason:         "initial stock",
				ActorID:        actor.ID,
			})
			if err != nil {
				return err
			}
			stock := res.NewStock
			product.CurrentStock = &stock
			product.Status = res.Status
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("product created",
		zap.Int64("product_id", product.ID),
		zap.Int64("organization_id", organizationID),
		zap.String("slug", product.Slug))
	if c.events != nil {
		c.events.Publish(events.TopicProductCreated, events.ProductCreated{
			ProductID:      product.ID,
			OrganizationID: organizationID,
			Name:           product.Name,
			OccurredAt:     product.CreatedAt,
		})
	}
	return product, nil
}

func (c *Catalog) Get(ctx context.Context, productID int64) (*domain.Product, error) {
	var p domain.Product
	err := c.db.WithContext(ctx).First(&p, productID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, perrors.Wrap(err, "load product")
	}
	return &p, nil
}

// Update edits descriptive fields. Turning tracking on keeps the last known stock;
// turning it off makes the product orderable without stock checks.
func (c *Catalog) Update(ctx context.Context, productID int64, actor *domain.User, in ProductUpdate) (*domain.Product, error) {
	p, err := c.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	if err := c.requireManager(ctx, p.OrganizationID, actor); err != nil {
		return nil, err
	}
	if p.Status == domain.ProductArchived {
		return nil, domain.NewBusinessError("PRODUCT_ARCHIVED", "archived products cannot be edited")
	}

	updates := map[string]interface{}{"updated_at": c.now()}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, domain.NewValidationError("INVALID_NAME", "name is required")
		}
		updates["name"] = name
	}
	if in.Description != nil {
		updates["description"] = strings.TrimSpace(*in.Description)
	}
	if in.Price != nil {
		if err := validatePrice(*in.Price); err != nil {
			return nil, err
		}
		updates["price"] = *in.Price
	}
	if in.Category != nil {
		updates["category"] = strings.TrimSpace(*in.Category)
	}
	if in.Image != nil {
		updates["image"] = strings.TrimSpace(*in.Image)
	}
	if in.LowStockThreshold != nil {
		if *in.LowStockThreshold < 0 {
			return nil, domain.NewValidationError("INVALID_QUANTITY", "threshold must not be negative")
		}
		updates["low_stock_threshold"] = *in.LowStockThreshold
	}
	if in.InventoryEnabled != nil && *in.InventoryEnabled != p.InventoryEnabled {
		updates["inventory_enabled"] = *in.InventoryEnabled
		if *in.InventoryEnabled {
			// Initialises the counter at its last value; no units move, so no ledger row.
			stock := p.Stock()
			updates["current_stock"] = stock
			if status := DeriveStatus(p.Status, stock); status != p.Status {
				updates["status"] = status
			}
		} else if p.Status != domain.ProductInStock {
			updates["status"] = domain.ProductInStock
		}
	}

	if err := c.db.WithContext(ctx).Model(&domain.Product{}).Where("id = ?", p.ID).Updates(updates).Error; err != nil {
		return nil, perrors.Wrap(err, "update product")
	}
	return c.Get(ctx, p.ID)
}

// Archive hides the product from new orders. Existing orders keep their snapshot.
func (c *Catalog) Archive(ctx context.Context, productID int64, actor *domain.User) error {
	p, err := c.Get(ctx, productID)
	if err != nil {
		return err
	}
	if err := c.requireManager(ctx, p.OrganizationID, actor); err != nil {
		return err
	}
	return c.db.WithContext(ctx).Model(&domain.Product{}).Where("id = ?", p.ID).
		Updates(map[string]interface{}{"status": domain.ProductArchived, "updated_at": c.now()}).Error
}

type ProductFilter struct {
	OrganizationID  int64
	Category        string
	Query           string
	Status          string
	IncludeArchived bool
	Sort            string
	Order           string
}

var productSort = map[string]string{
	"name":          "name",
	"price":         "price",
	"created_at":    "created_at",
	"current_stock": "current_stock",
}

func (c *Catalog) List(ctx context.Context, f ProductFilter, page, pageSize int) ([]domain.Product, int64, error) {
	db := c.db.WithContext(ctx).Model(&domain.Product{})
	if f.OrganizationID != 0 {
		db = db.Where("organization_id = ?", f.OrganizationID)
	}
	if f.Category != "" {
		db = db.Where("category = ?", f.Category)
	}
	if f.Status != "" {
		db = db.Where("status = ?", f.Status)
	} else if !f.IncludeArchived {
		db = db.Where("status <> ?", domain.ProductArchived)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		if strings.EqualFold(c.db.Name(), "postgres") {
			db = db.Where("name ILIKE ?", "%"+q+"%")
		} else {
			db = db.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(q)+"%")
		}
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, perrors.Wrap(err, "count products")
	}
	col, ok := productSort[f.Sort]
	if !ok {
		col = "created_at"
	}
	order := "DESC"
	if strings.EqualFold(f.Order, "asc") {
		order = "ASC"
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	var rows []domain.Product
	if err := db.Order(col + " " + order).Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&rows).Error; err != nil {
		return nil, 0, perrors.Wrap(err, "list products")
	}
	return rows, total, nil
}

type AdjustInput struct {
	QuantityChange int    `json:"quantity_change" validate:"required"`
	ChangeType     string `json:"change_type" validate:"required"`
	Reason         string `json:"reason" validate:"max=500"`
}

func adjustKey(productID int64, key string) string {
	return fmt.Sprintf("adjust:%d:%s", productID, key)
}

// AdjustStock records a manual stock change. A repeated idempotency key returns the first result.
func (c *Catalog) AdjustStock(ctx context.Context, productID int64, actor *domain.User, in AdjustInput, idempotencyKey string) (*Result, error) {
	if in.ChangeType == domain.ChangeSale || in.ChangeType == domain.ChangeReturn {
		return nil, domain.NewValidationError("INVALID_CHANGE_TYPE", "sale and return entries are written by orders")
	}
	p, err := c.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	if err := c.requireManager(ctx, p.OrganizationID, actor); err != nil {
		return nil, err
	}
	d := Delta{
		ProductID:      p.ID,
		OrganizationID: p.OrganizationID,
		QuantityChange: in.QuantityChange,
		ChangeType:     in.ChangeType,
		Reason:         strings.TrimSpace(in.Reason),
		ActorID:        actor.ID,
	}
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		d.ReferenceKey = adjustKey(p.ID, key)
	}
	res, err := c.ledger.Apply(ctx, d)
	if err != nil {
		return nil, err
	}
	if !res.Duplicate && p.InventoryEnabled && res.NewStock < res.PreviousStock && res.NewStock <= p.LowStockThreshold && c.events != nil {
		c.events.Publish(events.TopicLowStock, events.LowStock{
			ProductID:      p.ID,
			OrganizationID: p.OrganizationID,
			Name:           p.Name,
			CurrentStock:   res.NewStock,
			Threshold:      p.LowStockThreshold,
			OccurredAt:     c.now(),
		})
	}
	return res, nil
}

// Authorize checks that user may read (manage=false) or change (manage=true) the organization's stock.
func (c *Catalog) Authorize(ctx context.Context, organizationID int64, user *domain.User, manage bool) error {
	if manage {
		return c.requireManager(ctx, organizationID, user)
	}
	if user.IsAdmin() {
		return nil
	}
	role, err := c.roles.MemberRole(ctx, organizationID, user.ID)
	if err != nil {
		return err
	}
	if role == "" {
		return domain.ErrForbidden
	}
	return nil
}
