// Package billing owns plans, subscriptions and the usage limits they grant.
package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bjo163/sokomarket/internal/domain"
	"github.com/bjo163/sokomarket/pkg/common"
	perrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func intp(v int) *int { return &v }

// DefaultPlans is the catalog seeded on first start.
func DefaultPlans() []domain.Plan {
	return []domain.Plan{
		{Name: "Free", PriceUSD: decimal.Zero, OrderLimit: intp(20), MaxOrgs: intp(1), MaxProductsPerOrg: intp(10), Sort: 1,
			Description: "Try the marketplace with one small store"},
		{Name: "Starter", PriceUSD: decimal.NewFromInt(30), OrderLimit: intp(300), MaxOrgs: intp(1), MaxProductsPerOrg: intp(30), Sort: 2,
			Description: "One store with a focused catalog"},
		{Name: "Growth", PriceUSD: decimal.NewFromInt(90), OrderLimit: intp(2000), MaxOrgs: intp(3), MaxProductsPerOrg: intp(200), Sort: 3,
			Description: "Several stores and a growing catalog"},
		{Name: "Business", PriceUSD: decimal.NewFromInt(250), Sort: 4,
			Description: "No limits"},
	}
}

type Plans struct {
	db *gorm.DB
}

func NewPlans(db *gorm.DB) *Plans {
	return &Plans{db: db}
}

// Seed inserts the default catalog entries that do not exist yet.
func (p *Plans) Seed(ctx context.Context) error {
	for _, plan := range DefaultPlans() {
		var count int64
		if err := p.db.WithContext(ctx).Model(&domain.Plan{}).Where("name = ?", plan.Name).Count(&count).Error; err != nil {
			return perrors.Wrap(err, "count plan")
		}
		if count > 0 {
			continue
		}
		plan.ID = common.UUIDint64()
		plan.Status = common.ENABLED
		plan.CreatedAt = time.Now()
		plan.UpdatedAt = plan.CreatedAt
		if err := p.db.WithContext(ctx).Create(&plan).Error; err != nil {
			return perrors.Wrap(err, "seed plan "+plan.Name)
		}
	}
	return nil
}

func (p *Plans) List(ctx context.Context) ([]domain.Plan, error) {
	var plans []domain.Plan
	err := p.db.WithContext(ctx).Where("status = ?", common.ENABLED).Order("sort ASC, price_usd ASC").Find(&plans).Error
	return plans, perrors.Wrap(err, "list plans")
}

func (p *Plans) Get(ctx context.Context, name string) (*domain.Plan, error) {
	return planByName(p.db.WithContext(ctx), name)
}

func planByName(tx *gorm.DB, name string) (*domain.Plan, error) {
	var plan domain.Plan
	err := tx.Where("LOWER(name) = ?", strings.ToLower(strings.TrimSpace(name))).First(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NewNotFoundError("PLAN_NOT_FOUND", "plan "+name+" not found")
	}
	if err != nil {
		return nil, perrors.Wrap(err, "load plan")
	}
	return &plan, nil
}

type PlanUpdate struct {
	PriceUSD          *decimal.Decimal `json:"price_usd"`
	OrderLimit        *int             `json:"order_limit"`
	MaxOrgs           *int             `json:"max_orgs"`
	MaxProductsPerOrg *int             `json:"max_products_per_org"`
	Unlimited         []string         `json:"unlimited"` // limit fields to reset to unlimited
	Description       *string          `json:"description"`
	Status            string           `json:"status" validate:"omitempty,oneof=enabled disabled"`
}

// Update edits a catalog entry. Existing subscribers keep their snapshot until their next write.
func (p *Plans) Update(ctx context.Context, id int64, u PlanUpdate) (*domain.Plan, error) {
	var plan domain.Plan
	if err := p.db.WithContext(ctx).First(&plan, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("PLAN_NOT_FOUND", "plan not found")
		}
		return nil, perrors.Wrap(err, "load plan")
	}
	if u.PriceUSD != nil {
		if u.PriceUSD.IsNegative() {
			return nil, domain.NewValidationError("INVALID_PRICE", "price must not be negative")
		}
		plan.PriceUSD = *u.PriceUSD
	}
	for _, v := range []*int{u.OrderLimit, u.MaxOrgs, u.MaxProductsPerOrg} {
		if v != nil && *v < 0 {
			return nil, domain.NewValidationError("INVALID_LIMIT", "limits must not be negative")
		}
	}
	if u.OrderLimit != nil {
		plan.OrderLimit = u.OrderLimit
	}
	if u.MaxOrgs != nil {
		plan.MaxOrgs = u.MaxOrgs
	}
	if u.MaxProductsPerOrg != nil {
		plan.MaxProductsPerOrg = u.MaxProductsPerOrg
	}
	for _, field := range u.Unlimited {
		switch field {
		case "order_limit":
			plan.OrderLimit = nil
		case "max_orgs":
			plan.MaxOrgs = nil
		case "max_products_per_org":
			plan.MaxProductsPerOrg = nil
		}
	}
	if u.Description != nil {
		plan.Description = *u.Description
	}
	if u.Status != "" {
		plan.Status = u.Status
	}
	plan.UpdatedAt = time.Now()
	if err := p.db.WithContext(ctx).Save(&plan).Error; err != nil {
		return nil, perrors.Wrap(err, "update plan")
	}
	return &plan, nil
}
