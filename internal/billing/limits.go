package billing

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

const (
	ResourceOrganization = "organization"
	ResourceProduct      = "product"
	ResourceOrder        = "order"

	unlimitedPlan = "Unlimited"
	monthLayout   = "2006-01"
)

// LimitResult answers "may this user/organization create one more X".
// Max is nil when the plan does not cap the resource.
type LimitResult struct {
	Resource       string `json:"resource"`
	CanCreate      bool   `json:"can_create"`
	Max            *int   `json:"max"`
	Current        int64  `json:"current"`
	PlanName       string `json:"plan_name"`
	NoSubscription bool   `json:"no_subscription,omitempty"`
	Unlimited      bool   `json:"unlimited,omitempty"`
}

// Denied converts a negative result into a business error.
func (r *LimitResult) Denied() error {
	if r.CanCreate {
		return nil
	}
	if r.NoSubscription {
		return domain.NewBusinessError("NO_SUBSCRIPTION", "an active subscription is required to create a "+r.Resource)
	}
	return domain.NewBusinessError("LIMIT_REACHED", "the "+r.PlanName+" plan limit for "+r.Resource+"s has been reached")
}

type Limits struct {
	db  *gorm.DB
	now func() time.Time
}

func NewLimits(db *gorm.DB) *Limits {
	return &Limits{db: db, now: time.Now}
}

// MonthBucket is the OrderUsageTracking key for t.
func MonthBucket(t time.Time) string {
	return t.Format(monthLayout)
}

// currentSubscription returns the latest subscription row of the user, nil when none exists.
func currentSubscription(tx *gorm.DB, userID int64) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := tx.Where("user_id = ?", userID).Order("created_at DESC, id DESC").First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, perrors.Wrap(err, "load subscription")
	}
	return &sub, nil
}

func (l *Limits) usable(sub *domain.Subscription) bool {
	if !sub.Usable() {
		return false
	}
	if sub.Status == domain.SubscriptionTrial && sub.TrialEndsAt != nil && l.now().After(*sub.TrialEndsAt) {
		return false
	}
	return true
}

func (l *Limits) decide(resource string, sub *domain.Subscription, pick func(*domain.Subscription) *int, current int64) *LimitResult {
	res := &LimitResult{Resource: resource, Current: current}
	if sub != nil {
		res.PlanName = sub.PlanName
	}
	if !l.usable(sub) {
		res.Max = intp(0)
		res.NoSubscription = true
		return res
	}
	limit := pick(sub)
	if limit == nil {
		res.CanCreate = true
		res.Unlimited = true
		return res
	}
	res.Max = intp(*limit)
	res.CanCreate = current < int64(*limit)
	return res
}

func adminResult(resource string, current int64) *LimitResult {
	return &LimitResult{Resource: resource, CanCreate: true, Current: current, PlanName: unlimitedPlan, Unlimited: true}
}

func loadUser(tx *gorm.DB, userID int64) (*domain.User, error) {
	var user domain.User
	err := tx.First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NewNotFoundError("USER_NOT_FOUND", "user not found")
	}
	if err != nil {
		return nil, perrors.Wrap(err, "load user")
	}
	return &user, nil
}

func loadOrganization(tx *gorm.DB, organizationID int64) (*domain.Organization, error) {
	var org domain.Organization
	err := tx.First(&org, organizationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NewNotFoundError("ORGANIZATION_NOT_FOUND", "organization not found")
	}
	if err != nil {
		return nil, perrors.Wrap(err, "load organization")
	}
	return &org, nil
}

func (l *Limits) CheckOrganizationLimit(ctx context.Context, userID int64) (*LimitResult, error) {
	return l.CheckOrganizationLimitTx(l.db.WithContext(ctx), userID)
}

// CheckOrganizationLimitTx counts organizations owned by the user.
func (l *Limits) CheckOrganizationLimitTx(tx *gorm.DB, userID int64) (*LimitResult, error) {
	user, err := loadUser(tx, userID)
	if err != nil {
		return nil, err
	}
	var count int64
	if err := tx.Model(&domain.Organization{}).Where("owner_id = ?", userID).Count(&count).Error; err != nil {
		return nil, perrors.Wrap(err, "count organizations")
	}
	if user.IsAdmin() {
		return adminResult(ResourceOrganization, count), nil
	}
	sub, err := currentSubscription(tx, userID)
	if err != nil {
		return nil, err
	}
	return l.decide(ResourceOrganization, sub, func(s *domain.Subscription) *int { return s.MaxOrgs }, count), nil
}

func (l *Limits) CheckProductLimit(ctx context.Context, organizationID int64) (*LimitResult, error) {
	return l.CheckProductLimitTx(l.db.WithContext(ctx), organizationID)
}

// CheckProductLimitTx counts non-archived products of the organization against its owner's plan.
func (l *Limits) CheckProductLimitTx(tx *gorm.DB, organizationID int64) (*LimitResult, error) {
	org, err := loadOrganization(tx, organizationID)
	if err != nil {
		return nil, err
	}
	var count int64
	if err := tx.Model(&domain.Product{}).
		Where("organization_id = ? AND status <> ?", organizationID, domain.ProductArchived).
		Count(&count).Error; err != nil {
		return nil, perrors.Wrap(err, "count products")
	}
	return l.ownerDecision(tx, ResourceProduct, org.OwnerID, count, func(s *domain.Subscription) *int { return s.MaxProductsPerOrg })
}

func (l *Limits) CheckOrderLimit(ctx context.Context, organizationID int64) (*LimitResult, error) {
	return l.CheckOrderLimitTx(l.db.WithContext(ctx), organizationID)
}

// CheckOrderLimitTx compares this month's order count with the owner's plan.
func (l *Limits) CheckOrderLimitTx(tx *gorm.DB, organizationID int64) (*LimitResult, error) {
	org, err := loadOrganization(tx, organizationID)
	if err != nil {
		return nil, err
	}
	var usage domain.OrderUsageTracking
	err = tx.Where("organization_id = ? AND month_year = ?", organizationID, MonthBucket(l.now())).First(&usage).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, perrors.Wrap(err, "load order usage")
	}
	return l.ownerDecision(tx, ResourceOrder, org.OwnerID, int64(usage.OrderCount), func(s *domain.Subscription) *int { return s.OrderLimit })
}

func (l *Limits) ownerDecision(tx *gorm.DB, resource string, ownerID, count int64, pick func(*domain.Subscription) *int) (*LimitResult, error) {
	owner, err := loadUser(tx, ownerID)
	if err != nil {
		return nil, err
	}
	if owner.IsAdmin() {
		return adminResult(resource, count), nil
	}
	sub, err := currentSubscription(tx, ownerID)
	if err != nil {
		return nil, err
	}
	return l.decide(resource, sub, pick, count), nil
}

// RecordOrderTx bumps the organization's usage counter for the month of at.
func (l *Limits) RecordOrderTx(tx *gorm.DB, organizationID int64, at time.Time) error {
	row := domain.OrderUsageTracking{
		ID:             common.UUIDint64(),
		OrganizationID: organizationID,
		MonthYear:      MonthBucket(at),
		OrderCount:     1,
		UpdatedAt:      at,
	}
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "organization_id"}, {Name: "month_year"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"order_count": gorm.Expr("order_usage_tracking.order_count + 1"),
			"updated_at":  at,
		}),
	}).Create(&row).Error
	return perrors.Wrap(err, "record order usage")
}

// Summary is the caller's subscription and the limits it grants.
type Summary struct {
	Subscription  *domain.Subscription `json:"subscription"`
	Organizations *LimitResult         `json:"organizations"`
	Products      *LimitResult         `json:"products,omitempty"`
	Orders        *LimitResult         `json:"orders,omitempty"`
}

// Summary reads all three limits. Product and order limits need organizationID (0 skips them).
func (l *Limits) Summary(ctx context.Context, userID, organizationID int64) (*Summary, error) {
	db := l.db.WithContext(ctx)
	sub, err := currentSubscription(db, userID)
	if err != nil {
		return nil, err
	}
	out := &Summary{Subscription: sub}
	if out.Organizations, err = l.CheckOrganizationLimitTx(db, userID); err != nil {
		return nil, err
	}
	if organizationID == 0 {
		return out, nil
	}
	if out.Products, err = l.CheckProductLimitTx(db, organizationID); err != nil {
		return nil, err
	}
	if out.Orders, err = l.CheckOrderLimitTx(db, organizationID); err != nil {
		return nil, err
	}
	return out, nil
}
