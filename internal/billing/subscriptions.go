package billing

import (
	"context"
	"errors"
	"time"

	"github.com/bjo163/sokomarket/config"
	"github.com/bjo163/sokomarket/internal/domain"
	"github.com/bjo163/sokomarket/internal/events"
	"github.com/bjo163/sokomarket/pkg/common"
	perrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Subscriptions struct {
	db     *gorm.DB
	events events.Publisher
	cfg    config.BillingConfig
	now    func() time.Time
}

func NewSubscriptions(db *gorm.DB, pub events.Publisher, cfg config.BillingConfig) *Subscriptions {
	if cfg.TrialDays <= 0 {
		cfg.TrialDays = 14
	}
	return &Subscriptions{db: db, events: pub, cfg: cfg, now: time.Now}
}

func (s *Subscriptions) publish(sub *domain.Subscription, reason string) {
	if s.events == nil || sub == nil {
		return
	}
	s.events.Publish(events.TopicSubscriptionChanged, events.SubscriptionChanged{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		PlanName:       sub.PlanName,
		Status:         sub.Status,
		Reason:         reason,
		PeriodEnd:      sub.CurrentPeriodEnd,
		OccurredAt:     s.now(),
	})
}

func snapshot(sub *domain.Subscription, plan *domain.Plan) {
	sub.PlanName = plan.Name
	sub.OrderLimit = plan.OrderLimit
	sub.MaxOrgs = plan.MaxOrgs
	sub.MaxProductsPerOrg = plan.MaxProductsPerOrg
}

// Current returns the user's latest subscription, nil when the user never had one.
func (s *Subscriptions) Current(ctx context.Context, userID int64) (*domain.Subscription, error) {
	return currentSubscription(s.db.WithContext(ctx), userID)
}

// lockedCurrent locks the user row so concurrent plan changes for one user serialize.
func lockedCurrent(tx *gorm.DB, userID int64) (*domain.Subscription, error) {
	var user domain.User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NewNotFoundError("USER_NOT_FOUND", "user not found")
	}
	if err != nil {
		return nil, perrors.Wrap(err, "lock user")
	}
	return currentSubscription(tx, userID)
}

// Start creates the first subscription of a user: a trial for paid plans, an active row for free ones.
// Users with an earlier subscription may only fall back to a free plan; paid plans go through payment.
func (s *Subscriptions) Start(ctx context.Context, userID int64, planName string) (*domain.Subscription, error) {
	var sub *domain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan, err := planByName(tx, planName)
		if err != nil {
			return err
		}
		existing, err := lockedCurrent(tx, userID)
		if err != nil {
			return err
		}
		if existing.Usable() {
			return domain.NewBusinessError("SUBSCRIPTION_EXISTS", "user already has a "+existing.Status+" subscription")
		}
		if existing != nil && !plan.IsFree() {
			return domain.NewBusinessError("TRIAL_USED", "trial already used, pay for "+plan.Name+" to reactivate")
		}
		now := s.now()
		sub = &domain.Subscription{
			ID:                 common.UUIDint64(),
			UserID:             userID,
			CurrentPeriodStart: &now,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		snapshot(sub, plan)
		if plan.IsFree() {
			sub.Status = domain.SubscriptionActive
		} else {
			trialEnd := now.AddDate(0, 0, s.cfg.TrialDays)
			sub.Status = domain.SubscriptionTrial
			sub.TrialEndsAt = &trialEnd
			sub.CurrentPeriodEnd = &trialEnd
		}
		return perrors.Wrap(tx.Create(sub).Error, "create subscription")
	})
	if err != nil {
		return nil, err
	}
	s.publish(sub, events.ReasonTrialStarted)
	return sub, nil
}

// ActivateTx upgrades (or creates) the payer's subscription after a successful payment.
// The caller owns the transaction and publishes after commit.
func (s *Subscriptions) ActivateTx(tx *gorm.DB, payment *domain.Payment, at time.Time) (*domain.Subscription, error) {
	plan, err := planByName(tx, payment.PlanName)
	if err != nil {
		return nil, err
	}
	sub, err := currentSubscription(tx, payment.UserID)
	if err != nil {
		return nil, err
	}
	periodEnd := at.AddDate(0, 1, 0)
	if sub == nil {
		sub = &domain.Subscription{
			ID:                 common.UUIDint64(),
			UserID:             payment.UserID,
			Status:             domain.SubscriptionActive,
			CurrentPeriodStart: &at,
			CurrentPeriodEnd:   &periodEnd,
			PhoneNumber:        payment.PhoneNumber,
			CreatedAt:          at,
			UpdatedAt:          at,
		}
		snapshot(sub, plan)
		return sub, perrors.Wrap(tx.Create(sub).Error, "create subscription")
	}

	snapshot(sub, plan)
	sub.Status = domain.SubscriptionActive
	sub.CurrentPeriodStart = &at
	sub.CurrentPeriodEnd = &periodEnd
	sub.TrialEndsAt = nil
	sub.ReminderSentAt = nil
	sub.CancelledAt = nil
	sub.ScheduledPlanName = ""
	sub.ScheduledChangeDate = nil
	if payment.PhoneNumber != "" {
		sub.PhoneNumber = payment.PhoneNumber
	}
	sub.UpdatedAt = at
	err = tx.Model(&domain.Subscription{}).Where("id = ?", sub.ID).Updates(map[string]interface{}{
		"plan_name":             sub.PlanName,
		"status":                sub.Status,
		"current_period_start":  sub.CurrentPeriodStart,
		"current_period_end":    sub.CurrentPeriodEnd,
		"trial_ends_at":         nil,
		"reminder_sent_at":      nil,
		"cancelled_at":          nil,
		"scheduled_plan_name":   "",
		"scheduled_change_date": nil,
		"order_limit":           sub.OrderLimit,
		"max_orgs":              sub.MaxOrgs,
		"max_products_per_org":  sub.MaxProductsPerOrg,
		"phone_number":          sub.PhoneNumber,
		"updated_at":            at,
	}).Error
	return sub, perrors.Wrap(err, "activate subscription")
}

// PublishActivated announces a subscription written by ActivateTx.
func (s *Subscriptions) PublishActivated(sub *domain.Subscription) {
	s.publish(sub, events.ReasonActivated)
}

// RememberPhone stores the payer phone on the latest subscription, if any, for renewal reminders.
func (s *Subscriptions) RememberPhone(ctx context.Context, userID int64, phone string) error {
	sub, err := s.Current(ctx, userID)
	if err != nil || sub == nil {
		return err
	}
	return perrors.Wrap(s.db.WithContext(ctx).Model(&domain.Subscription{}).
		Where("id = ?", sub.ID).
		Update("phone_number", phone).Error, "save subscription phone")
}

// SetPlan switches the plan immediately without payment.
func (s *Subscriptions) SetPlan(ctx context.Context, userID int64, planName string) (*domain.Subscription, error) {
	var sub *domain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan, err := planByName(tx, planName)
		if err != nil {
			return err
		}
		if _, err := lockedCurrent(tx, userID); err != nil {
			return err
		}
		sub, err = s.ActivateTx(tx, &domain.Payment{UserID: userID, PlanName: plan.Name}, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(sub, events.ReasonPlanSet)
	return sub, nil
}

// ScheduleDowngrade records a move to a cheaper plan. The active plan is unchanged until
// ApplyScheduledDowngrades runs after the change date.
func (s *Subscriptions) ScheduleDowngrade(ctx context.Context, userID int64, planName string, at *time.Time) (*domain.Subscription, error) {
	var sub *domain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		target, err := planByName(tx, planName)
		if err != nil {
			return err
		}
		sub, err = lockedCurrent(tx, userID)
		if err != nil {
			return err
		}
		if !sub.Usable() {
			return domain.NewBusinessError("NO_SUBSCRIPTION", "no active subscription to downgrade")
		}
		current, err := planByName(tx, sub.PlanName)
		if err != nil {
			return err
		}
		if !target.PriceUSD.LessThan(current.PriceUSD) {
			return domain.NewBusinessError("INVALID_DOWNGRADE", target.Name+" is not cheaper than "+current.Name)
		}
		when := s.changeDate(sub, at)
		sub.ScheduledPlanName = target.Name
		sub.ScheduledChangeDate = &when
		sub.UpdatedAt = s.now()
		return perrors.Wrap(tx.Model(&domain.Subscription{}).Where("id = ?", sub.ID).Updates(map[string]interface{}{
			"scheduled_plan_name":   sub.ScheduledPlanName,
			"scheduled_change_date": sub.ScheduledChangeDate,
			"updated_at":            sub.UpdatedAt,
		}).Error, "schedule downgrade")
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Subscriptions) changeDate(sub *domain.Subscription, at *time.Time) time.Time {
	switch {
	case at != nil:
		return *at
	case sub.CurrentPeriodEnd != nil:
		return *sub.CurrentPeriodEnd
	case sub.TrialEndsAt != nil:
		return *sub.TrialEndsAt
	}
	return s.now()
}

func (s *Subscriptions) CancelScheduledChange(ctx context.Context, userID int64) (*domain.Subscription, error) {
	sub, err := s.Current(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil || sub.ScheduledPlanName == "" {
		return nil, domain.NewBusinessError("NO_SCHEDULED_CHANGE", "no plan change is scheduled")
	}
	sub.ScheduledPlanName = ""
	sub.ScheduledChangeDate = nil
	sub.UpdatedAt = s.now()
	err = s.db.WithContext(ctx).Model(&domain.Subscription{}).Where("id = ?", sub.ID).Updates(map[string]interface{}{
		"scheduled_plan_name":   "",
		"scheduled_change_date": nil,
		"updated_at":            sub.UpdatedAt,
	}).Error
	if err != nil {
		return nil, perrors.Wrap(err, "cancel scheduled change")
	}
	s.publish(sub, events.ReasonChangeCanceled)
	return sub, nil
}

// Cancel marks the current subscription cancelled. The row is kept.
func (s *Subscriptions) Cancel(ctx context.Context, userID int64) (*domain.Subscription, error) {
	sub, err := s.Current(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !sub.Usable() {
		return nil, domain.NewBusinessError("NO_SUBSCRIPTION", "no active subscription to cancel")
	}
	now := s.now()
	res := s.db.WithContext(ctx).Model(&domain.Subscription{}).
		Where("id = ? AND status = ?", sub.ID, sub.Status).
		Updates(map[string]interface{}{
			"status":                domain.SubscriptionCancelled,
			"cancelled_at":          now,
			"scheduled_plan_name":   "",
			"scheduled_change_date": nil,
			"updated_at":            now,
		})
	if res.Error != nil {
		return nil, perrors.Wrap(res.Error, "cancel subscription")
	}
	if res.RowsAffected == 0 {
		return nil, domain.NewBusinessError("SUBSCRIPTION_CHANGED", "subscription changed concurrently, retry")
	}
	sub.Status = domain.SubscriptionCancelled
	sub.CancelledAt = &now
	sub.ScheduledPlanName = ""
	sub.ScheduledChangeDate = nil
	s.publish(sub, events.ReasonCancelled)
	return sub, nil
}

// ApplyScheduledDowngrades swaps in every scheduled plan whose change date has passed.
func (s *Subscriptions) ApplyScheduledDowngrades(ctx context.Context) (int, error) {
	now := s.now()
	var due []domain.Subscription
	err := s.db.WithContext(ctx).
		Where("scheduled_plan_name <> '' AND scheduled_change_date IS NOT NULL AND scheduled_change_date <= ?", now).
		Find(&due).Error
	if err != nil {
		return 0, perrors.Wrap(err, "query scheduled downgrades")
	}
	applied := 0
	for i := range due {
		sub := due[i]
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			plan, err := planByName(tx, sub.ScheduledPlanName)
			if err != nil {
				return err
			}
			snapshot(&sub, plan)
			res := tx.Model(&domain.Subscription{}).
				Where("id = ? AND scheduled_plan_name = ?", sub.ID, plan.Name).
				Updates(map[string]interface{}{
					"plan_name":             sub.PlanName,
					"order_limit":           sub.OrderLimit,
					"max_orgs":              sub.MaxOrgs,
					"max_products_per_org":  sub.MaxProductsPerOrg,
					"scheduled_plan_name":   "",
					"scheduled_change_date": nil,
					"updated_at":            now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errSkipped
			}
			return nil
		})
		if errors.Is(err, errSkipped) {
			continue
		}
		if err != nil {
			zap.L().Error("apply scheduled downgrade failed", zap.Int64("subscription_id", sub.ID), zap.Error(err))
			continue
		}
		sub.ScheduledPlanName = ""
		sub.ScheduledChangeDate = nil
		applied++
		s.publish(&sub, events.ReasonDowngraded)
	}
	return applied, nil
}

var errSkipped = errors.New("skipped")

// ExpireLapsed moves trials past trialEndsAt and active rows past currentPeriodEnd to expired.
func (s *Subscriptions) ExpireLapsed(ctx context.Context) (int, error) {
	now := s.now()
	var lapsed []domain.Subscription
	err := s.db.WithContext(ctx).
		Where("(status = ? AND trial_ends_at IS NOT NULL AND trial_ends_at < ?) OR (status = ? AND current_period_end IS NOT NULL AND current_period_end < ?)",
			domain.SubscriptionTrial, now, domain.SubscriptionActive, now).
		Find(&lapsed).Error
	if err != nil {
		return 0, perrors.Wrap(err, "query lapsed subscriptions")
	}
	expired := 0
	for i := range lapsed {
		sub := lapsed[i]
		res := s.db.WithContext(ctx).Model(&domain.Subscription{}).
			Where("id = ? AND status = ?", sub.ID, sub.Status).
			Updates(map[string]interface{}{"status": domain.SubscriptionExpired, "updated_at": now})
		if res.Error != nil {
			zap.L().Error("expire subscription failed", zap.Int64("subscription_id", sub.ID), zap.Error(res.Error))
			continue
		}
		if res.RowsAffected == 0 {
			continue
		}
		sub.Status = domain.SubscriptionExpired
		expired++
		s.publish(&sub, events.ReasonExpired)
	}
	return expired, nil
}

// SendRenewalReminders announces active subscriptions ending within days and stamps reminderSentAt.
func (s *Subscriptions) SendRenewalReminders(ctx context.Context, days int) (int, error) {
	if days <= 0 {
		days = s.cfg.ReminderDays
	}
	now := s.now()
	horizon := now.AddDate(0, 0, days)
	var due []domain.Subscription
	err := s.db.WithContext(ctx).
		Where("status = ? AND reminder_sent_at IS NULL AND current_period_end IS NOT NULL AND current_period_end > ? AND current_period_end <= ?",
			domain.SubscriptionActive, now, horizon).
		Find(&due).Error
	if err != nil {
		return 0, perrors.Wrap(err, "query renewals")
	}
	sent := 0
	for i := range due {
		sub := due[i]
		res := s.db.WithContext(ctx).Model(&domain.Subscription{}).
			Where("id = ? AND reminder_sent_at IS NULL", sub.ID).
			Update("reminder_sent_at", now)
		if res.Error != nil {
			zap.L().Error("stamp renewal reminder failed", zap.Int64("subscription_id", sub.ID), zap.Error(res.Error))
			continue
		}
		if res.RowsAffected == 0 {
			continue
		}
		sub.ReminderSentAt = &now
		sent++
		s.publish(&sub, events.ReasonRenewalDue)
	}
	return sent, nil
}
