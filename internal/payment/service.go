// Package payment runs subscription payments through the mobile-money gateway.
package payment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bjo163/sokomarket/internal/domain"
	"github.com/bjo163/sokomarket/internal/events"
	"github.com/bjo163/sokomarket/internal/paypack"
	"github.com/bjo163/sokomarket/pkg/common"
	perrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrPaymentNotFound = domain.NewNotFoundError("PAYMENT_NOT_FOUND", "payment not found")

// Gateway is the part of the provider client this service needs.
type Gateway interface {
	CashIn(ctx context.Context, phone string, amount int64) (*paypack.Transaction, error)
	LatestStatus(ctx context.Context, ref string) (string, error)
}

type PlanSource interface {
	Get(ctx context.Context, name string) (*domain.Plan, error)
}

// Activator writes the subscription a successful payment pays for.
type Activator interface {
	Current(ctx context.Context, userID int64) (*domain.Subscription, error)
	ActivateTx(tx *gorm.DB, payment *domain.Payment, at time.Time) (*domain.Subscription, error)
	PublishActivated(sub *domain.Subscription)
	RememberPhone(ctx context.Context, userID int64, phone string) error
}

type Service struct {
	db       *gorm.DB
	gateway  Gateway
	plans    PlanSource
	subs     Activator
	events   events.Publisher
	rate     decimal.Decimal
	currency string
	now      func() time.Time
}

func NewService(db *gorm.DB, gateway Gateway, plans PlanSource, subs Activator, pub events.Publisher, rate decimal.Decimal, currency string) *Service {
	if currency == "" {
		currency = "RWF"
	}
	return &Service{
		db:       db,
		gateway:  gateway,
		plans:    plans,
		subs:     subs,
		events:   pub,
		rate:     rate,
		currency: currency,
		now:      time.Now,
	}
}

type InitiateInput struct {
	PlanName    string `json:"plan_name" validate:"required"`
	PhoneNumber string `json:"phone_number" validate:"required"`
}

// Initiate starts a cash-in for the plan price converted to francs and records a pending payment.
func (s *Service) Initiate(ctx context.Context, user *domain.User, in InitiateInput) (*domain.Payment, error) {
	plan, err := s.plans.Get(ctx, strings.TrimSpace(in.PlanName))
	if err != nil {
		return nil, err
	}
	if plan.IsFree() {
		return nil, domain.NewValidationError("FREE_PLAN", "the "+plan.Name+" plan does not require payment")
	}
	phone, err := paypack.NormalizePhone(in.PhoneNumber)
	if err != nil {
		return nil, err
	}
	amount := paypack.ToRWF(plan.PriceUSD, s.rate)
	if amount <= 0 {
		return nil, domain.NewValidationError("INVALID_AMOUNT", "converted amount must be positive")
	}

	renewal := false
	if current, err := s.subs.Current(ctx, user.ID); err != nil {
		return nil, err
	} else if current != nil && current.Status == domain.SubscriptionActive && strings.EqualFold(current.PlanName, plan.Name) {
		renewal = true
	}

	tx, err := s.gateway.CashIn(ctx, phone, amount)
	if err != nil {
		zap.L().Error("cash-in failed",
			zap.Int64("user_id", user.ID),
			zap.String("plan", plan.Name),
			zap.Int64("amount", amount),
			zap.Error(err))
		return nil, err
	}

	now := s.now()
	payment := &domain.Payment{
		ID:          common.UUIDint64(),
		UserID:      user.ID,
		PhoneNumber: phone,
		Amount:      decimal.NewFromInt(amount),
		Currency:    s.currency,
		PlanName:    plan.Name,
		IsRenewal:   renewal,
		PaypackRef:  tx.Ref,
		Status:      domain.PaymentPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(payment).Error; err != nil {
		return nil, perrors.Wrap(err, "insert payment")
	}
	if err := s.subs.RememberPhone(ctx, user.ID, phone); err != nil {
		zap.L().Warn("remember payer phone", zap.Int64("user_id", user.ID), zap.Error(err))
	}
	zap.L().Info("payment initiated",
		zap.Int64("payment_id", payment.ID),
		zap.String("ref", payment.PaypackRef),
		zap.String("plan", payment.PlanName),
		zap.Int64("amount", amount))
	return payment, nil
}

func (s *Service) byRef(ctx context.Context, ref string) (*domain.Payment, error) {
	var p domain.Payment
	err := s.db.WithContext(ctx).Where("paypack_ref = ?", ref).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, perrors.Wrap(err, "load payment")
	}
	return &p, nil
}

// CheckStatus reconciles a payment with the gateway. Settled payments return without a
// gateway call. viewer nil means a system caller.
func (s *Service) CheckStatus(ctx context.Context, viewer *domain.User, ref string) (*domain.Payment, error) {
	payment, err := s.byRef(ctx, strings.TrimSpace(ref))
	if err != nil {
		return nil, err
	}
	if viewer != nil && payment.UserID != viewer.ID && !viewer.IsAdmin() {
		return nil, ErrPaymentNotFound
	}
	if payment.Status != domain.PaymentPending {
		return payment, nil
	}

	status, err := s.gateway.LatestStatus(ctx, payment.PaypackRef)
	if err != nil {
		return nil, err
	}
	if status != paypack.StatusSuccessful && status != paypack.StatusFailed {
		return payment, nil
	}
	return s.settle(ctx, payment, status)
}

// settle moves the payment out of pending. Only the caller whose compare-and-swap wins
// activates the subscription and publishes.
func (s *Service) settle(ctx context.Context, payment *domain.Payment, status string) (*domain.Payment, error) {
	target := domain.PaymentFailed
	if status == paypack.StatusSuccessful {
		target = domain.PaymentSuccessful
	}
	var (
		sub *domain.Subscription
		won bool
	)
	now := s.now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Payment{}).
			Where("id = ? AND status = ?", payment.ID, domain.PaymentPending).
			Updates(map[string]interface{}{"status": target, "processed_at": now, "updated_at": now})
		if res.Error != nil {
			return perrors.Wrap(res.Error, "settle payment")
		}
		if res.RowsAffected == 0 {
			return nil
		}
		won = true
		if target != domain.PaymentSuccessful {
			return nil
		}
		var err error
		sub, err = s.subs.ActivateTx(tx, payment, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !won {
		return s.byRef(ctx, payment.PaypackRef)
	}

	payment.Status = target
	payment.ProcessedAt = &now
	payment.UpdatedAt = now
	zap.L().Info("payment settled",
		zap.Int64("payment_id", payment.ID),
		zap.String("ref", payment.PaypackRef),
		zap.String("status", target))
	if s.events != nil {
		s.events.Publish(events.TopicPaymentSettled, events.PaymentSettled{
			PaymentID:  payment.ID,
			UserID:     payment.UserID,
			PaypackRef: payment.PaypackRef,
			PlanName:   payment.PlanName,
			Amount:     payment.Amount,
			Status:     target,
			OccurredAt: now,
		})
	}
	if sub != nil {
		s.subs.PublishActivated(sub)
	}
	return payment, nil
}

// ReconcileResult reports one sweep of pending payments.
type ReconcileResult struct {
	Checked int
	Settled int
	Failed  int
}

// ReconcilePending checks payments pending for more than a minute and less than a day,
// so subscriptions activate even when the client stopped polling.
func (s *Service) ReconcilePending(ctx context.Context) (*ReconcileResult, error) {
	now := s.now()
	var pending []domain.Payment
	err := s.db.WithContext(ctx).
		Where("status = ? AND created_at <= ? AND created_at >= ?", domain.PaymentPending, now.Add(-time.Minute), now.Add(-24*time.Hour)).
		Order("created_at ASC").
		Limit(200).
		Find(&pending).Error
	if err != nil {
		return nil, perrors.Wrap(err, "query pending payments")
	}
	out := &ReconcileResult{}
	for _, p := range pending {
		if ctx.Err() != nil {
			break
		}
		out.Checked++
		got, err := s.CheckStatus(ctx, nil, p.PaypackRef)
		if err != nil {
			out.Failed++
			zap.L().Warn("reconcile payment", zap.Int64("payment_id", p.ID), zap.String("ref", p.PaypackRef), zap.Error(err))
			continue
		}
		if got.Status != domain.PaymentPending {
			out.Settled++
		}
	}
	return out, nil
}

// List returns the user's payments, newest first.
func (s *Service) List(ctx context.Context, userID int64, page, pageSize int) ([]domain.Payment, int64, error) {
	query := s.db.WithContext(ctx).Model(&domain.Payment{}).Where("user_id = ?", userID)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, perrors.Wrap(err, "count payments")
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	var rows []domain.Payment
	if err := query.Order("created_at DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&rows).Error; err != nil {
		return nil, 0, perrors.Wrap(err, "list payments")
	}
	return rows, total, nil
}
