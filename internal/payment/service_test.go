package payment

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bjo163/sokomarket/config"
	"github.com/bjo163/sokomarket/internal/billing"
	"github.com/bjo163/sokomarket/internal/domain"
	"github.com/bjo163/sokomarket/internal/domain/dbtest"
	"github.com/bjo163/sokomarket/internal/events"
	"github.com/bjo163/sokomarket/internal/paypack"
	"github.com/bjo163/sokomarket/pkg/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CashIn(ctx context.Context, phone string, amount int64) (*paypack.Transaction, error) {
	args := m.Called(ctx, phone, amount)
	if tx, ok := args.Get(0).(*paypack.Transaction); ok {
		return tx, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGateway) LatestStatus(ctx context.Context, ref string) (string, error) {
	args := m.Called(ctx, ref)
	return args.String(0), args.Error(1)
}

type fixture struct {
	db      *gorm.DB
	gateway *MockGateway
	subs    *billing.Subscriptions
	svc     *Service
	rec     *events.Recorder
	user    *domain.User
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	plans := billing.NewPlans(db)
	require.NoError(t, plans.Seed(context.Background()))
	f := &fixture{
		db:      db,
		gateway: &MockGateway{},
		rec:     &events.Recorder{},
		now:     time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
	}
	f.subs = billing.NewSubscriptions(db, f.rec, config.BillingConfig{TrialDays: 14})
	f.svc = NewService(db, f.gateway, plans, f.subs, f.rec, decimal.RequireFromString("1457.39"), "RWF")
	f.svc.now = func() time.Time { return f.now }
	f.user = &domain.User{ID: common.UUIDint64(), Name: "Claudine", Email: fmt.Sprintf("c%d@soko.test", common.UUIDint64())}
	require.NoError(t, db.Create(f.user).Error)
	return f
}

func TestInitiateConvertsPriceAndNormalizesPhone(t *testing.T) {
	f := newFixture(t)
	f.gateway.On("CashIn", mock.Anything, "0788123456", int64(131165)).
		Return(&paypack.Transaction{Ref: "pp-1", Status: "pending"}, nil).Once()

	p, err := f.svc.Initiate(context.Background(), f.user, InitiateInput{PlanName: "growth", PhoneNumber: "+250 788 123 456"})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, p.Status)
	assert.Equal(t, "pp-1", p.PaypackRef)
	assert.Equal(t, "Growth", p.PlanName)
	assert.True(t, decimal.NewFromInt(131165).Equal(p.Amount))
	assert.Equal(t, "RWF", p.Currency)
	assert.False(t, p.IsRenewal)
	f.gateway.AssertExpectations(t)
}

func TestInitiateRejectsBeforeCallingGateway(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		in   InitiateInput
		code string
	}{
		{"free plan", InitiateInput{PlanName: "Free", PhoneNumber: "0788123456"}, "FREE_PLAN"},
		{"unknown plan", InitiateInput{PlanName: "Platinum", PhoneNumber: "0788123456"}, "PLAN_NOT_FOUND"},
		{"bad phone", InitiateInput{PlanName: "Starter", PhoneNumber: "12345"}, "INVALID_PHONE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Initiate(context.Background(), f.user, tt.in)
			assert.Equal(t, tt.code, domain.CodeOf(err))
		})
	}
	f.gateway.AssertNotCalled(t, "CashIn", mock.Anything, mock.Anything, mock.Anything)
}

func TestInitiateGatewayFailureStoresNothing(t *testing.T) {
	f := newFixture(t)
	f.gateway.On("CashIn", mock.Anything, "0788123456", mock.Anything).
		Return(nil, domain.NewExternalError("GATEWAY_ERROR", "cash-in request failed", errors.New("timeout")))

	_, err := f.svc.Initiate(context.Background(), f.user, InitiateInput{PlanName: "Starter", PhoneNumber: "0788123456"})
	assert.Equal(t, domain.KindExternal, domain.KindOf(err))
	var n int64
	f.db.Model(&domain.Payment{}).Count(&n)
	assert.Zero(t, n)
}

func (f *fixture) pending(t *testing.T, ref, plan string, created time.Time) *domain.Payment {
	t.Helper()
	p := &domain.Payment{
		ID: common.UUIDint64(), UserID: f.user.ID, PhoneNumber: "0788123456", Amount: decimal.NewFromInt(131165),
		Currency: "RWF", PlanName: plan, PaypackRef: ref, Status: domain.PaymentPending, CreatedAt: created, UpdatedAt: created,
	}
	require.NoError(t, f.db.Create(p).Error)
	return p
}

func TestSuccessfulPaymentActivatesOnce(t *testing.T) {
	f := newFixture(t)
	_, err := f.subs.Start(context.Background(), f.user.ID, "Starter")
	require.NoError(t, err)
	f.pending(t, "pp-ok", "Growth", f.now.Add(-30*time.Second))
	f.gateway.On("LatestStatus", mock.Anything, "pp-ok").Return(paypack.StatusSuccessful, nil).Once()

	p, err := f.svc.CheckStatus(context.Background(), f.user, "pp-ok")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentSuccessful, p.Status)
	require.NotNil(t, p.ProcessedAt)

	sub, err := f.subs.Current(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Growth", sub.PlanName)
	assert.Equal(t, domain.SubscriptionActive, sub.Status)
	assert.Nil(t, sub.TrialEndsAt)
	require.NotNil(t, sub.OrderLimit)
	assert.Equal(t, 2000, *sub.OrderLimit)
	assert.True(t, f.now.AddDate(0, 1, 0).Equal(*sub.CurrentPeriodEnd))

	// settled payments short-circuit without asking the gateway again
	again, err := f.svc.CheckStatus(context.Background(), f.user, "pp-ok")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentSuccessful, again.Status)
	f.gateway.AssertNumberOfCalls(t, "LatestStatus", 1)

	assert.Len(t, f.rec.Topic(events.TopicPaymentSettled), 1)
	var activations int
	for _, e := range f.rec.Topic(events.TopicSubscriptionChanged) {
		if e.(events.SubscriptionChanged).Reason == events.ReasonActivated {
			activations++
		}
	}
	assert.Equal(t, 1, activations)
}

func TestFailedAndPendingStatuses(t *testing.T) {
	f := newFixture(t)
	f.pending(t, "pp-fail", "Starter", f.now)
	f.pending(t, "pp-wait", "Starter", f.now)
	f.gateway.On("LatestStatus", mock.Anything, "pp-fail").Return(paypack.StatusFailed, nil)
	f.gateway.On("LatestStatus", mock.Anything, "pp-wait").Return(paypack.StatusPending, nil)

	failed, err := f.svc.CheckStatus(context.Background(), f.user, "pp-fail")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, failed.Status)

	waiting, err := f.svc.CheckStatus(context.Background(), f.user, "pp-wait")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, waiting.Status)

	sub, err := f.subs.Current(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestCheckStatusHidesOtherUsersPayments(t *testing.T) {
	f := newFixture(t)
	f.pending(t, "pp-x", "Starter", f.now)
	other := &domain.User{ID: common.UUIDint64(), Email: "other@soko.test"}

	_, err := f.svc.CheckStatus(context.Background(), other, "pp-x")
	assert.Equal(t, "PAYMENT_NOT_FOUND", domain.CodeOf(err))
	f.gateway.AssertNotCalled(t, "LatestStatus", mock.Anything, mock.Anything)
}

func TestReconcilePendingWindow(t *testing.T) {
	f := newFixture(t)
	f.pending(t, "fresh", "Starter", f.now.Add(-10*time.Second))
	f.pending(t, "due", "Starter", f.now.Add(-10*time.Minute))
	f.pending(t, "stale", "Starter", f.now.Add(-48*time.Hour))
	f.pending(t, "broken", "Starter", f.now.Add(-5*time.Minute))
	f.gateway.On("LatestStatus", mock.Anything, "due").Return(paypack.StatusSuccessful, nil)
	f.gateway.On("LatestStatus", mock.Anything, "broken").Return("", errors.New("gateway down"))

	res, err := f.svc.ReconcilePending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Checked)
	assert.Equal(t, 1, res.Settled)
	assert.Equal(t, 1, res.Failed)
	f.gateway.AssertNotCalled(t, "LatestStatus", mock.Anything, "fresh")
	f.gateway.AssertNotCalled(t, "LatestStatus", mock.Anything, "stale")

	rows, total, err := f.svc.List(context.Background(), f.user.ID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	assert.Len(t, rows, 4)
}
