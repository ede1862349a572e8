package orders

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/360EntSecGroup-Skylar/excelize"
	"github.com/bjo163/sokomarket/internal/billing"
	"github.com/bjo163/sokomarket/internal/cache"
	"github.com/bjo163/sokomarket/internal/domain"
	"github.com/bjo163/sokomarket/internal/domain/dbtest"
	"github.com/bjo163/sokomarket/internal/events"
	"github.com/bjo163/sokomarket/internal/inventory"
	"github.com/bjo163/sokomarket/internal/whatsapp"
	"github.com/bjo163/sokomarket/pkg/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type stubGate struct {
	deny     bool
	recorded int
}

func (g *stubGate) CheckOrderLimitTx(_ *gorm.DB, _ int64) (*billing.LimitResult, error) {
	if g.deny {
		max := 20
		return &billing.LimitResult{Resource: billing.ResourceOrder, CanCreate: false, Max: &max, Current: 20, PlanName: "Free"}, nil
	}
	return &billing.LimitResult{Resource: billing.ResourceOrder, CanCreate: true, Unlimited: true}, nil
}

func (g *stubGate) RecordOrderTx(_ *gorm.DB, _ int64, _ time.Time) error {
	g.recorded++
	return nil
}

type roleMap map[string]string

func (r roleMap) MemberRole(_ context.Context, orgID, userID int64) (string, error) {
	return r[fmt.Sprintf("%d/%d", orgID, userID)], nil
}

type fixture struct {
	db    *gorm.DB
	svc   *Service
	gate  *stubGate
	roles roleMap
	rec   *events.Recorder
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	f := &fixture{
		db:    db,
		gate:  &stubGate{},
		roles: roleMap{},
		rec:   &events.Recorder{},
		now:   time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(db, inventory.NewLedger(db), f.gate, f.roles, whatsapp.New("250"), cache.NewMemory(), f.rec,
		Options{PublicURL: "https://soko.test", TokenTTL: 48 * time.Hour, Currency: "RWF"})
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) user(t *testing.T) *domain.User {
	t.Helper()
	u := &domain.User{ID: common.UUIDint64(), Name: "Aline", Email: fmt.Sprintf("u%d@soko.test", common.UUIDint64()), Role: domain.UserRoleUser}
	require.NoError(t, f.db.Create(u).Error)
	return u
}

// store creates an organization owned by a fresh user with an enabled WhatsApp channel.
func (f *fixture) store(t *testing.T) (*domain.Organization, *domain.User) {
	t.Helper()
	owner := f.user(t)
	org := &domain.Organization{ID: common.UUIDint64(), Name: "Duka Nziza", Slug: fmt.Sprintf("duka-%d", common.UUIDint64()), OwnerID: owner.ID, Status: common.ENABLED}
	require.NoError(t, f.db.Create(org).Error)
	require.NoError(t, f.db.Create(&domain.MerchantChannel{
		ID: common.UUIDint64(), OrganizationID: org.ID, Kind: domain.ChannelWhatsApp, Address: "0788123456", Status: common.ENABLED,
	}).Error)
	f.roles[fmt.Sprintf("%d/%d", org.ID, owner.ID)] = domain.MemberRoleOwner
	return org, owner
}

func (f *fixture) product(t *testing.T, orgID int64, price int64, stock *int) *domain.Product {
	t.Helper()
	status := domain.ProductInStock
	if stock != nil && *stock == 0 {
		status = domain.ProductOutOfStock
	}
	p := &domain.Product{
		ID: common.UUIDint64(), OrganizationID: orgID, Name: "Ibirayi", Slug: fmt.Sprintf("ibirayi-%d", common.UUIDint64()),
		Price: decimal.NewFromInt(price), CurrentStock: stock, InventoryEnabled: stock != nil, LowStockThreshold: 2, Status: status,
	}
	require.NoError(t, f.db.Create(p).Error)
	return p
}

func (f *fixture) stock(t *testing.T, id int64) int {
	t.Helper()
	var p domain.Product
	require.NoError(t, f.db.First(&p, id).Error)
	return p.Stock()
}

func intPtr(v int) *int { return &v }

func TestPlaceSnapshotsPricesWithoutTouchingStock(t *testing.T) {
	f := newFixture(t)
	org, _ := f.store(t)
	customer := f.user(t)
	a := f.product(t, org.ID, 1500, intPtr(10))
	b := f.product(t, org.ID, 250, nil)

	res, err := f.svc.Place(context.Background(), customer, PlaceInput{
		Items: []ItemInput{{ProductID: a.ID, Quantity: 2}, {ProductID: b.ID, Quantity: 4}, {ProductID: a.ID, Quantity: 1}},
		Notes: "deliver after 5pm",
	}, "")
	require.NoError(t, err)

	order := res.Order
	assert.Equal(t, domain.OrderPending, order.Status)
	assert.Equal(t, int64(1), order.OrderNumber)
	require.Len(t, order.Items, 2)
	assert.Equal(t, 3, order.Items[0].Quantity)
	assert.True(t, decimal.NewFromInt(5500).Equal(order.TotalPrice), order.TotalPrice.String())
	assert.Equal(t, f.now.Add(48*time.Hour), order.TokenExpiresAt)
	assert.Equal(t, 10, f.stock(t, a.ID))
	assert.Equal(t, 1, f.gate.recorded)

	require.NotNil(t, res.Handoff)
	assert.Contains(t, res.Handoff.Link, "https://wa.me/250788123456?text=")
	assert.Contains(t, res.Handoff.Text, "/api/v1/public/orders/confirm?token="+order.ConfirmationToken)

	// later price changes leave the snapshot alone
	require.NoError(t, f.db.Model(&domain.Product{}).Where("id = ?", a.ID).Update("price", decimal.NewFromInt(9999)).Error)
	got, err := f.svc.Get(context.Background(), order.ID, customer)
	require.NoError(t, err)
	for _, it := range got.Items {
		if it.ProductID == a.ID {
			assert.True(t, decimal.NewFromInt(1500).Equal(it.PriceAtOrder))
		}
	}
	require.Len(t, f.rec.Topic(events.TopicOrderPlaced), 1)
}

func TestOrderNumbersArePerOrganization(t *testing.T) {
	f := newFixture(t)
	orgA, _ := f.store(t)
	orgB, _ := f.store(t)
	customer := f.user(t)
	pa := f.product(t, orgA.ID, 100, nil)
	pb := f.product(t, orgB.ID, 100, nil)

	var numbersA []int64
	for i := 0; i < 3; i++ {
		res, err := f.svc.Place(context.Background(), customer, PlaceInput{Items: []ItemInput{{ProductID: pa.ID, Quantity: 1}}}, "")
		require.NoError(t, err)
		numbersA = append(numbersA, res.Order.OrderNumber)
	}
	res, err := f.svc.Place(context.Background(), customer, PlaceInput{Items: []ItemInput{{ProductID: pb.ID, Quantity: 1}}}, "")
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3}, numbersA)
	assert.Equal(t, int64(1), res.Order.OrderNumber)
}

func TestPlaceRejections(t *testing.T) {
	f := newFixture(t)
	orgA, _ := f.store(t)
	orgB, _ := f.store(t)
	customer := f.user(t)
	pa := f.product(t, orgA.ID, 100, intPtr(5))
	pb := f.product(t, orgB.ID, 100, intPtr(5))
	archived := f.product(t, orgA.ID, 100, nil)
	require.NoError(t, f.db.Model(archived).Update("status", domain.ProductArchived).Error)
	draft := f.product(t, orgA.ID, 100, nil)
	require.NoError(t, f.db.Model(draft).Update("status", domain.ProductDraft).Error)

	tests := []struct {
		name  string
		items []ItemInput
		code  string
	}{
		{"mixed stores", []ItemInput{{ProductID: pa.ID, Quantity: 1}, {ProductID: pb.ID, Quantity: 1}}, "MIXED_ORGANIZATION"},
		{"empty cart", nil, "EMPTY_CART"},
		{"zero quantity", []ItemInput{{ProductID: pa.ID, Quantity: 0}}, "INVALID_QUANTITY"},
		{"unknown product", []ItemInput{{ProductID: 12345, Quantity: 1}}, "PRODUCT_NOT_FOUND"},
		{"archived product", []ItemInput{{ProductID: archived.ID, Quantity: 1}}, "PRODUCT_UNAVAILABLE"},
		{"draft product", []ItemInput{{ProductID: draft.ID, Quantity: 1}}, "PRODUCT_UNAVAILABLE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Place(context.Background(), customer, PlaceInput{Items: tt.items}, "")
			require.Error(t, err)
			assert.Equal(t, tt.code, domain.CodeOf(err))
		})
	}

	var count int64
	f.db.Model(&domain.Order{}).Count(&count)
	assert.Zero(t, count)
	f.db.Model(&domain.OrderItem{}).Count(&count)
	assert.Zero(t, count)
}

func TestPlaceDeniedByOrderLimit(t *testing.T) {
	f := newFixture(t)
	org, _ := f.store(t)
	customer := f.user(t)
	p := f.product(t, org.ID, 100, nil)
	f.gate.deny = true

	_, err := f.svc.Place(context.Background(), customer, PlaceInput{Items: []ItemInput{{ProductID: p.ID, Quantity: 1}}}, "")
	assert.Equal(t, "LIMIT_REACHED", domain.CodeOf(err))
	assert.Zero(t, f.gate.recorded)
}

func TestPlaceWithoutChannelStillCreatesOrder(t *testing.T) {
	f := newFixture(t)
	org, _ := f.store(t)
	require.NoError(t, f.db.Where("organization_id = ?", org.ID).Delete(&domain.MerchantChannel{}).Error)
	customer := f.user(t)
	p := f.product(t, org.ID, 100, nil)

	res, err := f.svc.Place(context.Background(), customer, PlaceInput{Items: []ItemInput{{ProductID: p.ID, Quantity: 1}}}, "")
	require.NoError(t, err)
	assert.Nil(t, res.Handoff)
	assert.Contains(t, res.ChannelError, "NO_CHANNEL")
	assert.NotZero(t, res.Order.ID)
}

func TestPlaceIdempotencyKeyReplays(t *testing.T) {
	f := newFixture(t)
	org, _ := f.store(t)
	customer := f.user(t)
	p := f.product(t, org.ID, 100, nil)
	in := PlaceInput{Items: []ItemInput{{ProductID: p.ID, Quantity: 1}}}

	first, err := f.svc.Place(context.Background(), customer, in, "cart-77")
	require.NoError(t, err)
	second, err := f.svc.Place(context.Background(), customer, in, "cart-77")
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	var count int64
	f.db.Model(&domain.Order{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestPlaceIdempotencyKeyConcurrentSubmit(t *testing.T) {
	f := newFixture(t)
	org, _ := f.store(t)
	customer := f.user(t)
	p := f.product(t, org.ID, 100, nil)
	in := PlaceInput{Items: []ItemInput{{ProductID: p.ID, Quantity: 1}}}

	const n = 4
	var (
		wg      sync.WaitGroup
		results [n]*Placement
		errs    [n]error
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = f.svc.Place(context.Background(), customer, in, "cart-77")
		}(i)
	}
	close(start)
	wg.Wait()

	var count int64
	require.NoError(t, f.db.Model(&domain.Order{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var orderID int64
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			assert.Equal(t, "IDEMPOTENCY_IN_PROGRESS", domain.CodeOf(errs[i]))
			continue
		}
		if orderID == 0 {
			orderID = results[i].Order.ID
		}
		assert.Equal(t, orderID, results[i].Order.ID)
	}
	assert.NotZero(t, orderID)
}

func TestPlaceFailureReleasesIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	org, _ := f.store(t)
	customer := f.user(t)
	p := f.product(t, org.ID, 100, nil)

	_, err := f.svc.Place(context.Background(), customer, PlaceInput{Items: []ItemInput{{ProductID: 999, Quantity: 1}}}, "cart-9")
	assert.Equal(t, "PRODUCT_NOT_FOUND", domain.CodeOf(err))

	res, err := f.svc.Place(context.Background(), customer, PlaceInput{Items: []ItemInput{{ProductID: p.ID, Quantity: 1}}}, "cart-9")
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.NotZero(t, res.Order.ID)
}

func TestConfirmDeductsAndCancelRestores(t *testing.T) {
	f := newFixture(t)
	org, owner := f.store(t)
	customer := f.user(t)
	p := f.product(t, org.ID, 800, intPtr(10))

	res, err := f.svc.Place(context.Background(), customer, PlaceInput{Items: []ItemInput{{ProductID: p.ID, Quantity: 3}}}, "")
	require.NoError(t, err)
	assert.Equal(t, 10, f.stock(t, p.ID))

	confirmed, err := f.svc.UpdateStatus(context.Background(), res.Order.ID, domain.OrderConfirmed, owner)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderConfirmed, confirmed.Status)
	assert.NotNil(t, confirmed.ConfirmedAt)
	assert.Equal(t, 7, f.stock(t, p.ID))

	var sale domain.InventoryHistory
	require.NoError(t, f.db.Where("reference_key = ?", saleKey(res.Order.ID, p.ID)).First(&sale).Error)
	assert.Equal(t, domain.ChangeSale, sale.ChangeType)
	assert.Equal(t, -3, sale.QuantityChange)
	assert.Equal(t, owner.ID, sale.ActorID)

	// confirming twice is a no-op
	_, err = f.svc.UpdateStatus(context.Background(), res.Order.ID, domain.OrderConfirmed, owner)
	require.NoError(t, err)
	assert.Equal(t, 7, f.stock(t, p.ID))

	cancelled, err := f.svc.Cancel(context.Background(), res.Order.ID, customer)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, cancelled.Status)
	assert.Equal(t, 10, f.stock(t, p.ID))

	var ret domain.InventoryHistory
	require.NoError(t, f.db.Where("reference_key = ?", returnKey(res.Order.ID, p.ID)).First(&ret).Error)
	assert.Equal(t, domain.ChangeReturn, ret.ChangeType)
	assert.Equal(t, 3, ret.QuantityChange)

	changes := f.rec.Topic(events.TopicOrderStatusChanged)
	require.Len(t, changes, 2)
	assert.Equal(t, domain.OrderCancelled, changes[1].(events.OrderStatusChanged).To)
}

func TestCancelPendingRestoresNothing(t *testing.T) {
	f := newFixture(t)
	org, _ := f.store(t)
	customer := f.user(t)
	p := f.product(t, org.ID, 800, intPtr(4))

	res, err := f.svc.Place(context.Background(), customer, PlaceInput{Items: []ItemInput{{ProductID: p.ID, Quantity: 2}}}, "")
	require.NoError(t, err)
	_, err = f.svc.Cancel(context.Background(), res.Order.ID, customer)
	require.NoError(t, err)

	assert.Equal(t, 4, f.stock(t, p.ID))
	var count int64
	f.db.Model(&domain.InventoryHistory{}).Count(&count)
	assert.Zero(t, count)
}

func TestOversoldConfirmRestoresOnlyWhatWasTaken(t *testing.T) {
	f := newFixture(t)
	org, owner := f.store(t)
	customer := f.user(t)
	p := f.product(t, org.ID, 800, intPtr(2))

	res, err := f.svc.Place(context.Background(), customer, PlaceInput{Items: []ItemInput{{ProductID: p.ID, Quantity: 5}}}, "")
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(context.Background(), res.Order.ID, domain.OrderConfirmed, owner)
	require.NoError(t, err)
	assert.Equal(t, 0, f.stock(t, p.ID))
	require.Len(t, f.rec.Topic(events.TopicLowStock), 1)

	_, err = f.svc.UpdateStatus(context.Background(), res.Order.ID, domain.OrderCancelled, owner)
	require.NoError(t, err)
	assert.Equal(t, 2, f.stock(t, p.ID))
}

func TestTransitionRules(t *testing.T) {
	f := newFixture(t)
	org, owner := f.store(t)
	customer := f.user(t)
	p := f.product(t, org.ID, 100, nil)
	place := func() int64 {
		res, err := f.svc.Place(context.Background(), customer, PlaceInput{Items: []ItemInput{{ProductID: p.ID, Quantity: 1}}}, "")
		require.NoError(t, err)
		return res.Order.ID
	}

	t.Run("skipping a step", func(t *testing.T) {
		_, err := f.svc.UpdateStatus(context.Background(), place(), domain.OrderReady, owner)
		assert.Equal(t, "INVALID_TRANSITION", domain.CodeOf(err))
	})

	t.Run("unknown status", func(t *testing.T) {
		_, err := f.svc.UpdateStatus(context.Background(), place(), "shipped", owner)
		assert.Equal(t, "INVALID_STATUS", domain.CodeOf(err))
	})

	t.Run("customer cannot drive merchant path", func(t *testing.T) {
		_, err := f.svc.UpdateStatus(context.Background(), place(), domain.OrderConfirmed, customer)
		assert.Equal(t, "FORBIDDEN", domain.CodeOf(err))
	})

	t.Run("full path then terminal", func(t *testing.T) {
		id := place()
		for _, s := range []string{domain.OrderConfirmed, domain.OrderPreparing, domain.OrderReady, domain.OrderDelivered} {
			_, err := f.svc.UpdateStatus(context.Background(), id, s, owner)
			require.NoError(t, err, s)
		}
		_, err := f.svc.UpdateStatus(context.Background(), id, domain.OrderCancelled, owner)
		assert.Equal(t, "ORDER_CLOSED", domain.CodeOf(err))
		_, err = f.svc.UpdateStatus(context.Background(), id, domain.OrderDelivered, owner)
		assert.Equal(t, "ORDER_CLOSED", domain.CodeOf(err))
		_, err = f.svc.Cancel(context.Background(), id, customer)
		assert.Equal(t, "ORDER_CLOSED", domain.CodeOf(err))
	})

	t.Run("customer delivery needs acceptance", func(t *testing.T) {
		id := place()
		_, err := f.svc.MarkDelivered(context.Background(), id, customer)
		assert.Equal(t, "INVALID_TRANSITION", domain.CodeOf(err))

		_, err = f.svc.UpdateStatus(context.Background(), id, domain.OrderConfirmed, owner)
		require.NoError(t, err)
		_, err = f.svc.MarkDelivered(context.Background(), id, owner)
		assert.Equal(t, "FORBIDDEN", domain.CodeOf(err))

		got, err := f.svc.MarkDelivered(context.Background(), id, customer)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderDelivered, got.Status)
		assert.NotNil(t, got.DeliveredAt)
	})
}

func TestConfirmationLink(t *testing.T) {
	f := newFixture(t)
	org, owner := f.store(t)
	customer := f.user(t)
	p := f.product(t, org.ID, 100, intPtr(3))

	res, err := f.svc.Place(context.Background(), customer, PlaceInput{Items: []ItemInput{{ProductID: p.ID, Quantity: 1}}}, "")
	require.NoError(t, err)
	token := res.Order.ConfirmationToken

	_, err = f.svc.ConfirmByToken(context.Background(), "nope")
	assert.Equal(t, "INVALID_TOKEN", domain.CodeOf(err))

	got, err := f.svc.ConfirmByToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderConfirmed, got.Status)
	assert.Equal(t, 2, f.stock(t, p.ID))

	var sale domain.InventoryHistory
	require.NoError(t, f.db.Where("reference_key = ?", saleKey(got.ID, p.ID)).First(&sale).Error)
	assert.Equal(t, owner.ID, sale.ActorID)

	other, err := f.svc.Place(context.Background(), customer, PlaceInput{Items: []ItemInput{{ProductID: p.ID, Quantity: 1}}}, "")
	require.NoError(t, err)
	f.now = f.now.Add(49 * time.Hour)
	_, err = f.svc.RejectByToken(context.Background(), other.Order.ConfirmationToken)
	assert.Equal(t, "TOKEN_EXPIRED", domain.CodeOf(err))
}

func TestGetHidesForeignOrders(t *testing.T) {
	f := newFixture(t)
	org, owner := f.store(t)
	customer := f.user(t)
	stranger := f.user(t)
	p := f.product(t, org.ID, 100, nil)

	res, err := f.svc.Place(context.Background(), customer, PlaceInput{Items: []ItemInput{{ProductID: p.ID, Quantity: 1}}}, "")
	require.NoError(t, err)

	_, err = f.svc.Get(context.Background(), res.Order.ID, owner)
	assert.NoError(t, err)
	_, err = f.svc.Get(context.Background(), res.Order.ID, stranger)
	assert.Equal(t, "ORDER_NOT_FOUND", domain.CodeOf(err))
}

func TestListStatsAndExport(t *testing.T) {
	f := newFixture(t)
	org, owner := f.store(t)
	customer := f.user(t)
	p := f.product(t, org.ID, 100, nil)

	var ids []int64
	for _, qty := range []int{1, 2, 3, 4} {
		res, err := f.svc.Place(context.Background(), customer, PlaceInput{Items: []ItemInput{{ProductID: p.ID, Quantity: qty}}}, "")
		require.NoError(t, err)
		ids = append(ids, res.Order.ID)
	}
	_, err := f.svc.Cancel(context.Background(), ids[3], owner)
	require.NoError(t, err)

	page, total, err := f.svc.List(context.Background(), ListFilter{OrganizationID: org.ID}, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	assert.Len(t, page, 2)

	pending, total, err := f.svc.List(context.Background(), ListFilter{OrganizationID: org.ID, Status: domain.OrderPending, Sort: "order_number", Order: "asc"}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Equal(t, int64(1), pending[0].OrderNumber)

	st, err := f.svc.Stats(context.Background(), org.ID, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 4, st.Orders)
	assert.Equal(t, 1, st.Cancelled)
	assert.True(t, decimal.NewFromInt(600).Equal(st.Revenue), st.Revenue.String())
	assert.InDelta(t, 200.0, st.MeanValue, 0.001)
	assert.InDelta(t, 200.0, st.MedianValue, 0.001)
	assert.InDelta(t, 0.25, st.CancelRate, 0.001)

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, pending))
	book, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	assert.Equal(t, "Order #", book.GetCellValue(exportSheet, "A1"))
	assert.Equal(t, "1", book.GetCellValue(exportSheet, "A2"))
	assert.Equal(t, domain.OrderPending, book.GetCellValue(exportSheet, "B2"))
}
