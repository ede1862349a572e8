package inventory

import (
	"context"
	"fmt"
	"testing"

	"github.com/bjo163/sokomarket/internal/domain"
	"github.com/bjo163/sokomarket/internal/domain/dbtest"
	"github.com/bjo163/sokomarket/pkg/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedProduct(t *testing.T, db *gorm.DB, orgID int64, stock *int, enabled bool, status string) *domain.Product {
	t.Helper()
	p := &domain.Product{
		ID:                common.UUIDint64(),
		OrganizationID:    orgID,
		Name:              "Umuceri",
		Slug:              fmt.Sprintf("umuceri-%d", common.UUIDint64()),
		Price:             decimal.NewFromInt(1200),
		CurrentStock:      stock,
		InventoryEnabled:  enabled,
		LowStockThreshold: 5,
		Status:            status,
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

func intPtr(v int) *int { return &v }

func reload(t *testing.T, db *gorm.DB, id int64) domain.Product {
	t.Helper()
	var p domain.Product
	require.NoError(t, db.First(&p, id).Error)
	return p
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		current  string
		newStock int
		want     string
	}{
		{domain.ProductDraft, 5, domain.ProductInStock},
		{domain.ProductDraft, 0, domain.ProductDraft},
		{domain.ProductInStock, 0, domain.ProductOutOfStock},
		{domain.ProductInStock, 7, domain.ProductInStock},
		{domain.ProductOutOfStock, 3, domain.ProductInStock},
		{domain.ProductOutOfStock, 0, domain.ProductOutOfStock},
		{domain.ProductArchived, 0, domain.ProductArchived},
		{domain.ProductArchived, 9, domain.ProductArchived},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DeriveStatus(tt.current, tt.newStock), "%s -> %d", tt.current, tt.newStock)
	}
}

func TestApplyNeverGoesNegative(t *testing.T) {
	db := dbtest.Open(t)
	ledger := NewLedger(db)
	orgID := common.UUIDint64()
	p := seedProduct(t, db, orgID, intPtr(4), true, domain.ProductInStock)

	deltas := []int{-3, -5, 10, -10, 2}
	expected := 4
	for _, delta := range deltas {
		res, err := ledger.Apply(context.Background(), Delta{
			ProductID: p.ID, OrganizationID: orgID, QuantityChange: delta, ChangeType: domain.ChangeAdjustment,
		})
		require.NoError(t, err)
		want := expected + delta
		shortfall := 0
		if want < 0 {
			shortfall = -want
			want = 0
		}
		assert.Equal(t, expected, res.PreviousStock)
		assert.Equal(t, want, res.NewStock)
		assert.Equal(t, shortfall, res.Shortfall)
		expected = want
	}
	assert.Equal(t, 2, *reload(t, db, p.ID).CurrentStock)

	var rows []domain.InventoryHistory
	require.NoError(t, db.Where("product_id = ?", p.ID).Order("id").Find(&rows).Error)
	require.Len(t, rows, len(deltas))
	assert.Equal(t, 4, rows[1].Shortfall) // 1 - 5
	for _, r := range rows {
		assert.GreaterOrEqual(t, r.NewStock, 0)
	}
}

func TestApplyRestockOutOfStockProduct(t *testing.T) {
	db := dbtest.Open(t)
	ledger := NewLedger(db)
	orgID := common.UUIDint64()
	p := seedProduct(t, db, orgID, intPtr(0), true, domain.ProductOutOfStock)

	res, err := ledger.Apply(context.Background(), Delta{
		ProductID: p.ID, OrganizationID: orgID, QuantityChange: 5, ChangeType: domain.ChangeRestock, Reason: "supplier delivery", ActorID: 7,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.PreviousStock)
	assert.Equal(t, 5, res.NewStock)
	assert.True(t, res.StatusChanged)
	assert.Equal(t, domain.ProductInStock, res.Status)

	got := reload(t, db, p.ID)
	assert.Equal(t, domain.ProductInStock, got.Status)
	assert.Equal(t, 5, *got.CurrentStock)

	var entry domain.InventoryHistory
	require.NoError(t, db.Where("product_id = ?", p.ID).First(&entry).Error)
	assert.Equal(t, domain.ChangeRestock, entry.ChangeType)
	assert.Equal(t, 5, entry.QuantityChange)
	assert.Equal(t, "supplier delivery", entry.Reason)
	assert.Equal(t, int64(7), entry.ActorID)
}

func TestApplyUntrackedStockStartsAtZero(t *testing.T) {
	db := dbtest.Open(t)
	ledger := NewLedger(db)
	orgID := common.UUIDint64()
	p := seedProduct(t, db, orgID, nil, true, domain.ProductDraft)

	res, err := ledger.Apply(context.Background(), Delta{
		ProductID: p.ID, OrganizationID: orgID, QuantityChange: 12, ChangeType: domain.ChangeRestock,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.PreviousStock)
	assert.Equal(t, domain.ProductInStock, res.Status)
}

func TestApplyRejectsWithoutWriting(t *testing.T) {
	db := dbtest.Open(t)
	ledger := NewLedger(db)
	orgID := common.UUIDint64()
	disabled := seedProduct(t, db, orgID, intPtr(3), false, domain.ProductInStock)
	enabled := seedProduct(t, db, orgID, intPtr(3), true, domain.ProductInStock)

	tests := []struct {
		name string
		d    Delta
		kind domain.ErrorKind
		code string
	}{
		{"inventory disabled", Delta{ProductID: disabled.ID, OrganizationID: orgID, QuantityChange: -1, ChangeType: domain.ChangeSale}, domain.KindBusinessRule, "INVENTORY_DISABLED"},
		{"other organization", Delta{ProductID: enabled.ID, OrganizationID: orgID + 1, QuantityChange: -1, ChangeType: domain.ChangeSale}, domain.KindNotFound, "PRODUCT_NOT_FOUND"},
		{"unknown product", Delta{ProductID: 42, OrganizationID: orgID, QuantityChange: 1, ChangeType: domain.ChangeRestock}, domain.KindNotFound, "PRODUCT_NOT_FOUND"},
		{"zero delta", Delta{ProductID: enabled.ID, OrganizationID: orgID, QuantityChange: 0, ChangeType: domain.ChangeRestock}, domain.KindValidation, "INVALID_QUANTITY"},
		{"bad change type", Delta{ProductID: enabled.ID, OrganizationID: orgID, QuantityChange: 1, ChangeType: "gift"}, domain.KindValidation, "INVALID_CHANGE_TYPE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ledger.Apply(context.Background(), tt.d)
			require.Error(t, err)
			assert.Equal(t, tt.kind, domain.KindOf(err))
			assert.Equal(t, tt.code, domain.CodeOf(err))
		})
	}

	var count int64
	db.Model(&domain.InventoryHistory{}).Count(&count)
	assert.Zero(t, count)
	assert.Equal(t, 3, *reload(t, db, disabled.ID).CurrentStock)
}

func TestApplyReferenceKeyIsIdempotent(t *testing.T) {
	db := dbtest.Open(t)
	ledger := NewLedger(db)
	orgID := common.UUIDint64()
	p := seedProduct(t, db, orgID, intPtr(10), true, domain.ProductInStock)

	d := Delta{ProductID: p.ID, OrganizationID: orgID, QuantityChange: -3, ChangeType: domain.ChangeSale, ReferenceKey: "order:1:sale:1"}
	first, err := ledger.Apply(context.Background(), d)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := ledger.Apply(context.Background(), d)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, 7, second.NewStock)

	assert.Equal(t, 7, *reload(t, db, p.ID).CurrentStock)
	var count int64
	db.Model(&domain.InventoryHistory{}).Where("product_id = ?", p.ID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestApplyWithoutKeyIsNotDeduplicated(t *testing.T) {
	db := dbtest.Open(t)
	ledger := NewLedger(db)
	orgID := common.UUIDint64()
	p := seedProduct(t, db, orgID, intPtr(10), true, domain.ProductInStock)

	d := Delta{ProductID: p.ID, OrganizationID: orgID, QuantityChange: -2, ChangeType: domain.ChangeDamaged}
	_, err := ledger.Apply(context.Background(), d)
	require.NoError(t, err)
	_, err = ledger.Apply(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, 6, *reload(t, db, p.ID).CurrentStock)
}

func TestStockBatchScopedToOrganization(t *testing.T) {
	db := dbtest.Open(t)
	ledger := NewLedger(db)
	orgID := common.UUIDint64()
	a := seedProduct(t, db, orgID, intPtr(2), true, domain.ProductInStock)
	b := seedProduct(t, db, orgID, nil, false, domain.ProductDraft)
	foreign := seedProduct(t, db, orgID+1, intPtr(9), true, domain.ProductInStock)

	infos, err := ledger.StockBatch(context.Background(), orgID, []int64{a.ID, b.ID, foreign.ID})
	require.NoError(t, err)
	require.Len(t, infos, 2)
	byID := map[int64]StockInfo{}
	for _, info := range infos {
		byID[info.ProductID] = info
	}
	assert.Equal(t, 2, *byID[a.ID].CurrentStock)
	assert.True(t, byID[a.ID].InventoryEnabled)
	assert.Nil(t, byID[b.ID].CurrentStock)

	empty, err := ledger.StockBatch(context.Background(), orgID, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestHistoryAndLowStock(t *testing.T) {
	db := dbtest.Open(t)
	ledger := NewLedger(db)
	orgID := common.UUIDint64()
	p := seedProduct(t, db, orgID, intPtr(10), true, domain.ProductInStock)
	plenty := seedProduct(t, db, orgID, intPtr(50), true, domain.ProductInStock)

	for _, delta := range []int{-2, -4} {
		_, err := ledger.Apply(context.Background(), Delta{ProductID: p.ID, OrganizationID: orgID, QuantityChange: delta, ChangeType: domain.ChangeSale})
		require.NoError(t, err)
	}
	_, err := ledger.Apply(context.Background(), Delta{ProductID: plenty.ID, OrganizationID: orgID, QuantityChange: 1, ChangeType: domain.ChangeRestock})
	require.NoError(t, err)

	rows, total, err := ledger.History(context.Background(), HistoryFilter{OrganizationID: orgID, ProductID: p.ID}, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, rows, 1)

	all, total, err := ledger.History(context.Background(), HistoryFilter{OrganizationID: orgID, ChangeType: domain.ChangeSale}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, all, 2)

	low, err := ledger.LowStock(context.Background(), orgID)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, p.ID, low[0].ID)
	assert.Equal(t, 4, *low[0].CurrentStock)
}
