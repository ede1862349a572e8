package app

import (
	"context"
	"testing"

	"github.com/bjo163/sokomarket/config"
	"github.com/bjo163/sokomarket/internal/domain"
	"github.com/bjo163/sokomarket/internal/domain/dbtest"
	"github.com/bjo163/sokomarket/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestApp(t *testing.T) *Application {
	t.Helper()
	cfg := *config.DefaultAppConfig
	a := NewApplication(&cfg)
	a.OverrideDB(dbtest.Open(t))
	a.Bootstrap()
	t.Cleanup(func() {
		a.bus.Wait()
		a.pool.Release()
	})
	return a
}

func TestDefaultsAreSeededOnce(t *testing.T) {
	a := newTestApp(t)
	a.checkDefaults()

	var admin domain.User
	require.NoError(t, a.DB().Where("email = ?", superEmail).First(&admin).Error)
	assert.True(t, admin.IsAdmin())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(admin.Password), []byte(superPassword)))

	plans, err := a.Services().Plans.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, plans, 4)

	var schedulers []domain.SysScheduler
	require.NoError(t, a.DB().Find(&schedulers).Error)
	assert.Len(t, schedulers, len(DefaultSchedulers()))
}

func TestRepairAdminRole(t *testing.T) {
	a := newTestApp(t)
	require.NoError(t, a.DB().Model(&domain.User{}).Where("email = ?", superEmail).Update("role", domain.UserRoleUser).Error)
	a.checkSuper()

	var admin domain.User
	require.NoError(t, a.DB().Where("email = ?", superEmail).First(&admin).Error)
	assert.Equal(t, domain.UserRoleAdmin, admin.Role)
}

func TestParseTaskOptions(t *testing.T) {
	tests := []struct {
		raw     string
		want    TaskOptions
		wantErr bool
	}{
		{"", TaskOptions{}, false},
		{`{"days":5}`, TaskOptions{Days: 5}, false},
		{`{"days":"7","organization_id":"42"}`, TaskOptions{Days: 7, OrganizationID: 42}, false},
		{`{"days":`, TaskOptions{}, true},
	}
	for _, tt := range tests {
		got, err := ParseTaskOptions(tt.raw)
		if tt.wantErr {
			assert.Error(t, err, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got)
	}
}

func TestRunSchedulerNowRecordsOutcome(t *testing.T) {
	a := newTestApp(t)
	var sched domain.SysScheduler
	require.NoError(t, a.DB().Where("task_type = ?", TaskExpireSubscriptions).First(&sched).Error)

	require.NoError(t, a.RunSchedulerNow(sched.ID))
	require.NoError(t, a.DB().First(&sched, sched.ID).Error)
	assert.Equal(t, "success", sched.LastResult)
	assert.Equal(t, "0 subscriptions expired", sched.LastMessage)
	assert.True(t, sched.NextRunAt.After(sched.LastRunAt))

	bad := &domain.SysScheduler{ID: common.UUIDint64(), Name: "x", TaskType: "unknown", Interval: 60, Status: common.ENABLED}
	require.NoError(t, a.DB().Create(bad).Error)
	assert.Error(t, a.RunSchedulerNow(bad.ID))
	require.NoError(t, a.DB().First(bad, bad.ID).Error)
	assert.Equal(t, "failed", bad.LastResult)
}

func TestLowStockTaskNotifiesOwner(t *testing.T) {
	a := newTestApp(t)
	owner := &domain.User{ID: common.UUIDint64(), Name: "Aline", Email: "aline@soko.test"}
	require.NoError(t, a.DB().Create(owner).Error)
	org := &domain.Organization{ID: common.UUIDint64(), Name: "Duka", Slug: "duka", OwnerID: owner.ID, Status: common.ENABLED}
	require.NoError(t, a.DB().Create(org).Error)
	stock := 2
	require.NoError(t, a.DB().Create(&domain.Product{
		ID: common.UUIDint64(), OrganizationID: org.ID, Name: "Rice", Slug: "rice",
		CurrentStock: &stock, InventoryEnabled: true, LowStockThreshold: 5, Status: domain.ProductInStock,
	}).Error)

	msg, err := a.lowStockAlerts(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "1 low-stock products", msg)
	a.bus.Wait()

	rows, total, _, err := a.Services().Notify.List(context.Background(), owner.ID, false, 1, 10)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	assert.Equal(t, "Low stock: Rice", rows[0].Title)
}
