package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bjo163/sokomarket/internal/domain"
	"github.com/bjo163/sokomarket/pkg/common"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	superEmail    = "admin@sokomarket.local"
	superPassword = "sokomarket"
)

func (a *Application) checkDefaults() {
	a.checkSuper()
	a.checkPlans()
	a.checkSchedulers()
}

func (a *Application) checkSuper() {
	var admin domain.User
	err := a.gormDB.Where("email = ?", superEmail).First(&admin).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		hashed, err := bcrypt.GenerateFromPassword([]byte(superPassword), bcrypt.DefaultCost)
		if err != nil {
			zap.L().Error("failed to hash default admin password", zap.Error(err))
			return
		}
		if err := a.gormDB.Create(&domain.User{
			ID:       common.UUIDint64(),
			Name:     "administrator",
			Email:    superEmail,
			Password: string(hashed),
			Role:     domain.UserRoleAdmin,
		}).Error; err != nil {
			zap.L().Error("failed to create default admin", zap.Error(err))
		} else {
			zap.L().Info("initialized default admin account", zap.String("email", superEmail))
		}
		return
	case err != nil:
		zap.L().Error("failed to query default admin", zap.Error(err))
		return
	}

	resetPassword := strings.TrimSpace(admin.Password) == ""
	resetRole := admin.Role != domain.UserRoleAdmin
	if !resetPassword && !resetRole {
		return
	}

	updates := map[string]interface{}{
		"updated_at": time.Now(),
		"role":       domain.UserRoleAdmin,
	}
	if resetPassword {
		hashed, err := bcrypt.GenerateFromPassword([]byte(superPassword), bcrypt.DefaultCost)
		if err != nil {
			zap.L().Error("failed to hash default admin password", zap.Error(err))
			return
		}
		updates["password"] = string(hashed)
	}
	if err := a.gormDB.Model(&domain.User{}).Where("id = ?", admin.ID).Updates(updates).Error; err != nil {
		zap.L().Error("failed to repair default admin account", zap.Error(err))
		return
	}
	zap.L().Warn("repaired default admin account",
		zap.String("email", superEmail),
		zap.Bool("passwordReset", resetPassword),
		zap.Bool("roleReset", resetRole))
}

func (a *Application) checkPlans() {
	if err := a.services.Plans.Seed(context.Background()); err != nil {
		zap.L().Error("failed to seed plans", zap.Error(err))
	}
}

// DefaultSchedulers are created on startup when their task type is missing.
func DefaultSchedulers() []domain.SysScheduler {
	return []domain.SysScheduler{
		{
			Name:     "Apply scheduled downgrades",
			TaskType: TaskApplyDowngrades,
			Interval: 3600,
			Status:   common.ENABLED,
			Remark:   "Moves subscriptions to their scheduled plan once the change date has passed",
		},
		{
			Name:     "Expire subscriptions",
			TaskType: TaskExpireSubscriptions,
			Interval: 3600,
			Status:   common.ENABLED,
			Remark:   "Expires ended trials and unpaid periods",
		},
		{
			Name:     "Renewal reminders",
			TaskType: TaskRenewalReminders,
			Interval: 86400,
			Status:   common.ENABLED,
			Config:   `{"days":3}`,
			Remark:   "Notifies users whose period ends soon",
		},
		{
			Name:     "Reconcile payments",
			TaskType: TaskReconcilePayments,
			Interval: 300,
			Status:   common.ENABLED,
			Remark:   "Checks payments left pending by clients that stopped polling",
		},
		{
			Name:     "Low stock alerts",
			TaskType: TaskLowStockAlerts,
			Interval: 86400,
			Status:   common.ENABLED,
			Remark:   "Notifies owners about products at or below their threshold",
		},
	}
}

// checkSchedulers initializes default scheduled tasks
func (a *Application) checkSchedulers() {
	for _, sched := range DefaultSchedulers() {
		var count int64
		a.gormDB.Model(&domain.SysScheduler{}).
			Where("task_type = ?", sched.TaskType).
			Count(&count)
		if count > 0 {
			continue
		}
		sched.ID = common.UUIDint64()
		sched.NextRunAt = time.Now().Add(time.Duration(sched.Interval) * time.Second)
		if sched.TaskType == TaskRenewalReminders && a.appConfig.Billing.ReminderDays > 0 {
			sched.Config = `{"days":` + cast.ToString(a.appConfig.Billing.ReminderDays) + `}`
		}
		if err := a.gormDB.Create(&sched).Error; err != nil {
			zap.L().Error("failed to create default scheduler",
				zap.String("name", sched.Name),
				zap.Error(err))
		} else {
			zap.L().Info("initialized default scheduler",
				zap.String("name", sched.Name),
				zap.String("task_type", sched.TaskType))
		}
	}
}
